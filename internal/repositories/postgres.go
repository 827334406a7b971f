package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/reelscout/backend/internal/db"
	"github.com/reelscout/backend/internal/instagram"
	"github.com/reelscout/backend/internal/models"
	"github.com/reelscout/backend/internal/tasks"
)

// PostgresVideoRepository provides PostgreSQL-backed persistence for videos.
type PostgresVideoRepository struct {
	pool db.Pool
}

// NewPostgresVideoRepository constructs a video repository backed by PostgreSQL.
func NewPostgresVideoRepository(pool db.Pool) *PostgresVideoRepository {
	return &PostgresVideoRepository{pool: pool}
}

// CreateVideo inserts a video unless one with the same id already exists.
// It reports whether a row was written.
func (r *PostgresVideoRepository) CreateVideo(ctx context.Context, video models.Video) (bool, error) {
	history, err := json.Marshal(nonNilHistory(video.MetricsHistory))
	if err != nil {
		return false, fmt.Errorf("encode metrics history: %w", err)
	}
	growth, err := json.Marshal(video.MetricsGrowth)
	if err != nil {
		return false, fmt.Errorf("encode metrics growth: %w", err)
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        INSERT INTO videos (
            video_id, search_task_id, platform, url, video_url, preview_url, author, description,
            published_at, views, likes, comments, viral_score, is_viral, is_ad, ad_score,
            growth_percent, metrics_growth, metrics_history, non_viral_count, first_scraped_at, last_scraped_at
        )
        VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
        ON CONFLICT (video_id) DO NOTHING
    `,
		video.VideoID, video.SearchTaskID, video.Platform, video.URL, video.VideoURL, video.PreviewURL, video.Author, video.Description,
		video.PublishedAt, video.Views, video.Likes, video.Comments, video.ViralScore, video.IsViral, video.IsAd, video.AdScore,
		video.GrowthPercent, growth, history, video.NonViralCount, video.FirstScrapedAt, video.LastScrapedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return false, ErrNotFound
		}
		return false, fmt.Errorf("insert video: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// FindVideoByID fetches a video with its full metrics history.
func (r *PostgresVideoRepository) FindVideoByID(ctx context.Context, videoID string) (models.Video, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Video{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        SELECT video_id, COALESCE(search_task_id, ''), platform, url, video_url, preview_url, author, description,
               published_at, views, likes, comments, viral_score, is_viral, is_ad, ad_score,
               growth_percent, metrics_growth, metrics_history, non_viral_count, first_scraped_at, last_scraped_at
        FROM videos
        WHERE video_id = $1
    `, videoID)

	var (
		video   models.Video
		growth  []byte
		history []byte
	)
	if err := row.Scan(
		&video.VideoID, &video.SearchTaskID, &video.Platform, &video.URL, &video.VideoURL, &video.PreviewURL, &video.Author, &video.Description,
		&video.PublishedAt, &video.Views, &video.Likes, &video.Comments, &video.ViralScore, &video.IsViral, &video.IsAd, &video.AdScore,
		&video.GrowthPercent, &growth, &history, &video.NonViralCount, &video.FirstScrapedAt, &video.LastScrapedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Video{}, ErrNotFound
		}
		return models.Video{}, fmt.Errorf("select video: %w", err)
	}

	if err := json.Unmarshal(growth, &video.MetricsGrowth); err != nil {
		return models.Video{}, fmt.Errorf("decode metrics growth: %w", err)
	}
	if err := json.Unmarshal(history, &video.MetricsHistory); err != nil {
		return models.Video{}, fmt.Errorf("decode metrics history: %w", err)
	}

	return video, nil
}

// AppendMetrics appends a snapshot to the history and stores the derived
// values in one statement, so concurrent refreshes never drop entries.
func (r *PostgresVideoRepository) AppendMetrics(ctx context.Context, videoID string, update models.MetricsUpdate) error {
	snapshot, err := json.Marshal([]models.MetricsSnapshot{update.Snapshot})
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	growth, err := json.Marshal(update.Growth)
	if err != nil {
		return fmt.Errorf("encode metrics growth: %w", err)
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	s := update.Snapshot
	tag, err := conn.Exec(ctx, `
        UPDATE videos
        SET views = $2,
            likes = $3,
            comments = $4,
            viral_score = $5,
            is_viral = $6,
            growth_percent = $7,
            metrics_growth = $8,
            metrics_history = metrics_history || $9::JSONB,
            non_viral_count = $10,
            last_scraped_at = $11
        WHERE video_id = $1
    `, videoID, s.Views, s.Likes, s.Comments, s.ViralScore, update.IsViral, update.GrowthPercent, growth, snapshot, update.NonViralCount, s.Timestamp)
	if err != nil {
		return fmt.Errorf("update video metrics: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// ListStaleViral returns ids of viral videos last scraped before
// scrapedBefore, oldest first.
func (r *PostgresVideoRepository) ListStaleViral(ctx context.Context, scrapedBefore time.Time, limit int) ([]string, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT video_id
        FROM videos
        WHERE is_viral = true AND last_scraped_at < $1
        ORDER BY last_scraped_at ASC
        LIMIT $2
    `, scrapedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("query stale videos: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stale video: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale videos: %w", err)
	}

	return ids, nil
}

// PostgresTaskRepository provides PostgreSQL-backed persistence for search tasks.
type PostgresTaskRepository struct {
	pool db.Pool
}

// NewPostgresTaskRepository constructs a task repository backed by PostgreSQL.
func NewPostgresTaskRepository(pool db.Pool) *PostgresTaskRepository {
	return &PostgresTaskRepository{pool: pool}
}

// CreateTask persists a new search task.
func (r *PostgresTaskRepository) CreateTask(ctx context.Context, task models.SearchTask) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	status := task.Status
	if status == "" {
		status = models.TaskStatusPending
	}

	_, err = conn.Exec(ctx, `
        INSERT INTO search_tasks (id, hot_word, platform, status, total_videos, processed_videos, progress, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
    `, task.ID, task.HotWord, task.Platform, string(status), task.TotalVideos, task.ProcessedVideos, task.Progress, task.CreatedAt, task.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrConflict
		}
		return fmt.Errorf("insert search task: %w", err)
	}

	return nil
}

// FindTask fetches a search task by id.
func (r *PostgresTaskRepository) FindTask(ctx context.Context, taskID string) (models.SearchTask, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.SearchTask{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        SELECT id, hot_word, platform, status, total_videos, processed_videos, progress, last_run_at, created_at, updated_at
        FROM search_tasks
        WHERE id = $1
    `, taskID)

	var (
		task      models.SearchTask
		status    string
		lastRunAt sql.NullTime
	)
	if err := row.Scan(&task.ID, &task.HotWord, &task.Platform, &status, &task.TotalVideos, &task.ProcessedVideos, &task.Progress, &lastRunAt, &task.CreatedAt, &task.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.SearchTask{}, ErrNotFound
		}
		return models.SearchTask{}, fmt.Errorf("select search task: %w", err)
	}
	task.Status = models.TaskStatus(status)
	if lastRunAt.Valid {
		t := lastRunAt.Time.UTC()
		task.LastRunAt = &t
	}

	return task, nil
}

// UpdateTaskStatus sets the status and, when given, the progress of a task.
// Entering the connect stage stamps last_run_at.
func (r *PostgresTaskRepository) UpdateTaskStatus(ctx context.Context, taskID string, status models.TaskStatus, progress *int) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE search_tasks
        SET status = $2,
            progress = COALESCE($3, progress),
            last_run_at = CASE WHEN $2 = 'connect' THEN NOW() ELSE last_run_at END,
            updated_at = NOW()
        WHERE id = $1
    `, taskID, string(status), progress)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// UpdateTaskProgress stores progress and, when given, the processed and
// total video counters.
func (r *PostgresTaskRepository) UpdateTaskProgress(ctx context.Context, taskID string, progress int, processed, total *int) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE search_tasks
        SET progress = $2,
            processed_videos = COALESCE($3, processed_videos),
            total_videos = COALESCE($4, total_videos),
            updated_at = NOW()
        WHERE id = $1
    `, taskID, progress, processed, total)
	if err != nil {
		return fmt.Errorf("update task progress: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

func nonNilHistory(history []models.MetricsSnapshot) []models.MetricsSnapshot {
	if history == nil {
		return []models.MetricsSnapshot{}
	}
	return history
}

var _ VideoRepository = (*PostgresVideoRepository)(nil)
var _ TaskRepository = (*PostgresTaskRepository)(nil)
var _ instagram.VideoStore = (*PostgresVideoRepository)(nil)
var _ tasks.Store = (*PostgresTaskRepository)(nil)
