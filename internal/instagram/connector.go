package instagram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/reelscout/backend/internal/auth"
	"github.com/reelscout/backend/internal/logging"
	"github.com/reelscout/backend/internal/metrics"
	"github.com/reelscout/backend/internal/models"
	"github.com/reelscout/backend/internal/notify"
	"github.com/reelscout/backend/internal/scoring"
	"github.com/reelscout/backend/internal/tasks"
)

// Searcher performs the two platform search flavours.
type Searcher interface {
	HashtagSections(ctx context.Context, tag, maxID, claim string) (Page, error)
	GeneralSearch(ctx context.Context, keyword, maxID, rankToken, claim string) (Page, error)
}

// ClaimSource provides the cached www claim.
type ClaimSource interface {
	Get(ctx context.Context, force bool) string
}

// VideoStore persists qualifying candidates. CreateVideo reports false when a
// video with the same id already exists.
type VideoStore interface {
	CreateVideo(ctx context.Context, video models.Video) (bool, error)
}

// ConnectorConfig bounds pagination and pacing.
type ConnectorConfig struct {
	MaxPages      int
	MaxCandidates int
	PageDelay     time.Duration
	ItemDelay     time.Duration
}

// DefaultConnectorConfig returns the production pagination limits.
func DefaultConnectorConfig() ConnectorConfig {
	return ConnectorConfig{
		MaxPages:      20,
		MaxCandidates: 100,
		PageDelay:     2 * time.Second,
		ItemDelay:     500 * time.Millisecond,
	}
}

// ConnectorDeps aggregates the collaborators of a Connector.
type ConnectorDeps struct {
	Searcher Searcher
	Claims   ClaimSource
	Cookies  auth.Cookies
	Scorer   *scoring.Engine
	Videos   VideoStore
	Tasks    tasks.Store
	Notifier notify.Notifier
	Metrics  *metrics.Metrics
}

// SearchResult summarizes one search run.
type SearchResult struct {
	SavedCount   int `json:"savedCount"`
	TotalFetched int `json:"totalFetched"`
}

// Connector runs keyword searches end to end: pagination, scoring,
// persistence and task progress reporting.
type Connector struct {
	deps ConnectorDeps
	cfg  ConnectorConfig

	// Sleep waits between pages and candidates.
	Sleep func(ctx context.Context, d time.Duration) error
	// Now stamps metrics snapshots.
	Now func() time.Time
}

// NewConnector constructs a Connector. Zero config values take the defaults.
func NewConnector(deps ConnectorDeps, cfg ConnectorConfig) *Connector {
	def := DefaultConnectorConfig()
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = def.MaxPages
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = def.MaxCandidates
	}
	if cfg.PageDelay < 0 {
		cfg.PageDelay = 0
	}
	if cfg.ItemDelay < 0 {
		cfg.ItemDelay = 0
	}
	if deps.Scorer == nil {
		deps.Scorer = scoring.NewEngine(scoring.DefaultThresholds())
	}
	return &Connector{deps: deps, cfg: cfg, Sleep: sleepContext, Now: time.Now}
}

const (
	methodHashtag = "hashtag"
	methodGeneral = "general"
)

// Search paginates the platform for keyword and persists qualifying videos
// for taskID. Finding nothing completes the task with zero results; an
// unrecoverable error marks the task failed and is returned.
func (c *Connector) Search(ctx context.Context, keyword, taskID string) (SearchResult, error) {
	ctx, span := logging.StartSpan(ctx, "instagram.search", "keyword", keyword)
	defer span.End()

	logger := logging.FromContext(ctx).With("taskId", taskID)
	ctx = logging.WithLogger(ctx, logger)

	tracker := tasks.NewTracker(c.deps.Tasks, c.deps.Notifier, taskID, keyword)
	result, err := c.run(ctx, tracker, keyword)
	if err != nil {
		if failErr := tracker.Fail(ctx, err); failErr != nil {
			logger.Error("record task failure", "error", failErr)
		}
		c.deps.Metrics.TaskFinished(string(models.TaskStatusFailed))
		return SearchResult{}, err
	}

	c.deps.Metrics.TaskFinished(string(models.TaskStatusCompleted))
	logger.Info("search completed", "saved", result.SavedCount, "fetched", result.TotalFetched)
	return result, nil
}

func (c *Connector) run(ctx context.Context, tracker *tasks.Tracker, keyword string) (SearchResult, error) {
	logger := logging.FromContext(ctx)

	if err := tracker.Transition(ctx, models.TaskStatusConnect); err != nil {
		return SearchResult{}, err
	}
	if err := c.deps.Cookies.Validate(); err != nil {
		return SearchResult{}, fmt.Errorf("search %q: %w", keyword, err)
	}

	clean := strings.TrimSpace(strings.TrimPrefix(keyword, "#"))
	if hasCyrillic(clean) {
		logger.Info("cyrillic keyword detected", "keyword", clean)
	}

	found, err := c.paginate(ctx, clean)
	if err != nil {
		return SearchResult{}, err
	}
	found = Dedupe(found)
	c.deps.Metrics.Fetched(len(found))

	candidates := found
	if len(candidates) > c.cfg.MaxCandidates {
		candidates = candidates[:c.cfg.MaxCandidates]
	}
	total := len(candidates)

	if err := tracker.Transition(ctx, models.TaskStatusAnalyze); err != nil {
		return SearchResult{}, err
	}
	if err := tracker.Progress(ctx, 0, total); err != nil {
		return SearchResult{}, err
	}
	if err := tracker.Transition(ctx, models.TaskStatusProcess); err != nil {
		return SearchResult{}, err
	}

	taskID := tracker.Snapshot().TaskID
	saved := 0
	for i, candidate := range candidates {
		ok, err := c.consider(ctx, taskID, candidate)
		if err != nil {
			logger.Warn("candidate skipped after error", "index", i+1, "videoId", candidate.PlatformID, "error", err)
			c.deps.Metrics.Skipped("error")
		}
		if ok {
			saved++
		}

		if err := tracker.Progress(ctx, i+1, total); err != nil {
			return SearchResult{}, err
		}
		if err := c.Sleep(ctx, c.cfg.ItemDelay); err != nil {
			return SearchResult{}, err
		}
	}

	if err := tracker.Transition(ctx, models.TaskStatusCompleted); err != nil {
		return SearchResult{}, err
	}
	return SearchResult{SavedCount: saved, TotalFetched: len(found)}, nil
}

// paginate collects video candidates page by page. Platform failures never
// abort the run: they trigger the general fallback on the first page or end
// pagination.
func (c *Connector) paginate(ctx context.Context, keyword string) ([]models.VideoCandidate, error) {
	logger := logging.FromContext(ctx)

	var (
		all       []models.VideoCandidate
		maxID     string
		rankToken string
		method    string
	)

	for page := 1; page <= c.cfg.MaxPages && len(all) < c.cfg.MaxCandidates; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var (
			data Page
			ok   bool
		)

		if page == 1 || method == methodHashtag {
			p, err := c.deps.Searcher.HashtagSections(ctx, keyword, maxID, c.claim(ctx))
			switch {
			case err != nil:
				logger.Info("hashtag search failed", "page", page, "error", err)
			case p.Kind == KindSections || p.Kind == KindMediaGrid:
				data, ok = p, true
				method = methodHashtag
			default:
				logger.Info("hashtag search returned no sections", "page", page, "kind", p.Kind.String())
			}
		}

		if !ok && page == 1 {
			c.deps.Metrics.Fallback()
			p, err := c.deps.Searcher.GeneralSearch(ctx, keyword, maxID, rankToken, c.claim(ctx))
			switch {
			case err != nil:
				logger.Info("general search failed", "error", err)
			case p.Kind != KindEmpty:
				data, ok = p, true
				method = methodGeneral
				rankToken = p.RankToken
			default:
				logger.Info("general search returned no media")
			}
		}

		if !ok {
			logger.Info("no data, stopping pagination", "page", page)
			break
		}

		extracted := ExtractCandidates(data, c.Now())
		all = append(all, extracted...)
		logger.Info("page processed", "page", page, "method", method, "entries", len(data.Media), "videos", len(extracted), "total", len(all))

		maxID = data.NextMaxID
		// The general search result is a single page.
		if !data.HasNext() || method == methodGeneral {
			break
		}
		if page < c.cfg.MaxPages {
			if err := c.Sleep(ctx, c.cfg.PageDelay); err != nil {
				return nil, err
			}
		}
	}

	return all, nil
}

func (c *Connector) claim(ctx context.Context) string {
	if c.deps.Claims == nil {
		return auth.NeutralClaim
	}
	return c.deps.Claims.Get(ctx, false)
}

// consider scores one candidate and persists it when eligible.
func (c *Connector) consider(ctx context.Context, taskID string, cand models.VideoCandidate) (bool, error) {
	logger := logging.FromContext(ctx)

	if !HasOwner(cand) {
		c.deps.Metrics.Skipped("no_author")
		return false, nil
	}
	if cand.PlatformID == "" {
		c.deps.Metrics.Skipped("no_id")
		return false, nil
	}

	scorer := c.deps.Scorer
	score := scorer.ViralScore(cand.Views, cand.Likes, cand.Comments, cand.CreatedAt)
	if !scorer.ShouldSave(cand.CreatedAt, score) {
		logger.Debug("candidate not eligible", "videoId", cand.PlatformID, "score", score, "publishedAt", cand.CreatedAt)
		c.deps.Metrics.Skipped("ineligible")
		return false, nil
	}

	ad := scorer.DetectAd(cand.Caption, cand.Likes, cand.Owner.IsVerified)
	now := c.Now().UTC()

	video := models.Video{
		VideoID:      cand.PlatformID,
		SearchTaskID: taskID,
		Platform:     models.PlatformInstagram,
		URL:          cand.URL,
		VideoURL:     cand.VideoURL,
		PreviewURL:   cand.PreviewURL,
		Author:       cand.Owner.Username,
		Description:  cand.Caption,
		PublishedAt:  cand.CreatedAt,
		Views:        cand.Views,
		Likes:        cand.Likes,
		Comments:     cand.Comments,
		ViralScore:   score,
		IsViral:      scorer.IsViral(score),
		IsAd:         ad.IsAd,
		AdScore:      ad.Score,
		MetricsHistory: []models.MetricsSnapshot{{
			Views:      cand.Views,
			Likes:      cand.Likes,
			Comments:   cand.Comments,
			ViralScore: score,
			Timestamp:  now,
		}},
		FirstScrapedAt: now,
		LastScrapedAt:  now,
	}

	if c.deps.Videos == nil {
		return false, errors.New("video store not configured")
	}
	created, err := c.deps.Videos.CreateVideo(ctx, video)
	if err != nil {
		return false, fmt.Errorf("save video %s: %w", video.VideoID, err)
	}
	if !created {
		c.deps.Metrics.Skipped("duplicate")
		return false, nil
	}

	c.deps.Metrics.Saved()
	logger.Info("video saved", "videoId", video.VideoID, "author", video.Author, "score", score, "isAd", ad.IsAd)
	return true, nil
}

func hasCyrillic(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Cyrillic, r) {
			return true
		}
	}
	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
