package models

import "time"

// TaskStatus is the lifecycle stage of a keyword search run.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusConnect   TaskStatus = "connect"
	TaskStatusAnalyze   TaskStatus = "analyze"
	TaskStatusProcess   TaskStatus = "process"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// PlatformInstagram is the only source platform currently supported.
const PlatformInstagram = "instagram"

// SearchTask represents one keyword search run.
type SearchTask struct {
	ID              string
	HotWord         string
	Platform        string
	Status          TaskStatus
	TotalVideos     int
	ProcessedVideos int
	Progress        int
	LastRunAt       *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Owner describes the account that published a candidate.
type Owner struct {
	ID            string
	Username      string
	FullName      string
	ProfilePicURL string
	IsVerified    bool
}

// VideoCandidate is a raw platform search hit after field normalization.
type VideoCandidate struct {
	PlatformID string
	Shortcode  string
	URL        string
	VideoURL   string
	PreviewURL string
	Owner      Owner
	Caption    string
	Location   string
	Views      int64
	Likes      int64
	Comments   int64
	CreatedAt  time.Time
}

// MetricsSnapshot is one point in a video's metrics history.
type MetricsSnapshot struct {
	Views      int64     `json:"views"`
	Likes      int64     `json:"likes"`
	Comments   int64     `json:"comments"`
	ViralScore int       `json:"viralScore"`
	Timestamp  time.Time `json:"timestamp"`
}

// MetricsGrowth is the delta between the two most recent snapshots.
type MetricsGrowth struct {
	ViewsGrowth      int64     `json:"viewsGrowth"`
	LikesGrowth      int64     `json:"likesGrowth"`
	CommentsGrowth   int64     `json:"commentsGrowth"`
	ViralScoreGrowth int       `json:"viralScoreGrowth"`
	CalculatedAt     time.Time `json:"calculatedAt"`
}

// Video is a persisted, qualifying candidate.
type Video struct {
	VideoID        string
	SearchTaskID   string
	Platform       string
	URL            string
	VideoURL       string
	PreviewURL     string
	Author         string
	Description    string
	PublishedAt    time.Time
	Views          int64
	Likes          int64
	Comments       int64
	ViralScore     int
	IsViral        bool
	IsAd           bool
	AdScore        int
	GrowthPercent  float64
	MetricsGrowth  MetricsGrowth
	MetricsHistory []MetricsSnapshot
	NonViralCount  int
	FirstScrapedAt time.Time
	LastScrapedAt  time.Time
}

// MetricsUpdate is the outcome of one metrics refresh. Snapshot is appended
// to the history; the remaining fields replace the stored values.
type MetricsUpdate struct {
	Snapshot      MetricsSnapshot
	IsViral       bool
	Growth        MetricsGrowth
	GrowthPercent float64
	NonViralCount int
}

// AnalysisResult is the compact multi-modal description of a single video.
type AnalysisResult struct {
	Duration float64           `json:"duration"`
	Audio    AudioSummary      `json:"audio"`
	Timeline []TimelineSegment `json:"timeline"`
}

// AudioSummary is the merged outcome of VAD, transcription and classification.
type AudioSummary struct {
	Type             string     `json:"type"`
	Description      string     `json:"description"`
	Duration         float64    `json:"duration"`
	HasSpeech        bool       `json:"hasSpeech"`
	SpeechPercentage int        `json:"speechPercentage"`
	Transcription    string     `json:"transcription,omitempty"`
	TopCategories    []Category `json:"topCategories"`
}

// Category is a labelled classification score in percent.
type Category struct {
	Label string `json:"label"`
	Score int    `json:"score"`
}

// TimelineSegment is a run of consecutive frames sharing one description.
type TimelineSegment struct {
	TimeRange string `json:"timeRange"`
	Visual    string `json:"visual"`
	Duration  string `json:"duration"`
}
