package videos

import (
	"context"
	"sync"
	"time"

	"github.com/reelscout/backend/internal/models"
)

// Processor turns a video URL into an analysis.
type Processor interface {
	ProcessVideo(ctx context.Context, url string) (models.AnalysisResult, error)
}

type cacheEntry struct {
	result  models.AnalysisResult
	expires time.Time
}

// CachingProcessor wraps another Processor with a TTL-based in-memory cache
// keyed by source URL. Failed runs are never cached.
type CachingProcessor struct {
	base Processor
	ttl  time.Duration

	mu    sync.RWMutex
	items map[string]cacheEntry
}

// NewCachingProcessor returns a Processor that caches results for ttl.
func NewCachingProcessor(base Processor, ttl time.Duration) *CachingProcessor {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CachingProcessor{
		base:  base,
		ttl:   ttl,
		items: make(map[string]cacheEntry),
	}
}

// ProcessVideo returns a cached analysis when available, otherwise it
// delegates to the underlying processor and stores the result.
func (c *CachingProcessor) ProcessVideo(ctx context.Context, url string) (models.AnalysisResult, error) {
	if c == nil || c.base == nil {
		return models.AnalysisResult{}, ErrDownloaderUnavailable
	}

	now := time.Now()

	c.mu.RLock()
	entry, ok := c.items[url]
	c.mu.RUnlock()
	if ok && now.Before(entry.expires) {
		return entry.result, nil
	}

	result, err := c.base.ProcessVideo(ctx, url)
	if err != nil {
		return models.AnalysisResult{}, err
	}

	c.mu.Lock()
	for key, e := range c.items {
		if !now.Before(e.expires) {
			delete(c.items, key)
		}
	}
	c.items[url] = cacheEntry{result: result, expires: now.Add(c.ttl)}
	c.mu.Unlock()

	return result, nil
}
