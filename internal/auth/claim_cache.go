package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/reelscout/backend/internal/logging"
)

// DefaultClaimTTL is how long a fetched claim is reused before refreshing.
const DefaultClaimTTL = 5 * time.Minute

// NeutralClaim is sent when no claim has ever been obtained.
const NeutralClaim = "0"

// Claim is a short-lived platform authentication artifact.
type Claim struct {
	Value     string
	FetchedAt time.Time
}

// ClaimFetcher retrieves a fresh claim from the platform.
type ClaimFetcher interface {
	FetchClaim(ctx context.Context) (string, error)
}

// ClaimFetcherFunc adapts a function to ClaimFetcher.
type ClaimFetcherFunc func(ctx context.Context) (string, error)

// FetchClaim calls f.
func (f ClaimFetcherFunc) FetchClaim(ctx context.Context) (string, error) { return f(ctx) }

// ClaimCache lazily fetches the claim and reuses it while it is younger than
// the TTL. It is safe for concurrent use; only one fetch runs at a time.
type ClaimCache struct {
	fetcher ClaimFetcher
	ttl     time.Duration

	// Now is the clock used for TTL checks.
	Now func() time.Time

	mu      sync.RWMutex
	claim   Claim
	fetchMu sync.Mutex
}

// NewClaimCache constructs a cache around fetcher.
func NewClaimCache(fetcher ClaimFetcher, ttl time.Duration) *ClaimCache {
	if ttl <= 0 {
		ttl = DefaultClaimTTL
	}
	return &ClaimCache{fetcher: fetcher, ttl: ttl, Now: time.Now}
}

// Get returns the cached claim, refreshing it when it is missing, expired or
// force is set. A failed refresh falls back to the last cached value or to
// NeutralClaim and is never reported as an error.
func (c *ClaimCache) Get(ctx context.Context, force bool) string {
	if !force {
		if value, ok := c.fresh(); ok {
			return value
		}
	}

	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()

	if !force {
		if value, ok := c.fresh(); ok {
			return value
		}
	}

	logger := logging.FromContext(ctx)
	if c.fetcher != nil {
		value, err := c.fetcher.FetchClaim(ctx)
		switch {
		case err != nil:
			logger.Warn("could not obtain www claim", "error", err)
		case value == "":
			logger.Warn("www claim missing from response")
		default:
			c.mu.Lock()
			c.claim = Claim{Value: value, FetchedAt: c.Now()}
			c.mu.Unlock()
			logger.Debug("www claim refreshed", slog.String("prefix", prefix(value, 20)))
			return value
		}
	}

	return c.Current()
}

// Current returns the last known claim without refreshing.
func (c *ClaimCache) Current() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.claim.Value == "" {
		return NeutralClaim
	}
	return c.claim.Value
}

// Snapshot returns a copy of the cached claim.
func (c *ClaimCache) Snapshot() Claim {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.claim
}

func (c *ClaimCache) fresh() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.claim.Value == "" {
		return "", false
	}
	if c.Now().Sub(c.claim.FetchedAt) >= c.ttl {
		return "", false
	}
	return c.claim.Value, true
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
