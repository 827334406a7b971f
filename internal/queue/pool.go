package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/reelscout/backend/internal/logging"
	"github.com/reelscout/backend/internal/metrics"
)

// Handler processes one job. A returned error schedules a retry while the
// job has attempts left.
type Handler func(ctx context.Context, job Job) error

// PoolConfig controls concurrency and retries of a Pool.
type PoolConfig struct {
	Workers     int
	MaxAttempts int
	// Backoff is the delay before the first retry. Each further retry doubles it.
	Backoff time.Duration
	// Limiter, when set, bounds how often any worker of the pool starts a job.
	Limiter *rate.Limiter
	// JobTimeout bounds a single handler call. Zero means no limit.
	JobTimeout      time.Duration
	PollTimeout     time.Duration
	PromoteInterval time.Duration
}

// NewLimiter returns a limiter admitting at most n operations in any rolling
// window. Starts are spaced window/n apart with a burst of one, so n+1
// starts always span more than window.
func NewLimiter(n int, window time.Duration) *rate.Limiter {
	if n <= 0 || window <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(window/time.Duration(n)), 1)
}

// Pool consumes one queue with a fixed number of workers.
type Pool struct {
	backend Backend
	queue   string
	handler Handler
	cfg     PoolConfig
	metrics *metrics.Metrics
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewPool starts the workers and the delayed-job promoter of a queue.
func NewPool(backend Backend, queue string, handler Handler, cfg PoolConfig, m *metrics.Metrics, logger *slog.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 5 * time.Second
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = time.Second
	}
	if cfg.PromoteInterval <= 0 {
		cfg.PromoteInterval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		backend: backend,
		queue:   queue,
		handler: handler,
		cfg:     cfg,
		metrics: m,
		logger:  logger.With("queue", queue),
		ctx:     ctx,
		cancel:  cancel,
	}

	p.wg.Add(cfg.Workers + 1)
	for i := 0; i < cfg.Workers; i++ {
		go p.worker()
	}
	go p.promoter()

	return p
}

// Shutdown stops taking new jobs and waits for running handlers to finish.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.once.Do(p.cancel)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		if p.ctx.Err() != nil {
			return
		}

		data, err := p.backend.Pop(p.ctx, p.queue, p.cfg.PollTimeout)
		if errors.Is(err, ErrEmpty) {
			continue
		}
		if err != nil {
			if p.ctx.Err() != nil {
				return
			}
			p.logger.Error("pop job", "error", err)
			p.pause()
			continue
		}

		var job Job
		if err := json.Unmarshal(data, &job); err != nil {
			p.logger.Error("discard malformed job", "error", err)
			p.metrics.Job(p.queue, "malformed")
			continue
		}

		if p.cfg.Limiter != nil {
			if err := p.cfg.Limiter.Wait(p.ctx); err != nil {
				p.putBack(data, job.ID)
				return
			}
		}

		p.handle(job)
	}
}

func (p *Pool) handle(job Job) {
	job.Attempts++
	logger := p.logger.With("jobId", job.ID, "attempt", job.Attempts)

	ctx := logging.WithLogger(context.Background(), logger)
	if p.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.JobTimeout)
		defer cancel()
	}

	err := p.handler(ctx, job)
	if err == nil {
		logger.Info("job completed")
		p.metrics.Job(p.queue, "completed")
		return
	}

	if job.Attempts >= p.cfg.MaxAttempts {
		logger.Error("job failed", "error", err)
		p.metrics.Job(p.queue, "failed")
		return
	}

	delay := p.cfg.Backoff << (job.Attempts - 1)
	logger.Warn("job failed, retrying", "error", err, "delay", delay)
	p.metrics.Job(p.queue, "retried")

	data, encErr := json.Marshal(job)
	if encErr != nil {
		logger.Error("encode retry", "error", encErr)
		return
	}

	deferCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.backend.Defer(deferCtx, p.queue, data, time.Now().Add(delay)); err != nil {
		logger.Error("schedule retry", "error", err)
	}
}

func (p *Pool) promoter() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.PromoteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case now := <-ticker.C:
			if _, err := p.backend.PromoteDue(p.ctx, p.queue, now); err != nil && p.ctx.Err() == nil {
				p.logger.Error("promote delayed jobs", "error", err)
			}
		}
	}
}

// putBack returns an unstarted job to the queue during shutdown.
func (p *Pool) putBack(data []byte, jobID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.backend.Push(ctx, p.queue, data); err != nil {
		p.logger.Error("return job to queue", "jobId", jobID, "error", err)
	}
}

func (p *Pool) pause() {
	timer := time.NewTimer(p.cfg.PollTimeout)
	defer timer.Stop()
	select {
	case <-p.ctx.Done():
	case <-timer.C:
	}
}
