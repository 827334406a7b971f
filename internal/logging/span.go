package logging

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Span times one stage of a request, job or pipeline run.
type Span struct {
	name   string
	logger *slog.Logger
	start  time.Time
}

// StartSpan derives a child span from ctx. The first span of a context also
// opens a trace. Extra args are attached to the span logger as attributes.
func StartSpan(ctx context.Context, name string, args ...any) (context.Context, *Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	logger := FromContext(ctx)
	t := traceFrom(ctx)

	if t.traceID == "" {
		t.traceID = uuid.NewString()
		logger = logger.With(slog.String("trace_id", t.traceID))
	}
	if t.spanID != "" {
		logger = logger.With(slog.String("parent_span_id", t.spanID))
	}
	t.spanID = uuid.NewString()

	logger = logger.With(
		slog.String("span_id", t.spanID),
		slog.String("span_name", name),
	)
	if len(args) > 0 {
		logger = logger.With(args...)
	}

	ctx = withTrace(ctx, t)
	ctx = WithLogger(ctx, logger)
	return ctx, &Span{name: name, logger: logger, start: time.Now()}
}

// End emits a completion record with the span duration.
func (s *Span) End() {
	if s == nil {
		return
	}
	s.logger.Info("span completed", slog.Duration("duration", time.Since(s.start)))
}
