// Package audit defines the per-request audit record and the sinks that
// receive it. One record is written per request regardless of which stage
// produced the outcome; ownership of a record transfers to the sink on
// Write.
package audit

import (
	"context"
	"log/slog"
	"time"
)

// Record is the write-once audit entry for a single request/response pair.
type Record struct {
	ID       string
	Time     time.Time
	ClientID string
	Method   string
	Path     string
	Status   int
	Latency  time.Duration
	// Stage names the pipeline stage that decided the outcome, or "ok" when
	// the request reached the handler.
	Stage string
}

// Sink accepts one structured record per request. Implementations must not
// fail the request: a sink error is the caller's to log and drop.
type Sink interface {
	Write(ctx context.Context, rec *Record) error
}

// LogSink emits records through structured logging.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink builds a sink over the given logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Write(ctx context.Context, rec *Record) error {
	s.logger.LogAttrs(ctx, slog.LevelInfo, "audit",
		slog.String("audit_id", rec.ID),
		slog.Time("time", rec.Time),
		slog.String("client", rec.ClientID),
		slog.String("method", rec.Method),
		slog.String("path", rec.Path),
		slog.Int("status", rec.Status),
		slog.Duration("latency", rec.Latency),
		slog.String("stage", rec.Stage),
	)
	return nil
}
