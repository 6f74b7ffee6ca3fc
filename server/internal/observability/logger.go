package observability

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const (
	// LogFieldRequestID is the field name for request ID.
	LogFieldRequestID = "request_id"
	// LogFieldSessionUID is the field name for session UID.
	LogFieldSessionUID = "session_uid"
	// LogFieldWorkerID is the field name for worker ID.
	LogFieldWorkerID = "worker_id"
	// LogFieldJobUID is the field name for job UID.
	LogFieldJobUID = "job_uid"
	// LogFieldDuration is the field name for duration in milliseconds.
	LogFieldDuration = "duration_ms"
)

// RunContext carries structured logging fields for one job or session run.
type RunContext struct {
	RequestID  string
	SessionUID string
	WorkerID   string
	StartTime  time.Time
	Logger     *slog.Logger
}

// NewRunContext creates a run context with a generated request ID.
func NewRunContext(logger *slog.Logger, sessionUID, workerID string) *RunContext {
	return &RunContext{
		RequestID:  generateRequestID(),
		SessionUID: sessionUID,
		WorkerID:   workerID,
		StartTime:  time.Now(),
		Logger:     logger,
	}
}

// Info logs an info message.
func (r *RunContext) Info(msg string, attrs ...slog.Attr) {
	r.Logger.LogAttrs(context.Background(), slog.LevelInfo, msg, r.baseAttrsAppended(attrs...)...)
}

// Warn logs a warning message.
func (r *RunContext) Warn(msg string, attrs ...slog.Attr) {
	r.Logger.LogAttrs(context.Background(), slog.LevelWarn, msg, r.baseAttrsAppended(attrs...)...)
}

// Error logs an error message with the error.
func (r *RunContext) Error(msg string, err error, attrs ...slog.Attr) {
	allAttrs := append(attrs, slog.String("error", err.Error()))
	r.Logger.LogAttrs(context.Background(), slog.LevelError, msg, r.baseAttrsAppended(allAttrs...)...)
}

// DurationMs returns the elapsed time in milliseconds.
func (r *RunContext) DurationMs() int64 {
	return time.Since(r.StartTime).Milliseconds()
}

func (r *RunContext) baseAttrs() []slog.Attr {
	return []slog.Attr{
		slog.String(LogFieldRequestID, r.RequestID),
		slog.String(LogFieldSessionUID, r.SessionUID),
		slog.String(LogFieldWorkerID, r.WorkerID),
	}
}

func (r *RunContext) baseAttrsAppended(attrs ...slog.Attr) []slog.Attr {
	base := r.baseAttrs()
	combined := make([]slog.Attr, 0, len(base)+len(attrs))
	combined = append(combined, base...)
	combined = append(combined, attrs...)
	return combined
}

func generateRequestID() string {
	return uuid.New().String()[:8]
}
