package logger

import (
	"context"
	"sync"
	"time"
)

// Outcomes passed to an OperationRecorder.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// OperationRecorder receives the outcome of every traced operation.
type OperationRecorder interface {
	RecordOperation(name string, duration time.Duration, outcome string)
}

var (
	recorderMu     sync.RWMutex
	globalRecorder OperationRecorder
)

// SetRecorder installs the recorder used by TraceOperation. Passing nil disables recording.
func SetRecorder(r OperationRecorder) {
	recorderMu.Lock()
	defer recorderMu.Unlock()
	globalRecorder = r
}

// TraceOperation 追踪操作执行时间
func TraceOperation(ctx context.Context, name string, fn func() error) error {
	return TraceOperationWith(ctx, WithContext(ctx), name, fn)
}

// TraceOperationWith traces through log instead of the global logger.
func TraceOperationWith(ctx context.Context, log Logger, name string, fn func() error) error {
	return TraceOutcome(ctx, log, name, func() (string, error) {
		return OutcomeSuccess, fn()
	})
}

// TraceOutcome lets fn classify an operation that returned no error, e.g. as rejected.
// A non-nil error always records OutcomeError.
func TraceOutcome(ctx context.Context, log Logger, name string, fn func() (string, error)) error {
	start := time.Now()
	log = log.WithContext(ctx)

	log.Debug("Operation started", Fields{
		"operation": name,
		"start_at":  start.Format(time.RFC3339),
	})

	outcome, err := fn()
	duration := time.Since(start)

	if err != nil {
		outcome = OutcomeError
		log.Error("Operation failed", Fields{
			"operation": name,
			"duration":  duration.String(),
			"error":     err.Error(),
		})
	} else {
		log.Debug("Operation completed", Fields{
			"operation": name,
			"duration":  duration.String(),
			"outcome":   outcome,
		})
	}

	recorderMu.RLock()
	r := globalRecorder
	recorderMu.RUnlock()
	if r != nil {
		r.RecordOperation(name, duration, outcome)
	}

	return err
}
