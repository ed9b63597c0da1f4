package orchestrator

import (
	"context"
	"log/slog"
)

// Result describes how a channel registration attempt ended.
type Result struct {
	Success   bool
	ChannelID string
	// Status is the directory's HTTP status, zero when no response arrived.
	Status int
	Err    error
}

// Observer is told about every channel registration that finished with a
// success or a rejection. Transient failures that will be retried are not
// reported. Observers run synchronously on the worker goroutine and must
// not block.
type Observer interface {
	RegistrationFinished(ctx context.Context, r Result)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, r Result)

// RegistrationFinished calls f.
func (f ObserverFunc) RegistrationFinished(ctx context.Context, r Result) {
	f(ctx, r)
}

// LogObserver logs registration outcomes.
type LogObserver struct{}

// RegistrationFinished logs r.
func (LogObserver) RegistrationFinished(_ context.Context, r Result) {
	if r.Success {
		slog.Info("channel registration finished", "channel_id", r.ChannelID, "status", r.Status)
		return
	}
	slog.Warn("channel registration rejected", "status", r.Status, "error", r.Err)
}

// multiObserver fans out to several observers in order.
type multiObserver []Observer

func (m multiObserver) RegistrationFinished(ctx context.Context, r Result) {
	for _, o := range m {
		o.RegistrationFinished(ctx, r)
	}
}
