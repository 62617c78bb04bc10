package events

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-multierror"
)

const publisherLogPrefix = "events:publisher"

// AlertPublisher delivers provider module alerts.
type AlertPublisher interface {
	PublishAlert(ctx context.Context, alert *ModuleAlert) error
}

// NoOpPublisher discards alerts.
type NoOpPublisher struct{}

// PublishAlert is a no-op.
func (p *NoOpPublisher) PublishAlert(_ context.Context, _ *ModuleAlert) error {
	return nil
}

// CallbackPublisher hands every alert to a function.
type CallbackPublisher struct {
	callback func(ctx context.Context, alert *ModuleAlert) error
}

// NewCallbackPublisher creates a new CallbackPublisher.
func NewCallbackPublisher(cb func(ctx context.Context, alert *ModuleAlert) error) *CallbackPublisher {
	return &CallbackPublisher{callback: cb}
}

// PublishAlert calls the callback.
func (p *CallbackPublisher) PublishAlert(ctx context.Context, alert *ModuleAlert) error {
	return p.callback(ctx, alert)
}

// LogPublisher writes alerts to the process log. Failures are logged at
// warn level, everything else at info.
type LogPublisher struct{}

// PublishAlert logs the alert.
func (LogPublisher) PublishAlert(_ context.Context, alert *ModuleAlert) error {
	msg := fmt.Sprintf("%s - provider module %s: %s (status %v)", publisherLogPrefix, alert.Module.Name, alert.Cause, alert.Module.OperationalStatus)
	switch alert.Kind {
	case AlertFailed, AlertDegraded:
		slog.Warn(msg)
	default:
		slog.Info(msg)
	}
	return nil
}

// MultiPublisher delivers each alert to every publisher in order. A failing
// publisher does not stop delivery to the rest.
type MultiPublisher []AlertPublisher

// NewMultiPublisher skips nil publishers.
func NewMultiPublisher(pubs ...AlertPublisher) MultiPublisher {
	out := make(MultiPublisher, 0, len(pubs))
	for _, p := range pubs {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

// PublishAlert returns every publisher's error combined.
func (m MultiPublisher) PublishAlert(ctx context.Context, alert *ModuleAlert) error {
	var result *multierror.Error
	for _, p := range m {
		if err := p.PublishAlert(ctx, alert); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
