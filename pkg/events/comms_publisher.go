package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/hashicorp/go-multierror"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/cim-broker/pkg/commsutil"
)

const commsPublisherLogPrefix = "events:comms_publisher"

// Alert message headers, so subscribers can filter without decoding the body.
const (
	HeaderAlertCause = "Cim-Alert-Cause"
	HeaderModule     = "Cim-Provider-Module"
)

// CommsPublisherOpts configures CommsPublisher. Nil or zero values use defaults.
type CommsPublisherOpts struct {
	// AlertSubject overrides the global alert subject (ALERT_SUBJECT).
	AlertSubject string
}

// CommsPublisher publishes each alert on the global alert subject and on
// a per-module subject below it.
type CommsPublisher struct {
	nc           *comms.Conn
	alertSubject string
}

// NewCommsPublisher creates a new CommsPublisher. Pass nil for opts to use defaults.
func NewCommsPublisher(nc *comms.Conn, opts *CommsPublisherOpts) *CommsPublisher {
	subject := commsutil.SubjectAlerts
	if opts != nil && opts.AlertSubject != "" {
		subject = opts.AlertSubject
	}
	return &CommsPublisher{nc: nc, alertSubject: subject}
}

// PublishAlert tries both subjects even when the first publish fails.
func (p *CommsPublisher) PublishAlert(_ context.Context, alert *ModuleAlert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("%s - failed to encode alert: %w", commsPublisherLogPrefix, err)
	}
	header := comms.Header{}
	header.Set(HeaderAlertCause, strconv.Itoa(int(alert.Kind)))
	header.Set(HeaderModule, alert.Module.Name)

	var result *multierror.Error
	for _, subject := range []string{commsutil.BuildAlertSubject(p.alertSubject, alert.Module.Name), p.alertSubject} {
		if err := p.nc.PublishMsg(&comms.Msg{Subject: subject, Header: header, Data: data}); err != nil {
			slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsPublisherLogPrefix, subject, err))
			result = multierror.Append(result, fmt.Errorf("%s - publish to %s: %w", commsPublisherLogPrefix, subject, err))
		}
	}
	if result != nil {
		return result.ErrorOrNil()
	}
	slog.Debug(fmt.Sprintf("%s - Published %s alert for %s", commsPublisherLogPrefix, alert.Kind, alert.Module.Name))
	return nil
}
