// Package indication is the client side of the indication service: the
// notify-provider-fail round trip and indication forwarding.
package indication

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/cim-broker/pkg/commsutil"
	"github.com/morezero/cim-broker/pkg/message"
)

const logPrefix = "indication:client"

// ErrUnavailable is returned when no indication service answers on the bus.
var ErrUnavailable = errors.New("indication: service unavailable")

const defaultTimeout = 30 * time.Second

// ClientOpts holds options for NewClient.
type ClientOpts struct {
	// Subject is the indication service request subject.
	Subject string
	// Timeout bounds a request when the caller's context has no deadline.
	Timeout time.Duration
	// Codec defaults to message.DefaultCodec.
	Codec message.Codec
}

// Client sends binary request messages to the indication service.
type Client struct {
	nc      *comms.Conn
	subject string
	timeout time.Duration
	codec   message.Codec
}

// NewClient creates a Client. Nil opts use the default subject, timeout and codec.
func NewClient(nc *comms.Conn, opts *ClientOpts) *Client {
	c := &Client{nc: nc, subject: commsutil.SubjectIndicationService, timeout: defaultTimeout, codec: message.DefaultCodec}
	if opts != nil {
		if opts.Subject != "" {
			c.subject = opts.Subject
		}
		if opts.Timeout > 0 {
			c.timeout = opts.Timeout
		}
		if opts.Codec != (message.Codec{}) {
			c.codec = opts.Codec
		}
	}
	return c
}

// Available reports whether the bus connection is up.
func (c *Client) Available() bool {
	return c.nc != nil && c.nc.IsConnected()
}

// NotifyProviderFail tells the indication service that a module's providers
// failed and returns how many subscriptions were affected. It blocks until
// the service answers.
func (c *Client) NotifyProviderFail(ctx context.Context, moduleName, userName string) (uint32, error) {
	req := message.New(&message.NotifyProviderFailRequest{ModuleName: moduleName, UserName: userName})
	resp, err := c.request(ctx, req)
	if err != nil {
		return 0, err
	}
	if resp.Failed() {
		return 0, fmt.Errorf("%s - notify provider fail for %s: %w", logPrefix, moduleName, resp.Err())
	}
	body, ok := message.BodyAs[*message.NotifyProviderFailResponse](resp)
	if !ok {
		return 0, fmt.Errorf("%s - unexpected %s reply to notify provider fail", logPrefix, resp.Type)
	}
	return body.NumSubscriptionsAffected, nil
}

func (c *Client) request(ctx context.Context, req *message.Message) (*message.Message, error) {
	if !c.Available() {
		return nil, fmt.Errorf("%s - %s: %w", logPrefix, req.Type, ErrUnavailable)
	}
	data, err := c.codec.Encode(req)
	if err != nil {
		return nil, fmt.Errorf("%s - encode %s: %w", logPrefix, req.Type, err)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	msg, err := c.nc.RequestWithContext(ctx, c.subject, data)
	if errors.Is(err, comms.ErrNoResponders) {
		return nil, fmt.Errorf("%s - %s: %w", logPrefix, req.Type, ErrUnavailable)
	}
	if err != nil {
		return nil, fmt.Errorf("%s - %s request failed: %w", logPrefix, req.Type, err)
	}

	resp := c.codec.Decode(msg.Data)
	if resp == nil || resp.ID != req.ID {
		return nil, fmt.Errorf("%s - undecodable or mismatched reply to %s", logPrefix, req.Type)
	}
	return resp, nil
}

// DeliverIndication forwards a ProcessIndication request without waiting for
// a reply.
func (c *Client) DeliverIndication(req *message.Message) error {
	if req.Type != message.TypeProcessIndicationRequest {
		return fmt.Errorf("%s - cannot deliver %s as an indication", logPrefix, req.Type)
	}
	if !c.Available() {
		return fmt.Errorf("%s - deliver indication: %w", logPrefix, ErrUnavailable)
	}
	data, err := c.codec.Encode(req)
	if err != nil {
		return fmt.Errorf("%s - encode indication: %w", logPrefix, err)
	}
	if err := c.nc.Publish(c.subject, data); err != nil {
		return fmt.Errorf("%s - publish indication: %w", logPrefix, err)
	}
	slog.Debug(fmt.Sprintf("%s - forwarded indication %s", logPrefix, req.ID))
	return nil
}
