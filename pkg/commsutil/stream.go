package commsutil

import (
	"context"
	"fmt"

	comms "github.com/nats-io/nats.go"
)

const streamLogPrefix = "commsutil:stream"

// RequestStream publishes data on subject with a private reply inbox and
// passes each reply, in arrival order, to onReply until it reports the last
// one. It returns comms.ErrNoResponders when nobody serves subject.
func RequestStream(ctx context.Context, nc *comms.Conn, subject string, data []byte, onReply func(data []byte) (last bool, err error)) error {
	inbox := nc.NewInbox()
	sub, err := nc.SubscribeSync(inbox)
	if err != nil {
		return fmt.Errorf("%s - subscribe reply inbox: %w", streamLogPrefix, err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	if err := nc.PublishRequest(subject, inbox, data); err != nil {
		return fmt.Errorf("%s - publish to %s: %w", streamLogPrefix, subject, err)
	}
	for {
		msg, err := sub.NextMsgWithContext(ctx)
		if err != nil {
			return fmt.Errorf("%s - waiting for reply on %s: %w", streamLogPrefix, subject, err)
		}
		if len(msg.Data) == 0 && msg.Header.Get("Status") == "503" {
			return comms.ErrNoResponders
		}
		last, err := onReply(msg.Data)
		if err != nil {
			return err
		}
		if last {
			return nil
		}
	}
}
