package server

import (
	"fmt"
	"log/slog"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/cim-broker/pkg/async"
	"github.com/morezero/cim-broker/pkg/cim"
	"github.com/morezero/cim-broker/pkg/message"
)

const transportLogPrefix = "server:transport"

// onRequest answers one binary request message. Chunks and the final response
// are published on the caller's reply subject in order; a request without a
// reply subject is processed and its response dropped.
func (s *Server) onRequest(msg *comms.Msg) {
	req := s.codec.Decode(msg.Data)
	if req == nil || !req.IsRequest() {
		slog.Debug(fmt.Sprintf("%s - dropped undecodable message (%d bytes) on %s", transportLogPrefix, len(msg.Data), msg.Subject))
		return
	}
	reply := msg.Reply
	err := s.correlator.SendForget(req,
		func(resp *message.Message) { s.publish(reply, resp) },
		async.WithChunks(func(chunk *message.Message) { s.publish(reply, chunk) }))
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - rejected %s %s: %v", transportLogPrefix, req.Type, req.ID, err))
		resp := message.BuildResponse(req)
		resp.SetError(cim.Errorf(cim.StatusFailed, "provider manager service is busy"))
		s.publish(reply, resp)
	}
}

// publish encodes resp onto subject. When resp cannot be encoded the caller
// gets an empty FAILED response of the same type instead.
func (s *Server) publish(subject string, resp *message.Message) {
	if subject == "" || s.nc == nil {
		return
	}
	b, err := s.codec.Encode(resp)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - encode %s %s: %v", transportLogPrefix, resp.Type, resp.ID, err))
		failed := &message.Message{ID: resp.ID, Type: resp.Type, IsComplete: true, QueueIDs: resp.QueueIDs, Body: message.NewBody(resp.Type)}
		failed.SetError(cim.Errorf(cim.StatusFailed, "encode response: %v", err))
		if b, err = s.codec.Encode(failed); err != nil {
			return
		}
	}
	if err := s.nc.Publish(subject, b); err != nil {
		slog.Warn(fmt.Sprintf("%s - publish %s %s: %v", transportLogPrefix, resp.Type, resp.ID, err))
	}
}
