// Package message defines the request/response message taxonomy exchanged by
// the broker, its provider managers and the indication service, and the
// binary codec for it.
//
// Every message kind has exactly one entry in the schema table. The entry
// names the kind, its family, its paired type and its body constructor, and
// the body's field list is the single definition of its wire layout: encode
// walks it with puts and decode walks the same list with gets.
package message

import (
	"github.com/google/uuid"

	"github.com/morezero/cim-broker/pkg/cim"
	"github.com/morezero/cim-broker/pkg/opctx"
	"github.com/morezero/cim-broker/pkg/wire"
)

// Message is the envelope common to every kind.
type Message struct {
	ID                string
	Type              Type
	BinaryRequest     bool
	BinaryResponse    bool
	InternalOperation bool
	// Timing counters, on the wire only when the codec has perf
	// instrumentation enabled.
	ServerStartTimeMicros uint64
	ProviderTimeMicros    uint64
	// IsComplete is false only for the non-final chunks of a response.
	IsComplete bool
	// Index numbers the chunks of one response.
	Index            uint32
	OperationContext opctx.Context
	// QueueIDs is the return path of the response, one id per forwarding hop.
	QueueIDs []uint32
	// Error is the exception record of a response. A zero Code is success.
	Error cim.Error
	Body  Body

	// AsyncResponsePending is set by a router that will complete the request
	// later through the async callback. It never goes on the wire.
	AsyncResponsePending bool `json:"-"`
}

// Body is the type-specific part of a message. The set of implementations is
// closed: one per entry in the schema table.
type Body interface {
	MessageType() Type
	fields(l *layout) []wire.Field
}

// NewID returns a fresh message id.
func NewID() string { return uuid.NewString() }

// New returns a request envelope for body with a fresh id.
func New(body Body) *Message {
	return &Message{
		ID:         NewID(),
		Type:       body.MessageType(),
		IsComplete: true,
		Body:       body,
	}
}

// IsRequest reports whether m carries a request body.
func (m *Message) IsRequest() bool { return m.Type.IsRequest() }

// Family returns the family of m's type.
func (m *Message) Family() Family { return m.Type.Family() }

// PushQueueID records a forwarding hop.
func (m *Message) PushQueueID(id uint32) { m.QueueIDs = append(m.QueueIDs, id) }

// PopQueueID removes and returns the most recent hop.
func (m *Message) PopQueueID() (uint32, bool) {
	if len(m.QueueIDs) == 0 {
		return 0, false
	}
	id := m.QueueIDs[len(m.QueueIDs)-1]
	m.QueueIDs = m.QueueIDs[:len(m.QueueIDs)-1]
	return id, true
}

// Failed reports whether a response carries a non-success status.
func (m *Message) Failed() bool { return m.Error.Code != cim.StatusSuccess }

// SetError stores err as the response exception. Nil clears it.
func (m *Message) SetError(err error) {
	if err == nil {
		m.Error = cim.Error{}
		return
	}
	m.Error = *cim.ErrorFrom(err)
}

// Err returns the response exception as an error, or nil on success.
func (m *Message) Err() error {
	if !m.Failed() {
		return nil
	}
	e := m.Error
	return &e
}

// BodyAs returns m's body as T.
func BodyAs[T Body](m *Message) (T, bool) {
	b, ok := m.Body.(T)
	return b, ok
}

// BuildResponse returns the response envelope for req: same id, a copy of the
// return path, the same response encoding preference, an empty body of the
// paired type and a success status.
func BuildResponse(req *Message) *Message {
	k, ok := schema[req.Type.Pair()]
	if !ok || !req.Type.IsRequest() {
		return nil
	}
	return &Message{
		ID:                req.ID,
		Type:              req.Type.Pair(),
		BinaryRequest:     req.BinaryRequest,
		BinaryResponse:    req.BinaryResponse,
		InternalOperation: req.InternalOperation,
		IsComplete:        true,
		OperationContext:  responseContext(req.OperationContext),
		QueueIDs:          append([]uint32(nil), req.QueueIDs...),
		Body:              k.body(),
	}
}

// responseContext keeps the containers a response needs to be routed back
// and localized.
func responseContext(req opctx.Context) opctx.Context {
	var out opctx.Context
	for _, name := range []string{opctx.NameIdentity, opctx.NameAcceptLanguageList, opctx.NameContentLanguageList} {
		if ct, ok := req.Get(name); ok {
			out.Insert(ct)
		}
	}
	return out
}

// OperationRequest is the header of every CIM operation request.
type OperationRequest struct {
	AuthType     string
	UserName     string
	NameSpace    string
	ClassName    string
	ProviderType uint32
}

// Operation returns the operation header.
func (h *OperationRequest) Operation() *OperationRequest { return h }

func (h *OperationRequest) header() []wire.Field {
	return []wire.Field{
		wire.String(&h.AuthType),
		wire.String(&h.UserName),
		wire.String(&h.NameSpace),
		wire.String(&h.ClassName),
		wire.Uint32(&h.ProviderType),
	}
}

// IndicationRequest is the header of every subscription request.
type IndicationRequest struct {
	AuthType string
	UserName string
}

// Indication returns the indication header.
func (h *IndicationRequest) Indication() *IndicationRequest { return h }

func (h *IndicationRequest) header() []wire.Field {
	return []wire.Field{wire.String(&h.AuthType), wire.String(&h.UserName)}
}

// Operation is implemented by every operation request body.
type Operation interface {
	Body
	Operation() *OperationRequest
}

// Indication is implemented by every subscription request body.
type Indication interface {
	Body
	Indication() *IndicationRequest
}
