package message

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/morezero/cim-broker/pkg/cim"
	"github.com/morezero/cim-broker/pkg/opctx"
	"github.com/morezero/cim-broker/pkg/responsedata"
	"github.com/morezero/cim-broker/pkg/wire"
)

const logPrefix = "message:codec"

// ErrEmptyID is returned when encoding a message without an id.
var ErrEmptyID = errors.New("message has no id")

// Codec encodes and decodes messages. Both ends of a connection must agree on
// PerfInstrumentation, which adds the two timing counters to the envelope.
type Codec struct {
	PerfInstrumentation bool
	// CompressionThreshold is passed to responsedata.Payload.EncodeBinary.
	CompressionThreshold int
}

// DefaultCodec has perf instrumentation off.
var DefaultCodec = Codec{CompressionThreshold: responsedata.DefaultCompressionThreshold}

// Encode encodes m with DefaultCodec.
func Encode(m *Message) ([]byte, error) { return DefaultCodec.Encode(m) }

// Decode decodes b with DefaultCodec.
func Decode(b []byte) *Message { return DefaultCodec.Decode(b) }

// layout carries the envelope state that a body's field list depends on.
type layout struct {
	binaryResponse bool
	threshold      int
	err            error
}

func (l *layout) fail(err error) {
	if l.err == nil {
		l.err = err
	}
}

// payload is the field of a Collection response. Its bytes are binary when
// the kind is always binary or the envelope asks for a binary response, text
// otherwise.
func (l *layout) payload(p **responsedata.Payload, k responsedata.Kind, alwaysBinary bool) wire.Field {
	binary := alwaysBinary || l.binaryResponse
	put := func(w *wire.Writer, pl *responsedata.Payload) {
		if pl == nil {
			pl = responsedata.New(k)
		}
		if pl.Kind() != k {
			l.fail(fmt.Errorf("%s - %s payload in a %s field: %w", logPrefix, pl.Kind(), k, responsedata.ErrKind))
		}
		var b []byte
		var err error
		if binary {
			b, err = pl.EncodeBinary(l.threshold)
		} else {
			b, err = pl.EncodeText()
		}
		if err != nil {
			l.fail(err)
		}
		w.PutBytes(b)
	}
	get := func(r *wire.Reader) (*responsedata.Payload, bool) {
		b, ok := r.GetBytes()
		if !ok {
			return nil, false
		}
		pl := responsedata.New(k)
		set := pl.SetText
		if binary {
			set = pl.SetBinary
		}
		if err := set(b); err != nil {
			return nil, false
		}
		return pl, true
	}
	return wire.Of(p, put, get)
}

// Encode returns the wire bytes of m. It fails when m's body does not match
// its type or a payload cannot be encoded.
func (c Codec) Encode(m *Message) ([]byte, error) {
	k, ok := schema[m.Type]
	if !ok {
		return nil, fmt.Errorf("%s - encode: unknown message type %d", logPrefix, uint32(m.Type))
	}
	if m.Body == nil || m.Body.MessageType() != m.Type {
		return nil, fmt.Errorf("%s - encode %s: body does not match type", logPrefix, k.name)
	}
	if m.ID == "" {
		return nil, fmt.Errorf("%s - encode %s: %w", logPrefix, k.name, ErrEmptyID)
	}

	l := &layout{binaryResponse: m.BinaryResponse, threshold: c.CompressionThreshold}
	w := wire.NewWriter(0)
	wire.PutFields(w, c.envelope(m, new(uint32)))

	request := k.family != FamilyResponse
	w.PutPresent(request)
	if request {
		wire.PutFields(w, []wire.Field{wire.Uint32s(&m.QueueIDs)})
		w.PutPresent(k.family == FamilyOperation)
		w.PutPresent(k.family == FamilyIndication)
		w.PutPresent(k.family == FamilyOther)
		wire.PutFields(w, m.Body.fields(l))
	}
	w.PutPresent(!request)
	if !request {
		wire.PutFields(w, []wire.Field{wire.Uint32s(&m.QueueIDs), cim.ErrorField(&m.Error)})
		wire.PutFields(w, m.Body.fields(l))
	}
	if l.err != nil {
		return nil, fmt.Errorf("%s - encode %s: %w", logPrefix, k.name, l.err)
	}
	return w.Bytes(), nil
}

// envelope lists the common header fields. The type is staged through t so
// that decode can validate it.
func (c Codec) envelope(m *Message, t *uint32) []wire.Field {
	*t = uint32(m.Type)
	fields := []wire.Field{
		wire.String(&m.ID),
		wire.Bool(&m.BinaryRequest),
		wire.Bool(&m.BinaryResponse),
		wire.Bool(&m.InternalOperation),
		wire.Uint32(t),
	}
	if c.PerfInstrumentation {
		fields = append(fields, wire.Uint64(&m.ServerStartTimeMicros), wire.Uint64(&m.ProviderTimeMicros))
	}
	return append(fields,
		wire.Bool(&m.IsComplete),
		wire.Uint32(&m.Index),
		opctx.Field(&m.OperationContext))
}

// Decode returns the message encoded in b, or nil when b is empty, truncated
// or malformed. A nil result never comes with a partially decoded message.
func (c Codec) Decode(b []byte) *Message {
	if len(b) == 0 {
		return nil
	}
	m, reason := c.decode(wire.NewReader(b))
	if m == nil {
		slog.Debug(fmt.Sprintf("%s - dropped undecodable message (%d bytes): %s", logPrefix, len(b), reason))
	}
	return m
}

func (c Codec) decode(r *wire.Reader) (*Message, string) {
	m := &Message{}
	var t uint32
	head := c.envelope(m, &t)
	// The type sits in the middle of the envelope, so validate it after the
	// whole header is read.
	if !wire.GetFields(r, head) {
		return nil, "short envelope"
	}
	if m.ID == "" {
		return nil, "empty message id"
	}
	m.Type = Type(t)
	k, ok := schema[m.Type]
	if !ok {
		return nil, fmt.Sprintf("unknown message type %d", t)
	}
	body := k.body()
	l := &layout{binaryResponse: m.BinaryResponse}

	isRequest, ok := r.GetPresent()
	if !ok {
		return nil, "short request marker"
	}
	if isRequest {
		if k.family == FamilyResponse {
			return nil, fmt.Sprintf("request body for %s", k.name)
		}
		var op, ind, other bool
		if !wire.GetFields(r, []wire.Field{wire.Uint32s(&m.QueueIDs), wire.Bool(&op), wire.Bool(&ind), wire.Bool(&other)}) {
			return nil, "short request header"
		}
		if family, ok := requestFamily(op, ind, other); !ok || family != k.family {
			return nil, fmt.Sprintf("request family flags %t/%t/%t do not match %s", op, ind, other, k.name)
		}
		if !wire.GetFields(r, body.fields(l)) {
			return nil, fmt.Sprintf("short %s body", k.name)
		}
	}

	isResponse, ok := r.GetPresent()
	if !ok {
		return nil, "short response marker"
	}
	switch {
	case isRequest && isResponse:
		return nil, "both request and response present"
	case !isRequest && !isResponse:
		return nil, "neither request nor response present"
	}
	if isResponse {
		if k.family != FamilyResponse {
			return nil, fmt.Sprintf("response body for %s", k.name)
		}
		if !wire.GetFields(r, []wire.Field{wire.Uint32s(&m.QueueIDs), cim.ErrorField(&m.Error)}) {
			return nil, "short response header"
		}
		if !wire.GetFields(r, body.fields(l)) {
			return nil, fmt.Sprintf("short %s body", k.name)
		}
	}
	if r.Remaining() != 0 {
		return nil, fmt.Sprintf("%d trailing bytes after %s", r.Remaining(), k.name)
	}
	m.Body = body
	return m, ""
}

func requestFamily(op, ind, other bool) (Family, bool) {
	switch {
	case op && !ind && !other:
		return FamilyOperation, true
	case ind && !op && !other:
		return FamilyIndication, true
	case other && !op && !ind:
		return FamilyOther, true
	}
	return 0, false
}
