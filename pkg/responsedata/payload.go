// Package responsedata holds the body of enumeration-style responses. A
// payload is filled either by a provider (as objects) or from the wire (as
// binary or text bytes). Wire bytes are decoded into objects only on first
// access, and bytes that were never decoded are written back out unchanged.
package responsedata

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/morezero/cim-broker/pkg/cim"
)

const logPrefix = "responsedata:payload"

var (
	// ErrAlreadySet is returned when wire bytes are set on a payload that already has content.
	ErrAlreadySet = errors.New("responsedata: payload already set")
	// ErrMalformed is returned when stored wire bytes cannot be decoded.
	ErrMalformed = errors.New("responsedata: malformed payload")
	// ErrKind is returned when a payload is read or filled as the wrong kind.
	ErrKind = errors.New("responsedata: wrong payload kind")
)

// Kind is the collection a payload carries.
type Kind uint32

const (
	KindInstanceNames Kind = iota + 1
	KindInstance
	KindInstances
	KindObjects
	KindObjectPaths
)

var kindNames = map[Kind]string{
	KindInstanceNames: "instanceNames",
	KindInstance:      "instance",
	KindInstances:     "instances",
	KindObjects:       "objects",
	KindObjectPaths:   "objectPaths",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", uint32(k))
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool { _, ok := kindNames[k]; return ok }

func (k Kind) holdsPaths() bool { return k == KindInstanceNames || k == KindObjectPaths }

// Encoding is the form of the stored wire bytes.
type Encoding uint8

const (
	Unset Encoding = iota
	Binary
	Text
)

func (e Encoding) String() string {
	switch e {
	case Binary:
		return "binary"
	case Text:
		return "text"
	}
	return "unset"
}

// Payload is safe for concurrent use.
type Payload struct {
	mu       sync.Mutex
	kind     Kind
	encoding Encoding
	raw      []byte
	// decoded is true once the object collections reflect the content.
	decoded bool

	paths     []cim.ObjectPath
	instances []*cim.Instance
	objects   []cim.Object
}

// New returns an empty payload of the given kind.
func New(kind Kind) *Payload {
	return &Payload{kind: kind}
}

func (p *Payload) Kind() Kind { return p.kind }

// Encoding reports the form of the stored wire bytes, Unset when the payload
// was filled by a provider or is empty.
func (p *Payload) Encoding() Encoding {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoding
}

// HasContent reports whether wire bytes or objects have been set.
func (p *Payload) HasContent() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoding != Unset || p.decoded
}

// SetBinary stores binary wire bytes. It may be called once, on an empty payload.
func (p *Payload) SetBinary(b []byte) error { return p.setRaw(Binary, b) }

// SetText stores text wire bytes. It may be called once, on an empty payload.
func (p *Payload) SetText(b []byte) error { return p.setRaw(Text, b) }

func (p *Payload) setRaw(enc Encoding, b []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.encoding != Unset || p.decoded {
		return fmt.Errorf("%s - set %s on %s payload: %w", logPrefix, enc, p.encoding, ErrAlreadySet)
	}
	p.encoding = enc
	p.raw = b
	return nil
}

// materialize decodes the stored bytes once. Callers hold p.mu.
func (p *Payload) materialize() error {
	if p.decoded || p.encoding == Unset {
		return nil
	}
	var c contents
	var err error
	if p.encoding == Binary {
		c, err = decodeBinary(p.kind, p.raw)
	} else {
		c, err = decodeText(p.kind, p.raw)
	}
	if err != nil {
		return fmt.Errorf("%s - decode %s %s payload: %w", logPrefix, p.encoding, p.kind, err)
	}
	p.paths, p.instances, p.objects = c.Paths, c.Instances, c.Objects
	p.decoded = true
	return nil
}

// modify materializes the payload and drops the stored bytes, which would
// otherwise no longer match the content.
func (p *Payload) modify(kinds ...Kind) error {
	if !p.accepts(kinds...) {
		return fmt.Errorf("%s - %s payload: %w", logPrefix, p.kind, ErrKind)
	}
	if err := p.materialize(); err != nil {
		return err
	}
	p.encoding = Unset
	p.raw = nil
	p.decoded = true
	return nil
}

func (p *Payload) accepts(kinds ...Kind) bool {
	for _, k := range kinds {
		if p.kind == k {
			return true
		}
	}
	return false
}

// AppendInstances adds provider results to an Instance or Instances payload.
func (p *Payload) AppendInstances(insts ...*cim.Instance) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.modify(KindInstance, KindInstances); err != nil {
		return err
	}
	p.instances = append(p.instances, insts...)
	return nil
}

// AppendPaths adds provider results to an InstanceNames or ObjectPaths payload.
func (p *Payload) AppendPaths(paths ...cim.ObjectPath) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.modify(KindInstanceNames, KindObjectPaths); err != nil {
		return err
	}
	p.paths = append(p.paths, paths...)
	return nil
}

// AppendObjects adds provider results to an Objects payload.
func (p *Payload) AppendObjects(objs ...cim.Object) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.modify(KindObjects); err != nil {
		return err
	}
	p.objects = append(p.objects, objs...)
	return nil
}

// Instances returns the instances of an Instance or Instances payload.
func (p *Payload) Instances() ([]*cim.Instance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.accepts(KindInstance, KindInstances) {
		return nil, fmt.Errorf("%s - instances of %s payload: %w", logPrefix, p.kind, ErrKind)
	}
	if err := p.materialize(); err != nil {
		return nil, err
	}
	return p.instances, nil
}

// Instance returns the single instance of a GetInstance payload, or nil.
func (p *Payload) Instance() (*cim.Instance, error) {
	insts, err := p.Instances()
	if err != nil || len(insts) == 0 {
		return nil, err
	}
	return insts[0], nil
}

// Paths returns the paths of an InstanceNames or ObjectPaths payload.
func (p *Payload) Paths() ([]cim.ObjectPath, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.kind.holdsPaths() {
		return nil, fmt.Errorf("%s - paths of %s payload: %w", logPrefix, p.kind, ErrKind)
	}
	if err := p.materialize(); err != nil {
		return nil, err
	}
	return p.paths, nil
}

// Objects returns the objects of an Objects payload.
func (p *Payload) Objects() ([]cim.Object, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.kind != KindObjects {
		return nil, fmt.Errorf("%s - objects of %s payload: %w", logPrefix, p.kind, ErrKind)
	}
	if err := p.materialize(); err != nil {
		return nil, err
	}
	return p.objects, nil
}

// Len returns the number of items, materializing if needed.
func (p *Payload) Len() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.materialize(); err != nil {
		return 0, err
	}
	return len(p.paths) + len(p.instances) + len(p.objects), nil
}

// contents is also the text encoding of a payload.
type contents struct {
	Kind      string           `json:"kind"`
	Paths     []cim.ObjectPath `json:"paths,omitempty"`
	Instances []*cim.Instance  `json:"instances,omitempty"`
	Objects   []cim.Object     `json:"objects,omitempty"`
}

func (p *Payload) snapshot() contents {
	return contents{Kind: p.kind.String(), Paths: p.paths, Instances: p.instances, Objects: p.objects}
}

// EncodeBinary returns the binary wire bytes. Stored binary bytes that were
// never modified are returned as they are. Bodies larger than threshold are
// zstd-compressed; a threshold of zero or less disables compression.
func (p *Payload) EncodeBinary(threshold int) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.encoding == Binary {
		return p.raw, nil
	}
	if err := p.materialize(); err != nil {
		return nil, err
	}
	return encodeBinary(p.kind, p.snapshot(), threshold)
}

// EncodeText returns the text wire bytes.
func (p *Payload) EncodeText() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.encoding == Text {
		return p.raw, nil
	}
	if err := p.materialize(); err != nil {
		return nil, err
	}
	b, err := json.Marshal(p.snapshot())
	if err != nil {
		return nil, fmt.Errorf("%s - encode text %s payload: %w", logPrefix, p.kind, err)
	}
	return b, nil
}

func decodeText(kind Kind, b []byte) (contents, error) {
	var c contents
	if err := json.Unmarshal(b, &c); err != nil {
		return contents{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if c.Kind != kind.String() {
		return contents{}, fmt.Errorf("%w: kind %q, want %q", ErrMalformed, c.Kind, kind)
	}
	return c, nil
}

// MarshalJSON renders the materialized content.
func (p *Payload) MarshalJSON() ([]byte, error) { return p.EncodeText() }
