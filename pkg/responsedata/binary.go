package responsedata

import (
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/morezero/cim-broker/pkg/cim"
	"github.com/morezero/cim-broker/pkg/wire"
)

// DefaultCompressionThreshold is the body size above which binary payloads are compressed.
const DefaultCompressionThreshold = 64 << 10

const (
	markerRaw  = 'R'
	markerZstd = 'Z'

	// maxDecodedSize bounds decompression of untrusted blobs.
	maxDecodedSize = 256 << 20
)

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecodedSize))
)

func itemFields(kind Kind, c *contents) []wire.Field {
	switch {
	case kind.holdsPaths():
		return []wire.Field{cim.PathsField(&c.Paths)}
	case kind == KindObjects:
		return []wire.Field{cim.ObjectsField(&c.Objects)}
	default:
		return []wire.Field{cim.InstancesField(&c.Instances)}
	}
}

func encodeBinary(kind Kind, c contents, threshold int) ([]byte, error) {
	body := wire.NewWriter(0)
	body.PutUint32(uint32(kind))
	wire.PutFields(body, itemFields(kind, &c))

	if threshold > 0 && body.Len() > threshold {
		out := make([]byte, 1, body.Len()/2)
		out[0] = markerZstd
		return zstdEncoder.EncodeAll(body.Bytes(), out), nil
	}
	out := make([]byte, 0, body.Len()+1)
	out = append(out, markerRaw)
	return append(out, body.Bytes()...), nil
}

func decodeBinary(kind Kind, b []byte) (contents, error) {
	if len(b) == 0 {
		return contents{}, fmt.Errorf("%w: empty blob", ErrMalformed)
	}
	body := b[1:]
	switch b[0] {
	case markerRaw:
	case markerZstd:
		var err error
		if body, err = zstdDecoder.DecodeAll(body, nil); err != nil {
			return contents{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	default:
		return contents{}, fmt.Errorf("%w: marker %q", ErrMalformed, b[0])
	}

	r := wire.NewReader(body)
	k, ok := r.GetUint32()
	if !ok || Kind(k) != kind {
		return contents{}, fmt.Errorf("%w: kind %d, want %s", ErrMalformed, k, kind)
	}
	c := contents{Kind: kind.String()}
	if !wire.GetFields(r, itemFields(kind, &c)) || r.Remaining() != 0 {
		return contents{}, fmt.Errorf("%w: %s items", ErrMalformed, kind)
	}
	return c, nil
}
