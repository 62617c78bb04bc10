package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterReader_Primitives(t *testing.T) {
	w := NewWriter(0)
	w.PutBool(true)
	w.PutPresent(false)
	w.PutUint8(0xAB)
	w.PutUint16(0xBEEF)
	w.PutUint32(0xDEADBEEF)
	w.PutUint64(1 << 60)
	w.PutReal32(1.5)
	w.PutReal64(-2.25)
	w.PutString("root/cimv2")
	w.PutBytes([]byte{1, 2, 3})

	r := NewReader(w.Bytes())
	b, ok := r.GetBool()
	require.True(t, ok)
	assert.True(t, b)
	p, ok := r.GetPresent()
	require.True(t, ok)
	assert.False(t, p)
	u8, _ := r.GetUint8()
	assert.Equal(t, uint8(0xAB), u8)
	u16, _ := r.GetUint16()
	assert.Equal(t, uint16(0xBEEF), u16)
	u32, _ := r.GetUint32()
	assert.Equal(t, uint32(0xDEADBEEF), u32)
	u64, _ := r.GetUint64()
	assert.Equal(t, uint64(1<<60), u64)
	f32, _ := r.GetReal32()
	assert.Equal(t, float32(1.5), f32)
	f64, _ := r.GetReal64()
	assert.Equal(t, -2.25, f64)
	s, _ := r.GetString()
	assert.Equal(t, "root/cimv2", s)
	bs, ok := r.GetBytes()
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, bs)

	assert.Equal(t, 0, r.Remaining())
	assert.NoError(t, r.Err())
}

func TestWriter_BigEndian(t *testing.T) {
	w := NewWriter(8)
	w.PutUint32(0x01020304)
	assert.Equal(t, []byte{1, 2, 3, 4}, w.Bytes())
}

func TestReader_ShortReadIsSticky(t *testing.T) {
	r := NewReader([]byte{0, 0, 1})
	_, ok := r.GetUint32()
	assert.False(t, ok)
	assert.True(t, r.Failed())
	assert.ErrorIs(t, r.Err(), ErrShortBuffer)

	// The remaining bytes would satisfy a one-byte read, but the reader has failed.
	_, ok = r.GetUint8()
	assert.False(t, ok)
}

func TestReader_MalformedBool(t *testing.T) {
	r := NewReader([]byte{2})
	_, ok := r.GetBool()
	assert.False(t, ok)
	assert.True(t, r.Failed())
}

func TestReader_StringLengthPastEnd(t *testing.T) {
	w := NewWriter(0)
	w.PutUint32(100)
	w.PutUint8('x')
	_, ok := NewReader(w.Bytes()).GetString()
	assert.False(t, ok)
}

func TestReader_CountLargerThanRemainder(t *testing.T) {
	w := NewWriter(0)
	w.PutCount(1 << 30)
	r := NewReader(w.Bytes())
	_, ok := r.GetCount()
	assert.False(t, ok)
}

func TestSliceOf_ZeroCountDecodesNil(t *testing.T) {
	w := NewWriter(0)
	in := []string(nil)
	Strings(&in).Put(w)

	out := []string{"stale"}
	require.True(t, Strings(&out).Get(NewReader(w.Bytes())))
	assert.Nil(t, out)
}

func TestFields_OrderIsContract(t *testing.T) {
	type pair struct {
		name  string
		count uint32
		flags []bool
	}
	layout := func(p *pair) []Field {
		return []Field{String(&p.name), Uint32(&p.count), Bools(&p.flags)}
	}

	in := pair{name: "TestClass", count: 7, flags: []bool{true, false}}
	w := NewWriter(0)
	PutFields(w, layout(&in))

	var out pair
	require.True(t, GetFields(NewReader(w.Bytes()), layout(&out)))
	assert.Equal(t, in, out)

	// Truncating anywhere inside the layout fails the whole read.
	for n := 0; n < w.Len(); n++ {
		var partial pair
		assert.False(t, GetFields(NewReader(w.Bytes()[:n]), layout(&partial)), "prefix %d", n)
	}
}
