package wire

// Field binds one position of an ordered wire layout to a Go variable. A
// message kind lists its fields once; encoding puts them in order and
// decoding gets them in the same order into the same variables.
type Field interface {
	Put(w *Writer)
	Get(r *Reader) bool
}

type field[T any] struct {
	p   *T
	put func(*Writer, T)
	get func(*Reader) (T, bool)
}

func (f field[T]) Put(w *Writer) { f.put(w, *f.p) }

func (f field[T]) Get(r *Reader) bool {
	v, ok := f.get(r)
	if !ok {
		return false
	}
	*f.p = v
	return true
}

// Of builds a Field for *p from a put/get pair.
func Of[T any](p *T, put func(*Writer, T), get func(*Reader) (T, bool)) Field {
	return field[T]{p: p, put: put, get: get}
}

// SliceOf builds a count-prefixed array Field. A zero count decodes to a nil slice.
func SliceOf[T any](p *[]T, put func(*Writer, T), get func(*Reader) (T, bool)) Field {
	return Of(p, PutSlice(put), GetSlice(get))
}

// PutSlice lifts an element writer to a count-prefixed array writer.
func PutSlice[T any](put func(*Writer, T)) func(*Writer, []T) {
	return func(w *Writer, vs []T) {
		w.PutCount(len(vs))
		for _, v := range vs {
			put(w, v)
		}
	}
}

// GetSlice lifts an element reader to a count-prefixed array reader.
func GetSlice[T any](get func(*Reader) (T, bool)) func(*Reader) ([]T, bool) {
	return func(r *Reader) ([]T, bool) {
		n, ok := r.GetCount()
		if !ok {
			return nil, false
		}
		if n == 0 {
			return nil, true
		}
		out := make([]T, n)
		for i := range out {
			if out[i], ok = get(r); !ok {
				return nil, false
			}
		}
		return out, true
	}
}

// PutFields writes each field in order.
func PutFields(w *Writer, fields []Field) {
	for _, f := range fields {
		f.Put(w)
	}
}

// GetFields reads each field in order and stops at the first failure.
func GetFields(r *Reader, fields []Field) bool {
	for _, f := range fields {
		if !f.Get(r) {
			return false
		}
	}
	return true
}

// Primitive field constructors.

func Bool(p *bool) Field { return Of(p, (*Writer).PutBool, (*Reader).GetBool) }

func Uint16(p *uint16) Field { return Of(p, (*Writer).PutUint16, (*Reader).GetUint16) }

func Uint32(p *uint32) Field { return Of(p, (*Writer).PutUint32, (*Reader).GetUint32) }

func Uint64(p *uint64) Field { return Of(p, (*Writer).PutUint64, (*Reader).GetUint64) }

func String(p *string) Field { return Of(p, (*Writer).PutString, (*Reader).GetString) }

func Bytes(p *[]byte) Field { return Of(p, (*Writer).PutBytes, (*Reader).GetBytes) }

func Bools(p *[]bool) Field { return SliceOf(p, (*Writer).PutBool, (*Reader).GetBool) }

func Uint16s(p *[]uint16) Field { return SliceOf(p, (*Writer).PutUint16, (*Reader).GetUint16) }

func Uint32s(p *[]uint32) Field { return SliceOf(p, (*Writer).PutUint32, (*Reader).GetUint32) }

func Strings(p *[]string) Field { return SliceOf(p, (*Writer).PutString, (*Reader).GetString) }
