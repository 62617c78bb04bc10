package cim

import (
	"github.com/morezero/cim-broker/pkg/wire"
)

const (
	valueNull  = 1 << 0
	valueArray = 1 << 1

	objectInstance = 'I'
	objectClass    = 'C'
)

type valueCodec struct {
	put      func(*wire.Writer, any)
	get      func(*wire.Reader) (any, bool)
	putArray func(*wire.Writer, any)
	getArray func(*wire.Reader) (any, bool)
}

func codecFor[T any](put func(*wire.Writer, T), get func(*wire.Reader) (T, bool)) valueCodec {
	putA, getA := wire.PutSlice(put), wire.GetSlice(get)
	return valueCodec{
		put: func(w *wire.Writer, v any) { put(w, v.(T)) },
		get: func(r *wire.Reader) (any, bool) {
			v, ok := get(r)
			return v, ok
		},
		putArray: func(w *wire.Writer, v any) { putA(w, v.([]T)) },
		getArray: func(r *wire.Reader) (any, bool) {
			v, ok := getA(r)
			return v, ok
		},
	}
}

// valueCodecs is indexed by Type. It is filled in init because the object
// codecs refer back to PutValue.
var valueCodecs [TypeInstance + 1]valueCodec

func init() {
	valueCodecs = [...]valueCodec{
		TypeBoolean: codecFor((*wire.Writer).PutBool, (*wire.Reader).GetBool),
		TypeUint8:   codecFor((*wire.Writer).PutUint8, (*wire.Reader).GetUint8),
		TypeSint8: codecFor(func(w *wire.Writer, v int8) { w.PutUint8(uint8(v)) },
			func(r *wire.Reader) (int8, bool) { v, ok := r.GetUint8(); return int8(v), ok }),
		TypeUint16: codecFor((*wire.Writer).PutUint16, (*wire.Reader).GetUint16),
		TypeSint16: codecFor(func(w *wire.Writer, v int16) { w.PutUint16(uint16(v)) },
			func(r *wire.Reader) (int16, bool) { v, ok := r.GetUint16(); return int16(v), ok }),
		TypeUint32: codecFor((*wire.Writer).PutUint32, (*wire.Reader).GetUint32),
		TypeSint32: codecFor(func(w *wire.Writer, v int32) { w.PutUint32(uint32(v)) },
			func(r *wire.Reader) (int32, bool) { v, ok := r.GetUint32(); return int32(v), ok }),
		TypeUint64: codecFor((*wire.Writer).PutUint64, (*wire.Reader).GetUint64),
		TypeSint64: codecFor(func(w *wire.Writer, v int64) { w.PutUint64(uint64(v)) },
			func(r *wire.Reader) (int64, bool) { v, ok := r.GetUint64(); return int64(v), ok }),
		TypeReal32: codecFor((*wire.Writer).PutReal32, (*wire.Reader).GetReal32),
		TypeReal64: codecFor((*wire.Writer).PutReal64, (*wire.Reader).GetReal64),
		TypeChar16: codecFor(func(w *wire.Writer, v Char16) { w.PutUint16(uint16(v)) },
			func(r *wire.Reader) (Char16, bool) { v, ok := r.GetUint16(); return Char16(v), ok }),
		TypeString: codecFor((*wire.Writer).PutString, (*wire.Reader).GetString),
		TypeDateTime: codecFor(func(w *wire.Writer, v DateTime) { w.PutString(string(v)) },
			func(r *wire.Reader) (DateTime, bool) { v, ok := r.GetString(); return DateTime(v), ok }),
		TypeReference: codecFor(PutPath, GetPath),
		TypeObject:    codecFor(PutObject, GetObject),
		TypeInstance: codecFor(func(w *wire.Writer, v Instance) { PutInstance(w, &v) },
			func(r *wire.Reader) (Instance, bool) {
				inst, ok := GetInstance(r)
				if !ok || inst == nil {
					return Instance{}, ok
				}
				return *inst, true
			}),
	}
}

// PutValue writes a flags byte, the type and, unless null, the payload.
// A Value that was never assigned is written as a null boolean.
func PutValue(w *wire.Writer, v Value) {
	null := v.null || v.data == nil
	var flags uint8
	if null {
		flags |= valueNull
	}
	if v.array {
		flags |= valueArray
	}
	w.PutUint8(flags)
	w.PutUint32(uint32(v.typ))
	if null {
		return
	}
	c := valueCodecs[v.typ]
	if v.array {
		c.putArray(w, v.data)
		return
	}
	c.put(w, v.data)
}

func GetValue(r *wire.Reader) (Value, bool) {
	flags, ok := r.GetUint8()
	if !ok {
		return Value{}, false
	}
	t, ok := r.GetUint32()
	if !ok {
		return Value{}, false
	}
	typ := Type(t)
	if flags&^(valueNull|valueArray) != 0 || !typ.Valid() {
		r.Fail()
		return Value{}, false
	}
	v := Value{typ: typ, array: flags&valueArray != 0}
	if flags&valueNull != 0 {
		v.null = true
		return v, true
	}
	c := valueCodecs[typ]
	if v.array {
		v.data, ok = c.getArray(r)
	} else {
		v.data, ok = c.get(r)
	}
	if !ok {
		return Value{}, false
	}
	return v, true
}

func putKeyBinding(w *wire.Writer, kb KeyBinding) {
	w.PutString(kb.Name)
	w.PutString(kb.Value)
	w.PutUint32(uint32(kb.Type))
}

func getKeyBinding(r *wire.Reader) (KeyBinding, bool) {
	var kb KeyBinding
	var t uint32
	ok := wire.GetFields(r, []wire.Field{wire.String(&kb.Name), wire.String(&kb.Value), wire.Uint32(&t)})
	if !ok || t > uint32(KeyReference) {
		r.Fail()
		return KeyBinding{}, false
	}
	kb.Type = KeyType(t)
	return kb, true
}

// PutPath writes an initialized flag and, when set, host, namespace, class
// name and key bindings.
func PutPath(w *wire.Writer, p ObjectPath) {
	w.PutBool(!p.IsZero())
	if p.IsZero() {
		return
	}
	wire.PutFields(w, pathFields(&p))
}

func GetPath(r *wire.Reader) (ObjectPath, bool) {
	var p ObjectPath
	set, ok := r.GetBool()
	if !ok || !set {
		return p, ok
	}
	if !wire.GetFields(r, pathFields(&p)) {
		return ObjectPath{}, false
	}
	return p, true
}

func pathFields(p *ObjectPath) []wire.Field {
	return []wire.Field{
		wire.String(&p.Host),
		wire.String(&p.Namespace),
		wire.String(&p.ClassName),
		wire.SliceOf(&p.KeyBindings, putKeyBinding, getKeyBinding),
	}
}

func qualifierFields(q *Qualifier) []wire.Field {
	return []wire.Field{wire.String(&q.Name), ValueField(&q.Value), wire.Uint32(&q.Flavor), wire.Bool(&q.Propagated)}
}

func putQualifier(w *wire.Writer, q Qualifier) { wire.PutFields(w, qualifierFields(&q)) }

func getQualifier(r *wire.Reader) (Qualifier, bool) {
	var q Qualifier
	ok := wire.GetFields(r, qualifierFields(&q))
	return q, ok
}

func qualifiersField(p *[]Qualifier) wire.Field { return wire.SliceOf(p, putQualifier, getQualifier) }

func propertyFields(p *Property) []wire.Field {
	return []wire.Field{
		wire.String(&p.Name),
		ValueField(&p.Value),
		wire.Uint32(&p.ArraySize),
		wire.String(&p.ReferenceClassName),
		wire.String(&p.ClassOrigin),
		wire.Bool(&p.Propagated),
		qualifiersField(&p.Qualifiers),
	}
}

func putProperty(w *wire.Writer, p Property) { wire.PutFields(w, propertyFields(&p)) }

func getProperty(r *wire.Reader) (Property, bool) {
	var p Property
	ok := wire.GetFields(r, propertyFields(&p))
	return p, ok
}

func typeField(p *Type) wire.Field {
	return wire.Of(p, func(w *wire.Writer, t Type) { w.PutUint32(uint32(t)) },
		func(r *wire.Reader) (Type, bool) {
			v, ok := r.GetUint32()
			if ok && !Type(v).Valid() {
				r.Fail()
				return 0, false
			}
			return Type(v), ok
		})
}

func parameterFields(p *Parameter) []wire.Field {
	return []wire.Field{
		wire.String(&p.Name),
		typeField(&p.Type),
		wire.Bool(&p.IsArray),
		wire.Uint32(&p.ArraySize),
		wire.String(&p.ReferenceClassName),
		qualifiersField(&p.Qualifiers),
	}
}

func putParameter(w *wire.Writer, p Parameter) { wire.PutFields(w, parameterFields(&p)) }

func getParameter(r *wire.Reader) (Parameter, bool) {
	var p Parameter
	ok := wire.GetFields(r, parameterFields(&p))
	return p, ok
}

func methodFields(m *Method) []wire.Field {
	return []wire.Field{
		wire.String(&m.Name),
		typeField(&m.Type),
		wire.String(&m.ClassOrigin),
		wire.Bool(&m.Propagated),
		qualifiersField(&m.Qualifiers),
		wire.SliceOf(&m.Parameters, putParameter, getParameter),
	}
}

func putMethod(w *wire.Writer, m Method) { wire.PutFields(w, methodFields(&m)) }

func getMethod(r *wire.Reader) (Method, bool) {
	var m Method
	ok := wire.GetFields(r, methodFields(&m))
	return m, ok
}

// PutInstance writes an initialized flag and, for a non-nil instance, its
// path, qualifiers and properties.
func PutInstance(w *wire.Writer, inst *Instance) {
	w.PutBool(inst != nil)
	if inst != nil {
		wire.PutFields(w, instanceFields(inst))
	}
}

func GetInstance(r *wire.Reader) (*Instance, bool) {
	set, ok := r.GetBool()
	if !ok || !set {
		return nil, ok
	}
	inst := &Instance{}
	if !wire.GetFields(r, instanceFields(inst)) {
		return nil, false
	}
	return inst, true
}

func instanceFields(inst *Instance) []wire.Field {
	return []wire.Field{
		PathField(&inst.Path),
		qualifiersField(&inst.Qualifiers),
		wire.SliceOf(&inst.Properties, putProperty, getProperty),
	}
}

func PutClass(w *wire.Writer, c *Class) {
	w.PutBool(c != nil)
	if c != nil {
		wire.PutFields(w, classFields(c))
	}
}

func GetClass(r *wire.Reader) (*Class, bool) {
	set, ok := r.GetBool()
	if !ok || !set {
		return nil, ok
	}
	c := &Class{}
	if !wire.GetFields(r, classFields(c)) {
		return nil, false
	}
	return c, true
}

func classFields(c *Class) []wire.Field {
	return []wire.Field{
		PathField(&c.Path),
		wire.String(&c.SuperClassName),
		qualifiersField(&c.Qualifiers),
		wire.SliceOf(&c.Properties, putProperty, getProperty),
		wire.SliceOf(&c.Methods, putMethod, getMethod),
	}
}

// PutObject writes a tag byte followed by the instance or class.
func PutObject(w *wire.Writer, o Object) {
	if o.Class != nil {
		w.PutUint8(objectClass)
		PutClass(w, o.Class)
		return
	}
	w.PutUint8(objectInstance)
	PutInstance(w, o.Instance)
}

func GetObject(r *wire.Reader) (Object, bool) {
	tag, ok := r.GetUint8()
	if !ok {
		return Object{}, false
	}
	switch tag {
	case objectInstance:
		inst, ok := GetInstance(r)
		return Object{Instance: inst}, ok
	case objectClass:
		c, ok := GetClass(r)
		return Object{Class: c}, ok
	}
	r.Fail()
	return Object{}, false
}

func paramValueFields(p *ParamValue) []wire.Field {
	return []wire.Field{wire.String(&p.Name), ValueField(&p.Value), wire.Bool(&p.IsTyped)}
}

func PutParamValue(w *wire.Writer, p ParamValue) { wire.PutFields(w, paramValueFields(&p)) }

func GetParamValue(r *wire.Reader) (ParamValue, bool) {
	var p ParamValue
	ok := wire.GetFields(r, paramValueFields(&p))
	return p, ok
}

// PutPropertyList writes the null flag and the names.
func PutPropertyList(w *wire.Writer, l PropertyList) {
	w.PutBool(!l.Specified)
	wire.PutSlice((*wire.Writer).PutString)(w, l.Names)
}

func GetPropertyList(r *wire.Reader) (PropertyList, bool) {
	null, ok := r.GetBool()
	if !ok {
		return PropertyList{}, false
	}
	names, ok := wire.GetSlice((*wire.Reader).GetString)(r)
	if !ok {
		return PropertyList{}, false
	}
	return PropertyList{Specified: !null, Names: names}, true
}

func putAcceptLanguage(w *wire.Writer, al AcceptLanguage) {
	w.PutString(al.Tag)
	w.PutReal32(al.Quality)
}

func getAcceptLanguage(r *wire.Reader) (AcceptLanguage, bool) {
	var al AcceptLanguage
	var ok bool
	if al.Tag, ok = r.GetString(); !ok {
		return al, false
	}
	al.Quality, ok = r.GetReal32()
	return al, ok
}

func PutAcceptLanguages(w *wire.Writer, l AcceptLanguageList) {
	wire.PutSlice(putAcceptLanguage)(w, l)
}

func GetAcceptLanguages(r *wire.Reader) (AcceptLanguageList, bool) {
	return wire.GetSlice(getAcceptLanguage)(r)
}

func PutContentLanguages(w *wire.Writer, l ContentLanguageList) {
	wire.PutSlice((*wire.Writer).PutString)(w, l)
}

func GetContentLanguages(r *wire.Reader) (ContentLanguageList, bool) {
	return wire.GetSlice((*wire.Reader).GetString)(r)
}

func errorFields(e *Error) []wire.Field {
	return []wire.Field{
		wire.Of(&e.Code, func(w *wire.Writer, c StatusCode) { w.PutUint32(uint32(c)) },
			func(r *wire.Reader) (StatusCode, bool) { v, ok := r.GetUint32(); return StatusCode(v), ok }),
		wire.String(&e.Message),
		wire.String(&e.CIMMessage),
		wire.String(&e.SourceFile),
		wire.Uint32(&e.SourceLine),
		ContentLanguagesField(&e.ContentLanguages),
	}
}

// PutError writes the exception record of a response.
func PutError(w *wire.Writer, e Error) { wire.PutFields(w, errorFields(&e)) }

func GetError(r *wire.Reader) (Error, bool) {
	var e Error
	ok := wire.GetFields(r, errorFields(&e))
	return e, ok
}

// Field constructors for message layouts.

func ValueField(p *Value) wire.Field           { return wire.Of(p, PutValue, GetValue) }
func PathField(p *ObjectPath) wire.Field       { return wire.Of(p, PutPath, GetPath) }
func PathsField(p *[]ObjectPath) wire.Field    { return wire.SliceOf(p, PutPath, GetPath) }
func InstanceField(p **Instance) wire.Field    { return wire.Of(p, PutInstance, GetInstance) }
func InstancesField(p *[]*Instance) wire.Field { return wire.SliceOf(p, PutInstance, GetInstance) }
func ClassField(p **Class) wire.Field          { return wire.Of(p, PutClass, GetClass) }
func ObjectsField(p *[]Object) wire.Field      { return wire.SliceOf(p, PutObject, GetObject) }
func ParamValuesField(p *[]ParamValue) wire.Field {
	return wire.SliceOf(p, PutParamValue, GetParamValue)
}
func PropertyListField(p *PropertyList) wire.Field {
	return wire.Of(p, PutPropertyList, GetPropertyList)
}
func ErrorField(p *Error) wire.Field { return wire.Of(p, PutError, GetError) }

func AcceptLanguagesField(p *AcceptLanguageList) wire.Field {
	return wire.Of(p, PutAcceptLanguages, GetAcceptLanguages)
}

func ContentLanguagesField(p *ContentLanguageList) wire.Field {
	return wire.Of(p, PutContentLanguages, GetContentLanguages)
}
