// Package cim holds the CIM value model carried inside messages: typed values,
// object paths, instances, classes, parameters, language lists and the
// status-coded error returned by providers.
package cim

import (
	"fmt"
	"reflect"
)

// Type is the CIM type tag of a value. The numeric order is part of the wire format.
type Type uint32

const (
	TypeBoolean Type = iota
	TypeUint8
	TypeSint8
	TypeUint16
	TypeSint16
	TypeUint32
	TypeSint32
	TypeUint64
	TypeSint64
	TypeReal32
	TypeReal64
	TypeChar16
	TypeString
	TypeDateTime
	TypeReference
	TypeObject
	TypeInstance
)

var typeNames = [...]string{
	"boolean", "uint8", "sint8", "uint16", "sint16", "uint32", "sint32",
	"uint64", "sint64", "real32", "real64", "char16", "string", "datetime",
	"reference", "object", "instance",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("type(%d)", uint32(t))
}

// Valid reports whether t is a known CIM type.
func (t Type) Valid() bool { return t <= TypeInstance }

// Char16 is a UCS-2 code unit.
type Char16 uint16

// DateTime is a CIM datetime in its canonical 25-character string form,
// e.g. "20240101120000.000000+000" or an interval "00000001000000.000000:000".
type DateTime string

// Value is a typed, possibly null, possibly array CIM value.
type Value struct {
	typ   Type
	array bool
	null  bool
	data  any
}

// NewValue wraps a Go value. Supported scalars are bool, uint8, int8, uint16,
// int16, uint32, int32, uint64, int64, float32, float64, Char16, string,
// DateTime, ObjectPath, Object and Instance, and slices of each.
func NewValue(v any) (Value, error) {
	t, array, ok := typeOf(v)
	if !ok {
		return Value{}, fmt.Errorf("cim: unsupported value type %T", v)
	}
	if array {
		rv := reflect.ValueOf(v)
		if rv.Len() == 0 {
			v = reflect.Zero(rv.Type()).Interface()
		}
	}
	return Value{typ: t, array: array, data: v}, nil
}

// MustValue is NewValue for values known to be supported.
func MustValue(v any) Value {
	val, err := NewValue(v)
	if err != nil {
		panic(err)
	}
	return val
}

// NullValue returns a null value of the given type.
func NullValue(t Type, array bool) Value {
	return Value{typ: t, array: array, null: true}
}

func (v Value) Type() Type     { return v.typ }
func (v Value) IsArray() bool  { return v.array }
func (v Value) IsNull() bool   { return v.null }
func (v Value) Interface() any { return v.data }

// As returns the value's payload as T.
func As[T any](v Value) (T, bool) {
	t, ok := v.data.(T)
	return t, ok
}

func (v Value) String() string {
	if v.null {
		return "NULL"
	}
	return fmt.Sprint(v.data)
}

func typeOf(v any) (Type, bool, bool) {
	switch v.(type) {
	case bool:
		return TypeBoolean, false, true
	case []bool:
		return TypeBoolean, true, true
	case uint8:
		return TypeUint8, false, true
	case []uint8:
		return TypeUint8, true, true
	case int8:
		return TypeSint8, false, true
	case []int8:
		return TypeSint8, true, true
	case uint16:
		return TypeUint16, false, true
	case []uint16:
		return TypeUint16, true, true
	case int16:
		return TypeSint16, false, true
	case []int16:
		return TypeSint16, true, true
	case uint32:
		return TypeUint32, false, true
	case []uint32:
		return TypeUint32, true, true
	case int32:
		return TypeSint32, false, true
	case []int32:
		return TypeSint32, true, true
	case uint64:
		return TypeUint64, false, true
	case []uint64:
		return TypeUint64, true, true
	case int64:
		return TypeSint64, false, true
	case []int64:
		return TypeSint64, true, true
	case float32:
		return TypeReal32, false, true
	case []float32:
		return TypeReal32, true, true
	case float64:
		return TypeReal64, false, true
	case []float64:
		return TypeReal64, true, true
	case Char16:
		return TypeChar16, false, true
	case []Char16:
		return TypeChar16, true, true
	case string:
		return TypeString, false, true
	case []string:
		return TypeString, true, true
	case DateTime:
		return TypeDateTime, false, true
	case []DateTime:
		return TypeDateTime, true, true
	case ObjectPath:
		return TypeReference, false, true
	case []ObjectPath:
		return TypeReference, true, true
	case Object:
		return TypeObject, false, true
	case []Object:
		return TypeObject, true, true
	case Instance:
		return TypeInstance, false, true
	case []Instance:
		return TypeInstance, true, true
	}
	return 0, false, false
}
