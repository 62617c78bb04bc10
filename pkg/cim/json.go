package cim

import (
	"encoding/json"
	"fmt"
)

// MarshalText renders the type by name.
func (t Type) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("cim: invalid type %d", uint32(t))
	}
	return []byte(t.String()), nil
}

func (t *Type) UnmarshalText(b []byte) error {
	for i, n := range typeNames {
		if n == string(b) {
			*t = Type(i)
			return nil
		}
	}
	return fmt.Errorf("cim: unknown type %q", b)
}

type jsonValue struct {
	Type  Type            `json:"type"`
	Array bool            `json:"array,omitempty"`
	Null  bool            `json:"null,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

func (v Value) MarshalJSON() ([]byte, error) {
	jv := jsonValue{Type: v.typ, Array: v.array, Null: v.null || v.data == nil}
	if !jv.Null {
		raw, err := json.Marshal(v.data)
		if err != nil {
			return nil, err
		}
		jv.Value = raw
	}
	return json.Marshal(jv)
}

func (v *Value) UnmarshalJSON(b []byte) error {
	var jv jsonValue
	if err := json.Unmarshal(b, &jv); err != nil {
		return err
	}
	if jv.Null {
		*v = NullValue(jv.Type, jv.Array)
		return nil
	}
	data, err := jsonDecoders[jv.Type](jv.Value, jv.Array)
	if err != nil {
		return fmt.Errorf("cim: %s value: %w", jv.Type, err)
	}
	*v = Value{typ: jv.Type, array: jv.Array, data: data}
	return nil
}

func decodeJSON[T any](raw json.RawMessage, array bool) (any, error) {
	if array {
		var vs []T
		err := json.Unmarshal(raw, &vs)
		return vs, err
	}
	var v T
	err := json.Unmarshal(raw, &v)
	return v, err
}

var jsonDecoders = [...]func(json.RawMessage, bool) (any, error){
	TypeBoolean:   decodeJSON[bool],
	TypeUint8:     decodeJSON[uint8],
	TypeSint8:     decodeJSON[int8],
	TypeUint16:    decodeJSON[uint16],
	TypeSint16:    decodeJSON[int16],
	TypeUint32:    decodeJSON[uint32],
	TypeSint32:    decodeJSON[int32],
	TypeUint64:    decodeJSON[uint64],
	TypeSint64:    decodeJSON[int64],
	TypeReal32:    decodeJSON[float32],
	TypeReal64:    decodeJSON[float64],
	TypeChar16:    decodeJSON[Char16],
	TypeString:    decodeJSON[string],
	TypeDateTime:  decodeJSON[DateTime],
	TypeReference: decodeJSON[ObjectPath],
	TypeObject:    decodeJSON[Object],
	TypeInstance:  decodeJSON[Instance],
}
