package cim

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morezero/cim-broker/pkg/wire"
)

func sampleInstance() *Instance {
	embedded := Instance{
		Path:       NewInstancePath("root/cimv2", "Embedded"),
		Properties: []Property{{Name: "Note", Value: MustValue("inner")}},
	}
	class := &Class{
		Path:           ObjectPath{ClassName: "TestClass"},
		SuperClassName: "CIM_ManagedElement",
		Qualifiers:     []Qualifier{{Name: "Description", Value: MustValue("a class"), Flavor: FlavorToSubclass | FlavorTranslatable}},
		Properties:     []Property{{Name: "Id", Value: NullValue(TypeUint32, false), ClassOrigin: "TestClass"}},
		Methods: []Method{{
			Name: "Reset",
			Type: TypeUint32,
			Parameters: []Parameter{
				{Name: "Force", Type: TypeBoolean},
				{Name: "Targets", Type: TypeReference, IsArray: true, ReferenceClassName: "TestClass"},
			},
		}},
	}
	return &Instance{
		Path: NewInstancePath("root/cimv2", "TestClass", KeyBinding{Name: "Id", Value: "1", Type: KeyNumeric}),
		Qualifiers: []Qualifier{
			{Name: "Key", Value: MustValue(true), Propagated: true},
		},
		Properties: []Property{
			{Name: "Id", Value: MustValue(uint32(1))},
			{Name: "Flag", Value: MustValue(false)},
			{Name: "Small", Value: MustValue(int8(-3))},
			{Name: "Octets", Value: MustValue([]uint8{1, 2, 255})},
			{Name: "Short", Value: MustValue(int16(-300))},
			{Name: "Codes", Value: MustValue([]uint16{2, 10})},
			{Name: "Delta", Value: MustValue(int32(-70000))},
			{Name: "Big", Value: MustValue(uint64(1) << 63)},
			{Name: "Neg", Value: MustValue([]int64{-1, 0, 1})},
			{Name: "Ratio", Value: MustValue(float32(0.25))},
			{Name: "Weights", Value: MustValue([]float64{1.5, -2})},
			{Name: "Initial", Value: MustValue(Char16('Z'))},
			{Name: "Names", Value: MustValue([]string{"a", "", "c"})},
			{Name: "When", Value: MustValue(DateTime("20240101120000.000000+000"))},
			{Name: "Parent", Value: MustValue(NewInstancePath("root/cimv2", "TestClass", KeyBinding{Name: "Id", Value: "0", Type: KeyNumeric})), ReferenceClassName: "TestClass"},
			{Name: "Embedded", Value: MustValue(embedded)},
			{Name: "Objects", Value: MustValue([]Object{{Class: class}, {Instance: &embedded}})},
			{Name: "Empty", Value: MustValue([]string{})},
			{Name: "Missing", Value: NullValue(TypeString, true), ArraySize: 4},
		},
	}
}

func TestInstance_WireRoundTrip(t *testing.T) {
	in := sampleInstance()
	w := wire.NewWriter(0)
	PutInstance(w, in)

	r := wire.NewReader(w.Bytes())
	out, ok := GetInstance(r)
	require.True(t, ok)
	require.Equal(t, 0, r.Remaining())
	assert.Equal(t, in, out)
}

func TestInstance_NilRoundTrip(t *testing.T) {
	w := wire.NewWriter(0)
	PutInstance(w, nil)
	out, ok := GetInstance(wire.NewReader(w.Bytes()))
	require.True(t, ok)
	assert.Nil(t, out)
}

func TestInstance_TruncationFails(t *testing.T) {
	w := wire.NewWriter(0)
	PutInstance(w, sampleInstance())
	full := w.Bytes()
	for n := 0; n < len(full); n++ {
		_, ok := GetInstance(wire.NewReader(full[:n]))
		require.False(t, ok, "prefix %d of %d decoded", n, len(full))
	}
}

func TestGetValue_RejectsUnknownType(t *testing.T) {
	w := wire.NewWriter(0)
	w.PutUint8(0)
	w.PutUint32(uint32(TypeInstance) + 1)
	r := wire.NewReader(w.Bytes())
	_, ok := GetValue(r)
	assert.False(t, ok)
	assert.True(t, r.Failed())
}

func TestGetValue_RejectsUnknownFlags(t *testing.T) {
	w := wire.NewWriter(0)
	w.PutUint8(0x80)
	w.PutUint32(uint32(TypeString))
	_, ok := GetValue(wire.NewReader(w.Bytes()))
	assert.False(t, ok)
}

func TestGetObject_RejectsUnknownTag(t *testing.T) {
	_, ok := GetObject(wire.NewReader([]byte{'X', 0}))
	assert.False(t, ok)
}

func TestPropertyList_NullAndEmptyDiffer(t *testing.T) {
	for _, in := range []PropertyList{{}, Properties(), Properties("Name", "OperationalStatus")} {
		w := wire.NewWriter(0)
		PutPropertyList(w, in)
		out, ok := GetPropertyList(wire.NewReader(w.Bytes()))
		require.True(t, ok)
		assert.Equal(t, in.Specified, out.Specified)
		assert.Equal(t, len(in.Names), len(out.Names))
	}
	assert.True(t, PropertyList{}.Contains("Anything"))
	assert.False(t, Properties().Contains("Anything"))
	assert.True(t, Properties("name").Contains("Name"))
}

func TestError_WireRoundTrip(t *testing.T) {
	in := Error{
		Code:             StatusNotSupported,
		Message:          "provider blocked.",
		CIMMessage:       "ProviderManager.ProviderManagerService.PROVIDER_BLOCKED",
		SourceFile:       "dispatcher.go",
		SourceLine:       88,
		ContentLanguages: ContentLanguageList{"en-US"},
	}
	w := wire.NewWriter(0)
	PutError(w, in)
	out, ok := GetError(wire.NewReader(w.Bytes()))
	require.True(t, ok)
	assert.Equal(t, in, out)
}

func TestAcceptLanguages_WireRoundTrip(t *testing.T) {
	in := AcceptLanguageList{{Tag: "en", Quality: 1}, {Tag: "fr-CA", Quality: 0.5}}
	w := wire.NewWriter(0)
	PutAcceptLanguages(w, in)
	out, ok := GetAcceptLanguages(wire.NewReader(w.Bytes()))
	require.True(t, ok)
	assert.Equal(t, in, out)
	assert.Equal(t, "en, fr-CA;q=0.5", out.String())
}

func TestInstance_JSONRoundTrip(t *testing.T) {
	in := sampleInstance()
	b, err := json.Marshal(in)
	require.NoError(t, err)

	var out Instance
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, in, &out)
}

func TestValue_JSONUsesTypeNames(t *testing.T) {
	b, err := json.Marshal(MustValue([]uint16{2}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"uint16","array":true,"value":[2]}`, string(b))
}

func TestNewValue_RejectsUnsupported(t *testing.T) {
	_, err := NewValue(struct{}{})
	assert.Error(t, err)
	_, err = NewValue(3) // plain int has no CIM type
	assert.Error(t, err)
}
