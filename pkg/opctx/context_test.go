package opctx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/morezero/cim-broker/pkg/cim"
	"github.com/morezero/cim-broker/pkg/wire"
)

func encode(c Context) []byte {
	w := wire.NewWriter(0)
	Put(w, c)
	return w.Bytes()
}

func drawContainer(t *rapid.T, slot int) Container {
	str := func(label string) string { return rapid.String().Draw(t, label) }
	switch slots[slot].name {
	case NameIdentity:
		return &Identity{UserName: str("user")}
	case NameSubscriptionInstance:
		inst := cim.NewInstance("CIM_IndicationSubscription")
		inst.SetProperty("Handler", cim.MustValue(str("handler")))
		return &SubscriptionInstance{Instance: inst}
	case NameSubscriptionFilterCondition:
		return &SubscriptionFilterCondition{FilterCondition: str("cond"), QueryLanguage: "WQL"}
	case NameSubscriptionFilterQuery:
		return &SubscriptionFilterQuery{FilterQuery: str("query"), QueryLanguage: "CIM:CQL", SourceNamespace: "root/cimv2"}
	case NameSubscriptionInstanceNames:
		n := rapid.IntRange(0, 3).Draw(t, "names")
		var names []cim.ObjectPath
		for i := 0; i < n; i++ {
			names = append(names, cim.NewInstancePath("root/interop", "CIM_IndicationSubscription",
				cim.KeyBinding{Name: "Id", Value: str("id"), Type: cim.KeyString}))
		}
		return &SubscriptionInstanceNames{Names: names}
	case NameTimeout:
		return &Timeout{Milliseconds: rapid.Uint32().Draw(t, "ms")}
	case NameAcceptLanguageList:
		return &AcceptLanguageList{Languages: cim.AcceptLanguageList{{Tag: str("tag"), Quality: 0.8}}}
	case NameContentLanguageList:
		return &ContentLanguageList{Languages: rapid.SliceOf(rapid.StringMatching(`[a-z]{2}`)).Draw(t, "langs")}
	case NameSnmpTrapOid:
		return &SnmpTrapOid{Oid: "1.3.6.1.4.1"}
	case NameLocale:
		return &Locale{LanguageID: str("locale")}
	case NameProviderID:
		return &ProviderID{
			Module:            cim.ProviderModule{Name: str("module"), OperationalStatus: []uint16{cim.ModuleOK}}.Instance(),
			Provider:          cim.Provider{Name: "P", ProviderModuleName: "M"}.Instance(),
			IsRemoteNameSpace: rapid.Bool().Draw(t, "remote"),
			RemoteInfo:        str("remote info"),
			ProvMgrPath:       "cmpi",
		}
	case NameCachedClassDefinition:
		return &CachedClassDefinition{Class: &cim.Class{Path: cim.ObjectPath{ClassName: str("class")}}}
	case NameUserRole:
		return &UserRole{Role: str("role")}
	}
	t.Fatalf("opctx:context_test - no generator for slot %d", slot)
	return nil
}

func TestContext_RoundTripEveryCombination(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		mask := rapid.IntRange(0, 1<<len(slots)-1).Draw(t, "mask")
		var in Context
		for i := range slots {
			if mask&(1<<i) != 0 {
				in.Insert(drawContainer(t, i))
			}
		}
		b := encode(in)

		r := wire.NewReader(b)
		out, ok := Read(r)
		require.True(t, ok)
		require.Equal(t, 0, r.Remaining())
		require.Equal(t, in.Names(), out.Names())
		require.Equal(t, b, encode(out))

		for n := 0; n < len(b); n++ {
			_, ok := Read(wire.NewReader(b[:n]))
			require.False(t, ok, "prefix %d decoded", n)
		}
	})
}

func TestContext_InsertReplaces(t *testing.T) {
	var c Context
	c.Insert(&Identity{UserName: "alice"})
	c.Insert(&Identity{UserName: "bob"})

	assert.Equal(t, 1, c.Len())
	id, ok := Get[*Identity](c)
	require.True(t, ok)
	assert.Equal(t, "bob", id.UserName)
	assert.Equal(t, "bob", UserName(c))
}

func TestContext_GetMissing(t *testing.T) {
	var c Context
	_, ok := Get[*ProviderID](c)
	assert.False(t, ok)
	assert.Nil(t, AcceptLanguages(c))
	assert.Equal(t, "", UserName(c))
}

func TestContext_NamesInSlotOrder(t *testing.T) {
	c := New(&UserRole{Role: "admin"}, &Timeout{Milliseconds: 5}, &Identity{UserName: "u"})
	assert.Equal(t, []string{NameIdentity, NameTimeout, NameUserRole}, c.Names())
}

func TestContext_CloneIsIndependent(t *testing.T) {
	c := New(&Identity{UserName: "u"})
	clone := c.Clone()
	clone.Remove(NameIdentity)
	assert.True(t, c.Contains(NameIdentity))
	assert.False(t, clone.Contains(NameIdentity))
}

func TestRead_EmptyContext(t *testing.T) {
	b := encode(Context{})
	assert.Len(t, b, len(slots))
	out, ok := Read(wire.NewReader(b))
	require.True(t, ok)
	assert.Equal(t, 0, out.Len())
}
