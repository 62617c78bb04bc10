package opctx

import (
	"github.com/morezero/cim-broker/pkg/cim"
	"github.com/morezero/cim-broker/pkg/wire"
)

const (
	NameIdentity                    = "IdentityContainer"
	NameSubscriptionInstance        = "SubscriptionInstanceContainer"
	NameSubscriptionFilterCondition = "SubscriptionFilterConditionContainer"
	NameSubscriptionFilterQuery     = "SubscriptionFilterQueryContainer"
	NameSubscriptionInstanceNames   = "SubscriptionInstanceNamesContainer"
	NameTimeout                     = "TimeoutContainer"
	NameAcceptLanguageList          = "AcceptLanguageListContainer"
	NameContentLanguageList         = "ContentLanguageListContainer"
	NameSnmpTrapOid                 = "SnmpTrapOidContainer"
	NameLocale                      = "LocaleContainer"
	NameProviderID                  = "ProviderIdContainer"
	NameCachedClassDefinition       = "CachedClassDefinitionContainer"
	NameUserRole                    = "UserRoleContainer"
)

type slot struct {
	name   string
	create func() Container
}

// slots is the wire order of the containers.
var slots = []slot{
	{NameIdentity, func() Container { return &Identity{} }},
	{NameSubscriptionInstance, func() Container { return &SubscriptionInstance{} }},
	{NameSubscriptionFilterCondition, func() Container { return &SubscriptionFilterCondition{} }},
	{NameSubscriptionFilterQuery, func() Container { return &SubscriptionFilterQuery{} }},
	{NameSubscriptionInstanceNames, func() Container { return &SubscriptionInstanceNames{} }},
	{NameTimeout, func() Container { return &Timeout{} }},
	{NameAcceptLanguageList, func() Container { return &AcceptLanguageList{} }},
	{NameContentLanguageList, func() Container { return &ContentLanguageList{} }},
	{NameSnmpTrapOid, func() Container { return &SnmpTrapOid{} }},
	{NameLocale, func() Container { return &Locale{} }},
	{NameProviderID, func() Container { return &ProviderID{} }},
	{NameCachedClassDefinition, func() Container { return &CachedClassDefinition{} }},
	{NameUserRole, func() Container { return &UserRole{} }},
}

var slotIndex = func() map[string]int {
	m := make(map[string]int, len(slots))
	for i, s := range slots {
		m[s.name] = i
	}
	return m
}()

// Identity names the authenticated user the request runs for.
type Identity struct {
	UserName string
}

func (*Identity) Name() string { return NameIdentity }

func (c *Identity) layout() []wire.Field { return []wire.Field{wire.String(&c.UserName)} }

// SubscriptionInstance carries the subscription an indication request acts on.
type SubscriptionInstance struct {
	Instance *cim.Instance
}

func (*SubscriptionInstance) Name() string { return NameSubscriptionInstance }

func (c *SubscriptionInstance) layout() []wire.Field {
	return []wire.Field{cim.InstanceField(&c.Instance)}
}

type SubscriptionFilterCondition struct {
	FilterCondition string
	QueryLanguage   string
}

func (*SubscriptionFilterCondition) Name() string { return NameSubscriptionFilterCondition }

func (c *SubscriptionFilterCondition) layout() []wire.Field {
	return []wire.Field{wire.String(&c.FilterCondition), wire.String(&c.QueryLanguage)}
}

type SubscriptionFilterQuery struct {
	FilterQuery     string
	QueryLanguage   string
	SourceNamespace string
}

func (*SubscriptionFilterQuery) Name() string { return NameSubscriptionFilterQuery }

func (c *SubscriptionFilterQuery) layout() []wire.Field {
	return []wire.Field{wire.String(&c.FilterQuery), wire.String(&c.QueryLanguage), wire.String(&c.SourceNamespace)}
}

type SubscriptionInstanceNames struct {
	Names []cim.ObjectPath
}

func (*SubscriptionInstanceNames) Name() string { return NameSubscriptionInstanceNames }

func (c *SubscriptionInstanceNames) layout() []wire.Field {
	return []wire.Field{cim.PathsField(&c.Names)}
}

// Timeout is advisory for providers. Nothing in the server cancels a call
// when it elapses.
type Timeout struct {
	Milliseconds uint32
}

func (*Timeout) Name() string { return NameTimeout }

func (c *Timeout) layout() []wire.Field { return []wire.Field{wire.Uint32(&c.Milliseconds)} }

type AcceptLanguageList struct {
	Languages cim.AcceptLanguageList
}

func (*AcceptLanguageList) Name() string { return NameAcceptLanguageList }

func (c *AcceptLanguageList) layout() []wire.Field {
	return []wire.Field{cim.AcceptLanguagesField(&c.Languages)}
}

type ContentLanguageList struct {
	Languages cim.ContentLanguageList
}

func (*ContentLanguageList) Name() string { return NameContentLanguageList }

func (c *ContentLanguageList) layout() []wire.Field {
	return []wire.Field{cim.ContentLanguagesField(&c.Languages)}
}

type SnmpTrapOid struct {
	Oid string
}

func (*SnmpTrapOid) Name() string { return NameSnmpTrapOid }

func (c *SnmpTrapOid) layout() []wire.Field { return []wire.Field{wire.String(&c.Oid)} }

type Locale struct {
	LanguageID string
}

func (*Locale) Name() string { return NameLocale }

func (c *Locale) layout() []wire.Field { return []wire.Field{wire.String(&c.LanguageID)} }

// ProviderID identifies the provider module and provider a request was
// resolved to, and the provider manager that hosts them.
type ProviderID struct {
	Module            *cim.Instance
	Provider          *cim.Instance
	IsRemoteNameSpace bool
	RemoteInfo        string
	ProvMgrPath       string
}

func (*ProviderID) Name() string { return NameProviderID }

func (c *ProviderID) layout() []wire.Field {
	return []wire.Field{
		cim.InstanceField(&c.Module),
		cim.InstanceField(&c.Provider),
		wire.Bool(&c.IsRemoteNameSpace),
		wire.String(&c.RemoteInfo),
		wire.String(&c.ProvMgrPath),
	}
}

type CachedClassDefinition struct {
	Class *cim.Class
}

func (*CachedClassDefinition) Name() string { return NameCachedClassDefinition }

func (c *CachedClassDefinition) layout() []wire.Field {
	return []wire.Field{cim.ClassField(&c.Class)}
}

type UserRole struct {
	Role string
}

func (*UserRole) Name() string { return NameUserRole }

func (c *UserRole) layout() []wire.Field { return []wire.Field{wire.String(&c.Role)} }

// AcceptLanguages returns the requester's language preference, or nil.
func AcceptLanguages(c Context) cim.AcceptLanguageList {
	if al, ok := Get[*AcceptLanguageList](c); ok {
		return al.Languages
	}
	return nil
}

// UserName returns the identity's user name, or "".
func UserName(c Context) string {
	if id, ok := Get[*Identity](c); ok {
		return id.UserName
	}
	return ""
}
