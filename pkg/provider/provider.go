// Package provider defines the capabilities a provider implements and the
// in-process provider manager that turns request messages into provider calls.
package provider

import (
	"context"

	"github.com/morezero/cim-broker/pkg/cim"
	"github.com/morezero/cim-broker/pkg/opctx"
)

// CallContext is passed to every provider call. Localized text produced by a
// provider should follow AcceptLanguages.
type CallContext struct {
	UserName         string
	AcceptLanguages  cim.AcceptLanguageList
	OperationContext opctx.Context
}

type InstanceProvider interface {
	GetInstance(ctx context.Context, cc CallContext, path cim.ObjectPath, pl cim.PropertyList) (*cim.Instance, error)
	EnumerateInstances(ctx context.Context, cc CallContext, class cim.ObjectPath, pl cim.PropertyList) ([]*cim.Instance, error)
	EnumerateInstanceNames(ctx context.Context, cc CallContext, class cim.ObjectPath) ([]cim.ObjectPath, error)
	CreateInstance(ctx context.Context, cc CallContext, inst *cim.Instance) (cim.ObjectPath, error)
	ModifyInstance(ctx context.Context, cc CallContext, inst *cim.Instance, pl cim.PropertyList) error
	DeleteInstance(ctx context.Context, cc CallContext, path cim.ObjectPath) error
}

type MethodProvider interface {
	InvokeMethod(ctx context.Context, cc CallContext, path cim.ObjectPath, method string, in []cim.ParamValue) (cim.Value, []cim.ParamValue, error)
}

// AssocFilter narrows an association traversal. Empty strings match anything.
type AssocFilter struct {
	AssocClass   string
	ResultClass  string
	Role         string
	ResultRole   string
	PropertyList cim.PropertyList
}

type AssociationProvider interface {
	Associators(ctx context.Context, cc CallContext, object cim.ObjectPath, f AssocFilter) ([]cim.Object, error)
	AssociatorNames(ctx context.Context, cc CallContext, object cim.ObjectPath, f AssocFilter) ([]cim.ObjectPath, error)
	References(ctx context.Context, cc CallContext, object cim.ObjectPath, f AssocFilter) ([]cim.Object, error)
	ReferenceNames(ctx context.Context, cc CallContext, object cim.ObjectPath, f AssocFilter) ([]cim.ObjectPath, error)
}

type QueryProvider interface {
	ExecQuery(ctx context.Context, cc CallContext, namespace, language, query string) ([]cim.Object, error)
}

// Subscription is what an indication provider is told about a subscription.
type Subscription struct {
	NameSpace                string
	Instance                 *cim.Instance
	ClassNames               []string
	PropertyList             cim.PropertyList
	RepeatNotificationPolicy uint16
	Query                    string
}

// IndicationSink receives indications generated by a provider.
type IndicationSink interface {
	Deliver(namespace string, indication *cim.Instance)
}

type IndicationProvider interface {
	EnableIndications(sink IndicationSink) error
	DisableIndications() error
	CreateSubscription(ctx context.Context, cc CallContext, sub Subscription) error
	ModifySubscription(ctx context.Context, cc CallContext, sub Subscription) error
	DeleteSubscription(ctx context.Context, cc CallContext, sub Subscription) error
}

type IndicationConsumer interface {
	ConsumeIndication(ctx context.Context, cc CallContext, destination string, indication *cim.Instance) error
}

// Initializer is called once before a provider's first request.
type Initializer interface {
	Initialize(ctx context.Context) error
}

// Terminator is called when a provider is unloaded.
type Terminator interface {
	Terminate(ctx context.Context) error
}

// implementsAny reports whether p offers at least one request capability.
func implementsAny(p any) bool {
	switch p.(type) {
	case InstanceProvider, MethodProvider, AssociationProvider, QueryProvider, IndicationProvider, IndicationConsumer:
		return true
	}
	return false
}
