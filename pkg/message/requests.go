package message

import (
	"github.com/morezero/cim-broker/pkg/cim"
	"github.com/morezero/cim-broker/pkg/wire"
)

type GetInstanceRequest struct {
	OperationRequest
	InstanceName       cim.ObjectPath
	IncludeQualifiers  bool
	IncludeClassOrigin bool
	PropertyList       cim.PropertyList
}

func (*GetInstanceRequest) MessageType() Type { return TypeGetInstanceRequest }

func (b *GetInstanceRequest) fields(*layout) []wire.Field {
	return append(b.header(),
		cim.PathField(&b.InstanceName),
		wire.Bool(&b.IncludeQualifiers),
		wire.Bool(&b.IncludeClassOrigin),
		cim.PropertyListField(&b.PropertyList))
}

type DeleteInstanceRequest struct {
	OperationRequest
	InstanceName cim.ObjectPath
}

func (*DeleteInstanceRequest) MessageType() Type { return TypeDeleteInstanceRequest }

func (b *DeleteInstanceRequest) fields(*layout) []wire.Field {
	return append(b.header(), cim.PathField(&b.InstanceName))
}

type CreateInstanceRequest struct {
	OperationRequest
	NewInstance *cim.Instance
}

func (*CreateInstanceRequest) MessageType() Type { return TypeCreateInstanceRequest }

func (b *CreateInstanceRequest) fields(*layout) []wire.Field {
	return append(b.header(), cim.InstanceField(&b.NewInstance))
}

type ModifyInstanceRequest struct {
	OperationRequest
	ModifiedInstance  *cim.Instance
	IncludeQualifiers bool
	PropertyList      cim.PropertyList
}

func (*ModifyInstanceRequest) MessageType() Type { return TypeModifyInstanceRequest }

func (b *ModifyInstanceRequest) fields(*layout) []wire.Field {
	return append(b.header(),
		cim.InstanceField(&b.ModifiedInstance),
		wire.Bool(&b.IncludeQualifiers),
		cim.PropertyListField(&b.PropertyList))
}

type EnumerateInstancesRequest struct {
	OperationRequest
	DeepInheritance    bool
	IncludeQualifiers  bool
	IncludeClassOrigin bool
	PropertyList       cim.PropertyList
}

func (*EnumerateInstancesRequest) MessageType() Type { return TypeEnumerateInstancesRequest }

func (b *EnumerateInstancesRequest) fields(*layout) []wire.Field {
	return append(b.header(),
		wire.Bool(&b.DeepInheritance),
		wire.Bool(&b.IncludeQualifiers),
		wire.Bool(&b.IncludeClassOrigin),
		cim.PropertyListField(&b.PropertyList))
}

// EnumerateInstanceNamesRequest targets the class named in its header.
type EnumerateInstanceNamesRequest struct {
	OperationRequest
}

func (*EnumerateInstanceNamesRequest) MessageType() Type { return TypeEnumerateInstanceNamesRequest }

func (b *EnumerateInstanceNamesRequest) fields(*layout) []wire.Field { return b.header() }

type ExecQueryRequest struct {
	OperationRequest
	QueryLanguage string
	Query         string
}

func (*ExecQueryRequest) MessageType() Type { return TypeExecQueryRequest }

func (b *ExecQueryRequest) fields(*layout) []wire.Field {
	return append(b.header(), wire.String(&b.QueryLanguage), wire.String(&b.Query))
}

type AssociatorsRequest struct {
	OperationRequest
	ObjectName         cim.ObjectPath
	AssocClass         string
	ResultClass        string
	Role               string
	ResultRole         string
	IncludeQualifiers  bool
	IncludeClassOrigin bool
	PropertyList       cim.PropertyList
}

func (*AssociatorsRequest) MessageType() Type { return TypeAssociatorsRequest }

func (b *AssociatorsRequest) fields(*layout) []wire.Field {
	return append(b.header(),
		cim.PathField(&b.ObjectName),
		wire.String(&b.AssocClass),
		wire.String(&b.ResultClass),
		wire.String(&b.Role),
		wire.String(&b.ResultRole),
		wire.Bool(&b.IncludeQualifiers),
		wire.Bool(&b.IncludeClassOrigin),
		cim.PropertyListField(&b.PropertyList))
}

type AssociatorNamesRequest struct {
	OperationRequest
	ObjectName  cim.ObjectPath
	AssocClass  string
	ResultClass string
	Role        string
	ResultRole  string
}

func (*AssociatorNamesRequest) MessageType() Type { return TypeAssociatorNamesRequest }

func (b *AssociatorNamesRequest) fields(*layout) []wire.Field {
	return append(b.header(),
		cim.PathField(&b.ObjectName),
		wire.String(&b.AssocClass),
		wire.String(&b.ResultClass),
		wire.String(&b.Role),
		wire.String(&b.ResultRole))
}

type ReferencesRequest struct {
	OperationRequest
	ObjectName         cim.ObjectPath
	ResultClass        string
	Role               string
	IncludeQualifiers  bool
	IncludeClassOrigin bool
	PropertyList       cim.PropertyList
}

func (*ReferencesRequest) MessageType() Type { return TypeReferencesRequest }

func (b *ReferencesRequest) fields(*layout) []wire.Field {
	return append(b.header(),
		cim.PathField(&b.ObjectName),
		wire.String(&b.ResultClass),
		wire.String(&b.Role),
		wire.Bool(&b.IncludeQualifiers),
		wire.Bool(&b.IncludeClassOrigin),
		cim.PropertyListField(&b.PropertyList))
}

type ReferenceNamesRequest struct {
	OperationRequest
	ObjectName  cim.ObjectPath
	ResultClass string
	Role        string
}

func (*ReferenceNamesRequest) MessageType() Type { return TypeReferenceNamesRequest }

func (b *ReferenceNamesRequest) fields(*layout) []wire.Field {
	return append(b.header(),
		cim.PathField(&b.ObjectName),
		wire.String(&b.ResultClass),
		wire.String(&b.Role))
}

type GetPropertyRequest struct {
	OperationRequest
	InstanceName cim.ObjectPath
	PropertyName string
}

func (*GetPropertyRequest) MessageType() Type { return TypeGetPropertyRequest }

func (b *GetPropertyRequest) fields(*layout) []wire.Field {
	return append(b.header(), cim.PathField(&b.InstanceName), wire.String(&b.PropertyName))
}

type SetPropertyRequest struct {
	OperationRequest
	InstanceName cim.ObjectPath
	PropertyName string
	NewValue     cim.Value
}

func (*SetPropertyRequest) MessageType() Type { return TypeSetPropertyRequest }

func (b *SetPropertyRequest) fields(*layout) []wire.Field {
	return append(b.header(),
		cim.PathField(&b.InstanceName),
		wire.String(&b.PropertyName),
		cim.ValueField(&b.NewValue))
}

type InvokeMethodRequest struct {
	OperationRequest
	InstanceName cim.ObjectPath
	MethodName   string
	InParameters []cim.ParamValue
}

func (*InvokeMethodRequest) MessageType() Type { return TypeInvokeMethodRequest }

func (b *InvokeMethodRequest) fields(*layout) []wire.Field {
	return append(b.header(),
		cim.PathField(&b.InstanceName),
		wire.String(&b.MethodName),
		cim.ParamValuesField(&b.InParameters))
}

// CreateSubscriptionRequest asks an indication provider to start serving a subscription.
type CreateSubscriptionRequest struct {
	IndicationRequest
	NameSpace                string
	SubscriptionInstance     *cim.Instance
	ClassNames               []string
	PropertyList             cim.PropertyList
	RepeatNotificationPolicy uint16
	Query                    string
}

func (*CreateSubscriptionRequest) MessageType() Type { return TypeCreateSubscriptionRequest }

func (b *CreateSubscriptionRequest) fields(*layout) []wire.Field {
	return append(b.header(), subscriptionFields(&b.NameSpace, &b.SubscriptionInstance, &b.ClassNames,
		&b.PropertyList, &b.RepeatNotificationPolicy, &b.Query)...)
}

type ModifySubscriptionRequest struct {
	IndicationRequest
	NameSpace                string
	SubscriptionInstance     *cim.Instance
	ClassNames               []string
	PropertyList             cim.PropertyList
	RepeatNotificationPolicy uint16
	Query                    string
}

func (*ModifySubscriptionRequest) MessageType() Type { return TypeModifySubscriptionRequest }

func (b *ModifySubscriptionRequest) fields(*layout) []wire.Field {
	return append(b.header(), subscriptionFields(&b.NameSpace, &b.SubscriptionInstance, &b.ClassNames,
		&b.PropertyList, &b.RepeatNotificationPolicy, &b.Query)...)
}

func subscriptionFields(ns *string, sub **cim.Instance, classes *[]string, pl *cim.PropertyList, policy *uint16, query *string) []wire.Field {
	return []wire.Field{
		wire.String(ns),
		cim.InstanceField(sub),
		wire.Strings(classes),
		cim.PropertyListField(pl),
		wire.Uint16(policy),
		wire.String(query),
	}
}

type DeleteSubscriptionRequest struct {
	IndicationRequest
	NameSpace            string
	SubscriptionInstance *cim.Instance
	ClassNames           []string
}

func (*DeleteSubscriptionRequest) MessageType() Type { return TypeDeleteSubscriptionRequest }

func (b *DeleteSubscriptionRequest) fields(*layout) []wire.Field {
	return append(b.header(),
		wire.String(&b.NameSpace),
		cim.InstanceField(&b.SubscriptionInstance),
		wire.Strings(&b.ClassNames))
}

// ExportIndicationRequest delivers an indication to a registered consumer.
type ExportIndicationRequest struct {
	AuthType           string
	UserName           string
	DestinationPath    string
	IndicationInstance *cim.Instance
}

func (*ExportIndicationRequest) MessageType() Type { return TypeExportIndicationRequest }

func (b *ExportIndicationRequest) fields(*layout) []wire.Field {
	return []wire.Field{
		wire.String(&b.AuthType),
		wire.String(&b.UserName),
		wire.String(&b.DestinationPath),
		cim.InstanceField(&b.IndicationInstance),
	}
}

// ProcessIndicationRequest carries an indication generated by a provider to
// the indication service.
type ProcessIndicationRequest struct {
	NameSpace                 string
	IndicationInstance        *cim.Instance
	SubscriptionInstanceNames []cim.ObjectPath
	Provider                  *cim.Instance
	TimeoutMilliSec           uint32
}

func (*ProcessIndicationRequest) MessageType() Type { return TypeProcessIndicationRequest }

func (b *ProcessIndicationRequest) fields(*layout) []wire.Field {
	return []wire.Field{
		wire.String(&b.NameSpace),
		cim.InstanceField(&b.IndicationInstance),
		cim.PathsField(&b.SubscriptionInstanceNames),
		cim.InstanceField(&b.Provider),
		wire.Uint32(&b.TimeoutMilliSec),
	}
}

type DisableModuleRequest struct {
	AuthType            string
	UserName            string
	ProviderModule      *cim.Instance
	Providers           []*cim.Instance
	DisableProviderOnly bool
	IndicationProviders []bool
}

func (*DisableModuleRequest) MessageType() Type { return TypeDisableModuleRequest }

func (b *DisableModuleRequest) fields(*layout) []wire.Field {
	return []wire.Field{
		wire.String(&b.AuthType),
		wire.String(&b.UserName),
		cim.InstanceField(&b.ProviderModule),
		cim.InstancesField(&b.Providers),
		wire.Bool(&b.DisableProviderOnly),
		wire.Bools(&b.IndicationProviders),
	}
}

type EnableModuleRequest struct {
	AuthType       string
	UserName       string
	ProviderModule *cim.Instance
}

func (*EnableModuleRequest) MessageType() Type { return TypeEnableModuleRequest }

func (b *EnableModuleRequest) fields(*layout) []wire.Field {
	return []wire.Field{wire.String(&b.AuthType), wire.String(&b.UserName), cim.InstanceField(&b.ProviderModule)}
}

type StopAllProvidersRequest struct {
	ShutdownTimeout uint32
}

func (*StopAllProvidersRequest) MessageType() Type { return TypeStopAllProvidersRequest }

func (b *StopAllProvidersRequest) fields(*layout) []wire.Field {
	return []wire.Field{wire.Uint32(&b.ShutdownTimeout)}
}

// NotifyProviderFailRequest tells the indication service that a provider
// module failed. The response counts the subscriptions it affected.
type NotifyProviderFailRequest struct {
	ModuleName string
	UserName   string
}

func (*NotifyProviderFailRequest) MessageType() Type { return TypeNotifyProviderFailRequest }

func (b *NotifyProviderFailRequest) fields(*layout) []wire.Field {
	return []wire.Field{wire.String(&b.ModuleName), wire.String(&b.UserName)}
}

// ConfigProperty is one name/value pair handed to a provider agent.
type ConfigProperty struct {
	Name  string
	Value string
}

func putConfigProperty(w *wire.Writer, p ConfigProperty) {
	w.PutString(p.Name)
	w.PutString(p.Value)
}

func getConfigProperty(r *wire.Reader) (ConfigProperty, bool) {
	var p ConfigProperty
	ok := wire.GetFields(r, []wire.Field{wire.String(&p.Name), wire.String(&p.Value)})
	return p, ok
}

type InitializeProviderAgentRequest struct {
	Home                     string
	ConfigProperties         []ConfigProperty
	BindVerbose              bool
	SubscriptionInitComplete bool
}

func (*InitializeProviderAgentRequest) MessageType() Type { return TypeInitializeProviderAgentRequest }

func (b *InitializeProviderAgentRequest) fields(*layout) []wire.Field {
	return []wire.Field{
		wire.String(&b.Home),
		wire.SliceOf(&b.ConfigProperties, putConfigProperty, getConfigProperty),
		wire.Bool(&b.BindVerbose),
		wire.Bool(&b.SubscriptionInitComplete),
	}
}

type NotifyConfigChangeRequest struct {
	PropertyName         string
	NewPropertyValue     string
	CurrentValueModified bool
}

func (*NotifyConfigChangeRequest) MessageType() Type { return TypeNotifyConfigChangeRequest }

func (b *NotifyConfigChangeRequest) fields(*layout) []wire.Field {
	return []wire.Field{
		wire.String(&b.PropertyName),
		wire.String(&b.NewPropertyValue),
		wire.Bool(&b.CurrentValueModified),
	}
}

type SubscriptionInitCompleteRequest struct{}

func (*SubscriptionInitCompleteRequest) MessageType() Type {
	return TypeSubscriptionInitCompleteRequest
}

func (*SubscriptionInitCompleteRequest) fields(*layout) []wire.Field { return nil }

type IndicationServiceDisabledRequest struct{}

func (*IndicationServiceDisabledRequest) MessageType() Type {
	return TypeIndicationServiceDisabledRequest
}

func (*IndicationServiceDisabledRequest) fields(*layout) []wire.Field { return nil }
