package message

import (
	"github.com/morezero/cim-broker/pkg/cim"
	"github.com/morezero/cim-broker/pkg/responsedata"
	"github.com/morezero/cim-broker/pkg/wire"
)

// Ack is the body of every response that carries nothing beyond its status.
type Ack struct {
	typ Type
}

func (a *Ack) MessageType() Type { return a.typ }

func (*Ack) fields(*layout) []wire.Field { return nil }

// Collection is implemented by the responses whose result travels in a
// responsedata.Payload.
type Collection interface {
	Body
	Data() *responsedata.Payload
}

// dataResponse is embedded by every Collection response.
type dataResponse struct {
	Payload *responsedata.Payload
}

func (d *dataResponse) Data() *responsedata.Payload { return d.Payload }

type GetInstanceResponse struct{ dataResponse }

func (*GetInstanceResponse) MessageType() Type { return TypeGetInstanceResponse }

func (b *GetInstanceResponse) fields(l *layout) []wire.Field {
	return []wire.Field{l.payload(&b.Payload, responsedata.KindInstance, false)}
}

type EnumerateInstancesResponse struct{ dataResponse }

func (*EnumerateInstancesResponse) MessageType() Type { return TypeEnumerateInstancesResponse }

func (b *EnumerateInstancesResponse) fields(l *layout) []wire.Field {
	return []wire.Field{l.payload(&b.Payload, responsedata.KindInstances, false)}
}

// EnumerateInstanceNamesResponse is always encoded in binary.
type EnumerateInstanceNamesResponse struct{ dataResponse }

func (*EnumerateInstanceNamesResponse) MessageType() Type { return TypeEnumerateInstanceNamesResponse }

func (b *EnumerateInstanceNamesResponse) fields(l *layout) []wire.Field {
	return []wire.Field{l.payload(&b.Payload, responsedata.KindInstanceNames, true)}
}

type ExecQueryResponse struct{ dataResponse }

func (*ExecQueryResponse) MessageType() Type { return TypeExecQueryResponse }

func (b *ExecQueryResponse) fields(l *layout) []wire.Field {
	return []wire.Field{l.payload(&b.Payload, responsedata.KindObjects, false)}
}

type AssociatorsResponse struct{ dataResponse }

func (*AssociatorsResponse) MessageType() Type { return TypeAssociatorsResponse }

func (b *AssociatorsResponse) fields(l *layout) []wire.Field {
	return []wire.Field{l.payload(&b.Payload, responsedata.KindObjects, false)}
}

type AssociatorNamesResponse struct{ dataResponse }

func (*AssociatorNamesResponse) MessageType() Type { return TypeAssociatorNamesResponse }

func (b *AssociatorNamesResponse) fields(l *layout) []wire.Field {
	return []wire.Field{l.payload(&b.Payload, responsedata.KindObjectPaths, true)}
}

type ReferencesResponse struct{ dataResponse }

func (*ReferencesResponse) MessageType() Type { return TypeReferencesResponse }

func (b *ReferencesResponse) fields(l *layout) []wire.Field {
	return []wire.Field{l.payload(&b.Payload, responsedata.KindObjects, false)}
}

type ReferenceNamesResponse struct{ dataResponse }

func (*ReferenceNamesResponse) MessageType() Type { return TypeReferenceNamesResponse }

func (b *ReferenceNamesResponse) fields(l *layout) []wire.Field {
	return []wire.Field{l.payload(&b.Payload, responsedata.KindObjectPaths, true)}
}

type CreateInstanceResponse struct {
	InstanceName cim.ObjectPath
}

func (*CreateInstanceResponse) MessageType() Type { return TypeCreateInstanceResponse }

func (b *CreateInstanceResponse) fields(*layout) []wire.Field {
	return []wire.Field{cim.PathField(&b.InstanceName)}
}

type GetPropertyResponse struct {
	Value cim.Value
}

func (*GetPropertyResponse) MessageType() Type { return TypeGetPropertyResponse }

func (b *GetPropertyResponse) fields(*layout) []wire.Field {
	return []wire.Field{cim.ValueField(&b.Value)}
}

type InvokeMethodResponse struct {
	ReturnValue   cim.Value
	OutParameters []cim.ParamValue
	MethodName    string
}

func (*InvokeMethodResponse) MessageType() Type { return TypeInvokeMethodResponse }

func (b *InvokeMethodResponse) fields(*layout) []wire.Field {
	return []wire.Field{
		cim.ValueField(&b.ReturnValue),
		cim.ParamValuesField(&b.OutParameters),
		wire.String(&b.MethodName),
	}
}

// ModuleStatus is implemented by the Enable and Disable module responses.
type ModuleStatus interface {
	Body
	Status() []uint16
}

type DisableModuleResponse struct {
	OperationalStatus []uint16
}

func (*DisableModuleResponse) MessageType() Type { return TypeDisableModuleResponse }

func (b *DisableModuleResponse) Status() []uint16 { return b.OperationalStatus }

func (b *DisableModuleResponse) fields(*layout) []wire.Field {
	return []wire.Field{wire.Uint16s(&b.OperationalStatus)}
}

type EnableModuleResponse struct {
	OperationalStatus []uint16
}

func (*EnableModuleResponse) MessageType() Type { return TypeEnableModuleResponse }

func (b *EnableModuleResponse) Status() []uint16 { return b.OperationalStatus }

func (b *EnableModuleResponse) fields(*layout) []wire.Field {
	return []wire.Field{wire.Uint16s(&b.OperationalStatus)}
}

type NotifyProviderFailResponse struct {
	NumSubscriptionsAffected uint32
}

func (*NotifyProviderFailResponse) MessageType() Type { return TypeNotifyProviderFailResponse }

func (b *NotifyProviderFailResponse) fields(*layout) []wire.Field {
	return []wire.Field{wire.Uint32(&b.NumSubscriptionsAffected)}
}
