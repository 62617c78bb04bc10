package message

import (
	"fmt"

	"github.com/morezero/cim-broker/pkg/responsedata"
)

type kind struct {
	name   string
	family Family
	pair   Type
	body   func() Body
}

// pairing is one row of the taxonomy: a request kind and its response kind.
type pairing struct {
	name        string
	family      Family
	request     Type
	response    Type
	newRequest  func() Body
	newResponse func() Body
}

func ack(t Type) func() Body { return func() Body { return &Ack{typ: t} } }

func data(k responsedata.Kind) dataResponse {
	return dataResponse{Payload: responsedata.New(k)}
}

var pairings = []pairing{
	{"GetInstance", FamilyOperation, TypeGetInstanceRequest, TypeGetInstanceResponse,
		func() Body { return &GetInstanceRequest{} },
		func() Body { return &GetInstanceResponse{data(responsedata.KindInstance)} }},
	{"ExportIndication", FamilyOther, TypeExportIndicationRequest, TypeExportIndicationResponse,
		func() Body { return &ExportIndicationRequest{} }, ack(TypeExportIndicationResponse)},
	{"DeleteInstance", FamilyOperation, TypeDeleteInstanceRequest, TypeDeleteInstanceResponse,
		func() Body { return &DeleteInstanceRequest{} }, ack(TypeDeleteInstanceResponse)},
	{"CreateInstance", FamilyOperation, TypeCreateInstanceRequest, TypeCreateInstanceResponse,
		func() Body { return &CreateInstanceRequest{} },
		func() Body { return &CreateInstanceResponse{} }},
	{"ModifyInstance", FamilyOperation, TypeModifyInstanceRequest, TypeModifyInstanceResponse,
		func() Body { return &ModifyInstanceRequest{} }, ack(TypeModifyInstanceResponse)},
	{"EnumerateInstances", FamilyOperation, TypeEnumerateInstancesRequest, TypeEnumerateInstancesResponse,
		func() Body { return &EnumerateInstancesRequest{} },
		func() Body { return &EnumerateInstancesResponse{data(responsedata.KindInstances)} }},
	{"EnumerateInstanceNames", FamilyOperation, TypeEnumerateInstanceNamesRequest, TypeEnumerateInstanceNamesResponse,
		func() Body { return &EnumerateInstanceNamesRequest{} },
		func() Body { return &EnumerateInstanceNamesResponse{data(responsedata.KindInstanceNames)} }},
	{"ExecQuery", FamilyOperation, TypeExecQueryRequest, TypeExecQueryResponse,
		func() Body { return &ExecQueryRequest{} },
		func() Body { return &ExecQueryResponse{data(responsedata.KindObjects)} }},
	{"Associators", FamilyOperation, TypeAssociatorsRequest, TypeAssociatorsResponse,
		func() Body { return &AssociatorsRequest{} },
		func() Body { return &AssociatorsResponse{data(responsedata.KindObjects)} }},
	{"AssociatorNames", FamilyOperation, TypeAssociatorNamesRequest, TypeAssociatorNamesResponse,
		func() Body { return &AssociatorNamesRequest{} },
		func() Body { return &AssociatorNamesResponse{data(responsedata.KindObjectPaths)} }},
	{"References", FamilyOperation, TypeReferencesRequest, TypeReferencesResponse,
		func() Body { return &ReferencesRequest{} },
		func() Body { return &ReferencesResponse{data(responsedata.KindObjects)} }},
	{"ReferenceNames", FamilyOperation, TypeReferenceNamesRequest, TypeReferenceNamesResponse,
		func() Body { return &ReferenceNamesRequest{} },
		func() Body { return &ReferenceNamesResponse{data(responsedata.KindObjectPaths)} }},
	{"GetProperty", FamilyOperation, TypeGetPropertyRequest, TypeGetPropertyResponse,
		func() Body { return &GetPropertyRequest{} },
		func() Body { return &GetPropertyResponse{} }},
	{"SetProperty", FamilyOperation, TypeSetPropertyRequest, TypeSetPropertyResponse,
		func() Body { return &SetPropertyRequest{} }, ack(TypeSetPropertyResponse)},
	{"InvokeMethod", FamilyOperation, TypeInvokeMethodRequest, TypeInvokeMethodResponse,
		func() Body { return &InvokeMethodRequest{} },
		func() Body { return &InvokeMethodResponse{} }},
	{"ProcessIndication", FamilyOther, TypeProcessIndicationRequest, TypeProcessIndicationResponse,
		func() Body { return &ProcessIndicationRequest{} }, ack(TypeProcessIndicationResponse)},
	{"CreateSubscription", FamilyIndication, TypeCreateSubscriptionRequest, TypeCreateSubscriptionResponse,
		func() Body { return &CreateSubscriptionRequest{} }, ack(TypeCreateSubscriptionResponse)},
	{"ModifySubscription", FamilyIndication, TypeModifySubscriptionRequest, TypeModifySubscriptionResponse,
		func() Body { return &ModifySubscriptionRequest{} }, ack(TypeModifySubscriptionResponse)},
	{"DeleteSubscription", FamilyIndication, TypeDeleteSubscriptionRequest, TypeDeleteSubscriptionResponse,
		func() Body { return &DeleteSubscriptionRequest{} }, ack(TypeDeleteSubscriptionResponse)},
	{"DisableModule", FamilyOther, TypeDisableModuleRequest, TypeDisableModuleResponse,
		func() Body { return &DisableModuleRequest{} },
		func() Body { return &DisableModuleResponse{} }},
	{"EnableModule", FamilyOther, TypeEnableModuleRequest, TypeEnableModuleResponse,
		func() Body { return &EnableModuleRequest{} },
		func() Body { return &EnableModuleResponse{} }},
	{"StopAllProviders", FamilyOther, TypeStopAllProvidersRequest, TypeStopAllProvidersResponse,
		func() Body { return &StopAllProvidersRequest{} }, ack(TypeStopAllProvidersResponse)},
	{"NotifyProviderFail", FamilyOther, TypeNotifyProviderFailRequest, TypeNotifyProviderFailResponse,
		func() Body { return &NotifyProviderFailRequest{} },
		func() Body { return &NotifyProviderFailResponse{} }},
	{"InitializeProviderAgent", FamilyOther, TypeInitializeProviderAgentRequest, TypeInitializeProviderAgentResponse,
		func() Body { return &InitializeProviderAgentRequest{} }, ack(TypeInitializeProviderAgentResponse)},
	{"NotifyConfigChange", FamilyOther, TypeNotifyConfigChangeRequest, TypeNotifyConfigChangeResponse,
		func() Body { return &NotifyConfigChangeRequest{} }, ack(TypeNotifyConfigChangeResponse)},
	{"SubscriptionInitComplete", FamilyOther, TypeSubscriptionInitCompleteRequest, TypeSubscriptionInitCompleteResponse,
		func() Body { return &SubscriptionInitCompleteRequest{} }, ack(TypeSubscriptionInitCompleteResponse)},
	{"IndicationServiceDisabled", FamilyOther, TypeIndicationServiceDisabledRequest, TypeIndicationServiceDisabledResponse,
		func() Body { return &IndicationServiceDisabledRequest{} }, ack(TypeIndicationServiceDisabledResponse)},
}

// schema maps every message type to its kind. It is the only place the
// taxonomy is enumerated.
var schema = make(map[Type]kind, 2*len(pairings))

func init() {
	for _, p := range pairings {
		add(p.request, kind{name: p.name + "Request", family: p.family, pair: p.response, body: p.newRequest})
		add(p.response, kind{name: p.name + "Response", family: FamilyResponse, pair: p.request, body: p.newResponse})
	}
}

func add(t Type, k kind) {
	if _, dup := schema[t]; dup {
		panic(fmt.Sprintf("message: type %d registered twice", t))
	}
	if got := k.body().MessageType(); got != t {
		panic(fmt.Sprintf("message: %s body reports type %d, registered as %d", k.name, got, t))
	}
	schema[t] = k
}

// Types returns every message type in the taxonomy.
func Types() []Type {
	out := make([]Type, 0, len(schema))
	for _, p := range pairings {
		out = append(out, p.request, p.response)
	}
	return out
}

// NewBody returns an empty body for t, or nil for an unknown type.
func NewBody(t Type) Body {
	k, ok := schema[t]
	if !ok {
		return nil
	}
	return k.body()
}
