package message

import "fmt"

// Type is the wire message type. The numbering is part of the protocol.
type Type uint32

const (
	TypeGetInstanceRequest                Type = 2
	TypeExportIndicationRequest           Type = 3
	TypeDeleteInstanceRequest             Type = 5
	TypeCreateInstanceRequest             Type = 7
	TypeModifyInstanceRequest             Type = 9
	TypeEnumerateInstancesRequest         Type = 12
	TypeEnumerateInstanceNamesRequest     Type = 13
	TypeExecQueryRequest                  Type = 14
	TypeAssociatorsRequest                Type = 15
	TypeAssociatorNamesRequest            Type = 16
	TypeReferencesRequest                 Type = 17
	TypeReferenceNamesRequest             Type = 18
	TypeGetPropertyRequest                Type = 19
	TypeSetPropertyRequest                Type = 20
	TypeInvokeMethodRequest               Type = 25
	TypeProcessIndicationRequest          Type = 26
	TypeCreateSubscriptionRequest         Type = 30
	TypeModifySubscriptionRequest         Type = 31
	TypeDeleteSubscriptionRequest         Type = 32
	TypeDisableModuleRequest              Type = 33
	TypeEnableModuleRequest               Type = 34
	TypeStopAllProvidersRequest           Type = 35
	TypeGetInstanceResponse               Type = 37
	TypeExportIndicationResponse          Type = 38
	TypeDeleteInstanceResponse            Type = 40
	TypeCreateInstanceResponse            Type = 42
	TypeModifyInstanceResponse            Type = 44
	TypeEnumerateInstancesResponse        Type = 47
	TypeEnumerateInstanceNamesResponse    Type = 48
	TypeExecQueryResponse                 Type = 49
	TypeAssociatorsResponse               Type = 50
	TypeAssociatorNamesResponse           Type = 51
	TypeReferencesResponse                Type = 52
	TypeReferenceNamesResponse            Type = 53
	TypeGetPropertyResponse               Type = 54
	TypeSetPropertyResponse               Type = 55
	TypeInvokeMethodResponse              Type = 60
	TypeProcessIndicationResponse         Type = 61
	TypeCreateSubscriptionResponse        Type = 65
	TypeModifySubscriptionResponse        Type = 66
	TypeDeleteSubscriptionResponse        Type = 67
	TypeDisableModuleResponse             Type = 68
	TypeEnableModuleResponse              Type = 69
	TypeStopAllProvidersResponse          Type = 70
	TypeNotifyProviderFailRequest         Type = 110
	TypeNotifyProviderFailResponse        Type = 111
	TypeInitializeProviderAgentRequest    Type = 112
	TypeInitializeProviderAgentResponse   Type = 113
	TypeNotifyConfigChangeRequest         Type = 114
	TypeNotifyConfigChangeResponse        Type = 115
	TypeSubscriptionInitCompleteRequest   Type = 116
	TypeSubscriptionInitCompleteResponse  Type = 117
	TypeIndicationServiceDisabledRequest  Type = 118
	TypeIndicationServiceDisabledResponse Type = 119
)

func (t Type) String() string {
	if k, ok := schema[t]; ok {
		return k.name
	}
	return fmt.Sprintf("MessageType(%d)", uint32(t))
}

// Known reports whether t is in the message taxonomy.
func (t Type) Known() bool {
	_, ok := schema[t]
	return ok
}

// Family partitions the message taxonomy.
type Family uint8

const (
	// FamilyOperation is a CIM operation request with the operation header.
	FamilyOperation Family = iota + 1
	// FamilyIndication is a subscription request with the indication header.
	FamilyIndication
	// FamilyOther is a lifecycle or internal request.
	FamilyOther
	// FamilyResponse is any response.
	FamilyResponse
)

func (f Family) String() string {
	switch f {
	case FamilyOperation:
		return "operation"
	case FamilyIndication:
		return "indication"
	case FamilyOther:
		return "other"
	case FamilyResponse:
		return "response"
	}
	return "unknown"
}

// Family returns the family of t, or 0 for an unknown type.
func (t Type) Family() Family { return schema[t].family }

// IsRequest reports whether t is a request type.
func (t Type) IsRequest() bool {
	f := t.Family()
	return f != 0 && f != FamilyResponse
}

// IsResponse reports whether t is a response type.
func (t Type) IsResponse() bool { return t.Family() == FamilyResponse }

// Pair returns the response type of a request type and the request type of
// a response type.
func (t Type) Pair() Type { return schema[t].pair }
