// Package router forwards request messages to the provider managers that
// serve them: in process through Basic, or to provider agent processes over
// the bus through OOP.
package router

import (
	"context"

	"github.com/morezero/cim-broker/pkg/cim"
	"github.com/morezero/cim-broker/pkg/message"
	"github.com/morezero/cim-broker/pkg/reconcile"
)

// Router processes requests for one hosting model. A response marked
// AsyncResponsePending is completed later through Callbacks.AsyncResponse.
// An error return means no provider manager produced a response.
type Router interface {
	ProcessMessage(ctx context.Context, req *message.Message) (*message.Message, error)
	// UnloadIdleProviders returns how many providers or agents were asked to unload.
	UnloadIdleProviders(ctx context.Context) int
	HasActiveProviders() bool
	Shutdown(ctx context.Context)
}

// Callbacks connect a router to the dispatcher that owns it.
type Callbacks struct {
	// Indication receives the ProcessIndication requests of providers.
	Indication func(req *message.Message)
	// Chunk receives non-final response chunks in generation order.
	Chunk func(chunk *message.Message) error
	// AsyncResponse receives the final response of a request that was
	// answered with a pending response.
	AsyncResponse func(req, resp *message.Message)
	// ModuleFailure reports a provider module or module group whose host died.
	ModuleFailure func(f reconcile.Failure)
}

// IsBroadcast reports whether requests of type t go to every provider manager.
func IsBroadcast(t message.Type) bool {
	switch t {
	case message.TypeStopAllProvidersRequest,
		message.TypeSubscriptionInitCompleteRequest,
		message.TypeIndicationServiceDisabledRequest,
		message.TypeNotifyConfigChangeRequest:
		return true
	}
	return false
}

// GroupOf returns the agent group serving pm: its module group, or its own
// name when it has none.
func GroupOf(pm cim.ProviderModule) string {
	if pm.ModuleGroupName != "" {
		return pm.ModuleGroupName
	}
	return pm.Name
}

// moduleStatusDefault answers an Enable or Disable request that reached no
// provider manager.
func moduleStatusDefault(req *message.Message) *message.Message {
	resp := message.BuildResponse(req)
	switch body := req.Body.(type) {
	case *message.EnableModuleRequest:
		resp.Body.(*message.EnableModuleResponse).OperationalStatus = []uint16{cim.ModuleOK}
	case *message.DisableModuleRequest:
		status := cim.ModuleStopped
		if body.DisableProviderOnly {
			status = cim.ModuleOK
		}
		resp.Body.(*message.DisableModuleResponse).OperationalStatus = []uint16{status}
	}
	return resp
}

// moduleOf returns the provider module a request is addressed to.
func moduleOf(req *message.Message) (*cim.Instance, bool) {
	switch body := req.Body.(type) {
	case *message.EnableModuleRequest:
		return body.ProviderModule, body.ProviderModule != nil
	case *message.DisableModuleRequest:
		return body.ProviderModule, body.ProviderModule != nil
	}
	pid := providerID(req)
	if pid == nil || pid.Module == nil {
		return nil, false
	}
	return pid.Module, true
}
