package dispatcher

import (
	"context"
	"testing"

	"github.com/morezero/cim-broker/pkg/cim"
	"github.com/morezero/cim-broker/pkg/message"
	"github.com/morezero/cim-broker/pkg/opctx"
	"github.com/morezero/cim-broker/pkg/reconcile"
)

const routingTestPrefix = "dispatcher:dispatch_routing_test"

func failure(name string) reconcile.Failure {
	return reconcile.Failure{Name: name, UserName: "alice"}
}

func TestProcess_RoutingPolicy(t *testing.T) {
	tests := []struct {
		name         string
		module       cim.ProviderModule
		force        bool
		unprivileged bool
		wantOOP      bool
	}{
		{name: "server context stays in process", module: cim.ProviderModule{UserContext: cim.UserContextCIMServer}},
		{name: "privileged in privileged server", module: cim.ProviderModule{UserContext: cim.UserContextPrivileged}},
		{name: "default context is privileged", module: cim.ProviderModule{}},
		{name: "privileged in unprivileged server", module: cim.ProviderModule{UserContext: cim.UserContextPrivileged}, unprivileged: true, wantOOP: true},
		{name: "requestor", module: cim.ProviderModule{UserContext: cim.UserContextRequestor}, wantOOP: true},
		{name: "designated", module: cim.ProviderModule{UserContext: cim.UserContextDesignated}, wantOOP: true},
		{name: "32-bit", module: cim.ProviderModule{UserContext: cim.UserContextCIMServer, Bitness: cim.Bitness32}, wantOOP: true},
		{name: "forced", module: cim.ProviderModule{UserContext: cim.UserContextCIMServer}, force: true, wantOOP: true},
		{name: "forced but CIMServer group", module: cim.ProviderModule{UserContext: cim.UserContextCIMServer, ModuleGroupName: cim.ModuleGroupCIMServer}, force: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pm := tt.module
			pm.Name = "M"
			pm.InterfaceType = "C++Default"
			pm.InterfaceVersion = "2.6.0"
			h := newHarness(t, func(p *Params) {
				p.ForceProviderProcesses = tt.force
				p.Unprivileged = tt.unprivileged
			}, pm)

			resp := h.disp.HandleRequest(context.Background(), getInstance(h.moduleInstance(t, "M")))
			if resp.Failed() {
				t.Fatalf("%s - request failed: %v", routingTestPrefix, resp.Err())
			}
			gotOOP := len(h.oop.requests()) == 1
			gotBasic := len(h.basic.requests()) == 1
			if gotOOP != tt.wantOOP || gotBasic == tt.wantOOP {
				t.Errorf("%s - wantOOP=%v, basic=%v oop=%v", routingTestPrefix, tt.wantOOP, gotBasic, gotOOP)
			}
		})
	}
}

func TestProcess_RemoteNamespaceStaysInProcess(t *testing.T) {
	pm := testModule("M")
	pm.UserContext = cim.UserContextRequestor
	h := newHarness(t, nil, pm)

	req := getInstance(h.moduleInstance(t, "M"))
	pid, _ := opctx.Get[*opctx.ProviderID](req.OperationContext)
	pid.IsRemoteNameSpace = true
	pid.RemoteInfo = "remote-host"
	h.disp.HandleRequest(context.Background(), req)

	if len(h.basic.requests()) != 1 || len(h.oop.requests()) != 0 {
		t.Errorf("%s - remote namespace request must go to the in-process router", routingTestPrefix)
	}
}

func TestProcess_ResolvesManagerPath(t *testing.T) {
	pm := cim.ProviderModule{Name: "C", InterfaceType: "CMPI", InterfaceVersion: "2.0.0", UserContext: cim.UserContextCIMServer}
	h := newHarness(t, nil, pm)
	h.disp.HandleRequest(context.Background(), getInstance(h.moduleInstance(t, "C")))

	seen := h.basic.requests()
	if len(seen) != 1 {
		t.Fatalf("%s - expected one routed request, got %d", routingTestPrefix, len(seen))
	}
	pid, _ := opctx.Get[*opctx.ProviderID](seen[0].OperationContext)
	if pid.ProvMgrPath != "libcmpipm" {
		t.Errorf("%s - expected libcmpipm, got %q", routingTestPrefix, pid.ProvMgrPath)
	}
}

func TestProcess_UnknownInterface(t *testing.T) {
	pm := cim.ProviderModule{Name: "X", InterfaceType: "CMPI", InterfaceVersion: "1.0.0", UserContext: cim.UserContextCIMServer}
	h := newHarness(t, nil, pm)

	req := getInstance(h.moduleInstance(t, "X"))
	req.OperationContext.Insert(&opctx.AcceptLanguageList{Languages: cim.AcceptLanguageList{{Tag: "fr", Quality: 1}}})
	resp := h.disp.HandleRequest(context.Background(), req)

	if resp.Error.Code != cim.StatusFailed {
		t.Fatalf("%s - expected FAILED, got %v", routingTestPrefix, resp.Error.Code)
	}
	want := `Le type d'interface de fournisseur "CMPI" version "1.0.0" n'est pas reconnu.`
	if resp.Error.Message != want {
		t.Errorf("%s - expected %q, got %q", routingTestPrefix, want, resp.Error.Message)
	}
	if len(h.basic.requests()) != 0 {
		t.Errorf("%s - unresolved request reached a router", routingTestPrefix)
	}
}

func TestProcess_NoProviderID(t *testing.T) {
	h := newHarness(t, nil)
	resp := h.disp.HandleRequest(context.Background(), message.New(&message.GetInstanceRequest{}))
	if resp.Error.Code != cim.StatusFailed {
		t.Errorf("%s - expected FAILED, got %v", routingTestPrefix, resp.Error.Code)
	}
}

func TestProcess_AgentsDisabled(t *testing.T) {
	pm := testModule("M")
	pm.UserContext = cim.UserContextRequestor
	h := newHarness(t, func(p *Params) { p.OOP = nil }, pm)

	resp := h.disp.HandleRequest(context.Background(), getInstance(h.moduleInstance(t, "M")))
	if resp.Error.Code != cim.StatusFailed {
		t.Errorf("%s - expected FAILED without agents, got %v", routingTestPrefix, resp.Error.Code)
	}
}

func TestBroadcast_LastResponseWins(t *testing.T) {
	h := newHarness(t, nil)
	h.oop.respond = func(req *message.Message) (*message.Message, error) {
		resp := message.BuildResponse(req)
		resp.ProviderTimeMicros = 42
		return resp, nil
	}
	resp := h.disp.HandleRequest(context.Background(), message.New(&message.SubscriptionInitCompleteRequest{}))
	if resp.Failed() || resp.ProviderTimeMicros != 42 {
		t.Errorf("%s - expected the agent router's response, got %+v", routingTestPrefix, resp)
	}
	if len(h.basic.requests()) != 1 || len(h.oop.requests()) != 1 {
		t.Errorf("%s - broadcast must reach both routers", routingTestPrefix)
	}
}

func TestBroadcast_AgentErrorKeepsInProcessResponse(t *testing.T) {
	h := newHarness(t, nil)
	h.oop.respond = func(*message.Message) (*message.Message, error) {
		return nil, cim.NewError(cim.StatusFailed, "agents unreachable")
	}
	resp := h.disp.HandleRequest(context.Background(), message.New(&message.IndicationServiceDisabledRequest{}))
	if resp.Failed() {
		t.Errorf("%s - expected success, got %v", routingTestPrefix, resp.Err())
	}
}
