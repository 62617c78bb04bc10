package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/cim-broker/internal/config"
	"github.com/morezero/cim-broker/pkg/bootstrap"
	"github.com/morezero/cim-broker/pkg/cim"
	"github.com/morezero/cim-broker/pkg/commsutil"
	"github.com/morezero/cim-broker/pkg/message"
	"github.com/morezero/cim-broker/pkg/opctx"
	"github.com/morezero/cim-broker/pkg/provider"
	"github.com/morezero/cim-broker/pkg/registry"
)

const serverTestPrefix = "server:server_test"

const testBootstrapYAML = `
name: test
version: 1.0.0
providerManagers:
  - interface: "C++Default@2"
    path: libpegcxxpm
modules:
  - name: OSModule
    interfaceType: C++Default
    interfaceVersion: 2.6.0
    userContext: cimserver
    providers: [OSProvider]
  - name: ListenerModule
    interfaceType: C++Default
    interfaceVersion: 2.6.0
    userContext: requestor
    moduleGroup: listeners
    disabled: true
    providers: [ListenerProvider, SyslogProvider]
`

// mockRegistry implements registryForServer for handler tests.
type mockRegistry struct {
	health  *registry.HealthOutput
	modules []cim.ProviderModule
	listErr error
}

func (m *mockRegistry) Health(context.Context) *registry.HealthOutput {
	if m.health != nil {
		return m.health
	}
	return &registry.HealthOutput{Status: "unhealthy", Timestamp: time.Now().UTC().Format(time.RFC3339)}
}

func (m *mockRegistry) ListModules(context.Context) ([]cim.ProviderModule, error) {
	return m.modules, m.listErr
}

func testConfig() *config.Config {
	return &config.Config{
		ProviderManagerSubject:          "cim.providermanager",
		IndicationServiceSubject:        "cim.indicationservice",
		RequestTimeout:                  5 * time.Second,
		HealthCheckTimeout:              5 * time.Second,
		WorkerPoolSize:                  4,
		WorkerQueueSize:                 16,
		ResponseChunkSize:               100,
		AgentHeartbeatInterval:          time.Hour,
		AgentHeartbeatTimeout:           time.Hour,
		MaxFailedProviderModuleRestarts: 3,
	}
}

func testBootstrap(t *testing.T) *bootstrap.ResolvedBootstrap {
	t.Helper()
	cfg, err := bootstrap.ParseBootstrapConfig([]byte(testBootstrapYAML))
	if err != nil {
		t.Fatalf("%s - ParseBootstrapConfig: %v", serverTestPrefix, err)
	}
	rb, err := bootstrap.CreateResolvedBootstrap(cfg)
	if err != nil {
		t.Fatalf("%s - CreateResolvedBootstrap: %v", serverTestPrefix, err)
	}
	return rb
}

func startTestServer(t *testing.T, port int) *comms.Conn {
	t.Helper()
	ns, err := commsserver.NewServer(&commsserver.Options{Host: "127.0.0.1", Port: port, NoLog: true, NoSigs: true})
	if err != nil {
		t.Fatalf("%s - failed to create server: %v", serverTestPrefix, err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatalf("%s - server failed to start", serverTestPrefix)
	}
	nc, err := commsutil.Connect(ns.ClientURL(), "server-test")
	if err != nil {
		ns.Shutdown()
		t.Fatalf("%s - failed to connect: %v", serverTestPrefix, err)
	}
	t.Cleanup(func() {
		nc.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return nc
}

// testServer builds a started server over nc with the modules of the test
// bootstrap registered in memory. nc may be nil for handler tests.
func testServer(t *testing.T, nc *comms.Conn, cfg *config.Config, cat *provider.Catalog) (*Server, *registry.Manager) {
	t.Helper()
	rb := testBootstrap(t)
	reg := registry.NewManager(registry.NewManagerParams{})
	if err := reg.Seed(context.Background(), rb); err != nil {
		t.Fatalf("%s - Seed: %v", serverTestPrefix, err)
	}
	s, err := newServer(serverParams{Config: cfg, Conn: nc, Registry: reg, Bootstrap: rb, Catalog: cat})
	if err != nil {
		t.Fatalf("%s - newServer: %v", serverTestPrefix, err)
	}
	if err := s.start(); err != nil {
		t.Fatalf("%s - start: %v", serverTestPrefix, err)
	}
	t.Cleanup(func() { s.stop(context.Background()) })
	return s, reg
}

func osInstance(id string) *cim.Instance {
	inst := &cim.Instance{Path: cim.NewInstancePath("root/cimv2", "CIM_OperatingSystem",
		cim.KeyBinding{Name: "Id", Value: id, Type: cim.KeyNumeric})}
	inst.SetProperty("Id", cim.MustValue(id))
	return inst
}

func osCatalog(t *testing.T, insts ...*cim.Instance) *provider.Catalog {
	t.Helper()
	cat := provider.NewCatalog()
	if err := cat.Register("OSModule", "OSProvider", provider.NewMemory(insts...)); err != nil {
		t.Fatalf("%s - Register: %v", serverTestPrefix, err)
	}
	return cat
}

func enumerateOS(t *testing.T, reg *registry.Manager) *message.Message {
	t.Helper()
	module, err := reg.GetModuleInstance(context.Background(), "OSModule")
	if err != nil {
		t.Fatalf("%s - GetModuleInstance: %v", serverTestPrefix, err)
	}
	req := message.New(&message.EnumerateInstancesRequest{
		OperationRequest: message.OperationRequest{NameSpace: "root/cimv2", ClassName: "CIM_OperatingSystem"},
	})
	req.OperationContext.Insert(&opctx.ProviderID{
		Module:   module,
		Provider: cim.Provider{Name: "OSProvider", ProviderModuleName: "OSModule"}.Instance(),
	})
	return req
}

// roundTrip sends req on the provider manager subject and collects every reply.
func roundTrip(t *testing.T, nc *comms.Conn, req *message.Message) []*message.Message {
	t.Helper()
	data, err := message.Encode(req)
	if err != nil {
		t.Fatalf("%s - Encode: %v", serverTestPrefix, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var replies []*message.Message
	err = commsutil.RequestStream(ctx, nc, "cim.providermanager", data, func(b []byte) (bool, error) {
		resp := message.Decode(b)
		if resp == nil {
			return false, errors.New("undecodable reply")
		}
		replies = append(replies, resp)
		return resp.IsComplete, nil
	})
	if err != nil {
		t.Fatalf("%s - RequestStream: %v", serverTestPrefix, err)
	}
	return replies
}

func TestBuiltinCatalog(t *testing.T) {
	cat, err := builtinCatalog(testBootstrap(t))
	if err != nil {
		t.Fatalf("%s - builtinCatalog: %v", serverTestPrefix, err)
	}
	if got := cat.Providers("ListenerModule"); len(got) != 2 {
		t.Errorf("%s - ListenerModule providers = %v, want 2", serverTestPrefix, got)
	}
	if _, ok := cat.Lookup("OSModule", "OSProvider"); !ok {
		t.Errorf("%s - OSProvider not registered", serverTestPrefix)
	}

	empty, err := builtinCatalog(nil)
	if err != nil || len(empty.Modules()) != 0 {
		t.Errorf("%s - nil bootstrap: %v, %v", serverTestPrefix, empty.Modules(), err)
	}
}

func TestGroupCatalog(t *testing.T) {
	rb := testBootstrap(t)
	cat, uc, err := groupCatalog(rb, "listeners")
	if err != nil {
		t.Fatalf("%s - groupCatalog: %v", serverTestPrefix, err)
	}
	if uc != cim.UserContextRequestor {
		t.Errorf("%s - user context = %d, want requestor", serverTestPrefix, uc)
	}
	if got := cat.Modules(); len(got) != 1 || got[0] != "ListenerModule" {
		t.Errorf("%s - modules = %v, want [ListenerModule]", serverTestPrefix, got)
	}

	// A module without a group is its own group.
	if _, _, err := groupCatalog(rb, "OSModule"); err != nil {
		t.Errorf("%s - OSModule group: %v", serverTestPrefix, err)
	}
	if _, _, err := groupCatalog(rb, "nobody"); err == nil {
		t.Errorf("%s - expected error for an unknown group", serverTestPrefix)
	}
}

func TestOnRequest_AnswersOverBus(t *testing.T) {
	nc := startTestServer(t, 14280)
	_, reg := testServer(t, nc, testConfig(), osCatalog(t, osInstance("1"), osInstance("2")))

	replies := roundTrip(t, nc, enumerateOS(t, reg))
	if len(replies) != 1 {
		t.Fatalf("%s - got %d replies, want 1", serverTestPrefix, len(replies))
	}
	resp := replies[0]
	if resp.Type != message.TypeEnumerateInstancesResponse {
		t.Fatalf("%s - reply type = %s", serverTestPrefix, resp.Type)
	}
	if resp.Failed() {
		t.Fatalf("%s - reply failed: %v", serverTestPrefix, resp.Err())
	}
	n, err := resp.Body.(message.Collection).Data().Len()
	if err != nil || n != 2 {
		t.Errorf("%s - instances = %d (%v), want 2", serverTestPrefix, n, err)
	}
}

func TestOnRequest_ChunksPrecedeFinalResponse(t *testing.T) {
	nc := startTestServer(t, 14281)
	cfg := testConfig()
	cfg.ResponseChunkSize = 1
	_, reg := testServer(t, nc, cfg, osCatalog(t, osInstance("1"), osInstance("2"), osInstance("3")))

	req := enumerateOS(t, reg)
	replies := roundTrip(t, nc, req)
	if len(replies) != 3 {
		t.Fatalf("%s - got %d replies, want 3", serverTestPrefix, len(replies))
	}
	total := 0
	for i, r := range replies {
		if r.ID != req.ID {
			t.Errorf("%s - reply %d id = %s, want %s", serverTestPrefix, i, r.ID, req.ID)
		}
		if last := i == len(replies)-1; r.IsComplete != last {
			t.Errorf("%s - reply %d IsComplete = %v", serverTestPrefix, i, r.IsComplete)
		}
		if !r.IsComplete && r.Index != uint32(i) {
			t.Errorf("%s - chunk %d has index %d", serverTestPrefix, i, r.Index)
		}
		n, _ := r.Body.(message.Collection).Data().Len()
		total += n
	}
	if total != 3 {
		t.Errorf("%s - instances over all chunks = %d, want 3", serverTestPrefix, total)
	}
}

func TestOnRequest_BlockedModule(t *testing.T) {
	nc := startTestServer(t, 14282)
	_, reg := testServer(t, nc, testConfig(), osCatalog(t))
	ctx := context.Background()
	if _, err := reg.UpdateProviderModuleStatus(ctx, "OSModule", []uint16{cim.ModuleOK}, []uint16{cim.ModuleStopped}); err != nil {
		t.Fatalf("%s - UpdateProviderModuleStatus: %v", serverTestPrefix, err)
	}

	replies := roundTrip(t, nc, enumerateOS(t, reg))
	resp := replies[len(replies)-1]
	if !cim.IsStatus(resp.Err(), cim.StatusNotSupported) {
		t.Errorf("%s - expected NOT_SUPPORTED, got %v", serverTestPrefix, resp.Err())
	}
}

func TestOnRequest_DropsUndecodableMessages(t *testing.T) {
	nc := startTestServer(t, 14283)
	s, _ := testServer(t, nc, testConfig(), osCatalog(t))

	_, err := nc.Request("cim.providermanager", []byte{0xde, 0xad}, 300*time.Millisecond)
	if !errors.Is(err, comms.ErrTimeout) {
		t.Errorf("%s - expected timeout, got %v", serverTestPrefix, err)
	}
	if s.correlator.Inflight() != 0 {
		t.Errorf("%s - undecodable message started an operation", serverTestPrefix)
	}
}

func TestOnRequest_StopAllProvidersMakesServerNotReady(t *testing.T) {
	nc := startTestServer(t, 14284)
	s, _ := testServer(t, nc, testConfig(), osCatalog(t))
	handler := s.handleReady()

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("%s - ready status = %d, want 200", serverTestPrefix, rec.Code)
	}

	replies := roundTrip(t, nc, message.New(&message.StopAllProvidersRequest{}))
	if resp := replies[len(replies)-1]; resp.Failed() {
		t.Fatalf("%s - StopAllProviders failed: %v", serverTestPrefix, resp.Err())
	}

	rec = httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("%s - ready status after stop = %d, want 503", serverTestPrefix, rec.Code)
	}
}

func TestHealthHandler_Healthy(t *testing.T) {
	nc := startTestServer(t, 14285)
	s, _ := testServer(t, nc, testConfig(), osCatalog(t))

	rec := httptest.NewRecorder()
	s.handleHealth()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("%s - status = %d, want 200", serverTestPrefix, rec.Code)
	}
	var body struct {
		Status string `json:"status"`
		Bus    bool   `json:"bus"`
		Checks struct {
			Store bool `json:"store"`
		} `json:"checks"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("%s - decode: %v", serverTestPrefix, err)
	}
	if body.Status != "healthy" || !body.Bus || !body.Checks.Store {
		t.Errorf("%s - body = %+v", serverTestPrefix, body)
	}
}

func TestHealthHandler_NoBus(t *testing.T) {
	s := &Server{cfg: testConfig(), reg: &mockRegistry{health: &registry.HealthOutput{Status: "healthy", Checks: registry.HealthChecks{Store: true}}}}

	rec := httptest.NewRecorder()
	s.handleHealth()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("%s - status = %d, want 503", serverTestPrefix, rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"unhealthy"`) {
		t.Errorf("%s - body = %s", serverTestPrefix, rec.Body.String())
	}
}

func TestModulesHandler(t *testing.T) {
	s, _ := testServer(t, nil, testConfig(), osCatalog(t))

	rec := httptest.NewRecorder()
	s.handleModules()(rec, httptest.NewRequest(http.MethodGet, "/modules", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("%s - status = %d, want 200", serverTestPrefix, rec.Code)
	}
	var modules []struct {
		Name              string   `json:"name"`
		OperationalStatus []uint16 `json:"operationalStatus"`
		Status            []string `json:"status"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&modules); err != nil {
		t.Fatalf("%s - decode: %v", serverTestPrefix, err)
	}
	got := map[string][]string{}
	for _, m := range modules {
		got[m.Name] = m.Status
	}
	if s := got["OSModule"]; len(s) != 1 || s[0] != "OK" {
		t.Errorf("%s - OSModule status = %v, want [OK]", serverTestPrefix, s)
	}
	if s := got["ListenerModule"]; len(s) != 1 || s[0] != "Stopped" {
		t.Errorf("%s - ListenerModule status = %v, want [Stopped]", serverTestPrefix, s)
	}
}

func TestModulesHandler_Errors(t *testing.T) {
	s := &Server{cfg: testConfig(), reg: &mockRegistry{listErr: errors.New("store down")}}

	rec := httptest.NewRecorder()
	s.handleModules()(rec, httptest.NewRequest(http.MethodGet, "/modules", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("%s - status = %d, want 500", serverTestPrefix, rec.Code)
	}

	rec = httptest.NewRecorder()
	s.handleModules()(rec, httptest.NewRequest(http.MethodPost, "/modules", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("%s - POST status = %d, want 405", serverTestPrefix, rec.Code)
	}
}

func TestStatsHandler(t *testing.T) {
	s, _ := testServer(t, nil, testConfig(), osCatalog(t))

	rec := httptest.NewRecorder()
	s.handleStats()(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	var body struct {
		Dispatcher struct {
			MaxRestarts uint32 `json:"maxFailedProviderModuleRestarts"`
		} `json:"dispatcher"`
		Workers struct {
			Workers int `json:"workers"`
		} `json:"workers"`
		Agents []json.RawMessage `json:"agents"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("%s - decode: %v", serverTestPrefix, err)
	}
	if body.Dispatcher.MaxRestarts != 3 {
		t.Errorf("%s - max restarts = %d, want 3", serverTestPrefix, body.Dispatcher.MaxRestarts)
	}
	if body.Workers.Workers != 4 {
		t.Errorf("%s - workers = %d, want 4", serverTestPrefix, body.Workers.Workers)
	}
	if body.Agents == nil || len(body.Agents) != 0 {
		t.Errorf("%s - agents = %v, want empty list", serverTestPrefix, body.Agents)
	}
}

func TestHandleHome_Success(t *testing.T) {
	s, _ := testServer(t, nil, testConfig(), osCatalog(t))

	rec := httptest.NewRecorder()
	s.handleHome()(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("%s - status = %d, want 200", serverTestPrefix, rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"CIM Broker", "OSModule", "ListenerModule", "Stopped", "No provider agents running."} {
		if !strings.Contains(body, want) {
			t.Errorf("%s - home page missing %q", serverTestPrefix, want)
		}
	}
}

func TestHandleHome_ModulesError(t *testing.T) {
	s := &Server{cfg: testConfig(), reg: &mockRegistry{listErr: errors.New("store down")}}

	rec := httptest.NewRecorder()
	s.handleHome()(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("%s - status = %d, want 200", serverTestPrefix, rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "store down") {
		t.Errorf("%s - home page should show the list error", serverTestPrefix)
	}
}

func TestHandleHome_OnlyRoot(t *testing.T) {
	s := &Server{cfg: testConfig(), reg: &mockRegistry{}}

	rec := httptest.NewRecorder()
	s.handleHome()(rec, httptest.NewRequest(http.MethodGet, "/other", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("%s - status = %d, want 404", serverTestPrefix, rec.Code)
	}
}

func TestStatusName(t *testing.T) {
	tests := []struct {
		status uint16
		want   string
	}{
		{cim.ModuleOK, "OK"},
		{cim.ModuleDegraded, "Degraded"},
		{cim.ModuleError, "Error"},
		{cim.ModuleStopping, "Stopping"},
		{cim.ModuleStopped, "Stopped"},
		{42, "Unknown(42)"},
	}
	for _, tt := range tests {
		if got := statusName(tt.status); got != tt.want {
			t.Errorf("%s - statusName(%d) = %q, want %q", serverTestPrefix, tt.status, got, tt.want)
		}
	}
}
