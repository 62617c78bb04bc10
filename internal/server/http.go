package server

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"

	"github.com/morezero/cim-broker/pkg/agent"
	"github.com/morezero/cim-broker/pkg/async"
	"github.com/morezero/cim-broker/pkg/cim"
	"github.com/morezero/cim-broker/pkg/dispatcher"
	"github.com/morezero/cim-broker/pkg/registry"
)

const httpLogPrefix = "server:http"

// registryForServer is the part of the registration manager the HTTP
// handlers read.
type registryForServer interface {
	Health(ctx context.Context) *registry.HealthOutput
	ListModules(ctx context.Context) ([]cim.ProviderModule, error)
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleHome())
	mux.HandleFunc("/health", s.handleHealth())
	mux.HandleFunc("/ready", s.handleReady())
	mux.HandleFunc("/modules", s.handleModules())
	mux.HandleFunc("/stats", s.handleStats())
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error(fmt.Sprintf("%s - json encode: %v", httpLogPrefix, err))
	}
}

// healthOutput adds the bus connection to the registration store check.
type healthOutput struct {
	*registry.HealthOutput
	Bus bool `json:"bus"`
}

func (s *Server) health(ctx context.Context) healthOutput {
	h := healthOutput{HealthOutput: s.reg.Health(ctx), Bus: s.nc != nil && s.nc.IsConnected()}
	if !h.Bus {
		h.Status = "unhealthy"
	}
	return h
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
		defer cancel()
		h := s.health(ctx)
		status := http.StatusOK
		if h.Status != "healthy" {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, h)
	}
}

// handleReady reports not ready once StopAllProviders has been processed.
func (s *Server) handleReady() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.disp != nil && s.disp.AllProvidersStopped() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "stopping"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

// moduleView is a provider module with its status names.
type moduleView struct {
	cim.ProviderModule
	Status []string `json:"status"`
}

func moduleViews(modules []cim.ProviderModule) []moduleView {
	out := make([]moduleView, len(modules))
	for i, m := range modules {
		names := make([]string, len(m.OperationalStatus))
		for j, st := range m.OperationalStatus {
			names[j] = statusName(st)
		}
		out[i] = moduleView{ProviderModule: m, Status: names}
	}
	return out
}

func statusName(st uint16) string {
	switch st {
	case cim.ModuleOK:
		return "OK"
	case cim.ModuleDegraded:
		return "Degraded"
	case cim.ModuleError:
		return "Error"
	case cim.ModuleStopping:
		return "Stopping"
	case cim.ModuleStopped:
		return "Stopped"
	}
	return fmt.Sprintf("Unknown(%d)", st)
}

func (s *Server) handleModules() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
		defer cancel()
		modules, err := s.reg.ListModules(ctx)
		if err != nil {
			slog.Error(fmt.Sprintf("%s - list modules: %v", httpLogPrefix, err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, moduleViews(modules))
	}
}

// agentView is the JSON form of an agent heartbeat.
type agentView struct {
	Group       string `json:"group"`
	UserName    string `json:"user,omitempty"`
	UserContext uint16 `json:"userContext,omitempty"`
	PID         int    `json:"pid"`
	Started     int64  `json:"started"`
	Active      bool   `json:"active"`
}

type statsOutput struct {
	Dispatcher *dispatcher.Stats `json:"dispatcher,omitempty"`
	Workers    *async.Stats      `json:"workers,omitempty"`
	Agents     []agentView       `json:"agents"`
}

func (s *Server) stats() statsOutput {
	out := statsOutput{Agents: []agentView{}}
	if s.disp != nil {
		ds := s.disp.Stats()
		out.Dispatcher = &ds
	}
	if s.workers != nil {
		ws := s.workers.Stats()
		out.Workers = &ws
	}
	if s.oop != nil {
		for _, a := range s.oop.Agents() {
			out.Agents = append(out.Agents, newAgentView(a))
		}
	}
	return out
}

func newAgentView(a agent.Status) agentView {
	return agentView{Group: a.Group, UserName: a.UserName, UserContext: a.UserContext, PID: a.PID, Started: a.Started, Active: a.Active}
}

func (s *Server) handleStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.stats())
	}
}

// homePageTemplate is the HTML for the broker home page (white bg, black/blue text).
const homePageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>CIM Broker</title>
  <style>
    * { box-sizing: border-box; }
    body { background: #fff; color: #000; font-family: system-ui, sans-serif; margin: 0; padding: 2rem; line-height: 1.5; }
    h1, h2 { color: #0066cc; }
    .status-healthy { color: #0066cc; font-weight: bold; }
    .status-unhealthy { color: #cc0000; font-weight: bold; }
    table { border-collapse: collapse; width: 100%; max-width: 900px; margin-top: 0.5rem; }
    th, td { text-align: left; padding: 0.5rem 0.75rem; border: 1px solid #ccc; }
    th { background: #f0f4f8; color: #0066cc; }
    .stat { font-weight: bold; color: #0066cc; }
    section { margin-bottom: 2rem; }
  </style>
</head>
<body>
  <h1>CIM Broker</h1>
  <section>
    <h2>Health</h2>
    <p>Status: <span class="status-{{.Health.Status}}">{{.Health.Status}}</span>
       (store: {{.Health.Checks.Store}}, bus: {{.Health.Bus}})</p>
    {{if .Stats.Dispatcher}}<p>In flight: <span class="stat">{{.Stats.Dispatcher.Inflight}}</span>,
       failed modules: <span class="stat">{{.Stats.Dispatcher.FailedModules}}</span>,
       restart budget: <span class="stat">{{.Stats.Dispatcher.MaxRestarts}}</span></p>{{end}}
  </section>
  <section>
    <h2>Provider modules</h2>
    {{if .ModulesError}}<p class="status-unhealthy">{{.ModulesError}}</p>{{else}}
    <table>
      <tr><th>Name</th><th>Interface</th><th>Group</th><th>Status</th></tr>
      {{range .Modules}}<tr><td>{{.Name}}</td><td>{{.InterfaceType}} {{.InterfaceVersion}}</td><td>{{.ModuleGroupName}}</td><td>{{join .Status ", "}}</td></tr>
      {{else}}<tr><td colspan="4">No provider modules registered.</td></tr>{{end}}
    </table>{{end}}
  </section>
  <section>
    <h2>Provider agents</h2>
    <table>
      <tr><th>Group</th><th>User</th><th>PID</th><th>Active</th></tr>
      {{range .Stats.Agents}}<tr><td>{{.Group}}</td><td>{{.UserName}}</td><td>{{.PID}}</td><td>{{.Active}}</td></tr>
      {{else}}<tr><td colspan="4">No provider agents running.</td></tr>{{end}}
    </table>
  </section>
</body>
</html>
`

// homeData is the data passed to the home page template.
type homeData struct {
	Health       healthOutput
	Stats        statsOutput
	Modules      []moduleView
	ModulesError string
}

// handleHome returns an HTTP handler for the broker home page.
func (s *Server) handleHome() http.HandlerFunc {
	tmpl := template.Must(template.New("home").Funcs(template.FuncMap{"join": strings.Join}).Parse(homePageTemplate))
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
		defer cancel()

		data := homeData{Health: s.health(ctx), Stats: s.stats()}
		modules, err := s.reg.ListModules(ctx)
		if err != nil {
			data.ModulesError = err.Error()
		} else {
			data.Modules = moduleViews(modules)
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := tmpl.Execute(w, data); err != nil {
			slog.Error(fmt.Sprintf("%s - home template execute: %v", httpLogPrefix, err))
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}
}
