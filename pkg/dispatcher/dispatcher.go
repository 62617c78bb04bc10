// Package dispatcher is the provider manager service: it receives request
// messages, applies the provider module state rules, picks the router that
// hosts each module and turns router callbacks into indications, chunked
// responses and failure reconciliation.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/morezero/cim-broker/pkg/async"
	"github.com/morezero/cim-broker/pkg/cim"
	"github.com/morezero/cim-broker/pkg/events"
	"github.com/morezero/cim-broker/pkg/l10n"
	"github.com/morezero/cim-broker/pkg/message"
	"github.com/morezero/cim-broker/pkg/opctx"
	"github.com/morezero/cim-broker/pkg/reconcile"
	"github.com/morezero/cim-broker/pkg/registry"
	"github.com/morezero/cim-broker/pkg/router"
	"github.com/morezero/cim-broker/pkg/semver"
)

const logPrefix = "dispatcher:dispatch"

// PropertyMaxFailedRestarts is the config property that changes the restart
// budget at runtime.
const PropertyMaxFailedRestarts = "maxFailedProviderModuleRestarts"

// Registry is the part of the registration manager the dispatcher uses.
type Registry interface {
	reconcile.Registry
	LookupIndicationConsumer(ctx context.Context, destination string) (provider, module *cim.Instance, err error)
}

// Indications reaches the indication service.
type Indications interface {
	reconcile.Notifier
	DeliverIndication(req *message.Message) error
}

// RouterFactory builds a router that reports back through cb.
type RouterFactory func(cb router.Callbacks) router.Router

// Params holds the collaborators and settings of a Dispatcher.
type Params struct {
	Registry Registry
	Managers *semver.ManagerMap
	// Basic builds the in-process router and is required. OOP builds the
	// provider agent router; without it every module is served in process.
	Basic RouterFactory
	OOP   RouterFactory
	// Indications may be nil when no indication service is configured.
	Indications Indications
	MaxRestarts uint32
	// ForceProviderProcesses sends every module outside the CIMServer group
	// to a provider agent.
	ForceProviderProcesses bool
	// Unprivileged is set when the server process itself runs without
	// privileges; modules that need them then run in agents.
	Unprivileged bool
	// IdleInterval is the period of the idle provider cleanup; 0 disables it.
	IdleInterval time.Duration
}

// Dispatcher implements async.Handler.
type Dispatcher struct {
	registry     Registry
	managers     *semver.ManagerMap
	indications  Indications
	basic        router.Router
	oop          router.Router
	forceOOP     bool
	unprivileged bool
	idleInterval time.Duration
	reconciler   *reconcile.Reconciler

	correlator atomic.Pointer[async.Correlator]
	stopped    atomic.Bool
	// cleanupBusy admits one idle cleanup at a time.
	cleanupBusy atomic.Bool

	mu        sync.Mutex
	scheduler gocron.Scheduler
	failures  sync.WaitGroup
}

func New(p Params) (*Dispatcher, error) {
	if p.Registry == nil {
		return nil, fmt.Errorf("%s - a registry is required", logPrefix)
	}
	if p.Basic == nil {
		return nil, fmt.Errorf("%s - an in-process router is required", logPrefix)
	}
	if p.Managers == nil {
		m, err := semver.NewManagerMap(nil)
		if err != nil {
			return nil, err
		}
		p.Managers = m
	}
	d := &Dispatcher{
		registry:     p.Registry,
		managers:     p.Managers,
		indications:  p.Indications,
		forceOOP:     p.ForceProviderProcesses,
		unprivileged: p.Unprivileged,
		idleInterval: p.IdleInterval,
	}
	var notifier reconcile.Notifier
	if p.Indications != nil {
		notifier = p.Indications
	}
	d.reconciler = reconcile.New(reconcile.Params{
		Registry:            p.Registry,
		Notifier:            notifier,
		MaxRestarts:         p.MaxRestarts,
		AllProvidersStopped: d.stopped.Load,
		Restart:             d.restart,
	})

	cb := router.Callbacks{
		Indication:    d.deliverIndication,
		Chunk:         d.deliverChunk,
		AsyncResponse: d.asyncResponse,
		ModuleFailure: d.moduleFailure,
	}
	d.basic = p.Basic(cb)
	if p.OOP != nil {
		d.oop = p.OOP(cb)
	}
	return d, nil
}

// Attach connects the correlator that runs this dispatcher. Chunks and
// asynchronous completions are delivered through it.
func (d *Dispatcher) Attach(c *async.Correlator) { d.correlator.Store(c) }

func (d *Dispatcher) Reconciler() *reconcile.Reconciler { return d.reconciler }

// AllProvidersStopped reports whether StopAllProviders has been processed.
func (d *Dispatcher) AllProvidersStopped() bool { return d.stopped.Load() }

// HandleRequest answers req. A response marked AsyncResponsePending is
// completed later through the attached correlator.
func (d *Dispatcher) HandleRequest(ctx context.Context, req *message.Message) (resp *message.Message) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error(fmt.Sprintf("%s - %s %s panicked: %v", logPrefix, req.Type, req.ID, r))
			resp = errorResponse(req, cim.Errorf(cim.StatusFailed, "%v", r))
		}
	}()
	slog.Debug(fmt.Sprintf("%s - type=%s id=%s", logPrefix, req.Type, req.ID))

	resp, err := d.handle(ctx, req)
	if err != nil {
		return errorResponse(req, err)
	}
	return resp
}

func (d *Dispatcher) handle(ctx context.Context, req *message.Message) (*message.Message, error) {
	switch body := req.Body.(type) {
	case *message.ExportIndicationRequest:
		return d.handleExportIndication(ctx, req, body)
	case *message.EnableModuleRequest:
		return d.handleEnable(ctx, req)
	case *message.DisableModuleRequest:
		return d.handleDisable(ctx, req, body)
	case *message.StopAllProvidersRequest:
		resp, err := d.process(ctx, req)
		d.stopped.Store(true)
		return resp, err
	case *message.NotifyConfigChangeRequest:
		d.configChanged(body)
		return d.process(ctx, req)
	case message.Operation, message.Indication:
		if pm, ok := moduleOf(req); ok && pm.Blocked() {
			return nil, localizedError(req, cim.StatusNotSupported, l10n.KeyProviderBlocked)
		}
	}
	return d.process(ctx, req)
}

// handleExportIndication resolves the consumer of the destination unless the
// request already names one, then routes like an operation request.
func (d *Dispatcher) handleExportIndication(ctx context.Context, req *message.Message, body *message.ExportIndicationRequest) (*message.Message, error) {
	if providerID(req) == nil {
		provider, module, err := d.registry.LookupIndicationConsumer(ctx, body.DestinationPath)
		if errors.Is(err, registry.ErrConsumerNotFound) {
			return nil, cim.Errorf(cim.StatusNotSupported, "no indication consumer for %s", body.DestinationPath)
		}
		if err != nil {
			return nil, fmt.Errorf("%s - look up consumer for %s: %w", logPrefix, body.DestinationPath, err)
		}
		req.OperationContext.Insert(&opctx.ProviderID{Module: module, Provider: provider})
	}
	if pm, ok := moduleOf(req); ok && pm.Blocked() {
		return nil, localizedError(req, cim.StatusNotSupported, l10n.KeyProviderBlocked)
	}
	return d.process(ctx, req)
}

func (d *Dispatcher) handleEnable(ctx context.Context, req *message.Message) (*message.Message, error) {
	resp, err := d.process(ctx, req)
	if err != nil || resp.AsyncResponsePending {
		return resp, err
	}
	if err := d.moduleEnabled(ctx, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (d *Dispatcher) handleDisable(ctx context.Context, req *message.Message, body *message.DisableModuleRequest) (*message.Message, error) {
	pm, ok := moduleOf(req)
	if !ok {
		return nil, cim.Errorf(cim.StatusFailed, "%s names no provider module", req.Type)
	}
	if !body.DisableProviderOnly {
		if _, err := d.registry.UpdateProviderModuleStatus(ctx, pm.Name, nil, []uint16{cim.ModuleStopping}); err != nil {
			return nil, fmt.Errorf("%s - mark %s stopping: %w", logPrefix, pm.Name, err)
		}
		d.reconciler.Table().Remove(pm.Name)
	}

	resp, err := d.process(ctx, req)
	if err != nil {
		if !body.DisableProviderOnly {
			if _, uerr := d.registry.UpdateProviderModuleStatus(ctx, pm.Name, []uint16{cim.ModuleStopping}, nil); uerr != nil {
				slog.Warn(fmt.Sprintf("%s - clear stopping on %s: %v", logPrefix, pm.Name, uerr))
			}
		}
		return nil, err
	}
	if resp.AsyncResponsePending {
		return resp, nil
	}
	if err := d.moduleDisabled(ctx, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// moduleEnabled records a successful enable: the module is OK again and,
// unless it is being restarted after a failure, an Enabled alert goes out.
func (d *Dispatcher) moduleEnabled(ctx context.Context, req, resp *message.Message) error {
	if resp.Failed() {
		return nil
	}
	pm, ok := moduleOf(req)
	if !ok {
		return nil
	}
	if _, err := d.registry.UpdateProviderModuleStatus(ctx, pm.Name, []uint16{cim.ModuleStopped}, []uint16{cim.ModuleOK}); err != nil {
		return fmt.Errorf("%s - mark %s enabled: %w", logPrefix, pm.Name, err)
	}
	if d.reconciler.Table().Contains(pm.Name) {
		return nil
	}
	return d.alert(ctx, pm.Name, events.AlertEnabled)
}

// moduleDisabled replaces Stopping with the status the providers reported.
func (d *Dispatcher) moduleDisabled(ctx context.Context, req, resp *message.Message) error {
	body := req.Body.(*message.DisableModuleRequest)
	if body.DisableProviderOnly {
		return nil
	}
	pm, _ := moduleOf(req)
	if resp.Failed() {
		_, err := d.registry.UpdateProviderModuleStatus(ctx, pm.Name, []uint16{cim.ModuleStopping}, nil)
		if err != nil {
			return fmt.Errorf("%s - clear stopping on %s: %w", logPrefix, pm.Name, err)
		}
		return nil
	}

	remove := []uint16{cim.ModuleStopping}
	var add []uint16
	if rb, ok := message.BodyAs[*message.DisableModuleResponse](resp); ok && len(rb.OperationalStatus) > 0 {
		last := rb.OperationalStatus[len(rb.OperationalStatus)-1]
		if last == cim.ModuleStopped {
			remove = append(remove, cim.ModuleOK, cim.ModuleDegraded)
		}
		add = []uint16{last}
	}
	if _, err := d.registry.UpdateProviderModuleStatus(ctx, pm.Name, remove, add); err != nil {
		return fmt.Errorf("%s - mark %s disabled: %w", logPrefix, pm.Name, err)
	}
	return d.alert(ctx, pm.Name, events.AlertDisabled)
}

func (d *Dispatcher) alert(ctx context.Context, name string, kind events.AlertKind) error {
	pm, err := d.registry.GetModule(ctx, name)
	if err != nil {
		return fmt.Errorf("%s - get module %s: %w", logPrefix, name, err)
	}
	if err := d.registry.SendAlert(ctx, pm, kind); err != nil {
		return fmt.Errorf("%s - %s alert for %s: %w", logPrefix, kind, name, err)
	}
	return nil
}

func (d *Dispatcher) configChanged(body *message.NotifyConfigChangeRequest) {
	if body.PropertyName != PropertyMaxFailedRestarts || !body.CurrentValueModified {
		return
	}
	n, err := strconv.ParseUint(body.NewPropertyValue, 10, 32)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - ignoring %s=%q: %v", logPrefix, body.PropertyName, body.NewPropertyValue, err))
		return
	}
	d.reconciler.SetMaxRestarts(uint32(n))
}

// process routes req and turns a router panic into a FAILED error, so the
// Enable and Disable handlers always see the outcome.
func (d *Dispatcher) process(ctx context.Context, req *message.Message) (resp *message.Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error(fmt.Sprintf("%s - router panicked on %s %s: %v", logPrefix, req.Type, req.ID, r))
			resp, err = nil, cim.Errorf(cim.StatusFailed, "%v", r)
		}
	}()
	return d.route(ctx, req)
}

// route sends req to the router that hosts its module.
func (d *Dispatcher) route(ctx context.Context, req *message.Message) (*message.Message, error) {
	if router.IsBroadcast(req.Type) {
		return d.broadcast(ctx, req)
	}
	pm, ok := moduleOf(req)
	if !ok {
		return nil, cim.Errorf(cim.StatusFailed, "%s names no provider module", req.Type)
	}

	remote := false
	switch req.Type {
	case message.TypeEnableModuleRequest, message.TypeDisableModuleRequest:
	default:
		pid := providerID(req)
		entry, ok := d.managers.Resolve(pm.InterfaceType, pm.InterfaceVersion, pm.Bitness)
		if !ok {
			err := localizedError(req, cim.StatusFailed, l10n.KeyUnknownInterface, pm.InterfaceType, pm.InterfaceVersion)
			slog.Error(fmt.Sprintf("%s - module %s: %s", logPrefix, pm.Name, err.Message))
			return nil, err
		}
		pid.ProvMgrPath = entry.Path
		remote = pid.IsRemoteNameSpace
	}

	r, name := d.basic, "basic"
	if !remote && d.outOfProcess(pm) {
		if d.oop == nil {
			return nil, cim.Errorf(cim.StatusFailed, "module %s needs a provider agent but agents are not enabled", pm.Name)
		}
		r, name = d.oop, "oop"
	}
	slog.Debug(fmt.Sprintf("%s - %s for module %s via %s router", logPrefix, req.Type, pm.Name, name))
	return r.ProcessMessage(ctx, req)
}

// outOfProcess reports whether pm must run in a provider agent.
func (d *Dispatcher) outOfProcess(pm cim.ProviderModule) bool {
	if d.forceOOP && pm.ModuleGroupName != cim.ModuleGroupCIMServer {
		return true
	}
	if pm.Bitness == cim.Bitness32 {
		return true
	}
	switch pm.EffectiveUserContext() {
	case cim.UserContextRequestor, cim.UserContextDesignated:
		return true
	case cim.UserContextPrivileged:
		return d.unprivileged
	}
	return false
}

// broadcast sends req to the in-process router and then to the agents. The
// last response wins.
func (d *Dispatcher) broadcast(ctx context.Context, req *message.Message) (*message.Message, error) {
	resp, err := d.basic.ProcessMessage(ctx, req)
	if d.oop == nil {
		return resp, err
	}
	oresp, oerr := d.oop.ProcessMessage(ctx, req)
	if oerr != nil {
		if err != nil {
			return nil, err
		}
		slog.Warn(fmt.Sprintf("%s - %s to provider agents: %v", logPrefix, req.Type, oerr))
		return resp, nil
	}
	return oresp, nil
}

func (d *Dispatcher) deliverChunk(chunk *message.Message) error {
	c := d.correlator.Load()
	if c == nil {
		return fmt.Errorf("%s - no correlator for chunk of %s", logPrefix, chunk.ID)
	}
	return c.DeliverChunk(chunk)
}

// asyncResponse finishes a request a router answered as pending.
func (d *Dispatcher) asyncResponse(req, resp *message.Message) {
	ctx := context.Background()
	var err error
	switch req.Type {
	case message.TypeStopAllProvidersRequest:
		d.stopped.Store(true)
	case message.TypeEnableModuleRequest:
		err = d.moduleEnabled(ctx, req, resp)
	case message.TypeDisableModuleRequest:
		err = d.moduleDisabled(ctx, req, resp)
	}
	if err != nil {
		resp = errorResponse(req, err)
	}

	c := d.correlator.Load()
	if c == nil {
		slog.Warn(fmt.Sprintf("%s - dropped async response to %s: no correlator", logPrefix, req.ID))
		return
	}
	if err := c.Complete(resp); err != nil {
		slog.Warn(fmt.Sprintf("%s - complete %s: %v", logPrefix, req.ID, err))
	}
}

func (d *Dispatcher) deliverIndication(req *message.Message) {
	if !req.OperationContext.Contains(opctx.NameAcceptLanguageList) {
		req.OperationContext.Insert(&opctx.AcceptLanguageList{})
	}
	if d.indications == nil {
		slog.Warn(fmt.Sprintf("%s - dropped indication %s: no indication service", logPrefix, req.ID))
		return
	}
	if err := d.indications.DeliverIndication(req); err != nil {
		slog.Warn(fmt.Sprintf("%s - %v", logPrefix, err))
	}
}

func (d *Dispatcher) moduleFailure(f reconcile.Failure) {
	d.failures.Add(1)
	defer d.failures.Done()
	res, err := d.reconciler.Reconcile(context.Background(), f)
	for _, out := range res.Outcomes {
		slog.Info(fmt.Sprintf("%s - module %s: %s (%d subscription(s) affected)", logPrefix, out.Module, out.Action, out.Affected))
	}
	if err != nil {
		slog.Error(fmt.Sprintf("%s - reconcile failure of %s: %v", logPrefix, f.Name, err))
	}
}

// restart enables module again without waiting for its providers.
func (d *Dispatcher) restart(_ context.Context, pm cim.ProviderModule) error {
	c := d.correlator.Load()
	if c == nil {
		return fmt.Errorf("%s - no correlator to restart %s", logPrefix, pm.Name)
	}
	req := message.New(&message.EnableModuleRequest{ProviderModule: pm.Instance()})
	req.InternalOperation = true
	return c.SendForget(req, func(resp *message.Message) {
		if resp.Failed() {
			slog.Warn(fmt.Sprintf("%s - restart of %s failed: %v", logPrefix, pm.Name, resp.Err()))
			return
		}
		slog.Info(fmt.Sprintf("%s - restarted module %s", logPrefix, pm.Name))
	})
}

// Start schedules the idle provider cleanup.
func (d *Dispatcher) Start() error {
	if d.idleInterval <= 0 {
		return nil
	}
	s, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("%s - create scheduler: %w", logPrefix, err)
	}
	_, err = s.NewJob(
		gocron.DurationJob(d.idleInterval),
		gocron.NewTask(func() { d.UnloadIdleProviders(context.Background()) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("%s - schedule idle cleanup: %w", logPrefix, err)
	}
	s.Start()
	d.mu.Lock()
	d.scheduler = s
	d.mu.Unlock()
	return nil
}

// UnloadIdleProviders unloads idle providers in every router. It returns
// false without doing anything while another cleanup runs.
func (d *Dispatcher) UnloadIdleProviders(ctx context.Context) (int, bool) {
	if !d.cleanupBusy.CompareAndSwap(false, true) {
		return 0, false
	}
	defer d.cleanupBusy.Store(false)
	if !d.HasActiveProviders() {
		return 0, true
	}
	n := d.basic.UnloadIdleProviders(ctx)
	if d.oop != nil {
		n += d.oop.UnloadIdleProviders(ctx)
	}
	if n > 0 {
		slog.Info(fmt.Sprintf("%s - idle cleanup unloaded %d provider(s)", logPrefix, n))
	}
	return n, true
}

func (d *Dispatcher) HasActiveProviders() bool {
	return d.basic.HasActiveProviders() || (d.oop != nil && d.oop.HasActiveProviders())
}

// Stats is a snapshot for the status endpoint.
type Stats struct {
	AllProvidersStopped bool   `json:"allProvidersStopped"`
	HasActiveProviders  bool   `json:"hasActiveProviders"`
	FailedModules       int    `json:"failedModules"`
	MaxRestarts         uint32 `json:"maxFailedProviderModuleRestarts"`
	Inflight            int    `json:"inflight"`
}

func (d *Dispatcher) Stats() Stats {
	s := Stats{
		AllProvidersStopped: d.stopped.Load(),
		HasActiveProviders:  d.HasActiveProviders(),
		FailedModules:       d.reconciler.Table().Len(),
		MaxRestarts:         d.reconciler.MaxRestarts(),
	}
	if c := d.correlator.Load(); c != nil {
		s.Inflight = c.Inflight()
	}
	return s
}

// Shutdown stops the cleanup, waits for running failure handling and shuts
// the routers down.
func (d *Dispatcher) Shutdown(ctx context.Context) {
	d.mu.Lock()
	s := d.scheduler
	d.scheduler = nil
	d.mu.Unlock()
	if s != nil {
		if err := s.Shutdown(); err != nil {
			slog.Warn(fmt.Sprintf("%s - scheduler shutdown: %v", logPrefix, err))
		}
	}
	if d.oop != nil {
		d.oop.Shutdown(ctx)
	}
	d.failures.Wait()
	d.basic.Shutdown(ctx)
}
