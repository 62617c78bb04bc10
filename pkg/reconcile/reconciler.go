// Package reconcile updates provider module state after a provider process
// or module fails: it tells the indication service, then either restarts the
// module or marks it failed or degraded.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"

	"github.com/morezero/cim-broker/pkg/cim"
	"github.com/morezero/cim-broker/pkg/events"
)

const logPrefix = "reconcile:reconciler"

// Registry is the part of the registration manager the reconciler uses.
type Registry interface {
	ProviderModuleNamesForGroup(ctx context.Context, group string) ([]string, error)
	GetModule(ctx context.Context, name string) (cim.ProviderModule, error)
	UpdateProviderModuleStatus(ctx context.Context, name string, remove, add []uint16) ([]uint16, error)
	SendAlert(ctx context.Context, module cim.ProviderModule, kind events.AlertKind) error
}

// Notifier reaches the indication service.
type Notifier interface {
	Available() bool
	NotifyProviderFail(ctx context.Context, moduleName, userName string) (uint32, error)
}

// Failure reports a failed module, or a failed module group when IsGroup is set.
type Failure struct {
	Name        string
	IsGroup     bool
	UserName    string
	UserContext uint16
}

// Action is what the reconciler did for one module.
type Action int

const (
	// ActionSkipped means the indication service was not notified, so the
	// module was left as it was.
	ActionSkipped Action = iota
	ActionFailed
	ActionRestarted
	ActionDegraded
)

func (a Action) String() string {
	switch a {
	case ActionFailed:
		return "failed"
	case ActionRestarted:
		return "restarted"
	case ActionDegraded:
		return "degraded"
	}
	return "skipped"
}

// Outcome is the result for one module.
type Outcome struct {
	Module   string
	Affected uint32
	Action   Action
	// FailureCount is the module's consecutive failure count when restarts
	// are enabled.
	FailureCount uint32
	Status       []uint16
}

type Result struct {
	Outcomes []Outcome
}

// Params holds the collaborators of a Reconciler.
type Params struct {
	Registry Registry
	Notifier Notifier
	// Table defaults to a new table.
	Table *Table
	// MaxRestarts is the automatic restart budget per module; 0 disables restarts.
	MaxRestarts uint32
	// AllProvidersStopped reports the shutdown state set by StopAllProviders.
	AllProvidersStopped func() bool
	// Restart starts a module again. It must not block on the module's providers.
	Restart func(ctx context.Context, module cim.ProviderModule) error
}

// Reconciler is safe for concurrent use.
type Reconciler struct {
	registry    Registry
	notifier    Notifier
	table       *Table
	maxRestarts atomic.Uint32
	stopped     func() bool
	restart     func(ctx context.Context, module cim.ProviderModule) error
}

func New(p Params) *Reconciler {
	r := &Reconciler{
		registry: p.Registry,
		notifier: p.Notifier,
		table:    p.Table,
		stopped:  p.AllProvidersStopped,
		restart:  p.Restart,
	}
	if r.table == nil {
		r.table = NewTable()
	}
	if r.stopped == nil {
		r.stopped = func() bool { return false }
	}
	r.maxRestarts.Store(p.MaxRestarts)
	return r
}

// Table returns the failed module table.
func (r *Reconciler) Table() *Table { return r.table }

// SetMaxRestarts changes the restart budget for subsequent failures.
func (r *Reconciler) SetMaxRestarts(n uint32) {
	r.maxRestarts.Store(n)
	slog.Info(fmt.Sprintf("%s - max failed provider module restarts set to %d", logPrefix, n))
}

func (r *Reconciler) MaxRestarts() uint32 { return r.maxRestarts.Load() }

// Reconcile handles a failure report. Errors for individual modules do not
// stop the others; they are returned together alongside the outcomes.
func (r *Reconciler) Reconcile(ctx context.Context, f Failure) (Result, error) {
	var res Result
	names := []string{f.Name}
	if f.IsGroup {
		var err error
		names, err = r.registry.ProviderModuleNamesForGroup(ctx, f.Name)
		if err != nil {
			return res, fmt.Errorf("%s - modules of group %s: %w", logPrefix, f.Name, err)
		}
	}

	var errs *multierror.Error
	for _, name := range names {
		out, err := r.reconcileModule(ctx, name, f.UserName, f.UserContext)
		res.Outcomes = append(res.Outcomes, out)
		if err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return res, errs.ErrorOrNil()
}

func (r *Reconciler) reconcileModule(ctx context.Context, name, userName string, userContext uint16) (Outcome, error) {
	out := Outcome{Module: name}
	if userContext == cim.UserContextRequestor {
		slog.Warn(fmt.Sprintf("%s - a failure was detected in provider module %s with user context %s", logPrefix, name, userName))
	} else {
		slog.Warn(fmt.Sprintf("%s - a failure was detected in provider module %s", logPrefix, name))
	}

	// The indication service may be gone once all providers are stopped.
	if r.stopped() || r.notifier == nil || !r.notifier.Available() {
		return out, nil
	}
	affected, err := r.notifier.NotifyProviderFail(ctx, name, userName)
	if err != nil {
		return out, fmt.Errorf("%s - notify provider fail for %s: %w", logPrefix, name, err)
	}
	out.Affected = affected

	if affected == 0 {
		out.Action = ActionFailed
		pm, err := r.registry.GetModule(ctx, name)
		if err != nil {
			return out, fmt.Errorf("%s - get module %s: %w", logPrefix, name, err)
		}
		out.Status = pm.OperationalStatus
		return out, r.alert(ctx, pm, events.AlertFailed)
	}

	budget := r.maxRestarts.Load()
	restart := false
	out.FailureCount = 1
	if budget > 0 {
		out.FailureCount, restart = r.table.Fail(name, budget)
	}

	add := cim.ModuleDegraded
	out.Action = ActionDegraded
	if restart {
		add = cim.ModuleStopped
		out.Action = ActionRestarted
	}
	status, err := r.registry.UpdateProviderModuleStatus(ctx, name, []uint16{cim.ModuleOK}, []uint16{add})
	if err != nil {
		return out, fmt.Errorf("%s - update status of %s: %w", logPrefix, name, err)
	}
	out.Status = status
	pm, err := r.registry.GetModule(ctx, name)
	if err != nil {
		return out, fmt.Errorf("%s - get module %s: %w", logPrefix, name, err)
	}

	if !restart {
		slog.Warn(fmt.Sprintf("%s - the generation of indications by providers in module %s may be affected; disable and re-enable the module to restore them", logPrefix, name))
		return out, r.alert(ctx, pm, events.AlertDegraded)
	}

	var errs *multierror.Error
	if r.restart != nil {
		if err := r.restart(ctx, pm); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s - restart %s: %w", logPrefix, name, err))
		}
	}
	if err := r.alert(ctx, pm, events.AlertFailedRestarted); err != nil {
		errs = multierror.Append(errs, err)
	}
	slog.Info(fmt.Sprintf("%s - indication providers in module %s restarted after %d failure(s); no automatic restart after %d", logPrefix, name, out.FailureCount, budget))
	return out, errs.ErrorOrNil()
}

func (r *Reconciler) alert(ctx context.Context, pm cim.ProviderModule, kind events.AlertKind) error {
	if err := r.registry.SendAlert(ctx, pm, kind); err != nil {
		return fmt.Errorf("%s - %s alert for %s: %w", logPrefix, kind, pm.Name, err)
	}
	return nil
}
