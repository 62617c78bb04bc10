package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/morezero/cim-broker/pkg/cim"
	"github.com/morezero/cim-broker/pkg/message"
	"github.com/morezero/cim-broker/pkg/opctx"
	"github.com/morezero/cim-broker/pkg/responsedata"
)

const logPrefix = "provider:manager"

// DefaultChunkSize is the number of items per chunk of an enumeration response.
const DefaultChunkSize = 100

// Callbacks connect a manager to its router.
type Callbacks struct {
	// Indication receives a ProcessIndication request for every indication a
	// provider generates.
	Indication func(req *message.Message)
	// Chunk receives the non-final chunks of an enumeration response, in
	// order. Without it responses are never split.
	Chunk func(chunk *message.Message) error
}

// Manager loads the providers of a catalog on demand and answers request
// messages with them. It is safe for concurrent use.
type Manager struct {
	path      string
	catalog   *Catalog
	chunkSize int
	cb        Callbacks
	now       func() time.Time

	mu     sync.Mutex
	loaded map[key]*loadedProvider
	// subscriptionInitComplete is set once the indication service has
	// finished creating its initial subscriptions.
	subscriptionInitComplete bool
}

type loadedProvider struct {
	impl          any
	instance      *cim.Instance
	lastUsed      time.Time
	subscriptions int
	sink          *sink
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

func WithChunkSize(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.chunkSize = n
		}
	}
}

func WithCallbacks(cb Callbacks) ManagerOption {
	return func(m *Manager) { m.cb = cb }
}

// WithClock replaces time.Now for idle tracking.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager returns a manager for the provider manager path, serving the
// providers in catalog.
func NewManager(path string, catalog *Catalog, opts ...ManagerOption) *Manager {
	m := &Manager{
		path:      path,
		catalog:   catalog,
		chunkSize: DefaultChunkSize,
		now:       time.Now,
		loaded:    make(map[key]*loadedProvider),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Manager) Path() string { return m.path }

// SubscriptionInitComplete reports whether the indication service has
// finished creating its initial subscriptions.
func (m *Manager) SubscriptionInitComplete() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscriptionInitComplete
}

// HasActiveProviders reports whether any provider is loaded.
func (m *Manager) HasActiveProviders() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.loaded) > 0
}

// ProcessMessage answers req. It never returns nil for a request; provider
// errors become the response's exception.
func (m *Manager) ProcessMessage(ctx context.Context, req *message.Message) *message.Message {
	resp := message.BuildResponse(req)
	if resp == nil {
		return nil
	}
	if err := m.process(ctx, req, resp); err != nil {
		resp.SetError(err)
	}
	return resp
}

func (m *Manager) process(ctx context.Context, req, resp *message.Message) error {
	switch body := req.Body.(type) {
	case *message.DisableModuleRequest:
		return m.disableModule(ctx, body, resp)
	case *message.EnableModuleRequest:
		resp.Body.(*message.EnableModuleResponse).OperationalStatus = []uint16{cim.ModuleOK}
		return nil
	case *message.StopAllProvidersRequest:
		m.unloadWhere(ctx, func(key, *loadedProvider) bool { return true })
		return nil
	case *message.SubscriptionInitCompleteRequest:
		m.mu.Lock()
		m.subscriptionInitComplete = true
		m.mu.Unlock()
		return nil
	case *message.IndicationServiceDisabledRequest:
		m.disableAllIndications()
		return nil
	case *message.InitializeProviderAgentRequest:
		m.mu.Lock()
		m.subscriptionInitComplete = body.SubscriptionInitComplete
		m.mu.Unlock()
		return nil
	case *message.NotifyConfigChangeRequest:
		return nil
	case *message.ProcessIndicationRequest, *message.NotifyProviderFailRequest:
		return cim.Errorf(cim.StatusNotSupported, "%s is not handled by a provider manager", req.Type)
	}

	lp, pk, err := m.resolve(ctx, req)
	if err != nil {
		return err
	}
	cc := CallContext{
		UserName:         callerName(req),
		AcceptLanguages:  opctx.AcceptLanguages(req.OperationContext),
		OperationContext: req.OperationContext,
	}

	switch body := req.Body.(type) {
	case *message.ExportIndicationRequest:
		c, err := capability[IndicationConsumer](lp, pk)
		if err != nil {
			return err
		}
		return c.ConsumeIndication(ctx, cc, body.DestinationPath, body.IndicationInstance)
	case *message.CreateSubscriptionRequest:
		return m.createSubscription(ctx, cc, lp, pk, subscriptionOf(body.NameSpace, body.SubscriptionInstance,
			body.ClassNames, body.PropertyList, body.RepeatNotificationPolicy, body.Query))
	case *message.ModifySubscriptionRequest:
		ip, err := capability[IndicationProvider](lp, pk)
		if err != nil {
			return err
		}
		return ip.ModifySubscription(ctx, cc, subscriptionOf(body.NameSpace, body.SubscriptionInstance,
			body.ClassNames, body.PropertyList, body.RepeatNotificationPolicy, body.Query))
	case *message.DeleteSubscriptionRequest:
		return m.deleteSubscription(ctx, cc, lp, pk, Subscription{
			NameSpace: body.NameSpace, Instance: body.SubscriptionInstance, ClassNames: body.ClassNames,
		})
	case message.Operation:
		return m.operation(ctx, cc, lp, pk, req, resp)
	}
	return cim.Errorf(cim.StatusNotSupported, "%s is not handled by a provider manager", req.Type)
}

func (m *Manager) operation(ctx context.Context, cc CallContext, lp *loadedProvider, pk key, req, resp *message.Message) error {
	op := req.Body.(message.Operation).Operation()
	class := cim.ObjectPath{Namespace: op.NameSpace, ClassName: op.ClassName}

	switch body := req.Body.(type) {
	case *message.GetInstanceRequest:
		ip, err := capability[InstanceProvider](lp, pk)
		if err != nil {
			return err
		}
		inst, err := ip.GetInstance(ctx, cc, body.InstanceName, body.PropertyList)
		if err != nil {
			return err
		}
		return dataOf(resp).AppendInstances(inst)
	case *message.EnumerateInstancesRequest:
		ip, err := capability[InstanceProvider](lp, pk)
		if err != nil {
			return err
		}
		insts, err := ip.EnumerateInstances(ctx, cc, class, body.PropertyList)
		if err != nil {
			return err
		}
		return m.chunked(req, resp, len(insts), func(p *responsedata.Payload, lo, hi int) error {
			return p.AppendInstances(insts[lo:hi]...)
		})
	case *message.EnumerateInstanceNamesRequest:
		ip, err := capability[InstanceProvider](lp, pk)
		if err != nil {
			return err
		}
		paths, err := ip.EnumerateInstanceNames(ctx, cc, class)
		if err != nil {
			return err
		}
		return m.chunkedPaths(req, resp, paths)
	case *message.CreateInstanceRequest:
		ip, err := capability[InstanceProvider](lp, pk)
		if err != nil {
			return err
		}
		path, err := ip.CreateInstance(ctx, cc, body.NewInstance)
		if err != nil {
			return err
		}
		resp.Body.(*message.CreateInstanceResponse).InstanceName = path
		return nil
	case *message.ModifyInstanceRequest:
		ip, err := capability[InstanceProvider](lp, pk)
		if err != nil {
			return err
		}
		return ip.ModifyInstance(ctx, cc, body.ModifiedInstance, body.PropertyList)
	case *message.DeleteInstanceRequest:
		ip, err := capability[InstanceProvider](lp, pk)
		if err != nil {
			return err
		}
		return ip.DeleteInstance(ctx, cc, body.InstanceName)
	case *message.GetPropertyRequest:
		ip, err := capability[InstanceProvider](lp, pk)
		if err != nil {
			return err
		}
		inst, err := ip.GetInstance(ctx, cc, body.InstanceName, cim.Properties(body.PropertyName))
		if err != nil {
			return err
		}
		v, ok := inst.PropertyValue(body.PropertyName)
		if !ok {
			return cim.NewError(cim.StatusNoSuchProperty, body.PropertyName)
		}
		resp.Body.(*message.GetPropertyResponse).Value = v
		return nil
	case *message.SetPropertyRequest:
		ip, err := capability[InstanceProvider](lp, pk)
		if err != nil {
			return err
		}
		inst := &cim.Instance{Path: body.InstanceName}
		inst.SetProperty(body.PropertyName, body.NewValue)
		return ip.ModifyInstance(ctx, cc, inst, cim.Properties(body.PropertyName))
	case *message.InvokeMethodRequest:
		mp, err := capability[MethodProvider](lp, pk)
		if err != nil {
			return err
		}
		rv, out, err := mp.InvokeMethod(ctx, cc, body.InstanceName, body.MethodName, body.InParameters)
		if err != nil {
			return err
		}
		r := resp.Body.(*message.InvokeMethodResponse)
		r.ReturnValue, r.OutParameters, r.MethodName = rv, out, body.MethodName
		return nil
	case *message.ExecQueryRequest:
		qp, err := capability[QueryProvider](lp, pk)
		if err != nil {
			return err
		}
		objs, err := qp.ExecQuery(ctx, cc, op.NameSpace, body.QueryLanguage, body.Query)
		if err != nil {
			return err
		}
		return m.chunkedObjects(req, resp, objs)
	case *message.AssociatorsRequest:
		ap, err := capability[AssociationProvider](lp, pk)
		if err != nil {
			return err
		}
		objs, err := ap.Associators(ctx, cc, body.ObjectName, AssocFilter{
			AssocClass: body.AssocClass, ResultClass: body.ResultClass, Role: body.Role,
			ResultRole: body.ResultRole, PropertyList: body.PropertyList,
		})
		if err != nil {
			return err
		}
		return m.chunkedObjects(req, resp, objs)
	case *message.AssociatorNamesRequest:
		ap, err := capability[AssociationProvider](lp, pk)
		if err != nil {
			return err
		}
		paths, err := ap.AssociatorNames(ctx, cc, body.ObjectName, AssocFilter{
			AssocClass: body.AssocClass, ResultClass: body.ResultClass, Role: body.Role, ResultRole: body.ResultRole,
		})
		if err != nil {
			return err
		}
		return m.chunkedPaths(req, resp, paths)
	case *message.ReferencesRequest:
		ap, err := capability[AssociationProvider](lp, pk)
		if err != nil {
			return err
		}
		objs, err := ap.References(ctx, cc, body.ObjectName, AssocFilter{
			ResultClass: body.ResultClass, Role: body.Role, PropertyList: body.PropertyList,
		})
		if err != nil {
			return err
		}
		return m.chunkedObjects(req, resp, objs)
	case *message.ReferenceNamesRequest:
		ap, err := capability[AssociationProvider](lp, pk)
		if err != nil {
			return err
		}
		paths, err := ap.ReferenceNames(ctx, cc, body.ObjectName, AssocFilter{ResultClass: body.ResultClass, Role: body.Role})
		if err != nil {
			return err
		}
		return m.chunkedPaths(req, resp, paths)
	}
	return cim.Errorf(cim.StatusNotSupported, "%s is not handled by a provider manager", req.Type)
}

func dataOf(resp *message.Message) *responsedata.Payload {
	return resp.Body.(message.Collection).Data()
}

func (m *Manager) chunkedPaths(req, resp *message.Message, paths []cim.ObjectPath) error {
	return m.chunked(req, resp, len(paths), func(p *responsedata.Payload, lo, hi int) error {
		return p.AppendPaths(paths[lo:hi]...)
	})
}

func (m *Manager) chunkedObjects(req, resp *message.Message, objs []cim.Object) error {
	return m.chunked(req, resp, len(objs), func(p *responsedata.Payload, lo, hi int) error {
		return p.AppendObjects(objs[lo:hi]...)
	})
}

// chunked fills n items into the response. When a chunk callback is set and n
// exceeds the chunk size, every full chunk but the last is sent through the
// callback first and the final response carries the rest.
func (m *Manager) chunked(req, resp *message.Message, n int, fill func(p *responsedata.Payload, lo, hi int) error) error {
	lo := 0
	if m.cb.Chunk != nil {
		for index := uint32(0); n-lo > m.chunkSize; index++ {
			chunk := message.BuildResponse(req)
			chunk.IsComplete = false
			chunk.Index = index
			if err := fill(dataOf(chunk), lo, lo+m.chunkSize); err != nil {
				return err
			}
			if err := m.cb.Chunk(chunk); err != nil {
				return fmt.Errorf("%s - deliver chunk %d of %s: %w", logPrefix, index, req.ID, err)
			}
			lo += m.chunkSize
		}
	}
	return fill(dataOf(resp), lo, n)
}

func subscriptionOf(ns string, inst *cim.Instance, classes []string, pl cim.PropertyList, policy uint16, query string) Subscription {
	return Subscription{NameSpace: ns, Instance: inst, ClassNames: classes, PropertyList: pl, RepeatNotificationPolicy: policy, Query: query}
}

func (m *Manager) createSubscription(ctx context.Context, cc CallContext, lp *loadedProvider, pk key, sub Subscription) error {
	ip, err := capability[IndicationProvider](lp, pk)
	if err != nil {
		return err
	}
	if err := ip.CreateSubscription(ctx, cc, sub); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	lp.subscriptions++
	if lp.subscriptions == 1 && lp.sink == nil {
		s := &sink{m: m, provider: lp.instance, pid: providerID(cc.OperationContext)}
		if err := ip.EnableIndications(s); err != nil {
			lp.subscriptions--
			return err
		}
		lp.sink = s
	}
	return nil
}

func (m *Manager) deleteSubscription(ctx context.Context, cc CallContext, lp *loadedProvider, pk key, sub Subscription) error {
	ip, err := capability[IndicationProvider](lp, pk)
	if err != nil {
		return err
	}
	if err := ip.DeleteSubscription(ctx, cc, sub); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if lp.subscriptions > 0 {
		lp.subscriptions--
	}
	if lp.subscriptions == 0 && lp.sink != nil {
		lp.sink = nil
		return ip.DisableIndications()
	}
	return nil
}

func (m *Manager) disableAllIndications() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for pk, lp := range m.loaded {
		if lp.sink == nil {
			continue
		}
		if ip, ok := lp.impl.(IndicationProvider); ok {
			if err := ip.DisableIndications(); err != nil {
				slog.Warn(fmt.Sprintf("%s - disable indications of %s/%s: %v", logPrefix, pk.module, pk.provider, err))
			}
		}
		lp.sink = nil
		lp.subscriptions = 0
	}
}

// disableModule unloads the providers of the module. The module stays OK when
// only its providers were disabled.
func (m *Manager) disableModule(ctx context.Context, body *message.DisableModuleRequest, resp *message.Message) error {
	module := cim.ModuleFromInstance(body.ProviderModule).Name
	names := make(map[string]bool, len(body.Providers))
	for _, p := range body.Providers {
		names[cim.ProviderFromInstance(p).Name] = true
	}
	n := m.unloadWhere(ctx, func(k key, _ *loadedProvider) bool {
		return k.module == module && (len(names) == 0 || names[k.provider])
	})
	slog.Info(fmt.Sprintf("%s - %s: disabled module %s, %d provider(s) unloaded", logPrefix, m.path, module, n))

	status := cim.ModuleStopped
	if body.DisableProviderOnly {
		status = cim.ModuleOK
	}
	resp.Body.(*message.DisableModuleResponse).OperationalStatus = []uint16{status}
	return nil
}

// UnloadIdleProviders unloads providers unused for at least idle that serve
// no subscription. It returns how many were unloaded.
func (m *Manager) UnloadIdleProviders(ctx context.Context, idle time.Duration) int {
	cutoff := m.now().Add(-idle)
	return m.unloadWhere(ctx, func(_ key, lp *loadedProvider) bool {
		return lp.subscriptions == 0 && !lp.lastUsed.After(cutoff)
	})
}

// Shutdown unloads every provider.
func (m *Manager) Shutdown(ctx context.Context) {
	m.unloadWhere(ctx, func(key, *loadedProvider) bool { return true })
}

func (m *Manager) unloadWhere(ctx context.Context, match func(key, *loadedProvider) bool) int {
	m.mu.Lock()
	var victims []*loadedProvider
	var keys []key
	for k, lp := range m.loaded {
		if match(k, lp) {
			victims = append(victims, lp)
			keys = append(keys, k)
			delete(m.loaded, k)
		}
	}
	m.mu.Unlock()

	for i, lp := range victims {
		if lp.sink != nil {
			if ip, ok := lp.impl.(IndicationProvider); ok {
				_ = ip.DisableIndications()
			}
		}
		if t, ok := lp.impl.(Terminator); ok {
			if err := t.Terminate(ctx); err != nil {
				slog.Warn(fmt.Sprintf("%s - terminate %s/%s: %v", logPrefix, keys[i].module, keys[i].provider, err))
			}
		}
	}
	return len(victims)
}

// resolve finds and, on first use, initializes the provider named by the
// request's ProviderID container.
func (m *Manager) resolve(ctx context.Context, req *message.Message) (*loadedProvider, key, error) {
	pid := providerID(req.OperationContext)
	if pid == nil || pid.Module == nil || pid.Provider == nil {
		return nil, key{}, cim.Errorf(cim.StatusFailed, "%s carries no provider identification", req.Type)
	}
	pk := key{module: cim.ModuleFromInstance(pid.Module).Name, provider: cim.ProviderFromInstance(pid.Provider).Name}

	m.mu.Lock()
	if lp, ok := m.loaded[pk]; ok {
		lp.lastUsed = m.now()
		m.mu.Unlock()
		return lp, pk, nil
	}
	m.mu.Unlock()

	impl, ok := m.catalog.Lookup(pk.module, pk.provider)
	if !ok {
		return nil, pk, cim.Errorf(cim.StatusNotSupported, "provider %s in module %s is not available", pk.provider, pk.module)
	}
	if in, ok := impl.(Initializer); ok {
		if err := in.Initialize(ctx); err != nil {
			return nil, pk, fmt.Errorf("%s - initialize %s/%s: %w", logPrefix, pk.module, pk.provider, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if lp, ok := m.loaded[pk]; ok {
		lp.lastUsed = m.now()
		return lp, pk, nil
	}
	lp := &loadedProvider{impl: impl, instance: pid.Provider, lastUsed: m.now()}
	m.loaded[pk] = lp
	slog.Debug(fmt.Sprintf("%s - %s: loaded provider %s/%s", logPrefix, m.path, pk.module, pk.provider))
	return lp, pk, nil
}

func providerID(c opctx.Context) *opctx.ProviderID {
	pid, _ := opctx.Get[*opctx.ProviderID](c)
	return pid
}

func callerName(req *message.Message) string {
	if name := opctx.UserName(req.OperationContext); name != "" {
		return name
	}
	switch b := req.Body.(type) {
	case message.Operation:
		return b.Operation().UserName
	case message.Indication:
		return b.Indication().UserName
	case *message.ExportIndicationRequest:
		return b.UserName
	}
	return ""
}

func capability[T any](lp *loadedProvider, pk key) (T, error) {
	t, ok := lp.impl.(T)
	if !ok {
		var zero T
		return zero, cim.Errorf(cim.StatusNotSupported, "provider %s in module %s does not support %T", pk.provider, pk.module, &zero)
	}
	return t, nil
}

// sink turns provider indications into ProcessIndication requests.
type sink struct {
	m        *Manager
	provider *cim.Instance
	pid      *opctx.ProviderID
}

func (s *sink) Deliver(namespace string, indication *cim.Instance) {
	if s.m.cb.Indication == nil {
		return
	}
	req := message.New(&message.ProcessIndicationRequest{
		NameSpace:          namespace,
		IndicationInstance: indication,
		Provider:           s.provider,
	})
	if s.pid != nil {
		req.OperationContext.Insert(s.pid)
	}
	s.m.cb.Indication(req)
}
