package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/hashicorp/go-multierror"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/cim-broker/pkg/agent"
	"github.com/morezero/cim-broker/pkg/cim"
	"github.com/morezero/cim-broker/pkg/commsutil"
	"github.com/morezero/cim-broker/pkg/message"
	"github.com/morezero/cim-broker/pkg/reconcile"
)

const oopLogPrefix = "router:oop"

const (
	defaultRequestTimeout   = 60 * time.Second
	defaultHeartbeatTimeout = 20 * time.Second
	defaultSweepInterval    = 5 * time.Second
)

// OOPParams configures an OOP router.
type OOPParams struct {
	Conn      *comms.Conn
	Callbacks Callbacks
	Codec     message.Codec
	// RequestTimeout bounds a forwarded request without a deadline.
	RequestTimeout time.Duration
	// HeartbeatTimeout is how long an agent may stay silent before it is
	// declared failed.
	HeartbeatTimeout time.Duration
	SweepInterval    time.Duration
	// IdleTimeout is sent to agents with unload commands.
	IdleTimeout time.Duration
	// Home and ConfigProperties are handed to agents on initialization.
	Home             string
	ConfigProperties []message.ConfigProperty
	Clock            func() time.Time
}

type agentState struct {
	status   agent.Status
	lastSeen time.Time

	initMu      sync.Mutex
	initialized bool
	// isGroup is true when the agent serves a module group rather than a
	// single module without one.
	isGroup bool
}

// OOP forwards requests to provider agents. Agents announce themselves with
// heartbeats; one that stops beating, or stops answering, is reported
// through Callbacks.ModuleFailure.
type OOP struct {
	nc        *comms.Conn
	cb        Callbacks
	codec     message.Codec
	timeout   time.Duration
	hbTimeout time.Duration
	sweep     time.Duration
	idle      time.Duration
	home      string
	props     []message.ConfigProperty
	now       func() time.Time

	mu                       sync.Mutex
	agents                   map[string]*agentState
	subscriptionInitComplete bool
	allStopped               bool

	subs      []*comms.Subscription
	scheduler gocron.Scheduler
	inflight  sync.WaitGroup
}

func NewOOP(p OOPParams) *OOP {
	o := &OOP{
		nc:        p.Conn,
		cb:        p.Callbacks,
		codec:     p.Codec,
		timeout:   p.RequestTimeout,
		hbTimeout: p.HeartbeatTimeout,
		sweep:     p.SweepInterval,
		idle:      p.IdleTimeout,
		home:      p.Home,
		props:     p.ConfigProperties,
		now:       p.Clock,
		agents:    make(map[string]*agentState),
	}
	if o.codec == (message.Codec{}) {
		o.codec = message.DefaultCodec
	}
	if o.timeout <= 0 {
		o.timeout = defaultRequestTimeout
	}
	if o.hbTimeout <= 0 {
		o.hbTimeout = defaultHeartbeatTimeout
	}
	if o.sweep <= 0 {
		o.sweep = defaultSweepInterval
	}
	if o.idle <= 0 {
		o.idle = defaultIdleTimeout
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// Start listens for agent heartbeats and indications and schedules the
// liveness sweep. Without a bus connection the router knows no agents.
func (o *OOP) Start() error {
	if o.nc == nil {
		return nil
	}
	statusSub, err := o.nc.Subscribe(commsutil.SubjectAgentStatusAll, o.onStatus)
	if err != nil {
		return fmt.Errorf("%s - subscribe agent status: %w", oopLogPrefix, err)
	}
	indSub, err := o.nc.Subscribe(commsutil.SubjectAgentIndicationAll, o.onIndication)
	if err != nil {
		_ = statusSub.Unsubscribe()
		return fmt.Errorf("%s - subscribe agent indications: %w", oopLogPrefix, err)
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("%s - create scheduler: %w", oopLogPrefix, err)
	}
	_, err = s.NewJob(
		gocron.DurationJob(o.sweep),
		gocron.NewTask(func() { o.Sweep() }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("%s - schedule liveness sweep: %w", oopLogPrefix, err)
	}
	s.Start()

	o.mu.Lock()
	o.subs = []*comms.Subscription{statusSub, indSub}
	o.scheduler = s
	o.mu.Unlock()
	return nil
}

func (o *OOP) onStatus(msg *comms.Msg) {
	st, err := agent.DecodeStatus(msg.Data)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - %v", oopLogPrefix, err))
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if st.Stopping {
		delete(o.agents, st.Group)
		slog.Info(fmt.Sprintf("%s - agent %s stopped", oopLogPrefix, st.Group))
		return
	}
	a, ok := o.agents[st.Group]
	if !ok || a.status.Started != st.Started || a.status.PID != st.PID {
		if ok {
			slog.Info(fmt.Sprintf("%s - agent %s restarted", oopLogPrefix, st.Group))
		} else {
			slog.Info(fmt.Sprintf("%s - agent %s is up (pid %d)", oopLogPrefix, st.Group, st.PID))
		}
		a = &agentState{}
		o.agents[st.Group] = a
	}
	a.status = st
	a.lastSeen = o.now()
}

func (o *OOP) onIndication(msg *comms.Msg) {
	req := o.codec.Decode(msg.Data)
	if req == nil || req.Type != message.TypeProcessIndicationRequest {
		slog.Warn(fmt.Sprintf("%s - dropped bad indication from %s", oopLogPrefix, msg.Subject))
		return
	}
	if o.cb.Indication != nil {
		o.cb.Indication(req)
	}
}

// Sweep forgets agents whose heartbeat is overdue and reports the failure of
// those that were serving requests. It returns the failed groups.
func (o *OOP) Sweep() []string {
	cutoff := o.now().Add(-o.hbTimeout)
	var failed []*agentState
	o.mu.Lock()
	for group, a := range o.agents {
		if a.lastSeen.Before(cutoff) {
			delete(o.agents, group)
			failed = append(failed, a)
		}
	}
	o.mu.Unlock()

	var groups []string
	for _, a := range failed {
		groups = append(groups, a.status.Group)
		o.reportFailure(a, "missed heartbeats")
	}
	sort.Strings(groups)
	return groups
}

func (o *OOP) reportFailure(a *agentState, reason string) {
	a.initMu.Lock()
	initialized, isGroup := a.initialized, a.isGroup
	a.initMu.Unlock()
	if !initialized {
		slog.Debug(fmt.Sprintf("%s - idle agent %s gone: %s", oopLogPrefix, a.status.Group, reason))
		return
	}
	slog.Warn(fmt.Sprintf("%s - agent %s failed: %s", oopLogPrefix, a.status.Group, reason))
	if o.cb.ModuleFailure != nil {
		o.cb.ModuleFailure(reconcile.Failure{
			Name:        a.status.Group,
			IsGroup:     isGroup,
			UserName:    a.status.UserName,
			UserContext: a.status.UserContext,
		})
	}
}

// Agents returns the last status of every live agent, ordered by group.
func (o *OOP) Agents() []agent.Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]agent.Status, 0, len(o.agents))
	for _, a := range o.agents {
		out = append(out, a.status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Group < out[j].Group })
	return out
}

func (o *OOP) lookup(group string) *agentState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.agents[group]
}

func (o *OOP) initializedAgents() map[string]*agentState {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]*agentState)
	for g, a := range o.agents {
		a.initMu.Lock()
		if a.initialized {
			out[g] = a
		}
		a.initMu.Unlock()
	}
	return out
}

func (o *OOP) ProcessMessage(ctx context.Context, req *message.Message) (*message.Message, error) {
	if IsBroadcast(req.Type) {
		return o.broadcast(ctx, req)
	}
	inst, ok := moduleOf(req)
	if !ok {
		return nil, cim.Errorf(cim.StatusFailed, "%s names no provider module", req.Type)
	}
	pm := cim.ModuleFromInstance(inst)
	group := GroupOf(pm)

	switch req.Type {
	case message.TypeEnableModuleRequest, message.TypeDisableModuleRequest:
		// Never start an agent just to enable or disable a module.
		if _, ok := o.initializedAgents()[group]; !ok {
			return moduleStatusDefault(req), nil
		}
		return o.dispatch(ctx, group, req)
	}

	a := o.lookup(group)
	if a == nil {
		return nil, cim.Errorf(cim.StatusFailed, "provider agent for %s is not running", group)
	}
	if err := o.initialize(ctx, a, group, pm.ModuleGroupName != ""); err != nil {
		return nil, err
	}
	return o.dispatch(ctx, group, req)
}

// dispatch forwards req to group, in the background when the owner takes
// async responses.
func (o *OOP) dispatch(ctx context.Context, group string, req *message.Message) (*message.Message, error) {
	if o.cb.AsyncResponse == nil {
		return o.forward(ctx, group, req)
	}
	pending := message.BuildResponse(req)
	pending.AsyncResponsePending = true
	o.inflight.Add(1)
	go func() {
		defer o.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
		defer cancel()
		resp, err := o.forward(ctx, group, req)
		if err != nil {
			resp = message.BuildResponse(req)
			resp.SetError(err)
		}
		o.cb.AsyncResponse(req, resp)
	}()
	return pending, nil
}

func (o *OOP) initialize(ctx context.Context, a *agentState, group string, isGroup bool) error {
	a.initMu.Lock()
	defer a.initMu.Unlock()
	if a.initialized {
		return nil
	}
	o.mu.Lock()
	initComplete := o.subscriptionInitComplete
	o.mu.Unlock()

	init := message.New(&message.InitializeProviderAgentRequest{
		Home:                     o.home,
		ConfigProperties:         o.props,
		SubscriptionInitComplete: initComplete,
	})
	init.InternalOperation = true
	resp, err := o.forward(ctx, group, init)
	if err != nil {
		return err
	}
	if resp.Failed() {
		return fmt.Errorf("%s - initialize agent %s: %w", oopLogPrefix, group, resp.Err())
	}
	a.initialized, a.isGroup = true, isGroup
	slog.Info(fmt.Sprintf("%s - initialized agent %s", oopLogPrefix, group))
	return nil
}

// forward sends req to the agent and returns its final response. Non-final
// chunks go to Callbacks.Chunk as they arrive.
func (o *OOP) forward(ctx context.Context, group string, req *message.Message) (*message.Message, error) {
	if o.nc == nil {
		return nil, cim.Errorf(cim.StatusFailed, "no bus connection for provider agent %s", group)
	}
	data, err := o.codec.Encode(req)
	if err != nil {
		return nil, fmt.Errorf("%s - encode %s: %w", oopLogPrefix, req.Type, err)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	var resp *message.Message
	err = commsutil.RequestStream(ctx, o.nc, commsutil.BuildAgentSubject(group), data, func(b []byte) (bool, error) {
		m := o.codec.Decode(b)
		if m == nil || m.ID != req.ID || m.IsRequest() {
			return false, fmt.Errorf("%s - bad reply from agent %s to %s", oopLogPrefix, group, req.ID)
		}
		if !m.IsComplete {
			if o.cb.Chunk == nil {
				return false, fmt.Errorf("%s - chunked reply without a chunk sink", oopLogPrefix)
			}
			return false, o.cb.Chunk(m)
		}
		resp = m
		return true, nil
	})
	if errors.Is(err, comms.ErrNoResponders) || errors.Is(err, comms.ErrConnectionClosed) {
		o.lost(group)
	}
	if err != nil {
		return nil, cim.Errorf(cim.StatusFailed, "provider agent %s: %v", group, err)
	}
	return resp, nil
}

// lost forgets an agent that stopped answering and reports it.
func (o *OOP) lost(group string) {
	o.mu.Lock()
	a, ok := o.agents[group]
	delete(o.agents, group)
	o.mu.Unlock()
	if ok {
		o.inflight.Add(1)
		go func() {
			defer o.inflight.Done()
			o.reportFailure(a, "not answering")
		}()
	}
}

func (o *OOP) broadcast(ctx context.Context, req *message.Message) (*message.Message, error) {
	o.mu.Lock()
	switch body := req.Body.(type) {
	case *message.StopAllProvidersRequest:
		o.allStopped = true
	case *message.SubscriptionInitCompleteRequest:
		o.subscriptionInitComplete = true
	case *message.IndicationServiceDisabledRequest:
		o.subscriptionInitComplete = false
	case *message.NotifyConfigChangeRequest:
		// Agents only care about current values.
		if !body.CurrentValueModified {
			o.mu.Unlock()
			return message.BuildResponse(req), nil
		}
	}
	o.mu.Unlock()

	resp := message.BuildResponse(req)
	groups := make([]string, 0)
	for g := range o.initializedAgents() {
		groups = append(groups, g)
	}
	sort.Strings(groups)

	var errs *multierror.Error
	for _, g := range groups {
		r, err := o.forward(ctx, g, req)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		resp = r
	}
	if err := errs.ErrorOrNil(); err != nil {
		slog.Warn(fmt.Sprintf("%s - %s did not reach every agent: %v", oopLogPrefix, req.Type, err))
	}
	return resp, nil
}

// AllProvidersStopped reports whether StopAllProviders has been processed.
func (o *OOP) AllProvidersStopped() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.allStopped
}

// UnloadIdleProviders asks every initialized agent to unload its idle providers.
func (o *OOP) UnloadIdleProviders(context.Context) int {
	if o.nc == nil {
		return 0
	}
	cmd := agent.Control{Op: agent.ControlUnloadIdle, IdleSeconds: int(o.idle / time.Second)}
	n := 0
	for g := range o.initializedAgents() {
		if err := commsutil.PublishJSON(o.nc, commsutil.BuildAgentControlSubject(g), cmd); err != nil {
			slog.Warn(fmt.Sprintf("%s - unload command to %s: %v", oopLogPrefix, g, err))
			continue
		}
		n++
	}
	return n
}

func (o *OOP) HasActiveProviders() bool {
	for _, st := range o.Agents() {
		if st.Active {
			return true
		}
	}
	return false
}

// Shutdown stops listening to agents and waits for background forwards.
func (o *OOP) Shutdown(context.Context) {
	o.mu.Lock()
	subs, s := o.subs, o.scheduler
	o.subs, o.scheduler = nil, nil
	o.mu.Unlock()
	if s != nil {
		_ = s.Shutdown()
	}
	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}
	o.inflight.Wait()
}
