// Package agent hosts the providers of one module group in a separate
// process. It answers binary request messages from the out-of-process router
// and reports liveness with periodic heartbeats.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/cim-broker/pkg/async"
	"github.com/morezero/cim-broker/pkg/cim"
	"github.com/morezero/cim-broker/pkg/commsutil"
	"github.com/morezero/cim-broker/pkg/message"
	"github.com/morezero/cim-broker/pkg/provider"
)

const logPrefix = "agent:agent"

const (
	defaultHeartbeat   = 5 * time.Second
	defaultIdleTimeout = 5 * time.Minute
)

// Params configures an Agent.
type Params struct {
	Conn        *comms.Conn
	Group       string
	UserName    string
	UserContext uint16
	Catalog     *provider.Catalog
	// Workers and Queue size the request pool.
	Workers           int
	Queue             int
	ChunkSize         int
	HeartbeatInterval time.Duration
	// IdleTimeout applies to unload commands that carry no idle time.
	IdleTimeout time.Duration
	Codec       message.Codec
}

// Agent serves requests for one module group.
type Agent struct {
	nc          *comms.Conn
	group       string
	userName    string
	userContext uint16
	codec       message.Codec
	heartbeat   time.Duration
	idle        time.Duration
	pool        *async.Pool
	manager     *provider.Manager
	started     time.Time
	seq         atomic.Uint64

	// replies maps in-flight request ids to their reply subjects for chunk delivery.
	replies sync.Map

	mu        sync.Mutex
	subs      []*comms.Subscription
	scheduler gocron.Scheduler
}

func New(p Params) (*Agent, error) {
	if p.Conn == nil {
		return nil, fmt.Errorf("%s - a bus connection is required", logPrefix)
	}
	if p.Group == "" {
		return nil, fmt.Errorf("%s - a module group is required", logPrefix)
	}
	if p.Catalog == nil {
		p.Catalog = provider.NewCatalog()
	}
	a := &Agent{
		nc:          p.Conn,
		group:       p.Group,
		userName:    p.UserName,
		userContext: p.UserContext,
		codec:       p.Codec,
		heartbeat:   p.HeartbeatInterval,
		idle:        p.IdleTimeout,
		pool:        async.NewPool(p.Workers, p.Queue),
	}
	if a.codec == (message.Codec{}) {
		a.codec = message.DefaultCodec
	}
	if a.heartbeat <= 0 {
		a.heartbeat = defaultHeartbeat
	}
	if a.idle <= 0 {
		a.idle = defaultIdleTimeout
	}
	a.manager = provider.NewManager("agent:"+p.Group, p.Catalog,
		provider.WithChunkSize(p.ChunkSize),
		provider.WithCallbacks(provider.Callbacks{Indication: a.forwardIndication, Chunk: a.forwardChunk}))
	return a, nil
}

func (a *Agent) Group() string { return a.group }

// Manager returns the provider manager the agent hosts.
func (a *Agent) Manager() *provider.Manager { return a.manager }

// Start subscribes to the agent's request and control subjects and starts
// the heartbeat. The first heartbeat goes out immediately.
func (a *Agent) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.started = time.Now()

	reqSub, err := a.nc.Subscribe(commsutil.BuildAgentSubject(a.group), a.onRequest)
	if err != nil {
		return fmt.Errorf("%s - subscribe requests: %w", logPrefix, err)
	}
	ctlSub, err := a.nc.Subscribe(commsutil.BuildAgentControlSubject(a.group), a.onControl)
	if err != nil {
		_ = reqSub.Unsubscribe()
		return fmt.Errorf("%s - subscribe control: %w", logPrefix, err)
	}
	a.subs = []*comms.Subscription{reqSub, ctlSub}

	s, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("%s - create scheduler: %w", logPrefix, err)
	}
	_, err = s.NewJob(
		gocron.DurationJob(a.heartbeat),
		gocron.NewTask(func() { a.publishStatus(false) }),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("%s - schedule heartbeat: %w", logPrefix, err)
	}
	s.Start()
	a.scheduler = s

	slog.Info(fmt.Sprintf("%s - agent for group %s serving on %s", logPrefix, a.group, commsutil.BuildAgentSubject(a.group)))
	return nil
}

// Stop announces shutdown, stops taking requests, waits for running ones and
// unloads every provider.
func (a *Agent) Stop(ctx context.Context) {
	a.mu.Lock()
	subs, s := a.subs, a.scheduler
	a.subs, a.scheduler = nil, nil
	a.mu.Unlock()

	if s != nil {
		if err := s.Shutdown(); err != nil {
			slog.Warn(fmt.Sprintf("%s - scheduler shutdown: %v", logPrefix, err))
		}
	}
	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}
	a.publishStatus(true)
	a.pool.Close()
	a.manager.Shutdown(ctx)
	slog.Info(fmt.Sprintf("%s - agent for group %s stopped", logPrefix, a.group))
}

func (a *Agent) onRequest(msg *comms.Msg) {
	if err := a.pool.Submit(func() { a.serve(msg) }); err != nil {
		slog.Warn(fmt.Sprintf("%s - rejecting request: %v", logPrefix, err))
		if req := a.codec.Decode(msg.Data); req != nil && req.IsRequest() {
			resp := message.BuildResponse(req)
			resp.SetError(cim.Errorf(cim.StatusFailed, "provider agent %s is busy", a.group))
			a.reply(msg.Reply, resp)
		}
	}
}

func (a *Agent) serve(msg *comms.Msg) {
	req := a.codec.Decode(msg.Data)
	if req == nil || !req.IsRequest() {
		slog.Warn(fmt.Sprintf("%s - dropped undecodable request (%d bytes)", logPrefix, len(msg.Data)))
		return
	}
	a.replies.Store(req.ID, msg.Reply)
	defer a.replies.Delete(req.ID)

	resp := a.manager.ProcessMessage(context.Background(), req)
	if resp == nil {
		return
	}
	a.reply(msg.Reply, resp)
}

func (a *Agent) reply(subject string, resp *message.Message) {
	if subject == "" {
		return
	}
	b, err := a.codec.Encode(resp)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - encode %s: %v", logPrefix, resp.Type, err))
		resp = &message.Message{ID: resp.ID, Type: resp.Type, IsComplete: true, QueueIDs: resp.QueueIDs, Body: message.NewBody(resp.Type)}
		resp.SetError(cim.Errorf(cim.StatusFailed, "encode response: %v", err))
		if b, err = a.codec.Encode(resp); err != nil {
			return
		}
	}
	if err := a.nc.Publish(subject, b); err != nil {
		slog.Warn(fmt.Sprintf("%s - publish %s: %v", logPrefix, resp.Type, err))
	}
}

func (a *Agent) forwardChunk(chunk *message.Message) error {
	v, ok := a.replies.Load(chunk.ID)
	if !ok {
		return fmt.Errorf("%s - no caller for chunk of %s", logPrefix, chunk.ID)
	}
	b, err := a.codec.Encode(chunk)
	if err != nil {
		return fmt.Errorf("%s - encode chunk %d: %w", logPrefix, chunk.Index, err)
	}
	return a.nc.Publish(v.(string), b)
}

func (a *Agent) forwardIndication(req *message.Message) {
	b, err := a.codec.Encode(req)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - encode indication: %v", logPrefix, err))
		return
	}
	if err := a.nc.Publish(commsutil.BuildAgentIndicationSubject(a.group), b); err != nil {
		slog.Warn(fmt.Sprintf("%s - publish indication: %v", logPrefix, err))
	}
}

func (a *Agent) onControl(msg *comms.Msg) {
	c, err := commsutil.DecodeJSON[Control](msg.Data)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - bad control command: %v", logPrefix, err))
		return
	}
	switch c.Op {
	case ControlUnloadIdle:
		idle := a.idle
		if c.IdleSeconds > 0 {
			idle = time.Duration(c.IdleSeconds) * time.Second
		}
		n := a.manager.UnloadIdleProviders(context.Background(), idle)
		if n > 0 {
			slog.Info(fmt.Sprintf("%s - unloaded %d idle provider(s)", logPrefix, n))
		}
	default:
		slog.Warn(fmt.Sprintf("%s - unknown control op %q", logPrefix, c.Op))
	}
}

func (a *Agent) status(stopping bool) Status {
	return Status{
		Group:       a.group,
		UserName:    a.userName,
		UserContext: a.userContext,
		PID:         os.Getpid(),
		Started:     a.started.Unix(),
		Seq:         a.seq.Add(1),
		Active:      a.manager.HasActiveProviders(),
		Stopping:    stopping,
	}
}

func (a *Agent) publishStatus(stopping bool) {
	b, err := EncodeStatus(a.status(stopping))
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - %v", logPrefix, err))
		return
	}
	if err := a.nc.Publish(commsutil.BuildAgentStatusSubject(a.group), b); err != nil {
		slog.Debug(fmt.Sprintf("%s - publish heartbeat: %v", logPrefix, err))
	}
}
