package router

import (
	"context"
	"sync"
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"

	"github.com/morezero/cim-broker/pkg/agent"
	"github.com/morezero/cim-broker/pkg/cim"
	"github.com/morezero/cim-broker/pkg/message"
	"github.com/morezero/cim-broker/pkg/reconcile"
)

const oopTestPrefix = "router:oop_test"

func startTestServer(t *testing.T, port int) *comms.Conn {
	t.Helper()
	ns, err := commsserver.NewServer(&commsserver.Options{Host: "127.0.0.1", Port: port, NoLog: true, NoSigs: true})
	if err != nil {
		t.Fatalf("%s - failed to create server: %v", oopTestPrefix, err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatalf("%s - server failed to start", oopTestPrefix)
	}
	nc, err := comms.Connect(ns.ClientURL(), comms.Timeout(5*time.Second))
	if err != nil {
		ns.Shutdown()
		t.Fatalf("%s - failed to connect: %v", oopTestPrefix, err)
	}
	t.Cleanup(func() {
		nc.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return nc
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// startAgent runs an agent for testModule with a single heartbeat. Unload
// commands unload every provider that is not in use.
func startAgent(t *testing.T, nc *comms.Conn, chunkSize int, insts ...*cim.Instance) *agent.Agent {
	t.Helper()
	a, err := agent.New(agent.Params{
		Conn:              nc,
		Group:             testModule,
		UserName:          "alice",
		Catalog:           testCatalog(t, insts...),
		Workers:           2,
		Queue:             8,
		ChunkSize:         chunkSize,
		HeartbeatInterval: time.Hour,
		IdleTimeout:       time.Nanosecond,
	})
	require.NoError(t, err)
	require.NoError(t, a.Start())
	return a
}

func startOOP(t *testing.T, nc *comms.Conn, cb Callbacks, clock *testClock) *OOP {
	t.Helper()
	o := NewOOP(OOPParams{
		Conn:             nc,
		Callbacks:        cb,
		RequestTimeout:   5 * time.Second,
		HeartbeatTimeout: 30 * time.Second,
		SweepInterval:    time.Hour,
		Clock:            clock.Now,
	})
	require.NoError(t, o.Start())
	t.Cleanup(func() { o.Shutdown(context.Background()) })
	return o
}

func waitForAgent(t *testing.T, o *OOP, group string) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, st := range o.Agents() {
			if st.Group == group {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond, "%s - agent %s never announced itself", oopTestPrefix, group)
}

func TestOOP_ForwardsToAgent(t *testing.T) {
	nc := startTestServer(t, 14260)
	clock := &testClock{now: time.Now()}
	o := startOOP(t, nc, Callbacks{}, clock)
	a := startAgent(t, nc, 0, testInstance("1"), testInstance("2"))
	defer a.Stop(context.Background())
	waitForAgent(t, o, testModule)

	resp, err := o.ProcessMessage(context.Background(), routed(enumerate(), testMgrPath, ""))
	require.NoError(t, err)
	require.False(t, resp.Failed(), resp.Error.Message)
	n, err := resp.Body.(message.Collection).Data().Len()
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.True(t, a.Manager().HasActiveProviders())
}

func TestOOP_NoAgent(t *testing.T) {
	nc := startTestServer(t, 14261)
	o := startOOP(t, nc, Callbacks{}, &testClock{now: time.Now()})

	_, err := o.ProcessMessage(context.Background(), routed(enumerate(), testMgrPath, ""))
	require.Error(t, err)
	require.True(t, cim.IsStatus(err, cim.StatusFailed))

	// Module requests never start an agent.
	resp, err := o.ProcessMessage(context.Background(), message.New(&message.DisableModuleRequest{ProviderModule: testModuleInstance("")}))
	require.NoError(t, err)
	require.Equal(t, []uint16{cim.ModuleStopped}, resp.Body.(*message.DisableModuleResponse).OperationalStatus)
}

func TestOOP_ChunksAndAsyncResponse(t *testing.T) {
	nc := startTestServer(t, 14262)
	var mu sync.Mutex
	var chunks []*message.Message
	done := make(chan *message.Message, 1)
	o := startOOP(t, nc, Callbacks{
		Chunk: func(c *message.Message) error {
			mu.Lock()
			defer mu.Unlock()
			chunks = append(chunks, c)
			return nil
		},
		AsyncResponse: func(_, resp *message.Message) { done <- resp },
	}, &testClock{now: time.Now()})
	a := startAgent(t, nc, 2, testInstance("1"), testInstance("2"), testInstance("3"), testInstance("4"), testInstance("5"))
	defer a.Stop(context.Background())
	waitForAgent(t, o, testModule)

	req := routed(enumerate(), testMgrPath, "")
	pending, err := o.ProcessMessage(context.Background(), req)
	require.NoError(t, err)
	require.True(t, pending.AsyncResponsePending)

	select {
	case resp := <-done:
		require.False(t, resp.Failed(), resp.Error.Message)
		require.Equal(t, req.ID, resp.ID)
		n, err := resp.Body.(message.Collection).Data().Len()
		require.NoError(t, err)
		require.Equal(t, 1, n)
	case <-time.After(5 * time.Second):
		t.Fatalf("%s - no async response", oopTestPrefix)
	}
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, chunks, 2)
	for i, c := range chunks {
		require.Equal(t, uint32(i), c.Index)
		require.False(t, c.IsComplete)
	}
}

func TestOOP_BroadcastsAndModuleRequests(t *testing.T) {
	nc := startTestServer(t, 14263)
	o := startOOP(t, nc, Callbacks{}, &testClock{now: time.Now()})
	a := startAgent(t, nc, 0, testInstance("1"))
	defer a.Stop(context.Background())
	waitForAgent(t, o, testModule)
	ctx := context.Background()

	// Initialize the agent.
	_, err := o.ProcessMessage(ctx, routed(enumerate(), testMgrPath, ""))
	require.NoError(t, err)

	resp, err := o.ProcessMessage(ctx, message.New(&message.SubscriptionInitCompleteRequest{}))
	require.NoError(t, err)
	require.False(t, resp.Failed())
	require.True(t, a.Manager().SubscriptionInitComplete())

	resp, err = o.ProcessMessage(ctx, message.New(&message.DisableModuleRequest{ProviderModule: testModuleInstance("")}))
	require.NoError(t, err)
	require.Equal(t, []uint16{cim.ModuleStopped}, resp.Body.(*message.DisableModuleResponse).OperationalStatus)

	resp, err = o.ProcessMessage(ctx, message.New(&message.StopAllProvidersRequest{}))
	require.NoError(t, err)
	require.False(t, resp.Failed())
	require.True(t, o.AllProvidersStopped())
	require.False(t, a.Manager().HasActiveProviders())
}

func TestOOP_SweepReportsInitializedAgents(t *testing.T) {
	nc := startTestServer(t, 14264)
	failures := make(chan reconcile.Failure, 2)
	clock := &testClock{now: time.Now()}
	o := startOOP(t, nc, Callbacks{ModuleFailure: func(f reconcile.Failure) { failures <- f }}, clock)
	a := startAgent(t, nc, 0, testInstance("1"))
	defer a.Stop(context.Background())
	waitForAgent(t, o, testModule)

	_, err := o.ProcessMessage(context.Background(), routed(enumerate(), testMgrPath, ""))
	require.NoError(t, err)

	require.Empty(t, o.Sweep())
	clock.Advance(time.Minute)
	require.Equal(t, []string{testModule}, o.Sweep())
	require.Empty(t, o.Agents())

	select {
	case f := <-failures:
		require.Equal(t, testModule, f.Name)
		require.False(t, f.IsGroup)
		require.Equal(t, "alice", f.UserName)
	case <-time.After(time.Second):
		t.Fatalf("%s - failure not reported", oopTestPrefix)
	}
}

func TestOOP_CleanStopIsNotAFailure(t *testing.T) {
	nc := startTestServer(t, 14265)
	failures := make(chan reconcile.Failure, 1)
	o := startOOP(t, nc, Callbacks{ModuleFailure: func(f reconcile.Failure) { failures <- f }}, &testClock{now: time.Now()})
	a := startAgent(t, nc, 0, testInstance("1"))
	waitForAgent(t, o, testModule)

	a.Stop(context.Background())
	require.Eventually(t, func() bool { return len(o.Agents()) == 0 }, 5*time.Second, 10*time.Millisecond)
	select {
	case f := <-failures:
		t.Fatalf("%s - unexpected failure for %s", oopTestPrefix, f.Name)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestOOP_UnloadIdleProviders(t *testing.T) {
	nc := startTestServer(t, 14266)
	o := NewOOP(OOPParams{Conn: nc, IdleTimeout: time.Nanosecond, SweepInterval: time.Hour})
	require.NoError(t, o.Start())
	defer o.Shutdown(context.Background())
	a := startAgent(t, nc, 0, testInstance("1"))
	defer a.Stop(context.Background())
	waitForAgent(t, o, testModule)

	require.Equal(t, 0, o.UnloadIdleProviders(context.Background()))
	_, err := o.ProcessMessage(context.Background(), routed(enumerate(), testMgrPath, ""))
	require.NoError(t, err)
	require.True(t, a.Manager().HasActiveProviders())

	time.Sleep(10 * time.Millisecond)
	require.Equal(t, 1, o.UnloadIdleProviders(context.Background()))
	require.Eventually(t, func() bool { return !a.Manager().HasActiveProviders() }, 5*time.Second, 10*time.Millisecond)
}
