package async

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/morezero/cim-broker/pkg/cim"
	"github.com/morezero/cim-broker/pkg/message"
)

func getInstance() *message.Message {
	return message.New(&message.GetInstanceRequest{
		OperationRequest: message.OperationRequest{NameSpace: "root/cimv2", ClassName: "TestClass"},
	})
}

func echo(ctx context.Context, req *message.Message) *message.Message {
	return message.BuildResponse(req)
}

func newCorrelator(t *testing.T, h HandlerFunc) *Correlator {
	t.Helper()
	p := NewPool(2, 16)
	t.Cleanup(p.Close)
	return New(p, h)
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestSendWait_ReturnsHandlerResponse(t *testing.T) {
	c := newCorrelator(t, echo)
	req := getInstance()
	req.QueueIDs = []uint32{7}

	resp, err := c.SendWait(waitCtx(t), req)
	require.NoError(t, err)
	require.Equal(t, req.ID, resp.ID)
	require.Equal(t, message.TypeGetInstanceResponse, resp.Type)
	require.Equal(t, []uint32{7}, resp.QueueIDs)
	require.True(t, resp.IsComplete)
	require.Zero(t, c.Inflight())
}

func TestSendWait_RejectsResponses(t *testing.T) {
	c := newCorrelator(t, echo)
	_, err := c.SendWait(waitCtx(t), message.BuildResponse(getInstance()))
	require.ErrorIs(t, err, ErrNotRequest)
}

func TestSendWait_ContextEndsWaitOnly(t *testing.T) {
	release := make(chan struct{})
	c := newCorrelator(t, func(ctx context.Context, req *message.Message) *message.Message {
		<-release
		return message.BuildResponse(req)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.SendWait(ctx, getInstance())
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, c.Inflight())

	close(release)
	require.Eventually(t, func() bool { return c.Inflight() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestSendForget_CallsBack(t *testing.T) {
	c := newCorrelator(t, echo)
	got := make(chan *message.Message, 1)
	req := getInstance()
	require.NoError(t, c.SendForget(req, func(resp *message.Message) { got <- resp }))

	select {
	case resp := <-got:
		require.Equal(t, req.ID, resp.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("async:correlator_test - callback not called")
	}
}

func TestPanickingHandlerYieldsFailed(t *testing.T) {
	c := newCorrelator(t, func(ctx context.Context, req *message.Message) *message.Message {
		panic("provider exploded")
	})
	resp, err := c.SendWait(waitCtx(t), getInstance())
	require.NoError(t, err)
	require.Equal(t, cim.StatusFailed, resp.Error.Code)
	require.Contains(t, resp.Error.Message, "provider exploded")
}

func TestPendingOperationCompletesLater(t *testing.T) {
	c := newCorrelator(t, func(ctx context.Context, req *message.Message) *message.Message {
		resp := message.BuildResponse(req)
		resp.AsyncResponsePending = true
		return resp
	})
	req := getInstance()
	node, err := c.Start(req)
	require.NoError(t, err)

	require.Never(t, func() bool { _, done := node.Result(); return done }, 100*time.Millisecond, 10*time.Millisecond)

	final := message.BuildResponse(req)
	require.NoError(t, c.Complete(final))
	resp, err := node.Wait(waitCtx(t))
	require.NoError(t, err)
	require.Same(t, final, resp)

	require.ErrorIs(t, c.Complete(final), ErrUnknownOperation)
}

// pendingWithChunks starts an operation whose handler leaves it open, so the
// test can drive chunk delivery directly.
func pendingWithChunks(t *testing.T, sink func(*message.Message)) (*Correlator, *message.Message, *OpNode) {
	t.Helper()
	c := newCorrelator(t, func(ctx context.Context, req *message.Message) *message.Message { return nil })
	req := getInstance()
	req.QueueIDs = []uint32{3, 9}
	var opts []Option
	if sink != nil {
		opts = append(opts, WithChunks(sink))
	}
	node, err := c.Start(req, opts...)
	require.NoError(t, err)
	return c, req, node
}

func chunk(req *message.Message, index uint32) *message.Message {
	m := message.BuildResponse(req)
	m.ID = req.ID
	m.QueueIDs = nil
	m.IsComplete = false
	m.Index = index
	return m
}

func TestChunksForwardedInOrder(t *testing.T) {
	var mu sync.Mutex
	var got []uint32
	c, req, node := pendingWithChunks(t, func(m *message.Message) {
		mu.Lock()
		got = append(got, m.Index)
		mu.Unlock()
		require.Equal(t, []uint32{3, 9}, m.QueueIDs)
	})

	for i := uint32(0); i < 3; i++ {
		require.NoError(t, c.DeliverChunk(chunk(req, i)))
	}
	require.NoError(t, c.Complete(message.BuildResponse(req)))

	resp, err := node.Wait(waitCtx(t))
	require.NoError(t, err)
	require.Equal(t, []uint32{0, 1, 2}, got)
	require.Equal(t, uint32(3), resp.Index)
	require.True(t, resp.IsComplete)
}

func TestChunkOutOfOrderRejected(t *testing.T) {
	var got []uint32
	c, req, _ := pendingWithChunks(t, func(m *message.Message) { got = append(got, m.Index) })

	require.NoError(t, c.DeliverChunk(chunk(req, 0)))
	err := c.DeliverChunk(chunk(req, 2))
	require.ErrorIs(t, err, ErrChunkOutOfOrder)
	require.ErrorIs(t, c.DeliverChunk(chunk(req, 0)), ErrChunkOutOfOrder)
	require.NoError(t, c.DeliverChunk(chunk(req, 1)))
	require.Equal(t, []uint32{0, 1}, got)
}

func TestFinalResponseIsNotAChunk(t *testing.T) {
	c, req, _ := pendingWithChunks(t, nil)
	final := chunk(req, 0)
	final.IsComplete = true
	require.ErrorIs(t, c.DeliverChunk(final), ErrFinalChunk)
}

func TestChunkForUnknownOperation(t *testing.T) {
	c := newCorrelator(t, echo)
	err := c.DeliverChunk(chunk(getInstance(), 0))
	require.True(t, errors.Is(err, ErrUnknownOperation))
}

func TestChunksKeptWithoutSink(t *testing.T) {
	c, req, node := pendingWithChunks(t, nil)
	require.NoError(t, c.DeliverChunk(chunk(req, 0)))
	require.NoError(t, c.DeliverChunk(chunk(req, 1)))
	require.Len(t, node.Chunks(), 2)
	require.Equal(t, req.ID, node.Chunks()[1].ID)
}

func TestDuplicateIDRejected(t *testing.T) {
	c, req, _ := pendingWithChunks(t, nil)
	_, err := c.Start(req)
	require.ErrorIs(t, err, ErrDuplicate)
}
