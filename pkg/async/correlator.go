// Package async correlates request messages with their responses. Requests
// run on a bounded worker pool; each is tracked by an OpNode that synchronous
// callers wait on and asynchronous callers attach a callback to. Non-final
// chunks of a response bypass the pool and are forwarded on the delivering
// goroutine, in index order.
package async

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/morezero/cim-broker/pkg/cim"
	"github.com/morezero/cim-broker/pkg/message"
)

const logPrefix = "async:correlator"

// Handler processes one request. A nil response, or one marked
// AsyncResponsePending, leaves the operation open until Complete is called.
type Handler interface {
	HandleRequest(ctx context.Context, req *message.Message) *message.Message
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req *message.Message) *message.Message

func (f HandlerFunc) HandleRequest(ctx context.Context, req *message.Message) *message.Message {
	return f(ctx, req)
}

// Correlator is safe for concurrent use.
type Correlator struct {
	pool    *Pool
	handler Handler

	mu       sync.Mutex
	inflight map[string]*OpNode
}

// New returns a correlator running handler on pool.
func New(pool *Pool, handler Handler) *Correlator {
	return &Correlator{pool: pool, handler: handler, inflight: make(map[string]*OpNode)}
}

// Start queues req and returns its node.
func (c *Correlator) Start(req *message.Message, opts ...Option) (*OpNode, error) {
	if req == nil || !req.IsRequest() {
		return nil, ErrNotRequest
	}
	if req.ServerStartTimeMicros == 0 {
		req.ServerStartTimeMicros = uint64(time.Now().UnixMicro())
	}
	node := newOpNode(req, opts...)

	c.mu.Lock()
	if _, dup := c.inflight[req.ID]; dup {
		c.mu.Unlock()
		return nil, fmt.Errorf("%s - start %s %s: %w", logPrefix, req.Type, req.ID, ErrDuplicate)
	}
	c.inflight[req.ID] = node
	c.mu.Unlock()

	if err := c.pool.Submit(func() { c.run(node) }); err != nil {
		c.forget(req.ID)
		return nil, fmt.Errorf("%s - start %s %s: %w", logPrefix, req.Type, req.ID, err)
	}
	return node, nil
}

// SendWait runs req and blocks for its final response. When ctx ends first the
// wait is abandoned but the operation keeps running.
func (c *Correlator) SendWait(ctx context.Context, req *message.Message, opts ...Option) (*message.Message, error) {
	node, err := c.Start(req, opts...)
	if err != nil {
		return nil, err
	}
	return node.Wait(ctx)
}

// SendForget runs req and calls cb with its final response, on the goroutine
// that completes it. cb may be nil.
func (c *Correlator) SendForget(req *message.Message, cb func(*message.Message), opts ...Option) error {
	if cb != nil {
		opts = append(opts, func(n *OpNode) { n.onDone = cb })
	}
	_, err := c.Start(req, opts...)
	return err
}

// Complete delivers the final response of an operation that was left pending.
func (c *Correlator) Complete(resp *message.Message) error {
	node := c.forget(resp.ID)
	if node == nil {
		return fmt.Errorf("%s - complete %s %s: %w", logPrefix, resp.Type, resp.ID, ErrUnknownOperation)
	}
	node.complete(resp)
	return nil
}

// DeliverChunk forwards a non-final chunk to the caller of its operation.
// Chunks are accepted only in index order starting at 0.
func (c *Correlator) DeliverChunk(chunk *message.Message) error {
	if chunk.IsComplete {
		return fmt.Errorf("%s - chunk %d of %s: %w", logPrefix, chunk.Index, chunk.ID, ErrFinalChunk)
	}
	c.mu.Lock()
	node := c.inflight[chunk.ID]
	c.mu.Unlock()
	if node == nil {
		return fmt.Errorf("%s - chunk %d of %s: %w", logPrefix, chunk.Index, chunk.ID, ErrUnknownOperation)
	}
	if err := node.deliver(chunk); err != nil {
		return fmt.Errorf("%s - chunk %d of %s: %w", logPrefix, chunk.Index, chunk.ID, err)
	}
	return nil
}

// Inflight returns the number of operations not yet complete.
func (c *Correlator) Inflight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight)
}

func (c *Correlator) forget(id string) *OpNode {
	c.mu.Lock()
	defer c.mu.Unlock()
	node := c.inflight[id]
	delete(c.inflight, id)
	return node
}

func (c *Correlator) run(node *OpNode) {
	start := time.Now()
	resp := c.handle(node.req)
	if resp == nil || resp.AsyncResponsePending {
		slog.Debug(fmt.Sprintf("%s - %s %s left pending", logPrefix, node.req.Type, node.ID()))
		return
	}
	if resp.ProviderTimeMicros == 0 {
		resp.ProviderTimeMicros = uint64(time.Since(start).Microseconds())
	}
	if c.forget(node.ID()) == nil {
		return
	}
	node.complete(resp)
}

// handle never lets a handler panic escape without a response.
func (c *Correlator) handle(req *message.Message) (resp *message.Message) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error(fmt.Sprintf("%s - handler panicked on %s %s: %v", logPrefix, req.Type, req.ID, r))
			resp = message.BuildResponse(req)
			resp.SetError(cim.Errorf(cim.StatusFailed, "%v", r))
		}
	}()
	return c.handler.HandleRequest(context.Background(), req)
}
