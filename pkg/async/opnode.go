package async

import (
	"context"
	"sync"

	"github.com/morezero/cim-broker/pkg/message"
)

// OpNode tracks one request from submission to its final response. It is
// completed exactly once.
type OpNode struct {
	req *message.Message

	ch   chan struct{}
	once sync.Once
	mu   sync.Mutex
	resp *message.Message

	// chunkMu serializes chunk delivery and completion.
	chunkMu sync.Mutex
	next    uint32
	done    bool
	chunks  []*message.Message
	onChunk func(*message.Message)
	onDone  func(*message.Message)
}

// Option configures an OpNode at submission.
type Option func(*OpNode)

// WithChunks forwards each non-final chunk to fn, in order, on the goroutine
// that delivered it. Without it chunks are kept on the node.
func WithChunks(fn func(*message.Message)) Option {
	return func(n *OpNode) { n.onChunk = fn }
}

func newOpNode(req *message.Message, opts ...Option) *OpNode {
	n := &OpNode{req: req, ch: make(chan struct{})}
	for _, o := range opts {
		o(n)
	}
	return n
}

func (n *OpNode) ID() string { return n.req.ID }

func (n *OpNode) Request() *message.Message { return n.req }

// Done is closed when the final response is available.
func (n *OpNode) Done() <-chan struct{} { return n.ch }

// Wait blocks until the node completes or ctx is done. Giving up on the wait
// does not cancel the operation.
func (n *OpNode) Wait(ctx context.Context) (*message.Message, error) {
	select {
	case <-n.ch:
		return n.response(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the final response and true once the node is complete.
func (n *OpNode) Result() (*message.Message, bool) {
	select {
	case <-n.ch:
		return n.response(), true
	default:
		return nil, false
	}
}

// Chunks returns the chunks kept because no chunk sink was set.
func (n *OpNode) Chunks() []*message.Message {
	n.chunkMu.Lock()
	defer n.chunkMu.Unlock()
	return append([]*message.Message(nil), n.chunks...)
}

func (n *OpNode) response() *message.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.resp
}

// deliver forwards a non-final chunk under the strict index rule. The chunk
// takes the id and return path of the original request.
func (n *OpNode) deliver(chunk *message.Message) error {
	n.chunkMu.Lock()
	defer n.chunkMu.Unlock()
	if n.done {
		return ErrUnknownOperation
	}
	if chunk.Index != n.next {
		return ErrChunkOutOfOrder
	}
	n.next++
	chunk.ID = n.req.ID
	chunk.QueueIDs = append([]uint32(nil), n.req.QueueIDs...)
	if n.onChunk != nil {
		n.onChunk(chunk)
		return nil
	}
	n.chunks = append(n.chunks, chunk)
	return nil
}

// complete records the final response and runs the completion callback.
// It reports false when the node was already complete.
func (n *OpNode) complete(resp *message.Message) bool {
	n.chunkMu.Lock()
	if n.done {
		n.chunkMu.Unlock()
		return false
	}
	n.done = true
	resp.IsComplete = true
	resp.Index = n.next
	n.chunkMu.Unlock()

	n.once.Do(func() {
		n.mu.Lock()
		n.resp = resp
		n.mu.Unlock()
		close(n.ch)
	})
	if n.onDone != nil {
		n.onDone(resp)
	}
	return true
}
