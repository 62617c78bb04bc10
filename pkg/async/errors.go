package async

import "errors"

var (
	// ErrClosed is returned when work is submitted after Close.
	ErrClosed = errors.New("async: closed")
	// ErrPoolExhausted is returned when the work queue stays full.
	ErrPoolExhausted = errors.New("async: worker pool exhausted")
	// ErrNotRequest is returned when a response is submitted as work.
	ErrNotRequest = errors.New("async: message is not a request")
	// ErrDuplicate is returned when a message id is already in flight.
	ErrDuplicate = errors.New("async: operation already in flight")
	// ErrUnknownOperation is returned for a chunk or completion whose id is not in flight.
	ErrUnknownOperation = errors.New("async: unknown operation")
	// ErrChunkOutOfOrder is returned for a chunk whose index is not the next expected one.
	ErrChunkOutOfOrder = errors.New("async: chunk out of order")
	// ErrFinalChunk is returned when a complete response is delivered as a chunk.
	ErrFinalChunk = errors.New("async: final response delivered as a chunk")
)
