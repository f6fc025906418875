// Package streamutil provides the channel pipeline that carries
// converted streaming chunks from the producer goroutine to the SSE
// writer.
package streamutil

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Chunk is a single unit of streaming output. Exactly one of Data and
// Err is set.
type Chunk struct {
	Data []byte
	Err  error
}

const defaultBufferSize = 128

// Pipeline runs producer goroutines under an errgroup and exposes
// their output as a single channel. The output channel closes once
// every producer has returned.
type Pipeline struct {
	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
	output chan Chunk
}

// NewPipeline creates a pipeline bound to parent. A bufferSize of zero
// or less uses the default.
func NewPipeline(parent context.Context, bufferSize int) *Pipeline {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}

	ctx, cancel := context.WithCancel(parent)
	g, gctx := errgroup.WithContext(ctx)

	return &Pipeline{
		ctx:    gctx,
		cancel: cancel,
		group:  g,
		output: make(chan Chunk, bufferSize),
	}
}

// Output returns the read-only output channel. It is closed after all
// producers finish.
func (p *Pipeline) Output() <-chan Chunk {
	return p.output
}

// Go starts a producer goroutine. A returned error cancels the whole
// group.
func (p *Pipeline) Go(f func(ctx context.Context) error) {
	p.group.Go(func() error {
		return f(p.ctx)
	})
}

// Send delivers a chunk to the consumer. Returns false when the
// pipeline has been cancelled, which producers should treat as a stop
// signal.
func (p *Pipeline) Send(chunk Chunk) bool {
	select {
	case p.output <- chunk:
		return true
	case <-p.ctx.Done():
		return false
	}
}

// SendData sends a data chunk.
func (p *Pipeline) SendData(data []byte) bool {
	return p.Send(Chunk{Data: data})
}

// SendError sends an error chunk.
func (p *Pipeline) SendError(err error) bool {
	return p.Send(Chunk{Err: err})
}

// Start waits for producers in the background and closes the output
// channel when they finish. Consumers detect completion via channel
// close.
func (p *Pipeline) Start() {
	go func() {
		_ = p.group.Wait()
		close(p.output)
		p.cancel()
	}()
}

// Cancel stops all producers immediately.
func (p *Pipeline) Cancel() {
	p.cancel()
}
