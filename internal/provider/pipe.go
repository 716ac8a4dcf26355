package provider

import (
	"io"
	"sync"

	"chatstream/internal/models"
)

const defaultPipeBuffer = 16

type pipeItem struct {
	chunk models.Chunk
	err   error
}

// Pipe is the producer side helper adapters use to expose an SDK stream as a
// ChunkStream. One goroutine feeds it; the consumer reads through Recv.
type Pipe struct {
	ch   chan pipeItem
	done chan struct{}

	closeOnce sync.Once
	sendOnce  sync.Once
}

func NewPipe(buffer int) *Pipe {
	if buffer <= 0 {
		buffer = defaultPipeBuffer
	}
	return &Pipe{
		ch:   make(chan pipeItem, buffer),
		done: make(chan struct{}),
	}
}

// Send delivers one chunk. It reports false once the consumer has closed the
// stream, at which point the producer should stop.
func (p *Pipe) Send(c models.Chunk) bool {
	select {
	case p.ch <- pipeItem{chunk: c}:
		return true
	case <-p.done:
		return false
	}
}

// Fail terminates the stream with err. Subsequent Recv calls observe err
// once, then io.EOF.
func (p *Pipe) Fail(err error) {
	p.sendOnce.Do(func() {
		select {
		case p.ch <- pipeItem{err: err}:
		case <-p.done:
		}
		close(p.ch)
	})
}

// CloseSend terminates the stream normally.
func (p *Pipe) CloseSend() {
	p.sendOnce.Do(func() {
		close(p.ch)
	})
}

func (p *Pipe) Recv() (models.Chunk, error) {
	it, ok := <-p.ch
	if !ok {
		return models.Chunk{}, io.EOF
	}
	if it.err != nil {
		return models.Chunk{}, it.err
	}
	return it.chunk, nil
}

func (p *Pipe) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
	})
	return nil
}
