package chat

import (
	"io"
	"sync"

	"chatstream/internal/models"
	"chatstream/internal/provider"
)

// teeBuffer bounds how far one branch may run ahead of the other. When a
// branch falls further behind, the upstream read loop blocks rather than
// dropping or reordering chunks.
const teeBuffer = 64

type teeItem struct {
	chunk models.Chunk
	err   error
}

// Branch is one of the two consumers produced by Tee. It satisfies
// provider.ChunkStream.
type Branch struct {
	ch        chan teeItem
	done      chan struct{}
	closeOnce sync.Once
}

func newBranch() *Branch {
	return &Branch{
		ch:   make(chan teeItem, teeBuffer),
		done: make(chan struct{}),
	}
}

func (b *Branch) Recv() (models.Chunk, error) {
	it, ok := <-b.ch
	if !ok {
		return models.Chunk{}, io.EOF
	}
	if it.err != nil {
		return models.Chunk{}, it.err
	}
	return it.chunk, nil
}

// Close abandons the branch. The read loop stops delivering to it; the other
// branch is unaffected.
func (b *Branch) Close() error {
	b.closeOnce.Do(func() {
		close(b.done)
	})
	return nil
}

// deliver returns false once the branch has been closed.
func (b *Branch) deliver(it teeItem) bool {
	select {
	case b.ch <- it:
		return true
	case <-b.done:
		return false
	}
}

// Tee splits one upstream chunk stream into two independently consumed
// branches. A single internal read loop drives the source, so the upstream
// call is never re-invoked; every chunk reaches both branches in emission
// order, exactly once. A source failure, normal end included, terminates both
// branches, so an unfinished response is never silently treated as complete
// by either side. When both branches are closed the source is closed too,
// which propagates cancellation to the producer.
func Tee(src provider.ChunkStream) (*Branch, *Branch) {
	left, right := newBranch(), newBranch()

	go func() {
		defer src.Close()
		leftAlive, rightAlive := true, true
		for leftAlive || rightAlive {
			chunk, err := src.Recv()
			if err != nil {
				terminal := teeItem{err: err}
				if leftAlive {
					left.deliver(terminal)
				}
				if rightAlive {
					right.deliver(terminal)
				}
				break
			}
			it := teeItem{chunk: chunk}
			if leftAlive && !left.deliver(it) {
				leftAlive = false
			}
			if rightAlive && !right.deliver(it) {
				rightAlive = false
			}
		}
		close(left.ch)
		close(right.ch)
	}()

	return left, right
}
