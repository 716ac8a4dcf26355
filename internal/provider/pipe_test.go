package provider

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatstream/internal/models"
)

func TestPipeDeliversInOrder(t *testing.T) {
	p := NewPipe(4)
	go func() {
		p.Send(models.Chunk{ContentDelta: "a"})
		p.Send(models.Chunk{ContentDelta: "b"})
		p.CloseSend()
	}()

	first, err := p.Recv()
	require.NoError(t, err)
	assert.Equal(t, "a", first.ContentDelta)
	second, err := p.Recv()
	require.NoError(t, err)
	assert.Equal(t, "b", second.ContentDelta)

	_, err = p.Recv()
	assert.ErrorIs(t, err, io.EOF)
	_, err = p.Recv()
	assert.ErrorIs(t, err, io.EOF)
}

func TestPipeFailDeliversErrorThenEOF(t *testing.T) {
	boom := errors.New("upstream failure")
	p := NewPipe(1)
	p.Fail(boom)

	_, err := p.Recv()
	assert.ErrorIs(t, err, boom)
	_, err = p.Recv()
	assert.ErrorIs(t, err, io.EOF)
}

func TestPipeSendAfterCloseReturnsFalse(t *testing.T) {
	p := NewPipe(1)
	require.True(t, p.Send(models.Chunk{ContentDelta: "buffered"}))
	require.NoError(t, p.Close())

	// buffer is full, so a closed consumer is the only way out
	done := make(chan bool, 1)
	go func() { done <- p.Send(models.Chunk{ContentDelta: "late"}) }()
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("Send blocked after consumer closed the pipe")
	}
}

func TestPipeFailAfterCloseSendIsNoop(t *testing.T) {
	p := NewPipe(1)
	p.CloseSend()
	p.Fail(errors.New("ignored"))
	_, err := p.Recv()
	assert.ErrorIs(t, err, io.EOF)
}
