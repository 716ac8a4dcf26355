package chat

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatstream/internal/fault"
	"chatstream/internal/models"
	"chatstream/internal/provider"
)

// stubAdapter yields a canned chunk sequence, or fails up front.
type stubAdapter struct {
	name       string
	configured bool
	model      string
	chunks     []models.Chunk
	streamErr  error

	mu    sync.Mutex
	calls int
}

func (a *stubAdapter) Name() string         { return a.name }
func (a *stubAdapter) Configured() bool     { return a.configured }
func (a *stubAdapter) DefaultModel() string { return a.model }

func (a *stubAdapter) Generate(ctx context.Context, req *models.CompletionRequest) (*models.Completion, error) {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()
	if a.streamErr != nil {
		return nil, a.streamErr
	}
	var text string
	for _, c := range a.chunks {
		text += c.ContentDelta
	}
	return &models.Completion{
		Content:      text,
		Model:        a.model,
		Usage:        models.TokenUsage{PromptTokens: 3, CompletionTokens: 4, TotalTokens: 7},
		FinishReason: models.FinishStop,
	}, nil
}

func (a *stubAdapter) Stream(ctx context.Context, req *models.CompletionRequest) (provider.ChunkStream, error) {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()
	if a.streamErr != nil {
		return nil, a.streamErr
	}
	return newStubStream(nil, a.chunks...), nil
}

func (a *stubAdapter) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// inlineSubmitter runs jobs on their own goroutine and lets tests wait for
// them, standing in for the worker pool.
type inlineSubmitter struct {
	wg sync.WaitGroup
}

func (s *inlineSubmitter) Submit(job func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		job()
	}()
}

func (s *inlineSubmitter) wait(t *testing.T) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("detached persistence never finished")
	}
}

func newTestService(adapter provider.Adapter, store ExchangeStore) (*Service, *inlineSubmitter) {
	sub := &inlineSubmitter{}
	registry := provider.NewRegistry(adapter.Name(), adapter)
	return NewService(registry, store, sub, zerolog.Nop()), sub
}

func streamRequest() *models.CompletionRequest {
	return &models.CompletionRequest{
		ConversationID: "c1",
		Messages: []models.TurnMessage{
			{Role: models.RoleUser, Content: "say hello"},
		},
	}
}

func TestCompleteStreamsAndPersists(t *testing.T) {
	chunks := textChunks("He", "llo")
	chunks[1].Usage = &models.TokenUsage{PromptTokens: 2, CompletionTokens: 2, TotalTokens: 4}
	chunks[1].FinishReason = models.FinishStop
	adapter := &stubAdapter{name: "stub", configured: true, model: "stub-1", chunks: chunks}
	store := &stubExchangeStore{}
	svc, sub := newTestService(adapter, store)

	result, err := svc.Complete(context.Background(), streamRequest())
	require.NoError(t, err)
	assert.Equal(t, "stub", result.Provider)
	assert.Equal(t, "stub-1", result.Model)

	text, err := drain(t, result.Stream)
	require.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "Hello", text)
	require.NoError(t, result.Stream.Close())

	sub.wait(t)
	saved := store.exchanges()
	require.Len(t, saved, 1)
	assert.Equal(t, "Hello", saved[0].AssistantContent)
	assert.Equal(t, "say hello", saved[0].UserContent)

	// one upstream call serves both the emitter and the collector
	assert.Equal(t, 1, adapter.callCount())
}

func TestCompleteRejectsBeforeAdapterInvoked(t *testing.T) {
	adapter := &stubAdapter{name: "stub", configured: true, model: "stub-1"}
	svc, _ := newTestService(adapter, &stubExchangeStore{})

	req := streamRequest()
	req.Messages = nil
	_, err := svc.Complete(context.Background(), req)
	assert.True(t, fault.Is(err, fault.KindValidation))
	assert.Zero(t, adapter.callCount())
}

func TestCompleteRequiresUserLastMessage(t *testing.T) {
	adapter := &stubAdapter{name: "stub", configured: true, model: "stub-1"}
	svc, _ := newTestService(adapter, &stubExchangeStore{})

	req := streamRequest()
	req.Messages = append(req.Messages, models.TurnMessage{Role: models.RoleAssistant, Content: "earlier answer"})
	_, err := svc.Complete(context.Background(), req)
	assert.True(t, fault.Is(err, fault.KindValidation))
	assert.Zero(t, adapter.callCount())
}

func TestCompleteUnconfiguredProvider(t *testing.T) {
	adapter := &stubAdapter{name: "stub", configured: false, model: "stub-1"}
	svc, _ := newTestService(adapter, &stubExchangeStore{})

	_, err := svc.Complete(context.Background(), streamRequest())
	assert.True(t, fault.Is(err, fault.KindProviderConfig))
	assert.Zero(t, adapter.callCount())
}

func TestCompleteModelOverride(t *testing.T) {
	adapter := &stubAdapter{name: "stub", configured: true, model: "stub-1", chunks: textChunks("x")}
	svc, sub := newTestService(adapter, &stubExchangeStore{})

	req := streamRequest()
	req.ModelOverride = "stub-2"
	result, err := svc.Complete(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "stub-2", result.Model)
	result.Stream.Close()
	sub.wait(t)
}

func TestCompletePersistenceFailureInvisibleToEmitter(t *testing.T) {
	adapter := &stubAdapter{name: "stub", configured: true, model: "stub-1", chunks: textChunks("fine")}
	store := &stubExchangeStore{err: errors.New("db gone")}
	svc, sub := newTestService(adapter, store)

	result, err := svc.Complete(context.Background(), streamRequest())
	require.NoError(t, err)
	text, err := drain(t, result.Stream)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "fine", text)
	sub.wait(t)
}

func TestCompleteSyncPersistsDetached(t *testing.T) {
	adapter := &stubAdapter{name: "stub", configured: true, model: "stub-1", chunks: textChunks("whole answer")}
	store := &stubExchangeStore{}
	svc, sub := newTestService(adapter, store)

	completion, name, err := svc.CompleteSync(context.Background(), streamRequest())
	require.NoError(t, err)
	assert.Equal(t, "stub", name)
	assert.Equal(t, "whole answer", completion.Content)
	assert.Equal(t, 7, completion.Usage.TotalTokens)

	sub.wait(t)
	saved := store.exchanges()
	require.Len(t, saved, 1)
	assert.Equal(t, "whole answer", saved[0].AssistantContent)
	require.NotNil(t, saved[0].CompletionTokens)
	assert.Equal(t, 4, *saved[0].CompletionTokens)
}

func TestCompleteSyncAdapterFailure(t *testing.T) {
	adapter := &stubAdapter{name: "stub", configured: true, model: "stub-1", streamErr: fault.API("stub", 429, errors.New("rate limited"))}
	store := &stubExchangeStore{}
	svc, _ := newTestService(adapter, store)

	_, _, err := svc.CompleteSync(context.Background(), streamRequest())
	assert.True(t, fault.Is(err, fault.KindProviderAPI))
	assert.Empty(t, store.exchanges())
}
