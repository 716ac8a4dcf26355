package chat

import (
	"context"

	"github.com/rs/zerolog"

	"chatstream/internal/fault"
	"chatstream/internal/models"
	"chatstream/internal/provider"
)

// Submitter schedules a detached task. Satisfied by worker.Pool.
type Submitter interface {
	Submit(job func())
}

// Service drives one completion end to end: validate, select the adapter,
// make the single upstream call, duplicate the resulting stream, hand one
// branch to the caller and the other to the persistence collector.
type Service struct {
	registry  *provider.Registry
	collector *Collector
	pool      Submitter
	log       zerolog.Logger
}

func NewService(registry *provider.Registry, store ExchangeStore, pool Submitter, log zerolog.Logger) *Service {
	return &Service{
		registry:  registry,
		collector: NewCollector(store, log),
		pool:      pool,
		log:       log,
	}
}

// StreamResult is a running generation: the emitter branch plus the metadata
// the caller carries out of band.
type StreamResult struct {
	Provider string
	Model    string
	Stream   provider.ChunkStream
}

func (s *Service) prepare(req *models.CompletionRequest) (*models.CompletionRequest, provider.Adapter, error) {
	validated, err := ValidateRequest(req)
	if err != nil {
		return nil, nil, err
	}
	if validated.LastMessage().Role != models.RoleUser {
		return nil, nil, fault.Validation(fault.FieldError{
			Field:  "messages",
			Detail: "last message must have role user",
		})
	}
	adapter, err := s.registry.Select()
	if err != nil {
		return nil, nil, err
	}
	return validated, adapter, nil
}

func resolvedModel(adapter provider.Adapter, req *models.CompletionRequest) string {
	if req.ModelOverride != "" {
		return req.ModelOverride
	}
	return adapter.DefaultModel()
}

// Complete starts a streamed generation. The returned stream is the caller's
// branch; the collector branch is already scheduled on the pool and will
// persist the exchange once the generation finishes, without ever delaying or
// re-invoking the upstream call.
func (s *Service) Complete(ctx context.Context, req *models.CompletionRequest) (*StreamResult, error) {
	validated, adapter, err := s.prepare(req)
	if err != nil {
		return nil, err
	}

	src, err := adapter.Stream(ctx, validated)
	if err != nil {
		return nil, err
	}

	emit, collect := Tee(src)
	s.pool.Submit(func() {
		s.collector.Run(validated, collect)
	})

	return &StreamResult{
		Provider: adapter.Name(),
		Model:    resolvedModel(adapter, validated),
		Stream:   emit,
	}, nil
}

// CompleteSync runs the non-incremental path. Persistence still happens as a
// detached task so a storage fault cannot reach the caller here either.
func (s *Service) CompleteSync(ctx context.Context, req *models.CompletionRequest) (*models.Completion, string, error) {
	validated, adapter, err := s.prepare(req)
	if err != nil {
		return nil, "", err
	}

	completion, err := adapter.Generate(ctx, validated)
	if err != nil {
		return nil, "", err
	}

	s.pool.Submit(func() {
		s.persistCompletion(validated, completion)
	})
	return completion, adapter.Name(), nil
}

func (s *Service) persistCompletion(req *models.CompletionRequest, completion *models.Completion) {
	pipe := provider.NewPipe(1)
	usage := completion.Usage
	pipe.Send(models.Chunk{
		ContentDelta: completion.Content,
		IsFinal:      true,
		Model:        completion.Model,
		Usage:        &usage,
		FinishReason: completion.FinishReason,
	})
	pipe.CloseSend()
	s.collector.Run(req, pipe)
}
