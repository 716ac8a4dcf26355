// Package provider defines the uniform contract every language-model backend
// adapter satisfies, plus the registry that selects the active one.
//
// Adapters normalize three things the backends disagree on: the incremental
// wire protocol (into models.Chunk), the completion-stop vocabulary (into
// models.FinishReason), and when token usage becomes known (always complete
// on the final chunk, regardless of when the backend delivered it).
package provider

import (
	"context"

	"chatstream/internal/models"
)

// Adapter is implemented once per backend. Adapters are stateless apart from
// immutable configuration established at startup, so a single instance is
// shared across requests.
type Adapter interface {
	// Name returns the provider identifier, e.g. "openai" or "anthropic".
	Name() string

	// Configured reports whether a credential is available. Both call paths
	// fail with a provider-config error before any network call when it is
	// not.
	Configured() bool

	// DefaultModel returns the model used when the request carries no
	// override.
	DefaultModel() string

	// Generate returns the complete response in one shot.
	Generate(ctx context.Context, req *models.CompletionRequest) (*models.Completion, error)

	// Stream returns an incremental response. The returned stream yields
	// chunks until io.EOF; the last chunk before EOF has IsFinal set and
	// carries complete usage and the finish reason.
	Stream(ctx context.Context, req *models.CompletionRequest) (ChunkStream, error)
}

// ChunkStream yields chunks until io.EOF. Close releases the consumer side;
// the producer observes it and stops delivering.
type ChunkStream interface {
	Recv() (models.Chunk, error)
	Close() error
}
