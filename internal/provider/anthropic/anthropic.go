// Package anthropic adapts the Anthropic messages API.
//
// The backend takes system instructions in a dedicated top-level field, so
// caller-supplied system-role messages are filtered out of the message list
// and folded into that field. MaxTokens is mandatory upstream; requests that
// leave it unset get the backend's customary 4096. Prompt token counts arrive
// on the stream's opening event and output counts on the closing delta, so
// the adapter accumulates both and reports complete usage on the final chunk.
package anthropic

import (
	"context"
	"errors"
	"strings"

	"chatstream/internal/config"
	"chatstream/internal/fault"
	"chatstream/internal/models"
	"chatstream/internal/provider"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	Name             = "anthropic"
	defaultModel     = "claude-3-7-sonnet-latest"
	defaultMaxTokens = 4096
)

type Adapter struct {
	client anthropic.Client
	cfg    config.ProviderConfig
}

func New(cfg config.ProviderConfig) *Adapter {
	var opts []option.RequestOption
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Adapter{client: anthropic.NewClient(opts...), cfg: cfg}
}

func (a *Adapter) Name() string     { return Name }
func (a *Adapter) Configured() bool { return a.cfg.APIKey != "" }

func (a *Adapter) DefaultModel() string {
	if a.cfg.Model != "" {
		return a.cfg.Model
	}
	return defaultModel
}

func (a *Adapter) model(req *models.CompletionRequest) string {
	if req.ModelOverride != "" {
		return req.ModelOverride
	}
	return a.DefaultModel()
}

func (a *Adapter) maxTokens(req *models.CompletionRequest) int64 {
	if req.MaxOutputTokens != nil {
		return int64(*req.MaxOutputTokens)
	}
	if a.cfg.MaxOutputTokens > 0 {
		return int64(a.cfg.MaxOutputTokens)
	}
	return defaultMaxTokens
}

func (a *Adapter) buildParams(req *models.CompletionRequest) anthropic.MessageNewParams {
	var systemParts []string
	if req.SystemPrompt != "" {
		systemParts = append(systemParts, req.SystemPrompt)
	}
	msgs := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case models.RoleSystem:
			// system content lives in the top-level field, not the list
			systemParts = append(systemParts, m.Content)
		case models.RoleAssistant:
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model(req)),
		MaxTokens: a.maxTokens(req),
		Messages:  msgs,
	}
	if len(systemParts) > 0 {
		params.System = []anthropic.TextBlockParam{
			{Text: strings.Join(systemParts, "\n\n")},
		}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	return params
}

func (a *Adapter) Generate(ctx context.Context, req *models.CompletionRequest) (*models.Completion, error) {
	if !a.Configured() {
		return nil, fault.Config("anthropic api key is not configured")
	}
	msg, err := a.client.Messages.New(ctx, a.buildParams(req))
	if err != nil {
		return nil, classify(err)
	}
	return completionFromMessage(msg), nil
}

func completionFromMessage(msg *anthropic.Message) *models.Completion {
	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	usage := models.TokenUsage{
		PromptTokens:     int(msg.Usage.InputTokens),
		CompletionTokens: int(msg.Usage.OutputTokens),
	}
	usage.Normalize()
	return &models.Completion{
		Content:      text.String(),
		Model:        string(msg.Model),
		Usage:        usage,
		FinishReason: mapStopReason(string(msg.StopReason)),
	}
}

func (a *Adapter) Stream(ctx context.Context, req *models.CompletionRequest) (provider.ChunkStream, error) {
	if !a.Configured() {
		return nil, fault.Config("anthropic api key is not configured")
	}
	pipe := provider.NewPipe(0)
	go a.runStream(ctx, a.buildParams(req), pipe)
	return pipe, nil
}

func (a *Adapter) runStream(ctx context.Context, params anthropic.MessageNewParams, pipe *provider.Pipe) {
	strm := a.client.Messages.NewStreaming(ctx, params)
	defer strm.Close()

	var acc anthropic.Message
	for strm.Next() {
		event := strm.Current()
		if err := acc.Accumulate(event); err != nil {
			pipe.Fail(fault.Stream(Name, err))
			return
		}
		switch eventVariant := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch deltaVariant := eventVariant.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if deltaVariant.Text == "" {
					continue
				}
				if !pipe.Send(models.Chunk{ContentDelta: deltaVariant.Text}) {
					return
				}
			}
		}
	}
	if err := strm.Err(); err != nil {
		pipe.Fail(fault.Stream(Name, classify(err)))
		return
	}
	if err := ctx.Err(); err != nil {
		pipe.Fail(fault.Stream(Name, err))
		return
	}

	usage := models.TokenUsage{
		PromptTokens:     int(acc.Usage.InputTokens),
		CompletionTokens: int(acc.Usage.OutputTokens),
	}
	usage.Normalize()
	pipe.Send(models.Chunk{
		IsFinal:      true,
		Model:        string(acc.Model),
		Usage:        &usage,
		FinishReason: mapStopReason(string(acc.StopReason)),
	})
	pipe.CloseSend()
}

// mapStopReason maps Anthropic stop reasons onto the shared enum. Both a
// natural end and a hit stop sequence count as stop.
func mapStopReason(reason string) models.FinishReason {
	switch reason {
	case "max_tokens":
		return models.FinishLength
	case "tool_use":
		return models.FinishToolCalls
	case "refusal":
		return models.FinishContentFilter
	default:
		return models.FinishStop
	}
}

func classify(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		return fault.API(Name, apierr.StatusCode, err)
	}
	return fault.API(Name, 0, err)
}
