// Package openai adapts the OpenAI chat completions API.
//
// System prompts stay in the message list, which is the backend's native
// convention. Streaming requests opt into usage reporting so the final chunk
// can carry complete token counts; OpenAI delivers those in a trailing event
// with no choices.
package openai

import (
	"context"
	"errors"

	"chatstream/internal/config"
	"chatstream/internal/fault"
	"chatstream/internal/models"
	"chatstream/internal/provider"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	Name         = "openai"
	defaultModel = "gpt-4o-mini"
)

type Adapter struct {
	client *openai.Client
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
	return &Adapter{client: openai.NewClient(opts...), cfg: cfg}
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

func (a *Adapter) buildParams(req *models.CompletionRequest) openai.ChatCompletionNewParams {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, openai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case models.RoleSystem:
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case models.RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Messages: openai.F(msgs),
		Model:    openai.F(a.model(req)),
		N:        openai.Int(1),
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	switch {
	case req.MaxOutputTokens != nil:
		params.MaxTokens = openai.Int(int64(*req.MaxOutputTokens))
	case a.cfg.MaxOutputTokens > 0:
		params.MaxTokens = openai.Int(int64(a.cfg.MaxOutputTokens))
	}
	return params
}

func (a *Adapter) Generate(ctx context.Context, req *models.CompletionRequest) (*models.Completion, error) {
	if !a.Configured() {
		return nil, fault.Config("openai api key is not configured")
	}
	chat, err := a.client.Chat.Completions.New(ctx, a.buildParams(req))
	if err != nil {
		return nil, classify(err)
	}
	if len(chat.Choices) == 0 {
		return nil, fault.API(Name, 0, errors.New("completion response has no choices"))
	}
	choice := chat.Choices[0]
	usage := models.TokenUsage{
		PromptTokens:     int(chat.Usage.PromptTokens),
		CompletionTokens: int(chat.Usage.CompletionTokens),
	}
	usage.Normalize()
	return &models.Completion{
		Content:      choice.Message.Content,
		Model:        chat.Model,
		Usage:        usage,
		FinishReason: mapFinishReason(string(choice.FinishReason)),
	}, nil
}

func (a *Adapter) Stream(ctx context.Context, req *models.CompletionRequest) (provider.ChunkStream, error) {
	if !a.Configured() {
		return nil, fault.Config("openai api key is not configured")
	}
	params := a.buildParams(req)
	params.StreamOptions = openai.F(openai.ChatCompletionStreamOptionsParam{
		IncludeUsage: openai.Bool(true),
	})
	pipe := provider.NewPipe(0)
	go a.runStream(ctx, params, pipe)
	return pipe, nil
}

func (a *Adapter) runStream(ctx context.Context, params openai.ChatCompletionNewParams, pipe *provider.Pipe) {
	strm := a.client.Chat.Completions.NewStreaming(ctx, params)
	defer strm.Close()

	var acc openai.ChatCompletionAccumulator
	finish := models.FinishStop
	model := ""
	for strm.Next() {
		chunk := strm.Current()
		acc.AddChunk(chunk)
		if chunk.Model != "" {
			model = chunk.Model
		}
		if len(chunk.Choices) == 0 {
			// trailing usage event
			continue
		}
		choice := chunk.Choices[0]
		if choice.FinishReason != "" {
			finish = mapFinishReason(string(choice.FinishReason))
		}
		if choice.Delta.Content == "" {
			continue
		}
		if !pipe.Send(models.Chunk{ContentDelta: choice.Delta.Content}) {
			return
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
		PromptTokens:     int(acc.Usage.PromptTokens),
		CompletionTokens: int(acc.Usage.CompletionTokens),
	}
	usage.Normalize()
	pipe.Send(models.Chunk{
		IsFinal:      true,
		Model:        model,
		Usage:        &usage,
		FinishReason: finish,
	})
	pipe.CloseSend()
}

// mapFinishReason maps OpenAI finish reasons onto the shared enum.
func mapFinishReason(reason string) models.FinishReason {
	switch reason {
	case "length":
		return models.FinishLength
	case "content_filter":
		return models.FinishContentFilter
	case "tool_calls", "function_call":
		return models.FinishToolCalls
	default:
		return models.FinishStop
	}
}

func classify(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		return fault.API(Name, apierr.StatusCode, err)
	}
	return fault.API(Name, 0, err)
}
