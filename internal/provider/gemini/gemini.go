// Package gemini adapts the Gemini API via the google genai SDK.
//
// Like Anthropic, the backend takes system instructions out of band
// (SystemInstruction), so system-role messages are filtered from the content
// list. Usage metadata rides on every streamed response; the last observed
// value is what the final chunk reports.
package gemini

import (
	"context"
	"errors"
	"strings"

	"chatstream/internal/config"
	"chatstream/internal/fault"
	"chatstream/internal/models"
	"chatstream/internal/provider"

	"google.golang.org/genai"
)

const (
	Name         = "gemini"
	defaultModel = "gemini-2.0-flash"
)

type Adapter struct {
	client *genai.Client
	cfg    config.ProviderConfig
}

// New builds the adapter. Client construction needs credentials; without an
// api key the adapter stays unconfigured and fails fast on use.
func New(cfg config.ProviderConfig) *Adapter {
	a := &Adapter{cfg: cfg}
	if cfg.APIKey == "" {
		return a
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return a
	}
	a.client = client
	return a
}

func (a *Adapter) Name() string     { return Name }
func (a *Adapter) Configured() bool { return a.client != nil }

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

func (a *Adapter) buildRequest(req *models.CompletionRequest) ([]*genai.Content, *genai.GenerateContentConfig) {
	var systemParts []string
	if req.SystemPrompt != "" {
		systemParts = append(systemParts, req.SystemPrompt)
	}
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case models.RoleSystem:
			systemParts = append(systemParts, m.Content)
		case models.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}

	cfg := &genai.GenerateContentConfig{}
	if len(systemParts) > 0 {
		cfg.SystemInstruction = genai.NewContentFromText(strings.Join(systemParts, "\n\n"), genai.RoleUser)
	}
	if req.Temperature != nil {
		cfg.Temperature = genai.Ptr(float32(*req.Temperature))
	}
	switch {
	case req.MaxOutputTokens != nil:
		cfg.MaxOutputTokens = int32(*req.MaxOutputTokens)
	case a.cfg.MaxOutputTokens > 0:
		cfg.MaxOutputTokens = int32(a.cfg.MaxOutputTokens)
	}
	return contents, cfg
}

func (a *Adapter) Generate(ctx context.Context, req *models.CompletionRequest) (*models.Completion, error) {
	if !a.Configured() {
		return nil, fault.Config("gemini api key is not configured")
	}
	contents, genCfg := a.buildRequest(req)
	model := a.model(req)
	resp, err := a.client.Models.GenerateContent(ctx, model, contents, genCfg)
	if err != nil {
		return nil, classify(err)
	}

	usage := usageFromMetadata(resp.UsageMetadata)
	finish := models.FinishStop
	if len(resp.Candidates) > 0 {
		finish = mapFinishReason(resp.Candidates[0].FinishReason)
	}
	return &models.Completion{
		Content:      resp.Text(),
		Model:        model,
		Usage:        usage,
		FinishReason: finish,
	}, nil
}

func (a *Adapter) Stream(ctx context.Context, req *models.CompletionRequest) (provider.ChunkStream, error) {
	if !a.Configured() {
		return nil, fault.Config("gemini api key is not configured")
	}
	contents, genCfg := a.buildRequest(req)
	model := a.model(req)
	pipe := provider.NewPipe(0)
	go a.runStream(ctx, model, contents, genCfg, pipe)
	return pipe, nil
}

func (a *Adapter) runStream(ctx context.Context, model string, contents []*genai.Content, genCfg *genai.GenerateContentConfig, pipe *provider.Pipe) {
	var (
		lastUsage *genai.GenerateContentResponseUsageMetadata
		finish    = models.FinishStop
	)
	for resp, err := range a.client.Models.GenerateContentStream(ctx, model, contents, genCfg) {
		if err != nil {
			pipe.Fail(fault.Stream(Name, classify(err)))
			return
		}
		if resp.UsageMetadata != nil {
			lastUsage = resp.UsageMetadata
		}
		if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason != "" {
			finish = mapFinishReason(resp.Candidates[0].FinishReason)
		}
		delta := resp.Text()
		if delta == "" {
			continue
		}
		if !pipe.Send(models.Chunk{ContentDelta: delta}) {
			return
		}
	}
	if err := ctx.Err(); err != nil {
		pipe.Fail(fault.Stream(Name, err))
		return
	}

	usage := usageFromMetadata(lastUsage)
	pipe.Send(models.Chunk{
		IsFinal:      true,
		Model:        model,
		Usage:        &usage,
		FinishReason: finish,
	})
	pipe.CloseSend()
}

func usageFromMetadata(meta *genai.GenerateContentResponseUsageMetadata) models.TokenUsage {
	var usage models.TokenUsage
	if meta != nil {
		usage.PromptTokens = int(meta.PromptTokenCount)
		usage.CompletionTokens = int(meta.CandidatesTokenCount)
	}
	usage.Normalize()
	return usage
}

// mapFinishReason maps Gemini finish reasons onto the shared enum. The
// various safety verdicts all count as content_filter.
func mapFinishReason(reason genai.FinishReason) models.FinishReason {
	switch reason {
	case genai.FinishReasonMaxTokens:
		return models.FinishLength
	case genai.FinishReasonSafety,
		genai.FinishReasonRecitation,
		genai.FinishReasonBlocklist,
		genai.FinishReasonProhibitedContent,
		genai.FinishReasonSPII:
		return models.FinishContentFilter
	default:
		return models.FinishStop
	}
}

func classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return fault.API(Name, apiErr.Code, err)
	}
	return fault.API(Name, 0, err)
}
