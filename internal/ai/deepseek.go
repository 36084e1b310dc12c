package ai

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/camuig/riskbot/internal/config"
	"github.com/camuig/riskbot/internal/logger"
)

// chatCompleter is the part of the OpenAI client the advisor uses.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type DeepSeekClient struct {
	client chatCompleter
	model  string
	cfg    *config.Config
	logger *logger.Logger
}

func NewDeepSeekClient(cfg *config.Config, log *logger.Logger) *DeepSeekClient {
	ocfg := openai.DefaultConfig(cfg.DeepSeek.APIKey)
	ocfg.BaseURL = cfg.DeepSeek.BaseURL

	return &DeepSeekClient{
		client: openai.NewClientWithConfig(ocfg),
		model:  cfg.DeepSeek.Model,
		cfg:    cfg,
		logger: log,
	}
}

// Enabled reports whether an API key is configured.
func (d *DeepSeekClient) Enabled() bool {
	return d.cfg.DeepSeek.APIKey != ""
}

func (d *DeepSeekClient) Advise(ctx context.Context, req *Request) (*Decision, error) {
	if !d.Enabled() {
		return nil, fmt.Errorf("deepseek api key not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.DeepSeekTimeout())
	defer cancel()

	d.logger.Debug("sending advice request to DeepSeek", "symbol", req.Symbol)

	resp, err := d.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: d.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: BuildUserPrompt(req)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("deepseek API call: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("deepseek returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	d.logger.Debug("AI raw response", "symbol", req.Symbol, "content", raw)

	decision, err := ParseDecision(raw)
	if err != nil {
		return nil, fmt.Errorf("parse AI response: %w", err)
	}
	return decision, nil
}
