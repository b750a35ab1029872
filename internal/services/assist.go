package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/modelmint/backend/internal/config"
	"github.com/modelmint/backend/pkg/logger"
)

var (
	// ErrAssistNotConfigured means no API key was provided; the endpoint is
	// disabled rather than broken.
	ErrAssistNotConfigured = errors.New("assist is not configured")
	ErrAssistFailed        = errors.New("assist request failed")
)

// AssistRequest asks for help with a model type or one of its
// hyperparameters.
type AssistRequest struct {
	ModelType string `json:"model_type" binding:"required"`
	ParamKey  string `json:"param_key"`
	Question  string `json:"question" binding:"required,max=500"`
}

// AssistService answers short modeling questions through an LLM. Answers are
// billable and cached like any other computed read.
type AssistService struct {
	client *openai.Client
	model  string
}

func NewAssistService(cfg *config.OpenAIConfig) *AssistService {
	if cfg.APIKey == "" {
		return &AssistService{}
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second}

	return &AssistService{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
	}
}

// Enabled reports whether an API key was configured.
func (s *AssistService) Enabled() bool { return s.client != nil }

// Explain answers a question about a model type or hyperparameter. The reply
// is plain text, capped short so the cached payload stays small.
func (s *AssistService) Explain(ctx context.Context, req *AssistRequest) (string, error) {
	if s.client == nil {
		return "", ErrAssistNotConfigured
	}

	subject := req.ModelType
	if req.ParamKey != "" {
		subject = fmt.Sprintf("the %q hyperparameter of %s", req.ParamKey, req.ModelType)
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     s.model,
		MaxTokens: 400,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleSystem,
				Content: "You are a concise machine learning tutor. Answer in at most " +
					"three short paragraphs, no code unless asked.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: fmt.Sprintf("About %s: %s", subject, req.Question),
			},
		},
	})
	if err != nil {
		logger.Error().Err(err).Msg("assist completion failed")
		return "", fmt.Errorf("%w: %v", ErrAssistFailed, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty completion", ErrAssistFailed)
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
