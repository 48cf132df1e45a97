package vision

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"wikiseek/internal/models"
)

// ErrModelUnavailable is returned when no API key was configured.
var ErrModelUnavailable = errors.New("vision model is not configured")

// OpenAIModel labels images through an OpenAI-compatible chat completion API.
type OpenAIModel struct {
	client *openai.Client
	model  string
}

func NewOpenAIModel(apiKey, endpoint, model string) *OpenAIModel {
	if apiKey == "" {
		return &OpenAIModel{model: model}
	}
	cfg := openai.DefaultConfig(apiKey)
	if endpoint != "" {
		cfg.BaseURL = endpoint
	}
	return &OpenAIModel{client: openai.NewClientWithConfig(cfg), model: model}
}

func (m *OpenAIModel) Name() string {
	return "openai:" + m.model
}

func (m *OpenAIModel) Warmup(ctx context.Context) error {
	if m.client == nil || m.model == "" {
		return ErrModelUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := m.client.GetModel(ctx, m.model); err != nil {
		return fmt.Errorf("get model %s: %w", m.model, err)
	}
	return nil
}

func (m *OpenAIModel) Predict(ctx context.Context, imageDataURI string) ([]models.ClassificationLabel, error) {
	if m.client == nil {
		return nil, ErrModelUnavailable
	}

	req := openai.ChatCompletionRequest{
		Model: m.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt,
			},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: labelPrompt,
					},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    imageDataURI,
							Detail: openai.ImageURLDetailLow,
						},
					},
				},
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
		Temperature:    0.2,
		MaxTokens:      512,
	}

	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	resp, err := m.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("request openai labels: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai returned no choices")
	}
	return parseLabels(resp.Choices[0].Message.Content)
}

var _ Model = (*OpenAIModel)(nil)
