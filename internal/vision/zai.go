package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"wikiseek/internal/models"
)

// ZAIModel calls the Z.AI GLM vision chat API directly.
type ZAIModel struct {
	apiKey     string
	baseURL    string
	model      string
	maxRetries int
	retryDelay time.Duration
	httpClient *http.Client
}

func NewZAIModel(apiKey, baseURL, model string) *ZAIModel {
	if baseURL == "" {
		baseURL = "https://open.bigmodel.cn/api/paas/v4/"
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	if model == "" {
		model = "glm-4.5v"
	}
	return &ZAIModel{
		apiKey:     apiKey,
		baseURL:    baseURL,
		model:      model,
		maxRetries: 2,
		retryDelay: 2 * time.Second,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
}

func (m *ZAIModel) Name() string {
	return "zai:" + m.model
}

// Warmup only checks configuration; the API has no cheap readiness endpoint.
func (m *ZAIModel) Warmup(ctx context.Context) error {
	if m.apiKey == "" {
		return ErrModelUnavailable
	}
	return nil
}

type zaiContent struct {
	Type     string       `json:"type"`
	Text     string       `json:"text,omitempty"`
	ImageURL *zaiImageURL `json:"image_url,omitempty"`
}

type zaiImageURL struct {
	URL string `json:"url"`
}

type zaiMessage struct {
	Role    string       `json:"role"`
	Content []zaiContent `json:"content"`
}

type zaiThinking struct {
	Type string `json:"type"`
}

type zaiRequest struct {
	Model       string       `json:"model"`
	Messages    []zaiMessage `json:"messages"`
	Thinking    zaiThinking  `json:"thinking"`
	Stream      bool         `json:"stream"`
	Temperature float64      `json:"temperature"`
	MaxTokens   int          `json:"max_tokens"`
}

type zaiResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (m *ZAIModel) Predict(ctx context.Context, imageDataURI string) ([]models.ClassificationLabel, error) {
	if m.apiKey == "" {
		return nil, ErrModelUnavailable
	}

	request := zaiRequest{
		Model: m.model,
		Messages: []zaiMessage{{
			Role: "user",
			Content: []zaiContent{
				{Type: "image_url", ImageURL: &zaiImageURL{URL: imageDataURI}},
				{Type: "text", Text: systemPrompt + " " + labelPrompt},
			},
		}},
		Thinking:    zaiThinking{Type: "disabled"},
		Temperature: 0.2,
		MaxTokens:   1024,
	}
	reqBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("marshal vision request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * m.retryDelay):
			}
		}

		content, retry, err := m.execute(ctx, reqBody)
		if err == nil {
			return parseLabels(content)
		}
		lastErr = err
		if !retry {
			return nil, err
		}
	}
	return nil, fmt.Errorf("vision api failed after %d attempts: %w", m.maxRetries+1, lastErr)
}

// execute performs one call. The bool reports whether a retry may help.
func (m *ZAIModel) execute(ctx context.Context, reqBody []byte) (string, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return "", false, fmt.Errorf("create http request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+m.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept-Language", "en-US,en")

	resp, err := m.httpClient.Do(httpReq)
	if err != nil {
		return "", true, fmt.Errorf("execute vision request: %w", err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return "", true, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("vision api error: status=%d, body=%s", resp.StatusCode, string(body))
		return "", resp.StatusCode >= 500, err
	}

	var visionResp zaiResponse
	if err := json.Unmarshal(body, &visionResp); err != nil {
		return "", true, fmt.Errorf("unmarshal vision response: %w", err)
	}
	if len(visionResp.Choices) == 0 || visionResp.Choices[0].Message.Content == "" {
		return "", true, fmt.Errorf("vision api returned no content")
	}
	return visionResp.Choices[0].Message.Content, false, nil
}

var _ Model = (*ZAIModel)(nil)
