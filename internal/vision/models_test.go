package vision

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wikiseek/internal/models"
)

func chatReply(content string) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-test",
		"object":  "chat.completion",
		"created": 0,
		"model":   "test-model",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
	}
}

func TestOpenAIModel(t *testing.T) {
	var gotImage bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/models/test-model":
			_ = json.NewEncoder(w).Encode(map[string]any{"id": "test-model", "object": "model", "owned_by": "test"})
		case r.Method == http.MethodPost && r.URL.Path == "/v1/chat/completions":
			body, _ := io.ReadAll(r.Body)
			gotImage = strings.Contains(string(body), "data:image/jpeg;base64,AAAA")
			_ = json.NewEncoder(w).Encode(chatReply("```json\n{\"labels\":[{\"label\":\"cat\",\"confidence\":0.92}]}\n```"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	m := NewOpenAIModel("sk-test", srv.URL+"/v1", "test-model")
	require.NoError(t, m.Warmup(context.Background()))

	labels, err := m.Predict(context.Background(), "data:image/jpeg;base64,AAAA")
	require.NoError(t, err)
	assert.True(t, gotImage)
	assert.Equal(t, []models.ClassificationLabel{{Label: "cat", Confidence: 0.92}}, labels)
}

func TestOpenAIModelWithoutKey(t *testing.T) {
	m := NewOpenAIModel("", "", "gpt-4o-mini")
	assert.ErrorIs(t, m.Warmup(context.Background()), ErrModelUnavailable)
	_, err := m.Predict(context.Background(), "data:")
	assert.ErrorIs(t, err, ErrModelUnavailable)
}

func TestZAIModelRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer zai-key", r.Header.Get("Authorization"))
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(chatReply(`Sure! {"labels":[{"label":"Eiffel Tower","confidence":0.8}]}`))
	}))
	defer srv.Close()

	m := NewZAIModel("zai-key", srv.URL+"/api", "")
	m.retryDelay = time.Millisecond
	require.NoError(t, m.Warmup(context.Background()))

	labels, err := m.Predict(context.Background(), "data:image/jpeg;base64,AAAA")
	require.NoError(t, err)
	assert.Equal(t, []models.ClassificationLabel{{Label: "Eiffel Tower", Confidence: 0.8}}, labels)
	assert.EqualValues(t, 2, calls.Load())
}

func TestZAIModelDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	m := NewZAIModel("bad", srv.URL, "glm-4.5v")
	m.retryDelay = time.Millisecond
	_, err := m.Predict(context.Background(), "data:")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=401")
	assert.EqualValues(t, 1, calls.Load())
}

func TestParseLabels(t *testing.T) {
	labels, err := parseLabels(`{"labels":[]}`)
	require.NoError(t, err)
	assert.Empty(t, labels)

	_, err = parseLabels("I cannot tell")
	assert.ErrorIs(t, err, models.ErrClassification)

	_, err = parseLabels("  ")
	assert.ErrorIs(t, err, models.ErrClassification)
}
