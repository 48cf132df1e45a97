package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, key := range []string{"HISTORY_CAP", "HISTORY_BACKEND", "MIN_CONFIDENCE", "LABEL_DENYLIST", "VISION_PROVIDER", "POPUP_DISMISS_AFTER"} {
		t.Setenv(key, "")
	}

	cfg := FromEnv()
	assert.Equal(t, 5, cfg.HistoryCap)
	assert.Equal(t, BackendSQLite, cfg.HistoryBackend)
	assert.InDelta(t, 0.30, cfg.MinConfidence, 1e-9)
	assert.Equal(t, 3*time.Second, cfg.PopupDismissAfter)
	assert.Equal(t, ProviderOpenAI, cfg.VisionProvider)
	assert.Contains(t, cfg.LabelDenylist, "artifact")
	assert.Empty(t, cfg.Warnings)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("HISTORY_CAP", "10")
	t.Setenv("HISTORY_BACKEND", "Redis")
	t.Setenv("MIN_CONFIDENCE", "0.5")
	t.Setenv("LABEL_DENYLIST", " Artifact, ,Poster ")
	t.Setenv("VISION_PROVIDER", "zai")

	cfg := FromEnv()
	assert.Equal(t, 10, cfg.HistoryCap)
	assert.Equal(t, BackendRedis, cfg.HistoryBackend)
	assert.InDelta(t, 0.5, cfg.MinConfidence, 1e-9)
	assert.Equal(t, []string{"artifact", "poster"}, cfg.LabelDenylist)
	assert.Equal(t, ProviderZAI, cfg.VisionProvider)
}

func TestFromEnvRejectsBadValues(t *testing.T) {
	t.Setenv("HISTORY_CAP", "lots")
	t.Setenv("HISTORY_BACKEND", "mongo")
	t.Setenv("MIN_CONFIDENCE", "3")
	t.Setenv("VISION_PROVIDER", "")

	cfg := FromEnv()
	assert.Equal(t, 5, cfg.HistoryCap)
	assert.Equal(t, BackendSQLite, cfg.HistoryBackend)
	assert.InDelta(t, 0.30, cfg.MinConfidence, 1e-9)
	assert.Len(t, cfg.Warnings, 3)
}

func TestClassifyTimeoutFitsWriteTimeout(t *testing.T) {
	for _, key := range []string{"CLASSIFY_TIMEOUT", "HTTP_WRITE_TIMEOUT"} {
		t.Setenv(key, "")
	}
	cfg := FromEnv()
	assert.Equal(t, 45*time.Second, cfg.ClassifyTimeout)
	assert.Equal(t, 90*time.Second, cfg.WriteTimeout)
	assert.Less(t, cfg.ClassifyTimeout, cfg.WriteTimeout)

	t.Setenv("CLASSIFY_TIMEOUT", "2m")
	t.Setenv("HTTP_WRITE_TIMEOUT", "60s")
	cfg = FromEnv()
	assert.Equal(t, 30*time.Second, cfg.ClassifyTimeout)
	assert.Len(t, cfg.Warnings, 1)
}
