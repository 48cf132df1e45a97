package summary

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wikiseek/internal/models"
)

const einsteinJSON = `{
	"type": "standard",
	"title": "Albert Einstein",
	"extract": "Albert Einstein was a German-born theoretical physicist.",
	"content_urls": {"desktop": {"page": "https://en.wikipedia.org/wiki/Albert_Einstein"}}
}`

func newTestClient(t *testing.T, handler http.HandlerFunc, cfg Config) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg.APIBase = srv.URL + "/api/rest_v1/"
	return NewClient(cfg, zerolog.Nop())
}

func TestLookupSuccess(t *testing.T) {
	var gotPath, gotUA string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(einsteinJSON))
	}, Config{})

	res, err := client.Lookup(context.Background(), "  Albert Einstein ")
	require.NoError(t, err)
	assert.Equal(t, "Albert Einstein", res.Title)
	assert.NotEmpty(t, res.Snippet)
	assert.Equal(t, "https://en.wikipedia.org/wiki/Albert_Einstein", res.Link)
	assert.Equal(t, "/api/rest_v1/page/summary/Albert%20Einstein", gotPath)
	assert.NotEmpty(t, gotUA)
}

func TestLookupEscapesSlashes(t *testing.T) {
	var gotPath string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		_, _ = w.Write([]byte(einsteinJSON))
	}, Config{})

	_, err := client.Lookup(context.Background(), "AC/DC")
	require.NoError(t, err)
	assert.Equal(t, "/api/rest_v1/page/summary/AC%2FDC", gotPath)
}

func TestLookupNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"type":"not_found"}`, http.StatusNotFound)
	}, Config{})

	_, err := client.Lookup(context.Background(), "zzzxqnotatopic123")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.NotErrorIs(t, err, models.ErrTransport)
	assert.Equal(t, "upstream_status", ErrorCode(err))
}

func TestLookupMissingFields(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"title":"Stub","extract":""}`))
	}, Config{})

	_, err := client.Lookup(context.Background(), "Stub")
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Equal(t, "missing_fields", ErrorCode(err))
}

func TestLookupTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	client := NewClient(Config{APIBase: base}, zerolog.Nop())
	_, err := client.Lookup(context.Background(), "anything")
	assert.ErrorIs(t, err, models.ErrTransport)
	assert.Equal(t, "request_failed", ErrorCode(err))
}

func TestLookupRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(einsteinJSON))
	}, Config{})

	res, err := client.Lookup(context.Background(), "Albert Einstein")
	require.NoError(t, err)
	assert.Equal(t, "Albert Einstein", res.Title)
	assert.EqualValues(t, 2, calls.Load())
}

func TestLookupDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}, Config{MaxRetries: 3})

	_, err := client.Lookup(context.Background(), "nope")
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.EqualValues(t, 1, calls.Load())
}

func TestLookupNegativeRetriesMakesOneAttempt(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}, Config{MaxRetries: -1})

	_, err := client.Lookup(context.Background(), "Albert Einstein")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Equal(t, "upstream_status", ErrorCode(err))
	assert.EqualValues(t, 1, calls.Load())
}

func TestLookupCachesSuccess(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(einsteinJSON))
	}, Config{CacheSize: 8})

	for i := 0; i < 3; i++ {
		_, err := client.Lookup(context.Background(), "Albert Einstein")
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, calls.Load())
}

func TestManualSearchURL(t *testing.T) {
	client := NewClient(Config{}, zerolog.Nop())
	link := client.ManualSearchURL("zzzxqnotatopic123 & more")
	assert.True(t, strings.HasPrefix(link, "https://en.wikipedia.org/wiki/Special:Search?search="))
	assert.Contains(t, link, "zzzxqnotatopic123+%26+more")

	assert.Equal(t, "https://x.test/w/index.php?title=Special:Search&search=a+b",
		ManualSearchURL("https://x.test/w/index.php?title=Special:Search", "a b"))
}
