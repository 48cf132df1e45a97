package summary

import (
	"context"
	"errors"

	"wikiseek/internal/models"
)

// Looker resolves a topic query to a short description and canonical link.
type Looker interface {
	Lookup(ctx context.Context, query string) (models.SearchResult, error)
	ManualSearchURL(query string) string
}

// Config holds configuration for the summary client.
type Config struct {
	// APIBase is the REST root, e.g. https://en.wikipedia.org/api/rest_v1
	APIBase string
	// SearchBase is the full-text search page used for fallback links.
	SearchBase string
	UserAgent  string

	// Timeout in seconds for a single HTTP request (default: 10)
	Timeout int
	// MaxRetries applies to transport failures and 5xx answers (default: 1,
	// negative disables retries)
	MaxRetries int
	// RatePerSecond caps outbound requests; 0 disables limiting.
	RatePerSecond float64
	// CacheSize is the number of successful lookups kept; 0 disables caching.
	CacheSize int
}

// LookupError describes why a lookup did not produce a result. It unwraps to
// models.ErrNotFound or models.ErrTransport so callers can branch with errors.Is
// while logs keep the finer Code.
type LookupError struct {
	Code    string
	Message string
	Details string
	Status  int
	kind    error
}

func (e *LookupError) Error() string {
	if e.Details != "" {
		return e.Message + ": " + e.Details
	}
	return e.Message
}

func (e *LookupError) Unwrap() error {
	return e.kind
}

func notFound(code, message, details string, status int) *LookupError {
	return &LookupError{Code: code, Message: message, Details: details, Status: status, kind: models.ErrNotFound}
}

func transportFailure(code, message, details string) *LookupError {
	return &LookupError{Code: code, Message: message, Details: details, kind: models.ErrTransport}
}

// ErrorCode returns the LookupError code carried by err, or "" for other errors.
func ErrorCode(err error) string {
	var lookupErr *LookupError
	if errors.As(err, &lookupErr) {
		return lookupErr.Code
	}
	return ""
}

type pageSummary struct {
	Type        string `json:"type"`
	Title       string `json:"title"`
	Extract     string `json:"extract"`
	ContentURLs *struct {
		Desktop *struct {
			Page string `json:"page"`
		} `json:"desktop"`
	} `json:"content_urls"`
}

func (p pageSummary) link() string {
	if p.ContentURLs == nil || p.ContentURLs.Desktop == nil {
		return ""
	}
	return p.ContentURLs.Desktop.Page
}
