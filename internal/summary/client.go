package summary

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"wikiseek/internal/models"
)

const maxBodyBytes = 1 << 20

// Client queries the Wikipedia REST page summary endpoint.
type Client struct {
	config  Config
	client  *http.Client
	limiter *rate.Limiter
	cache   *lru.Cache[string, models.SearchResult]
	group   singleflight.Group
	log     zerolog.Logger
}

// NewClient creates a summary client with the given configuration.
func NewClient(config Config, log zerolog.Logger) *Client {
	if config.APIBase == "" {
		config.APIBase = "https://en.wikipedia.org/api/rest_v1"
	}
	config.APIBase = strings.TrimRight(config.APIBase, "/")
	if config.SearchBase == "" {
		config.SearchBase = "https://en.wikipedia.org/wiki/Special:Search"
	}
	if config.UserAgent == "" {
		config.UserAgent = "wikiseek/1.0 (search widget backend)"
	}
	if config.Timeout == 0 {
		config.Timeout = 10
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 1
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}

	c := &Client{
		config: config,
		client: &http.Client{Timeout: time.Duration(config.Timeout) * time.Second},
		log:    log.With().Str("component", "summary").Logger(),
	}
	if config.RatePerSecond > 0 {
		burst := int(config.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(config.RatePerSecond), burst)
	}
	if config.CacheSize > 0 {
		// only fails for a non-positive size
		c.cache, _ = lru.New[string, models.SearchResult](config.CacheSize)
	}
	return c
}

// WithHTTPClient swaps the transport, mainly for tests.
func (c *Client) WithHTTPClient(client *http.Client) *Client {
	c.client = client
	return c
}

// ManualSearchURL links to a full-text search for query on the encyclopedia.
func (c *Client) ManualSearchURL(query string) string {
	return ManualSearchURL(c.config.SearchBase, query)
}

// ManualSearchURL builds a search link under base carrying the URL-encoded query.
func ManualSearchURL(base, query string) string {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "search=" + url.QueryEscape(query)
}

// Lookup resolves query to a summary. Failures unwrap to models.ErrNotFound or
// models.ErrTransport.
func (c *Client) Lookup(ctx context.Context, query string) (models.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return models.SearchResult{}, notFound("empty_query", "No summary found", "query is empty", 0)
	}

	if c.cache != nil {
		if res, ok := c.cache.Get(query); ok {
			return res, nil
		}
	}

	v, err, shared := c.group.Do(query, func() (any, error) {
		return c.lookupWithRetry(ctx, query)
	})
	if err != nil {
		return models.SearchResult{}, err
	}
	res := v.(models.SearchResult)
	if shared {
		c.log.Debug().Str("query", query).Msg("collapsed concurrent lookup")
	}
	if c.cache != nil {
		c.cache.Add(query, res)
	}
	return res, nil
}

func (c *Client) lookupWithRetry(ctx context.Context, query string) (models.SearchResult, error) {
	var lastErr *LookupError
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.log.Debug().Str("query", query).Int("attempt", attempt+1).Str("code", lastErr.Code).Msg("retrying summary lookup")
			select {
			case <-ctx.Done():
				return models.SearchResult{}, transportFailure("canceled", "Lookup canceled", ctx.Err().Error())
			case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
			}
		}

		res, err := c.executeSingleRequest(ctx, query)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !retryable(err) {
			break
		}
	}
	if lastErr == nil {
		return models.SearchResult{}, transportFailure("no_attempt", "Lookup was not attempted", "")
	}
	return models.SearchResult{}, lastErr
}

func retryable(err *LookupError) bool {
	switch err.Code {
	case "request_failed", "read_failed":
		return true
	case "upstream_status":
		return err.Status >= 500
	}
	return false
}

func (c *Client) executeSingleRequest(ctx context.Context, query string) (models.SearchResult, *LookupError) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return models.SearchResult{}, transportFailure("rate_limited", "Lookup rate limit wait failed", err.Error())
		}
	}

	endpoint := c.config.APIBase + "/page/summary/" + url.PathEscape(query)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return models.SearchResult{}, transportFailure("request_creation_failed", "Failed to create HTTP request", err.Error())
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.config.UserAgent)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return models.SearchResult{}, transportFailure("request_failed", "Summary request failed", err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return models.SearchResult{}, transportFailure("read_failed", "Failed to read summary response", err.Error())
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return models.SearchResult{}, notFound("upstream_status", "No summary found", fmt.Sprintf("status=%d", resp.StatusCode), resp.StatusCode)
	}

	var page pageSummary
	if err := json.Unmarshal(body, &page); err != nil {
		return models.SearchResult{}, notFound("invalid_body", "No summary found", err.Error(), resp.StatusCode)
	}
	if page.Title == "" || page.Extract == "" || page.link() == "" {
		return models.SearchResult{}, notFound("missing_fields", "No summary found", "title, extract or page link missing", resp.StatusCode)
	}

	return models.SearchResult{
		Title:   page.Title,
		Snippet: page.Extract,
		Link:    page.link(),
	}, nil
}

var _ Looker = (*Client)(nil)
