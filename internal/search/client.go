// Package search queries the Tavily web search API.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/fifthdraft/fifthdraft/internal/apperr"
)

const (
	DefaultBaseURL = "https://api.tavily.com"
	providerName   = "tavily"
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 4096
)

// Depth controls how thoroughly the provider searches.
type Depth string

const (
	DepthBasic    Depth = "basic"
	DepthAdvanced Depth = "advanced"
)

// Options tune a single search.
type Options struct {
	SearchDepth    Depth
	MaxResults     int
	IncludeDomains []string
	ExcludeDomains []string
}

// Result is one search hit.
type Result struct {
	Title         string  `json:"title"`
	URL           string  `json:"url"`
	Content       string  `json:"content"`
	Score         float64 `json:"score"`
	PublishedDate string  `json:"published_date,omitempty"`
}

// Response is the provider's reply to one query.
type Response struct {
	Query        string   `json:"query"`
	Results      []Result `json:"results"`
	Answer       string   `json:"answer,omitempty"`
	ResponseTime float64  `json:"response_time"`
}

type searchRequest struct {
	APIKey         string   `json:"api_key"`
	Query          string   `json:"query"`
	SearchDepth    Depth    `json:"search_depth"`
	MaxResults     int      `json:"max_results"`
	IncludeAnswer  bool     `json:"include_answer"`
	IncludeDomains []string `json:"include_domains,omitempty"`
	ExcludeDomains []string `json:"exclude_domains,omitempty"`
}

// Client calls the search API. It is safe for concurrent use.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	cache      *cache.Cache
	limiter    *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithCacheTTL caches successful responses for ttl. Zero disables caching.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) {
		if ttl <= 0 {
			c.cache = nil
			return
		}
		c.cache = cache.New(ttl, ttl*2)
	}
}

// WithRateLimit caps outgoing requests per second. Zero disables limiting.
func WithRateLimit(perSecond float64) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// NewClient creates a search client. An empty apiKey is a configuration
// error.
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, &apperr.ConfigError{Service: providerName, Key: "tavily.api_key"}
	}
	c := &Client{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Search runs one query. A non-2xx reply is returned as
// *apperr.ProviderError with the status and body.
func (c *Client) Search(ctx context.Context, query string, opts Options) (*Response, error) {
	req := searchRequest{
		APIKey:         c.apiKey,
		Query:          query,
		SearchDepth:    opts.SearchDepth,
		MaxResults:     opts.MaxResults,
		IncludeAnswer:  true,
		IncludeDomains: opts.IncludeDomains,
		ExcludeDomains: opts.ExcludeDomains,
	}
	if req.SearchDepth == "" {
		req.SearchDepth = DepthBasic
	}
	if req.MaxResults <= 0 {
		req.MaxResults = 5
	}

	key := cacheKey(req)
	if c.cache != nil {
		if cached, found := c.cache.Get(key); found {
			if resp, ok := cached.(*Response); ok {
				slog.Debug("search: cache hit", "query", query)
				return resp.clone(), nil
			}
		}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}

	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	if c.cache != nil {
		c.cache.Set(key, resp.clone(), cache.DefaultExpiration)
	}
	return resp, nil
}

// clone copies r so callers cannot mutate a cached entry.
func (r *Response) clone() *Response {
	cp := *r
	cp.Results = slices.Clone(r.Results)
	return &cp
}

// SearchMultiple runs all queries concurrently. The i-th response answers
// the i-th query; any single failure fails the whole call.
func (c *Client) SearchMultiple(ctx context.Context, queries []string, opts Options) ([]*Response, error) {
	results := make([]*Response, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	for i, q := range queries {
		g.Go(func() error {
			resp, err := c.Search(gctx, q, opts)
			if err != nil {
				return fmt.Errorf("searching %q: %w", q, err)
			}
			results[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (c *Client) do(ctx context.Context, sr searchRequest) (*Response, error) {
	body, err := json.Marshal(sr)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &apperr.ProviderError{Provider: providerName, Status: resp.StatusCode, Body: string(respBody)}
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if out.Query == "" {
		out.Query = sr.Query
	}
	for i := range out.Results {
		out.Results[i].Content = PlainText(out.Results[i].Content)
	}
	return &out, nil
}

func cacheKey(r searchRequest) string {
	return fmt.Sprintf("%s|%s|%d|%s|%s", r.Query, r.SearchDepth, r.MaxResults,
		strings.Join(r.IncludeDomains, ","), strings.Join(r.ExcludeDomains, ","))
}
