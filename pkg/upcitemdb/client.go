// Package upcitemdb is a client for the UPCitemdb product database, used to
// verify LLM-proposed products and attach identifiers, prices and offers.
package upcitemdb

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/dupe-finder/internal/resilience"
)

const (
	trialBaseURL = "https://api.upcitemdb.com/prod/trial"
	paidBaseURL  = "https://api.upcitemdb.com/prod/v1"
)

// Client looks products up in the external database. Search and Lookup
// return nil, nil on a miss.
type Client interface {
	Search(ctx context.Context, query string) (*Item, error)
	Lookup(ctx context.Context, upc string) (*Item, error)
}

// Item is a single product record.
type Item struct {
	EAN         string   `json:"ean"`
	Title       string   `json:"title"`
	UPC         string   `json:"upc"`
	GTIN        string   `json:"gtin"`
	ASIN        string   `json:"asin"`
	Description string   `json:"description"`
	Brand       string   `json:"brand"`
	Model       string   `json:"model"`
	Category    string   `json:"category"`
	LowestPrice Price    `json:"lowest_recorded_price"`
	HighestPx   Price    `json:"highest_recorded_price"`
	Images      []string `json:"images"`
	Offers      []Offer  `json:"offers"`
}

// Offer is a merchant listing attached to an Item.
type Offer struct {
	Merchant  string `json:"merchant"`
	Domain    string `json:"domain"`
	Title     string `json:"title"`
	Currency  string `json:"currency"`
	ListPrice Price  `json:"list_price"`
	Price     Price  `json:"price"`
	Shipping  string `json:"shipping"`
	Condition string `json:"condition"`
	Link      string `json:"link"`
}

// Price is a nullable amount. The API sends numbers, numeric strings, or ""
// for unknown prices.
type Price struct {
	Value float64
	Valid bool
}

// UnmarshalJSON accepts numbers, numeric strings, "" and null.
func (p *Price) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*p = Price{}
		return nil
	}
	var f float64
	if err := json.Unmarshal([]byte(s), &f); err != nil {
		*p = Price{}
		return nil
	}
	*p = Price{Value: f, Valid: true}
	return nil
}

// Ptr returns the value as a pointer, nil when unknown.
func (p Price) Ptr() *float64 {
	if !p.Valid {
		return nil
	}
	v := p.Value
	return &v
}

type searchResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Total   int    `json:"total"`
	Items   []Item `json:"items"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithRate sets the steady request rate per second.
func WithRate(perSec float64) Option {
	return func(c *httpClient) {
		if perSec > 0 {
			c.limiter = newAdaptiveLimiter(rate.Limit(perSec), 2)
		}
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *adaptiveLimiter
}

// NewClient creates a client. An empty apiKey uses the trial endpoint.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: trialBaseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
		limiter: newAdaptiveLimiter(1, 2),
	}
	if apiKey != "" {
		c.baseURL = paidBaseURL
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Search(ctx context.Context, query string) (*Item, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	q := url.Values{}
	q.Set("s", query)
	q.Set("match_mode", "0")
	q.Set("type", "product")
	return c.get(ctx, "/search", q, query)
}

func (c *httpClient) Lookup(ctx context.Context, upc string) (*Item, error) {
	upc = strings.TrimSpace(upc)
	if upc == "" {
		return nil, nil
	}
	q := url.Values{}
	q.Set("upc", upc)
	return c.get(ctx, "/lookup", q, upc)
}

func (c *httpClient) get(ctx context.Context, path string, q url.Values, subject string) (*Item, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "upcitemdb: rate limit wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "upcitemdb: create request")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("user_key", c.apiKey)
		req.Header.Set("key_type", "3scale")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "upcitemdb: request %q", subject)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, eris.Wrap(err, "upcitemdb: read response")
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		c.limiter.OnRateLimit()
		return nil, resilience.StatusError("upcitemdb", resp.StatusCode, string(body))
	case resp.StatusCode != http.StatusOK:
		return nil, resilience.StatusError("upcitemdb", resp.StatusCode, string(body))
	}
	c.limiter.OnSuccess()

	var sr searchResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, eris.Wrap(err, "upcitemdb: unmarshal response")
	}
	if sr.Code != "" && sr.Code != "OK" {
		return nil, eris.Errorf("upcitemdb: %s: %s", sr.Code, sr.Message)
	}
	if len(sr.Items) == 0 {
		return nil, nil
	}
	return &sr.Items[0], nil
}
