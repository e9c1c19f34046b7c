package preflightsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Preflight HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Diagnostic is one validation finding.
type Diagnostic struct {
	Type     string `json:"type"`
	Message  string `json:"message"`
	Entity   string `json:"entity"`
	Field    string `json:"field,omitempty"`
	Severity string `json:"severity"`
	Row      *int   `json:"row,omitempty"`
}

// Rule is the wire form of a business rule; Params varies by Type.
type Rule struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Priority    *int            `json:"priority,omitempty"`
	Params      json.RawMessage `json:"params,omitempty"`
}

// ImportResult summarizes one dataset upload.
type ImportResult struct {
	Kind        string       `json:"kind"`
	Rows        int          `json:"rows"`
	Records     int          `json:"records"`
	Diagnostics []Diagnostic `json:"diagnostics"`
	Cross       []Diagnostic `json:"cross"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PutRows replaces a dataset from raw rows keyed by column header.
func (c *Client) PutRows(ctx context.Context, kind string, rows []map[string]any) (ImportResult, error) {
	body := map[string]any{"rows": rows}
	var resp ImportResult
	endpoint := fmt.Sprintf("v0/datasets/%s/rows", url.PathEscape(kind))
	err := c.do(ctx, http.MethodPut, endpoint, body, &resp)
	return resp, err
}

// Records returns the stored records for a dataset.
func (c *Client) Records(ctx context.Context, kind string) ([]map[string]any, error) {
	var resp struct {
		Records []map[string]any `json:"records"`
	}
	endpoint := fmt.Sprintf("v0/datasets/%s", url.PathEscape(kind))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Records, err
}

// EditRecord edits one field of a record and re-validates the dataset.
func (c *Client) EditRecord(ctx context.Context, kind, id, field, value string) (ImportResult, error) {
	body := map[string]any{"field": field, "value": value}
	var resp ImportResult
	endpoint := fmt.Sprintf("v0/datasets/%s/records/%s", url.PathEscape(kind), url.PathEscape(id))
	err := c.do(ctx, http.MethodPatch, endpoint, body, &resp)
	return resp, err
}

// Diagnostics lists stored findings, optionally filtered by scope.
func (c *Client) Diagnostics(ctx context.Context, scope string) ([]Diagnostic, error) {
	var resp struct {
		Diagnostics []Diagnostic `json:"diagnostics"`
	}
	endpoint := "v0/diagnostics"
	if scope != "" {
		endpoint += "?scope=" + url.QueryEscape(scope)
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Diagnostics, err
}

// SuggestRules asks the server for candidate rules.
func (c *Client) SuggestRules(ctx context.Context) ([]Rule, error) {
	var resp struct {
		Rules []Rule `json:"rules"`
	}
	err := c.do(ctx, http.MethodPost, "v0/rules/suggest", nil, &resp)
	return resp.Rules, err
}

// ValidateRules checks rules against the current data without saving.
func (c *Client) ValidateRules(ctx context.Context, rules []Rule) ([]Diagnostic, error) {
	var resp struct {
		Diagnostics []Diagnostic `json:"diagnostics"`
	}
	err := c.do(ctx, http.MethodPost, "v0/rules/validate", map[string]any{"rules": rules}, &resp)
	return resp.Diagnostics, err
}

// PutRules replaces the stored rule list.
func (c *Client) PutRules(ctx context.Context, rules []Rule) ([]Diagnostic, error) {
	var resp struct {
		Rules       int          `json:"rules"`
		Diagnostics []Diagnostic `json:"diagnostics"`
	}
	err := c.do(ctx, http.MethodPut, "v0/rules", map[string]any{"rules": rules}, &resp)
	return resp.Diagnostics, err
}

// Rules lists the stored rules.
func (c *Client) Rules(ctx context.Context) ([]Rule, error) {
	var resp struct {
		Rules []Rule `json:"rules"`
	}
	err := c.do(ctx, http.MethodGet, "v0/rules", nil, &resp)
	return resp.Rules, err
}

// PutWeights sets the prioritization weights; the server normalizes
// them to sum to 1 and returns the result.
func (c *Client) PutWeights(ctx context.Context, weights map[string]float64) (map[string]float64, error) {
	var resp struct {
		Weights map[string]float64 `json:"weights"`
	}
	err := c.do(ctx, http.MethodPut, "v0/weights", map[string]any{"weights": weights}, &resp)
	return resp.Weights, err
}

// Weights returns the current weight mapping.
func (c *Client) Weights(ctx context.Context) (map[string]float64, error) {
	var resp struct {
		Weights map[string]float64 `json:"weights"`
	}
	err := c.do(ctx, http.MethodGet, "v0/weights", nil, &resp)
	return resp.Weights, err
}

// RulesDocument returns the allocator-ready rules export.
func (c *Client) RulesDocument(ctx context.Context) (json.RawMessage, error) {
	var resp json.RawMessage
	err := c.do(ctx, http.MethodGet, "v0/export/rules", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
