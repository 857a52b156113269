// Package servicenow is a minimal client for the ServiceNow Table API, scoped
// to the operations the BFF proxies for the incident table.
package servicenow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultTimeout bounds every Table API call.
const DefaultTimeout = 30 * time.Second

// listFields is the projection requested by List.
var listFields = []string{"sys_id", "number", "state", "priority", "short_description"}

// IncidentFields is the writable subset forwarded on create and update.
// Fields left nil are not sent, so an update only touches what it names.
type IncidentFields struct {
	Impact           any `json:"impact,omitempty"`
	Urgency          any `json:"urgency,omitempty"`
	ShortDescription any `json:"short_description,omitempty"`
}

// Error is a non-2xx response from the Table API.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("servicenow returned status %d: %s", e.Status, e.Message)
}

// Observer is notified of every completed upstream call.
type Observer interface {
	ObserveUpstream(operation string, status int, elapsed time.Duration)
}

// Client calls the Table API with a caller-supplied bearer token.
type Client struct {
	baseURL    string
	table      string
	httpClient *http.Client
	tracer     trace.Tracer
	observer   Observer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithObserver registers an Observer.
func WithObserver(o Observer) Option {
	return func(c *Client) {
		c.observer = o
	}
}

// NewClient creates a Table API client for table on the instance at baseURL.
func NewClient(baseURL, table string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		table:      table,
		httpClient: &http.Client{Timeout: timeout},
		tracer:     otel.Tracer("servicenow"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// List returns the raw list response with display values resolved.
func (c *Client) List(ctx context.Context, token string) (json.RawMessage, error) {
	q := url.Values{
		"sysparm_display_value": {"true"},
		"sysparm_fields":        {strings.Join(listFields, ",")},
	}
	body, _, err := c.do(ctx, "list", http.MethodGet, c.tablePath("")+"?"+q.Encode(), token, nil)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}

// Create inserts a record and returns the created record.
func (c *Client) Create(ctx context.Context, token string, fields IncidentFields) (json.RawMessage, error) {
	body, _, err := c.do(ctx, "create", http.MethodPost, c.tablePath(""), token, fields)
	if err != nil {
		return nil, err
	}
	return resultOf(body)
}

// Update patches the writable fields of sysID and returns the updated record.
func (c *Client) Update(ctx context.Context, token, sysID string, fields IncidentFields) (json.RawMessage, error) {
	body, _, err := c.do(ctx, "update", http.MethodPatch, c.tablePath(sysID), token, fields)
	if err != nil {
		return nil, err
	}
	return resultOf(body)
}

// Delete removes sysID and returns the upstream status code.
func (c *Client) Delete(ctx context.Context, token, sysID string) (int, error) {
	_, status, err := c.do(ctx, "delete", http.MethodDelete, c.tablePath(sysID), token, nil)
	if err != nil {
		return 0, err
	}
	return status, nil
}

func (c *Client) tablePath(sysID string) string {
	p := c.baseURL + "/api/now/table/" + url.PathEscape(c.table)
	if sysID != "" {
		p += "/" + url.PathEscape(sysID)
	}
	return p
}

func (c *Client) do(ctx context.Context, op, method, target, token string, payload any) ([]byte, int, error) {
	ctx, span := c.tracer.Start(ctx, "servicenow."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("servicenow.table", c.table),
		),
	)
	defer span.End()

	start := time.Now()
	body, status, err := c.send(ctx, method, target, token, payload)
	if c.observer != nil {
		c.observer.ObserveUpstream(op, status, time.Since(start))
	}

	span.SetAttributes(attribute.Int("http.status_code", status))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return body, status, err
}

func (c *Client) send(ctx context.Context, method, target, token string, payload any) ([]byte, int, error) {
	var reqBody io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("servicenow request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp.StatusCode, &Error{Status: resp.StatusCode, Message: errorMessage(body)}
	}
	return body, resp.StatusCode, nil
}

// errorMessage extracts the message from a Table API error body:
// {"error": {"message": "...", "detail": "..."}, "status": "failure"}.
func errorMessage(body []byte) string {
	var env struct {
		Error struct {
			Message string `json:"message"`
			Detail  string `json:"detail"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err == nil {
		if env.Error.Message != "" {
			return env.Error.Message
		}
		if env.Error.Detail != "" {
			return env.Error.Detail
		}
	}
	return ""
}

func resultOf(body []byte) (json.RawMessage, error) {
	var env struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return env.Result, nil
}

// StatusOf returns the upstream status carried by err, or 0 when the call
// produced no HTTP response.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}
