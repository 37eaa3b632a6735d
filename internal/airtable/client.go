// Package airtable provides the REST client for the Airtable bases that act as
// the system of record for client leads.
package airtable

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"client_portal_backend/platform/config"
	"client_portal_backend/platform/logger"
)

const (
	// DefaultBaseURL is the public Airtable REST endpoint.
	DefaultBaseURL = "https://api.airtable.com/v0"
	// DefaultTimeout bounds every single request.
	DefaultTimeout = 30 * time.Second
	// DefaultRequestsPerSecond is Airtable's documented per-base limit.
	DefaultRequestsPerSecond = 5
	// MaxPageSize is the largest page Airtable will return.
	MaxPageSize = 100

	// defaultRetryAfter is what Airtable asks clients to wait after a 429.
	defaultRetryAfter = 30 * time.Second
	maxErrorBody      = 64 << 10
)

// Options configures a Client.
type Options struct {
	APIKey            string
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	HTTPClient        *http.Client
}

// Client talks to the Airtable REST API. It is safe for concurrent use; all
// requests share one rate limiter.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	timeout    time.Duration
	limiter    *rate.Limiter
	log        *logger.Logger
}

// New creates an Airtable client.
func New(opts Options, log *logger.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		apiKey:     opts.APIKey,
		timeout:    timeout,
		limiter:    rate.NewLimiter(limit, 1),
		log:        log,
	}
}

// NewFromConfig creates a client from application configuration.
func NewFromConfig(cfg config.AirtableConfig, log *logger.Logger) *Client {
	return New(Options{
		APIKey:            cfg.GetAirtableAPIKey(),
		BaseURL:           cfg.GetAirtableAPIURL(),
		Timeout:           cfg.GetAirtableTimeout(),
		RequestsPerSecond: cfg.GetAirtableRequestsPerSecond(),
	}, log)
}

// StreamAllRecords pages through every record of the container and calls
// onRecord once per record in the order Airtable returns them. Records are
// never buffered beyond the current page.
//
// A page-fetch failure ends the stream with an *Error. An error returned by
// onRecord ends the stream and is returned unchanged.
func (c *Client) StreamAllRecords(ctx context.Context, container Container, opts StreamOptions, onRecord func(Record) error) error {
	const op = "stream"

	pageSize := opts.PageSize
	if pageSize <= 0 || pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	params := url.Values{}
	params.Set("pageSize", strconv.Itoa(pageSize))
	if opts.View != "" {
		params.Set("view", opts.View)
	}
	if opts.ModifiedSince != nil {
		params.Set("filterByFormula", ModifiedSinceFormula(*opts.ModifiedSince))
	}
	for _, field := range opts.Fields {
		params.Add("fields[]", field)
	}

	offset := ""
	pages := 0
	for {
		if offset != "" {
			params.Set("offset", offset)
		}

		var page listResponse
		if err := c.do(ctx, op, http.MethodGet, c.tableURL(container)+"?"+params.Encode(), nil, &page); err != nil {
			// An unknown base or table is fatal to a stream, not a record miss.
			var apiErr *Error
			if errors.As(err, &apiErr) && apiErr.Kind == KindNotFound {
				apiErr.Kind = KindUnavailable
			}
			return err
		}
		pages++

		for _, raw := range page.Records {
			if err := onRecord(raw.toRecord()); err != nil {
				return err
			}
		}

		if page.Offset == "" {
			c.log.Debug("airtable stream finished", "base", container.BaseID, "table", container.Table, "pages", pages)
			return nil
		}
		offset = page.Offset
	}
}

// UpdateRecord applies field changes to one record and returns the updated record.
func (c *Client) UpdateRecord(ctx context.Context, container Container, externalID string, fields map[string]any) (Record, error) {
	if strings.TrimSpace(externalID) == "" {
		return Record{}, &Error{Kind: KindNotFound, Op: "update", Message: "record id is empty"}
	}

	var out apiRecord
	reqURL := c.tableURL(container) + "/" + url.PathEscape(externalID)
	if err := c.do(ctx, "update", http.MethodPatch, reqURL, writeRequest{Fields: fields, Typecast: true}, &out); err != nil {
		return Record{}, err
	}
	return out.toRecord(), nil
}

// CreateRecord inserts one record and returns it as stored by Airtable.
func (c *Client) CreateRecord(ctx context.Context, container Container, fields map[string]any) (Record, error) {
	var out apiRecord
	if err := c.do(ctx, "create", http.MethodPost, c.tableURL(container), writeRequest{Fields: fields, Typecast: true}, &out); err != nil {
		var apiErr *Error
		if errors.As(err, &apiErr) && apiErr.Kind == KindNotFound {
			apiErr.Kind = KindUnavailable
		}
		return Record{}, err
	}
	return out.toRecord(), nil
}

// ModifiedSinceFormula builds the filterByFormula used by incremental streams.
func ModifiedSinceFormula(since time.Time) string {
	return fmt.Sprintf("IS_AFTER(LAST_MODIFIED_TIME(), '%s')", since.UTC().Format(time.RFC3339))
}

func (c *Client) tableURL(container Container) string {
	return c.baseURL + "/" + url.PathEscape(container.BaseID) + "/" + url.PathEscape(container.Table)
}

func (c *Client) do(ctx context.Context, op, method, reqURL string, body any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &Error{Kind: KindUnavailable, Op: op, Message: "rate limiter wait aborted", Err: err}
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &Error{Kind: KindValidation, Op: op, Message: "encode request body", Err: err}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, reqURL, reader)
	if err != nil {
		return &Error{Kind: KindUnavailable, Op: op, Message: "create request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Error("airtable request failed", "op", op, "error", err)
		return &Error{Kind: KindUnavailable, Op: op, Message: "http request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			c.log.Error("airtable decode failed", "op", op, "error", err)
			return &Error{Kind: KindUnavailable, Op: op, StatusCode: resp.StatusCode, Message: "decode response", Err: err}
		}
		return nil
	}

	apiErr := errorFromResponse(op, resp)
	if apiErr.Kind == KindRateLimited {
		c.log.Warn("airtable rate limited", "op", op, "retry_after", apiErr.RetryAfter.String())
	} else {
		c.log.Error("airtable error response", "op", op, "status", resp.StatusCode, "type", apiErr.Type)
	}
	return apiErr
}

// apiErrorBody covers both shapes Airtable uses:
// {"error":"NOT_FOUND"} and {"error":{"type":"...","message":"..."}}.
type apiErrorBody struct {
	Error json.RawMessage `json:"error"`
}

type apiErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func errorFromResponse(op string, resp *http.Response) *Error {
	e := &Error{Op: op, StatusCode: resp.StatusCode}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		e.Kind = KindRateLimited
		e.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
	case resp.StatusCode == http.StatusNotFound:
		e.Kind = KindNotFound
	case resp.StatusCode == http.StatusUnprocessableEntity:
		e.Kind = KindValidation
	default:
		e.Kind = KindUnavailable
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body apiErrorBody
	if len(raw) > 0 && json.Unmarshal(raw, &body) == nil && len(body.Error) > 0 {
		var detail apiErrorDetail
		if json.Unmarshal(body.Error, &detail) == nil {
			e.Type = detail.Type
			e.Message = detail.Message
		} else {
			var code string
			if json.Unmarshal(body.Error, &code) == nil {
				e.Type = code
			}
		}
	}
	if e.Message == "" {
		e.Message = http.StatusText(resp.StatusCode)
	}
	return e
}

func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return defaultRetryAfter
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
		return 0
	}
	return defaultRetryAfter
}
