// Package backend is a client for the wellness Backend API. Every call
// carries the signed-in user's bearer credential; a 401 signs the user out.
package backend

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

	"github.com/benvon/wellness-tracker/internal/errs"
	"github.com/benvon/wellness-tracker/internal/logger"
	"github.com/benvon/wellness-tracker/internal/models"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const defaultTimeout = 30 * time.Second

// UnauthorizedFunc is called when the backend rejects the bearer credential
type UnauthorizedFunc func(ctx context.Context, cause error)

// Option configures a Client
type Option func(*Client)

// WithBaseTransport sets the transport under the bearer transport
func WithBaseTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.base = rt }
}

// WithUnauthorizedHandler sets the hook run on every 401
func WithUnauthorizedHandler(fn UnauthorizedFunc) Option {
	return func(c *Client) { c.onUnauthorized = fn }
}

// Client calls the Backend API
type Client struct {
	baseURL        string
	base           http.RoundTripper
	authed         *http.Client
	plain          *http.Client
	onUnauthorized UnauthorizedFunc
	logger         *zap.Logger
}

// New creates a client for baseURL authenticating with tokens from ts
func New(baseURL string, ts oauth2.TokenSource, log *zap.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		base:    http.DefaultTransport,
		logger:  logger.OrNop(log),
	}
	for _, opt := range opts {
		opt(c)
	}
	logged := Logging(c.base, c.logger)
	c.authed = &http.Client{
		Timeout:   defaultTimeout,
		Transport: &oauth2.Transport{Source: ts, Base: logged},
	}
	c.plain = &http.Client{Timeout: defaultTimeout, Transport: logged}
	return c
}

// envelope is the backend's response shape
type envelope struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
	UID     string          `json:"uid,omitempty"`
	User    *models.User    `json:"user,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Count   int             `json:"count,omitempty"`
	DocID   string          `json:"doc_id,omitempty"`
}

// StatusError is a non-2xx response other than 401
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Message)
}

// VerifyResult is the outcome of VerifyToken
type VerifyResult struct {
	UID  string
	User *models.User
}

// VerifyToken asks the backend to verify an ID token and return its profile
func (c *Client) VerifyToken(ctx context.Context, idToken string) (*VerifyResult, error) {
	var env envelope
	if err := c.do(ctx, c.plain, http.MethodPost, "/api/auth/verify-token", map[string]string{"token": idToken}, &env); err != nil {
		return nil, err
	}
	return &VerifyResult{UID: env.UID, User: env.User}, nil
}

// GetUser fetches a profile document
func (c *Client) GetUser(ctx context.Context, userID string) (*models.User, error) {
	var env envelope
	if err := c.do(ctx, c.authed, http.MethodGet, "/api/auth/user-data/"+url.PathEscape(userID), nil, &env); err != nil {
		return nil, err
	}
	if env.User == nil {
		return nil, errs.ErrNotFound
	}
	return env.User, nil
}

// UpdateUser applies patch to a profile document
func (c *Client) UpdateUser(ctx context.Context, userID string, patch models.UserPatch) error {
	return c.do(ctx, c.authed, http.MethodPut, "/api/auth/update-user/"+url.PathEscape(userID), patch, nil)
}

// Record is a health record as listed by the backend
type Record struct {
	DocID string
	models.HealthRecord
}

// AddHealthRecord stores record and returns the backend document id
func (c *Client) AddHealthRecord(ctx context.Context, record *models.HealthRecord) (string, error) {
	var env envelope
	if err := c.do(ctx, c.authed, http.MethodPost, "/api/health/data", newRecordPayload(record), &env); err != nil {
		return "", err
	}
	return env.DocID, nil
}

// ListOptions controls ListHealthRecords
type ListOptions struct {
	Ascending bool
	// Limit <= 0 leaves the backend default
	Limit int
}

// ListHealthRecords lists a user's records, newest first unless Ascending
func (c *Client) ListHealthRecords(ctx context.Context, userID string, opts ListOptions) ([]Record, error) {
	q := url.Values{}
	q.Set("order", "desc")
	if opts.Ascending {
		q.Set("order", "asc")
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}

	var env envelope
	path := "/api/health/data/" + url.PathEscape(userID) + "?" + q.Encode()
	if err := c.do(ctx, c.authed, http.MethodGet, path, nil, &env); err != nil {
		return nil, err
	}
	if len(env.Data) == 0 {
		return []Record{}, nil
	}

	var docs []recordDoc
	if err := json.Unmarshal(env.Data, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode health records: %w", err)
	}
	out := make([]Record, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.record())
	}
	return out, nil
}

// UpdateHealthRecord patches a record by document id
func (c *Client) UpdateHealthRecord(ctx context.Context, docID string, patch models.HealthRecordPatch) error {
	return c.do(ctx, c.authed, http.MethodPut, "/api/health/data/"+url.PathEscape(docID), patch, nil)
}

// DeleteHealthRecord deletes a record by document id
func (c *Client) DeleteHealthRecord(ctx context.Context, docID string) error {
	return c.do(ctx, c.authed, http.MethodDelete, "/api/health/data/"+url.PathEscape(docID), nil, nil)
}

// Summary fetches the aggregate of a user's recent records
func (c *Client) Summary(ctx context.Context, userID string) (*models.HealthSummary, error) {
	var s models.HealthSummary
	if err := c.do(ctx, c.authed, http.MethodGet, "/api/health/summary/"+url.PathEscape(userID), nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// HealthCheck reports whether the backend is up. It needs no credential.
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.do(ctx, c.plain, http.MethodGet, "/api/health-check", nil, nil)
}

func (c *Client) do(ctx context.Context, client *http.Client, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	op := method + " " + strings.SplitN(path, "?", 2)[0]
	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, errs.ErrNotAuthenticated) {
			return errs.ErrNotAuthenticated
		}
		var netErr *errs.NetworkError
		if errors.As(err, &netErr) {
			return netErr
		}
		return &errs.NetworkError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized {
		c.logger.Info("backend_unauthorized", zap.String("op", op))
		if c.onUnauthorized != nil {
			c.onUnauthorized(ctx, errs.ErrUnauthorized)
		}
		return errs.ErrUnauthorized
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var env envelope
		msg := http.StatusText(resp.StatusCode)
		if decodeErr := json.NewDecoder(io.LimitReader(resp.Body, MaxResponseSize)).Decode(&env); decodeErr == nil && env.Error != "" {
			msg = env.Error
		}
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%s: %w", msg, errs.ErrNotFound)
		}
		return &StatusError{Status: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, MaxResponseSize)).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}
