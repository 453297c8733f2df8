// Package client talks to the evaluation service that executes runs and
// stores release criteria.
package client

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

	"github.com/chainguard-dev/clog"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/chanyong1027/evalstudio/internal/policy"
	"github.com/chanyong1027/evalstudio/pkg/types"
)

const (
	DefaultPageSize    = 50
	DefaultConcurrency = 4
	requestIDHeader    = "X-Request-ID"
	maxErrorBody       = 4 << 10
)

// ErrOwnerOnly is returned when the service rejects a criteria update because
// the caller is not a workspace owner.
var ErrOwnerOnly = errors.New("only workspace owners can change release criteria")

// APIError is a non-2xx response from the evaluation service.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, msg)
}

// IsCancellation reports whether err only reflects a cancelled request.
// Cancellations are not failures and should not be reported to users.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}

// Client talks to the evaluation service. It is safe for concurrent use.
type Client struct {
	baseURL     *url.URL
	token       string
	http        *http.Client
	pageSize    int
	concurrency int
}

// Option configures a Client.
type Option func(*Client)

func WithToken(token string) Option { return func(c *Client) { c.token = token } }

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }

func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithConcurrency bounds the number of case pages fetched at once.
func WithConcurrency(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// New returns a client for the service at baseURL, which must be absolute.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}
	c := &Client{
		baseURL:     u,
		http:        &http.Client{Timeout: 30 * time.Second},
		pageSize:    DefaultPageSize,
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// RunRef identifies a run within a prompt of a workspace.
type RunRef struct {
	WorkspaceID int64
	PromptID    int64
	RunID       int64
}

func runsPath(workspaceID, promptID int64) string {
	return fmt.Sprintf("/api/v1/workspaces/%d/prompts/%d/eval/runs", workspaceID, promptID)
}

func runPath(ref RunRef) string {
	return runsPath(ref.WorkspaceID, ref.PromptID) + "/" + strconv.FormatInt(ref.RunID, 10)
}

func criteriaPath(workspaceID int64) string {
	return fmt.Sprintf("/api/v1/workspaces/%d/eval/release-criteria", workspaceID)
}

func (c *Client) GetRun(ctx context.Context, ref RunRef) (types.EvaluationRun, error) {
	var run types.EvaluationRun
	if err := c.do(ctx, http.MethodGet, runPath(ref), nil, nil, &run); err != nil {
		return types.EvaluationRun{}, err
	}
	return run, nil
}

// ListRuns returns the runs of a prompt, newest first as the service orders
// them.
func (c *Client) ListRuns(ctx context.Context, workspaceID, promptID int64) ([]types.EvaluationRun, error) {
	var doc any
	if err := c.do(ctx, http.MethodGet, runsPath(workspaceID, promptID), nil, nil, &doc); err != nil {
		return nil, err
	}
	if page, ok := doc.(map[string]any); ok {
		doc = page["content"]
	}
	return types.ParseRuns(doc), nil
}

// ListRunCases fetches one zero-based page of case results.
func (c *Client) ListRunCases(ctx context.Context, ref RunRef, page, size int) (types.CasePage, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))
	var p types.CasePage
	if err := c.do(ctx, http.MethodGet, runPath(ref)+"/cases", q, nil, &p); err != nil {
		return types.CasePage{}, err
	}
	return p, nil
}

// AllRunCases drains every page of the case list. The first page reports
// the page count; remaining pages are fetched concurrently and concatenated
// in page order. Any page failure fails the whole call so a partial set is
// never mistaken for the full one.
func (c *Client) AllRunCases(ctx context.Context, ref RunRef) ([]types.EvalCaseResult, error) {
	first, err := c.ListRunCases(ctx, ref, 0, c.pageSize)
	if err != nil {
		return nil, err
	}
	if first.TotalPages <= 1 {
		return first.Content, nil
	}

	pages := make([][]types.EvalCaseResult, first.TotalPages)
	pages[0] = first.Content
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i := 1; i < first.TotalPages; i++ {
		g.Go(func() error {
			p, err := c.ListRunCases(gctx, ref, i, c.pageSize)
			if err != nil {
				return fmt.Errorf("case page %d: %w", i, err)
			}
			pages[i] = p.Content
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]types.EvalCaseResult, 0, len(first.Content)*first.TotalPages)
	for _, p := range pages {
		out = append(out, p...)
	}
	clog.FromContext(ctx).With("run", ref.RunID).With("pages", first.TotalPages).Debugf("fetched %d cases", len(out))
	return out, nil
}

func (c *Client) CreateRun(ctx context.Context, workspaceID, promptID int64, req types.CreateRunRequest) (types.CreateRunResponse, error) {
	var resp types.CreateRunResponse
	if err := c.do(ctx, http.MethodPost, runsPath(workspaceID, promptID), nil, req, &resp); err != nil {
		return types.CreateRunResponse{}, err
	}
	return resp, nil
}

func (c *Client) CancelRun(ctx context.Context, ref RunRef) error {
	return c.do(ctx, http.MethodPost, runPath(ref)+"/cancel", nil, nil, nil)
}

func (c *Client) GetReleaseCriteria(ctx context.Context, workspaceID int64) (types.ReleaseCriteria, error) {
	var rc types.ReleaseCriteria
	if err := c.do(ctx, http.MethodGet, criteriaPath(workspaceID), nil, nil, &rc); err != nil {
		return types.ReleaseCriteria{}, err
	}
	return rc, nil
}

func (c *Client) GetReleaseCriteriaHistory(ctx context.Context, workspaceID int64) ([]types.CriteriaAuditEntry, error) {
	var entries []types.CriteriaAuditEntry
	if err := c.do(ctx, http.MethodGet, criteriaPath(workspaceID)+"/history", nil, nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// UpdateReleaseCriteria validates u locally and, only if it is valid, sends
// it. A 403 is reported as ErrOwnerOnly.
func (c *Client) UpdateReleaseCriteria(ctx context.Context, workspaceID int64, u types.ReleaseCriteriaUpdate) (types.ReleaseCriteria, error) {
	if err := policy.CheckUpdate(u); err != nil {
		return types.ReleaseCriteria{}, err
	}
	var rc types.ReleaseCriteria
	err := c.do(ctx, http.MethodPut, criteriaPath(workspaceID), nil, u, &rc)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusForbidden {
		return types.ReleaseCriteria{}, fmt.Errorf("%w: %w", ErrOwnerOnly, err)
	}
	if err != nil {
		return types.ReleaseCriteria{}, err
	}
	return rc, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set(requestIDHeader, requestID)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	log := clog.FromContext(ctx).With("method", method).With("path", path).With("request_id", requestID)
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	log.With("status", resp.StatusCode).With("elapsed", time.Since(start)).Debug("evaluation service call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Message: errorMessage(raw)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// errorMessage pulls a message out of a JSON error body, falling back to the
// trimmed raw text.
func errorMessage(raw []byte) string {
	var doc struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(raw, &doc) == nil {
		if doc.Message != "" {
			return doc.Message
		}
		if doc.Error != "" {
			return doc.Error
		}
	}
	return strings.TrimSpace(string(raw))
}
