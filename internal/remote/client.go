package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/MarcoPoloResearchLab/requests-timeline/internal/reviewers"
	"github.com/MarcoPoloResearchLab/requests-timeline/internal/timeline"
)

const (
	defaultTimeout = 15 * time.Second
	defaultBurst   = 5
	maxErrorBody   = 64 << 10
)

// Options configures an HTTPClient.
type Options struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// RatePerSecond of zero or less disables pacing.
	RatePerSecond float64
	Burst         int
	HTTPClient    *http.Client
	Logger        *zap.Logger
}

// HTTPClient talks to the request-management API over HTTP/JSON.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewHTTPClient creates an HTTP-based remote client.
func NewHTTPClient(opts Options) *HTTPClient {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = defaultBurst
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		token:      opts.Token,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, burst),
		logger:     logger,
	}
}

// RemoteError is a non-2xx response of the remote API.
type RemoteError struct {
	Code    string
	Message string
	Status  int
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error (%d): %s: %s", e.Status, e.Code, e.Message)
}

func (c *HTTPClient) requestURL(requestID string, path string, query url.Values) string {
	target := fmt.Sprintf("%s/requests/%s%s", c.baseURL, url.PathEscape(requestID), path)
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	return target
}

func (c *HTTPClient) do(ctx context.Context, method, target string, body io.Reader, headers map[string]string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	c.logger.Debug("remote request",
		zap.String("method", method),
		zap.String("url", target),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(started)))

	return resp, nil
}

func (c *HTTPClient) doJSON(ctx context.Context, method, target string, reqBody, respBody interface{}) error {
	var body io.Reader
	headers := map[string]string{"Content-Type": "application/json"}

	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	resp, err := c.do(ctx, method, target, body, headers)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}

	if respBody != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}

// Timeline binds the client to the root timeline of a request, or to the
// reply thread of parentID when it is not empty.
func (c *HTTPClient) Timeline(requestID string, parentID timeline.EventID) *EventsClient {
	return &EventsClient{client: c, requestID: requestID, parentID: parentID}
}

// SuggestUsers returns users matching a typeahead query.
func (c *HTTPClient) SuggestUsers(ctx context.Context, query string) ([]reviewers.Reviewer, error) {
	var resp suggestionResponse[UserHit]
	target := c.baseURL + "/users?" + url.Values{"suggest": {query}}.Encode()
	if err := c.doJSON(ctx, http.MethodGet, target, nil, &resp); err != nil {
		return nil, fmt.Errorf("suggest users: %w", err)
	}
	results := make([]reviewers.Reviewer, 0, len(resp.Hits.Hits))
	for _, hit := range resp.Hits.Hits {
		results = append(results, hit.reviewer())
	}
	return results, nil
}

// SuggestGroups returns groups matching a typeahead query.
func (c *HTTPClient) SuggestGroups(ctx context.Context, query string) ([]reviewers.Reviewer, error) {
	var resp suggestionResponse[GroupHit]
	target := c.baseURL + "/groups?" + url.Values{"suggest": {query}}.Encode()
	if err := c.doJSON(ctx, http.MethodGet, target, nil, &resp); err != nil {
		return nil, fmt.Errorf("suggest groups: %w", err)
	}
	results := make([]reviewers.Reviewer, 0, len(resp.Hits.Hits))
	for _, hit := range resp.Hits.Hits {
		results = append(results, hit.reviewer())
	}
	return results, nil
}

// RequestReviewers reads the reviewers currently on a request.
func (c *HTTPClient) RequestReviewers(ctx context.Context, requestID string) ([]reviewers.Reviewer, error) {
	var record RequestRecord
	target := c.requestURL(requestID, "", url.Values{"expand": {"1"}})
	if err := c.doJSON(ctx, http.MethodGet, target, nil, &record); err != nil {
		return nil, fmt.Errorf("read reviewers: %w", err)
	}
	selected, err := record.selection()
	if err != nil {
		return nil, fmt.Errorf("read reviewers: %w", err)
	}
	return selected, nil
}

// UpdateReviewers replaces the reviewer list of a request.
func (c *HTTPClient) UpdateReviewers(ctx context.Context, requestID string, selected []reviewers.Reviewer) error {
	req := UpdateReviewersRequest{Reviewers: reviewerRefs(selected)}
	if err := c.doJSON(ctx, http.MethodPut, c.requestURL(requestID, "/reviewers", nil), req, nil); err != nil {
		return fmt.Errorf("update reviewers: %w", err)
	}
	return nil
}

// EventsClient serves one timeline of one request.
type EventsClient struct {
	client    *HTTPClient
	requestID string
	parentID  timeline.EventID
}

func (e *EventsClient) listPath() string {
	if e.parentID != "" {
		return "/comments/" + url.PathEscape(e.parentID.String()) + "/replies"
	}
	return "/timeline"
}

// FetchPage fetches one page of events.
func (e *EventsClient) FetchPage(ctx context.Context, query timeline.PageQuery) (timeline.PageResult, error) {
	values := url.Values{
		"page":   {strconv.Itoa(query.Page)},
		"size":   {strconv.Itoa(query.Size)},
		"expand": {"1"},
	}
	if query.FocusEventID != "" {
		values.Set("focus_event_id", query.FocusEventID.String())
	}

	var resp TimelineResponse
	if err := e.client.doJSON(ctx, http.MethodGet, e.client.requestURL(e.requestID, e.listPath(), values), nil, &resp); err != nil {
		return timeline.PageResult{}, fmt.Errorf("fetch page %d: %w", query.Page, err)
	}
	page := resp.Page
	if page == 0 {
		page = query.Page
	}
	return timeline.PageResult{Page: page, Events: resp.Hits.Hits, TotalHits: resp.Hits.Total}, nil
}

// CreateComment posts a new comment, or a reply in a reply thread.
func (e *EventsClient) CreateComment(ctx context.Context, payload timeline.CommentPayload) (timeline.Event, error) {
	path := "/comments"
	if e.parentID != "" {
		path = "/comments/" + url.PathEscape(e.parentID.String()) + "/reply"
	}
	var created timeline.Event
	target := e.client.requestURL(e.requestID, path, url.Values{"expand": {"1"}})
	if err := e.client.doJSON(ctx, http.MethodPost, target, payload, &created); err != nil {
		return timeline.Event{}, fmt.Errorf("create comment: %w", err)
	}
	return created, nil
}

// UpdateComment replaces the content of a comment.
func (e *EventsClient) UpdateComment(ctx context.Context, id timeline.EventID, payload timeline.CommentPayload) (timeline.Event, error) {
	var updated timeline.Event
	target := e.client.requestURL(e.requestID, "/comments/"+url.PathEscape(id.String()), url.Values{"expand": {"1"}})
	if err := e.client.doJSON(ctx, http.MethodPut, target, payload, &updated); err != nil {
		return timeline.Event{}, fmt.Errorf("update comment %s: %w", id, err)
	}
	return updated, nil
}

// DeleteComment deletes a comment and returns the deletion log record when
// the API sends one.
func (e *EventsClient) DeleteComment(ctx context.Context, id timeline.EventID) (*timeline.Event, error) {
	target := e.client.requestURL(e.requestID, "/comments/"+url.PathEscape(id.String()), url.Values{"expand": {"1"}})
	resp, err := e.client.do(ctx, http.MethodDelete, target, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("delete comment %s: %w", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("delete comment %s: %w", id, decodeError(resp))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("delete comment %s: read body: %w", id, err)
	}
	deletionLog, err := decodeEventBody(data)
	if err != nil {
		return nil, fmt.Errorf("delete comment %s: decode response: %w", id, err)
	}
	return deletionLog, nil
}

func decodeError(resp *http.Response) error {
	var errResp ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&errResp); err != nil {
		return &RemoteError{
			Code:    "unknown",
			Message: fmt.Sprintf("HTTP %d", resp.StatusCode),
			Status:  resp.StatusCode,
		}
	}

	code := errResp.Error
	if code == "" {
		code = strings.ToLower(strings.ReplaceAll(http.StatusText(resp.StatusCode), " ", "_"))
	}
	return &RemoteError{
		Code:    code,
		Message: errResp.Message,
		Status:  resp.StatusCode,
	}
}

var (
	_ timeline.EventsAPI = (*EventsClient)(nil)
	_ reviewers.API      = (*HTTPClient)(nil)
)
