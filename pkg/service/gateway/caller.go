package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/docket/pkg/domain/model"
	"github.com/secmon-lab/docket/pkg/utils/logging"
	"github.com/secmon-lab/docket/pkg/utils/safe"
)

// TokenSource supplies the service token sent with every attempt
type TokenSource interface {
	// Token returns the current token, minting one if none is cached
	Token(ctx context.Context) (string, error)
	// Refresh discards the current token and mints a new one
	Refresh(ctx context.Context) (string, error)
}

// Attempt describes one try of a downstream call
type Attempt struct {
	Number     int
	Method     string
	URL        string
	Token      string `masq:"secret"`
	StatusCode int
	Err        error
}

// AttemptHook observes every attempt, successful or not
type AttemptHook func(ctx context.Context, attempt Attempt)

// Request is a JSON call relative to the caller's base URL
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
}

// Response is a successful (2xx) downstream answer
type Response struct {
	StatusCode int
	Body       []byte
}

// Decode unmarshals the JSON body into v
func (r *Response) Decode(v any) error {
	if len(r.Body) == 0 {
		return goerr.New("empty response body")
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return goerr.Wrap(err, "failed to decode response body")
	}
	return nil
}

// Caller performs JSON calls against one downstream service with retry and token rotation.
//
// Outcome per attempt:
//   - 2xx: success
//   - 401: the token source is refreshed and the call retried
//   - transport error or a 5xx accepted by RetryPolicy.Retryable: retried with the same token
//   - 404: model.ErrNotFound, not retried
//   - other 4xx: model.ErrExternalGateway, not retried
//
// Running out of attempts returns model.ErrExternalGateway.
type Caller struct {
	name       string
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	policy     RetryPolicy
	hook       AttemptHook
}

type Option func(*Caller)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Caller) {
		c.httpClient = client
	}
}

func WithRetryPolicy(policy RetryPolicy) Option {
	return func(c *Caller) {
		c.policy = policy
	}
}

func WithAttemptHook(hook AttemptHook) Option {
	return func(c *Caller) {
		c.hook = hook
	}
}

// WithTokenSource sets the service token source. Without one no Authorization header is sent.
func WithTokenSource(tokens TokenSource) Option {
	return func(c *Caller) {
		c.tokens = tokens
	}
}

// New creates a caller for the service named name at baseURL
func New(name, baseURL string, opts ...Option) *Caller {
	c := &Caller{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
		policy:     DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type retryableStatus struct {
	code int
	body string
}

func (e *retryableStatus) Error() string {
	return "retryable status " + http.StatusText(e.code)
}

// Do sends req and returns the 2xx response
func (c *Caller) Do(ctx context.Context, req Request) (*Response, error) {
	endpoint := c.baseURL + req.Path
	if len(req.Query) > 0 {
		endpoint += "?" + req.Query.Encode()
	}

	var payload []byte
	if req.Body != nil {
		raw, err := json.Marshal(req.Body)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to encode request body", goerr.V(model.URLKey, endpoint))
		}
		payload = raw
	}

	logger := logging.From(ctx).With("service", c.name, "method", req.Method, "url", endpoint)

	var (
		attempt  int
		result   *Response
		lastCode int
	)
	operation := func() error {
		attempt++
		token, err := c.token(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}

		resp, status, err := c.send(ctx, req.Method, endpoint, token, payload)
		lastCode = status
		if c.hook != nil {
			c.hook(ctx, Attempt{
				Number:     attempt,
				Method:     req.Method,
				URL:        endpoint,
				Token:      token,
				StatusCode: status,
				Err:        err,
			})
		}

		switch {
		case err != nil:
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			logger.Warn("downstream call failed", "attempt", attempt, "error", err.Error())
			return err

		case status >= 200 && status < 300:
			result = resp
			return nil

		case status == http.StatusUnauthorized:
			logger.Warn("downstream rejected service token, rotating", "attempt", attempt)
			if c.tokens != nil {
				if _, err := c.tokens.Refresh(ctx); err != nil {
					return backoff.Permanent(goerr.Wrap(errors.Join(model.ErrExternalGateway, err),
						"failed to refresh service token", goerr.V(model.URLKey, endpoint)))
				}
			}
			return &retryableStatus{code: status, body: string(resp.Body)}

		case status == http.StatusNotFound:
			return backoff.Permanent(goerr.Wrap(model.ErrNotFound, "downstream resource not found",
				goerr.V(model.URLKey, endpoint), goerr.V(model.StatusCodeKey, status)))

		case c.policy.retryable(status):
			logger.Warn("downstream returned retryable status", "attempt", attempt, "status", status)
			return &retryableStatus{code: status, body: string(resp.Body)}

		default:
			return backoff.Permanent(goerr.Wrap(model.ErrExternalGateway, "downstream rejected request",
				goerr.V(model.URLKey, endpoint), goerr.V(model.StatusCodeKey, status), goerr.V("body", string(resp.Body))))
		}
	}

	err := backoff.Retry(operation, backoff.WithContext(c.policy.newBackOff(), ctx))
	if err == nil {
		return result, nil
	}

	if errors.Is(err, model.ErrNotFound) || errors.Is(err, model.ErrExternalGateway) {
		return nil, err
	}
	return nil, goerr.Wrap(errors.Join(model.ErrExternalGateway, err), "downstream call failed",
		goerr.V(model.URLKey, endpoint),
		goerr.V(model.StatusCodeKey, lastCode),
		goerr.V("attempts", attempt))
}

func (c *Caller) token(ctx context.Context) (string, error) {
	if c.tokens == nil {
		return "", nil
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return "", goerr.Wrap(errors.Join(model.ErrExternalGateway, err), "failed to get service token")
	}
	return token, nil
}

func (c *Caller) send(ctx context.Context, method, endpoint, token string, payload []byte) (*Response, int, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, 0, goerr.Wrap(err, "failed to create request")
	}
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		httpReq.Header.Set("ServiceAuthorization", "Bearer "+token)
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, goerr.Wrap(err, "failed to send request")
	}
	defer safe.DrainClose(ctx, resp.Body)

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, resp.StatusCode, goerr.Wrap(err, "failed to read response body")
	}

	return &Response{StatusCode: resp.StatusCode, Body: data}, resp.StatusCode, nil
}
