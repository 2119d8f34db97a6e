package gateway_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/docket/pkg/domain/model"
	"github.com/secmon-lab/docket/pkg/service/gateway"
)

type rotatingTokens struct {
	mu        sync.Mutex
	current   int
	refreshes int
}

func (r *rotatingTokens) Token(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fmt.Sprintf("token-%d", r.current), nil
}

func (r *rotatingTokens) Refresh(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current++
	r.refreshes++
	return fmt.Sprintf("token-%d", r.current), nil
}

func fastPolicy() gateway.RetryPolicy {
	return gateway.RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		Multiplier:     1,
		MaxBackoff:     time.Millisecond,
	}
}

func statusSequence(t *testing.T, codes ...int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1)) - 1
		code := codes[len(codes)-1]
		if n < len(codes) {
			code = codes[n]
		}
		w.WriteHeader(code)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestCallerRetriesServerErrors(t *testing.T) {
	srv, calls := statusSequence(t, 500, 500, 204)

	var attempts []gateway.Attempt
	caller := gateway.New("workflow", srv.URL,
		gateway.WithRetryPolicy(fastPolicy()),
		gateway.WithTokenSource(&rotatingTokens{}),
		gateway.WithAttemptHook(func(ctx context.Context, a gateway.Attempt) {
			attempts = append(attempts, a)
		}),
	)

	resp, err := caller.Do(context.Background(), gateway.Request{Method: http.MethodPost, Path: "/task/t1/complete"})
	gt.NoError(t, err).Required()
	gt.Value(t, resp.StatusCode).Equal(http.StatusNoContent)
	gt.Value(t, calls.Load()).Equal(int32(3))
	gt.Array(t, attempts).Length(3)
	gt.Value(t, attempts[0].Token).Equal(attempts[2].Token)
	gt.Value(t, attempts[2].Number).Equal(3)
}

func TestCallerExhaustion(t *testing.T) {
	srv, calls := statusSequence(t, 503)

	caller := gateway.New("workflow", srv.URL, gateway.WithRetryPolicy(fastPolicy()))
	_, err := caller.Do(context.Background(), gateway.Request{Method: http.MethodPost, Path: "/task/t1/complete"})
	gt.Error(t, err).Is(model.ErrExternalGateway)
	gt.Value(t, calls.Load()).Equal(int32(3))
}

func TestCallerRotatesTokenOnUnauthorized(t *testing.T) {
	var seen []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Header.Get("ServiceAuthorization"))
		n := len(seen)
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	tokens := &rotatingTokens{}
	caller := gateway.New("workflow", srv.URL,
		gateway.WithRetryPolicy(fastPolicy()),
		gateway.WithTokenSource(tokens),
	)

	_, err := caller.Do(context.Background(), gateway.Request{Method: http.MethodPost, Path: "/task/t1/complete"})
	gt.NoError(t, err).Required()
	gt.Array(t, seen).Length(2)
	gt.Value(t, seen[0]).NotEqual(seen[1])
	gt.Value(t, seen[1]).Equal("Bearer token-1")
	gt.Value(t, tokens.refreshes).Equal(1)
}

func TestCallerDoesNotRetryNotFound(t *testing.T) {
	srv, calls := statusSequence(t, 404)

	caller := gateway.New("workflow", srv.URL, gateway.WithRetryPolicy(fastPolicy()))
	_, err := caller.Do(context.Background(), gateway.Request{Method: http.MethodPost, Path: "/task/t1/bpmnEscalation"})
	gt.Error(t, err).Is(model.ErrNotFound)
	gt.Value(t, calls.Load()).Equal(int32(1))
}

func TestCallerDoesNotRetryClientErrors(t *testing.T) {
	srv, calls := statusSequence(t, 400)

	caller := gateway.New("workflow", srv.URL, gateway.WithRetryPolicy(fastPolicy()))
	_, err := caller.Do(context.Background(), gateway.Request{Method: http.MethodPost, Path: "/task/t1/complete", Body: map[string]string{"a": "b"}})
	gt.Error(t, err).Is(model.ErrExternalGateway)
	gt.Value(t, calls.Load()).Equal(int32(1))
}

func TestCallerDoesNotRetryTooManyRequests(t *testing.T) {
	srv, calls := statusSequence(t, 429, 204)

	policy := gateway.DefaultRetryPolicy()
	policy.InitialBackoff = time.Millisecond
	policy.MaxBackoff = time.Millisecond
	caller := gateway.New("workflow", srv.URL, gateway.WithRetryPolicy(policy))
	_, err := caller.Do(context.Background(), gateway.Request{Method: http.MethodPost, Path: "/task/t1/complete"})
	gt.Error(t, err).Is(model.ErrExternalGateway)
	gt.Value(t, calls.Load()).Equal(int32(1))
}

func TestCallerRetriesTransportErrors(t *testing.T) {
	srv, _ := statusSequence(t, 204)
	url := srv.URL
	srv.Close()

	var attempts atomic.Int32
	caller := gateway.New("workflow", url,
		gateway.WithRetryPolicy(fastPolicy()),
		gateway.WithAttemptHook(func(ctx context.Context, a gateway.Attempt) {
			attempts.Add(1)
			gt.Value(t, a.Err).NotNil()
		}),
	)
	_, err := caller.Do(context.Background(), gateway.Request{Method: http.MethodGet, Path: "/health"})
	gt.Error(t, err).Is(model.ErrExternalGateway)
	gt.Value(t, attempts.Load()).Equal(int32(3))
}

func TestRetryPolicyDelays(t *testing.T) {
	p := gateway.RetryPolicy{
		MaxAttempts:    4,
		InitialBackoff: 100 * time.Millisecond,
		Multiplier:     2,
		MaxBackoff:     300 * time.Millisecond,
	}
	delays := p.Delays()
	gt.Array(t, delays).Length(3)
	gt.Value(t, delays[0]).Equal(100 * time.Millisecond)
	gt.Value(t, delays[1]).Equal(200 * time.Millisecond)
	gt.Value(t, delays[2]).Equal(300 * time.Millisecond)

	fixed := gateway.RetryPolicy{MaxAttempts: 3, InitialBackoff: 50 * time.Millisecond, Multiplier: 1, MaxBackoff: time.Second}
	for _, d := range fixed.Delays() {
		gt.Value(t, d).Equal(50 * time.Millisecond)
	}

	gt.Array(t, gateway.RetryPolicy{}.Delays()).Length(0)
}

func TestCallerCustomRetryablePredicate(t *testing.T) {
	policy := fastPolicy()
	policy.Retryable = func(status int) bool { return status != http.StatusNotImplemented }

	t.Run("excluded server error fails at once", func(t *testing.T) {
		srv, calls := statusSequence(t, 501, 204)
		caller := gateway.New("workflow", srv.URL, gateway.WithRetryPolicy(policy))

		_, err := caller.Do(context.Background(), gateway.Request{Method: http.MethodPost, Path: "/task/t1/complete"})
		gt.Error(t, err).Is(model.ErrExternalGateway)
		gt.Value(t, calls.Load()).Equal(int32(1))
	})

	t.Run("client errors stay final whatever the predicate says", func(t *testing.T) {
		srv, calls := statusSequence(t, 409, 204)
		lenient := fastPolicy()
		lenient.Retryable = func(int) bool { return true }
		caller := gateway.New("workflow", srv.URL, gateway.WithRetryPolicy(lenient))

		_, err := caller.Do(context.Background(), gateway.Request{Method: http.MethodPost, Path: "/task/t1/complete"})
		gt.Error(t, err).Is(model.ErrExternalGateway)
		gt.Value(t, calls.Load()).Equal(int32(1))
	})

	t.Run("included server error is retried", func(t *testing.T) {
		srv, calls := statusSequence(t, 503, 204)
		caller := gateway.New("workflow", srv.URL, gateway.WithRetryPolicy(policy))

		_, err := caller.Do(context.Background(), gateway.Request{Method: http.MethodPost, Path: "/task/t1/complete"})
		gt.NoError(t, err).Required()
		gt.Value(t, calls.Load()).Equal(int32(2))
	})
}
