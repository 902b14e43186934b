package client

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haakenstad/ledgerlight/internal/events"
	"github.com/haakenstad/ledgerlight/internal/kvstore"
	"github.com/haakenstad/ledgerlight/internal/ratelimiting"
)

type totals struct {
	Assets      float64 `json:"assets"`
	Liabilities float64 `json:"liabilities"`
}

func newTestClient(t *testing.T, transport *mockTransport, clock *fakeClock, options ...Option) (*Client, kvstore.Store) {
	t.Helper()

	kv := kvstore.NewMemory()
	client, stop, err := New(transport, "https://api.example.com", kv, clock.Now, clock.After, options...)
	require.NoError(t, err)
	t.Cleanup(stop)

	return client, kv
}

func TestGetDecodesResponseAndSendsAuth(t *testing.T) {
	t.Parallel()

	transport := &mockTransport{
		respond: func(req *http.Request) (*http.Response, error) {
			return newResponse(200, `{"assets":1000,"liabilities":250}`), nil
		},
	}
	client, _ := newTestClient(t, transport, newFakeClock())

	ctx := context.Background()
	require.NoError(t, client.Tokens().Set(ctx, "session-token"))

	result, err := Get[totals](ctx, client, "/api/totals")
	require.NoError(t, err)
	assert.Equal(t, totals{Assets: 1000, Liabilities: 250}, result)

	requests := transport.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, "https://api.example.com/api/totals", requests[0].URL.String())
	assert.Equal(t, "Bearer session-token", requests[0].Header.Get("Authorization"))
	assert.Equal(t, userAgent, requests[0].Header.Get("User-Agent"))
}

func TestGetOmitsAuthWhenAnonymous(t *testing.T) {
	t.Parallel()

	transport := &mockTransport{
		respond: func(req *http.Request) (*http.Response, error) {
			return newResponse(200, `{}`), nil
		},
	}
	client, _ := newTestClient(t, transport, newFakeClock())

	_, err := Get[totals](context.Background(), client, "/api/totals")
	require.NoError(t, err)

	requests := transport.Requests()
	require.Len(t, requests, 1)
	assert.Empty(t, requests[0].Header.Get("Authorization"))
}

func TestSkipAuthLeavesTokenOff(t *testing.T) {
	t.Parallel()

	transport := &mockTransport{
		respond: func(req *http.Request) (*http.Response, error) {
			return newResponse(200, `{"token":"fresh"}`), nil
		},
	}
	client, _ := newTestClient(t, transport, newFakeClock())

	ctx := context.Background()
	require.NoError(t, client.Tokens().Set(ctx, "stale-token"))

	_, err := Post[struct {
		Token string `json:"token"`
	}](ctx, client, "/api/login", map[string]string{"password": "hunter2"}, WithSkipAuth())
	require.NoError(t, err)

	requests := transport.Requests()
	require.Len(t, requests, 1)
	assert.Empty(t, requests[0].Header.Get("Authorization"))
}

func TestGetServesFreshCacheEntry(t *testing.T) {
	t.Parallel()

	transport := &mockTransport{
		respond: func(req *http.Request) (*http.Response, error) {
			return newResponse(200, `{"assets":1000,"liabilities":250}`), nil
		},
	}
	clock := newFakeClock()
	client, _ := newTestClient(t, transport, clock)

	ctx := context.Background()

	first, err := Get[totals](ctx, client, "/api/totals")
	require.NoError(t, err)

	clock.Advance(500 * time.Millisecond)

	second, err := Get[totals](ctx, client, "/api/totals")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, transport.CallCount(), "second call within the freshness window should not dispatch")
}

func TestGetDispatchesWhenEntryIsStale(t *testing.T) {
	t.Parallel()

	transport := &mockTransport{
		respond: func(req *http.Request) (*http.Response, error) {
			return newResponse(200, `{"assets":1000,"liabilities":250}`), nil
		},
	}
	clock := newFakeClock()
	client, _ := newTestClient(t, transport, clock)

	ctx := context.Background()

	_, err := Get[totals](ctx, client, "/api/totals")
	require.NoError(t, err)

	clock.Advance(DefaultCacheTTL + time.Millisecond)

	_, err = Get[totals](ctx, client, "/api/totals")
	require.NoError(t, err)

	assert.Equal(t, 2, transport.CallCount())
}

func TestWithoutCacheAlwaysDispatches(t *testing.T) {
	t.Parallel()

	transport := &mockTransport{
		respond: func(req *http.Request) (*http.Response, error) {
			return newResponse(200, `{"assets":1000,"liabilities":250}`), nil
		},
	}
	client, _ := newTestClient(t, transport, newFakeClock())

	ctx := context.Background()

	_, err := Get[totals](ctx, client, "/api/totals")
	require.NoError(t, err)

	_, err = Get[totals](ctx, client, "/api/totals", WithoutCache())
	require.NoError(t, err)

	assert.Equal(t, 2, transport.CallCount())
}

func TestWithCacheTTLExtendsFreshness(t *testing.T) {
	t.Parallel()

	transport := &mockTransport{
		respond: func(req *http.Request) (*http.Response, error) {
			return newResponse(200, `[]`), nil
		},
	}
	clock := newFakeClock()
	client, _ := newTestClient(t, transport, clock)

	ctx := context.Background()

	_, err := Get[[]string](ctx, client, "/api/fx-rates")
	require.NoError(t, err)

	clock.Advance(time.Minute)

	_, err = Get[[]string](ctx, client, "/api/fx-rates", WithCacheTTL(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, 1, transport.CallCount())
}

func TestConcurrentGetsCollapseIntoOneDispatch(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	transport := &mockTransport{
		respond: func(req *http.Request) (*http.Response, error) {
			<-release
			return newResponse(200, `{"assets":42,"liabilities":0}`), nil
		},
	}
	client, _ := newTestClient(t, transport, newFakeClock())

	ctx := context.Background()

	const callers = 10
	results := make([]totals, callers)
	errs := make([]error, callers)

	var started, done sync.WaitGroup
	for i := range callers {
		started.Add(1)
		done.Add(1)
		go func() {
			defer done.Done()
			started.Done()
			results[i], errs[i] = Get[totals](ctx, client, "/api/totals")
		}()
	}

	started.Wait()
	// Give the goroutines time to reach the in-flight registry
	time.Sleep(50 * time.Millisecond)
	close(release)
	done.Wait()

	assert.Equal(t, 1, transport.CallCount(), "concurrent identical GETs should share one dispatch")
	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, totals{Assets: 42}, results[i])
	}
}

func TestConcurrentGetsShareFailure(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	transport := &mockTransport{
		respond: func(req *http.Request) (*http.Response, error) {
			<-release
			return newResponse(500, `{"message":"database unavailable"}`), nil
		},
	}
	client, _ := newTestClient(t, transport, newFakeClock())

	ctx := context.Background()

	const callers = 5
	errs := make([]error, callers)

	var done sync.WaitGroup
	for i := range callers {
		done.Add(1)
		go func() {
			defer done.Done()
			_, errs[i] = Get[totals](ctx, client, "/api/totals")
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	done.Wait()

	assert.Equal(t, 1, transport.CallCount())
	for i := range callers {
		require.ErrorIs(t, errs[i], ErrRequestFailed)
	}
}

func TestOfflineSubstitutesCachedResponse(t *testing.T) {
	t.Parallel()

	transport := &mockTransport{
		respond: func(req *http.Request) (*http.Response, error) {
			return newResponse(200, `{"assets":1000,"liabilities":250}`), nil
		},
	}
	clock := newFakeClock()
	client, _ := newTestClient(t, transport, clock)

	ctx := context.Background()

	first, err := Get[totals](ctx, client, "/api/totals")
	require.NoError(t, err)
	fetchedAt := clock.Now()

	var emitted []events.Event
	unsubscribe := client.SubscribeEvents(func(event events.Event) {
		emitted = append(emitted, event)
	})
	defer unsubscribe()

	clock.Advance(time.Hour)
	transport.SetRespond(func(req *http.Request) (*http.Response, error) {
		return nil, errors.New("dial tcp: connection refused")
	})

	second, err := Get[totals](ctx, client, "/api/totals")
	require.NoError(t, err, "stale cache should absorb a transport failure")
	assert.Equal(t, first, second)

	require.Len(t, emitted, 1)
	assert.Equal(t, events.OfflineCacheSubstituted, emitted[0].Kind)
	assert.Equal(t, "/api/totals", emitted[0].Path)
	assert.WithinDuration(t, fetchedAt, emitted[0].Timestamp, 0)
}

func TestOfflineWithoutCacheEntryFails(t *testing.T) {
	t.Parallel()

	transportErr := errors.New("dial tcp: connection refused")
	transport := &mockTransport{
		respond: func(req *http.Request) (*http.Response, error) {
			return nil, transportErr
		},
	}
	client, _ := newTestClient(t, transport, newFakeClock())

	_, err := Get[totals](context.Background(), client, "/api/totals")
	require.ErrorIs(t, err, transportErr)

	var apiError *APIError
	assert.False(t, errors.As(err, &apiError), "transport failures are not API errors")
}

func TestOfflineDoesNotSubstituteForMutations(t *testing.T) {
	t.Parallel()

	transport := &mockTransport{
		respond: func(req *http.Request) (*http.Response, error) {
			return nil, errors.New("dial tcp: connection refused")
		},
	}
	client, _ := newTestClient(t, transport, newFakeClock())

	_, err := Post[struct{}](context.Background(), client, "/api/accounts", map[string]string{"name": "Savings"})
	require.Error(t, err)
}

func TestUnauthorizedClearsSessionAndNotifies(t *testing.T) {
	t.Parallel()

	transport := &mockTransport{
		respond: func(req *http.Request) (*http.Response, error) {
			return newResponse(401, `Invalid or expired token`), nil
		},
	}
	client, kv := newTestClient(t, transport, newFakeClock())

	ctx := context.Background()
	require.NoError(t, client.Tokens().Set(ctx, "expired-token"))

	expiredCalls := 0
	unregister := client.OnSessionExpired(func() {
		expiredCalls++
	})
	defer unregister()

	_, err := Get[totals](ctx, client, "/api/totals")
	require.ErrorIs(t, err, ErrUnauthorized)

	var apiError *APIError
	require.ErrorAs(t, err, &apiError)
	assert.Equal(t, 401, apiError.StatusCode)
	assert.Equal(t, "Invalid or expired token", apiError.Message)

	assert.Equal(t, 1, expiredCalls)

	token, err := client.Tokens().Get(ctx)
	require.NoError(t, err)
	assert.Empty(t, token, "stored token should be cleared on rejection")

	_, found, err := kv.GetItem(ctx, "auth:token")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRateLimitStartsCooldown(t *testing.T) {
	t.Parallel()

	transport := &mockTransport{
		respond: func(req *http.Request) (*http.Response, error) {
			return newThrottledResponse("5"), nil
		},
	}
	clock := newFakeClock()
	client, _ := newTestClient(t, transport, clock)

	ctx := context.Background()

	_, err := Get[totals](ctx, client, "/api/totals")
	require.ErrorIs(t, err, ErrRateLimited)

	var apiError *APIError
	require.ErrorAs(t, err, &apiError)
	assert.Equal(t, 5*time.Second, apiError.RetryAfter)

	transport.SetRespond(func(req *http.Request) (*http.Response, error) {
		return newResponse(200, `{"assets":1,"liabilities":0}`), nil
	})

	_, err = Get[totals](ctx, client, "/api/totals")
	require.NoError(t, err)

	require.Len(t, clock.Waits(), 1, "second dispatch should wait out the cooldown")
	assert.Equal(t, 5*time.Second, clock.Waits()[0])
}

func TestRateLimitCooldownIsPerPath(t *testing.T) {
	t.Parallel()

	transport := &mockTransport{
		respond: func(req *http.Request) (*http.Response, error) {
			if req.URL.Path == "/api/totals" {
				return newThrottledResponse("30"), nil
			}
			return newResponse(200, `[]`), nil
		},
	}
	clock := newFakeClock()
	client, _ := newTestClient(t, transport, clock)

	ctx := context.Background()

	_, err := Get[totals](ctx, client, "/api/totals")
	require.ErrorIs(t, err, ErrRateLimited)

	_, err = Get[[]string](ctx, client, "/api/accounts")
	require.NoError(t, err)

	assert.Empty(t, clock.Waits(), "cooldown on one path should not delay another")
}

func TestRateLimitSubstitutesCachedResponse(t *testing.T) {
	t.Parallel()

	transport := &mockTransport{
		respond: func(req *http.Request) (*http.Response, error) {
			return newResponse(200, `{"assets":1000,"liabilities":250}`), nil
		},
	}
	clock := newFakeClock()
	client, _ := newTestClient(t, transport, clock)

	ctx := context.Background()

	first, err := Get[totals](ctx, client, "/api/totals")
	require.NoError(t, err)

	var emitted []events.Event
	unsubscribe := client.SubscribeEvents(func(event events.Event) {
		emitted = append(emitted, event)
	})
	defer unsubscribe()

	clock.Advance(time.Hour)
	transport.SetRespond(func(req *http.Request) (*http.Response, error) {
		return newThrottledResponse("5"), nil
	})

	second, err := Get[totals](ctx, client, "/api/totals")
	require.NoError(t, err, "stale cache should absorb a throttled response")
	assert.Equal(t, first, second)

	require.Len(t, emitted, 1)
	assert.Equal(t, events.RateLimitCacheSubstituted, emitted[0].Kind)
}

func TestLegacyCacheEntryIsNeverFreshButServesAsFallback(t *testing.T) {
	t.Parallel()

	transport := &mockTransport{
		respond: func(req *http.Request) (*http.Response, error) {
			return newResponse(200, `{"assets":2,"liabilities":0}`), nil
		},
	}
	client, kv := newTestClient(t, transport, newFakeClock())

	ctx := context.Background()
	// Entries written before timestamps were introduced are bare payloads
	require.NoError(t, kv.SetItem(ctx, "cache:/api/totals", `{"assets":1,"liabilities":0}`))

	result, err := Get[totals](ctx, client, "/api/totals")
	require.NoError(t, err)
	assert.Equal(t, totals{Assets: 2}, result)
	assert.Equal(t, 1, transport.CallCount(), "a legacy entry must not satisfy the freshness check")

	require.NoError(t, kv.SetItem(ctx, "cache:/api/fx-rates", `{"USD":1.0}`))
	transport.SetRespond(func(req *http.Request) (*http.Response, error) {
		return nil, errors.New("dial tcp: connection refused")
	})

	rates, err := Get[map[string]float64](ctx, client, "/api/fx-rates")
	require.NoError(t, err, "a legacy entry should still serve as an offline fallback")
	assert.Equal(t, map[string]float64{"USD": 1.0}, rates)
}

func TestPostDistinguishesMissingBodyFromEmptyObject(t *testing.T) {
	t.Parallel()

	transport := &mockTransport{
		respond: func(req *http.Request) (*http.Response, error) {
			return newResponse(204, ``), nil
		},
	}
	client, _ := newTestClient(t, transport, newFakeClock())

	ctx := context.Background()

	_, err := Post[struct{}](ctx, client, "/api/logout", nil)
	require.NoError(t, err)

	_, err = Post[struct{}](ctx, client, "/api/accounts", map[string]string{})
	require.NoError(t, err)

	requests := transport.Requests()
	require.Len(t, requests, 2)

	assert.Nil(t, requests[0].Body, "nil body must send no body at all")
	assert.Empty(t, requests[0].Header.Get("Content-Type"))

	require.NotNil(t, requests[1].Body)
	assert.Equal(t, "application/json", requests[1].Header.Get("Content-Type"))
}

func TestMutationsAreNotCached(t *testing.T) {
	t.Parallel()

	transport := &mockTransport{
		respond: func(req *http.Request) (*http.Response, error) {
			return newResponse(200, `{"id":"acc-1"}`), nil
		},
	}
	client, _ := newTestClient(t, transport, newFakeClock())

	ctx := context.Background()

	_, err := Post[struct{}](ctx, client, "/api/accounts", map[string]string{"name": "Savings"})
	require.NoError(t, err)

	_, err = Get[struct{}](ctx, client, "/api/accounts")
	require.NoError(t, err)

	assert.Equal(t, 2, transport.CallCount(), "a POST response must not satisfy a later GET")
}

func TestOutboundLimiterCapsDispatchRate(t *testing.T) {
	t.Parallel()

	transport := &mockTransport{
		respond: func(req *http.Request) (*http.Response, error) {
			return newResponse(200, `{"assets":1,"liabilities":0}`), nil
		},
	}
	// No refill, so only the burst is ever dispatched
	limiter := ratelimiting.NewOutboundLimiter(0, 1)
	client, _ := newTestClient(t, transport, newFakeClock(), WithOutboundLimiter(limiter))

	ctx := context.Background()

	_, err := Get[totals](ctx, client, "/api/totals", WithoutCache())
	require.NoError(t, err)

	_, err = Get[totals](ctx, client, "/api/totals", WithoutCache())
	require.Error(t, err, "burst is spent, no dispatch slot is ever available")
	assert.Equal(t, 1, transport.CallCount())
}

func TestErrorMessageFromJSONBody(t *testing.T) {
	t.Parallel()

	transport := &mockTransport{
		respond: func(req *http.Request) (*http.Response, error) {
			return newResponse(500, `{"message":"database unavailable"}`), nil
		},
	}
	client, _ := newTestClient(t, transport, newFakeClock())

	_, err := Get[totals](context.Background(), client, "/api/totals")
	require.ErrorIs(t, err, ErrRequestFailed)

	var apiError *APIError
	require.ErrorAs(t, err, &apiError)
	assert.Equal(t, "database unavailable", apiError.Message)
	assert.Equal(t, "database unavailable (status 500)", apiError.Error())
}

func TestDeleteReturnsEmptyPayload(t *testing.T) {
	t.Parallel()

	transport := &mockTransport{
		respond: func(req *http.Request) (*http.Response, error) {
			return newResponse(204, ``), nil
		},
	}
	client, _ := newTestClient(t, transport, newFakeClock())

	result, err := Delete[struct{}](context.Background(), client, "/api/accounts/acc-1", nil)
	require.NoError(t, err)
	assert.Equal(t, struct{}{}, result)

	requests := transport.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, http.MethodDelete, requests[0].Method)
}
