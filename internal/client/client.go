// Package client implements the resilient data-access layer: request
// execution with bearer auth, response caching with staleness control,
// concurrent GET de-duplication, rate-limit cooldowns and offline cache
// substitution.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/haakenstad/ledgerlight/internal/apicache"
	"github.com/haakenstad/ledgerlight/internal/events"
	"github.com/haakenstad/ledgerlight/internal/inflight"
	"github.com/haakenstad/ledgerlight/internal/kvstore"
	"github.com/haakenstad/ledgerlight/internal/logging"
	"github.com/haakenstad/ledgerlight/internal/ratelimiting"
	"github.com/haakenstad/ledgerlight/internal/reporting"
	"github.com/haakenstad/ledgerlight/internal/session"
)

const userAgent = "ledgerlight"

type HttpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type Client struct {
	httpClient HttpClient
	baseURL    string

	tokens   *session.TokenStore
	notifier *session.ExpiryNotifier
	cache    *apicache.Store
	tracker  *ratelimiting.Tracker
	registry *inflight.Registry[Payload]
	emitter  *events.Emitter
	outbound *ratelimiting.OutboundLimiter

	nowFunc    func() time.Time
	defaultTTL time.Duration

	metrics clientMetricsCollection
}

// New wires up a Client on top of the given transport and key-value store.
// The returned cleanup func stops the cooldown tracker's janitor.
func New(
	httpClient HttpClient,
	baseURL string,
	kv kvstore.Store,
	nowFunc func() time.Time,
	afterFunc func(time.Duration) <-chan time.Time,
	options ...Option,
) (*Client, func(), error) {
	cache, err := apicache.NewStore(kv, nowFunc)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create response cache: %w", err)
	}

	tracker, stopTracker, err := ratelimiting.NewTracker(nowFunc, afterFunc)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create cooldown tracker: %w", err)
	}

	meter := otel.Meter("client")
	metrics, err := setupClientMetrics(meter)
	if err != nil {
		stopTracker()
		return nil, nil, fmt.Errorf("failed to set up metrics: %w", err)
	}

	client := &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),

		tokens:   session.NewTokenStore(kv),
		notifier: session.NewExpiryNotifier(),
		cache:    cache,
		tracker:  tracker,
		registry: inflight.NewRegistry[Payload](),
		emitter:  events.NewEmitter(),

		nowFunc:    nowFunc,
		defaultTTL: DefaultCacheTTL,

		metrics: metrics,
	}

	for _, option := range options {
		option(client)
	}

	return client, stopTracker, nil
}

func (c *Client) Tokens() *session.TokenStore {
	return c.tokens
}

// OnSessionExpired registers the callback invoked when the server rejects
// our credentials. Only one callback is active at a time, a new
// registration replaces the previous one.
func (c *Client) OnSessionExpired(callback func()) func() {
	return c.notifier.Register(callback)
}

// SubscribeEvents registers a handler for cache substitution events.
func (c *Client) SubscribeEvents(handler func(events.Event)) func() {
	return c.emitter.Subscribe(handler)
}

type requestDescriptor struct {
	method   string
	path     string
	body     []byte
	jsonBody bool

	options requestOptions
}

func (c *Client) execute(ctx context.Context, desc requestDescriptor) (Payload, error) {
	requestID := uuid.New().String()
	ctx = reporting.NewCallContext(ctx)
	ctx = logging.AddCallMetaToContext(ctx, desc.method, desc.path, requestID)
	ctx = reporting.AddTagsToContext(ctx, map[string]string{
		"method": desc.method,
		"path":   desc.path,
	})
	ctx = reporting.AddExtrasToContext(ctx, map[string]string{
		"requestID": requestID,
	})
	ctx = reporting.SetCallStartedAtInContext(ctx, c.nowFunc())

	logger := logging.FromContext(ctx)

	if desc.method != http.MethodGet {
		return c.dispatch(ctx, desc)
	}

	ttl := desc.options.cacheTTL
	if ttl == cacheTTLUnset {
		ttl = c.defaultTTL
	}

	if ttl > 0 {
		if entry, ok := c.cache.Read(ctx, desc.path); ok {
			if entry.Age(c.nowFunc()) <= ttl {
				logger.Info("serving fresh cached response", "age", entry.Age(c.nowFunc()).String())
				c.metrics.cacheHitCount.Add(ctx, 1)
				return payloadFromCache(entry.Data), nil
			}
		}
	}

	payload, shared, err := c.registry.Do(ctx, desc.path, func() (Payload, error) {
		return c.dispatch(ctx, desc)
	})
	if shared {
		logger.Info("collapsed into in-flight request")
		c.metrics.dedupCount.Add(ctx, 1)
	}
	return payload, err
}

func (c *Client) dispatch(ctx context.Context, desc requestDescriptor) (Payload, error) {
	logger := logging.FromContext(ctx)

	if err := c.tracker.Wait(ctx, desc.path); err != nil {
		return Payload{}, fmt.Errorf("cancelled while waiting out cooldown: %w", err)
	}
	if c.outbound != nil {
		if err := c.outbound.Wait(ctx); err != nil {
			return Payload{}, fmt.Errorf("failed to acquire dispatch slot: %w", err)
		}
	}

	req, err := c.buildRequest(ctx, desc)
	if err != nil {
		logger.Error("Failed to create request", "error", err)
		return Payload{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Error("Failed to send request", "error", err)
		if payload, ok := c.substituteCache(ctx, desc, events.OfflineCacheSubstituted); ok {
			return payload, nil
		}
		return Payload{}, fmt.Errorf("failed to send request: %w", err)
	}

	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		logger.Error("Failed to read response body", "error", err)
		return Payload{}, fmt.Errorf("failed to read response body: %w", err)
	}

	payload := parsePayload(data)
	c.metrics.responseCount.Add(ctx, 1, metric.WithAttributes(
		attribute.Int("statusCode", resp.StatusCode),
	))

	return c.classifyResponse(ctx, desc, resp, payload)
}

func (c *Client) classifyResponse(ctx context.Context, desc requestDescriptor, resp *http.Response, payload Payload) (Payload, error) {
	logger := logging.FromContext(ctx)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if desc.method == http.MethodGet {
			c.storeResponse(ctx, desc.path, payload)
		}
		return payload, nil

	case resp.StatusCode == http.StatusUnauthorized:
		logger.Info("server rejected credentials, clearing session")
		if err := c.tokens.Clear(ctx); err != nil {
			logger.Error("Failed to clear stored token", "error", err)
			reporting.Report(ctx, fmt.Errorf("failed to clear stored token: %w", err))
		}
		c.notifier.NotifyExpired(ctx)
		return Payload{}, newAPIError(resp.StatusCode, payload)

	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := ratelimiting.ParseRetryAfter(resp.Header.Get("Retry-After"), c.nowFunc())
		c.tracker.RecordThrottle(ctx, desc.path, retryAfter)

		if desc.method == http.MethodGet {
			if substituted, ok := c.substituteCache(ctx, desc, events.RateLimitCacheSubstituted); ok {
				return substituted, nil
			}
		}

		apiError := newAPIError(resp.StatusCode, payload)
		apiError.RetryAfter = retryAfter
		return Payload{}, apiError

	default:
		logger.Info("request failed", "statusCode", resp.StatusCode)
		return Payload{}, newAPIError(resp.StatusCode, payload)
	}
}

func (c *Client) buildRequest(ctx context.Context, desc requestDescriptor) (*http.Request, error) {
	url := c.baseURL + desc.path

	var body io.Reader
	if desc.body != nil {
		body = bytes.NewReader(desc.body)
	}

	req, err := http.NewRequestWithContext(ctx, desc.method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", userAgent)
	for key, values := range desc.options.headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	if desc.jsonBody && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	if !desc.options.skipAuth {
		token, err := c.tokens.Get(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read stored token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	return req, nil
}

// storeResponse caches a successful GET payload. Failures are reported but
// never fail the call, the caller already has its data.
func (c *Client) storeResponse(ctx context.Context, path string, payload Payload) {
	data, err := payload.raw()
	if err != nil {
		reporting.Report(ctx, fmt.Errorf("failed to encode response for caching: %w", err))
		return
	}

	if err := c.cache.Write(ctx, path, data); err != nil {
		logging.FromContext(ctx).Error("Failed to cache response", "error", err)
		reporting.Report(ctx, err)
	}
}

// substituteCache serves the last cached payload, however stale, when a
// live fetch is impossible. Emits an event so the UI can flag the data.
func (c *Client) substituteCache(ctx context.Context, desc requestDescriptor, kind events.Kind) (Payload, bool) {
	if desc.method != http.MethodGet {
		return Payload{}, false
	}

	entry, ok := c.cache.Read(ctx, desc.path)
	if !ok {
		return Payload{}, false
	}

	logging.FromContext(ctx).Info("substituting cached response", "kind", string(kind), "age", entry.Age(c.nowFunc()).String())
	c.metrics.substitutionCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(kind)),
	))

	c.emitter.Emit(ctx, events.Event{
		Kind:      kind,
		Path:      desc.path,
		Timestamp: entry.Timestamp,
	})

	return payloadFromCache(entry.Data), true
}

type clientMetricsCollection struct {
	cacheHitCount     metric.Int64Counter
	dedupCount        metric.Int64Counter
	responseCount     metric.Int64Counter
	substitutionCount metric.Int64Counter
}

func setupClientMetrics(meter metric.Meter) (clientMetricsCollection, error) {
	cacheHitCount, err := meter.Int64Counter(
		"client/cache_hit_count",
		metric.WithDescription("Number of GET calls served from a fresh cache entry"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return clientMetricsCollection{}, fmt.Errorf("failed to create cache hit counter: %w", err)
	}

	dedupCount, err := meter.Int64Counter(
		"client/dedup_count",
		metric.WithDescription("Number of GET calls collapsed into an in-flight request"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return clientMetricsCollection{}, fmt.Errorf("failed to create dedup counter: %w", err)
	}

	responseCount, err := meter.Int64Counter(
		"client/response_count",
		metric.WithDescription("Number of responses received, by status code"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return clientMetricsCollection{}, fmt.Errorf("failed to create response counter: %w", err)
	}

	substitutionCount, err := meter.Int64Counter(
		"client/substitution_count",
		metric.WithDescription("Number of calls served from stale cache, by cause"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return clientMetricsCollection{}, fmt.Errorf("failed to create substitution counter: %w", err)
	}

	return clientMetricsCollection{
		cacheHitCount:     cacheHitCount,
		dedupCount:        dedupCount,
		responseCount:     responseCount,
		substitutionCount: substitutionCount,
	}, nil
}
