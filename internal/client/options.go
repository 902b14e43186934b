package client

import (
	"net/http"
	"time"

	"github.com/haakenstad/ledgerlight/internal/ratelimiting"
)

// Cached GET responses younger than this are served without a live
// dispatch. Long enough to absorb redundant re-renders, short enough not
// to mask genuinely fresh server state.
const DefaultCacheTTL = 2 * time.Second

type Option func(*Client)

// WithOutboundLimiter caps the layer's own dispatch rate, independent of
// server-imposed cooldowns.
func WithOutboundLimiter(limiter *ratelimiting.OutboundLimiter) Option {
	return func(c *Client) {
		c.outbound = limiter
	}
}

func WithDefaultCacheTTL(ttl time.Duration) Option {
	return func(c *Client) {
		c.defaultTTL = ttl
	}
}

// cacheTTLUnset marks a request that did not pick its own freshness
// window, as opposed to one that explicitly disabled caching with TTL 0.
const cacheTTLUnset = time.Duration(-1)

type requestOptions struct {
	headers  http.Header
	skipAuth bool
	cacheTTL time.Duration
}

type RequestOption func(*requestOptions)

func WithHeader(key, value string) RequestOption {
	return func(o *requestOptions) {
		if o.headers == nil {
			o.headers = http.Header{}
		}
		o.headers.Set(key, value)
	}
}

// WithSkipAuth leaves the Authorization header off, e.g. for login calls.
func WithSkipAuth() RequestOption {
	return func(o *requestOptions) {
		o.skipAuth = true
	}
}

// WithCacheTTL overrides the freshness window for this GET.
func WithCacheTTL(ttl time.Duration) RequestOption {
	return func(o *requestOptions) {
		o.cacheTTL = ttl
	}
}

// WithoutCache disables the freshness short-circuit for this GET, e.g. for
// read-after-write consistency. The entry is still written on success and
// still serves as an offline fallback.
func WithoutCache() RequestOption {
	return func(o *requestOptions) {
		o.cacheTTL = 0
	}
}
