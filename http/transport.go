// Package http provides the outbound HTTP client used for YouTube Data API
// calls: per-host rate limiting, backoff after rate limit responses and a
// circuit breaker, packaged as an http.RoundTripper.
package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"ytcollect/metrics"
)

// Config holds outbound client settings.
type Config struct {
	// Timeout bounds a single request including the body read.
	Timeout        time.Duration
	UserAgent      string
	RateLimiter    RateLimiterConfig
	CircuitBreaker CircuitBreakerConfig
	Transport      TransportConfig
}

// TransportConfig configures connection pooling.
type TransportConfig struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration
	ForceAttemptHTTP2   bool
	DisableKeepAlives   bool
}

func DefaultConfig() *Config {
	return &Config{
		Timeout:        30 * time.Second,
		UserAgent:      "ytcollect/1.0",
		RateLimiter:    DefaultRateLimiterConfig(),
		CircuitBreaker: DefaultCircuitBreakerConfig(),
		Transport:      DefaultTransportConfig(),
	}
}

func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}
}

// Transport wraps another RoundTripper. Requests to a host with an open
// circuit fail with ErrCircuitOpen; the rest wait for the host's backoff
// window and rate limiter. Responses are always returned to the caller,
// which keeps API error decoding with the client library.
type Transport struct {
	base      http.RoundTripper
	userAgent string
	limiter   *RateLimiter
	breaker   *CircuitBreaker
}

// NewTransport wraps base, or a pooled transport built from cfg when base is nil.
func NewTransport(base http.RoundTripper, cfg *Config) *Transport {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if base == nil {
		base = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        cfg.Transport.MaxIdleConns,
			MaxIdleConnsPerHost: cfg.Transport.MaxIdleConnsPerHost,
			MaxConnsPerHost:     cfg.Transport.MaxConnsPerHost,
			IdleConnTimeout:     cfg.Transport.IdleConnTimeout,
			ForceAttemptHTTP2:   cfg.Transport.ForceAttemptHTTP2,
			DisableKeepAlives:   cfg.Transport.DisableKeepAlives,
		}
	}
	return &Transport{
		base:      base,
		userAgent: cfg.UserAgent,
		limiter:   NewRateLimiter(cfg.RateLimiter),
		breaker:   NewCircuitBreaker(cfg.CircuitBreaker),
	}
}

// NewClient returns an *http.Client using a new Transport.
func NewClient(cfg *Config) *http.Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &http.Client{
		Timeout:   cfg.Timeout,
		Transport: NewTransport(nil, cfg),
	}
}

func (t *Transport) Limiter() *RateLimiter { return t.limiter }
func (t *Transport) Breaker() *CircuitBreaker { return t.breaker }

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	host := req.URL.Hostname()
	ctx := req.Context()

	if err := t.breaker.Allow(host); err != nil {
		metrics.OutboundRequestsTotal.WithLabelValues(host, "circuit_open").Inc()
		return nil, err
	}
	if err := t.limiter.WaitForBackoff(ctx, host); err != nil {
		return nil, err
	}
	if err := t.limiter.Wait(ctx, host); err != nil {
		return nil, err
	}

	if t.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req = req.Clone(ctx)
		req.Header.Set("User-Agent", t.userAgent)
	}

	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	metrics.OutboundRequestDuration.WithLabelValues(host).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.OutboundRequestsTotal.WithLabelValues(host, "error").Inc()
		t.breaker.RecordFailure(host, err)
		return nil, err
	}
	metrics.OutboundRequestsTotal.WithLabelValues(host, strconv.Itoa(resp.StatusCode)).Inc()

	switch code := resp.StatusCode; {
	case code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable:
		wait := t.limiter.RecordRateLimitError(host, parseRetryAfter(resp.Header))
		t.breaker.RecordFailure(host, &StatusError{Host: host, StatusCode: code, RetryAfter: wait})
		log.Debug().Str("host", host).Int("status", code).Dur("backoff", wait).Msg("http: rate limited")
	case code >= 500:
		t.breaker.RecordFailure(host, &StatusError{Host: host, StatusCode: code})
	default:
		t.limiter.RecordSuccess(host)
		t.breaker.RecordSuccess(host)
	}
	return resp, nil
}

// parseRetryAfter reads Retry-After as seconds or an HTTP date.
func parseRetryAfter(header http.Header) time.Duration {
	v := header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
