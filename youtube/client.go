// Package youtube implements the collection providers on top of the
// YouTube Data API v3.
//
// A Client satisfies collect.ChannelProvider, collect.VideoProvider and
// collect.CommentProvider. It does not charge the quota tracker for those
// calls; the pipeline does that from the counts the Client reports. The
// Resolver, which runs outside the pipeline, charges its own lookups.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/googleapi/transport"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	ythttp "ytcollect/http"
	"ytcollect/internal/retry"
)

// Sentinel errors.
var (
	ErrChannelNotFound    = errors.New("youtube: channel not found")
	ErrHandleNotFound     = errors.New("youtube: handle not found")
	ErrMissingCredentials = errors.New("youtube: api key or oauth token required")
)

// googleEndpoint is Google's OAuth2 endpoint.
var googleEndpoint = oauth2.Endpoint{
	AuthURL:  "https://accounts.google.com/o/oauth2/auth",
	TokenURL: "https://oauth2.googleapis.com/token",
}

// Credentials authenticate Data API requests. TokenSource wins over APIKey.
type Credentials struct {
	APIKey      string
	TokenSource oauth2.TokenSource
}

// RefreshTokenSource returns a token source that refreshes an installed-app
// OAuth2 token against Google's endpoint.
func RefreshTokenSource(ctx context.Context, clientID, clientSecret, refreshToken string) oauth2.TokenSource {
	cfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     googleEndpoint,
		Scopes:       []string{youtube.YoutubeReadonlyScope},
	}
	return cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
}

// NewHTTPClient layers credentials over the rate limited, circuit broken
// transport from the http package.
func NewHTTPClient(creds Credentials, cfg *ythttp.Config) (*http.Client, error) {
	client := ythttp.NewClient(cfg)
	switch {
	case creds.TokenSource != nil:
		client.Transport = &oauth2.Transport{Source: creds.TokenSource, Base: client.Transport}
	case creds.APIKey != "":
		client.Transport = &transport.APIKey{Key: creds.APIKey, Transport: client.Transport}
	default:
		return nil, ErrMissingCredentials
	}
	return client, nil
}

// NewService builds a Data API service over hc. A non-empty endpoint
// replaces the default base URL.
func NewService(ctx context.Context, hc *http.Client, endpoint string) (*youtube.Service, error) {
	opts := []option.ClientOption{option.WithHTTPClient(hc)}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	svc, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create youtube service: %w", err)
	}
	return svc, nil
}

// Client wraps a Data API service with retries.
type Client struct {
	service  *youtube.Service
	retry    retry.Config
	logger   zerolog.Logger
	embedRaw bool
}

// Option configures a Client.
type Option func(*Client)

// WithRetry replaces retry.DefaultConfig.
func WithRetry(cfg retry.Config) Option {
	return func(c *Client) { c.retry = cfg }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithEmbedRaw attaches each videos.list resource to its VideoRecord so the
// pipeline reads counters from the untouched API payload.
func WithEmbedRaw(on bool) Option {
	return func(c *Client) { c.embedRaw = on }
}

// NewClient returns a Client for svc.
func NewClient(svc *youtube.Service, opts ...Option) *Client {
	c := &Client{
		service: svc,
		retry:   retry.DefaultConfig(),
		logger:  log.Logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// do runs fn under the client's retry policy. Not-found sentinels are final.
func (c *Client) do(ctx context.Context, op string, fn func(context.Context) error) error {
	err := retry.Do(ctx, c.retry, classify, fn)
	if err != nil {
		c.logger.Debug().Str("op", op).Err(err).Msg("youtube: call failed")
	}
	return err
}

func classify(err error) bool {
	if errors.Is(err, ErrChannelNotFound) || errors.Is(err, ErrHandleNotFound) {
		return false
	}
	return retry.IsRetryable(err)
}

// isReason reports whether err is a Data API error carrying one of reasons.
func isReason(err error, reasons ...string) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && retry.HasReason(apiErr, reasons...)
}
