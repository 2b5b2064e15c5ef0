package main

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"ytcollect/collect"
	"ytcollect/config"
	"ytcollect/events"
	"ytcollect/persist"
	"ytcollect/quota"
	"ytcollect/service"
	"ytcollect/storage"
	"ytcollect/youtube"
)

// app is the wired object graph shared by the subcommands.
type app struct {
	cfg      *config.Config
	store    storage.Store
	kind     storage.Kind
	gateway  *persist.Gateway
	quota    *quota.Tracker
	pipeline *collect.Pipeline
	svc      *service.Service
	nc       *nats.Conn
}

type appOptions struct {
	// api builds the Data API client; without it the service can only
	// classify inputs.
	api bool
	// nats connects to cfg.NatsURL when set.
	nats bool
}

func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	a := &app{cfg: cfg}
	a.quota = quota.NewTracker(cfg.QuotaLimit, quota.WithReserve(cfg.QuotaReserve))

	storeOpts := cfg.StoreOptions()
	store, err := storage.Open(ctx, storeOpts)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", storeOpts.Kind, err)
	}
	a.store, a.kind = store, storeOpts.Kind

	var gwOpts []persist.Option
	if opts.nats && cfg.NatsURL != "" {
		nc, err := events.Connect(cfg.NatsURL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.nc = nc
		gwOpts = append(gwOpts, persist.WithNotifier(events.NewPublisher(nc)))
	}
	a.gateway = persist.NewGateway(gwOpts...)
	a.gateway.Register(a.kind, store)

	svcOpts := []service.Option{service.WithQuota(a.quota), service.WithStoreKind(a.kind)}
	if opts.api {
		client, err := newYouTubeClient(ctx, cfg)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.pipeline = collect.NewPipeline(
			collect.Providers{Channels: client, Videos: client, Comments: client},
			collect.WithStore(store),
			collect.WithQuota(a.quota),
		)
		svcOpts = append(svcOpts, service.WithResolver(youtube.NewResolver(client, a.quota)))
	}

	var runner service.Runner = a.pipeline
	if a.pipeline == nil {
		runner = offlineRunner{}
	}
	a.svc = service.New(runner, a.gateway, svcOpts...)
	return a, nil
}

func newYouTubeClient(ctx context.Context, cfg *config.Config) (*youtube.Client, error) {
	var creds youtube.Credentials
	switch {
	case cfg.OAuthRefreshToken != "" && cfg.OAuthClientID != "":
		creds.TokenSource = youtube.RefreshTokenSource(ctx, cfg.OAuthClientID, cfg.OAuthClientSecret, cfg.OAuthRefreshToken)
	case cfg.OAuthAccessToken != "":
		creds.TokenSource = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.OAuthAccessToken})
	default:
		creds.APIKey = cfg.APIKey
	}

	hc, err := youtube.NewHTTPClient(creds, cfg.HTTPConfig())
	if err != nil {
		return nil, err
	}
	svc, err := youtube.NewService(ctx, hc, cfg.APIEndpoint)
	if err != nil {
		return nil, err
	}
	return youtube.NewClient(svc,
		youtube.WithRetry(cfg.RetryConfig()),
		youtube.WithEmbedRaw(cfg.EmbedRaw),
	), nil
}

// Close releases the store and the NATS connection.
func (a *app) Close() {
	if a.gateway != nil {
		if err := a.gateway.Close(); err != nil {
			log.Warn().Err(err).Msg("close stores")
		}
	} else if a.store != nil {
		a.store.Close()
	}
	if a.nc != nil {
		if err := a.nc.Drain(); err != nil {
			a.nc.Close()
		}
	}
}

// offlineRunner stands in for the pipeline when no credentials exist.
type offlineRunner struct{}

func (offlineRunner) Run(ctx context.Context, channelID string, opts collect.Options) (*collect.Result, error) {
	return nil, youtube.ErrMissingCredentials
}
