// Package ytcollect collects YouTube channels, their videos and comments
// through the Data API v3, tracks change between runs and persists the
// merged snapshots.
//
// Overview
//
// A collection run goes through fixed stages, each of which may fail on its
// own without discarding what earlier stages gathered:
//
//  1. channel info (channels.list)
//  2. uploads playlist ID, which must start with "UU" and differ from the channel ID
//  3. videos (playlistItems.list + videos.list), with deltas against the stored snapshot
//  4. comments (commentThreads.list, optionally replies)
//  5. finalize: debug trace, response copy, stored snapshot alongside the fresh data
//
// Quick Start
//
//	cfg, err := config.Load("")
//	if err != nil {
//		log.Fatal(err)
//	}
//	hc, _ := youtube.NewHTTPClient(youtube.Credentials{APIKey: cfg.APIKey}, cfg.HTTPConfig())
//	svc, _ := youtube.NewService(ctx, hc, "")
//	client := youtube.NewClient(svc)
//
//	store, _ := storage.Open(ctx, cfg.StoreOptions())
//	tracker := quota.NewTracker(cfg.QuotaLimit)
//	p := collect.NewPipeline(
//		collect.Providers{Channels: client, Videos: client, Comments: client},
//		collect.WithStore(store),
//		collect.WithQuota(tracker),
//	)
//	res, err := p.Run(ctx, "UCxxxxxxxxxxxxxxxxxxxxxx", collect.DefaultOptions())
//
// Hand the result to a persist.Gateway to merge it into the store. The
// service package wires the same steps, including handle resolution, for
// the CLI, the HTTP API and the NATS worker.
//
// Configuration
//
// Settings load from defaults, then ytcollect.json (in the working directory
// or ~/.config/ytcollect/), then YTCOLLECT_* environment variables:
//
//   - YTCOLLECT_API_KEY: Data API key
//   - YTCOLLECT_OAUTH_CLIENT_ID, _CLIENT_SECRET, _REFRESH_TOKEN, _ACCESS_TOKEN: OAuth credentials
//   - YTCOLLECT_QUOTA_LIMIT, YTCOLLECT_QUOTA_RESERVE: daily units and the reserve kept back
//   - YTCOLLECT_STORE: json, sqlite, postgres or mongo
//   - YTCOLLECT_STORE_PATH, YTCOLLECT_POSTGRES_URL, YTCOLLECT_MONGO_URI: store locations
//   - YTCOLLECT_REDIS_URL: enables the snapshot cache
//   - YTCOLLECT_NATS_URL: enables collection events and the worker
//   - YTCOLLECT_MAX_VIDEOS, YTCOLLECT_MAX_COMMENTS_PER_VIDEO, YTCOLLECT_MAX_REPLIES_PER_COMMENT
//   - YTCOLLECT_MAX_RETRIES, YTCOLLECT_INITIAL_BACKOFF, YTCOLLECT_MAX_BACKOFF
//   - YTCOLLECT_LOG_LEVEL
//
// Error Handling
//
// Pipeline stage failures never surface as errors; they are recorded on the
// Result (ErrorVideos, ErrorComments, Errors). Run only returns an error for
// an invalid channel ID:
//
//	if errors.Is(err, ytcollect.ErrInvalidChannelID) {
//		fmt.Println("not a channel ID")
//	}
//
//	for _, se := range res.Errors {
//		if errors.Is(se, ytcollect.ErrQuotaExceeded) {
//			fmt.Println("quota ran out during", se.Stage)
//		}
//	}
package ytcollect
