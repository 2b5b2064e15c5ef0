package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"

	"ytcollect/channelid"
	"ytcollect/collect"
	"ytcollect/config"
	"ytcollect/events"
	"ytcollect/internal/logging"
	"ytcollect/quota"
	"ytcollect/server"
	"ytcollect/service"
	"ytcollect/storage"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "collect":
		cmdCollect(args)
	case "resolve":
		cmdResolve(args)
	case "estimate":
		cmdEstimate(args)
	case "show":
		cmdShow(args)
	case "serve":
		cmdServe(args)
	case "worker":
		cmdWorker(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		// A bare channel reference means collect.
		cmdCollect(os.Args[1:])
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `ytcollect - YouTube channel, video and comment collector

Usage:
  ytcollect collect [flags] <channel>   Collect a channel and store the result
  ytcollect resolve <channel>           Resolve a URL, handle or name to a channel ID
  ytcollect estimate [flags]            Estimate the quota cost of a collection
  ytcollect show [flags] <channel-id>   Show a stored channel
  ytcollect serve [flags]               Run the HTTP API
  ytcollect worker [flags]              Consume collect requests from NATS
  ytcollect help                        Show this help message

Examples:
  ytcollect UCxxxxxxxxxxxxxxxxxxxxxx                      # Collect videos (default)
  ytcollect collect --comments --max 20 @somehandle       # Videos and comments
  ytcollect collect --store sqlite --json <channel>       # Pick a store, print JSON
  ytcollect estimate --videos 200 --comments 20           # Quota pre-flight
  ytcollect serve --addr :9090                            # HTTP API

Configuration is read from ytcollect.json (or ~/.config/ytcollect/ytcollect.json)
and YTCOLLECT_* environment variables.

For help on specific command: ytcollect <command> -h
`)
}

// loadConfig loads configuration and initialises logging, exiting on error.
func loadConfig(path string, console bool) *config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if console {
		logging.InitConsole(cfg.LogLevel, "ytcollect")
	} else {
		logging.Init(cfg.LogLevel, "ytcollect")
	}
	return cfg
}

func exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func cmdCollect(args []string) {
	fs := flag.NewFlagSet("collect", flag.ExitOnError)
	configPath := fs.String("config", "", "Config file path")
	noVideos := fs.Bool("no-videos", false, "Skip the video stage")
	comments := fs.Bool("comments", false, "Collect comments")
	maxVideos := fs.Int("max", -1, "Maximum videos (default from config)")
	perVideo := fs.Int("comments-per-video", -1, "Maximum comments per video (default from config)")
	replies := fs.Int("replies", -1, "Maximum replies per comment (default from config)")
	storeKind := fs.String("store", "", "Store: json, sqlite, postgres or mongo (default from config)")
	dryRun := fs.Bool("dry-run", false, "Do not persist the result")
	asJSON := fs.Bool("json", false, "Print the full result as JSON")
	timeout := fs.Duration("timeout", 10*time.Minute, "Overall timeout")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: ytcollect collect [flags] <channel>\n\nFlags:\n")
		fs.PrintDefaults()
	}
	fs.Parse(args)

	argv := fs.Args()
	if len(argv) == 0 {
		fmt.Fprintf(os.Stderr, "Error: missing channel\n")
		fs.Usage()
		os.Exit(1)
	}

	cfg := loadConfig(*configPath, true)
	if *storeKind != "" {
		cfg.Store = *storeKind
		if err := cfg.Validate(); err != nil {
			exitf("%v", err)
		}
	}
	if !cfg.HasCredentials() {
		exitf("no API key or OAuth token configured (set YTCOLLECT_API_KEY)")
	}

	opts := collect.Options{
		FetchVideos:          !*noVideos,
		FetchComments:        *comments || cfg.FetchComments,
		MaxVideos:            pick(*maxVideos, cfg.MaxVideos),
		MaxCommentsPerVideo:  pick(*perVideo, cfg.MaxCommentsPerVideo),
		MaxRepliesPerComment: pick(*replies, cfg.MaxRepliesPerComment),
	}

	ctx, cancel := signalContext(*timeout)
	defer cancel()

	a, err := newApp(ctx, cfg, appOptions{api: true, nats: true})
	if err != nil {
		exitf("%v", err)
	}
	defer a.Close()

	fmt.Fprintf(os.Stderr, "Collecting %s...\n", argv[0])
	resp, err := a.svc.Collect(ctx, service.Request{Channel: argv[0], Options: opts, DryRun: *dryRun})
	if err != nil {
		a.Close()
		exitf("%v", err)
	}

	if *asJSON {
		printJSON(resp)
		return
	}
	printResult(resp)
}

func pick(flagValue, configValue int) int {
	if flagValue >= 0 {
		return flagValue
	}
	return configValue
}

func printResult(resp *service.Response) {
	res := resp.Result
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	if res.Channel != nil {
		fmt.Fprintf(w, "Channel:\t%s (%s)\n", res.Channel.Name, resp.ChannelID)
		fmt.Fprintf(w, "Subscribers:\t%d\n", res.Channel.Subscribers)
	} else {
		fmt.Fprintf(w, "Channel:\t%s\n", resp.ChannelID)
	}
	fmt.Fprintf(w, "Videos fetched:\t%d\n", res.VideosFetched)
	fmt.Fprintf(w, "Comments fetched:\t%d\n", res.CommentsFetched)
	fmt.Fprintf(w, "Quota used:\t%d\n", res.QuotaUsed)
	if s := res.DeltaSummary; s != nil {
		fmt.Fprintf(w, "New videos:\t%d\n", s.NewVideos)
		fmt.Fprintf(w, "Updated videos:\t%d (views %+d)\n", s.UpdatedVideos, s.TotalViewDelta)
		fmt.Fprintf(w, "New comments:\t%d\n", s.NewComments)
	}
	if res.ErrorVideos != "" {
		fmt.Fprintf(w, "Video errors:\t%s\n", res.ErrorVideos)
	}
	if res.ErrorComments != "" {
		fmt.Fprintf(w, "Comment errors:\t%s\n", res.ErrorComments)
	}
	if resp.Store != "" {
		fmt.Fprintf(w, "Saved:\t%v (%s)\n", resp.Saved, resp.Store)
	}
	w.Flush()

	if len(res.Videos) == 0 {
		return
	}
	fmt.Println()
	w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VIDEO ID\tTITLE\tVIEWS\tLIKES\tCOMMENTS\tVIEW DELTA")
	for _, v := range res.Videos {
		d := ""
		if v.ViewDelta != nil {
			d = fmt.Sprintf("%+d", *v.ViewDelta)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n", v.VideoID, truncate(v.Title, 50), v.Views, v.Likes, v.CommentCount, d)
	}
	w.Flush()
}

func cmdResolve(args []string) {
	fs := flag.NewFlagSet("resolve", flag.ExitOnError)
	configPath := fs.String("config", "", "Config file path")
	offline := fs.Bool("offline", false, "Only classify the input; never call the API")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: ytcollect resolve [flags] <channel>\n\nFlags:\n")
		fs.PrintDefaults()
	}
	fs.Parse(args)

	argv := fs.Args()
	if len(argv) == 0 {
		fmt.Fprintf(os.Stderr, "Error: missing channel\n")
		fs.Usage()
		os.Exit(1)
	}

	res := channelid.Resolve(argv[0])
	switch {
	case res.Kind == channelid.Invalid:
		exitf("%v", res.Err())
	case res.Kind == channelid.Resolved:
		fmt.Println(res.ChannelID)
		return
	case *offline:
		fmt.Printf("needs resolution: %s (%s)\n", res.Query(), res.Form)
		return
	}

	cfg := loadConfig(*configPath, true)
	if !cfg.HasCredentials() {
		exitf("%s needs an API lookup but no credentials are configured", res.Query())
	}
	ctx, cancel := signalContext(time.Minute)
	defer cancel()

	a, err := newApp(ctx, cfg, appOptions{api: true})
	if err != nil {
		exitf("%v", err)
	}
	defer a.Close()

	resolved, err := a.svc.Resolve(ctx, argv[0])
	if err != nil {
		a.Close()
		exitf("%v", err)
	}
	fmt.Println(resolved.ChannelID)
	fmt.Fprintf(os.Stderr, "Quota used: %d\n", a.quota.Used())
}

func cmdEstimate(args []string) {
	fs := flag.NewFlagSet("estimate", flag.ExitOnError)
	videos := fs.Int("videos", 50, "Number of videos")
	perVideo := fs.Int("comments", 0, "Comments per video (0 = no comments)")
	noChannel := fs.Bool("no-channel", false, "Skip the channel lookup")
	noVideos := fs.Bool("no-videos", false, "Skip the video stage")
	limit := fs.Int("limit", quota.DefaultLimit, "Daily quota limit")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: ytcollect estimate [flags]\n\nFlags:\n")
		fs.PrintDefaults()
	}
	fs.Parse(args)

	units := quota.Estimate(quota.EstimateRequest{
		FetchChannel:     !*noChannel,
		FetchVideos:      !*noVideos,
		FetchComments:    *perVideo > 0,
		VideoCount:       *videos,
		CommentsPerVideo: *perVideo,
	})
	fmt.Printf("Estimated cost: %d units (%.1f%% of %d)\n", units, 100*float64(units)/float64(*limit), *limit)
}

func cmdShow(args []string) {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	configPath := fs.String("config", "", "Config file path")
	storeKind := fs.String("store", "", "Store to read (default from config)")
	asJSON := fs.Bool("json", false, "Print as JSON")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: ytcollect show [flags] [channel-id]\n\nWithout a channel ID, lists stored channels.\n\nFlags:\n")
		fs.PrintDefaults()
	}
	fs.Parse(args)

	cfg := loadConfig(*configPath, true)
	if *storeKind != "" {
		cfg.Store = *storeKind
	}
	opts := cfg.StoreOptions()
	if _, err := storage.ParseKind(string(opts.Kind)); err != nil {
		exitf("%v", err)
	}

	ctx, cancel := signalContext(time.Minute)
	defer cancel()
	store, err := storage.Open(ctx, opts)
	if err != nil {
		exitf("open store: %v", err)
	}
	defer store.Close()

	if fs.NArg() == 0 {
		channels, err := store.ListChannels(ctx)
		if err != nil {
			store.Close()
			exitf("%v", err)
		}
		if *asJSON {
			printJSON(channels)
			return
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CHANNEL ID\tNAME\tSUBSCRIBERS\tLAST COLLECTED")
		for _, ch := range channels {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", ch.ChannelID, truncate(ch.Name, 40), ch.Subscribers, formatTime(ch.LastCollectedAt))
		}
		w.Flush()
		return
	}

	ch, err := store.GetChannel(ctx, fs.Arg(0))
	if err != nil {
		store.Close()
		if storage.IsNotFound(err) {
			exitf("channel %s is not stored", fs.Arg(0))
		}
		exitf("%v", err)
	}
	if *asJSON {
		printJSON(ch)
		return
	}
	comments := collect.CommentTotal(ch.Videos)
	fmt.Printf("Channel:         %s (%s)\n", ch.Name, ch.ChannelID)
	fmt.Printf("Subscribers:     %d\n", ch.Subscribers)
	fmt.Printf("Views:           %d\n", ch.Views)
	fmt.Printf("Uploads:         %s\n", ch.UploadsPlaylistID)
	fmt.Printf("Stored videos:   %d\n", len(ch.Videos))
	fmt.Printf("Stored comments: %d\n", comments)
	fmt.Printf("Last collected:  %s\n", formatTime(ch.LastCollectedAt))
}

func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Config file path")
	addr := fs.String("addr", "", "Listen address (default from config)")
	collectTimeout := fs.Duration("collect-timeout", 5*time.Minute, "Timeout for one collect request")
	fs.Parse(args)

	cfg := loadConfig(*configPath, false)
	if *addr != "" {
		cfg.ListenAddr = *addr
	}

	ctx, cancel := signalContext(0)
	defer cancel()

	a, err := newApp(ctx, cfg, appOptions{api: cfg.HasCredentials(), nats: true})
	if err != nil {
		exitf("%v", err)
	}
	defer a.Close()
	if !cfg.HasCredentials() {
		log.Warn().Msg("no API credentials configured; collect requests will fail")
	}

	srv := server.New(server.Config{
		Addr:           cfg.ListenAddr,
		CORSOrigins:    cfg.CORSOrigins,
		CollectTimeout: *collectTimeout,
	}, a.svc, a.store, a.quota)
	if err := srv.Run(ctx); err != nil {
		log.Error().Err(err).Msg("server stopped")
		a.Close()
		os.Exit(1)
	}
}

func cmdWorker(args []string) {
	fs := flag.NewFlagSet("worker", flag.ExitOnError)
	configPath := fs.String("config", "", "Config file path")
	timeout := fs.Duration("timeout", 10*time.Minute, "Timeout for one collection")
	fs.Parse(args)

	cfg := loadConfig(*configPath, false)
	if cfg.NatsURL == "" {
		exitf("worker needs a NATS URL (set YTCOLLECT_NATS_URL)")
	}
	if !cfg.HasCredentials() {
		exitf("worker needs API credentials (set YTCOLLECT_API_KEY)")
	}

	ctx, cancel := signalContext(0)
	defer cancel()

	a, err := newApp(ctx, cfg, appOptions{api: true, nats: true})
	if err != nil {
		exitf("%v", err)
	}
	defer a.Close()

	w := events.NewWorker(a.nc, a.svc, events.WithTimeout(*timeout))
	if err := w.Start(ctx); err != nil {
		a.Close()
		exitf("%v", err)
	}
	<-ctx.Done()
	w.Stop()
	log.Info().Msg("worker stopped")
}

// signalContext is cancelled on SIGINT/SIGTERM and, if timeout > 0, after timeout.
func signalContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	if timeout <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		exitf("encode: %v", err)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04")
}

// truncate shortens s to maxLen runes, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}

