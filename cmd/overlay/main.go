package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/you/chatglass/internal/config"
	"github.com/you/chatglass/internal/core"
	"github.com/you/chatglass/internal/emotes"
	"github.com/you/chatglass/internal/enrich"
	"github.com/you/chatglass/internal/httpapi"
	"github.com/you/chatglass/internal/kickchat"
	"github.com/you/chatglass/internal/parse"
	"github.com/you/chatglass/internal/pipeline"
	"github.com/you/chatglass/internal/twitchchat"
	"github.com/you/chatglass/internal/velora"
	"github.com/you/chatglass/internal/version"
	"github.com/you/chatglass/internal/ytchat"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("overlay: .env: %v", err)
	}

	var (
		versionFlag     bool
		twChannel       string
		twClientID      string
		twClientSecret  string
		kickChannel     string
		ytChannel       string
		ytAPIKey        string
		ytShortcodesURL string
		veloraChannel   string
		maxMessages     int
		hideBots        bool
		hideCommands    bool
		blocklistFile   string
		sound           bool
		httpAddr        string
		httpCorsOrigins string
		httpRateRPS     int
		httpRateBurst   int
		httpMetrics     bool
	)

	flag.BoolVar(&versionFlag, "version", false, "Print build version and exit")
	flag.StringVar(&twChannel, "twitch-channel", "", "Twitch channel to join (without #)")
	flag.StringVar(&twClientID, "twitch-client-id", "", "Twitch application client ID (enables badge enrichment)")
	flag.StringVar(&twClientSecret, "twitch-client-secret", "", "Twitch application client secret")
	flag.StringVar(&kickChannel, "kick-channel", "", "Kick channel slug")
	flag.StringVar(&ytChannel, "youtube-channel", "", "YouTube channel (@handle, channel id, or name)")
	flag.StringVar(&ytAPIKey, "youtube-api-key", "", "YouTube Data API key")
	flag.StringVar(&ytShortcodesURL, "youtube-shortcodes", "", "URL of a shortcode-to-image catalog for YouTube emoji")
	flag.StringVar(&veloraChannel, "velora-channel", "", "Velora channel handle")
	flag.IntVar(&maxMessages, "max-messages", 0, "Overlay message buffer size")
	flag.BoolVar(&hideBots, "hide-bots", false, "Drop messages from known chat bots")
	flag.BoolVar(&hideCommands, "hide-commands", false, "Drop messages starting with !")
	flag.StringVar(&blocklistFile, "blocklist-file", "", "Path to a username blocklist file (hot reloaded)")
	flag.BoolVar(&sound, "sound", false, "Emit notification sound hints on fresh messages")
	flag.StringVar(&httpAddr, "http-addr", "", "Overlay HTTP listen address (e.g., :8710)")
	flag.StringVar(&httpCorsOrigins, "http-cors-origins", "", "Comma-separated list of allowed CORS origins")
	flag.IntVar(&httpRateRPS, "http-rate-rps", 0, "Maximum HTTP requests per second per client (0 disables)")
	flag.IntVar(&httpRateBurst, "http-rate-burst", 0, "Burst size for HTTP rate limiter")
	flag.BoolVar(&httpMetrics, "http-metrics", true, "Expose Prometheus metrics endpoint")
	flag.Parse()

	if versionFlag {
		fmt.Printf(
			"overlay version: %s (commit %s, built %s)\n",
			version.Version,
			version.Commit,
			version.BuildTime,
		)
		os.Exit(0)
	}

	overrides := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		overrides[f.Name] = true
	})

	cfg := config.Load()

	if overrides["twitch-channel"] {
		cfg.Twitch.Channel = strings.TrimSpace(twChannel)
		cfg.Twitch.Enabled = cfg.Twitch.Channel != ""
	}
	if overrides["twitch-client-id"] {
		cfg.Twitch.ClientID = strings.TrimSpace(twClientID)
	}
	if overrides["twitch-client-secret"] {
		cfg.Twitch.ClientSecret = strings.TrimSpace(twClientSecret)
	}
	if overrides["kick-channel"] {
		cfg.Kick.Channel = strings.TrimSpace(kickChannel)
		cfg.Kick.Enabled = cfg.Kick.Channel != ""
	}
	if overrides["youtube-channel"] {
		cfg.YouTube.Channel = strings.TrimSpace(ytChannel)
	}
	if overrides["youtube-api-key"] {
		cfg.YouTube.APIKey = strings.TrimSpace(ytAPIKey)
	}
	if overrides["youtube-channel"] || overrides["youtube-api-key"] {
		cfg.YouTube.Enabled = cfg.YouTube.Channel != "" && cfg.YouTube.APIKey != ""
	}
	if overrides["youtube-shortcodes"] {
		cfg.YouTube.ShortcodesURL = strings.TrimSpace(ytShortcodesURL)
	}
	if overrides["velora-channel"] {
		cfg.Velora.Channel = strings.TrimSpace(veloraChannel)
		cfg.Velora.Enabled = cfg.Velora.Channel != ""
	}
	if overrides["max-messages"] && maxMessages > 0 {
		cfg.Buffer.MaxMessages = maxMessages
	}
	if overrides["hide-bots"] {
		cfg.Filters.HideBots = hideBots
	}
	if overrides["hide-commands"] {
		cfg.Filters.HideCommands = hideCommands
	}
	if overrides["blocklist-file"] {
		cfg.Filters.BlocklistFile = strings.TrimSpace(blocklistFile)
	}
	if overrides["sound"] {
		cfg.Sound = sound
	}
	if overrides["http-addr"] {
		cfg.HTTP.Addr = strings.TrimSpace(httpAddr)
	}
	if overrides["http-cors-origins"] {
		cfg.HTTP.CORSOrigins = nil
		for _, origin := range strings.Split(httpCorsOrigins, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.HTTP.CORSOrigins = append(cfg.HTTP.CORSOrigins, origin)
			}
		}
	}
	if overrides["http-rate-rps"] {
		cfg.HTTP.RatePerSec = httpRateRPS
	}
	if overrides["http-rate-burst"] {
		cfg.HTTP.RateBurst = httpRateBurst
	}
	if overrides["http-metrics"] {
		cfg.HTTP.Metrics = httpMetrics
	}

	log.Printf("overlay version=%s commit=%s", version.Version, version.Commit)
	log.Printf("%s", cfg.RedactedJSON())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("overlay: received %s, shutting down", sig)
		cancel()
	}()

	blocklist := pipeline.NewBlocklist(cfg.Filters.BlockedUsers...)
	if cfg.Filters.BlocklistFile != "" {
		if err := pipeline.WatchBlocklistFile(blocklist, cfg.Filters.BlocklistFile); err != nil {
			log.Printf("overlay: blocklist watch: %v", err)
		}
	}

	var resolvers []enrich.Resolver
	if cfg.Twitch.Enabled {
		resolvers = append(resolvers, enrich.NewPronounResolver(), enrich.NewCosmeticsResolver())
		if cfg.Twitch.ClientID != "" && cfg.Twitch.ClientSecret != "" {
			resolvers = append(resolvers,
				enrich.NewBadgeResolver(cfg.Twitch.ClientID, cfg.Twitch.ClientSecret, cfg.Twitch.Channel),
				enrich.NewSharedChatResolver(cfg.Twitch.ClientID, cfg.Twitch.ClientSecret))
			log.Printf("overlay: twitch badge and shared-chat enrichment enabled")
		}
	}

	pipe := pipeline.New(pipeline.Options{
		MaxMessages: cfg.Buffer.MaxMessages,
		Filter: pipeline.FilterOptions{
			HideBots:     cfg.Filters.HideBots,
			HideCommands: cfg.Filters.HideCommands,
			ExtraBots:    cfg.Filters.CustomBots,
		},
		Blocklist: blocklist,
		Resolvers: resolvers,
		Sound:     cfg.Sound,
	})

	fetcher := &emotes.Fetcher{}
	started := 0

	// a failed adapter must not take the other platforms or the HTTP
	// surface with it
	runAdapter := func(name string, events <-chan core.Event, run func(context.Context) error) {
		started++
		pipe.Attach(ctx, events)
		go func() {
			if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("overlay: %s adapter exited: %v", name, err)
			}
		}()
		log.Printf("overlay: %s adapter started", name)
	}

	if cfg.Twitch.Enabled {
		tw := twitchchat.New(cfg.Twitch.Channel, emotes.NewIndex(), fetcher)
		runAdapter("twitch", tw.Events(), tw.Run)
	}
	if cfg.Kick.Enabled {
		kc := kickchat.New(cfg.Kick.Channel, emotes.NewIndex(), fetcher)
		runAdapter("kick", kc.Events(), kc.Run)
	}
	if cfg.YouTube.Enabled {
		yt := ytchat.New(cfg.YouTube.Channel, cfg.YouTube.APIKey, emotes.NewIndex(), fetcher)
		yt.Shortcodes = parse.NewShortcodeMap(cfg.YouTube.ShortcodesURL)
		runAdapter("youtube", yt.Events(), yt.Run)
	}
	if cfg.Velora.Enabled {
		vl := velora.New(cfg.Velora.Channel)
		runAdapter("velora", vl.Events(), vl.Run)
	}

	if started == 0 {
		log.Printf("overlay: ERROR: no platforms configured; set GLASS_TWITCH_CHANNEL, GLASS_KICK_CHANNEL, GLASS_YOUTUBE_CHANNEL+GLASS_YOUTUBE_API_KEY, or GLASS_VELORA_CHANNEL")
	}

	api := httpapi.New(pipe, httpapi.Options{
		Addr:        cfg.HTTP.Addr,
		CORSOrigins: cfg.HTTP.CORSOrigins,
		RatePerSec:  cfg.HTTP.RatePerSec,
		RateBurst:   cfg.HTTP.RateBurst,
		Metrics:     cfg.HTTP.Metrics,
	})
	go func() {
		if err := api.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("overlay: http api", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	pipe.Wait()
	log.Printf("overlay: shutdown complete")
}
