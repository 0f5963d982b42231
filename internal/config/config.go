// Package config reads overlay configuration from GLASS_-prefixed
// environment variables. Every option has a default; any subset may be
// absent. Flags in cmd/overlay override whatever is loaded here.
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Twitch  TwitchConfig
	Kick    KickConfig
	YouTube YouTubeConfig
	Velora  VeloraConfig

	Buffer  BufferConfig
	Filters FilterConfig
	HTTP    HTTPConfig

	Sound bool
}

type TwitchConfig struct {
	Enabled      bool
	Channel      string
	ClientID     string
	ClientSecret string
}

type KickConfig struct {
	Enabled bool
	Channel string
}

type YouTubeConfig struct {
	Enabled       bool
	Channel       string
	APIKey        string
	ShortcodesURL string
}

type VeloraConfig struct {
	Enabled bool
	Channel string
}

type BufferConfig struct {
	MaxMessages int
}

type FilterConfig struct {
	HideBots      bool
	HideCommands  bool
	BlockedUsers  []string
	CustomBots    []string
	BlocklistFile string
}

type HTTPConfig struct {
	Addr        string
	CORSOrigins []string
	RatePerSec  int
	RateBurst   int
	Metrics     bool
}

const (
	defaultMaxMessages = 50
	defaultHTTPAddr    = ":8710"
)

func Load() Config {
	cfg := Config{}

	cfg.Twitch.Channel = readString("GLASS_TWITCH_CHANNEL")
	cfg.Twitch.ClientID = readString("GLASS_TWITCH_CLIENT_ID")
	cfg.Twitch.ClientSecret = readString("GLASS_TWITCH_CLIENT_SECRET")
	cfg.Kick.Channel = readString("GLASS_KICK_CHANNEL")
	cfg.YouTube.Channel = readString("GLASS_YOUTUBE_CHANNEL")
	cfg.YouTube.APIKey = readString("GLASS_YOUTUBE_API_KEY")
	cfg.YouTube.ShortcodesURL = readString("GLASS_YOUTUBE_SHORTCODES")
	cfg.Velora.Channel = readString("GLASS_VELORA_CHANNEL")

	platforms := splitList(os.Getenv("GLASS_PLATFORMS"))
	enabled := func(name string) bool {
		if len(platforms) == 0 {
			return true
		}
		for _, p := range platforms {
			if strings.EqualFold(p, name) {
				return true
			}
		}
		return false
	}
	cfg.Twitch.Enabled = cfg.Twitch.Channel != "" && enabled("twitch")
	cfg.Kick.Enabled = cfg.Kick.Channel != "" && enabled("kick")
	cfg.YouTube.Enabled = cfg.YouTube.Channel != "" && cfg.YouTube.APIKey != "" && enabled("youtube")
	cfg.Velora.Enabled = cfg.Velora.Channel != "" && enabled("velora")

	cfg.Buffer.MaxMessages = readInt("GLASS_MAX_MESSAGES", defaultMaxMessages)

	cfg.Filters.HideBots = readBool("GLASS_HIDE_BOTS", false)
	cfg.Filters.HideCommands = readBool("GLASS_HIDE_COMMANDS", false)
	cfg.Filters.BlockedUsers = splitList(os.Getenv("GLASS_BLOCKED_USERS"))
	cfg.Filters.CustomBots = splitList(os.Getenv("GLASS_CUSTOM_BOTS"))
	cfg.Filters.BlocklistFile = readString("GLASS_BLOCKLIST_FILE")

	cfg.HTTP.Addr = readString("GLASS_HTTP_ADDR")
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = defaultHTTPAddr
	}
	cfg.HTTP.CORSOrigins = splitList(os.Getenv("GLASS_CORS_ORIGINS"))
	cfg.HTTP.RatePerSec = readInt("GLASS_HTTP_RATE_PER_SEC", 0)
	cfg.HTTP.RateBurst = readInt("GLASS_HTTP_RATE_BURST", 0)
	cfg.HTTP.Metrics = readBool("GLASS_METRICS", true)

	cfg.Sound = readBool("GLASS_SOUND", false)

	return cfg
}

// Redacted renders the config for startup logging with secrets masked.
func (c Config) Redacted() map[string]any {
	return map[string]any{
		"twitch": map[string]any{
			"enabled":       c.Twitch.Enabled,
			"channel":       c.Twitch.Channel,
			"client_id":     redactString(c.Twitch.ClientID),
			"client_secret": redactString(c.Twitch.ClientSecret),
		},
		"kick": map[string]any{
			"enabled": c.Kick.Enabled,
			"channel": c.Kick.Channel,
		},
		"youtube": map[string]any{
			"enabled":    c.YouTube.Enabled,
			"channel":    c.YouTube.Channel,
			"api_key":    redactString(c.YouTube.APIKey),
			"shortcodes": c.YouTube.ShortcodesURL,
		},
		"velora": map[string]any{
			"enabled": c.Velora.Enabled,
			"channel": c.Velora.Channel,
		},
		"buffer": map[string]any{"max_messages": c.Buffer.MaxMessages},
		"filters": map[string]any{
			"hide_bots":      c.Filters.HideBots,
			"hide_commands":  c.Filters.HideCommands,
			"blocked_users":  len(c.Filters.BlockedUsers),
			"custom_bots":    len(c.Filters.CustomBots),
			"blocklist_file": c.Filters.BlocklistFile,
		},
		"http": map[string]any{
			"addr":         c.HTTP.Addr,
			"cors_origins": c.HTTP.CORSOrigins,
			"rate_per_sec": c.HTTP.RatePerSec,
			"metrics":      c.HTTP.Metrics,
		},
		"sound": c.Sound,
	}
}

func (c Config) RedactedJSON() []byte {
	data, _ := json.MarshalIndent(c.Redacted(), "", "  ")
	return data
}

func readString(name string) string {
	return strings.TrimSpace(os.Getenv(name))
}

func readInt(name string, def int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func readBool(name string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

func splitList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		switch r {
		case ',', ';', ' ', '\t', '\n':
			return true
		}
		return false
	})
	seen := make(map[string]struct{}, len(parts))
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		key := strings.ToLower(p)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, p)
	}
	return out
}

func redactString(value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	return "***REDACTED*** (len=" + strconv.Itoa(len(value)) + ")"
}
