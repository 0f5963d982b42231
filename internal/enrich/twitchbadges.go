package enrich

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/you/chatglass/internal/core"
)

// BadgeResolver fills image URLs and titles for Twitch badge slots the
// IRC adapter emits as bare set-id/version pairs. The merged global plus
// channel catalog is cached for 10 minutes.
type BadgeResolver struct {
	ClientID     string
	ClientSecret string
	Channel      string // broadcaster login, or numeric id

	catalog *Cache
	helix   *helixClient
}

type badgeVersion struct {
	URL   string
	Title string
}

func NewBadgeResolver(clientID, clientSecret, channel string) *BadgeResolver {
	return &BadgeResolver{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Channel:      channel,
		catalog:      NewCache(10 * time.Minute),
		helix: &helixClient{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			HTTP:         &http.Client{Timeout: 10 * time.Second},
		},
	}
}

func (r *BadgeResolver) Name() string { return "twitch-badges" }

func (r *BadgeResolver) Resolve(ctx context.Context, msg core.ChatMessage) (Patch, bool) {
	if msg.Platform != core.PlatformTwitch || r.ClientID == "" || r.ClientSecret == "" {
		return nil, false
	}
	missing := false
	for _, b := range msg.Badges {
		if b.Provider == "twitch" && b.URL == "" {
			missing = true
			break
		}
	}
	if !missing {
		return nil, false
	}

	v, ok := r.catalog.Do(ctx, "catalog", func(ctx context.Context) (any, bool) {
		sets, err := r.fetchMergedSets(ctx)
		if err != nil {
			return nil, false
		}
		return sets, true
	})
	if !ok {
		return nil, false
	}
	sets := v.(map[string]map[string]badgeVersion)

	return func(m *core.ChatMessage) {
		for i, b := range m.Badges {
			if b.Provider != "twitch" || b.URL != "" {
				continue
			}
			versions, ok := sets[b.ID]
			if !ok {
				continue
			}
			ver, ok := versions[b.Version]
			if !ok {
				continue
			}
			m.Badges[i].URL = ver.URL
			if ver.Title != "" {
				m.Badges[i].Title = ver.Title
			}
		}
	}, true
}

type helixBadgeResponse struct {
	Data []struct {
		SetID    string `json:"set_id"`
		Versions []struct {
			ID         string `json:"id"`
			Title      string `json:"title"`
			ImageURL2x string `json:"image_url_2x"`
			ImageURL1x string `json:"image_url_1x"`
		} `json:"versions"`
	} `json:"data"`
}

func (r *BadgeResolver) fetchMergedSets(ctx context.Context) (map[string]map[string]badgeVersion, error) {
	token, err := r.helix.appToken(ctx)
	if err != nil {
		return nil, err
	}

	merged := map[string]map[string]badgeVersion{}
	global, err := r.fetchSets(ctx, token, "")
	if err != nil {
		return nil, err
	}
	mergeSets(merged, global)

	broadcasterID, err := r.broadcasterID(ctx, token)
	if err != nil || broadcasterID == "" {
		// channel sets are additive; the global catalog alone is usable
		return merged, nil
	}
	if channel, err := r.fetchSets(ctx, token, broadcasterID); err == nil {
		mergeSets(merged, channel)
	}
	return merged, nil
}

func (r *BadgeResolver) broadcasterID(ctx context.Context, token string) (string, error) {
	channel := strings.ToLower(strings.TrimSpace(r.Channel))
	if channel == "" {
		return "", nil
	}
	if isNumericID(channel) {
		return channel, nil
	}
	endpoint := helixBaseURL + "/users?login=" + url.QueryEscape(channel)
	var parsed struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := r.helix.get(ctx, token, endpoint, &parsed); err != nil {
		return "", err
	}
	if len(parsed.Data) == 0 {
		return "", errors.Errorf("user %s not found", channel)
	}
	return parsed.Data[0].ID, nil
}

func (r *BadgeResolver) fetchSets(ctx context.Context, token, broadcasterID string) (map[string]map[string]badgeVersion, error) {
	endpoint := helixBaseURL + "/chat/badges/global"
	if broadcasterID != "" {
		endpoint = helixBaseURL + "/chat/badges?broadcaster_id=" + url.QueryEscape(broadcasterID)
	}
	var parsed helixBadgeResponse
	if err := r.helix.get(ctx, token, endpoint, &parsed); err != nil {
		return nil, err
	}

	sets := make(map[string]map[string]badgeVersion, len(parsed.Data))
	for _, set := range parsed.Data {
		if set.SetID == "" {
			continue
		}
		versions := map[string]badgeVersion{}
		for _, v := range set.Versions {
			if v.ID == "" {
				continue
			}
			url := v.ImageURL2x
			if url == "" {
				url = v.ImageURL1x
			}
			versions[v.ID] = badgeVersion{URL: url, Title: v.Title}
		}
		if len(versions) > 0 {
			sets[set.SetID] = versions
		}
	}
	return sets, nil
}

func mergeSets(dst, src map[string]map[string]badgeVersion) {
	for setID, versions := range src {
		if dst[setID] == nil {
			dst[setID] = map[string]badgeVersion{}
		}
		for id, v := range versions {
			dst[setID][id] = v
		}
	}
}

func isNumericID(value string) bool {
	if value == "" {
		return false
	}
	for i := 0; i < len(value); i++ {
		if value[i] < '0' || value[i] > '9' {
			return false
		}
	}
	return true
}
