package enrich

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"github.com/you/chatglass/internal/core"
)

// SharedChatResolver names the source channel of Twitch shared-chat
// messages. The IRC tags only carry the numeric source room id; the
// Helix users endpoint supplies the display name and avatar, cached
// per room for five minutes.
type SharedChatResolver struct {
	ClientID     string
	ClientSecret string

	users *Cache
	helix *helixClient
}

func NewSharedChatResolver(clientID, clientSecret string) *SharedChatResolver {
	return &SharedChatResolver{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		users:        NewCache(5 * time.Minute),
		helix: &helixClient{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			HTTP:         &http.Client{Timeout: 10 * time.Second},
		},
	}
}

func (r *SharedChatResolver) Name() string { return "shared-chat" }

type sharedSource struct {
	name     string
	badgeURL string
}

func (r *SharedChatResolver) Resolve(ctx context.Context, msg core.ChatMessage) (Patch, bool) {
	if msg.Platform != core.PlatformTwitch || r.ClientID == "" || r.ClientSecret == "" {
		return nil, false
	}
	if msg.Shared == nil || msg.Shared.SourceRoomID == "" || msg.Shared.SourceName != "" {
		return nil, false
	}
	roomID := msg.Shared.SourceRoomID

	v, ok := r.users.Do(ctx, roomID, func(ctx context.Context) (any, bool) {
		src, err := r.fetchSource(ctx, roomID)
		if err != nil {
			return nil, false
		}
		return src, true
	})
	if !ok {
		return nil, false
	}
	src := v.(sharedSource)

	return func(m *core.ChatMessage) {
		if m.Shared == nil {
			return
		}
		s := *m.Shared
		s.SourceName = src.name
		s.SourceBadgeURL = src.badgeURL
		m.Shared = &s
	}, true
}

func (r *SharedChatResolver) fetchSource(ctx context.Context, roomID string) (sharedSource, error) {
	token, err := r.helix.appToken(ctx)
	if err != nil {
		return sharedSource{}, err
	}
	endpoint := helixBaseURL + "/users?id=" + url.QueryEscape(roomID)
	var parsed struct {
		Data []struct {
			Login           string `json:"login"`
			DisplayName     string `json:"display_name"`
			ProfileImageURL string `json:"profile_image_url"`
		} `json:"data"`
	}
	if err := r.helix.get(ctx, token, endpoint, &parsed); err != nil {
		return sharedSource{}, err
	}
	if len(parsed.Data) == 0 {
		return sharedSource{}, errors.Errorf("user %s not found", roomID)
	}
	name := parsed.Data[0].DisplayName
	if name == "" {
		name = parsed.Data[0].Login
	}
	return sharedSource{name: name, badgeURL: parsed.Data[0].ProfileImageURL}, nil
}
