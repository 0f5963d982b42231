// Package twitchchat ingests Twitch chat over IRC and translates the
// tag-based protocol into canonical events. Reconnection is handled by
// the IRC library; this adapter only reports connectivity transitions.
package twitchchat

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/you/chatglass/internal/core"
	"github.com/you/chatglass/internal/emotes"
	"github.com/you/chatglass/internal/parse"
)

// twitchEmoteURL is the CDN template for native emotes placed via IRC
// tag offsets.
func twitchEmoteURL(id string) string {
	return "https://static-cdn.jtvnw.net/emoticons/v2/" + id + "/default/dark/2.0"
}

type Adapter struct {
	Channel string
	Index   *emotes.Index
	Fetcher *emotes.Fetcher

	events chan core.Event

	indexOnce sync.Once
}

func New(channel string, index *emotes.Index, fetcher *emotes.Fetcher) *Adapter {
	return &Adapter{
		Channel: strings.ToLower(strings.TrimPrefix(channel, "#")),
		Index:   index,
		Fetcher: fetcher,
		events:  make(chan core.Event, 256),
	}
}

func (a *Adapter) Events() <-chan core.Event { return a.events }

// Run connects anonymously and blocks until ctx is canceled or the
// connection fails fatally. Transient drops reconnect inside the
// library without surfacing here.
func (a *Adapter) Run(ctx context.Context) error {
	client := twitch.NewAnonymousClient()

	client.OnConnect(func() {
		slog.Info("twitch connected", "channel", a.Channel)
		a.emit(core.Event{Kind: core.EventStatus, Platform: core.PlatformTwitch, Connected: true})
	})

	client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		m := a.convertMessage(msg)
		a.emit(core.Event{Kind: core.EventMessage, Platform: core.PlatformTwitch, Message: &m})
	})

	client.OnUserNoticeMessage(func(msg twitch.UserNoticeMessage) {
		m, ok := a.convertNotice(msg)
		if !ok {
			return
		}
		a.emit(core.Event{Kind: core.EventMessage, Platform: core.PlatformTwitch, Message: &m})
	})

	client.OnClearChatMessage(func(msg twitch.ClearChatMessage) {
		if msg.TargetUsername == "" {
			a.emit(core.Event{Kind: core.EventClearChat, Platform: core.PlatformTwitch})
			return
		}
		kind := core.ModBan
		if msg.BanDuration > 0 {
			kind = core.ModTimeout
		}
		a.emit(core.Event{Kind: core.EventModAction, Platform: core.PlatformTwitch, Mod: &core.ModAction{
			Kind:            kind,
			TargetUsername:  msg.TargetUsername,
			DurationSeconds: msg.BanDuration,
		}})
	})

	client.OnClearMessage(func(msg twitch.ClearMessage) {
		a.emit(core.Event{Kind: core.EventModAction, Platform: core.PlatformTwitch, Mod: &core.ModAction{
			Kind:        core.ModDelete,
			TargetMsgID: msg.TargetMsgID,
		}})
	})

	client.OnRoomStateMessage(func(msg twitch.RoomStateMessage) {
		if roomID := msg.Tags["room-id"]; roomID != "" {
			a.bootstrapEmotes(ctx, roomID)
		}
		patch := roomStatePatch(msg.Tags)
		a.emit(core.Event{Kind: core.EventRoomState, Platform: core.PlatformTwitch, Room: &patch})
	})

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			client.Disconnect()
		case <-done:
		}
	}()

	client.Join(a.Channel)
	err := client.Connect()
	close(done)
	a.emit(core.Event{Kind: core.EventStatus, Platform: core.PlatformTwitch, Connected: false})
	close(a.events)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (a *Adapter) emit(ev core.Event) {
	select {
	case a.events <- ev:
	default:
		slog.Warn("twitch event dropped, consumer behind", "kind", ev.Kind)
	}
}

func (a *Adapter) convertMessage(msg twitch.PrivateMessage) core.ChatMessage {
	spans := emoteSpans(msg.Emotes)

	m := core.ChatMessage{
		ID:          msg.ID,
		Username:    msg.User.Name,
		DisplayName: msg.User.DisplayName,
		UserID:      msg.User.ID,
		Content:     msg.Message,
		Color:       msg.User.Color,
		Timestamp:   msg.Time.UnixMilli(),
		Type:        core.TypeChat,
		Platform:    core.PlatformTwitch,
		Badges:      convertBadges(msg.User.Badges),
		Bits:        msg.Bits,
		Action:      msg.Action,
		First:       msg.FirstMessage,
		Highlighted: msg.Tags["msg-id"] == "highlighted-message",
	}
	if m.Timestamp == 0 {
		m.Timestamp = time.Now().UnixMilli()
	}
	if msg.Reply != nil && msg.Reply.ParentMsgID != "" {
		m.Reply = &core.Reply{
			ParentID:       msg.Reply.ParentMsgID,
			ParentUsername: msg.Reply.ParentUserLogin,
			ParentBody:     msg.Reply.ParentMsgBody,
		}
	}
	if src := msg.Tags["source-room-id"]; src != "" && src != msg.RoomID {
		m.Shared = &core.SharedChat{SourceRoomID: src}
	}

	m.Parsed = parse.Message(msg.Message, spans, parse.Options{
		Platform: core.PlatformTwitch,
		Index:    a.Index,
		Cheers:   true,
	})
	return m
}

// convertNotice maps USERNOTICE variants (subs, gifts, raids,
// announcements) onto typed messages.
func (a *Adapter) convertNotice(msg twitch.UserNoticeMessage) (core.ChatMessage, bool) {
	m := core.ChatMessage{
		ID:          msg.ID,
		Username:    msg.User.Name,
		DisplayName: msg.User.DisplayName,
		UserID:      msg.User.ID,
		Content:     msg.Message,
		Color:       msg.User.Color,
		Timestamp:   msg.Time.UnixMilli(),
		Platform:    core.PlatformTwitch,
		Badges:      convertBadges(msg.User.Badges),
	}
	if m.Timestamp == 0 {
		m.Timestamp = time.Now().UnixMilli()
	}

	switch msg.MsgID {
	case "sub":
		m.Type = core.TypeSub
		m.Sub = subInfo(msg.MsgParams)
	case "resub":
		m.Type = core.TypeResub
		m.Sub = subInfo(msg.MsgParams)
	case "subgift":
		m.Type = core.TypeSubGift
		m.Sub = subInfo(msg.MsgParams)
		if m.Sub != nil {
			m.Sub.Recipient = msg.MsgParams["msg-param-recipient-display-name"]
		}
	case "submysterygift":
		m.Type = core.TypeMassSubGift
		m.Sub = subInfo(msg.MsgParams)
		if m.Sub != nil {
			if n, err := strconv.Atoi(msg.MsgParams["msg-param-mass-gift-count"]); err == nil {
				m.Sub.GiftCount = n
			}
		}
	case "raid":
		m.Type = core.TypeRaid
		viewers, _ := strconv.Atoi(msg.MsgParams["msg-param-viewerCount"])
		m.Raid = &core.RaidInfo{
			From:    msg.MsgParams["msg-param-displayName"],
			Viewers: viewers,
		}
	case "announcement":
		m.Type = core.TypeAnnouncement
	default:
		return core.ChatMessage{}, false
	}

	if msg.Message != "" {
		m.Parsed = parse.Message(msg.Message, nil, parse.Options{
			Platform: core.PlatformTwitch,
			Index:    a.Index,
		})
	}
	return m, true
}

func subInfo(params map[string]string) *core.SubInfo {
	info := &core.SubInfo{Tier: subTier(params["msg-param-sub-plan"])}
	if n, err := strconv.Atoi(params["msg-param-cumulative-months"]); err == nil {
		info.Months = n
	}
	return info
}

func subTier(plan string) string {
	switch plan {
	case "Prime":
		return "prime"
	case "2000":
		return "2"
	case "3000":
		return "3"
	default:
		return "1"
	}
}

func convertBadges(badges map[string]int) []core.Badge {
	if len(badges) == 0 {
		return nil
	}
	out := make([]core.Badge, 0, len(badges))
	for _, id := range badgeOrder {
		if v, ok := badges[id]; ok {
			out = append(out, core.Badge{ID: id, Version: strconv.Itoa(v), Title: id, Provider: "twitch"})
		}
	}
	for id, v := range badges {
		if !isOrderedBadge(id) {
			out = append(out, core.Badge{ID: id, Version: strconv.Itoa(v), Title: id, Provider: "twitch"})
		}
	}
	return out
}

// badgeOrder keeps the roles chatters expect first regardless of the
// map's iteration order.
var badgeOrder = []string{"broadcaster", "moderator", "vip", "subscriber", "founder"}

func isOrderedBadge(id string) bool {
	for _, o := range badgeOrder {
		if o == id {
			return true
		}
	}
	return false
}

func emoteSpans(list []*twitch.Emote) []parse.Span {
	var spans []parse.Span
	for _, e := range list {
		if e == nil {
			continue
		}
		ref := core.EmoteRef{Name: e.Name, URL: twitchEmoteURL(e.ID), Provider: "twitch"}
		for _, pos := range e.Positions {
			spans = append(spans, parse.Span{Start: pos.Start, End: pos.End, Emote: ref})
		}
	}
	return spans
}

// roomStatePatch reads the ROOMSTATE tags present on this update; Twitch
// omits unchanged settings, which maps directly onto the partial patch.
func roomStatePatch(tags map[string]string) core.RoomStatePatch {
	var patch core.RoomStatePatch
	if v, ok := tags["slow"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			patch.SlowSeconds = &n
		}
	}
	if v, ok := tags["emote-only"]; ok {
		on := v == "1"
		patch.EmoteOnly = &on
	}
	if v, ok := tags["followers-only"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			patch.FollowersOnlyMinutes = &n
		}
	}
	if v, ok := tags["subs-only"]; ok {
		on := v == "1"
		patch.SubOnly = &on
	}
	if v, ok := tags["r9k"]; ok {
		on := v == "1"
		patch.Unique = &on
	}
	return patch
}

// bootstrapEmotes loads the six third-party emote sources once the
// numeric room id is known. Failures log and leave that source empty.
func (a *Adapter) bootstrapEmotes(ctx context.Context, roomID string) {
	if a.Index == nil || a.Fetcher == nil {
		return
	}
	a.indexOnce.Do(func() {
		go func() {
			load := func(source emotes.SourceID, name string, fetch func() ([]core.EmoteRef, error)) {
				refs, err := fetch()
				if err != nil {
					slog.Warn("emote source load failed", "source", name, "err", err)
					return
				}
				a.Index.SetSource(source, refs)
				slog.Info("emote source loaded", "source", name, "count", len(refs))
			}
			load(emotes.SourceChannelSevenTV, "7tv-channel", func() ([]core.EmoteRef, error) {
				return a.Fetcher.SevenTVChannel(ctx, "twitch", roomID)
			})
			load(emotes.SourceChannelBTTV, "bttv-channel", func() ([]core.EmoteRef, error) {
				return a.Fetcher.BTTVChannel(ctx, roomID)
			})
			load(emotes.SourceChannelFFZ, "ffz-channel", func() ([]core.EmoteRef, error) {
				return a.Fetcher.FFZRoom(ctx, a.Channel)
			})
			load(emotes.SourceGlobalSevenTV, "7tv-global", func() ([]core.EmoteRef, error) {
				return a.Fetcher.SevenTVGlobal(ctx)
			})
			load(emotes.SourceGlobalBTTV, "bttv-global", func() ([]core.EmoteRef, error) {
				return a.Fetcher.BTTVGlobal(ctx)
			})
			load(emotes.SourceGlobalFFZ, "ffz-global", func() ([]core.EmoteRef, error) {
				return a.Fetcher.FFZGlobal(ctx)
			})
		}()
	})
}
