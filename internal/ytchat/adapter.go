// Package ytchat ingests YouTube live chat through the Data API poll
// loop: resolve the channel, find the active broadcast, then page
// liveChatMessages at the server-suggested interval.
package ytchat

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"
	youtube "google.golang.org/api/youtube/v3"
	"google.golang.org/api/option"

	"github.com/you/chatglass/internal/core"
	"github.com/you/chatglass/internal/emotes"
	"github.com/you/chatglass/internal/parse"
)

const (
	// minPollInterval floors the server's suggested interval.
	minPollInterval = 2 * time.Second
	// errRetryInterval is the fixed delay after a failed poll.
	errRetryInterval = 7 * time.Second

	maxSeenIDs = 2000
)

// offlineRecheck is how often to look for a broadcast while offline and
// how long to wait before retrying a failed channel resolution. A
// variable so tests can shrink it.
var offlineRecheck = 60 * time.Second

// apiEndpoint overrides the Data API base URL; tests point it at a
// local server.
var apiEndpoint = ""

type Adapter struct {
	Channel    string // @handle, channel id, or plain name
	APIKey     string
	Index      *emotes.Index
	Fetcher    *emotes.Fetcher
	Shortcodes *parse.ShortcodeMap

	events chan core.Event
	seen   map[string]struct{}
	order  []string
}

func New(channel, apiKey string, index *emotes.Index, fetcher *emotes.Fetcher) *Adapter {
	return &Adapter{
		Channel: strings.TrimSpace(channel),
		APIKey:  apiKey,
		Index:   index,
		Fetcher: fetcher,
		events:  make(chan core.Event, 256),
		seen:    make(map[string]struct{}),
	}
}

func (a *Adapter) Events() <-chan core.Event { return a.events }

// Run drives the bootstrap/poll loop until ctx is canceled. Channel
// resolution failures retry on the offline cadence instead of ending
// the adapter; while the channel has no live broadcast the adapter
// stays in a cheap offline recheck cycle instead of polling.
func (a *Adapter) Run(ctx context.Context) error {
	defer close(a.events)

	opts := []option.ClientOption{option.WithAPIKey(a.APIKey)}
	if apiEndpoint != "" {
		opts = append(opts, option.WithEndpoint(apiEndpoint))
	}
	svc, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return errors.Wrap(err, "youtube service")
	}

	channelID := ""
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if channelID == "" {
			id, err := a.resolveChannelID(ctx, svc)
			if err != nil {
				slog.Warn("youtube channel resolve failed, retrying", "channel", a.Channel, "err", err)
				a.emit(core.Event{Kind: core.EventStatus, Platform: core.PlatformYouTube, Connected: false})
				if !sleepContext(ctx, offlineRecheck) {
					return ctx.Err()
				}
				continue
			}
			channelID = id
			slog.Info("youtube channel resolved", "channel", a.Channel, "id", channelID)
		}
		chatID, err := a.findLiveChatID(ctx, svc, channelID)
		if err != nil || chatID == "" {
			if err != nil {
				slog.Warn("youtube live lookup failed", "err", err)
			}
			a.emit(core.Event{Kind: core.EventStatus, Platform: core.PlatformYouTube, Connected: false})
			if !sleepContext(ctx, offlineRecheck) {
				return ctx.Err()
			}
			continue
		}

		a.bootstrapEmotes(ctx, channelID)
		a.emit(core.Event{Kind: core.EventStatus, Platform: core.PlatformYouTube, Connected: true})
		if err := a.pollLoop(ctx, svc, chatID); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("youtube poll loop ended", "err", err)
		}
		a.emit(core.Event{Kind: core.EventStatus, Platform: core.PlatformYouTube, Connected: false})
	}
}

// resolveChannelID tries the identifier as a channel id, then a handle,
// then a plain search.
func (a *Adapter) resolveChannelID(ctx context.Context, svc *youtube.Service) (string, error) {
	if strings.HasPrefix(a.Channel, "UC") && len(a.Channel) == 24 {
		return a.Channel, nil
	}

	handle := a.Channel
	if !strings.HasPrefix(handle, "@") {
		handle = "@" + handle
	}
	resp, err := svc.Channels.List([]string{"id"}).ForHandle(handle).Context(ctx).Do()
	if err == nil && len(resp.Items) > 0 {
		return resp.Items[0].Id, nil
	}

	search, err := svc.Search.List([]string{"id"}).Q(a.Channel).Type("channel").MaxResults(1).Context(ctx).Do()
	if err != nil {
		return "", err
	}
	if len(search.Items) == 0 || search.Items[0].Id == nil || search.Items[0].Id.ChannelId == "" {
		return "", errors.Errorf("channel %q not found", a.Channel)
	}
	return search.Items[0].Id.ChannelId, nil
}

// findLiveChatID locates the channel's active broadcast and returns its
// live chat id, or "" when offline.
func (a *Adapter) findLiveChatID(ctx context.Context, svc *youtube.Service, channelID string) (string, error) {
	search, err := svc.Search.List([]string{"id"}).
		ChannelId(channelID).
		EventType("live").
		Type("video").
		MaxResults(1).
		Context(ctx).Do()
	if err != nil {
		return "", errors.Wrap(err, "search live broadcast")
	}
	if len(search.Items) == 0 || search.Items[0].Id == nil || search.Items[0].Id.VideoId == "" {
		return "", nil
	}
	videoID := search.Items[0].Id.VideoId

	videos, err := svc.Videos.List([]string{"liveStreamingDetails"}).Id(videoID).Context(ctx).Do()
	if err != nil {
		return "", errors.Wrap(err, "video details")
	}
	if len(videos.Items) == 0 || videos.Items[0].LiveStreamingDetails == nil {
		return "", nil
	}
	return videos.Items[0].LiveStreamingDetails.ActiveLiveChatId, nil
}

// pollLoop pages liveChatMessages until the chat ends or an unrecoverable
// error. Transient errors retry on a fixed delay without losing the page
// token.
func (a *Adapter) pollLoop(ctx context.Context, svc *youtube.Service, chatID string) error {
	pageToken := ""
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		call := svc.LiveChatMessages.List(chatID, []string{"snippet", "authorDetails"}).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			slog.Warn("youtube poll failed", "err", err)
			if !sleepContext(ctx, errRetryInterval) {
				return ctx.Err()
			}
			continue
		}
		pageToken = resp.NextPageToken

		ended := false
		for _, item := range resp.Items {
			if item.Snippet != nil && item.Snippet.Type == "chatEndedEvent" {
				ended = true
				continue
			}
			a.dispatch(ctx, item)
		}
		if ended {
			return errors.New("chat ended")
		}

		if !sleepContext(ctx, clampPoll(resp.PollingIntervalMillis)) {
			return ctx.Err()
		}
	}
}

// clampPoll floors the server interval so quota is not burned when the
// API suggests aggressive polling.
func clampPoll(millis int64) time.Duration {
	d := time.Duration(millis) * time.Millisecond
	if d < minPollInterval {
		return minPollInterval
	}
	return d
}

func (a *Adapter) dispatch(ctx context.Context, item *youtube.LiveChatMessage) {
	if item == nil || item.Snippet == nil {
		return
	}
	switch item.Snippet.Type {
	case "messageDeletedEvent":
		if d := item.Snippet.MessageDeletedDetails; d != nil && d.DeletedMessageId != "" {
			a.emit(core.Event{Kind: core.EventModAction, Platform: core.PlatformYouTube, Mod: &core.ModAction{
				Kind:        core.ModDelete,
				TargetMsgID: d.DeletedMessageId,
			}})
		}
	case "userBannedEvent":
		if d := item.Snippet.UserBannedDetails; d != nil && d.BannedUserDetails != nil {
			kind := core.ModBan
			if d.BanType == "temporary" {
				kind = core.ModTimeout
			}
			a.emit(core.Event{Kind: core.EventModAction, Platform: core.PlatformYouTube, Mod: &core.ModAction{
				Kind:            kind,
				TargetUsername:  d.BannedUserDetails.DisplayName,
				DurationSeconds: int(d.BanDurationSeconds),
			}})
		}
	case "textMessageEvent", "superChatEvent":
		if a.markSeen(item.Id) {
			return
		}
		msg := a.convertMessage(ctx, item)
		a.emit(core.Event{Kind: core.EventMessage, Platform: core.PlatformYouTube, Message: &msg})
	}
}

// markSeen records the id and reports whether it was already present.
// Page-token overlap after an error retry re-delivers old items.
func (a *Adapter) markSeen(id string) bool {
	if _, dup := a.seen[id]; dup {
		return true
	}
	a.seen[id] = struct{}{}
	a.order = append(a.order, id)
	if len(a.order) > maxSeenIDs {
		evict := a.order[0]
		a.order = a.order[1:]
		delete(a.seen, evict)
	}
	return false
}

func (a *Adapter) convertMessage(ctx context.Context, item *youtube.LiveChatMessage) core.ChatMessage {
	sn := item.Snippet
	author := item.AuthorDetails

	text := sn.DisplayMessage
	if sn.TextMessageDetails != nil && sn.TextMessageDetails.MessageText != "" {
		text = sn.TextMessageDetails.MessageText
	}

	ts := time.Now().UnixMilli()
	if t, err := time.Parse(time.RFC3339, sn.PublishedAt); err == nil {
		ts = t.UnixMilli()
	}

	m := core.ChatMessage{
		ID:        item.Id,
		Content:   text,
		Timestamp: ts,
		Type:      core.TypeChat,
		Platform:  core.PlatformYouTube,
	}
	if author != nil {
		m.Username = author.DisplayName
		m.DisplayName = author.DisplayName
		m.UserID = author.ChannelId
		m.Badges = authorBadges(author)
	}
	if sn.SuperChatDetails != nil {
		m.Type = core.TypeHighlighted
		m.Highlighted = true
	}

	segs := parse.Message(text, nil, parse.Options{
		Platform: core.PlatformYouTube,
		Index:    a.Index,
	})
	m.Parsed = parse.ResolveEmoji(ctx, segs, nil, a.Shortcodes)
	return m
}

func authorBadges(author *youtube.LiveChatMessageAuthorDetails) []core.Badge {
	var badges []core.Badge
	if author.IsChatOwner {
		badges = append(badges, core.Badge{ID: "owner", Title: "Channel Owner", Provider: "youtube"})
	}
	if author.IsChatModerator {
		badges = append(badges, core.Badge{ID: "moderator", Title: "Moderator", Provider: "youtube"})
	}
	if author.IsChatSponsor {
		badges = append(badges, core.Badge{ID: "member", Title: "Member", Provider: "youtube"})
	}
	if author.IsVerified {
		badges = append(badges, core.Badge{ID: "verified", Title: "Verified", Provider: "youtube"})
	}
	return badges
}

func (a *Adapter) emit(ev core.Event) {
	select {
	case a.events <- ev:
	default:
		slog.Warn("youtube event dropped, consumer behind", "kind", ev.Kind)
	}
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// bootstrapEmotes loads the channel's 7TV set and the globals once per
// broadcast discovery.
func (a *Adapter) bootstrapEmotes(ctx context.Context, channelID string) {
	if a.Index == nil || a.Fetcher == nil {
		return
	}
	go func() {
		if refs, err := a.Fetcher.SevenTVChannel(ctx, "youtube", channelID); err == nil {
			a.Index.SetSource(emotes.SourceYouTubeSevenTV, refs)
		} else {
			slog.Warn("youtube 7tv channel load failed", "err", err)
		}
		if refs, err := a.Fetcher.SevenTVGlobal(ctx); err == nil {
			a.Index.SetSource(emotes.SourceGlobalSevenTV, refs)
		} else {
			slog.Warn("youtube 7tv global load failed", "err", err)
		}
	}()
}
