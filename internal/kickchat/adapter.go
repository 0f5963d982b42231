// Package kickchat ingests Kick chat over the public Pusher websocket.
// The chatroom id and subscriber badge art come from one REST call per
// session; everything afterwards arrives as pushed frames.
package kickchat

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"nhooyr.io/websocket"

	"github.com/you/chatglass/internal/core"
	"github.com/you/chatglass/internal/emotes"
	"github.com/you/chatglass/internal/parse"
)

var (
	kickAPIBaseURL = "https://kick.com/api/v2"
	pusherURL      = "wss://ws-us2.pusher.com/app/32cbd69e4b950bf97679?protocol=7&client=js&version=8.4.0-rc2&flash=false"
)

const maxBackoff = 10 * time.Second

// resolveRetryInterval is a variable so tests can shrink the bootstrap
// retry delay.
var resolveRetryInterval = 3 * time.Second

type Adapter struct {
	Slug    string
	Index   *emotes.Index
	Fetcher *emotes.Fetcher
	HTTP    *http.Client

	events chan core.Event
}

func New(slug string, index *emotes.Index, fetcher *emotes.Fetcher) *Adapter {
	return &Adapter{
		Slug:    strings.ToLower(strings.TrimSpace(slug)),
		Index:   index,
		Fetcher: fetcher,
		HTTP:    &http.Client{Timeout: 15 * time.Second},
		events:  make(chan core.Event, 256),
	}
}

func (a *Adapter) Events() <-chan core.Event { return a.events }

// channelInfo is the subset of the channel REST payload the adapter
// needs: the chatroom to subscribe to and the subscriber badge art
// staircase.
type channelInfo struct {
	ID       int `json:"id"`
	Chatroom struct {
		ID int `json:"id"`
	} `json:"chatroom"`
	SubscriberBadges []struct {
		Months     int `json:"months"`
		BadgeImage struct {
			Src string `json:"src"`
		} `json:"badge_image"`
	} `json:"subscriber_badges"`
}

// Run resolves the channel, then reconnects to the Pusher endpoint with
// exponential backoff until ctx is canceled. A successful connection
// acknowledgment resets the backoff.
func (a *Adapter) Run(ctx context.Context) error {
	defer close(a.events)

	info, err := a.resolveChannelRetry(ctx)
	if err != nil {
		return errors.Wrapf(err, "resolve kick channel %s", a.Slug)
	}
	slog.Info("kick channel resolved", "slug", a.Slug, "chatroom", info.Chatroom.ID)

	a.bootstrapEmotes(ctx, info.ID)

	attempt := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		acked, err := a.session(ctx, info)
		a.emit(core.Event{Kind: core.EventStatus, Platform: core.PlatformKick, Connected: false})
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			slog.Warn("kick session ended", "err", err, "attempt", attempt)
		}
		if acked {
			attempt = 0
		}
		if !sleepContext(ctx, backoffDelay(attempt)) {
			return ctx.Err()
		}
		attempt++
	}
}

// backoffDelay doubles from 1s and saturates at 10s.
func backoffDelay(attempt int) time.Duration {
	if attempt >= 4 {
		return maxBackoff
	}
	d := time.Second << attempt
	if d > maxBackoff {
		return maxBackoff
	}
	return d
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

type pusherFrame struct {
	Event   string `json:"event"`
	Data    string `json:"data"`
	Channel string `json:"channel"`
}

// session runs one websocket connection to completion. It reports
// whether the server acknowledged the connection, which is what resets
// the caller's backoff.
func (a *Adapter) session(ctx context.Context, info channelInfo) (acked bool, err error) {
	conn, _, err := websocket.Dial(ctx, pusherURL, nil)
	if err != nil {
		return false, errors.Wrap(err, "dial pusher")
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(1 << 20)

	subscribe := map[string]any{
		"event": "pusher:subscribe",
		"data": map[string]any{
			"auth":    "",
			"channel": "chatrooms." + strconv.Itoa(info.Chatroom.ID) + ".v2",
		},
	}
	payload, _ := json.Marshal(subscribe)
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		return false, errors.Wrap(err, "subscribe")
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return acked, err
		}
		var frame pusherFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			slog.Warn("kick frame decode", "err", err)
			continue
		}
		switch frame.Event {
		case "pusher:connection_established":
			acked = true
			slog.Info("kick connected", "slug", a.Slug)
			a.emit(core.Event{Kind: core.EventStatus, Platform: core.PlatformKick, Connected: true})
		case "pusher:ping":
			pong, _ := json.Marshal(map[string]any{"event": "pusher:pong", "data": map[string]any{}})
			if err := conn.Write(ctx, websocket.MessageText, pong); err != nil {
				return acked, errors.Wrap(err, "pong")
			}
		case "App\\Events\\ChatMessageEvent":
			if msg, ok := a.convertMessage(frame.Data, info); ok {
				a.emit(core.Event{Kind: core.EventMessage, Platform: core.PlatformKick, Message: &msg})
			}
		case "App\\Events\\MessageDeletedEvent":
			if mod, ok := convertDeleted(frame.Data); ok {
				a.emit(core.Event{Kind: core.EventModAction, Platform: core.PlatformKick, Mod: &mod})
			}
		case "App\\Events\\UserBannedEvent":
			if mod, ok := convertBanned(frame.Data); ok {
				a.emit(core.Event{Kind: core.EventModAction, Platform: core.PlatformKick, Mod: &mod})
			}
		case "App\\Events\\ChatroomClearEvent":
			a.emit(core.Event{Kind: core.EventClearChat, Platform: core.PlatformKick})
		}
	}
}

func (a *Adapter) emit(ev core.Event) {
	select {
	case a.events <- ev:
	default:
		slog.Warn("kick event dropped, consumer behind", "kind", ev.Kind)
	}
}

type kickChatMessage struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	Type      string `json:"type"`
	CreatedAt string `json:"created_at"`
	Sender    struct {
		ID       int    `json:"id"`
		Username string `json:"username"`
		Slug     string `json:"slug"`
		Identity struct {
			Color  string `json:"color"`
			Badges []struct {
				Type  string `json:"type"`
				Text  string `json:"text"`
				Count int    `json:"count"`
			} `json:"badges"`
		} `json:"identity"`
	} `json:"sender"`
}

func (a *Adapter) convertMessage(data string, info channelInfo) (core.ChatMessage, bool) {
	var raw kickChatMessage
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		slog.Warn("kick message decode", "err", err)
		return core.ChatMessage{}, false
	}
	if raw.ID == "" {
		return core.ChatMessage{}, false
	}

	ts := time.Now().UnixMilli()
	if t, err := time.Parse(time.RFC3339, raw.CreatedAt); err == nil {
		ts = t.UnixMilli()
	}

	m := core.ChatMessage{
		ID:          raw.ID,
		Username:    raw.Sender.Slug,
		DisplayName: raw.Sender.Username,
		UserID:      strconv.Itoa(raw.Sender.ID),
		Content:     plainContent(raw.Content),
		Color:       raw.Sender.Identity.Color,
		Timestamp:   ts,
		Type:        core.TypeChat,
		Platform:    core.PlatformKick,
	}
	if m.Username == "" {
		m.Username = strings.ToLower(raw.Sender.Username)
	}

	for _, b := range raw.Sender.Identity.Badges {
		badge := core.Badge{ID: b.Type, Title: b.Text, Provider: "kick"}
		if b.Type == "subscriber" {
			badge.Version = strconv.Itoa(b.Count)
			badge.URL = subscriberBadgeURL(info, b.Count)
		}
		m.Badges = append(m.Badges, badge)
	}

	m.Parsed = a.parseContent(raw.Content)
	return m, true
}

// parseContent expands Kick's [emote:id:name] inline markup into emote
// segments and resolves the plain runs against the shared index.
func (a *Adapter) parseContent(content string) []core.Segment {
	var segs []core.Segment
	opts := parse.Options{Platform: core.PlatformKick, Index: a.Index}

	rest := content
	for {
		open := strings.Index(rest, "[emote:")
		if open == -1 {
			break
		}
		closeIdx := strings.Index(rest[open:], "]")
		if closeIdx == -1 {
			break
		}
		closeIdx += open

		id, name, ok := splitEmoteMarkup(rest[open+1 : closeIdx])
		if !ok {
			segs = append(segs, parse.Message(rest[:closeIdx+1], nil, opts)...)
			rest = rest[closeIdx+1:]
			continue
		}
		if open > 0 {
			segs = append(segs, parse.Message(rest[:open], nil, opts)...)
		}
		segs = append(segs, core.Segment{Kind: core.SegmentEmote, Emote: &core.EmoteRef{
			Name:     name,
			URL:      kickEmoteURL(id),
			Provider: "kick",
		}})
		rest = rest[closeIdx+1:]
	}
	if rest != "" {
		segs = append(segs, parse.Message(rest, nil, opts)...)
	}
	return parse.Coalesce(segs)
}

// splitEmoteMarkup parses "emote:37226:KEKW" from inside the brackets.
func splitEmoteMarkup(inner string) (id, name string, ok bool) {
	parts := strings.SplitN(inner, ":", 3)
	if len(parts) != 3 || parts[0] != "emote" || parts[1] == "" {
		return "", "", false
	}
	for i := 0; i < len(parts[1]); i++ {
		if parts[1][i] < '0' || parts[1][i] > '9' {
			return "", "", false
		}
	}
	return parts[1], parts[2], true
}

func kickEmoteURL(id string) string {
	return "https://files.kick.com/emotes/" + id + "/fullsize"
}

// plainContent strips the inline markup down to the emote names for the
// raw-content field.
func plainContent(content string) string {
	var b strings.Builder
	rest := content
	for {
		open := strings.Index(rest, "[emote:")
		if open == -1 {
			break
		}
		closeIdx := strings.Index(rest[open:], "]")
		if closeIdx == -1 {
			break
		}
		closeIdx += open
		if _, name, ok := splitEmoteMarkup(rest[open+1 : closeIdx]); ok {
			b.WriteString(rest[:open])
			b.WriteString(name)
		} else {
			b.WriteString(rest[:closeIdx+1])
		}
		rest = rest[closeIdx+1:]
	}
	b.WriteString(rest)
	return b.String()
}

// subscriberBadgeURL picks the highest badge tier whose month threshold
// the subscriber has reached.
func subscriberBadgeURL(info channelInfo, months int) string {
	url := ""
	best := -1
	for _, b := range info.SubscriberBadges {
		if b.Months <= months && b.Months > best {
			best = b.Months
			url = b.BadgeImage.Src
		}
	}
	return url
}

func convertDeleted(data string) (core.ModAction, bool) {
	var raw struct {
		Message struct {
			ID string `json:"id"`
		} `json:"message"`
	}
	if err := json.Unmarshal([]byte(data), &raw); err != nil || raw.Message.ID == "" {
		return core.ModAction{}, false
	}
	return core.ModAction{Kind: core.ModDelete, TargetMsgID: raw.Message.ID}, true
}

func convertBanned(data string) (core.ModAction, bool) {
	var raw struct {
		User struct {
			Slug     string `json:"slug"`
			Username string `json:"username"`
		} `json:"user"`
		Permanent bool `json:"permanent"`
		Duration  int  `json:"duration"`
	}
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return core.ModAction{}, false
	}
	target := raw.User.Slug
	if target == "" {
		target = raw.User.Username
	}
	if target == "" {
		return core.ModAction{}, false
	}
	if raw.Permanent {
		return core.ModAction{Kind: core.ModBan, TargetUsername: target}, true
	}
	return core.ModAction{Kind: core.ModTimeout, TargetUsername: target, DurationSeconds: raw.Duration * 60}, true
}

// resolveChannelRetry keeps retrying the channel lookup until it
// succeeds or ctx is canceled. A failed bootstrap must not take the
// adapter down while the API recovers.
func (a *Adapter) resolveChannelRetry(ctx context.Context) (channelInfo, error) {
	for {
		info, err := a.resolveChannel(ctx)
		if err == nil {
			return info, nil
		}
		if ctx.Err() != nil {
			return channelInfo{}, ctx.Err()
		}
		slog.Warn("kick channel resolve failed, retrying", "slug", a.Slug, "err", err)
		if !sleepContext(ctx, resolveRetryInterval) {
			return channelInfo{}, ctx.Err()
		}
	}
}

func (a *Adapter) resolveChannel(ctx context.Context) (channelInfo, error) {
	var info channelInfo
	url := kickAPIBaseURL + "/channels/" + a.Slug
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return info, errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := a.HTTP.Do(req)
	if err != nil {
		return info, errors.Wrap(err, "get channel")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return info, errors.Errorf("get channel: status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&info); err != nil {
		return info, errors.Wrap(err, "decode channel")
	}
	if info.Chatroom.ID == 0 {
		return info, errors.New("channel has no chatroom")
	}
	return info, nil
}

// bootstrapEmotes loads the channel's 7TV set and the 7TV globals;
// BTTV and FFZ do not serve this platform.
func (a *Adapter) bootstrapEmotes(ctx context.Context, channelID int) {
	if a.Index == nil || a.Fetcher == nil {
		return
	}
	go func() {
		if refs, err := a.Fetcher.SevenTVChannel(ctx, "kick", strconv.Itoa(channelID)); err == nil {
			a.Index.SetSource(emotes.SourceKickSevenTV, refs)
		} else {
			slog.Warn("kick 7tv channel load failed", "err", err)
		}
		if refs, err := a.Fetcher.SevenTVGlobal(ctx); err == nil {
			a.Index.SetSource(emotes.SourceGlobalSevenTV, refs)
		} else {
			slog.Warn("kick 7tv global load failed", "err", err)
		}
	}()
}
