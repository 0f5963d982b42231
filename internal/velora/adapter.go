// Package velora ingests chat from Velora's REST surface. There is no
// push transport; the adapter polls up to two related message feeds on
// a short fixed interval and merges them before dispatch.
package velora

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/you/chatglass/internal/core"
	"github.com/you/chatglass/internal/parse"
)

var veloraBaseURL = "https://api.velora.tv/v1"

const (
	pollInterval    = 2500 * time.Millisecond
	errPollInterval = 3500 * time.Millisecond

	maxSeenIDs = 2000
)

// resolveRetryInterval is a variable so tests can shrink the bootstrap
// retry delay.
var resolveRetryInterval = errPollInterval

type Adapter struct {
	Channel string
	HTTP    *http.Client

	events chan core.Event

	session *sessionEmotes
	badges  map[string]core.Badge

	seen  map[string]struct{}
	order []string

	watermark int64 // ms; session start, reset on in-band clear
	now       func() time.Time
}

func New(channel string) *Adapter {
	return &Adapter{
		Channel: strings.TrimSpace(channel),
		HTTP:    &http.Client{Timeout: 15 * time.Second},
		events:  make(chan core.Event, 256),
		session: newSessionEmotes(),
		badges:  make(map[string]core.Badge),
		seen:    make(map[string]struct{}),
		now:     time.Now,
	}
}

func (a *Adapter) Events() <-chan core.Event { return a.events }

type channelInfo struct {
	ID           string `json:"id"`
	Handle       string `json:"handle"`
	DisplayName  string `json:"display_name"`
	LivestreamID string `json:"livestream_id"`
}

// Run resolves the channel, loads the session catalogs, then polls the
// history feeds until ctx is canceled.
func (a *Adapter) Run(ctx context.Context) error {
	defer close(a.events)
	defer a.session.wait()

	info, err := a.resolveChannelRetry(ctx)
	if err != nil {
		return errors.Wrapf(err, "resolve velora channel %s", a.Channel)
	}
	slog.Info("velora channel resolved", "handle", info.Handle, "id", info.ID)

	if err := a.loadBadgeCatalog(ctx, info.ID); err != nil {
		slog.Warn("velora badge catalog load failed", "err", err)
	}
	if err := a.session.loadCatalog(ctx, a, info.ID); err != nil {
		slog.Warn("velora emote catalog load failed", "err", err)
	}

	a.watermark = a.now().UnixMilli()
	a.emit(core.Event{Kind: core.EventStatus, Platform: core.PlatformVelora, Connected: true})

	feeds := []string{info.ID}
	if info.LivestreamID != "" && info.LivestreamID != info.ID {
		feeds = append(feeds, info.LivestreamID)
	}

	interval := pollInterval
	for {
		if !sleepContext(ctx, interval) {
			a.emit(core.Event{Kind: core.EventStatus, Platform: core.PlatformVelora, Connected: false})
			return ctx.Err()
		}
		batch, err := a.pollFeeds(ctx, feeds)
		if err != nil {
			slog.Warn("velora poll failed", "err", err)
			interval = errPollInterval
			continue
		}
		interval = pollInterval
		a.dispatchBatch(ctx, batch)
	}
}

// resolveChannelRetry keeps retrying the channel search until it
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
		slog.Warn("velora channel resolve failed, retrying", "channel", a.Channel, "err", err)
		if !sleepContext(ctx, resolveRetryInterval) {
			return channelInfo{}, ctx.Err()
		}
	}
}

// resolveChannel searches by display username. An exact handle match
// (case-insensitive, first in result order) wins; otherwise the first
// result is taken as a best-effort guess.
func (a *Adapter) resolveChannel(ctx context.Context) (channelInfo, error) {
	var resp struct {
		Results []channelInfo `json:"results"`
	}
	if err := a.getJSON(ctx, veloraBaseURL+"/search/channels?q="+url.QueryEscape(a.Channel), &resp); err != nil {
		return channelInfo{}, err
	}
	if len(resp.Results) == 0 {
		return channelInfo{}, errors.Errorf("no channel matches %q", a.Channel)
	}
	for _, r := range resp.Results {
		if strings.EqualFold(r.Handle, a.Channel) {
			return r, nil
		}
	}
	slog.Debug("velora search had no exact handle match, taking first result",
		"query", a.Channel, "picked", resp.Results[0].Handle)
	return resp.Results[0], nil
}

type feedMessage struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Type    string `json:"type"`   // "message" | "system"
	Notice  string `json:"notice"` // system only, e.g. "clear_chat"
	User    struct {
		ID          string   `json:"id"`
		Handle      string   `json:"handle"`
		DisplayName string   `json:"display_name"`
		Color       string   `json:"color"`
		BadgeIDs    []string `json:"badge_ids"`
	} `json:"user"`
	Emotes []struct {
		Code  string `json:"code"`
		URL   string `json:"url"`
		Start int    `json:"start"`
		End   int    `json:"end"`
	} `json:"emotes"`
	Card      *core.Card `json:"card"`
	CreatedAt string     `json:"created_at"`
}

// pollFeeds fetches every feed page and merges them into one
// time-sorted batch so interleaving two feeds cannot produce local
// out-of-order artifacts.
func (a *Adapter) pollFeeds(ctx context.Context, feeds []string) ([]feedMessage, error) {
	var merged []feedMessage
	for _, feed := range feeds {
		var resp struct {
			Messages []feedMessage `json:"messages"`
		}
		feedURL := veloraBaseURL + "/feeds/" + feed + "/messages"
		if err := a.getJSON(ctx, feedURL, &resp); err != nil {
			return nil, errors.Wrapf(err, "feed %s", feed)
		}
		merged = append(merged, resp.Messages...)
	}
	sortByTimestamp(merged)
	return merged, nil
}

func sortByTimestamp(batch []feedMessage) {
	sort.SliceStable(batch, func(i, j int) bool {
		return parseTimestamp(batch[i].CreatedAt) < parseTimestamp(batch[j].CreatedAt)
	})
}

func parseTimestamp(createdAt string) int64 {
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		return t.UnixMilli()
	}
	return 0
}

func (a *Adapter) dispatchBatch(ctx context.Context, batch []feedMessage) {
	for _, raw := range batch {
		if raw.Type == "system" && raw.Notice == "clear_chat" {
			a.watermark = a.now().UnixMilli()
			a.emit(core.Event{Kind: core.EventClearChat, Platform: core.PlatformVelora})
			continue
		}
		ts := parseTimestamp(raw.CreatedAt)
		if ts < a.watermark {
			continue
		}
		if a.markSeen(raw.ID) {
			continue
		}
		msg := a.convertMessage(ctx, raw, ts)
		a.emit(core.Event{Kind: core.EventMessage, Platform: core.PlatformVelora, Message: &msg})
	}
}

func (a *Adapter) markSeen(id string) bool {
	if id == "" {
		return false
	}
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

func (a *Adapter) convertMessage(ctx context.Context, raw feedMessage, ts int64) core.ChatMessage {
	id := raw.ID
	if id == "" {
		id = uuid.NewString()
	}
	m := core.ChatMessage{
		ID:          id,
		Username:    raw.User.Handle,
		DisplayName: raw.User.DisplayName,
		UserID:      raw.User.ID,
		Content:     raw.Content,
		Color:       raw.User.Color,
		Timestamp:   ts,
		Type:        core.TypeChat,
		Platform:    core.PlatformVelora,
		Card:        raw.Card,
	}
	if raw.Type == "system" {
		m.Type = core.TypeSystem
	}
	for _, bid := range raw.User.BadgeIDs {
		if badge, ok := a.badges[bid]; ok {
			m.AppendBadge(badge)
		}
	}
	m.Parsed = a.parseContent(ctx, raw)
	return m
}

// parseContent prefers explicit positional emote data; without it, the
// session code map resolves whitespace tokens, and unknown codes kick
// off a batched background resolve for subsequent messages.
func (a *Adapter) parseContent(ctx context.Context, raw feedMessage) []core.Segment {
	var spans []parse.Span
	for _, e := range raw.Emotes {
		if e.URL == "" {
			continue
		}
		spans = append(spans, parse.Span{
			Start: e.Start,
			End:   e.End,
			Emote: core.EmoteRef{Name: e.Code, URL: e.URL, Provider: "velora"},
		})
	}
	if len(spans) > 0 {
		return parse.Message(raw.Content, spans, parse.Options{Platform: core.PlatformVelora})
	}

	var unknown []string
	segs := parse.Message(raw.Content, nil, parse.Options{
		Platform: core.PlatformVelora,
		Lookup: func(token string) (core.EmoteRef, bool) {
			ref, ok, known := a.session.lookup(token)
			if !known {
				unknown = append(unknown, token)
			}
			return ref, ok
		},
	})
	if len(unknown) > 0 {
		a.session.resolveAsync(ctx, a, unknown)
	}
	return segs
}

func (a *Adapter) loadBadgeCatalog(ctx context.Context, channelID string) error {
	var resp struct {
		Badges []struct {
			ID    string `json:"id"`
			Title string `json:"title"`
			URL   string `json:"url"`
		} `json:"badges"`
	}
	if err := a.getJSON(ctx, veloraBaseURL+"/channels/"+channelID+"/badges", &resp); err != nil {
		return err
	}
	for _, b := range resp.Badges {
		a.badges[b.ID] = core.Badge{ID: b.ID, Title: b.Title, URL: b.URL, Provider: "velora"}
	}
	return nil
}

func (a *Adapter) emit(ev core.Event) {
	select {
	case a.events <- ev:
	default:
		slog.Warn("velora event dropped, consumer behind", "kind", ev.Kind)
	}
}

func (a *Adapter) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	resp, err := a.HTTP.Do(req)
	if err != nil {
		return errors.Wrapf(err, "get %s", url)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("get %s: status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(out); err != nil {
		return errors.Wrapf(err, "decode %s", url)
	}
	return nil
}

func (a *Adapter) postJSON(ctx context.Context, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "encode request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.HTTP.Do(req)
	if err != nil {
		return errors.Wrapf(err, "post %s", url)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("post %s: status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(out); err != nil {
		return errors.Wrapf(err, "decode %s", url)
	}
	return nil
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
