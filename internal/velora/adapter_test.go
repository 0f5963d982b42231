package velora

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/you/chatglass/internal/core"
)

func withServer(t *testing.T, handler http.Handler) func() {
	t.Helper()
	srv := httptest.NewServer(handler)
	old := veloraBaseURL
	veloraBaseURL = srv.URL
	return func() {
		veloraBaseURL = old
		srv.Close()
	}
}

func TestResolveChannelExactHandleWins(t *testing.T) {
	cleanup := withServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":[
			{"id":"c1","handle":"streamer_live","display_name":"Streamer Live"},
			{"id":"c2","handle":"Streamer","display_name":"The Streamer"}
		]}`))
	}))
	defer cleanup()

	a := New("streamer")
	info, err := a.resolveChannel(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if info.ID != "c2" {
		t.Fatalf("exact handle match must win: %+v", info)
	}
}

func TestResolveChannelFallsBackToFirstResult(t *testing.T) {
	cleanup := withServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":[
			{"id":"c1","handle":"close_enough"},
			{"id":"c2","handle":"also_close"}
		]}`))
	}))
	defer cleanup()

	a := New("streamer")
	info, err := a.resolveChannel(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if info.ID != "c1" {
		t.Fatalf("first result expected: %+v", info)
	}
}

func TestResolveChannelEscapesQuery(t *testing.T) {
	var gotQuery string
	cleanup := withServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		w.Write([]byte(`{"results":[{"id":"c1","handle":"weird streamer"}]}`))
	}))
	defer cleanup()

	a := New("weird streamer&co")
	if _, err := a.resolveChannel(context.Background()); err != nil {
		t.Fatal(err)
	}
	if gotQuery != "weird streamer&co" {
		t.Fatalf("query arrived as %q", gotQuery)
	}
}

func TestRunRetriesBootstrapResolve(t *testing.T) {
	var searches atomic.Int32
	cleanup := withServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/search/channels":
			if searches.Add(1) == 1 {
				http.Error(w, "upstream busy", http.StatusInternalServerError)
				return
			}
			w.Write([]byte(`{"results":[{"id":"c1","handle":"streamer"}]}`))
		case "/channels/c1/badges":
			w.Write([]byte(`{"badges":[]}`))
		case "/channels/c1/emotes":
			w.Write([]byte(`{"emotes":[]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer cleanup()

	oldRetry := resolveRetryInterval
	resolveRetryInterval = time.Millisecond
	defer func() { resolveRetryInterval = oldRetry }()

	a := New("streamer")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	deadline := time.After(2 * time.Second)
wait:
	for {
		select {
		case ev := <-a.Events():
			if ev.Kind == core.EventStatus && ev.Connected {
				break wait
			}
		case <-deadline:
			t.Fatal("adapter never connected after transient resolve failure")
		}
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("run returned %v", err)
	}
	if searches.Load() < 2 {
		t.Fatalf("search called %d times, want a retry", searches.Load())
	}
}

func TestResolveChannelNoResults(t *testing.T) {
	cleanup := withServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":[]}`))
	}))
	defer cleanup()

	a := New("ghost")
	if _, err := a.resolveChannel(context.Background()); err == nil {
		t.Fatal("expected error for empty search")
	}
}

func feedMsg(id, handle, content, createdAt string) feedMessage {
	var m feedMessage
	m.ID = id
	m.Content = content
	m.Type = "message"
	m.CreatedAt = createdAt
	m.User.Handle = handle
	m.User.DisplayName = handle
	return m
}

func TestPollFeedsMergesAndSorts(t *testing.T) {
	cleanup := withServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/feeds/chan/messages":
			json.NewEncoder(w).Encode(map[string]any{"messages": []feedMessage{
				feedMsg("b", "alice", "second", "2026-08-28T12:00:02Z"),
			}})
		case "/feeds/stream/messages":
			json.NewEncoder(w).Encode(map[string]any{"messages": []feedMessage{
				feedMsg("a", "bob", "first", "2026-08-28T12:00:01Z"),
				feedMsg("c", "bob", "third", "2026-08-28T12:00:03Z"),
			}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer cleanup()

	a := New("streamer")
	batch, err := a.pollFeeds(context.Background(), []string{"chan", "stream"})
	if err != nil {
		t.Fatal(err)
	}
	if len(batch) != 3 {
		t.Fatalf("batch = %+v", batch)
	}
	if batch[0].ID != "a" || batch[1].ID != "b" || batch[2].ID != "c" {
		t.Fatalf("not time-sorted: %s %s %s", batch[0].ID, batch[1].ID, batch[2].ID)
	}
}

func TestDispatchBatchWatermarkAndDedupe(t *testing.T) {
	cleanup := withServer(t, http.NotFoundHandler())
	defer cleanup()

	a := New("streamer")
	defer a.session.wait()
	base := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return base }
	a.watermark = base.UnixMilli()

	old := feedMsg("old", "alice", "history", base.Add(-time.Minute).Format(time.RFC3339))
	fresh := feedMsg("new", "alice", "live", base.Add(time.Second).Format(time.RFC3339))

	a.dispatchBatch(context.Background(), []feedMessage{old, fresh, fresh})

	if len(a.events) != 1 {
		t.Fatalf("%d events, want 1 (watermark + dedupe)", len(a.events))
	}
	ev := <-a.events
	if ev.Message.ID != "new" {
		t.Fatalf("wrong message: %+v", ev.Message)
	}
}

func TestClearNoticeResetsWatermark(t *testing.T) {
	cleanup := withServer(t, http.NotFoundHandler())
	defer cleanup()

	a := New("streamer")
	defer a.session.wait()
	base := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	now := base
	a.now = func() time.Time { return now }
	a.watermark = base.Add(-time.Hour).UnixMilli()

	preClear := feedMsg("m1", "alice", "before", base.Add(-time.Minute).Format(time.RFC3339))
	clear := feedMessage{ID: "sys1", Type: "system", Notice: "clear_chat", CreatedAt: base.Format(time.RFC3339)}

	now = base.Add(time.Second)
	a.dispatchBatch(context.Background(), []feedMessage{preClear, clear})

	var kinds []core.EventKind
	for len(a.events) > 0 {
		kinds = append(kinds, (<-a.events).Kind)
	}
	if len(kinds) != 2 || kinds[0] != core.EventMessage || kinds[1] != core.EventClearChat {
		t.Fatalf("kinds = %v", kinds)
	}
	if a.watermark != now.UnixMilli() {
		t.Fatalf("watermark = %d, want %d", a.watermark, now.UnixMilli())
	}

	// the same pre-clear message on the next page must now be ignored
	a.dispatchBatch(context.Background(), []feedMessage{
		feedMsg("m2", "alice", "replayed", base.Add(-time.Minute).Format(time.RFC3339)),
	})
	if len(a.events) != 0 {
		t.Fatal("pre-watermark replay dispatched")
	}
}

func TestConvertMessagePositionalEmotes(t *testing.T) {
	a := New("streamer")
	raw := feedMsg("m1", "alice", "hi WAVE yo", "2026-08-28T12:00:00Z")
	raw.Emotes = []struct {
		Code  string `json:"code"`
		URL   string `json:"url"`
		Start int    `json:"start"`
		End   int    `json:"end"`
	}{{Code: "WAVE", URL: "https://velora/wave", Start: 3, End: 6}}

	m := a.convertMessage(context.Background(), raw, parseTimestamp(raw.CreatedAt))
	if len(m.Parsed) != 3 {
		t.Fatalf("segments = %+v", m.Parsed)
	}
	if m.Parsed[1].Kind != core.SegmentEmote || m.Parsed[1].Emote.URL != "https://velora/wave" {
		t.Fatalf("segment 1 = %+v", m.Parsed[1])
	}
}

func TestConvertMessageSessionLookupAndCard(t *testing.T) {
	a := New("streamer")
	a.session.codes["KEKW"] = "https://velora/kekw"
	a.badges["b1"] = core.Badge{ID: "b1", Title: "Founder", URL: "https://velora/founder", Provider: "velora"}

	raw := feedMsg("m1", "alice", "KEKW", "2026-08-28T12:00:00Z")
	raw.User.BadgeIDs = []string{"b1", "unknown"}
	raw.Card = &core.Card{Kind: "clip", Title: "best moment"}

	m := a.convertMessage(context.Background(), raw, parseTimestamp(raw.CreatedAt))
	if len(m.Parsed) != 1 || m.Parsed[0].Kind != core.SegmentEmote {
		t.Fatalf("parsed = %+v", m.Parsed)
	}
	if len(m.Badges) != 1 || m.Badges[0].Title != "Founder" {
		t.Fatalf("badges = %+v", m.Badges)
	}
	if m.Card == nil || m.Card.Kind != "clip" {
		t.Fatalf("card = %+v", m.Card)
	}
}

func TestSessionResolveBatchedAndDeduplicated(t *testing.T) {
	var calls atomic.Int32
	var mu sync.Mutex
	var requested []string

	cleanup := withServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/emotes/resolve" {
			http.NotFound(w, r)
			return
		}
		calls.Add(1)
		var body struct {
			Codes []string `json:"codes"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		requested = append(requested, body.Codes...)
		mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"emotes": []map[string]string{
			{"code": "NEWEMOTE", "url": "https://velora/new"},
		}})
	}))
	defer cleanup()

	a := New("streamer")
	s := a.session

	s.resolveAsync(context.Background(), a, []string{"NEWEMOTE", "nonsense"})
	// a second request for the same codes while the first is pending
	// must not produce another call
	s.resolveAsync(context.Background(), a, []string{"NEWEMOTE", "nonsense"})
	s.wait()

	if calls.Load() != 1 {
		t.Fatalf("resolve endpoint called %d times, want 1", calls.Load())
	}

	ref, ok, known := s.lookup("NEWEMOTE")
	if !ok || !known || ref.URL != "https://velora/new" {
		t.Fatalf("lookup = %+v %v %v", ref, ok, known)
	}
	// unresolved code is a cached negative, not a retry candidate
	if _, ok, known := s.lookup("nonsense"); ok || !known {
		t.Fatal("negative result not cached")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(requested) != 2 {
		t.Fatalf("requested codes = %v", requested)
	}
}

func TestSessionLookupStates(t *testing.T) {
	s := newSessionEmotes()
	if _, ok, known := s.lookup("fresh"); ok || known {
		t.Fatal("unseen code must be unknown")
	}
	s.pending["inflight"] = struct{}{}
	if _, ok, known := s.lookup("inflight"); ok || !known {
		t.Fatal("pending code must read as known miss")
	}
}
