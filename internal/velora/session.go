package velora

import (
	"context"
	"log/slog"
	"sync"

	"github.com/you/chatglass/internal/core"
)

// sessionEmotes is the session-lifetime code-to-URL map. Codes fall
// into three states: resolved (url known), negative (resolved to
// nothing), and pending (a batched resolve is in flight). Pending marks
// keep the same code from being requested twice concurrently.
type sessionEmotes struct {
	mu      sync.Mutex
	codes   map[string]string // "" = resolved negative
	pending map[string]struct{}
	wg      sync.WaitGroup
}

func newSessionEmotes() *sessionEmotes {
	return &sessionEmotes{
		codes:   make(map[string]string),
		pending: make(map[string]struct{}),
	}
}

// loadCatalog seeds the map from the channel's emote catalog.
func (s *sessionEmotes) loadCatalog(ctx context.Context, a *Adapter, channelID string) error {
	var resp struct {
		Emotes []struct {
			Code string `json:"code"`
			URL  string `json:"url"`
		} `json:"emotes"`
	}
	if err := a.getJSON(ctx, veloraBaseURL+"/channels/"+channelID+"/emotes", &resp); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range resp.Emotes {
		if e.Code != "" {
			s.codes[e.Code] = e.URL
		}
	}
	return nil
}

// lookup returns the emote for code. known=false means the code has
// never been seen and is a candidate for batched resolution.
func (s *sessionEmotes) lookup(code string) (ref core.EmoteRef, ok, known bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if url, exists := s.codes[code]; exists {
		if url == "" {
			return core.EmoteRef{}, false, true
		}
		return core.EmoteRef{Name: code, URL: url, Provider: "velora"}, true, true
	}
	if _, inflight := s.pending[code]; inflight {
		return core.EmoteRef{}, false, true
	}
	return core.EmoteRef{}, false, false
}

// resolveAsync batches the still-unmarked codes into one background
// request. Codes already pending or resolved are dropped from the batch.
func (s *sessionEmotes) resolveAsync(ctx context.Context, a *Adapter, codes []string) {
	s.mu.Lock()
	var batch []string
	for _, code := range codes {
		if code == "" {
			continue
		}
		if _, done := s.codes[code]; done {
			continue
		}
		if _, inflight := s.pending[code]; inflight {
			continue
		}
		s.pending[code] = struct{}{}
		batch = append(batch, code)
	}
	s.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	endpoint := veloraBaseURL + "/emotes/resolve"
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		var resp struct {
			Emotes []struct {
				Code string `json:"code"`
				URL  string `json:"url"`
			} `json:"emotes"`
		}
		err := a.postJSON(ctx, endpoint, map[string]any{"codes": batch}, &resp)

		s.mu.Lock()
		defer s.mu.Unlock()
		if err != nil {
			// clear pending so a later message can retry the batch
			for _, code := range batch {
				delete(s.pending, code)
			}
			slog.Warn("velora emote resolve failed", "codes", len(batch), "err", err)
			return
		}
		resolved := make(map[string]string, len(resp.Emotes))
		for _, e := range resp.Emotes {
			resolved[e.Code] = e.URL
		}
		for _, code := range batch {
			delete(s.pending, code)
			s.codes[code] = resolved[code] // "" caches the negative
		}
	}()
}

// wait joins every in-flight resolve goroutine.
func (s *sessionEmotes) wait() {
	s.wg.Wait()
}
