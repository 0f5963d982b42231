package parse

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rivo/uniseg"

	"github.com/you/chatglass/internal/core"
)

// twemojiBase is the deterministic codepoint-to-URL scheme for generic
// Unicode pictographs.
const twemojiBase = "https://cdn.jsdelivr.net/gh/twitter/twemoji@14.0.2/assets/svg/"

// ShortcodeMap resolves platform-native emoji shortcodes (":hand-wave:")
// to image URLs. It is loaded lazily, once, and cached indefinitely; an
// explicit injectable object rather than ambient process state so tests
// can construct a fresh one.
type ShortcodeMap struct {
	URL  string
	HTTP *http.Client

	mu     sync.Mutex
	loaded bool
	codes  map[string]string
}

// NewShortcodeMap builds a map backed by the given catalog URL. An empty
// URL yields an always-miss map.
func NewShortcodeMap(url string) *ShortcodeMap {
	return &ShortcodeMap{URL: url}
}

// Preload inserts entries directly; used by tests and by adapters that
// already hold the catalog.
func (m *ShortcodeMap) Preload(codes map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.codes == nil {
		m.codes = make(map[string]string, len(codes))
	}
	for k, v := range codes {
		m.codes[k] = v
	}
	m.loaded = true
}

// Resolve returns the image URL for a shortcode, fetching the catalog on
// first use. Fetch failure is cached as an empty map; the message still
// renders with plain text.
func (m *ShortcodeMap) Resolve(ctx context.Context, code string) (string, bool) {
	if m == nil {
		return "", false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.loaded {
		m.codes = m.fetch(ctx)
		m.loaded = true
	}
	url, ok := m.codes[code]
	return url, ok && url != ""
}

func (m *ShortcodeMap) fetch(ctx context.Context) map[string]string {
	if m.URL == "" {
		return map[string]string{}
	}
	client := m.HTTP
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.URL, nil)
	if err != nil {
		return map[string]string{}
	}
	resp, err := client.Do(req)
	if err != nil {
		return map[string]string{}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return map[string]string{}
	}
	var codes map[string]string
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&codes); err != nil {
		return map[string]string{}
	}
	return codes
}

// ResolveEmoji runs the three YouTube emoji passes over already-parsed
// segments: the explicit per-message emoji list, then the global
// shortcode map, then a generic Unicode pictograph scan. Each pass only
// operates on segments still of text kind, so a converted segment can
// never be consumed twice.
func ResolveEmoji(ctx context.Context, segs []core.Segment, perMessage map[string]string, shortcodes *ShortcodeMap) []core.Segment {
	segs = mapTextSegments(segs, func(text string) []core.Segment {
		return replaceShortcodes(text, func(code string) (string, bool) {
			url, ok := perMessage[code]
			return url, ok && url != ""
		})
	})
	if shortcodes != nil {
		segs = mapTextSegments(segs, func(text string) []core.Segment {
			return replaceShortcodes(text, func(code string) (string, bool) {
				return shortcodes.Resolve(ctx, code)
			})
		})
	}
	return mapTextSegments(segs, scanPictographs)
}

// mapTextSegments applies fn to text segments only, splicing the results
// in place of the original segment.
func mapTextSegments(segs []core.Segment, fn func(string) []core.Segment) []core.Segment {
	out := make([]core.Segment, 0, len(segs))
	for _, s := range segs {
		if s.Kind != core.SegmentText {
			out = append(out, s)
			continue
		}
		out = append(out, fn(s.Text)...)
	}
	return Coalesce(out)
}

// replaceShortcodes finds :code: occurrences and substitutes any that the
// resolver knows. Unresolved text stays contiguous in a single segment so
// a later pass still sees complete codes.
func replaceShortcodes(text string, resolve func(string) (string, bool)) []core.Segment {
	var segs []core.Segment
	var plain strings.Builder

	flushPlain := func() {
		if plain.Len() > 0 {
			segs = append(segs, core.Segment{Kind: core.SegmentText, Text: plain.String()})
			plain.Reset()
		}
	}

	rest := text
	for {
		open := strings.IndexByte(rest, ':')
		if open == -1 {
			break
		}
		close := strings.IndexByte(rest[open+1:], ':')
		if close == -1 {
			break
		}
		close += open + 1
		code := rest[open : close+1]
		url, ok := resolve(code)
		if !ok {
			// keep scanning from the closing colon; it may open a new code
			plain.WriteString(rest[:close])
			rest = rest[close:]
			continue
		}
		plain.WriteString(rest[:open])
		flushPlain()
		segs = append(segs, core.Segment{Kind: core.SegmentEmote, Emote: &core.EmoteRef{
			Name:     code,
			URL:      url,
			Provider: "youtube",
		}})
		rest = rest[close+1:]
	}
	plain.WriteString(rest)
	flushPlain()
	return segs
}

// scanPictographs converts Unicode pictographic grapheme clusters
// (including ZWJ and variation-selector sequences) into twemoji image
// references, leaving all other text untouched.
func scanPictographs(text string) []core.Segment {
	var segs []core.Segment
	var plain strings.Builder

	flushPlain := func() {
		if plain.Len() > 0 {
			segs = append(segs, core.Segment{Kind: core.SegmentText, Text: plain.String()})
			plain.Reset()
		}
	}

	state := -1
	rest := text
	for len(rest) > 0 {
		cluster, tail, _, next := uniseg.FirstGraphemeClusterInString(rest, state)
		rest, state = tail, next
		if isPictographic(cluster) {
			flushPlain()
			segs = append(segs, core.Segment{Kind: core.SegmentEmote, Emote: &core.EmoteRef{
				Name:     cluster,
				URL:      twemojiURL(cluster),
				Provider: "unicode",
			}})
			continue
		}
		plain.WriteString(cluster)
	}
	flushPlain()
	return segs
}

// isPictographic reports whether the cluster contains at least one rune
// from the common emoji blocks.
func isPictographic(cluster string) bool {
	for _, r := range cluster {
		switch {
		case r >= 0x1F300 && r <= 0x1F5FF, // misc symbols and pictographs
			r >= 0x1F600 && r <= 0x1F64F, // emoticons
			r >= 0x1F680 && r <= 0x1F6FF, // transport
			r >= 0x1F900 && r <= 0x1F9FF, // supplemental symbols
			r >= 0x1FA70 && r <= 0x1FAFF, // symbols extended-A
			r >= 0x2600 && r <= 0x26FF, // misc symbols
			r >= 0x2700 && r <= 0x27BF, // dingbats
			r >= 0x1F1E6 && r <= 0x1F1FF: // regional indicators
			return true
		}
	}
	return false
}

// twemojiURL joins the cluster's codepoints with '-', dropping the
// variation selector per the twemoji asset naming convention.
func twemojiURL(cluster string) string {
	var parts []string
	for _, r := range cluster {
		if r == 0xFE0F {
			continue
		}
		parts = append(parts, fmt.Sprintf("%x", r))
	}
	return twemojiBase + strings.Join(parts, "-") + ".svg"
}
