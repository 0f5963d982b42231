// Package parse turns raw message text plus platform-specific inline
// emote metadata into the ordered segment list the overlay renders.
package parse

import (
	"sort"
	"strings"
	"unicode"

	"github.com/you/chatglass/internal/core"
	"github.com/you/chatglass/internal/emotes"
)

// Span is a platform-supplied inline emote placement, in rune offsets
// over the message text. End is inclusive, matching the IRC tag format.
type Span struct {
	Start int
	End   int
	Emote core.EmoteRef
}

// Options controls one parse run.
type Options struct {
	// Platform selects the emote index priority order.
	Platform core.Platform
	// Index is consulted for word-level emote codes; nil disables lookup.
	Index *emotes.Index
	// Lookup, when set, is tried before Index for each token. Velora uses
	// this for its session-local code map.
	Lookup func(token string) (core.EmoteRef, bool)
	// Cheers enables bits recognition (primary platform only).
	Cheers bool
}

// Message parses text into segments. Inline spans are substituted first
// so word-level matching never double-processes an already-placed emote.
func Message(text string, spans []Span, opts Options) []core.Segment {
	runes := []rune(text)
	spans = sanitizeSpans(spans, len(runes))

	var segs []core.Segment
	cursor := 0
	for _, sp := range spans {
		if sp.Start > cursor {
			segs = append(segs, tokenize(string(runes[cursor:sp.Start]), opts)...)
		}
		emote := sp.Emote
		if emote.Name == "" {
			emote.Name = string(runes[sp.Start : sp.End+1])
		}
		if emotes.IsZeroWidthCode(emote.Name) {
			emote.ZeroWidth = true
		}
		e := emote
		segs = append(segs, core.Segment{Kind: core.SegmentEmote, Emote: &e})
		cursor = sp.End + 1
	}
	if cursor < len(runes) {
		segs = append(segs, tokenize(string(runes[cursor:]), opts)...)
	}
	return Coalesce(segs)
}

// sanitizeSpans sorts by start offset and drops out-of-range or
// overlapping spans.
func sanitizeSpans(spans []Span, n int) []Span {
	if len(spans) == 0 {
		return nil
	}
	sorted := make([]Span, 0, len(spans))
	for _, sp := range spans {
		if sp.Start < 0 || sp.End < sp.Start || sp.End >= n {
			continue
		}
		sorted = append(sorted, sp)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	out := sorted[:0]
	prevEnd := -1
	for _, sp := range sorted {
		if sp.Start <= prevEnd {
			continue
		}
		out = append(out, sp)
		prevEnd = sp.End
	}
	return out
}

// tokenize splits a literal run on whitespace, preserving whitespace runs
// verbatim as their own text segments so spacing renders exactly, and
// resolves each word against the lookup chain.
func tokenize(text string, opts Options) []core.Segment {
	var segs []core.Segment
	var run strings.Builder
	runIsSpace := false

	flush := func() {
		if run.Len() == 0 {
			return
		}
		word := run.String()
		run.Reset()
		if runIsSpace {
			segs = append(segs, core.Segment{Kind: core.SegmentText, Text: word})
			return
		}
		segs = append(segs, resolveToken(word, opts))
	}

	for _, r := range text {
		isSpace := unicode.IsSpace(r)
		if run.Len() > 0 && isSpace != runIsSpace {
			flush()
		}
		runIsSpace = isSpace
		run.WriteRune(r)
	}
	flush()
	return segs
}

func resolveToken(word string, opts Options) core.Segment {
	if opts.Cheers {
		if cheer, ok := parseCheer(word); ok {
			return core.Segment{Kind: core.SegmentCheer, Cheer: cheer}
		}
	}
	if opts.Lookup != nil {
		if e, ok := opts.Lookup(word); ok {
			e.ZeroWidth = e.ZeroWidth || emotes.IsZeroWidthCode(e.Name)
			return core.Segment{Kind: core.SegmentEmote, Emote: &e}
		}
	}
	if opts.Index != nil {
		if e, ok := opts.Index.Resolve(word, opts.Platform); ok {
			return core.Segment{Kind: core.SegmentEmote, Emote: &e}
		}
	}
	return core.Segment{Kind: core.SegmentText, Text: word}
}

// Coalesce merges adjacent text segments and drops empty ones, so a
// literal run that tokenized into words and whitespace comes back out
// as one segment per uninterrupted stretch of text. Adapters that
// stitch together multiple parse results use it on the final list.
func Coalesce(segs []core.Segment) []core.Segment {
	out := segs[:0]
	for _, s := range segs {
		if s.Kind == core.SegmentText {
			if s.Text == "" {
				continue
			}
			if n := len(out); n > 0 && out[n-1].Kind == core.SegmentText {
				out[n-1].Text += s.Text
				continue
			}
		}
		out = append(out, s)
	}
	return out
}

// PlainText concatenates the textual content of segments; used by tests
// and the accessibility fallback.
func PlainText(segs []core.Segment) string {
	var b strings.Builder
	for _, s := range segs {
		if s.Kind == core.SegmentText {
			b.WriteString(s.Text)
		}
	}
	return b.String()
}
