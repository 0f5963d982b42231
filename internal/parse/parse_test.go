package parse

import (
	"context"
	"testing"

	"github.com/you/chatglass/internal/core"
	"github.com/you/chatglass/internal/emotes"
)

func emoteIndex() *emotes.Index {
	ix := emotes.NewIndex()
	ix.SetSource(emotes.SourceGlobalSevenTV, []core.EmoteRef{
		{Name: "KEKW", URL: "https://img/kekw", Provider: "7tv"},
		{Name: "SoSnowy", URL: "https://img/snowy", Provider: "7tv"},
	})
	return ix
}

func TestPlainTextRoundTrip(t *testing.T) {
	inputs := []string{
		"hello world",
		"  leading and   inner   spaces ",
		"no emotes here at all",
		"tabs\tand\nnewlines preserved",
	}
	for _, in := range inputs {
		segs := Message(in, nil, Options{Platform: core.PlatformTwitch, Index: emoteIndex()})
		if got := PlainText(segs); got != in {
			t.Fatalf("round trip mismatch:\n in: %q\nout: %q", in, got)
		}
	}
}

func TestInlineSpanSubstitution(t *testing.T) {
	// "hello KEKW world" with a platform-supplied placement at runes 6..9.
	segs := Message("hello KEKW world", []Span{
		{Start: 6, End: 9, Emote: core.EmoteRef{Name: "KEKW", URL: "https://tw/kekw", Provider: "twitch"}},
	}, Options{Platform: core.PlatformTwitch})

	if len(segs) != 3 {
		t.Fatalf("expected 3 segments, got %d: %+v", len(segs), segs)
	}
	if segs[0].Text != "hello " {
		t.Fatalf("segment 0 = %q", segs[0].Text)
	}
	if segs[1].Kind != core.SegmentEmote || segs[1].Emote.Name != "KEKW" || segs[1].Emote.URL != "https://tw/kekw" {
		t.Fatalf("segment 1 = %+v", segs[1])
	}
	if segs[2].Text != " world" {
		t.Fatalf("segment 2 = %q", segs[2].Text)
	}
}

func TestSpanSubstitutionBeatsWordMatch(t *testing.T) {
	// The span already consumed KEKW; word-level matching must not run
	// over the placed emote again.
	segs := Message("KEKW", []Span{
		{Start: 0, End: 3, Emote: core.EmoteRef{Name: "KEKW", URL: "https://tw/kekw", Provider: "twitch"}},
	}, Options{Platform: core.PlatformTwitch, Index: emoteIndex()})
	if len(segs) != 1 || segs[0].Emote.Provider != "twitch" {
		t.Fatalf("expected single twitch emote segment, got %+v", segs)
	}
}

func TestOverlappingSpansDropped(t *testing.T) {
	segs := Message("abcdef", []Span{
		{Start: 0, End: 3, Emote: core.EmoteRef{Name: "one", URL: "u1"}},
		{Start: 2, End: 5, Emote: core.EmoteRef{Name: "two", URL: "u2"}},
	}, Options{Platform: core.PlatformTwitch})
	count := 0
	for _, s := range segs {
		if s.Kind == core.SegmentEmote {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("overlapping span survived: %+v", segs)
	}
}

func TestWordLevelEmoteMatch(t *testing.T) {
	segs := Message("lol KEKW", nil, Options{Platform: core.PlatformTwitch, Index: emoteIndex()})
	if len(segs) != 2 {
		t.Fatalf("expected [text emote], got %+v", segs)
	}
	if segs[0].Kind != core.SegmentText || segs[0].Text != "lol " {
		t.Fatalf("segment 0 = %+v", segs[0])
	}
	if segs[1].Kind != core.SegmentEmote || segs[1].Emote.Provider != "7tv" {
		t.Fatalf("segment 1 = %+v", segs[1])
	}
}

func TestAdjacentTextMergesIntoOneSegment(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"just some plain words here", 1},
		{"  leading and   inner   spaces ", 1},
		{"hello KEKW world", 3},
	}
	for _, tc := range cases {
		segs := Message(tc.text, nil, Options{Platform: core.PlatformTwitch, Index: emoteIndex()})
		if len(segs) != tc.want {
			t.Fatalf("%q: %d segments, want %d: %+v", tc.text, len(segs), tc.want, segs)
		}
		if got := PlainText(segs); tc.want == 1 && got != tc.text {
			t.Fatalf("%q: merged text = %q", tc.text, got)
		}
	}
}

func TestZeroWidthOverlay(t *testing.T) {
	segs := Message("KEKW SoSnowy", nil, Options{Platform: core.PlatformTwitch, Index: emoteIndex()})
	last := segs[len(segs)-1]
	if last.Kind != core.SegmentEmote || !last.Emote.ZeroWidth {
		t.Fatalf("SoSnowy should carry the zero-width flag: %+v", last)
	}
}

func TestCheerParsing(t *testing.T) {
	segs := Message("Cheer100 nice", nil, Options{Platform: core.PlatformTwitch, Cheers: true})
	if len(segs) != 2 {
		t.Fatalf("expected 2 segments, got %+v", segs)
	}
	cheer := segs[0]
	if cheer.Kind != core.SegmentCheer {
		t.Fatalf("segment 0 = %+v", cheer)
	}
	if cheer.Cheer.Amount != 100 {
		t.Fatalf("amount = %d", cheer.Cheer.Amount)
	}
	if cheer.Cheer.Color != "#9c3ee8" {
		t.Fatalf("tier color = %s, want the >=100 tier", cheer.Cheer.Color)
	}
	if segs[1].Kind != core.SegmentText || segs[1].Text != " nice" {
		t.Fatalf("trailing segment = %+v", segs[1])
	}
}

func TestCheerTiers(t *testing.T) {
	cases := []struct {
		amount int
		color  string
	}{
		{1, "#979797"},
		{99, "#979797"},
		{100, "#9c3ee8"},
		{999, "#9c3ee8"},
		{1000, "#1db2a5"},
		{5000, "#0099fe"},
		{10000, "#f43021"},
		{250000, "#f43021"},
	}
	for _, tc := range cases {
		color, _ := cheerTier(tc.amount)
		if color != tc.color {
			t.Fatalf("amount %d: color %s, want %s", tc.amount, color, tc.color)
		}
	}
}

func TestCheerDisabledOffPrimaryPlatform(t *testing.T) {
	segs := Message("Cheer100", nil, Options{Platform: core.PlatformKick})
	if segs[0].Kind != core.SegmentText {
		t.Fatalf("cheer recognized off-platform: %+v", segs[0])
	}
}

func TestCheerRequiresDigits(t *testing.T) {
	for _, token := range []string{"Cheer", "Cheerx", "cheers", "Cheer10x", "Cheer+100", "Cheer-5"} {
		if _, ok := parseCheer(token); ok {
			t.Fatalf("%q should not parse as cheer", token)
		}
	}
}

func TestSessionLookupBeforeIndex(t *testing.T) {
	lookup := func(tok string) (core.EmoteRef, bool) {
		if tok == "KEKW" {
			return core.EmoteRef{Name: "KEKW", URL: "https://velora/kekw", Provider: "velora"}, true
		}
		return core.EmoteRef{}, false
	}
	segs := Message("KEKW", nil, Options{Platform: core.PlatformVelora, Index: emoteIndex(), Lookup: lookup})
	if segs[0].Emote.Provider != "velora" {
		t.Fatalf("session lookup should win: %+v", segs[0])
	}
}

func TestResolveEmojiThreePasses(t *testing.T) {
	ctx := context.Background()
	sm := NewShortcodeMap("")
	sm.Preload(map[string]string{":global-wave:": "https://yt/global-wave"})

	segs := []core.Segment{{Kind: core.SegmentText, Text: "hi :msg-emoji: and :global-wave: ok"}}
	perMessage := map[string]string{":msg-emoji:": "https://yt/msg-emoji"}

	out := ResolveEmoji(ctx, segs, perMessage, sm)

	var emoteURLs []string
	for _, s := range out {
		if s.Kind == core.SegmentEmote {
			emoteURLs = append(emoteURLs, s.Emote.URL)
		}
	}
	if len(emoteURLs) != 2 {
		t.Fatalf("expected 2 emoji, got %+v", out)
	}
	if emoteURLs[0] != "https://yt/msg-emoji" || emoteURLs[1] != "https://yt/global-wave" {
		t.Fatalf("urls = %v", emoteURLs)
	}
}

func TestResolveEmojiNeverReprocessesEmoteSegments(t *testing.T) {
	ctx := context.Background()
	already := core.Segment{Kind: core.SegmentEmote, Emote: &core.EmoteRef{Name: "🎉", URL: "https://keep/me", Provider: "youtube"}}
	out := ResolveEmoji(ctx, []core.Segment{already}, nil, nil)
	if len(out) != 1 || out[0].Emote.URL != "https://keep/me" {
		t.Fatalf("converted segment was reprocessed: %+v", out)
	}
}

func TestPictographScan(t *testing.T) {
	out := ResolveEmoji(context.Background(), []core.Segment{{Kind: core.SegmentText, Text: "gg 🎉 wp"}}, nil, nil)
	if len(out) != 3 {
		t.Fatalf("expected text/emote/text, got %+v", out)
	}
	if out[1].Kind != core.SegmentEmote || out[1].Emote.Provider != "unicode" {
		t.Fatalf("segment 1 = %+v", out[1])
	}
	if out[0].Text != "gg " || out[2].Text != " wp" {
		t.Fatalf("surrounding text wrong: %q %q", out[0].Text, out[2].Text)
	}
}

func TestPictographZWJSequenceSingleCluster(t *testing.T) {
	// family: man+ZWJ+woman+ZWJ+girl is one grapheme cluster, one emote.
	text := "\U0001F468‍\U0001F469‍\U0001F467"
	out := ResolveEmoji(context.Background(), []core.Segment{{Kind: core.SegmentText, Text: text}}, nil, nil)
	if len(out) != 1 || out[0].Kind != core.SegmentEmote {
		t.Fatalf("ZWJ sequence split: %+v", out)
	}
	if out[0].Emote.URL != twemojiBase+"1f468-200d-1f469-200d-1f467.svg" {
		t.Fatalf("url = %s", out[0].Emote.URL)
	}
}

func TestTwemojiURLDropsVariationSelector(t *testing.T) {
	if got := twemojiURL("❤️"); got != twemojiBase+"2764.svg" {
		t.Fatalf("url = %s", got)
	}
}
