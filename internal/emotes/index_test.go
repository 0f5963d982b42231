package emotes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/you/chatglass/internal/core"
)

func ref(name, provider string) core.EmoteRef {
	return core.EmoteRef{Name: name, URL: "https://img/" + provider + "/" + name, Provider: provider}
}

func TestResolvePriorityOrder(t *testing.T) {
	// The same code present in every source must always resolve to the
	// highest-priority list, regardless of insertion order.
	ix := NewIndex()
	ix.SetSource(SourceGlobalFFZ, []core.EmoteRef{ref("KEKW", "ffz")})
	ix.SetSource(SourceGlobalBTTV, []core.EmoteRef{ref("KEKW", "bttv")})
	ix.SetSource(SourceGlobalSevenTV, []core.EmoteRef{ref("KEKW", "7tv-global")})
	ix.SetSource(SourceChannelFFZ, []core.EmoteRef{ref("KEKW", "ffz-ch")})
	ix.SetSource(SourceChannelBTTV, []core.EmoteRef{ref("KEKW", "bttv-ch")})
	ix.SetSource(SourceChannelSevenTV, []core.EmoteRef{ref("KEKW", "7tv-ch")})

	got, ok := ix.Resolve("KEKW", core.PlatformTwitch)
	if !ok || got.Provider != "7tv-ch" {
		t.Fatalf("twitch priority: got %+v ok=%v", got, ok)
	}

	ix.SetSource(SourceChannelSevenTV, nil)
	got, _ = ix.Resolve("KEKW", core.PlatformTwitch)
	if got.Provider != "bttv-ch" {
		t.Fatalf("after removing channel-7tv: got %+v", got)
	}
}

func TestResolveKickAndYouTubeScopes(t *testing.T) {
	ix := NewIndex()
	ix.SetSource(SourceGlobalSevenTV, []core.EmoteRef{ref("catJAM", "7tv-global")})
	ix.SetSource(SourceKickSevenTV, []core.EmoteRef{ref("catJAM", "7tv-kick")})
	ix.SetSource(SourceGlobalBTTV, []core.EmoteRef{ref("monkaS", "bttv")})

	if got, _ := ix.Resolve("catJAM", core.PlatformKick); got.Provider != "7tv-kick" {
		t.Fatalf("kick channel source should win: %+v", got)
	}
	// BTTV is not applicable outside the primary platform.
	if _, ok := ix.Resolve("monkaS", core.PlatformKick); ok {
		t.Fatal("kick lookup must not consult BTTV")
	}
	if got, ok := ix.Resolve("catJAM", core.PlatformYouTube); !ok || got.Provider != "7tv-global" {
		t.Fatalf("youtube falls back to global 7tv: %+v ok=%v", got, ok)
	}
}

func TestResolveExactMatchOnly(t *testing.T) {
	ix := NewIndex()
	ix.SetSource(SourceGlobalSevenTV, []core.EmoteRef{ref("KEKW", "7tv")})
	if _, ok := ix.Resolve("kekw", core.PlatformTwitch); ok {
		t.Fatal("lookup must be case-sensitive exact equality")
	}
}

func TestZeroWidthFlagging(t *testing.T) {
	ix := NewIndex()
	ix.SetSource(SourceGlobalBTTV, []core.EmoteRef{ref("SoSnowy", "bttv")})
	got, ok := ix.Resolve("SoSnowy", core.PlatformTwitch)
	if !ok || !got.ZeroWidth {
		t.Fatalf("known overlay code not flagged zero-width: %+v", got)
	}
}

func TestSevenTVFetchAndConvert(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/emote-sets/global" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"emotes": []map[string]any{
				{
					"name":  "FloatingHat",
					"flags": 256,
					"data": map[string]any{
						"host": map[string]any{
							"url": "//cdn.7tv.app/emote/abc",
						},
					},
				},
			},
		})
	}))
	defer srv.Close()

	old := sevenTVBaseURL
	sevenTVBaseURL = srv.URL
	defer func() { sevenTVBaseURL = old }()

	f := &Fetcher{HTTP: srv.Client()}
	list, err := f.SevenTVGlobal(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 emote, got %d", len(list))
	}
	e := list[0]
	if e.URL != "https://cdn.7tv.app/emote/abc/2x.webp" {
		t.Fatalf("bad url: %s", e.URL)
	}
	if !e.ZeroWidth {
		t.Fatal("7tv zero-width flag bit not honored")
	}
}
