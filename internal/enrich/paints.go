package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/you/chatglass/internal/core"
)

var cosmeticsBaseURL = "https://7tv.io/v2"

// CosmeticsResolver resolves 7TV name paints and badge cosmetics. The
// catalog is one global document keyed by Twitch user id, refetched at
// most every 10 minutes.
type CosmeticsResolver struct {
	HTTP *http.Client

	catalog *Cache
}

func NewCosmeticsResolver() *CosmeticsResolver {
	return &CosmeticsResolver{
		HTTP:    &http.Client{Timeout: 10 * time.Second},
		catalog: NewCache(10 * time.Minute),
	}
}

func (r *CosmeticsResolver) Name() string { return "cosmetics" }

type cosmeticsCatalog struct {
	paints map[string]core.Paint // twitch user id -> paint
	badges map[string]core.Badge
}

func (r *CosmeticsResolver) Resolve(ctx context.Context, msg core.ChatMessage) (Patch, bool) {
	if msg.Platform != core.PlatformTwitch || msg.UserID == "" {
		return nil, false
	}
	v, ok := r.catalog.Do(ctx, "catalog", func(ctx context.Context) (any, bool) {
		cat, err := r.fetchCatalog(ctx)
		if err != nil {
			return nil, false
		}
		return cat, true
	})
	if !ok {
		return nil, false
	}
	cat := v.(*cosmeticsCatalog)

	paint, hasPaint := cat.paints[msg.UserID]
	badge, hasBadge := cat.badges[msg.UserID]
	if !hasPaint && !hasBadge {
		return nil, false
	}
	return func(m *core.ChatMessage) {
		if hasPaint {
			p := paint
			m.Paint = &p
		}
		if hasBadge {
			m.AppendBadge(badge)
		}
	}, true
}

type sevenTVCosmetics struct {
	Paints []struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Color *int64 `json:"color"`
		Stops []struct {
			At    float64 `json:"at"`
			Color int64   `json:"color"`
		} `json:"stops"`
		ImageURL string   `json:"image_url"`
		Users    []string `json:"users"`
	} `json:"paints"`
	Badges []struct {
		ID      string     `json:"id"`
		Tooltip string     `json:"tooltip"`
		URLs    [][]string `json:"urls"`
		Users   []string   `json:"users"`
	} `json:"badges"`
}

func (r *CosmeticsResolver) fetchCatalog(ctx context.Context) (*cosmeticsCatalog, error) {
	url := cosmeticsBaseURL + "/cosmetics?user_identifier=twitch_id"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	resp, err := r.HTTP.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "get cosmetics")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("get cosmetics: status %d", resp.StatusCode)
	}
	var raw sevenTVCosmetics
	if err := json.NewDecoder(io.LimitReader(resp.Body, 16<<20)).Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "decode cosmetics")
	}

	cat := &cosmeticsCatalog{
		paints: make(map[string]core.Paint),
		badges: make(map[string]core.Badge),
	}
	for _, p := range raw.Paints {
		paint := core.Paint{ID: p.ID, Name: p.Name, ImageURL: p.ImageURL}
		if p.Color != nil {
			paint.Color = rgbaHex(*p.Color)
		}
		for _, s := range p.Stops {
			paint.Stops = append(paint.Stops, core.PaintStop{At: s.At, Color: rgbaHex(s.Color)})
		}
		for _, uid := range p.Users {
			if _, taken := cat.paints[uid]; !taken {
				cat.paints[uid] = paint
			}
		}
	}
	for _, b := range raw.Badges {
		url := ""
		if n := len(b.URLs); n > 0 && len(b.URLs[n-1]) > 1 {
			url = b.URLs[n-1][1]
		}
		badge := core.Badge{ID: b.ID, Title: b.Tooltip, URL: url, Provider: "7tv"}
		for _, uid := range b.Users {
			if _, taken := cat.badges[uid]; !taken {
				cat.badges[uid] = badge
			}
		}
	}
	return cat, nil
}

// rgbaHex renders a packed RGBA int as a #rrggbb css color, dropping alpha.
func rgbaHex(c int64) string {
	return fmt.Sprintf("#%06x", uint32(c)>>8)
}
