package emotes

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

// Provider endpoints. Package-level so tests can point them at a fake.
var (
	sevenTVBaseURL = "https://7tv.io/v3"
	bttvBaseURL    = "https://api.betterttv.net/3"
	ffzBaseURL     = "https://api.frankerfacez.com/v1"
)

const (
	providerSevenTV = "7tv"
	providerBTTV    = "bttv"
	providerFFZ     = "ffz"

	// 7TV emote flag bit for zero-width emotes.
	sevenTVFlagZeroWidth = 1 << 8
)

// Fetcher loads the per-provider emote lists used to build an Index.
type Fetcher struct {
	HTTP *http.Client
}

func (f *Fetcher) client() *http.Client {
	if f != nil && f.HTTP != nil {
		return f.HTTP
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func (f *Fetcher) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	resp, err := f.client().Do(req)
	if err != nil {
		return errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}

type sevenTVEmote struct {
	Name  string `json:"name"`
	Flags int    `json:"flags"`
	Data  struct {
		Flags int `json:"flags"`
		Host  struct {
			URL   string `json:"url"`
			Files []struct {
				Name   string `json:"name"`
				Format string `json:"format"`
			} `json:"files"`
		} `json:"host"`
	} `json:"data"`
}

type sevenTVEmoteSet struct {
	Emotes []sevenTVEmote `json:"emotes"`
}

func convertSevenTV(list []sevenTVEmote) []core.EmoteRef {
	out := make([]core.EmoteRef, 0, len(list))
	for _, e := range list {
		host := e.Data.Host.URL
		if host == "" || e.Name == "" {
			continue
		}
		// Host URLs come protocol-relative.
		url := "https:" + host + "/2x.webp"
		out = append(out, core.EmoteRef{
			Name:      e.Name,
			URL:       url,
			Provider:  providerSevenTV,
			ZeroWidth: e.Flags&sevenTVFlagZeroWidth != 0 || e.Data.Flags&sevenTVFlagZeroWidth != 0,
		})
	}
	return out
}

// SevenTVGlobal fetches the global 7TV emote set.
func (f *Fetcher) SevenTVGlobal(ctx context.Context) ([]core.EmoteRef, error) {
	var set sevenTVEmoteSet
	if err := f.getJSON(ctx, sevenTVBaseURL+"/emote-sets/global", &set); err != nil {
		return nil, errors.Wrap(err, "7tv global")
	}
	return convertSevenTV(set.Emotes), nil
}

// SevenTVChannel fetches the active 7TV emote set for a channel on the
// given connected platform ("twitch", "kick", "youtube").
func (f *Fetcher) SevenTVChannel(ctx context.Context, platform, channelID string) ([]core.EmoteRef, error) {
	var payload struct {
		EmoteSet sevenTVEmoteSet `json:"emote_set"`
	}
	url := fmt.Sprintf("%s/users/%s/%s", sevenTVBaseURL, platform, channelID)
	if err := f.getJSON(ctx, url, &payload); err != nil {
		return nil, errors.Wrapf(err, "7tv channel %s/%s", platform, channelID)
	}
	return convertSevenTV(payload.EmoteSet.Emotes), nil
}

type bttvEmote struct {
	ID   string `json:"id"`
	Code string `json:"code"`
}

func convertBTTV(list []bttvEmote) []core.EmoteRef {
	out := make([]core.EmoteRef, 0, len(list))
	for _, e := range list {
		if e.ID == "" || e.Code == "" {
			continue
		}
		out = append(out, core.EmoteRef{
			Name:     e.Code,
			URL:      "https://cdn.betterttv.net/emote/" + e.ID + "/2x",
			Provider: providerBTTV,
		})
	}
	return out
}

// BTTVGlobal fetches the global BTTV emote list.
func (f *Fetcher) BTTVGlobal(ctx context.Context) ([]core.EmoteRef, error) {
	var list []bttvEmote
	if err := f.getJSON(ctx, bttvBaseURL+"/cached/emotes/global", &list); err != nil {
		return nil, errors.Wrap(err, "bttv global")
	}
	return convertBTTV(list), nil
}

// BTTVChannel fetches channel + shared BTTV emotes by Twitch user id.
func (f *Fetcher) BTTVChannel(ctx context.Context, twitchID string) ([]core.EmoteRef, error) {
	var payload struct {
		ChannelEmotes []bttvEmote `json:"channelEmotes"`
		SharedEmotes  []bttvEmote `json:"sharedEmotes"`
	}
	url := bttvBaseURL + "/cached/users/twitch/" + twitchID
	if err := f.getJSON(ctx, url, &payload); err != nil {
		return nil, errors.Wrapf(err, "bttv channel %s", twitchID)
	}
	return convertBTTV(append(payload.ChannelEmotes, payload.SharedEmotes...)), nil
}

type ffzPayload struct {
	Sets map[string]struct {
		Emoticons []struct {
			Name string            `json:"name"`
			URLs map[string]string `json:"urls"`
		} `json:"emoticons"`
	} `json:"sets"`
}

func convertFFZ(payload ffzPayload) []core.EmoteRef {
	var out []core.EmoteRef
	for _, set := range payload.Sets {
		for _, e := range set.Emoticons {
			url := e.URLs["2"]
			if url == "" {
				url = e.URLs["1"]
			}
			if e.Name == "" || url == "" {
				continue
			}
			out = append(out, core.EmoteRef{Name: e.Name, URL: url, Provider: providerFFZ})
		}
	}
	return out
}

// FFZGlobal fetches the global FrankerFaceZ emote sets.
func (f *Fetcher) FFZGlobal(ctx context.Context) ([]core.EmoteRef, error) {
	var payload ffzPayload
	if err := f.getJSON(ctx, ffzBaseURL+"/set/global", &payload); err != nil {
		return nil, errors.Wrap(err, "ffz global")
	}
	return convertFFZ(payload), nil
}

// FFZRoom fetches the FrankerFaceZ room sets for a Twitch login.
func (f *Fetcher) FFZRoom(ctx context.Context, login string) ([]core.EmoteRef, error) {
	var payload ffzPayload
	if err := f.getJSON(ctx, ffzBaseURL+"/room/"+login, &payload); err != nil {
		return nil, errors.Wrapf(err, "ffz room %s", login)
	}
	return convertFFZ(payload), nil
}
