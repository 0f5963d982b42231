// Package emotes builds and queries the unified emote lookup structure.
// Adapters install whole source lists as they load; lookups see each
// source atomically.
package emotes

import (
	"sync"

	"github.com/you/chatglass/internal/core"
)

// SourceID names one of the ordered emote collections.
type SourceID int

const (
	SourceChannelSevenTV SourceID = iota
	SourceChannelBTTV
	SourceChannelFFZ
	SourceGlobalSevenTV
	SourceGlobalBTTV
	SourceGlobalFFZ
	SourceKickSevenTV
	SourceYouTubeSevenTV
	sourceCount
)

// Lookup priority per platform. First match wins; exact string equality
// only, no fuzzy matching.
var (
	twitchPriority = []SourceID{
		SourceChannelSevenTV, SourceChannelBTTV, SourceChannelFFZ,
		SourceGlobalSevenTV, SourceGlobalBTTV, SourceGlobalFFZ,
	}
	kickPriority    = []SourceID{SourceKickSevenTV, SourceGlobalSevenTV}
	youtubePriority = []SourceID{SourceYouTubeSevenTV, SourceGlobalSevenTV}
)

// zeroWidthCodes is the fixed set of overlay emotes that render on top of
// the preceding emote.
var zeroWidthCodes = map[string]struct{}{
	"SoSnowy": {}, "IceCold": {}, "SantaHat": {}, "TopHat": {},
	"ReinDeer": {}, "CandyCane": {}, "cvMask": {}, "cvHazmat": {},
}

// IsZeroWidthCode reports membership in the fixed overlay-emote set.
func IsZeroWidthCode(code string) bool {
	_, ok := zeroWidthCodes[code]
	return ok
}

// Index maps emote codes to images across the priority-ordered sources.
// Sources load asynchronously during adapter bootstrap, so access is
// guarded.
type Index struct {
	mu      sync.RWMutex
	sources [sourceCount]map[string]core.EmoteRef
}

// NewIndex returns an empty index; populate it with SetSource before use.
func NewIndex() *Index {
	return &Index{}
}

// SetSource installs the emote list for one collection, replacing any
// previous contents.
func (ix *Index) SetSource(id SourceID, list []core.EmoteRef) {
	if id < 0 || id >= sourceCount {
		return
	}
	m := make(map[string]core.EmoteRef, len(list))
	for _, e := range list {
		if e.Name == "" || e.URL == "" {
			continue
		}
		if IsZeroWidthCode(e.Name) {
			e.ZeroWidth = true
		}
		if _, dup := m[e.Name]; dup {
			continue // first entry wins within a source
		}
		m[e.Name] = e
	}
	ix.mu.Lock()
	ix.sources[id] = m
	ix.mu.Unlock()
}

// Resolve returns the first match for code across the platform's source
// order, deterministically.
func (ix *Index) Resolve(code string, platform core.Platform) (core.EmoteRef, bool) {
	if ix == nil || code == "" {
		return core.EmoteRef{}, false
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	for _, id := range priorityFor(platform) {
		if src := ix.sources[id]; src != nil {
			if e, ok := src[code]; ok {
				return e, true
			}
		}
	}
	return core.EmoteRef{}, false
}

func priorityFor(platform core.Platform) []SourceID {
	switch platform {
	case core.PlatformKick:
		return kickPriority
	case core.PlatformYouTube:
		return youtubePriority
	default:
		return twitchPriority
	}
}

// SourceName returns a short label for logging.
func SourceName(id SourceID) string {
	switch id {
	case SourceChannelSevenTV:
		return "channel-7tv"
	case SourceChannelBTTV:
		return "channel-bttv"
	case SourceChannelFFZ:
		return "channel-ffz"
	case SourceGlobalSevenTV:
		return "global-7tv"
	case SourceGlobalBTTV:
		return "global-bttv"
	case SourceGlobalFFZ:
		return "global-ffz"
	case SourceKickSevenTV:
		return "kick-7tv"
	case SourceYouTubeSevenTV:
		return "youtube-7tv"
	}
	return "unknown"
}
