package pipeline

import (
	"bufio"
	"os"
	"strings"
	"sync"

	"github.com/you/chatglass/internal/core"
)

// knownBots are chat automation accounts hidden when bot filtering is on.
var knownBots = map[string]struct{}{
	"nightbot":       {},
	"streamelements": {},
	"streamlabs":     {},
	"moobot":         {},
	"fossabot":       {},
	"wizebot":        {},
	"botrix":         {},
	"sery_bot":       {},
	"commanderroot":  {},
	"soundalerts":    {},
	"pokemoncommunitygame": {},
}

// FilterOptions is the static visibility configuration. The blocklist is
// separate because it can reload at runtime.
type FilterOptions struct {
	HideBots     bool
	HideCommands bool
	ExtraBots    []string
}

// Blocklist is a mutable case-insensitive username set, reloadable from a
// file while the process runs.
type Blocklist struct {
	mu  sync.RWMutex
	set map[string]struct{}
}

func NewBlocklist(names ...string) *Blocklist {
	b := &Blocklist{set: make(map[string]struct{})}
	b.Add(names...)
	return b
}

func (b *Blocklist) Add(names ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n != "" {
			b.set[n] = struct{}{}
		}
	}
}

func (b *Blocklist) Contains(username string) bool {
	if b == nil {
		return false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.set[strings.ToLower(username)]
	return ok
}

// LoadFile replaces the set with the file's contents: one username per
// line, blank lines and #-comments skipped.
func (b *Blocklist) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	next := make(map[string]struct{})
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		next[strings.ToLower(line)] = struct{}{}
	}
	if err := sc.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	b.set = next
	b.mu.Unlock()
	return nil
}

func (b *Blocklist) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.set)
}

// filter reports whether msg should be dropped before buffering, and the
// reason label used for metrics.
type filter struct {
	opts      FilterOptions
	blocklist *Blocklist
	extraBots map[string]struct{}
}

func newFilter(opts FilterOptions, blocklist *Blocklist) *filter {
	extra := make(map[string]struct{}, len(opts.ExtraBots))
	for _, n := range opts.ExtraBots {
		n = strings.ToLower(strings.TrimSpace(n))
		if n != "" {
			extra[n] = struct{}{}
		}
	}
	return &filter{opts: opts, blocklist: blocklist, extraBots: extra}
}

func (f *filter) drop(msg core.ChatMessage) (string, bool) {
	login := strings.ToLower(msg.Username)
	if f.blocklist.Contains(login) {
		return "blocked", true
	}
	if f.opts.HideBots && f.isBot(login) {
		return "bot", true
	}
	if f.opts.HideCommands && strings.HasPrefix(msg.Content, "!") {
		return "command", true
	}
	return "", false
}

func (f *filter) isBot(login string) bool {
	if _, ok := knownBots[login]; ok {
		return true
	}
	_, ok := f.extraBots[login]
	return ok
}
