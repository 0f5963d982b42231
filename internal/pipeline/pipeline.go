// Package pipeline consumes adapter events, applies visibility filters
// and type classification, maintains the bounded message buffer plus
// per-platform room state, schedules asynchronous enrichment, and fans
// finished updates out to overlay subscribers.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/you/chatglass/internal/buffer"
	"github.com/you/chatglass/internal/core"
	"github.com/you/chatglass/internal/enrich"
)

// UpdateKind labels fan-out updates for the renderer.
type UpdateKind string

const (
	UpdateMessage   UpdateKind = "message"
	UpdatePatch     UpdateKind = "patch"
	UpdateDelete    UpdateKind = "delete"
	UpdateClear     UpdateKind = "clear"
	UpdateRoomState UpdateKind = "roomstate"
	UpdateStatus    UpdateKind = "status"
)

// Update is one renderer-facing delta. Exactly the fields relevant to
// Kind are populated.
type Update struct {
	Kind       UpdateKind        `json:"kind"`
	Message    *core.ChatMessage `json:"message,omitempty"`
	MessageIDs []string          `json:"messageIds,omitempty"`
	Room       *core.RoomState   `json:"roomState,omitempty"`
	Platform   core.Platform     `json:"platform,omitempty"`
	Connected  *bool             `json:"connected,omitempty"`
	Sound      bool              `json:"sound,omitempty"`
	ClearAt    int64             `json:"clearAt,omitempty"` // ms watermark for clear updates
}

// Options configures a Pipeline.
type Options struct {
	MaxMessages int
	Filter      FilterOptions
	Blocklist   *Blocklist
	Resolvers   []enrich.Resolver
	Sound       bool
}

// subscriber channels are buffered; a full channel drops the update
// rather than stalling ingestion.
const subscriberBuffer = 64

// soundFreshness bounds how stale a message may be and still ring the
// notification sound. Replayed backlog must stay silent.
const soundFreshness = 5 * time.Second

type Pipeline struct {
	buf    *buffer.Buffer
	filter *filter

	resolvers []enrich.Resolver

	soundEnabled bool
	sound        *rate.Limiter

	mu          sync.RWMutex
	rooms       map[core.Platform]*core.RoomState
	connected   map[core.Platform]bool
	subscribers map[int]chan Update
	nextSub     int

	wg sync.WaitGroup

	now func() time.Time // test hook
}

func New(opts Options) *Pipeline {
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = buffer.DefaultMax
	}
	bl := opts.Blocklist
	if bl == nil {
		bl = NewBlocklist()
	}
	return &Pipeline{
		buf:          buffer.New(opts.MaxMessages),
		filter:       newFilter(opts.Filter, bl),
		resolvers:    opts.Resolvers,
		soundEnabled: opts.Sound,
		sound:        rate.NewLimiter(rate.Every(150*time.Millisecond), 1),
		rooms:        make(map[core.Platform]*core.RoomState),
		connected:    make(map[core.Platform]bool),
		subscribers:  make(map[int]chan Update),
		now:          time.Now,
	}
}

// Attach consumes events from one adapter until the channel closes or
// ctx is canceled.
func (p *Pipeline) Attach(ctx context.Context, events <-chan core.Event) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				p.handle(ctx, ev)
			}
		}
	}()
}

// Wait blocks until every attached adapter drain loop has returned.
func (p *Pipeline) Wait() { p.wg.Wait() }

func (p *Pipeline) handle(ctx context.Context, ev core.Event) {
	switch ev.Kind {
	case core.EventMessage:
		if ev.Message != nil {
			p.handleMessage(ctx, *ev.Message)
		}
	case core.EventRoomState:
		if ev.Room != nil {
			p.handleRoomState(ev.Platform, *ev.Room)
		}
	case core.EventModAction:
		if ev.Mod != nil {
			p.handleModAction(ev.Platform, *ev.Mod)
		}
	case core.EventClearChat:
		p.handleClearChat(ev.Platform)
	case core.EventStatus:
		p.handleStatus(ev.Platform, ev.Connected)
	}
}

func (p *Pipeline) handleMessage(ctx context.Context, msg core.ChatMessage) {
	if reason, dropped := p.filter.drop(msg); dropped {
		messagesFiltered.WithLabelValues(string(msg.Platform), reason).Inc()
		return
	}
	if msg.Timestamp < p.buf.Watermark() {
		messagesFiltered.WithLabelValues(string(msg.Platform), "cleared").Inc()
		return
	}

	msg.Type = classify(msg)
	if msg.Color == "" {
		msg.Color = core.FallbackColor(msg.Username)
	}

	p.buf.Append(msg)
	messagesIngested.WithLabelValues(string(msg.Platform)).Inc()

	m := msg
	p.broadcast(Update{
		Kind:    UpdateMessage,
		Message: &m,
		Sound:   p.allowSound(msg),
	})

	if len(p.resolvers) > 0 {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.enrichMessage(ctx, msg)
		}()
	}
}

// classify folds adapter hints into the final message type. Notice types
// set by adapters (subs, raids, announcements, system) pass through
// untouched; plain chat is ranked reply > cheer > highlighted >
// first-message > action.
func classify(msg core.ChatMessage) core.MessageType {
	if msg.Type != "" && msg.Type != core.TypeChat {
		return msg.Type
	}
	switch {
	case msg.Reply != nil:
		return core.TypeReply
	case msg.Bits > 0:
		return core.TypeCheer
	case msg.Highlighted:
		return core.TypeHighlighted
	case msg.First:
		return core.TypeFirstMessage
	case msg.Action:
		return core.TypeAction
	default:
		return core.TypeChat
	}
}

// allowSound rings at most once per 150ms, and never for messages whose
// platform timestamp is more than 5s from the wall clock.
func (p *Pipeline) allowSound(msg core.ChatMessage) bool {
	if !p.soundEnabled {
		return false
	}
	age := p.now().Sub(time.UnixMilli(msg.Timestamp))
	if age < -soundFreshness || age > soundFreshness {
		return false
	}
	return p.sound.Allow()
}

// enrichMessage runs every resolver for one message and patches the
// buffered copy in place. A message evicted before a resolver finishes
// is left alone.
func (p *Pipeline) enrichMessage(ctx context.Context, msg core.ChatMessage) {
	for _, r := range p.resolvers {
		patch, ok := r.Resolve(ctx, msg)
		if !ok {
			enrichMisses.WithLabelValues(r.Name()).Inc()
			continue
		}
		enrichPatches.WithLabelValues(r.Name()).Inc()

		var patched *core.ChatMessage
		applied := p.buf.Patch(msg.ID, func(m *core.ChatMessage) {
			patch(m)
			clone := *m
			patched = &clone
		})
		if !applied {
			return
		}
		p.broadcast(Update{Kind: UpdatePatch, Message: patched})
	}
}

func (p *Pipeline) handleModAction(platform core.Platform, act core.ModAction) {
	modActions.WithLabelValues(string(platform), string(act.Kind)).Inc()

	var ids []string
	switch act.Kind {
	case core.ModDelete:
		if act.TargetMsgID == "" {
			return
		}
		p.buf.MarkDeleted(act.TargetMsgID)
		ids = []string{act.TargetMsgID}
	case core.ModTimeout, core.ModBan:
		if act.TargetUsername == "" {
			return
		}
		ids = p.buf.MarkDeletedByUser(act.TargetUsername)
	}
	if len(ids) == 0 {
		return
	}
	p.broadcast(Update{Kind: UpdateDelete, Platform: platform, MessageIDs: ids})
}

func (p *Pipeline) handleClearChat(platform core.Platform) {
	wm := p.now().UnixMilli()
	p.buf.Clear(wm)
	modActions.WithLabelValues(string(platform), "clear").Inc()
	p.broadcast(Update{Kind: UpdateClear, Platform: platform, ClearAt: wm})
}

func (p *Pipeline) handleRoomState(platform core.Platform, patch core.RoomStatePatch) {
	p.mu.Lock()
	state, ok := p.rooms[platform]
	if !ok {
		state = &core.RoomState{FollowersOnlyMinutes: -1}
		p.rooms[platform] = state
	}
	patch.Apply(state)
	snapshot := *state
	p.mu.Unlock()

	p.broadcast(Update{Kind: UpdateRoomState, Platform: platform, Room: &snapshot})
}

func (p *Pipeline) handleStatus(platform core.Platform, connected bool) {
	p.mu.Lock()
	p.connected[platform] = connected
	p.mu.Unlock()

	if connected {
		platformConnected.WithLabelValues(string(platform)).Set(1)
	} else {
		platformConnected.WithLabelValues(string(platform)).Set(0)
	}
	slog.Info("platform status", "platform", platform, "connected", connected)

	c := connected
	p.broadcast(Update{Kind: UpdateStatus, Platform: platform, Connected: &c})
}

// Subscribe registers a renderer update stream. The returned cancel
// function must be called when the consumer goes away.
func (p *Pipeline) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, subscriberBuffer)
	p.mu.Lock()
	id := p.nextSub
	p.nextSub++
	p.subscribers[id] = ch
	p.mu.Unlock()

	cancel := func() {
		p.mu.Lock()
		if _, ok := p.subscribers[id]; ok {
			delete(p.subscribers, id)
			close(ch)
		}
		p.mu.Unlock()
	}
	return ch, cancel
}

func (p *Pipeline) broadcast(u Update) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, ch := range p.subscribers {
		select {
		case ch <- u:
		default:
			subscriberDrops.Inc()
		}
	}
}

// Snapshot returns the current buffered messages, oldest first.
func (p *Pipeline) Snapshot() []core.ChatMessage { return p.buf.Snapshot() }

// DeletedIDs returns the ids of moderated messages still in scope.
func (p *Pipeline) DeletedIDs() []string { return p.buf.DeletedIDs() }

// Watermark returns the current clear watermark in ms.
func (p *Pipeline) Watermark() int64 { return p.buf.Watermark() }

// RoomStates returns a copy of every platform's room state.
func (p *Pipeline) RoomStates() map[core.Platform]core.RoomState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[core.Platform]core.RoomState, len(p.rooms))
	for platform, state := range p.rooms {
		out[platform] = *state
	}
	return out
}

// Status returns per-platform connectivity.
func (p *Pipeline) Status() map[core.Platform]bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[core.Platform]bool, len(p.connected))
	for platform, up := range p.connected {
		out[platform] = up
	}
	return out
}
