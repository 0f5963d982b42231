// Package buffer owns the bounded, copy-on-write message list the overlay
// renders from. Every mutation replaces the whole snapshot, so a
// concurrent reader never observes a half-updated list.
package buffer

import (
	"strings"
	"sync"

	"github.com/you/chatglass/internal/core"
)

// Buffer is the single shared mutable resource of the pipeline. Eviction
// is strict FIFO on overflow; clear-chat empties the list and records a
// watermark timestamp so delayed historical fetches cannot resurrect
// pre-clear messages.
type Buffer struct {
	mu        sync.RWMutex
	max       int
	snapshot  []core.ChatMessage
	deleted   map[string]struct{}
	watermark int64 // ms since epoch; 0 = no clear yet
}

const DefaultMax = 50

func New(max int) *Buffer {
	if max <= 0 {
		max = DefaultMax
	}
	return &Buffer{max: max, deleted: make(map[string]struct{})}
}

// Append adds msg at the tail, evicting from the front until the bound
// holds. The stored snapshot is replaced wholesale.
func (b *Buffer) Append(msg core.ChatMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()

	next := make([]core.ChatMessage, 0, len(b.snapshot)+1)
	next = append(next, b.snapshot...)
	next = append(next, msg)
	if over := len(next) - b.max; over > 0 {
		next = next[over:]
	}
	b.snapshot = next
}

// Patch locates id and applies fn to a copy of that message, replacing
// the snapshot. A patch targeting an evicted id is a no-op, never an
// error; the return value reports whether anything changed.
func (b *Buffer) Patch(id string, fn func(*core.ChatMessage)) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.snapshot {
		if b.snapshot[i].ID != id {
			continue
		}
		next := make([]core.ChatMessage, len(b.snapshot))
		copy(next, b.snapshot)
		fn(&next[i])
		b.snapshot = next
		return true
	}
	return false
}

// Clear empties the buffer and establishes a new minimum-timestamp
// watermark. Items older than the watermark must not be re-admitted.
func (b *Buffer) Clear(watermarkMS int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snapshot = nil
	if watermarkMS > b.watermark {
		b.watermark = watermarkMS
	}
}

// Watermark returns the current clear-chat watermark in ms since epoch.
func (b *Buffer) Watermark() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.watermark
}

// Snapshot returns the current immutable message list. Callers must not
// mutate it; mutations always build a fresh slice.
func (b *Buffer) Snapshot() []core.ChatMessage {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snapshot
}

// Len returns the current number of buffered messages.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.snapshot)
}

// MarkDeleted records a moderated message id. The message stays in the
// buffer; the renderer grays it out.
func (b *Buffer) MarkDeleted(id string) {
	if id == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted[id] = struct{}{}
}

// MarkDeletedByUser records every buffered message id from username
// (case-insensitive) and returns the marked ids.
func (b *Buffer) MarkDeletedByUser(username string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var marked []string
	for i := range b.snapshot {
		if strings.EqualFold(b.snapshot[i].Username, username) {
			b.deleted[b.snapshot[i].ID] = struct{}{}
			marked = append(marked, b.snapshot[i].ID)
		}
	}
	return marked
}

// DeletedIDs returns a copy of the deleted-id set.
func (b *Buffer) DeletedIDs() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.deleted))
	for id := range b.deleted {
		out = append(out, id)
	}
	return out
}

// Contains reports whether id is currently buffered.
func (b *Buffer) Contains(id string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for i := range b.snapshot {
		if b.snapshot[i].ID == id {
			return true
		}
	}
	return false
}
