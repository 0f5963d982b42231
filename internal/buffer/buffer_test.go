package buffer

import (
	"fmt"
	"testing"

	"github.com/you/chatglass/internal/core"
)

func msg(id string, ts int64) core.ChatMessage {
	return core.ChatMessage{ID: id, Username: "u-" + id, Timestamp: ts}
}

func TestAppendBound(t *testing.T) {
	b := New(3)
	for i := 0; i < 10; i++ {
		b.Append(msg(fmt.Sprintf("m%d", i), int64(i)))
		if b.Len() > 3 {
			t.Fatalf("bound violated at append %d: len=%d", i, b.Len())
		}
	}
	snap := b.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(snap))
	}
	for i, want := range []string{"m7", "m8", "m9"} {
		if snap[i].ID != want {
			t.Fatalf("position %d: got %s want %s", i, snap[i].ID, want)
		}
	}
}

func TestSnapshotImmutableAcrossAppend(t *testing.T) {
	b := New(5)
	b.Append(msg("a", 1))
	before := b.Snapshot()
	b.Append(msg("b", 2))
	if len(before) != 1 || before[0].ID != "a" {
		t.Fatalf("earlier snapshot mutated: %+v", before)
	}
}

func TestPatchCopyOnWrite(t *testing.T) {
	b := New(5)
	b.Append(msg("a", 1))
	before := b.Snapshot()

	if !b.Patch("a", func(m *core.ChatMessage) { m.Pronouns = "they/them" }) {
		t.Fatal("patch reported miss for present id")
	}
	if before[0].Pronouns != "" {
		t.Fatal("patch mutated a previously returned snapshot")
	}
	after := b.Snapshot()
	if after[0].Pronouns != "they/them" {
		t.Fatalf("patch not applied: %+v", after[0])
	}
	// base fields untouched
	if after[0].ID != "a" || after[0].Username != "u-a" {
		t.Fatalf("patch disturbed base fields: %+v", after[0])
	}
}

func TestPatchEvictedIsNoop(t *testing.T) {
	b := New(1)
	b.Append(msg("a", 1))
	b.Append(msg("b", 2)) // evicts a
	if b.Patch("a", func(m *core.ChatMessage) { m.Pronouns = "x" }) {
		t.Fatal("patch matched an evicted id")
	}
}

func TestClearSetsWatermark(t *testing.T) {
	b := New(5)
	b.Append(msg("a", 100))
	b.Clear(500)
	if b.Len() != 0 {
		t.Fatalf("clear left %d messages", b.Len())
	}
	if b.Watermark() != 500 {
		t.Fatalf("watermark = %d, want 500", b.Watermark())
	}
	// a later clear with an older timestamp never moves the watermark back
	b.Clear(400)
	if b.Watermark() != 500 {
		t.Fatalf("watermark regressed to %d", b.Watermark())
	}
}

func TestMarkDeletedByUser(t *testing.T) {
	b := New(5)
	b.Append(core.ChatMessage{ID: "1", Username: "Alice"})
	b.Append(core.ChatMessage{ID: "2", Username: "bob"})
	b.Append(core.ChatMessage{ID: "3", Username: "alice"})

	marked := b.MarkDeletedByUser("ALICE")
	if len(marked) != 2 {
		t.Fatalf("expected 2 marked, got %v", marked)
	}
	if b.Len() != 3 {
		t.Fatal("mod action must not remove messages")
	}
	if len(b.DeletedIDs()) != 2 {
		t.Fatalf("deleted set = %v", b.DeletedIDs())
	}
}

func TestMarkDeletedByUserUnicodeFold(t *testing.T) {
	b := New(5)
	b.Append(core.ChatMessage{ID: "1", Username: "señorita"})

	if marked := b.MarkDeletedByUser("SEÑORITA"); len(marked) != 1 {
		t.Fatalf("non-ASCII username not folded: %v", marked)
	}
}
