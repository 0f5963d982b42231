package core

import (
	"strings"
	"testing"
)

func TestFallbackColorStable(t *testing.T) {
	a := FallbackColor("SomeUser")
	b := FallbackColor("someuser")
	c := FallbackColor(" someuser ")
	if a != b || b != c {
		t.Fatalf("expected case/space-insensitive stability, got %q %q %q", a, b, c)
	}
	if !strings.HasPrefix(a, "hsl(") {
		t.Fatalf("expected hsl color, got %q", a)
	}
}

func TestFallbackColorDiffers(t *testing.T) {
	if FallbackColor("alice") == FallbackColor("bob") {
		t.Fatal("expected different hues for different names")
	}
}

func TestAppendBadgeDedupe(t *testing.T) {
	msg := ChatMessage{}
	b := Badge{ID: "sub", Title: "Subscriber", URL: "https://x/1", Provider: "twitch"}
	msg.AppendBadge(b)
	msg.AppendBadge(b)
	msg.AppendBadge(Badge{ID: "sub", Title: "Subscriber", URL: "https://x/2", Provider: "twitch"})
	if len(msg.Badges) != 2 {
		t.Fatalf("expected 2 badges, got %d", len(msg.Badges))
	}
}

func TestRoomStatePatchApply(t *testing.T) {
	s := RoomState{FollowersOnlyMinutes: -1}
	slow := 30
	on := true
	RoomStatePatch{SlowSeconds: &slow, EmoteOnly: &on}.Apply(&s)
	if s.SlowSeconds != 30 || !s.EmoteOnly {
		t.Fatalf("patch not applied: %+v", s)
	}
	if s.FollowersOnlyMinutes != -1 {
		t.Fatalf("untouched field changed: %+v", s)
	}
}
