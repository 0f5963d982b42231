package pipeline

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBlocklistLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blocklist.txt")
	content := "# known trolls\nTrollOne\n\n  trolltwo  \n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	bl := NewBlocklist("stale_entry")
	if err := bl.LoadFile(path); err != nil {
		t.Fatal(err)
	}

	if !bl.Contains("trollone") || !bl.Contains("TROLLTWO") {
		t.Fatal("file entries missing")
	}
	if bl.Contains("stale_entry") {
		t.Fatal("LoadFile must replace the set, not merge")
	}
	if bl.Len() != 2 {
		t.Fatalf("len = %d", bl.Len())
	}
}

func TestBlocklistLoadFileMissing(t *testing.T) {
	bl := NewBlocklist("keep")
	if err := bl.LoadFile("/nonexistent/blocklist"); err == nil {
		t.Fatal("expected error")
	}
	if !bl.Contains("keep") {
		t.Fatal("failed load must leave the set untouched")
	}
}

func TestKnownBotMatching(t *testing.T) {
	f := newFilter(FilterOptions{HideBots: true, ExtraBots: []string{"HouseBot"}}, NewBlocklist())
	for _, login := range []string{"nightbot", "StreamElements", "housebot"} {
		if !f.isBot(toLower(login)) {
			t.Errorf("%s not recognized as bot", login)
		}
	}
	if f.isBot("alice") {
		t.Fatal("regular user flagged as bot")
	}
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c + 'a' - 'A'
		}
	}
	return string(b)
}
