package core

import (
	"fmt"
	"hash/fnv"
	"strings"
)

// FallbackColor derives a stable CSS color from a username for platforms
// that do not supply one. Same name, same color, across sessions.
func FallbackColor(username string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.ToLower(strings.TrimSpace(username))))
	hue := h.Sum32() % 360
	return fmt.Sprintf("hsl(%d, 70%%, 60%%)", hue)
}
