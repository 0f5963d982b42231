package parse

import (
	"strconv"
	"strings"

	"github.com/you/chatglass/internal/core"
)

// cheerPrefixes is the fixed set of bits prefixes recognized on the
// primary platform. Matching is case-insensitive on the prefix; the
// remainder must be all digits.
var cheerPrefixes = []string{
	"cheer",
	"biblethump",
	"cheerwhal",
	"corgo",
	"uni",
	"showlove",
	"party",
	"seemsgood",
	"pride",
	"kappa",
	"frankerz",
	"heyguys",
	"dansgame",
	"elegiggle",
	"trihard",
	"kreygasm",
	"4head",
	"swiftrage",
	"notlikethis",
	"failfish",
	"vohiyo",
	"pjsalt",
	"mrdestructoid",
	"bday",
	"ripcheer",
	"shamrock",
}

// Bits tier colors; the highest threshold met wins.
var cheerTiers = []struct {
	min   int
	color string
	level string
}{
	{10000, "#f43021", "10000"},
	{5000, "#0099fe", "5000"},
	{1000, "#1db2a5", "1000"},
	{100, "#9c3ee8", "100"},
	{1, "#979797", "1"},
}

func cheerTier(amount int) (color, level string) {
	for _, tier := range cheerTiers {
		if amount >= tier.min {
			return tier.color, tier.level
		}
	}
	return "", ""
}

// parseCheer recognizes tokens of the form <prefix><digits>.
func parseCheer(token string) (*core.CheerRef, bool) {
	lower := strings.ToLower(token)
	for _, prefix := range cheerPrefixes {
		if len(lower) <= len(prefix) || lower[:len(prefix)] != prefix {
			continue
		}
		digits := lower[len(prefix):]
		if !allDigits(digits) {
			continue
		}
		amount, err := strconv.Atoi(digits)
		if err != nil || amount <= 0 {
			continue
		}
		color, level := cheerTier(amount)
		return &core.CheerRef{
			Prefix:  token[:len(prefix)],
			Amount:  amount,
			Color:   color,
			IconURL: cheermoteIconURL(prefix, level),
		}, true
	}
	return nil, false
}

func cheermoteIconURL(prefix, level string) string {
	return "https://d3aqoihi2n8ty8.cloudfront.net/actions/" + prefix + "/dark/animated/" + level + "/2.gif"
}

// allDigits rejects anything Atoi would accept beyond plain digits,
// notably a leading sign.
func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
