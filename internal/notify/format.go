package notify

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// maxKeywordsShown caps the shared keywords listed in a message.
const maxKeywordsShown = 8

// FormatScore renders a score in [0,1] as a whole percentage.
func FormatScore(score float64) string {
	return fmt.Sprintf("%d%%", int(math.Round(score*100)))
}

// Strength names the band a score falls in.
func Strength(score float64) string {
	switch {
	case score >= 0.9:
		return "very strong"
	case score >= 0.8:
		return "strong"
	case score >= 0.7:
		return "moderate"
	default:
		return "weak"
	}
}

// FormatKeywords renders keywords as inline code, eliding past maxKeywordsShown.
// Example: "`film`, `jazz` +3 more"
func FormatKeywords(keywords []string) string {
	if len(keywords) == 0 {
		return "None"
	}
	shown := keywords
	if len(shown) > maxKeywordsShown {
		shown = shown[:maxKeywordsShown]
	}
	parts := make([]string, len(shown))
	for i, k := range shown {
		parts[i] = "`" + k + "`"
	}
	out := strings.Join(parts, ", ")
	if extra := len(keywords) - len(shown); extra > 0 {
		out += fmt.Sprintf(" +%d more", extra)
	}
	return out
}

// TimeAgo returns a human-readable relative time string.
func TimeAgo(t time.Time) string {
	return FormatAge(time.Since(t))
}

// FormatAge renders an elapsed duration coarsely.
func FormatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		secs := int(d.Seconds())
		if secs <= 1 {
			return "just now"
		}
		return fmt.Sprintf("%d sec ago", secs)
	case d < time.Hour:
		return plural(int(d.Minutes()), "min")
	case d < 24*time.Hour:
		return plural(int(d.Hours()), "hour")
	default:
		return plural(int(d.Hours()/24), "day")
	}
}

func plural(n int, unit string) string {
	if n == 1 || unit == "min" {
		return fmt.Sprintf("%d %s ago", n, unit)
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}
