package pipeline

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// invalidNameChars are characters replaced in display names so the name is
// safe on common filesystems.
var invalidNameChars = regexp.MustCompile(`[<>:"/\\|?*]`)

var repeatedUnderscores = regexp.MustCompile(`_{2,}`)

// ParseInput splits a job input of the form "<url>" or "<url>|<display name>".
// The display name is cleaned; when absent, a timestamped default is
// generated with now.
func ParseInput(text string, now time.Time) (url, displayName string) {
	if before, after, found := strings.Cut(text, "|"); found {
		name := CleanDisplayName(after)
		if name == "" {
			name = defaultDisplayName(now)
		}
		return strings.TrimSpace(before), name
	}
	return strings.TrimSpace(text), defaultDisplayName(now)
}

// CleanDisplayName replaces filesystem-hostile characters with underscores
// and collapses the result. An unusable name comes back empty.
func CleanDisplayName(name string) string {
	cleaned := invalidNameChars.ReplaceAllString(strings.TrimSpace(name), "_")
	cleaned = repeatedUnderscores.ReplaceAllString(cleaned, "_")
	return strings.Trim(cleaned, "_ ")
}

func defaultDisplayName(now time.Time) string {
	return fmt.Sprintf("video_%s", now.Format("20060102_150405"))
}
