package taskgraph

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	maxTitleLen    = 255
	maxMemoryLen   = 1200
	maxCategoryLen = 64
	untitled       = "Untitled task"
)

var (
	idTokenRe     = regexp.MustCompile(`(?i)\{\{\s*id\s*\}\}`)
	emptyParensRe = regexp.MustCompile(`\(\s*\)`)
	spaceRe       = regexp.MustCompile(`\s+`)
	doneHintRe    = regexp.MustCompile(`(?i)done:\s*\d+`)
	snoozeHintRe  = regexp.MustCompile(`(?i)snooze:\s*\d+`)
	boilerplateRe = regexp.MustCompile(`(?i)^(none|null|n/a|self[- ]?explanatory|self explanatory)$`)
	slugLikeRe    = regexp.MustCompile(`(?i)^[a-z0-9_-]+$`)
	nonSlugRe     = regexp.MustCompile(`[^a-z0-9]+`)
)

// ProvisionalTitle cleans a proposed title before the task id is known. The
// id token is removed so the stored row never carries it.
func ProvisionalTitle(raw string) string {
	s := idTokenRe.ReplaceAllString(raw, "")
	s = emptyParensRe.ReplaceAllString(s, "")
	return clampTitle(s)
}

// RenderTitle substitutes the id token in raw with id and normalizes spacing.
func RenderTitle(raw string, id int64) string {
	return clampTitle(idTokenRe.ReplaceAllString(raw, strconv.FormatInt(id, 10)))
}

func clampTitle(s string) string {
	s = strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
	if s == "" {
		return untitled
	}
	return truncateRunes(s, maxTitleLen)
}

// RenderReminder produces the final reminder text for task id. The result
// always references the id and always carries both reply hints.
func RenderReminder(raw string, id int64, title string) string {
	sid := strconv.FormatInt(id, 10)
	hint := "Reply: done: " + sid + " | snooze: " + sid + " 2h"

	base := idTokenRe.ReplaceAllString(strings.TrimSpace(raw), sid)
	if base == "" {
		return "Nudge [" + sid + "]: " + title + ". " + hint
	}
	if !strings.Contains(base, "["+sid+"]") && !strings.Contains(base, " "+sid) {
		base = "Nudge [" + sid + "]: " + base
	}
	if doneHintRe.MatchString(base) && snoozeHintRe.MatchString(base) {
		return base
	}
	return base + ". " + hint
}

// NormalizeMemory returns the context note to store, or "" when the input is
// empty, boilerplate, or a short slug rather than prose.
func NormalizeMemory(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" || boilerplateRe.MatchString(s) || LooksLikeSlug(s) {
		return ""
	}
	return truncateRunes(s, maxMemoryLen)
}

// LooksLikeSlug reports whether s is a single-line token of at most three
// words made of slug characters.
func LooksLikeSlug(s string) bool {
	if strings.Contains(s, "\n") {
		return false
	}
	return len(strings.Fields(s)) <= 3 && slugLikeRe.MatchString(s)
}

// NormalizeCategory slugifies raw: lowercase, runs of other characters
// collapsed to "-", trimmed, at most 64 bytes.
func NormalizeCategory(raw string) string {
	s := nonSlugRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(raw)), "-")
	s = strings.Trim(s, "-")
	if len(s) > maxCategoryLen {
		s = s[:maxCategoryLen]
	}
	return s
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
