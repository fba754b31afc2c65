// Package command parses inbound transport messages into user commands and
// turns them into task operations and reply texts.
package command

import (
	"regexp"
	"strconv"
	"strings"
)

// Kind identifies a user command.
type Kind string

// Supported commands.
const (
	KindHelp    Kind = "help"
	KindList    Kind = "list"
	KindDone    Kind = "done"
	KindExplain Kind = "explain"
	KindNudge   Kind = "nudge"
	KindSnooze  Kind = "snooze"
	KindConfig  Kind = "config"
)

var (
	helpRe    = regexp.MustCompile(`(?i)^help$`)
	listRe    = regexp.MustCompile(`(?i)^list$`)
	doneRe    = regexp.MustCompile(`(?i)^done:\s*(\d+)\s*$`)
	explainRe = regexp.MustCompile(`(?i)^explain:\s*(\d+)\s*$`)
	nudgeRe   = regexp.MustCompile(`(?is)^nudge:\s+(.+)$`)
	snoozeRe  = regexp.MustCompile(`(?is)^snooze:\s*(\d+)\s+(.+)$`)
	configRe  = regexp.MustCompile(`(?is)^config:\s+(.+)$`)
)

// Command is a parsed message. TaskID is zero when the command carries no id
// or the id is not a valid positive integer.
type Command struct {
	Kind   Kind
	TaskID int64
	Text   string
}

// Parse matches text against the command grammar. It reports false for
// messages that are not commands.
func Parse(text string) (Command, bool) {
	content := strings.TrimSpace(text)
	if content == "" {
		return Command{}, false
	}

	switch {
	case helpRe.MatchString(content):
		return Command{Kind: KindHelp}, true
	case listRe.MatchString(content):
		return Command{Kind: KindList}, true
	}

	if m := doneRe.FindStringSubmatch(content); m != nil {
		return Command{Kind: KindDone, TaskID: parseID(m[1])}, true
	}
	if m := explainRe.FindStringSubmatch(content); m != nil {
		return Command{Kind: KindExplain, TaskID: parseID(m[1])}, true
	}
	if m := nudgeRe.FindStringSubmatch(content); m != nil {
		return Command{Kind: KindNudge, Text: strings.TrimSpace(m[1])}, true
	}
	if m := snoozeRe.FindStringSubmatch(content); m != nil {
		return Command{Kind: KindSnooze, TaskID: parseID(m[1]), Text: strings.TrimSpace(m[2])}, true
	}
	if m := configRe.FindStringSubmatch(content); m != nil {
		return Command{Kind: KindConfig, Text: strings.TrimSpace(m[1])}, true
	}
	return Command{}, false
}

func parseID(s string) int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0
	}
	return id
}
