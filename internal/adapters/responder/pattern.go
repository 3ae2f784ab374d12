// Package responder holds the on-device LocalResponder. The pattern
// responder is a deterministic rule table: the same prompt in the same
// session state always yields the same reply.
package responder

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/bnema/lock-runtime/internal/domain"
	"github.com/bnema/lock-runtime/internal/ports"
)

const maxEcho = 80

type rule struct {
	match   *regexp.Regexp
	replies []string
}

var rules = []rule{
	{
		match: regexp.MustCompile(`(?i)\b(summari[sz]e|tl;?dr|recap)\b`),
		replies: []string{
			"Local summary: the key point of %q is worth writing down before moving on.",
			"Local recap of %q: keep the first sentence, drop the rest.",
		},
	},
	{
		match: regexp.MustCompile(`(?i)\b(plan|next step|todo|schedule)\b`),
		replies: []string{
			"Pick the smallest next step in %q and do only that for the next 25 minutes.",
			"Break %q into three steps and start with the one you can finish now.",
		},
	},
	{
		match: regexp.MustCompile(`(?i)\b(stuck|blocked|distracted|tired)\b`),
		replies: []string{
			"You mentioned %q. Stand up, breathe for a minute, then reread your last note.",
			"About %q: write one sentence describing what is in the way.",
		},
	},
	{
		match: regexp.MustCompile(`\?\s*$`),
		replies: []string{
			"Answering %q offline: what would you try first if no one could help?",
			"Keeping %q local. Note what you already know and what is missing.",
		},
	},
}

var fallbackReplies = []string{
	"Noted locally: %q.",
	"Kept on device: %q. Carry on.",
}

var _ ports.LocalResponder = Pattern{}

type Pattern struct{}

func (Pattern) Reflect(ctx context.Context, prompt string, state domain.LockState) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	echo := clip(strings.Join(strings.Fields(prompt), " "))
	variant := int(state.Metrics.Prompts)
	for _, r := range rules {
		if r.match.MatchString(prompt) {
			return fmt.Sprintf(pick(r.replies, variant), echo), nil
		}
	}

	return fmt.Sprintf(pick(fallbackReplies, variant), echo), nil
}

func pick(replies []string, variant int) string {
	if variant < 0 {
		variant = -variant
	}
	return replies[variant%len(replies)]
}

func clip(text string) string {
	if utf8.RuneCountInString(text) <= maxEcho {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxEcho-1]) + "…"
}
