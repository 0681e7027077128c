// Package ingest turns raw chat text into vote casts: alias and regex
// matching per edge, with numeric and positional fallbacks against the
// option ordering. It enforces the per-voter cooldown the vote
// coordinator deliberately does not.
package ingest

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/roach88/weave/internal/story"
)

// voteCommand matches "!vote 2" and "!v 2".
var voteCommand = regexp.MustCompile(`^!v(?:ote)?\s+(\d+)$`)

// hashNumber matches "#2".
var hashNumber = regexp.MustCompile(`^#(\d+)$`)

// bareNumber matches a lone "2".
var bareNumber = regexp.MustCompile(`^(\d+)$`)

// keycapDigits maps emoji keycaps ("2️⃣") onto their digit. Variation
// selector optional; some clients strip it.
var keycapDigits = regexp.MustCompile(`^([0-9])\x{FE0F}?\x{20E3}$`)

// Resolve maps free-form chat text onto one of the offered edges.
// Precedence: per-edge aliases (literal or /regex/), the edge label
// itself, then numeric forms ("!vote 2", "#2", "2️⃣", bare "2")
// interpreted as a 1-based position in the offered order. The second
// return is false when nothing matches.
func Resolve(text string, options []story.Edge) (int64, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || len(options) == 0 {
		return 0, false
	}
	lowered := strings.ToLower(trimmed)

	for _, edge := range options {
		for _, alias := range edge.Aliases {
			if aliasMatches(alias, trimmed, lowered) {
				return edge.ID, true
			}
		}
	}
	for _, edge := range options {
		if strings.EqualFold(strings.TrimSpace(edge.Label), trimmed) {
			return edge.ID, true
		}
	}

	if n, ok := numericChoice(lowered); ok {
		if n >= 1 && n <= len(options) {
			return options[n-1].ID, true
		}
	}
	return 0, false
}

// aliasMatches checks one alias entry. Entries wrapped in slashes are
// case-insensitive regular expressions; a broken pattern simply never
// matches. All other entries compare as case-insensitive literals.
func aliasMatches(alias, trimmed, lowered string) bool {
	if len(alias) >= 2 && strings.HasPrefix(alias, "/") && strings.HasSuffix(alias, "/") {
		re, err := regexp.Compile("(?i)" + alias[1:len(alias)-1])
		if err != nil {
			return false
		}
		return re.MatchString(trimmed)
	}
	return strings.ToLower(strings.TrimSpace(alias)) == lowered
}

// numericChoice extracts a 1-based option number from the supported
// numeric forms.
func numericChoice(lowered string) (int, bool) {
	for _, re := range []*regexp.Regexp{voteCommand, hashNumber, keycapDigits, bareNumber} {
		if m := re.FindStringSubmatch(lowered); m != nil {
			n, err := strconv.Atoi(m[1])
			if err != nil {
				return 0, false
			}
			return n, true
		}
	}
	return 0, false
}
