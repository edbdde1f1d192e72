package commitment

import "strings"

// labelTokens splits a label into lowercase alphanumeric tokens of length
// ≥3, the unit of all activity matching.
func labelTokens(label string) []string {
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() >= 3 {
			tokens = append(tokens, cur.String())
		}
		cur.Reset()
	}
	for _, r := range strings.ToLower(label) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			cur.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

// tokenSet tokenizes arbitrary text the same way labels are tokenized.
func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range labelTokens(text) {
		set[tok] = true
	}
	return set
}

// mentionsLabel reports whether text mentions the label: at least half of
// the label tokens appear, or the full label appears as a substring.
func mentionsLabel(text, label string) bool {
	lower := strings.ToLower(text)
	if label != "" && strings.Contains(lower, strings.ToLower(label)) {
		return true
	}

	toks := labelTokens(label)
	if len(toks) == 0 {
		return false
	}
	set := tokenSet(text)
	hits := 0
	for _, tok := range toks {
		if set[tok] {
			hits++
		}
	}
	return hits*2 >= len(toks)
}

// touchesLabel reports the looser drift-side match: any label token
// appears, or the full label appears as a substring.
func touchesLabel(text, label string) bool {
	lower := strings.ToLower(text)
	if label != "" && strings.Contains(lower, strings.ToLower(label)) {
		return true
	}
	set := tokenSet(text)
	for _, tok := range labelTokens(label) {
		if set[tok] {
			return true
		}
	}
	return false
}

// mentionCount counts activity strings that mention the label.
func mentionCount(label string, activity []string) int {
	n := 0
	for _, s := range activity {
		if mentionsLabel(s, label) {
			n++
		}
	}
	return n
}
