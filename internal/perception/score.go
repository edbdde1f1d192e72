package perception

import "strings"

// stopwords are excluded from identity matching. Tokens shorter than three
// characters never make it this far.
var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true,
	"not": true, "you": true, "all": true, "can": true, "her": true,
	"was": true, "one": true, "our": true, "out": true, "has": true,
	"have": true, "had": true, "this": true, "that": true, "with": true,
	"from": true, "they": true, "will": true, "would": true, "there": true,
	"their": true, "what": true, "about": true, "which": true, "when": true,
	"into": true, "than": true, "then": true, "them": true, "these": true,
	"some": true, "more": true, "very": true, "just": true, "also": true,
	"over": true, "such": true, "only": true, "most": true, "other": true,
	"after": true, "before": true, "being": true, "where": true, "while": true,
}

// contentTokens lowercases text and keeps alphanumeric runs of length ≥3
// that are not stopwords.
func contentTokens(text string) map[string]bool {
	tokens := make(map[string]bool)
	var cur strings.Builder
	flush := func() {
		if cur.Len() >= 3 {
			tok := cur.String()
			if !stopwords[tok] {
				tokens[tok] = true
			}
		}
		cur.Reset()
	}
	for _, r := range strings.ToLower(text) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			cur.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

// phraseRatio returns the fraction of phrases sharing at least one token
// with the capture. Zero phrases contribute nothing.
func phraseRatio(captureTokens map[string]bool, phrases []string) float64 {
	if len(phrases) == 0 {
		return 0
	}
	hits := 0
	for _, phrase := range phrases {
		for tok := range contentTokens(phrase) {
			if captureTokens[tok] {
				hits++
				break
			}
		}
	}
	return float64(hits) / float64(len(phrases))
}

// IdentityRelevance scores a capture against the vault's identity context.
// Commitment labels dominate, identity themes and standing vault topics
// contribute less. The result is clamped to [0,1].
func IdentityRelevance(c FeedCapture, pctx Context) float64 {
	tokens := contentTokens(c.Title + " " + c.Content)
	score := 0.5*phraseRatio(tokens, pctx.CommitmentLabels) +
		0.3*phraseRatio(tokens, pctx.IdentityThemes) +
		0.2*phraseRatio(tokens, pctx.VaultTopics)
	if score > 1 {
		score = 1
	}
	return score
}
