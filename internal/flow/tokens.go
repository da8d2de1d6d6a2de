package flow

import "unicode/utf8"

// TokenEstimator converts answer text into a token estimate. The same
// estimator is used for budget accounting and answer-record sizing.
type TokenEstimator func(text string) int64

// charsPerToken is the rough characters-per-token ratio used by the default
// estimator. The exact tokenizer is a deployment concern; this approximation
// only has to be monotone and stable.
const charsPerToken = 4

// EstimateTokens is the default estimator: ceil(runes / charsPerToken),
// never negative, and 0 only for empty text.
func EstimateTokens(text string) int64 {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return int64((n + charsPerToken - 1) / charsPerToken)
}
