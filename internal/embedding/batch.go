package embedding

import (
	"fmt"
	"unicode/utf8"
)

// CharsPerToken is the rough character count of one token
const CharsPerToken = 4

// EstimateTokens approximates the token count of text
func EstimateTokens(text string) int {
	return max(1, utf8.RuneCountInString(text)/CharsPerToken)
}

// TokenLimitError reports a single input larger than the request budget
type TokenLimitError struct {
	Index  int
	Tokens int
	Limit  int
}

func (e *TokenLimitError) Error() string {
	return fmt.Sprintf("input %d exceeds token limit (%d > %d tokens)", e.Index, e.Tokens, e.Limit)
}

// Batches groups texts into requests of at most batchSize texts. With a
// token limit, batches also stay within the estimated budget, and inputs
// that fit together in one budget go out as a single request.
func Batches(texts []string, batchSize, tokenLimit int) ([][]string, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be greater than 0")
	}
	if len(texts) == 0 {
		return nil, nil
	}

	if tokenLimit <= 0 {
		var out [][]string
		for i := 0; i < len(texts); i += batchSize {
			out = append(out, texts[i:min(i+batchSize, len(texts))])
		}
		return out, nil
	}

	counts := make([]int, len(texts))
	total := 0
	for i, t := range texts {
		counts[i] = EstimateTokens(t)
		if counts[i] > tokenLimit {
			return nil, &TokenLimitError{Index: i, Tokens: counts[i], Limit: tokenLimit}
		}
		total += counts[i]
	}
	if total <= tokenLimit {
		return [][]string{texts}, nil
	}

	var out [][]string
	start, tokens := 0, 0
	for i := range texts {
		if i > start && (tokens+counts[i] > tokenLimit || i-start >= batchSize) {
			out = append(out, texts[start:i])
			start, tokens = i, 0
		}
		tokens += counts[i]
	}
	return append(out, texts[start:]), nil
}
