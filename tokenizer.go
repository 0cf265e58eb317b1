package seq2seq

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// BoundaryToken marks the whitespace between two words of a tokenized text.
const BoundaryToken = "<space>"

// Tokenize explodes every whitespace-delimited word of text into its code
// points and joins them with single spaces, putting BoundaryToken between words.
//
//	Tokenize("ab  c", false) == "a b <space> c"
func Tokenize(text string, lowercase bool) string {
	var lower cases.Caser
	if lowercase {
		lower = cases.Lower(language.Und)
	}
	var sb strings.Builder
	for i, word := range strings.Fields(text) {
		if i > 0 {
			sb.WriteString(" ")
			sb.WriteString(BoundaryToken)
		}
		for j, r := range []rune(word) {
			if i > 0 || j > 0 {
				sb.WriteByte(' ')
			}
			if lowercase {
				sb.WriteString(lower.String(string(r)))
			} else {
				sb.WriteRune(r)
			}
		}
	}
	return sb.String()
}

// Detokenize is the inverse of Tokenize up to whitespace normalisation.
func Detokenize(tokenized string) string {
	var sb strings.Builder
	for _, tok := range strings.Split(tokenized, " ") {
		if tok == BoundaryToken {
			sb.WriteByte(' ')
			continue
		}
		sb.WriteString(tok)
	}
	return strings.TrimSpace(sb.String())
}

// SplitTokens splits an already tokenized text into its tokens.
func SplitTokens(tokenized string, lowercase bool) []string {
	tokens := strings.Fields(tokenized)
	if lowercase {
		lower := cases.Lower(language.Und)
		for i, tok := range tokens {
			tokens[i] = lower.String(tok)
		}
	}
	return tokens
}
