package seq2seq

import (
	"sort"

	"github.com/pkg/errors"
)

const (
	// StartToken is fed to the decoder as the first step of every target.
	StartToken = "\t"
	// EndToken terminates every target sequence.
	EndToken = "\n"
)

// Vocabulary maps tokens to dense zero-based indices.
type Vocabulary map[string]int

// Len returns the number of tokens in the vocabulary.
func (v Vocabulary) Len() int {
	return len(v)
}

// Tokens returns the tokens ordered by index; it is the reverse mapping.
func (v Vocabulary) Tokens() []string {
	tokens := make([]string, len(v))
	for tok, i := range v {
		tokens[i] = tok
	}
	return tokens
}

// check reports whether the indices are exactly 0..Len()-1.
func (v Vocabulary) check(name string) error {
	seen := make([]bool, len(v))
	for tok, i := range v {
		if i < 0 || i >= len(v) || seen[i] {
			return errors.Errorf("%s vocabulary has bad index %d for token %q", name, i, tok)
		}
		seen[i] = true
	}
	return nil
}

func newVocabulary(set map[string]struct{}) Vocabulary {
	tokens := make([]string, 0, len(set))
	for tok := range set {
		tokens = append(tokens, tok)
	}
	sort.Strings(tokens)
	vocab := make(Vocabulary, len(tokens))
	for i, tok := range tokens {
		vocab[tok] = i
	}
	return vocab
}

// Vocabularies is everything derived from a training corpus before the
// network can be sized.
type Vocabularies struct {
	Input               Vocabulary `json:"input_token_index"`
	Target              Vocabulary `json:"target_token_index"`
	MaxEncoderSeqLength int        `json:"max_encoder_seq_length"`
	MaxDecoderSeqLength int        `json:"max_decoder_seq_length"`
}

// BuildVocabularies scans index-aligned tokenized input and target texts.
// Tokens are indexed in sorted order so that the same corpus always yields
// the same vocabularies. The target vocabulary always contains StartToken
// and EndToken, and MaxDecoderSeqLength counts both of them.
func BuildVocabularies(inputTexts, targetTexts []string, lowercase bool) Vocabularies {
	inputSet := make(map[string]struct{})
	targetSet := map[string]struct{}{
		StartToken: {},
		EndToken:   {},
	}
	var maxEnc, maxDec int
	for _, text := range inputTexts {
		tokens := SplitTokens(text, lowercase)
		for _, tok := range tokens {
			inputSet[tok] = struct{}{}
		}
		maxEnc = max(maxEnc, len(tokens))
	}
	for _, text := range targetTexts {
		tokens := SplitTokens(text, lowercase)
		for _, tok := range tokens {
			targetSet[tok] = struct{}{}
		}
		maxDec = max(maxDec, len(tokens))
	}
	return Vocabularies{
		Input:               newVocabulary(inputSet),
		Target:              newVocabulary(targetSet),
		MaxEncoderSeqLength: maxEnc,
		MaxDecoderSeqLength: maxDec + 2,
	}
}

// check validates vocabularies read from a file: dense indices, both
// markers in the target vocabulary and sane length bounds.
func (v Vocabularies) check() error {
	if err := v.Input.check("input"); err != nil {
		return err
	}
	if err := v.Target.check("target"); err != nil {
		return err
	}
	for _, tok := range []string{StartToken, EndToken} {
		if _, ok := v.Target[tok]; !ok {
			return errors.Errorf("target vocabulary has no %q marker", tok)
		}
	}
	if v.MaxEncoderSeqLength < 0 || v.MaxDecoderSeqLength < 2 {
		return errors.Errorf("bad sequence lengths %d and %d", v.MaxEncoderSeqLength, v.MaxDecoderSeqLength)
	}
	return nil
}
