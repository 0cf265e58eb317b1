package seq2seq

import (
	"github.com/pkg/errors"
)

// Batch is one teacher-forcing training step.
type Batch struct {
	EncoderInput  Tensor // (N, max_encoder_seq_length, |input vocab|)
	DecoderInput  Tensor // (N, max_decoder_seq_length, |target vocab|)
	DecoderTarget Tensor // (N, max_decoder_seq_length, |target vocab|)
}

// Size is the number of text pairs in the batch.
func (b Batch) Size() int {
	return b.EncoderInput.dims[0]
}

// TextPairSequence produces one-hot batches from text pairs on demand. Only
// the batch being requested is ever materialised, and Batch(i) always
// returns the same tensors for the same i.
type TextPairSequence struct {
	InputTexts          []string
	TargetTexts         []string
	BatchSize           int
	MaxEncoderSeqLength int
	MaxDecoderSeqLength int
	InputTokenIndex     Vocabulary
	TargetTokenIndex    Vocabulary
	Lowercase           bool
	NumTextPairs        int
	NumBatches          int
}

// NewTextPairSequence expects validated, equal-length text lists and a
// positive batch size.
func NewTextPairSequence(inputTexts, targetTexts []string, batchSize int, vocabs Vocabularies, lowercase bool) *TextPairSequence {
	return &TextPairSequence{
		InputTexts:          inputTexts,
		TargetTexts:         targetTexts,
		BatchSize:           batchSize,
		MaxEncoderSeqLength: vocabs.MaxEncoderSeqLength,
		MaxDecoderSeqLength: vocabs.MaxDecoderSeqLength,
		InputTokenIndex:     vocabs.Input,
		TargetTokenIndex:    vocabs.Target,
		Lowercase:           lowercase,
		NumTextPairs:        len(inputTexts),
		NumBatches:          ceilDiv(len(inputTexts), batchSize),
	}
}

// Len returns the number of batches.
func (s *TextPairSequence) Len() int {
	return s.NumBatches
}

// Batch builds the tensors of the i-th slice of text pairs.
func (s *TextPairSequence) Batch(i int) (Batch, error) {
	if i < 0 || i >= s.NumBatches {
		return Batch{}, errors.Errorf("batch index %d is out of range [0, %d)", i, s.NumBatches)
	}
	start := i * s.BatchSize
	end := min(start+s.BatchSize, s.NumTextPairs)
	n := end - start
	Vin, Vout := s.InputTokenIndex.Len(), s.TargetTokenIndex.Len()
	Te, Td := s.MaxEncoderSeqLength, s.MaxDecoderSeqLength
	batch := Batch{
		EncoderInput:  NewTensor(n, Te, Vin),
		DecoderInput:  NewTensor(n, Td, Vout),
		DecoderTarget: NewTensor(n, Td, Vout),
	}
	startIdx := s.TargetTokenIndex[StartToken]
	endIdx := s.TargetTokenIndex[EndToken]
	for b := 0; b < n; b++ {
		encodeOneHot(batch.EncoderInput.data[b*Te*Vin:], SplitTokens(s.InputTexts[start+b], s.Lowercase), s.InputTokenIndex, Te)

		decIn := batch.DecoderInput.data[b*Td*Vout : (b+1)*Td*Vout]
		decOut := batch.DecoderTarget.data[b*Td*Vout : (b+1)*Td*Vout]
		tokens := SplitTokens(s.TargetTexts[start+b], s.Lowercase)
		if Td > 0 {
			decIn[startIdx] = 1
		}
		// decoder input is START, tokens..., END; the target is the same
		// sequence one step ahead
		for t := 0; t <= len(tokens); t++ {
			idx := endIdx
			if t < len(tokens) {
				var ok bool
				if idx, ok = s.TargetTokenIndex[tokens[t]]; !ok {
					continue
				}
			}
			if t+1 < Td {
				decIn[(t+1)*Vout+idx] = 1
			}
			if t < Td {
				decOut[t*Vout+idx] = 1
			}
		}
	}
	return batch, nil
}

// encodeOneHot writes one row per token into out (T, V); tokens beyond T and
// tokens missing from vocab leave their rows zero.
func encodeOneHot(out []float32, tokens []string, vocab Vocabulary, T int) {
	V := vocab.Len()
	for t, tok := range tokens {
		if t >= T {
			break
		}
		if idx, ok := vocab[tok]; ok {
			out[t*V+idx] = 1
		}
	}
}
