package seq2seq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildVocabularies(t *testing.T) {
	tests := []struct {
		name        string
		inputTexts  []string
		targetTexts []string
		lowercase   bool
		want        Vocabularies
	}{
		{
			name:        "sorted with markers",
			inputTexts:  []string{"a b c", "a c", "0 1 b", "b a", "b c"},
			targetTexts: []string{"а б а 2", "2 3", "а б а", "б а", "б 3"},
			want: Vocabularies{
				Input:               Vocabulary{"0": 0, "1": 1, "a": 2, "b": 3, "c": 4},
				Target:              Vocabulary{"\t": 0, "\n": 1, "2": 2, "3": 3, "а": 4, "б": 5},
				MaxEncoderSeqLength: 3,
				MaxDecoderSeqLength: 6,
			},
		},
		{
			name:        "lowercase merges tokens",
			inputTexts:  []string{"A a <space> B"},
			targetTexts: []string{"X x"},
			lowercase:   true,
			want: Vocabularies{
				Input:               Vocabulary{"<space>": 0, "a": 1, "b": 2},
				Target:              Vocabulary{"\t": 0, "\n": 1, "x": 2},
				MaxEncoderSeqLength: 4,
				MaxDecoderSeqLength: 4,
			},
		},
		{
			name:        "empty texts",
			inputTexts:  []string{""},
			targetTexts: []string{""},
			want: Vocabularies{
				Input:               Vocabulary{},
				Target:              Vocabulary{"\t": 0, "\n": 1},
				MaxEncoderSeqLength: 0,
				MaxDecoderSeqLength: 2,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildVocabularies(tt.inputTexts, tt.targetTexts, tt.lowercase)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildVocabularies_Deterministic(t *testing.T) {
	inputTexts := []string{"z y x", "w v", "u"}
	targetTexts := []string{"к л м", "н", "о п"}
	first := BuildVocabularies(inputTexts, targetTexts, false)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, BuildVocabularies(inputTexts, targetTexts, false))
	}
}

func TestVocabulary_Tokens(t *testing.T) {
	vocab := Vocabulary{"\t": 0, "\n": 1, "b": 3, "a": 2}
	assert.Equal(t, []string{"\t", "\n", "a", "b"}, vocab.Tokens())
	assert.Equal(t, 4, vocab.Len())
}

func TestVocabularies_check(t *testing.T) {
	valid := BuildVocabularies([]string{"a b"}, []string{"x"}, false)
	require.NoError(t, valid.check())
	empty := BuildVocabularies([]string{""}, []string{"x"}, false)
	require.NoError(t, empty.check())

	tests := []struct {
		name   string
		modify func(*Vocabularies)
	}{
		{name: "index out of range", modify: func(v *Vocabularies) { v.Target = Vocabulary{"\t": 0, "\n": 7} }},
		{name: "negative index", modify: func(v *Vocabularies) { v.Input = Vocabulary{"a": -1, "b": 1} }},
		{name: "duplicate index", modify: func(v *Vocabularies) { v.Input = Vocabulary{"a": 1, "b": 1} }},
		{name: "no start marker", modify: func(v *Vocabularies) { v.Target = Vocabulary{"x": 0, "\n": 1} }},
		{name: "no end marker", modify: func(v *Vocabularies) { v.Target = Vocabulary{"\t": 0, "x": 1} }},
		{name: "negative encoder length", modify: func(v *Vocabularies) { v.MaxEncoderSeqLength = -1 }},
		{name: "decoder length without markers", modify: func(v *Vocabularies) { v.MaxDecoderSeqLength = 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := valid
			tt.modify(&v)
			assert.Error(t, v.check())
		})
	}
}
