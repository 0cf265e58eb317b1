package seq2seq

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimator_MarshalUnfitted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LatentDim = 17
	cfg.RandomState = Int(3)
	data, err := NewEstimator(cfg).MarshalBinary()
	require.NoError(t, err)

	restored := NewEstimator(DefaultConfig())
	require.NoError(t, restored.UnmarshalBinary(data))
	assert.Equal(t, cfg, restored.Config)
	_, err = restored.Fitted()
	assert.ErrorIs(t, err, ErrNotFitted)
}

func TestEstimator_MarshalInvalidUnfitted(t *testing.T) {
	for _, cfg := range []Config{{}, {BatchSize: 0, Epochs: -1, LR: -1}} {
		data, err := NewEstimator(cfg).MarshalBinary()
		require.NoError(t, err)
		restored := NewEstimator(DefaultConfig())
		require.NoError(t, restored.UnmarshalBinary(data))
		assert.Equal(t, cfg, restored.Config)

		// the configuration is still rejected once it is used
		var configErr *ConfigError
		_, err = restored.Fit([]string{"a"}, []string{"b"}, nil)
		assert.ErrorAs(t, err, &configErr)
	}
}

// encodeEstimator lays out a stored estimator the way Save does.
func encodeEstimator(t *testing.T, fitted int32, record estimatorRecord, network []byte) []byte {
	t.Helper()
	js, err := json.Marshal(record)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, []int32{estimatorMagic, estimatorVersion, fitted, int32(len(js))}))
	buf.Write(js)
	buf.Write(network)
	return buf.Bytes()
}

func TestEstimator_MarshalFitted(t *testing.T) {
	X, y := copyTaskTexts()
	cfg := smallConfig()
	cfg.Epochs = 20
	e, err := NewEstimator(cfg).Fit(X, y, nil)
	require.NoError(t, err)
	want, err := e.Predict(X)
	require.NoError(t, err)

	data, err := e.MarshalBinary()
	require.NoError(t, err)
	restored := NewEstimator(DefaultConfig())
	require.NoError(t, restored.UnmarshalBinary(data))
	assert.Equal(t, e.Config, restored.Config)

	model, err := restored.Fitted()
	require.NoError(t, err)
	orig, _ := e.Fitted()
	assert.Equal(t, orig.Vocabularies, model.Vocabularies)
	assert.Equal(t, orig.ReverseTargetIndex, model.ReverseTargetIndex)
	assert.Equal(t, orig.Network.Params.Memory, model.Network.Params.Memory)

	got, err := restored.Predict(X)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestEstimator_SaveFile(t *testing.T) {
	X, y := copyTaskTexts()
	cfg := smallConfig()
	cfg.Epochs = 2
	e, err := NewEstimator(cfg).Fit(X, y, nil)
	require.NoError(t, err)

	name := filepath.Join(t.TempDir(), "copy.model")
	require.NoError(t, e.SaveFile(name))
	loaded, err := LoadEstimator(name)
	require.NoError(t, err)
	want, _ := e.Predict(X)
	got, err := loaded.Predict(X)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = LoadEstimator(filepath.Join(t.TempDir(), "missing.model"))
	assert.Error(t, err)
}

func TestEstimator_LoadCorrupt(t *testing.T) {
	X, y := copyTaskTexts()
	cfg := smallConfig()
	cfg.Epochs = 1
	e, err := NewEstimator(cfg).Fit(X, y, nil)
	require.NoError(t, err)
	data, err := e.MarshalBinary()
	require.NoError(t, err)

	model, err := e.Fitted()
	require.NoError(t, err)
	var network bytes.Buffer
	_, err = model.Network.WriteTo(&network)
	require.NoError(t, err)
	record := func(modify func(*Vocabularies)) estimatorRecord {
		vocabs := model.Vocabularies
		vocabs.Input = copyVocabulary(vocabs.Input)
		vocabs.Target = copyVocabulary(vocabs.Target)
		modify(&vocabs)
		return estimatorRecord{Config: cfg, Vocabularies: &vocabs}
	}
	networkWithHeader := func(field int, value int32) []byte {
		blob := bytes.Clone(network.Bytes())
		binary.LittleEndian.PutUint32(blob[4*field:], uint32(value))
		return blob
	}
	invalid := cfg
	invalid.BatchSize = 0
	huge := cfg
	huge.LatentDim = 1 << 20

	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: nil},
		{name: "bad magic", data: append([]byte{0, 0, 0, 0}, data[4:]...)},
		{name: "truncated record", data: data[:20]},
		{name: "truncated network", data: data[:len(data)-8]},
		{
			name: "record too long",
			data: func() []byte {
				var buf bytes.Buffer
				require.NoError(t, binary.Write(&buf, binary.LittleEndian, []int32{estimatorMagic, estimatorVersion, 1, maxRecordLength + 1}))
				return buf.Bytes()
			}(),
		},
		{
			name: "fitted with invalid config",
			data: encodeEstimator(t, 1, estimatorRecord{Config: invalid, Vocabularies: &model.Vocabularies}, network.Bytes()),
		},
		{
			name: "fitted without vocabularies",
			data: encodeEstimator(t, 1, estimatorRecord{Config: cfg}, network.Bytes()),
		},
		{
			name: "target index out of range",
			data: encodeEstimator(t, 1, record(func(v *Vocabularies) { v.Target[EndToken] = 7 }), network.Bytes()),
		},
		{
			name: "duplicate input index",
			data: encodeEstimator(t, 1, record(func(v *Vocabularies) { v.Input["a"] = v.Input["b"] }), network.Bytes()),
		},
		{
			name: "negative input index",
			data: encodeEstimator(t, 1, record(func(v *Vocabularies) { v.Input["a"] = -1 }), network.Bytes()),
		},
		{
			name: "missing end marker",
			data: encodeEstimator(t, 1, record(func(v *Vocabularies) {
				idx := v.Target[EndToken]
				delete(v.Target, EndToken)
				v.Target["\r"] = idx
			}), network.Bytes()),
		},
		{
			name: "negative sequence length",
			data: encodeEstimator(t, 1, record(func(v *Vocabularies) { v.MaxEncoderSeqLength = -1 }), network.Bytes()),
		},
		{
			name: "negative network dimension",
			data: encodeEstimator(t, 1, record(func(*Vocabularies) {}), networkWithHeader(2, -5)),
		},
		{
			name: "network of another size",
			data: encodeEstimator(t, 1, record(func(*Vocabularies) {}), networkWithHeader(4, 4096)),
		},
		{
			name: "too many parameters",
			data: encodeEstimator(t, 1, estimatorRecord{Config: huge, Vocabularies: &model.Vocabularies}, networkWithHeader(4, 1<<20)),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := NewEstimator(DefaultConfig())
			assert.Error(t, target.Load(bytes.NewReader(tt.data)))
			assert.Equal(t, DefaultConfig(), target.Config)
			_, err := target.Fitted()
			assert.ErrorIs(t, err, ErrNotFitted)
		})
	}
}

func copyVocabulary(v Vocabulary) Vocabulary {
	out := make(Vocabulary, len(v))
	for tok, i := range v {
		out[tok] = i
	}
	return out
}
