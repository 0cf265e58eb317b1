package seq2seq

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNetwork(t *testing.T) (*LSTM, Batch) {
	t.Helper()
	inputTexts := []string{"a b", "b c a", "c"}
	targetTexts := []string{"x", "y x", "x y y"}
	vocabs := BuildVocabularies(inputTexts, targetTexts, false)
	seq := NewTextPairSequence(inputTexts, targetTexts, 3, vocabs, false)
	batch, err := seq.Batch(0)
	require.NoError(t, err)
	opt := DefaultConfig()
	opt.LR = 0.05
	net := NewLSTM(LSTMConfig{
		InputVocabSize:      vocabs.Input.Len(),
		TargetVocabSize:     vocabs.Target.Len(),
		LatentDim:           3,
		MaxEncoderSeqLength: vocabs.MaxEncoderSeqLength,
		MaxDecoderSeqLength: vocabs.MaxDecoderSeqLength,
	}, opt.optimizer(), newRand(Int(1)))
	return net, batch
}

func TestNewLSTM(t *testing.T) {
	net, _ := newTestNetwork(t)
	H := net.Config.LatentDim
	for k := 0; k < 4*H; k++ {
		want := float32(0)
		if k >= H && k < 2*H {
			want = 1
		}
		assert.Equal(t, want, net.Params.EncB.data[k])
		assert.Equal(t, want, net.Params.DecB.data[k])
	}
	limit := float32(math.Sqrt(6 / float64(net.Config.InputVocabSize+4*H)))
	for _, w := range net.Params.EncWx.data {
		assert.LessOrEqual(t, float32(math.Abs(float64(w))), limit)
	}
	assert.Contains(t, net.String(), "latent_dim: 3")
}

func TestLSTM_Backward(t *testing.T) {
	net, batch := newTestNetwork(t)
	require.NoError(t, net.Forward(batch))
	require.NoError(t, net.Backward(batch))
	analytic := append([]float32(nil), net.Grads.Memory...)

	const eps = 1e-2
	params := net.Params.Memory
	for i := 0; i < len(params); i += 3 {
		orig := params[i]
		params[i] = orig + eps
		require.NoError(t, net.Forward(batch))
		plus := float64(net.MeanLoss)
		params[i] = orig - eps
		require.NoError(t, net.Forward(batch))
		minus := float64(net.MeanLoss)
		params[i] = orig
		numeric := (plus - minus) / (2 * eps)
		assert.InDelta(t, numeric, float64(analytic[i]), 2e-3+0.05*math.Abs(numeric), "parameter %d", i)
	}
}

func TestLSTM_TrainBatch(t *testing.T) {
	net, batch := newTestNetwork(t)
	first, err := net.TrainBatch(batch)
	require.NoError(t, err)
	var last float32
	for i := 0; i < 100; i++ {
		last, err = net.TrainBatch(batch)
		require.NoError(t, err)
	}
	assert.Less(t, last, first)
	assert.Equal(t, 101, net.Steps)

	evalLoss, err := net.EvalBatch(batch)
	require.NoError(t, err)
	assert.Equal(t, 101, net.Steps)
	assert.Greater(t, evalLoss, float32(0))
}

func TestLSTM_SmallerBatchAfterLarger(t *testing.T) {
	net, batch := newTestNetwork(t)
	_, err := net.TrainBatch(batch)
	require.NoError(t, err)

	inputTexts := []string{"a b"}
	targetTexts := []string{"x"}
	vocabs := Vocabularies{
		Input:               Vocabulary{"a": 0, "b": 1, "c": 2},
		Target:              Vocabulary{"\t": 0, "\n": 1, "x": 2, "y": 3},
		MaxEncoderSeqLength: net.Config.MaxEncoderSeqLength,
		MaxDecoderSeqLength: net.Config.MaxDecoderSeqLength,
	}
	small, err := NewTextPairSequence(inputTexts, targetTexts, 1, vocabs, false).Batch(0)
	require.NoError(t, err)
	loss, err := net.TrainBatch(small)
	require.NoError(t, err)
	assert.False(t, math.IsNaN(float64(loss)))
}

func TestLSTM_RejectsWrongShape(t *testing.T) {
	net, _ := newTestNetwork(t)
	bad := Batch{
		EncoderInput:  NewTensor(1, 1, 1),
		DecoderInput:  NewTensor(1, 1, 1),
		DecoderTarget: NewTensor(1, 1, 1),
	}
	assert.Error(t, net.Forward(bad))
	_, err := net.TrainBatch(bad)
	assert.Error(t, err)
}

func TestLSTM_SnapshotRestore(t *testing.T) {
	net, batch := newTestNetwork(t)
	snapshot := net.Snapshot()
	encoder := net.Encoder()
	_, err := net.TrainBatch(batch)
	require.NoError(t, err)
	assert.NotEqual(t, snapshot, net.Params.Memory)

	net.Restore(snapshot)
	assert.Equal(t, snapshot, net.Params.Memory)
	// views taken before the restore see the restored weights
	assert.Same(t, net, encoder.net)
}

func TestInferenceMatchesForward(t *testing.T) {
	net, batch := newTestNetwork(t)
	require.NoError(t, net.Forward(batch))
	Te, Td := net.Config.MaxEncoderSeqLength, net.Config.MaxDecoderSeqLength
	Vin, Vout := net.Config.InputVocabSize, net.Config.TargetVocabSize
	encoder, decoder := net.Encoder(), net.Decoder()
	for b := 0; b < batch.Size(); b++ {
		state := encoder.Predict(batch.EncoderInput.Data()[b*Te*Vin : (b+1)*Te*Vin])
		for step := 0; step < Td; step++ {
			token := batch.DecoderInput.Data()[b*Td*Vout+step*Vout : b*Td*Vout+(step+1)*Vout]
			var probs []float32
			probs, state = decoder.Predict(token, state)
			require.InDeltaSlice(t, net.Acts.Probs.index(b, step).data, probs, delta, "sample %d step %d", b, step)
		}
	}
}

func TestLSTM_WriteTo(t *testing.T) {
	net, batch := newTestNetwork(t)
	_, err := net.TrainBatch(batch)
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := net.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)

	blob := buf.Bytes()
	loaded, err := readLSTM(bytes.NewReader(blob), net.Config)
	require.NoError(t, err)
	assert.Equal(t, net.Config, loaded.Config)
	assert.Equal(t, net.Params.Memory, loaded.Params.Memory)

	_, err = readLSTM(bytes.NewReader(make([]byte, 1024)), net.Config)
	assert.Error(t, err)
	_, err = readLSTM(bytes.NewReader(nil), net.Config)
	assert.Error(t, err)
	other := net.Config
	other.LatentDim++
	_, err = readLSTM(bytes.NewReader(blob), other)
	assert.Error(t, err)
}

func TestLSTMConfig_check(t *testing.T) {
	valid := LSTMConfig{InputVocabSize: 5, TargetVocabSize: 6, LatentDim: 8, MaxEncoderSeqLength: 3, MaxDecoderSeqLength: 4}
	tests := []struct {
		name    string
		modify  func(*LSTMConfig)
		wantErr bool
	}{
		{name: "valid", modify: func(*LSTMConfig) {}},
		{name: "empty input vocabulary", modify: func(c *LSTMConfig) { c.InputVocabSize, c.MaxEncoderSeqLength = 0, 0 }},
		{name: "negative vocabulary", modify: func(c *LSTMConfig) { c.InputVocabSize = -5 }, wantErr: true},
		{name: "zero latent dim", modify: func(c *LSTMConfig) { c.LatentDim = 0 }, wantErr: true},
		{name: "zero sequence length", modify: func(c *LSTMConfig) { c.MaxDecoderSeqLength = 0 }, wantErr: true},
		{name: "too many parameters", modify: func(c *LSTMConfig) { c.LatentDim = 1 << 20 }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.modify(&cfg)
			if tt.wantErr {
				assert.Error(t, cfg.check())
			} else {
				assert.NoError(t, cfg.check())
			}
		})
	}
}

func TestLSTM_UpdateWeightDecay(t *testing.T) {
	net, batch := newTestNetwork(t)
	net.Optimizer.WeightDecay = 0.1
	net.Optimizer.GradClip = 0
	require.NoError(t, net.Forward(batch))
	require.NoError(t, net.Backward(batch))
	clear(net.Grads.Memory)
	before := net.Snapshot()
	var old ParameterTensors
	old.Init(net.Config.InputVocabSize, net.Config.TargetVocabSize, net.Config.LatentDim)
	copy(old.Memory, before)

	net.Update()

	// without a loss gradient only the L2 penalty moves the kernels towards zero
	for _, kernel := range [][2]Tensor{
		{old.EncWx, net.Params.EncWx},
		{old.EncWh, net.Params.EncWh},
		{old.DecWx, net.Params.DecWx},
		{old.DecWh, net.Params.DecWh},
		{old.OutW, net.Params.OutW},
	} {
		for i, w := range kernel[0].data {
			if w != 0 {
				assert.Less(t, (kernel[1].data[i]-w)*w, float32(0))
			}
		}
	}
	// biases carry no penalty
	assert.Equal(t, old.EncB.data, net.Params.EncB.data)
	assert.Equal(t, old.DecB.data, net.Params.DecB.data)
	assert.Equal(t, old.OutB.data, net.Params.OutB.data)
}
