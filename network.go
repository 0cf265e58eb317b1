package seq2seq

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"math/rand"

	"github.com/pkg/errors"
)

const (
	networkMagic   int32 = 20241016
	networkVersion int32 = 1
)

// LSTMConfig sizes the encoder-decoder network.
type LSTMConfig struct {
	InputVocabSize      int `json:"input_vocab_size"`
	TargetVocabSize     int `json:"target_vocab_size"`
	LatentDim           int `json:"latent_dim"`
	MaxEncoderSeqLength int `json:"max_encoder_seq_length"`
	MaxDecoderSeqLength int `json:"max_decoder_seq_length"`
}

// OptimizerConfig holds the Adam settings used by Update.
type OptimizerConfig struct {
	LearningRate float32
	Beta1        float32
	Beta2        float32
	Eps          float32
	WeightDecay  float32
	GradClip     float32 // global gradient norm limit, 0 disables clipping
}

// LSTM is a single-layer LSTM encoder whose final state initialises a
// single-layer LSTM decoder followed by a softmax over the target vocabulary.
type LSTM struct {
	Config    LSTMConfig
	Optimizer OptimizerConfig
	// Params holds every weight; the Encoder and Decoder views read it directly
	Params ParameterTensors
	// Grads contains the gradients of Params for the last TrainBatch
	Grads ParameterTensors
	// Fields for the Adam optimizer
	MMemory   []float32
	VMemory   []float32
	Acts      ActivationTensors
	GradsActs ActivationTensors
	B         int     // batch capacity of Acts
	Steps     int     // number of updates so far
	MeanLoss  float32 // mean loss after the last forward pass
}

// NewLSTM builds a network with Glorot-uniform kernels, zero biases and
// forget gate biases of one.
func NewLSTM(cfg LSTMConfig, opt OptimizerConfig, rng *rand.Rand) *LSTM {
	model := &LSTM{
		Config:    cfg,
		Optimizer: opt,
	}
	H, Vin, Vout := cfg.LatentDim, cfg.InputVocabSize, cfg.TargetVocabSize
	model.Params.Init(Vin, Vout, H)
	p := model.Params
	glorot(p.EncWx.data, Vin, 4*H, rng)
	glorot(p.EncWh.data, H, 4*H, rng)
	glorot(p.DecWx.data, Vout, 4*H, rng)
	glorot(p.DecWh.data, H, 4*H, rng)
	glorot(p.OutW.data, H, Vout, rng)
	for k := H; k < 2*H; k++ {
		p.EncB.data[k] = 1
		p.DecB.data[k] = 1
	}
	return model
}

func glorot(w []float32, fanIn, fanOut int, rng *rand.Rand) {
	limit := math.Sqrt(6 / float64(fanIn+fanOut))
	for i := range w {
		w[i] = float32((rng.Float64()*2 - 1) * limit)
	}
}

func (model *LSTM) String() string {
	var s string
	s += "[Seq2Seq LSTM]\n"
	s += fmt.Sprintf("input_vocab_size: %d\n", model.Config.InputVocabSize)
	s += fmt.Sprintf("target_vocab_size: %d\n", model.Config.TargetVocabSize)
	s += fmt.Sprintf("latent_dim: %d\n", model.Config.LatentDim)
	s += fmt.Sprintf("max_encoder_seq_length: %d\n", model.Config.MaxEncoderSeqLength)
	s += fmt.Sprintf("max_decoder_seq_length: %d\n", model.Config.MaxDecoderSeqLength)
	s += fmt.Sprintf("num_parameters: %d\n", model.Params.Len())
	return s
}

func (model *LSTM) checkBatch(batch Batch) error {
	c := model.Config
	want := [][]int{
		{c.MaxEncoderSeqLength, c.InputVocabSize},
		{c.MaxDecoderSeqLength, c.TargetVocabSize},
		{c.MaxDecoderSeqLength, c.TargetVocabSize},
	}
	for i, t := range []Tensor{batch.EncoderInput, batch.DecoderInput, batch.DecoderTarget} {
		if len(t.dims) != 3 || t.dims[0] != batch.Size() || t.dims[1] != want[i][0] || t.dims[2] != want[i][1] {
			return errors.Errorf("batch tensor %d has shape %v, want (%d, %d, %d)", i, t.dims, batch.Size(), want[i][0], want[i][1])
		}
	}
	return nil
}

// Forward runs the whole encoder-decoder with teacher forcing and sets MeanLoss.
func (model *LSTM) Forward(batch Batch) error {
	if err := model.checkBatch(batch); err != nil {
		return err
	}
	B := batch.Size()
	Te, Td := model.Config.MaxEncoderSeqLength, model.Config.MaxDecoderSeqLength
	H, Vin, Vout := model.Config.LatentDim, model.Config.InputVocabSize, model.Config.TargetVocabSize
	if model.Acts.Memory == nil || B > model.B {
		model.B = B
		model.Acts.Init(B, Te, Td, H, Vout)
		model.GradsActs = ActivationTensors{}
	}
	params, acts := model.Params, model.Acts

	// Encoder: project the one-hot inputs, then run the recurrence from a
	// zero state.
	matmulForward(acts.EncGates.data, batch.EncoderInput.data, params.EncWx.data, params.EncB.data, B, Te, Vin, 4*H)
	lstmForward(acts.EncH.data, acts.EncC.data, acts.EncTanhC.data, acts.EncGates.data, params.EncWh.data, nil, nil, B, Te, H)

	// The decoder starts from the encoder's last state.
	for b := 0; b < B; b++ {
		if Te > 0 {
			copy(acts.DecInitH.data[b*H:b*H+H], acts.EncH.data[b*Te*H+(Te-1)*H:])
			copy(acts.DecInitC.data[b*H:b*H+H], acts.EncC.data[b*Te*H+(Te-1)*H:])
		} else {
			clear(acts.DecInitH.data[b*H : b*H+H])
			clear(acts.DecInitC.data[b*H : b*H+H])
		}
	}
	matmulForward(acts.DecGates.data, batch.DecoderInput.data, params.DecWx.data, params.DecB.data, B, Td, Vout, 4*H)
	lstmForward(acts.DecH.data, acts.DecC.data, acts.DecTanhC.data, acts.DecGates.data, params.DecWh.data, acts.DecInitH.data, acts.DecInitC.data, B, Td, H)

	matmulForward(acts.Logits.data, acts.DecH.data, params.OutW.data, params.OutB.data, B, Td, H, Vout)
	softmaxForward(acts.Probs.data, acts.Logits.data, B, Td, Vout)
	crossEntropyForward(acts.Losses.data, acts.Probs.data, batch.DecoderTarget.data, B, Td, Vout)
	// mean over every (b, t), padding included
	var meanLoss float64
	for _, l := range acts.Losses.data[:B*Td] {
		meanLoss += float64(l)
	}
	if B*Td > 0 {
		meanLoss /= float64(B * Td)
	}
	model.MeanLoss = float32(meanLoss)
	return nil
}

// Backward fills Grads for the batch passed to the last Forward.
func (model *LSTM) Backward(batch Batch) error {
	B := batch.Size()
	if model.Acts.Memory == nil || B > model.B {
		return errors.New("error: must forward before backward")
	}
	Te, Td := model.Config.MaxEncoderSeqLength, model.Config.MaxDecoderSeqLength
	H, Vin, Vout := model.Config.LatentDim, model.Config.InputVocabSize, model.Config.TargetVocabSize
	if len(model.Grads.Memory) == 0 {
		model.Grads.Init(Vin, Vout, H)
	}
	if model.GradsActs.Memory == nil {
		model.GradsActs.Init(model.B, Te, Td, H, Vout)
	}
	model.ZeroGradient()
	params, grads, acts, gradsActs := model.Params, model.Grads, model.Acts, model.GradsActs

	// we kick off the chain by filling in dlosses with 1/(B*Td), to get the mean loss
	dlossMean := 1.0 / float32(B*Td)
	dlosses := gradsActs.Losses.data[:B*Td]
	for i := range dlosses {
		dlosses[i] = dlossMean
	}
	crossentropySoftmaxBackward(gradsActs.Logits.data, dlosses, acts.Probs.data, batch.DecoderTarget.data, B, Td, Vout)
	matmulBackward(gradsActs.DecH.data, grads.OutW.data, grads.OutB.data, gradsActs.Logits.data, acts.DecH.data, params.OutW.data, B, Td, H, Vout)

	lstmBackward(gradsActs.DecGates.data, grads.DecWh.data, gradsActs.DecInitH.data, gradsActs.DecInitC.data,
		gradsActs.DecH.data, nil, nil,
		acts.DecGates.data, acts.DecC.data, acts.DecTanhC.data, acts.DecH.data, params.DecWh.data,
		acts.DecInitH.data, acts.DecInitC.data, B, Td, H)
	matmulBackward(nil, grads.DecWx.data, grads.DecB.data, gradsActs.DecGates.data, batch.DecoderInput.data, params.DecWx.data, B, Td, Vout, 4*H)

	// Only the final encoder state receives gradient, through the decoder's
	// initial state.
	if Te > 0 {
		lstmBackward(gradsActs.EncGates.data, grads.EncWh.data, nil, nil,
			gradsActs.EncH.data, gradsActs.DecInitH.data, gradsActs.DecInitC.data,
			acts.EncGates.data, acts.EncC.data, acts.EncTanhC.data, acts.EncH.data, params.EncWh.data,
			nil, nil, B, Te, H)
		matmulBackward(nil, grads.EncWx.data, grads.EncB.data, gradsActs.EncGates.data, batch.EncoderInput.data, params.EncWx.data, B, Te, Vin, 4*H)
	}
	return nil
}

// Update applies one Adam step. The L2 penalty WeightDecay*w is added to the
// gradients of the kernels, not the biases, before the global norm is clipped.
func (model *LSTM) Update() {
	opt := model.Optimizer
	if model.MMemory == nil {
		model.MMemory = make([]float32, model.Params.Len())
		model.VMemory = make([]float32, model.Params.Len())
	}
	if opt.WeightDecay != 0 {
		params, grads := &model.Params, &model.Grads
		for _, kernel := range [][2]Tensor{
			{params.EncWx, grads.EncWx},
			{params.EncWh, grads.EncWh},
			{params.DecWx, grads.DecWx},
			{params.DecWh, grads.DecWh},
			{params.OutW, grads.OutW},
		} {
			w, dw := kernel[0].data, kernel[1].data
			for i := range dw {
				dw[i] += opt.WeightDecay * w[i]
			}
		}
	}
	clipGradNorm(model.Grads.Memory, opt.GradClip)
	model.Steps++
	t := float32(model.Steps)
	bc1 := 1.0 - Pow(opt.Beta1, t)
	bc2 := 1.0 - Pow(opt.Beta2, t)
	for i := 0; i < model.Params.Len(); i++ {
		gradient := model.Grads.Memory[i]
		// Momentum update
		m := opt.Beta1*model.MMemory[i] + (1.0-opt.Beta1)*gradient
		// RMSprop update
		v := opt.Beta2*model.VMemory[i] + (1.0-opt.Beta2)*gradient*gradient
		mHat := m / bc1
		vHat := v / bc2
		model.MMemory[i] = m
		model.VMemory[i] = v
		model.Params.Memory[i] -= opt.LearningRate * mHat / (Sqrt(vHat) + opt.Eps)
	}
}

// TrainBatch runs forward, backward and update on one batch and returns its
// mean loss.
func (model *LSTM) TrainBatch(batch Batch) (float32, error) {
	if err := model.Forward(batch); err != nil {
		return 0, err
	}
	if err := model.Backward(batch); err != nil {
		return 0, err
	}
	model.Update()
	return model.MeanLoss, nil
}

// EvalBatch returns the mean loss of a batch without touching the weights.
func (model *LSTM) EvalBatch(batch Batch) (float32, error) {
	if err := model.Forward(batch); err != nil {
		return 0, err
	}
	return model.MeanLoss, nil
}

// Snapshot copies the current weights.
func (model *LSTM) Snapshot() []float32 {
	return append([]float32(nil), model.Params.Memory...)
}

// Restore overwrites the weights in place so that existing views stay valid.
func (model *LSTM) Restore(weights []float32) {
	copy(model.Params.Memory, weights)
}

func (model *LSTM) ZeroGradient() {
	clear(model.GradsActs.Memory)
	clear(model.Grads.Memory)
}

// Encoder returns the inference view mapping an input sequence to a state.
func (model *LSTM) Encoder() *EncoderModel {
	return &EncoderModel{net: model}
}

// Decoder returns the inference view mapping (token, state) to the next
// token distribution and state.
func (model *LSTM) Decoder() *DecoderModel {
	return &DecoderModel{net: model}
}

// State is the (hidden, cell) pair carried between decoder steps.
type State struct {
	H []float32
	C []float32
}

// EncoderModel shares its weights with the network it was taken from.
type EncoderModel struct {
	net *LSTM
}

// Predict runs the encoder over one (max_encoder_seq_length, |input vocab|)
// one-hot sequence.
func (e *EncoderModel) Predict(input []float32) State {
	cfg, params := e.net.Config, e.net.Params
	Te, H := cfg.MaxEncoderSeqLength, cfg.LatentDim
	state := State{H: make([]float32, H), C: make([]float32, H)}
	if Te == 0 {
		return state
	}
	gates := make([]float32, Te*4*H)
	hs, cs, tanhcs := make([]float32, Te*H), make([]float32, Te*H), make([]float32, Te*H)
	matmulForward(gates, input, params.EncWx.data, params.EncB.data, 1, Te, cfg.InputVocabSize, 4*H)
	lstmForward(hs, cs, tanhcs, gates, params.EncWh.data, nil, nil, 1, Te, H)
	copy(state.H, hs[(Te-1)*H:])
	copy(state.C, cs[(Te-1)*H:])
	return state
}

// DecoderModel shares its weights with the network it was taken from.
type DecoderModel struct {
	net *LSTM
}

// Predict feeds one one-hot token (|target vocab|) and returns the
// distribution over the next token with the updated state.
func (d *DecoderModel) Predict(token []float32, state State) ([]float32, State) {
	cfg, params := d.net.Config, d.net.Params
	H, Vout := cfg.LatentDim, cfg.TargetVocabSize
	gates := make([]float32, 4*H)
	next := State{H: make([]float32, H), C: make([]float32, H)}
	tanhc := make([]float32, H)
	matmulForward(gates, token, params.DecWx.data, params.DecB.data, 1, 1, Vout, 4*H)
	lstmForward(next.H, next.C, tanhc, gates, params.DecWh.data, state.H, state.C, 1, 1, H)
	logits, probs := make([]float32, Vout), make([]float32, Vout)
	matmulForward(logits, next.H, params.OutW.data, params.OutB.data, 1, 1, H, Vout)
	softmaxForward(probs, logits, 1, 1, Vout)
	return probs, next
}

// WriteTo writes the network header and weights, in the style of the llm.c
// checkpoints: a 256 int32 header followed by float32 parameters.
func (model *LSTM) WriteTo(w io.Writer) (int64, error) {
	header := make([]int32, 256)
	header[0] = networkMagic
	header[1] = networkVersion
	header[2] = int32(model.Config.InputVocabSize)
	header[3] = int32(model.Config.TargetVocabSize)
	header[4] = int32(model.Config.LatentDim)
	header[5] = int32(model.Config.MaxEncoderSeqLength)
	header[6] = int32(model.Config.MaxDecoderSeqLength)
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return 0, errors.Wrap(err, "error writing network header")
	}
	if err := binary.Write(w, binary.LittleEndian, model.Params.Memory); err != nil {
		return 0, errors.Wrap(err, "error writing network weights")
	}
	return int64(4*len(header) + 4*model.Params.Len()), nil
}

// maxParameters bounds the size of a network read from a file.
const maxParameters = 1 << 28

// check rejects sizes that cannot describe a network of at most
// maxParameters weights.
func (cfg LSTMConfig) check() error {
	// an input vocabulary is empty when every input text is
	if cfg.InputVocabSize < 0 || cfg.MaxEncoderSeqLength < 0 ||
		cfg.TargetVocabSize <= 0 || cfg.LatentDim <= 0 || cfg.MaxDecoderSeqLength <= 0 {
		return errors.Errorf("bad network size %+v", cfg)
	}
	for _, d := range []int{cfg.InputVocabSize, cfg.TargetVocabSize, cfg.LatentDim, cfg.MaxEncoderSeqLength, cfg.MaxDecoderSeqLength} {
		if d > maxParameters {
			return errors.Errorf("bad network size %+v", cfg)
		}
	}
	Vin, Vout, H := int64(cfg.InputVocabSize), int64(cfg.TargetVocabSize), int64(cfg.LatentDim)
	n := 4*H*(Vin+Vout+2*H+2) + Vout*(H+1)
	if n > maxParameters {
		return errors.Errorf("network %+v has too many parameters: %d", cfg, n)
	}
	return nil
}

// readLSTM is the inverse of WriteTo. The header must describe the network
// sized by want. The returned network is ready for inference; its optimizer
// state starts empty.
func readLSTM(r io.Reader, want LSTMConfig) (*LSTM, error) {
	header := make([]int32, 256)
	if err := binary.Read(r, binary.LittleEndian, header); err != nil {
		return nil, errors.Wrap(err, "error reading network header")
	}
	if header[0] != networkMagic || header[1] != networkVersion {
		return nil, errors.New("bad network format")
	}
	model := &LSTM{
		Config: LSTMConfig{
			InputVocabSize:      int(header[2]),
			TargetVocabSize:     int(header[3]),
			LatentDim:           int(header[4]),
			MaxEncoderSeqLength: int(header[5]),
			MaxDecoderSeqLength: int(header[6]),
		},
	}
	if model.Config != want {
		return nil, errors.Errorf("network %+v does not match %+v", model.Config, want)
	}
	if err := model.Config.check(); err != nil {
		return nil, err
	}
	model.Params.Init(model.Config.InputVocabSize, model.Config.TargetVocabSize, model.Config.LatentDim)
	if err := binary.Read(r, binary.LittleEndian, model.Params.Memory); err != nil {
		return nil, errors.Wrap(err, "error reading network weights")
	}
	return model, nil
}
