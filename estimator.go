package seq2seq

import (
	"context"
	"runtime"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Estimator learns to transform tokenized input texts into tokenized target
// texts with a character-level LSTM encoder-decoder.
//
// An Estimator starts unfitted. A successful Fit replaces its FittedModel as
// a whole; a failed Fit leaves the previous one in place.
type Estimator struct {
	Config Config

	logger *zap.Logger
	model  atomic.Pointer[FittedModel]
}

// Option configures an Estimator.
type Option func(*Estimator)

// WithLogger sets the logger training progress is reported to.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Estimator) {
		e.logger = logger
	}
}

// NewEstimator returns an unfitted estimator. Without WithLogger, progress
// goes to a development logger when cfg.Verbose is set and nowhere otherwise.
func NewEstimator(cfg Config, opts ...Option) *Estimator {
	e := &Estimator{Config: cfg}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// log picks the logger for one fit from the configuration of that fit.
func (e *Estimator) log(cfg Config) *zap.Logger {
	if e.logger != nil {
		return e.logger
	}
	if cfg.Verbose {
		if logger, err := zap.NewDevelopment(); err == nil {
			return logger
		}
	}
	return zap.NewNop()
}

// Fitted returns the trained state, or ErrNotFitted.
func (e *Estimator) Fitted() (*FittedModel, error) {
	model := e.model.Load()
	if model == nil {
		return nil, ErrNotFitted
	}
	return model, nil
}

// Fit trains on the text pairs X and y, see FitContext.
func (e *Estimator) Fit(X, y, evalSet any) (*Estimator, error) {
	return e.FitContext(context.Background(), X, y, evalSet)
}

// FitContext trains on the tokenized text pairs X and y. evalSet may be nil,
// an EvalPair, or a two-element slice holding its X and y; when given it is
// the held-out set for early stopping, otherwise Config.ValidationSplit
// decides whether a random part of X and y is held out. Cancellation of ctx
// is observed between epochs.
func (e *Estimator) FitContext(ctx context.Context, X, y, evalSet any) (*Estimator, error) {
	cfg := e.Config
	if err := cfg.Validate(); err != nil {
		return e, err
	}
	texts, targets, err := checkPair(X, y, "X", "y")
	if err != nil {
		return e, err
	}
	eval, err := checkEvalSet(evalSet)
	if err != nil {
		return e, err
	}
	if len(texts) == 0 {
		return e, newInputError("`X` is empty!")
	}

	logger := e.log(cfg)
	rng := newRand(cfg.RandomState)
	vocabs := BuildVocabularies(texts, targets, cfg.Lowercase)

	trainX, trainY := texts, targets
	var held *TextPairSequence
	switch {
	case eval != nil && len(eval.X) > 0:
		held = NewTextPairSequence(eval.X, eval.Y, cfg.BatchSize, vocabs, cfg.Lowercase)
	case eval == nil && cfg.ValidationSplit != nil:
		trainIdx, heldIdx := splitIndices(rng, len(texts), *cfg.ValidationSplit)
		if len(heldIdx) > 0 {
			held = NewTextPairSequence(selectTexts(texts, heldIdx), selectTexts(targets, heldIdx), cfg.BatchSize, vocabs, cfg.Lowercase)
			trainX, trainY = selectTexts(texts, trainIdx), selectTexts(targets, trainIdx)
		}
	}
	train := NewTextPairSequence(trainX, trainY, cfg.BatchSize, vocabs, cfg.Lowercase)

	net := NewLSTM(LSTMConfig{
		InputVocabSize:      vocabs.Input.Len(),
		TargetVocabSize:     vocabs.Target.Len(),
		LatentDim:           cfg.LatentDim,
		MaxEncoderSeqLength: vocabs.MaxEncoderSeqLength,
		MaxDecoderSeqLength: vocabs.MaxDecoderSeqLength,
	}, cfg.optimizer(), rng)
	logger.Info("fitting",
		zap.Int("train_pairs", train.NumTextPairs),
		zap.Int("held_out_pairs", heldPairs(held)),
		zap.Int("input_vocab_size", vocabs.Input.Len()),
		zap.Int("target_vocab_size", vocabs.Target.Len()),
		zap.Int("max_encoder_seq_length", vocabs.MaxEncoderSeqLength),
		zap.Int("max_decoder_seq_length", vocabs.MaxDecoderSeqLength),
		zap.Int("num_parameters", net.Params.Len()))

	tr := &trainer{
		net:    net,
		epochs: cfg.Epochs,
		rng:    rng,
		logger: logger,
	}
	if err := tr.run(ctx, train, held); err != nil {
		return e, err
	}
	e.model.Store(newFittedModel(vocabs, cfg.Lowercase, net))
	return e, nil
}

func heldPairs(held *TextPairSequence) int {
	if held == nil {
		return 0
	}
	return held.NumTextPairs
}

// Predict decodes every text of X greedily. It fails with ErrNotFitted
// before any check of X when the estimator has not been fitted.
func (e *Estimator) Predict(X any) ([]string, error) {
	model, err := e.Fitted()
	if err != nil {
		return nil, err
	}
	texts, err := CheckX(X, "X")
	if err != nil {
		return nil, err
	}
	return model.Predict(texts), nil
}

// FitTexts is FitContext for callers that already hold []string texts.
func (e *Estimator) FitTexts(ctx context.Context, X, y []string, evalSet *EvalPair) (*Estimator, error) {
	return e.FitContext(ctx, X, y, evalSet)
}

// PredictTexts is Predict for []string texts.
func (e *Estimator) PredictTexts(X []string) ([]string, error) {
	model, err := e.Fitted()
	if err != nil {
		return nil, err
	}
	return model.Predict(X), nil
}

// FitPredict fits on X and y and then predicts X.
func (e *Estimator) FitPredict(X, y, evalSet any) ([]string, error) {
	if _, err := e.Fit(X, y, evalSet); err != nil {
		return nil, err
	}
	return e.Predict(X)
}

// FittedModel is everything a successful fit produces.
type FittedModel struct {
	Vocabularies
	// ReverseTargetIndex maps target indices back to tokens.
	ReverseTargetIndex []string
	Lowercase          bool
	Network            *LSTM
	Encoder            *EncoderModel
	Decoder            *DecoderModel
}

func newFittedModel(vocabs Vocabularies, lowercase bool, net *LSTM) *FittedModel {
	return &FittedModel{
		Vocabularies:       vocabs,
		ReverseTargetIndex: vocabs.Target.Tokens(),
		Lowercase:          lowercase,
		Network:            net,
		Encoder:            net.Encoder(),
		Decoder:            net.Decoder(),
	}
}

// Predict decodes texts concurrently; the result is in input order.
func (m *FittedModel) Predict(texts []string) []string {
	out := make([]string, len(texts))
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, text := range texts {
		g.Go(func() error {
			out[i] = m.Decode(text)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Decode runs the encoder once and then the decoder one token at a time,
// always taking the most probable token, until the end marker or
// max_decoder_seq_length-1 tokens. The result is space-joined tokens.
func (m *FittedModel) Decode(text string) string {
	Te := m.MaxEncoderSeqLength
	input := make([]float32, Te*m.Input.Len())
	encodeOneHot(input, SplitTokens(text, m.Lowercase), m.Input, Te)
	state := m.Encoder.Predict(input)

	token := make([]float32, m.Target.Len())
	idx := m.Target[StartToken]
	endIdx := m.Target[EndToken]
	var out []string
	for len(out) < m.MaxDecoderSeqLength-1 {
		clear(token)
		token[idx] = 1
		probs, next := m.Decoder.Predict(token, state)
		idx = argmax(probs)
		if idx == endIdx {
			break
		}
		out = append(out, m.ReverseTargetIndex[idx])
		state = next
	}
	return strings.Join(out, " ")
}
