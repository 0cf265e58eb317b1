package seq2seq

// Config holds the estimator's constructor parameters.
type Config struct {
	BatchSize int `json:"batch_size" mapstructure:"batch_size"`
	Epochs    int `json:"epochs" mapstructure:"epochs"`
	LatentDim int `json:"latent_dim" mapstructure:"latent_dim"`
	// ValidationSplit is the held-out fraction used for early stopping when
	// no explicit evaluation set is given; nil disables it.
	ValidationSplit *float64 `json:"validation_split" mapstructure:"validation_split"`
	GradClipping    float64  `json:"grad_clipping" mapstructure:"grad_clipping"`
	LR              float64  `json:"lr" mapstructure:"lr"`
	WeightDecay     float64  `json:"weight_decay" mapstructure:"weight_decay"`
	Lowercase       bool     `json:"lowercase" mapstructure:"lowercase"`
	Verbose         bool     `json:"verbose" mapstructure:"verbose"`
	// RandomState seeds the validation split, the batch order and the weight
	// initialisation; nil means a different seed on every fit.
	RandomState *int64 `json:"random_state" mapstructure:"random_state"`
}

// DefaultConfig returns the default parameters.
func DefaultConfig() Config {
	return Config{
		BatchSize:       64,
		Epochs:          10,
		LatentDim:       256,
		ValidationSplit: Float(0.2),
		GradClipping:    1.0,
		LR:              0.001,
		WeightDecay:     0.0001,
		Lowercase:       true,
	}
}

// Float returns a pointer to v, for ValidationSplit.
func Float(v float64) *float64 {
	return &v
}

// Int returns a pointer to v, for RandomState.
func Int(v int64) *int64 {
	return &v
}

// Validate checks every parameter range and reports the first violation.
func (c Config) Validate() error {
	if c.BatchSize <= 0 {
		return newConfigError("batch_size", c.BatchSize, "`batch_size` must be a positive number! %d is not positive.", c.BatchSize)
	}
	if c.Epochs <= 0 {
		return newConfigError("epochs", c.Epochs, "`epochs` must be a positive number! %d is not positive.", c.Epochs)
	}
	if c.LatentDim <= 0 {
		return newConfigError("latent_dim", c.LatentDim, "`latent_dim` must be a positive number! %d is not positive.", c.LatentDim)
	}
	if c.ValidationSplit != nil {
		if v := *c.ValidationSplit; !(v > 0 && v < 1) {
			return newConfigError("validation_split", v, "`validation_split` must be greater than 0.0 and less than 1.0! %g is out of range.", v)
		}
	}
	if !(c.LR > 0) {
		return newConfigError("lr", c.LR, "`lr` must be a positive floating-point value! %g is not positive.", c.LR)
	}
	if !(c.GradClipping >= 0) {
		return newConfigError("grad_clipping", c.GradClipping, "`grad_clipping` must be a non-negative floating-point value! %g is negative.", c.GradClipping)
	}
	if !(c.WeightDecay >= 0) {
		return newConfigError("weight_decay", c.WeightDecay, "`weight_decay` must be a non-negative floating-point value! %g is negative.", c.WeightDecay)
	}
	return nil
}

func (c Config) optimizer() OptimizerConfig {
	return OptimizerConfig{
		LearningRate: float32(c.LR),
		Beta1:        0.9,
		Beta2:        0.999,
		Eps:          1e-8,
		WeightDecay:  float32(c.WeightDecay),
		GradClip:     float32(c.GradClipping),
	}
}
