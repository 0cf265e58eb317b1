package seq2seq

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "seq2seq",
	Short: "Train and run a character-level sequence-to-sequence LSTM",
	Long: `
		This CLI trains an LSTM encoder-decoder on a tab-separated parallel corpus,
		saves it to a single model file and uses it to transform new texts, one per line.

		Examples:
		  seq2seq train --data eng_rus.txt --model eng_rus.model --epochs 50
		  seq2seq predict --model eng_rus.model < input.txt
		  seq2seq eval --model eng_rus.model --data eng_rus_test.txt
	`,
	SilenceUsage: true,
}

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Fit a model on a parallel corpus",
	RunE:  runTrain,
}

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Transform texts read from stdin, one per line",
	RunE:  runPredict,
}

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Report the exact-match accuracy of a model on a parallel corpus",
	RunE:  runEval,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (e.g. seq2seq.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "set the logging level (e.g. debug, info, warn, error)")
	rootCmd.PersistentFlags().String("model", "seq2seq.model", "model file")
	mustBindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	mustBindPFlag("model", rootCmd.PersistentFlags().Lookup("model"))

	defaults := DefaultConfig()
	trainCmd.Flags().String("data", "", "tab-separated training corpus")
	trainCmd.Flags().String("eval-data", "", "tab-separated held-out corpus for early stopping")
	trainCmd.Flags().Int("batch-size", defaults.BatchSize, "mini-batch size")
	trainCmd.Flags().Int("epochs", defaults.Epochs, "maximum number of epochs")
	trainCmd.Flags().Int("latent-dim", defaults.LatentDim, "LSTM state size")
	trainCmd.Flags().Float64("validation-split", *defaults.ValidationSplit, "held-out fraction for early stopping, 0 disables it")
	trainCmd.Flags().Float64("grad-clipping", defaults.GradClipping, "global gradient norm limit, 0 disables it")
	trainCmd.Flags().Float64("lr", defaults.LR, "learning rate")
	trainCmd.Flags().Float64("weight-decay", defaults.WeightDecay, "L2 penalty on the kernels")
	trainCmd.Flags().Bool("lowercase", defaults.Lowercase, "lowercase all tokens")
	trainCmd.Flags().Bool("verbose", true, "log every epoch")
	trainCmd.Flags().Int64("random-state", 0, "seed, unset means random")
	for _, name := range []string{"data", "eval-data", "batch-size", "epochs", "latent-dim", "validation-split",
		"grad-clipping", "lr", "weight-decay", "lowercase", "verbose", "random-state"} {
		mustBindPFlag(strings.ReplaceAll(name, "-", "_"), trainCmd.Flags().Lookup(name))
	}

	evalCmd.Flags().String("data", "", "tab-separated evaluation corpus")
	mustBindPFlag("eval.data", evalCmd.Flags().Lookup("data"))

	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(predictCmd)
	rootCmd.AddCommand(evalCmd)
}

func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(err)
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("seq2seq")
	}
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("SEQ2SEQ")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	} else if cfgFile != "" {
		fmt.Fprintf(os.Stderr, "Error reading config file [%s]: %v\n", viper.ConfigFileUsed(), err)
		os.Exit(1)
	}
}

// configFromViper maps flags, environment and config file onto a Config.
func configFromViper(v *viper.Viper) Config {
	cfg := Config{
		BatchSize:    v.GetInt("batch_size"),
		Epochs:       v.GetInt("epochs"),
		LatentDim:    v.GetInt("latent_dim"),
		GradClipping: v.GetFloat64("grad_clipping"),
		LR:           v.GetFloat64("lr"),
		WeightDecay:  v.GetFloat64("weight_decay"),
		Lowercase:    v.GetBool("lowercase"),
		Verbose:      v.GetBool("verbose"),
	}
	if split := v.GetFloat64("validation_split"); split > 0 {
		cfg.ValidationSplit = Float(split)
	}
	if v.IsSet("random_state") {
		cfg.RandomState = Int(v.GetInt64("random_state"))
	}
	return cfg
}

func newLogger(v *viper.Viper) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(v.GetString("log.level"))
	if err != nil {
		return nil, errors.Wrap(err, "bad log level")
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = level
	return cfg.Build()
}

func runTrain(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger, err := newLogger(viper.GetViper())
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	data := viper.GetString("data")
	if data == "" {
		return errors.New("--data is required")
	}
	inputTexts, targetTexts, err := LoadTextPairsFile(data)
	if err != nil {
		return err
	}
	var evalSet any
	if evalData := viper.GetString("eval_data"); evalData != "" {
		evalX, evalY, err := LoadTextPairsFile(evalData)
		if err != nil {
			return err
		}
		evalSet = &EvalPair{X: evalX, Y: evalY}
	}

	cfg := configFromViper(viper.GetViper())
	estimatorLogger := zap.NewNop()
	if cfg.Verbose {
		estimatorLogger = logger
	}
	estimator := NewEstimator(cfg, WithLogger(estimatorLogger))
	logger.Info("loaded corpus", zap.String("file", data), zap.Int("text_pairs", len(inputTexts)))
	if _, err := estimator.FitContext(ctx, inputTexts, targetTexts, evalSet); err != nil {
		return err
	}
	model := viper.GetString("model")
	if err := estimator.SaveFile(model); err != nil {
		return err
	}
	predicted, err := estimator.Predict(inputTexts)
	if err != nil {
		return err
	}
	logger.Info("saved model", zap.String("file", model), zap.Float64("train_accuracy", Accuracy(predicted, targetTexts)))
	return nil
}

func runPredict(cmd *cobra.Command, args []string) error {
	estimator, err := LoadEstimator(viper.GetString("model"))
	if err != nil {
		return err
	}
	return predictLines(estimator, cmd.InOrStdin(), cmd.OutOrStdout())
}

// predictLines tokenizes every input line, predicts all of them at once and
// writes the detokenized results in the same order.
func predictLines(estimator *Estimator, r io.Reader, w io.Writer) error {
	model, err := estimator.Fitted()
	if err != nil {
		return err
	}
	var texts []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		texts = append(texts, Tokenize(scanner.Text(), false))
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "error reading input")
	}
	bw := bufio.NewWriter(w)
	for _, text := range model.Predict(texts) {
		if _, err := fmt.Fprintln(bw, Detokenize(text)); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func runEval(cmd *cobra.Command, args []string) error {
	estimator, err := LoadEstimator(viper.GetString("model"))
	if err != nil {
		return err
	}
	data := viper.GetString("eval.data")
	if data == "" {
		return errors.New("--data is required")
	}
	inputTexts, targetTexts, err := LoadTextPairsFile(data)
	if err != nil {
		return err
	}
	predicted, err := estimator.Predict(inputTexts)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "accuracy: %.4f (%d text pairs)\n", Accuracy(predicted, targetTexts), len(inputTexts))
	return err
}

// InitializeCommand runs the CLI and exits non-zero on failure.
func InitializeCommand() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
