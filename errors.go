package seq2seq

import (
	"fmt"
)

// ConfigError reports an estimator parameter outside of its valid range.
type ConfigError struct {
	Param string
	Value any
	msg   string
}

func (e *ConfigError) Error() string {
	return e.msg
}

func newConfigError(param string, value any, format string, args ...any) *ConfigError {
	return &ConfigError{
		Param: param,
		Value: value,
		msg:   fmt.Sprintf(format, args...),
	}
}

// InputError reports malformed texts passed to Fit or Predict.
type InputError struct {
	msg string
}

func (e *InputError) Error() string {
	return e.msg
}

func newInputError(format string, args ...any) *InputError {
	return &InputError{msg: fmt.Sprintf(format, args...)}
}

// NotFittedError is returned when a model is used before Fit succeeded.
type NotFittedError struct{}

func (e *NotFittedError) Error() string {
	return "this Seq2Seq instance is not fitted yet, call Fit with appropriate arguments before using this estimator"
}

// ErrNotFitted is the only NotFittedError value.
var ErrNotFitted error = &NotFittedError{}
