package seq2seq

import (
	"fmt"
	"reflect"
)

// EvalPair is a held-out evaluation set for early stopping.
type EvalPair struct {
	X []string
	Y []string
}

// CheckX verifies that X is a one-dimensional list of texts and returns it
// as a []string. Slices and arrays of strings (or of fmt.Stringer values)
// are accepted; maps, which is how sets are spelled in Go, nested slices and
// non-text samples are rejected.
func CheckX(X any, name string) ([]string, error) {
	if texts, ok := X.([]string); ok {
		return texts, nil
	}
	rv := reflect.ValueOf(X)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, newInputError("`%T` is wrong type for `%s`.", X, name)
	}
	if isNested(rv.Type().Elem()) {
		return nil, newInputError("`%s` must be a 1-D array!", name)
	}
	texts := make([]string, rv.Len())
	for i := range texts {
		el := rv.Index(i)
		if el.Kind() == reflect.Interface && !el.IsNil() {
			el = el.Elem()
		}
		if isNested(el.Type()) {
			return nil, newInputError("`%s` must be a 1-D array!", name)
		}
		if el.Kind() == reflect.String {
			texts[i] = el.String()
			continue
		}
		s, ok := el.Interface().(fmt.Stringer)
		if !ok {
			return nil, newInputError("Sample %d of `%s` is wrong! This sample is not a text.", i, name)
		}
		texts[i] = s.String()
	}
	return texts, nil
}

func isNested(t reflect.Type) bool {
	return t.Kind() == reflect.Slice || t.Kind() == reflect.Array
}

// checkPair validates X and y and that they are index-aligned.
func checkPair(X, y any, nameX, nameY string) ([]string, []string, error) {
	texts, err := CheckX(X, nameX)
	if err != nil {
		return nil, nil, err
	}
	targets, err := CheckX(y, nameY)
	if err != nil {
		return nil, nil, err
	}
	if len(texts) != len(targets) {
		return nil, nil, newInputError("`%s` does not correspond to `%s`! %d != %d.", nameX, nameY, len(texts), len(targets))
	}
	return texts, targets, nil
}

// checkEvalSet accepts nil, an EvalPair (or pointer to one), or a
// two-element slice or array holding X and y.
func checkEvalSet(evalSet any) (*EvalPair, error) {
	var X, y any
	switch v := evalSet.(type) {
	case nil:
		return nil, nil
	case *EvalPair:
		if v == nil {
			return nil, nil
		}
		X, y = v.X, v.Y
	case EvalPair:
		X, y = v.X, v.Y
	default:
		rv := reflect.ValueOf(evalSet)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return nil, newInputError("`eval_set` must be `[2]any` or `[]any`, not `%T`!", evalSet)
		}
		if rv.Len() != 2 {
			return nil, newInputError("`eval_set` must be a two-element sequence! %d != 2", rv.Len())
		}
		X, y = rv.Index(0).Interface(), rv.Index(1).Interface()
	}
	texts, targets, err := checkPair(X, y, "X_eval_set", "y_eval_set")
	if err != nil {
		return nil, err
	}
	return &EvalPair{X: texts, Y: targets}, nil
}
