package seq2seq

import (
	"bufio"
	"io"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// LoadTextPairs reads a tab-separated parallel corpus, one "input<TAB>target"
// pair per line, and returns both sides tokenized. Blank lines are skipped;
// any other line must have exactly two non-empty fields.
func LoadTextPairs(r io.Reader) (inputTexts, targetTexts []string, err error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineIdx := 0
	for scanner.Scan() {
		lineIdx++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.Split(line, "\t")
		if len(parts) != 2 {
			return nil, nil, errors.Errorf("line %d is wrong!", lineIdx)
		}
		input, target := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
		if input == "" || target == "" {
			return nil, nil, errors.Errorf("line %d is wrong!", lineIdx)
		}
		inputTexts = append(inputTexts, Tokenize(input, false))
		targetTexts = append(targetTexts, Tokenize(target, false))
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, errors.Wrap(err, "error reading text pairs")
	}
	return inputTexts, targetTexts, nil
}

// LoadTextPairsFile is LoadTextPairs on a named file.
func LoadTextPairsFile(name string) (inputTexts, targetTexts []string, err error) {
	f, err := Open(name)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "error opening %s", name)
	}
	defer f.Close()
	inputTexts, targetTexts, err = LoadTextPairs(f)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "file %q", name)
	}
	return inputTexts, targetTexts, nil
}

// Accuracy is the share of tokenized predictions whose detokenized,
// lowercased text equals that of the reference.
func Accuracy(predicted, truth []string) float64 {
	if len(predicted) == 0 {
		return 0
	}
	lower := cases.Lower(language.Und)
	correct := 0
	for i := range predicted {
		if i < len(truth) && lower.String(Detokenize(predicted[i])) == lower.String(Detokenize(truth[i])) {
			correct++
		}
	}
	return float64(correct) / float64(len(predicted))
}
