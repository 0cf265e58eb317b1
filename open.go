package seq2seq

import (
	"io"
	"os"
)

// Open opens a corpus or model file for reading.
func Open(name string) (io.ReadCloser, error) {
	return os.Open(name)
}
