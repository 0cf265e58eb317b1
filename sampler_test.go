package seq2seq

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_argmax(t *testing.T) {
	type args struct {
		probabilities []float32
	}
	tests := []struct {
		name string
		args args
		want int
	}{
		{
			name: "single",
			args: args{probabilities: []float32{1}},
			want: 0,
		},
		{
			name: "max in the middle",
			args: args{probabilities: []float32{0.1, 0.7, 0.2}},
			want: 1,
		},
		{
			name: "ties resolve to the lowest index",
			args: args{probabilities: []float32{0.2, 0.4, 0.4}},
			want: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equalf(t, tt.want, argmax(tt.args.probabilities), "argmax(%v)", tt.args.probabilities)
		})
	}
}
