package main

import (
	"github.com/joshcarp/seq2seq"
)

func main() {
	seq2seq.InitializeCommand()
}
