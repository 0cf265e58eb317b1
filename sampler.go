package seq2seq

// argmax returns the index of the largest probability, the lowest index on ties.
func argmax(probabilities []float32) int {
	best := 0
	for i, prob := range probabilities {
		if prob > probabilities[best] {
			best = i
		}
	}
	return best
}
