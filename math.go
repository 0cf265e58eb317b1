package seq2seq

import (
	"math"
	"sync"
)

// matmulForward computes out = inp @ weight^T + bias for every (b, t).
// inp is (B, T, C), weight is (OC, C), bias is (OC) or nil, out is (B, T, OC).
func matmulForward(out, inp, weight, bias []float32, B, T, C, OC int) {
	var wg sync.WaitGroup
	for b := 0; b < B; b++ {
		wg.Add(1)
		go func(b int) {
			defer wg.Done()
			for t := 0; t < T; t++ {
				inpBT := inp[b*T*C+t*C : b*T*C+t*C+C]
				outBT := out[b*T*OC+t*OC : b*T*OC+t*OC+OC]
				for o := 0; o < OC; o++ {
					var val float64
					if bias != nil {
						val = float64(bias[o])
					}
					wrow := weight[o*C : o*C+C]
					for i, x := range inpBT {
						// one-hot inputs are mostly zero
						if x != 0 {
							val += float64(x) * float64(wrow[i])
						}
					}
					outBT[o] = float32(val)
				}
			}
		}(b)
	}
	wg.Wait()
}

// matmulBackward accumulates the gradients of matmulForward. dinp may be nil
// when the input is data rather than an activation.
func matmulBackward(dinp, dweight, dbias, dout, inp, weight []float32, B, T, C, OC int) {
	var wg sync.WaitGroup
	if dinp != nil {
		for b := 0; b < B; b++ {
			wg.Add(1)
			go func(b int) {
				defer wg.Done()
				for t := 0; t < T; t++ {
					doutBT := dout[b*T*OC+t*OC : b*T*OC+t*OC+OC]
					dinpBT := dinp[b*T*C+t*C : b*T*C+t*C+C]
					for o, d := range doutBT {
						if d == 0 {
							continue
						}
						wrow := weight[o*C : o*C+C]
						for i := range dinpBT {
							dinpBT[i] += wrow[i] * d
						}
					}
				}
			}(b)
		}
		wg.Wait()
	}
	// Backward into weight/bias, parallelize over output channels OC
	for o := 0; o < OC; o++ {
		wg.Add(1)
		go func(o int) {
			defer wg.Done()
			dwrow := dweight[o*C : o*C+C]
			for b := 0; b < B; b++ {
				for t := 0; t < T; t++ {
					d := dout[b*T*OC+t*OC+o]
					if d == 0 {
						continue
					}
					if dbias != nil {
						dbias[o] += d
					}
					inpBT := inp[b*T*C+t*C : b*T*C+t*C+C]
					for i, x := range inpBT {
						dwrow[i] += x * d
					}
				}
			}
		}(o)
	}
	wg.Wait()
}

func sigmoid(x float32) float32 {
	return 1 / (1 + Exp(-x))
}

// lstmForward runs an LSTM over T steps. On entry gates holds the input
// projections (B, T, 4H) including the bias; on exit it holds the gate
// activations ordered i, f, g, o. h0 and c0 are (B, H) initial states, nil
// meaning zeros. hs, cs and tanhcs are (B, T, H).
func lstmForward(hs, cs, tanhcs, gates, wh, h0, c0 []float32, B, T, H int) {
	H4 := 4 * H
	zeros := make([]float32, H)
	var wg sync.WaitGroup
	for t := 0; t < T; t++ {
		for b := 0; b < B; b++ {
			wg.Add(1)
			go func(b int) {
				defer wg.Done()
				hprev, cprev := zeros, zeros
				if t > 0 {
					hprev = hs[b*T*H+(t-1)*H : b*T*H+t*H]
					cprev = cs[b*T*H+(t-1)*H : b*T*H+t*H]
				} else {
					if h0 != nil {
						hprev = h0[b*H : b*H+H]
					}
					if c0 != nil {
						cprev = c0[b*H : b*H+H]
					}
				}
				g := gates[b*T*H4+t*H4 : b*T*H4+t*H4+H4]
				for j := 0; j < H4; j++ {
					val := float64(g[j])
					wrow := wh[j*H : j*H+H]
					for k, h := range hprev {
						val += float64(wrow[k]) * float64(h)
					}
					if j >= 2*H && j < 3*H {
						g[j] = Tanh(float32(val))
					} else {
						g[j] = sigmoid(float32(val))
					}
				}
				base := b*T*H + t*H
				for k := 0; k < H; k++ {
					in, forget, cand, out := g[k], g[H+k], g[2*H+k], g[3*H+k]
					c := forget*cprev[k] + in*cand
					tc := Tanh(c)
					cs[base+k] = c
					tanhcs[base+k] = tc
					hs[base+k] = out * tc
				}
			}(b)
		}
		wg.Wait()
	}
}

// lstmBackward backpropagates through lstmForward.
// dhs (B, T, H) is the gradient flowing into every hidden state from above;
// dhLast and dcLast (B, H) flow into the final state and may be nil.
// dgates (B, T, 4H) receives gate pre-activation gradients, which are also the
// input projection gradients. dh0 and dc0 (B, H) receive the gradients of the
// initial states and may be nil.
func lstmBackward(dgates, dwh, dh0, dc0, dhs, dhLast, dcLast, gates, cs, tanhcs, hs, wh, h0, c0 []float32, B, T, H int) {
	H4 := 4 * H
	zeros := make([]float32, H)
	dhNext := make([]float32, B*H)
	dcNext := make([]float32, B*H)
	if dhLast != nil {
		copy(dhNext, dhLast[:B*H])
	}
	if dcLast != nil {
		copy(dcNext, dcLast[:B*H])
	}
	prevState := func(b, t int) ([]float32, []float32) {
		if t > 0 {
			return hs[b*T*H+(t-1)*H : b*T*H+t*H], cs[b*T*H+(t-1)*H : b*T*H+t*H]
		}
		hprev, cprev := zeros, zeros
		if h0 != nil {
			hprev = h0[b*H : b*H+H]
		}
		if c0 != nil {
			cprev = c0[b*H : b*H+H]
		}
		return hprev, cprev
	}
	var wg sync.WaitGroup
	for t := T - 1; t >= 0; t-- {
		for b := 0; b < B; b++ {
			wg.Add(1)
			go func(b int) {
				defer wg.Done()
				_, cprev := prevState(b, t)
				base := b*T*H + t*H
				g := gates[b*T*H4+t*H4 : b*T*H4+t*H4+H4]
				dg := dgates[b*T*H4+t*H4 : b*T*H4+t*H4+H4]
				dhN := dhNext[b*H : b*H+H]
				dcN := dcNext[b*H : b*H+H]
				for k := 0; k < H; k++ {
					in, forget, cand, out := g[k], g[H+k], g[2*H+k], g[3*H+k]
					tc := tanhcs[base+k]
					dh := dhs[base+k] + dhN[k]
					dc := dcN[k] + dh*out*(1-tc*tc)
					dg[k] = dc * cand * in * (1 - in)
					dg[H+k] = dc * cprev[k] * forget * (1 - forget)
					dg[2*H+k] = dc * in * (1 - cand*cand)
					dg[3*H+k] = dh * tc * out * (1 - out)
					dcN[k] = dc * forget
				}
				// dh of the previous step goes through the recurrent kernel
				for k := range dhN {
					dhN[k] = 0
				}
				for j := 0; j < H4; j++ {
					d := dg[j]
					if d == 0 {
						continue
					}
					wrow := wh[j*H : j*H+H]
					for k := range dhN {
						dhN[k] += wrow[k] * d
					}
				}
			}(b)
		}
		wg.Wait()
		for j := 0; j < H4; j++ {
			wg.Add(1)
			go func(j int) {
				defer wg.Done()
				dwrow := dwh[j*H : j*H+H]
				for b := 0; b < B; b++ {
					d := dgates[b*T*H4+t*H4+j]
					if d == 0 {
						continue
					}
					hprev, _ := prevState(b, t)
					for k, h := range hprev {
						dwrow[k] += h * d
					}
				}
			}(j)
		}
		wg.Wait()
	}
	if dh0 != nil {
		copy(dh0[:B*H], dhNext)
	}
	if dc0 != nil {
		copy(dc0[:B*H], dcNext)
	}
}

func softmaxForward(probs, logits []float32, B, T, V int) {
	for b := 0; b < B; b++ {
		for t := 0; t < T; t++ {
			baseIndex := b*T*V + t*V
			logitsBT := logits[baseIndex : baseIndex+V]
			probsBT := probs[baseIndex : baseIndex+V]
			// Numerical Stability
			maxval := float32(math.Inf(-1))
			for i := 0; i < V; i++ {
				if logitsBT[i] > maxval {
					maxval = logitsBT[i]
				}
			}
			sum := 0.0
			for i := 0; i < V; i++ {
				probsBT[i] = float32(math.Exp(float64(logitsBT[i] - maxval)))
				sum += float64(probsBT[i])
			}
			for i := 0; i < V; i++ {
				probsBT[i] /= float32(sum)
			}
		}
	}
}

// probEpsilon keeps log away from zero, as Keras clips probabilities.
const probEpsilon = 1e-7

// crossEntropyForward computes the categorical cross-entropy of every (b, t)
// against one-hot targets (B, T, V). All-zero padding rows have zero loss.
func crossEntropyForward(losses, probs, targets []float32, B, T, V int) {
	for b := 0; b < B; b++ {
		for t := 0; t < T; t++ {
			baseIndex := b*T*V + t*V
			var loss float64
			for i := 0; i < V; i++ {
				y := targets[baseIndex+i]
				if y == 0 {
					continue
				}
				p := math.Max(float64(probs[baseIndex+i]), probEpsilon)
				loss -= float64(y) * math.Log(p)
			}
			losses[b*T+t] = float32(loss)
		}
	}
}

// crossentropySoftmaxBackward accumulates dlogits = (p * sum(y) - y) * dloss,
// which is zero for padding rows.
func crossentropySoftmaxBackward(dlogits, dlosses, probs, targets []float32, B, T, V int) {
	for b := 0; b < B; b++ {
		for t := 0; t < T; t++ {
			baseIndex := b*T*V + t*V
			dlogitsBT := dlogits[baseIndex : baseIndex+V]
			probsBT := probs[baseIndex : baseIndex+V]
			targetsBT := targets[baseIndex : baseIndex+V]
			dloss := dlosses[b*T+t]
			var mass float32
			for _, y := range targetsBT {
				mass += y
			}
			if mass == 0 {
				continue
			}
			for i := 0; i < V; i++ {
				dlogitsBT[i] += (probsBT[i]*mass - targetsBT[i]) * dloss
			}
		}
	}
}

// clipGradNorm rescales grads in place so that their global L2 norm is at
// most maxNorm and returns the norm before clipping.
func clipGradNorm(grads []float32, maxNorm float32) float32 {
	var sum float64
	for _, g := range grads {
		sum += float64(g) * float64(g)
	}
	norm := float32(math.Sqrt(sum))
	if maxNorm > 0 && norm > maxNorm {
		scale := maxNorm / norm
		for i := range grads {
			grads[i] *= scale
		}
	}
	return norm
}
