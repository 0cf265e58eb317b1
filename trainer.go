package seq2seq

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// earlyStoppingPatience is the number of epochs without a strictly lower
// held-out loss after which training stops.
const earlyStoppingPatience = 5

type trainable interface {
	TrainBatch(Batch) (float32, error)
	EvalBatch(Batch) (float32, error)
	Snapshot() []float32
	Restore([]float32)
}

type trainer struct {
	net    trainable
	epochs int
	rng    *rand.Rand
	logger *zap.Logger
}

// run trains for up to tr.epochs epochs. With a held-out sequence the
// weights with the lowest held-out loss are restored before returning.
func (tr *trainer) run(ctx context.Context, train, held *TextPairSequence) error {
	best := math.Inf(1)
	var bestWeights []float32
	wait := 0
	for epoch := 1; epoch <= tr.epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()
		loss, err := tr.trainEpoch(train)
		if err != nil {
			return err
		}
		fields := []zap.Field{
			zap.Int("epoch", epoch),
			zap.Int("epochs", tr.epochs),
			zap.Float32("loss", loss),
		}
		stop := false
		if held != nil {
			valLoss, err := tr.evaluate(held)
			if err != nil {
				return err
			}
			fields = append(fields, zap.Float32("val_loss", valLoss))
			if float64(valLoss) < best {
				best = float64(valLoss)
				bestWeights = tr.net.Snapshot()
				wait = 0
			} else {
				wait++
				stop = wait >= earlyStoppingPatience
			}
		}
		fields = append(fields, zap.Duration("took", time.Since(start)))
		tr.logger.Info("epoch finished", fields...)
		if stop {
			tr.logger.Info("early stopping", zap.Int("epoch", epoch), zap.Float64("best_val_loss", best))
			break
		}
	}
	if bestWeights != nil {
		tr.net.Restore(bestWeights)
	}
	return nil
}

// trainEpoch visits every batch once in a random order while the next
// batch is being built in the background.
func (tr *trainer) trainEpoch(seq *TextPairSequence) (float32, error) {
	order := tr.rng.Perm(seq.Len())
	batches := make(chan Batch, 1)
	var g errgroup.Group
	g.Go(func() error {
		defer close(batches)
		for _, i := range order {
			batch, err := seq.Batch(i)
			if err != nil {
				return err
			}
			batches <- batch
		}
		return nil
	})

	var total float64
	var n int
	var trainErr error
	for batch := range batches {
		if trainErr != nil {
			continue
		}
		loss, err := tr.net.TrainBatch(batch)
		if err != nil {
			trainErr = err
			continue
		}
		total += float64(loss) * float64(batch.Size())
		n += batch.Size()
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	if trainErr != nil {
		return 0, trainErr
	}
	if n == 0 {
		return 0, nil
	}
	return float32(total / float64(n)), nil
}

// evaluate returns the sample-weighted mean loss over seq.
func (tr *trainer) evaluate(seq *TextPairSequence) (float32, error) {
	var total float64
	var n int
	for i := 0; i < seq.Len(); i++ {
		batch, err := seq.Batch(i)
		if err != nil {
			return 0, err
		}
		loss, err := tr.net.EvalBatch(batch)
		if err != nil {
			return 0, err
		}
		total += float64(loss) * float64(batch.Size())
		n += batch.Size()
	}
	if n == 0 {
		return 0, nil
	}
	return float32(total / float64(n)), nil
}
