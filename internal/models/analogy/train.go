package analogy

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/cnclabs/analogy/pkg/knowledge"
	"github.com/cnclabs/analogy/pkg/optim"
	"github.com/rs/zerolog"
)

// TrainOptions configures Train.
type TrainOptions struct {
	Epochs    int
	BatchSize int // positive triples per batch, before negatives are added
	Negatives int // corrupted triples per positive
	Workers   int // goroutines building labelled batches
	Seed      int64
	Optimizer optim.Optimizer
	Logger    zerolog.Logger
}

// DefaultTrainOptions returns AdaGrad(0.1), 100 epochs, batches of 128
// positives with 4 negatives each, and a silent logger.
func DefaultTrainOptions() TrainOptions {
	return TrainOptions{
		Epochs:    100,
		BatchSize: 128,
		Negatives: 4,
		Workers:   4,
		Seed:      1,
		Optimizer: optim.NewAdaGrad(0.1),
		Logger:    zerolog.Nop(),
	}
}

// EpochStats summarizes one epoch.
type EpochStats struct {
	Epoch   int
	Loss    float64 // mean batch loss
	Steps   int
	Elapsed time.Duration
}

// TrainStats summarizes a Train call.
type TrainStats struct {
	Epochs []EpochStats
	Steps  int
}

type labelledBatch struct {
	triples []knowledge.Triple
	labels  []float64
	err     error
}

// Train fits the model to the training triples of kg. Each epoch shuffles the
// triples, expands every positive with opts.Negatives corruptions labelled -1
// and takes one optimizer step per batch. Batches are built concurrently but
// steps run strictly in order, one at a time. ctx is checked between steps.
func (m *Analogy) Train(ctx context.Context, kg *knowledge.KnowledgeGraph, opts TrainOptions) (TrainStats, error) {
	var stats TrainStats
	switch {
	case opts.Epochs <= 0, opts.BatchSize <= 0, opts.Negatives < 0, opts.Workers <= 0:
		return stats, fmt.Errorf("epochs, batch size and workers must be positive, negatives non-negative: %w", ErrInvalidOptions)
	case opts.Optimizer == nil:
		return stats, fmt.Errorf("no optimizer: %w", ErrInvalidOptions)
	case kg.NumEntities > int64(m.numEntities):
		return stats, fmt.Errorf("graph has %d entities, model %d: %w", kg.NumEntities, m.numEntities, ErrIndexOutOfRange)
	case kg.NumRelations > int64(m.numRelations):
		return stats, fmt.Errorf("graph has %d relations, model %d: %w", kg.NumRelations, m.numRelations, ErrIndexOutOfRange)
	}

	log := opts.Logger
	log.Info().
		Int("epochs", opts.Epochs).
		Int("batch_size", opts.BatchSize).
		Int("negatives", opts.Negatives).
		Int("workers", opts.Workers).
		Int("hidden_size", m.hiddenSize).
		Float64("lambda", m.lambda).
		Msg("start training")

	shuffle := rand.New(rand.NewSource(opts.Seed))
	for epoch := 0; epoch < opts.Epochs; epoch++ {
		start := time.Now()
		batches := kg.Batches(opts.BatchSize, shuffle)

		total, steps, err := m.runEpoch(ctx, kg, batches, epoch, opts)
		stats.Steps += steps
		if err != nil {
			return stats, fmt.Errorf("epoch %d: %w", epoch+1, err)
		}

		es := EpochStats{Epoch: epoch + 1, Steps: steps, Elapsed: time.Since(start)}
		if steps > 0 {
			es.Loss = total / float64(steps)
		}
		stats.Epochs = append(stats.Epochs, es)

		log.Info().
			Int("epoch", es.Epoch).
			Float64("loss", es.Loss).
			Int("steps", es.Steps).
			Dur("elapsed", es.Elapsed).
			Msg("epoch completed")
	}

	log.Info().Int("steps", stats.Steps).Msg("training complete")
	return stats, nil
}

func (m *Analogy) runEpoch(ctx context.Context, kg *knowledge.KnowledgeGraph, batches [][]knowledge.Triple, epoch int, opts TrainOptions) (float64, int, error) {
	ctx, cancel := context.WithCancel(ctx)

	// one buffered slot per batch keeps workers from blocking if we stop early
	out := make([]chan labelledBatch, len(batches))
	for i := range out {
		out[i] = make(chan labelledBatch, 1)
	}
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < opts.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				// seeded per batch so the result does not depend on scheduling
				rng := rand.New(rand.NewSource(opts.Seed ^ int64(epoch+1)<<32 ^ int64(i)))
				out[i] <- labelBatch(kg, batches[i], opts.Negatives, rng)
			}
		}()
	}
	go func() {
		defer close(jobs)
		for i := range batches {
			select {
			case jobs <- i:
			case <-ctx.Done():
				return
			}
		}
	}()
	defer func() {
		cancel()
		wg.Wait()
	}()

	total := 0.0
	steps := 0
	for i := range batches {
		if err := ctx.Err(); err != nil {
			return total, steps, err
		}
		var lb labelledBatch
		select {
		case lb = <-out[i]:
		case <-ctx.Done():
			return total, steps, ctx.Err()
		}
		if lb.err != nil {
			return total, steps, lb.err
		}

		loss, err := m.Step(lb.triples, lb.labels, opts.Optimizer)
		if err != nil {
			return total, steps, fmt.Errorf("batch %d: %w", i, err)
		}
		total += loss
		steps++
	}
	return total, steps, nil
}

func labelBatch(kg *knowledge.KnowledgeGraph, positives []knowledge.Triple, negatives int, rng *rand.Rand) labelledBatch {
	size := len(positives) * (1 + negatives)
	lb := labelledBatch{
		triples: make([]knowledge.Triple, 0, size),
		labels:  make([]float64, 0, size),
	}
	for _, pos := range positives {
		lb.triples = append(lb.triples, pos)
		lb.labels = append(lb.labels, 1)
		for n := 0; n < negatives; n++ {
			neg, err := kg.Corrupt(pos, rng)
			if err != nil {
				lb.err = err
				return lb
			}
			lb.triples = append(lb.triples, neg)
			lb.labels = append(lb.labels, -1)
		}
	}
	return lb
}
