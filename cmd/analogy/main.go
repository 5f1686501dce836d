package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"github.com/cnclabs/analogy/internal/config"
	"github.com/cnclabs/analogy/internal/logging"
	"github.com/cnclabs/analogy/internal/models/analogy"
	"github.com/cnclabs/analogy/pkg/knowledge"
	"github.com/cnclabs/analogy/pkg/optim"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	train := flag.String("train", "", "Path to training triples file (format: head relation tail)")
	test := flag.String("test", "", "Path to test triples file for link prediction")
	output := flag.String("output", "", "Path to output embeddings file")
	dim := flag.Int("dim", 0, "Embedding dimension (even)")
	lambda := flag.Float64("lambda", 0, "L2 regularization weight")
	epochs := flag.Int("epochs", 0, "Number of training epochs")
	batchSize := flag.Int("batch-size", 0, "Positive triples per batch")
	negatives := flag.Int("negatives", 0, "Corrupted triples per positive")
	optimizer := flag.String("optimizer", "", "Optimizer: sgd or adagrad")
	learningRate := flag.Float64("lr", 0, "Learning rate")
	workers := flag.Int("workers", 0, "Goroutines building batches")
	seed := flag.Int64("seed", 0, "Random seed")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "ANALOGY - Analogical Inference for Knowledge Graph Embeddings\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Description:\n")
		fmt.Fprintf(os.Stderr, "  Scores triples with a complex-valued bilinear term (asymmetric relations)\n")
		fmt.Fprintf(os.Stderr, "  plus a real-valued DistMult term (symmetric relations), trained with a\n")
		fmt.Fprintf(os.Stderr, "  softplus logistic loss and L2 regularization.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nSettings come from defaults, then -config, then ANALOGY_* environment\n")
		fmt.Fprintf(os.Stderr, "variables (e.g. ANALOGY_TRAINING_BATCH_SIZE), then flags given here.\n\n")
		fmt.Fprintf(os.Stderr, "Examples:\n")
		fmt.Fprintf(os.Stderr, "  %s -train fb15k/train.txt -test fb15k/test.txt -output analogy.emb \\\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "    -dim 200 -epochs 500 -lr 0.1 -negatives 6\n\n")
		fmt.Fprintf(os.Stderr, "References:\n")
		fmt.Fprintf(os.Stderr, "  Liu et al. \"Analogical Inference for Multi-relational Embeddings\", ICML 2017\n")
		fmt.Fprintf(os.Stderr, "  https://arxiv.org/abs/1705.02426\n\n")
	}

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// flags given explicitly win over file and environment
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "train":
			cfg.Data.Train = *train
		case "test":
			cfg.Data.Test = *test
		case "output":
			cfg.Data.Output = *output
		case "dim":
			cfg.Model.HiddenSize = *dim
		case "lambda":
			cfg.Model.Lambda = *lambda
		case "seed":
			cfg.Model.Seed = *seed
		case "epochs":
			cfg.Training.Epochs = *epochs
		case "batch-size":
			cfg.Training.BatchSize = *batchSize
		case "negatives":
			cfg.Training.Negatives = *negatives
		case "optimizer":
			cfg.Training.Optimizer = *optimizer
		case "lr":
			cfg.Training.LearningRate = *learningRate
		case "workers":
			cfg.Training.Workers = *workers
		case "log-level":
			cfg.Log.Level = *logLevel
		}
	})

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		flag.Usage()
		os.Exit(1)
	}

	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log := logging.Logger()
		log.Error().Err(err).Msg("analogy failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	log := logging.Logger()
	startTime := time.Now()

	kg := knowledge.NewKnowledgeGraph()
	kg.SetLogger(log)
	if err := kg.LoadTriples(cfg.Data.Train); err != nil {
		return err
	}
	loadTime := time.Since(startTime)

	var testTriples []knowledge.Triple
	if cfg.Data.Test != "" {
		var err error
		if testTriples, err = kg.LoadSplit(cfg.Data.Test); err != nil {
			return err
		}
		kg.MarkKnown(testTriples)
	}

	model, err := analogy.New(int(kg.NumEntities), int(kg.NumRelations), cfg.Model.HiddenSize,
		cfg.Model.Lambda, rand.New(rand.NewSource(cfg.Model.Seed)))
	if err != nil {
		return err
	}

	opts := analogy.DefaultTrainOptions()
	opts.Epochs = cfg.Training.Epochs
	opts.BatchSize = cfg.Training.BatchSize
	opts.Negatives = cfg.Training.Negatives
	opts.Workers = cfg.Training.Workers
	opts.Seed = cfg.Model.Seed
	opts.Logger = log
	switch cfg.Training.Optimizer {
	case "sgd":
		opts.Optimizer = optim.NewSGD(cfg.Training.LearningRate)
	default:
		opts.Optimizer = optim.NewAdaGrad(cfg.Training.LearningRate)
	}

	trainStartTime := time.Now()
	if _, err := model.Train(ctx, kg, opts); err != nil {
		return err
	}
	trainTime := time.Since(trainStartTime)

	if len(testTriples) > 0 {
		var known analogy.KnownSet
		if cfg.Eval.Filtered {
			known = kg
		}
		metrics, err := model.EvaluateLinkPrediction(testTriples, known, cfg.Eval.HitsAt)
		if err != nil {
			return err
		}
		ev := log.Info().
			Bool("filtered", cfg.Eval.Filtered).
			Float64("mrr", metrics.MRR).
			Float64("mr", metrics.MR)
		for _, k := range metrics.HitsAt() {
			ev = ev.Float64(fmt.Sprintf("hits@%d", k), metrics.Hits[k])
		}
		ev.Msg("link prediction")
	}

	if cfg.Data.Output != "" {
		if err := model.SaveEmbeddingsFile(cfg.Data.Output, kg); err != nil {
			return err
		}
		log.Info().Str("path", cfg.Data.Output).Msg("embeddings saved")
	}

	log.Info().
		Dur("loading", loadTime).
		Dur("training", trainTime).
		Dur("total", time.Since(startTime)).
		Msg("done")
	return nil
}
