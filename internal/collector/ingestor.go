package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"RTPSentinel/internal/model"
)

// ErrInvalidRequest is returned for fetch plans that cannot be executed.
var ErrInvalidRequest = errors.New("invalid fetch request")

// FetchRequest is a fetch plan: Total rounds requested in batches of BatchSize.
type FetchRequest struct {
	Company   string
	GameID    string
	ClientID  string
	BetAmount float64
	Total     int
	BatchSize int
}

func (r FetchRequest) validate() error {
	switch {
	case r.Total <= 0:
		return fmt.Errorf("%w: total must be positive, got %d", ErrInvalidRequest, r.Total)
	case r.BatchSize <= 0:
		return fmt.Errorf("%w: batch size must be positive, got %d", ErrInvalidRequest, r.BatchSize)
	}
	return nil
}

// Result describes one executed fetch plan. Partial is set when the plan stopped
// early; Err then holds the batch failure or the context error. Skipped records
// count toward Total so a supplier sending only invalid data cannot stall a plan.
type Result struct {
	Rounds    []model.GameRound // Fetch only; Stream hands rounds to the consumer
	Collected int
	Skipped   int
	Accepted  int // rounds the consumer accepted, Stream only
	Batches   int
	Partial   bool
	Err       error
	Warnings  []string
}

// RoundConsumer receives rounds as batches arrive.
type RoundConsumer interface {
	AddRounds(rounds []model.GameRound) (accepted int, warnings []string)
}

// Observer is notified of every batch attempt.
type Observer interface {
	ObserveBatch(supplier string, rounds int, elapsed time.Duration, err error)
}

// IngestorOption configures an Ingestor.
type IngestorOption func(*Ingestor)

// WithBatchTimeout bounds every supplier call.
func WithBatchTimeout(d time.Duration) IngestorOption {
	return func(in *Ingestor) { in.batchTimeout = d }
}

// WithRetry retries a failed batch up to attempts extra times, waiting
// backoff*n before the n-th retry.
func WithRetry(attempts int, backoff time.Duration) IngestorOption {
	return func(in *Ingestor) {
		in.retryAttempts = attempts
		in.retryBackoff = backoff
	}
}

// WithConcurrency limits how many fetch plans StreamAll runs at once.
func WithConcurrency(n int) IngestorOption {
	return func(in *Ingestor) { in.concurrency = n }
}

// WithIngestLogger sets the logger.
func WithIngestLogger(l *zap.Logger) IngestorOption {
	return func(in *Ingestor) { in.log = l }
}

// WithObserver registers a batch observer, typically the metrics recorder.
func WithObserver(o Observer) IngestorOption {
	return func(in *Ingestor) { in.observer = o }
}

// Ingestor pulls rounds from a Supplier in batches. A failing batch stops the
// plan but never discards rounds already collected.
type Ingestor struct {
	supplier      Supplier
	batchTimeout  time.Duration
	retryAttempts int
	retryBackoff  time.Duration
	concurrency   int
	log           *zap.Logger
	observer      Observer
}

// NewIngestor creates an Ingestor for supplier.
func NewIngestor(supplier Supplier, opts ...IngestorOption) *Ingestor {
	in := &Ingestor{
		supplier:     supplier,
		batchTimeout: 30 * time.Second,
		concurrency:  1,
		log:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(in)
	}
	if in.concurrency < 1 {
		in.concurrency = 1
	}
	return in
}

// batchOutcome is the result of one batch; run folds them into a Result.
type batchOutcome struct {
	rounds   []model.GameRound
	skipped  int
	warnings []string
	err      error
}

// Fetch executes req and returns every round collected. The error is non-nil
// only for an invalid request; batch failures end up in Result.Err.
func (in *Ingestor) Fetch(ctx context.Context, req FetchRequest) (Result, error) {
	if err := req.validate(); err != nil {
		return Result{}, err
	}
	var rounds []model.GameRound
	res := in.run(ctx, req, func(b []model.GameRound) {
		rounds = append(rounds, b...)
	})
	res.Rounds = rounds
	return res, nil
}

// Stream executes req and hands every successful batch to consumer as it arrives.
func (in *Ingestor) Stream(ctx context.Context, req FetchRequest, consumer RoundConsumer) (Result, error) {
	if err := req.validate(); err != nil {
		return Result{}, err
	}
	var (
		accepted int
		warnings []string
	)
	res := in.run(ctx, req, func(b []model.GameRound) {
		n, w := consumer.AddRounds(b)
		accepted += n
		warnings = append(warnings, w...)
	})
	res.Accepted = accepted
	res.Warnings = append(res.Warnings, warnings...)
	return res, nil
}

// StreamAll runs several plans concurrently against the same consumer, which
// must be safe for concurrent use. Results are in request order.
func (in *Ingestor) StreamAll(ctx context.Context, reqs []FetchRequest, consumer RoundConsumer) ([]Result, error) {
	for i, r := range reqs {
		if err := r.validate(); err != nil {
			return nil, fmt.Errorf("plan %d: %w", i, err)
		}
	}

	results := make([]Result, len(reqs))
	var g errgroup.Group
	g.SetLimit(in.concurrency)
	for i, r := range reqs {
		g.Go(func() error {
			res, err := in.Stream(ctx, r, consumer)
			results[i] = res
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

func (in *Ingestor) run(ctx context.Context, req FetchRequest, sink func([]model.GameRound)) Result {
	var res Result
	log := in.log.With(
		zap.String("supplier", in.supplier.Name()),
		zap.String("game", req.GameID),
		zap.String("client", req.ClientID),
	)

	for res.progress() < req.Total {
		if err := ctx.Err(); err != nil {
			res.Partial, res.Err = true, err
			log.Warn("ingestion cancelled", zap.Int("rounds_collected", res.Collected), zap.Error(err))
			break
		}

		n := min(req.BatchSize, req.Total-res.progress())
		out := in.fetchWithRetry(ctx, BatchRequest{
			Company:   req.Company,
			GameID:    req.GameID,
			ClientID:  req.ClientID,
			BetAmount: req.BetAmount,
			Spins:     n,
		})
		if !res.fold(out, n, sink) {
			log.Warn("batch failed, keeping rounds collected so far",
				zap.Int("batch", res.Batches+1),
				zap.Int("rounds_collected", res.Collected),
				zap.Error(res.Err),
			)
			break
		}
	}

	log.Info("ingestion finished",
		zap.Int("rounds", res.Collected),
		zap.Int("skipped", res.Skipped),
		zap.Int("batches", res.Batches),
		zap.Bool("partial", res.Partial),
	)
	return res
}

// fold applies one outcome. It returns false when the plan must stop.
func (res *Result) fold(out batchOutcome, requested int, sink func([]model.GameRound)) bool {
	res.Warnings = append(res.Warnings, out.warnings...)
	if out.err != nil {
		res.Partial, res.Err = true, out.err
		return false
	}
	rounds := out.rounds
	if len(rounds) > requested {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("batch %d: supplier sent %d rounds, %d requested; extra dropped", res.Batches+1, len(rounds), requested))
		rounds = rounds[:requested]
	}
	sink(rounds)
	res.Collected += len(rounds)
	res.Skipped += min(out.skipped, requested-len(rounds))
	res.Batches++
	return true
}

func (res *Result) progress() int { return res.Collected + res.Skipped }

func (in *Ingestor) fetchWithRetry(ctx context.Context, req BatchRequest) batchOutcome {
	var out batchOutcome
	for attempt := 0; attempt <= in.retryAttempts; attempt++ {
		if attempt > 0 {
			in.log.Info("retrying batch", zap.Int("attempt", attempt), zap.Error(out.err))
			select {
			case <-ctx.Done():
				return batchOutcome{err: ctx.Err()}
			case <-time.After(in.retryBackoff * time.Duration(attempt)):
			}
		}
		out = in.fetchOnce(ctx, req)
		if out.err == nil {
			return out
		}
	}
	return out
}

func (in *Ingestor) fetchOnce(ctx context.Context, req BatchRequest) batchOutcome {
	if in.batchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, in.batchTimeout)
		defer cancel()
	}

	start := time.Now()
	b, err := in.supplier.FetchBatch(ctx, req)
	if err == nil && len(b.Rounds)+b.Skipped == 0 {
		err = ErrEmptyBatch
	}
	if in.observer != nil {
		in.observer.ObserveBatch(in.supplier.Name(), len(b.Rounds), time.Since(start), err)
	}
	if err != nil {
		return batchOutcome{warnings: b.Warnings, err: fmt.Errorf("fetch batch from %s: %w", in.supplier.Name(), err)}
	}
	return batchOutcome{rounds: b.Rounds, skipped: b.Skipped, warnings: b.Warnings}
}
