package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/essay-grader/backend/internal/evaluation"
	"github.com/essay-grader/backend/internal/metrics"
	"github.com/essay-grader/backend/internal/sink"
	"github.com/essay-grader/backend/internal/storage/models"
	"github.com/essay-grader/backend/internal/storage/sqlite"
	"github.com/essay-grader/backend/pkg/logger"
)

type Evaluator interface {
	Evaluate(ctx context.Context, mode models.Mode, essay models.EssayRecord) (models.EssayVerdict, error)
}

// RunArchive records run boundaries. *sqlite.Client satisfies it.
type RunArchive interface {
	StartRun(ctx context.Context, runID string, mode models.Mode, total int) error
	FinishRun(ctx context.Context, runID string, stats sqlite.RunStats) error
}

type Options struct {
	Mode    models.Mode
	Workers int
	// RunID is generated when empty.
	RunID   string
	Archive RunArchive
}

type Summary struct {
	RunID     string
	Mode      models.Mode
	Total     int
	Written   int
	Skipped   int
	Degraded  int
	MeanScore float64
	Duration  time.Duration
}

type Runner struct {
	evaluator Evaluator
	sink      sink.Sink
	tracker   *Tracker
	opts      Options
	log       *zap.Logger
}

func NewRunner(evaluator Evaluator, out sink.Sink, tracker *Tracker, opts Options) *Runner {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Mode == "" {
		opts.Mode = models.ModeMulti
	}
	if tracker == nil {
		tracker = NewTracker()
	}
	return &Runner{
		evaluator: evaluator,
		sink:      out,
		tracker:   tracker,
		opts:      opts,
		log:       logger.Named("batch"),
	}
}

func (r *Runner) Tracker() *Tracker {
	return r.tracker
}

// Run grades every record and appends one row per essay. Skipped essays are
// counted and produce no row. A sink failure stops the batch and the error
// names the essay whose row is missing.
func (r *Runner) Run(ctx context.Context, records []models.EssayRecord) (Summary, error) {
	runID := r.opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	total := len(records)
	started := time.Now()

	summary := Summary{RunID: runID, Mode: r.opts.Mode, Total: total}
	var (
		mu       sync.Mutex
		scoreSum int
	)

	log := r.log.With(zap.String("run_id", runID), zap.String("mode", string(r.opts.Mode)))
	log.Info("Starting batch", zap.Int("total", total), zap.Int("workers", r.opts.Workers))

	r.tracker.start(runID, r.opts.Mode, total)
	if r.opts.Archive != nil {
		if err := r.opts.Archive.StartRun(ctx, runID, r.opts.Mode, total); err != nil {
			r.tracker.finish(err)
			return summary, fmt.Errorf("failed to record run: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)

	for i, rec := range records {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			index := i + 1

			metrics.EssaysInFlight.Inc()
			defer metrics.EssaysInFlight.Dec()

			r.tracker.essayStarted(index, rec.ID)
			log.Info("Processing essay",
				zap.Int("index", index),
				zap.Int("total", total),
				zap.String("essay_id", rec.ID),
			)

			verdict, err := r.evaluator.Evaluate(gctx, r.opts.Mode, rec)
			if err != nil {
				if errors.Is(err, evaluation.ErrEssaySkipped) {
					r.tracker.essaySkipped(rec.ID)
					metrics.EssaysTotal.WithLabelValues(string(r.opts.Mode), "skipped").Inc()
					mu.Lock()
					summary.Skipped++
					mu.Unlock()
					log.Warn("Essay skipped", zap.String("essay_id", rec.ID), zap.Error(err))
					return nil
				}
				r.tracker.essayAbandoned(rec.ID)
				return fmt.Errorf("essay %s (%d/%d): %w", rec.ID, index, total, err)
			}

			row := models.NewResultRow(runID, rec, verdict)
			if err := r.sink.Append(gctx, row); err != nil {
				r.tracker.essayAbandoned(rec.ID)
				metrics.EssaysTotal.WithLabelValues(string(r.opts.Mode), "sink_error").Inc()
				log.Error("Failed to persist row", zap.String("essay_id", rec.ID), zap.Error(err))
				return fmt.Errorf("row for essay %s (%d/%d) not written: %w", rec.ID, index, total, err)
			}

			degraded := verdict.Degraded()
			outcome := "ok"
			if degraded {
				outcome = "degraded"
			}
			metrics.EssaysTotal.WithLabelValues(string(r.opts.Mode), outcome).Inc()
			r.tracker.essayWritten(rec.ID, verdict.FinalScore, degraded)

			mu.Lock()
			summary.Written++
			scoreSum += verdict.FinalScore
			if degraded {
				summary.Degraded++
			}
			mu.Unlock()

			log.Info("Essay saved",
				zap.Int("index", index),
				zap.Int("total", total),
				zap.String("essay_id", rec.ID),
				zap.Int("score", verdict.FinalScore),
			)
			return nil
		})
	}

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	summary.Duration = time.Since(started)
	if summary.Written > 0 {
		summary.MeanScore = float64(scoreSum) / float64(summary.Written)
	}

	if r.opts.Archive != nil {
		stats := sqlite.RunStats{Total: total, Written: summary.Written, Skipped: summary.Skipped}
		if ferr := r.opts.Archive.FinishRun(context.WithoutCancel(ctx), runID, stats); ferr != nil {
			log.Warn("Failed to close run record", zap.Error(ferr))
		}
	}
	r.tracker.finish(err)

	fields := []zap.Field{
		zap.Int("written", summary.Written),
		zap.Int("skipped", summary.Skipped),
		zap.Int("degraded", summary.Degraded),
		zap.Float64("mean_score", summary.MeanScore),
		zap.Duration("duration", summary.Duration),
	}
	if err != nil {
		log.Error("Batch stopped", append(fields, zap.Error(err))...)
		return summary, err
	}
	log.Info("Batch completed", fields...)
	return summary, nil
}
