package evaluation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/essay-grader/backend/internal/grading"
	"github.com/essay-grader/backend/internal/metrics"
	"github.com/essay-grader/backend/internal/roles"
	"github.com/essay-grader/backend/internal/storage/models"
	"github.com/essay-grader/backend/pkg/logger"
	"github.com/essay-grader/backend/pkg/retry"
)

// AggregatorUnavailableDiagnosis marks verdicts whose aggregator step failed.
const AggregatorUnavailableDiagnosis = "Erro ao gerar diagnóstico"

var ErrEssaySkipped = errors.New("essay skipped")

type State string

const (
	StateGradingIndividual State = "GRADING_INDIVIDUAL"
	StateGradingAggregate  State = "GRADING_AGGREGATE"
	StateDone              State = "DONE"
)

// Hooks receive progress from inside one evaluation. Both may be called from
// several goroutines.
type Hooks struct {
	OnState      func(essayID string, state State)
	OnCompetency func(essayID string, c models.CompetencyID, result models.CompetencyResult)
}

type Options struct {
	ParallelCompetencies bool
	SingleMaxAttempts    int
	SingleRetryDelay     time.Duration
	Hooks                Hooks
}

type Evaluator struct {
	graders    [models.NumCompetencies]*grading.CompetencyGrader
	aggregator *grading.Aggregator
	single     *grading.SingleGrader
	opts       Options
	log        *zap.Logger
}

func NewEvaluator(gen grading.Generator, opts Options) *Evaluator {
	if opts.SingleMaxAttempts <= 0 {
		opts.SingleMaxAttempts = 2
	}
	if opts.SingleRetryDelay < 0 {
		opts.SingleRetryDelay = 0
	}

	e := &Evaluator{
		aggregator: grading.NewAggregator(gen),
		single:     grading.NewSingleGrader(gen),
		opts:       opts,
		log:        logger.Named("evaluation"),
	}
	for i, role := range roles.Competencies() {
		e.graders[i] = grading.NewCompetencyGrader(role, gen)
	}
	return e
}

// EvaluateEssay runs the five competency graders, then the aggregator. Grader
// and aggregator failures degrade the verdict instead of failing it; only a
// cancelled context is returned as an error.
func (e *Evaluator) EvaluateEssay(ctx context.Context, essay models.EssayRecord) (models.EssayVerdict, error) {
	verdict := models.EssayVerdict{EssayID: essay.ID, Mode: models.ModeMulti}

	e.enter(essay.ID, StateGradingIndividual)
	individual, traces := e.gradeIndividually(ctx, essay)
	if err := ctx.Err(); err != nil {
		return models.EssayVerdict{}, err
	}
	verdict.Individual = individual
	verdict.Traces = traces

	e.enter(essay.ID, StateGradingAggregate)
	outcome, trace, err := e.aggregator.Reconcile(ctx, essay, individual)
	verdict.Traces = append(verdict.Traces, trace)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return models.EssayVerdict{}, ctxErr
		}
		metrics.FallbacksTotal.WithLabelValues("aggregator_unavailable").Inc()
		e.log.Warn("Aggregator unavailable, using individual scores",
			zap.String("essay_id", essay.ID),
			zap.Error(err),
		)
		verdict.Validated = individual
		verdict.FinalScore = models.ClampFinal(individual.Sum())
		verdict.Diagnosis = AggregatorUnavailableDiagnosis
		verdict.Tips = emptyTips()
	} else {
		verdict.AggregatorAvailable = true
		verdict.Validated = outcome.Validated
		verdict.FinalScore = outcome.Final
		verdict.Diagnosis = outcome.Diagnosis
		verdict.Tips = completeTips(outcome.Tips)
	}

	e.enter(essay.ID, StateDone)
	metrics.FinalScore.WithLabelValues(string(models.ModeMulti)).Observe(float64(verdict.FinalScore))

	e.log.Info("Essay graded",
		zap.String("essay_id", essay.ID),
		zap.Int("score", verdict.FinalScore),
		zap.Bool("aggregator_available", verdict.AggregatorAvailable),
		zap.Bool("degraded", verdict.Degraded()),
	)

	return verdict, nil
}

func (e *Evaluator) gradeIndividually(ctx context.Context, essay models.EssayRecord) (models.CompetencySet, []models.CallTrace) {
	var (
		results models.CompetencySet
		traces  [models.NumCompetencies]models.CallTrace
	)

	run := func(i int) {
		g := e.graders[i]
		results[i], traces[i] = g.Evaluate(ctx, essay)
		e.log.Info("Competency graded",
			zap.String("essay_id", essay.ID),
			zap.String("competency", string(g.Competency())),
			zap.Int("score", results[i].Score),
			zap.String("source", string(results[i].Source)),
		)
		if e.opts.Hooks.OnCompetency != nil {
			e.opts.Hooks.OnCompetency(essay.ID, g.Competency(), results[i])
		}
	}

	if e.opts.ParallelCompetencies {
		var g errgroup.Group
		for i := range e.graders {
			g.Go(func() error {
				run(i)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i := range e.graders {
			run(i)
		}
	}

	return results, traces[:]
}

// EvaluateSingle grades with one call, retrying the whole call when it fails
// or returns nothing parseable. Exhausting the attempts yields ErrEssaySkipped.
func (e *Evaluator) EvaluateSingle(ctx context.Context, essay models.EssayRecord) (models.EssayVerdict, error) {
	verdict := models.EssayVerdict{EssayID: essay.ID, Mode: models.ModeSingle}

	cfg := retry.Fixed(e.opts.SingleMaxAttempts, e.opts.SingleRetryDelay)
	cfg.Logger = e.log.With(zap.String("essay_id", essay.ID))

	e.enter(essay.ID, StateGradingAggregate)
	outcome, err := retry.DoWithResult(ctx, cfg, func(attempt int) (grading.Outcome, error) {
		e.log.Info("Single-agent attempt",
			zap.String("essay_id", essay.ID),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", cfg.MaxAttempts),
		)
		out, trace, err := e.single.Grade(ctx, essay, attempt)
		verdict.Traces = append(verdict.Traces, trace)
		if err != nil && ctx.Err() != nil {
			return out, retry.Permanent(ctx.Err())
		}
		return out, err
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return models.EssayVerdict{}, ctxErr
		}
		metrics.FallbacksTotal.WithLabelValues("single_skipped").Inc()
		return verdict, fmt.Errorf("%w: %s after %d attempts: %w", ErrEssaySkipped, essay.ID, len(verdict.Traces), err)
	}

	verdict.Individual = outcome.Validated
	verdict.Validated = outcome.Validated
	verdict.FinalScore = outcome.Final
	verdict.Diagnosis = outcome.Diagnosis
	verdict.Tips = completeTips(outcome.Tips)
	verdict.AggregatorAvailable = true

	e.enter(essay.ID, StateDone)
	metrics.FinalScore.WithLabelValues(string(models.ModeSingle)).Observe(float64(verdict.FinalScore))

	e.log.Info("Essay graded",
		zap.String("essay_id", essay.ID),
		zap.Int("score", verdict.FinalScore),
		zap.Int("attempts", len(verdict.Traces)),
	)

	return verdict, nil
}

// Evaluate dispatches on mode.
func (e *Evaluator) Evaluate(ctx context.Context, mode models.Mode, essay models.EssayRecord) (models.EssayVerdict, error) {
	if mode == models.ModeSingle {
		return e.EvaluateSingle(ctx, essay)
	}
	return e.EvaluateEssay(ctx, essay)
}

func (e *Evaluator) enter(essayID string, s State) {
	e.log.Debug("Evaluation state", zap.String("essay_id", essayID), zap.String("state", string(s)))
	if e.opts.Hooks.OnState != nil {
		e.opts.Hooks.OnState(essayID, s)
	}
}

func emptyTips() map[models.CompetencyID]string {
	return completeTips(nil)
}

func completeTips(tips map[models.CompetencyID]string) map[models.CompetencyID]string {
	out := make(map[models.CompetencyID]string, models.NumCompetencies)
	for _, c := range models.Competencies {
		out[c] = tips[c]
	}
	return out
}
