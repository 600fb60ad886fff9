package grading

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/essay-grader/backend/internal/llm"
	"github.com/essay-grader/backend/internal/metrics"
	"github.com/essay-grader/backend/internal/parser"
	"github.com/essay-grader/backend/internal/roles"
	"github.com/essay-grader/backend/internal/storage/models"
	"github.com/essay-grader/backend/pkg/logger"
)

var ErrAggregatorUnavailable = errors.New("aggregator unavailable")

// Generator is the grading client surface the stages depend on.
type Generator interface {
	Generate(ctx context.Context, req llm.Request) (string, error)
	Forget(ctx context.Context, req llm.Request)
}

// Outcome is the reconciled report of an aggregator or single-agent call.
type Outcome struct {
	Validated models.CompetencySet
	Final     int
	Diagnosis string
	Tips      map[models.CompetencyID]string
}

type CompetencyGrader struct {
	role roles.RoleConfig
	gen  Generator
}

func NewCompetencyGrader(role roles.RoleConfig, gen Generator) *CompetencyGrader {
	return &CompetencyGrader{role: role, gen: gen}
}

func (g *CompetencyGrader) Competency() models.CompetencyID {
	return g.role.Competency
}

// Evaluate never fails: an unreachable grader or an unusable response turns
// into a FALLBACK_ZERO result whose justification describes the failure.
func (g *CompetencyGrader) Evaluate(ctx context.Context, essay models.EssayRecord) (models.CompetencyResult, models.CallTrace) {
	req := llm.Request{
		Role:         string(g.role.ID),
		Instructions: g.role.Instructions,
		Input:        competencyInput(essay),
	}

	raw, trace, err := call(ctx, g.gen, req, 1)
	if err != nil {
		metrics.FallbacksTotal.WithLabelValues("competency_zero").Inc()
		logger.Warn("Competency grader unavailable, using fallback score",
			zap.String("essay_id", essay.ID),
			zap.String("competency", string(g.role.Competency)),
			zap.Error(err),
		)
		return models.FallbackResult(fmt.Sprintf("Erro: %v", err)), trace
	}

	parsed, err := parser.Parse(raw, g.role.Contract)
	if err != nil {
		g.gen.Forget(ctx, req)
		metrics.ParseFailuresTotal.WithLabelValues(req.Role).Inc()
		metrics.FallbacksTotal.WithLabelValues("competency_zero").Inc()
		trace.Err = err.Error()
		logger.Warn("Competency response unparseable, using fallback score",
			zap.String("essay_id", essay.ID),
			zap.String("competency", string(g.role.Competency)),
			zap.Error(err),
		)
		return models.FallbackResult(fmt.Sprintf("Erro ao processar: %v", err)), trace
	}

	result := models.CompetencyResult{
		Score:         parsed.Score,
		Justification: parsed.Justification,
		Source:        models.SourceGraderDirect,
	}
	metrics.CompetencyScore.WithLabelValues(string(g.role.Competency), "individual").Observe(float64(result.Score))

	return result, trace
}

type Aggregator struct {
	role roles.RoleConfig
	gen  Generator
}

func NewAggregator(gen Generator) *Aggregator {
	return &Aggregator{role: roles.MustGet(roles.RoleAggregator), gen: gen}
}

// Reconcile cross-checks the five individual results. Competencies the
// aggregator leaves out keep their individual result. The final score is
// min(reported, sum of validated scores, 1000), or the clamped sum when no
// total is reported.
func (a *Aggregator) Reconcile(ctx context.Context, essay models.EssayRecord, individual models.CompetencySet) (Outcome, models.CallTrace, error) {
	req := llm.Request{
		Role:         string(a.role.ID),
		Instructions: a.role.Instructions,
		Input:        aggregatorInput(essay, individual),
	}

	raw, trace, err := call(ctx, a.gen, req, 1)
	if err != nil {
		return Outcome{}, trace, fmt.Errorf("%w: %w", ErrAggregatorUnavailable, err)
	}

	parsed, err := parser.Parse(raw, a.role.Contract)
	if err != nil {
		a.gen.Forget(ctx, req)
		metrics.ParseFailuresTotal.WithLabelValues(req.Role).Inc()
		trace.Err = err.Error()
		return Outcome{}, trace, fmt.Errorf("%w: %w", ErrAggregatorUnavailable, err)
	}

	out := Outcome{
		Diagnosis: parsed.Diagnosis,
		Tips:      parsed.Tips,
	}
	for i, p := range parsed.Competencies {
		if !p.Present {
			out.Validated[i] = individual[i]
			continue
		}
		justification := p.Justification
		if justification == "" {
			justification = individual[i].Justification
		}
		out.Validated[i] = models.CompetencyResult{
			Score:         p.Score,
			Justification: justification,
			Source:        models.SourceAggregatorValidated,
		}
		metrics.CompetencyScore.WithLabelValues(string(models.Competencies[i]), "validated").Observe(float64(p.Score))
	}
	out.Final = boundedFinal(parsed, out.Validated)

	return out, trace, nil
}

type SingleGrader struct {
	role roles.RoleConfig
	gen  Generator
}

func NewSingleGrader(gen Generator) *SingleGrader {
	return &SingleGrader{role: roles.MustGet(roles.RoleSingle), gen: gen}
}

// Grade performs one single-agent attempt. It returns parser.ErrParseFailure
// when the response has no structured object; retries belong to the caller.
func (s *SingleGrader) Grade(ctx context.Context, essay models.EssayRecord, attempt int) (Outcome, models.CallTrace, error) {
	req := llm.Request{
		Role:         string(s.role.ID),
		Instructions: s.role.Instructions,
		Input:        singleInput(essay),
	}

	raw, trace, err := call(ctx, s.gen, req, attempt)
	if err != nil {
		return Outcome{}, trace, err
	}

	parsed, err := parser.Parse(raw, s.role.Contract)
	if err != nil {
		s.gen.Forget(ctx, req)
		metrics.ParseFailuresTotal.WithLabelValues(req.Role).Inc()
		trace.Err = err.Error()
		return Outcome{}, trace, err
	}

	out := Outcome{
		Diagnosis: parsed.Diagnosis,
		Tips:      parsed.Tips,
	}
	for i, p := range parsed.Competencies {
		out.Validated[i] = models.CompetencyResult{
			Score:         p.Score,
			Justification: p.Justification,
			Source:        models.SourceGraderDirect,
		}
	}
	out.Final = boundedFinal(parsed, out.Validated)

	return out, trace, nil
}

// boundedFinal never trusts a reported total above the recomputed sum. A
// lower reported total is kept as-is.
func boundedFinal(parsed parser.ParsedObject, validated models.CompetencySet) int {
	sum := models.ClampFinal(validated.Sum())
	if !parsed.FinalPresent {
		return sum
	}
	return min(parsed.Final, sum)
}

func call(ctx context.Context, gen Generator, req llm.Request, attempt int) (string, models.CallTrace, error) {
	trace := models.CallTrace{Role: req.Role, Attempt: attempt, StartedAt: time.Now()}
	raw, err := gen.Generate(ctx, req)
	trace.Latency = time.Since(trace.StartedAt)
	trace.Raw = raw
	if err != nil {
		trace.Err = err.Error()
	}
	return raw, trace, err
}
