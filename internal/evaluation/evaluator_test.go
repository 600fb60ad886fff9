package evaluation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/essay-grader/backend/internal/llm"
	"github.com/essay-grader/backend/internal/parser"
	"github.com/essay-grader/backend/internal/storage/models"
	"github.com/essay-grader/backend/pkg/circuitbreaker"
)

type scriptedGenerator struct {
	mu      sync.Mutex
	calls   map[string]int
	inputs  map[string]string
	respond func(role string, call int) (string, error)
}

func newScripted(respond func(role string, call int) (string, error)) *scriptedGenerator {
	return &scriptedGenerator{calls: map[string]int{}, inputs: map[string]string{}, respond: respond}
}

func (s *scriptedGenerator) Generate(_ context.Context, req llm.Request) (string, error) {
	s.mu.Lock()
	s.calls[req.Role]++
	n := s.calls[req.Role]
	s.inputs[req.Role] = req.Input
	s.mu.Unlock()
	return s.respond(req.Role, n)
}

func (s *scriptedGenerator) Forget(context.Context, llm.Request) {}

func (s *scriptedGenerator) count(role string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[role]
}

var essay = models.EssayRecord{ID: "7", Prompt: "Tema", Body: "Texto."}

func TestEvaluateEssayCapsAggregatorTotal(t *testing.T) {
	scores := map[string]int{"C1": 40, "C2": 150, "C3": 120, "C4": 90, "C5": 160}
	gen := newScripted(func(role string, _ int) (string, error) {
		if role == "AGGREGATOR" {
			return `{"C1": {"nota": 40, "justificativa": "a"}, "C2": {"nota": 150, "justificativa": "b"},
				"C3": {"nota": 120, "justificativa": "c"}, "C4": {"nota": 90, "justificativa": "d"},
				"C5": {"nota": 160, "justificativa": "e"}, "nota_final": 900,
				"diagnostico_geral": "ok", "dicas_praticas": {"C5": "Detalhe o agente."}}`, nil
		}
		return fmt.Sprintf(`{"nota": %d, "justificativa": "j"}`, scores[role]), nil
	})

	for _, parallel := range []bool{true, false} {
		ev := NewEvaluator(gen, Options{ParallelCompetencies: parallel})
		v, err := ev.EvaluateEssay(context.Background(), essay)
		require.NoError(t, err)

		require.Equal(t, 560, v.FinalScore)
		require.True(t, v.AggregatorAvailable)
		require.False(t, v.Degraded())
		require.Equal(t, 150, v.Individual[1].Score)
		require.Equal(t, models.SourceAggregatorValidated, v.Validated[1].Source)
		require.Equal(t, "Detalhe o agente.", v.Tips[models.C5])
		require.Len(t, v.Tips, models.NumCompetencies)
		require.Len(t, v.Traces, models.NumCompetencies+1)
	}
}

func TestEvaluateEssayAllGradersDown(t *testing.T) {
	gen := newScripted(func(string, int) (string, error) {
		return "", fmt.Errorf("%w: connection refused", llm.ErrConnectionFailure)
	})

	v, err := NewEvaluator(gen, Options{ParallelCompetencies: true}).EvaluateEssay(context.Background(), essay)
	require.NoError(t, err)

	for _, r := range v.Individual {
		require.Equal(t, models.SourceFallbackZero, r.Source)
		require.Zero(t, r.Score)
	}
	require.Equal(t, 1, gen.count("AGGREGATOR"))
	require.Contains(t, gen.inputs["AGGREGATOR"], "Nota: 0")

	require.False(t, v.AggregatorAvailable)
	require.True(t, v.Degraded())
	require.Zero(t, v.FinalScore)
	require.Equal(t, AggregatorUnavailableDiagnosis, v.Diagnosis)
	require.Equal(t, v.Individual, v.Validated)
	for _, c := range models.Competencies {
		tip, ok := v.Tips[c]
		require.True(t, ok)
		require.Empty(t, tip)
	}
}

func TestEvaluateEssayAggregatorUnparseable(t *testing.T) {
	gen := newScripted(func(role string, _ int) (string, error) {
		if role == "AGGREGATOR" {
			return "Não foi possível gerar o boletim.", nil
		}
		return `{"nota": 200, "justificativa": "máxima"}`, nil
	})

	v, err := NewEvaluator(gen, Options{}).EvaluateEssay(context.Background(), essay)
	require.NoError(t, err)
	require.Equal(t, 1000, v.FinalScore)
	require.Equal(t, v.Individual, v.Validated)
	require.Equal(t, models.SourceGraderDirect, v.Validated[0].Source)
	require.Equal(t, AggregatorUnavailableDiagnosis, v.Diagnosis)
}

func TestEvaluateEssayHooks(t *testing.T) {
	gen := newScripted(func(role string, _ int) (string, error) {
		return `{"nota": 80, "justificativa": "j"}`, nil
	})

	var (
		mu     sync.Mutex
		states []State
		graded = map[models.CompetencyID]int{}
	)
	ev := NewEvaluator(gen, Options{
		ParallelCompetencies: true,
		Hooks: Hooks{
			OnState: func(_ string, s State) {
				mu.Lock()
				defer mu.Unlock()
				states = append(states, s)
			},
			OnCompetency: func(_ string, c models.CompetencyID, r models.CompetencyResult) {
				mu.Lock()
				defer mu.Unlock()
				graded[c] = r.Score
			},
		},
	})

	_, err := ev.EvaluateEssay(context.Background(), essay)
	require.NoError(t, err)
	require.Equal(t, []State{StateGradingIndividual, StateGradingAggregate, StateDone}, states)
	require.Len(t, graded, models.NumCompetencies)
	require.Equal(t, 80, graded[models.C3])
}

func TestEvaluateEssayCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	gen := newScripted(func(string, int) (string, error) {
		return "", context.Canceled
	})
	_, err := NewEvaluator(gen, Options{}).EvaluateEssay(ctx, essay)
	require.ErrorIs(t, err, context.Canceled)
}

const singleReport = `{"competencia_1": {"nota": 120, "justificativa": "a"},
	"competencia_2": {"nota": 120, "justificativa": "b"},
	"competencia_3": {"nota": 120, "justificativa": "c"},
	"competencia_4": {"nota": 120, "justificativa": "d"},
	"competencia_5": {"nota": 120, "justificativa": "e"},
	"nota_final": 600, "diagnostico_geral": "Regular."}`

func TestEvaluateSingleRetriesOnce(t *testing.T) {
	gen := newScripted(func(_ string, call int) (string, error) {
		if call == 1 {
			return "resposta sem json", nil
		}
		return singleReport, nil
	})

	v, err := NewEvaluator(gen, Options{SingleMaxAttempts: 2}).EvaluateSingle(context.Background(), essay)
	require.NoError(t, err)
	require.Equal(t, 2, gen.count("SINGLE"))
	require.Equal(t, models.ModeSingle, v.Mode)
	require.Equal(t, 600, v.FinalScore)
	require.Equal(t, "Regular.", v.Diagnosis)
	require.Len(t, v.Traces, 2)
	require.Equal(t, 2, v.Traces[1].Attempt)
	require.Len(t, v.Tips, models.NumCompetencies)
}

func TestEvaluateSingleSkipsAfterAttempts(t *testing.T) {
	gen := newScripted(func(string, int) (string, error) {
		return "ainda sem json", nil
	})

	_, err := NewEvaluator(gen, Options{SingleMaxAttempts: 2}).Evaluate(context.Background(), models.ModeSingle, essay)
	require.ErrorIs(t, err, ErrEssaySkipped)
	require.ErrorIs(t, err, parser.ErrParseFailure)
	require.Equal(t, 2, gen.count("SINGLE"))
}

func TestEvaluateSingleRetriesConnectionFailure(t *testing.T) {
	gen := newScripted(func(_ string, call int) (string, error) {
		if call == 1 {
			return "", llm.ErrConnectionFailure
		}
		return singleReport, nil
	})

	v, err := NewEvaluator(gen, Options{}).EvaluateSingle(context.Background(), essay)
	require.NoError(t, err)
	require.Equal(t, 600, v.FinalScore)
}

type recoveringBackend struct {
	mu   sync.Mutex
	down bool
}

func (b *recoveringBackend) Name() string  { return "recovering" }
func (b *recoveringBackend) Model() string { return "test" }

func (b *recoveringBackend) Complete(_ context.Context, req llm.Request) (string, error) {
	b.mu.Lock()
	down := b.down
	b.mu.Unlock()
	if down {
		return "", errors.New("connection refused")
	}
	if req.Role == "AGGREGATOR" {
		return `{"nota_final": 600, "diagnostico_geral": "ok"}`, nil
	}
	return `{"nota": 120, "justificativa": "j"}`, nil
}

func (b *recoveringBackend) heal() {
	b.mu.Lock()
	b.down = false
	b.mu.Unlock()
}

func TestEvaluateEssayWaitsForRecoveringBackend(t *testing.T) {
	backend := &recoveringBackend{down: true}
	breaker := llm.NewBreaker("recovering", 1, 50*time.Millisecond, nil)
	client := llm.NewClient(backend, llm.Options{Breaker: breaker})

	_, err := client.Generate(context.Background(), llm.Request{Role: "C1", Input: "aquecimento"})
	require.ErrorIs(t, err, llm.ErrConnectionFailure)
	require.Equal(t, circuitbreaker.StateOpen, breaker.State())
	backend.heal()

	v, err := NewEvaluator(client, Options{ParallelCompetencies: true}).EvaluateEssay(context.Background(), essay)
	require.NoError(t, err)

	for i, r := range v.Individual {
		require.Equal(t, models.SourceGraderDirect, r.Source, "C%d", i+1)
		require.Equal(t, 120, r.Score)
	}
	require.True(t, v.AggregatorAvailable)
	require.Equal(t, 600, v.FinalScore)
	require.Equal(t, circuitbreaker.StateClosed, breaker.State())
}
