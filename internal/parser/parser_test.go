package parser

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/essay-grader/backend/internal/roles"
	"github.com/essay-grader/backend/internal/storage/models"
)

var (
	competency = roles.MustGet(roles.RoleC1).Contract
	aggregator = roles.MustGet(roles.RoleAggregator).Contract
	single     = roles.MustGet(roles.RoleSingle).Contract
)

func TestParseCleanObject(t *testing.T) {
	got, err := Parse(`{"nota": 160, "justificativa": "Poucos desvios."}`, competency)
	require.NoError(t, err)
	require.Equal(t, 160, got.Score)
	require.Equal(t, "Poucos desvios.", got.Justification)
	require.True(t, got.Present)
}

func TestParseIgnoresFenceAndProse(t *testing.T) {
	clean := `{"nota": 120, "justificativa": "Tese clara."}`
	wrapped := "Segue a avaliação:\n```json\n" + clean + "\n```\nObrigado!"
	fenced := "```json\n" + clean + "\n```"

	want, err := Parse(clean, competency)
	require.NoError(t, err)

	for _, raw := range []string{wrapped, fenced, "  " + clean + "  "} {
		got, err := Parse(raw, competency)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestParseClampsAndCoerces(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want int
	}{
		{"above range", `{"nota": 250}`, 200},
		{"negative", `{"nota": -40}`, 0},
		{"fractional", `{"nota": 159.6}`, 160},
		{"string", `{"nota": "180"}`, 180},
		{"string with suffix", `{"nota": "120 pontos"}`, 120},
		{"string with max", `{"nota": "80/200"}`, 80},
		{"uppercase key", `{"NOTA": 40}`, 40},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.raw, competency)
			require.NoError(t, err)
			require.Equal(t, tt.want, got.Score)
			require.True(t, got.Present)
		})
	}
}

func TestParseMissingFieldsDefault(t *testing.T) {
	got, err := Parse(`{"comentario": "sem nota"}`, competency)
	require.NoError(t, err)
	require.Equal(t, 0, got.Score)
	require.Equal(t, "", got.Justification)
	require.False(t, got.Present)

	got, err = Parse(`{"nota": "muito boa", "justificativa": "ok"}`, competency)
	require.NoError(t, err)
	require.Equal(t, 0, got.Score)
	require.False(t, got.Present)
	require.Equal(t, "ok", got.Justification)
}

func TestParseFailureWithoutObject(t *testing.T) {
	for _, raw := range []string{"", "Nota 160, texto bom.", "```\nsem json\n```"} {
		_, err := Parse(raw, competency)
		require.ErrorIs(t, err, ErrParseFailure)
	}
}

func TestParseRepairsNearJSON(t *testing.T) {
	got, err := Parse(`{"nota": 100, "justificativa": "Coesão regular.",}`, competency)
	require.NoError(t, err)
	require.Equal(t, 100, got.Score)

	got, err = Parse(`Resposta: {"nota": 80, "justificativa": "Texto curto."`, competency)
	require.NoError(t, err)
	require.Equal(t, 80, got.Score)
	require.Equal(t, "Texto curto.", got.Justification)
}

func TestExtractSpanRespectsStrings(t *testing.T) {
	raw := `prefixo {"justificativa": "usa {chaves} e \"aspas\"", "nota": 120} sufixo {outro}`
	span, err := ExtractSpan(raw)
	require.NoError(t, err)
	require.Equal(t, `{"justificativa": "usa {chaves} e \"aspas\"", "nota": 120}`, span)

	got, err := Parse(raw, competency)
	require.NoError(t, err)
	require.Equal(t, 120, got.Score)
}

func TestParseAggregatorReport(t *testing.T) {
	raw := `{
  "C1": {"nota": 160, "justificativa": "a"},
  "C2": {"nota": 240, "justificativa": "b"},
  "C4": {"nota": 100, "justificativa": "d"},
  "C5": {"nota": "120", "justificativa": "e"},
  "nota_final": 1200,
  "diagnostico_geral": "Texto mediano.",
  "dicas_praticas": {"C1": "Revise acentos.", "C5": "Detalhe o agente."}
}`
	got, err := Parse(raw, aggregator)
	require.NoError(t, err)

	require.Equal(t, Scored{Score: 160, Justification: "a", Present: true}, got.Competencies[0])
	require.Equal(t, 200, got.Competencies[1].Score)
	require.False(t, got.Competencies[2].Present)
	require.Equal(t, 120, got.Competencies[4].Score)
	require.Equal(t, 1000, got.Final)
	require.True(t, got.FinalPresent)
	require.Equal(t, "Texto mediano.", got.Diagnosis)
	require.Equal(t, map[models.CompetencyID]string{models.C1: "Revise acentos.", models.C5: "Detalhe o agente."}, got.Tips)
}

func TestParseSingleReport(t *testing.T) {
	raw := "```json\n" + `{
  "competencia_1": {"nota": 120, "justificativa": "x"},
  "competencia_2": {"nota": 120, "justificativa": "x"},
  "competencia_3": {"nota": 120, "justificativa": "x"},
  "competencia_4": {"nota": 120, "justificativa": "x"},
  "competencia_5": {"nota": 120, "justificativa": "x"},
  "diagnostico_geral": "Regular."
}` + "\n```"
	got, err := Parse(raw, single)
	require.NoError(t, err)
	for _, c := range got.Competencies {
		require.Equal(t, 120, c.Score)
	}
	require.False(t, got.FinalPresent)
	require.Empty(t, got.Tips)
}

func TestParseSkipsBraceAsideInProse(t *testing.T) {
	raw := "Avaliei o trecho {C4} com atenção.\n```json\n{\"nota\": 160, \"justificativa\": \"Bons conectivos.\"}\n```"
	got, err := Parse(raw, competency)
	require.NoError(t, err)
	require.Equal(t, 160, got.Score)
	require.Equal(t, "Bons conectivos.", got.Justification)

	span, err := ExtractSpan(raw)
	require.NoError(t, err)
	require.Equal(t, "{C4}", span)

	got, err = Parse(`Ver {C4}. {"nota": 40, "justificativa": "Sem proposta.",}`, competency)
	require.NoError(t, err)
	require.Equal(t, 40, got.Score)
	require.True(t, got.Present)
}
