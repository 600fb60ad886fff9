package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClamp(t *testing.T) {
	require.Equal(t, 0, ClampCompetency(-5))
	require.Equal(t, 200, ClampCompetency(250))
	require.Equal(t, 120, ClampCompetency(120))
	require.Equal(t, 1000, ClampFinal(1200))
	require.Equal(t, 0, ClampFinal(-1))
}

func TestCompetencyIndex(t *testing.T) {
	require.Equal(t, 0, C1.Index())
	require.Equal(t, 4, C5.Index())
	require.Equal(t, -1, CompetencyID("C6").Index())
}

func TestNewResultRowDifferences(t *testing.T) {
	total := 800
	rec := EssayRecord{
		ID:              "42",
		Prompt:          strings.Repeat("á", 150),
		Body:            "texto",
		ReferenceScores: map[CompetencyID]int{C1: 160, C3: 120},
		ReferenceTotal:  &total,
		SourceFile:      "tema-1.json",
	}
	v := EssayVerdict{
		Mode:                ModeMulti,
		AggregatorAvailable: true,
		FinalScore:          600,
		Diagnosis:           "bom",
		Tips:                map[CompetencyID]string{C2: "revisar"},
	}
	for i := range v.Individual {
		v.Individual[i] = CompetencyResult{Score: 100, Justification: "ind", Source: SourceGraderDirect}
		v.Validated[i] = CompetencyResult{Score: 120, Justification: "val", Source: SourceAggregatorValidated}
	}

	row := NewResultRow("run-1", rec, v)

	require.Equal(t, "run-1", row.RunID)
	require.Equal(t, 100, len([]rune(row.Theme)))
	require.Equal(t, 500, row.IndividualTotal)
	require.Equal(t, 600, row.ValidatedTotal)
	require.Equal(t, -40, *row.Differences[0])
	require.Nil(t, row.Differences[1])
	require.Nil(t, row.ReferenceScores[1])
	require.Equal(t, 0, *row.Differences[2])
	require.Equal(t, -200, *row.DifferenceTotal)
	require.Equal(t, "revisar", row.Tips[1])
	require.Equal(t, "", row.Tips[0])
	require.Equal(t, SourceAggregatorValidated, row.ValidatedSources[4])
}

func TestVerdictDegraded(t *testing.T) {
	v := EssayVerdict{Mode: ModeMulti, AggregatorAvailable: true}
	for i := range v.Individual {
		v.Individual[i].Source = SourceGraderDirect
	}
	require.False(t, v.Degraded())

	v.Individual[2] = FallbackResult("connection refused")
	require.True(t, v.Degraded())
	require.Equal(t, 0, v.Individual.Get(C3).Score)
}
