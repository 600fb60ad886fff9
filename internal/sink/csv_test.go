package sink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/essay-grader/backend/internal/storage/models"
)

func ptr(v int) *int { return &v }

func sampleRow(id string) models.ResultRow {
	return models.ResultRow{
		RunID:           "run-1",
		Mode:            models.ModeMulti,
		EssayID:         id,
		SourceFile:      "tema-1.json",
		Theme:           "Mobilidade, \"urbana\"\ne desafios",
		ReferenceScores: [5]*int{ptr(120), nil, ptr(160), ptr(80), ptr(40)},
		ReferenceTotal:  ptr(560),
		IndividualScores: [5]int{100, 120, 140, 160, 0},
		IndividualTotal:  520,
		ValidatedScores:  [5]int{120, 120, 140, 160, 0},
		ValidatedTotal:   540,
		Differences:      [5]*int{ptr(0), nil, ptr(-20), ptr(80), ptr(-40)},
		DifferenceTotal:  ptr(-20),
		IndividualJustifications: [5]string{"a", "", "c, com vírgula", "d", "Erro: timeout"},
		ValidatedJustifications:  [5]string{"A", "B", "", "D", "E"},
		IndividualSources: [5]models.Source{
			models.SourceGraderDirect, models.SourceGraderDirect, models.SourceGraderDirect,
			models.SourceGraderDirect, models.SourceFallbackZero,
		},
		ValidatedSources: [5]models.Source{
			models.SourceAggregatorValidated, models.SourceAggregatorValidated, models.SourceAggregatorValidated,
			models.SourceAggregatorValidated, models.SourceFallbackZero,
		},
		Diagnosis: "Bom texto.",
		Tips:      [5]string{"", "x", "", "y", ""},
	}
}

func TestCSVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "resultados.csv")
	s, err := NewCSVSink(path)
	require.NoError(t, err)

	rows := []models.ResultRow{sampleRow("1"), sampleRow("2")}
	rows[1].ReferenceTotal = nil
	rows[1].DifferenceTotal = nil
	for _, r := range rows {
		require.NoError(t, s.Append(context.Background(), r))
	}
	require.NoError(t, s.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(data, utf8BOM))

	got, err := ReadCSV(path)
	require.NoError(t, err)
	require.Equal(t, rows, got)
}

func TestCSVResumeWritesHeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resultados.csv")

	s, err := NewCSVSink(path)
	require.NoError(t, err)
	require.NoError(t, s.Append(context.Background(), sampleRow("1")))
	require.NoError(t, s.Close())

	s, err = NewCSVSink(path)
	require.NoError(t, err)
	require.NoError(t, s.Append(context.Background(), sampleRow("2")))
	require.NoError(t, s.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, 1, bytes.Count(data, []byte("redacao_id,")))
	require.Equal(t, 1, bytes.Count(data, utf8BOM))

	got, err := ReadCSV(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestCSVConcurrentAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resultados.csv")
	s, err := NewCSVSink(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			require.NoError(t, s.Append(context.Background(), sampleRow(fmt.Sprint(i))))
		}(i)
	}
	wg.Wait()
	require.NoError(t, s.Close())

	got, err := ReadCSV(path)
	require.NoError(t, err)
	require.Len(t, got, 40)

	seen := map[string]bool{}
	for _, r := range got {
		require.Equal(t, "Bom texto.", r.Diagnosis)
		seen[r.EssayID] = true
	}
	require.Len(t, seen, 40)
}

func TestCSVAppendAfterClose(t *testing.T) {
	s, err := NewCSVSink(filepath.Join(t.TempDir(), "r.csv"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	err = s.Append(context.Background(), sampleRow("1"))
	require.ErrorIs(t, err, ErrSinkWrite)
}

func TestHeaderKeepsHistoricalColumns(t *testing.T) {
	h := Header()
	require.Equal(t, "redacao_id", h[0])
	require.Contains(t, h, "nota_original_total")
	require.Contains(t, h, "nota_agregador_validada_total")
	require.Contains(t, h, "diferenca_C3")
	require.Contains(t, h, "dica_pratica_C5")
	require.Equal(t, "modo", h[len(h)-1])
}

type failingSink struct {
	appended int
	err      error
}

func (f *failingSink) Name() string { return "failing" }
func (f *failingSink) Close() error { return nil }
func (f *failingSink) Append(context.Context, models.ResultRow) error {
	if f.err != nil {
		return f.err
	}
	f.appended++
	return nil
}

func TestMultiStopsAtFirstFailure(t *testing.T) {
	first := &failingSink{err: errors.New("disk full")}
	second := &failingSink{}

	m := NewMulti(first, second)
	err := m.Append(context.Background(), sampleRow("9"))
	require.ErrorIs(t, err, ErrSinkWrite)
	require.Contains(t, err.Error(), "disk full")
	require.Zero(t, second.appended)

	first.err = nil
	require.NoError(t, m.Append(context.Background(), sampleRow("10")))
	require.Equal(t, 1, second.appended)
	require.NoError(t, m.Close())
}
