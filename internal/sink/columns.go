package sink

import (
	"fmt"
	"strconv"

	"github.com/essay-grader/backend/internal/storage/models"
)

// column binds one CSV header to a ResultRow field.
type column struct {
	name string
	get  func(r *models.ResultRow) string
	set  func(r *models.ResultRow, v string) error
}

var columns = buildColumns()

// Header returns the CSV header in write order.
func Header() []string {
	names := make([]string, len(columns))
	for i, c := range columns {
		names[i] = c.name
	}
	return names
}

func text(name string, field func(r *models.ResultRow) *string) column {
	return column{
		name: name,
		get:  func(r *models.ResultRow) string { return *field(r) },
		set:  func(r *models.ResultRow, v string) error { *field(r) = v; return nil },
	}
}

func integer(name string, field func(r *models.ResultRow) *int) column {
	return column{
		name: name,
		get:  func(r *models.ResultRow) string { return strconv.Itoa(*field(r)) },
		set: func(r *models.ResultRow, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("column %s: %w", name, err)
			}
			*field(r) = n
			return nil
		},
	}
}

// optional writes nil as an empty cell.
func optional(name string, field func(r *models.ResultRow) **int) column {
	return column{
		name: name,
		get: func(r *models.ResultRow) string {
			if p := *field(r); p != nil {
				return strconv.Itoa(*p)
			}
			return ""
		},
		set: func(r *models.ResultRow, v string) error {
			if v == "" {
				*field(r) = nil
				return nil
			}
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("column %s: %w", name, err)
			}
			*field(r) = &n
			return nil
		},
	}
}

func source(name string, field func(r *models.ResultRow) *models.Source) column {
	return column{
		name: name,
		get:  func(r *models.ResultRow) string { return string(*field(r)) },
		set:  func(r *models.ResultRow, v string) error { *field(r) = models.Source(v); return nil },
	}
}

func perCompetency(prefix string, build func(name string, i int) column) []column {
	out := make([]column, 0, models.NumCompetencies)
	for i, c := range models.Competencies {
		out = append(out, build(prefix+string(c), i))
	}
	return out
}

func buildColumns() []column {
	var cols []column
	add := func(c ...column) { cols = append(cols, c...) }

	add(
		text("redacao_id", func(r *models.ResultRow) *string { return &r.EssayID }),
		text("arquivo_origem", func(r *models.ResultRow) *string { return &r.SourceFile }),
		text("tema", func(r *models.ResultRow) *string { return &r.Theme }),
	)

	add(perCompetency("nota_original_", func(n string, i int) column {
		return optional(n, func(r *models.ResultRow) **int { return &r.ReferenceScores[i] })
	})...)
	add(optional("nota_original_total", func(r *models.ResultRow) **int { return &r.ReferenceTotal }))

	add(perCompetency("nota_agente_individual_", func(n string, i int) column {
		return integer(n, func(r *models.ResultRow) *int { return &r.IndividualScores[i] })
	})...)
	add(integer("nota_agente_individual_total", func(r *models.ResultRow) *int { return &r.IndividualTotal }))

	add(perCompetency("nota_agregador_validada_", func(n string, i int) column {
		return integer(n, func(r *models.ResultRow) *int { return &r.ValidatedScores[i] })
	})...)
	add(integer("nota_agregador_validada_total", func(r *models.ResultRow) *int { return &r.ValidatedTotal }))

	add(perCompetency("diferenca_", func(n string, i int) column {
		return optional(n, func(r *models.ResultRow) **int { return &r.Differences[i] })
	})...)
	add(optional("diferenca_total", func(r *models.ResultRow) **int { return &r.DifferenceTotal }))

	add(perCompetency("justificativa_individual_", func(n string, i int) column {
		return text(n, func(r *models.ResultRow) *string { return &r.IndividualJustifications[i] })
	})...)
	add(perCompetency("justificativa_agregador_", func(n string, i int) column {
		return text(n, func(r *models.ResultRow) *string { return &r.ValidatedJustifications[i] })
	})...)

	add(text("diagnostico_geral", func(r *models.ResultRow) *string { return &r.Diagnosis }))
	add(perCompetency("dica_pratica_", func(n string, i int) column {
		return text(n, func(r *models.ResultRow) *string { return &r.Tips[i] })
	})...)

	add(perCompetency("origem_individual_", func(n string, i int) column {
		return source(n, func(r *models.ResultRow) *models.Source { return &r.IndividualSources[i] })
	})...)
	add(perCompetency("origem_agregador_", func(n string, i int) column {
		return source(n, func(r *models.ResultRow) *models.Source { return &r.ValidatedSources[i] })
	})...)

	add(
		text("run_id", func(r *models.ResultRow) *string { return &r.RunID }),
		column{
			name: "modo",
			get:  func(r *models.ResultRow) string { return string(r.Mode) },
			set:  func(r *models.ResultRow, v string) error { r.Mode = models.Mode(v); return nil },
		},
	)

	return cols
}

func encodeRow(row models.ResultRow) []string {
	record := make([]string, len(columns))
	for i, c := range columns {
		record[i] = c.get(&row)
	}
	return record
}

// decodeRow maps a record onto a row using header positions, so files with
// reordered or missing columns still load.
func decodeRow(header, record []string) (models.ResultRow, error) {
	var row models.ResultRow
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[h] = i
	}
	for _, c := range columns {
		i, ok := index[c.name]
		if !ok || i >= len(record) {
			continue
		}
		if err := c.set(&row, record[i]); err != nil {
			return models.ResultRow{}, err
		}
	}
	return row, nil
}
