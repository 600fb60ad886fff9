package corpus

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/essay-grader/backend/internal/storage/models"
)

// labelPatterns maps lowercase fragments of the official competency titles.
// The mis-decoded "intervenÃ§Ã£o" form appears in part of the historical data.
var labelPatterns = []struct {
	fragment   string
	competency models.CompetencyID
}{
	{"modalidade escrita formal", models.C1},
	{"domínio da modalidade", models.C1},
	{"compreender a proposta", models.C2},
	{"selecionar, relacionar", models.C3},
	{"mecanismos linguísticos", models.C4},
	{"conhecimento dos mecanismos", models.C4},
	{"proposta de intervenção", models.C5},
	{"proposta de intervenã§ã£o", models.C5},
}

// NormalizeLabel maps a free-text historical competency label onto C1..C5.
func NormalizeLabel(label string) (models.CompetencyID, bool) {
	lower := strings.ToLower(strings.TrimSpace(label))
	for _, p := range labelPatterns {
		if strings.Contains(lower, p.fragment) {
			return p.competency, true
		}
	}

	for i, c := range models.Competencies {
		n := strconv.Itoa(i + 1)
		switch lower {
		case strings.ToLower(string(c)), "competencia_" + n, "competência " + n, "competencia " + n:
			return c, true
		}
	}
	return "", false
}

// referenceScores resolves historical scores by label, falling back to
// position when no label is recognised and at least five entries exist.
func referenceScores(comps []rawCompetency) map[models.CompetencyID]int {
	scores := make(map[models.CompetencyID]int)
	matched := false

	for _, comp := range comps {
		c, ok := NormalizeLabel(comp.Competencia)
		if !ok {
			continue
		}
		matched = true
		if score, ok := jsonInt(comp.Nota); ok {
			scores[c] = models.ClampCompetency(score)
		}
	}

	if !matched && len(comps) >= models.NumCompetencies {
		for i, c := range models.Competencies {
			if score, ok := jsonInt(comps[i].Nota); ok {
				scores[c] = models.ClampCompetency(score)
			}
		}
	}

	if len(scores) == 0 {
		return nil
	}
	return scores
}

// jsonScalar renders a JSON string or number as text.
func jsonScalar(msg json.RawMessage) string {
	msg = bytes.TrimSpace(msg)
	if len(msg) == 0 || bytes.Equal(msg, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(msg, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(msg, &n); err == nil {
		return n.String()
	}
	return ""
}

// jsonInt accepts numbers and numeric strings, rounding fractions.
func jsonInt(msg json.RawMessage) (int, bool) {
	text := jsonScalar(msg)
	if text == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(text, ",", "."), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int(math.Round(f)), true
}
