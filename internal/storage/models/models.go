package models

import (
	"fmt"
	"time"

	"github.com/essay-grader/backend/pkg/utils"
)

const (
	MaxCompetencyScore = 200
	MaxFinalScore      = 1000
	NumCompetencies    = 5
)

type CompetencyID string

const (
	C1 CompetencyID = "C1"
	C2 CompetencyID = "C2"
	C3 CompetencyID = "C3"
	C4 CompetencyID = "C4"
	C5 CompetencyID = "C5"
)

// Competencies lists the five dimensions in report order.
var Competencies = [NumCompetencies]CompetencyID{C1, C2, C3, C4, C5}

// Index returns the zero-based position of c, or -1 for an unknown id.
func (c CompetencyID) Index() int {
	for i, id := range Competencies {
		if id == c {
			return i
		}
	}
	return -1
}

type Source string

const (
	SourceGraderDirect        Source = "GRADER_DIRECT"
	SourceAggregatorValidated Source = "AGGREGATOR_VALIDATED"
	SourceFallbackZero        Source = "FALLBACK_ZERO"
)

type Mode string

const (
	ModeMulti  Mode = "multi"
	ModeSingle Mode = "single"
)

func ClampCompetency(score int) int {
	return clamp(score, 0, MaxCompetencyScore)
}

func ClampFinal(score int) int {
	return clamp(score, 0, MaxFinalScore)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

type EssayRecord struct {
	ID              string `validate:"required"`
	Prompt          string
	Body            string `validate:"required"`
	ReferenceScores map[CompetencyID]int
	ReferenceTotal  *int
	SourceFile      string
}

// ReferenceScore reports the historical score for c, if the record has one.
func (r EssayRecord) ReferenceScore(c CompetencyID) (int, bool) {
	score, ok := r.ReferenceScores[c]
	return score, ok
}

type CompetencyResult struct {
	Score         int    `json:"score"`
	Justification string `json:"justification"`
	Source        Source `json:"source"`
}

// FallbackResult is the zero-score placeholder for a grader that produced nothing usable.
func FallbackResult(reason string) CompetencyResult {
	return CompetencyResult{Score: 0, Justification: reason, Source: SourceFallbackZero}
}

// CompetencySet holds one result per competency, indexed like Competencies.
type CompetencySet [NumCompetencies]CompetencyResult

func (s CompetencySet) Sum() int {
	total := 0
	for _, r := range s {
		total += r.Score
	}
	return total
}

func (s CompetencySet) Get(c CompetencyID) CompetencyResult {
	return s[c.Index()]
}

type EssayVerdict struct {
	EssayID             string
	Mode                Mode
	Individual          CompetencySet
	Validated           CompetencySet
	FinalScore          int
	Diagnosis           string
	Tips                map[CompetencyID]string
	AggregatorAvailable bool
	Traces              []CallTrace
}

// Degraded reports whether any part of the verdict came from a fallback path.
func (v EssayVerdict) Degraded() bool {
	if v.Mode == ModeMulti && !v.AggregatorAvailable {
		return true
	}
	for _, r := range v.Individual {
		if r.Source == SourceFallbackZero {
			return true
		}
	}
	return false
}

// CallTrace records one exchange with the text-generation backend.
type CallTrace struct {
	Role      string
	Attempt   int
	StartedAt time.Time
	Latency   time.Duration
	Raw       string
	Err       string
}

// ResultRow is the flattened, persisted form of one graded essay.
// Pointer fields are nil when the corpus had no historical value to compare against.
type ResultRow struct {
	RunID      string
	Mode       Mode
	EssayID    string
	SourceFile string
	Theme      string

	ReferenceScores [NumCompetencies]*int
	ReferenceTotal  *int

	IndividualScores [NumCompetencies]int
	IndividualTotal  int

	ValidatedScores [NumCompetencies]int
	ValidatedTotal  int

	Differences     [NumCompetencies]*int
	DifferenceTotal *int

	IndividualJustifications [NumCompetencies]string
	ValidatedJustifications  [NumCompetencies]string
	IndividualSources        [NumCompetencies]Source
	ValidatedSources         [NumCompetencies]Source

	Diagnosis string
	Tips      [NumCompetencies]string

	// Calls is archived by trace-aware sinks and not part of the tabular row.
	Calls []CallTrace
}

const maxThemeRunes = 100

// NewResultRow projects a record and its verdict into a row. Differences are
// validated minus historical and stay nil when there is no historical value.
func NewResultRow(runID string, rec EssayRecord, v EssayVerdict) ResultRow {
	row := ResultRow{
		RunID:      runID,
		Mode:       v.Mode,
		EssayID:    rec.ID,
		SourceFile: rec.SourceFile,
		Theme:      utils.TruncateRunes(rec.Prompt, maxThemeRunes),
		Diagnosis:  v.Diagnosis,
		Calls:      v.Traces,
	}

	for i, c := range Competencies {
		ind, val := v.Individual[i], v.Validated[i]

		row.IndividualScores[i] = ind.Score
		row.IndividualJustifications[i] = ind.Justification
		row.IndividualSources[i] = ind.Source
		row.ValidatedScores[i] = val.Score
		row.ValidatedJustifications[i] = val.Justification
		row.ValidatedSources[i] = val.Source
		row.Tips[i] = v.Tips[c]

		if ref, ok := rec.ReferenceScore(c); ok {
			row.ReferenceScores[i] = intPtr(ref)
			row.Differences[i] = intPtr(val.Score - ref)
		}
	}

	row.IndividualTotal = v.Individual.Sum()
	row.ValidatedTotal = v.FinalScore

	if rec.ReferenceTotal != nil {
		row.ReferenceTotal = intPtr(*rec.ReferenceTotal)
		row.DifferenceTotal = intPtr(v.FinalScore - *rec.ReferenceTotal)
	}

	return row
}

func (r ResultRow) String() string {
	return fmt.Sprintf("essay %s: %d/%d", r.EssayID, r.ValidatedTotal, MaxFinalScore)
}

func intPtr(v int) *int {
	return &v
}
