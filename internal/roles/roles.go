package roles

import (
	"fmt"

	"github.com/essay-grader/backend/internal/storage/models"
)

type RoleID string

const (
	RoleC1         RoleID = "C1"
	RoleC2         RoleID = "C2"
	RoleC3         RoleID = "C3"
	RoleC4         RoleID = "C4"
	RoleC5         RoleID = "C5"
	RoleAggregator RoleID = "AGGREGATOR"
	RoleSingle     RoleID = "SINGLE"
)

type ContractKind int

const (
	// KindCompetency is a flat {"nota", "justificativa"} object.
	KindCompetency ContractKind = iota
	// KindReport nests one {"nota", "justificativa"} object per competency
	// plus a final score, diagnosis and optional tips.
	KindReport
)

// OutputContract describes the object a role is instructed to return.
type OutputContract struct {
	Kind               ContractKind
	ScoreField         string
	JustificationField string
	ScoreMax           int

	// Report contracts only.
	CompetencyKeys [models.NumCompetencies]string
	FinalField     string
	FinalMax       int
	DiagnosisField string
	TipsField      string
}

type RoleConfig struct {
	ID           RoleID
	Name         string
	Competency   models.CompetencyID
	Instructions string
	Contract     OutputContract
}

var competencyContract = OutputContract{
	Kind:               KindCompetency,
	ScoreField:         "nota",
	JustificationField: "justificativa",
	ScoreMax:           models.MaxCompetencyScore,
}

var aggregatorContract = OutputContract{
	Kind:               KindReport,
	ScoreField:         "nota",
	JustificationField: "justificativa",
	ScoreMax:           models.MaxCompetencyScore,
	CompetencyKeys:     [models.NumCompetencies]string{"C1", "C2", "C3", "C4", "C5"},
	FinalField:         "nota_final",
	FinalMax:           models.MaxFinalScore,
	DiagnosisField:     "diagnostico_geral",
	TipsField:          "dicas_praticas",
}

var singleContract = OutputContract{
	Kind:               KindReport,
	ScoreField:         "nota",
	JustificationField: "justificativa",
	ScoreMax:           models.MaxCompetencyScore,
	CompetencyKeys: [models.NumCompetencies]string{
		"competencia_1", "competencia_2", "competencia_3", "competencia_4", "competencia_5",
	},
	FinalField:     "nota_final",
	FinalMax:       models.MaxFinalScore,
	DiagnosisField: "diagnostico_geral",
}

// table is built once and only read afterwards.
var table = map[RoleID]RoleConfig{
	RoleC1: {ID: RoleC1, Name: "Domínio da norma culta", Competency: models.C1, Instructions: c1Instructions, Contract: competencyContract},
	RoleC2: {ID: RoleC2, Name: "Compreensão da proposta", Competency: models.C2, Instructions: c2Instructions, Contract: competencyContract},
	RoleC3: {ID: RoleC3, Name: "Seleção e organização de argumentos", Competency: models.C3, Instructions: c3Instructions, Contract: competencyContract},
	RoleC4: {ID: RoleC4, Name: "Mecanismos de coesão", Competency: models.C4, Instructions: c4Instructions, Contract: competencyContract},
	RoleC5: {ID: RoleC5, Name: "Proposta de intervenção", Competency: models.C5, Instructions: c5Instructions, Contract: competencyContract},
	RoleAggregator: {ID: RoleAggregator, Name: "Avaliador chefe", Instructions: aggregatorInstructions, Contract: aggregatorContract},
	RoleSingle:     {ID: RoleSingle, Name: "Avaliador único", Instructions: singleInstructions, Contract: singleContract},
}

func Get(id RoleID) (RoleConfig, bool) {
	cfg, ok := table[id]
	return cfg, ok
}

func MustGet(id RoleID) RoleConfig {
	cfg, ok := table[id]
	if !ok {
		panic(fmt.Sprintf("roles: unknown role %q", id))
	}
	return cfg
}

// Competencies returns the five competency roles in C1..C5 order.
func Competencies() [models.NumCompetencies]RoleConfig {
	var out [models.NumCompetencies]RoleConfig
	for i, c := range models.Competencies {
		out[i] = table[RoleID(c)]
	}
	return out
}

func ForCompetency(c models.CompetencyID) RoleConfig {
	return MustGet(RoleID(c))
}
