package grading

import (
	"fmt"
	"strings"

	"github.com/essay-grader/backend/internal/storage/models"
)

func themeBlock(essay models.EssayRecord) string {
	if strings.TrimSpace(essay.Prompt) == "" {
		return ""
	}
	return "TEMA:\n" + essay.Prompt + "\n\n"
}

func competencyInput(essay models.EssayRecord) string {
	return "Avalie tecnicamente a redação abaixo e responda nota e justificativa.\n\n" +
		themeBlock(essay) +
		"REDAÇÃO:\n" + essay.Body
}

func aggregatorInput(essay models.EssayRecord, individual models.CompetencySet) string {
	sections := make([]string, 0, models.NumCompetencies)
	for i, r := range individual {
		sections = append(sections, fmt.Sprintf("--- Competência %d ---\nNota: %d\nJustificativa: %s", i+1, r.Score, r.Justification))
	}

	var sb strings.Builder
	sb.WriteString(themeBlock(essay))
	sb.WriteString("REDAÇÃO ORIGINAL:\n")
	sb.WriteString(essay.Body)
	sb.WriteString("\n\nAVALIAÇÕES (C1 a C5):\n")
	sb.WriteString(strings.Join(sections, "\n\n"))
	sb.WriteString("\n\nGere o boletim final com nota total e dicas práticas.\n")
	return sb.String()
}

func singleInput(essay models.EssayRecord) string {
	return themeBlock(essay) + essay.Body
}
