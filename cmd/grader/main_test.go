package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/essay-grader/backend/internal/storage/models"
)

func TestVersionCommand(t *testing.T) {
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	require.Equal(t, "grader dev\n", out.String())
}

func TestFlagsOverrideConfig(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ESSAY_GRADER_GRADING_WORKERS", "2")

	cmd := newGradeCommand("single", "")
	cmd.Flags().String("config", "", "")
	require.NoError(t, cmd.ParseFlags([]string{"--corpus", "pool", "--sample", "5"}))

	cfg, err := loadConfig(cmd, func(v *viper.Viper) error {
		v.Set("grading.mode", "single")
		return nil
	})
	require.NoError(t, err)

	require.Equal(t, "pool", cfg.Corpus.Path)
	require.Equal(t, 5, cfg.Corpus.SampleSize)
	require.Equal(t, 2, cfg.Grading.Workers)
	require.Equal(t, "single", cfg.Grading.Mode)
	require.Equal(t, "ollama", cfg.LLM.Provider)
}

func TestDefaultCSVName(t *testing.T) {
	at := time.Date(2025, 3, 9, 14, 5, 7, 0, time.UTC)
	require.Equal(t, "resultados_avaliacao_20250309_140507.csv", defaultCSVName(models.ModeMulti, at))
	require.Equal(t, "resultados_unicoagente_20250309_140507.csv", defaultCSVName(models.ModeSingle, at))
}
