package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "grader",
		Short: "Batch essay grading with competency graders and an aggregator",
		Long: `grader scores a sample of essays against the five ENEM competencies.

  grader multi --corpus ./conjunto_1 --sample 400    # five graders + aggregator
  grader single --corpus ./todos_os_temas.json       # one holistic grader with retry
  grader cache purge                                 # drop cached model responses`,
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file (default ./config.yaml)")
	root.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().String("log-format", "", "log format: console or json")

	root.AddCommand(newGradeCommand("multi", "Grade with five competency graders and an aggregator"))
	root.AddCommand(newGradeCommand("single", "Grade with a single holistic grader"))
	root.AddCommand(newCacheCommand())
	root.AddCommand(newVersionCommand())

	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "grader %s\n", version)
		},
	}
}
