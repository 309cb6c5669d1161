package cmd

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tokenlab/tokensim/sim"
)

// validateCmd parses and builds a scenario without running it
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a scenario file",
	Run: func(cmd *cobra.Command, args []string) {
		setLogLevel()
		if scenarioPath == "" {
			logrus.Fatalf("--scenario is required")
		}
		if err := validateScenario(scenarioPath); err != nil {
			logrus.Fatalf("%v", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", scenarioPath)
	},
}

// validateScenario loads path and builds every component it describes.
func validateScenario(path string) error {
	sc, err := sim.LoadScenario(path)
	if err != nil {
		return err
	}
	_, err = sc.Build()
	return err
}
