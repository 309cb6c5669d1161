package cmd

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tokenlab/tokensim/sim"
)

var composeFromPaths []string

var composeCmd = &cobra.Command{
	Use:   "compose",
	Short: "Merge several scenarios into one ecosystem scenario",
	Long:  "Load several scenario YAML files and concatenate their economies. Run settings come from the first file. Output is written to stdout.",
	Run: func(cmd *cobra.Command, args []string) {
		setLogLevel()
		if err := composeScenarios(composeFromPaths, cmd.OutOrStdout()); err != nil {
			logrus.Fatalf("Compose failed: %v", err)
		}
	},
}

// composeScenarios loads every path, merges them and writes the result to out.
func composeScenarios(paths []string, out io.Writer) error {
	if len(paths) == 0 {
		return fmt.Errorf("at least one --from flag is required")
	}
	var scenarios []*sim.Scenario
	for _, path := range paths {
		sc, err := sim.LoadScenario(path)
		if err != nil {
			return fmt.Errorf("loading %s: %w", path, err)
		}
		scenarios = append(scenarios, sc)
	}
	merged, err := sim.ComposeScenarios(scenarios)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(merged)
	if err != nil {
		return fmt.Errorf("YAML marshal failed: %w", err)
	}
	_, err = out.Write(data)
	return err
}

func init() {
	composeCmd.Flags().StringArrayVar(&composeFromPaths, "from", nil, "Path to a scenario YAML file (can be repeated)")
	_ = composeCmd.MarkFlagRequired("from")

	rootCmd.AddCommand(composeCmd)
}
