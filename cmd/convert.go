package cmd

import (
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tokenlab/tokensim/sim/export"
)

var (
	convertDBPath string
	convertRunID  string
)

// convertCmd re-exports a stored run as CSV
var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Write a run stored in SQLite as CSV",
	Long:  "Read a Monte Carlo run from a results database and write its table as CSV to stdout. Without --run the most recent run is used.",
	Run: func(cmd *cobra.Command, args []string) {
		setLogLevel()
		if err := convertRun(convertDBPath, convertRunID, cmd.OutOrStdout()); err != nil {
			logrus.Fatalf("Convert failed: %v", err)
		}
	},
}

// convertRun writes run id (or the latest run when id is empty) from the
// database at dbPath to out.
func convertRun(dbPath, id string, out io.Writer) error {
	db, err := export.OpenSQLite(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	var runID uuid.UUID
	if id == "" {
		ids, err := db.RunIDs()
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return fmt.Errorf("no runs stored in %s", dbPath)
		}
		runID = ids[len(ids)-1]
	} else {
		runID, err = uuid.Parse(id)
		if err != nil {
			return fmt.Errorf("run id %q: %w", id, err)
		}
	}
	logrus.Infof("Converting run %s", runID)

	tbl, err := db.LoadTable(runID)
	if err != nil {
		return err
	}
	return export.WriteCSV(out, tbl)
}

func init() {
	convertCmd.Flags().StringVar(&convertDBPath, "sqlite", "", "Results database to read")
	convertCmd.Flags().StringVar(&convertRunID, "run", "", "Run ID to export (default: latest)")
	_ = convertCmd.MarkFlagRequired("sqlite")

	rootCmd.AddCommand(convertCmd)
}
