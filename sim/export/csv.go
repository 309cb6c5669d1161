// Package export writes simulation result tables to CSV files and SQLite
// databases.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/tokenlab/tokensim/sim"
)

// RunInfo describes the batch a table came from.
type RunInfo struct {
	ID          uuid.UUID `yaml:"id"`
	Seed        int64     `yaml:"seed"`
	Iterations  int       `yaml:"iterations"`
	Repetitions int       `yaml:"repetitions"`
	UnitOfTime  string    `yaml:"unit_of_time"`
	CreatedAt   time.Time `yaml:"created_at"`
}

// WriteCSV writes tbl with a header row. Floats use the shortest
// representation that round-trips; NaN is written as "NaN".
func WriteCSV(w io.Writer, tbl *sim.Table) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(tbl.Columns); err != nil {
		return fmt.Errorf("writing CSV header: %w", err)
	}
	record := make([]string, len(tbl.Columns))
	for i, row := range tbl.Rows {
		for j, v := range row {
			record[j] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("writing CSV row %d: %w", i, err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReadCSV parses a table written by WriteCSV.
func ReadCSV(r io.Reader) (*sim.Table, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading CSV header: %w", err)
	}
	tbl := sim.NewTable(header...)
	row := make([]float64, len(header))
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading CSV row: %w", err)
		}
		for j, field := range record {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d, column %q: %w", line, header[j], err)
			}
			row[j] = v
		}
		if err := tbl.Append(row...); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
	}
	return tbl, nil
}

// ExportCSV writes tbl to dataPath. When headerPath is non-empty the run
// description is written there as YAML.
func ExportCSV(info RunInfo, tbl *sim.Table, headerPath, dataPath string) error {
	if headerPath != "" {
		headerData, err := yaml.Marshal(info)
		if err != nil {
			return fmt.Errorf("marshaling run header: %w", err)
		}
		if err := os.WriteFile(headerPath, headerData, 0644); err != nil {
			return fmt.Errorf("writing run header: %w", err)
		}
	}

	file, err := os.Create(dataPath)
	if err != nil {
		return fmt.Errorf("creating CSV file: %w", err)
	}
	defer func() { _ = file.Close() }()
	return WriteCSV(file, tbl)
}
