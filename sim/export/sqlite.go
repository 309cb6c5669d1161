package export

import (
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/tokenlab/tokensim/sim"
	"github.com/tokenlab/tokensim/sim/trace"
)

// DB stores Monte Carlo results in SQLite. Tables are kept in long format
// (one row per cell) so runs with different columns share one schema.
type DB struct {
	conn *sqlx.DB
}

// OpenSQLite opens or creates a results database at path.
func OpenSQLite(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		seed INTEGER NOT NULL,
		iterations INTEGER NOT NULL,
		repetitions INTEGER NOT NULL,
		unit_of_time TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS result_columns (
		run_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		name TEXT NOT NULL,
		PRIMARY KEY (run_id, position)
	);

	CREATE TABLE IF NOT EXISTS results (
		run_id TEXT NOT NULL,
		row_index INTEGER NOT NULL,
		position INTEGER NOT NULL,
		value REAL,
		PRIMARY KEY (run_id, row_index, position)
	);

	CREATE TABLE IF NOT EXISTS halts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		economy TEXT NOT NULL,
		iteration INTEGER NOT NULL,
		reason TEXT NOT NULL,
		supply REAL NOT NULL,
		price REAL NOT NULL,
		detail TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS spawns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		economy TEXT NOT NULL,
		iteration INTEGER NOT NULL,
		parent TEXT NOT NULL,
		kind TEXT NOT NULL,
		name TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_halts_run ON halts(run_id);
	CREATE INDEX IF NOT EXISTS idx_spawns_run ON spawns(run_id);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// SaveRun writes the run description, its table, and its trace (which may be
// nil) in one transaction.
func (db *DB) SaveRun(info RunInfo, tbl *sim.Table, st *trace.SimulationTrace) error {
	if info.CreatedAt.IsZero() {
		info.CreatedAt = time.Now().UTC()
	}
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	id := info.ID.String()
	if _, err := tx.Exec(`INSERT INTO runs (id, seed, iterations, repetitions, unit_of_time, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, info.Seed, info.Iterations, info.Repetitions, info.UnitOfTime, info.CreatedAt.Format(time.RFC3339)); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	colStmt, err := tx.Preparex(`INSERT INTO result_columns (run_id, position, name) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer colStmt.Close()
	for i, name := range tbl.Columns {
		if _, err := colStmt.Exec(id, i, name); err != nil {
			return fmt.Errorf("insert column %q: %w", name, err)
		}
	}

	stmt, err := tx.Preparex(`INSERT INTO results (run_id, row_index, position, value) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, row := range tbl.Rows {
		for j, v := range row {
			// SQLite has no NaN; store it as NULL.
			cell := sql.NullFloat64{Float64: v, Valid: !math.IsNaN(v)}
			if _, err := stmt.Exec(id, i, j, cell); err != nil {
				return fmt.Errorf("insert row %d: %w", i, err)
			}
		}
	}

	if st != nil {
		for _, h := range st.Halts {
			if _, err := tx.Exec(`INSERT INTO halts (run_id, economy, iteration, reason, supply, price, detail)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				id, h.Economy, h.Iteration, string(h.Reason), h.Supply, h.Price, h.Detail); err != nil {
				return fmt.Errorf("insert halt: %w", err)
			}
		}
		for _, s := range st.Spawns {
			if _, err := tx.Exec(`INSERT INTO spawns (run_id, economy, iteration, parent, kind, name)
				VALUES (?, ?, ?, ?, ?, ?)`,
				id, s.Economy, s.Iteration, s.Parent, s.Kind, s.Name); err != nil {
				return fmt.Errorf("insert spawn: %w", err)
			}
		}
	}

	return tx.Commit()
}

type cellRow struct {
	RowIndex int             `db:"row_index"`
	Position int             `db:"position"`
	Value    sql.NullFloat64 `db:"value"`
}

// LoadTable reads back the table saved for run id.
func (db *DB) LoadTable(id uuid.UUID) (*sim.Table, error) {
	var columns []string
	if err := db.conn.Select(&columns,
		`SELECT name FROM result_columns WHERE run_id = ? ORDER BY position`, id.String()); err != nil {
		return nil, fmt.Errorf("load columns: %w", err)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("no results for run %s", id)
	}

	var cells []cellRow
	if err := db.conn.Select(&cells,
		`SELECT row_index, position, value FROM results WHERE run_id = ? ORDER BY row_index, position`, id.String()); err != nil {
		return nil, fmt.Errorf("load results: %w", err)
	}

	tbl := sim.NewTable(columns...)
	row := make([]float64, len(columns))
	current := 0
	for k, c := range cells {
		v := math.NaN()
		if c.Value.Valid {
			v = c.Value.Float64
		}
		row[c.Position] = v
		if c.Position == len(columns)-1 {
			if c.RowIndex != current {
				return nil, fmt.Errorf("run %s: row %d out of order at cell %d", id, c.RowIndex, k)
			}
			if err := tbl.Append(row...); err != nil {
				return nil, err
			}
			current++
		}
	}
	return tbl, nil
}

// RunIDs lists stored runs, oldest first.
func (db *DB) RunIDs() ([]uuid.UUID, error) {
	var raw []string
	if err := db.conn.Select(&raw, `SELECT id FROM runs ORDER BY created_at, rowid`); err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("run id %q: %w", s, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// CountHalts returns the number of halt records stored for run id.
func (db *DB) CountHalts(id uuid.UUID) (int, error) {
	var n int
	err := db.conn.Get(&n, `SELECT COUNT(*) FROM halts WHERE run_id = ?`, id.String())
	return n, err
}
