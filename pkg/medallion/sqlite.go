package medallion

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/verity-protocol/verity/pkg/fault"
	"github.com/verity-protocol/verity/pkg/truthstate"
)

// SQLite persists silver and gold in a single-file database. Silver is
// append-only; gold is a projection table kept in the same transaction.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("medallion: open sqlite: %w", err)
	}
	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle.
func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS silver (
			truth_key    TEXT NOT NULL,
			compile_time TEXT NOT NULL,
			state_hash   TEXT NOT NULL,
			state        TEXT NOT NULL,
			PRIMARY KEY (truth_key, compile_time)
		);
		CREATE TABLE IF NOT EXISTS gold (
			truth_key    TEXT PRIMARY KEY,
			compile_time TEXT NOT NULL,
			state_hash   TEXT NOT NULL,
			state        TEXT NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("medallion: migrate: %w", err)
	}
	return nil
}

func (s *SQLite) Put(state *truthstate.TruthState) error {
	if err := validate(state); err != nil {
		return err
	}
	blob, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("medallion: marshal state: %w", err)
	}
	compileTime := state.CompileInputs.CompileTime.UTC().Format("2006-01-02T15:04:05Z")

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("medallion: begin: %w", err)
	}
	defer tx.Rollback()

	var existingHash string
	err = tx.QueryRow(`SELECT state_hash FROM silver WHERE truth_key = ? AND compile_time = ?`,
		state.TruthKey, compileTime).Scan(&existingHash)
	switch {
	case err == nil:
		if existingHash == state.Security.StateHash {
			return nil
		}
		return fault.Newf(fault.SignalOrderingViolation,
			"silver already holds a different state for %s at %s", state.TruthKey, compileTime)
	case err != sql.ErrNoRows:
		return fmt.Errorf("medallion: silver lookup: %w", err)
	}

	if _, err := tx.Exec(`INSERT INTO silver (truth_key, compile_time, state_hash, state) VALUES (?, ?, ?, ?)`,
		state.TruthKey, compileTime, state.Security.StateHash, blob); err != nil {
		return fmt.Errorf("medallion: insert silver: %w", err)
	}

	var goldTime, goldHash string
	err = tx.QueryRow(`SELECT compile_time, state_hash FROM gold WHERE truth_key = ?`, state.TruthKey).
		Scan(&goldTime, &goldHash)
	replace := false
	switch {
	case err == sql.ErrNoRows:
		replace = true
	case err != nil:
		return fmt.Errorf("medallion: gold lookup: %w", err)
	default:
		if compileTime > goldTime || (compileTime == goldTime && state.Security.StateHash > goldHash) {
			replace = true
		}
	}
	if replace {
		if _, err := tx.Exec(`
			INSERT INTO gold (truth_key, compile_time, state_hash, state) VALUES (?, ?, ?, ?)
			ON CONFLICT (truth_key) DO UPDATE SET
				compile_time = excluded.compile_time,
				state_hash   = excluded.state_hash,
				state        = excluded.state`,
			state.TruthKey, compileTime, state.Security.StateHash, blob); err != nil {
			return fmt.Errorf("medallion: upsert gold: %w", err)
		}
	}

	return tx.Commit()
}

func (s *SQLite) History(truthKey string) ([]*truthstate.TruthState, error) {
	rows, err := s.db.Query(`SELECT state FROM silver WHERE truth_key = ? ORDER BY compile_time, state_hash`, truthKey)
	if err != nil {
		return nil, fmt.Errorf("medallion: history: %w", err)
	}
	defer rows.Close()

	var out []*truthstate.TruthState
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("medallion: scan: %w", err)
		}
		var st truthstate.TruthState
		if err := json.Unmarshal(blob, &st); err != nil {
			return nil, fmt.Errorf("medallion: corrupt state: %w", err)
		}
		out = append(out, &st)
	}
	return out, rows.Err()
}

func (s *SQLite) Latest(truthKey string) (*truthstate.TruthState, bool, error) {
	var blob []byte
	err := s.db.QueryRow(`SELECT state FROM gold WHERE truth_key = ?`, truthKey).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("medallion: latest: %w", err)
	}
	var st truthstate.TruthState
	if err := json.Unmarshal(blob, &st); err != nil {
		return nil, false, fmt.Errorf("medallion: corrupt state: %w", err)
	}
	return &st, true, nil
}

func (s *SQLite) Keys() ([]string, error) {
	rows, err := s.db.Query(`SELECT truth_key FROM gold ORDER BY truth_key`)
	if err != nil {
		return nil, fmt.Errorf("medallion: keys: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("medallion: scan key: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}
