package signalstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq" // Postgres driver

	"github.com/verity-protocol/verity/pkg/fault"
	"github.com/verity-protocol/verity/pkg/signal"
)

// Postgres stores the signal log in a single append-only table. The
// unique index on signal_id enforces idempotent appends; nothing in the
// schema or the code path can update or delete a row.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an open database handle.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// OpenPostgres dials the database and ensures the schema.
func OpenPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("signalstore: open postgres: %w", err)
	}
	p := &Postgres{db: db}
	if err := p.Migrate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Migrate creates the signals table if absent.
func (p *Postgres) Migrate() error {
	_, err := p.db.Exec(`
		CREATE TABLE IF NOT EXISTS signals (
			signal_id      TEXT PRIMARY KEY,
			signal_type    TEXT NOT NULL,
			signal_time    TIMESTAMPTZ NOT NULL,
			agent_id       TEXT NOT NULL,
			object_id      TEXT NOT NULL,
			policy_version TEXT NOT NULL,
			envelope       JSONB NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("signalstore: migrate: %w", err)
	}
	return nil
}

func (p *Postgres) Append(sig signal.Signal) error {
	if err := sig.VerifyID(); err != nil {
		return err
	}
	envelope, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("signalstore: marshal: %w", err)
	}

	res, err := p.db.Exec(`
		INSERT INTO signals (signal_id, signal_type, signal_time, agent_id, object_id, policy_version, envelope)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (signal_id) DO NOTHING`,
		sig.SignalID, sig.SignalType, sig.Time.UTC(), sig.AgentID, sig.ObjectID, sig.PolicyVersion, envelope)
	if err != nil {
		return fmt.Errorf("signalstore: insert: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// Conflict on id: idempotent when content matches, which the
		// content-addressed id guarantees.
		return nil
	}
	return nil
}

func (p *Postgres) All() ([]signal.Signal, error) {
	return p.query(`SELECT envelope FROM signals ORDER BY signal_time, signal_id`)
}

func (p *Postgres) ForAgent(agentID string) ([]signal.Signal, error) {
	return p.query(`SELECT envelope FROM signals WHERE agent_id = $1 OR object_id = $1 ORDER BY signal_time, signal_id`, agentID)
}

func (p *Postgres) Since(t time.Time) ([]signal.Signal, error) {
	return p.query(`SELECT envelope FROM signals WHERE signal_time >= $1 ORDER BY signal_time, signal_id`, t.UTC())
}

func (p *Postgres) ByType(signalType string) ([]signal.Signal, error) {
	return p.query(`SELECT envelope FROM signals WHERE signal_type = $1 ORDER BY signal_time, signal_id`, signalType)
}

func (p *Postgres) Window(windowID string) ([]signal.Signal, error) {
	return p.query(`SELECT envelope FROM signals WHERE object_id = $1 ORDER BY signal_time, signal_id`, windowID)
}

func (p *Postgres) PolicyVersionAt(t time.Time) (string, error) {
	row := p.db.QueryRow(`
		SELECT policy_version FROM signals
		WHERE signal_type = $1 AND signal_time <= $2
		ORDER BY signal_time DESC, signal_id DESC LIMIT 1`,
		signal.TypePolicyActivated, t.UTC())
	var version string
	if err := row.Scan(&version); err != nil {
		if err == sql.ErrNoRows {
			return "", fault.Newf(fault.PolicyUnknown, "no policy active at %s", t.UTC().Format(time.RFC3339))
		}
		return "", fmt.Errorf("signalstore: policy lookup: %w", err)
	}
	return version, nil
}

func (p *Postgres) query(q string, args ...any) ([]signal.Signal, error) {
	rows, err := p.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("signalstore: query: %w", err)
	}
	defer rows.Close()

	var out []signal.Signal
	for rows.Next() {
		var envelope []byte
		if err := rows.Scan(&envelope); err != nil {
			return nil, fmt.Errorf("signalstore: scan: %w", err)
		}
		var s signal.Signal
		if err := json.Unmarshal(envelope, &s); err != nil {
			return nil, fmt.Errorf("signalstore: corrupt envelope: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("signalstore: rows: %w", err)
	}
	sortCanonical(out)
	return out, nil
}
