package resultstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"resultfetch/lib/scrapers/oneview"

	_ "embed"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var Schema string

var ErrNotFound = sql.ErrNoRows

// Store persists one payload per roll number. A row's presence doubles as
// the completion marker the orchestrator uses to skip records.
type Store struct {
	db *sql.DB
}

func NewStore(database *sql.DB) Store {
	return Store{db: database}
}

// Open opens (or creates) a sqlite database at `path` and applies the
// schema.
func Open(path string) (Store, error) {
	database, err := sql.Open("sqlite", path)
	if err != nil {
		return Store{}, err
	}
	_, err = database.Exec(Schema)
	if err != nil {
		database.Close()
		return Store{}, fmt.Errorf("failed to apply result schema: %w", err)
	}
	return Store{db: database}, nil
}

func (s Store) Close() error {
	return s.db.Close()
}

// ListCompleted returns every roll number that already has a persisted
// payload. Scanned once at orchestrator start-up.
func (s Store) ListCompleted(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT roll_no FROM results`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	completed := map[string]struct{}{}
	for rows.Next() {
		var rollNo string
		err := rows.Scan(&rollNo)
		if err != nil {
			return nil, err
		}
		completed[rollNo] = struct{}{}
	}
	return completed, rows.Err()
}

func (s Store) Read(ctx context.Context, rollNo string) (*oneview.ResultPayload, error) {
	var serialized string
	err := s.db.QueryRowContext(
		ctx,
		`SELECT payload FROM results WHERE roll_no = ?`,
		rollNo,
	).Scan(&serialized)
	if err != nil {
		return nil, err
	}

	var payload oneview.ResultPayload
	err = json.Unmarshal([]byte(serialized), &payload)
	if err != nil {
		return nil, err
	}
	return &payload, nil
}

func (s Store) Write(ctx context.Context, rollNo string, payload *oneview.ResultPayload) error {
	serialized, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO results (roll_no, payload, fetched_at) VALUES (?, ?, ?)
		 ON CONFLICT (roll_no) DO UPDATE SET payload = excluded.payload, fetched_at = excluded.fetched_at`,
		rollNo,
		string(serialized),
		time.Now().Unix(),
	)
	return err
}
