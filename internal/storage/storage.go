package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps SQLite-backed persistence for run history and row updates.
type Store struct {
	DB *sql.DB // Export for direct database access
}

// New opens (or creates) the database at path and migrates it.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one writer: the run queue and the recorder share this handle
	db.SetMaxOpenConns(1)
	s := &Store{DB: db}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrateUp() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.DB, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	// m is not closed: that would close s.DB
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// Version reports the applied schema version.
func (s *Store) Version() (uint, error) {
	var v uint
	err := s.DB.QueryRow(`SELECT version FROM schema_migrations LIMIT 1;`).Scan(&v)
	return v, err
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// RunRecord captures one persisted pipeline run.
type RunRecord struct {
	ID          string
	Object      string
	Band        string
	SizeKpc     float64
	Survey      string
	Status      string
	ParamsJSON  string
	Error       string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// RowUpdate is one entry of the append-only record log.
type RowUpdate struct {
	Seq       int64
	RunID     string
	Key       string
	Cells     map[string]string
	CreatedAt time.Time
}

// RecordRunQueued inserts a pending run.
func (s *Store) RecordRunQueued(rec RunRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO runs (id, object, band, size_kpc, survey, status, params_json) VALUES (?, ?, ?, ?, ?, ?, ?);`,
		rec.ID, rec.Object, rec.Band, rec.SizeKpc, rec.Survey, rec.Status, rec.ParamsJSON)
	return err
}

// EnsureRun inserts rec unless a run with its id is already recorded.
func (s *Store) EnsureRun(rec RunRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR IGNORE INTO runs (id, object, band, size_kpc, survey, status, params_json) VALUES (?, ?, ?, ?, ?, ?, ?);`,
		rec.ID, rec.Object, rec.Band, rec.SizeKpc, rec.Survey, rec.Status, rec.ParamsJSON)
	return err
}

// RecordRunStart marks a run as running.
func (s *Store) RecordRunStart(id string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE runs SET status='running', started_at=CURRENT_TIMESTAMP WHERE id=?;`, id)
	return err
}

// RecordRunResult finalizes a run with status and meta.
func (s *Store) RecordRunResult(id string, status string, meta map[string]any, errMsg string) error {
	if s == nil {
		return nil
	}
	metaJSON, _ := json.Marshal(meta)
	_, err := s.DB.Exec(`UPDATE runs SET status=?, completed_at=CURRENT_TIMESTAMP, error_message=? WHERE id=?;`, status, errMsg, id)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(`INSERT INTO run_results (run_id, meta_json) VALUES (?, ?);`, id, string(metaJSON))
	return err
}

// RecentRuns returns the latest runs up to limit.
func (s *Store) RecentRuns(limit int) ([]RunRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT id, object, band, size_kpc, survey, status, params_json, created_at, started_at, completed_at, error_message FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []RunRecord
	for rows.Next() {
		var rec RunRecord
		var created time.Time
		var survey, params, errorMsg sql.NullString
		var started, completed sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.Object, &rec.Band, &rec.SizeKpc, &survey, &rec.Status, &params, &created, &started, &completed, &errorMsg); err != nil {
			return nil, err
		}
		rec.CreatedAt = created
		rec.Survey = survey.String
		rec.ParamsJSON = params.String
		if started.Valid {
			rec.StartedAt = &started.Time
		}
		if completed.Valid {
			rec.CompletedAt = &completed.Time
		}
		if errorMsg.Valid {
			rec.Error = errorMsg.String
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// RunMeta fetches the last meta blob for a run.
func (s *Store) RunMeta(id string) (map[string]any, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	var metaJSON string
	err := s.DB.QueryRow(`SELECT meta_json FROM run_results WHERE run_id=? ORDER BY created_at DESC, rowid DESC LIMIT 1;`, id).Scan(&metaJSON)
	if err != nil {
		return nil, err
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return nil, fmt.Errorf("unmarshal meta: %w", err)
	}
	return meta, nil
}

// AppendRecord adds a row snapshot to the record log.
func (s *Store) AppendRecord(runID, key string, cells map[string]string) error {
	if s == nil {
		return nil
	}
	data, err := json.Marshal(cells)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(`INSERT INTO records (run_id, row_key, cells_json) VALUES (?, ?, ?);`, runID, key, string(data))
	return err
}

// History returns every logged update of key, oldest first.
func (s *Store) History(key string) ([]RowUpdate, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT seq, run_id, row_key, cells_json, created_at FROM records WHERE row_key=? ORDER BY seq;`, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RowUpdate
	for rows.Next() {
		var u RowUpdate
		var runID sql.NullString
		var cells string
		if err := rows.Scan(&u.Seq, &runID, &u.Key, &cells, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.RunID = runID.String
		if err := json.Unmarshal([]byte(cells), &u.Cells); err != nil {
			return nil, fmt.Errorf("unmarshal cells: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// Latest folds the record log into the current view: one row per key, as
// of its most recent update.
func (s *Store) Latest() (map[string]map[string]string, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT row_key, cells_json FROM records WHERE seq IN (SELECT MAX(seq) FROM records GROUP BY row_key);`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]map[string]string)
	for rows.Next() {
		var key, cells string
		if err := rows.Scan(&key, &cells); err != nil {
			return nil, err
		}
		var m map[string]string
		if err := json.Unmarshal([]byte(cells), &m); err != nil {
			return nil, fmt.Errorf("unmarshal cells: %w", err)
		}
		out[key] = m
	}
	return out, rows.Err()
}
