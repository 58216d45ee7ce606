// Package db stores session history (cues, decisions, band-power ratios and
// actuations) in SQLite so runs can be reviewed after the fact.
package db

import (
	"compress/gzip"
	"database/sql"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"
)

type DB struct {
	*sql.DB
	path string
}

// NewDB opens (or creates) the database at path, applies connection PRAGMAs
// and runs the embedded migrations.
func NewDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one connection: the acquisition and actuator goroutines both write
	sqlDB.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	db := &DB{DB: sqlDB, path: path}
	if err := db.MigrateUp(MigrationsFS()); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Session describes one run of the BCI loop.
type Session struct {
	ID         string
	Mode       string
	StartedAt  time.Time
	ConfigJSON string
	Version    string
}

// Decision is a command written to the command slot.
type Decision struct {
	At      time.Time `json:"at"`
	Source  string    `json:"source"` // "classifier" or "gate"
	Command string    `json:"command"`
}

// Ratio is one alpha/beta band-power measurement.
type Ratio struct {
	At    time.Time `json:"at"`
	Alpha float64   `json:"alpha"`
	Beta  float64   `json:"beta"`
	Ratio float64   `json:"ratio"`
}

// Actuation is one command the actuator attempted to execute.
type Actuation struct {
	At        time.Time
	Command   string
	Connected bool
	Err       string
}

// StartSession inserts a new session row and returns its generated ID.
func (db *DB) StartSession(mode string, configJSON []byte, version string, at time.Time) (string, error) {
	id := uuid.NewString()
	_, err := db.Exec(
		`INSERT INTO sessions (session_id, mode, started_unix_nanos, config_json, version) VALUES (?, ?, ?, ?, ?)`,
		id, mode, at.UnixNano(), string(configJSON), version,
	)
	if err != nil {
		return "", fmt.Errorf("failed to start session: %w", err)
	}
	return id, nil
}

// GetSession loads a session by ID.
func (db *DB) GetSession(id string) (*Session, error) {
	var s Session
	var started int64
	var cfg, version sql.NullString
	err := db.QueryRow(
		`SELECT session_id, mode, started_unix_nanos, config_json, version FROM sessions WHERE session_id = ?`, id,
	).Scan(&s.ID, &s.Mode, &started, &cfg, &version)
	if err != nil {
		return nil, err
	}
	s.StartedAt = time.Unix(0, started)
	s.ConfigJSON = cfg.String
	s.Version = version.String
	return &s, nil
}

func (db *DB) RecordCue(sessionID string, at time.Time) error {
	_, err := db.Exec(`INSERT INTO cues (session_id, cued_unix_nanos) VALUES (?, ?)`, sessionID, at.UnixNano())
	return err
}

func (db *DB) RecordDecision(sessionID string, d Decision) error {
	_, err := db.Exec(
		`INSERT INTO decisions (session_id, decided_unix_nanos, source, command) VALUES (?, ?, ?, ?)`,
		sessionID, d.At.UnixNano(), d.Source, d.Command,
	)
	return err
}

func (db *DB) RecordRatio(sessionID string, r Ratio) error {
	_, err := db.Exec(
		`INSERT INTO ratios (session_id, measured_unix_nanos, alpha_power, beta_power, ratio) VALUES (?, ?, ?, ?, ?)`,
		sessionID, r.At.UnixNano(), r.Alpha, r.Beta, r.Ratio,
	)
	return err
}

func (db *DB) RecordActuation(sessionID string, a Actuation) error {
	var errText sql.NullString
	if a.Err != "" {
		errText = sql.NullString{String: a.Err, Valid: true}
	}
	_, err := db.Exec(
		`INSERT INTO actuations (session_id, executed_unix_nanos, command, connected, error) VALUES (?, ?, ?, ?, ?)`,
		sessionID, a.At.UnixNano(), a.Command, a.Connected, errText,
	)
	return err
}

// RecentRatios returns up to n of the session's latest ratios, oldest first.
func (db *DB) RecentRatios(sessionID string, n int) ([]Ratio, error) {
	rows, err := db.Query(`
		SELECT measured_unix_nanos, alpha_power, beta_power, ratio FROM (
			SELECT ratio_id, measured_unix_nanos, alpha_power, beta_power, ratio
			FROM ratios WHERE session_id = ?
			ORDER BY measured_unix_nanos DESC, ratio_id DESC LIMIT ?
		) ORDER BY measured_unix_nanos ASC, ratio_id ASC`, sessionID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ratios []Ratio
	for rows.Next() {
		var at int64
		var r Ratio
		if err := rows.Scan(&at, &r.Alpha, &r.Beta, &r.Ratio); err != nil {
			return nil, err
		}
		r.At = time.Unix(0, at)
		ratios = append(ratios, r)
	}
	return ratios, rows.Err()
}

// RecentDecisions returns up to n of the session's latest decisions, newest first.
func (db *DB) RecentDecisions(sessionID string, n int) ([]Decision, error) {
	rows, err := db.Query(`
		SELECT decided_unix_nanos, source, command FROM decisions
		WHERE session_id = ?
		ORDER BY decided_unix_nanos DESC, decision_id DESC LIMIT ?`, sessionID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var decisions []Decision
	for rows.Next() {
		var at int64
		var d Decision
		if err := rows.Scan(&at, &d.Source, &d.Command); err != nil {
			return nil, err
		}
		d.At = time.Unix(0, at)
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}

// CountActuations returns how many actuations a session recorded, split by
// whether the car was connected.
func (db *DB) CountActuations(sessionID string) (connected, disconnected int, err error) {
	err = db.QueryRow(`
		SELECT
			COALESCE(SUM(CASE WHEN connected THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN connected THEN 0 ELSE 1 END), 0)
		FROM actuations WHERE session_id = ?`, sessionID).Scan(&connected, &disconnected)
	return connected, disconnected, err
}

func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	// create a tailSQL instance and point it to our DB
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://"+db.path, db.DB, &tailsql.DBOptions{
		Label: "Session DB",
	})

	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		backupPath := fmt.Sprintf("backup-%d.db", time.Now().Unix())
		if _, err := db.DB.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		backupFile, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}
		defer func() {
			backupFile.Close()
			if err := os.Remove(backupPath); err != nil {
				log.Printf("Failed to remove backup file: %v", err)
			}
		}()

		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", backupPath))
		w.Header().Set("Content-Type", "application/gzip")

		gzipWriter := gzip.NewWriter(w)
		defer gzipWriter.Close()
		if _, err := io.Copy(gzipWriter, backupFile); err != nil {
			log.Printf("Failed to stream backup: %v", err)
		}
	}))
}
