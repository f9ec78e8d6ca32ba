package storage

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"turnsync/models"
)

// SQLiteStore holds operational data: sync run records, per-run logs and
// the operator command queue. Domain records live in Postgres.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sync_runs (
		id INTEGER PRIMARY KEY,
		source TEXT,
		started_at DATETIME,
		finished_at DATETIME,
		status TEXT,
		events_seen INTEGER DEFAULT 0,
		created INTEGER DEFAULT 0,
		modified INTEGER DEFAULT 0,
		removed INTEGER DEFAULT 0,
		conflicts INTEGER DEFAULT 0,
		errors_count INTEGER DEFAULT 0,
		error_message TEXT DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS run_logs (
		id INTEGER PRIMARY KEY,
		run_id INTEGER,
		timestamp DATETIME,
		level TEXT,
		message TEXT,
		source TEXT
	);

	CREATE TABLE IF NOT EXISTS commands (
		id INTEGER PRIMARY KEY,
		command TEXT,
		params JSON,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		processed_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_commands_pending ON commands(processed_at) WHERE processed_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_logs_run ON run_logs(run_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON sync_runs(status, started_at);
	CREATE INDEX IF NOT EXISTS idx_runs_source ON sync_runs(source, started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) CreateRun(run *models.SyncRun) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO sync_runs (source, started_at, status)
		VALUES (?, ?, ?)`,
		run.Source, run.StartedAt, run.Status)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) UpdateRun(run *models.SyncRun) error {
	_, err := s.db.Exec(`
		UPDATE sync_runs
		SET finished_at = ?, status = ?, events_seen = ?, created = ?,
			modified = ?, removed = ?, conflicts = ?, errors_count = ?, error_message = ?
		WHERE id = ?`,
		run.FinishedAt, run.Status, run.EventsSeen, run.Created,
		run.Modified, run.Removed, run.Conflicts, run.ErrorsCount, run.ErrorMessage,
		run.ID)
	return err
}

func (s *SQLiteStore) GetLastRunTime(source string) (time.Time, error) {
	var t sql.NullTime
	err := s.db.QueryRow(`
		SELECT MAX(started_at) FROM sync_runs WHERE source = ?`, source).Scan(&t)
	if err != nil {
		return time.Time{}, err
	}
	if !t.Valid {
		return time.Time{}, nil
	}
	return t.Time, nil
}

func (s *SQLiteStore) AppendLog(runID *int64, level models.LogLevel, source, message string) error {
	_, err := s.db.Exec(`
		INSERT INTO run_logs (run_id, timestamp, level, message, source)
		VALUES (?, ?, ?, ?, ?)`,
		runID, time.Now(), level, message, source)
	return err
}

func (s *SQLiteStore) GetPendingCommands() ([]models.Command, error) {
	rows, err := s.db.Query(`
		SELECT id, command, COALESCE(params, '{}'), created_at
		FROM commands WHERE processed_at IS NULL
		ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cmds []models.Command
	for rows.Next() {
		var cmd models.Command
		if err := rows.Scan(&cmd.ID, &cmd.Command, &cmd.Params, &cmd.CreatedAt); err != nil {
			return nil, err
		}
		cmds = append(cmds, cmd)
	}
	return cmds, rows.Err()
}

func (s *SQLiteStore) MarkCommandProcessed(id int64) error {
	_, err := s.db.Exec(`UPDATE commands SET processed_at = ? WHERE id = ?`, time.Now(), id)
	return err
}

func (s *SQLiteStore) EnqueueCommand(cmd models.CommandType, params []byte) error {
	_, err := s.db.Exec(`INSERT INTO commands (command, params) VALUES (?, ?)`, cmd, params)
	return err
}
