package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/docket/pkg/domain/interfaces"
	"github.com/secmon-lab/docket/pkg/domain/model"

	_ "modernc.org/sqlite" // SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id                       TEXT PRIMARY KEY,
	case_id                  TEXT NOT NULL,
	jurisdiction             TEXT NOT NULL DEFAULT '',
	state                    TEXT NOT NULL,
	reconfigure_request_time INTEGER,
	indexed                  INTEGER NOT NULL DEFAULT 0,
	version                  INTEGER NOT NULL,
	body                     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_case_id ON tasks(case_id);
CREATE INDEX IF NOT EXISTS idx_tasks_reconfigure ON tasks(reconfigure_request_time);

CREATE TABLE IF NOT EXISTS task_role_permissions (
	task_id             TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	role_name           TEXT NOT NULL,
	permissions         INTEGER NOT NULL,
	authorizations      TEXT NOT NULL DEFAULT '[]',
	role_category       TEXT NOT NULL DEFAULT '',
	auto_assignable     INTEGER NOT NULL DEFAULT 0,
	assignment_priority INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (task_id, role_name)
);
`

// SQLite stores tasks in a single SQLite database file
type SQLite struct {
	db   *sql.DB
	task *taskRepository
}

var _ interfaces.Repository = &SQLite{}

// New opens (or creates) the database at dsn and applies the schema.
// Use ":memory:" for a throwaway database.
func New(ctx context.Context, dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, unavailable(err, "failed to open sqlite", goerr.V("dsn", dsn))
	}
	db.SetMaxOpenConns(1) // prevent SQLITE_BUSY

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, unavailable(err, "failed to enable foreign keys")
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, unavailable(err, "failed to create schema")
	}

	return &SQLite{
		db:   db,
		task: &taskRepository{db: db},
	}, nil
}

func (s *SQLite) Task() interfaces.TaskRepository {
	return s.task
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func unavailable(err error, msg string, opts ...goerr.Option) error {
	return goerr.Wrap(errors.Join(model.ErrStorageUnavailable, err), msg, opts...)
}
