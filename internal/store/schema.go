package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Migrate creates the schema if it does not exist. The partial unique index
// on sessions(code) WHERE active is what makes admission codes globally
// unique among live sessions.
func Migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			uid TEXT PRIMARY KEY,
			role TEXT NOT NULL,
			first_name TEXT NOT NULL DEFAULT '',
			last_name TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			matric_number TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS courses (
			id TEXT PRIMARY KEY,
			course_code TEXT NOT NULL,
			course_name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			admin_uid TEXT NOT NULL REFERENCES users(uid),
			date_created TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS course_moderators (
			course_id TEXT NOT NULL REFERENCES courses(id),
			uid TEXT NOT NULL REFERENCES users(uid),
			PRIMARY KEY (course_id, uid)
		)`,
		`CREATE TABLE IF NOT EXISTS course_students (
			course_id TEXT NOT NULL REFERENCES courses(id),
			student_uid TEXT NOT NULL,
			added_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (course_id, student_uid)
		)`,
		`CREATE TABLE IF NOT EXISTS user_courses (
			uid TEXT NOT NULL REFERENCES users(uid),
			course_id TEXT NOT NULL REFERENCES courses(id),
			added_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (uid, course_id)
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			course_id TEXT NOT NULL REFERENCES courses(id),
			code TEXT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			anchor_lat DOUBLE PRECISION NOT NULL,
			anchor_lon DOUBLE PRECISION NOT NULL,
			moderator_uid TEXT NOT NULL,
			date_created TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS sessions_active_code_idx ON sessions (code) WHERE active`,
		`CREATE UNIQUE INDEX IF NOT EXISTS sessions_active_course_idx ON sessions (course_id) WHERE active`,
		`CREATE INDEX IF NOT EXISTS sessions_course_idx ON sessions (course_id)`,
		`CREATE TABLE IF NOT EXISTS session_students (
			session_id TEXT NOT NULL REFERENCES sessions(id),
			student_uid TEXT NOT NULL,
			checked_in_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (session_id, student_uid)
		)`,
		`CREATE TABLE IF NOT EXISTS attendance_events (
			id TEXT PRIMARY KEY,
			course_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			student_uid TEXT NOT NULL,
			distance_m DOUBLE PRECISION NOT NULL DEFAULT 0,
			already_present BOOLEAN NOT NULL DEFAULT FALSE,
			status TEXT NOT NULL DEFAULT 'recorded',
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS attendance_events_course_idx ON attendance_events (course_id, recorded_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
