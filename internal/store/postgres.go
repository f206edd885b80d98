package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"campusicon/internal/model"
)

const pgUniqueViolation = "23505"

// Postgres persists the document model in relational form: courses own their
// sessions, session membership is a keyed row, and the partial unique index
// on active codes backs the locator.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an open connection.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) CreateUser(ctx context.Context, u model.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO users (uid, role, first_name, last_name, email, matric_number, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (uid) DO UPDATE SET
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			email = EXCLUDED.email,
			matric_number = EXCLUDED.matric_number
	`, u.UID, string(u.Role), u.FirstName, u.LastName, u.Email, u.MatriculationNumber, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (p *Postgres) GetUser(ctx context.Context, uid string) (model.User, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT uid, role, first_name, last_name, email, matric_number, created_at
		FROM users WHERE uid = $1
	`, uid)
	var u model.User
	var role string
	if err := row.Scan(&u.UID, &role, &u.FirstName, &u.LastName, &u.Email, &u.MatriculationNumber, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, err
	}
	u.Role = model.Role(role)

	rows, err := p.db.QueryContext(ctx, `SELECT course_id FROM user_courses WHERE uid = $1 ORDER BY added_at`, uid)
	if err != nil {
		return model.User{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return model.User{}, err
		}
		u.Courses = append(u.Courses, id)
	}
	return u, rows.Err()
}

func (p *Postgres) AddUserCourse(ctx context.Context, uid, courseID string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO user_courses (uid, course_id)
		VALUES ($1, $2)
		ON CONFLICT (uid, course_id) DO NOTHING
	`, uid, courseID)
	return err
}

func (p *Postgres) CreateCourse(ctx context.Context, c model.Course) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO courses (id, course_code, course_name, description, admin_uid, date_created)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, c.CourseID, c.CourseCode, c.CourseName, c.Description, c.Admin, c.DateCreated); err != nil {
		return fmt.Errorf("create course: %w", err)
	}
	for _, mod := range c.Moderators {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO course_moderators (course_id, uid) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, c.CourseID, mod); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (p *Postgres) GetCourse(ctx context.Context, courseID string) (model.Course, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, course_code, course_name, description, admin_uid, date_created
		FROM courses WHERE id = $1
	`, courseID)
	var c model.Course
	if err := row.Scan(&c.CourseID, &c.CourseCode, &c.CourseName, &c.Description, &c.Admin, &c.DateCreated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Course{}, ErrNotFound
		}
		return model.Course{}, err
	}
	if err := p.fillCourse(ctx, &c); err != nil {
		return model.Course{}, err
	}
	return c, nil
}

// fillCourse loads moderators, registered students and the embedded session
// list with per-session check-in sets.
func (p *Postgres) fillCourse(ctx context.Context, c *model.Course) error {
	rows, err := p.db.QueryContext(ctx, `SELECT uid FROM course_moderators WHERE course_id = $1`, c.CourseID)
	if err != nil {
		return err
	}
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			rows.Close()
			return err
		}
		c.Moderators = append(c.Moderators, uid)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = p.db.QueryContext(ctx, `SELECT student_uid FROM course_students WHERE course_id = $1 ORDER BY added_at`, c.CourseID)
	if err != nil {
		return err
	}
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			rows.Close()
			return err
		}
		c.RegisteredStudents = append(c.RegisteredStudents, uid)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = p.db.QueryContext(ctx, `
		SELECT id, code, active, anchor_lat, anchor_lon, moderator_uid, date_created
		FROM sessions WHERE course_id = $1 ORDER BY date_created
	`, c.CourseID)
	if err != nil {
		return err
	}
	byID := make(map[string]int)
	for rows.Next() {
		var s model.Session
		if err := rows.Scan(&s.SessionID, &s.Code, &s.Active, &s.Anchor.Latitude, &s.Anchor.Longitude, &s.ModeratorID, &s.DateCreated); err != nil {
			rows.Close()
			return err
		}
		byID[s.SessionID] = len(c.Sessions)
		c.Sessions = append(c.Sessions, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = p.db.QueryContext(ctx, `
		SELECT ss.session_id, ss.student_uid
		FROM session_students ss
		JOIN sessions s ON s.id = ss.session_id
		WHERE s.course_id = $1
		ORDER BY ss.checked_in_at
	`, c.CourseID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var sessionID, uid string
		if err := rows.Scan(&sessionID, &uid); err != nil {
			return err
		}
		if i, ok := byID[sessionID]; ok {
			c.Sessions[i].Students = append(c.Sessions[i].Students, uid)
		}
	}
	return rows.Err()
}

func (p *Postgres) ListCoursesFor(ctx context.Context, uid string) ([]model.Course, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT c.id FROM user_courses uc
		JOIN courses c ON c.id = uc.course_id
		WHERE uc.uid = $1
		ORDER BY c.date_created DESC
	`, uid)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []model.Course
	for _, id := range ids {
		c, err := p.GetCourse(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (p *Postgres) AddCourseStudent(ctx context.Context, courseID, studentID string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO course_students (course_id, student_uid)
		VALUES ($1, $2)
		ON CONFLICT (course_id, student_uid) DO NOTHING
	`, courseID, studentID)
	return err
}

func (p *Postgres) AppendSession(ctx context.Context, courseID string, s model.Session) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO sessions (id, course_id, code, active, anchor_lat, anchor_lon, moderator_uid, date_created)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, s.SessionID, courseID, s.Code, s.Active, s.Anchor.Latitude, s.Anchor.Longitude, s.ModeratorID, s.DateCreated)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			switch pgErr.ConstraintName {
			case "sessions_active_code_idx":
				return ErrCodeTaken
			case "sessions_active_course_idx":
				return ErrActiveSession
			}
		}
		return fmt.Errorf("append session: %w", err)
	}
	return nil
}

func (p *Postgres) EndSession(ctx context.Context, courseID, sessionID string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE sessions SET active = FALSE
		WHERE id = $1 AND course_id = $2
	`, sessionID, courseID)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) FindActiveSessionsByCode(ctx context.Context, code string) ([]Match, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT s.course_id FROM sessions s
		WHERE s.active AND s.code = $1
	`, code)
	if err != nil {
		return nil, err
	}
	var courseIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		courseIDs = append(courseIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []Match
	for _, courseID := range courseIDs {
		c, err := p.GetCourse(ctx, courseID)
		if err != nil {
			return nil, err
		}
		for i := range c.Sessions {
			if c.Sessions[i].Active && c.Sessions[i].Code == code {
				out = append(out, Match{Course: c, Session: c.Sessions[i]})
			}
		}
	}
	return out, nil
}

// AddSessionStudent is the atomic set-union the whole check-in path relies
// on: the insert is conditional on the session still being active, and the
// primary key makes repeats a no-op instead of a duplicate.
func (p *Postgres) AddSessionStudent(ctx context.Context, courseID, sessionID, studentID string) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO session_students (session_id, student_uid)
		SELECT $1, $2
		WHERE EXISTS (SELECT 1 FROM sessions WHERE id = $1 AND course_id = $3 AND active)
		ON CONFLICT (session_id, student_uid) DO NOTHING
	`, sessionID, studentID, courseID)
	if err != nil {
		return false, fmt.Errorf("record attendance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return false, nil
	}

	// Nothing inserted: repeat check-in, ended session, or unknown session.
	row := p.db.QueryRowContext(ctx, `
		SELECT s.active,
		       EXISTS (SELECT 1 FROM session_students ss WHERE ss.session_id = s.id AND ss.student_uid = $2)
		FROM sessions s WHERE s.id = $1 AND s.course_id = $3
	`, sessionID, studentID, courseID)
	var active, member bool
	if err := row.Scan(&active, &member); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrNotFound
		}
		return false, err
	}
	if member {
		return true, nil
	}
	if !active {
		return false, ErrSessionInactive
	}
	return false, fmt.Errorf("record attendance: insert lost for session %s", sessionID)
}

func (p *Postgres) InsertEvent(ctx context.Context, evt model.CheckinEvent) error {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.RecordedAt.IsZero() {
		evt.RecordedAt = time.Now().UTC()
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO attendance_events (id, course_id, session_id, student_uid, distance_m, already_present, status, recorded_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO NOTHING
	`, evt.ID, evt.CourseID, evt.SessionID, evt.StudentID, evt.DistanceM, evt.AlreadyPresent, evt.Status, evt.RecordedAt)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (p *Postgres) ListEvents(ctx context.Context, courseID string, limit, offset int) ([]model.CheckinEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `
		SELECT id, course_id, session_id, student_uid, distance_m, already_present, status, recorded_at
		FROM attendance_events`
	args := []any{}
	if courseID != "" {
		query += ` WHERE course_id = $1`
		args = append(args, courseID)
	}
	query += fmt.Sprintf(` ORDER BY recorded_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.CheckinEvent
	for rows.Next() {
		var evt model.CheckinEvent
		if err := rows.Scan(&evt.ID, &evt.CourseID, &evt.SessionID, &evt.StudentID, &evt.DistanceM, &evt.AlreadyPresent, &evt.Status, &evt.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, evt)
	}
	return out, rows.Err()
}
