package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/attendance"
)

var _ attendance.SessionRepository = (*sessionRepository)(nil)

type sessionRepository struct {
	db *sqlx.DB
}

func NewSessionRepository(db *sqlx.DB) *sessionRepository {
	return &sessionRepository{db: db}
}

type sessionRow struct {
	ID             string       `db:"id"`
	CourseID       string       `db:"course_id"`
	LecturerID     string       `db:"lecturer_id"`
	Name           string       `db:"name"`
	Location       string       `db:"location"`
	State          string       `db:"state"`
	ScheduledStart time.Time    `db:"scheduled_start"`
	ScheduledEnd   time.Time    `db:"scheduled_end"`
	ActualStart    sql.NullTime `db:"actual_start"`
	ActualEnd      sql.NullTime `db:"actual_end"`
	CreatedAt      time.Time    `db:"created_at"`
	UpdatedAt      time.Time    `db:"updated_at"`
}

func (row sessionRow) toSession() attendance.Session {
	return attendance.Session{
		ID:             row.ID,
		CourseID:       row.CourseID,
		LecturerID:     row.LecturerID,
		Name:           row.Name,
		Location:       row.Location,
		ScheduledStart: row.ScheduledStart,
		ScheduledEnd:   row.ScheduledEnd,
		ActualStart:    row.ActualStart.Time,
		ActualEnd:      row.ActualEnd.Time,
		State:          attendance.State(row.State),
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

const sessionColumns = `id, course_id, lecturer_id, name, location, state, scheduled_start, scheduled_end,
	actual_start, actual_end, created_at, updated_at`

func (repo *sessionRepository) CreateSession(ctx context.Context, sess attendance.Session, exec ...core.DBExecutor) (attendance.Session, error) {
	if sess.ID == "" {
		sess.ID = uuid.New().String()
	}
	query := `INSERT INTO session (` + sessionColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := ext(repo.db, exec).ExecContext(ctx, query,
		sess.ID, sess.CourseID, sess.LecturerID, sess.Name, sess.Location, sess.State,
		sess.ScheduledStart, sess.ScheduledEnd, nullTime(sess.ActualStart), nullTime(sess.ActualEnd),
		sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return attendance.Session{}, errors.Wrap(err, "inserting session")
	}
	return sess, nil
}

func (repo *sessionRepository) GetSessionByID(ctx context.Context, id string, exec ...core.DBExecutor) (attendance.Session, error) {
	var row sessionRow
	query := `SELECT ` + sessionColumns + ` FROM session WHERE id = $1`
	if err := sqlx.GetContext(ctx, ext(repo.db, exec), &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return attendance.Session{}, attendance.ErrSessionNotFound
		}
		return attendance.Session{}, errors.Wrap(err, "getting session")
	}
	return row.toSession(), nil
}

func (repo *sessionRepository) SessionsForCourse(ctx context.Context, courseID string, exec ...core.DBExecutor) ([]attendance.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM session WHERE course_id = $1 ORDER BY scheduled_start, id`
	return repo.list(ctx, query, exec, courseID)
}

func (repo *sessionRepository) FilterSessions(ctx context.Context, filter *attendance.SessionFilter, exec ...core.DBExecutor) ([]attendance.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM session`
	var (
		clauses []string
		args    []interface{}
	)
	if filter != nil {
		if filter.CourseID != "" {
			args = append(args, filter.CourseID)
			clauses = append(clauses, `course_id = $`+itoa(len(args)))
		}
		if len(filter.CourseIDs) > 0 {
			args = append(args, pq.StringArray(filter.CourseIDs))
			clauses = append(clauses, `course_id = ANY ($`+itoa(len(args))+`)`)
		}
		if filter.LecturerID != "" {
			args = append(args, filter.LecturerID)
			clauses = append(clauses, `lecturer_id = $`+itoa(len(args)))
		}
		if !filter.DateFrom.IsZero() {
			args = append(args, filter.DateFrom)
			clauses = append(clauses, `scheduled_start >= $`+itoa(len(args)))
		}
		if !filter.DateTo.IsZero() {
			args = append(args, filter.DateTo)
			clauses = append(clauses, `scheduled_start <= $`+itoa(len(args)))
		}
	}
	query += where(clauses) + ` ORDER BY scheduled_start, id`
	return repo.list(ctx, query, exec, args...)
}

func (repo *sessionRepository) list(ctx context.Context, query string, exec []core.DBExecutor, args ...interface{}) ([]attendance.Session, error) {
	var rows []sessionRow
	if err := sqlx.SelectContext(ctx, ext(repo.db, exec), &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying sessions")
	}
	sessions := make([]attendance.Session, len(rows))
	for i, row := range rows {
		sessions[i] = row.toSession()
	}
	return sessions, nil
}

// transition applies a guarded state change in one statement. Zero rows
// updated means the stored state no longer allows the transition.
func (repo *sessionRepository) transition(
	ctx context.Context,
	id, set, guard string,
	exec []core.DBExecutor,
	args ...interface{},
) (attendance.Session, error) {
	args = append([]interface{}{id}, args...)
	query := `UPDATE session SET ` + set + ` WHERE id = $1 AND ` + guard
	res, err := ext(repo.db, exec).ExecContext(ctx, query, args...)
	if err != nil {
		return attendance.Session{}, errors.Wrap(err, "updating session")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return attendance.Session{}, errors.Wrap(err, "updating session")
	}
	if n == 0 {
		if _, err = repo.GetSessionByID(ctx, id, exec...); err != nil {
			return attendance.Session{}, err
		}
		return attendance.Session{}, attendance.ErrInvalidTransition
	}
	return repo.GetSessionByID(ctx, id, exec...)
}

func (repo *sessionRepository) UpdateSession(ctx context.Context, id string, upd attendance.SessionUpdate, at time.Time, exec ...core.DBExecutor) (attendance.Session, error) {
	return repo.transition(ctx, id,
		`name = $2, location = $3, scheduled_start = $4, scheduled_end = $5, updated_at = $6`,
		`state = 'SCHEDULED'`,
		exec, upd.Name, upd.Location, upd.ScheduledStart, upd.ScheduledEnd, at)
}

func (repo *sessionRepository) StartSession(ctx context.Context, id string, at time.Time, exec ...core.DBExecutor) (attendance.Session, error) {
	return repo.transition(ctx, id,
		`state = 'ACTIVE', actual_start = $2, updated_at = $2`,
		`state = 'SCHEDULED'`,
		exec, at)
}

func (repo *sessionRepository) EndSession(ctx context.Context, id string, at time.Time, exec ...core.DBExecutor) (attendance.Session, error) {
	// A check-in serialized just before this transition may carry a later
	// clock reading than the caller's; actual_end must not precede any
	// accepted record, so clamp it up inside the atomic update.
	return repo.transition(ctx, id,
		`state = 'ENDED', updated_at = $2, actual_end = GREATEST($2, COALESCE((
			SELECT MAX(timestamp) FROM checkin_record
			WHERE session_id = session.id AND status <> 'REJECTED'), $2))`,
		`state = 'ACTIVE'`,
		exec, at)
}

func (repo *sessionRepository) CancelSession(ctx context.Context, id string, exec ...core.DBExecutor) (attendance.Session, error) {
	return repo.transition(ctx, id,
		`state = 'CANCELLED', updated_at = now()`,
		`state IN ('SCHEDULED', 'ACTIVE')`,
		exec)
}

func (repo *sessionRepository) ExpireSessions(ctx context.Context, cutoff time.Time, exec ...core.DBExecutor) (int, error) {
	query := `UPDATE session
		SET state = 'ENDED', actual_end = scheduled_end, updated_at = $1
		WHERE state = 'ACTIVE' AND scheduled_end < $1`
	res, err := ext(repo.db, exec).ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "expiring sessions")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "expiring sessions")
	}
	return int(n), nil
}
