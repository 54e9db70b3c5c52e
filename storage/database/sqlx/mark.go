package sqlxrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/attendance"
)

var _ attendance.MarkRepository = (*markRepository)(nil)

type markRepository struct {
	db *sqlx.DB
}

func NewMarkRepository(db *sqlx.DB) *markRepository {
	return &markRepository{db: db}
}

type markRow struct {
	ID        string    `db:"id"`
	SessionID string    `db:"session_id"`
	StudentID string    `db:"student_id"`
	Status    string    `db:"status"`
	Reason    string    `db:"reason"`
	MarkedBy  string    `db:"marked_by"`
	MarkedAt  time.Time `db:"marked_at"`
}

func (row markRow) toMark() attendance.ManualMark {
	return attendance.ManualMark{
		ID:        row.ID,
		SessionID: row.SessionID,
		StudentID: row.StudentID,
		MarkedBy:  row.MarkedBy,
		Status:    attendance.Status(row.Status),
		Reason:    row.Reason,
		Timestamp: row.MarkedAt,
	}
}

const markColumns = `id, session_id, student_id, status, reason, marked_by, marked_at`

// SaveMark upserts on the (session, student) pair so the latest override wins.
func (repo *markRepository) SaveMark(ctx context.Context, mark attendance.ManualMark, exec ...core.DBExecutor) (attendance.ManualMark, error) {
	if mark.ID == "" {
		mark.ID = uuid.New().String()
	}
	query := `INSERT INTO manual_mark (` + markColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id, student_id) DO UPDATE
		SET status = EXCLUDED.status, reason = EXCLUDED.reason, marked_by = EXCLUDED.marked_by, marked_at = EXCLUDED.marked_at`
	_, err := ext(repo.db, exec).ExecContext(ctx, query,
		mark.ID, mark.SessionID, mark.StudentID, mark.Status, mark.Reason, mark.MarkedBy, mark.Timestamp,
	)
	if err != nil {
		return attendance.ManualMark{}, errors.Wrap(err, "saving manual mark")
	}
	return mark, nil
}

func (repo *markRepository) MarksForSession(ctx context.Context, sessionID string, exec ...core.DBExecutor) ([]attendance.ManualMark, error) {
	query := `SELECT ` + markColumns + ` FROM manual_mark WHERE session_id = $1 ORDER BY marked_at, id`
	return repo.list(ctx, query, exec, sessionID)
}

func (repo *markRepository) MarksForStudent(ctx context.Context, studentID string, filter *attendance.HistoryFilter, exec ...core.DBExecutor) ([]attendance.ManualMark, error) {
	query := `SELECT m.id, m.session_id, m.student_id, m.status, m.reason, m.marked_by, m.marked_at
		FROM manual_mark m JOIN session s ON s.id = m.session_id`
	clauses := []string{`m.student_id = $1`}
	args := []interface{}{studentID}
	if filter != nil {
		if filter.CourseID != "" {
			args = append(args, filter.CourseID)
			clauses = append(clauses, `s.course_id = $`+itoa(len(args)))
		}
		if !filter.DateFrom.IsZero() {
			args = append(args, filter.DateFrom)
			clauses = append(clauses, `s.scheduled_start >= $`+itoa(len(args)))
		}
		if !filter.DateTo.IsZero() {
			args = append(args, filter.DateTo)
			clauses = append(clauses, `s.scheduled_start <= $`+itoa(len(args)))
		}
	}
	query += where(clauses) + ` ORDER BY m.marked_at, m.id`
	return repo.list(ctx, query, exec, args...)
}

func (repo *markRepository) MarksForCourse(ctx context.Context, courseID string, exec ...core.DBExecutor) ([]attendance.ManualMark, error) {
	query := `SELECT m.id, m.session_id, m.student_id, m.status, m.reason, m.marked_by, m.marked_at
		FROM manual_mark m JOIN session s ON s.id = m.session_id
		WHERE s.course_id = $1 ORDER BY m.marked_at, m.id`
	return repo.list(ctx, query, exec, courseID)
}

func (repo *markRepository) list(ctx context.Context, query string, exec []core.DBExecutor, args ...interface{}) ([]attendance.ManualMark, error) {
	var rows []markRow
	if err := sqlx.SelectContext(ctx, ext(repo.db, exec), &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying manual marks")
	}
	marks := make([]attendance.ManualMark, len(rows))
	for i, row := range rows {
		marks[i] = row.toMark()
	}
	return marks, nil
}
