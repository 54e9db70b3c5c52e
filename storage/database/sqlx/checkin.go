package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/pkg/errors"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/attendance"
)

var _ attendance.Ledger = (*checkInRepository)(nil)

type checkInRepository struct {
	db *sqlx.DB
}

func NewCheckInRepository(db *sqlx.DB) *checkInRepository {
	return &checkInRepository{db: db}
}

type checkInRow struct {
	ID           string         `db:"id"`
	SessionID    string         `db:"session_id"`
	StudentID    string         `db:"student_id"`
	Status       string         `db:"status"`
	Timestamp    time.Time      `db:"timestamp"`
	Context      types.JSONText `db:"context"`
	RejectReason string         `db:"reject_reason"`
}

func (row checkInRow) toRecord() (attendance.CheckInRecord, error) {
	rec := attendance.CheckInRecord{
		ID:           row.ID,
		SessionID:    row.SessionID,
		StudentID:    row.StudentID,
		Timestamp:    row.Timestamp,
		Status:       attendance.Status(row.Status),
		RejectReason: row.RejectReason,
		CreatedAt:    row.Timestamp,
	}
	if len(row.Context) > 0 {
		if err := json.Unmarshal(row.Context, &rec.Context); err != nil {
			return attendance.CheckInRecord{}, errors.Wrap(err, "decoding check-in context")
		}
	}
	return rec, nil
}

const checkInColumns = `id, session_id, student_id, status, timestamp, context, reject_reason`

// Record appends a ledger entry. The session row is share-locked for the
// duration of the insert so an accepted record can never land after a
// concurrent EndSession commits; the partial unique index turns a concurrent
// duplicate into ErrConflict.
func (repo *checkInRepository) Record(ctx context.Context, rec attendance.CheckInRecord, exec ...core.DBExecutor) (attendance.CheckInRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	meta, err := json.Marshal(rec.Context)
	if err != nil {
		return attendance.CheckInRecord{}, errors.Wrap(err, "encoding check-in context")
	}
	if rec.Context == nil {
		meta = []byte("{}")
	}

	if len(exec) > 0 {
		// caller owns the transaction
		return rec, repo.insert(ctx, ext(repo.db, exec), rec, meta)
	}

	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return attendance.CheckInRecord{}, errors.Wrap(err, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	var state string
	if err = tx.GetContext(ctx, &state, `SELECT state FROM session WHERE id = $1 FOR SHARE`, rec.SessionID); err != nil {
		if err == sql.ErrNoRows {
			return attendance.CheckInRecord{}, attendance.ErrSessionNotFound
		}
		return attendance.CheckInRecord{}, errors.Wrap(err, "locking session")
	}
	if rec.Accepted() && attendance.State(state) != attendance.StateActive {
		return attendance.CheckInRecord{}, attendance.ErrSessionNotActive
	}

	if err = repo.insert(ctx, tx, rec, meta); err != nil {
		return attendance.CheckInRecord{}, err
	}
	if err = tx.Commit(); err != nil {
		return attendance.CheckInRecord{}, errors.Wrap(err, "committing check-in")
	}
	return rec, nil
}

func (repo *checkInRepository) insert(ctx context.Context, e sqlx.ExtContext, rec attendance.CheckInRecord, meta []byte) error {
	query := `INSERT INTO checkin_record (` + checkInColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := e.ExecContext(ctx, query,
		rec.ID, rec.SessionID, rec.StudentID, rec.Status, rec.Timestamp, types.JSONText(meta), rec.RejectReason,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return attendance.ErrConflict
		}
		return errors.Wrap(err, "inserting check-in record")
	}
	return nil
}

func (repo *checkInRepository) GetAcceptedRecord(ctx context.Context, sessionID, studentID string, exec ...core.DBExecutor) (attendance.CheckInRecord, error) {
	var row checkInRow
	query := `SELECT ` + checkInColumns + ` FROM checkin_record
		WHERE session_id = $1 AND student_id = $2 AND status <> 'REJECTED'`
	if err := sqlx.GetContext(ctx, ext(repo.db, exec), &row, query, sessionID, studentID); err != nil {
		if err == sql.ErrNoRows {
			return attendance.CheckInRecord{}, attendance.ErrRecordNotFound
		}
		return attendance.CheckInRecord{}, errors.Wrap(err, "getting check-in record")
	}
	return row.toRecord()
}

func (repo *checkInRepository) RecordsForSession(ctx context.Context, sessionID string, exec ...core.DBExecutor) ([]attendance.CheckInRecord, error) {
	query := `SELECT ` + checkInColumns + ` FROM checkin_record
		WHERE session_id = $1 AND status <> 'REJECTED' ORDER BY timestamp, id`
	return repo.list(ctx, query, exec, sessionID)
}

func (repo *checkInRepository) RecordsForStudent(ctx context.Context, studentID string, filter *attendance.HistoryFilter, exec ...core.DBExecutor) ([]attendance.CheckInRecord, error) {
	query := `SELECT r.id, r.session_id, r.student_id, r.status, r.timestamp, r.context, r.reject_reason
		FROM checkin_record r JOIN session s ON s.id = r.session_id`
	clauses := []string{`r.student_id = $1`, `r.status <> 'REJECTED'`}
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
	query += where(clauses) + ` ORDER BY r.timestamp, r.id`
	return repo.list(ctx, query, exec, args...)
}

func (repo *checkInRepository) RecordsForCourse(ctx context.Context, courseID string, exec ...core.DBExecutor) ([]attendance.CheckInRecord, error) {
	query := `SELECT r.id, r.session_id, r.student_id, r.status, r.timestamp, r.context, r.reject_reason
		FROM checkin_record r JOIN session s ON s.id = r.session_id
		WHERE s.course_id = $1 AND r.status <> 'REJECTED' ORDER BY r.timestamp, r.id`
	return repo.list(ctx, query, exec, courseID)
}

func (repo *checkInRepository) list(ctx context.Context, query string, exec []core.DBExecutor, args ...interface{}) ([]attendance.CheckInRecord, error) {
	var rows []checkInRow
	if err := sqlx.SelectContext(ctx, ext(repo.db, exec), &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying check-in records")
	}
	records := make([]attendance.CheckInRecord, len(rows))
	for i, row := range rows {
		rec, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		records[i] = rec
	}
	return records, nil
}
