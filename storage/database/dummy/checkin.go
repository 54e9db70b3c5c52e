package dummydb

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/attendance"
)

type checkInRepository struct {
	records  *checkInTable
	sessions *sessionTable
}

var _ attendance.Ledger = (*checkInRepository)(nil) // interface compliance check

func NewCheckInRepository(db *DB) attendance.Ledger {
	return &checkInRepository{records: db.checkIn, sessions: db.session}
}

// Record appends under the session table's read lock so the append cannot
// interleave with a state transition, mirroring the share lock the SQL
// implementation takes. Accepted duplicates fail with ErrConflict.
func (repo *checkInRepository) Record(_ context.Context, rec attendance.CheckInRecord, _ ...core.DBExecutor) (attendance.CheckInRecord, error) {
	repo.sessions.RLock()
	defer repo.sessions.RUnlock()

	sess, ok := repo.sessions.table[rec.SessionID]
	if !ok {
		return attendance.CheckInRecord{}, attendance.ErrSessionNotFound
	}
	if rec.Accepted() && sess.State != attendance.StateActive {
		return attendance.CheckInRecord{}, attendance.ErrSessionNotActive
	}

	repo.records.Lock()
	defer repo.records.Unlock()

	if rec.Accepted() {
		for _, r := range repo.records.table {
			if r.SessionID == rec.SessionID && r.StudentID == rec.StudentID && r.Accepted() {
				return attendance.CheckInRecord{}, attendance.ErrConflict
			}
		}
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	repo.records.table = append(repo.records.table, &rec)
	return rec, nil
}

func (repo *checkInRepository) GetAcceptedRecord(_ context.Context, sessionID, studentID string, _ ...core.DBExecutor) (attendance.CheckInRecord, error) {
	repo.records.RLock()
	defer repo.records.RUnlock()

	for _, r := range repo.records.table {
		if r.SessionID == sessionID && r.StudentID == studentID && r.Accepted() {
			return *r, nil
		}
	}
	return attendance.CheckInRecord{}, attendance.ErrRecordNotFound
}

func (repo *checkInRepository) RecordsForSession(_ context.Context, sessionID string, _ ...core.DBExecutor) ([]attendance.CheckInRecord, error) {
	return repo.filter(func(r attendance.CheckInRecord) bool {
		return r.SessionID == sessionID && r.Accepted()
	})
}

func (repo *checkInRepository) RecordsForStudent(_ context.Context, studentID string, filter *attendance.HistoryFilter, _ ...core.DBExecutor) ([]attendance.CheckInRecord, error) {
	sessions := repo.snapshotSessions()
	return repo.filter(func(r attendance.CheckInRecord) bool {
		if r.StudentID != studentID || !r.Accepted() {
			return false
		}
		sess, ok := sessions[r.SessionID]
		if !ok {
			return false
		}
		return matchesHistoryFilter(sess, filter)
	})
}

func (repo *checkInRepository) RecordsForCourse(_ context.Context, courseID string, _ ...core.DBExecutor) ([]attendance.CheckInRecord, error) {
	sessions := repo.snapshotSessions()
	return repo.filter(func(r attendance.CheckInRecord) bool {
		sess, ok := sessions[r.SessionID]
		return ok && sess.CourseID == courseID && r.Accepted()
	})
}

func (repo *checkInRepository) filter(match func(attendance.CheckInRecord) bool) ([]attendance.CheckInRecord, error) {
	repo.records.RLock()
	defer repo.records.RUnlock()

	records := make([]attendance.CheckInRecord, 0)
	for _, r := range repo.records.table {
		if match(*r) {
			records = append(records, *r)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].Timestamp.Equal(records[j].Timestamp) {
			return records[i].Timestamp.Before(records[j].Timestamp)
		}
		return records[i].ID < records[j].ID
	})
	return records, nil
}

func (repo *checkInRepository) snapshotSessions() map[string]attendance.Session {
	repo.sessions.RLock()
	defer repo.sessions.RUnlock()

	sessions := make(map[string]attendance.Session, len(repo.sessions.table))
	for id, sess := range repo.sessions.table {
		sessions[id] = *sess
	}
	return sessions
}

func matchesHistoryFilter(sess attendance.Session, filter *attendance.HistoryFilter) bool {
	if filter == nil {
		return true
	}
	if filter.CourseID != "" && sess.CourseID != filter.CourseID {
		return false
	}
	if !filter.DateFrom.IsZero() && sess.ScheduledStart.Before(filter.DateFrom) {
		return false
	}
	if !filter.DateTo.IsZero() && sess.ScheduledStart.After(filter.DateTo) {
		return false
	}
	return true
}
