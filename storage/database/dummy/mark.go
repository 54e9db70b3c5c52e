package dummydb

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/attendance"
)

type markRepository struct {
	marks    *markTable
	sessions *sessionTable
}

var _ attendance.MarkRepository = (*markRepository)(nil) // interface compliance check

func NewMarkRepository(db *DB) attendance.MarkRepository {
	return &markRepository{marks: db.mark, sessions: db.session}
}

func (repo *markRepository) SaveMark(_ context.Context, mark attendance.ManualMark, _ ...core.DBExecutor) (attendance.ManualMark, error) {
	repo.marks.Lock()
	defer repo.marks.Unlock()

	if mark.ID == "" {
		mark.ID = uuid.New().String()
	}
	repo.marks.table[pairKey(mark.SessionID, mark.StudentID)] = &mark
	return mark, nil
}

func (repo *markRepository) MarksForSession(_ context.Context, sessionID string, _ ...core.DBExecutor) ([]attendance.ManualMark, error) {
	return repo.filter(func(m attendance.ManualMark) bool { return m.SessionID == sessionID })
}

func (repo *markRepository) MarksForStudent(_ context.Context, studentID string, filter *attendance.HistoryFilter, _ ...core.DBExecutor) ([]attendance.ManualMark, error) {
	sessions := repo.snapshotSessions()
	return repo.filter(func(m attendance.ManualMark) bool {
		if m.StudentID != studentID {
			return false
		}
		sess, ok := sessions[m.SessionID]
		return ok && matchesHistoryFilter(sess, filter)
	})
}

func (repo *markRepository) MarksForCourse(_ context.Context, courseID string, _ ...core.DBExecutor) ([]attendance.ManualMark, error) {
	sessions := repo.snapshotSessions()
	return repo.filter(func(m attendance.ManualMark) bool {
		sess, ok := sessions[m.SessionID]
		return ok && sess.CourseID == courseID
	})
}

func (repo *markRepository) filter(match func(attendance.ManualMark) bool) ([]attendance.ManualMark, error) {
	repo.marks.RLock()
	defer repo.marks.RUnlock()

	marks := make([]attendance.ManualMark, 0)
	for _, m := range repo.marks.table {
		if match(*m) {
			marks = append(marks, *m)
		}
	}
	sort.Slice(marks, func(i, j int) bool {
		if !marks[i].Timestamp.Equal(marks[j].Timestamp) {
			return marks[i].Timestamp.Before(marks[j].Timestamp)
		}
		return marks[i].ID < marks[j].ID
	})
	return marks, nil
}

func (repo *markRepository) snapshotSessions() map[string]attendance.Session {
	repo.sessions.RLock()
	defer repo.sessions.RUnlock()

	sessions := make(map[string]attendance.Session, len(repo.sessions.table))
	for id, sess := range repo.sessions.table {
		sessions[id] = *sess
	}
	return sessions
}
