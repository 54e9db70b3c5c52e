package dummydb

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/attendance"
)

type sessionRepository struct {
	db      *sessionTable
	records *checkInTable
}

var _ attendance.SessionRepository = (*sessionRepository)(nil) // interface compliance check

func NewSessionRepository(db *DB) attendance.SessionRepository {
	return &sessionRepository{db: db.session, records: db.checkIn}
}

func sortSessions(sessions []attendance.Session) {
	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].ScheduledStart.Equal(sessions[j].ScheduledStart) {
			return sessions[i].ScheduledStart.Before(sessions[j].ScheduledStart)
		}
		return sessions[i].ID < sessions[j].ID
	})
}

func (repo *sessionRepository) CreateSession(_ context.Context, sess attendance.Session, _ ...core.DBExecutor) (attendance.Session, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if sess.ID == "" {
		sess.ID = uuid.New().String()
	}
	repo.db.table[sess.ID] = &sess
	return sess, nil
}

func (repo *sessionRepository) GetSessionByID(_ context.Context, id string, _ ...core.DBExecutor) (attendance.Session, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if sess, ok := repo.db.table[id]; ok {
		return *sess, nil
	}
	return attendance.Session{}, attendance.ErrSessionNotFound
}

func (repo *sessionRepository) SessionsForCourse(_ context.Context, courseID string, _ ...core.DBExecutor) ([]attendance.Session, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	sessions := make([]attendance.Session, 0)
	for _, sess := range repo.db.table {
		if sess.CourseID == courseID {
			sessions = append(sessions, *sess)
		}
	}
	sortSessions(sessions)
	return sessions, nil
}

func (repo *sessionRepository) FilterSessions(_ context.Context, filter *attendance.SessionFilter, _ ...core.DBExecutor) ([]attendance.Session, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	sessions := make([]attendance.Session, 0)
	for _, sess := range repo.db.table {
		if matchesFilter(*sess, filter) {
			sessions = append(sessions, *sess)
		}
	}
	sortSessions(sessions)
	return sessions, nil
}

func matchesFilter(sess attendance.Session, filter *attendance.SessionFilter) bool {
	if filter == nil {
		return true
	}
	if filter.CourseID != "" && sess.CourseID != filter.CourseID {
		return false
	}
	if len(filter.CourseIDs) > 0 {
		found := false
		for _, id := range filter.CourseIDs {
			if sess.CourseID == id {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.LecturerID != "" && sess.LecturerID != filter.LecturerID {
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

// transition applies fn under the table's write lock when guard admits the
// stored state. The write lock also serializes transitions against in-flight
// check-in appends, which hold the read lock.
func (repo *sessionRepository) transition(
	id string,
	guard func(attendance.State) bool,
	fn func(*attendance.Session),
) (attendance.Session, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	sess, ok := repo.db.table[id]
	if !ok {
		return attendance.Session{}, attendance.ErrSessionNotFound
	}
	if !guard(sess.State) {
		return attendance.Session{}, attendance.ErrInvalidTransition
	}
	fn(sess)
	return *sess, nil
}

func (repo *sessionRepository) UpdateSession(_ context.Context, id string, upd attendance.SessionUpdate, at time.Time, _ ...core.DBExecutor) (attendance.Session, error) {
	return repo.transition(id,
		func(s attendance.State) bool { return s == attendance.StateScheduled },
		func(sess *attendance.Session) {
			sess.Name = upd.Name
			sess.Location = upd.Location
			sess.ScheduledStart = upd.ScheduledStart
			sess.ScheduledEnd = upd.ScheduledEnd
			sess.UpdatedAt = at
		})
}

func (repo *sessionRepository) StartSession(_ context.Context, id string, at time.Time, _ ...core.DBExecutor) (attendance.Session, error) {
	return repo.transition(id,
		func(s attendance.State) bool { return s == attendance.StateScheduled },
		func(sess *attendance.Session) {
			sess.State = attendance.StateActive
			sess.ActualStart = at
			sess.UpdatedAt = at
		})
}

func (repo *sessionRepository) EndSession(_ context.Context, id string, at time.Time, _ ...core.DBExecutor) (attendance.Session, error) {
	return repo.transition(id,
		func(s attendance.State) bool { return s == attendance.StateActive },
		func(sess *attendance.Session) {
			// a check-in serialized just before this transition may carry a
			// later clock reading; actual_end must not precede any accepted record
			if last := repo.latestAccepted(id); last.After(at) {
				at = last
			}
			sess.State = attendance.StateEnded
			sess.ActualEnd = at
			sess.UpdatedAt = at
		})
}

// latestAccepted is called with the session write lock held; record appends
// hold the session read lock throughout, so none is in flight here and the
// ledger cannot grow under us.
func (repo *sessionRepository) latestAccepted(sessionID string) time.Time {
	repo.records.RLock()
	defer repo.records.RUnlock()

	var last time.Time
	for _, r := range repo.records.table {
		if r.SessionID == sessionID && r.Accepted() && r.Timestamp.After(last) {
			last = r.Timestamp
		}
	}
	return last
}

func (repo *sessionRepository) CancelSession(_ context.Context, id string, _ ...core.DBExecutor) (attendance.Session, error) {
	return repo.transition(id,
		func(s attendance.State) bool { return s == attendance.StateScheduled || s == attendance.StateActive },
		func(sess *attendance.Session) {
			sess.State = attendance.StateCancelled
		})
}

func (repo *sessionRepository) ExpireSessions(_ context.Context, cutoff time.Time, _ ...core.DBExecutor) (int, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	var n int
	for _, sess := range repo.db.table {
		if sess.State == attendance.StateActive && sess.ScheduledEnd.Before(cutoff) {
			sess.State = attendance.StateEnded
			sess.ActualEnd = sess.ScheduledEnd
			sess.UpdatedAt = cutoff
			n++
		}
	}
	return n, nil
}
