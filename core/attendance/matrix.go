package attendance

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/mahudhurio/core/course"
	"github.com/trezcool/mahudhurio/core/user"
)

type (
	// Matrix is the derived per-course attendance grid: rows are enrolled
	// students, columns course sessions in chronological order (cancelled
	// sessions excluded). It is a transient view, never a source of truth.
	Matrix struct {
		Course   course.Course `json:"course"`
		Sessions []Session     `json:"sessions"`
		Students []user.User   `json:"students"`
		// Cells[i][j] is the resolved status of Students[i] in Sessions[j].
		Cells [][]Status `json:"cells"`
	}

	// Summary aggregates one student's resolved statuses over the held
	// sessions of a course.
	Summary struct {
		StudentID string  `json:"student_id"`
		CourseID  string  `json:"course_id"`
		Held      int     `json:"total_sessions"`
		Present   int     `json:"present"`
		Late      int     `json:"late"`
		Absent    int     `json:"absent"`
		Excused   int     `json:"excused"`
		Rate      float64 `json:"attendance_rate"`
	}

	// RosterEntry is one student's resolved status for a single session.
	RosterEntry struct {
		Student  user.User `json:"student"`
		Status   Status    `json:"status"`
		MarkedAt time.Time `json:"marked_at,omitempty"`
	}

	Roster struct {
		Session      Session       `json:"session"`
		Entries      []RosterEntry `json:"entries"`
		TotalPresent int           `json:"total_present"`
		TotalAbsent  int           `json:"total_absent"`
	}

	// History is a student's raw accepted records plus derived statistics.
	History struct {
		StudentID string          `json:"student_id"`
		Records   []CheckInRecord `json:"records"`
		Summary   Summary         `json:"statistics"`
	}

	pairKey struct {
		sessionID string
		studentID string
	}
)

// resolution maps (session, student) pairs to their resolved status: a manual
// mark shadows any check-in record, regardless of write order.
type resolution struct {
	records map[pairKey]CheckInRecord
	marks   map[pairKey]ManualMark
}

func newResolution(records []CheckInRecord, marks []ManualMark) resolution {
	res := resolution{
		records: make(map[pairKey]CheckInRecord, len(records)),
		marks:   make(map[pairKey]ManualMark, len(marks)),
	}
	for _, rec := range records {
		if rec.Accepted() {
			res.records[pairKey{rec.SessionID, rec.StudentID}] = rec
		}
	}
	for _, m := range marks {
		key := pairKey{m.SessionID, m.StudentID}
		if prev, ok := res.marks[key]; !ok || m.Timestamp.After(prev.Timestamp) {
			res.marks[key] = m
		}
	}
	return res
}

func (res resolution) status(sessionID, studentID string) Status {
	key := pairKey{sessionID, studentID}
	if m, ok := res.marks[key]; ok {
		return m.Status
	}
	if rec, ok := res.records[key]; ok {
		return rec.Status
	}
	return StatusAbsent
}

func (res resolution) markedAt(sessionID, studentID string) time.Time {
	key := pairKey{sessionID, studentID}
	if m, ok := res.marks[key]; ok {
		return m.Timestamp
	}
	if rec, ok := res.records[key]; ok {
		return rec.Timestamp
	}
	return time.Time{}
}

// buildMatrix is a pure function of its snapshot inputs: identical inputs
// produce identical output, byte for byte.
func buildMatrix(
	crs course.Course,
	sessions []Session,
	students []user.User,
	records []CheckInRecord,
	marks []ManualMark,
) Matrix {
	cols := make([]Session, 0, len(sessions))
	for _, s := range sessions {
		if s.State != StateCancelled {
			cols = append(cols, s)
		}
	}

	res := newResolution(records, marks)
	cells := make([][]Status, len(students))
	for i, stu := range students {
		row := make([]Status, len(cols))
		for j, sess := range cols {
			row[j] = res.status(sess.ID, stu.ID)
		}
		cells[i] = row
	}
	return Matrix{Course: crs, Sessions: cols, Students: students, Cells: cells}
}

// summarize counts resolved statuses over held sessions only. Excused cells
// count toward neither side of the rate.
func summarize(
	studentID, courseID string,
	sessions []Session,
	res resolution,
	asOf time.Time,
	endGrace time.Duration,
) Summary {
	sum := Summary{StudentID: studentID, CourseID: courseID}
	for _, sess := range sessions {
		if sess.State == StateCancelled || !sess.IsHeld(asOf, endGrace) {
			continue
		}
		sum.Held++
		switch res.status(sess.ID, studentID) {
		case StatusPresent:
			sum.Present++
		case StatusLate:
			sum.Late++
		case StatusExcused:
			sum.Excused++
		default:
			sum.Absent++
		}
	}
	if denom := sum.Held - sum.Excused; denom > 0 {
		sum.Rate = float64(sum.Present+sum.Late) / float64(denom) * 100
	}
	return sum
}

// BuildCourseMatrix derives the course attendance grid from one bulk read of
// the ledger and marks, resolved in memory. Reads are snapshot-style: the
// matrix reflects state as of the read and never blocks concurrent check-ins.
// A non-nil window keeps only sessions scheduled inside it.
func (svc *Service) BuildCourseMatrix(ctx context.Context, actor user.User, courseID string, window *DateRange) (Matrix, error) {
	crs, err := svc.courses.GetByID(ctx, courseID)
	if err != nil {
		return Matrix{}, errors.Wrap(err, "finding course")
	}
	if !actor.IsAdmin() && !(actor.IsLecturer() && crs.LecturerID == actor.ID) {
		return Matrix{}, ErrPermissionDenied
	}

	sessions, err := svc.sessions.SessionsForCourse(ctx, courseID)
	if err != nil {
		return Matrix{}, errors.Wrap(err, "listing sessions")
	}
	if window != nil {
		kept := make([]Session, 0, len(sessions))
		for _, s := range sessions {
			if window.Contains(s.ScheduledStart) {
				kept = append(kept, s)
			}
		}
		sessions = kept
	}
	students, err := svc.courses.EnrolledStudents(ctx, courseID)
	if err != nil {
		return Matrix{}, errors.Wrap(err, "listing enrolled students")
	}
	records, err := svc.ledger.RecordsForCourse(ctx, courseID)
	if err != nil {
		return Matrix{}, errors.Wrap(err, "reading ledger")
	}
	marks, err := svc.marks.MarksForCourse(ctx, courseID)
	if err != nil {
		return Matrix{}, errors.Wrap(err, "reading manual marks")
	}
	return buildMatrix(crs, sessions, students, records, marks), nil
}

// BuildStudentSummary derives one student's attendance statistics for a
// course. Sessions not yet held are excluded from the denominator.
func (svc *Service) BuildStudentSummary(ctx context.Context, actor user.User, studentID, courseID string) (Summary, error) {
	if actor.IsStudent() && actor.ID != studentID {
		return Summary{}, ErrPermissionDenied
	}
	crs, err := svc.courses.GetByID(ctx, courseID)
	if err != nil {
		return Summary{}, errors.Wrap(err, "finding course")
	}
	if actor.IsLecturer() && !actor.IsAdmin() && crs.LecturerID != actor.ID && actor.ID != studentID {
		return Summary{}, ErrPermissionDenied
	}

	sessions, err := svc.sessions.SessionsForCourse(ctx, courseID)
	if err != nil {
		return Summary{}, errors.Wrap(err, "listing sessions")
	}
	filter := &HistoryFilter{CourseID: courseID}
	records, err := svc.ledger.RecordsForStudent(ctx, studentID, filter)
	if err != nil {
		return Summary{}, errors.Wrap(err, "reading ledger")
	}
	marks, err := svc.marks.MarksForStudent(ctx, studentID, filter)
	if err != nil {
		return Summary{}, errors.Wrap(err, "reading manual marks")
	}

	res := newResolution(records, marks)
	return summarize(studentID, courseID, sessions, res, svc.clock.Now(), svc.conf.Attendance.EndGrace), nil
}

// SessionRoster resolves every enrolled student's status for one session.
func (svc *Service) SessionRoster(ctx context.Context, actor user.User, sessionID string) (Roster, error) {
	sess, err := svc.sessions.GetSessionByID(ctx, sessionID)
	if err != nil {
		return Roster{}, err
	}
	if !canManageSession(actor, sess) {
		return Roster{}, ErrPermissionDenied
	}

	students, err := svc.courses.EnrolledStudents(ctx, sess.CourseID)
	if err != nil {
		return Roster{}, errors.Wrap(err, "listing enrolled students")
	}
	records, err := svc.ledger.RecordsForSession(ctx, sessionID)
	if err != nil {
		return Roster{}, errors.Wrap(err, "reading ledger")
	}
	marks, err := svc.marks.MarksForSession(ctx, sessionID)
	if err != nil {
		return Roster{}, errors.Wrap(err, "reading manual marks")
	}

	res := newResolution(records, marks)
	roster := Roster{Session: sess, Entries: make([]RosterEntry, 0, len(students))}
	for _, stu := range students {
		status := res.status(sessionID, stu.ID)
		roster.Entries = append(roster.Entries, RosterEntry{
			Student:  stu,
			Status:   status,
			MarkedAt: res.markedAt(sessionID, stu.ID),
		})
		if status == StatusPresent || status == StatusLate {
			roster.TotalPresent++
		} else if status == StatusAbsent {
			roster.TotalAbsent++
		}
	}
	return roster, nil
}

// StudentHistory returns a student's accepted check-ins plus derived
// statistics, optionally narrowed by course and date range.
func (svc *Service) StudentHistory(ctx context.Context, actor user.User, studentID string, filter *HistoryFilter) (History, error) {
	if actor.IsStudent() && actor.ID != studentID {
		return History{}, ErrPermissionDenied
	}
	if filter == nil {
		filter = &HistoryFilter{}
	}

	records, err := svc.ledger.RecordsForStudent(ctx, studentID, filter)
	if err != nil {
		return History{}, errors.Wrap(err, "reading ledger")
	}
	marks, err := svc.marks.MarksForStudent(ctx, studentID, filter)
	if err != nil {
		return History{}, errors.Wrap(err, "reading manual marks")
	}

	// statistics are resolved per session touched by the history window
	res := newResolution(records, marks)
	sum := Summary{StudentID: studentID, CourseID: filter.CourseID}
	seen := make(map[string]bool, len(records))
	count := func(sessionID string) {
		if seen[sessionID] {
			return
		}
		seen[sessionID] = true
		sum.Held++
		switch res.status(sessionID, studentID) {
		case StatusPresent:
			sum.Present++
		case StatusLate:
			sum.Late++
		case StatusExcused:
			sum.Excused++
		default:
			sum.Absent++
		}
	}
	for _, rec := range records {
		count(rec.SessionID)
	}
	for _, m := range marks {
		count(m.SessionID)
	}
	if denom := sum.Held - sum.Excused; denom > 0 {
		sum.Rate = float64(sum.Present+sum.Late) / float64(denom) * 100
	}

	return History{StudentID: studentID, Records: records, Summary: sum}, nil
}
