package attendance

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/course"
	"github.com/trezcool/mahudhurio/core/user"
)

type (
	SessionRepository interface {
		CreateSession(ctx context.Context, sess Session, exec ...core.DBExecutor) (Session, error)
		GetSessionByID(ctx context.Context, id string, exec ...core.DBExecutor) (Session, error)
		// SessionsForCourse returns all sessions of a course in chronological order.
		SessionsForCourse(ctx context.Context, courseID string, exec ...core.DBExecutor) ([]Session, error)
		FilterSessions(ctx context.Context, filter *SessionFilter, exec ...core.DBExecutor) ([]Session, error)
		// UpdateSession rewrites the editable fields while the stored state is
		// still Scheduled. Atomic; ErrInvalidTransition once started.
		UpdateSession(ctx context.Context, id string, upd SessionUpdate, at time.Time, exec ...core.DBExecutor) (Session, error)
		// StartSession transitions Scheduled -> Active, setting ActualStart.
		// It must apply the transition atomically, returning ErrInvalidTransition
		// when the stored state is not Scheduled.
		StartSession(ctx context.Context, id string, at time.Time, exec ...core.DBExecutor) (Session, error)
		// EndSession transitions Active -> Ended, setting ActualEnd. Atomic;
		// serialized against in-flight Record calls, and ActualEnd is clamped
		// up to the latest accepted record timestamp so that no accepted
		// record ever postdates it.
		EndSession(ctx context.Context, id string, at time.Time, exec ...core.DBExecutor) (Session, error)
		// CancelSession transitions Scheduled|Active -> Cancelled. Atomic.
		CancelSession(ctx context.Context, id string, exec ...core.DBExecutor) (Session, error)
		// ExpireSessions force-ends Active sessions whose scheduled end (plus
		// grace) lies before the cutoff. Returns the number of sessions swept.
		ExpireSessions(ctx context.Context, cutoff time.Time, exec ...core.DBExecutor) (int, error)
	}

	// Ledger is the append-only check-in log, the single source of truth for
	// derived attendance data. No updates, no deletes.
	Ledger interface {
		// Record appends a check-in record. For accepted records it must
		// enforce, at the storage layer, that at most one non-rejected record
		// exists per (session, student) pair, failing with ErrConflict when a
		// concurrent writer got there first.
		Record(ctx context.Context, rec CheckInRecord, exec ...core.DBExecutor) (CheckInRecord, error)
		// GetAcceptedRecord returns the non-rejected record for the pair, or ErrRecordNotFound.
		GetAcceptedRecord(ctx context.Context, sessionID, studentID string, exec ...core.DBExecutor) (CheckInRecord, error)
		// RecordsForSession returns accepted records ordered by timestamp.
		RecordsForSession(ctx context.Context, sessionID string, exec ...core.DBExecutor) ([]CheckInRecord, error)
		// RecordsForStudent returns accepted records ordered by timestamp,
		// optionally narrowed by course and date range.
		RecordsForStudent(ctx context.Context, studentID string, filter *HistoryFilter, exec ...core.DBExecutor) ([]CheckInRecord, error)
		// RecordsForCourse bulk-reads all accepted records of a course in one
		// round trip, for matrix aggregation.
		RecordsForCourse(ctx context.Context, courseID string, exec ...core.DBExecutor) ([]CheckInRecord, error)
	}

	MarkRepository interface {
		// SaveMark records a lecturer override; the latest mark per
		// (session, student) pair wins.
		SaveMark(ctx context.Context, mark ManualMark, exec ...core.DBExecutor) (ManualMark, error)
		MarksForSession(ctx context.Context, sessionID string, exec ...core.DBExecutor) ([]ManualMark, error)
		MarksForStudent(ctx context.Context, studentID string, filter *HistoryFilter, exec ...core.DBExecutor) ([]ManualMark, error)
		MarksForCourse(ctx context.Context, courseID string, exec ...core.DBExecutor) ([]ManualMark, error)
	}

	Service struct {
		sessions   SessionRepository
		ledger     Ledger
		marks      MarkRepository
		courses    course.Service
		clock      core.Clock
		conf       *core.Config
		extensions []ExtensionValidator
	}
)

func NewService(
	sessions SessionRepository,
	ledger Ledger,
	marks MarkRepository,
	courses course.Service,
	clock core.Clock,
	conf *core.Config,
	extensions ...ExtensionValidator,
) *Service {
	return &Service{
		sessions:   sessions,
		ledger:     ledger,
		marks:      marks,
		courses:    courses,
		clock:      clock,
		conf:       conf,
		extensions: extensions,
	}
}

// canManageSession gates lifecycle transitions and manual marks: the session's
// own lecturer or any admin.
func canManageSession(actor user.User, sess Session) bool {
	if actor.IsAdmin() {
		return true
	}
	return actor.IsLecturer() && actor.ID == sess.LecturerID
}

func (svc *Service) CreateSession(ctx context.Context, actor user.User, ns NewSession) (Session, error) {
	if !(actor.IsLecturer() || actor.IsAdmin()) {
		return Session{}, ErrPermissionDenied
	}
	crs, err := svc.courses.GetByID(ctx, ns.CourseID)
	if err != nil {
		return Session{}, errors.Wrap(err, "finding course")
	}
	if actor.IsLecturer() && !actor.IsAdmin() && crs.LecturerID != actor.ID {
		return Session{}, ErrPermissionDenied
	}

	now := svc.clock.Now()
	sess := Session{
		CourseID:       crs.ID,
		LecturerID:     crs.LecturerID,
		Name:           ns.Name,
		Location:       ns.Location,
		ScheduledStart: ns.ScheduledStart.UTC(),
		ScheduledEnd:   ns.ScheduledEnd.UTC(),
		State:          StateScheduled,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	return svc.sessions.CreateSession(ctx, sess)
}

func (svc *Service) GetSession(ctx context.Context, actor user.User, id string) (Session, error) {
	sess, err := svc.sessions.GetSessionByID(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if actor.IsStudent() {
		enrolled, err := svc.courses.IsEnrolled(ctx, actor.ID, sess.CourseID)
		if err != nil {
			return Session{}, errors.Wrap(err, "checking enrollment")
		}
		if !enrolled {
			return Session{}, ErrPermissionDenied
		}
	} else if !canManageSession(actor, sess) {
		return Session{}, ErrPermissionDenied
	}
	return sess, nil
}

// Sessions lists sessions scoped to the actor's role: students see sessions of
// courses they are enrolled in, lecturers their own courses, admins everything.
func (svc *Service) Sessions(ctx context.Context, actor user.User, filter *SessionFilter) ([]Session, error) {
	if filter == nil {
		filter = &SessionFilter{}
	}
	switch {
	case actor.IsAdmin():
		// no scoping
	case actor.IsLecturer():
		filter.LecturerID = actor.ID
	case actor.IsStudent():
		ids, err := svc.courses.EnrolledCourseIDs(ctx, actor.ID)
		if err != nil {
			return nil, errors.Wrap(err, "listing enrollments")
		}
		if len(ids) == 0 {
			return []Session{}, nil
		}
		filter.CourseIDs = ids
	default:
		return nil, ErrPermissionDenied
	}
	return svc.sessions.FilterSessions(ctx, filter)
}

// UpdateSession reschedules or edits a session. Once started the session is
// part of the attendance record and can no longer be edited, only ended or
// cancelled.
func (svc *Service) UpdateSession(ctx context.Context, actor user.User, id string, upd SessionUpdate) (Session, error) {
	sess, err := svc.sessions.GetSessionByID(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if !canManageSession(actor, sess) {
		return Session{}, ErrPermissionDenied
	}
	if sess.State != StateScheduled {
		return Session{}, ErrInvalidTransition
	}
	upd.ScheduledStart = upd.ScheduledStart.UTC()
	upd.ScheduledEnd = upd.ScheduledEnd.UTC()
	return svc.sessions.UpdateSession(ctx, id, upd, svc.clock.Now())
}

func (svc *Service) Start(ctx context.Context, actor user.User, id string) (Session, error) {
	sess, err := svc.sessions.GetSessionByID(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if !canManageSession(actor, sess) {
		return Session{}, ErrPermissionDenied
	}
	now := svc.clock.Now()
	if sess.State != StateScheduled {
		return Session{}, ErrInvalidTransition
	}
	if now.After(sess.ScheduledEnd.Add(svc.conf.Attendance.StartGrace)) {
		return Session{}, errors.Wrap(ErrInvalidTransition, "scheduled window has passed")
	}
	return svc.sessions.StartSession(ctx, id, now)
}

func (svc *Service) End(ctx context.Context, actor user.User, id string) (Session, error) {
	sess, err := svc.sessions.GetSessionByID(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if !canManageSession(actor, sess) {
		return Session{}, ErrPermissionDenied
	}
	if sess.State != StateActive {
		return Session{}, ErrInvalidTransition
	}
	return svc.sessions.EndSession(ctx, id, svc.clock.Now())
}

func (svc *Service) Cancel(ctx context.Context, actor user.User, id string) (Session, error) {
	sess, err := svc.sessions.GetSessionByID(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if !canManageSession(actor, sess) {
		return Session{}, ErrPermissionDenied
	}
	if sess.State != StateScheduled && sess.State != StateActive {
		return Session{}, ErrInvalidTransition
	}
	return svc.sessions.CancelSession(ctx, id)
}

// ExpireOverdue force-ends Active sessions whose attendance window closed
// before now. The lazy EffectiveState check makes this sweep optional; it only
// keeps stored state tidy.
func (svc *Service) ExpireOverdue(ctx context.Context) (int, error) {
	return svc.sessions.ExpireSessions(ctx, svc.clock.Now().Add(-svc.conf.Attendance.EndGrace))
}

// CheckIn validates and records a student check-in. Checks run in order and
// short-circuit on the first failure; rejections are appended to the ledger
// for audit with the rejection reason.
func (svc *Service) CheckIn(ctx context.Context, actor user.User, req CheckInRequest) (CheckInRecord, error) {
	if !actor.IsStudent() {
		return CheckInRecord{}, ErrPermissionDenied
	}
	sess, err := svc.sessions.GetSessionByID(ctx, req.SessionID)
	if err != nil {
		return CheckInRecord{}, err
	}

	now := svc.clock.Now()
	endGrace := svc.conf.Attendance.EndGrace

	// 1. session must be effectively active at the check-in timestamp
	if sess.EffectiveState(now, endGrace) != StateActive {
		return CheckInRecord{}, svc.reject(ctx, sess, actor, now, req.Context, ErrSessionNotActive)
	}

	// 2. student must be enrolled in the session's course
	enrolled, err := svc.courses.IsEnrolled(ctx, actor.ID, sess.CourseID)
	if err != nil {
		return CheckInRecord{}, errors.Wrap(err, "checking enrollment")
	}
	if !enrolled {
		return CheckInRecord{}, svc.reject(ctx, sess, actor, now, req.Context, ErrNotEnrolled)
	}

	// 3. no prior accepted check-in for this (session, student) pair
	if _, err = svc.ledger.GetAcceptedRecord(ctx, sess.ID, actor.ID); err == nil {
		return CheckInRecord{}, svc.reject(ctx, sess, actor, now, req.Context, ErrDuplicateCheckIn)
	} else if errors.Cause(err) != ErrRecordNotFound {
		return CheckInRecord{}, errors.Wrap(err, "checking for prior record")
	}

	// 4. pluggable extension checks (geofence/biometric slots)
	if err = runExtensions(ctx, svc.extensions, sess, actor, now, req.Context); err != nil {
		return CheckInRecord{}, svc.reject(ctx, sess, actor, now, req.Context, err)
	}

	// 5. resolve status from the check-in timestamp
	status := StatusLate
	if !now.After(sess.ActualStart.Add(svc.conf.Attendance.LateThreshold)) {
		status = StatusPresent
	}

	rec := CheckInRecord{
		SessionID: sess.ID,
		StudentID: actor.ID,
		Timestamp: now,
		Status:    status,
		Context:   req.Context,
		CreatedAt: now,
	}
	rec, err = svc.ledger.Record(ctx, rec)
	if err != nil {
		// a concurrent writer already produced the accepted record; the
		// semantic outcome holds, so translate rather than retry
		if errors.Cause(err) == ErrConflict {
			return CheckInRecord{}, ErrDuplicateCheckIn
		}
		return CheckInRecord{}, errors.Wrap(err, "recording check-in")
	}
	return rec, nil
}

// reject appends an audit entry for a refused check-in and passes the refusal through.
func (svc *Service) reject(
	ctx context.Context,
	sess Session,
	student user.User,
	at time.Time,
	meta CheckInContext,
	reason error,
) error {
	rec := CheckInRecord{
		SessionID:    sess.ID,
		StudentID:    student.ID,
		Timestamp:    at,
		Status:       StatusRejected,
		RejectReason: reason.Error(),
		Context:      meta,
		CreatedAt:    at,
	}
	if _, err := svc.ledger.Record(ctx, rec); err != nil {
		// audit failure must not mask the refusal
		return reason
	}
	return reason
}

// Mark records a lecturer override of a student's status for a session.
func (svc *Service) Mark(ctx context.Context, actor user.User, nm NewMark) (ManualMark, error) {
	sess, err := svc.sessions.GetSessionByID(ctx, nm.SessionID)
	if err != nil {
		return ManualMark{}, err
	}
	if !canManageSession(actor, sess) {
		return ManualMark{}, ErrPermissionDenied
	}
	if sess.State != StateActive && sess.State != StateEnded {
		return ManualMark{}, ErrMarkNotAllowed
	}
	enrolled, err := svc.courses.IsEnrolled(ctx, nm.StudentID, sess.CourseID)
	if err != nil {
		return ManualMark{}, errors.Wrap(err, "checking enrollment")
	}
	if !enrolled {
		return ManualMark{}, ErrNotEnrolled
	}

	mark := ManualMark{
		SessionID: sess.ID,
		StudentID: nm.StudentID,
		MarkedBy:  actor.ID,
		Status:    nm.Status,
		Reason:    nm.Reason,
		Timestamp: svc.clock.Now(),
	}
	return svc.marks.SaveMark(ctx, mark)
}
