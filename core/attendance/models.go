package attendance

import (
	"errors"
	"time"
)

var (
	// errors
	ErrSessionNotFound   = errors.New("session not found")
	ErrRecordNotFound    = errors.New("attendance record not found")
	ErrInvalidTransition = errors.New("invalid session state transition")
	ErrSessionNotActive  = errors.New("session is not active")
	ErrNotEnrolled       = errors.New("student is not enrolled in this course")
	ErrDuplicateCheckIn  = errors.New("student has already checked in to this session")
	ErrExtensionFailed   = errors.New("check-in rejected by an extension validator")
	ErrConflict          = errors.New("conflicting attendance record")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrMarkNotAllowed    = errors.New("manual marks are only allowed on active or ended sessions")
)

// Session states
type State string

const (
	StateScheduled State = "SCHEDULED"
	StateActive    State = "ACTIVE"
	StateEnded     State = "ENDED"
	StateCancelled State = "CANCELLED"
)

// Attendance statuses
type Status string

const (
	StatusPresent  Status = "PRESENT"
	StatusLate     Status = "LATE"
	StatusAbsent   Status = "ABSENT"
	StatusExcused  Status = "EXCUSED"
	StatusRejected Status = "REJECTED"
)

// MarkableStatuses are the statuses a lecturer may set via a manual mark.
var MarkableStatuses = []Status{StatusPresent, StatusLate, StatusAbsent, StatusExcused}

// Session is one scheduled class meeting of a course.
//
// Invariants: ActualStart is set iff State is Active or Ended;
// ActualEnd is set iff State is Ended.
type Session struct {
	ID             string    `json:"id"`
	CourseID       string    `json:"course_id"`
	LecturerID     string    `json:"lecturer_id"`
	Name           string    `json:"name"`
	Location       string    `json:"location,omitempty"`
	ScheduledStart time.Time `json:"scheduled_start"`         // UTC
	ScheduledEnd   time.Time `json:"scheduled_end"`           // UTC
	ActualStart    time.Time `json:"actual_start,omitempty"`  // UTC; zero until started
	ActualEnd      time.Time `json:"actual_end,omitempty"`    // UTC; zero until ended
	State          State     `json:"state"`
	CreatedAt      time.Time `json:"created_at"` // UTC
	UpdatedAt      time.Time `json:"updated_at"` // UTC
}

// EffectiveState accounts for implicit time-based expiry: an Active session
// past ScheduledEnd+endGrace is Ended for validation purposes even before an
// explicit end call. Callers must use this rather than trusting a stale
// Active flag.
func (s Session) EffectiveState(now time.Time, endGrace time.Duration) State {
	if s.State == StateActive && now.After(s.EffectiveEnd(endGrace)) {
		return StateEnded
	}
	return s.State
}

// EffectiveEnd is the instant up to which check-ins are accepted: ActualEnd
// once set, otherwise ScheduledEnd+endGrace.
func (s Session) EffectiveEnd(endGrace time.Duration) time.Time {
	if !s.ActualEnd.IsZero() {
		return s.ActualEnd
	}
	return s.ScheduledEnd.Add(endGrace)
}

// IsHeld reports whether the session counts toward summary denominators.
func (s Session) IsHeld(now time.Time, endGrace time.Duration) bool {
	return s.EffectiveState(now, endGrace) == StateEnded
}

// CheckInRecord is one append-only ledger entry. Accepted records are
// immutable; corrections flow through ManualMark, never through mutation.
type CheckInRecord struct {
	ID           string         `json:"id"`
	SessionID    string         `json:"session_id"`
	StudentID    string         `json:"student_id"`
	Timestamp    time.Time      `json:"timestamp"` // UTC
	Status       Status         `json:"status"`
	RejectReason string         `json:"reject_reason,omitempty"`
	Context      CheckInContext `json:"context,omitempty"`
	CreatedAt    time.Time      `json:"created_at"` // UTC
}

func (r CheckInRecord) Accepted() bool {
	return r.Status != StatusRejected
}

// CheckInContext carries free-form validator evidence (geofence coordinates,
// biometric scores) for future extension validators.
type CheckInContext map[string]string

// ManualMark is a lecturer override of a student's status for a session.
// It shadows, but never deletes, any check-in record for the same pair.
type ManualMark struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	StudentID string    `json:"student_id"`
	MarkedBy  string    `json:"marked_by"`
	Status    Status    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"` // UTC
}

type SessionFilter struct {
	CourseID string    `query:"course_id"`
	DateFrom time.Time `query:"date_from"`
	DateTo   time.Time `query:"date_to"`

	// set by the service from the actor, never bound from the request
	CourseIDs  []string `query:"-"`
	LecturerID string   `query:"-"`
}

type HistoryFilter struct {
	CourseID string    `query:"course_id"`
	DateFrom time.Time `query:"date_from"`
	DateTo   time.Time `query:"date_to"`
}

// DateRange narrows report columns by scheduled start. Zero bounds are open.
type DateRange struct {
	From time.Time
	To   time.Time
}

func (r DateRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && t.After(r.To) {
		return false
	}
	return true
}
