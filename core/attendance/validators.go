package attendance

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/user"
)

// ExtensionValidator is the extension point for future check-in rules
// (geofencing, facial recognition). Validators run in registration order after
// the built-in checks pass; the first rejection wins.
type ExtensionValidator interface {
	Name() string
	Validate(ctx context.Context, sess Session, student user.User, at time.Time, meta CheckInContext) error
}

// runExtensions short-circuits on the first failing validator.
func runExtensions(
	ctx context.Context,
	validators []ExtensionValidator,
	sess Session,
	student user.User,
	at time.Time,
	meta CheckInContext,
) error {
	for _, v := range validators {
		if err := v.Validate(ctx, sess, student, at, meta); err != nil {
			return errors.Wrapf(ErrExtensionFailed, "%s: %v", v.Name(), err)
		}
	}
	return nil
}

// NewSession contains information needed to schedule a new Session.
type NewSession struct {
	CourseID       string    `json:"course_id" validate:"required"`
	Name           string    `json:"name" validate:"required"`
	Location       string    `json:"location"`
	ScheduledStart time.Time `json:"scheduled_start" validate:"required"`
	ScheduledEnd   time.Time `json:"scheduled_end" validate:"required,gtfield=ScheduledStart"`
}

func (ns *NewSession) Validate(validate *validator.Validate) error {
	ns.Name = core.CleanString(ns.Name)
	ns.Location = core.CleanString(ns.Location)
	return validate.Struct(ns)
}

// SessionUpdate contains the editable fields of a session. Edits are only
// allowed while the session is still Scheduled.
type SessionUpdate struct {
	Name           string    `json:"name" validate:"required"`
	Location       string    `json:"location"`
	ScheduledStart time.Time `json:"scheduled_start" validate:"required"`
	ScheduledEnd   time.Time `json:"scheduled_end" validate:"required,gtfield=ScheduledStart"`
}

func (su *SessionUpdate) Validate(validate *validator.Validate) error {
	su.Name = core.CleanString(su.Name)
	su.Location = core.CleanString(su.Location)
	return validate.Struct(su)
}

type CheckInRequest struct {
	SessionID string         `json:"session_id" validate:"required"`
	Context   CheckInContext `json:"context"`
}

func (ci *CheckInRequest) Validate(validate *validator.Validate) error {
	return validate.Struct(ci)
}

// NewMark contains information needed to record a lecturer override.
type NewMark struct {
	SessionID string `json:"session_id" validate:"required"`
	StudentID string `json:"student_id" validate:"required"`
	Status    Status `json:"status" validate:"required,oneof=PRESENT LATE ABSENT EXCUSED"`
	Reason    string `json:"reason"`
}

func (nm *NewMark) Validate(validate *validator.Validate) error {
	nm.Reason = core.CleanString(nm.Reason)
	return validate.Struct(nm)
}
