package attendance_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/attendance"
	"github.com/trezcool/mahudhurio/core/course"
	"github.com/trezcool/mahudhurio/core/user"
	dummydb "github.com/trezcool/mahudhurio/storage/database/dummy"
)

type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *stepClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type fixture struct {
	svc      *attendance.Service
	crsRepo  course.Repository
	usrRepo  user.Repository
	clock    *stepClock
	lecturer user.User
	student  user.User
	admin    user.User
	course   course.Course
}

func testConfig() *core.Config {
	return &core.Config{
		Attendance: core.AttendanceConfig{
			LateThreshold: 10 * time.Minute,
			StartGrace:    15 * time.Minute,
			EndGrace:      15 * time.Minute,
		},
		Report: core.ReportConfig{ExportTimeout: 30 * time.Second},
	}
}

func setup(t *testing.T, extensions ...attendance.ExtensionValidator) *fixture {
	t.Helper()

	db, err := dummydb.Open()
	if err != nil {
		t.Fatalf("setup() failed: %v", err)
	}
	clock := &stepClock{t: time.Date(2021, 3, 1, 9, 0, 0, 0, time.UTC)}

	crsRepo := dummydb.NewCourseRepository(db)
	usrRepo := dummydb.NewUserRepository(db)
	crsSvc := course.NewService(crsRepo)
	svc := attendance.NewService(
		dummydb.NewSessionRepository(db),
		dummydb.NewCheckInRepository(db),
		dummydb.NewMarkRepository(db),
		crsSvc,
		clock,
		testConfig(),
		extensions...,
	)

	fix := &fixture{svc: svc, crsRepo: crsRepo, usrRepo: usrRepo, clock: clock}
	fix.lecturer = createUser(t, usrRepo, "Jane Lecturer", []string{user.RoleLecturer})
	fix.student = createUser(t, usrRepo, "John Student", []string{user.RoleStudent})
	fix.admin = createUser(t, usrRepo, "Ada Admin", []string{user.RoleAdmin})
	fix.course = createCourse(t, crsRepo, "CS101", fix.lecturer.ID)
	enroll(t, crsRepo, fix.student.ID, fix.course.ID)
	return fix
}

func createUser(t *testing.T, repo user.Repository, name string, roles []string) user.User {
	t.Helper()
	isActive := true
	usr, err := repo.CreateUser(context.Background(), user.User{
		Name:     name,
		Username: name,
		Roles:    roles,
		IsActive: &isActive,
	})
	if err != nil {
		t.Fatalf("createUser() failed: %v", err)
	}
	return usr
}

func createCourse(t *testing.T, repo course.Repository, code, lecturerID string) course.Course {
	t.Helper()
	crs, err := repo.CreateCourse(context.Background(), course.Course{Code: code, Name: code, LecturerID: lecturerID})
	if err != nil {
		t.Fatalf("createCourse() failed: %v", err)
	}
	return crs
}

func enroll(t *testing.T, repo course.Repository, studentID, courseID string) {
	t.Helper()
	if _, err := repo.Enroll(context.Background(), course.Enrollment{StudentID: studentID, CourseID: courseID, IsActive: true}); err != nil {
		t.Fatalf("enroll() failed: %v", err)
	}
}

// scheduleSession creates a Scheduled session from 10:00 to 11:00 on the fixture day.
func (fix *fixture) scheduleSession(t *testing.T) attendance.Session {
	t.Helper()
	sess, err := fix.svc.CreateSession(context.Background(), fix.lecturer, attendance.NewSession{
		CourseID:       fix.course.ID,
		Name:           "Lecture 1",
		ScheduledStart: time.Date(2021, 3, 1, 10, 0, 0, 0, time.UTC),
		ScheduledEnd:   time.Date(2021, 3, 1, 11, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("scheduleSession() failed: %v", err)
	}
	return sess
}

func (fix *fixture) startedSession(t *testing.T) attendance.Session {
	t.Helper()
	sess := fix.scheduleSession(t)
	fix.clock.Set(sess.ScheduledStart)
	sess, err := fix.svc.Start(context.Background(), fix.lecturer, sess.ID)
	if err != nil {
		t.Fatalf("startedSession() failed: %v", err)
	}
	return sess
}

func at(t *testing.T, hour, min int) time.Time {
	t.Helper()
	return time.Date(2021, 3, 1, hour, min, 0, 0, time.UTC)
}

type geofenceValidator struct{}

func (geofenceValidator) Name() string { return "geofence" }

func (geofenceValidator) Validate(_ context.Context, _ attendance.Session, _ user.User, _ time.Time, meta attendance.CheckInContext) error {
	if meta["zone"] != "campus" {
		return errors.New("outside allowed zone")
	}
	return nil
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("start sets actual start", func(t *testing.T) {
		fix := setup(t)
		sess := fix.scheduleSession(t)
		assert.Equal(t, attendance.StateScheduled, sess.State)
		assert.True(t, sess.ActualStart.IsZero())

		fix.clock.Set(at(t, 10, 0))
		sess, err := fix.svc.Start(ctx, fix.lecturer, sess.ID)
		assert.NoError(t, err)
		assert.Equal(t, attendance.StateActive, sess.State)
		assert.Equal(t, at(t, 10, 0), sess.ActualStart)
	})

	t.Run("end only from active", func(t *testing.T) {
		fix := setup(t)
		sess := fix.scheduleSession(t)
		_, err := fix.svc.End(ctx, fix.lecturer, sess.ID)
		assert.Equal(t, attendance.ErrInvalidTransition, errors.Cause(err))
	})

	t.Run("end sets actual end", func(t *testing.T) {
		fix := setup(t)
		sess := fix.startedSession(t)
		fix.clock.Set(at(t, 11, 0))
		sess, err := fix.svc.End(ctx, fix.lecturer, sess.ID)
		assert.NoError(t, err)
		assert.Equal(t, attendance.StateEnded, sess.State)
		assert.Equal(t, at(t, 11, 0), sess.ActualEnd)
	})

	t.Run("start refused past scheduled window", func(t *testing.T) {
		fix := setup(t)
		sess := fix.scheduleSession(t)
		fix.clock.Set(at(t, 11, 30)) // scheduled end 11:00 + 15m grace
		_, err := fix.svc.Start(ctx, fix.lecturer, sess.ID)
		assert.Equal(t, attendance.ErrInvalidTransition, errors.Cause(err))
	})

	t.Run("double start refused", func(t *testing.T) {
		fix := setup(t)
		sess := fix.startedSession(t)
		_, err := fix.svc.Start(ctx, fix.lecturer, sess.ID)
		assert.Equal(t, attendance.ErrInvalidTransition, errors.Cause(err))
	})

	t.Run("cancel from scheduled and active only", func(t *testing.T) {
		fix := setup(t)
		sess := fix.startedSession(t)
		fix.clock.Set(at(t, 11, 0))
		if _, err := fix.svc.End(ctx, fix.lecturer, sess.ID); err != nil {
			t.Fatalf("End() failed: %v", err)
		}
		_, err := fix.svc.Cancel(ctx, fix.lecturer, sess.ID)
		assert.Equal(t, attendance.ErrInvalidTransition, errors.Cause(err))
	})

	t.Run("only owning lecturer or admin", func(t *testing.T) {
		fix := setup(t)
		other := createUser(t, fix.usrRepo, "Other Lecturer", []string{user.RoleLecturer})
		sess := fix.scheduleSession(t)

		fix.clock.Set(at(t, 10, 0))
		_, err := fix.svc.Start(ctx, other, sess.ID)
		assert.Equal(t, attendance.ErrPermissionDenied, errors.Cause(err))

		_, err = fix.svc.Start(ctx, fix.admin, sess.ID)
		assert.NoError(t, err)
	})
}

func TestUpdateSession(t *testing.T) {
	ctx := context.Background()
	upd := attendance.SessionUpdate{
		Name:           "Lecture 1 (rescheduled)",
		Location:       "Lab B",
		ScheduledStart: at(t, 14, 0),
		ScheduledEnd:   at(t, 15, 0),
	}

	t.Run("reschedules while scheduled", func(t *testing.T) {
		fix := setup(t)
		sess := fix.scheduleSession(t)

		sess, err := fix.svc.UpdateSession(ctx, fix.lecturer, sess.ID, upd)
		assert.NoError(t, err)
		assert.Equal(t, upd.Name, sess.Name)
		assert.Equal(t, upd.Location, sess.Location)
		assert.Equal(t, at(t, 14, 0), sess.ScheduledStart)
		assert.Equal(t, at(t, 15, 0), sess.ScheduledEnd)
		assert.Equal(t, attendance.StateScheduled, sess.State)
	})

	t.Run("refused once started", func(t *testing.T) {
		fix := setup(t)
		sess := fix.startedSession(t)
		_, err := fix.svc.UpdateSession(ctx, fix.lecturer, sess.ID, upd)
		assert.Equal(t, attendance.ErrInvalidTransition, errors.Cause(err))
	})

	t.Run("only owning lecturer or admin", func(t *testing.T) {
		fix := setup(t)
		other := createUser(t, fix.usrRepo, "Other Lecturer", []string{user.RoleLecturer})
		sess := fix.scheduleSession(t)

		_, err := fix.svc.UpdateSession(ctx, other, sess.ID, upd)
		assert.Equal(t, attendance.ErrPermissionDenied, errors.Cause(err))

		_, err = fix.svc.UpdateSession(ctx, fix.admin, sess.ID, upd)
		assert.NoError(t, err)
	})
}

// A check-in racing an end call may read the clock after the end did yet
// still commit first; actual end must never precede an accepted record.
func TestEndNeverPredatesAcceptedCheckIn(t *testing.T) {
	ctx := context.Background()
	fix := setup(t)
	sess := fix.startedSession(t)

	fix.clock.Set(at(t, 10, 59))
	rec, err := fix.svc.CheckIn(ctx, fix.student, attendance.CheckInRequest{SessionID: sess.ID})
	assert.NoError(t, err)

	// the end call sampled the clock before the check-in was accepted
	fix.clock.Set(at(t, 10, 58))
	sess, err = fix.svc.End(ctx, fix.lecturer, sess.ID)
	assert.NoError(t, err)
	assert.Equal(t, attendance.StateEnded, sess.State)
	assert.False(t, sess.ActualEnd.Before(rec.Timestamp),
		"accepted record at %v postdates actual end %v", rec.Timestamp, sess.ActualEnd)
	assert.Equal(t, rec.Timestamp, sess.ActualEnd)
}

func TestEffectiveState(t *testing.T) {
	fix := setup(t)
	sess := fix.startedSession(t)

	endGrace := 15 * time.Minute
	assert.Equal(t, attendance.StateActive, sess.EffectiveState(at(t, 10, 30), endGrace))
	assert.Equal(t, attendance.StateActive, sess.EffectiveState(at(t, 11, 14), endGrace))
	assert.Equal(t, attendance.StateEnded, sess.EffectiveState(at(t, 11, 16), endGrace))
}

func TestEffectiveEnd(t *testing.T) {
	ctx := context.Background()
	fix := setup(t)
	sess := fix.startedSession(t)

	endGrace := 15 * time.Minute
	assert.Equal(t, at(t, 11, 15), sess.EffectiveEnd(endGrace))

	fix.clock.Set(at(t, 10, 45))
	sess, err := fix.svc.End(ctx, fix.lecturer, sess.ID)
	assert.NoError(t, err)
	assert.Equal(t, at(t, 10, 45), sess.EffectiveEnd(endGrace))
}

func TestCheckIn(t *testing.T) {
	ctx := context.Background()

	t.Run("on time is present", func(t *testing.T) {
		fix := setup(t)
		sess := fix.startedSession(t)
		fix.clock.Set(at(t, 10, 5))
		rec, err := fix.svc.CheckIn(ctx, fix.student, attendance.CheckInRequest{SessionID: sess.ID})
		assert.NoError(t, err)
		assert.Equal(t, attendance.StatusPresent, rec.Status)
		assert.Equal(t, at(t, 10, 5), rec.Timestamp)
	})

	t.Run("past late threshold is late", func(t *testing.T) {
		fix := setup(t)
		sess := fix.startedSession(t)
		fix.clock.Set(at(t, 10, 25))
		rec, err := fix.svc.CheckIn(ctx, fix.student, attendance.CheckInRequest{SessionID: sess.ID})
		assert.NoError(t, err)
		assert.Equal(t, attendance.StatusLate, rec.Status)
	})

	t.Run("threshold boundary is present", func(t *testing.T) {
		fix := setup(t)
		sess := fix.startedSession(t)
		fix.clock.Set(at(t, 10, 10))
		rec, err := fix.svc.CheckIn(ctx, fix.student, attendance.CheckInRequest{SessionID: sess.ID})
		assert.NoError(t, err)
		assert.Equal(t, attendance.StatusPresent, rec.Status)
	})

	t.Run("refused past effective end", func(t *testing.T) {
		fix := setup(t)
		sess := fix.startedSession(t)
		fix.clock.Set(at(t, 11, 20)) // past scheduled end + 15m grace
		_, err := fix.svc.CheckIn(ctx, fix.student, attendance.CheckInRequest{SessionID: sess.ID})
		assert.Equal(t, attendance.ErrSessionNotActive, errors.Cause(err))
	})

	t.Run("refused on scheduled session", func(t *testing.T) {
		fix := setup(t)
		sess := fix.scheduleSession(t)
		fix.clock.Set(at(t, 10, 5))
		_, err := fix.svc.CheckIn(ctx, fix.student, attendance.CheckInRequest{SessionID: sess.ID})
		assert.Equal(t, attendance.ErrSessionNotActive, errors.Cause(err))
	})

	t.Run("refused when not enrolled", func(t *testing.T) {
		fix := setup(t)
		sess := fix.startedSession(t)
		outsider := createUser(t, fix.usrRepo, "Out Sider", []string{user.RoleStudent})
		fix.clock.Set(at(t, 10, 5))
		_, err := fix.svc.CheckIn(ctx, outsider, attendance.CheckInRequest{SessionID: sess.ID})
		assert.Equal(t, attendance.ErrNotEnrolled, errors.Cause(err))
	})

	t.Run("duplicate refused", func(t *testing.T) {
		fix := setup(t)
		sess := fix.startedSession(t)
		fix.clock.Set(at(t, 10, 5))
		_, err := fix.svc.CheckIn(ctx, fix.student, attendance.CheckInRequest{SessionID: sess.ID})
		assert.NoError(t, err)

		fix.clock.Set(at(t, 10, 6))
		_, err = fix.svc.CheckIn(ctx, fix.student, attendance.CheckInRequest{SessionID: sess.ID})
		assert.Equal(t, attendance.ErrDuplicateCheckIn, errors.Cause(err))
	})

	t.Run("extension failure rejects", func(t *testing.T) {
		fix := setup(t, geofenceValidator{})
		sess := fix.startedSession(t)
		fix.clock.Set(at(t, 10, 5))

		_, err := fix.svc.CheckIn(ctx, fix.student, attendance.CheckInRequest{SessionID: sess.ID})
		assert.Equal(t, attendance.ErrExtensionFailed, errors.Cause(err))

		_, err = fix.svc.CheckIn(ctx, fix.student, attendance.CheckInRequest{
			SessionID: sess.ID,
			Context:   attendance.CheckInContext{"zone": "campus"},
		})
		assert.NoError(t, err)
	})

	t.Run("lecturer cannot check in", func(t *testing.T) {
		fix := setup(t)
		sess := fix.startedSession(t)
		fix.clock.Set(at(t, 10, 5))
		_, err := fix.svc.CheckIn(ctx, fix.lecturer, attendance.CheckInRequest{SessionID: sess.ID})
		assert.Equal(t, attendance.ErrPermissionDenied, errors.Cause(err))
	})
}

func TestCheckInConcurrent(t *testing.T) {
	fix := setup(t)
	sess := fix.startedSession(t)
	fix.clock.Set(at(t, 10, 5))

	const n = 20
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		dupes    int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := fix.svc.CheckIn(context.Background(), fix.student, attendance.CheckInRequest{SessionID: sess.ID})
			mu.Lock()
			defer mu.Unlock()
			switch errors.Cause(err) {
			case nil:
				accepted++
			case attendance.ErrDuplicateCheckIn:
				dupes++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, accepted)
	assert.Equal(t, n-1, dupes)
}

func TestManualMark(t *testing.T) {
	ctx := context.Background()

	t.Run("refused on scheduled session", func(t *testing.T) {
		fix := setup(t)
		sess := fix.scheduleSession(t)
		_, err := fix.svc.Mark(ctx, fix.lecturer, attendance.NewMark{
			SessionID: sess.ID, StudentID: fix.student.ID, Status: attendance.StatusPresent,
		})
		assert.Equal(t, attendance.ErrMarkNotAllowed, errors.Cause(err))
	})

	t.Run("overrides check-in record", func(t *testing.T) {
		fix := setup(t)
		sess := fix.startedSession(t)
		fix.clock.Set(at(t, 10, 25))
		rec, err := fix.svc.CheckIn(ctx, fix.student, attendance.CheckInRequest{SessionID: sess.ID})
		assert.NoError(t, err)
		assert.Equal(t, attendance.StatusLate, rec.Status)

		_, err = fix.svc.Mark(ctx, fix.lecturer, attendance.NewMark{
			SessionID: sess.ID, StudentID: fix.student.ID, Status: attendance.StatusExcused, Reason: "medical",
		})
		assert.NoError(t, err)

		roster, err := fix.svc.SessionRoster(ctx, fix.lecturer, sess.ID)
		assert.NoError(t, err)
		assert.Len(t, roster.Entries, 1)
		assert.Equal(t, attendance.StatusExcused, roster.Entries[0].Status)
	})

	t.Run("latest mark wins", func(t *testing.T) {
		fix := setup(t)
		sess := fix.startedSession(t)

		_, err := fix.svc.Mark(ctx, fix.lecturer, attendance.NewMark{
			SessionID: sess.ID, StudentID: fix.student.ID, Status: attendance.StatusAbsent,
		})
		assert.NoError(t, err)
		fix.clock.Set(at(t, 10, 30))
		_, err = fix.svc.Mark(ctx, fix.lecturer, attendance.NewMark{
			SessionID: sess.ID, StudentID: fix.student.ID, Status: attendance.StatusPresent, Reason: "was here",
		})
		assert.NoError(t, err)

		roster, err := fix.svc.SessionRoster(ctx, fix.lecturer, sess.ID)
		assert.NoError(t, err)
		assert.Equal(t, attendance.StatusPresent, roster.Entries[0].Status)
	})

	t.Run("refused for non enrolled student", func(t *testing.T) {
		fix := setup(t)
		sess := fix.startedSession(t)
		outsider := createUser(t, fix.usrRepo, "Out Sider", []string{user.RoleStudent})
		_, err := fix.svc.Mark(ctx, fix.lecturer, attendance.NewMark{
			SessionID: sess.ID, StudentID: outsider.ID, Status: attendance.StatusPresent,
		})
		assert.Equal(t, attendance.ErrNotEnrolled, errors.Cause(err))
	})
}

func TestExpireOverdue(t *testing.T) {
	fix := setup(t)
	sess := fix.startedSession(t)

	// before the window closes the sweep is a no-op
	fix.clock.Set(at(t, 11, 10))
	n, err := fix.svc.ExpireOverdue(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 0, n)

	fix.clock.Set(at(t, 11, 20))
	n, err = fix.svc.ExpireOverdue(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := fix.svc.GetSession(context.Background(), fix.lecturer, sess.ID)
	assert.NoError(t, err)
	assert.Equal(t, attendance.StateEnded, got.State)
}
