package course

import (
	"context"
	"errors"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/user"
)

var ErrNotFound = errors.New("course not found")

type (
	// Repository reads the course/enrollment directory. Course and enrollment
	// lifecycle is owned by the course management service; the create methods
	// exist for seeding and tests only.
	Repository interface {
		CreateCourse(ctx context.Context, crs Course, exec ...core.DBExecutor) (Course, error)
		GetCourseByID(ctx context.Context, id string, exec ...core.DBExecutor) (Course, error)
		QueryCoursesByLecturer(ctx context.Context, lecturerID string, exec ...core.DBExecutor) ([]Course, error)
		Enroll(ctx context.Context, enr Enrollment, exec ...core.DBExecutor) (Enrollment, error)
		IsEnrolled(ctx context.Context, studentID, courseID string, exec ...core.DBExecutor) (bool, error)
		// EnrolledStudents returns active enrollees ordered by name then ID.
		EnrolledStudents(ctx context.Context, courseID string, exec ...core.DBExecutor) ([]user.User, error)
		EnrolledCourseIDs(ctx context.Context, studentID string, exec ...core.DBExecutor) ([]string, error)
	}

	Service interface {
		GetByID(ctx context.Context, id string) (Course, error)
		ByLecturer(ctx context.Context, lecturerID string) ([]Course, error)
		IsEnrolled(ctx context.Context, studentID, courseID string) (bool, error)
		EnrolledStudents(ctx context.Context, courseID string) ([]user.User, error)
		EnrolledCourseIDs(ctx context.Context, studentID string) ([]string, error)
	}

	service struct {
		repo Repository
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository) *service {
	return &service{repo: repo}
}

func (svc *service) GetByID(ctx context.Context, id string) (Course, error) {
	return svc.repo.GetCourseByID(ctx, id)
}

func (svc *service) ByLecturer(ctx context.Context, lecturerID string) ([]Course, error) {
	return svc.repo.QueryCoursesByLecturer(ctx, lecturerID)
}

func (svc *service) IsEnrolled(ctx context.Context, studentID, courseID string) (bool, error) {
	return svc.repo.IsEnrolled(ctx, studentID, courseID)
}

func (svc *service) EnrolledStudents(ctx context.Context, courseID string) ([]user.User, error) {
	return svc.repo.EnrolledStudents(ctx, courseID)
}

func (svc *service) EnrolledCourseIDs(ctx context.Context, studentID string) ([]string, error) {
	return svc.repo.EnrolledCourseIDs(ctx, studentID)
}
