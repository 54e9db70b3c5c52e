package dummydb

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/course"
	"github.com/trezcool/mahudhurio/core/user"
)

type courseRepository struct {
	courses     *courseTable
	enrollments *enrollmentTable
	users       *userTable
}

var _ course.Repository = (*courseRepository)(nil) // interface compliance check

func NewCourseRepository(db *DB) course.Repository {
	return &courseRepository{courses: db.course, enrollments: db.enrollment, users: db.user}
}

func (repo *courseRepository) CreateCourse(_ context.Context, crs course.Course, _ ...core.DBExecutor) (course.Course, error) {
	repo.courses.Lock()
	defer repo.courses.Unlock()

	if crs.ID == "" {
		crs.ID = uuid.New().String()
	}
	repo.courses.table[crs.ID] = &crs
	return crs, nil
}

func (repo *courseRepository) GetCourseByID(_ context.Context, id string, _ ...core.DBExecutor) (course.Course, error) {
	repo.courses.RLock()
	defer repo.courses.RUnlock()

	if crs, ok := repo.courses.table[id]; ok {
		return *crs, nil
	}
	return course.Course{}, course.ErrNotFound
}

func (repo *courseRepository) QueryCoursesByLecturer(_ context.Context, lecturerID string, _ ...core.DBExecutor) ([]course.Course, error) {
	repo.courses.RLock()
	defer repo.courses.RUnlock()

	courses := make([]course.Course, 0)
	for _, crs := range repo.courses.table {
		if crs.LecturerID == lecturerID {
			courses = append(courses, *crs)
		}
	}
	sort.Slice(courses, func(i, j int) bool { return courses[i].Code < courses[j].Code })
	return courses, nil
}

func (repo *courseRepository) Enroll(_ context.Context, enr course.Enrollment, _ ...core.DBExecutor) (course.Enrollment, error) {
	repo.enrollments.Lock()
	defer repo.enrollments.Unlock()

	if enr.ID == "" {
		enr.ID = uuid.New().String()
	}
	repo.enrollments.table[enr.ID] = &enr
	return enr, nil
}

func (repo *courseRepository) IsEnrolled(_ context.Context, studentID, courseID string, _ ...core.DBExecutor) (bool, error) {
	repo.enrollments.RLock()
	defer repo.enrollments.RUnlock()

	for _, enr := range repo.enrollments.table {
		if enr.StudentID == studentID && enr.CourseID == courseID && enr.IsActive {
			return true, nil
		}
	}
	return false, nil
}

func (repo *courseRepository) EnrolledStudents(_ context.Context, courseID string, _ ...core.DBExecutor) ([]user.User, error) {
	repo.enrollments.RLock()
	studentIDs := make([]string, 0)
	for _, enr := range repo.enrollments.table {
		if enr.CourseID == courseID && enr.IsActive {
			studentIDs = append(studentIDs, enr.StudentID)
		}
	}
	repo.enrollments.RUnlock()

	repo.users.RLock()
	defer repo.users.RUnlock()
	students := make([]user.User, 0, len(studentIDs))
	for _, id := range studentIDs {
		if usr, ok := repo.users.table[id]; ok {
			students = append(students, *usr)
		}
	}
	sort.Slice(students, func(i, j int) bool {
		if students[i].Name != students[j].Name {
			return students[i].Name < students[j].Name
		}
		return students[i].ID < students[j].ID
	})
	return students, nil
}

func (repo *courseRepository) EnrolledCourseIDs(_ context.Context, studentID string, _ ...core.DBExecutor) ([]string, error) {
	repo.enrollments.RLock()
	defer repo.enrollments.RUnlock()

	ids := make([]string, 0)
	for _, enr := range repo.enrollments.table {
		if enr.StudentID == studentID && enr.IsActive {
			ids = append(ids, enr.CourseID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
