package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/course"
	"github.com/trezcool/mahudhurio/core/user"
)

var _ course.Repository = (*courseRepository)(nil)

type courseRepository struct {
	db *sqlx.DB
}

func NewCourseRepository(db *sqlx.DB) *courseRepository {
	return &courseRepository{db: db}
}

type courseRow struct {
	ID           string    `db:"id"`
	Code         string    `db:"code"`
	Name         string    `db:"name"`
	Description  string    `db:"description"`
	LecturerID   string    `db:"lecturer_id"`
	Semester     string    `db:"semester"`
	AcademicYear string    `db:"academic_year"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (row courseRow) toCourse() course.Course {
	return course.Course(row)
}

const courseColumns = `id, code, name, description, lecturer_id, semester, academic_year, created_at, updated_at`

func (repo *courseRepository) CreateCourse(ctx context.Context, crs course.Course, exec ...core.DBExecutor) (course.Course, error) {
	if crs.ID == "" {
		crs.ID = uuid.New().String()
	}
	query := `INSERT INTO course (` + courseColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := ext(repo.db, exec).ExecContext(ctx, query,
		crs.ID, crs.Code, crs.Name, crs.Description, crs.LecturerID, crs.Semester, crs.AcademicYear, crs.CreatedAt, crs.UpdatedAt,
	)
	if err != nil {
		return course.Course{}, errors.Wrap(err, "inserting course")
	}
	return crs, nil
}

func (repo *courseRepository) GetCourseByID(ctx context.Context, id string, exec ...core.DBExecutor) (course.Course, error) {
	var row courseRow
	query := `SELECT ` + courseColumns + ` FROM course WHERE id = $1`
	if err := sqlx.GetContext(ctx, ext(repo.db, exec), &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return course.Course{}, course.ErrNotFound
		}
		return course.Course{}, errors.Wrap(err, "getting course")
	}
	return row.toCourse(), nil
}

func (repo *courseRepository) QueryCoursesByLecturer(ctx context.Context, lecturerID string, exec ...core.DBExecutor) ([]course.Course, error) {
	var rows []courseRow
	query := `SELECT ` + courseColumns + ` FROM course WHERE lecturer_id = $1 ORDER BY code`
	if err := sqlx.SelectContext(ctx, ext(repo.db, exec), &rows, query, lecturerID); err != nil {
		return nil, errors.Wrap(err, "querying courses")
	}
	courses := make([]course.Course, len(rows))
	for i, row := range rows {
		courses[i] = row.toCourse()
	}
	return courses, nil
}

func (repo *courseRepository) Enroll(ctx context.Context, enr course.Enrollment, exec ...core.DBExecutor) (course.Enrollment, error) {
	if enr.ID == "" {
		enr.ID = uuid.New().String()
	}
	query := `INSERT INTO enrollment (id, student_id, course_id, is_active, enrolled_at) VALUES ($1, $2, $3, $4, $5)`
	_, err := ext(repo.db, exec).ExecContext(ctx, query, enr.ID, enr.StudentID, enr.CourseID, enr.IsActive, enr.EnrolledAt)
	if err != nil {
		return course.Enrollment{}, errors.Wrap(err, "inserting enrollment")
	}
	return enr, nil
}

func (repo *courseRepository) IsEnrolled(ctx context.Context, studentID, courseID string, exec ...core.DBExecutor) (bool, error) {
	var enrolled bool
	query := `SELECT EXISTS (SELECT 1 FROM enrollment WHERE student_id = $1 AND course_id = $2 AND is_active)`
	if err := sqlx.GetContext(ctx, ext(repo.db, exec), &enrolled, query, studentID, courseID); err != nil {
		return false, errors.Wrap(err, "checking enrollment")
	}
	return enrolled, nil
}

func (repo *courseRepository) EnrolledStudents(ctx context.Context, courseID string, exec ...core.DBExecutor) ([]user.User, error) {
	var rows []userRow
	query := `SELECT u.id, u.name, u.username, u.email, u.is_active, u.roles, u.created_at, u.updated_at
		FROM "user" u
		JOIN enrollment e ON e.student_id = u.id
		WHERE e.course_id = $1 AND e.is_active
		ORDER BY u.name, u.id`
	if err := sqlx.SelectContext(ctx, ext(repo.db, exec), &rows, query, courseID); err != nil {
		return nil, errors.Wrap(err, "querying enrolled students")
	}
	students := make([]user.User, len(rows))
	for i, row := range rows {
		students[i] = row.toUser()
	}
	return students, nil
}

func (repo *courseRepository) EnrolledCourseIDs(ctx context.Context, studentID string, exec ...core.DBExecutor) ([]string, error) {
	var ids []string
	query := `SELECT course_id FROM enrollment WHERE student_id = $1 AND is_active`
	if err := sqlx.SelectContext(ctx, ext(repo.db, exec), &ids, query, studentID); err != nil {
		return nil, errors.Wrap(err, "querying enrollments")
	}
	return ids, nil
}
