package dummydb

import (
	"sync"

	"github.com/trezcool/mahudhurio/core/attendance"
	"github.com/trezcool/mahudhurio/core/course"
	"github.com/trezcool/mahudhurio/core/user"
)

type (
	DB struct {
		user       *userTable
		course     *courseTable
		enrollment *enrollmentTable
		session    *sessionTable
		checkIn    *checkInTable
		mark       *markTable
	}

	userTable struct {
		sync.RWMutex
		table map[string]*user.User
	}

	courseTable struct {
		sync.RWMutex
		table map[string]*course.Course
	}

	enrollmentTable struct {
		sync.RWMutex
		table map[string]*course.Enrollment
	}

	sessionTable struct {
		sync.RWMutex
		table map[string]*attendance.Session
	}

	checkInTable struct {
		sync.RWMutex
		table []*attendance.CheckInRecord // append-only
	}

	markTable struct {
		sync.RWMutex
		table map[string]*attendance.ManualMark // keyed by (session, student)
	}
)

func Open() (*DB, error) {
	db := &DB{
		user:       &userTable{table: make(map[string]*user.User)},
		course:     &courseTable{table: make(map[string]*course.Course)},
		enrollment: &enrollmentTable{table: make(map[string]*course.Enrollment)},
		session:    &sessionTable{table: make(map[string]*attendance.Session)},
		checkIn:    &checkInTable{},
		mark:       &markTable{table: make(map[string]*attendance.ManualMark)},
	}
	return db, nil
}

func pairKey(sessionID, studentID string) string {
	return sessionID + "/" + studentID
}
