package main

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/ioutil"
	"log"
	"strconv"
	"testing"
	"time"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/attendance"
	"github.com/trezcool/mahudhurio/core/course"
	dummydb "github.com/trezcool/mahudhurio/storage/database/dummy"
)

var sessRepo attendance.SessionRepository

func setup(t *testing.T) *commandLine {
	t.Helper()

	logger = log.New(ioutil.Discard, "", 0)

	db, err := dummydb.Open()
	if err != nil {
		t.Fatalf("setup() failed: %v", err)
	}
	sessRepo = dummydb.NewSessionRepository(db)
	conf := &core.Config{
		Attendance: core.AttendanceConfig{
			LateThreshold: 10 * time.Minute,
			StartGrace:    15 * time.Minute,
			EndGrace:      15 * time.Minute,
		},
	}
	attSvc := attendance.NewService(
		sessRepo,
		dummydb.NewCheckInRepository(db),
		dummydb.NewMarkRepository(db),
		course.NewService(dummydb.NewCourseRepository(db)),
		core.NewClock(),
		conf,
	)

	// start CLI
	return &commandLine{attSvc: attSvc}
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
}

func Test_commandLine_migrate(t *testing.T) {
	cli := setup(t)

	gooseRunFunc = func(command string, db *sql.DB, fsys embed.FS, dir string, args ...string) error {
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to", "down-to":
			if len(args) == 0 {
				return fmt.Errorf("%s must be of form: goose [OPTIONS] DRIVER DBSTRING %s VERSION", command, command)
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	tests := []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "down-to: no args", args: []string{"migrate", "down-to"}, wantErrStr: "down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down", args: []string{"migrate", "down"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "version", args: []string{"migrate", "version"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			if err := cli.run(args); err != nil {
				if tt.wantErr != nil {
					if err != tt.wantErr {
						t.Errorf("cli.run() error = %v, wantErr %v", err, tt.wantErr)
					}
				} else if tt.wantErrStr != "" {
					if err.Error() != tt.wantErrStr {
						t.Errorf("cli.run() error.Error() = %s, wantErrStr %s", err.Error(), tt.wantErrStr)
					}
				} else {
					t.Errorf("cli.run() unexpected error = %v", err)
				}
			}
		})
	}
}

func Test_commandLine_expireSessions(t *testing.T) {
	cli := setup(t)

	sess, err := sessRepo.CreateSession(context.Background(), attendance.Session{
		CourseID:       "c1",
		Name:           "Lecture 1",
		State:          attendance.StateActive,
		ScheduledStart: time.Now().Add(-2 * time.Hour),
		ScheduledEnd:   time.Now().Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateSession() failed: %v", err)
	}

	if err := cli.run([]string{"admin", "expiresessions"}); err != nil {
		t.Fatalf("cli.run() unexpected error = %v", err)
	}

	got, err := sessRepo.GetSessionByID(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("GetSessionByID() failed: %v", err)
	}
	if got.State != attendance.StateEnded {
		t.Errorf("state = %v; want %v", got.State, attendance.StateEnded)
	}
}
