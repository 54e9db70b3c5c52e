package echoapi

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/mail"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/attendance"
	"github.com/trezcool/mahudhurio/core/course"
	"github.com/trezcool/mahudhurio/core/report"
	"github.com/trezcool/mahudhurio/core/user"
)

type reportApi struct {
	svc       *attendance.Service
	courseSvc course.Service
	usrSvc    user.Service
	mailSvc   core.EmailService
	conf      *core.Config
}

func registerReportAPI(g *echo.Group, deps ServerDeps) {
	api := reportApi{
		svc:       deps.AttendanceSvc,
		courseSvc: deps.CourseSvc,
		usrSvc:    deps.UserSvc,
		mailSvc:   deps.EmailSvc,
		conf:      deps.Conf,
	}

	cg := g.Group("/courses/:id")
	cg.GET("/matrix", api.matrix, staffMiddleware())
	cg.GET("/export", api.export, staffMiddleware())
	cg.POST("/export/email", api.emailExport, staffMiddleware())
	cg.GET("/students/:studentID/summary", api.summary)

	g.GET("/students/:id/export", api.exportHistory)
}

// Handlers

func (api *reportApi) matrix(ctx echo.Context) error {
	window, err := parseDateRange(ctx)
	if err != nil {
		return err
	}
	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	m, err := api.svc.BuildCourseMatrix(ctx.Request().Context(), actor, ctx.Param("id"), window)
	if err != nil {
		return err
	}
	if len(m.Sessions) == 0 {
		return errHttpNotFound
	}
	return ctx.JSON(http.StatusOK, m)
}

func (api *reportApi) summary(ctx echo.Context) error {
	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	sessions, err := api.svc.Sessions(ctx.Request().Context(), actor, &attendance.SessionFilter{CourseID: ctx.Param("id")})
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		return errHttpNotFound
	}
	sum, err := api.svc.BuildStudentSummary(ctx.Request().Context(), actor, ctx.Param("studentID"), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, sum)
}

func (api *reportApi) export(ctx echo.Context) error {
	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	file, err := api.generateCourseReport(ctx, actor)
	if err != nil {
		return err
	}
	return sendFile(ctx, file)
}

// emailExport generates the report and mails it to the requester as an
// attachment. Delivery is asynchronous; the handler acknowledges the request.
func (api *reportApi) emailExport(ctx echo.Context) error {
	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	file, err := api.generateCourseReport(ctx, actor)
	if err != nil {
		return err
	}

	msg := &core.EmailMessage{
		To:      []mail.Address{{Name: actor.Name, Address: actor.Email}},
		Subject: "Attendance report: " + file.Name,
		BodyStr: "The attendance report you requested is attached.",
		Attachments: []core.Attachment{{
			Content:     bytes.NewBuffer(file.Data),
			ContentType: file.ContentType,
			Filename:    file.Name,
		}},
	}
	api.mailSvc.SendMessages(msg)

	return ctx.JSON(http.StatusAccepted, echo.Map{"detail": "report will be emailed to " + actor.Email})
}

func (api *reportApi) generateCourseReport(ctx echo.Context, actor user.User) (report.File, error) {
	format, err := report.ParseFormat(ctx.QueryParam("format"))
	if err != nil {
		return report.File{}, err
	}
	window, err := parseDateRange(ctx)
	if err != nil {
		return report.File{}, err
	}

	reqCtx, cancel := context.WithTimeout(ctx.Request().Context(), api.conf.Report.ExportTimeout)
	defer cancel()

	m, err := api.svc.BuildCourseMatrix(reqCtx, actor, ctx.Param("id"), window)
	if err != nil {
		return report.File{}, err
	}
	return report.ExportMatrix(reqCtx, m, format)
}

// parseDateRange reads the optional date_from/date_to query params narrowing
// report columns.
func parseDateRange(ctx echo.Context) (*attendance.DateRange, error) {
	fromStr, toStr := ctx.QueryParam("date_from"), ctx.QueryParam("date_to")
	if fromStr == "" && toStr == "" {
		return nil, nil
	}

	window := new(attendance.DateRange)
	var err error
	if fromStr != "" {
		if window.From, err = time.Parse(time.RFC3339, fromStr); err != nil {
			return nil, core.NewValidationError(nil, core.FieldError{Field: "date_from", Error: "must be a valid RFC 3339 timestamp"})
		}
	}
	if toStr != "" {
		if window.To, err = time.Parse(time.RFC3339, toStr); err != nil {
			return nil, core.NewValidationError(nil, core.FieldError{Field: "date_to", Error: "must be a valid RFC 3339 timestamp"})
		}
	}
	return window, nil
}

func (api *reportApi) exportHistory(ctx echo.Context) error {
	format, err := report.ParseFormat(ctx.QueryParam("format"))
	if err != nil {
		return err
	}
	courseID := ctx.QueryParam("course_id")
	if courseID == "" {
		return core.NewValidationError(nil, core.FieldError{Field: "course_id", Error: "this field is required"})
	}

	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return err
	}

	reqCtx, cancel := context.WithTimeout(ctx.Request().Context(), api.conf.Report.ExportTimeout)
	defer cancel()

	studentID := ctx.Param("id")
	hist, err := api.svc.StudentHistory(reqCtx, actor, studentID, &attendance.HistoryFilter{CourseID: courseID})
	if err != nil {
		return err
	}
	crs, err := api.courseSvc.GetByID(reqCtx, courseID)
	if err != nil {
		return errors.Wrap(err, "finding course")
	}
	sessions, err := api.svc.Sessions(reqCtx, actor, &attendance.SessionFilter{CourseID: courseID})
	if err != nil {
		return errors.Wrap(err, "listing sessions")
	}

	file, err := report.ExportHistory(reqCtx, hist, sessions, crs, format)
	if err != nil {
		return err
	}
	return sendFile(ctx, file)
}

func sendFile(ctx echo.Context, file report.File) error {
	ctx.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", file.Name))
	return ctx.Blob(http.StatusOK, file.ContentType, file.Data)
}
