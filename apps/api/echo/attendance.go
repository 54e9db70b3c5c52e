package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/mahudhurio/core/attendance"
	"github.com/trezcool/mahudhurio/core/user"
)

type attendanceApi struct {
	svc      *attendance.Service
	usrSvc   user.Service
	validate *validator.Validate
}

func registerAttendanceAPI(g *echo.Group, deps ServerDeps) {
	api := attendanceApi{
		svc:      deps.AttendanceSvc,
		usrSvc:   deps.UserSvc,
		validate: deps.Validate,
	}

	ag := g.Group("/attendance")
	ag.POST("/check-in", api.checkIn, studentMiddleware())
	ag.POST("/marks", api.mark, staffMiddleware())

	g.GET("/students/:id/history", api.history)
}

// Handlers

func (api *attendanceApi) checkIn(ctx echo.Context) error {
	var data attendance.CheckInRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to CheckInRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	rec, err := api.svc.CheckIn(ctx.Request().Context(), actor, data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, rec)
}

func (api *attendanceApi) mark(ctx echo.Context) error {
	var data attendance.NewMark
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewMark")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	mark, err := api.svc.Mark(ctx.Request().Context(), actor, data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, mark)
}

func (api *attendanceApi) history(ctx echo.Context) error {
	filter := new(attendance.HistoryFilter)
	if err := ctx.Bind(filter); err != nil {
		return errors.Wrap(err, "binding to HistoryFilter")
	}

	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	hist, err := api.svc.StudentHistory(ctx.Request().Context(), actor, ctx.Param("id"), filter)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, hist)
}
