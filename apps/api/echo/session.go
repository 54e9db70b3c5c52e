package echoapi

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/mahudhurio/core/attendance"
	"github.com/trezcool/mahudhurio/core/user"
)

type sessionApi struct {
	svc      *attendance.Service
	usrSvc   user.Service
	validate *validator.Validate
}

func registerSessionAPI(g *echo.Group, deps ServerDeps) {
	api := sessionApi{
		svc:      deps.AttendanceSvc,
		usrSvc:   deps.UserSvc,
		validate: deps.Validate,
	}

	sg := g.Group("/sessions")
	sg.POST("", api.create, staffMiddleware())
	sg.GET("", api.query)
	sg.GET("/:id", api.retrieve)
	sg.PUT("/:id", api.update, staffMiddleware())
	sg.POST("/:id/start", api.start, staffMiddleware())
	sg.POST("/:id/end", api.end, staffMiddleware())
	sg.POST("/:id/cancel", api.cancel, staffMiddleware())
	sg.GET("/:id/roster", api.roster, staffMiddleware())
}

// Handlers

func (api *sessionApi) create(ctx echo.Context) error {
	var data attendance.NewSession
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewSession")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	sess, err := api.svc.CreateSession(ctx.Request().Context(), actor, data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, sess)
}

func (api *sessionApi) query(ctx echo.Context) error {
	filter := new(attendance.SessionFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []attendance.Session{})
	}

	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	sessions, err := api.svc.Sessions(ctx.Request().Context(), actor, filter)
	if err != nil {
		return errors.Wrap(err, "querying sessions")
	}
	if sessions == nil {
		sessions = []attendance.Session{}
	}
	return ctx.JSON(http.StatusOK, sessions)
}

func (api *sessionApi) retrieve(ctx echo.Context) error {
	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	sess, err := api.svc.GetSession(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, sess)
}

func (api *sessionApi) update(ctx echo.Context) error {
	var data attendance.SessionUpdate
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SessionUpdate")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	sess, err := api.svc.UpdateSession(ctx.Request().Context(), actor, ctx.Param("id"), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, sess)
}

func (api *sessionApi) start(ctx echo.Context) error {
	return api.transition(ctx, api.svc.Start)
}

func (api *sessionApi) end(ctx echo.Context) error {
	return api.transition(ctx, api.svc.End)
}

func (api *sessionApi) cancel(ctx echo.Context) error {
	return api.transition(ctx, api.svc.Cancel)
}

func (api *sessionApi) transition(
	ctx echo.Context,
	do func(c context.Context, actor user.User, id string) (attendance.Session, error),
) error {
	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	sess, err := do(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, sess)
}

func (api *sessionApi) roster(ctx echo.Context) error {
	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	roster, err := api.svc.SessionRoster(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, roster)
}
