package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/aeroschool/core/flightlog"
	"github.com/trezcool/aeroschool/core/user"
)

var errFlNotFoundInCtx = errors.New("flight log object not found in echo.Context")

type flightLogApi struct {
	svc      flightlog.Service
	userSvc  user.Service
	validate *validator.Validate
}

func registerFlightLogAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	svc flightlog.Service,
	userSvc user.Service,
	validate *validator.Validate,
) {
	api := flightLogApi{
		svc:      svc,
		userSvc:  userSvc,
		validate: validate,
	}

	fg := g.Group("/flight-logs", jwt)
	fg.GET("", api.query)
	fg.POST("", api.create)

	dg := fg.Group("/:id", api.participantOrAdminMiddleware)
	dg.GET("", api.retrieve)
	dg.DELETE("", api.destroy, adminMiddleware())

	g.GET("/users/:id/flight-totals", api.totals, jwt, ctxUserOrAdminMiddleware(userSvc))
}

// participantOrAdminMiddleware loads the `:id` FlightLog if the context user flew it or is an admin.
func (api *flightLogApi) participantOrAdminMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		ctxUsr, err := getContextUser(ctx, api.userSvc)
		if err != nil {
			return errors.Wrap(err, "getting context user")
		}

		fl, err := api.svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
		if err != nil {
			if errors.Cause(err) == flightlog.ErrNotFound {
				return errHttpNotFound
			}
			return errors.Wrap(err, "finding flight log by ID")
		}
		if !(fl.Involves(ctxUsr.ID) || ctxUsr.IsAdmin()) {
			return errHttpNotFound
		}
		ctx.Set(contextObjectKey, fl)
		return next(ctx)
	}
}

func (api *flightLogApi) query(ctx echo.Context) error {
	filter := new(flightlog.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []flightlog.FlightLog{})
	}
	dates := new(DateRange)
	if err := dates.Bind(ctx, "from", "to"); err != nil {
		return err
	}
	filter.DateFrom, filter.DateTo = dates.From, dates.To
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	ctxUsr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if !ctxUsr.IsAdmin() {
		filter.ParticipantID = ctxUsr.ID
	}

	logs, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying flight logs")
	}
	if logs == nil {
		logs = []flightlog.FlightLog{}
	}
	return ctx.JSON(http.StatusOK, logs)
}

func (api *flightLogApi) create(ctx echo.Context) error {
	var data flightlog.NewFlightLog
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewFlightLog")
	}

	ctxUsr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if data.PilotID == "" {
		data.PilotID = ctxUsr.ID
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}
	// the logged in user is the pilot or the instructor of the flight, unless admin
	if !(ctxUsr.IsAdmin() || data.PilotID == ctxUsr.ID || data.InstructorID == ctxUsr.ID) {
		return errHttpForbidden
	}

	fl, err := api.svc.Create(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating flight log")
	}
	return ctx.JSON(http.StatusCreated, fl)
}

func (api *flightLogApi) retrieve(ctx echo.Context) error {
	fl, ok := ctx.Get(contextObjectKey).(flightlog.FlightLog)
	if !ok {
		return errors.Wrap(errFlNotFoundInCtx, "retrieving object from context")
	}
	return ctx.JSON(http.StatusOK, fl)
}

func (api *flightLogApi) destroy(ctx echo.Context) error {
	fl, ok := ctx.Get(contextObjectKey).(flightlog.FlightLog)
	if !ok {
		return errors.Wrap(errFlNotFoundInCtx, "retrieving object from context")
	}
	if err := api.svc.Delete(ctx.Request().Context(), fl.ID); err != nil {
		return errors.Wrap(err, "deleting flight log")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *flightLogApi) totals(ctx echo.Context) error {
	usr, ok := ctx.Get(contextObjectKey).(user.User)
	if !ok {
		return errors.Wrap(errUsrNotFoundInCtx, "retrieving object from context")
	}
	totals, err := api.svc.Totals(ctx.Request().Context(), usr.ID)
	if err != nil {
		return errors.Wrap(err, "computing flight totals")
	}
	return ctx.JSON(http.StatusOK, totals)
}
