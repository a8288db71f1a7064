package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/aeroschool/core"
	"github.com/trezcool/aeroschool/core/aircraft"
)

var errAcNotFoundInCtx = errors.New("aircraft object not found in echo.Context")

type aircraftApi struct {
	svc      aircraft.Service
	validate *validator.Validate
}

func registerAircraftAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc aircraft.Service, validate *validator.Validate) {
	api := aircraftApi{
		svc:      svc,
		validate: validate,
	}

	ag := g.Group("/aircraft", jwt)
	ag.GET("", api.query)
	ag.POST("", api.create, adminMiddleware())

	dg := ag.Group("/:id", objectMiddleware(func(ctx echo.Context, id string) (interface{}, error) {
		return svc.GetByID(ctx.Request().Context(), id)
	}))
	dg.GET("", api.retrieve)
	dg.PUT("", api.update, adminMiddleware())
	dg.PUT("/status", api.setStatus, adminMiddleware())
	dg.PUT("/hobbs", api.setHobbs, adminMiddleware())
	dg.DELETE("", api.destroy, adminMiddleware())
}

func contextAircraft(ctx echo.Context) (aircraft.Aircraft, error) {
	ac, ok := ctx.Get(contextObjectKey).(aircraft.Aircraft)
	if !ok {
		return aircraft.Aircraft{}, errors.Wrap(errAcNotFoundInCtx, "retrieving object from context")
	}
	return ac, nil
}

func (api *aircraftApi) query(ctx echo.Context) error {
	filter := new(aircraft.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []aircraft.Aircraft{})
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	fleet, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying aircraft")
	}
	if fleet == nil {
		fleet = []aircraft.Aircraft{}
	}
	return ctx.JSON(http.StatusOK, fleet)
}

func (api *aircraftApi) create(ctx echo.Context) error {
	var data aircraft.NewAircraft
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewAircraft")
	}
	rctx := ctx.Request().Context()
	if err := data.Validate(rctx, api.validate, api.svc); err != nil {
		return err
	}

	ac, err := api.svc.Create(rctx, data)
	if err != nil {
		return errors.Wrap(err, "creating aircraft")
	}
	return ctx.JSON(http.StatusCreated, ac)
}

func (api *aircraftApi) retrieve(ctx echo.Context) error {
	ac, err := contextAircraft(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, ac)
}

func (api *aircraftApi) update(ctx echo.Context) error {
	ac, err := contextAircraft(ctx)
	if err != nil {
		return err
	}

	var data aircraft.UpdateAircraft
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateAircraft")
	}
	rctx := ctx.Request().Context()
	if err = data.Validate(rctx, ac, api.validate, api.svc); err != nil {
		return err
	}

	if ac, err = api.svc.Update(rctx, ac, data); err != nil {
		return errors.Wrap(err, "updating aircraft")
	}
	return ctx.JSON(http.StatusOK, ac)
}

func (api *aircraftApi) setStatus(ctx echo.Context) error {
	ac, err := contextAircraft(ctx)
	if err != nil {
		return err
	}

	var data aircraft.SetStatus
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SetStatus")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	if ac, err = api.svc.SetStatus(ctx.Request().Context(), ac, data.Status); err != nil {
		return errors.Wrap(err, "setting aircraft status")
	}
	return ctx.JSON(http.StatusOK, ac)
}

// setHobbs corrects the hobbs meter forward, eg. after a ferry flight logged elsewhere.
func (api *aircraftApi) setHobbs(ctx echo.Context) error {
	ac, err := contextAircraft(ctx)
	if err != nil {
		return err
	}

	var data SetHobbsRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SetHobbsRequest")
	}
	if err = api.validate.Struct(&data); err != nil {
		return err
	}

	ac, err = api.svc.AddFlightTime(ctx.Request().Context(), ac.ID, *data.HobbsMinutes)
	if errors.Cause(err) == aircraft.ErrHobbsRegression {
		return core.NewValidationError(err, core.FieldError{Field: "hobbs_minutes", Error: err.Error()})
	}
	if err != nil {
		return errors.Wrap(err, "setting hobbs meter")
	}
	return ctx.JSON(http.StatusOK, ac)
}

func (api *aircraftApi) destroy(ctx echo.Context) error {
	ac, err := contextAircraft(ctx)
	if err != nil {
		return err
	}
	if err = api.svc.Delete(ctx.Request().Context(), ac.ID); err != nil {
		return errors.Wrap(err, "deleting aircraft")
	}
	return ctx.NoContent(http.StatusNoContent)
}

type SetHobbsRequest struct {
	HobbsMinutes *int `json:"hobbs_minutes" validate:"required,gte=0"`
}
