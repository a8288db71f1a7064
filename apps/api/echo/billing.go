package echoapi

import (
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/aeroschool/core/billing"
	"github.com/trezcool/aeroschool/core/user"
)

type billingApi struct {
	svc      billing.Service
	userSvc  user.Service
	validate *validator.Validate
}

func registerBillingAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	svc billing.Service,
	userSvc user.Service,
	validate *validator.Validate,
) {
	api := billingApi{
		svc:      svc,
		userSvc:  userSvc,
		validate: validate,
	}

	bg := g.Group("/billing", jwt)
	bg.GET("/orders", api.queryOrders)
	bg.POST("/orders", api.createOrder, adminMiddleware())
	bg.POST("/orders/:id/paid", api.markPaid, adminMiddleware())
	bg.POST("/orders/:id/cancel", api.cancel, adminMiddleware())
	bg.GET("/invoices", api.queryInvoices, adminMiddleware())
	bg.GET("/reconciliation", api.reconcile, adminMiddleware())
	bg.POST("/reconciliation/backfill", api.backfill, adminMiddleware(user.RoleAdminOwner))

	g.GET("/users/:id/balance", api.balance, jwt, ctxUserOrAdminMiddleware(userSvc))
}

func (api *billingApi) queryOrders(ctx echo.Context) error {
	filter := new(billing.OrderFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []billing.PackageOrder{})
	}

	ctxUsr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if !ctxUsr.IsAdmin() {
		filter.UserID = ctxUsr.ID
	}

	orders, err := api.svc.QueryOrders(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying orders")
	}
	if orders == nil {
		orders = []billing.PackageOrder{}
	}
	return ctx.JSON(http.StatusOK, orders)
}

func (api *billingApi) createOrder(ctx echo.Context) error {
	var data billing.NewPackageOrder
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewPackageOrder")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	o, err := api.svc.CreateOrder(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating order")
	}
	return ctx.JSON(http.StatusCreated, o)
}

func (api *billingApi) markPaid(ctx echo.Context) error {
	o, err := api.svc.MarkPaid(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "marking order paid")
	}
	return ctx.JSON(http.StatusOK, o)
}

func (api *billingApi) cancel(ctx echo.Context) error {
	o, err := api.svc.Cancel(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "cancelling order")
	}
	return ctx.JSON(http.StatusOK, o)
}

func (api *billingApi) queryInvoices(ctx echo.Context) error {
	filter := new(billing.InvoiceFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []billing.Invoice{})
	}

	invoices, err := api.svc.QueryInvoices(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying invoices")
	}
	if invoices == nil {
		invoices = []billing.Invoice{}
	}
	return ctx.JSON(http.StatusOK, invoices)
}

func (api *billingApi) reconcile(ctx echo.Context) error {
	report, err := api.svc.Reconcile(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "reconciling")
	}
	return ctx.JSON(http.StatusOK, report)
}

// backfill is a dry run unless `?apply=true`.
func (api *billingApi) backfill(ctx echo.Context) error {
	apply, _ := strconv.ParseBool(ctx.QueryParam("apply"))
	res, err := api.svc.Backfill(ctx.Request().Context(), apply)
	if err != nil {
		return errors.Wrap(err, "backfilling links")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *billingApi) balance(ctx echo.Context) error {
	usr, ok := ctx.Get(contextObjectKey).(user.User)
	if !ok {
		return errors.Wrap(errUsrNotFoundInCtx, "retrieving object from context")
	}
	bal, err := api.svc.Balance(ctx.Request().Context(), usr.ID)
	if err != nil {
		return errors.Wrap(err, "computing balance")
	}
	return ctx.JSON(http.StatusOK, bal)
}
