package echoapi

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/aeroschool/core/user"
	"github.com/trezcool/aeroschool/core/verification"
	"github.com/trezcool/aeroschool/services/metrics"
)

const maxWebhookBodySize = 1 << 20 // 1MB

type verificationApi struct {
	svc     verification.Service
	userSvc user.Service
	metrics *metrics.Metrics
}

func registerVerificationAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	svc verification.Service,
	userSvc user.Service,
	m *metrics.Metrics,
	limiter *ipRateLimiter,
) {
	api := verificationApi{
		svc:     svc,
		userSvc: userSvc,
		metrics: m,
	}

	vg := g.Group("/verification")

	// un-authed: Veriff authenticates with the HMAC signature
	vg.POST("/webhooks/veriff", api.webhook, limiter.middleware())

	ag := vg.Group("", jwt)
	ag.POST("/sessions", api.startSession)
	ag.GET("/sessions/me", api.latestSession)
	ag.GET("/stats", api.stats, adminMiddleware())
}

func (api *verificationApi) startSession(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	sess, err := api.svc.StartSession(ctx.Request().Context(), ctxUsr)
	if err != nil {
		return errors.Wrap(err, "starting verification session")
	}
	return ctx.JSON(http.StatusCreated, sess)
}

func (api *verificationApi) latestSession(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	sess, err := api.svc.LatestSession(ctx.Request().Context(), claims.Subject)
	if err != nil {
		return errors.Wrap(err, "finding latest session")
	}
	return ctx.JSON(http.StatusOK, sess)
}

func (api *verificationApi) stats(ctx echo.Context) error {
	st, err := api.svc.Stats(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "computing verification stats")
	}
	return ctx.JSON(http.StatusOK, st)
}

// webhook acknowledges every stored event with a 200, so that Veriff stops redelivering it;
// failed events are retried by the scheduler.
func (api *verificationApi) webhook(ctx echo.Context) error {
	req := ctx.Request()
	body, err := io.ReadAll(http.MaxBytesReader(ctx.Response(), req.Body, maxWebhookBodySize))
	if err != nil {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "payload too large").SetInternal(err)
	}

	headers := verification.WebhookHeaders{
		AuthClient: req.Header.Get(verification.HeaderAuthClient),
		Signature:  req.Header.Get(verification.HeaderHMACSignature),
	}
	ev, err := api.svc.Ingest(req.Context(), headers, body)
	if ev.ID != "" && api.metrics != nil {
		api.metrics.WebhookEvent(ev.Kind, ev.State)
	}
	if err != nil {
		return errors.Wrap(err, "ingesting webhook")
	}
	return ctx.JSON(http.StatusOK, WebhookResponse{ID: ev.ID, State: ev.State})
}

type WebhookResponse struct {
	ID    string `json:"id"`
	State string `json:"state"`
}
