package echoapi

import (
	"context"
	"net/http"
	"os"
	"syscall"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/trezcool/aeroschool/core"
	"github.com/trezcool/aeroschool/core/aircraft"
	"github.com/trezcool/aeroschool/core/billing"
	"github.com/trezcool/aeroschool/core/flightlog"
	"github.com/trezcool/aeroschool/core/user"
	"github.com/trezcool/aeroschool/core/verification"
	"github.com/trezcool/aeroschool/services/metrics"
)

type (
	Options struct {
		Address        string
		DisableReqLogs bool
		Conf           *core.Config
		Logger         core.Logger
		Validate       *validator.Validate
		Translator     ut.Translator
		Metrics        *metrics.Metrics                // optional
		Ping           func(ctx context.Context) error // optional health check
		Shutdown       chan os.Signal

		UserSvc         user.Service
		AircraftSvc     aircraft.Service
		FlightLogSvc    flightlog.Service
		BillingSvc      billing.Service
		VerificationSvc verification.Service
	}

	Server interface {
		http.Handler
		Start() error
		Stop(context.Context) error
	}

	server struct {
		opts *Options
		app  *echo.Echo
	}
)

var _ Server = (*server)(nil)

func NewServer(opts *Options) Server {
	s := &server{
		opts: opts,
		app:  echo.New(),
	}
	s.setup()
	return s
}

func (s *server) setup() {
	conf := s.opts.Conf

	s.app.HideBanner = true
	s.app.Pre(middleware.RemoveTrailingSlash())
	if !s.opts.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}
	if s.opts.Metrics != nil {
		s.app.Use(s.opts.Metrics.Middleware())
		s.app.GET("/metrics", echo.WrapHandler(s.opts.Metrics.Handler()))
	}

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.opts.Logger, s.opts.Translator, s.signalShutdown)
	s.app.Debug = conf.Debug

	s.app.GET("/", home(conf))
	s.app.GET("/health", s.health)

	v1 := s.app.Group("/v1")
	jwt := middleware.JWTWithConfig(newJWTConfig(conf))

	registerUserAPI(v1, jwt, conf, s.opts.UserSvc, s.opts.Validate)
	registerAircraftAPI(v1, jwt, s.opts.AircraftSvc, s.opts.Validate)
	registerFlightLogAPI(v1, jwt, s.opts.FlightLogSvc, s.opts.UserSvc, s.opts.Validate)
	registerBillingAPI(v1, jwt, s.opts.BillingSvc, s.opts.UserSvc, s.opts.Validate)
	registerVerificationAPI(
		v1, jwt, s.opts.VerificationSvc, s.opts.UserSvc, s.opts.Metrics,
		newIPRateLimiter(conf.Server.WebhookRate, conf.Server.WebhookBurst),
	)
}

// signalShutdown asks main to stop the server gracefully.
func (s *server) signalShutdown() {
	if s.opts.Shutdown == nil {
		return
	}
	select {
	case s.opts.Shutdown <- syscall.SIGTERM:
	default:
	}
}

// Start blocks until the server is stopped; http.ErrServerClosed is not an error.
func (s *server) Start() error {
	if err := s.app.Start(s.opts.Address); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *server) Stop(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func home(conf *core.Config) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		return ctx.String(http.StatusOK, "Welcome to "+conf.AppName+" API!")
	}
}

func (s *server) health(ctx echo.Context) error {
	status, code := "ok", http.StatusOK
	if s.opts.Ping != nil {
		pctx, cancel := context.WithTimeout(ctx.Request().Context(), 2*time.Second)
		defer cancel()
		if err := s.opts.Ping(pctx); err != nil {
			s.opts.Logger.Warn("health check failed", err)
			status, code = "unavailable", http.StatusServiceUnavailable
		}
	}
	return ctx.JSON(code, echo.Map{"status": status, "build": s.opts.Conf.Build})
}
