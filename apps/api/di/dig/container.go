package dig_container

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/trezcool/aeroschool/apps/api/echo"
	"github.com/trezcool/aeroschool/core"
	"github.com/trezcool/aeroschool/core/aircraft"
	"github.com/trezcool/aeroschool/core/billing"
	"github.com/trezcool/aeroschool/core/flightlog"
	"github.com/trezcool/aeroschool/core/user"
	"github.com/trezcool/aeroschool/core/verification"
	emailsvc "github.com/trezcool/aeroschool/services/email"
	logsvc "github.com/trezcool/aeroschool/services/logger"
	"github.com/trezcool/aeroschool/services/metrics"
	"github.com/trezcool/aeroschool/services/scheduler"
	"github.com/trezcool/aeroschool/services/veriff"
	"github.com/trezcool/aeroschool/storage/database"
	boiledrepos "github.com/trezcool/aeroschool/storage/database/sqlboiler"
	sqlxrepos "github.com/trezcool/aeroschool/storage/database/sqlx"
)

type (
	DBLoggerParam struct {
		dig.In
		Logger core.Logger `name:"dbLogger"`
	}

	JobsLoggerParam struct {
		dig.In
		Logger core.Logger `name:"jobsLogger"`
	}

	ServerParams struct {
		dig.In

		Conf            *core.Config
		Logger          core.Logger
		Validate        *validator.Validate
		Translator      ut.Translator
		Metrics         *metrics.Metrics
		DB              *sql.DB
		Shutdown        chan os.Signal
		UserSvc         user.Service
		AircraftSvc     aircraft.Service
		FlightLogSvc    flightlog.Service
		BillingSvc      billing.Service
		VerificationSvc verification.Service
	}
)

func newStdLogger(prefix string) *log.Logger {
	return log.New(os.Stdout, prefix, log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
}

func newLogger(conf *core.Config) core.Logger {
	return logsvc.NewRollbarLogger(newStdLogger("API : "), conf)
}

func newDBLogger(conf *core.Config) core.Logger {
	return logsvc.NewRollbarLogger(newStdLogger("DB : "), conf)
}

func newJobsLogger(conf *core.Config) core.Logger {
	return logsvc.NewRollbarLogger(newStdLogger("JOBS : "), conf)
}

func newDB(conf *core.Config, loggerParam DBLoggerParam) *sql.DB {
	setUp := func() (*sql.DB, error) {
		ctx := context.Background()
		if err := database.CreateIfNotExist(ctx, conf); err != nil {
			return nil, err
		}

		db, err := database.Open(ctx, conf)
		if err != nil {
			return nil, err
		}

		if err = database.Migrate(db, "up"); err != nil {
			return nil, err
		}
		return db, nil
	}

	db, err := setUp()
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return db
}

func newSnapshotRepository(db *sqlx.DB) billing.SnapshotRepository {
	return boiledrepos.NewSnapshotRepository(db)
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug {
		return emailsvc.NewConsoleService(newStdLogger("MAIL : "), logger, conf)
	}
	return emailsvc.NewSendgridService(logger, conf)
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}

// newValidator registers the validators of every domain package.
func newValidator(translator ut.Translator) *validator.Validate {
	validate := validator.New()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	aircraft.InitValidators(validate, translator)
	flightlog.InitValidators(validate, translator)
	return validate
}

func newScheduler(
	svc verification.Service,
	loggerParam JobsLoggerParam,
	m *metrics.Metrics,
	conf *core.Config,
) (*scheduler.Scheduler, error) {
	return scheduler.New(svc, loggerParam.Logger, m, conf)
}

func newShutdownChannel() chan os.Signal {
	return make(chan os.Signal, 1)
}

func newServer(p ServerParams) echoapi.Server {
	return echoapi.NewServer(&echoapi.Options{
		Address:         p.Conf.Server.Address,
		Conf:            p.Conf,
		Logger:          p.Logger,
		Validate:        p.Validate,
		Translator:      p.Translator,
		Metrics:         p.Metrics,
		Ping:            p.DB.PingContext,
		Shutdown:        p.Shutdown,
		UserSvc:         p.UserSvc,
		AircraftSvc:     p.AircraftSvc,
		FlightLogSvc:    p.FlightLogSvc,
		BillingSvc:      p.BillingSvc,
		VerificationSvc: p.VerificationSvc,
	})
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newJobsLogger, dig.Name("jobsLogger")))
	must(c.Provide(newDB))
	must(c.Provide(database.NewSqlx))
	must(c.Provide(newEmailService))
	must(c.Provide(newTranslator))
	must(c.Provide(newValidator))
	must(c.Provide(metrics.New))
	must(c.Provide(newShutdownChannel))

	// repositories
	must(c.Provide(sqlxrepos.NewUserRepository))
	must(c.Provide(sqlxrepos.NewAircraftRepository))
	must(c.Provide(sqlxrepos.NewFlightLogRepository))
	must(c.Provide(sqlxrepos.NewBillingRepository))
	must(c.Provide(sqlxrepos.NewVerificationRepository))
	must(c.Provide(newSnapshotRepository))

	// services
	must(c.Provide(user.NewService))
	must(c.Provide(aircraft.NewService))
	must(c.Provide(flightlog.NewService))
	must(c.Provide(billing.NewService))
	must(c.Provide(veriff.NewClient))
	must(c.Provide(verification.NewService))
	must(c.Provide(newScheduler))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
