package main

import (
	"context"
	"log"
	"os"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/aeroschool/core"
	"github.com/trezcool/aeroschool/core/aircraft"
	"github.com/trezcool/aeroschool/core/billing"
	"github.com/trezcool/aeroschool/core/flightlog"
	"github.com/trezcool/aeroschool/core/user"
	"github.com/trezcool/aeroschool/core/verification"
	emailsvc "github.com/trezcool/aeroschool/services/email"
	logsvc "github.com/trezcool/aeroschool/services/logger"
	"github.com/trezcool/aeroschool/services/veriff"
	"github.com/trezcool/aeroschool/storage/database"
	boiledrepos "github.com/trezcool/aeroschool/storage/database/sqlboiler"
	sqlxrepos "github.com/trezcool/aeroschool/storage/database/sqlx"
)

func main() {
	std := log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	conf := core.NewConfig()
	logger := logsvc.NewRollbarLogger(std, conf)
	core.ParseEmailTemplates(conf, logger)

	// set up DB
	ctx := context.Background()
	errAndDie(std, database.CreateIfNotExist(ctx, conf))
	db, err := database.Open(ctx, conf)
	errAndDie(std, err)
	dbx := database.NewSqlx(db, conf)

	// set up services
	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(std, logger, conf)
	} else {
		mailSvc = emailsvc.NewSendgridService(logger, conf)
	}
	usrRepo := sqlxrepos.NewUserRepository(dbx)
	usrSvc := user.NewService(usrRepo, mailSvc, conf)
	flSvc := flightlog.NewService(
		sqlxrepos.NewFlightLogRepository(dbx), usrSvc, aircraft.NewService(sqlxrepos.NewAircraftRepository(dbx)),
	)

	// start CLI
	validate, translator := newValidator()
	cli := commandLine{
		conf:       conf,
		db:         db,
		out:        os.Stdout,
		validate:   validate,
		translator: translator,
		usrRepo:    usrRepo,
		billingSvc: billing.NewService(
			sqlxrepos.NewBillingRepository(dbx), boiledrepos.NewSnapshotRepository(dbx), usrSvc, flSvc, mailSvc, conf,
		),
		verificationSvc: verification.NewService(
			sqlxrepos.NewVerificationRepository(dbx), veriff.NewClient(conf), usrSvc, mailSvc, logger, conf,
		),
	}
	err = cli.run(os.Args)
	if cErr := db.Close(); cErr != nil {
		std.Printf("closing database: %v", cErr)
	}
	if err != nil {
		if err != errHelp {
			std.Printf("\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}

func errAndDie(logger *log.Logger, err error) {
	if err != nil {
		logger.Fatal(err)
	}
}

func newValidator() (*validator.Validate, ut.Translator) {
	_en := en.New()
	translator, _ := ut.New(_en, _en).GetTranslator("en")
	validate := validator.New()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	return validate, translator
}
