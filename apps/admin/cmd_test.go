package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io/fs"
	"strconv"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/aeroschool/core"
	"github.com/trezcool/aeroschool/core/aircraft"
	"github.com/trezcool/aeroschool/core/billing"
	"github.com/trezcool/aeroschool/core/flightlog"
	"github.com/trezcool/aeroschool/core/user"
	"github.com/trezcool/aeroschool/core/verification"
	emailsvc "github.com/trezcool/aeroschool/services/email"
	inmemdb "github.com/trezcool/aeroschool/storage/database/inmem"
	testutil "github.com/trezcool/aeroschool/tests"
)

type fixture struct {
	cli      *commandLine
	out      *bytes.Buffer
	usrRepo  user.Repository
	billRepo interface {
		AddInvoiceClient(c billing.InvoiceClient) billing.InvoiceClient
		AddInvoice(inv billing.Invoice) billing.Invoice
	}
	verificationSvc verification.Service
}

func setup(t *testing.T) *fixture {
	conf := core.NewTestConfig()
	logger := testutil.NewLogger(conf)
	core.ParseEmailTemplates(conf, logger)

	// set up DB & repos
	db := inmemdb.Open()
	usrRepo := inmemdb.NewUserRepository(db)
	billRepo := inmemdb.NewBillingRepository(db)

	// set up services
	mail := emailsvc.NewConsoleServiceMock(logger, conf)
	usrSvc := user.NewService(usrRepo, mail, conf)
	flSvc := flightlog.NewService(inmemdb.NewFlightLogRepository(db), usrSvc, aircraft.NewService(inmemdb.NewAircraftRepository(db)))
	verSvc := verification.NewService(inmemdb.NewVerificationRepository(db), new(testutil.FakeProvider), usrSvc, mail, logger, conf)

	out := new(bytes.Buffer)
	validate, translator := newValidator()
	return &fixture{
		cli: &commandLine{
			conf:            conf,
			out:             out,
			validate:        validate,
			translator:      translator,
			usrRepo:         usrRepo,
			billingSvc:      billing.NewService(billRepo, billRepo, usrSvc, flSvc, mail, conf),
			verificationSvc: verSvc,
		},
		out:             out,
		usrRepo:         usrRepo,
		billRepo:        billRepo,
		verificationSvc: verSvc,
	}
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	extra      interface{}
}

func (tt cliTest) check(t *testing.T, err error) {
	t.Helper()
	switch {
	case tt.wantErr != nil:
		assert.Equal(t, tt.wantErr, errors.Cause(err))
	case tt.wantErrStr != "":
		if assert.Error(t, err) {
			assert.Equal(t, tt.wantErrStr, err.Error())
		}
	default:
		assert.NoError(t, err)
	}
}

func Test_commandLine_usage(t *testing.T) {
	f := setup(t)

	tests := []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "webhooks: no subcommand", args: []string{"webhooks"}, wantErr: errHelp},
		{name: "webhooks: unknown subcommand", args: []string{"webhooks", "lol"}, wantErr: errHelp},
		{name: "sessions: no subcommand", args: []string{"sessions"}, wantErr: errHelp},
		{name: "sessions: unknown flag", args: []string{"sessions", "expire", "-lol"}, wantErr: errHelp},
		{name: "reconcile: unknown flag", args: []string{"reconcile", "-lol"}, wantErr: errHelp},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			f.out.Reset()
			tt.check(t, f.cli.run(args))
			assert.NotEmpty(t, f.out.String())
		})
	}
}

func Test_commandLine_migrate(t *testing.T) {
	f := setup(t)

	origRun := gooseRunFunc
	defer func() { gooseRunFunc = origRun }()
	gooseRunFunc = func(command string, db *sql.DB, fsys fs.FS, dir string, args ...string) error {
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to", "down-to":
			if len(args) == 0 {
				return fmt.Errorf("%s must be of form: goose [OPTIONS] DRIVER DBSTRING %s VERSION", command, command)
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		case "create":
			if len(args) == 0 {
				return fmt.Errorf("create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]")
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		if _, err := fs.Stat(fsys, dir+"/00001_create_users.sql"); err != nil {
			return err
		}
		return nil
	}

	tests := []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "migrate lol: \"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "migrate up-to: up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "migrate up-to: version must be a number (got 'lol')"},
		{name: "create: no args", args: []string{"migrate", "create"}, wantErrStr: "migrate create: create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]"},
		{name: "down-to: no args", args: []string{"migrate", "down-to"}, wantErrStr: "migrate down-to: down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}},
		{name: "redo", args: []string{"migrate", "redo"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "create", args: []string{"migrate", "create", "instructors", "sql"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			f.out.Reset()
			err := f.cli.run(args)
			tt.check(t, err)
			if err == nil {
				assert.Equal(t, fmt.Sprintf("migrate %s: done\n", tt.args[1]), f.out.String())
			}
		})
	}
}

func mockPassword(pwd string) {
	readPasswordFunc = func(int) ([]byte, error) {
		return []byte(pwd), nil
	}
}

func Test_commandLine_resetPassword(t *testing.T) {
	f := setup(t)
	usr := testutil.CreateUser(t, f.usrRepo, "User", "awe", "awe@aero.io", "mdr", nil, true)

	tests := []cliTest{
		{name: "no args", args: []string{"resetpassword"}, wantErr: errHelp},
		{name: "username but no password", args: []string{"resetpassword", "-username", "lol"}, wantErr: errHelp},
		{name: "user not found", args: []string{"resetpassword", "-username", "lol"}, extra: "lol", wantErr: user.ErrNotFound},
		{name: "reset with username", args: []string{"resetpassword", "-username", "AWE"}, extra: "lol"},
		{name: "reset with email", args: []string{"resetpassword", "-username", usr.Email}, extra: "lmao"},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)
		pwd, _ := tt.extra.(string)
		mockPassword(pwd)

		t.Run(tt.name, func(t *testing.T) {
			err := f.cli.run(args)
			tt.check(t, err)
			if err == nil {
				refreshedUsr, err := f.usrRepo.GetUser(context.Background(), user.GetFilter{ID: usr.ID})
				require.NoError(t, err)
				assert.NoError(t, refreshedUsr.CheckPassword(pwd))
			}
		})
	}
}

func Test_commandLine_addUser(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	mockPassword("")
	assert.Equal(t, errHelp, f.cli.run([]string{"admin", "adduser", "-username", "chief_instructor", "-email", "chief@aero.io"}))
	assert.Equal(t, errHelp, f.cli.run([]string{"admin", "adduser", "-username", "chief_instructor"}))

	mockPassword("Sup3r#Secret")
	tests := []cliTest{
		{
			name: "short username", args: []string{"adduser", "-username", "chief", "-email", "chief@aero.io"},
			wantErrStr: "invalid user: username must be at least 6 characters in length",
		},
		{
			name: "invalid username & email", args: []string{"adduser", "-username", "chief-pilot", "-email", "chief"},
			wantErrStr: "invalid user: email must be a valid email address; only alphanumeric characters and underscores are allowed",
		},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, f.cli.run(args))
		})
	}
	users, err := f.usrRepo.QueryUsers(ctx, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, users)

	require.NoError(t, f.cli.run([]string{"admin", "adduser", "-username", "Chief_Instructor", "-email", "CHIEF@aero.io", "-name", "Chief Pilot", "-admin"}))
	usr, err := f.usrRepo.GetUser(ctx, user.GetFilter{Username: "chief_instructor"})
	require.NoError(t, err)
	assert.Equal(t, "chief@aero.io", usr.Email)
	assert.Equal(t, "Chief Pilot", usr.Name)
	assert.Equal(t, user.AllRoles, usr.Roles)
	assert.True(t, usr.Active())
	assert.NoError(t, usr.CheckPassword("Sup3r#Secret"))

	// updates the existing user, found by email
	mockPassword("An0ther#Secret")
	require.NoError(t, f.cli.run([]string{"admin", "adduser", "-username", "chief_pilot", "-email", "chief@aero.io"}))
	users, err = f.usrRepo.QueryUsers(ctx, nil, nil)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, usr.ID, users[0].ID)
	assert.Equal(t, "chief_pilot", users[0].Username)
	assert.Equal(t, "Chief Pilot", users[0].Name)
	assert.NoError(t, users[0].CheckPassword("An0ther#Secret"))
}

func Test_commandLine_reconcile(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	student := testutil.CreateUser(t, f.usrRepo, "Stu Dent", "student", "stu@aero.io", "", []string{user.RoleStudent}, true)

	client := f.billRepo.AddInvoiceClient(billing.InvoiceClient{Name: "Stu Dent", Email: "stu@aero.io"})
	f.billRepo.AddInvoice(billing.Invoice{
		Number: "F-0001", ClientID: client.ID, AmountCents: 180000, Currency: "USD",
		IssuedAt: time.Now().UTC(), Status: billing.InvoicePaid,
	})
	o, err := f.cli.billingSvc.CreateOrder(ctx, billing.NewPackageOrder{
		UserID: student.ID, PackageName: "10h block", Minutes: 600, AmountCents: 180000, Currency: "USD",
	})
	require.NoError(t, err)
	_, err = f.cli.billingSvc.MarkPaid(ctx, o.ID)
	require.NoError(t, err)

	// dry run
	f.out.Reset()
	require.NoError(t, f.cli.run([]string{"admin", "reconcile"}))
	assert.Contains(t, f.out.String(), "matches: 1\n")
	assert.Contains(t, f.out.String(), "2 link(s) proposed; run with -apply to write them")

	// json
	f.out.Reset()
	require.NoError(t, f.cli.run([]string{"admin", "reconcile", "-json"}))
	var doc struct {
		Report   billing.Report         `json:"report"`
		Backfill billing.BackfillResult `json:"backfill"`
	}
	require.NoError(t, json.Unmarshal(f.out.Bytes(), &doc))
	assert.Len(t, doc.Report.Matches, 1)
	assert.True(t, doc.Backfill.DryRun)
	assert.Len(t, doc.Backfill.Proposals, 2)

	// apply
	f.out.Reset()
	require.NoError(t, f.cli.run([]string{"admin", "reconcile", "-apply"}))
	assert.Contains(t, f.out.String(), "2 link(s) applied")

	f.out.Reset()
	require.NoError(t, f.cli.run([]string{"admin", "reconcile"}))
	assert.Contains(t, f.out.String(), "0 link(s) proposed")
}

func Test_commandLine_webhooksAndSessions(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	student := testutil.CreateUser(t, f.usrRepo, "Stu Dent", "student", "stu@aero.io", "", []string{user.RoleStudent}, true)

	body := testutil.EventPayload("sess-x", student.ID, "started", verification.CodeStarted, "att-1")
	_, err := f.verificationSvc.Ingest(ctx, testutil.SignedHeaders(f.cli.conf, body), body)
	require.NoError(t, err)

	f.out.Reset()
	require.NoError(t, f.cli.run([]string{"admin", "webhooks", "status"}))
	assert.Regexp(t, `processed\s+1`, f.out.String())
	assert.Regexp(t, `started\s+1`, f.out.String())
	assert.Contains(t, f.out.String(), "retryable failures: 0")

	f.out.Reset()
	require.NoError(t, f.cli.run([]string{"admin", "webhooks", "retry"}))
	assert.Equal(t, "retried: 0, processed: 0, failed: 0\n", f.out.String())

	tests := []cliTest{
		{name: "ttl not positive", args: []string{"sessions", "expire", "-ttl", "0s"}, wantErrStr: "ttl must be positive (got 0s)"},
		{name: "not idle long enough", args: []string{"sessions", "expire", "-ttl", "1h"}, extra: "expired 0 session(s) idle for more than 1h0m0s\n"},
		{name: "idle", args: []string{"sessions", "expire", "-ttl", "1ns"}, extra: "expired 1 session(s) idle for more than 1ns\n"},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			f.out.Reset()
			tt.check(t, f.cli.run(args))
			if want, ok := tt.extra.(string); ok {
				assert.Equal(t, want, f.out.String())
			}
		})
	}
}
