package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"golang.org/x/term"

	"github.com/trezcool/aeroschool/core"
	"github.com/trezcool/aeroschool/core/billing"
	"github.com/trezcool/aeroschool/core/user"
	"github.com/trezcool/aeroschool/core/verification"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	conf            *core.Config
	db              *sql.DB
	out             io.Writer
	validate        *validator.Validate
	translator      ut.Translator
	usrRepo         user.Repository
	billingSvc      billing.Service
	verificationSvc verification.Service
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS] - run a goose command (up, down, status, redo, version, ...)")
	fmt.Fprintln(cli.out, "  adduser -username USERNAME -email EMAIL [-name NAME] [-admin] - create or update a user")
	fmt.Fprintln(cli.out, "  resetpassword -username USERNAME|EMAIL - reset user's password")
	fmt.Fprintln(cli.out, "  reconcile [-apply] [-json] - match package orders with invoices; -apply backfills the missing links")
	fmt.Fprintln(cli.out, "  webhooks status|retry - show webhook stats or retry the failed events")
	fmt.Fprintln(cli.out, "  sessions expire [-ttl DURATION] - expire the verification sessions idle for longer than ttl")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	addUserCmd := flag.NewFlagSet("adduser", flag.ContinueOnError)
	addUserCmd.SetOutput(cli.out)
	addUserUname := addUserCmd.String("username", "", "The user's username.")
	addUserEmail := addUserCmd.String("email", "", "The user's email.")
	addUserName := addUserCmd.String("name", "", "The user's name.")
	addUserAdmin := addUserCmd.Bool("admin", false, "Grant every role to the user.")

	resetPasswordCmd := flag.NewFlagSet("resetpassword", flag.ContinueOnError)
	resetPasswordCmd.SetOutput(cli.out)
	resetPasswordUname := resetPasswordCmd.String("username", "", "The user's username or email. The password will be prompted next.")

	reconcileCmd := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	reconcileCmd.SetOutput(cli.out)
	reconcileApply := reconcileCmd.Bool("apply", false, "Write the proposed links; dry run otherwise.")
	reconcileJSON := reconcileCmd.Bool("json", false, "Print the full report as JSON.")

	sessionsCmd := flag.NewFlagSet("sessions expire", flag.ContinueOnError)
	sessionsCmd.SetOutput(cli.out)
	sessionsTTL := sessionsCmd.Duration("ttl", cli.conf.Jobs.SessionTTL, "Idle time after which open sessions expire.")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])

	case "adduser":
		if err := addUserCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *addUserUname == "" || *addUserEmail == "" {
			addUserCmd.Usage()
			return errHelp
		}
		pwd, err := cli.readPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			addUserCmd.Usage()
			return errHelp
		}
		return cli.addUser(*addUserName, *addUserUname, *addUserEmail, pwd, *addUserAdmin)

	case "resetpassword":
		if err := resetPasswordCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *resetPasswordUname == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		pwd, err := cli.readPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		return cli.resetPassword(*resetPasswordUname, pwd)

	case "reconcile":
		if err := reconcileCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		return cli.reconcile(*reconcileApply, *reconcileJSON)

	case "webhooks":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		switch args[2] {
		case "status":
			return cli.webhooksStatus()
		case "retry":
			return cli.webhooksRetry()
		}
		cli.printUsage()
		return errHelp

	case "sessions":
		if len(args) < 3 || args[2] != "expire" {
			cli.printUsage()
			return errHelp
		}
		if err := sessionsCmd.Parse(args[3:]); err != nil {
			return errHelp
		}
		return cli.expireSessions(*sessionsTTL)

	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) readPassword() (string, error) {
	fmt.Fprint(cli.out, "Enter password:")
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Fprintln(cli.out)
	if err != nil {
		return "", err
	}
	return string(pwd), nil
}
