package main

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/aeroschool/core"
	"github.com/trezcool/aeroschool/core/user"
)

// addUser updates or creates a user.User
func (cli *commandLine) addUser(name, uname, email, pwd string, isAdmin bool) error {
	ctx := context.Background()
	uname = core.CleanString(uname, true /* lower */)
	email = core.CleanString(email, true /* lower */)
	now := time.Now().UTC()
	if err := cli.checkUser(uname, email); err != nil {
		return err
	}

	usr, err := cli.usrRepo.GetUser(ctx, user.GetFilter{Username: uname})
	if errors.Cause(err) == user.ErrNotFound {
		usr, err = cli.usrRepo.GetUser(ctx, user.GetFilter{Email: email})
	}
	exists := err == nil
	if !exists {
		if errors.Cause(err) != user.ErrNotFound {
			return errors.Wrap(err, "finding user")
		}
		usr = user.User{
			Roles:              []string{},
			VerificationStatus: user.VerificationUnverified,
			CreatedAt:          now,
		}
	}

	usr.Username = uname
	usr.Email = email
	if name = core.CleanString(name); name != "" {
		usr.Name = name
	} else if usr.Name == "" {
		usr.Name = uname
	}
	if isAdmin {
		usr.Roles = user.AllRoles
	}
	usr.SetActive(true)
	usr.UpdatedAt = now
	if err = usr.SetPassword(pwd); err != nil {
		return errors.Wrap(err, "setting password")
	}

	if exists {
		_, err = cli.usrRepo.UpdateUser(ctx, usr)
		return errors.Wrap(err, "updating user")
	}
	_, err = cli.usrRepo.CreateUser(ctx, usr)
	return errors.Wrap(err, "creating user")
}

// checkUser applies the username & email rules of the API to the CLI input.
func (cli *commandLine) checkUser(uname, email string) error {
	err := cli.validate.Struct(user.UpdateUser{Username: uname, Email: email})
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fe.Translate(cli.translator))
	}
	sort.Strings(msgs)
	return errors.Errorf("invalid user: %s", strings.Join(msgs, "; "))
}
