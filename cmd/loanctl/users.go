package main

import (
	"fmt"

	urfave "github.com/urfave/cli/v2"

	"github.com/ZanzyTHEbar/loan-decision/internal/account"
	"github.com/ZanzyTHEbar/loan-decision/internal/database"
	apperrors "github.com/ZanzyTHEbar/loan-decision/internal/errors"
	"github.com/ZanzyTHEbar/loan-decision/internal/security"
	"github.com/ZanzyTHEbar/loan-decision/internal/types"
)

var (
	usernameFlag = &urfave.StringFlag{
		Name:     "username",
		Usage:    "Login name",
		Required: true,
	}

	passwordFlag = &urfave.StringFlag{
		Name:     "password",
		Usage:    "Initial password",
		EnvVars:  []string{"LOANCTL_PASSWORD"},
		Required: true,
	}

	emailFlag = &urfave.StringFlag{
		Name:  "email",
		Usage: "Contact email (optional)",
	}

	useraddCmd = &urfave.Command{
		Name:   "useradd",
		Usage:  "Creates an account in DATABASE_URL, e.g. the first admin",
		Flags:  []urfave.Flag{usernameFlag, passwordFlag, emailFlag, roleFlag},
		Action: cmdUseradd,
	}

	usersCmd = &urfave.Command{
		Name:   "users",
		Usage:  "Lists accounts in DATABASE_URL",
		Action: cmdUsers,
	}
)

func (a *appConfig) newAccounts(db *database.DB) *account.Service {
	return account.NewService(account.Options{
		Store:  database.NewRepository(db),
		Tokens: security.NewTokenManager(a.cfg.Auth.JWTSecret, a.cfg.Auth.TokenTTL),
		Logger: a.logger.Logger,
	})
}

func cmdUseradd(c *urfave.Context) error {
	app := getConfig(c)

	role, err := parseRole(c.String(roleFlag.Name))
	if err != nil {
		return err
	}

	ctx := commandContext(c)
	db, err := app.openDB(ctx)
	if err != nil {
		return err
	}
	defer apperrors.SafeClose(db, "database")

	user, err := app.newAccounts(db).Register(ctx, account.Credentials{
		Username: c.String(usernameFlag.Name),
		Password: c.String(passwordFlag.Name),
		Email:    c.String(emailFlag.Name),
	}, role)
	if err != nil {
		return fmt.Errorf("creating user: %w", err)
	}

	return app.encode(c.App.Writer, types.NewUsersResponse([]database.User{*user}).Users[0])
}

func cmdUsers(c *urfave.Context) error {
	app := getConfig(c)

	ctx := commandContext(c)
	db, err := app.openDB(ctx)
	if err != nil {
		return err
	}
	defer apperrors.SafeClose(db, "database")

	users, err := app.newAccounts(db).ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("listing users: %w", err)
	}

	return app.encode(c.App.Writer, types.NewUsersResponse(users))
}
