package main

import (
	"context"
	"fmt"

	urfave "github.com/urfave/cli/v2"

	"github.com/ZanzyTHEbar/loan-decision/internal/database"
	apperrors "github.com/ZanzyTHEbar/loan-decision/internal/errors"
	"github.com/ZanzyTHEbar/loan-decision/internal/security"
	"github.com/ZanzyTHEbar/loan-decision/internal/types"
)

var (
	userFlag = &urfave.StringFlag{
		Name:     "user",
		Aliases:  []string{"u"},
		Usage:    "User ID",
		Required: true,
	}

	roleFlag = &urfave.StringFlag{
		Name:  "role",
		Usage: "Role claim [user, admin]",
		Value: security.RoleUser,
	}

	historyLimitFlag = &urfave.IntFlag{
		Name:  "limit",
		Usage: "Limits number of result returned",
		Value: 20,
	}

	artifactsCmd = &urfave.Command{
		Name:   "artifacts",
		Usage:  "Shows the load status of each artifact slot",
		Action: cmdArtifacts,
	}

	historyCmd = &urfave.Command{
		Name:   "history",
		Usage:  "Lists a user's recent predictions from DATABASE_URL",
		Flags:  []urfave.Flag{userFlag, historyLimitFlag},
		Action: cmdHistory,
	}

	tokenCmd = &urfave.Command{
		Name:   "token",
		Usage:  "Issues a bearer token signed with JWT_SECRET_KEY",
		Flags:  []urfave.Flag{userFlag, roleFlag},
		Action: cmdToken,
	}
)

func cmdArtifacts(c *urfave.Context) error {
	app := getConfig(c)
	return app.encode(c.App.Writer, types.NewModelStatusResponse(app.newEngine().Bundle()))
}

func cmdHistory(c *urfave.Context) error {
	app := getConfig(c)

	limit := c.Int(historyLimitFlag.Name)
	if limit < 1 || limit > database.MaxHistoryLimit {
		return fmt.Errorf("limit must be between 1 and %d", database.MaxHistoryLimit)
	}

	ctx := commandContext(c)
	db, err := app.openDB(ctx)
	if err != nil {
		return err
	}
	defer apperrors.SafeClose(db, "database")

	records, err := database.NewRepository(db).ListHistory(ctx, c.String(userFlag.Name), limit)
	if err != nil {
		return fmt.Errorf("listing history: %w", err)
	}
	if records == nil {
		records = []database.HistoryRecord{}
	}

	return app.encode(c.App.Writer, types.HistoryResponse{Predictions: records, Count: len(records)})
}

func cmdToken(c *urfave.Context) error {
	app := getConfig(c)

	role, err := parseRole(c.String(roleFlag.Name))
	if err != nil {
		return err
	}

	tokens := security.NewTokenManager(app.cfg.Auth.JWTSecret, app.cfg.Auth.TokenTTL)
	token, err := tokens.GenerateToken(c.String(userFlag.Name), role)
	if err != nil {
		return fmt.Errorf("signing token: %w", err)
	}

	return app.encode(c.App.Writer, map[string]interface{}{
		"token":      token,
		"role":       role,
		"expires_in": int(app.cfg.Auth.TokenTTL.Seconds()),
	})
}

func parseRole(role string) (string, error) {
	switch role {
	case security.RoleUser, security.RoleAdmin:
		return role, nil
	default:
		return "", fmt.Errorf("unsupported role %q", role)
	}
}

func commandContext(c *urfave.Context) context.Context {
	if c.Context == nil {
		return context.Background()
	}
	return c.Context
}

func (a *appConfig) openDB(ctx context.Context) (*database.DB, error) {
	db, err := database.Open(ctx, database.Options{URL: a.cfg.Database.URL, MaxOpenConns: 1})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}
