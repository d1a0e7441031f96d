package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"golang.org/x/crypto/bcrypt"

	"github.com/ZanzyTHEbar/loan-decision/internal/database"
	"github.com/ZanzyTHEbar/loan-decision/internal/decision"
	apperrors "github.com/ZanzyTHEbar/loan-decision/internal/errors"
	"github.com/ZanzyTHEbar/loan-decision/internal/prediction"
	"github.com/ZanzyTHEbar/loan-decision/internal/security"
)

// Store persists users and the profile supplied at signup
type Store interface {
	CreateUser(ctx context.Context, u *database.User) error
	GetUser(ctx context.Context, id string) (*database.User, error)
	GetUserByUsername(ctx context.Context, username string) (*database.User, error)
	ListUsers(ctx context.Context, limit int) ([]database.User, error)
	UpsertProfile(ctx context.Context, userID string, profile decision.Profile) error
}

// Credentials identify a user at signup and login
type Credentials struct {
	Username string `json:"username" validate:"required,max=128"`
	Password string `json:"password" validate:"required,max=72"`
	Email    string `json:"email" validate:"omitempty,email,max=256"`
}

// Session is returned by signup, login and refresh. Refresh responses carry no refresh token.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	UserID       string `json:"user_id"`
	Role         string `json:"role"`
	ExpiresIn    int    `json:"expires_in"`
}

// Options configures a Service
type Options struct {
	Store     Store
	Tokens    *security.TokenManager
	Logger    *slog.Logger
	HashCost  int
	ListLimit int
}

// Service registers users, checks passwords and issues tokens
type Service struct {
	store     Store
	tokens    *security.TokenManager
	logger    *slog.Logger
	hashCost  int
	listLimit int
}

var validate = validator.New()

// NewService creates an account service. HashCost defaults to bcrypt.DefaultCost.
func NewService(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.HashCost == 0 {
		opts.HashCost = bcrypt.DefaultCost
	}
	if opts.ListLimit <= 0 {
		opts.ListLimit = database.MaxUserListLimit
	}
	return &Service{
		store:     opts.Store,
		tokens:    opts.Tokens,
		logger:    opts.Logger,
		hashCost:  opts.HashCost,
		listLimit: opts.ListLimit,
	}
}

// CredentialsFromPayload reads the string credential fields of a request body
func CredentialsFromPayload(payload map[string]interface{}) Credentials {
	str := func(key string) string {
		v, _ := payload[key].(string)
		return strings.TrimSpace(v)
	}
	password, _ := payload["password"].(string)
	return Credentials{
		Username: str("username"),
		Password: password,
		Email:    str("email"),
	}
}

func checkCredentials(creds Credentials) error {
	err := validate.Struct(creds)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apperrors.NewValidationError("invalid credentials payload", err)
	}

	violations := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		violations[strings.ToLower(fe.Field())] = fmt.Sprintf("failed %s", fe.Tag())
	}
	return apperrors.NewValidationErrorWithMap(violations)
}

// Signup creates a user with RoleUser, stores any profile fields in payload and
// returns a session.
func (s *Service) Signup(ctx context.Context, payload map[string]interface{}) (*Session, error) {
	creds := CredentialsFromPayload(payload)
	if err := checkCredentials(creds); err != nil {
		return nil, err
	}

	profile, err := prediction.FilterUpdate(payload)
	if err != nil {
		return nil, err
	}
	profile = lo.OmitBy(profile, func(_ string, v interface{}) bool { return v == nil })

	user, err := s.Register(ctx, creds, security.RoleUser)
	if err != nil {
		return nil, err
	}

	if len(profile) > 0 {
		if err := s.store.UpsertProfile(ctx, user.ID, profile); err != nil {
			s.logger.Warn("Failed to store signup profile", "user_id", user.ID, "error", err)
		}
	}

	return s.issue(user, true)
}

// Register creates a user with role without issuing tokens
func (s *Service) Register(ctx context.Context, creds Credentials, role string) (*database.User, error) {
	if err := checkCredentials(creds); err != nil {
		return nil, err
	}
	if role != security.RoleUser && role != security.RoleAdmin {
		return nil, apperrors.NewValidationError("unknown role", role)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), s.hashCost)
	if err != nil {
		return nil, apperrors.NewInternalError("password hashing failed", err)
	}

	user := database.NewUser(creds.Username, creds.Email, string(hash), role)
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			return nil, apperrors.NewConflictError("username or email already registered", err)
		}
		return nil, apperrors.NewStorageError("create user", err)
	}

	s.logger.Info("User registered", "user_id", user.ID, "role", role)
	return user, nil
}

// Login checks the password and returns a session. Unknown users and wrong passwords
// get the same error.
func (s *Service) Login(ctx context.Context, creds Credentials) (*Session, error) {
	if creds.Username == "" || creds.Password == "" {
		return nil, apperrors.NewValidationError("username and password are required")
	}

	user, err := s.store.GetUserByUsername(ctx, creds.Username)
	if errors.Is(err, database.ErrNotFound) {
		return nil, apperrors.NewAuthError("invalid credentials", nil)
	}
	if err != nil {
		return nil, apperrors.NewStorageError("get user", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(creds.Password)); err != nil {
		return nil, apperrors.NewAuthError("invalid credentials", nil)
	}

	return s.issue(user, true)
}

// Refresh exchanges a refresh token for a new access token carrying the user's current role
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	identity, err := s.tokens.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, apperrors.NewAuthError("invalid refresh token", err)
	}

	user, err := s.store.GetUser(ctx, identity.UserID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, apperrors.NewAuthError("user no longer exists", nil)
	}
	if err != nil {
		return nil, apperrors.NewStorageError("get user", err)
	}

	return s.issue(user, false)
}

// ListUsers returns the registered users for the admin listing
func (s *Service) ListUsers(ctx context.Context) ([]database.User, error) {
	users, err := s.store.ListUsers(ctx, s.listLimit)
	if err != nil {
		return nil, apperrors.NewStorageError("list users", err)
	}
	return users, nil
}

func (s *Service) issue(user *database.User, withRefresh bool) (*Session, error) {
	access, err := s.tokens.GenerateToken(user.ID, user.Role)
	if err != nil {
		return nil, apperrors.NewInternalError("token signing failed", err)
	}

	session := &Session{
		AccessToken: access,
		UserID:      user.ID,
		Role:        user.Role,
		ExpiresIn:   int(s.tokens.TTL().Seconds()),
	}

	if withRefresh {
		session.RefreshToken, err = s.tokens.GenerateRefreshToken(user.ID, user.Role)
		if err != nil {
			return nil, apperrors.NewInternalError("token signing failed", err)
		}
	}

	return session, nil
}
