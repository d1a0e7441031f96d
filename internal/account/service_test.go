package account

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ZanzyTHEbar/loan-decision/internal/database"
	"github.com/ZanzyTHEbar/loan-decision/internal/decision"
	apperrors "github.com/ZanzyTHEbar/loan-decision/internal/errors"
	"github.com/ZanzyTHEbar/loan-decision/internal/security"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) CreateUser(ctx context.Context, u *database.User) error {
	return m.Called(ctx, u).Error(0)
}

func (m *mockStore) GetUser(ctx context.Context, id string) (*database.User, error) {
	args := m.Called(ctx, id)
	u, _ := args.Get(0).(*database.User)
	return u, args.Error(1)
}

func (m *mockStore) GetUserByUsername(ctx context.Context, username string) (*database.User, error) {
	args := m.Called(ctx, username)
	u, _ := args.Get(0).(*database.User)
	return u, args.Error(1)
}

func (m *mockStore) ListUsers(ctx context.Context, limit int) ([]database.User, error) {
	args := m.Called(ctx, limit)
	users, _ := args.Get(0).([]database.User)
	return users, args.Error(1)
}

func (m *mockStore) UpsertProfile(ctx context.Context, userID string, profile decision.Profile) error {
	return m.Called(ctx, userID, profile).Error(0)
}

func newTestService(store Store) (*Service, *security.TokenManager) {
	tokens := security.NewTokenManager("test-secret", time.Hour)
	return NewService(Options{
		Store:    store,
		Tokens:   tokens,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		HashCost: bcrypt.MinCost,
	}), tokens
}

func hashedUser(t *testing.T, id, username, password, role string) *database.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	u := database.NewUser(username, "", string(hash), role)
	u.ID = id
	return u
}

func TestSignup(t *testing.T) {
	store := &mockStore{}
	svc, tokens := newTestService(store)

	var created *database.User
	store.On("CreateUser", mock.Anything, mock.AnythingOfType("*database.User")).
		Run(func(args mock.Arguments) { created = args.Get(1).(*database.User) }).
		Return(nil)
	store.On("UpsertProfile", mock.Anything, mock.AnythingOfType("string"),
		decision.Profile{"credit_score": 710.0, "employment_type": "salaried"}).Return(nil)

	session, err := svc.Signup(context.Background(), map[string]interface{}{
		"username":        "alice",
		"password":        "correct horse",
		"email":           "alice@example.com",
		"credit_score":    710.0,
		"employment_type": "salaried",
		"loan_amount":     nil,
		"favourite_color": "green",
	})
	require.NoError(t, err)
	require.NotNil(t, created)

	assert.Equal(t, "alice", created.Username)
	assert.Equal(t, security.RoleUser, created.Role)
	require.NotNil(t, created.Email)
	assert.Equal(t, "alice@example.com", *created.Email)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(created.PasswordHash), []byte("correct horse")))

	assert.Equal(t, created.ID, session.UserID)
	assert.Equal(t, security.RoleUser, session.Role)
	assert.Equal(t, 3600, session.ExpiresIn)

	identity, err := tokens.ValidateToken(session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, security.Identity{UserID: created.ID, Role: security.RoleUser}, identity)

	_, err = tokens.ValidateRefreshToken(session.RefreshToken)
	assert.NoError(t, err)
	store.AssertExpectations(t)
}

func TestSignupWithoutProfileSkipsUpsert(t *testing.T) {
	store := &mockStore{}
	svc, _ := newTestService(store)
	store.On("CreateUser", mock.Anything, mock.Anything).Return(nil)

	_, err := svc.Signup(context.Background(), map[string]interface{}{"username": "bob", "password": "pw"})
	require.NoError(t, err)
	store.AssertNotCalled(t, "UpsertProfile", mock.Anything, mock.Anything, mock.Anything)
}

func TestSignupProfileFailureStillIssuesSession(t *testing.T) {
	store := &mockStore{}
	svc, _ := newTestService(store)
	store.On("CreateUser", mock.Anything, mock.Anything).Return(nil)
	store.On("UpsertProfile", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("database is locked"))

	session, err := svc.Signup(context.Background(), map[string]interface{}{
		"username":     "bob",
		"password":     "pw",
		"credit_score": 600.0,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, session.AccessToken)
}

func TestSignupRejects(t *testing.T) {
	tests := []struct {
		name             string
		payload          map[string]interface{}
		createErr        error
		expectedCategory apperrors.ErrorCategory
	}{
		{
			name:             "missing username",
			payload:          map[string]interface{}{"password": "pw"},
			expectedCategory: apperrors.CategoryValidation,
		},
		{
			name:             "missing password",
			payload:          map[string]interface{}{"username": "alice"},
			expectedCategory: apperrors.CategoryValidation,
		},
		{
			name:             "password not a string",
			payload:          map[string]interface{}{"username": "alice", "password": 1234.0},
			expectedCategory: apperrors.CategoryValidation,
		},
		{
			name:             "malformed email",
			payload:          map[string]interface{}{"username": "alice", "password": "pw", "email": "not-an-email"},
			expectedCategory: apperrors.CategoryValidation,
		},
		{
			name:             "invalid profile field",
			payload:          map[string]interface{}{"username": "alice", "password": "pw", "credit_score": 5000.0},
			expectedCategory: apperrors.CategoryValidation,
		},
		{
			name:             "username taken",
			payload:          map[string]interface{}{"username": "alice", "password": "pw"},
			createErr:        database.ErrDuplicate,
			expectedCategory: apperrors.CategoryConflict,
		},
		{
			name:             "storage down",
			payload:          map[string]interface{}{"username": "alice", "password": "pw"},
			createErr:        errors.New("connection refused"),
			expectedCategory: apperrors.CategoryStorage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &mockStore{}
			svc, _ := newTestService(store)
			store.On("CreateUser", mock.Anything, mock.Anything).Return(tt.createErr)

			session, err := svc.Signup(context.Background(), tt.payload)
			require.Error(t, err)
			assert.Nil(t, session)
			assert.True(t, apperrors.IsCategory(err, tt.expectedCategory), "got %v", err)
		})
	}
}

func TestRegisterRejectsUnknownRole(t *testing.T) {
	store := &mockStore{}
	svc, _ := newTestService(store)

	_, err := svc.Register(context.Background(), Credentials{Username: "root", Password: "pw"}, "superuser")
	require.Error(t, err)
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryValidation))
	store.AssertNotCalled(t, "CreateUser", mock.Anything, mock.Anything)
}

func TestLogin(t *testing.T) {
	admin := hashedUser(t, "u-admin", "ops", "s3cret", security.RoleAdmin)

	tests := []struct {
		name             string
		creds            Credentials
		lookupUser       *database.User
		lookupErr        error
		expectedCategory apperrors.ErrorCategory
	}{
		{name: "valid password", creds: Credentials{Username: "ops", Password: "s3cret"}, lookupUser: admin},
		{name: "wrong password", creds: Credentials{Username: "ops", Password: "guess"}, lookupUser: admin, expectedCategory: apperrors.CategoryAuth},
		{name: "unknown user", creds: Credentials{Username: "ops", Password: "s3cret"}, lookupErr: database.ErrNotFound, expectedCategory: apperrors.CategoryAuth},
		{name: "storage failure", creds: Credentials{Username: "ops", Password: "s3cret"}, lookupErr: errors.New("timeout"), expectedCategory: apperrors.CategoryStorage},
		{name: "missing password", creds: Credentials{Username: "ops"}, expectedCategory: apperrors.CategoryValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &mockStore{}
			svc, tokens := newTestService(store)
			store.On("GetUserByUsername", mock.Anything, "ops").Return(tt.lookupUser, tt.lookupErr)

			session, err := svc.Login(context.Background(), tt.creds)
			if tt.expectedCategory != "" {
				require.Error(t, err)
				assert.True(t, apperrors.IsCategory(err, tt.expectedCategory), "got %v", err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, "u-admin", session.UserID)
			assert.Equal(t, security.RoleAdmin, session.Role)

			identity, err := tokens.ValidateToken(session.AccessToken)
			require.NoError(t, err)
			assert.True(t, identity.IsAdmin())
		})
	}
}

func TestRefresh(t *testing.T) {
	store := &mockStore{}
	svc, tokens := newTestService(store)

	promoted := hashedUser(t, "u-1", "alice", "pw", security.RoleAdmin)
	store.On("GetUser", mock.Anything, "u-1").Return(promoted, nil)
	store.On("GetUser", mock.Anything, "u-gone").Return(nil, database.ErrNotFound)

	refresh, err := tokens.GenerateRefreshToken("u-1", security.RoleUser)
	require.NoError(t, err)

	session, err := svc.Refresh(context.Background(), refresh)
	require.NoError(t, err)
	assert.Empty(t, session.RefreshToken)

	identity, err := tokens.ValidateToken(session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, security.Identity{UserID: "u-1", Role: security.RoleAdmin}, identity)

	access, err := tokens.GenerateToken("u-1", security.RoleUser)
	require.NoError(t, err)
	_, err = svc.Refresh(context.Background(), access)
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryAuth))

	gone, err := tokens.GenerateRefreshToken("u-gone", security.RoleUser)
	require.NoError(t, err)
	_, err = svc.Refresh(context.Background(), gone)
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryAuth))
}

func TestListUsers(t *testing.T) {
	store := &mockStore{}
	svc, _ := newTestService(store)

	store.On("ListUsers", mock.Anything, database.MaxUserListLimit).
		Return([]database.User{{ID: "u-1", Username: "alice", Role: security.RoleAdmin}}, nil).Once()

	users, err := svc.ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "alice", users[0].Username)

	store.On("ListUsers", mock.Anything, database.MaxUserListLimit).Return(nil, errors.New("gone")).Once()
	_, err = svc.ListUsers(context.Background())
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryStorage))
}
