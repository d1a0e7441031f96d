package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/ZanzyTHEbar/loan-decision/internal/decision"
)

// MaxHistoryLimit caps the number of rows ListHistory returns
const MaxHistoryLimit = 100

// MaxUserListLimit caps the number of rows ListUsers returns
const MaxUserListLimit = 200

// ErrDuplicate is returned when an insert collides with a unique column
var ErrDuplicate = errors.New("duplicate record")

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("record not found")

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// Repository handles database operations
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// GetProfile returns the stored profile for userID. found is false when none exists.
func (r *Repository) GetProfile(ctx context.Context, userID string) (profile decision.Profile, found bool, err error) {
	var stored StoredProfile
	err = r.db.GetContext(ctx, &stored, r.db.Rebind(`
		SELECT user_id, data, updated_at
		FROM applicant_profiles
		WHERE user_id = ?
	`), userID)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get profile: %w", err)
	}

	return decision.Profile(stored.Data), true, nil
}

// UpsertProfile replaces the stored profile for userID
func (r *Repository) UpsertProfile(ctx context.Context, userID string, profile decision.Profile) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO applicant_profiles (user_id, data, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			data = excluded.data,
			updated_at = excluded.updated_at
	`), userID, JSONMap(profile), time.Now().UTC())

	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}

	return nil
}

// SaveHistory inserts one prediction history row
func (r *Repository) SaveHistory(ctx context.Context, rec *HistoryRecord) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO prediction_history (
			id, user_id, profile, decision, probability,
			rejection_reason, shap_top3, model_version, created_at
		) VALUES (
			:id, :user_id, :profile, :decision, :probability,
			:rejection_reason, :shap_top3, :model_version, :created_at
		)
	`, rec)

	if err != nil {
		return fmt.Errorf("failed to save prediction history: %w", err)
	}

	return nil
}

// ListHistory returns the newest history rows for userID, at most limit of them.
// A non-positive limit selects MaxHistoryLimit.
func (r *Repository) ListHistory(ctx context.Context, userID string, limit int) ([]HistoryRecord, error) {
	if limit <= 0 || limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	records := []HistoryRecord{}
	err := r.db.SelectContext(ctx, &records, r.db.Rebind(`
		SELECT id, user_id, profile, decision, probability,
			rejection_reason, shap_top3, model_version, created_at
		FROM prediction_history
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`), userID, limit)

	if err != nil {
		return nil, fmt.Errorf("failed to list prediction history: %w", err)
	}

	return records, nil
}

// CreateUser inserts u. A taken username or email yields ErrDuplicate.
func (r *Repository) CreateUser(ctx context.Context, u *User) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO users (id, username, email, password_hash, role, created_at)
		VALUES (:id, :username, :email, :password_hash, :role, :created_at)
	`, u)

	if isUniqueViolation(err) {
		return fmt.Errorf("user %q: %w", u.Username, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

func (r *Repository) getUser(ctx context.Context, column, value string) (*User, error) {
	var u User
	err := r.db.GetContext(ctx, &u, r.db.Rebind(`
		SELECT id, username, email, password_hash, role, created_at
		FROM users
		WHERE `+column+` = ?
	`), value)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &u, nil
}

// GetUserByUsername returns ErrNotFound when no user has username
func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return r.getUser(ctx, "username", username)
}

// GetUser returns ErrNotFound when no user has id
func (r *Repository) GetUser(ctx context.Context, id string) (*User, error) {
	return r.getUser(ctx, "id", id)
}

// ListUsers returns users in signup order, at most limit of them.
// A non-positive limit selects MaxUserListLimit.
func (r *Repository) ListUsers(ctx context.Context, limit int) ([]User, error) {
	if limit <= 0 || limit > MaxUserListLimit {
		limit = MaxUserListLimit
	}

	users := []User{}
	err := r.db.SelectContext(ctx, &users, r.db.Rebind(`
		SELECT id, username, email, password_hash, role, created_at
		FROM users
		ORDER BY created_at ASC
		LIMIT ?
	`), limit)

	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	return users, nil
}

// SaveChatMessage inserts one chat log row
func (r *Repository) SaveChatMessage(ctx context.Context, msg *ChatMessage) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO chat_logs (id, user_id, message, from_user, metadata, created_at)
		VALUES (:id, :user_id, :message, :from_user, :metadata, :created_at)
	`, msg)

	if err != nil {
		return fmt.Errorf("failed to save chat message: %w", err)
	}

	return nil
}

// Ping verifies the database is reachable
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
