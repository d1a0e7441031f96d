package database

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/ZanzyTHEbar/loan-decision/internal/decision"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// JSONMap is a profile stored as a JSON text column
type JSONMap map[string]interface{}

// Value implements driver.Valuer
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (m *JSONMap) Scan(src interface{}) error {
	data, err := textBytes(src)
	if err != nil {
		return err
	}
	out := JSONMap{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &out); err != nil {
			return fmt.Errorf("failed to decode JSON column: %w", err)
		}
	}
	*m = out
	return nil
}

// Contributions is the ranked explanation stored as a JSON text column
type Contributions []decision.Contribution

// Value implements driver.Valuer
func (c Contributions) Value() (driver.Value, error) {
	if c == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]decision.Contribution(c))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (c *Contributions) Scan(src interface{}) error {
	data, err := textBytes(src)
	if err != nil {
		return err
	}
	out := Contributions{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &out); err != nil {
			return fmt.Errorf("failed to decode contributions: %w", err)
		}
	}
	*c = out
	return nil
}

func textBytes(src interface{}) ([]byte, error) {
	switch v := src.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported JSON column type %T", src)
	}
}

// StoredProfile is the last saved applicant profile for a user
type StoredProfile struct {
	UserID    string    `json:"user_id" db:"user_id"`
	Data      JSONMap   `json:"data" db:"data"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// HistoryRecord is one persisted prediction
type HistoryRecord struct {
	ID            string        `json:"id" db:"id"`
	UserID        string        `json:"user_id" db:"user_id"`
	Profile       JSONMap       `json:"profile" db:"profile"`
	Decision      string        `json:"loan_decision" db:"decision"`
	Probability   float64       `json:"approval_probability" db:"probability"`
	Reason        string        `json:"rejection_reason" db:"rejection_reason"`
	Contributions Contributions `json:"shap_top3" db:"shap_top3"`
	ModelVersion  string        `json:"model_version" db:"model_version"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
}

// NewHistoryRecord creates a history row for a prediction made for userID
func NewHistoryRecord(userID string, profile decision.Profile, result decision.PredictionResult) *HistoryRecord {
	return &HistoryRecord{
		ID:            uuid.New().String(),
		UserID:        userID,
		Profile:       JSONMap(profile),
		Decision:      string(result.Decision),
		Probability:   result.Probability,
		Reason:        result.Reason,
		Contributions: Contributions(result.Contributions),
		ModelVersion:  result.ModelVersion,
		CreatedAt:     time.Now().UTC(),
	}
}

// User is an account that can sign in and own a stored profile
type User struct {
	ID           string    `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	Email        *string   `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"`
	Role         string    `json:"role" db:"role"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// NewUser creates a user row with a fresh ID. An empty email is stored as NULL.
func NewUser(username, email, passwordHash, role string) *User {
	u := &User{
		ID:           uuid.New().String(),
		Username:     username,
		PasswordHash: passwordHash,
		Role:         role,
		CreatedAt:    time.Now().UTC(),
	}
	if email != "" {
		u.Email = &email
	}
	return u
}

// ChatMessage is one line of a chat exchange. UserID is empty for anonymous callers.
type ChatMessage struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Message   string    `json:"message" db:"message"`
	FromUser  bool      `json:"from_user" db:"from_user"`
	Metadata  JSONMap   `json:"metadata" db:"metadata"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// NewChatMessage creates a chat row for userID
func NewChatMessage(userID, message string, fromUser bool) *ChatMessage {
	return &ChatMessage{
		ID:        uuid.New().String(),
		UserID:    userID,
		Message:   message,
		FromUser:  fromUser,
		Metadata:  JSONMap{},
		CreatedAt: time.Now().UTC(),
	}
}
