package types

import (
	"time"

	"github.com/samber/lo"

	"github.com/ZanzyTHEbar/loan-decision/internal/database"
	"github.com/ZanzyTHEbar/loan-decision/internal/decision"
)

// PredictResponse is the body returned by the predict endpoint
type PredictResponse struct {
	LoanDecision        decision.Decision       `json:"loan_decision" example:"Approved"`
	ApprovalProbability float64                 `json:"approval_probability" example:"0.6"`
	RejectionReason     string                  `json:"rejection_reason" example:""`
	ShapTop3            []decision.Contribution `json:"shap_top3"`
	ModelVersion        string                  `json:"model_version" example:"lgb"`
}

// NewPredictResponse maps a prediction result onto the public field names
func NewPredictResponse(result decision.PredictionResult) PredictResponse {
	contributions := result.Contributions
	if contributions == nil {
		contributions = []decision.Contribution{}
	}
	return PredictResponse{
		LoanDecision:        result.Decision,
		ApprovalProbability: result.Probability,
		RejectionReason:     result.Reason,
		ShapTop3:            contributions,
		ModelVersion:        result.ModelVersion,
	}
}

// UpdateProfileResponse is returned after a profile update. The prediction carries the
// engine's own field names.
type UpdateProfileResponse struct {
	Status     string                    `json:"status" example:"ok"`
	Prediction decision.PredictionResult `json:"prediction"`
}

// HistoryResponse lists a user's past predictions, newest first
type HistoryResponse struct {
	Predictions []database.HistoryRecord `json:"predictions"`
	Count       int                      `json:"count"`
}

// SlotResponse describes one artifact slot
type SlotResponse struct {
	Slot    string `json:"slot" example:"model"`
	Path    string `json:"path" example:"./models/lightgbm.txt"`
	Present bool   `json:"present"`
	Format  string `json:"format,omitempty" example:"gradient_boosted_trees"`
	Error   string `json:"error,omitempty"`
}

// ModelStatusResponse describes the active artifact bundle
type ModelStatusResponse struct {
	Mode       string         `json:"mode" example:"stub"`
	Generation uint64         `json:"generation" example:"1"`
	LoadedAt   time.Time      `json:"loaded_at"`
	Features   []string       `json:"features,omitempty"`
	Slots      []SlotResponse `json:"slots"`
}

// NewModelStatusResponse summarizes bundle
func NewModelStatusResponse(bundle *decision.ModelBundle) ModelStatusResponse {
	resp := ModelStatusResponse{
		Mode:       bundle.Mode(),
		Generation: bundle.Generation,
		LoadedAt:   bundle.LoadedAt,
		Slots: lo.Map(bundle.Slots, func(s decision.SlotStatus, _ int) SlotResponse {
			return SlotResponse{
				Slot:    string(s.Slot),
				Path:    s.Path,
				Present: s.Loaded,
				Format:  s.Kind,
				Error:   s.Error,
			}
		}),
	}
	if bundle.Transformer != nil {
		resp.Features = bundle.Transformer.FeatureNames()
	}
	return resp
}

// HealthResponse is the body of the health endpoint
type HealthResponse struct {
	Status    string                 `json:"status" example:"ok"`
	Timestamp string                 `json:"timestamp"`
	Version   string                 `json:"version" example:"1.0.0"`
	Mode      string                 `json:"mode" example:"lgb"`
	Services  interface{}            `json:"services"`
	Metrics   map[string]interface{} `json:"metrics,omitempty"`
}

// ChatResponse carries the assistant's reply
type ChatResponse struct {
	Reply string `json:"reply" example:"Echo: hello"`
}

// UserResponse is one account in the admin listing
type UserResponse struct {
	ID       string  `json:"id"`
	Username string  `json:"username" example:"alice"`
	Email    *string `json:"email"`
	Role     string  `json:"role" example:"user"`
}

// UsersResponse lists registered accounts
type UsersResponse struct {
	Users []UserResponse `json:"users"`
}

// NewUsersResponse maps user rows onto the listing, leaving out password hashes
func NewUsersResponse(users []database.User) UsersResponse {
	return UsersResponse{Users: lo.Map(users, func(u database.User, _ int) UserResponse {
		return UserResponse{ID: u.ID, Username: u.Username, Email: u.Email, Role: u.Role}
	})}
}

// ErrorResponse documents the error body shape
type ErrorResponse struct {
	Error     string            `json:"error" example:"Rate limit exceeded"`
	Category  string            `json:"category" example:"rate_limit"`
	RequestID string            `json:"request_id,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}
