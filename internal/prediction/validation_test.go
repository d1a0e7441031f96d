package prediction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/loan-decision/internal/decision"
	apperrors "github.com/ZanzyTHEbar/loan-decision/internal/errors"
)

func TestProfileFields(t *testing.T) {
	fields := ProfileFields()

	assert.Len(t, fields, 25)
	assert.IsIncreasing(t, fields)
	assert.Contains(t, fields, "credit_score")
	assert.NotContains(t, fields, "role")
}

func TestFilterUpdate(t *testing.T) {
	tests := []struct {
		name     string
		payload  map[string]interface{}
		expected decision.Profile
		invalid  []string
	}{
		{
			name: "keeps allow-listed keys",
			payload: map[string]interface{}{
				"credit_score":   710.0,
				"loan_insurance": true,
				"job_title":      "engineer",
				"password_hash":  "x",
				"role":           "admin",
			},
			expected: decision.Profile{
				"credit_score":   710.0,
				"loan_insurance": true,
				"job_title":      "engineer",
			},
		},
		{
			name:     "numeric strings accepted",
			payload:  map[string]interface{}{"age": "42"},
			expected: decision.Profile{"age": "42"},
		},
		{
			name:     "nulls pass through",
			payload:  map[string]interface{}{"savings_balance": nil},
			expected: decision.Profile{"savings_balance": nil},
		},
		{
			name:     "empty payload",
			payload:  map[string]interface{}{},
			expected: decision.Profile{},
		},
		{
			name: "bounds",
			payload: map[string]interface{}{
				"credit_score":            901.0,
				"avg_credit_util_percent": 120.0,
				"annual_salary":           -5.0,
				"dependents":              3.0,
			},
			invalid: []string{"credit_score", "avg_credit_util_percent", "annual_salary"},
		},
		{
			name: "wrong types",
			payload: map[string]interface{}{
				"previous_loan": "yes",
				"gender":        12.0,
				"loan_amount":   "lots",
			},
			invalid: []string{"previous_loan", "gender", "loan_amount"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FilterUpdate(tt.payload)

			if len(tt.invalid) == 0 {
				require.NoError(t, err)
				assert.Equal(t, tt.expected, got)
				return
			}

			require.Error(t, err)
			assert.True(t, apperrors.IsCategory(err, apperrors.CategoryValidation))
			body := apperrors.ToAppError(err).Response()
			details, ok := body["details"].(map[string]string)
			require.True(t, ok)
			for _, field := range tt.invalid {
				assert.Contains(t, details, field)
			}
			assert.Len(t, details, len(tt.invalid))
		})
	}
}
