package decision

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Profile is one applicant's attributes keyed by field name. Unknown keys are ignored
// and missing keys fall back to documented defaults.
type Profile map[string]interface{}

// FeatureVector is the fixed-width numeric encoding produced by a Transformer
type FeatureVector []float64

// Decision is the binary outcome of a prediction
type Decision string

const (
	Approved Decision = "Approved"
	Rejected Decision = "Rejected"
)

// Model version tags reported with every result
const (
	VersionModel = "lgb"
	VersionStub  = "stub"
	VersionError = "error"
)

// ApprovalThreshold is the inclusive probability at which an application is approved
const ApprovalThreshold = 0.5

// TopContributions is the number of ranked contributions returned with a result
const TopContributions = 3

// Contribution is one feature's signed share of a prediction.
// It serializes as a [name, weight] pair.
type Contribution struct {
	Name   string
	Weight float64
}

func (c Contribution) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{c.Name, c.Weight})
}

func (c *Contribution) UnmarshalJSON(data []byte) error {
	var pair []interface{}
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("contribution must be a [name, weight] pair, got %d elements", len(pair))
	}

	name, ok := pair[0].(string)
	if !ok {
		return fmt.Errorf("contribution name must be a string")
	}
	weight, ok := pair[1].(float64)
	if !ok {
		return fmt.Errorf("contribution weight must be a number")
	}

	c.Name = name
	c.Weight = weight
	return nil
}

// PredictionResult is the complete, immutable outcome of one prediction
type PredictionResult struct {
	Decision      Decision       `json:"decision"`
	Probability   float64        `json:"probability"`
	Reason        string         `json:"reason"`
	Contributions []Contribution `json:"shap_top3"`
	ModelVersion  string         `json:"model_version"`
}

// Approved reports whether the decision is Approved
func (r PredictionResult) Approved() bool {
	return r.Decision == Approved
}

func errorResult(err error) PredictionResult {
	return PredictionResult{
		Decision:      Rejected,
		Probability:   0.0,
		Reason:        fmt.Sprintf("predict_error:%v", err),
		Contributions: []Contribution{},
		ModelVersion:  VersionError,
	}
}
