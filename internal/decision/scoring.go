package decision

import (
	"fmt"

	apperrors "github.com/ZanzyTHEbar/loan-decision/internal/errors"
)

// Score is the output of the scoring pipeline for one vector
type Score struct {
	Raw         float64
	Probability float64
	Decision    Decision
}

// ScoreVector runs model inference, applies the calibrator exactly once when present,
// clamps to [0,1] and thresholds at ApprovalThreshold.
func ScoreVector(vec FeatureVector, bundle *ModelBundle) (Score, error) {
	if !bundle.Complete() {
		return Score{}, apperrors.NewInferenceError("scoring", fmt.Errorf("bundle has no model or transformer"))
	}

	if want := bundle.Model.NumFeatures(); len(vec) != want {
		return Score{}, apperrors.NewFeatureMismatchError(
			fmt.Sprintf("feature vector has %d columns, model expects %d", len(vec), want), nil)
	}

	raw, err := bundle.Model.Infer(vec)
	if err != nil {
		return Score{}, apperrors.NewInferenceError("model inference", err)
	}
	if !finite(raw) {
		return Score{}, apperrors.NewInferenceError("model inference", fmt.Errorf("non-finite score %v", raw))
	}

	prob := raw
	if bundle.Calibrator != nil {
		prob, err = bundle.Calibrator.Apply(raw)
		if err != nil {
			return Score{}, apperrors.NewInferenceError("calibration", err)
		}
		if !finite(prob) {
			return Score{}, apperrors.NewInferenceError("calibration", fmt.Errorf("non-finite probability %v", prob))
		}
	}
	prob = clip(prob, 0, 1)

	return Score{
		Raw:         raw,
		Probability: prob,
		Decision:    decide(prob),
	}, nil
}

func decide(prob float64) Decision {
	if prob >= ApprovalThreshold {
		return Approved
	}
	return Rejected
}

// Explain returns up to TopContributions ranked contributions. A bundle without an explainer
// yields an empty list and no error.
func Explain(vec FeatureVector, bundle *ModelBundle) ([]Contribution, error) {
	if bundle == nil || bundle.Explainer == nil {
		return []Contribution{}, nil
	}

	weights, err := bundle.Explainer.Contributions(vec)
	if err != nil {
		return []Contribution{}, apperrors.NewExplainabilityError(err)
	}

	var names []string
	if bundle.Transformer != nil {
		names = bundle.Transformer.FeatureNames()
	}
	ranked := rankContributions(weights, names, TopContributions)
	if ranked == nil {
		ranked = []Contribution{}
	}
	return ranked, nil
}
