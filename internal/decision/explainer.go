package decision

import (
	"fmt"
	"math"
	"sort"

	"github.com/samber/lo"
)

// Explainer computes one signed contribution per input column for a single vector
type Explainer interface {
	Contributions(vec FeatureVector) ([]float64, error)
	Kind() string
}

// LoadExplainer builds a TreePathExplainer from a LightGBM text dump or a LinearExplainer
// from a JSON document
func LoadExplainer(data []byte) (Explainer, error) {
	switch artifactFormat(data) {
	case formatLightGBM:
		model, err := ParseLightGBM(data)
		if err != nil {
			return nil, err
		}
		return &TreePathExplainer{model: model}, nil
	case formatJSON:
		var e LinearExplainer
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("failed to decode explainer: %w", err)
		}
		if e.Format != "linear" {
			return nil, fmt.Errorf("unsupported explainer format %q", e.Format)
		}
		if len(e.Coefficients) == 0 {
			return nil, fmt.Errorf("linear explainer has no coefficients")
		}
		if len(e.Baseline) != 0 && len(e.Baseline) != len(e.Coefficients) {
			return nil, fmt.Errorf("baseline has %d values, coefficients %d", len(e.Baseline), len(e.Coefficients))
		}
		return &e, nil
	default:
		return nil, fmt.Errorf("unrecognized explainer artifact format")
	}
}

// TreePathExplainer attributes a tree ensemble's margin along each decision path
type TreePathExplainer struct {
	model *GradientBoostedTreeModel
}

func (e *TreePathExplainer) Kind() string { return "tree_path" }

func (e *TreePathExplainer) Contributions(vec FeatureVector) ([]float64, error) {
	_, contributions, err := e.model.PathContributions(vec)
	return contributions, err
}

// LinearExplainer scores coef_i * (x_i - baseline_i)
type LinearExplainer struct {
	Format       string    `json:"format"`
	Coefficients []float64 `json:"coefficients"`
	Baseline     []float64 `json:"baseline,omitempty"`
}

func (e *LinearExplainer) Kind() string { return "linear" }

func (e *LinearExplainer) Contributions(vec FeatureVector) ([]float64, error) {
	if len(vec) != len(e.Coefficients) {
		return nil, fmt.Errorf("explainer expects %d features, got %d", len(e.Coefficients), len(vec))
	}

	out := make([]float64, len(vec))
	for i, w := range e.Coefficients {
		x := vec[i]
		if len(e.Baseline) > 0 {
			x -= e.Baseline[i]
		}
		out[i] = w * x
	}
	return out, nil
}

// rankContributions names each weight and keeps the k largest by magnitude, sign preserved.
// Ties keep column order. Names fall back to f<i> when they do not line up with the weights.
func rankContributions(weights []float64, names []string, k int) []Contribution {
	if len(names) != len(weights) {
		names = nil
	}

	ranked := lo.FilterMap(weights, func(w float64, i int) (Contribution, bool) {
		if !finite(w) {
			return Contribution{}, false
		}
		name := fmt.Sprintf("f%d", i)
		if names != nil {
			name = names[i]
		}
		return Contribution{Name: name, Weight: w}, true
	})

	sort.SliceStable(ranked, func(i, j int) bool {
		return math.Abs(ranked[i].Weight) > math.Abs(ranked[j].Weight)
	})

	if len(ranked) > k {
		ranked = ranked[:k]
	}
	return ranked
}
