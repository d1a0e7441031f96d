package decision

import (
	"bytes"
	"fmt"
)

// Model produces a raw score for one feature vector
type Model interface {
	Infer(vec FeatureVector) (float64, error)
	NumFeatures() int
	Kind() string
}

const (
	KindGradientBoostedTrees = "gradient_boosted_trees"
	KindGenericSerialized    = "generic_serialized"
)

// LoadModel picks the model variant from the artifact content: a LightGBM text dump
// becomes a GradientBoostedTreeModel, a JSON document a GenericSerializedModel.
func LoadModel(data []byte) (Model, error) {
	switch artifactFormat(data) {
	case formatLightGBM:
		return ParseLightGBM(data)
	case formatJSON:
		return parseGenericModel(data)
	default:
		return nil, fmt.Errorf("unrecognized model artifact format")
	}
}

const (
	formatUnknown = iota
	formatLightGBM
	formatJSON
)

func artifactFormat(data []byte) int {
	trimmed := bytes.TrimSpace(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf")))
	switch {
	case len(trimmed) == 0:
		return formatUnknown
	case trimmed[0] == '{':
		return formatJSON
	case bytes.HasPrefix(trimmed, []byte("tree")):
		return formatLightGBM
	default:
		return formatUnknown
	}
}

// GenericSerializedModel is a linear model exported as JSON. With the logit link the raw
// score is sigmoid(w·x + b), matching a fitted logistic regression's positive-class probability.
type GenericSerializedModel struct {
	Format       string    `json:"format"`
	Link         string    `json:"link,omitempty"`
	Coefficients []float64 `json:"coefficients"`
	Intercept    float64   `json:"intercept"`
}

const (
	linkLogit    = "logit"
	linkIdentity = "identity"
)

func parseGenericModel(data []byte) (*GenericSerializedModel, error) {
	var m GenericSerializedModel
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode model: %w", err)
	}

	switch m.Format {
	case "logistic":
		if m.Link == "" {
			m.Link = linkLogit
		}
	case "linear":
		if m.Link == "" {
			m.Link = linkIdentity
		}
	default:
		return nil, fmt.Errorf("unsupported model format %q", m.Format)
	}

	if m.Link != linkLogit && m.Link != linkIdentity {
		return nil, fmt.Errorf("unsupported link %q", m.Link)
	}
	if len(m.Coefficients) == 0 {
		return nil, fmt.Errorf("model has no coefficients")
	}
	for i, c := range m.Coefficients {
		if !finite(c) {
			return nil, fmt.Errorf("coefficient %d is not finite", i)
		}
	}
	return &m, nil
}

func (m *GenericSerializedModel) NumFeatures() int { return len(m.Coefficients) }

func (m *GenericSerializedModel) Kind() string { return KindGenericSerialized }

func (m *GenericSerializedModel) Infer(vec FeatureVector) (float64, error) {
	if len(vec) != len(m.Coefficients) {
		return 0, fmt.Errorf("model expects %d features, got %d", len(m.Coefficients), len(vec))
	}

	z := m.Intercept
	for i, w := range m.Coefficients {
		z += w * vec[i]
	}

	if m.Link == linkLogit {
		return sigmoid(z), nil
	}
	return z, nil
}
