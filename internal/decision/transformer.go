package decision

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	apperrors "github.com/ZanzyTHEbar/loan-decision/internal/errors"
)

const (
	transformerFormat = "column_transformer"

	UnknownIgnore = "ignore"
	UnknownBucket = "bucket"
)

const transformerSchema = `{
  "type": "object",
  "required": ["format", "numeric", "categorical"],
  "properties": {
    "format": {"enum": ["column_transformer"]},
    "version": {"type": "string"},
    "numeric": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "mean", "scale"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "mean": {"type": "number"},
          "scale": {"type": "number"},
          "fill": {"type": "number"}
        }
      }
    },
    "categorical": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "categories"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "categories": {"type": "array", "items": {"type": "string"}},
          "handle_unknown": {"enum": ["ignore", "bucket"]}
        }
      }
    }
  }
}`

// NumericColumn is standardized with statistics frozen when the transformer was fitted
type NumericColumn struct {
	Name  string   `json:"name"`
	Mean  float64  `json:"mean"`
	Scale float64  `json:"scale"`
	Fill  *float64 `json:"fill,omitempty"`
}

// CategoricalColumn is one-hot encoded over a fixed vocabulary
type CategoricalColumn struct {
	Name          string   `json:"name"`
	Categories    []string `json:"categories"`
	HandleUnknown string   `json:"handle_unknown,omitempty"`
}

// Transformer maps a Profile to a FeatureVector. Output order is every numeric column,
// then each categorical column's categories, followed by its unknown bucket when enabled.
type Transformer struct {
	Format      string              `json:"format"`
	Version     string              `json:"version,omitempty"`
	Numeric     []NumericColumn     `json:"numeric"`
	Categorical []CategoricalColumn `json:"categorical"`

	names   []string
	offsets []int
	lookup  []map[string]int
}

// ParseTransformer validates and decodes a transformer document
func ParseTransformer(data []byte) (*Transformer, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(transformerSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid transformer document: %w", err)
	}
	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, e := range result.Errors() {
			errs[i] = e.String()
		}
		return nil, fmt.Errorf("transformer schema validation failed: %s", strings.Join(errs, "; "))
	}

	var t Transformer
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to decode transformer: %w", err)
	}

	if err := t.build(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *Transformer) build() error {
	seen := make(map[string]bool)
	claim := func(name string) error {
		if seen[name] {
			return fmt.Errorf("duplicate column %q", name)
		}
		seen[name] = true
		return nil
	}

	t.names = t.names[:0]
	for i := range t.Numeric {
		col := &t.Numeric[i]
		if err := claim(col.Name); err != nil {
			return err
		}
		if col.Scale == 0 {
			col.Scale = 1
		}
		t.names = append(t.names, col.Name)
	}

	t.offsets = make([]int, len(t.Categorical))
	t.lookup = make([]map[string]int, len(t.Categorical))
	for i := range t.Categorical {
		col := &t.Categorical[i]
		if err := claim(col.Name); err != nil {
			return err
		}
		if col.HandleUnknown == "" {
			col.HandleUnknown = UnknownIgnore
		}

		t.offsets[i] = len(t.names)
		t.lookup[i] = make(map[string]int, len(col.Categories))
		for j, category := range col.Categories {
			if _, dup := t.lookup[i][category]; dup {
				return fmt.Errorf("duplicate category %q in column %q", category, col.Name)
			}
			t.lookup[i][category] = j
			t.names = append(t.names, col.Name+"_"+category)
		}
		if col.HandleUnknown == UnknownBucket {
			t.names = append(t.names, col.Name+"_unknown")
		}
	}

	if len(t.names) == 0 {
		return fmt.Errorf("transformer declares no columns")
	}
	return nil
}

// Width is the length of every FeatureVector this transformer produces
func (t *Transformer) Width() int {
	return len(t.names)
}

// FeatureNames returns the output column names in vector order
func (t *Transformer) FeatureNames() []string {
	out := make([]string, len(t.names))
	copy(out, t.names)
	return out
}

// Materialize encodes a profile. Missing keys never fail; only values of the wrong shape
// for their column produce a feature mismatch.
func (t *Transformer) Materialize(profile Profile) (FeatureVector, error) {
	vec := make(FeatureVector, len(t.names))

	for i, col := range t.Numeric {
		value, present, err := toFloat(profile[col.Name])
		if err != nil {
			return nil, apperrors.NewFeatureMismatchError(
				fmt.Sprintf("column %q expects a number", col.Name), err)
		}
		if !present {
			value = col.Mean
			if col.Fill != nil {
				value = *col.Fill
			}
		}
		vec[i] = (value - col.Mean) / col.Scale
	}

	for i, col := range t.Categorical {
		label, present, err := toCategory(profile[col.Name])
		if err != nil {
			return nil, apperrors.NewFeatureMismatchError(
				fmt.Sprintf("column %q expects a category", col.Name), err)
		}

		if j, known := t.lookup[i][label]; present && known {
			vec[t.offsets[i]+j] = 1
			continue
		}
		if col.HandleUnknown == UnknownBucket {
			vec[t.offsets[i]+len(col.Categories)] = 1
		}
	}

	return vec, nil
}
