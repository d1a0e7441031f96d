package decision

import (
	"fmt"
	"sort"
)

// Calibrator maps a raw model score to a probability. Implementations are monotone non-decreasing.
type Calibrator interface {
	Apply(raw float64) (float64, error)
	Kind() string
}

// LoadCalibrator decodes a calibrator document, choosing the variant from its format field
func LoadCalibrator(data []byte) (Calibrator, error) {
	if artifactFormat(data) != formatJSON {
		return nil, fmt.Errorf("calibrator must be a JSON document")
	}

	var envelope struct {
		Format string `json:"format"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode calibrator: %w", err)
	}

	switch envelope.Format {
	case "isotonic":
		var c IsotonicCalibrator
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("failed to decode isotonic calibrator: %w", err)
		}
		if err := c.validate(); err != nil {
			return nil, err
		}
		return &c, nil
	case "sigmoid":
		var c SigmoidCalibrator
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("failed to decode sigmoid calibrator: %w", err)
		}
		if !finite(c.Slope) || !finite(c.Intercept) || c.Slope <= 0 {
			return nil, fmt.Errorf("sigmoid calibrator needs a finite positive slope, got %v", c.Slope)
		}
		return &c, nil
	default:
		return nil, fmt.Errorf("unsupported calibrator format %q", envelope.Format)
	}
}

// IsotonicCalibrator interpolates linearly between fitted thresholds and clips outside them
type IsotonicCalibrator struct {
	X []float64 `json:"x_thresholds"`
	Y []float64 `json:"y_thresholds"`
}

func (c *IsotonicCalibrator) validate() error {
	if len(c.X) == 0 || len(c.X) != len(c.Y) {
		return fmt.Errorf("isotonic calibrator needs matching non-empty thresholds, got %d and %d", len(c.X), len(c.Y))
	}
	for i := range c.X {
		if !finite(c.X[i]) || !finite(c.Y[i]) {
			return fmt.Errorf("threshold %d is not finite", i)
		}
		if i > 0 && (c.X[i] < c.X[i-1] || c.Y[i] < c.Y[i-1]) {
			return fmt.Errorf("thresholds are not monotone at index %d", i)
		}
	}
	return nil
}

func (c *IsotonicCalibrator) Kind() string { return "isotonic" }

func (c *IsotonicCalibrator) Apply(raw float64) (float64, error) {
	if !finite(raw) {
		return 0, fmt.Errorf("cannot calibrate non-finite score %v", raw)
	}

	n := len(c.X)
	j := sort.Search(n, func(i int) bool { return c.X[i] > raw })
	switch {
	case j == 0:
		return c.Y[0], nil
	case j == n:
		return c.Y[n-1], nil
	}

	x0, x1 := c.X[j-1], c.X[j]
	y0, y1 := c.Y[j-1], c.Y[j]
	return y0 + (raw-x0)*(y1-y0)/(x1-x0), nil
}

// SigmoidCalibrator is Platt scaling: sigmoid(slope*raw + intercept)
type SigmoidCalibrator struct {
	Slope     float64 `json:"slope"`
	Intercept float64 `json:"intercept"`
}

func (c *SigmoidCalibrator) Kind() string { return "sigmoid" }

func (c *SigmoidCalibrator) Apply(raw float64) (float64, error) {
	if !finite(raw) {
		return 0, fmt.Errorf("cannot calibrate non-finite score %v", raw)
	}
	return sigmoid(c.Slope*raw + c.Intercept), nil
}
