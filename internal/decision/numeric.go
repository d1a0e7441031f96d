package decision

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

func clip(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// toFloat coerces a profile value to a number. present is false for nil, empty strings and NaN.
// Values that cannot represent a number at all return an error.
func toFloat(v interface{}) (value float64, present bool, err error) {
	switch x := v.(type) {
	case nil:
		return 0, false, nil
	case float64:
		if math.IsNaN(x) {
			return 0, false, nil
		}
		return x, true, nil
	case float32:
		return toFloat(float64(x))
	case int:
		return float64(x), true, nil
	case int8:
		return float64(x), true, nil
	case int16:
		return float64(x), true, nil
	case int32:
		return float64(x), true, nil
	case int64:
		return float64(x), true, nil
	case uint:
		return float64(x), true, nil
	case uint8:
		return float64(x), true, nil
	case uint16:
		return float64(x), true, nil
	case uint32:
		return float64(x), true, nil
	case uint64:
		return float64(x), true, nil
	case bool:
		if x {
			return 1, true, nil
		}
		return 0, true, nil
	case interface{ Float64() (float64, error) }:
		f, err := x.Float64()
		if err != nil {
			return 0, false, err
		}
		return toFloat(f)
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, false, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false, err
		}
		return toFloat(f)
	default:
		return 0, false, &shapeError{value: v}
	}
}

// toCategory renders a profile value as a category label. present is false for nil and empty strings.
func toCategory(v interface{}) (label string, present bool, err error) {
	switch x := v.(type) {
	case nil:
		return "", false, nil
	case string:
		s := strings.TrimSpace(x)
		return s, s != "", nil
	case bool:
		return strconv.FormatBool(x), true, nil
	case []interface{}, map[string]interface{}:
		return "", false, &shapeError{value: v}
	default:
		f, ok, err := toFloat(v)
		if err != nil || !ok {
			return "", false, err
		}
		return strconv.FormatFloat(f, 'f', -1, 64), true, nil
	}
}

type shapeError struct {
	value interface{}
}

func (e *shapeError) Error() string {
	return fmt.Sprintf("unsupported value of type %T", e.value)
}
