package delta

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidMetric is returned when a counter cannot be read as an integer.
var ErrInvalidMetric = errors.New("delta: invalid metric")

// Coerce converts a counter as it appears in an API payload to int64.
// nil and the empty string are 0. Strings may carry thousands separators
// ("1,234"). Floats are truncated toward zero.
func Coerce(v any) (int64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint:
		return fromUint(uint64(n))
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		return fromUint(n)
	case float32:
		return fromFloat(float64(n))
	case float64:
		return fromFloat(n)
	case json.Number:
		return fromString(string(n))
	case string:
		return fromString(n)
	case *int64:
		if n == nil {
			return 0, nil
		}
		return *n, nil
	default:
		return 0, fmt.Errorf("%w: unsupported type %T", ErrInvalidMetric, v)
	}
}

func fromUint(n uint64) (int64, error) {
	if n > math.MaxInt64 {
		return 0, fmt.Errorf("%w: %d overflows int64", ErrInvalidMetric, n)
	}
	return int64(n), nil
}

func fromFloat(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidMetric, f)
	}
	return int64(f), nil
}

func fromString(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	clean := strings.NewReplacer(",", "", "_", "", " ", "").Replace(s)
	if n, err := strconv.ParseInt(clean, 10, 64); err == nil {
		return n, nil
	}
	if f, err := strconv.ParseFloat(clean, 64); err == nil {
		return fromFloat(f)
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidMetric, s)
}

// Diff coerces both counters and returns current minus previous.
func Diff(current, previous any) (int64, error) {
	c, err := Coerce(current)
	if err != nil {
		return 0, err
	}
	p, err := Coerce(previous)
	if err != nil {
		return 0, err
	}
	return c - p, nil
}
