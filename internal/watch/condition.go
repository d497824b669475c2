package watch

import (
	"strconv"
	"strings"
)

// evalCondition evaluates a rule condition string against a feed sample.
//
// Supported expressions (field operator value):
//
//	indicator_count == 0
//	indicator_count < 100
//	consecutive_failures >= 3
//	cycle_age_seconds > 172800
//	cert_days_left < 14
//	state == failing
//	state == stale
//
// Returns (fires bool, triggering value float64).
// Returns (false, 0) if the expression cannot be parsed or the field is
// unknown.
func evalCondition(cond string, s Sample) (bool, float64) {
	parts := strings.Fields(cond)
	if len(parts) != 3 {
		return false, 0
	}
	field, op, rhs := parts[0], parts[1], parts[2]

	switch field {
	case "state":
		if op == "==" {
			return s.State == rhs, 0
		}
		return false, 0

	case "cert_days_left":
		if s.Cert == nil {
			return false, 0
		}
		threshold, err := strconv.ParseFloat(rhs, 64)
		if err != nil {
			return false, 0
		}
		v := float64(s.Cert.DaysLeft)
		return compareFloat(v, op, threshold), v

	default:
		v, ok := numericField(field, s)
		if !ok {
			return false, 0
		}
		threshold, err := strconv.ParseFloat(rhs, 64)
		if err != nil {
			return false, 0
		}
		return compareFloat(v, op, threshold), v
	}
}

// numericField maps a field name to its value in the sample.
func numericField(field string, s Sample) (float64, bool) {
	switch field {
	case "indicator_count":
		return float64(s.Indicators), true
	case "consecutive_failures":
		return float64(s.ConsecutiveFailures), true
	case "cycle_age_seconds":
		return s.CycleAge.Seconds(), true
	default:
		return 0, false
	}
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	default:
		return false
	}
}
