package watch

import (
	"testing"
	"time"
)

func TestEvalCondition(t *testing.T) {
	s := Sample{
		Feed:                "drop",
		State:               "failing",
		Indicators:          0,
		ConsecutiveFailures: 3,
		CycleAge:            48 * time.Hour,
		Cert:                &CertStatus{Status: "expiring", DaysLeft: 12},
	}

	tests := []struct {
		cond      string
		fires     bool
		wantValue float64
	}{
		{"indicator_count == 0", true, 0},
		{"indicator_count > 100", false, 0},
		{"consecutive_failures >= 3", true, 3},
		{"consecutive_failures > 3", false, 3},
		{"cycle_age_seconds > 86400", true, 172800},
		{"cycle_age_seconds < 86400", false, 172800},
		{"cert_days_left < 14", true, 12},
		{"cert_days_left < 7", false, 12},
		{"state == failing", true, 0},
		{"state == ok", false, 0},
		{"state != ok", false, 0},          // unsupported operator
		{"bogus_field > 1", false, 0},      // unknown field
		{"consecutive_failures >=", false, 0}, // malformed
		{"consecutive_failures >= many", false, 0},
	}
	for _, tc := range tests {
		t.Run(tc.cond, func(t *testing.T) {
			fires, value := evalCondition(tc.cond, s)
			if fires != tc.fires {
				t.Errorf("fires: got %v, want %v", fires, tc.fires)
			}
			if value != tc.wantValue {
				t.Errorf("value: got %v, want %v", value, tc.wantValue)
			}
		})
	}
}

func TestEvalCondition_CertMissing(t *testing.T) {
	fires, _ := evalCondition("cert_days_left < 14", Sample{Feed: "drop"})
	if fires {
		t.Error("cert rule fired without a certificate")
	}
}
