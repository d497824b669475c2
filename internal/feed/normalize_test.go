package feed

import (
	"testing"

	"github.com/feedrelay/feedrelay/internal/config"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		feed config.Feed
		line string
		want string
		ok   bool
	}{
		{"plain", config.Feed{}, "198.51.100.1", "198.51.100.1", true},
		{"trims whitespace", config.Feed{}, "  198.51.100.1\t", "198.51.100.1", true},
		{"blank", config.Feed{}, "   ", "", false},
		{"empty", config.Feed{}, "", "", false},
		{"comment", config.Feed{CChar: ";"}, "; Spamhaus DROP List", "", false},
		{"comment after trim", config.Feed{CChar: "#"}, "   # header", "", false},
		{"not a comment without cchar", config.Feed{}, "; kept verbatim", "; kept verbatim", true},
		{"split keeps selected field", config.Feed{SplitChar: ";", SplitPos: 0}, "198.51.100.0/24 ; SBL123", "198.51.100.0/24", true},
		{"split second field", config.Feed{SplitChar: ",", SplitPos: 1}, "zeus,198.51.100.7,c2", "198.51.100.7", true},
		{"split position out of range", config.Feed{SplitChar: ",", SplitPos: 3}, "a,b", "", false},
		{"split to empty field", config.Feed{SplitChar: ",", SplitPos: 1}, "a,   ,c", "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := NewNormalizer(tc.feed).Normalize(tc.line)
			if ok != tc.ok {
				t.Fatalf("ok: got %v, want %v", ok, tc.ok)
			}
			if got != tc.want {
				t.Errorf("line: got %q, want %q", got, tc.want)
			}
		})
	}
}
