package feed

import (
	"strings"

	"github.com/feedrelay/feedrelay/internal/config"
)

// Normalizer applies the per-feed line filter: whitespace trimming,
// comment skipping and optional field selection. It turns raw feed lines
// into candidate indicator tokens.
type Normalizer struct {
	comment   string
	splitChar string
	splitPos  int
}

// NewNormalizer builds a Normalizer from the feed's cchar, split_char and
// split_pos settings.
func NewNormalizer(feed config.Feed) *Normalizer {
	return &Normalizer{
		comment:   feed.CChar,
		splitChar: feed.SplitChar,
		splitPos:  feed.SplitPos,
	}
}

// Normalize filters and reduces one raw line. It reports ok=false for
// lines that produce no candidate: blank lines, comments, and split
// selections out of range.
func (n *Normalizer) Normalize(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", false
	}
	if n.comment != "" && strings.HasPrefix(line, n.comment) {
		return "", false
	}
	if n.splitChar != "" {
		fields := strings.Split(line, n.splitChar)
		if n.splitPos >= len(fields) {
			return "", false
		}
		line = strings.TrimSpace(fields[n.splitPos])
		if line == "" {
			return "", false
		}
	}
	return line, true
}
