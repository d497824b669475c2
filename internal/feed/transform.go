package feed

import "strings"

// Transformer converts one normalized feed line into an indicator and its
// feed-supplied attributes. Implementations may parse structured lines;
// ok=false skips the line.
type Transformer interface {
	Transform(line string) (indicator string, attrs map[string]any, ok bool)
}

// staticTransformer is the default line transform: the indicator is the
// first whitespace-delimited field and the attributes are a fresh copy of
// the feed's static attribute map.
type staticTransformer struct {
	attrs map[string]any
}

// NewStaticTransformer returns the default Transformer carrying the given
// static attribute map. Mutating attrs after this call does not affect
// records already produced.
func NewStaticTransformer(attrs map[string]any) Transformer {
	return &staticTransformer{attrs: attrs}
}

func (t *staticTransformer) Transform(line string) (string, map[string]any, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil, false
	}
	return fields[0], copyValue(t.attrs).(map[string]any), true
}

// copyValue deep-copies the map/slice/scalar shapes JSON-style attribute
// maps are made of, so each record owns its attributes.
func copyValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = copyValue(e)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}
