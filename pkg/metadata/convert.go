package metadata

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ListSeparator joins list values before they are written to a vector store.
const ListSeparator = ", "

// Flatten converts metadata into primitive values accepted by every vector
// store: lists become ListSeparator-joined strings, times become RFC 3339
// strings, and anything else non-primitive is rendered with fmt.
func Flatten(md map[string]any) map[string]any {
	out := make(map[string]any, len(md))
	for k, v := range md {
		switch val := v.(type) {
		case nil:
			continue
		case string, bool, int, int32, int64, float32, float64:
			out[k] = val
		case []string:
			out[k] = strings.Join(val, ListSeparator)
		case []any:
			parts := make([]string, len(val))
			for i, p := range val {
				parts[i] = fmt.Sprint(p)
			}
			out[k] = strings.Join(parts, ListSeparator)
		case time.Time:
			out[k] = val.UTC().Format(time.RFC3339Nano)
		case *time.Time:
			if val != nil {
				out[k] = val.UTC().Format(time.RFC3339Nano)
			}
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}

// String returns v as a string when it holds one.
func String(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// Int converts numeric metadata read back from a store. Stores disagree on
// number types (JSON gives float64, chromem gives strings), so all of them
// are accepted as long as the value is integral.
func Int(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float32:
		if float64(n) == math.Trunc(float64(n)) {
			return int(n), true
		}
	case float64:
		if n == math.Trunc(n) {
			return int(n), true
		}
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	}
	return 0, false
}

// Float converts numeric metadata to float64.
func Float(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// StringList accepts native lists as well as flattened, separator-joined
// strings.
func StringList(v any) ([]string, bool) {
	switch l := v.(type) {
	case []string:
		return l, true
	case []any:
		out := make([]string, 0, len(l))
		for _, item := range l {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	case string:
		if strings.TrimSpace(l) == "" {
			return []string{}, true
		}
		parts := strings.Split(l, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out, true
	}
	return nil, false
}
