package registry

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Options reads typed values out of a source's option map. YAML and JSON
// decoders disagree on numeric types, so every getter accepts ints, floats
// and numeric strings.
type Options map[string]any

// Float stores the float option key into dst when present.
func (o Options) Float(key string, dst *float64) error {
	v, ok := o[key]
	if !ok {
		return nil
	}
	f, err := toFloat(v)
	if err != nil {
		return fmt.Errorf("option %s: %w", key, err)
	}
	*dst = f
	return nil
}

// Unit is Float restricted to [0,1].
func (o Options) Unit(key string, dst *float64) error {
	v := *dst
	if err := o.Float(key, &v); err != nil {
		return err
	}
	if v < 0 || v > 1 {
		return fmt.Errorf("option %s: %v outside [0,1]", key, v)
	}
	*dst = v
	return nil
}

// Int stores the integer option key into dst when present. Negative values
// are rejected.
func (o Options) Int(key string, dst *int) error {
	v, ok := o[key]
	if !ok {
		return nil
	}
	f, err := toFloat(v)
	if err != nil {
		return fmt.Errorf("option %s: %w", key, err)
	}
	if f != float64(int(f)) || f < 0 {
		return fmt.Errorf("option %s: %v is not a non-negative integer", key, v)
	}
	*dst = int(f)
	return nil
}

// Ints reads a list of integers.
func (o Options) Ints(key string) ([]int, error) {
	v, ok := o[key]
	if !ok {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		if ints, ok := v.([]int); ok {
			return ints, nil
		}
		return nil, fmt.Errorf("option %s: expected a list, got %T", key, v)
	}
	out := make([]int, 0, len(list))
	for _, item := range list {
		f, err := toFloat(item)
		if err != nil {
			return nil, fmt.Errorf("option %s: %w", key, err)
		}
		out = append(out, int(f))
	}
	return out, nil
}

// String stores the string option key into dst when present.
func (o Options) String(key string, dst *string) error {
	v, ok := o[key]
	if !ok {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		return fmt.Errorf("option %s: expected a string, got %T", key, v)
	}
	*dst = s
	return nil
}

// Duration parses a duration option ("5s", "250ms"). Bare numbers are
// seconds.
func (o Options) Duration(key string, dst *time.Duration) error {
	v, ok := o[key]
	if !ok {
		return nil
	}
	var d time.Duration
	if s, isString := v.(string); isString {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("option %s: %w", key, err)
		}
		d = parsed
	} else {
		f, err := toFloat(v)
		if err != nil {
			return fmt.Errorf("option %s: %w", key, err)
		}
		d = time.Duration(f * float64(time.Second))
	}
	if d <= 0 {
		return fmt.Errorf("option %s: must be positive", key)
	}
	*dst = d
	return nil
}

// Strings reads a list of strings.
func (o Options) Strings(key string) ([]string, error) {
	v, ok := o[key]
	if !ok {
		return nil, nil
	}
	switch list := v.(type) {
	case []string:
		return list, nil
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("option %s: expected strings, got %T", key, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("option %s: expected a list, got %T", key, v)
	}
}

// StringMap reads a string-to-string map, e.g. HTTP headers.
func (o Options) StringMap(key string) (map[string]string, error) {
	v, ok := o[key]
	if !ok {
		return nil, nil
	}
	switch m := v.(type) {
	case map[string]string:
		return m, nil
	case map[string]any:
		out := make(map[string]string, len(m))
		for k, item := range m {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("option %s.%s: expected a string, got %T", key, k, item)
			}
			out[k] = s
		}
		return out, nil
	default:
		return nil, fmt.Errorf("option %s: expected a map, got %T", key, v)
	}
}

// Unknown returns option keys not in known, sorted.
func (o Options) Unknown(known ...string) []string {
	var out []string
	for k := range o {
		found := false
		for _, want := range known {
			if k == want {
				found = true
				break
			}
		}
		if !found {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Check fails when the map carries options outside known.
func (o Options) Check(known ...string) error {
	if unknown := o.Unknown(known...); len(unknown) > 0 {
		return fmt.Errorf("unknown options: %s", strings.Join(unknown, ", "))
	}
	return nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(n), 64)
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
}
