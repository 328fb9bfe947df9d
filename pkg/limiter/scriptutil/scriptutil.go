// Package scriptutil holds the small result-conversion helper shared by
// every algorithm package's remote AtomicAction: go-redis returns Lua
// script results as []interface{}, and every script here returns a flat
// tuple of numbers (occasionally stringified, to dodge the integer/float
// truncation a raw Lua number reply can suffer in the Redis protocol).
package scriptutil

import (
	"fmt"
	"strconv"
)

// ToFloatSlice converts a go-redis script result (as returned by
// Script.Run(...).Result()) into a []float64, accepting both numeric and
// string-encoded elements.
func ToFloatSlice(res interface{}) ([]float64, error) {
	raw, ok := res.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected script result type %T", res)
	}
	out := make([]float64, len(raw))
	for i, v := range raw {
		switch t := v.(type) {
		case int64:
			out[i] = float64(t)
		case float64:
			out[i] = t
		case string:
			f, err := strconv.ParseFloat(t, 64)
			if err != nil {
				return nil, fmt.Errorf("script result[%d] %q is not numeric: %w", i, t, err)
			}
			out[i] = f
		default:
			return nil, fmt.Errorf("script result[%d] has unsupported type %T", i, v)
		}
	}
	return out, nil
}

// ToArgs converts positional float64 arguments into the []interface{}
// shape go-redis's Script.Run expects.
func ToArgs(args ...float64) []interface{} {
	out := make([]interface{}, len(args))
	for i, a := range args {
		out[i] = a
	}
	return out
}
