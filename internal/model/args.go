package model

import (
	"fmt"
	"math"
)

// makeDivisible rounds x up to the nearest multiple of divisor.
func makeDivisible(x float64, divisor int) int {
	return int(math.Ceil(x/float64(divisor))) * divisor
}

// scaleDepth applies the depth multiple to a repeat count.
// Counts of 1 are kept; larger counts never drop below 1.
func scaleDepth(n int, depth float64) int {
	if n <= 1 {
		return n
	}
	return max(int(math.RoundToEven(float64(n)*depth)), 1)
}

// resolveArg replaces symbolic arguments: "nc" becomes the class count and
// "None" becomes nil.
func resolveArg(v any, nc int) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	switch s {
	case "nc":
		return nc
	case "None", "none", "null":
		return nil
	}
	return s
}

func argInt(args []any, i, def int) (int, error) {
	if i >= len(args) || args[i] == nil {
		return def, nil
	}
	switch v := args[i].(type) {
	case int:
		return v, nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("argument %d: expected integer, got %v", i, v)
		}
		return int(v), nil
	default:
		return 0, fmt.Errorf("argument %d: expected integer, got %T", i, v)
	}
}

func argFloat(args []any, i int, def float64) (float64, error) {
	if i >= len(args) || args[i] == nil {
		return def, nil
	}
	switch v := args[i].(type) {
	case int:
		return float64(v), nil
	case float64:
		return v, nil
	default:
		return 0, fmt.Errorf("argument %d: expected number, got %T", i, v)
	}
}

func argBool(args []any, i int, def bool) (bool, error) {
	if i >= len(args) || args[i] == nil {
		return def, nil
	}
	v, ok := args[i].(bool)
	if !ok {
		return false, fmt.Errorf("argument %d: expected bool, got %T", i, args[i])
	}
	return v, nil
}

func argString(args []any, i int, def string) (string, error) {
	if i >= len(args) || args[i] == nil {
		return def, nil
	}
	v, ok := args[i].(string)
	if !ok {
		return "", fmt.Errorf("argument %d: expected string, got %T", i, args[i])
	}
	return v, nil
}
