// Package types provides numeric conversions shared by value transformers.
package types

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// RoundMode selects how a number is rounded.
type RoundMode string

const (
	RoundNone  RoundMode = ""
	RoundHalf  RoundMode = "round"
	RoundFloor RoundMode = "floor"
	RoundCeil  RoundMode = "ceil"
)

// ParseRoundMode accepts the configuration forms true, false, "round", "floor" and "ceil".
func ParseRoundMode(v any) (RoundMode, error) {
	switch t := v.(type) {
	case nil:
		return RoundNone, nil
	case bool:
		if t {
			return RoundHalf, nil
		}
		return RoundNone, nil
	case string:
		switch RoundMode(strings.ToLower(strings.TrimSpace(t))) {
		case RoundHalf:
			return RoundHalf, nil
		case RoundFloor:
			return RoundFloor, nil
		case RoundCeil:
			return RoundCeil, nil
		}
	}
	return RoundNone, fmt.Errorf("invalid round mode %v", v)
}

// ToDecimal converts a scanned or cached scalar into a decimal.
func ToDecimal(v any) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case decimal.Decimal:
		return t, true
	case int:
		return decimal.NewFromInt(int64(t)), true
	case int16:
		return decimal.NewFromInt(int64(t)), true
	case int32:
		return decimal.NewFromInt(int64(t)), true
	case int64:
		return decimal.NewFromInt(t), true
	case float32:
		return decimal.NewFromFloat32(t), true
	case float64:
		return decimal.NewFromFloat(t), true
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(t))
		return d, err == nil
	case []byte:
		d, err := decimal.NewFromString(string(t))
		return d, err == nil
	}
	return decimal.Zero, false
}

// Round applies mode at the given number of decimal places.
func Round(d decimal.Decimal, mode RoundMode, places int32) decimal.Decimal {
	switch mode {
	case RoundHalf:
		return d.Round(places)
	case RoundFloor:
		return d.RoundFloor(places)
	case RoundCeil:
		return d.RoundCeil(places)
	}
	return d
}

// IsIntegral reports whether d has no fractional part.
func IsIntegral(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(0))
}

// Cast converts d to the requested scalar kind: int, float, bool or string.
func Cast(d decimal.Decimal, scalar string) any {
	switch scalar {
	case "int", "integer":
		return d.IntPart()
	case "float", "double":
		f, _ := d.Float64()
		return f
	case "bool", "boolean":
		return !d.IsZero()
	}
	return d.String()
}

// FormatInt renders an integer the way it is stored in JSON arrays.
func FormatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}
