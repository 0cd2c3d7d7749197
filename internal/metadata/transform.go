package metadata

import (
	"fmt"
	"strconv"

	"unchained/internal/core/apperror"
	"unchained/internal/core/types"
)

// TransformerKind selects a value transformer.
type TransformerKind string

const (
	TransformDate   TransformerKind = "date"
	TransformNumber TransformerKind = "number"
	TransformText   TransformerKind = "text"
)

// Transformer post-processes values outside the form module.
type Transformer struct {
	Kind      TransformerKind
	Suffix    string
	Round     types.RoundMode
	RoundTo   string
	Scalar    string
	Precision int32
	Abbr      bool
}

// AppliesTo reports whether the transformer handles values of display type t.
func (t *Transformer) AppliesTo(dt DisplayType) bool {
	if t == nil {
		return false
	}
	switch t.Kind {
	case TransformDate:
		return dt == TypeDate || dt == TypeDateTime
	case TransformText:
		return dt == TypeText || dt == TypeVarchar
	case TransformNumber:
		return dt == TypeNumber
	}
	return false
}

// parseTransformer reads the first known transformer of the `_transform` block.
func parseTransformer(entityID, fieldID string, raw map[string]map[string]any) (*Transformer, error) {
	for _, kind := range []TransformerKind{TransformDate, TransformNumber, TransformText} {
		opts, ok := raw[string(kind)]
		if !ok {
			continue
		}
		t := &Transformer{Kind: kind, Suffix: stringOpt(opts, "suffix")}
		switch kind {
		case TransformDate:
			round, err := roundOpt(entityID, fieldID, opts, types.RoundFloor)
			if err != nil {
				return nil, err
			}
			if round == types.RoundNone {
				round = types.RoundFloor
			}
			t.Round = round
			t.RoundTo = stringOpt(opts, "round_to")
			if t.RoundTo == "" {
				t.RoundTo = "auto"
			}
			if !validRoundTo(t.RoundTo) {
				return nil, apperror.NewConfigurationf(
					"invalid option value <round_to: %q> for Field<%s.%s>; choices [auto, year, month, week, day, hour, minute]",
					t.RoundTo, entityID, fieldID)
			}
		case TransformNumber:
			round, err := roundOpt(entityID, fieldID, opts, types.RoundNone)
			if err != nil {
				return nil, err
			}
			t.Round = round
			t.Scalar = stringOpt(opts, "scalar")
			if t.Scalar == "" {
				t.Scalar = "string"
			}
			t.Precision = 2
			if p, ok := opts["round_precision"]; ok {
				n, err := strconv.Atoi(fmt.Sprint(p))
				if err != nil {
					return nil, apperror.NewConfigurationf("invalid option value <round_precision: %v> for Field<%s.%s>", p, entityID, fieldID)
				}
				t.Precision = int32(n)
			}
		case TransformText:
			t.Abbr, _ = opts["abbr"].(bool)
		}
		return t, nil
	}
	return nil, nil
}

func roundOpt(entityID, fieldID string, opts map[string]any, def types.RoundMode) (types.RoundMode, error) {
	v, ok := opts["round"]
	if !ok {
		return def, nil
	}
	mode, err := types.ParseRoundMode(v)
	if err != nil {
		return "", apperror.NewConfigurationf(
			"invalid option value <round: %q> for Field<%s.%s>; choices [ceil, floor, round]",
			fmt.Sprint(v), entityID, fieldID).WithCause(err)
	}
	return mode, nil
}

func stringOpt(opts map[string]any, key string) string {
	v, ok := opts[key]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func validRoundTo(unit string) bool {
	switch unit {
	case "auto", "year", "month", "week", "day", "hour", "minute":
		return true
	}
	return false
}
