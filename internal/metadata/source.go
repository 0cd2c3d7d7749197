package metadata

import (
	"strings"

	"unchained/internal/core/apperror"
)

// Function is the aggregate computed by a source instead of a join.
type Function string

const (
	FunctionNone      Function = ""
	FunctionCount     Function = "count"
	FunctionCountIn   Function = "count_in"
	FunctionFindIn    Function = "find_in"
	FunctionFindInMax Function = "find_in_max"
)

// JoinKind is the SQL join used for a plain source.
type JoinKind string

const (
	JoinDefault JoinKind = ""
	JoinInner   JoinKind = "inner"
	JoinLeft    JoinKind = "left"
	JoinRight   JoinKind = "right"
)

// Cardinality declares whether a source column holds one key or a JSON list of keys.
type Cardinality string

const (
	CardinalitySingle   Cardinality = "single"
	CardinalityMultiple Cardinality = "multiple"
)

// Source is a normalized relation from an entity to a target entity.
//
// Column lives on the target table, ForeignColumn on the owning table. A plain
// source joins target.Column = owner.ForeignColumn.
type Source struct {
	Alias         string      `json:"alias"`
	Entity        string      `json:"entity"`
	Fields        []string    `json:"fields"`
	Function      Function    `json:"function,omitempty"`
	JoinSource    string      `json:"join_source,omitempty"`
	Join          JoinKind    `json:"join,omitempty"`
	Pointer       string      `json:"pointer"`
	Column        string      `json:"column"`
	ForeignColumn string      `json:"foreign_column"`
	Cardinality   Cardinality `json:"cardinality"`
}

// IsAggregate reports whether the source is resolved by a correlated subquery.
func (s *Source) IsAggregate() bool {
	return s.Function != FunctionNone
}

// IsMultiple reports whether the source column stores a list of keys.
func (s *Source) IsMultiple() bool {
	return s.Cardinality == CardinalityMultiple
}

// NewSource normalizes the raw source alias of entity entityID.
func NewSource(entityID, alias string, raw RawSource) (*Source, error) {
	if raw.Entity == "" {
		return nil, apperror.NewConfigurationf("source <%s> of %s names no application", alias, entityID)
	}
	s := &Source{
		Alias:       alias,
		Entity:      raw.Entity,
		Fields:      append([]string(nil), raw.Fields...),
		Function:    Function(strings.ToLower(raw.Function)),
		JoinSource:  raw.JoinSource,
		Join:        JoinKind(strings.ToLower(raw.Join)),
		Pointer:     raw.Pointer,
		Cardinality: Cardinality(strings.ToLower(raw.Cardinality)),
	}
	switch s.Function {
	case FunctionNone, FunctionCount, FunctionCountIn, FunctionFindIn, FunctionFindInMax:
	default:
		return nil, apperror.NewConfigurationf("unknown function %q for source <%s> of %s", raw.Function, alias, entityID)
	}
	switch s.Join {
	case JoinDefault, JoinInner, JoinLeft, JoinRight:
	default:
		return nil, apperror.NewConfigurationf("unknown join %q for source <%s> of %s", raw.Join, alias, entityID)
	}
	switch s.Cardinality {
	case "":
		s.Cardinality = CardinalitySingle
	case CardinalitySingle, CardinalityMultiple:
	default:
		return nil, apperror.NewConfigurationf("unknown cardinality %q for source <%s> of %s", raw.Cardinality, alias, entityID)
	}
	if s.Pointer == "" {
		s.Pointer = string(ModuleDetail)
	}

	foreign := raw.ForeignColumn
	if foreign == "" {
		foreign = ForeignKey(raw.Entity)
	}
	local := raw.Column
	if local == "" {
		local = "id"
		if s.Function != FunctionNone {
			local = ForeignKey(entityID)
		}
	}
	if raw.InvertJoin {
		local, foreign = ForeignKey(entityID), "id"
	}
	s.Column, s.ForeignColumn = local, foreign
	if raw.InvertColumns {
		s.Column, s.ForeignColumn = foreign, local
	}
	return s, nil
}
