// Package value holds the read-time value objects produced by entity repositories.
package value

import (
	"encoding/json"
	"strings"
)

// Kind discriminates the concrete Value types.
type Kind string

const (
	KindColumn       Kind = "column"
	KindJunction     Kind = "junction"
	KindJunctionList Kind = "junction_list"
)

// Value is one resolved column of a record.
type Value interface {
	Kind() Kind
	// Scalar returns the display value: the column value, the junction value,
	// or the list of junction values.
	Scalar() any
}

// Column is a field identifier with its scalar or decoded array value.
type Column struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// NewColumn keeps raw as-is.
func NewColumn(name string, raw any) Column {
	return Column{Name: name, Value: raw}
}

// NewArrayColumn decodes raw as a JSON array when it is a string in array form.
// Values that do not decode are kept unchanged.
func NewArrayColumn(name string, raw any) Column {
	return Column{Name: name, Value: DecodeArray(raw)}
}

func (c Column) Kind() Kind  { return KindColumn }
func (c Column) Scalar() any { return c.Value }

// IsEmpty reports whether the column holds no value.
func (c Column) IsEmpty() bool {
	if c.Value == nil {
		return true
	}
	if s, ok := c.Value.(string); ok {
		return s == ""
	}
	return false
}

// Junction is a resolved single reference to a record of another entity.
type Junction struct {
	Entity     string `json:"entity"`
	Source     string `json:"source"`
	PrimaryKey int64  `json:"pk"`
	Value      Column `json:"value"`
	Exposed    Column `json:"exposed"`
	Slug       Column `json:"slug"`
}

func (j Junction) Kind() Kind  { return KindJunction }
func (j Junction) Scalar() any { return j.Value.Value }

// ExposedValue returns the referenced record's display representation.
func (j Junction) ExposedValue() any { return j.Exposed.Value }

// SlugValue returns the referenced record's slug.
func (j Junction) SlugValue() any { return j.Slug.Value }

// JunctionList is an ordered set of junctions for a multi-valued reference.
type JunctionList struct {
	Entity    string     `json:"entity"`
	Source    string     `json:"source"`
	Junctions []Junction `json:"junctions"`
}

func (l JunctionList) Kind() Kind { return KindJunctionList }

func (l JunctionList) Scalar() any {
	out := make([]any, 0, len(l.Junctions))
	for _, j := range l.Junctions {
		out = append(out, j.Value.Value)
	}
	return out
}

// PrimaryKeys returns the referenced keys in stored order.
func (l JunctionList) PrimaryKeys() []int64 {
	out := make([]int64, 0, len(l.Junctions))
	for _, j := range l.Junctions {
		out = append(out, j.PrimaryKey)
	}
	return out
}

// Reference points from a record to the related records of an aggregate source.
type Reference struct {
	Source string `json:"source"`
	Entity string `json:"entity"`
	Value  any    `json:"value"`
}

// DecodeArray returns the decoded slice when raw is a JSON array, raw otherwise.
func DecodeArray(raw any) any {
	var data []byte
	switch t := raw.(type) {
	case string:
		if !strings.HasPrefix(strings.TrimSpace(t), "[") {
			return raw
		}
		data = []byte(t)
	case []byte:
		data = t
	case []any:
		return t
	default:
		return raw
	}
	var out []any
	if err := json.Unmarshal(data, &out); err != nil {
		return raw
	}
	return out
}
