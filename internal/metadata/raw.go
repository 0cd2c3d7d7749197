package metadata

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// RawDocument is one entity document as written on disk.
type RawDocument struct {
	Application RawEntity `yaml:"application"`
}

// RawEntity is the undecorated configuration of an entity.
type RawEntity struct {
	Label    string               `yaml:"label"`
	Public   *bool                `yaml:"public"`
	Category string               `yaml:"category"`
	Routes   map[string]string    `yaml:"routes"`
	Sources  Ordered[RawSource]   `yaml:"sources"`
	Modules  map[string]RawModule `yaml:"modules"`
	Meta     RawMeta              `yaml:"meta"`
	Sort     RawSort              `yaml:"sort"`
	Fields   Ordered[RawField]    `yaml:"fields"`
}

// RawSource declares a relation to another entity.
type RawSource struct {
	Entity        string     `yaml:"application"`
	Fields        StringList `yaml:"fields"`
	Function      string     `yaml:"function"`
	JoinSource    string     `yaml:"join_source"`
	Join          string     `yaml:"join"`
	Pointer       string     `yaml:"pointer"`
	ForeignColumn string     `yaml:"foreign_column"`
	Column        string     `yaml:"column"`
	InvertJoin    bool       `yaml:"invert_join"`
	InvertColumns bool       `yaml:"invert_columns"`
	Cardinality   string     `yaml:"cardinality"`
}

// RawModule toggles one presentation module.
type RawModule struct {
	Enabled *bool    `yaml:"enabled"`
	Public  *bool    `yaml:"public"`
	Params  []string `yaml:"params"`
}

type RawMeta struct {
	Title   string     `yaml:"title"`
	Icon    string     `yaml:"icon"`
	Exposes StringList `yaml:"exposes"`
	Slug    StringList `yaml:"slug"`
}

// RawField is the undecorated configuration of one field.
type RawField struct {
	Type          string                    `yaml:"type"`
	Label         string                    `yaml:"label"`
	Default       any                       `yaml:"default"`
	Source        RawFieldSource            `yaml:"source"`
	Pointer       RawPointer                `yaml:"pointer"`
	Required      *bool                     `yaml:"required"`
	Ignored       bool                      `yaml:"ignored"`
	Public        *bool                     `yaml:"public"`
	Dashboard     RawDashboard              `yaml:"dashboard"`
	Detail        *bool                     `yaml:"detail"`
	Length        int                       `yaml:"length"`
	Multiple      bool                      `yaml:"multiple"`
	Expanded      bool                      `yaml:"expanded"`
	Unique        bool                      `yaml:"unique"`
	LiveSearch    bool                      `yaml:"live_search"`
	Group         bool                      `yaml:"group"`
	GroupSource   string                    `yaml:"group_source"`
	Condition     string                    `yaml:"condition"`
	Options       RawOptions                `yaml:"options"`
	Min           *int64                    `yaml:"min"`
	Max           *int64                    `yaml:"max"`
	YearMin       *int                      `yaml:"year_min"`
	YearMax       *int                      `yaml:"year_max"`
	Maxlength     int                       `yaml:"maxlength"`
	Sortable      bool                      `yaml:"sortable"`
	LabelEnabled  string                    `yaml:"label_enabled"`
	LabelDisabled string                    `yaml:"label_disabled"`
	Transform     map[string]map[string]any `yaml:"_transform"`
}

// Ordered is a YAML mapping that keeps its key order.
type Ordered[T any] struct {
	Keys   []string
	Values map[string]T
}

func (o *Ordered[T]) UnmarshalYAML(node *yaml.Node) error {
	o.Keys = nil
	o.Values = make(map[string]T)
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: expected a mapping", node.Line)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		var v T
		if err := node.Content[i+1].Decode(&v); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if _, dup := o.Values[key]; !dup {
			o.Keys = append(o.Keys, key)
		}
		o.Values[key] = v
	}
	return nil
}

// Add appends key, replacing the value of an existing key in place.
func (o *Ordered[T]) Add(key string, v T) {
	if o.Values == nil {
		o.Values = make(map[string]T)
	}
	if _, ok := o.Values[key]; !ok {
		o.Keys = append(o.Keys, key)
	}
	o.Values[key] = v
}

// StringList accepts a scalar or a sequence of scalars.
type StringList []string

func (l *StringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!null" || node.Value == "" {
			*l = nil
			return nil
		}
		*l = StringList{node.Value}
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := node.Decode(&items); err != nil {
			return err
		}
		*l = items
		return nil
	}
	return fmt.Errorf("line %d: expected a string or a list", node.Line)
}

// RawFieldSource is `alias`, `alias.field` or {source, fields}.
type RawFieldSource struct {
	Alias  string
	Fields []string
}

func (s *RawFieldSource) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			return nil
		}
		alias, field, found := strings.Cut(node.Value, ".")
		s.Alias = alias
		if found && field != "" {
			s.Fields = []string{field}
		}
		return nil
	case yaml.MappingNode:
		var m struct {
			Source string     `yaml:"source"`
			Fields StringList `yaml:"fields"`
		}
		if err := node.Decode(&m); err != nil {
			return err
		}
		s.Alias, s.Fields = m.Source, m.Fields
		return nil
	}
	return fmt.Errorf("line %d: invalid source", node.Line)
}

// RawPointer is a field list or {fields, type, expression}.
type RawPointer struct {
	Set        bool
	Type       string
	Fields     []string
	Expression string
}

func (p *RawPointer) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			return nil
		}
		if node.Tag == "!!bool" {
			var b bool
			if err := node.Decode(&b); err != nil {
				return err
			}
			p.Set = b
			return nil
		}
		p.Set = node.Value != ""
		if p.Set {
			p.Fields = []string{node.Value}
		}
		return nil
	case yaml.SequenceNode:
		if err := node.Decode(&p.Fields); err != nil {
			return err
		}
		p.Set = len(p.Fields) > 0
		return nil
	case yaml.MappingNode:
		var m struct {
			Type       string     `yaml:"type"`
			Fields     StringList `yaml:"fields"`
			Expression string     `yaml:"expression"`
		}
		if err := node.Decode(&m); err != nil {
			return err
		}
		p.Set = true
		p.Type, p.Fields, p.Expression = m.Type, m.Fields, m.Expression
		return nil
	}
	return fmt.Errorf("line %d: invalid pointer", node.Line)
}

// RawDashboard is a boolean, a responsive visibility class, or {visibility}.
type RawDashboard struct {
	Hidden     bool
	Visibility string
}

func (d *RawDashboard) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			return nil
		}
		if node.Tag == "!!bool" {
			var b bool
			if err := node.Decode(&b); err != nil {
				return err
			}
			d.Hidden = !b
			return nil
		}
		d.Visibility = node.Value
		return nil
	case yaml.MappingNode:
		var m struct {
			Visibility string `yaml:"visibility"`
		}
		if err := node.Decode(&m); err != nil {
			return err
		}
		d.Visibility = m.Visibility
		return nil
	}
	return fmt.Errorf("line %d: invalid dashboard setting", node.Line)
}

// RawOptions is a label list (keys 0..n-1) or an integer-keyed mapping.
type RawOptions []Option

func (o *RawOptions) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		var labels []string
		if err := node.Decode(&labels); err != nil {
			return err
		}
		opts := make(RawOptions, 0, len(labels))
		for i, l := range labels {
			opts = append(opts, Option{Key: int64(i), Label: l})
		}
		*o = opts
		return nil
	case yaml.MappingNode:
		opts := make(RawOptions, 0, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			key, err := strconv.ParseInt(node.Content[i].Value, 10, 64)
			if err != nil {
				return fmt.Errorf("line %d: option keys must be integers", node.Content[i].Line)
			}
			opts = append(opts, Option{Key: key, Label: node.Content[i+1].Value})
		}
		*o = opts
		return nil
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			return nil
		}
	}
	return fmt.Errorf("line %d: invalid options", node.Line)
}

// RawSort is a key list (ascending) or an ordered key: direction mapping.
type RawSort []SortKey

func (s *RawSort) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!null" || node.Value == "" {
			return nil
		}
		*s = RawSort{{Column: node.Value}}
		return nil
	case yaml.SequenceNode:
		var keys []string
		if err := node.Decode(&keys); err != nil {
			return err
		}
		out := make(RawSort, 0, len(keys))
		for _, k := range keys {
			out = append(out, SortKey{Column: k})
		}
		*s = out
		return nil
	case yaml.MappingNode:
		out := make(RawSort, 0, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			out = append(out, SortKey{
				Column: node.Content[i].Value,
				Desc:   strings.EqualFold(node.Content[i+1].Value, "desc"),
			})
		}
		*s = out
		return nil
	}
	return fmt.Errorf("line %d: invalid sort", node.Line)
}
