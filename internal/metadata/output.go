package metadata

import "unchained/internal/domain/value"

// Output is the per-record representation of a field handed to presentation.
type Output struct {
	Visible     bool       `json:"visible"`
	Value       any        `json:"value"`
	Raw         any        `json:"raw"`
	Link        any        `json:"link"`
	Title       any        `json:"title"`
	Reference   *Link      `json:"reference"`
	Transformed bool       `json:"transformed"`
	View        string     `json:"view,omitempty"`
	Field       *FieldMeta `json:"field"`
}

// FieldMeta describes the field an Output belongs to.
type FieldMeta struct {
	Type        DisplayType    `json:"type"`
	FormType    FormType       `json:"form_type"`
	Column      string         `json:"column"`
	Default     any            `json:"default"`
	Labels      Labels         `json:"labels"`
	SourceID    string         `json:"source_id,omitempty"`
	Module      map[string]any `json:"module"`
	Constraints Constraint     `json:"constraints,omitempty"`
}

// Output renders fv for module m. In the dashboard a field with a title
// becomes sortable.
func (fv FieldValue) Output(m Module) Output {
	f := fv.Field
	out := Output{
		Visible:     fv.Visible,
		Value:       fv.Value,
		Raw:         RawScalar(fv.Raw),
		Link:        fv.Link,
		Title:       fv.Title,
		Reference:   fv.Reference,
		Transformed: fv.Transformed,
		View:        fv.View,
	}
	if f == nil {
		return out
	}
	module := f.ModuleConfig(m)
	if m == ModuleDashboard && fv.Title != nil {
		if sortable, _ := module["sortable"].(bool); !sortable {
			module["sortable"] = true
		}
	}
	out.Field = &FieldMeta{
		Type:        f.DisplayType(),
		FormType:    f.FormType(),
		Column:      f.ID(),
		Default:     f.Default(),
		Labels:      f.Labels(),
		SourceID:    f.SourceAlias(),
		Module:      module,
		Constraints: f.Constraint(),
	}
	return out
}

// RawScalar returns the stored form of v: the column value, the referenced
// key, or the referenced keys.
func RawScalar(v value.Value) any {
	switch t := v.(type) {
	case value.Column:
		return t.Value
	case value.Junction:
		return t.PrimaryKey
	case value.JunctionList:
		return t.PrimaryKeys()
	}
	return nil
}
