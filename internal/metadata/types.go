package metadata

// DisplayType is how a field value is presented.
type DisplayType string

const (
	TypeBoolean  DisplayType = "boolean"
	TypeCheckbox DisplayType = "checkbox"
	TypeFile     DisplayType = "file"
	TypeImage    DisplayType = "image"
	TypeChoice   DisplayType = "choice"
	TypeDate     DisplayType = "date"
	TypeDateTime DisplayType = "datetime"
	TypeTime     DisplayType = "time"
	TypeText     DisplayType = "text"
	TypeVarchar  DisplayType = "varchar"
	TypeTextbox  DisplayType = "textbox"
	TypeTags     DisplayType = "tags"
	TypeURL      DisplayType = "url"
	TypeNumber   DisplayType = "number"
	TypeRating   DisplayType = "rating"
	TypeRange    DisplayType = "range"
	TypeFloat    DisplayType = "float"
	TypeUUID     DisplayType = "uuid"
)

var knownTypes = map[DisplayType]bool{
	TypeBoolean: true, TypeCheckbox: true, TypeFile: true, TypeImage: true,
	TypeChoice: true, TypeDate: true, TypeDateTime: true, TypeTime: true,
	TypeText: true, TypeVarchar: true, TypeTextbox: true, TypeTags: true,
	TypeURL: true, TypeNumber: true, TypeRating: true, TypeRange: true,
	TypeFloat: true, TypeUUID: true,
}

// FormType is the input widget kind of a field.
type FormType string

const (
	FormCheckbox FormType = "checkbox"
	FormDateTime FormType = "dateTime"
	FormFile     FormType = "file"
	FormTextarea FormType = "textarea"
	FormText     FormType = "text"
	FormRange    FormType = "range"
	FormChoice   FormType = "choice"
	FormDate     FormType = "date"
	FormTime     FormType = "time"
	FormNumber   FormType = "number"
	FormFloat    FormType = "float"
)

var formOverrides = map[DisplayType]FormType{
	TypeBoolean:  FormCheckbox,
	TypeDateTime: FormDateTime,
	TypeImage:    FormFile,
	TypeTextbox:  FormTextarea,
	TypeURL:      FormText,
}

// Module is a presentation context. The empty module is the public context.
type Module string

const (
	ModulePublic    Module = ""
	ModuleDashboard Module = "dashboard"
	ModuleDetail    Module = "detail"
	ModuleForm      Module = "form"
	ModuleCharts    Module = "charts"
)

// Constraint names a field value constraint.
type Constraint string

const (
	ConstraintNone   Constraint = ""
	ConstraintUnique Constraint = "unique"
)

// PointerKind selects how a non-stored field is computed.
type PointerKind string

const (
	PointerConcat   PointerKind = "concat"
	PointerSlug     PointerKind = "slug"
	PointerExternal PointerKind = "external"
)

// Pointer describes a computed field.
type Pointer struct {
	Kind       PointerKind `json:"type"`
	Fields     []string    `json:"fields"`
	Expression string      `json:"expression,omitempty"`
}

// Option is one choice of a choice field.
type Option struct {
	Key   int64  `json:"key"`
	Label string `json:"label"`
}

// SortKey orders results by a column.
type SortKey struct {
	Column string `json:"column"`
	Desc   bool   `json:"desc,omitempty"`
}

// Direction returns the SQL direction keyword.
func (k SortKey) Direction() string {
	if k.Desc {
		return "DESC"
	}
	return "ASC"
}

// SlugField is the identifier of the synthesized slug pseudo-field.
const SlugField = "_slug"
