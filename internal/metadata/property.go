package metadata

import (
	"regexp"
	"strings"
)

var (
	nonWord       = regexp.MustCompile(`\W+`)
	keySeparators = regexp.MustCompile(`[-/\s]+`)
	whitespace    = regexp.MustCompile(`\s+`)
)

// TablePrefix prefixes every entity table.
const TablePrefix = "app_"

// TableName returns the backing table of an entity.
func TableName(entityID string) string {
	return TablePrefix + nonWord.ReplaceAllString(entityID, "_")
}

// ForeignKey returns the column other tables use to reference an entity.
func ForeignKey(entityID string) string {
	return keySeparators.ReplaceAllString(entityID, "_") + "_id"
}

// DisplayLabel turns input into a translation key under kind, e.g. "label.first_name".
func DisplayLabel(input, kind string) string {
	label := strings.ToLower(whitespace.ReplaceAllString(input, "_"))
	if !strings.HasPrefix(label, kind+".") {
		label = kind + "." + label
	}
	return label
}
