package metadata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, time.June, 15, 12, 0, 0, 0, time.UTC)

const ownersYAML = `
application:
  label: Owners
  fields:
    name:
      type: text
      required: true
    since:
      type: date
    secret:
      type: text
      public: false
`

const horsesYAML = `
application:
  label: Horses
  sources:
    owner:
      application: owners
      fields: [name]
    stables:
      application: stables
      cardinality: multiple
    races:
      application: races
      function: count
  meta:
    slug: [name, born]
  sort:
    name: asc
    born: desc
  fields:
    name:
      type: text
      required: true
    born:
      type: date
    color:
      type: choice
      options: [red, blue]
    owner:
      source: owner.name
    stables:
      source: stables
      multiple: true
    races:
      source: races
    weight:
      type: number
      max: 2000
      _transform:
        number:
          round: true
          round_precision: 1
          suffix: kg
    notes:
      type: textbox
      public: false
    champion:
      type: boolean
    photo:
      type: image
    title:
      pointer:
        fields: [name, color]
`

const stablesYAML = `
application:
  public: false
  fields:
    label:
      type: text
`

const racesYAML = `
application:
  fields:
    track:
      type: text
    horses_id:
      type: number
`

func loadFixtures(t *testing.T) *Registry {
	t.Helper()
	reg, err := LoadDocuments(map[string]string{
		"owners":  ownersYAML,
		"horses":  horsesYAML,
		"stables": stablesYAML,
		"races":   racesYAML,
	}, fixedNow)
	require.NoError(t, err)
	return reg
}
