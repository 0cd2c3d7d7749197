package entity_repo

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// Reserved result columns.
const (
	ColumnPK      = "pk"
	ColumnSlug    = "_slug"
	ColumnExposed = "_exposed"
)

// Row is one fetched record keyed by result column.
//
// Values are normalized so a row reads the same whether it came from the
// database or from the cache: integers are int64, timestamps RFC 3339 strings,
// uuids their text form.
type Row map[string]any

// PK returns the primary key, or 0 for an empty row.
func (r Row) PK() int64 {
	n, _ := asInt64(r[ColumnPK])
	return n
}

// Slug returns the slug, which is the pk for entities without slug fields.
func (r Row) Slug() string {
	v := r[ColumnSlug]
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func (r Row) Exposed() any { return r[ColumnExposed] }

func (r *Row) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	for k, v := range raw {
		raw[k] = fromJSON(v)
	}
	*r = raw
	return nil
}

func fromJSON(v any) any {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		f, _ := t.Float64()
		return f
	case []any:
		for i := range t {
			t[i] = fromJSON(t[i])
		}
	case map[string]any:
		for k := range t {
			t[k] = fromJSON(t[k])
		}
	}
	return v
}

func normalizeRow(raw map[string]any) Row {
	row := make(Row, len(raw))
	for k, v := range raw {
		row[k] = normalize(v)
	}
	return row
}

func normalize(v any) any {
	switch t := v.(type) {
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case int:
		return int64(t)
	case float32:
		return float64(t)
	case time.Time:
		return t.Format(time.RFC3339Nano)
	case pgtype.Time:
		if !t.Valid {
			return nil
		}
		d := time.Duration(t.Microseconds) * time.Microsecond
		return time.Date(0, 1, 1, 0, 0, 0, 0, time.UTC).Add(d).Format("15:04:05")
	case [16]byte:
		return uuid.UUID(t).String()
	case []any:
		for i := range t {
			t[i] = normalize(t[i])
		}
	}
	return v
}

func asInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int32:
		return int64(t), true
	case int:
		return int64(t), true
	case float64:
		return int64(t), t == float64(int64(t))
	case json.Number:
		n, err := t.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		return n, err == nil
	}
	return 0, false
}

// ResultSet is an immutable fetched page of rows with pk and slug indexes.
type ResultSet struct {
	rows   []Row
	byPK   map[int64]int
	bySlug map[string]int
}

// NewResultSet indexes rows. The first row wins on duplicate slugs.
func NewResultSet(rows []Row) *ResultSet {
	rs := &ResultSet{
		rows:   rows,
		byPK:   make(map[int64]int, len(rows)),
		bySlug: make(map[string]int, len(rows)),
	}
	for i, row := range rows {
		rs.byPK[row.PK()] = i
		if s := row.Slug(); s != "" {
			if _, dup := rs.bySlug[s]; !dup {
				rs.bySlug[s] = i
			}
		}
	}
	return rs
}

func (rs *ResultSet) Rows() []Row { return rs.rows }
func (rs *ResultSet) Len() int    { return len(rs.rows) }

func (rs *ResultSet) ByPK(pk int64) (Row, bool) {
	i, ok := rs.byPK[pk]
	if !ok {
		return nil, false
	}
	return rs.rows[i], true
}

func (rs *ResultSet) BySlug(slug string) (Row, bool) {
	i, ok := rs.bySlug[slug]
	if !ok {
		return nil, false
	}
	return rs.rows[i], true
}

// First returns the first row.
func (rs *ResultSet) First() (Row, bool) {
	if len(rs.rows) == 0 {
		return nil, false
	}
	return rs.rows[0], true
}

// Cursor returns a new cursor positioned before the first row.
func (rs *ResultSet) Cursor() *Cursor {
	return &Cursor{rs: rs, pos: -1}
}

// Cursor walks a ResultSet. Each caller owns its cursor, so iteration state
// is never shared between requests.
type Cursor struct {
	rs  *ResultSet
	pos int
}

// Next advances and returns the new active row.
func (c *Cursor) Next() (Row, bool) {
	if c.pos+1 >= len(c.rs.rows) {
		c.pos = len(c.rs.rows)
		return nil, false
	}
	c.pos++
	return c.rs.rows[c.pos], true
}

// Prev steps back and returns the new active row.
func (c *Cursor) Prev() (Row, bool) {
	if c.pos <= 0 {
		c.pos = -1
		return nil, false
	}
	c.pos--
	return c.rs.rows[c.pos], true
}

func (c *Cursor) Reset() { c.pos = -1 }

// Active returns the row under the cursor.
func (c *Cursor) Active() (Row, bool) {
	if c.pos < 0 || c.pos >= len(c.rs.rows) {
		return nil, false
	}
	return c.rs.rows[c.pos], true
}
