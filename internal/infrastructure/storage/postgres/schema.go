package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"unchained/internal/core/apperror"
	"unchained/internal/infrastructure/cache"
	"unchained/internal/metadata"
	"unchained/pkg/logger"
)

// PostgreSQL error codes raised when a concurrent migration won the race.
const (
	codeDuplicateColumn = "42701"
	codeDuplicateTable  = "42P07"
)

// ActiveColumn is the soft-delete flag every entity table carries.
const ActiveColumn = "_active"

// StatementKind tells what a planned DDL statement does.
type StatementKind string

const (
	StatementCreateTable StatementKind = "create_table"
	StatementAddColumn   StatementKind = "add_column"
)

// Statement is one planned DDL statement.
type Statement struct {
	Kind   StatementKind
	Table  string
	Column string
	SQL    string
}

// DB is the subset of TxManager the schema manager needs.
type DB interface {
	Select(ctx context.Context, dst any, sql string, args ...any) error
	Exec(ctx context.Context, sql string, args ...any) (int64, error)
}

// SchemaManager creates and additively migrates entity tables.
type SchemaManager struct {
	db    DB
	cache *cache.SchemaCache
}

// NewSchemaManager builds a manager. Known columns are kept in schemaCache,
// which also broadcasts changes to other processes.
func NewSchemaManager(db DB, schemaCache *cache.SchemaCache) *SchemaManager {
	if schemaCache == nil {
		schemaCache = cache.NewSchemaCache(nil)
	}
	return &SchemaManager{db: db, cache: schemaCache}
}

// EnsureEntity makes the table of e match its stored fields.
func (m *SchemaManager) EnsureEntity(ctx context.Context, e *metadata.Entity) error {
	return m.EnsureTable(ctx, e.Table(), EntityColumns(e))
}

// EnsureAll ensures the table of every registered entity. A failing entity
// is logged and skipped; the joined failures are returned once every other
// entity has been provisioned.
func (m *SchemaManager) EnsureAll(ctx context.Context, reg *metadata.Registry) error {
	var errs []error
	for _, e := range reg.List() {
		if err := m.EnsureEntity(ctx, e); err != nil {
			logger.Error(ctx, "schema provisioning failed", "entity", e.ID(), "table", e.Table(), "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// EnsureTable creates table or adds its missing columns. Existing columns
// are never altered or dropped.
func (m *SchemaManager) EnsureTable(ctx context.Context, table string, columns []metadata.Schema) error {
	if known, ok := m.cache.Columns(table); ok && coversAll(known, columns) {
		return nil
	}

	ctx, span := tracer.Start(ctx, "schema.ensure", trace.WithAttributes(attribute.String("db.table", table)))
	defer span.End()

	live, err := m.liveColumns(ctx, table)
	if err != nil {
		return apperror.NewSchema(table, err)
	}

	stmts := PlanTable(len(live) > 0, live, table, columns)
	for _, stmt := range stmts {
		if _, err := m.db.Exec(ctx, stmt.SQL); err != nil {
			if isConcurrentDDL(err) {
				logger.Debug(ctx, "schema statement already applied", "table", table, "column", stmt.Column)
				continue
			}
			span.RecordError(err)
			return apperror.NewSchema(table, fmt.Errorf("%s: %w", stmt.Kind, err))
		}
		logger.Info(ctx, "schema updated", "table", table, "kind", stmt.Kind, "column", stmt.Column)
	}

	known := make([]string, 0, len(live)+len(columns)+2)
	for col := range live {
		known = append(known, col)
	}
	known = append(known, "id", ActiveColumn)
	for _, c := range columns {
		known = append(known, c.Column)
	}
	m.cache.Store(table, known)

	if len(stmts) > 0 {
		if err := m.cache.Notify(ctx, table); err != nil {
			logger.Warn(ctx, "schema change notification failed", "table", table, "error", err)
		}
	}
	return nil
}

func (m *SchemaManager) liveColumns(ctx context.Context, table string) (map[string]struct{}, error) {
	query, args, err := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar).
		Select("column_name").
		From("information_schema.columns").
		Where("table_schema = current_schema()").
		Where(squirrel.Eq{"table_name": table}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build introspection: %w", err)
	}

	var rows []struct {
		ColumnName string `db:"column_name"`
	}
	if err := m.db.Select(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("introspect %s: %w", table, err)
	}
	live := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		live[r.ColumnName] = struct{}{}
	}
	return live, nil
}

// EntityColumns returns the stored columns of e in field order.
func EntityColumns(e *metadata.Entity) []metadata.Schema {
	var cols []metadata.Schema
	seen := make(map[string]bool)
	for _, f := range e.Fields() {
		s := f.Schema()
		if s.IsZero() || seen[s.Column] || s.Column == "id" || s.Column == ActiveColumn {
			continue
		}
		seen[s.Column] = true
		cols = append(cols, s)
	}
	return cols
}

// PlanTable returns the statements that bring table from its live columns to
// columns. It does not touch the database.
func PlanTable(exists bool, live map[string]struct{}, table string, columns []metadata.Schema) []Statement {
	ident := quote(table)
	if !exists {
		defs := []string{
			quote("id") + " serial PRIMARY KEY",
			quote(ActiveColumn) + " boolean NOT NULL DEFAULT true",
		}
		for _, c := range columns {
			defs = append(defs, columnDefinition(c, true))
		}
		return []Statement{{
			Kind:  StatementCreateTable,
			Table: table,
			SQL:   "CREATE TABLE " + ident + " (" + strings.Join(defs, ", ") + ")",
		}}
	}

	var stmts []Statement
	if _, ok := live[ActiveColumn]; !ok {
		stmts = append(stmts, Statement{
			Kind:   StatementAddColumn,
			Table:  table,
			Column: ActiveColumn,
			SQL:    "ALTER TABLE " + ident + " ADD COLUMN " + quote(ActiveColumn) + " boolean NOT NULL DEFAULT true",
		})
	}
	for _, c := range columns {
		if _, ok := live[c.Column]; ok {
			continue
		}
		stmts = append(stmts, Statement{
			Kind:   StatementAddColumn,
			Table:  table,
			Column: c.Column,
			SQL:    "ALTER TABLE " + ident + " ADD COLUMN " + columnDefinition(c, false),
		})
	}
	return stmts
}

// columnDefinition renders one column. NOT NULL is only emitted on new tables
// or when a default fills the existing rows.
func columnDefinition(c metadata.Schema, newTable bool) string {
	var b strings.Builder
	b.WriteString(quote(c.Column))
	b.WriteByte(' ')
	b.WriteString(columnType(c))

	def := defaultLiteral(c)
	if !c.Nullable && (newTable || def != "") {
		b.WriteString(" NOT NULL")
	}
	if def != "" {
		b.WriteString(" DEFAULT ")
		b.WriteString(def)
	}
	return b.String()
}

func columnType(c metadata.Schema) string {
	if c.Type == metadata.ColumnVarchar {
		length := c.Length
		if length <= 0 {
			length = 255
		}
		return "varchar(" + strconv.Itoa(length) + ")"
	}
	return string(c.Type)
}

// defaultLiteral renders the column default; booleans become 1/0 since
// boolean fields are stored as smallint.
func defaultLiteral(c metadata.Schema) string {
	if c.DefaultExpr != "" {
		return c.DefaultExpr
	}
	switch v := c.Default.(type) {
	case nil:
		return ""
	case bool:
		if v {
			return "1"
		}
		return "0"
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case string:
		if isNumericColumn(c.Type) {
			if _, err := strconv.ParseFloat(v, 64); err == nil {
				return v
			}
			return ""
		}
		return "'" + strings.ReplaceAll(v, "'", "''") + "'"
	}
	return ""
}

func isNumericColumn(t metadata.ColumnType) bool {
	switch t {
	case metadata.ColumnSmallint, metadata.ColumnInteger, metadata.ColumnBigint, metadata.ColumnDouble:
		return true
	}
	return false
}

func quote(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func coversAll(known map[string]struct{}, columns []metadata.Schema) bool {
	if _, ok := known[ActiveColumn]; !ok {
		return false
	}
	for _, c := range columns {
		if _, ok := known[c.Column]; !ok {
			return false
		}
	}
	return true
}

func isConcurrentDDL(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == codeDuplicateColumn || pgErr.Code == codeDuplicateTable
	}
	return false
}

// IsUniqueViolation reports a unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
