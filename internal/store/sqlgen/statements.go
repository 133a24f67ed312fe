package sqlgen

import (
	"fmt"
	"strings"

	"github.com/JonMunkholm/tabimport/internal/schema"
)

// CreateTable returns the DDL for a model's table. References become
// foreign keys when the related model is known.
func CreateTable(d Dialect, model *schema.Model, related func(key string) (*schema.Model, bool)) string {
	cols := []string{Quote(model.PK()) + " " + d.IDColumn()}
	for _, f := range model.Fields {
		col := Quote(f.DBColumn()) + " " + d.ColumnType(f)
		if !f.Nullable {
			col += " NOT NULL"
		}
		if f.Unique {
			col += " UNIQUE"
		}
		if f.Kind == schema.KindReference && f.Reference != nil && related != nil {
			if target, ok := related(f.Reference.Model); ok {
				col += fmt.Sprintf(" REFERENCES %s (%s)", Quote(target.Table), Quote(target.PK()))
			}
		}
		cols = append(cols, col)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", Quote(model.Table), strings.Join(cols, ",\n\t"))
}

// MetaTables returns the DDL for the job and run log tables.
func MetaTables(d Dialect) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS import_jobs (
	id %s PRIMARY KEY,
	model_key TEXT NOT NULL,
	upload_file TEXT NOT NULL,
	options TEXT NOT NULL,
	created_at %s NOT NULL
)`, d.UUIDType(), d.TimeType()),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS import_logs (
	id %s PRIMARY KEY,
	job_id %s NOT NULL REFERENCES import_jobs (id),
	imported_at %s NOT NULL,
	log_text TEXT NOT NULL,
	is_finished %s NOT NULL
)`, d.UUIDType(), d.UUIDType(), d.TimeType(), d.ColumnType(schema.Field{Kind: schema.KindBool})),
		`CREATE INDEX IF NOT EXISTS import_logs_job_id ON import_logs (job_id)`,
	}
}

func columns(model *schema.Model) []string {
	cols := []string{Quote(model.PK())}
	for _, f := range model.Fields {
		cols = append(cols, Quote(f.DBColumn()))
	}
	return cols
}

// Insert returns an INSERT of every field that yields the new primary key.
func Insert(d Dialect, model *schema.Model) string {
	cols := make([]string, len(model.Fields))
	marks := make([]string, len(model.Fields))
	for i, f := range model.Fields {
		cols[i] = Quote(f.DBColumn())
		marks[i] = d.Placeholder(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		Quote(model.Table), strings.Join(cols, ", "), strings.Join(marks, ", "), Quote(model.PK()))
}

// Update returns an UPDATE of every field keyed by primary key, which is
// the last argument.
func Update(d Dialect, model *schema.Model) string {
	sets := make([]string, len(model.Fields))
	for i, f := range model.Fields {
		sets[i] = fmt.Sprintf("%s = %s", Quote(f.DBColumn()), d.Placeholder(i+1))
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		Quote(model.Table), strings.Join(sets, ", "), Quote(model.PK()), d.Placeholder(len(model.Fields)+1))
}

// Condition is one equality filter. A nil Value matches NULL.
type Condition struct {
	Column string
	Value  any
}

// Select returns a query for every column of the matching rows ordered by
// primary key, and its arguments.
func Select(d Dialect, model *schema.Model, conds []Condition) (string, []any) {
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(columns(model), ", "), Quote(model.Table))
	where, args := whereClause(d, conds)
	return query + where + " ORDER BY " + Quote(model.PK()), args
}

// Count returns a row count query.
func Count(d Dialect, model *schema.Model) string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s", Quote(model.Table))
}

func whereClause(d Dialect, conds []Condition) (string, []any) {
	if len(conds) == 0 {
		return "", nil
	}
	parts := make([]string, 0, len(conds))
	var args []any
	for _, c := range conds {
		if c.Value == nil {
			parts = append(parts, Quote(c.Column)+" IS NULL")
			continue
		}
		args = append(args, c.Value)
		parts = append(parts, fmt.Sprintf("%s = %s", Quote(c.Column), d.Placeholder(len(args))))
	}
	return " WHERE " + strings.Join(parts, " AND "), args
}
