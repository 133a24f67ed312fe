// Package sqlgen builds the SQL shared by the postgres and sqlite stores
// and implements the record and metadata operations on top of a minimal
// query interface, so each backend only adapts its driver.
package sqlgen

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/tabimport/internal/schema"
)

// Dialect captures the differences between the supported databases.
type Dialect interface {
	Name() string
	Placeholder(n int) string
	ColumnType(f schema.Field) string
	IDColumn() string
	UUIDType() string
	TimeType() string

	// Encode converts a prepared value into a driver argument.
	Encode(f schema.Field, v any) any
}

// Postgres is the dialect used with pgx.
type Postgres struct{}

func (Postgres) Name() string             { return "postgres" }
func (Postgres) Placeholder(n int) string { return "$" + strconv.Itoa(n) }
func (Postgres) IDColumn() string         { return "BIGSERIAL PRIMARY KEY" }
func (Postgres) UUIDType() string         { return "UUID" }
func (Postgres) TimeType() string         { return "TIMESTAMPTZ" }

func (Postgres) ColumnType(f schema.Field) string {
	switch f.Kind {
	case schema.KindText:
		if f.MaxLength > 0 {
			return fmt.Sprintf("VARCHAR(%d)", f.MaxLength)
		}
		return "TEXT"
	case schema.KindInteger, schema.KindReference:
		return "BIGINT"
	case schema.KindFloat:
		return "DOUBLE PRECISION"
	case schema.KindDecimal:
		if f.MaxDigits > 0 {
			return fmt.Sprintf("NUMERIC(%d, %d)", f.MaxDigits, f.DecimalPlaces)
		}
		return "NUMERIC"
	case schema.KindBool:
		return "BOOLEAN"
	case schema.KindDate:
		return "DATE"
	case schema.KindDateTime:
		return "TIMESTAMPTZ"
	}
	return "TEXT"
}

func (Postgres) Encode(_ schema.Field, v any) any { return v }

// SQLite is the dialect used with modernc.org/sqlite. Decimals and times
// are stored as text so they round-trip exactly.
type SQLite struct{}

func (SQLite) Name() string           { return "sqlite" }
func (SQLite) Placeholder(int) string { return "?" }
func (SQLite) IDColumn() string       { return "INTEGER PRIMARY KEY AUTOINCREMENT" }
func (SQLite) UUIDType() string       { return "TEXT" }
func (SQLite) TimeType() string       { return "TEXT" }

func (SQLite) ColumnType(f schema.Field) string {
	switch f.Kind {
	case schema.KindInteger, schema.KindReference, schema.KindBool:
		return "INTEGER"
	case schema.KindFloat:
		return "REAL"
	}
	return "TEXT"
}

func (SQLite) Encode(f schema.Field, v any) any {
	switch x := v.(type) {
	case pgtype.Numeric:
		return schema.FormatDecimal(x)
	case bool:
		if x {
			return int64(1)
		}
		return int64(0)
	case time.Time:
		if f.Kind == schema.KindDate {
			return x.Format("2006-01-02")
		}
		return x.UTC().Format(time.RFC3339Nano)
	}
	return v
}

// Quote quotes an identifier.
func Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// Decode turns a scanned column value back into the field's prepared value.
func Decode(f schema.Field, v any) any {
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	if v == nil {
		return nil
	}
	nullable := f
	nullable.Nullable = true
	nullable.MaxLength = 0
	prepared, err := nullable.Prepare(v)
	if err != nil {
		return v
	}
	return prepared
}
