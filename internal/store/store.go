// Package store persists imported records, import jobs and run logs.
//
// Backends live in subpackages: memory for tests and one-off CLI runs,
// postgres for the server and sqlite for local files. They share the
// interfaces defined here.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/tabimport/internal/runlog"
	"github.com/JonMunkholm/tabimport/internal/schema"
)

var (
	// ErrNotFound is returned when a job, log or record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrMultipleObjects is returned by UpdateOrCreate when the lookup
	// matches more than one record.
	ErrMultipleObjects = errors.New("multiple records match the lookup")

	// ErrConstraint wraps database constraint violations.
	ErrConstraint = errors.New("constraint violation")
)

// Record is one stored row of a model. Values are keyed by field name and
// hold prepared values; references hold the related primary key.
type Record struct {
	Model  *schema.Model
	ID     int64
	Values map[string]any
}

// PrimaryKey implements schema.Identifier.
func (r *Record) PrimaryKey() int64 { return r.ID }

func (r *Record) String() string {
	return fmt.Sprintf("%s(%d)", r.Model.Key, r.ID)
}

// Get returns a field value, with "pk" and the primary key name mapped to ID.
func (r *Record) Get(field string) any {
	if field == "pk" || field == r.Model.PK() {
		return r.ID
	}
	return r.Values[field]
}

// Clone returns a copy that does not share the value map.
func (r *Record) Clone() *Record {
	values := make(map[string]any, len(r.Values))
	for k, v := range r.Values {
		values[k] = v
	}
	return &Record{Model: r.Model, ID: r.ID, Values: values}
}

// Tx is the record API available inside a transaction.
type Tx interface {
	// Create inserts a record. Omitted fields take their defaults.
	Create(ctx context.Context, model *schema.Model, values map[string]any) (*Record, error)

	// UpdateOrCreate updates the single record matching lookup with defaults,
	// or creates one from lookup and defaults. created reports which.
	UpdateOrCreate(ctx context.Context, model *schema.Model, lookup, defaults map[string]any) (rec *Record, created bool, err error)

	// Save writes every field of an existing record.
	Save(ctx context.Context, rec *Record) error

	// Lookup returns the last record (by primary key) whose field equals
	// value, or nil.
	Lookup(ctx context.Context, model *schema.Model, field string, value any) (schema.Identifier, error)
}

// Store holds the imported records.
type Store interface {
	// WithinTx runs fn in a transaction. Nothing fn wrote survives an error.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	// Records returns every record of model ordered by primary key.
	Records(ctx context.Context, model *schema.Model) ([]*Record, error)

	// Count returns the number of records of model.
	Count(ctx context.Context, model *schema.Model) (int, error)

	// Lookup is Tx.Lookup outside a transaction.
	Lookup(ctx context.Context, model *schema.Model, field string, value any) (schema.Identifier, error)
}

// Job is a persisted import request. Options holds the JSON encoded import
// options.
type Job struct {
	ID         uuid.UUID       `json:"id"`
	ModelKey   string          `json:"model"`
	UploadFile string          `json:"upload_file"`
	Options    json.RawMessage `json:"options"`
	CreatedAt  time.Time       `json:"created_at"`
}

// JobStore persists jobs.
type JobStore interface {
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*Job, error)
	ListJobs(ctx context.Context, limit int) ([]*Job, error)
}

// LogStore persists run logs. SaveLog makes it a runlog.Sink.
type LogStore interface {
	runlog.Sink
	CreateLog(ctx context.Context, entry *runlog.Entry) error
	GetLog(ctx context.Context, id uuid.UUID) (*runlog.Entry, error)
	ListLogs(ctx context.Context, jobID uuid.UUID) ([]*runlog.Entry, error)
}

// Target adapts a record inside a transaction to schema.PropertyTarget so
// property setters can assign fields and resolve related records.
type Target struct {
	Tx     Tx
	Record *Record
}

// Assign sets a field on the record.
func (t Target) Assign(field string, value any) {
	t.Record.Values[field] = value
}

// Lookup delegates to the transaction.
func (t Target) Lookup(ctx context.Context, model *schema.Model, field string, value any) (schema.Identifier, error) {
	return t.Tx.Lookup(ctx, model, field, value)
}

// PrepareValues runs every value through its field's Prepare. Unknown
// names are rejected the way an ORM rejects unexpected keyword arguments.
func PrepareValues(model *schema.Model, values map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(values))
	for name, v := range values {
		f, ok := model.Field(name)
		if !ok {
			return nil, fmt.Errorf("%s has no field named %q", model.Key, name)
		}
		prepared, err := f.Prepare(v)
		if err != nil {
			return nil, err
		}
		out[f.Name] = prepared
	}
	return out, nil
}

// PrepareLookup prepares a single lookup value. "pk" maps to the primary key.
func PrepareLookup(model *schema.Model, field string, value any) (*schema.Field, any, error) {
	f, ok := model.Field(field)
	if !ok {
		return nil, nil, fmt.Errorf("cannot resolve keyword %q into %s", field, model.Key)
	}
	if value == nil {
		return f, nil, nil
	}
	lookupField := *f
	lookupField.Nullable = true
	prepared, err := lookupField.Prepare(value)
	if err != nil {
		return nil, nil, err
	}
	return f, prepared, nil
}

// WithDefaults fills omitted fields with their defaults. Unknown names
// are kept so PrepareValues can reject them.
func WithDefaults(model *schema.Model, values map[string]any) map[string]any {
	out := make(map[string]any, len(model.Fields)+len(values))
	for k, v := range values {
		out[k] = v
	}
	for _, f := range model.Fields {
		if _, ok := out[f.Name]; !ok {
			out[f.Name] = f.Default()
		}
	}
	return out
}

// Equal compares two prepared values.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if x, ok := a.(schema.Identifier); ok {
		a = x.PrimaryKey()
	}
	if y, ok := b.(schema.Identifier); ok {
		b = y.PrimaryKey()
	}
	switch x := a.(type) {
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	case pgtype.Numeric:
		y, ok := b.(pgtype.Numeric)
		return ok && schema.FormatDecimal(x) == schema.FormatDecimal(y)
	}
	return a == b
}
