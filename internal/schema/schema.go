// Package schema describes the target models an import writes into.
//
// A [Model] is an ordered list of [Field] descriptors plus optional
// [Property] setters. Fields carry the native validation used by the
// "clean" reflection ([Field.Clean]) and the lenient coercion stores apply
// before writing ([Field.Prepare]).
//
// Models are registered at init time, the same way table definitions are:
//
//	schema.Register(&schema.Model{
//	    Key:   "inventory.item",
//	    Table: "inventory_item",
//	    Fields: []schema.Field{
//	        {Name: "name", Kind: schema.KindText, MaxLength: 128},
//	        {Name: "price", Kind: schema.KindDecimal, MaxDigits: 15, DecimalPlaces: 2, Nullable: true},
//	    },
//	})
package schema

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Kind is the storage type of a field.
type Kind int

const (
	KindText Kind = iota
	KindInteger
	KindFloat
	KindDecimal
	KindBool
	KindDate
	KindDateTime
	KindReference
)

var kindNames = map[Kind]string{
	KindText:      "text",
	KindInteger:   "integer",
	KindFloat:     "float",
	KindDecimal:   "decimal",
	KindBool:      "bool",
	KindDate:      "date",
	KindDateTime:  "datetime",
	KindReference: "reference",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Reference points a field at another registered model.
type Reference struct {
	Model string // Key of the related model
}

// Field describes one persistent attribute of a model.
type Field struct {
	Name          string     // Attribute name used by reflections and options
	Column        string     // Database column (derived from Name if empty)
	Kind          Kind       // Storage type
	MaxLength     int        // Text only, 0 means unbounded
	MaxDigits     int        // Decimal only
	DecimalPlaces int        // Decimal only
	Nullable      bool       // NULL and blank values accepted
	Unique        bool       // Informational; enforced by the database
	Choices       []string   // Allowed values, empty means any
	Reference     *Reference // Target model for KindReference
}

// DBColumn returns the database column for the field.
// Reference fields default to "<name>_id".
func (f Field) DBColumn() string {
	if f.Column != "" {
		return f.Column
	}
	if f.Kind == KindReference {
		return f.Name + "_id"
	}
	return f.Name
}

// Identifier is implemented by anything that stands for a stored record,
// so reference fields can accept looked-up records as values.
type Identifier interface {
	PrimaryKey() int64
}

// PropertyTarget is the record-side view handed to property setters.
type PropertyTarget interface {
	// Assign sets a concrete field value on the record being saved.
	Assign(field string, value any)
	// Lookup returns the last record of model whose field equals value, or nil.
	Lookup(ctx context.Context, model *Model, field string, value any) (Identifier, error)
}

// PropertySetter applies a computed attribute to an existing record.
type PropertySetter func(ctx context.Context, target PropertyTarget, value any) error

// Property is a computed attribute that can only be set once the record
// exists. It is not a column and cannot be passed to create calls.
type Property struct {
	Name string
	Set  PropertySetter
}

// Model is a target entity type.
type Model struct {
	Key        string // Registry key, e.g. "inventory.item"
	Group      string // Application group, derived from Key if empty
	Table      string // Database table
	Label      string // Display name
	PrimaryKey string // Primary key column (default "id")
	Fields     []Field
	Properties []Property
}

// PK returns the primary key column.
func (m *Model) PK() string {
	if m.PrimaryKey == "" {
		return "id"
	}
	return m.PrimaryKey
}

// Field returns the declared field with the given name.
// "pk" resolves to a synthetic integer field for the primary key.
func (m *Model) Field(name string) (*Field, bool) {
	for i := range m.Fields {
		if m.Fields[i].Name == name {
			return &m.Fields[i], true
		}
	}
	if name == "pk" || name == m.PK() {
		return &Field{Name: m.PK(), Column: m.PK(), Kind: KindInteger}, true
	}
	return nil, false
}

// Property returns the declared property with the given name.
func (m *Model) Property(name string) (*Property, bool) {
	for i := range m.Properties {
		if m.Properties[i].Name == name {
			return &m.Properties[i], true
		}
	}
	return nil, false
}

// FieldNames returns field names in declaration order.
func (m *Model) FieldNames() []string {
	names := make([]string, len(m.Fields))
	for i, f := range m.Fields {
		names[i] = f.Name
	}
	return names
}

var (
	registry   = make(map[string]*Model)
	registryMu sync.RWMutex
)

// Register adds a model to the registry.
// Panics if a model with the same key is already registered.
func Register(m *Model) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[m.Key]; exists {
		panic(fmt.Sprintf("model already registered: %s", m.Key))
	}
	if m.Label == "" {
		m.Label = m.Key
	}
	if m.Group == "" {
		m.Group, _, _ = strings.Cut(m.Key, ".")
	}
	registry[m.Key] = m
}

// Get returns a model by key.
func Get(key string) (*Model, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	m, ok := registry[key]
	return m, ok
}

// All returns every registered model sorted by key.
func All() []*Model {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]*Model, 0, len(registry))
	for _, m := range registry {
		result = append(result, m)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Key < result[j].Key
	})
	return result
}

// ByGroup returns the models of one group sorted by key.
func ByGroup(group string) []*Model {
	var result []*Model
	for _, m := range All() {
		if m.Group == group {
			result = append(result, m)
		}
	}
	return result
}

// Clear removes all registered models.
// Primarily useful for testing.
func Clear() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[string]*Model)
}
