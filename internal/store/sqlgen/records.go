package sqlgen

import (
	"context"
	"fmt"
	"sort"

	"github.com/JonMunkholm/tabimport/internal/schema"
	"github.com/JonMunkholm/tabimport/internal/store"
)

// Queryer is the driver surface the stores need. Implementations wrap
// constraint violations in store.ErrConstraint.
type Queryer interface {
	Exec(ctx context.Context, query string, args ...any) error

	// Query calls each for every result row with a function that scans
	// the row into dest.
	Query(ctx context.Context, query string, args []any, each func(scan func(dest ...any) error) error) error
}

// Records implements store.Tx, and the read side of store.Store, on a Queryer.
type Records struct {
	Q Queryer
	D Dialect
}

var _ store.Tx = Records{}

func (r Records) encode(model *schema.Model, values map[string]any) []any {
	args := make([]any, len(model.Fields))
	for i, f := range model.Fields {
		args[i] = r.D.Encode(f, values[f.Name])
	}
	return args
}

// Create inserts a record.
func (r Records) Create(ctx context.Context, model *schema.Model, values map[string]any) (*store.Record, error) {
	prepared, err := store.PrepareValues(model, store.WithDefaults(model, values))
	if err != nil {
		return nil, err
	}

	var id int64
	err = r.Q.Query(ctx, Insert(r.D, model), r.encode(model, prepared), func(scan func(dest ...any) error) error {
		return scan(&id)
	})
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", model.Key, err)
	}
	return &store.Record{Model: model, ID: id, Values: prepared}, nil
}

// UpdateOrCreate updates the single match of lookup or creates a record.
func (r Records) UpdateOrCreate(ctx context.Context, model *schema.Model, lookup, defaults map[string]any) (*store.Record, bool, error) {
	matches, err := r.filter(ctx, model, lookup)
	if err != nil {
		return nil, false, err
	}
	switch len(matches) {
	case 0:
		values := make(map[string]any, len(lookup)+len(defaults))
		for k, v := range lookup {
			values[k] = v
		}
		for k, v := range defaults {
			values[k] = v
		}
		rec, err := r.Create(ctx, model, values)
		return rec, true, err
	case 1:
		rec := matches[0]
		for k, v := range defaults {
			rec.Values[k] = v
		}
		if err := r.Save(ctx, rec); err != nil {
			return nil, false, err
		}
		return rec, false, nil
	}
	return nil, false, fmt.Errorf("%s: %w (%d found)", model.Key, store.ErrMultipleObjects, len(matches))
}

// Save updates every field of rec.
func (r Records) Save(ctx context.Context, rec *store.Record) error {
	prepared, err := store.PrepareValues(rec.Model, store.WithDefaults(rec.Model, rec.Values))
	if err != nil {
		return err
	}
	args := append(r.encode(rec.Model, prepared), rec.ID)
	if err := r.Q.Exec(ctx, Update(r.D, rec.Model), args...); err != nil {
		return fmt.Errorf("update %s %d: %w", rec.Model.Key, rec.ID, err)
	}
	rec.Values = prepared
	return nil
}

// Lookup returns the last record whose field equals value, or nil.
func (r Records) Lookup(ctx context.Context, model *schema.Model, field string, value any) (schema.Identifier, error) {
	matches, err := r.filter(ctx, model, map[string]any{field: value})
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}
	return matches[len(matches)-1], nil
}

// All returns every record of model ordered by primary key.
func (r Records) All(ctx context.Context, model *schema.Model) ([]*store.Record, error) {
	return r.filter(ctx, model, nil)
}

// Count returns the number of records of model.
func (r Records) Count(ctx context.Context, model *schema.Model) (int, error) {
	var n int64
	err := r.Q.Query(ctx, Count(r.D, model), nil, func(scan func(dest ...any) error) error {
		return scan(&n)
	})
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", model.Key, err)
	}
	return int(n), nil
}

func (r Records) filter(ctx context.Context, model *schema.Model, lookup map[string]any) ([]*store.Record, error) {
	conds := make([]Condition, 0, len(lookup))
	for name, v := range lookup {
		f, prepared, err := store.PrepareLookup(model, name, v)
		if err != nil {
			return nil, err
		}
		conds = append(conds, Condition{Column: f.DBColumn(), Value: r.D.Encode(*f, prepared)})
	}
	sort.Slice(conds, func(i, j int) bool { return conds[i].Column < conds[j].Column })

	query, args := Select(r.D, model, conds)
	var out []*store.Record
	err := r.Q.Query(ctx, query, args, func(scan func(dest ...any) error) error {
		var id int64
		raw := make([]any, len(model.Fields))
		dest := make([]any, len(model.Fields)+1)
		dest[0] = &id
		for i := range raw {
			dest[i+1] = &raw[i]
		}
		if err := scan(dest...); err != nil {
			return err
		}
		values := make(map[string]any, len(model.Fields))
		for i, f := range model.Fields {
			values[f.Name] = Decode(f, raw[i])
		}
		out = append(out, &store.Record{Model: model, ID: id, Values: values})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", model.Key, err)
	}
	return out, nil
}
