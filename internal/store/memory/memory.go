// Package memory is an in-process store. Transactions work on copies of
// the touched tables and publish them on commit, so a failed row leaves
// no trace.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/tabimport/internal/runlog"
	"github.com/JonMunkholm/tabimport/internal/schema"
	"github.com/JonMunkholm/tabimport/internal/store"
)

type table struct {
	nextID int64
	rows   []*store.Record // ordered by ID
}

func (t *table) clone() *table {
	rows := make([]*store.Record, len(t.rows))
	for i, r := range t.rows {
		rows[i] = r.Clone()
	}
	return &table{nextID: t.nextID, rows: rows}
}

// Store implements store.Store, store.JobStore and store.LogStore.
type Store struct {
	mu     sync.Mutex // guards tables; held for a whole transaction
	tables map[string]*table

	metaMu sync.RWMutex
	jobs   map[uuid.UUID]*store.Job
	logs   map[uuid.UUID]*runlog.Entry
}

// New returns an empty store.
func New() *Store {
	return &Store{
		tables: make(map[string]*table),
		jobs:   make(map[uuid.UUID]*store.Job),
		logs:   make(map[uuid.UUID]*runlog.Entry),
	}
}

// WithinTx runs fn against private copies of the tables it touches.
func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &txn{base: s.tables, dirty: make(map[string]*table)}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for key, t := range tx.dirty {
		s.tables[key] = t
	}
	return nil
}

// Records returns copies of the stored records.
func (s *Store) Records(_ context.Context, model *schema.Model) ([]*store.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[model.Key]
	if !ok {
		return nil, nil
	}
	out := make([]*store.Record, len(t.rows))
	for i, r := range t.rows {
		out[i] = r.Clone()
	}
	return out, nil
}

// Count returns the number of stored records.
func (s *Store) Count(_ context.Context, model *schema.Model) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.tables[model.Key]; ok {
		return len(t.rows), nil
	}
	return 0, nil
}

// Lookup finds a record outside a transaction.
func (s *Store) Lookup(ctx context.Context, model *schema.Model, field string, value any) (schema.Identifier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &txn{base: s.tables}
	return tx.Lookup(ctx, model, field, value)
}

type txn struct {
	base  map[string]*table
	dirty map[string]*table
}

func (tx *txn) read(model *schema.Model) *table {
	if t, ok := tx.dirty[model.Key]; ok {
		return t
	}
	if t, ok := tx.base[model.Key]; ok {
		return t
	}
	return &table{}
}

func (tx *txn) write(model *schema.Model) *table {
	if t, ok := tx.dirty[model.Key]; ok {
		return t
	}
	t := tx.read(model).clone()
	tx.dirty[model.Key] = t
	return t
}

func (tx *txn) Create(_ context.Context, model *schema.Model, values map[string]any) (*store.Record, error) {
	prepared, err := store.PrepareValues(model, store.WithDefaults(model, values))
	if err != nil {
		return nil, err
	}
	t := tx.write(model)
	if err := checkUnique(model, t, prepared, 0); err != nil {
		return nil, err
	}
	t.nextID++
	rec := &store.Record{Model: model, ID: t.nextID, Values: prepared}
	t.rows = append(t.rows, rec)
	return rec.Clone(), nil
}

func (tx *txn) UpdateOrCreate(ctx context.Context, model *schema.Model, lookup, defaults map[string]any) (*store.Record, bool, error) {
	matches, err := tx.filter(model, lookup)
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
		rec, err := tx.Create(ctx, model, values)
		return rec, true, err
	case 1:
		rec := matches[0].Clone()
		for k, v := range defaults {
			rec.Values[k] = v
		}
		if err := tx.Save(ctx, rec); err != nil {
			return nil, false, err
		}
		return rec, false, nil
	}
	return nil, false, fmt.Errorf("%s: %w (%d found)", model.Key, store.ErrMultipleObjects, len(matches))
}

func (tx *txn) Save(_ context.Context, rec *store.Record) error {
	prepared, err := store.PrepareValues(rec.Model, store.WithDefaults(rec.Model, rec.Values))
	if err != nil {
		return err
	}
	t := tx.write(rec.Model)
	i := sort.Search(len(t.rows), func(i int) bool { return t.rows[i].ID >= rec.ID })
	if i == len(t.rows) || t.rows[i].ID != rec.ID {
		return fmt.Errorf("save %s %d: %w", rec.Model.Key, rec.ID, store.ErrNotFound)
	}
	if err := checkUnique(rec.Model, t, prepared, rec.ID); err != nil {
		return err
	}
	t.rows[i] = &store.Record{Model: rec.Model, ID: rec.ID, Values: prepared}
	rec.Values = prepared
	return nil
}

func (tx *txn) Lookup(_ context.Context, model *schema.Model, field string, value any) (schema.Identifier, error) {
	matches, err := tx.filter(model, map[string]any{field: value})
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}
	return matches[len(matches)-1].Clone(), nil
}

func (tx *txn) filter(model *schema.Model, lookup map[string]any) ([]*store.Record, error) {
	type cond struct {
		field string
		value any
	}
	conds := make([]cond, 0, len(lookup))
	for name, v := range lookup {
		f, prepared, err := store.PrepareLookup(model, name, v)
		if err != nil {
			return nil, err
		}
		conds = append(conds, cond{field: f.Name, value: prepared})
	}

	var out []*store.Record
	for _, rec := range tx.read(model).rows {
		if slices.ContainsFunc(conds, func(c cond) bool { return !store.Equal(rec.Get(c.field), c.value) }) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func checkUnique(model *schema.Model, t *table, values map[string]any, self int64) error {
	for _, f := range model.Fields {
		if !f.Unique || values[f.Name] == nil {
			continue
		}
		for _, rec := range t.rows {
			if rec.ID != self && store.Equal(rec.Values[f.Name], values[f.Name]) {
				return fmt.Errorf("%w: UNIQUE constraint failed: %s.%s", store.ErrConstraint, model.Table, f.DBColumn())
			}
		}
	}
	return nil
}

// CreateJob stores a job.
func (s *Store) CreateJob(_ context.Context, job *store.Job) error {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()

	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	copied := *job
	s.jobs[job.ID] = &copied
	return nil
}

// GetJob returns a job by id.
func (s *Store) GetJob(_ context.Context, id uuid.UUID) (*store.Job, error) {
	s.metaMu.RLock()
	defer s.metaMu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, store.ErrNotFound)
	}
	copied := *job
	return &copied, nil
}

// ListJobs returns the newest jobs first. A limit <= 0 means all.
func (s *Store) ListJobs(_ context.Context, limit int) ([]*store.Job, error) {
	s.metaMu.RLock()
	defer s.metaMu.RUnlock()

	out := make([]*store.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		copied := *job
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CreateLog stores a new run log.
func (s *Store) CreateLog(_ context.Context, entry *runlog.Entry) error {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.ImportedAt.IsZero() {
		entry.ImportedAt = time.Now().UTC()
	}
	copied := *entry
	s.logs[entry.ID] = &copied
	return nil
}

// SaveLog overwrites a run log. It implements runlog.Sink.
func (s *Store) SaveLog(_ context.Context, entry *runlog.Entry) error {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()

	if _, ok := s.logs[entry.ID]; !ok {
		return fmt.Errorf("log %s: %w", entry.ID, store.ErrNotFound)
	}
	copied := *entry
	s.logs[entry.ID] = &copied
	return nil
}

// GetLog returns a run log by id.
func (s *Store) GetLog(_ context.Context, id uuid.UUID) (*runlog.Entry, error) {
	s.metaMu.RLock()
	defer s.metaMu.RUnlock()

	entry, ok := s.logs[id]
	if !ok {
		return nil, fmt.Errorf("log %s: %w", id, store.ErrNotFound)
	}
	copied := *entry
	return &copied, nil
}

// ListLogs returns a job's logs, oldest first.
func (s *Store) ListLogs(_ context.Context, jobID uuid.UUID) ([]*runlog.Entry, error) {
	s.metaMu.RLock()
	defer s.metaMu.RUnlock()

	var out []*runlog.Entry
	for _, entry := range s.logs {
		if entry.JobID == jobID {
			copied := *entry
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ImportedAt.Before(out[j].ImportedAt) })
	return out, nil
}
