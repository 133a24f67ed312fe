package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/tabimport/internal/runlog"
	"github.com/JonMunkholm/tabimport/internal/schema"
	"github.com/JonMunkholm/tabimport/internal/schema/models"
	"github.com/JonMunkholm/tabimport/internal/store"
)

func create(t *testing.T, s *Store, model *schema.Model, values map[string]any) *store.Record {
	t.Helper()
	var rec *store.Record
	err := s.WithinTx(context.Background(), func(tx store.Tx) error {
		var err error
		rec, err = tx.Create(context.Background(), model, values)
		return err
	})
	require.NoError(t, err)
	return rec
}

func TestCreate_DefaultsAndPrepare(t *testing.T) {
	s := New()
	rec := create(t, s, models.Item, map[string]any{"quantity": "112", "weight": 54.333, "price": 34.125})

	assert.Equal(t, int64(1), rec.ID)
	assert.Equal(t, "", rec.Values["name"], "omitted text fields default to empty")
	assert.Equal(t, "", rec.Values["kind"])
	assert.Equal(t, int64(112), rec.Values["quantity"])
	assert.Nil(t, rec.Values["user"])
	assert.Equal(t, "34.12", schema.FormatDecimal(rec.Values["price"].(pgtype.Numeric)))

	n, err := s.Count(context.Background(), models.Item)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestWithinTx_RollbackOnError(t *testing.T) {
	s := New()
	create(t, s, models.Item, map[string]any{"name": "kept"})

	boom := errors.New("boom")
	err := s.WithinTx(context.Background(), func(tx store.Tx) error {
		_, err := tx.Create(context.Background(), models.Item, map[string]any{"name": "dropped"})
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	recs, err := s.Records(context.Background(), models.Item)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "kept", recs[0].Values["name"])

	rec := create(t, s, models.Item, map[string]any{"name": "next"})
	assert.Equal(t, int64(2), rec.ID, "ids of rolled back rows are not consumed")
}

func TestCreate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		values map[string]any
		msg    string
	}{
		{"too long", map[string]any{"name": string(make([]byte, 129))}, "value too long"},
		{"bad integer", map[string]any{"quantity": "abc"}, "must be an integer"},
		{"unknown field", map[string]any{"colour": "red"}, `no field named "colour"`},
		{"null text", map[string]any{"name": nil}, "NOT NULL constraint failed: name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New()
			err := s.WithinTx(context.Background(), func(tx store.Tx) error {
				_, err := tx.Create(context.Background(), models.Item, tt.values)
				return err
			})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestUpdateOrCreate(t *testing.T) {
	s := New()
	ctx := context.Background()

	upsert := func(lookup, defaults map[string]any) (*store.Record, bool) {
		var rec *store.Record
		var created bool
		err := s.WithinTx(ctx, func(tx store.Tx) error {
			var err error
			rec, created, err = tx.UpdateOrCreate(ctx, models.Item, lookup, defaults)
			return err
		})
		require.NoError(t, err)
		return rec, created
	}

	rec, created := upsert(map[string]any{"name": "cvbncv"}, map[string]any{"name": "cvbncv", "quantity": 1})
	assert.True(t, created)

	again, created := upsert(map[string]any{"name": "cvbncv"}, map[string]any{"quantity": 2})
	assert.False(t, created)
	assert.Equal(t, rec.ID, again.ID)
	assert.Equal(t, int64(2), again.Values["quantity"])

	n, _ := s.Count(ctx, models.Item)
	assert.Equal(t, 1, n)

	create(t, s, models.Item, map[string]any{"name": "cvbncv"})
	err := s.WithinTx(ctx, func(tx store.Tx) error {
		_, _, err := tx.UpdateOrCreate(ctx, models.Item, map[string]any{"name": "cvbncv"}, nil)
		return err
	})
	assert.ErrorIs(t, err, store.ErrMultipleObjects)
}

func TestLookup(t *testing.T) {
	s := New()
	ctx := context.Background()
	u1 := create(t, s, models.User, map[string]any{"username": "u1"})
	u2 := create(t, s, models.User, map[string]any{"username": "u2"})

	tests := []struct {
		name  string
		field string
		value any
		want  int64
	}{
		{"by username", "username", "u2", u2.ID},
		{"by pk", "pk", u1.ID, u1.ID},
		{"by pk as text", "pk", "1", u1.ID},
		{"by id float", "id", 2.0, u2.ID},
		{"missing", "username", "nobody", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			found, err := s.Lookup(ctx, models.User, tt.field, tt.value)
			require.NoError(t, err)
			if tt.want == 0 {
				assert.Nil(t, found)
				return
			}
			require.NotNil(t, found)
			assert.Equal(t, tt.want, found.PrimaryKey())
		})
	}

	_, err := s.Lookup(ctx, models.User, "nickname", "x")
	assert.Error(t, err)
}

func TestUniqueConstraint(t *testing.T) {
	s := New()
	create(t, s, models.User, map[string]any{"username": "u1"})

	err := s.WithinTx(context.Background(), func(tx store.Tx) error {
		_, err := tx.Create(context.Background(), models.User, map[string]any{"username": "u1"})
		return err
	})
	assert.ErrorIs(t, err, store.ErrConstraint)
}

func TestSave_ReferenceFromIdentifier(t *testing.T) {
	s := New()
	ctx := context.Background()
	user := create(t, s, models.User, map[string]any{"username": "u1"})
	item := create(t, s, models.Item, map[string]any{"name": "x"})

	err := s.WithinTx(ctx, func(tx store.Tx) error {
		target := store.Target{Tx: tx, Record: item}
		for _, p := range models.Item.Properties {
			if p.Name == "user_name" {
				if err := p.Set(ctx, target, "u1"); err != nil {
					return err
				}
			}
		}
		return tx.Save(ctx, item)
	})
	require.NoError(t, err)

	recs, _ := s.Records(ctx, models.Item)
	assert.Equal(t, user.ID, recs[0].Values["user"])
}

func TestJobsAndLogs(t *testing.T) {
	s := New()
	ctx := context.Background()

	job := &store.Job{ModelKey: models.ItemKey, UploadFile: "uploads/x.csv"}
	require.NoError(t, s.CreateJob(ctx, job))
	assert.NotEqual(t, uuid.Nil, job.ID)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "uploads/x.csv", got.UploadFile)

	_, err = s.GetJob(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)

	entry := &runlog.Entry{JobID: job.ID}
	require.NoError(t, s.CreateLog(ctx, entry))
	entry.Text = "line"
	require.NoError(t, s.SaveLog(ctx, entry))

	logs, err := s.ListLogs(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "line", logs[0].Text)

	assert.ErrorIs(t, s.SaveLog(ctx, &runlog.Entry{ID: uuid.New()}), store.ErrNotFound)

	jobs, err := s.ListJobs(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}
