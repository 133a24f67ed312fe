package sqlgen

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/tabimport/internal/runlog"
	"github.com/JonMunkholm/tabimport/internal/schema"
	"github.com/JonMunkholm/tabimport/internal/store"
)

// Meta implements store.JobStore and store.LogStore on a Queryer.
type Meta struct {
	Q Queryer
	D Dialect
}

var (
	timeField = schema.Field{Kind: schema.KindDateTime}
	boolField = schema.Field{Kind: schema.KindBool}
)

func (m Meta) marks(n int) string {
	marks := make([]string, n)
	for i := range marks {
		marks[i] = m.D.Placeholder(i + 1)
	}
	return strings.Join(marks, ", ")
}

// CreateJob inserts a job, assigning an id and creation time when unset.
func (m Meta) CreateJob(ctx context.Context, job *store.Job) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	options := string(job.Options)
	if options == "" {
		options = "{}"
	}
	query := "INSERT INTO import_jobs (id, model_key, upload_file, options, created_at) VALUES (" + m.marks(5) + ")"
	if err := m.Q.Exec(ctx, query, job.ID.String(), job.ModelKey, job.UploadFile, options, m.D.Encode(timeField, job.CreatedAt)); err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

const jobColumns = "id, model_key, upload_file, options, created_at"

func scanJob(scan func(dest ...any) error) (*store.Job, error) {
	var (
		id, created any
		job         store.Job
		options     string
	)
	if err := scan(&id, &job.ModelKey, &job.UploadFile, &options, &created); err != nil {
		return nil, err
	}
	var err error
	if job.ID, err = decodeUUID(id); err != nil {
		return nil, err
	}
	job.Options = []byte(options)
	job.CreatedAt = decodeTime(created)
	return &job, nil
}

// GetJob returns a job by id.
func (m Meta) GetJob(ctx context.Context, id uuid.UUID) (*store.Job, error) {
	var job *store.Job
	query := "SELECT " + jobColumns + " FROM import_jobs WHERE id = " + m.D.Placeholder(1)
	err := m.Q.Query(ctx, query, []any{id.String()}, func(scan func(dest ...any) error) error {
		var err error
		job, err = scanJob(scan)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	if job == nil {
		return nil, fmt.Errorf("job %s: %w", id, store.ErrNotFound)
	}
	return job, nil
}

// ListJobs returns the newest jobs first. A limit <= 0 means all.
func (m Meta) ListJobs(ctx context.Context, limit int) ([]*store.Job, error) {
	query := "SELECT " + jobColumns + " FROM import_jobs ORDER BY created_at DESC"
	var args []any
	if limit > 0 {
		query += " LIMIT " + m.D.Placeholder(1)
		args = append(args, limit)
	}
	var jobs []*store.Job
	err := m.Q.Query(ctx, query, args, func(scan func(dest ...any) error) error {
		job, err := scanJob(scan)
		if err != nil {
			return err
		}
		jobs = append(jobs, job)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// CreateLog inserts a run log, assigning an id and time when unset.
func (m Meta) CreateLog(ctx context.Context, entry *runlog.Entry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.ImportedAt.IsZero() {
		entry.ImportedAt = time.Now().UTC()
	}
	query := "INSERT INTO import_logs (id, job_id, imported_at, log_text, is_finished) VALUES (" + m.marks(5) + ")"
	err := m.Q.Exec(ctx, query, entry.ID.String(), entry.JobID.String(),
		m.D.Encode(timeField, entry.ImportedAt), entry.Text, m.D.Encode(boolField, entry.Finished))
	if err != nil {
		return fmt.Errorf("create log: %w", err)
	}
	return nil
}

// SaveLog writes the text and finished flag. It implements runlog.Sink.
func (m Meta) SaveLog(ctx context.Context, entry *runlog.Entry) error {
	query := fmt.Sprintf("UPDATE import_logs SET log_text = %s, is_finished = %s WHERE id = %s",
		m.D.Placeholder(1), m.D.Placeholder(2), m.D.Placeholder(3))
	if err := m.Q.Exec(ctx, query, entry.Text, m.D.Encode(boolField, entry.Finished), entry.ID.String()); err != nil {
		return fmt.Errorf("save log %s: %w", entry.ID, err)
	}
	return nil
}

const logColumns = "id, job_id, imported_at, log_text, is_finished"

func scanLog(scan func(dest ...any) error) (*runlog.Entry, error) {
	var (
		id, jobID, imported, finished any
		entry                         runlog.Entry
	)
	if err := scan(&id, &jobID, &imported, &entry.Text, &finished); err != nil {
		return nil, err
	}
	var err error
	if entry.ID, err = decodeUUID(id); err != nil {
		return nil, err
	}
	if entry.JobID, err = decodeUUID(jobID); err != nil {
		return nil, err
	}
	entry.ImportedAt = decodeTime(imported)
	entry.Finished, _ = Decode(boolField, finished).(bool)
	return &entry, nil
}

// GetLog returns a run log by id.
func (m Meta) GetLog(ctx context.Context, id uuid.UUID) (*runlog.Entry, error) {
	var entry *runlog.Entry
	query := "SELECT " + logColumns + " FROM import_logs WHERE id = " + m.D.Placeholder(1)
	err := m.Q.Query(ctx, query, []any{id.String()}, func(scan func(dest ...any) error) error {
		var err error
		entry, err = scanLog(scan)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get log %s: %w", id, err)
	}
	if entry == nil {
		return nil, fmt.Errorf("log %s: %w", id, store.ErrNotFound)
	}
	return entry, nil
}

// ListLogs returns a job's logs, oldest first.
func (m Meta) ListLogs(ctx context.Context, jobID uuid.UUID) ([]*runlog.Entry, error) {
	query := "SELECT " + logColumns + " FROM import_logs WHERE job_id = " + m.D.Placeholder(1) + " ORDER BY imported_at"
	var entries []*runlog.Entry
	err := m.Q.Query(ctx, query, []any{jobID.String()}, func(scan func(dest ...any) error) error {
		entry, err := scanLog(scan)
		if err != nil {
			return err
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	return entries, nil
}

func decodeUUID(v any) (uuid.UUID, error) {
	switch x := v.(type) {
	case [16]byte:
		return uuid.UUID(x), nil
	case uuid.UUID:
		return x, nil
	case string:
		return uuid.Parse(x)
	case []byte:
		if len(x) == 16 {
			return uuid.FromBytes(x)
		}
		return uuid.ParseBytes(x)
	}
	return uuid.Nil, errors.New("unsupported uuid value")
}

func decodeTime(v any) time.Time {
	t, _ := Decode(timeField, v).(time.Time)
	return t
}
