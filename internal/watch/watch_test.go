package watch

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/tabimport/internal/importer"
	"github.com/JonMunkholm/tabimport/internal/runlog"
	"github.com/JonMunkholm/tabimport/internal/store"
)

type submitted struct {
	model   string
	name    string
	content string
	opts    importer.Options
}

type fakeSubmitter struct {
	mu   sync.Mutex
	jobs []submitted
	err  error
}

func (f *fakeSubmitter) SubmitJob(_ context.Context, modelKey, fileName string, src io.Reader, opts importer.Options) (*importer.Submission, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.jobs = append(f.jobs, submitted{model: modelKey, name: fileName, content: string(data), opts: opts})
	f.mu.Unlock()
	return &importer.Submission{
		Job: &store.Job{ID: uuid.New(), ModelKey: modelKey},
		Log: &runlog.Entry{ID: uuid.New()},
	}, nil
}

func (f *fakeSubmitter) submitted() []submitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]submitted(nil), f.jobs...)
}

func write(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestProcess_SiblingJobFile(t *testing.T) {
	dir := t.TempDir()
	svc := &fakeSubmitter{}
	w, err := New(dir, svc)
	require.NoError(t, err)

	src := write(t, dir, "items.csv", "name\nx\n")
	write(t, dir, "items.job.yaml", "model: inventory.item\nidentity: [name]\n")

	_, err = w.Process(context.Background(), src)
	require.NoError(t, err)

	jobs := svc.submitted()
	require.Len(t, jobs, 1)
	assert.Equal(t, "inventory.item", jobs[0].model)
	assert.Equal(t, "items.csv", jobs[0].name)
	assert.Equal(t, "name\nx\n", jobs[0].content)
	assert.Equal(t, []string{"name"}, jobs[0].opts.Identity)

	assert.NoFileExists(t, src)
	assert.FileExists(t, filepath.Join(dir, UploadedDir, "items.csv"))
	assert.FileExists(t, filepath.Join(dir, UploadedDir, "items.job.yaml"))
}

func TestProcess_DirectoryJobFile(t *testing.T) {
	dir := t.TempDir()
	svc := &fakeSubmitter{}
	w, err := New(dir, svc)
	require.NoError(t, err)

	write(t, dir, "job.toml", "model = \"auth.user\"\nformat = \"table\"\n")
	first := write(t, dir, "a.tsv", "u1\n")
	second := write(t, dir, "b.tsv", "u2\n")

	for _, p := range []string{first, second} {
		_, err := w.Process(context.Background(), p)
		require.NoError(t, err)
	}

	jobs := svc.submitted()
	require.Len(t, jobs, 2)
	assert.Equal(t, "table", jobs[1].opts.Format)
	assert.FileExists(t, filepath.Join(dir, "job.toml"), "directory job file stays")
}

func TestProcess_Failures(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
		want  error
	}{
		{"no job file", map[string]string{}, ErrNoJob},
		{"job without model", map[string]string{"items.job.json": `{"format": "csv"}`}, importer.ErrInvalidOptions},
		{"malformed job", map[string]string{"items.job.json": `{broken`}, importer.ErrInvalidOptions},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			svc := &fakeSubmitter{}
			w, err := New(dir, svc)
			require.NoError(t, err)

			src := write(t, dir, "items.csv", "name\nx\n")
			for name, content := range tt.files {
				write(t, dir, name, content)
			}

			_, err = w.Process(context.Background(), src)
			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, svc.submitted())
			assert.FileExists(t, src, "failed sources stay in place")
		})
	}
}

func TestProcess_NameCollision(t *testing.T) {
	dir := t.TempDir()
	svc := &fakeSubmitter{}
	w, err := New(dir, svc)
	require.NoError(t, err)
	write(t, dir, "job.json", `{"model": "auth.user"}`)

	for range 2 {
		src := write(t, dir, "users.csv", "username\nu1\n")
		_, err := w.Process(context.Background(), src)
		require.NoError(t, err)
	}

	entries, err := os.ReadDir(filepath.Join(dir, UploadedDir))
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestIsSource(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir, &fakeSubmitter{})
	require.NoError(t, err)

	tests := []struct {
		name string
		want bool
	}{
		{"items.csv", true},
		{"items.job.json", false},
		{"job.yaml", false},
		{".hidden.csv", false},
	}
	for _, tt := range tests {
		path := write(t, dir, tt.name, "x")
		assert.Equal(t, tt.want, w.isSource(path), tt.name)
	}
	assert.False(t, w.isSource(filepath.Join(dir, UploadedDir)), "directories are skipped")
	assert.False(t, w.isSource(filepath.Join(dir, "missing.csv")))
}

func TestRun_SubmitsExistingAndNewFiles(t *testing.T) {
	dir := t.TempDir()
	svc := &fakeSubmitter{}
	w, err := New(dir, svc, WithSettle(20*time.Millisecond))
	require.NoError(t, err)

	write(t, dir, "job.json", `{"model": "inventory.item"}`)
	write(t, dir, "before.csv", "name\na\n")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return len(svc.submitted()) == 1 }, 5*time.Second, 10*time.Millisecond)

	write(t, dir, "after.csv", "name\nb\n")
	require.Eventually(t, func() bool { return len(svc.submitted()) == 2 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	names := []string{svc.submitted()[0].name, svc.submitted()[1].name}
	assert.Equal(t, []string{"before.csv", "after.csv"}, names)
	assert.FileExists(t, filepath.Join(dir, UploadedDir, "after.csv"))
}
