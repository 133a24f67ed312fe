// Package watch imports files dropped into a directory.
//
// A source file "<name>.<ext>" is submitted with the job described by the
// sibling "<name>.job.json" (or .yaml, .yml, .toml), or by a directory-wide
// "job.json" when no sibling exists. The job document carries the target
// model key next to the usual import options. Submitted sources, and their
// sibling job files, move to the Uploaded subdirectory.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/JonMunkholm/tabimport/internal/importer"
)

// UploadedDir receives processed sources.
const UploadedDir = "Uploaded"

// DefaultSettle is how long a file must stay unchanged before it is submitted.
const DefaultSettle = 500 * time.Millisecond

// ErrNoJob is returned for sources without a job document.
var ErrNoJob = errors.New("no job file")

var jobKinds = []string{"json", "yaml", "yml", "toml"}

// Submitter starts import jobs.
type Submitter interface {
	SubmitJob(ctx context.Context, modelKey, fileName string, src io.Reader, opts importer.Options) (*importer.Submission, error)
}

// Watcher submits files dropped into a directory.
type Watcher struct {
	dir    string
	svc    Submitter
	logger *slog.Logger
	settle time.Duration

	mu      sync.Mutex
	pending map[string]time.Time // path -> last change
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the process logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithSettle sets the quiet period before a changed file is submitted.
func WithSettle(d time.Duration) Option {
	return func(w *Watcher) { w.settle = d }
}

// New prepares a watcher on dir and creates its Uploaded subdirectory.
func New(dir string, svc Submitter, opts ...Option) (*Watcher, error) {
	w := &Watcher{
		dir:     dir,
		svc:     svc,
		logger:  slog.Default(),
		settle:  DefaultSettle,
		pending: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(w)
	}
	if err := os.MkdirAll(filepath.Join(dir, UploadedDir), 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", UploadedDir, err)
	}
	w.logger = w.logger.With("watch_dir", dir)
	return w, nil
}

// Run submits the sources already present, then watches for new ones
// until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.logger.Info("watching for import files")

	w.Scan(ctx)

	tick := time.NewTicker(max(w.settle/2, 10*time.Millisecond))
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watch error", "error", err)
		case now := <-tick.C:
			for _, path := range w.due(now) {
				w.submit(ctx, path)
			}
		}
	}
}

// handleEvent marks created or written sources as pending.
func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}
	if !w.isSource(ev.Name) {
		return
	}
	w.mu.Lock()
	w.pending[ev.Name] = time.Now()
	w.mu.Unlock()
}

// due returns and forgets the pending paths quiet for the settle period.
func (w *Watcher) due(now time.Time) []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	var out []string
	for path, changed := range w.pending {
		if now.Sub(changed) >= w.settle {
			out = append(out, path)
			delete(w.pending, path)
		}
	}
	return out
}

// Scan submits every source currently in the directory.
func (w *Watcher) Scan(ctx context.Context) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Error("scan failed", "error", err)
		return
	}
	for _, e := range entries {
		path := filepath.Join(w.dir, e.Name())
		if w.isSource(path) {
			w.submit(ctx, path)
		}
	}
}

func (w *Watcher) submit(ctx context.Context, path string) {
	sub, err := w.Process(ctx, path)
	if err != nil {
		w.logger.Error("import file not submitted", "file", filepath.Base(path), "error", err)
		return
	}
	w.logger.Info("import file submitted",
		"file", filepath.Base(path),
		"job_id", sub.Job.ID,
		"log_id", sub.Log.ID,
	)
}

// Process submits one source and moves it to Uploaded.
func (w *Watcher) Process(ctx context.Context, path string) (*importer.Submission, error) {
	job, jobPath, err := w.jobFor(path)
	if err != nil {
		return nil, err
	}
	if job.Model == "" {
		return nil, fmt.Errorf("%w: %s names no model", importer.ErrInvalidOptions, filepath.Base(jobPath))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	sub, err := w.svc.SubmitJob(ctx, job.Model, filepath.Base(path), f, job.Options)
	f.Close()
	if err != nil {
		return nil, err
	}

	if err := w.moveToUploaded(path); err != nil {
		w.logger.Warn("processed file not moved", "file", filepath.Base(path), "error", err)
	}
	if isSibling(path, jobPath) {
		if err := w.moveToUploaded(jobPath); err != nil {
			w.logger.Warn("job file not moved", "file", filepath.Base(jobPath), "error", err)
		}
	}
	return sub, nil
}

// jobFor finds and parses the job document of a source.
func (w *Watcher) jobFor(path string) (importer.JobFile, string, error) {
	stem := strings.TrimSuffix(path, filepath.Ext(path))
	var candidates []string
	for _, kind := range jobKinds {
		candidates = append(candidates, stem+".job."+kind)
	}
	for _, kind := range jobKinds {
		candidates = append(candidates, filepath.Join(filepath.Dir(path), "job."+kind))
	}

	for _, c := range candidates {
		data, err := os.ReadFile(c)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return importer.JobFile{}, c, err
		}
		job, err := importer.ParseJobFile(c, data)
		return job, c, err
	}
	return importer.JobFile{}, "", fmt.Errorf("%w for %s", ErrNoJob, filepath.Base(path))
}

func isSibling(source, jobPath string) bool {
	stem := strings.TrimSuffix(source, filepath.Ext(source))
	return strings.HasPrefix(jobPath, stem+".job.")
}

// moveToUploaded renames path into Uploaded, prefixing a timestamp when
// the name is taken.
func (w *Watcher) moveToUploaded(path string) error {
	base := filepath.Base(path)
	dst := filepath.Join(w.dir, UploadedDir, base)
	if _, err := os.Stat(dst); err == nil {
		dst = filepath.Join(w.dir, UploadedDir, time.Now().Format("20060102T150405.000000000")+"_"+base)
	}
	return os.Rename(path, dst)
}

// isSource reports whether path is a regular, visible, non-job file
// directly in the watched directory.
func (w *Watcher) isSource(path string) bool {
	if filepath.Dir(path) != filepath.Clean(w.dir) {
		return false
	}
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "job.") || strings.Contains(name, ".job.") {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
