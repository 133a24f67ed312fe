package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/tabimport/internal/dataset"
	"github.com/JonMunkholm/tabimport/internal/reflection"
	"github.com/JonMunkholm/tabimport/internal/runlog"
	"github.com/JonMunkholm/tabimport/internal/schema"
	"github.com/JonMunkholm/tabimport/internal/store"
)

var (
	// ErrJobNotFound is returned for unknown job ids.
	ErrJobNotFound = errors.New("import job not found")

	// ErrLogNotFound is returned for unknown log ids.
	ErrLogNotFound = errors.New("import log not found")

	// ErrModelNotImportable is returned for models excluded by settings.
	ErrModelNotImportable = errors.New("model is not importable")
)

// Uploads stores and opens uploaded sources.
type Uploads interface {
	Files
	Save(name string, r io.Reader) (string, error)
	Delete(name string) error
}

// Settings are the service-wide import settings.
type Settings struct {
	Sync          bool          // run in the caller's goroutine
	RowsReport    int           // progress line interval
	Models        []string      // importable model keys, empty means all
	Except        []string      // model keys never importable
	MaxConcurrent int           // async runs at once
	MaxWait       time.Duration // wait for a free run slot
	RunTimeout    time.Duration // per-run limit, 0 means none
	LookupCache   bool          // memoize lookup reflections per run
}

// Service accepts import jobs and dispatches their runs.
type Service struct {
	jobs     store.JobStore
	logs     store.LogStore
	uploads  Uploads
	runner   *Runner
	limiter  *RunLimiter
	settings Settings
	logger   *slog.Logger

	// async runs outlive the request that submitted them
	baseCtx context.Context
	wg      sync.WaitGroup
}

// Deps are the collaborators of a Service.
type Deps struct {
	Jobs     store.JobStore
	Logs     store.LogStore
	Records  store.Store
	Uploads  Uploads
	Parsers  *dataset.Registry
	Registry *reflection.Registry
	Models   func(key string) (*schema.Model, bool)
	Logger   *slog.Logger
}

// NewService wires a service. ctx bounds asynchronous runs.
func NewService(ctx context.Context, deps Deps, settings Settings) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Parsers == nil {
		deps.Parsers = dataset.NewRegistry()
	}
	if deps.Registry == nil {
		deps.Registry = reflection.Default
	}
	if deps.Models == nil {
		deps.Models = schema.Get
	}

	return &Service{
		jobs:    deps.Jobs,
		logs:    deps.Logs,
		uploads: deps.Uploads,
		runner: &Runner{
			Logs:        deps.Logs,
			Jobs:        deps.Jobs,
			Files:       deps.Uploads,
			Records:     deps.Records,
			Parsers:     deps.Parsers,
			Registry:    deps.Registry,
			Models:      deps.Models,
			RowsReport:  settings.RowsReport,
			LookupCache: settings.LookupCache,
			Timeout:     settings.RunTimeout,
			Logger:      logger,
		},
		limiter:  NewRunLimiter(settings.MaxConcurrent, settings.MaxWait),
		settings: settings,
		logger:   logger,
		baseCtx:  context.WithoutCancel(ctx),
	}
}

// Runner returns the orchestrator used for runs.
func (s *Service) Runner() *Runner { return s.runner }

// Limiter returns the async run limiter.
func (s *Service) Limiter() *RunLimiter { return s.limiter }

// Submission is the result of SubmitJob and Rerun.
type Submission struct {
	Job      *store.Job    `json:"job"`
	Log      *runlog.Entry `json:"log"`
	Warnings []string      `json:"warnings,omitempty"`
}

// SubmitJob stores the upload, records the job and starts its first run.
// In sync mode the run has finished when SubmitJob returns.
func (s *Service) SubmitJob(ctx context.Context, modelKey, fileName string, src io.Reader, opts Options) (*Submission, error) {
	model, err := s.Model(modelKey)
	if err != nil {
		return nil, err
	}

	raw, err := opts.Encode()
	if err != nil {
		return nil, err
	}

	stored, err := s.uploads.Save(fileName, src)
	if err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	job := &store.Job{ModelKey: model.Key, UploadFile: stored, Options: raw}
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		_ = s.uploads.Delete(stored)
		return nil, fmt.Errorf("create job: %w", err)
	}

	sub, err := s.start(ctx, job)
	if err != nil {
		return nil, err
	}
	sub.Warnings = opts.Validate(s.runner.Parsers, s.runner.Registry)
	for _, w := range sub.Warnings {
		s.logger.Warn("import option warning", "job_id", job.ID, "warning", w)
	}
	return sub, nil
}

// Rerun starts another run of an existing job with a fresh log. Records
// written by earlier runs are kept.
func (s *Service) Rerun(ctx context.Context, jobID uuid.UUID) (*Submission, error) {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if _, err := s.Model(job.ModelKey); err != nil {
		return nil, err
	}
	return s.start(ctx, job)
}

// start creates the run log and dispatches the run.
func (s *Service) start(ctx context.Context, job *store.Job) (*Submission, error) {
	entry := &runlog.Entry{JobID: job.ID}
	if err := s.logs.CreateLog(ctx, entry); err != nil {
		return nil, fmt.Errorf("create log: %w", err)
	}
	log := runlog.New(ctx, entry, s.logs, runlog.WithLogger(s.logger))
	log.Info("Starting import for: %s", job.UploadFile)

	if err := s.dispatch(ctx, entry.ID); err != nil {
		log.Error("Unexpected error: %s", err.Error())
		log.Finish()
		return nil, err
	}

	current, err := s.logs.GetLog(ctx, entry.ID)
	if err != nil {
		return nil, fmt.Errorf("reload log: %w", err)
	}
	return &Submission{Job: job, Log: current}, nil
}

func (s *Service) dispatch(ctx context.Context, logID uuid.UUID) error {
	if s.settings.Sync {
		s.runner.Run(ctx, logID)
		return nil
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.limiter.Release()
		defer func() {
			if p := recover(); p != nil {
				s.logger.Error("import run panicked", "log_id", logID, "panic", p)
			}
		}()
		s.runner.Run(s.baseCtx, logID)
	}()
	return nil
}

// Wait blocks until every async run has returned or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetJob returns a job by id.
func (s *Service) GetJob(ctx context.Context, id uuid.UUID) (*store.Job, error) {
	job, err := s.jobs.GetJob(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return job, err
}

// ListJobs returns the most recent jobs first.
func (s *Service) ListJobs(ctx context.Context, limit int) ([]*store.Job, error) {
	return s.jobs.ListJobs(ctx, limit)
}

// ListLogs returns the runs of a job, oldest first.
func (s *Service) ListLogs(ctx context.Context, jobID uuid.UUID) ([]*runlog.Entry, error) {
	if _, err := s.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return s.logs.ListLogs(ctx, jobID)
}

// GetLog returns a run log by id.
func (s *Service) GetLog(ctx context.Context, id uuid.UUID) (*runlog.Entry, error) {
	entry, err := s.logs.GetLog(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrLogNotFound, id)
	}
	return entry, err
}

// Model returns an importable model.
func (s *Service) Model(key string) (*schema.Model, error) {
	model, ok := s.runner.Models(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, key)
	}
	if !s.importable(key) {
		return nil, fmt.Errorf("%w: %s", ErrModelNotImportable, key)
	}
	return model, nil
}

// Models returns the registered models open for import, sorted by key.
func (s *Service) Models() []*schema.Model {
	var out []*schema.Model
	for _, m := range schema.All() {
		if _, ok := s.runner.Models(m.Key); ok && s.importable(m.Key) {
			out = append(out, m)
		}
	}
	return out
}

func (s *Service) importable(key string) bool {
	if len(s.settings.Models) > 0 && !slices.Contains(s.settings.Models, key) {
		return false
	}
	return !slices.Contains(s.settings.Except, key)
}

// Reflections returns the registered reflection names.
func (s *Service) Reflections() []string {
	return s.runner.Registry.Names()
}

// Formats returns the supported source formats.
func (s *Service) Formats() []string {
	return s.runner.Parsers.Formats()
}
