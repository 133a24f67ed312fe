package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/tabimport/internal/dataset"
	"github.com/JonMunkholm/tabimport/internal/reflection"
	"github.com/JonMunkholm/tabimport/internal/runlog"
	"github.com/JonMunkholm/tabimport/internal/schema"
	"github.com/JonMunkholm/tabimport/internal/storage"
	"github.com/JonMunkholm/tabimport/internal/store"
)

// ErrUnknownModel is returned when a job names a model that is not registered.
var ErrUnknownModel = errors.New("unknown model")

// DefaultRowsReport is how many imported rows separate progress lines.
const DefaultRowsReport = 1000

// leadingEmptyLimit is the number of empty rows tolerated before the first
// success. The next empty row aborts the run.
const leadingEmptyLimit = 2

// Files opens stored uploads.
type Files interface {
	Open(name string, mode storage.Mode) (io.ReadCloser, error)
}

// Runner executes import runs. A Runner holds no per-run state and may run
// several logs concurrently.
type Runner struct {
	Logs     store.LogStore
	Jobs     store.JobStore
	Files    Files
	Records  store.Store
	Parsers  *dataset.Registry                    // nil means dataset.NewRegistry()
	Registry *reflection.Registry                 // nil means reflection.Default
	Models   func(key string) (*schema.Model, bool) // nil means schema.Get

	RowsReport  int           // progress line interval, DefaultRowsReport when 0
	LookupCache bool          // memoize lookup reflections for the run
	Timeout     time.Duration // 0 means no limit

	Logger *slog.Logger     // process logger, slog.Default() when nil
	Now    func() time.Time // run-log clock, time.Now when nil
}

// Run imports the job of the given log. It never returns an error: every
// outcome is written to the run log, which always ends finished. A log
// that does not exist makes Run a no-op.
func (r *Runner) Run(ctx context.Context, logID uuid.UUID) {
	logger := r.logger().With("log_id", logID)

	entry, err := r.Logs.GetLog(ctx, logID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logger.Error("failed to load run log", "error", err)
		}
		return
	}

	opts := []runlog.Option{runlog.WithLogger(r.logger())}
	if r.Now != nil {
		opts = append(opts, runlog.WithClock(r.Now))
	}
	log := runlog.New(ctx, entry, r.Logs, opts...)
	defer log.Finish()

	job, err := r.Jobs.GetJob(ctx, entry.JobID)
	if err != nil {
		log.Error("Unexpected error: %s", err.Error())
		return
	}
	log.Info("Trying to import %s", job.UploadFile)

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	start := time.Now()
	if err := r.guarded(ctx, log, job); err != nil {
		log.Error("Unexpected error: %s", err.Error())
	}
	logger.Info("import run done", "job_id", job.ID, "duration", time.Since(start))
}

// guarded turns a panic anywhere in the run into an error.
func (r *Runner) guarded(ctx context.Context, log *runlog.Log, job *store.Job) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return r.tryImport(ctx, log, job)
}

func (r *Runner) tryImport(ctx context.Context, log *runlog.Log, job *store.Job) error {
	opts, err := DecodeOptions(job.Options)
	if err != nil {
		return err
	}

	mode, ok := storage.ParseMode(opts.ModeOrDefault())
	if !ok {
		log.Warning("Mode should be either rb (read binary), or rt (read text), got %s, ignored", opts.Mode)
		mode = storage.ModeBinary
	}

	format := opts.FormatOrDefault()
	parser, err := r.parsers().Parser(format)
	if err != nil {
		log.Warning("Read function not found, finished: read_%s", format)
		return nil
	}

	ds, err := r.parse(parser, job.UploadFile, mode, opts.Parameters)
	if err != nil {
		return err
	}
	log.Info("Import file has been recognized, %d columns, %d rows: %s", len(ds.Columns), ds.Len(), job.UploadFile)

	if len(opts.Headers) > 0 {
		dataset.ApplyHeaders(ds, opts.Headers)
	}
	if !ds.HeaderDetected {
		dataset.SynthesizeHeaders(ds)
		log.Info("Headers not found, replacing by sequential numbers: %s", strings.Join(ds.Columns, ", "))
	}

	model, ok := r.models()(job.ModelKey)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownModel, job.ModelKey)
	}

	convertors := r.convertors(model, opts.Reflections, log)
	rcOpts := []reflection.ContextOption{reflection.WithModels(r.models())}
	if r.LookupCache {
		rcOpts = append(rcOpts, reflection.WithLookupCache())
	}
	rc := reflection.NewContext(ctx, r.registry(), r.Records, rcOpts...)

	report := r.RowsReport
	if report <= 0 {
		report = DefaultRowsReport
	}

	cnt, skipped := 0, 0
	for i, row := range ds.Rows() {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("import interrupted after %d rows: %w", cnt, err)
		}

		create, update, err := reflect(rc, model, convertors, reflection.Row(row), log)
		if err != nil {
			log.Warning("Error while importing data: %s", err.Error())
			continue
		}

		if len(create) == 0 && len(update) == 0 {
			if cnt == 0 && skipped >= leadingEmptyLimit {
				log.Warning("%d rows at the top have no reflected data, import interrupted", skipped+1)
				break
			}
			log.Warning("No any reflected data found, row skipped: %s", describeRow(ds, i))
			skipped++
			continue
		}

		if err := r.persist(ctx, model, create, update, opts.Identity); err != nil {
			log.Error("Database error while importing data: create %v, update %v, %s", create, update, err.Error())
			continue
		}

		cnt++
		if cnt%report == 0 {
			log.Info("... %d rows successfully imported ...", cnt)
		}
	}

	log.Info("Import has been finished, %d rows successfully imported", cnt)
	return nil
}

// parse opens the upload, parses it and closes it on every path.
func (r *Runner) parse(parser dataset.Parser, name string, mode storage.Mode, params map[string]any) (*dataset.Dataset, error) {
	f, err := r.Files.Open(name, mode)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ds, err := parser.Parse(f, dataset.Params(params))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	return ds, nil
}

type convertor struct {
	field string
	fn    reflection.Bound
}

// convertors binds a reflection for every model field, in declaration
// order, followed by reflections configured for properties in sorted
// order. Fields without a configured reflection map directly. Names that
// are neither a field nor a property are dropped for the whole run.
func (r *Runner) convertors(model *schema.Model, reflections map[string]any, log *runlog.Log) []convertor {
	fields := model.FieldNames()
	names := slices.Clone(fields)
	for _, name := range sortedKeys(reflections) {
		if slices.Contains(fields, name) {
			continue
		}
		if _, ok := model.Property(name); !ok {
			log.Warning("Field %s is not found in %s, reflection ignored", name, model.Key)
			continue
		}
		names = append(names, name)
	}

	out := make([]convertor, 0, len(names))
	for _, name := range names {
		raw, ok := reflections[name]
		if !ok {
			raw = "direct"
		}
		spec, err := reflection.ParseSpec(raw)
		if err != nil {
			log.Warning("The reflection is not formatted properly: %v", raw)
			continue
		}
		fn, err := r.registry().Bind(spec)
		if err != nil {
			log.Warning("Reflection function %s has not been registered, ignored", spec.Function)
			continue
		}
		out = append(out, convertor{field: name, fn: fn})
	}
	return out
}

// reflect evaluates every convertor for one row. The first error (or panic)
// rejects the whole row.
func reflect(rc *reflection.Context, model *schema.Model, convertors []convertor, row reflection.Row, log reflection.Logger) (create, update reflection.Values, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%v", p)
		}
	}()

	create, update = reflection.Values{}, reflection.Values{}
	for _, c := range convertors {
		out, err := c.fn(rc, model, c.field, row, log)
		if err != nil {
			return nil, nil, err
		}
		maps.Copy(create, out.Create)
		maps.Copy(update, out.Update)
	}
	return create, update, nil
}

// persist writes one row atomically: an upsert keyed on the identity
// subset of create (or a plain insert), then the update stage assigned and
// saved once.
func (r *Runner) persist(ctx context.Context, model *schema.Model, create, update reflection.Values, identity []string) error {
	return r.Records.WithinTx(ctx, func(tx store.Tx) error {
		ident := make(map[string]any)
		for _, k := range identity {
			if v, ok := create[k]; ok {
				ident[k] = v
			}
		}

		var (
			rec *store.Record
			err error
		)
		if len(ident) > 0 {
			rec, _, err = tx.UpdateOrCreate(ctx, model, ident, create)
		} else {
			rec, err = tx.Create(ctx, model, create)
		}
		if err != nil {
			return err
		}
		if len(update) == 0 {
			return nil
		}

		target := store.Target{Tx: tx, Record: rec}
		for _, k := range sortedKeys(update) {
			prop, ok := model.Property(k)
			if !ok {
				target.Assign(k, update[k])
				continue
			}
			if prop.Set == nil {
				return fmt.Errorf("%s: property %s is read-only", model.Key, k)
			}
			if err := prop.Set(ctx, target, update[k]); err != nil {
				return err
			}
		}
		return tx.Save(ctx, rec)
	})
}

func describeRow(ds *dataset.Dataset, i int) string {
	rec := ds.Records[i]
	parts := make([]string, len(ds.Columns))
	for j, col := range ds.Columns {
		var v any
		if j < len(rec) {
			v = rec[j]
		}
		parts[j] = fmt.Sprintf("%s:%#v", col, v)
	}
	return strings.Join(parts, ", ")
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

func (r *Runner) parsers() *dataset.Registry {
	if r.Parsers != nil {
		return r.Parsers
	}
	return defaultParsers
}

func (r *Runner) registry() *reflection.Registry {
	if r.Registry != nil {
		return r.Registry
	}
	return reflection.Default
}

func (r *Runner) models() func(string) (*schema.Model, bool) {
	if r.Models != nil {
		return r.Models
	}
	return schema.Get
}

var defaultParsers = dataset.NewRegistry()
