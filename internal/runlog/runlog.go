// Package runlog implements the append-only text log kept for every import
// run.
//
// Each message becomes one timestamped line of the form
//
//	2024-05-01T10:00:00Z: [WARNING(3)] Found a column value X not in mapping: kind
//
// and the whole entry is persisted through a [Sink] immediately after the
// line is appended. Lines are mirrored to slog with the log and job ids so
// process logs and run logs can be correlated.
package runlog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Level is a run-log severity rank. Lower is more severe.
type Level int

const (
	Critical Level = 1
	Error    Level = 2
	Warning  Level = 3
	Info     Level = 4
	Debug    Level = 5
)

func (l Level) String() string {
	switch l {
	case Critical:
		return "CRITICAL"
	case Error:
		return "ERROR"
	case Warning:
		return "WARNING"
	case Info:
		return "INFO"
	case Debug:
		return "DEBUG"
	default:
		return fmt.Sprintf("LEVEL%d", int(l))
	}
}

// Slog maps the rank onto the process logger's levels.
func (l Level) Slog() slog.Level {
	switch {
	case l <= Error:
		return slog.LevelError
	case l == Warning:
		return slog.LevelWarn
	case l == Info:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

// Entry is the persisted state of one run.
type Entry struct {
	ID         uuid.UUID `json:"id"`
	JobID      uuid.UUID `json:"job_id"`
	ImportedAt time.Time `json:"imported_at"`
	Text       string    `json:"text"`
	Finished   bool      `json:"finished"`
}

// Lines returns the non-empty lines of the log text.
func (e Entry) Lines() []string {
	var lines []string
	for _, line := range strings.Split(e.Text, "\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// Sink persists a run-log entry. It is called after every appended line.
type Sink interface {
	SaveLog(ctx context.Context, entry *Entry) error
}

// Log appends leveled lines to an entry with write-through persistence.
// Methods never fail: persistence errors go to the process logger.
type Log struct {
	mu     sync.Mutex
	ctx    context.Context
	entry  Entry
	sink   Sink
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Log.
type Option func(*Log)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// WithLogger overrides the process logger lines are mirrored to.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) { l.logger = logger }
}

// New wraps entry. The entry is copied; use Snapshot to read it back.
// Persistence ignores cancellation of ctx so the closing lines of a
// timed-out run are still written.
func New(ctx context.Context, entry *Entry, sink Sink, opts ...Option) *Log {
	l := &Log{
		ctx:    context.WithoutCancel(ctx),
		entry:  *entry,
		sink:   sink,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("log_id", entry.ID, "job_id", entry.JobID)
	return l
}

func (l *Log) Debug(template string, args ...any)    { l.message(Debug, template, args...) }
func (l *Log) Info(template string, args ...any)     { l.message(Info, template, args...) }
func (l *Log) Warning(template string, args ...any)  { l.message(Warning, template, args...) }
func (l *Log) Error(template string, args ...any)    { l.message(Error, template, args...) }
func (l *Log) Critical(template string, args ...any) { l.message(Critical, template, args...) }

// Finish marks the run as finished and appends the closing line.
// Calling it again only appends another line.
func (l *Log) Finish() {
	l.mu.Lock()
	l.entry.Finished = true
	l.mu.Unlock()
	l.Info("Finished")
}

// Finished reports whether Finish has been called.
func (l *Log) Finished() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entry.Finished
}

// Snapshot returns a copy of the current entry.
func (l *Log) Snapshot() Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entry
}

func (l *Log) message(level Level, template string, args ...any) {
	msg, err := render(template, args)
	if err != nil {
		level = Error
		msg = fmt.Sprintf("Error formatting %#v using %q: %s", args, template, err)
	}
	l.append(level, msg)
}

func (l *Log) append(level Level, msg string) {
	l.mu.Lock()
	now := l.now()
	line := fmt.Sprintf("%s: [%s(%d)] %s", now.Format(time.RFC3339), level, int(level), msg)
	if l.entry.Text != "" {
		l.entry.Text += "\n"
	}
	l.entry.Text += line
	l.entry.ImportedAt = now
	snapshot := l.entry
	l.mu.Unlock()

	l.logger.Log(l.ctx, level.Slog(), msg)

	if l.sink == nil {
		return
	}
	if err := l.sink.SaveLog(l.ctx, &snapshot); err != nil {
		l.logger.Error("failed to persist run log", "error", err)
	}
}

// render formats template with args. Without args the template is used
// verbatim so literal percent signs survive.
func render(template string, args []any) (string, error) {
	if len(args) == 0 {
		return template, nil
	}
	msg := fmt.Sprintf(template, args...)

	// fmt reports verb and argument mismatches inline with "%!" markers.
	expected := strings.Count(template, "%!")
	for _, arg := range args {
		expected += strings.Count(fmt.Sprint(arg), "%!")
	}
	if strings.Count(msg, "%!") > expected {
		bad := msg[strings.Index(msg, "%!"):]
		if j := strings.IndexByte(bad, ')'); j >= 0 {
			bad = bad[:j+1]
		}
		return "", fmt.Errorf("bad verb or argument count: %s", bad)
	}
	return msg, nil
}
