package web

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/JonMunkholm/tabimport/internal/importer"
	"github.com/JonMunkholm/tabimport/internal/logging"
	"github.com/JonMunkholm/tabimport/internal/runlog"
	"github.com/JonMunkholm/tabimport/internal/schema"
	"github.com/JonMunkholm/tabimport/internal/store"
)

const (
	defaultListLimit = 50
	maxListLimit     = 1000

	// maxOptionsSize caps an uploaded options document.
	maxOptionsSize = 1 << 20
)

// parseIntParam parses a positive integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return min(i, maxListLimit)
}

// parseID reads a uuid route parameter.
func parseID(r *http.Request, what string) (uuid.UUID, error) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid %s id %q", errBadRequest, what, raw)
	}
	return id, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.service.Limiter().Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"active_runs": status.Active,
		"max_runs":    status.MaxConcurrent,
	})
}

// modelView is the JSON shape of a model.
type modelView struct {
	Key        string      `json:"key"`
	Label      string      `json:"label"`
	Table      string      `json:"table"`
	Fields     []fieldView `json:"fields"`
	Properties []string    `json:"properties,omitempty"`
}

type fieldView struct {
	Name      string   `json:"name"`
	Kind      string   `json:"kind"`
	Nullable  bool     `json:"nullable"`
	Unique    bool     `json:"unique,omitempty"`
	MaxLength int      `json:"max_length,omitempty"`
	Choices   []string `json:"choices,omitempty"`
	Reference string   `json:"reference,omitempty"`
}

func newModelView(m *schema.Model) modelView {
	v := modelView{Key: m.Key, Label: m.Label, Table: m.Table}
	for _, f := range m.Fields {
		fv := fieldView{
			Name:      f.Name,
			Kind:      f.Kind.String(),
			Nullable:  f.Nullable,
			Unique:    f.Unique,
			MaxLength: f.MaxLength,
			Choices:   f.Choices,
		}
		if f.Reference != nil {
			fv.Reference = f.Reference.Model
		}
		v.Fields = append(v.Fields, fv)
	}
	for _, p := range m.Properties {
		v.Properties = append(v.Properties, p.Name)
	}
	return v
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	models := s.service.Models()
	out := make([]modelView, 0, len(models))
	for _, m := range models {
		out = append(out, newModelView(m))
	}
	writeJSON(w, http.StatusOK, out)
}

// recordView is the JSON shape of a stored record.
type recordView struct {
	ID     int64          `json:"id"`
	Values map[string]any `json:"values"`
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	model, err := s.service.Model(chi.URLParam(r, "key"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	recs, err := s.records.Records(r.Context(), model)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	limit := parseIntParam(r, "limit", defaultListLimit)
	offset := parseIntParam(r, "offset", 0)
	page := pageOf(recs, offset, limit)

	out := make([]recordView, 0, len(page))
	for _, rec := range page {
		out = append(out, recordView{ID: rec.ID, Values: rec.Values})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"model":   model.Key,
		"total":   len(recs),
		"records": out,
	})
}

func pageOf(recs []*store.Record, offset, limit int) []*store.Record {
	if offset >= len(recs) {
		return nil
	}
	end := min(offset+limit, len(recs))
	return recs[offset:end]
}

func (s *Server) handleListReflections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"reflections": s.service.Reflections(),
		"formats":     s.service.Formats(),
	})
}

// handleSubmitJob accepts multipart uploads with fields:
//   - file: the source (required)
//   - model: target model key (required)
//   - options: job options, either a text field or an uploaded .json/.yaml/.toml file
//   - options_format: json, yaml or toml for a text options field (sniffed when empty)
func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	maxSize := s.cfg.Import.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) || strings.Contains(err.Error(), "request body too large") {
			s.respondError(w, r, fmt.Errorf("%w: limit is %d bytes", errTooLarge, maxSize))
			return
		}
		s.respondError(w, r, fmt.Errorf("%w: invalid form: %v", errBadRequest, err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	modelKey := r.FormValue("model")
	if modelKey == "" {
		s.respondError(w, r, fmt.Errorf("%w: %w: model is required", errBadRequest, importer.ErrInvalidOptions))
		return
	}

	opts, err := readOptions(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, r, fmt.Errorf("%w: no file provided", errBadRequest))
		return
	}
	defer file.Close()

	sub, err := s.service.SubmitJob(r.Context(), modelKey, header.Filename, file, opts)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	logging.WithFields(r.Context(), "job_id", sub.Job.ID, "model", modelKey).
		Info("job submitted", "file", header.Filename, "size", header.Size)
	writeJSON(w, http.StatusCreated, sub)
}

// readOptions takes options from an uploaded file part, or else from the
// text field. Missing options are the zero Options.
func readOptions(r *http.Request) (importer.Options, error) {
	if f, hdr, err := r.FormFile("options"); err == nil {
		defer f.Close()
		data, err := io.ReadAll(io.LimitReader(f, maxOptionsSize))
		if err != nil {
			return importer.Options{}, fmt.Errorf("read options: %w", err)
		}
		return importer.ReadOptionsFile(hdr.Filename, data)
	}
	return importer.ParseOptions([]byte(r.FormValue("options")), r.FormValue("options_format"))
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.service.ListJobs(r.Context(), parseIntParam(r, "limit", defaultListLimit))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []*store.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "job")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	job, err := s.service.GetJob(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	logs, err := s.service.ListLogs(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job":  job,
		"logs": logViews(logs),
	})
}

func (s *Server) handleRerunJob(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "job")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	sub, err := s.service.Rerun(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	logging.WithFields(r.Context(), "job_id", id).Info("rerun requested", "log_id", sub.Log.ID)
	writeJSON(w, http.StatusCreated, sub)
}

func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "job")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	logs, err := s.service.ListLogs(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, logViews(logs))
}

// logView adds the split lines to a run log.
type logView struct {
	*runlog.Entry
	Lines []string `json:"lines"`
}

func newLogView(e *runlog.Entry) logView {
	lines := e.Lines()
	if lines == nil {
		lines = []string{}
	}
	return logView{Entry: e, Lines: lines}
}

func logViews(entries []*runlog.Entry) []logView {
	out := make([]logView, 0, len(entries))
	for _, e := range entries {
		out = append(out, newLogView(e))
	}
	return out
}

func (s *Server) handleGetLog(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "log")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	entry, err := s.service.GetLog(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newLogView(entry))
}

func (s *Server) handleLogPage(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "log")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	entry, err := s.service.GetLog(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	job, err := s.service.GetJob(r.Context(), entry.JobID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := logPage(job, entry).Render(r.Context(), w); err != nil {
		logging.FromContext(r.Context()).Error("render log page", "error", err)
	}
}
