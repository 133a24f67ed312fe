package web

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/tabimport/internal/config"
	"github.com/JonMunkholm/tabimport/internal/importer"
	"github.com/JonMunkholm/tabimport/internal/schema/models"
	"github.com/JonMunkholm/tabimport/internal/storage"
	"github.com/JonMunkholm/tabimport/internal/store"
	"github.com/JonMunkholm/tabimport/internal/store/memory"
)

const itemsCSV = "name,quantity,weight,price,type,user\n" +
	"cvbncv,112,54.333,34.12,W,u2\n" +
	"etewrt,123,10.3,11.11,S,u1\n"

const itemOptions = `{
  "reflections": {
    "user": {"function": "lookup", "parameters": {"lookup_field": "username"}},
    "kind": {"function": "enum", "parameters": {"column": "type", "mapping": {"S": "steel", "W": "wood"}}}
  },
  "identity": ["name"]
}`

func testConfig() *config.Config {
	return &config.Config{
		Import:   config.ImportDefaults(),
		Security: config.SecurityConfig{EnableCSP: true},
		Logging:  config.LoggingConfig{Level: "info", Format: "text"},
	}
}

type testServer struct {
	*Server
	db *memory.Store
}

func newTestServer(t *testing.T, cfg *config.Config) *testServer {
	t.Helper()

	files, err := storage.New(t.TempDir(), "uploads")
	require.NoError(t, err)

	db := memory.New()
	svc := importer.NewService(context.Background(), importer.Deps{
		Jobs:    db,
		Logs:    db,
		Records: db,
		Uploads: files,
	}, importer.Settings{Sync: true})

	ctx := context.Background()
	for _, name := range []string{"u1", "u2"} {
		err := db.WithinTx(ctx, func(tx store.Tx) error {
			_, err := tx.Create(ctx, models.User, map[string]any{"username": name})
			return err
		})
		require.NoError(t, err)
	}

	s := NewServer(svc, db, cfg)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return &testServer{Server: s, db: db}
}

func (ts *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	ts.Router().ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	return ts.do(t, httptest.NewRequest(http.MethodGet, path, nil))
}

// multipartRequest builds a job submission. Keys of files are form field
// names mapped to {filename, content}.
func multipartRequest(t *testing.T, fields map[string]string, files map[string][2]string) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for field, file := range files {
		fw, err := mw.CreateFormFile(field, file[0])
		require.NoError(t, err)
		_, err = fw.Write([]byte(file[1]))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/jobs", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, testConfig())

	rec := ts.get(t, "/healthz")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 0, body["active_runs"])
}

func TestListModels(t *testing.T) {
	ts := newTestServer(t, testConfig())

	rec := ts.get(t, "/api/models")

	require.Equal(t, http.StatusOK, rec.Code)
	views := decode[[]modelView](t, rec)
	keys := make([]string, 0, len(views))
	for _, v := range views {
		keys = append(keys, v.Key)
		if v.Key == models.ItemKey {
			assert.Contains(t, v.Properties, "user_name")
		}
	}
	assert.Contains(t, keys, models.ItemKey)
	assert.Contains(t, keys, models.UserKey)
}

func TestListReflections(t *testing.T) {
	ts := newTestServer(t, testConfig())

	rec := ts.get(t, "/api/reflections")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string][]string](t, rec)
	assert.Contains(t, body["reflections"], "lookup")
	assert.Contains(t, body["reflections"], "enum")
	assert.Equal(t, []string{"csv", "excel", "json", "table"}, body["formats"])
}

func TestSubmitJob_EndToEnd(t *testing.T) {
	ts := newTestServer(t, testConfig())

	rec := ts.do(t, multipartRequest(t,
		map[string]string{"model": models.ItemKey, "options": itemOptions},
		map[string][2]string{"file": {"items.csv", itemsCSV}},
	))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	sub := decode[importer.Submission](t, rec)
	require.NotNil(t, sub.Log)
	assert.True(t, sub.Log.Finished)
	assert.Contains(t, sub.Log.Text, "Import has been finished, 2 rows successfully imported")
	assert.Empty(t, sub.Warnings)

	records := ts.get(t, "/api/models/"+models.ItemKey+"/records")
	require.Equal(t, http.StatusOK, records.Code)
	assert.EqualValues(t, 2, decode[map[string]any](t, records)["total"])

	rerun := ts.do(t, httptest.NewRequest(http.MethodPost, "/api/jobs/"+sub.Job.ID.String()+"/rerun", nil))
	require.Equal(t, http.StatusCreated, rerun.Code, rerun.Body.String())

	job := ts.get(t, "/api/jobs/"+sub.Job.ID.String())
	require.Equal(t, http.StatusOK, job.Code)
	var detail struct {
		Job  store.Job `json:"job"`
		Logs []struct {
			ID       uuid.UUID `json:"id"`
			Finished bool      `json:"finished"`
			Lines    []string  `json:"lines"`
		} `json:"logs"`
	}
	require.NoError(t, json.Unmarshal(job.Body.Bytes(), &detail))
	assert.Equal(t, models.ItemKey, detail.Job.ModelKey)
	require.Len(t, detail.Logs, 2)
	assert.True(t, detail.Logs[1].Finished)

	// identity keeps the rerun from duplicating rows
	n, err := ts.db.Count(context.Background(), models.Item)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	logs := ts.get(t, "/api/jobs/"+sub.Job.ID.String()+"/logs")
	require.Equal(t, http.StatusOK, logs.Code)
	assert.Len(t, decode[[]map[string]any](t, logs), 2)

	single := ts.get(t, "/api/logs/"+sub.Log.ID.String())
	require.Equal(t, http.StatusOK, single.Code)
	lines := decode[map[string]any](t, single)["lines"].([]any)
	assert.Contains(t, lines[0], "Starting import for: uploads/")

	page := ts.get(t, "/logs/"+sub.Log.ID.String())
	require.Equal(t, http.StatusOK, page.Code)
	assert.Contains(t, page.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, page.Body.String(), "Import of uploads/")
	assert.Contains(t, page.Body.String(), "finished")
	assert.NotContains(t, page.Body.String(), "http-equiv=\"refresh\"")
}

func TestSubmitJob_OptionsFile(t *testing.T) {
	ts := newTestServer(t, testConfig())

	yamlOptions := `format: table
parameters:
  header: null
headers: [name, quantity]
reflections:
  weight: avoid
  price: avoid
  kind: avoid
  user: avoid
`
	rec := ts.do(t, multipartRequest(t,
		map[string]string{"model": models.ItemKey},
		map[string][2]string{
			"file":    {"items.tsv", "alpha\t1\nbeta\t2\n"},
			"options": {"job.yaml", yamlOptions},
		},
	))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	sub := decode[importer.Submission](t, rec)
	assert.Contains(t, sub.Log.Text, "Import has been finished, 2 rows successfully imported")

	n, err := ts.db.Count(context.Background(), models.Item)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSubmitJob_Warnings(t *testing.T) {
	ts := newTestServer(t, testConfig())

	rec := ts.do(t, multipartRequest(t,
		map[string]string{"model": models.ItemKey, "options": `{"format": "parquet"}`},
		map[string][2]string{"file": {"items.csv", itemsCSV}},
	))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	sub := decode[importer.Submission](t, rec)
	require.Len(t, sub.Warnings, 1)
	assert.Contains(t, sub.Warnings[0], `format "parquet" is not supported`)
	assert.Contains(t, sub.Log.Text, "Read function not found, finished: read_parquet")
}

func TestSubmitJob_Errors(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]string
		files  map[string][2]string
		status int
		code   string
	}{
		{
			name:   "missing model",
			files:  map[string][2]string{"file": {"a.csv", itemsCSV}},
			status: http.StatusBadRequest,
			code:   "IMP005",
		},
		{
			name:   "unknown model",
			fields: map[string]string{"model": "nope.nothing"},
			files:  map[string][2]string{"file": {"a.csv", itemsCSV}},
			status: http.StatusNotFound,
			code:   "IMP003",
		},
		{
			name:   "malformed options",
			fields: map[string]string{"model": models.ItemKey, "options": "{not json", "options_format": "json"},
			files:  map[string][2]string{"file": {"a.csv", itemsCSV}},
			status: http.StatusBadRequest,
			code:   "IMP005",
		},
		{
			name:   "no file",
			fields: map[string]string{"model": models.ItemKey},
			status: http.StatusBadRequest,
			code:   "FILE004",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, testConfig())

			rec := ts.do(t, multipartRequest(t, tt.fields, tt.files))

			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decode[ErrorResponse](t, rec).Code)
		})
	}
}

func TestSubmitJob_TooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.Import.MaxFileSize = 64
	ts := newTestServer(t, cfg)

	rec := ts.do(t, multipartRequest(t,
		map[string]string{"model": models.ItemKey},
		map[string][2]string{"file": {"a.csv", strings.Repeat(itemsCSV, 10)}},
	))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code, rec.Body.String())
	assert.Equal(t, "FILE001", decode[ErrorResponse](t, rec).Code)
}

func TestNotFound(t *testing.T) {
	ts := newTestServer(t, testConfig())
	missing := uuid.NewString()

	tests := []struct {
		path   string
		status int
		code   string
	}{
		{"/api/jobs/" + missing, http.StatusNotFound, "IMP001"},
		{"/api/jobs/" + missing + "/logs", http.StatusNotFound, "IMP001"},
		{"/api/logs/" + missing, http.StatusNotFound, "IMP002"},
		{"/api/models/nope.nothing/records", http.StatusNotFound, "IMP003"},
		{"/api/jobs/not-a-uuid", http.StatusBadRequest, "ERR000"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := ts.get(t, tt.path)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decode[ErrorResponse](t, rec).Code)
		})
	}

	page := ts.get(t, "/logs/"+missing)
	assert.Equal(t, http.StatusNotFound, page.Code)
	assert.Contains(t, page.Body.String(), "Code: IMP002")
}

func TestAPIKeyAuth(t *testing.T) {
	cfg := testConfig()
	cfg.Security.RequireAPIKey = true
	cfg.Security.APIKeys = []string{"k1", "k2"}
	ts := newTestServer(t, cfg)

	tests := []struct {
		name   string
		key    string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "nope", http.StatusForbidden},
		{"first key", "k1", http.StatusOK},
		{"second key", "k2", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/models", nil)
			if tt.key != "" {
				req.Header.Set("X-API-Key", tt.key)
			}
			assert.Equal(t, tt.status, ts.do(t, req).Code)
		})
	}

	assert.Equal(t, http.StatusOK, ts.get(t, "/healthz").Code)
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 2, UploadLimit: 1}
	ts := newTestServer(t, cfg)

	assert.Equal(t, http.StatusOK, ts.get(t, "/healthz").Code)
	assert.Equal(t, http.StatusOK, ts.get(t, "/healthz").Code)

	rec := ts.get(t, "/healthz")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "RATE001", decode[ErrorResponse](t, rec).Code)
}

func TestSecurityHeaders(t *testing.T) {
	ts := newTestServer(t, testConfig())

	rec := ts.get(t, "/healthz")

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, rec.Header().Get("Content-Security-Policy"))
}

func TestLineLevel(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{"2024-01-02T03:04:05Z: [INFO(4)] Trying to import x", "INFO"},
		{"2024-01-02T03:04:05Z: [WARNING(3)] skipped", "WARNING"},
		{"2024-01-02T03:04:05Z: [CRITICAL(1)] boom", "CRITICAL"},
		{"no level here", ""},
		{"t: [<script>(9)] x", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, lineLevel(tt.line), tt.line)
	}
}
