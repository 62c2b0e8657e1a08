package main

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/mineguard/internal/boundary"
	"github.com/sells-group/mineguard/internal/detect"
	"github.com/sells-group/mineguard/internal/model"
	"github.com/sells-group/mineguard/internal/store"
)

const leaseGeoJSON = `{"type":"Polygon","coordinates":[[[86.40,23.70],[86.42,23.70],[86.42,23.72],[86.40,23.72],[86.40,23.70]]]}`

// stubRunner records requests and answers with a fixed result or error.
type stubRunner struct {
	mu   sync.Mutex
	reqs []detect.Request
	err  error
}

func (s *stubRunner) Run(_ context.Context, req detect.Request) (*detect.Result, error) {
	s.mu.Lock()
	s.reqs = append(s.reqs, req)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	source := model.BoundarySupplied
	if len(req.Boundary) == 0 {
		source = model.BoundaryDefaultMissing
	}
	start, end := req.StartDate, req.EndDate
	if start == "" {
		start, end = "2024-01-01", "2024-04-30"
	}
	return &detect.Result{
		JobID:          req.JobID,
		Filename:       req.Filename,
		StartDate:      start,
		EndDate:        end,
		BoundarySource: source,
		ROI:            boundary.Default(),
		Metrics: model.Metrics{
			IllegalArea:   1234.567,
			LegalArea:     100,
			TotalArea:     1334.567,
			IllegalVolume: 4321.0049,
			TotalVolume:   4321.0049,
			AvgDepth:      3.5,
			Truckloads:    288,
		},
		Artifacts: model.Artifacts{Map: "map_2d.png", Report: "report.pdf"},
	}, nil
}

func (s *stubRunner) last() detect.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reqs[len(s.reqs)-1]
}

func newTestServer(t *testing.T, run runner) (*server, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	return &server{
		det:        run,
		store:      st,
		publicURL:  "http://mineguard.test",
		staticDir:  t.TempDir(),
		outputsURL: "/static/outputs",
		maxUpload:  1 << 20,
		log:        zap.NewNop(),
	}, st
}

// multipartBody builds an analyze form. An empty filename omits the file.
func multipartBody(t *testing.T, filename, contentType, content string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
		h.Set("Content-Type", contentType)
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func postAnalyze(t *testing.T, h http.Handler, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/analyze", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHomeEndpoint(t *testing.T) {
	s, _ := newTestServer(t, &stubRunner{})

	rr := httptest.NewRecorder()
	s.routes().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "http://mineguard.test", body["public_url"])
	assert.NotEmpty(t, body["status"])
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t, &stubRunner{})

	rr := httptest.NewRecorder()
	s.routes().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")
	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestHealthEndpoint_StoreDown(t *testing.T) {
	s, st := newTestServer(t, &stubRunner{})
	require.NoError(t, st.Close())

	rr := httptest.NewRecorder()
	s.routes().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestAnalyze_Success(t *testing.T) {
	run := &stubRunner{}
	s, st := newTestServer(t, run)

	body, ct := multipartBody(t, "lease.geojson", "application/octet-stream", leaseGeoJSON, map[string]string{
		"start_date": "2024-02-01",
		"end_date":   "2024-03-31",
	})
	rr := postAnalyze(t, s.routes(), body, ct)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp analyzeResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Len(t, resp.JobID, 8)
	assert.Equal(t, model.InspectionCompleted, resp.Status)
	assert.Equal(t, "lease.geojson", resp.Filename)
	assert.Equal(t, model.BoundarySupplied, resp.BoundarySource)
	assert.InDelta(t, 1234.57, resp.Metrics.IllegalArea, 1e-9)
	assert.InDelta(t, 4321.0, resp.Metrics.IllegalVolume, 1e-9)
	assert.Equal(t, int64(288), resp.Metrics.Truckloads)
	assert.Equal(t, "http://mineguard.test/static/outputs/"+resp.JobID+"/map_2d.png", resp.Artifacts.Map)
	assert.Empty(t, resp.Artifacts.Model)

	req := run.last()
	assert.Equal(t, resp.JobID, req.JobID)
	assert.Equal(t, "2024-02-01", req.StartDate)
	assert.Equal(t, "2024-03-31", req.EndDate)
	assert.JSONEq(t, leaseGeoJSON, string(req.Boundary))

	saved, err := st.GetInspection(context.Background(), resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.InspectionCompleted, saved.Status)
	assert.Equal(t, resp.Metrics, saved.Metrics)
	assert.Equal(t, resp.Artifacts, saved.Artifacts)
	assert.NotNil(t, saved.Boundary)
}

func TestAnalyze_NoFileUsesDefault(t *testing.T) {
	run := &stubRunner{}
	s, _ := newTestServer(t, run)

	body, ct := multipartBody(t, "", "", "", nil)
	rr := postAnalyze(t, s.routes(), body, ct)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp analyzeResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, model.BoundaryDefaultMissing, resp.BoundarySource)
	assert.Equal(t, "2024-01-01", resp.StartDate)
	assert.Empty(t, run.last().Boundary)
}

func TestAnalyze_RejectsNonGeoJSON(t *testing.T) {
	run := &stubRunner{}
	s, _ := newTestServer(t, run)

	body, ct := multipartBody(t, "lease.kml", "application/vnd.google-earth.kml+xml", "<kml/>", nil)
	rr := postAnalyze(t, s.routes(), body, ct)

	assert.Equal(t, http.StatusUnsupportedMediaType, rr.Code)
	assert.Empty(t, run.reqs, "detector must not run")
}

func TestAnalyze_InvalidInputIsBadRequest(t *testing.T) {
	run := &stubRunner{err: &detect.RunError{
		State: detect.StateAwaitingInput,
		Cause: eris.Wrap(detect.ErrInvalidInput, "detect: end date 2024-01-01 is before start date 2024-04-30"),
	}}
	s, st := newTestServer(t, run)

	body, ct := multipartBody(t, "lease.geojson", "application/geo+json", leaseGeoJSON, map[string]string{
		"start_date": "2024-04-30",
		"end_date":   "2024-01-01",
	})
	rr := postAnalyze(t, s.routes(), body, ct)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Contains(t, resp["error"], "before start date")

	saved, err := st.GetInspection(context.Background(), resp["job_id"])
	require.NoError(t, err)
	assert.Equal(t, model.InspectionFailed, saved.Status)
	assert.Contains(t, saved.Error, "awaiting_input")
}

func TestAnalyze_RunFailureIsServerError(t *testing.T) {
	run := &stubRunner{err: &detect.RunError{State: detect.StatePartitioned, Cause: eris.New("compute unavailable")}}
	s, _ := newTestServer(t, run)

	body, ct := multipartBody(t, "lease.json", "application/json", leaseGeoJSON, nil)
	rr := postAnalyze(t, s.routes(), body, ct)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), "compute unavailable")
}

func TestAnalyze_BadForm(t *testing.T) {
	s, _ := newTestServer(t, &stubRunner{})

	req := httptest.NewRequest(http.MethodPost, "/api/analyze", bytes.NewBufferString("not multipart"))
	req.Header.Set("Content-Type", "text/plain")
	rr := httptest.NewRecorder()
	s.routes().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHistory(t *testing.T) {
	s, _ := newTestServer(t, &stubRunner{})
	h := s.routes()

	var ids []string
	for range 3 {
		body, ct := multipartBody(t, "lease.geojson", "application/geo+json", leaseGeoJSON, nil)
		rr := postAnalyze(t, h, body, ct)
		require.Equal(t, http.StatusOK, rr.Code)
		var resp analyzeResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		ids = append(ids, resp.JobID)
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/history?limit=2", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var list []model.Inspection
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list, 2)
	assert.Equal(t, ids[2], list[0].JobID)
	assert.Equal(t, ids[1], list[1].JobID)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/history/"+ids[0], nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var one model.Inspection
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &one))
	assert.Equal(t, ids[0], one.JobID)
}

func TestHistory_EmptyIsArray(t *testing.T) {
	s, _ := newTestServer(t, &stubRunner{})

	rr := httptest.NewRecorder()
	s.routes().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/history", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, "[]", rr.Body.String())
}

func TestHistory_BadLimit(t *testing.T) {
	s, _ := newTestServer(t, &stubRunner{})

	rr := httptest.NewRecorder()
	s.routes().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/history?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHistory_NotFound(t *testing.T) {
	s, _ := newTestServer(t, &stubRunner{})

	rr := httptest.NewRecorder()
	s.routes().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/history/nope", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestStaticFiles(t *testing.T) {
	s, _ := newTestServer(t, &stubRunner{})
	dir := filepath.Join(s.staticDir, "outputs", "abcd1234")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "report.pdf"), []byte("%PDF-1.3"), 0o644))

	rr := httptest.NewRecorder()
	s.routes().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/static/outputs/abcd1234/report.pdf", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "%PDF-1.3", rr.Body.String())
}

func TestCORSAllowsAnyOrigin(t *testing.T) {
	s, _ := newTestServer(t, &stubRunner{})

	req := httptest.NewRequest(http.MethodOptions, "/api/analyze", nil)
	req.Header.Set("Origin", "http://dashboard.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	s.routes().ServeHTTP(rr, req)

	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestOutputsPath(t *testing.T) {
	assert.Equal(t, "/static/outputs", outputsPath("static", "static/outputs"))
	assert.Equal(t, "/static/runs/2024", outputsPath("static", "static/runs/2024"))
	assert.Equal(t, "/static/outputs", outputsPath("static", "/var/lib/mineguard"))
}

func TestIsGeoJSON(t *testing.T) {
	tests := []struct {
		filename    string
		contentType string
		want        bool
	}{
		{"lease.geojson", "", true},
		{"LEASE.GeoJSON", "application/octet-stream", true},
		{"lease.json", "", true},
		{"upload", "application/geo+json", true},
		{"upload", "application/json; charset=utf-8", true},
		{"lease.kml", "application/vnd.google-earth.kml+xml", false},
		{"lease.zip", "application/zip", false},
		{"upload", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.filename+"|"+tt.contentType, func(t *testing.T) {
			assert.Equal(t, tt.want, isGeoJSON(tt.filename, tt.contentType))
		})
	}
}
