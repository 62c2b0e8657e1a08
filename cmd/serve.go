package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/mineguard/internal/detect"
	"github.com/sells-group/mineguard/internal/model"
	"github.com/sells-group/mineguard/internal/monitoring"
	"github.com/sells-group/mineguard/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the detection API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		det, err := initDetector(cfg)
		if err != nil {
			return err
		}
		st, err := openStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := os.MkdirAll(cfg.Artifacts.OutputDir, 0o755); err != nil {
			return eris.Wrap(err, "create output dir")
		}

		if cfg.Monitoring.Enabled {
			checker := monitoring.NewChecker(monitoring.NewCollector(st), monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
			go checker.Run(ctx)
		}

		s := &server{
			det:        det,
			store:      st,
			publicURL:  strings.TrimRight(cfg.Server.PublicURL, "/"),
			staticDir:  cfg.Server.StaticDir,
			outputsURL: outputsPath(cfg.Server.StaticDir, cfg.Artifacts.OutputDir),
			maxUpload:  int64(cfg.Server.MaxUploadMB) << 20,
			log:        zap.L().With(zap.String("component", "server")),
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           s.routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx) //nolint:errcheck
		}()

		zap.L().Info("starting server", zap.Int("port", cfg.Server.Port), zap.String("public_url", s.publicURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// runner is the part of *detect.Detector the server needs.
type runner interface {
	Run(ctx context.Context, req detect.Request) (*detect.Result, error)
}

type server struct {
	det        runner
	store      store.Store
	publicURL  string
	staticDir  string
	outputsURL string // URL path of the artifact root, e.g. /static/outputs
	maxUpload  int64
	log        *zap.Logger
}

// outputsPath maps the artifact directory to its URL under /static.
func outputsPath(staticDir, outputDir string) string {
	rel, err := filepath.Rel(staticDir, outputDir)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "/static/outputs"
	}
	return "/static/" + filepath.ToSlash(rel)
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/", s.handleHome)
	r.Get("/health", s.handleHealth)
	r.Post("/api/analyze", s.handleAnalyze)
	r.Get("/api/history", s.handleHistory)
	r.Get("/api/history/{jobID}", s.handleInspection)
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(s.staticDir))))
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *server) handleHome(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":     "MineGuard online",
		"public_url": s.publicURL,
	})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.store != nil {
		if err := s.store.Ping(r.Context()); err != nil {
			s.log.Warn("health check: store unreachable", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "store": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type analyzeResponse struct {
	JobID          string                 `json:"job_id"`
	Status         model.InspectionStatus `json:"status"`
	Filename       string                 `json:"filename"`
	StartDate      string                 `json:"start_date"`
	EndDate        string                 `json:"end_date"`
	BoundarySource model.BoundarySource   `json:"boundary_source"`
	Metrics        model.Metrics          `json:"metrics"`
	Artifacts      model.Artifacts        `json:"artifacts"`
}

// isGeoJSON accepts uploads named *.geojson or *.json, or declared as
// GeoJSON or JSON.
func isGeoJSON(filename, contentType string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".geojson", ".json":
		return true
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/geo+json" || mt == "application/json"
}

func (s *server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if s.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	}
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}

	req := detect.Request{
		StartDate: r.FormValue("start_date"),
		EndDate:   r.FormValue("end_date"),
	}

	file, header, err := r.FormFile("file")
	switch {
	case errors.Is(err, http.ErrMissingFile):
		// No boundary: the detector falls back to the default lease.
	case err != nil:
		writeError(w, http.StatusBadRequest, "invalid upload: "+err.Error())
		return
	default:
		defer file.Close() //nolint:errcheck
		if !isGeoJSON(header.Filename, header.Header.Get("Content-Type")) {
			writeError(w, http.StatusUnsupportedMediaType, "boundary must be a GeoJSON file")
			return
		}
		data, err := io.ReadAll(file)
		if err != nil {
			writeError(w, http.StatusBadRequest, "read upload: "+err.Error())
			return
		}
		req.Boundary = data
		req.Filename = header.Filename
	}
	pickJobID(&req)

	s.log.Info("analyze request", zap.String("job_id", req.JobID), zap.String("filename", req.Filename))

	res, runErr := s.det.Run(r.Context(), req)
	base := s.publicURL + s.outputsURL + "/" + req.JobID + "/"
	insp := newInspection(req, res, runErr, base)
	saveInspection(r.Context(), s.store, insp)

	if runErr != nil {
		status := http.StatusInternalServerError
		if errors.Is(runErr, detect.ErrInvalidInput) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, map[string]string{"job_id": req.JobID, "error": runErr.Error()})
		return
	}

	writeJSON(w, http.StatusOK, analyzeResponse{
		JobID:          insp.JobID,
		Status:         insp.Status,
		Filename:       insp.Filename,
		StartDate:      insp.StartDate,
		EndDate:        insp.EndDate,
		BoundarySource: insp.BoundarySource,
		Metrics:        insp.Metrics,
		Artifacts:      insp.Artifacts,
	})
}

func (s *server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.InspectionFilter{Status: model.InspectionStatus(q.Get("status"))}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		filter.Offset = n
	}

	list, err := s.store.ListInspections(r.Context(), filter)
	if err != nil {
		s.log.Error("list inspections", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list inspections")
		return
	}
	if list == nil {
		list = []model.Inspection{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *server) handleInspection(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	insp, err := s.store.GetInspection(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "inspection not found: "+jobID)
			return
		}
		s.log.Error("get inspection", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load inspection")
		return
	}
	writeJSON(w, http.StatusOK, insp)
}
