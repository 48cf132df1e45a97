package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"wikiseek/internal/models"
	"wikiseek/internal/notify"
	"wikiseek/internal/search"
	"wikiseek/internal/vision"
)

const maxMultipartMemory = 8 << 20 // 8 MB

// Popups is the notifier surface the API exposes.
type Popups interface {
	Current() notify.Popup
	Dismiss()
}

// ClassifierStatus reports the load state of the image classifier.
type ClassifierStatus interface {
	State() vision.State
}

type Options struct {
	HistoryBackend string
	MaxUploadBytes int64
}

type Server struct {
	mux        *http.ServeMux
	search     *search.Service
	popups     Popups
	classifier ClassifierStatus
	jobs       *JobManager
	log        zerolog.Logger
	opts       Options
}

func NewServer(svc *search.Service, popups Popups, classifier ClassifierStatus, log zerolog.Logger, opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 10 << 20
	}
	s := &Server{
		mux:        http.NewServeMux(),
		search:     svc,
		popups:     popups,
		classifier: classifier,
		jobs:       NewJobManager(),
		log:        log,
		opts:       opts,
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.withRequestLogger(s.mux)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/search", s.handleTextSearch)
	s.mux.HandleFunc("/api/search/image", s.handleImageSearch)
	s.mux.HandleFunc("/api/search/image/jobs", s.handleImageJobs)
	s.mux.HandleFunc("/api/search/image/jobs/", s.handleImageJobStatus)
	s.mux.HandleFunc("/api/history", s.handleHistory)
	s.mux.HandleFunc("/api/history/", s.handleHistoryActions)
	s.mux.HandleFunc("/api/view", s.handleView)
	s.mux.HandleFunc("/api/popup", s.handlePopup)
	s.mux.HandleFunc("/api/popup/dismiss", s.handleDismissPopup)
}

// withRequestLogger puts a per-request logger on the context. It carries no
// component so downstream packages can tag their own.
func (s *Server) withRequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqLog := s.log.With().
			Str("request_id", uuid.NewString()).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Logger()
		start := time.Now()
		next.ServeHTTP(w, r.WithContext(reqLog.WithContext(r.Context())))
		reqLog.Debug().Str("component", "api").Dur("elapsed", time.Since(start)).Msg("request served")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":         "ok",
		"classifier":     s.classifier.State().String(),
		"historyBackend": s.opts.HistoryBackend,
	})
}

type searchRequest struct {
	Query string `json:"query"`
}

func (s *Server) handleTextSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var payload searchRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	out, err := s.search.RunTextSearch(r.Context(), payload.Query)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleImageSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	data, _, ok := s.readUpload(w, r)
	if !ok {
		return
	}

	out, err := s.search.RunImageSearch(r.Context(), data)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleImageJobs(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/search/image/jobs" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	data, filename, ok := s.readUpload(w, r)
	if !ok {
		return
	}
	if err := s.search.CheckImageSearch(); err != nil {
		writeServiceError(w, err)
		return
	}

	snapshot := s.jobs.CreateJob(filename)
	ctx := context.WithoutCancel(r.Context())
	go s.runImageJob(ctx, snapshot.ID, data)

	writeJSON(w, http.StatusAccepted, snapshot)
}

func (s *Server) runImageJob(ctx context.Context, jobID string, data []byte) {
	s.jobs.MarkProcessing(jobID)
	out, err := s.search.RunImageSearch(ctx, data)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Str("component", "api").Err(err).Str("job_id", jobID).Msg("image job failed")
		s.jobs.MarkFailed(jobID, err.Error())
		return
	}
	s.jobs.MarkCompleted(jobID, out)
}

func (s *Server) handleImageJobStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	jobID := strings.TrimPrefix(r.URL.Path, "/api/search/image/jobs/")
	jobID = strings.Trim(jobID, "/")
	if jobID == "" {
		http.NotFound(w, r)
		return
	}

	job, ok := s.jobs.GetJob(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		entries, err := s.search.History(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"history": entries})
	case http.MethodDelete:
		if err := s.search.ClearHistory(r.Context()); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodDelete)
	}
}

func (s *Server) handleHistoryActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/history/")
	path = strings.Trim(path, "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "repeat" {
		http.NotFound(w, r)
		return
	}

	out, err := s.search.Repeat(r.Context(), parts[0])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, s.search.View())
}

func (s *Server) handlePopup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, s.popups.Current())
}

func (s *Server) handleDismissPopup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	s.popups.Dismiss()
	writeJSON(w, http.StatusOK, s.popups.Current())
}

// readUpload reads the "image" form file, writing the error response itself
// when it returns false.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, bool) {
	if r.ContentLength > s.opts.MaxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "image too large")
		return nil, "", false
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "image too large")
			return nil, "", false
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return nil, "", false
	}
	if form := r.MultipartForm; form != nil {
		defer form.RemoveAll()
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no image uploaded")
		return nil, "", false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read image")
		return nil, "", false
	}
	return data, header.Filename, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation), errors.Is(err, models.ErrUnsupported):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotReady), errors.Is(err, models.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
