package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cyderes/video-ingestion-service/internal/config"
	"github.com/cyderes/video-ingestion-service/internal/ingestion"
	"github.com/cyderes/video-ingestion-service/internal/logger"
	"github.com/cyderes/video-ingestion-service/internal/storage"
	"github.com/gorilla/mux"
)

var log = logger.Get("HTTP")

const (
	defaultLimit = 10
	maxLimit     = 100
)

// Orchestrator is the slice of the ingestion service exposed over HTTP
type Orchestrator interface {
	Trigger() error
	Status() ingestion.Status
	GenerateThumbnail(ctx context.Context, videoURL, id string) (string, error)
}

// Server handles HTTP requests
type Server struct {
	config    config.ServerConfig
	storage   storage.Storage
	ingestion Orchestrator
	server    *http.Server
}

type generateRequest struct {
	VideoURL string `json:"videoUrl"`
	Filename string `json:"filename"`
}

type generateResponse struct {
	ThumbnailURL string `json:"thumbnailUrl"`
}

// NewServer creates a new HTTP server
func NewServer(cfg config.ServerConfig, store storage.Storage, orchestrator Orchestrator) *Server {
	s := &Server{
		config:    cfg,
		storage:   store,
		ingestion: orchestrator,
	}

	s.server = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     s.Router(),
		ReadTimeout: 15 * time.Second,
		// Thumbnail generation runs inside the request
		WriteTimeout: 3 * time.Minute,
	}

	return s
}

// Router builds the route table
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/records", s.handleRecords).Methods(http.MethodGet)
	router.HandleFunc("/records/{id}", s.handleRecordByID).Methods(http.MethodGet)
	router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/runs", s.handleTriggerRun).Methods(http.MethodPost)
	router.HandleFunc("/generate-thumbnail", s.handleGenerateThumbnail).Methods(http.MethodPost)

	return router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Emit(logger.INFO, "Listening on %s\n", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Emit(logger.WARNING, "Failed to encode response: %v\n", err)
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleRecords lists stored records, newest first
func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	limit := defaultLimit
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		limit = min(l, maxLimit)
	}

	offset := 0
	if o, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && o >= 0 {
		offset = o
	}

	records, err := s.storage.ListRecords(r.Context(), limit, offset)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to retrieve records: %v", err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"records": records,
		"count":   len(records),
		"limit":   limit,
		"offset":  offset,
	})
}

// handleRecordByID returns a single record by normalized identifier
func (s *Server) handleRecordByID(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	record, err := s.storage.GetRecord(r.Context(), id)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to retrieve record: %v", err), http.StatusInternalServerError)
		return
	}

	if record == nil {
		http.Error(w, "Record not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, record)
}

// handleStatus reports whether a batch is running and the last batch stats.
// Stats persisted by an earlier process are used until this one completes a batch.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.ingestion.Status()

	if status.LastRun == nil {
		stats, err := s.storage.GetBatchStats(r.Context())
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to retrieve status: %v", err), http.StatusInternalServerError)
			return
		}
		status.LastRun = stats
	}

	writeJSON(w, http.StatusOK, status)
}

// handleTriggerRun starts a batch outside the schedule
func (s *Server) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	if err := s.ingestion.Trigger(); err != nil {
		if errors.Is(err, ingestion.ErrBatchRunning) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}

		http.Error(w, fmt.Sprintf("Failed to start batch: %v", err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// handleGenerateThumbnail extracts and publishes a thumbnail for one video
func (s *Server) handleGenerateThumbnail(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.VideoURL == "" {
		http.Error(w, "videoUrl is required", http.StatusBadRequest)
		return
	}

	url, err := s.ingestion.GenerateThumbnail(r.Context(), req.VideoURL, strings.TrimSuffix(req.Filename, ".jpg"))
	if err != nil {
		if errors.Is(err, ingestion.ErrInvalidVideoURL) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		log.Emit(logger.ERROR, "Thumbnail generation for %s failed: %v\n", req.VideoURL, err)
		http.Error(w, fmt.Sprintf("Failed to generate thumbnail: %v", err), http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusOK, generateResponse{ThumbnailURL: url})
}
