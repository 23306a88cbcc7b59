// Package server exposes the upload/status HTTP API around the ingestion
// pipeline: bag upload with archive extraction, processing status,
// cooperative cancellation and tag assignment.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/bagworks/bagproc/bagproc/bag"
	"github.com/bagworks/bagproc/bagproc/catalog"
	"github.com/bagworks/bagproc/bagproc/config"
	"github.com/bagworks/bagproc/bagproc/gateway"
	"github.com/bagworks/bagproc/bagproc/pipeline"
)

// maxUploadMemory bounds the in-memory part of multipart parsing; larger
// bodies spill to disk.
const maxUploadMemory = 64 << 20

// Server wires the HTTP API to the ingestion manager and the gateway.
type Server struct {
	cfg     *config.Config
	gate    gateway.Gateway
	manager *pipeline.Manager
	catalog *catalog.Catalog
	baseCtx context.Context // parent of every launched job, detached from requests
}

func New(cfg *config.Config, gate gateway.Gateway, manager *pipeline.Manager) *Server {
	return &Server{
		cfg:     cfg,
		gate:    gate,
		manager: manager,
		catalog: catalog.New(cfg.Topics.Camera, cfg.Topics.Pose, cfg.Topics.Imu, cfg.Topics.Ignore),
		baseCtx: context.Background(),
	}
}

// Handler returns the API routing mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /", s.handleHealth)
	mux.HandleFunc("POST /api/bags/upload", s.handleUpload)
	mux.HandleFunc("GET /api/bags/status/{id}", s.handleStatus)
	mux.HandleFunc("POST /api/bags/{id}/cancel", s.handleCancel)
	mux.HandleFunc("POST /api/bags/{id}/tags", s.handleTags)
	return mux
}

// ListenAndServe runs the API on the configured host and port.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	slog.Info("serving bag ingestion API", "addr", addr)
	return http.ListenAndServe(addr, s.Handler())
}

type uploadResponse struct {
	BagID    int64  `json:"bag_id"`
	Filename string `json:"filename"`
	Status   string `json:"status"`
	Message  string `json:"message"`
}

type statusResponse struct {
	BagID    int64   `json:"bag_id"`
	Status   string  `json:"status"`
	Progress float64 `json:"progress"`
	Message  string  `json:"message,omitempty"`
}

type tagAssignment struct {
	TagIDs []int64 `json:"tag_ids"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "bag ingestion"})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		httpError(w, http.StatusBadRequest, "invalid multipart request: %v", err)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		httpError(w, http.StatusBadRequest, "no file provided")
		return
	}
	defer file.Close()

	staged, err := stageUpload(s.cfg.Storage.Root, header.Filename, file)
	if err != nil {
		httpError(w, http.StatusBadRequest, "failed to stage upload: %v", err)
		return
	}

	// Validate the bag before registering it: the store must open and
	// summarize cleanly.
	store, err := bag.Open(staged.BagDir)
	if err != nil {
		staged.discard()
		httpError(w, http.StatusBadRequest, "invalid bag: %v", err)
		return
	}
	meta, err := store.Metadata(r.Context())
	store.Close()
	if err != nil {
		staged.discard()
		httpError(w, http.StatusBadRequest, "invalid bag: %v", err)
		return
	}

	// Cross-check against the recorder-written sidecar when present. A
	// sidecar that exists but does not parse marks a corrupt upload.
	sidecar, err := bag.ReadSidecar(staged.BagDir)
	if err != nil {
		staged.discard()
		httpError(w, http.StatusBadRequest, "invalid bag: %v", err)
		return
	}
	if sidecar != nil {
		info := sidecar.BagFileInformation
		if info.MessageCount != meta.MessageCount {
			slog.Warn("sidecar disagrees with store",
				"filename", header.Filename,
				"sidecar_messages", info.MessageCount,
				"store_messages", meta.MessageCount)
		}
		if meta.Duration == 0 && info.Duration.Nanoseconds > 0 {
			meta.Duration = float64(info.Duration.Nanoseconds) / 1e9
		}
	}

	bagID, err := s.gate.CreateBag(r.Context(), header.Filename, staged.BagDir, staged.Size, meta)
	if err != nil {
		staged.discard()
		httpError(w, http.StatusInternalServerError, "failed to register bag: %v", err)
		return
	}

	finalDir, err := staged.finalize(bagID)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "failed to store bag: %v", err)
		return
	}

	if tagIDs := parseTagIDs(r.FormValue("tag_ids")); len(tagIDs) > 0 {
		if err := s.gate.AssignTags(r.Context(), bagID, tagIDs); err != nil {
			slog.Warn("failed to assign tags", "bag", bagID, "error", err)
		}
	}

	slog.Info("bag uploaded", "bag", bagID, "filename", header.Filename,
		"size", humanize.Bytes(uint64(staged.Size)))

	p := pipeline.New(pipeline.Options{
		BagID:   bagID,
		BagDir:  finalDir,
		OutRoot: finalDir,
		Quality: s.cfg.Storage.FrameQuality,
		Catalog: s.catalog,
		Gateway: s.gate,
	})
	// The job outlives this request; cancellation is driven through the
	// manager, not the request context.
	s.manager.Launch(s.baseCtx, p)

	writeJSON(w, http.StatusOK, uploadResponse{
		BagID:    bagID,
		Filename: header.Filename,
		Status:   string(pipeline.StatusProcessing),
		Message:  "bag uploaded successfully and processing started",
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	bagID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid bag id")
		return
	}

	b, err := s.gate.GetBag(r.Context(), bagID)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "failed to look up bag: %v", err)
		return
	}
	if b == nil {
		httpError(w, http.StatusNotFound, "bag not found")
		return
	}

	if progress, ok := s.manager.Status(bagID); ok {
		writeJSON(w, http.StatusOK, statusResponse{
			BagID:    bagID,
			Status:   string(progress.Status),
			Progress: progress.Fraction,
			Message:  progress.Message,
		})
		return
	}

	if b.Processed {
		writeJSON(w, http.StatusOK, statusResponse{
			BagID: bagID, Status: string(pipeline.StatusCompleted), Progress: 1.0,
			Message: "bag processing completed",
		})
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		BagID: bagID, Status: string(pipeline.StatusPending),
		Message: "bag processing not yet started",
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	bagID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid bag id")
		return
	}
	if !s.manager.Cancel(bagID) {
		httpError(w, http.StatusNotFound, "no active processing job found for this bag")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "processing cancelled"})
}

func (s *Server) handleTags(w http.ResponseWriter, r *http.Request) {
	bagID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid bag id")
		return
	}

	var assignment tagAssignment
	if err := json.NewDecoder(r.Body).Decode(&assignment); err != nil {
		httpError(w, http.StatusBadRequest, "invalid tag assignment: %v", err)
		return
	}
	if err := s.gate.AssignTags(r.Context(), bagID, assignment.TagIDs); err != nil {
		httpError(w, http.StatusInternalServerError, "failed to assign tags: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "tags assigned successfully"})
}

func parseTagIDs(raw string) []int64 {
	if raw == "" {
		return nil
	}
	var ids []int64
	for _, field := range strings.Split(raw, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		id, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			slog.Warn("ignoring invalid tag id", "value", field)
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, format string, args ...any) {
	writeJSON(w, code, map[string]string{"detail": fmt.Sprintf(format, args...)})
}
