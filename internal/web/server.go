// Package web serves the HTTP API for uploading, inspecting, and managing
// ingested documents.
package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/renderinc/ocrhive/internal/blobstore"
	"github.com/renderinc/ocrhive/internal/ingest"
	"github.com/renderinc/ocrhive/internal/record"
	"github.com/renderinc/ocrhive/internal/search"
	"github.com/renderinc/ocrhive/internal/storage"
)

// maxUploadBytes caps multipart upload size.
const maxUploadBytes = 100 << 20

// Server handles HTTP requests for the document API.
type Server struct {
	db       *storage.DB
	blobs    blobstore.Store
	ingestor *ingest.Ingestor
	idx      *search.Index
	logger   *slog.Logger
	mux      *http.ServeMux
}

// NewServer creates an HTTP server over the given ingestor and its stores.
func NewServer(db *storage.DB, blobs blobstore.Store, ing *ingest.Ingestor, idx *search.Index, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		db:       db,
		blobs:    blobs,
		ingestor: ing,
		idx:      idx,
		logger:   logger,
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /api/upload", s.handleUpload)
	s.mux.HandleFunc("GET /api/docs", s.handleList)
	s.mux.HandleFunc("GET /api/docs/{id}", s.handleGet)
	s.mux.HandleFunc("DELETE /api/docs/{id}", s.handleDelete)
	s.mux.HandleFunc("POST /api/docs/{id}/remove-file", s.handleRemoveFile)
	s.mux.HandleFunc("POST /api/docs/{id}/remove-pdf", s.handleRemovePdf)
	s.mux.HandleFunc("POST /api/docs/{id}/create-pdf", s.handleCreatePdf)
	s.mux.HandleFunc("GET /api/docs/{id}/file", s.handleFile)
	s.mux.HandleFunc("GET /api/docs/{id}/pdf", s.handlePdf)
	s.mux.HandleFunc("GET /api/search", s.handleSearch)
	s.mux.HandleFunc("GET /api/counters", s.handleCounters)
}

// Handler returns the server's routing handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe starts the HTTP server on addr and blocks.
func (s *Server) ListenAndServe(addr string) error {
	s.logger.Info("http server listening", "addr", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}

// recordView is the JSON shape of a record in API responses.
type recordView struct {
	ID           int64               `json:"id"`
	MimeType     string              `json:"mime_type"`
	PrimaryHash  string              `json:"primary_hash"`
	DerivedHash  string              `json:"derived_hash,omitempty"`
	Text         *string             `json:"text,omitempty"`
	UploadedAt   time.Time           `json:"uploaded_at"`
	OcredAt      *time.Time          `json:"ocred_at,omitempty"`
	FileState    record.SlotState    `json:"file_state"`
	PdfState     record.SlotState    `json:"pdf_state"`
	CanRemove    bool                `json:"can_remove_file"`
	CanRemovePdf bool                `json:"can_remove_pdf"`
	CanCreatePdf bool                `json:"can_create_pdf"`
	Metadata     *record.PdfMetadata `json:"pdf_metadata,omitempty"`
}

func (s *Server) view(rec *record.Record) *recordView {
	return &recordView{
		ID:           rec.ID,
		MimeType:     rec.MimeType,
		PrimaryHash:  rec.PrimaryHash,
		DerivedHash:  rec.DerivedHash,
		Text:         rec.Text,
		UploadedAt:   rec.UploadedAt,
		OcredAt:      rec.OcredAt,
		FileState:    rec.FileSlot.State,
		PdfState:     rec.PdfSlot.State,
		CanRemove:    rec.CanRemoveFile(s.blobs),
		CanRemovePdf: rec.CanRemovePdf(s.blobs),
		CanCreatePdf: rec.CanCreatePdf(s.blobs),
		Metadata:     rec.Metadata,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]any{
		"error":   true,
		"code":    code,
		"message": msg,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	count, err := s.db.Count()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "documents": count})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "missing file field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("reading upload: %v", err))
		return
	}

	mimeType := header.Header.Get("Content-Type")
	res, err := s.ingestor.Ingest(r.Context(), data, mimeType)
	if err != nil {
		var collision *ingest.DerivedCollisionError
		switch {
		case errors.Is(err, ingest.ErrInvalidMimeType):
			writeError(w, http.StatusBadRequest, "invalid_mime_type", err.Error())
		case errors.As(err, &collision):
			writeJSON(w, http.StatusConflict, map[string]any{
				"error":   true,
				"code":    "derived_collision",
				"message": err.Error(),
				"data":    s.view(collision.Existing),
			})
		default:
			s.logger.Error("upload failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
		}
		return
	}

	status := http.StatusOK
	if res.Outcome == ingest.OutcomeCreated {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{
		"error":   false,
		"created": res.Outcome == ingest.OutcomeCreated,
		"code":    string(res.Outcome),
		"data":    s.view(res.Record),
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, "bad_request", "limit must be 1-1000")
			return
		}
		limit = n
	}
	recs, err := s.db.List(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	views := make([]*recordView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, s.view(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"error": false, "data": views})
}

func (s *Server) recordFromPath(w http.ResponseWriter, r *http.Request) (*record.Record, bool) {
	id, err := ingest.ParseID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid id")
		return nil, false
	}
	rec, err := s.ingestor.Get(id)
	if err != nil {
		if errors.Is(err, ingest.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "no such document")
			return nil, false
		}
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return nil, false
	}
	return rec, true
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.recordFromPath(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"error": false, "data": s.view(rec)})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.recordFromPath(w, r)
	if !ok {
		return
	}
	if err := s.ingestor.Delete(r.Context(), rec.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"error": false, "deleted": rec.ID})
}

// lifecycle wraps the remove-file, remove-pdf, and create-pdf handlers,
// which share the changed/unchanged response shape.
func (s *Server) lifecycle(w http.ResponseWriter, r *http.Request, op func(id int64) (bool, error)) {
	rec, ok := s.recordFromPath(w, r)
	if !ok {
		return
	}
	changed, err := op(rec.ID)
	if err != nil {
		var collision *ingest.DerivedCollisionError
		if errors.As(err, &collision) {
			writeJSON(w, http.StatusConflict, map[string]any{
				"error":   true,
				"code":    "derived_collision",
				"message": err.Error(),
				"data":    s.view(collision.Existing),
			})
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	rec, err = s.ingestor.Get(rec.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"error":   false,
		"changed": changed,
		"data":    s.view(rec),
	})
}

func (s *Server) handleRemoveFile(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, func(id int64) (bool, error) {
		return s.ingestor.RemoveFile(r.Context(), id)
	})
}

func (s *Server) handleRemovePdf(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, func(id int64) (bool, error) {
		return s.ingestor.RemovePdf(r.Context(), id)
	})
}

func (s *Server) handleCreatePdf(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, func(id int64) (bool, error) {
		return s.ingestor.CreatePdf(r.Context(), id)
	})
}

func (s *Server) serveArtifact(w http.ResponseWriter, r *http.Request, slot record.ArtifactSlot, mimeType string) {
	if slot.State != record.SlotPresent || slot.Key == "" {
		writeError(w, http.StatusNotFound, "not_found", "artifact not available")
		return
	}
	data, err := s.blobs.Get(slot.Key)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "artifact bytes missing")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.recordFromPath(w, r)
	if !ok {
		return
	}
	s.serveArtifact(w, r, rec.FileSlot, rec.MimeType)
}

func (s *Server) handlePdf(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.recordFromPath(w, r)
	if !ok {
		return
	}
	s.serveArtifact(w, r, rec.PdfSlot, record.MimeTypePDF)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.idx == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "search index not configured")
		return
	}
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "missing q parameter")
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			writeError(w, http.StatusBadRequest, "bad_request", "limit must be 1-100")
			return
		}
		limit = n
	}
	results, err := s.idx.Search(query, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"error": false, "data": results})
}

func (s *Server) handleCounters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"error": false,
		"data":  s.ingestor.Counters().Snapshot(),
	})
}
