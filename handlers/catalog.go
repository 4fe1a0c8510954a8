package handlers

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"wavecrate.app/server/internal/logger"
	"wavecrate.app/server/models"
)

func (s *Server) ListPacks(w http.ResponseWriter, r *http.Request) {
	packs, err := s.Storage.ListPacks(r.Context())
	if err != nil {
		writeErrorResponse(w, http.StatusServiceUnavailable, "Database error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"packs": packs})
}

type PackDetailResponse struct {
	Pack    *models.Pack     `json:"pack"`
	Samples []*models.Sample `json:"samples"`
}

func (s *Server) GetPack(w http.ResponseWriter, r *http.Request) {
	packID := chi.URLParam(r, "id")

	pack, err := s.Storage.GetPack(r.Context(), packID)
	if err != nil {
		writeErrorResponse(w, http.StatusServiceUnavailable, "Database error")
		return
	}
	if pack == nil {
		writeErrorResponse(w, http.StatusNotFound, "Pack not found")
		return
	}

	samples, err := s.Storage.SamplesInPack(r.Context(), packID)
	if err != nil {
		writeErrorResponse(w, http.StatusServiceUnavailable, "Database error")
		return
	}

	writeJSON(w, http.StatusOK, PackDetailResponse{Pack: pack, Samples: samples})
}

// PreviewSample streams the audio for the in-page player. No login and no
// license required; previews are how buyers decide.
func (s *Server) PreviewSample(w http.ResponseWriter, r *http.Request) {
	sample, err := s.Storage.GetSample(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErrorResponse(w, http.StatusServiceUnavailable, "Database error")
		return
	}
	if sample == nil {
		writeErrorResponse(w, http.StatusNotFound, "Sample not found")
		return
	}

	stream, size, err := s.Streamer.Single(r.Context(), sample.Filename)
	if err != nil {
		writeOutcome(w, err)
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", contentType(sample.Filename))
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", size))
	if _, err := io.Copy(w, stream); err != nil {
		logger.Debug("preview stream interrupted", map[string]interface{}{
			"sample_id": sample.ID,
			"error":     err.Error(),
		})
	}
}

func contentType(filename string) string {
	if ct := mime.TypeByExtension(filepath.Ext(filename)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
