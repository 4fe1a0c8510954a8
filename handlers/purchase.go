package handlers

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"wavecrate.app/server/internal/logger"
	"wavecrate.app/server/ledger"
	"wavecrate.app/server/models"
)

// PurchaseSample buys a single sample and streams it back. Repeating the
// request for an owned sample charges nothing and streams again.
func (s *Server) PurchaseSample(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())

	result, err := s.Ledger.PurchaseSample(r.Context(), user.ID, chi.URLParam(r, "id"))
	if err != nil {
		writeOutcome(w, err)
		return
	}
	if result.Charged > 0 {
		s.purchases.Inc()
	}

	s.serveSample(w, r, result.Samples[0], result)
}

// DownloadSample re-serves a sample the user already owns.
func (s *Server) DownloadSample(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	sampleID := chi.URLParam(r, "id")

	owned, err := s.Storage.HasLicense(r.Context(), user.ID, sampleID)
	if err != nil {
		writeErrorResponse(w, http.StatusServiceUnavailable, "Database error")
		return
	}
	if !owned {
		writeErrorResponse(w, http.StatusForbidden, "You do not own this sample")
		return
	}

	sample, err := s.Storage.GetSample(r.Context(), sampleID)
	if err != nil {
		writeErrorResponse(w, http.StatusServiceUnavailable, "Database error")
		return
	}
	if sample == nil {
		writeErrorResponse(w, http.StatusNotFound, "Sample not found")
		return
	}

	s.serveSample(w, r, sample, nil)
}

// PurchasePack buys every sample in a pack, charging only for the unowned
// members, and streams all of them as one ZIP.
func (s *Server) PurchasePack(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	packID := chi.URLParam(r, "id")

	pack, err := s.Storage.GetPack(r.Context(), packID)
	if err != nil {
		writeErrorResponse(w, http.StatusServiceUnavailable, "Database error")
		return
	}
	if pack == nil {
		writeOutcome(w, ledger.ErrNotFound)
		return
	}

	result, err := s.Ledger.PurchasePack(r.Context(), user.ID, packID)
	if err != nil {
		writeOutcome(w, err)
		return
	}
	if result.Charged > 0 {
		s.purchases.Inc()
	}

	s.servePackArchive(w, r, pack, result.Samples, result)
}

// DownloadPack re-serves a pack ZIP. Allowed only when every member is
// already licensed; otherwise the purchase route is the way in.
func (s *Server) DownloadPack(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
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
	if len(samples) == 0 {
		writeOutcome(w, ledger.ErrEmptyBundle)
		return
	}

	for _, sample := range samples {
		owned, err := s.Storage.HasLicense(r.Context(), user.ID, sample.ID)
		if err != nil {
			writeErrorResponse(w, http.StatusServiceUnavailable, "Database error")
			return
		}
		if !owned {
			writeErrorResponse(w, http.StatusForbidden, "You do not own this pack")
			return
		}
	}

	s.servePackArchive(w, r, pack, samples, nil)
}

func (s *Server) serveSample(w http.ResponseWriter, r *http.Request, sample *models.Sample, result *ledger.PurchaseResult) {
	stream, size, err := s.Streamer.Single(r.Context(), sample.Filename)
	if err != nil {
		// The license already stands; only delivery failed. Re-download
		// stays available once the content is restored.
		writeOutcome(w, err)
		return
	}
	defer stream.Close()

	setReceiptHeaders(w, result)
	w.Header().Set("Content-Type", contentType(sample.Filename))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", size))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", sample.Filename))
	if _, err := io.Copy(w, stream); err != nil {
		logger.Debug("download interrupted", map[string]interface{}{
			"sample_id": sample.ID,
			"error":     err.Error(),
		})
	}
}

func (s *Server) servePackArchive(w http.ResponseWriter, r *http.Request, pack *models.Pack, samples []*models.Sample, result *ledger.PurchaseResult) {
	locators := make([]string, len(samples))
	for i, sample := range samples {
		locators[i] = sample.Filename
	}

	setReceiptHeaders(w, result)
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", archiveName(pack.Name)))

	// Headers are already on the wire once the first entry streams; a
	// failure mid-archive can only surface as a truncated ZIP, which is
	// exactly what consumers can detect (the central directory is never
	// written on error).
	if err := s.Streamer.Archive(r.Context(), w, locators); err != nil {
		logger.Error("pack archive failed", map[string]interface{}{
			"pack_id": pack.ID,
			"error":   err.Error(),
		})
	}
}

func setReceiptHeaders(w http.ResponseWriter, result *ledger.PurchaseResult) {
	if result == nil {
		return
	}
	kind := ledger.KindOK
	if result.Reaccess {
		kind = ledger.KindAlreadyOwned
	}
	w.Header().Set("X-Outcome", kind)
	w.Header().Set("X-Credits-Charged", fmt.Sprintf("%d", result.Charged))
	w.Header().Set("X-Credits-Balance", fmt.Sprintf("%d", result.Balance))
}

func archiveName(packName string) string {
	sanitized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, packName)
	if sanitized == "" {
		sanitized = "pack"
	}
	return sanitized + ".zip"
}

type LibraryPack struct {
	Pack    *models.Pack     `json:"pack,omitempty"`
	Samples []*models.Sample `json:"samples"`
}

// Library lists the user's licensed samples grouped by pack. Samples whose
// pack was deleted come last without pack metadata.
func (s *Server) Library(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())

	grouped, err := s.Ledger.Library(r.Context(), user.ID)
	if err != nil {
		writeOutcome(w, err)
		return
	}

	var packs []LibraryPack
	for packID, samples := range grouped {
		entry := LibraryPack{Samples: samples}
		if packID != "" {
			pack, err := s.Storage.GetPack(r.Context(), packID)
			if err != nil {
				writeErrorResponse(w, http.StatusServiceUnavailable, "Database error")
				return
			}
			entry.Pack = pack
		}
		packs = append(packs, entry)
	}
	sort.Slice(packs, func(i, j int) bool {
		switch {
		case packs[i].Pack == nil:
			return false
		case packs[j].Pack == nil:
			return true
		default:
			return packs[i].Pack.Name < packs[j].Pack.Name
		}
	})

	writeJSON(w, http.StatusOK, map[string]interface{}{"packs": packs})
}

// Me reports the caller's identity and a fresh balance for UI display. The
// read is not linearized with in-flight purchases; the balance shown here
// never gates a financial decision.
func (s *Server) Me(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())

	fresh, err := s.Storage.GetUser(r.Context(), user.ID)
	if err != nil || fresh == nil {
		writeErrorResponse(w, http.StatusServiceUnavailable, "Database error")
		return
	}
	writeJSON(w, http.StatusOK, fresh)
}
