package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/bidboard-harvester/internal/bid"
)

const (
	defaultPageLimit = 100
	maxPageLimit     = 1000
)

// listPending handles GET /v1/pending?limit=&offset=. Entries come back in
// processing order together with the total queue size.
func (s *Server) listPending(w http.ResponseWriter, r *http.Request) {
	if s.pending == nil {
		writeError(w, http.StatusServiceUnavailable, "pending queue unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultPageLimit, maxPageLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries := s.pending.Entries()
	page := paginate(entries, limit, offset)
	out := make([]pendingDTO, 0, len(page))
	for _, e := range page {
		out = append(out, pendingDTO{
			ID:           e.Identifier.String(),
			DiscoveredAt: e.DiscoveredAt,
			Name:         e.Hint(bid.HintName),
			URL:          e.Hint(bid.HintURL),
			DueDate:      e.Hint(bid.HintDueDate),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":   len(entries),
		"pending": out,
	})
}

// listLedger handles GET /v1/ledger?limit=&offset=, in ledger file order.
func (s *Server) listLedger(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeError(w, http.StatusServiceUnavailable, "ledger unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultPageLimit, maxPageLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	records := s.ledger.Records()
	page := paginate(records, limit, offset)
	out := make([]recordDTO, 0, len(page))
	for _, rec := range page {
		out = append(out, toRecordDTO(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":   len(records),
		"records": out,
	})
}

// getRecord handles GET /v1/ledger/{id}: 404 when the project has not been
// completed.
func (s *Server) getRecord(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeError(w, http.StatusServiceUnavailable, "ledger unavailable")
		return
	}
	id := bid.Identifier(strings.TrimSpace(chi.URLParam(r, "id")))
	if !id.Valid() {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	rec, ok := s.ledger.Lookup(id)
	if !ok {
		writeError(w, http.StatusNotFound, "project not completed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"record": toRecordDTO(rec)})
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	end := min(offset+limit, len(items))
	return items[offset:end]
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func toRecordDTO(rec bid.CompletionRecord) recordDTO {
	return recordDTO{
		ID:          rec.Identifier.String(),
		Sequence:    rec.Slot.Sequence,
		Folder:      rec.Slot.FolderName,
		Name:        rec.Name,
		DueDate:     rec.Date,
		Location:    rec.Location,
		Client:      rec.Client,
		Phone:       rec.Phone,
		CompletedAt: rec.CompletedAt,
	}
}

type pendingDTO struct {
	ID           string    `json:"id"`
	DiscoveredAt time.Time `json:"discovered_at"`
	Name         string    `json:"name,omitempty"`
	URL          string    `json:"url,omitempty"`
	DueDate      string    `json:"due_date,omitempty"`
}

type recordDTO struct {
	ID          string    `json:"id"`
	Sequence    int       `json:"sequence"`
	Folder      string    `json:"folder"`
	Name        string    `json:"name"`
	DueDate     string    `json:"due_date"`
	Location    string    `json:"location"`
	Client      string    `json:"client"`
	Phone       string    `json:"phone"`
	CompletedAt time.Time `json:"completed_at"`
}
