package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/lifehub/essence/internal/domain"
)

// maxEventBytes bounds an ingested request body.
const maxEventBytes = 64 << 10

// handleIngest accepts one domain event.
// POST /v1/events        → 202, processed asynchronously
// POST /v1/events?wait=1 → 200 with the processing result
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var ev domain.DomainEvent
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBytes))
	if err := dec.Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	if wait := r.URL.Query().Get("wait"); wait == "1" || wait == "true" {
		ctx, cancel := context.WithTimeout(r.Context(), s.waitTimeout)
		defer cancel()
		res, err := s.engine.SubmitAndWait(ctx, ev)
		if err != nil {
			s.writeIngestError(w, ev, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}

	if err := s.engine.Submit(ev, nil); err != nil {
		s.writeIngestError(w, ev, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":   "accepted",
		"event_id": ev.EventID,
	})
}

func (s *Server) writeIngestError(w http.ResponseWriter, ev domain.DomainEvent, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidEvent):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrBackpressure), errors.Is(err, domain.ErrEngineClosed):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		// Still queued; the caller may poll the profile.
		writeJSON(w, http.StatusAccepted, map[string]string{
			"status":   "pending",
			"event_id": ev.EventID,
		})
	default:
		s.log.Error("ingest failed", "event_id", ev.EventID, "user_id", ev.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "event processing failed")
	}
}
