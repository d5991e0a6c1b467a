package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lifehub/essence/internal/domain"
	"github.com/lifehub/essence/internal/infra/observability"
)

// ─── Progression API ────────────────────────────────────────────────────────
// Read side of the engine for profile screens and clients.
//
// GET  /v1/users/{userID}/profile                      — essence, level, title, active rewards
// GET  /v1/users/{userID}/achievements                 — every achievement with progress
// GET  /v1/users/{userID}/rewards                      — catalog rewards, owned flagged
// POST /v1/users/{userID}/rewards/{rewardID}/equip     — equip an owned reward
// GET  /v1/users/{userID}/transactions                 — last 50 ledger entries
// GET  /v1/users/{userID}/decisions                    — anti-cheat audit trail
// GET  /v1/users/{userID}/notifications                — pending notifications
// POST /v1/users/{userID}/notifications/{id}/shown     — mark notification shown
// GET  /v1/users/{userID}/notifications/live           — SSE feed

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	prof, err := s.engine.GetProfile(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prof)
}

func (s *Server) handleAchievements(w http.ResponseWriter, r *http.Request) {
	views, err := s.engine.ListAchievements(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.internalError(w, err)
		return
	}
	unlocked := 0
	for _, v := range views {
		if v.Unlocked {
			unlocked++
		}
	}
	pct := 0.0
	if len(views) > 0 {
		pct = float64(unlocked) / float64(len(views)) * 100
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"achievements":   views,
		"unlocked_count": unlocked,
		"total_count":    len(views),
		"completion_pct": pct,
	})
}

func (s *Server) handleRewards(w http.ResponseWriter, r *http.Request) {
	rewards, err := s.engine.ListRewards(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rewards": rewards})
}

func (s *Server) handleEquip(w http.ResponseWriter, r *http.Request) {
	def, err := s.engine.EquipReward(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "rewardID"))
	switch {
	case errors.Is(err, domain.ErrUnknownReward):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrRewardNotOwned):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		s.internalError(w, err)
	default:
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "equipped", "reward": def})
	}
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	entries, err := s.engine.ListTransactions(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"transactions": nonNil(entries)})
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	decisions, err := s.engine.ListDecisions(r.Context(), chi.URLParam(r, "userID"), queryLimit(r))
	if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"decisions": nonNil(decisions)})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	notes, err := s.engine.PendingNotifications(r.Context(), chi.URLParam(r, "userID"), queryLimit(r))
	if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": nonNil(notes),
		"count":         len(notes),
	})
}

func (s *Server) handleNotificationShown(w http.ResponseWriter, r *http.Request) {
	err := s.engine.MarkNotificationShown(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, domain.ErrNotificationNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		s.internalError(w, err)
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error("request failed", "error", err)
	writeError(w, http.StatusInternalServerError, err.Error())
}

func queryLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// ─── Live Notifications ─────────────────────────────────────────────────────
// Committed notifications are pushed to connected clients over Server-Sent
// Events. A client that falls behind loses live messages but can always
// poll the persisted ones.

// NotificationHub fans notifications out to per-user SSE subscribers.
type NotificationHub struct {
	mu      sync.RWMutex
	clients map[string]map[chan []byte]struct{}
}

// NewNotificationHub creates an empty hub.
func NewNotificationHub() *NotificationHub {
	return &NotificationHub{clients: make(map[string]map[chan []byte]struct{})}
}

// Notify implements domain.Notifier.
func (h *NotificationHub) Notify(_ context.Context, n domain.Notification) {
	h.Broadcast(n)
}

// Broadcast sends n to every subscriber of n.UserID.
func (h *NotificationHub) Broadcast(n domain.Notification) {
	data, err := json.Marshal(n)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.clients[n.UserID] {
		select {
		case ch <- data:
			observability.NotificationsPublished.WithLabelValues("sse", "ok").Inc()
		default:
			// Client too slow — drop message
			observability.NotificationsPublished.WithLabelValues("sse", "dropped").Inc()
		}
	}
}

// Subscribe registers a client for userID. Returns the channel and an unsubscribe func.
func (h *NotificationHub) Subscribe(userID string) (chan []byte, func()) {
	ch := make(chan []byte, 32)
	h.mu.Lock()
	if h.clients[userID] == nil {
		h.clients[userID] = make(map[chan []byte]struct{})
	}
	h.clients[userID][ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		delete(h.clients[userID], ch)
		if len(h.clients[userID]) == 0 {
			delete(h.clients, userID)
		}
		h.mu.Unlock()
		close(ch)
	}
}

// ClientCount returns the number of connected clients.
func (h *NotificationHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, subs := range h.clients {
		n += len(subs)
	}
	return n
}

// handleLive serves the user's notification feed via Server-Sent Events.
// Pending notifications are replayed first, then live ones follow.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}
	userID := chi.URLParam(r, "userID")

	// Subscribe before replaying so nothing committed in between is missed.
	ch, unsub := s.hub.Subscribe(userID)
	defer unsub()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	pending, err := s.engine.PendingNotifications(r.Context(), userID, 0)
	if err != nil {
		s.log.Warn("replay pending notifications", "user_id", userID, "error", err)
	}
	for _, n := range pending {
		data, err := json.Marshal(n)
		if err != nil {
			continue
		}
		writeEvent(w, data)
	}
	flusher.Flush()

	keepalive := time.NewTicker(25 * time.Second)
	defer keepalive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			w.Write([]byte(": keepalive\n\n"))
			flusher.Flush()
		case data := <-ch:
			writeEvent(w, data)
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, data []byte) {
	w.Write([]byte("event: notification\ndata: "))
	w.Write(data)
	w.Write([]byte("\n\n"))
}
