package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/denh4m/ddms-core/internal/notification"
)

const (
	defaultNotificationLimit = 50
	maxNotificationLimit     = 200
)

// handleListNotifications returns the authenticated user's notification
// feed, newest first. Dismissed notifications never appear.
//
// Query parameters: limit (default 50, max 200), offset, unread_only.
func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())

	limit := defaultNotificationLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = min(n, maxNotificationLimit)
	}

	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeBadRequest(w, "offset must be a non-negative integer")
			return
		}
		offset = n
	}

	unreadOnly := r.URL.Query().Get("unread_only") == "true"

	items, err := s.notifications.ListForUser(r.Context(), userID, limit, offset, unreadOnly)
	if err != nil {
		s.logger.Error("notification list failed", "user_id", userID, "error", err)
		writeInternalError(w, "notification list failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"notifications": items,
		"limit":         limit,
		"offset":        offset,
	})
}

// handleUnreadCount returns the user's unread notification count.
func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())

	count, err := s.notifications.UnreadCount(r.Context(), userID)
	if err != nil {
		s.logger.Error("unread count failed", "user_id", userID, "error", err)
		writeInternalError(w, "unread count failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"count": count})
}

// handleMarkRead marks one of the user's notifications as read.
func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	id := chi.URLParam(r, "id")

	if err := s.notifications.MarkRead(r.Context(), id, userID); err != nil {
		if errors.Is(err, notification.ErrNotFound) {
			writeNotFound(w, "notification not found")
			return
		}
		s.logger.Error("mark read failed", "notification_id", id, "error", err)
		writeInternalError(w, "mark read failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleMarkAllRead marks all of the user's unread notifications as read
// and reports how many were updated.
func (s *Server) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())

	updated, err := s.notifications.MarkAllRead(r.Context(), userID)
	if err != nil {
		s.logger.Error("mark all read failed", "user_id", userID, "error", err)
		writeInternalError(w, "mark all read failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"updated": updated})
}

// handleDismiss removes a notification from the user's feed.
func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	id := chi.URLParam(r, "id")

	if err := s.notifications.Dismiss(r.Context(), id, userID); err != nil {
		if errors.Is(err, notification.ErrNotFound) {
			writeNotFound(w, "notification not found")
			return
		}
		s.logger.Error("dismiss failed", "notification_id", id, "error", err)
		writeInternalError(w, "dismiss failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
