// Package rest serves the read and administration surface of a recipient's inbox.
package rest

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/webitel/im-notification-service/infra/auth"
	"github.com/webitel/im-notification-service/internal/domain/errs"
	"github.com/webitel/im-notification-service/internal/domain/model"
	"github.com/webitel/im-notification-service/internal/service"
)

type Handler struct {
	inbox    *service.Inbox
	verifier *auth.Verifier
	logger   *slog.Logger
}

func NewHandler(inbox *service.Inbox, verifier *auth.Verifier, logger *slog.Logger) *Handler {
	return &Handler{inbox: inbox, verifier: verifier, logger: logger}
}

// Routes mounts the inbox endpoints on r. {id} names the notification on /read and the
// recipient everywhere else. A non-nil poll is served on /poll under the recipient check.
func (h *Handler) Routes(r chi.Router, poll http.HandlerFunc) {
	r.Route("/notifications/{id}", func(r chi.Router) {
		r.With(h.Authenticate).Patch("/read", h.MarkRead)

		r.Group(func(r chi.Router) {
			r.Use(h.RequireRecipient)

			if poll != nil {
				r.Get("/poll", poll)
			}

			r.Get("/", h.List)
			r.Patch("/read-all", h.MarkAllRead)
			r.Patch("/unread-all", h.MarkAllUnread)
			r.Get("/unread-count", h.CountUnread)
			r.Get("/count", h.CountByType)
			r.Delete("/all", h.DeleteAll)
		})
	})
}

// Authenticate attaches the token subject to the request context.
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.verifier.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		subject, err := h.verifier.Inspect(auth.TokenFromRequest(r))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthenticated")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithSubject(r.Context(), subject)))
	})
}

// RequireRecipient rejects callers whose token subject is not the recipient in the path.
func (h *Handler) RequireRecipient(next http.Handler) http.Handler {
	return h.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if subject, ok := auth.SubjectFrom(r.Context()); ok && subject != chi.URLParam(r, "id") {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	}))
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q, err := parseListQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	views, err := h.inbox.List(r.Context(), chi.URLParam(r, "id"), q)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if views == nil {
		views = []*model.NotificationView{}
	}
	writeJSON(w, http.StatusOK, views)
}

// MarkRead marks the notification in the path read. An authenticated caller can only reach
// its own records.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	recipient, _ := auth.SubjectFrom(r.Context())
	view, err := h.inbox.MarkRead(r.Context(), chi.URLParam(r, "id"), recipient)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.inbox.MarkAllRead(r.Context(), chi.URLParam(r, "id"))
	h.count(w, r, "modified", n, err)
}

func (h *Handler) MarkAllUnread(w http.ResponseWriter, r *http.Request) {
	n, err := h.inbox.MarkAllUnread(r.Context(), chi.URLParam(r, "id"))
	h.count(w, r, "modified", n, err)
}

func (h *Handler) CountUnread(w http.ResponseWriter, r *http.Request) {
	n, err := h.inbox.CountUnread(r.Context(), chi.URLParam(r, "id"))
	h.count(w, r, "count", n, err)
}

func (h *Handler) CountByType(w http.ResponseWriter, r *http.Request) {
	t := model.NotificationType(r.URL.Query().Get("type"))
	n, err := h.inbox.CountByType(r.Context(), chi.URLParam(r, "id"), t)
	h.count(w, r, "count", n, err)
}

func (h *Handler) DeleteAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.inbox.DeleteByUser(r.Context(), chi.URLParam(r, "id"))
	h.count(w, r, "deleted", n, err)
}

func (h *Handler) count(w http.ResponseWriter, r *http.Request, key string, n int64, err error) {
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{key: n})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, errs.ErrMalformed):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, errs.ErrNotFound):
		writeError(w, http.StatusNotFound, "notification not found")
	default:
		h.logger.ErrorContext(r.Context(), "HTTP_REQUEST_FAILED", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func parseListQuery(r *http.Request) (service.ListQuery, error) {
	v := r.URL.Query()
	q := service.ListQuery{Type: model.NotificationType(v.Get("type"))}

	var err error
	if s := v.Get("page"); s != "" {
		if q.Page, err = strconv.ParseInt(s, 10, 64); err != nil {
			return q, errors.New("page must be an integer")
		}
	}
	if s := v.Get("limit"); s != "" {
		if q.Limit, err = strconv.ParseInt(s, 10, 64); err != nil {
			return q, errors.New("limit must be an integer")
		}
	}
	if s := v.Get("isRead"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return q, errors.New("isRead must be a boolean")
		}
		q.IsRead = &b
	}
	return q, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
