package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/example/availability-engine/internal/application"
	"github.com/example/availability-engine/internal/calendar"
)

type syncEventLedger interface {
	ListByStatus(ctx context.Context, userID string, status application.SyncStatus) ([]application.SyncEvent, error)
	Counts(ctx context.Context, userID string) (application.StatusCounts, error)
	Delete(ctx context.Context, userID, id string) error
}

type syncEventRetrier interface {
	Retry(ctx context.Context, userID string, cred calendar.Credential, id string) (application.BookingResult, error)
	RetryFailed(ctx context.Context, userID string, cred calendar.Credential) ([]application.SyncEvent, error)
}

type SyncEventHandler struct {
	ledger    syncEventLedger
	retrier   syncEventRetrier
	logger    *slog.Logger
	responder responder
}

func NewSyncEventHandler(ledger syncEventLedger, retrier syncEventRetrier, logger *slog.Logger) *SyncEventHandler {
	return &SyncEventHandler{ledger: ledger, retrier: retrier, logger: defaultLogger(logger), responder: newResponder(logger)}
}

func (h *SyncEventHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.ledger == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	userID, ok := h.responder.requireUser(ctx, w)
	if !ok {
		return
	}

	var status application.SyncStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		parsed, err := application.ParseSyncStatus(raw)
		if err != nil {
			h.responder.handleServiceError(ctx, w, &application.ValidationError{FieldErrors: map[string]string{
				"status": "status must be pending, synced, error or conflict",
			}})
			return
		}
		status = parsed
	}

	events, err := h.ledger.ListByStatus(ctx, userID, status)
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}
	h.responder.writeJSON(ctx, w, http.StatusOK, syncEventsResponse{SyncEvents: toSyncEventDTOs(events)})
}

func (h *SyncEventHandler) Counts(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.ledger == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	userID, ok := h.responder.requireUser(ctx, w)
	if !ok {
		return
	}

	counts, err := h.ledger.Counts(ctx, userID)
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}
	h.responder.writeJSON(ctx, w, http.StatusOK, countsResponse{
		Pending:  counts.Pending,
		Synced:   counts.Synced,
		Error:    counts.Error,
		Conflict: counts.Conflict,
		Total:    counts.Total(),
	})
}

func (h *SyncEventHandler) Retry(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.retrier == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	userID, ok := h.responder.requireUser(ctx, w)
	if !ok {
		return
	}
	id, ok := SyncEventIDFromContext(ctx)
	if !ok {
		h.responder.writeError(ctx, w, http.StatusBadRequest, errInvalidSyncEventID)
		return
	}

	result, err := h.retrier.Retry(ctx, userID, credentialFromRequest(r), id)
	exposeCredential(w, result.Credential)
	if err != nil {
		if result.SyncEventID == "" {
			h.responder.handleServiceError(ctx, w, err)
			return
		}
		status, payload := describeError(err)
		handlerLogger(ctx, h.logger, "SyncEventHandler", "Retry", "sync_event_id", id).
			WarnContext(ctx, "retry not committed", "status", status, "error_kind", application.ErrorKind(err))
		response := toBookingResponse(result)
		response.Error = &payload
		h.responder.writeJSON(ctx, w, status, response)
		return
	}
	h.responder.writeJSON(ctx, w, http.StatusOK, toBookingResponse(result))
}

func (h *SyncEventHandler) RetryFailed(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.retrier == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	userID, ok := h.responder.requireUser(ctx, w)
	if !ok {
		return
	}

	events, err := h.retrier.RetryFailed(ctx, userID, credentialFromRequest(r))
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}
	h.responder.writeJSON(ctx, w, http.StatusOK, syncEventsResponse{SyncEvents: toSyncEventDTOs(events)})
}

func (h *SyncEventHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.ledger == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	userID, ok := h.responder.requireUser(ctx, w)
	if !ok {
		return
	}
	id, ok := SyncEventIDFromContext(ctx)
	if !ok {
		h.responder.writeError(ctx, w, http.StatusBadRequest, errInvalidSyncEventID)
		return
	}

	if err := h.ledger.Delete(ctx, userID, id); err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}
	h.responder.writeJSON(ctx, w, http.StatusNoContent, nil)
}

type syncEventDTO struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	CalendarIDs     []string  `json:"calendar_ids"`
	Status          string    `json:"status"`
	ProviderEventID string    `json:"provider_event_id,omitempty"`
	HTMLLink        string    `json:"html_link,omitempty"`
	ErrorKind       string    `json:"error_kind,omitempty"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	RetryCount      int       `json:"retry_count"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type syncEventsResponse struct {
	SyncEvents []syncEventDTO `json:"sync_events"`
}

type countsResponse struct {
	Pending  int `json:"pending"`
	Synced   int `json:"synced"`
	Error    int `json:"error"`
	Conflict int `json:"conflict"`
	Total    int `json:"total"`
}

func toSyncEventDTOs(events []application.SyncEvent) []syncEventDTO {
	out := make([]syncEventDTO, 0, len(events))
	for _, event := range events {
		calendars := event.CalendarIDs
		if calendars == nil {
			calendars = []string{}
		}
		out = append(out, syncEventDTO{
			ID:              event.ID,
			Title:           event.Title,
			StartTime:       event.StartTime,
			EndTime:         event.EndTime,
			CalendarIDs:     calendars,
			Status:          string(event.Status),
			ProviderEventID: event.ProviderEventID,
			HTMLLink:        event.HTMLLink,
			ErrorKind:       string(event.ErrorKind),
			ErrorMessage:    event.ErrorMessage,
			RetryCount:      event.RetryCount,
			CreatedAt:       event.CreatedAt,
			UpdatedAt:       event.UpdatedAt,
		})
	}
	return out
}
