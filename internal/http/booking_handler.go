package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/example/availability-engine/internal/application"
	"github.com/example/availability-engine/internal/calendar"
	"github.com/example/availability-engine/internal/recurrence"
)

type bookingService interface {
	BookSlot(ctx context.Context, userID string, cred calendar.Credential, req application.BookingRequest) (application.BookingResult, error)
	BookRecurring(ctx context.Context, userID string, cred calendar.Credential, req application.BookingRequest, rule recurrence.Rule) (application.RecurringBookingResult, error)
}

type BookingHandler struct {
	service   bookingService
	location  *time.Location
	logger    *slog.Logger
	responder responder
}

// NewBookingHandler builds the booking handler. Recurrence end dates are
// read in loc.
func NewBookingHandler(service bookingService, loc *time.Location, logger *slog.Logger) *BookingHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &BookingHandler{service: service, location: loc, logger: defaultLogger(logger), responder: newResponder(logger)}
}

func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	userID, ok := h.responder.requireUser(ctx, w)
	if !ok {
		return
	}

	var req bookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(ctx, w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	result, err := h.service.BookSlot(ctx, userID, credentialFromRequest(r), req.toBookingRequest())
	exposeCredential(w, result.Credential)
	if err != nil {
		if result.SyncEventID == "" {
			h.responder.handleServiceError(ctx, w, err)
			return
		}
		status, payload := describeError(err)
		handlerLogger(ctx, h.logger, "BookingHandler", "Create", "sync_event_id", result.SyncEventID).
			WarnContext(ctx, "booking not committed", "status", status, "error_kind", application.ErrorKind(err))
		response := toBookingResponse(result)
		response.Error = &payload
		h.responder.writeJSON(ctx, w, status, response)
		return
	}

	h.responder.writeJSON(ctx, w, http.StatusCreated, toBookingResponse(result))
}

func (h *BookingHandler) CreateRecurring(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	userID, ok := h.responder.requireUser(ctx, w)
	if !ok {
		return
	}

	var req recurringBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(ctx, w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	rule, vErr := req.Recurrence.toRule(h.location)
	if vErr.HasErrors() {
		h.responder.handleServiceError(ctx, w, vErr)
		return
	}

	result, err := h.service.BookRecurring(ctx, userID, credentialFromRequest(r), req.toBookingRequest(), rule)
	exposeCredential(w, result.Credential)
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	status := http.StatusOK
	if len(result.Booked) > 0 {
		status = http.StatusCreated
	}
	h.responder.writeJSON(ctx, w, status, toRecurringResponse(result))
}

type bookingRequest struct {
	SlotStart       time.Time `json:"slot_start"`
	SlotEnd         time.Time `json:"slot_end"`
	Title           string    `json:"title"`
	FetchedAt       time.Time `json:"fetched_at"`
	CalendarIDs     []string  `json:"calendar_ids"`
	ReminderMinutes []int     `json:"reminder_minutes"`
}

func (r bookingRequest) toBookingRequest() application.BookingRequest {
	return application.BookingRequest{
		SlotStart:       r.SlotStart,
		SlotEnd:         r.SlotEnd,
		Title:           r.Title,
		FetchedAt:       r.FetchedAt,
		CalendarIDs:     r.CalendarIDs,
		ReminderMinutes: r.ReminderMinutes,
	}
}

type recurrenceDTO struct {
	Frequency string   `json:"frequency"`
	Weekdays  []string `json:"weekdays"`
	Until     string   `json:"until"`
	Count     int      `json:"count"`
}

func (d recurrenceDTO) toRule(loc *time.Location) (recurrence.Rule, *application.ValidationError) {
	vErr := &application.ValidationError{FieldErrors: map[string]string{}}
	var rule recurrence.Rule

	frequency, err := recurrence.ParseFrequency(d.Frequency)
	if err != nil {
		vErr.FieldErrors["recurrence.frequency"] = "frequency must be daily or weekly"
	}
	rule.Frequency = frequency

	for _, name := range d.Weekdays {
		day, err := recurrence.ParseWeekday(name)
		if err != nil {
			vErr.FieldErrors["recurrence.weekdays"] = "weekdays must be day names such as mon or tuesday"
			break
		}
		rule.Weekdays = append(rule.Weekdays, day)
	}

	if raw := strings.TrimSpace(d.Until); raw != "" {
		until, err := time.ParseInLocation(time.DateOnly, raw, loc)
		if err != nil {
			vErr.FieldErrors["recurrence.until"] = "until must use YYYY-MM-DD"
		} else {
			rule.Until = &until
		}
	}
	if d.Count < 0 {
		vErr.FieldErrors["recurrence.count"] = "count must not be negative"
	}
	rule.Count = d.Count
	return rule, vErr
}

type recurringBookingRequest struct {
	bookingRequest
	Recurrence recurrenceDTO `json:"recurrence"`
}

type bookingResponse struct {
	Success         bool           `json:"success"`
	Status          string         `json:"status,omitempty"`
	SyncEventID     string         `json:"sync_event_id,omitempty"`
	ProviderEventID string         `json:"provider_event_id,omitempty"`
	HTMLLink        string         `json:"html_link,omitempty"`
	Error           *errorResponse `json:"error,omitempty"`
}

func toBookingResponse(result application.BookingResult) bookingResponse {
	response := bookingResponse{
		Success:         result.Success,
		Status:          string(result.Status),
		SyncEventID:     result.SyncEventID,
		ProviderEventID: result.ProviderEventID,
		HTMLLink:        result.HTMLLink,
	}
	if result.Error != nil {
		_, payload := describeError(result.Error)
		response.Error = &payload
	}
	return response
}

type skippedOccurrenceDTO struct {
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	SyncEventID string    `json:"sync_event_id,omitempty"`
	Reason      string    `json:"reason"`
}

type recurringBookingResponse struct {
	Booked  []bookingResponse      `json:"booked"`
	Skipped []skippedOccurrenceDTO `json:"skipped"`
	Failed  []bookingResponse      `json:"failed"`
}

func toRecurringResponse(result application.RecurringBookingResult) recurringBookingResponse {
	response := recurringBookingResponse{
		Booked:  make([]bookingResponse, 0, len(result.Booked)),
		Skipped: make([]skippedOccurrenceDTO, 0, len(result.Skipped)),
		Failed:  make([]bookingResponse, 0, len(result.Failed)),
	}
	for _, booked := range result.Booked {
		response.Booked = append(response.Booked, toBookingResponse(booked))
	}
	for _, skipped := range result.Skipped {
		response.Skipped = append(response.Skipped, skippedOccurrenceDTO{
			Start:       skipped.Start,
			End:         skipped.End,
			SyncEventID: skipped.SyncEventID,
			Reason:      string(skipped.Reason),
		})
	}
	for _, failed := range result.Failed {
		response.Failed = append(response.Failed, toBookingResponse(failed))
	}
	return response
}
