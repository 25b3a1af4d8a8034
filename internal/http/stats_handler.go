package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/availability-engine/internal/application"
)

type learningService interface {
	RecordOutcome(ctx context.Context, userID string, start time.Time, outcome application.Outcome) (application.SlotStat, error)
	ListStats(ctx context.Context, userID string) ([]application.SlotStat, error)
	ResetStats(ctx context.Context, userID string) error
	LearningEnabled(ctx context.Context, userID string) (bool, error)
	SetLearningEnabled(ctx context.Context, userID string, enabled bool) error
}

type StatsHandler struct {
	service   learningService
	logger    *slog.Logger
	responder responder
}

func NewStatsHandler(service learningService, logger *slog.Logger) *StatsHandler {
	return &StatsHandler{service: service, logger: defaultLogger(logger), responder: newResponder(logger)}
}

func (h *StatsHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	userID, ok := h.responder.requireUser(ctx, w)
	if !ok {
		return
	}

	stats, err := h.service.ListStats(ctx, userID)
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}
	response := statsResponse{Stats: make([]slotStatDTO, 0, len(stats))}
	for _, stat := range stats {
		response.Stats = append(response.Stats, toSlotStatDTO(stat))
	}
	h.responder.writeJSON(ctx, w, http.StatusOK, response)
}

func (h *StatsHandler) RecordOutcome(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	userID, ok := h.responder.requireUser(ctx, w)
	if !ok {
		return
	}

	var req outcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(ctx, w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	stat, err := h.service.RecordOutcome(ctx, userID, req.Start, application.Outcome(req.Outcome))
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}
	h.responder.writeJSON(ctx, w, http.StatusOK, toSlotStatDTO(stat))
}

func (h *StatsHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	userID, ok := h.responder.requireUser(ctx, w)
	if !ok {
		return
	}

	if err := h.service.ResetStats(ctx, userID); err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}
	h.responder.writeJSON(ctx, w, http.StatusNoContent, nil)
}

func (h *StatsHandler) GetLearning(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	userID, ok := h.responder.requireUser(ctx, w)
	if !ok {
		return
	}

	enabled, err := h.service.LearningEnabled(ctx, userID)
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}
	h.responder.writeJSON(ctx, w, http.StatusOK, learningPreference{Enabled: &enabled})
}

func (h *StatsHandler) PutLearning(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	userID, ok := h.responder.requireUser(ctx, w)
	if !ok {
		return
	}

	var req learningPreference
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(ctx, w, http.StatusBadRequest, errBadRequestBody)
		return
	}
	if req.Enabled == nil {
		h.responder.handleServiceError(ctx, w, &application.ValidationError{FieldErrors: map[string]string{
			"enabled": "enabled is required",
		}})
		return
	}

	if err := h.service.SetLearningEnabled(ctx, userID, *req.Enabled); err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}
	h.responder.writeJSON(ctx, w, http.StatusOK, req)
}

type outcomeRequest struct {
	Start   time.Time `json:"start"`
	Outcome string    `json:"outcome"`
}

type learningPreference struct {
	Enabled *bool `json:"enabled"`
}

type slotStatDTO struct {
	BucketID       string     `json:"bucket_id"`
	TotalScheduled int        `json:"total_scheduled"`
	TotalCompleted int        `json:"total_completed"`
	TotalCancelled int        `json:"total_cancelled"`
	SuccessRate    int        `json:"success_rate"`
	LastUsed       *time.Time `json:"last_used,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type statsResponse struct {
	Stats []slotStatDTO `json:"stats"`
}

func toSlotStatDTO(stat application.SlotStat) slotStatDTO {
	return slotStatDTO{
		BucketID:       stat.Bucket.String(),
		TotalScheduled: stat.TotalScheduled,
		TotalCompleted: stat.TotalCompleted,
		TotalCancelled: stat.TotalCancelled,
		SuccessRate:    stat.SuccessRate,
		LastUsed:       stat.LastUsed,
		UpdatedAt:      stat.UpdatedAt,
	}
}
