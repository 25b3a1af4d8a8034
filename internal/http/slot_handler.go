package http

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/example/availability-engine/internal/application"
	"github.com/example/availability-engine/internal/availability"
	"github.com/example/availability-engine/internal/calendar"
)

const defaultDurationMinutes = 30

type slotFinder interface {
	FindAvailableSlots(ctx context.Context, userID string, cred calendar.Credential, date time.Time, durationMinutes, horizonDays int) ([]availability.TimeSlot, error)
}

type slotRanker interface {
	RankSlots(ctx context.Context, userID string, slots []availability.TimeSlot, learningEnabled bool, adjacentBucketIDs []string) ([]availability.TimeSlot, error)
	LearningEnabled(ctx context.Context, userID string) (bool, error)
}

type SlotHandler struct {
	finder    slotFinder
	ranker    slotRanker
	location  *time.Location
	now       func() time.Time
	logger    *slog.Logger
	responder responder
}

// NewSlotHandler builds the slot listing handler. Dates in queries are read in
// loc. A nil ranker returns slots in chronological order.
func NewSlotHandler(finder slotFinder, ranker slotRanker, loc *time.Location, now func() time.Time, logger *slog.Logger) *SlotHandler {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &SlotHandler{
		finder:    finder,
		ranker:    ranker,
		location:  loc,
		now:       now,
		logger:    defaultLogger(logger),
		responder: newResponder(logger),
	}
}

func (h *SlotHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.finder == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	userID, ok := h.responder.requireUser(ctx, w)
	if !ok {
		return
	}

	query, vErr := h.parseQuery(r.URL.Query())
	if vErr.HasErrors() {
		h.responder.handleServiceError(ctx, w, vErr)
		return
	}

	fetchedAt := h.now().UTC()
	slots, err := h.finder.FindAvailableSlots(ctx, userID, credentialFromRequest(r), query.date, query.duration, query.horizon)
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	response := slotsResponse{FetchedAt: fetchedAt}
	if query.rank && h.ranker != nil {
		enabled, err := h.ranker.LearningEnabled(ctx, userID)
		if err != nil {
			h.responder.handleServiceError(ctx, w, err)
			return
		}
		slots, err = h.ranker.RankSlots(ctx, userID, slots, enabled, query.adjacent)
		if err != nil {
			h.responder.handleServiceError(ctx, w, err)
			return
		}
		response.Ranked = true
		response.LearningEnabled = &enabled
	}
	response.Slots = toSlotDTOs(slots)

	handlerLogger(ctx, h.logger, "SlotHandler", "List", "result_count", len(slots)).DebugContext(ctx, "slots rendered")
	h.responder.writeJSON(ctx, w, http.StatusOK, response)
}

type slotQuery struct {
	date     time.Time
	duration int
	horizon  int
	rank     bool
	adjacent []string
}

func (h *SlotHandler) parseQuery(values url.Values) (slotQuery, *application.ValidationError) {
	q := slotQuery{duration: defaultDurationMinutes, rank: true}
	vErr := &application.ValidationError{FieldErrors: map[string]string{}}

	if raw := strings.TrimSpace(values.Get("date")); raw != "" {
		date, err := time.ParseInLocation(time.DateOnly, raw, h.location)
		if err != nil {
			vErr.FieldErrors["date"] = "date must use YYYY-MM-DD"
		} else {
			q.date = date
		}
	}
	if raw := strings.TrimSpace(values.Get("duration")); raw != "" {
		duration, err := strconv.Atoi(raw)
		if err != nil {
			vErr.FieldErrors["duration"] = "duration must be a whole number of minutes"
		} else {
			q.duration = duration
		}
	}
	if raw := strings.TrimSpace(values.Get("horizon")); raw != "" {
		horizon, err := strconv.Atoi(raw)
		if err != nil {
			vErr.FieldErrors["horizon"] = "horizon must be a whole number of days"
		} else {
			q.horizon = horizon
		}
	}
	if raw := strings.TrimSpace(values.Get("rank")); raw != "" {
		rank, err := strconv.ParseBool(raw)
		if err != nil {
			vErr.FieldErrors["rank"] = "rank must be true or false"
		} else {
			q.rank = rank
		}
	}
	for _, part := range strings.Split(values.Get("adjacent"), ",") {
		if part = strings.TrimSpace(part); part != "" {
			q.adjacent = append(q.adjacent, part)
		}
	}
	return q, vErr
}

type slotDTO struct {
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	DurationMinutes int       `json:"duration_minutes"`
	Label           string    `json:"label"`
	DayLabel        string    `json:"day_label,omitempty"`
	DaysFromNow     int       `json:"days_from_now"`
	Score           int       `json:"score"`
	IsRecommended   bool      `json:"is_recommended"`
	Annotation      string    `json:"annotation,omitempty"`
	BucketID        string    `json:"bucket_id,omitempty"`
}

type slotsResponse struct {
	Slots           []slotDTO `json:"slots"`
	FetchedAt       time.Time `json:"fetched_at"`
	Ranked          bool      `json:"ranked"`
	LearningEnabled *bool     `json:"learning_enabled,omitempty"`
}

func toSlotDTOs(slots []availability.TimeSlot) []slotDTO {
	out := make([]slotDTO, 0, len(slots))
	for _, slot := range slots {
		out = append(out, slotDTO{
			Start:           slot.Start,
			End:             slot.End,
			DurationMinutes: slot.DurationMinutes,
			Label:           slot.Label,
			DayLabel:        slot.DayLabel,
			DaysFromNow:     slot.DaysFromNow,
			Score:           slot.Score,
			IsRecommended:   slot.IsRecommended,
			Annotation:      slot.Annotation,
			BucketID:        slot.BucketID,
		})
	}
	return out
}
