package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/availability-engine/internal/application"
	"github.com/example/availability-engine/internal/logging"
)

var (
	errBadRequestBody     = errors.New("The request body is not valid JSON.")
	errInvalidSyncEventID = errors.New("A sync event id is required.")
	errMissingBearerToken = errors.New("A bearer token is required.")
	errMissingUser        = errors.New("The request is not associated with a user.")
)

type responder struct {
	logger *slog.Logger
}

func newResponder(logger *slog.Logger) responder {
	return responder{logger: defaultLogger(logger)}
}

func (r responder) writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	if w == nil {
		return
	}

	if status == http.StatusNoContent || payload == nil {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.loggerFor(ctx).ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (r responder) writeError(ctx context.Context, w http.ResponseWriter, status int, err error) {
	message := http.StatusText(status)
	if err != nil {
		if msg := strings.TrimSpace(err.Error()); msg != "" {
			message = msg
		}
		r.loggerFor(ctx).WarnContext(ctx, "request failed", "status", status, "error", err)
	}

	r.writeJSON(ctx, w, status, errorResponse{ErrorCode: codeForStatus(status), Message: message})
}

func (r responder) handleServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		r.writeError(ctx, w, http.StatusInternalServerError, errors.New("unknown error"))
		return
	}

	status, payload := describeError(err)
	logger := r.loggerFor(ctx).With("status", status, "error_kind", application.ErrorKind(err))
	if status >= http.StatusInternalServerError && application.KindOf(err) == "" {
		logger.ErrorContext(ctx, "request failed", "error", err)
	} else {
		logger.WarnContext(ctx, "request rejected", "error", err)
	}
	r.writeJSON(ctx, w, status, payload)
}

func (r responder) loggerFor(ctx context.Context) *slog.Logger {
	if logger := logging.FromContext(ctx); logger != nil {
		return logger
	}
	return r.logger
}

// describeError maps service errors onto a status code and a payload that
// never carries raw upstream detail.
func describeError(err error) (int, errorResponse) {
	var vErr *application.ValidationError
	if errors.As(err, &vErr) {
		return http.StatusUnprocessableEntity, errorResponse{
			ErrorCode: "VALIDATION_ERROR",
			Message:   "The request contains invalid values.",
			Errors:    vErr.FieldErrors,
		}
	}

	var appErr *application.Error
	if errors.As(err, &appErr) {
		message := appErr.Message
		if message == "" {
			message = string(appErr.Kind)
		}
		return statusForKind(appErr.Kind), errorResponse{
			ErrorCode: strings.ToUpper(string(appErr.Kind)),
			Message:   message,
			Retryable: appErr.Retryable,
		}
	}

	switch {
	case errors.Is(err, application.ErrNotFound):
		return http.StatusNotFound, errorResponse{ErrorCode: "NOT_FOUND", Message: "The requested resource was not found."}
	case errors.Is(err, application.ErrInvalidTransition):
		return http.StatusConflict, errorResponse{ErrorCode: "INVALID_TRANSITION", Message: "The sync event cannot change from its current status."}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, errorResponse{ErrorCode: "TIMEOUT", Message: "The request did not complete in time."}
	default:
		return http.StatusInternalServerError, errorResponse{ErrorCode: "INTERNAL", Message: "An internal error occurred."}
	}
}

func statusForKind(kind application.Kind) int {
	switch kind {
	case application.KindValidation:
		return http.StatusUnprocessableEntity
	case application.KindAuthExpired:
		return http.StatusUnauthorized
	case application.KindStaleSlot, application.KindSlotConflict, application.KindConflict:
		return http.StatusConflict
	case application.KindUpstreamUnavailable:
		return http.StatusBadGateway
	case application.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "BAD_REQUEST"
	case http.StatusUnauthorized:
		return "AUTH_REQUIRED"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case http.StatusUnprocessableEntity:
		return "VALIDATION_ERROR"
	default:
		return "INTERNAL"
	}
}

type errorResponse struct {
	ErrorCode string            `json:"error_code,omitempty"`
	Message   string            `json:"message"`
	Retryable bool              `json:"retryable,omitempty"`
	Errors    map[string]string `json:"errors,omitempty"`
}

func (r responder) requireUser(ctx context.Context, w http.ResponseWriter) (string, bool) {
	userID, ok := UserIDFromContext(ctx)
	if !ok {
		r.writeError(ctx, w, http.StatusUnauthorized, errMissingUser)
		return "", false
	}
	return userID, true
}
