package http

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/cors"

	"github.com/example/availability-engine/internal/logging"
)

var errMissingSubject = errors.New("token subject is required")

// RequireJWT authenticates HS256 bearer tokens and stores the subject claim as
// the caller's user id.
func RequireJWT(secret []byte, logger *slog.Logger) func(http.Handler) http.Handler {
	responder := newResponder(logger)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			raw := bearerToken(r)
			if raw == "" {
				responder.writeJSON(ctx, w, http.StatusUnauthorized, errorResponse{
					ErrorCode: "AUTH_REQUIRED",
					Message:   errMissingBearerToken.Error(),
				})
				return
			}

			userID, err := ParseUserToken(secret, raw)
			if err != nil {
				responder.loggerFor(ctx).WarnContext(ctx, "bearer token rejected", "error", err)
				responder.writeJSON(ctx, w, http.StatusUnauthorized, errorResponse{
					ErrorCode: "AUTH_INVALID",
					Message:   "The bearer token is invalid or has expired.",
				})
				return
			}

			ctx = ContextWithUserID(ctx, userID)
			if logger := logging.FromContext(ctx); logger != nil {
				ctx = logging.ContextWithLogger(ctx, logger.With("user_id", userID))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ParseUserToken verifies raw and returns its subject.
func ParseUserToken(secret []byte, raw string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", jwt.ErrTokenUnverifiable
	}
	subject, err := claims.GetSubject()
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(subject) == "" {
		return "", errMissingSubject
	}
	return subject, nil
}

// IssueUserToken signs a token for userID that expires at expiresAt.
func IssueUserToken(secret []byte, userID string, issuedAt, expiresAt time.Time) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", errMissingSubject
	}
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	if s.status == 0 {
		s.status = status
	}
	s.ResponseWriter.WriteHeader(status)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	base = defaultLogger(base)
	var counter atomic.Uint64

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := counter.Add(1)
			logger := base.With(
				"request_id", id,
				"method", r.Method,
				"path", r.URL.Path,
			)

			ctx := logging.ContextWithLogger(r.Context(), logger)
			rec := &statusRecorder{ResponseWriter: w}
			start := time.Now()
			logger.InfoContext(ctx, "request started")
			next.ServeHTTP(rec, r.WithContext(ctx))
			if rec.status == 0 {
				rec.status = http.StatusOK
			}
			logger.InfoContext(ctx, "request completed", "status", rec.status, "duration", time.Since(start))
		})
	}
}

// CORS allows browser callers from origins. An empty list disables CORS
// handling entirely.
func CORS(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", HeaderAccessToken, HeaderRefreshToken},
		ExposedHeaders: []string{HeaderAccessToken, HeaderTokenExpiry},
		MaxAge:         600,
	})
	return c.Handler
}
