package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/expense-tracker/apiserver/internal/services"
	"github.com/expense-tracker/apiserver/types"
)

type contextKey string

const contextUserKey contextKey = "user"

// maxJSONBodyBytes caps JSON request bodies.
const maxJSONBodyBytes = 1 << 20

var (
	errUploadTooLarge = errors.New("uploaded file too large")
	errBodyTooLarge   = errors.New("request body too large")
	errInvalidBody    = errors.New("invalid request body")
)

// ErrorResponse is the body of every error answer.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// MessageResponse carries a human readable confirmation.
type MessageResponse struct {
	Message string `json:"message"`
}

func withUser(ctx context.Context, user types.User) context.Context {
	return context.WithValue(ctx, contextUserKey, user)
}

// userFromContext returns the caller injected by RequireAuth.
func userFromContext(ctx context.Context) (types.User, bool) {
	user, ok := ctx.Value(contextUserKey).(types.User)
	return user, ok
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Detail: message})
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeError(w, http.StatusUnauthorized, message)
}

// writeServiceError maps a service error to its HTTP status. Anything
// unrecognised is logged and answered with 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusUnprocessableEntity, verr.Error())
	case errors.Is(err, services.ErrValidation):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, services.ErrConflict):
		writeError(w, http.StatusBadRequest, "Username already registered")
	case errors.Is(err, services.ErrInvalidCredentials):
		writeError(w, http.StatusBadRequest, "Incorrect username or password")
	case errors.Is(err, services.ErrUnauthenticated):
		writeUnauthorized(w, "Could not validate credentials")
	case errors.Is(err, services.ErrNotFound):
		writeError(w, http.StatusNotFound, "Expense not found")
	case errors.Is(err, services.ErrReceiptsDisabled):
		writeError(w, http.StatusServiceUnavailable, services.ErrReceiptsDisabled.Error())
	default:
		slog.ErrorContext(r.Context(), "request failed",
			"err", err, "method", r.Method, "path", r.URL.Path)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// decodeJSON reads at most maxJSONBodyBytes of the request body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errBodyTooLarge
		}
		return errInvalidBody
	}
	return nil
}

// writeRequestError answers a malformed request: 413 for oversized bodies,
// 422 otherwise.
func writeRequestError(w http.ResponseWriter, err error) {
	if errors.Is(err, errBodyTooLarge) || errors.Is(err, errUploadTooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	writeError(w, http.StatusUnprocessableEntity, err.Error())
}

func readFileLimited(reader io.Reader, limit int64) ([]byte, error) {
	limited := io.LimitReader(reader, limit+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, errors.New("failed to read upload")
	}
	if int64(len(data)) > limit {
		return nil, errUploadTooLarge
	}
	return data, nil
}
