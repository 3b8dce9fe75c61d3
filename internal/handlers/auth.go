package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/expense-tracker/apiserver/internal/services"
	"github.com/go-chi/chi/v5"
)

var (
	errMissingAuthorization = errors.New("missing authorization")
	errInvalidAuthorization = errors.New("invalid authorization")
)

// AuthHandler provides registration and token endpoints.
type AuthHandler struct {
	userService *services.UserService
}

// NewAuthHandler constructs an AuthHandler with the provided dependencies.
func NewAuthHandler(userService *services.UserService) *AuthHandler {
	return &AuthHandler{userService: userService}
}

// AuthRouter registers the token and registration routes on the given router.
func AuthRouter(r chi.Router, userService *services.UserService) {
	handler := NewAuthHandler(userService)

	r.Post("/token", handler.Token)
	r.Post("/users", handler.Register)
	r.Post("/users/", handler.Register)
}

// RequireAuth resolves the bearer token to an active user and injects the
// user into the request context.
func RequireAuth(userService *services.UserService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := bearerToken(r)
			if err != nil {
				if errors.Is(err, errMissingAuthorization) {
					writeUnauthorized(w, "Not authenticated")
					return
				}
				writeUnauthorized(w, "Could not validate credentials")
				return
			}

			user, err := userService.Authenticate(r.Context(), token)
			if err != nil {
				writeServiceError(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(withUser(r.Context(), user)))
		})
	}
}

// Register creates a new user account.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeRequestError(w, err)
		return
	}
	if req.Username == nil {
		writeError(w, http.StatusUnprocessableEntity, "username: field required")
		return
	}
	if req.Password == nil {
		writeError(w, http.StatusUnprocessableEntity, "password: field required")
		return
	}

	user, err := h.userService.Register(r.Context(), *req.Username, *req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, user.Public())
}

// Token exchanges form encoded credentials for an access token.
func (h *AuthHandler) Token(w http.ResponseWriter, r *http.Request) {
	username := r.PostFormValue("username")
	password := r.PostFormValue("password")
	if strings.TrimSpace(username) == "" {
		writeError(w, http.StatusUnprocessableEntity, "username: field required")
		return
	}
	if password == "" {
		writeError(w, http.StatusUnprocessableEntity, "password: field required")
		return
	}

	token, err := h.userService.Login(r.Context(), username, password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, TokenResponse{AccessToken: token, TokenType: "bearer"})
}

// RegisterRequest is the registration payload. Pointers tell a missing
// field apart from an empty one.
type RegisterRequest struct {
	Username *string `json:"username"`
	Password *string `json:"password"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func bearerToken(r *http.Request) (string, error) {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return "", errMissingAuthorization
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errInvalidAuthorization
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errInvalidAuthorization
	}
	return token, nil
}
