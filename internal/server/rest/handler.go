// Package rest is the HTTP surface of the service: registration, login,
// profile and password changes, the admin user listing and health.
package rest

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/dmitrijs2005/cosauth/internal/common"
	"github.com/dmitrijs2005/cosauth/internal/logging"
	"github.com/dmitrijs2005/cosauth/internal/server/auth"
	"github.com/dmitrijs2005/cosauth/internal/server/directory"
	"github.com/dmitrijs2005/cosauth/internal/server/models"
)

// Directory is the subset of directory.Service used by handlers.
type Directory interface {
	Register(ctx context.Context, in directory.RegisterInput) (*models.PublicUser, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	Update(ctx context.Context, id string, patch models.UserPatch) (*models.PublicUser, error)
	List(ctx context.Context, limit int, marker string) (*directory.UserPage, error)
	Ping(ctx context.Context) error
}

type Authenticator interface {
	Authenticate(ctx context.Context, identifier, password string) (*models.User, error)
}

type Tokens interface {
	Issue(user *models.User) (string, time.Time, error)
	Verify(token string) (*auth.Claims, error)
	TTL() time.Duration
}

type PasswordHasher interface {
	Hash(plain string) (string, error)
}

type RequestObserver interface {
	ObserveRequest(route string, code int, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveRequest(string, int, time.Duration) {}

type Handler struct {
	users   Directory
	auth    Authenticator
	tokens  Tokens
	hasher  PasswordHasher
	logger  logging.Logger
	version string
}

func NewHandler(users Directory, a Authenticator, tokens Tokens, hasher PasswordHasher, logger logging.Logger, version string) *Handler {
	return &Handler{
		users:   users,
		auth:    a,
		tokens:  tokens,
		hasher:  hasher,
		logger:  logger.With("module", "rest"),
		version: version,
	}
}

func (h *Handler) writeAuthFailure(w http.ResponseWriter, r *http.Request, err error) {
	if statusFor(err) != http.StatusUnauthorized {
		h.logger.Error(r.Context(), "authentication error", "error", err)
		writeFailure(w, "Authentication failed", err)
		return
	}
	writeError(w, http.StatusUnauthorized, "Authentication failed", credentialMessage(err))
}

type registeredUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

type registerResponse struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	User    registeredUser `json:"user"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decode(r, &req, "Username, email, and password are required"); err != nil {
		writeRequestError(w, err)
		return
	}

	u, err := h.users.Register(r.Context(), directory.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Role:     common.RoleUser,
	})
	if err != nil {
		switch statusFor(err) {
		case http.StatusConflict:
			writeError(w, http.StatusConflict, "User already exists", "Username or email is already in use")
		case http.StatusBadRequest:
			writeError(w, http.StatusBadRequest, "Invalid registration", err.Error())
		default:
			h.logger.Error(r.Context(), "registration failed", "error", err)
			writeError(w, http.StatusInternalServerError, "Registration failed", "Could not complete registration")
		}
		return
	}

	writeJSON(w, http.StatusCreated, registerResponse{
		Success: true,
		Message: "User registered successfully",
		User:    registeredUser{ID: u.ID, Username: u.Username, Email: u.Email},
	})
}

type loginResponse struct {
	Token     string   `json:"token"`
	ExpiresIn int64    `json:"expiresIn"`
	TokenType string   `json:"tokenType"`
	User      Identity `json:"user"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(r, &req, "Username and password are required"); err != nil {
		writeRequestError(w, err)
		return
	}

	user, err := h.auth.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		h.logger.Debug(r.Context(), "login rejected", "error", err)
		h.writeAuthFailure(w, r, err)
		return
	}

	token, _, err := h.tokens.Issue(user)
	if err != nil {
		h.logger.Error(r.Context(), "token signing failed", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Login failed", "Could not complete login process")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		ExpiresIn: int64(h.tokens.TTL().Seconds()),
		TokenType: common.BearerScheme,
		User:      Identity{ID: user.ID, Username: user.Username, Role: user.Role},
	})
}

// currentUser loads the caller's record; it writes the response and returns
// nil when that is not possible.
func (h *Handler) currentUser(w http.ResponseWriter, r *http.Request) *models.User {
	id, ok := identityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized", "Authentication required")
		return nil
	}
	user, err := h.users.GetByID(r.Context(), id.ID)
	if err != nil {
		h.logger.Error(r.Context(), "user lookup failed", "user_id", id.ID, "error", err)
		writeFailure(w, "Could not retrieve profile", err)
		return nil
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "User not found", "User no longer exists")
		return nil
	}
	return user
}

func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(w, r)
	if user == nil {
		return
	}
	writeJSON(w, http.StatusOK, user.Public())
}

type successResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decode(r, &req, "Current password and new password are required"); err != nil {
		writeRequestError(w, err)
		return
	}

	user := h.currentUser(w, r)
	if user == nil {
		return
	}
	if !auth.VerifyPassword(req.CurrentPassword, user.PasswordHash) {
		writeError(w, http.StatusUnauthorized, "Invalid password", "Current password is incorrect")
		return
	}

	hash, err := h.hasher.Hash(req.NewPassword)
	if err != nil {
		h.logger.Error(r.Context(), "password hashing failed", "error", err)
		writeFailure(w, "Could not change password", err)
		return
	}
	if _, err := h.users.Update(r.Context(), user.ID, models.UserPatch{PasswordHash: &hash}); err != nil {
		h.logger.Error(r.Context(), "password update failed", "user_id", user.ID, "error", err)
		writeFailure(w, "Could not change password", err)
		return
	}

	h.logger.Info(r.Context(), "password changed", "user_id", user.ID)
	writeJSON(w, http.StatusOK, successResponse{Success: true, Message: "Password changed successfully"})
}

type listResponse struct {
	Users      []*models.PublicUser `json:"users"`
	NextMarker *string              `json:"nextMarker"`
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = directory.DefaultListLimit
	}

	page, err := h.users.List(r.Context(), limit, r.URL.Query().Get("marker"))
	if err != nil {
		h.logger.Error(r.Context(), "listing users failed", "error", err)
		writeFailure(w, "Failed to list users", err)
		return
	}

	resp := listResponse{Users: page.Users}
	if page.NextMarker != "" {
		resp.NextMarker = &page.NextMarker
	}
	writeJSON(w, http.StatusOK, resp)
}

type accessResponse struct {
	Message   string    `json:"message"`
	User      Identity  `json:"user"`
	Timestamp time.Time `json:"timestamp"`
}

func (h *Handler) access(message string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := identityFrom(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "Unauthorized", "Authentication required")
			return
		}
		writeJSON(w, http.StatusOK, accessResponse{Message: message, User: *id, Timestamp: time.Now().UTC()})
	}
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Storage string `json:"storage"`
}

// Health always answers 200; storage reachability is reported in the body.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	storage := "connected"
	if err := h.users.Ping(r.Context()); err != nil {
		storage = "disconnected"
		h.logger.Warn(r.Context(), "storage health check failed", "error", err)
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "healthy", Version: h.version, Storage: storage})
}
