package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/cosauth/internal/common"
	"github.com/dmitrijs2005/cosauth/internal/logging"
	"github.com/dmitrijs2005/cosauth/internal/server/auth"
	"github.com/dmitrijs2005/cosauth/internal/server/directory"
	"github.com/dmitrijs2005/cosauth/internal/server/models"
	"github.com/dmitrijs2005/cosauth/internal/server/objectstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type routeRecorder struct {
	mu     sync.Mutex
	routes []string
}

func (r *routeRecorder) ObserveRequest(route string, code int, _ time.Duration) {
	r.mu.Lock()
	r.routes = append(r.routes, fmt.Sprintf("%s %d", route, code))
	r.mu.Unlock()
}

type env struct {
	t        *testing.T
	dir      *directory.Service
	router   http.Handler
	observer *routeRecorder
}

type unreachableStore struct {
	objectstore.Store
}

func (unreachableStore) Get(context.Context, string) (*objectstore.Object, error) {
	return nil, fmt.Errorf("%w: connection refused", common.ErrStorage)
}

func newEnv(t *testing.T, store objectstore.Store) *env {
	t.Helper()
	if store == nil {
		store = objectstore.NewMemoryStore()
	}
	hasher := auth.NewHasher(bcrypt.MinCost)
	dir := directory.NewService(store, hasher, directory.Options{})
	tokens, err := auth.NewTokenIssuer([]byte("test-secret"), time.Hour)
	require.NoError(t, err)
	t.Cleanup(tokens.Close)

	obs := &routeRecorder{}
	h := NewHandler(dir, auth.NewAuthenticator(dir), tokens, hasher, logging.Nop{}, "1.3.0")
	router := NewRouter(h, RouterOptions{
		Observer: obs,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "# metrics\n")
		}),
	})
	return &env{t: t, dir: dir, router: router, observer: obs}
}

func (e *env) do(method, path, body string, header ...string) (*httptest.ResponseRecorder, map[string]any) {
	e.t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	out := map[string]any{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(e.t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func (e *env) register(username, email, password, role string) *models.PublicUser {
	e.t.Helper()
	u, err := e.dir.Register(context.Background(), directory.RegisterInput{Username: username, Email: email, Password: password, Role: role})
	require.NoError(e.t, err)
	return u
}

func (e *env) login(identifier, password string) string {
	e.t.Helper()
	rec, body := e.do(http.MethodPost, "/api/auth/login", fmt.Sprintf(`{"username":%q,"password":%q}`, identifier, password))
	require.Equal(e.t, http.StatusOK, rec.Code, rec.Body.String())
	return body["token"].(string)
}

func bearer(token string) []string {
	return []string{common.AuthorizationHeader, "Bearer " + token}
}

func basic(user, pass string) []string {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.SetBasicAuth(user, pass)
	return []string{common.AuthorizationHeader, r.Header.Get(common.AuthorizationHeader)}
}

func TestRegister(t *testing.T) {
	e := newEnv(t, nil)

	rec, body := e.do(http.MethodPost, "/api/auth/register", `{"username":"alice","email":"Alice@Example.com","password":"password123"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "User registered successfully", body["message"])
	user := body["user"].(map[string]any)
	assert.Equal(t, "alice", user["username"])
	assert.Equal(t, "alice@example.com", user["email"])
	assert.NotEmpty(t, user["id"])
	assert.NotContains(t, rec.Body.String(), "password123")

	rec, body = e.do(http.MethodPost, "/api/auth/register", `{"username":"ALICE","email":"other@example.com","password":"password123"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "User already exists", body["error"])

	rec, body = e.do(http.MethodPost, "/api/auth/register", `{"username":"bob","email":"bob","password":"password1"}`)
	require.Equal(t, http.StatusCreated, rec.Code, "email is only required to be present")
	assert.Equal(t, "bob", body["user"].(map[string]any)["email"])
}

func TestRegister_BadInput(t *testing.T) {
	e := newEnv(t, nil)

	tests := []struct {
		name    string
		body    string
		wantErr string
		wantMsg string
	}{
		{"missing fields", `{"username":"bob"}`, "Missing required fields", "Username, email, and password are required"},
		{"short password", `{"username":"bob","email":"bob@example.com","password":"short"}`, "Invalid password", "Password must be at least 8 characters long"},
		{"password over 72 bytes", `{"username":"bob","email":"bob@example.com","password":"` + strings.Repeat("a", 80) + `"}`, "Invalid password", "Password must be at most 72 bytes long"},
		{"multibyte password over 72 bytes", `{"username":"bob","email":"bob@example.com","password":"` + strings.Repeat("é", 37) + `"}`, "Invalid password", "Password must be at most 72 bytes long"},
		{"not json", `{`, "Invalid request body", "Request body must be a JSON object"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := e.do(http.MethodPost, "/api/auth/register", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.wantErr, body["error"])
			assert.Equal(t, tt.wantMsg, body["message"])
		})
	}
}

func TestLogin(t *testing.T) {
	e := newEnv(t, nil)
	alice := e.register("alice", "alice@example.com", "password123", "")

	rec, body := e.do(http.MethodPost, "/api/auth/login", `{"username":"ALICE@example.com","password":"password123"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, body["token"])
	assert.Equal(t, 3600.0, body["expiresIn"])
	assert.Equal(t, "Bearer", body["tokenType"])
	assert.Equal(t, map[string]any{"id": alice.ID, "username": "alice", "role": "user"}, body["user"])

	rec, body = e.do(http.MethodPost, "/api/auth/login", `{"username":"alice","password":"wrong-password"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid credentials", body["message"])

	rec, body = e.do(http.MethodPost, "/api/auth/login", `{"username":"nobody","password":"password123"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid credentials", body["message"])

	rec, body = e.do(http.MethodPost, "/api/auth/login", `{"username":"alice"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Username and password are required", body["message"])
}

func TestLogin_DisabledAccount(t *testing.T) {
	e := newEnv(t, nil)
	u := e.register("carl", "carl@example.com", "password123", "")
	inactive := false
	_, err := e.dir.Update(context.Background(), u.ID, models.UserPatch{Active: &inactive})
	require.NoError(t, err)

	rec, body := e.do(http.MethodPost, "/api/auth/login", `{"username":"carl","password":"password123"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Account is disabled", body["message"])
}

func TestProfile(t *testing.T) {
	e := newEnv(t, nil)
	dana := e.register("dana", "dana@example.com", "password123", "")
	token := e.login("dana", "password123")

	rec, body := e.do(http.MethodGet, "/api/auth/profile", "", bearer(token)...)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, dana.ID, body["id"])
	assert.Equal(t, "dana@example.com", body["email"])
	assert.Equal(t, true, body["active"])
	assert.NotContains(t, body, "password")

	rec, _ = e.do(http.MethodGet, "/api/auth/profile", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, body = e.do(http.MethodGet, "/api/auth/profile", "", basic("dana", "password123")...)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "profile accepts bearer tokens only")
	assert.Equal(t, "Unsupported authorization method", body["message"])

	rec, body = e.do(http.MethodGet, "/api/auth/profile", "", bearer("garbage")...)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid token", body["error"])

	require.NoError(t, e.dir.Delete(context.Background(), dana.ID))
	rec, body = e.do(http.MethodGet, "/api/auth/profile", "", bearer(token)...)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "User no longer exists", body["message"])
}

func TestChangePassword(t *testing.T) {
	e := newEnv(t, nil)
	e.register("erin", "erin@example.com", "password123", "")
	token := e.login("erin", "password123")

	rec, body := e.do(http.MethodPost, "/api/auth/change-password", `{"currentPassword":"nope-nope","newPassword":"newpassword1"}`, bearer(token)...)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Current password is incorrect", body["message"])

	rec, body = e.do(http.MethodPost, "/api/auth/change-password", `{"currentPassword":"password123","newPassword":"short"}`, bearer(token)...)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "New password must be at least 8 characters long", body["message"])

	rec, body = e.do(http.MethodPost, "/api/auth/change-password", `{"currentPassword":"password123","newPassword":"`+strings.Repeat("a", 80)+`"}`, bearer(token)...)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "New password must be at most 72 bytes long", body["message"])

	rec, body = e.do(http.MethodPost, "/api/auth/change-password", `{"currentPassword":"password123"}`, bearer(token)...)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Current password and new password are required", body["message"])

	rec, body = e.do(http.MethodPost, "/api/auth/change-password", `{"currentPassword":"password123","newPassword":"newpassword1"}`, bearer(token)...)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, map[string]any{"success": true, "message": "Password changed successfully"}, body)

	rec, _ = e.do(http.MethodPost, "/api/auth/login", `{"username":"erin","password":"password123"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	e.login("erin", "newpassword1")
}

func TestListUsers(t *testing.T) {
	e := newEnv(t, nil)
	e.register("root", "root@example.com", "adminpass1", common.RoleAdmin)
	for i := range 4 {
		e.register(fmt.Sprintf("user%d", i), fmt.Sprintf("user%d@example.com", i), "password123", "")
	}
	adminToken := e.login("root", "adminpass1")
	userToken := e.login("user0", "password123")

	rec, _ := e.do(http.MethodGet, "/api/users", "", bearer(userToken)...)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = e.do(http.MethodGet, "/api/users", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, body := e.do(http.MethodGet, "/api/users?limit=2", "", bearer(adminToken)...)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, body["users"], 2)
	marker, ok := body["nextMarker"].(string)
	require.True(t, ok, "nextMarker must be set when more users exist")
	assert.NotContains(t, rec.Body.String(), `"password"`)

	rec, body = e.do(http.MethodGet, "/api/users?limit=abc&marker="+marker, "", basic("root", "adminpass1")...)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, body["users"], 3)
	assert.Nil(t, body["nextMarker"])
}

func TestProtectedAndAdmin(t *testing.T) {
	e := newEnv(t, nil)
	gus := e.register("gus", "gus@example.com", "password123", "")
	e.register("boss", "boss@example.com", "adminpass1", common.RoleAdmin)

	rec, body := e.do(http.MethodGet, "/api/protected", "", basic("gus@example.com", "password123")...)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Access granted", body["message"])
	assert.Equal(t, map[string]any{"id": gus.ID, "username": "gus", "role": "user"}, body["user"])
	assert.NotEmpty(t, body["timestamp"])

	rec, body = e.do(http.MethodGet, "/api/protected", "", basic("gus", "wrong-pass")...)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid credentials", body["message"])

	rec, _ = e.do(http.MethodGet, "/api/admin", "", bearer(e.login("gus", "password123"))...)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, body = e.do(http.MethodGet, "/api/admin", "", bearer(e.login("boss", "adminpass1"))...)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Admin access granted", body["message"])

	rec, body = e.do(http.MethodGet, "/api/protected", "", common.AuthorizationHeader, "Digest abc")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Unsupported authorization method", body["message"])
}

func TestHealth(t *testing.T) {
	rec, body := newEnv(t, nil).do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"status": "healthy", "version": "1.3.0", "storage": "connected"}, body)

	rec, body = newEnv(t, unreachableStore{objectstore.NewMemoryStore()}).do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "disconnected", body["storage"])
}

func TestRouter_MetricsAndAccessLog(t *testing.T) {
	e := newEnv(t, nil)

	rec, _ := e.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "# metrics\n", rec.Body.String())

	rec, body := e.do(http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Not Found", body["error"])

	e.do(http.MethodGet, "/health", "")
	assert.Equal(t, []string{"/metrics 200", "unmatched 404", "/health 200"}, e.observer.routes)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: x", common.ErrValidation), http.StatusBadRequest},
		{common.ErrConflict, http.StatusConflict},
		{common.ErrUnauthorized, http.StatusUnauthorized},
		{common.ErrAccountDisabled, http.StatusUnauthorized},
		{common.ErrInvalidToken, http.StatusUnauthorized},
		{common.ErrTokenExpired, http.StatusUnauthorized},
		{common.ErrForbidden, http.StatusForbidden},
		{fmt.Errorf("user x: %w", common.ErrorNotFound), http.StatusNotFound},
		{common.ErrStorage, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
