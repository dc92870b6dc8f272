package router

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/realtime-auth/internal/config"
	"github.com/iliyamo/realtime-auth/internal/handler"
	"github.com/iliyamo/realtime-auth/internal/metrics"
	"github.com/iliyamo/realtime-auth/internal/presence"
	"github.com/iliyamo/realtime-auth/internal/realtime"
	"github.com/iliyamo/realtime-auth/internal/repository"
	"github.com/iliyamo/realtime-auth/internal/service"
	"github.com/iliyamo/realtime-auth/internal/utils"
)

func newServer(t *testing.T) *echo.Echo {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	codec, err := utils.NewTokenCodec(utils.TokenConfig{
		AccessSecret:      "access-secret",
		RefreshSecret:     "refresh-secret",
		AccessExpiration:  "15m",
		RefreshExpiration: "7d",
	})
	require.NoError(t, err)
	m := metrics.New()

	auth := service.NewAuthService(service.Deps{
		Users:   repository.NewMemoryUserRepo(),
		Tokens:  repository.NewMemoryTokenRepo(),
		Codec:   codec,
		Hasher:  utils.NewBcryptHasher(bcrypt.MinCost),
		Metrics: m,
		Logger:  logger,
	})
	gw := realtime.NewGateway(codec, presence.NewRegistry(), presence.NewRooms(),
		config.RealtimeConfig{SendBuffer: 8, PingInterval: time.Minute}, m, logger)
	t.Cleanup(gw.Close)

	return New(Deps{
		Auth:     handler.NewAuthHandler(auth, logger),
		Users:    handler.NewUserHandler(auth, logger),
		Gateway:  gw,
		Verifier: codec,
		Metrics:  m.Handler(),
		Logger:   logger,
	})
}

func do(t *testing.T, e *echo.Echo, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if bearer != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

type tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestAuthFlow(t *testing.T) {
	e := newServer(t)

	rec := do(t, e, http.MethodPost, "/auth/register", "", echo.Map{"email": "a@x.com", "password": "Aa1!aaaa", "name": "Ann"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[map[string]string](t, rec)
	assert.Equal(t, "a@x.com", created["email"])
	assert.NotEmpty(t, created["id"])
	assert.NotContains(t, rec.Body.String(), "password")

	rec = do(t, e, http.MethodPost, "/auth/register", "", echo.Map{"email": "a@x.com", "password": "Aa1!aaaa", "name": "Ann"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"error":"email already exists"}`, rec.Body.String())

	rec = do(t, e, http.MethodPost, "/auth/login", "", echo.Map{"email": "a@x.com", "password": "Aa1!aaaa"})
	require.Equal(t, http.StatusOK, rec.Code)
	t1 := decode[tokens](t, rec)
	require.NotEmpty(t, t1.AccessToken)
	require.NotEmpty(t, t1.RefreshToken)

	rec = do(t, e, http.MethodGet, "/auth/me", t1.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decode[map[string]string](t, rec)
	assert.Equal(t, created["id"], me["userId"])
	assert.Equal(t, "a@x.com", me["email"])

	rec = do(t, e, http.MethodPost, "/auth/refresh", "", echo.Map{"refreshToken": t1.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code)
	t2 := decode[tokens](t, rec)

	rec = do(t, e, http.MethodPost, "/auth/refresh", "", echo.Map{"refreshToken": t1.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, e, http.MethodPost, "/auth/logout", t2.AccessToken, echo.Map{"refreshToken": t2.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, e, http.MethodPost, "/auth/logout", t2.AccessToken, echo.Map{"refreshToken": t2.RefreshToken})
	assert.Equal(t, http.StatusOK, rec.Code, "logout is idempotent")

	rec = do(t, e, http.MethodPost, "/auth/refresh", "", echo.Map{"refreshToken": t2.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthErrors(t *testing.T) {
	e := newServer(t)
	do(t, e, http.MethodPost, "/auth/register", "", echo.Map{"email": "a@x.com", "password": "Aa1!aaaa", "name": "Ann"})

	tests := []struct {
		name   string
		method string
		path   string
		bearer string
		body   any
		status int
	}{
		{"register invalid email", http.MethodPost, "/auth/register", "", echo.Map{"email": "nope", "password": "Aa1!aaaa", "name": "Ann"}, http.StatusBadRequest},
		{"login missing fields", http.MethodPost, "/auth/login", "", echo.Map{"email": "a@x.com"}, http.StatusBadRequest},
		{"login unknown email", http.MethodPost, "/auth/login", "", echo.Map{"email": "b@x.com", "password": "Aa1!aaaa"}, http.StatusUnauthorized},
		{"login wrong password", http.MethodPost, "/auth/login", "", echo.Map{"email": "a@x.com", "password": "wrongpass"}, http.StatusUnauthorized},
		{"refresh missing token", http.MethodPost, "/auth/refresh", "", echo.Map{}, http.StatusBadRequest},
		{"refresh garbage", http.MethodPost, "/auth/refresh", "", echo.Map{"refreshToken": "x.y.z"}, http.StatusUnauthorized},
		{"me without bearer", http.MethodGet, "/auth/me", "", nil, http.StatusUnauthorized},
		{"logout without bearer", http.MethodPost, "/auth/logout", "", echo.Map{"refreshToken": "x"}, http.StatusUnauthorized},
		{"users without bearer", http.MethodGet, "/users", "", nil, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, e, tt.method, tt.path, tt.bearer, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestLoginUnknownEmailLooksLikeBadPassword(t *testing.T) {
	e := newServer(t)
	do(t, e, http.MethodPost, "/auth/register", "", echo.Map{"email": "a@x.com", "password": "Aa1!aaaa", "name": "Ann"})

	unknown := do(t, e, http.MethodPost, "/auth/login", "", echo.Map{"email": "b@x.com", "password": "Aa1!aaaa"})
	wrong := do(t, e, http.MethodPost, "/auth/login", "", echo.Map{"email": "a@x.com", "password": "wrongpass"})
	assert.Equal(t, wrong.Body.String(), unknown.Body.String())
}

func TestUserRoutes(t *testing.T) {
	e := newServer(t)
	ann := decode[map[string]string](t, do(t, e, http.MethodPost, "/auth/register", "", echo.Map{"email": "a@x.com", "password": "Aa1!aaaa", "name": "Ann"}))
	bob := decode[map[string]string](t, do(t, e, http.MethodPost, "/auth/register", "", echo.Map{"email": "b@x.com", "password": "Bb2@bbbb", "name": "Bob"}))
	tok := decode[tokens](t, do(t, e, http.MethodPost, "/auth/login", "", echo.Map{"email": "a@x.com", "password": "Aa1!aaaa"}))

	rec := do(t, e, http.MethodGet, "/users", tok.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]map[string]string](t, rec), 2)

	rec = do(t, e, http.MethodGet, "/users/search?name=bo", tok.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	found := decode[[]map[string]string](t, rec)
	require.Len(t, found, 1)
	assert.Equal(t, bob["id"], found[0]["id"])

	rec = do(t, e, http.MethodGet, "/users/search", tok.AccessToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, e, http.MethodPut, "/users/"+bob["id"], tok.AccessToken, echo.Map{"name": "Hacked"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, e, http.MethodPut, "/users/"+ann["id"], tok.AccessToken, echo.Map{"name": "Annie"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Annie", decode[map[string]string](t, rec)["name"])

	rec = do(t, e, http.MethodDelete, "/users/"+bob["id"], tok.AccessToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, e, http.MethodDelete, "/users/"+ann["id"], tok.AccessToken, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, e, http.MethodPost, "/auth/refresh", "", echo.Map{"refreshToken": tok.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOperationalRoutes(t *testing.T) {
	e := newServer(t)

	rec := do(t, e, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	do(t, e, http.MethodPost, "/auth/login", "", echo.Map{"email": "x@x.com", "password": "whatever1"})
	rec = do(t, e, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `authrt_auth_operations_total{operation="login",result="error"} 1`)

	rec = do(t, e, http.MethodGet, "/nowhere", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
