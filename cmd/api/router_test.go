package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	authDelivery "mailsync-backend/internal/auth/delivery"
	authdto "mailsync-backend/internal/auth/dto"
	authRepo "mailsync-backend/internal/auth/repository"
	authUsecase "mailsync-backend/internal/auth/usecase"
	"mailsync-backend/internal/notification"
	"mailsync-backend/internal/testutil"
	"mailsync-backend/pkg/ai"
	"mailsync-backend/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type routerFixture struct {
	router   *gin.Engine
	settings *ai.RuntimeSettings
	token    string
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	hash, err := authRepo.HashPassword("hunter22")
	require.NoError(t, err)
	authUc := authUsecase.NewAuthUsecase(authRepo.NewDeviceTokenRepository(testutil.NewTestDB(t)), &config.Config{
		JWTSecret:            "test-secret",
		JWTAccessExpiry:      time.Hour,
		OperatorPasswordHash: hash,
	})
	resp, err := authUc.IssueToken(&authdto.TokenRequest{Operator: "alice", Password: "hunter22"})
	require.NoError(t, err)

	settings := ai.NewRuntimeSettings("http://localhost:11434", "llama3")
	h := NewHandler(authUc, Handlers{
		Auth:     authDelivery.NewAuthHandler(authUc),
		Push:     notification.NewPushHandler(nil, "push-secret", "X-Push-Token"),
		Settings: NewSettingsHandler(settings),
	})
	return &routerFixture{router: h.Router(), settings: settings, token: resp.AccessToken}
}

func (f *routerFixture) do(method, path, body string, authed bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if authed {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestPublicRoutes(t *testing.T) {
	f := newRouterFixture(t)

	w := f.do(http.MethodGet, "/api/health", "", false)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodPost, "/api/auth/token", `{"operator":"alice","password":"hunter22"}`, false)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodPost, "/api/auth/token", `{"password":"nope"}`, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// unverified push is swallowed rather than retried
	w = f.do(http.MethodPost, "/webhooks/gmail/push", `{}`, false)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestOperatorRoutesRequireToken(t *testing.T) {
	f := newRouterFixture(t)

	for _, path := range []string{
		"/api/mailboxes",
		"/api/mailboxes/a@x.com",
		"/api/mailboxes/a@x.com/drafts/pending",
		"/api/settings/ollama",
	} {
		w := f.do(http.MethodGet, path, "", false)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}
}

func TestCORSPreflight(t *testing.T) {
	f := newRouterFixture(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/mailboxes", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://ops.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Idempotency-Key")
}

func TestOllamaSettings(t *testing.T) {
	f := newRouterFixture(t)
	ollama := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/tags" {
			_, _ = w.Write([]byte(`{"models":[]}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ollama.Close()

	w := f.do(http.MethodGet, "/api/settings/ollama", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	var got map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "http://localhost:11434", got["ollama_base_url"])

	w = f.do(http.MethodPut, "/api/settings/ollama", `{"ollama_base_url":"`+ollama.URL+`","ollama_model":"mistral"}`, true)
	require.Equal(t, http.StatusOK, w.Code)
	baseURL, model := f.settings.Get()
	assert.Equal(t, ollama.URL, baseURL)
	assert.Equal(t, "mistral", model)

	w = f.do(http.MethodPut, "/api/settings/ollama", `{"ollama_model":"x"}`, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPost, "/api/settings/ollama/test", "", true)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodPost, "/api/settings/ollama/test", `{"ollama_base_url":"`+ollama.URL+`/missing"}`, true)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestDeviceRoutes(t *testing.T) {
	f := newRouterFixture(t)

	w := f.do(http.MethodPost, "/api/devices", `{"token":"fcm-1","device_info":"pixel"}`, true)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodPost, "/api/devices", `{}`, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodDelete, "/api/devices/fcm-1", "", true)
	assert.Equal(t, http.StatusOK, w.Code)

	req := httptest.NewRequest(http.MethodDelete, "/api/devices/fcm-1", nil)
	req.Header.Set("Authorization", "bearer "+f.token)
	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
