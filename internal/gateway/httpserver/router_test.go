package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"notifier/internal/gateway/client"
	"notifier/internal/gateway/handler"
	"notifier/internal/gateway/service"
	"notifier/pkg/idempotency"
	"notifier/pkg/ratelimit"
)

type stubUsers struct{}

func (stubUsers) GetUser(ctx context.Context, userID string) (*client.UserProfile, error) {
	return &client.UserProfile{ID: userID, Email: "ada@example.com", FirstName: "Ada"}, nil
}

type stubTemplates struct{}

func (stubTemplates) GetByName(ctx context.Context, name string) (*client.Template, error) {
	return &client.Template{Name: name, Type: client.TemplateTypeEmail, Subject: "s", Body: "b"}, nil
}

type countingPublisher struct {
	mu    sync.Mutex
	count int
}

func (p *countingPublisher) Publish(ctx context.Context, routingKey string, payload any, messageID, correlationID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.count++
	return nil
}

func (p *countingPublisher) published() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

type env struct {
	router *gin.Engine
	mr     *miniredis.Miniredis
	pub    *countingPublisher
}

func newEnv(t *testing.T, maxRequests int) *env {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	logger := zap.NewNop()
	pub := &countingPublisher{}
	dispatcher := service.NewDispatcher(stubUsers{}, stubTemplates{}, pub, 8, logger)

	router := NewRouter(Deps{
		Notifications: handler.NewNotificationHandler(dispatcher),
		Limiter:       ratelimit.New(rdb, maxRequests, time.Minute, true, logger),
		Guard:         idempotency.New(rdb, 24*time.Hour, logger),
		Logger:        logger,
	})

	return &env{router: router, mr: mr, pub: pub}
}

func notify(e *env, headers map[string]string) *httptest.ResponseRecorder {
	body := `{"user_id":"u-1","template_name":"welcome_email","variables":{"first_name":"Ada"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/notify", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func waitForPublishes(t *testing.T, pub *countingPublisher, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if pub.published() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.GreaterOrEqual(t, pub.published(), want)
}

func TestNotifyAccepted(t *testing.T) {
	e := newEnv(t, 100)

	w := notify(e, nil)
	assert.Equal(t, http.StatusAccepted, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["success"])

	waitForPublishes(t, e.pub, 1)
}

func TestNotifyValidation(t *testing.T) {
	e := newEnv(t, 100)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/notify", strings.NewReader(`{"user_id":"u-1"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "required")
}

func TestRateLimitHeadersAndDenial(t *testing.T) {
	e := newEnv(t, 2)

	w := notify(e, nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))

	notify(e, nil)

	w = notify(e, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "RATE_LIMIT_EXCEEDED")
}

func TestRateLimitSeparatesClients(t *testing.T) {
	e := newEnv(t, 1)

	w := notify(e, map[string]string{"X-Client-ID": "tenant-a"})
	assert.Equal(t, http.StatusAccepted, w.Code)
	w = notify(e, map[string]string{"X-Client-ID": "tenant-a"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	w = notify(e, map[string]string{"X-Client-ID": "tenant-b"})
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestRateLimitFailsOpenOnStoreOutage(t *testing.T) {
	e := newEnv(t, 1)
	e.mr.Close()

	w := notify(e, nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
}

func TestIdempotentReplay(t *testing.T) {
	e := newEnv(t, 100)

	w := notify(e, map[string]string{"Idempotency-Key": "key-1"})
	require.Equal(t, http.StatusAccepted, w.Code)
	waitForPublishes(t, e.pub, 1)

	w = notify(e, map[string]string{"Idempotency-Key": "key-1"})
	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["idempotent"])

	data, err := json.Marshal(resp["data"])
	require.NoError(t, err)
	assert.Contains(t, string(data), "accepted")

	// Replay must not dispatch again.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, e.pub.published())
}

func TestDifferentKeysDispatchIndependently(t *testing.T) {
	e := newEnv(t, 100)

	require.Equal(t, http.StatusAccepted, notify(e, map[string]string{"Idempotency-Key": "key-1"}).Code)
	require.Equal(t, http.StatusAccepted, notify(e, map[string]string{"Idempotency-Key": "key-2"}).Code)

	waitForPublishes(t, e.pub, 2)
}

func TestHealthReportsBreakers(t *testing.T) {
	e := newEnv(t, 100)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestMetricsEndpoint(t *testing.T) {
	e := newEnv(t, 100)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
