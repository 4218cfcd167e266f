package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"beatrelay/internal/config"
	"beatrelay/internal/journal"
	"beatrelay/internal/microservices/http-api/dto"
	"beatrelay/internal/microservices/http-api/middleware/auth"
	"beatrelay/internal/microservices/http-api/service"
	"beatrelay/internal/microservices/tcp"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockDispatcher mocks the handler.Dispatcher interface
type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) Status() tcp.Status {
	args := m.Called()
	return args.Get(0).(tcp.Status)
}

func (m *MockDispatcher) Inject(data []byte, source string) error {
	args := m.Called(string(data), source)
	return args.Error(0)
}

func (m *MockDispatcher) Registry() *tcp.Registry {
	args := m.Called()
	return args.Get(0).(*tcp.Registry)
}

type fakeJournal struct {
	records   []journal.DispatchRecord
	lastKey   string
	lastLimit int
	err       error
}

func (f *fakeJournal) BatchInsert(ctx context.Context, batch []*journal.DispatchRecord) error {
	return nil
}

func (f *fakeJournal) Recent(ctx context.Context, routingKey string, limit int) ([]journal.DispatchRecord, error) {
	f.lastKey, f.lastLimit = routingKey, limit
	return f.records, f.err
}

func (f *fakeJournal) CountByOutcome(ctx context.Context) ([]journal.OutcomeCount, error) {
	return []journal.OutcomeCount{{Outcome: "delivered", Count: 3}, {Outcome: "unknown_key", Count: 1}}, f.err
}

type testEnv struct {
	router     *gin.Engine
	dispatcher *MockDispatcher
	token      string
}

func setup(t *testing.T, repo journal.Repository, metrics http.Handler) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hash, err := auth.HashPassword("hunter22")
	require.NoError(t, err)
	authService := service.NewAuthService(&config.Config{
		AdminUsername:     "admin",
		AdminPasswordHash: hash,
		JWTSecret:         "0123456789abcdef0123456789abcdef",
		AccessTokenTTL:    15 * time.Minute,
	})

	d := new(MockDispatcher)
	router := NewRouter(Deps{
		Auth:       authService,
		Dispatcher: d,
		Journal:    repo,
		Metrics:    metrics,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	token, err := authService.Login("admin", "hunter22")
	require.NoError(t, err)
	return &testEnv{router: router, dispatcher: d, token: token}
}

func (e *testEnv) do(method, path string, body any, token string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	env := setup(t, nil, nil)
	env.dispatcher.On("Status").Return(tcp.Status{State: "listening", Addr: "127.0.0.1:15000"})

	w := env.do(http.MethodGet, "/health", nil, "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"beat_state":"listening"`)
}

func TestLogin(t *testing.T) {
	env := setup(t, nil, nil)

	w := env.do(http.MethodPost, "/api/v1/auth/token", dto.LoginRequest{Username: "admin", Password: "hunter22"}, "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.TokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, 900, resp.ExpiresIn)

	w = env.do(http.MethodPost, "/api/v1/auth/token", dto.LoginRequest{Username: "admin", Password: "nope"}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(http.MethodPost, "/api/v1/auth/token", map[string]string{"username": "admin"}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	env := setup(t, nil, nil)

	w := env.do(http.MethodGet, "/api/v1/status", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(http.MethodGet, "/api/v1/status", nil, "forged.token.value")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	req.Header.Set("Authorization", "Token "+env.token)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	env.dispatcher.AssertNotCalled(t, "Status")
}

func TestTargetsAndStatus(t *testing.T) {
	env := setup(t, nil, nil)
	noop := tcp.TargetFunc(func(ctx context.Context, payload string) error { return nil })
	reg, err := tcp.NewRegistry(map[string]tcp.Target{"Rob": noop, "SuperHumanoid": noop})
	require.NoError(t, err)
	env.dispatcher.On("Registry").Return(reg)
	env.dispatcher.On("Status").Return(tcp.Status{
		State:   "connected",
		Policy:  "shared",
		Framing: "chunk",
		Stats:   tcp.Stats{Received: 2, Delivered: 1, UnknownKey: 1},
	})

	w := env.do(http.MethodGet, "/api/v1/targets", nil, env.token)
	require.Equal(t, http.StatusOK, w.Code)
	var targets dto.TargetsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &targets))
	assert.Equal(t, []string{"Rob", "SuperHumanoid"}, targets.Targets)
	assert.Equal(t, 2, targets.Count)

	w = env.do(http.MethodGet, "/api/v1/status", nil, env.token)
	require.Equal(t, http.StatusOK, w.Code)
	var status tcp.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "connected", status.State)
	assert.Equal(t, uint64(1), status.Stats.UnknownKey)
}

func TestDispatch(t *testing.T) {
	env := setup(t, nil, nil)
	env.dispatcher.On("Inject", `Rob|BEAT|<posture stance="Standing" />`, "admin:admin").Return(nil).Once()
	env.dispatcher.On("Status").Return(tcp.Status{Pending: 1})

	w := env.do(http.MethodPost, "/api/v1/dispatch",
		dto.DispatchRequest{Key: "Rob", Payload: `<posture stance="Standing" />`}, env.token)

	require.Equal(t, http.StatusAccepted, w.Code)
	var resp dto.DispatchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "queued", resp.Status)
	assert.Equal(t, 1, resp.Pending)
	env.dispatcher.AssertExpectations(t)
}

func TestDispatch_Rejections(t *testing.T) {
	env := setup(t, nil, nil)
	env.dispatcher.On("Inject", mock.Anything, mock.Anything).Return(tcp.ErrInboxFull).Once()
	env.dispatcher.On("Inject", mock.Anything, mock.Anything).Return(tcp.ErrDispatcherStopped).Once()

	body := dto.DispatchRequest{Key: "Rob", Payload: "<walk/>"}
	assert.Equal(t, http.StatusServiceUnavailable, env.do(http.MethodPost, "/api/v1/dispatch", body, env.token).Code)
	assert.Equal(t, http.StatusServiceUnavailable, env.do(http.MethodPost, "/api/v1/dispatch", body, env.token).Code)

	w := env.do(http.MethodPost, "/api/v1/dispatch", map[string]string{"key": "Rob"}, env.token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	env.dispatcher.AssertNumberOfCalls(t, "Inject", 2)
}

func TestJournal(t *testing.T) {
	t.Run("Disabled", func(t *testing.T) {
		env := setup(t, nil, nil)
		w := env.do(http.MethodGet, "/api/v1/journal", nil, env.token)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		w = env.do(http.MethodGet, "/api/v1/journal/summary", nil, env.token)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("Recent", func(t *testing.T) {
		repo := &fakeJournal{records: []journal.DispatchRecord{{ID: "r1", RoutingKey: "Rob", Outcome: "delivered"}}}
		env := setup(t, repo, nil)

		w := env.do(http.MethodGet, "/api/v1/journal?key=Rob&limit=10", nil, env.token)
		require.Equal(t, http.StatusOK, w.Code)
		var resp dto.JournalResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, 1, resp.Count)
		assert.Equal(t, "Rob", repo.lastKey)
		assert.Equal(t, 10, repo.lastLimit)

		env.do(http.MethodGet, "/api/v1/journal?limit=100000", nil, env.token)
		assert.Equal(t, journal.MaxQueryLimit, repo.lastLimit)

		w = env.do(http.MethodGet, "/api/v1/journal?limit=abc", nil, env.token)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Summary", func(t *testing.T) {
		env := setup(t, &fakeJournal{}, nil)
		w := env.do(http.MethodGet, "/api/v1/journal/summary", nil, env.token)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"unknown_key"`)
	})

	t.Run("StoreError", func(t *testing.T) {
		env := setup(t, &fakeJournal{err: errors.New("connection refused")}, nil)
		w := env.do(http.MethodGet, "/api/v1/journal", nil, env.token)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "connection refused")
	})
}

func TestMetricsRoute(t *testing.T) {
	without := setup(t, nil, nil)
	assert.Equal(t, http.StatusNotFound, without.do(http.MethodGet, "/metrics", nil, "").Code)

	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "beat_messages_total 0\n")
	})
	with := setup(t, nil, metrics)
	w := with.do(http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "beat_messages_total")
}

func TestNewServer(t *testing.T) {
	srv := NewServer(":15080", http.NotFoundHandler())
	assert.Equal(t, ":15080", srv.Addr)
	assert.Positive(t, srv.ReadHeaderTimeout)
}
