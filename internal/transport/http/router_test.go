package httptransport

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailrelay/backend/internal/config"
	"mailrelay/backend/internal/dispatch"
	"mailrelay/backend/internal/domain"
	"mailrelay/backend/internal/health"
	"mailrelay/backend/internal/monitoring"
	"mailrelay/backend/internal/queue"
	"mailrelay/backend/internal/storage/memory"
	"mailrelay/backend/internal/webhook"
)

type apiFixture struct {
	router *gin.Engine
	store  *memory.Store
	queue  *queue.MemoryQueue
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.NewStore()
	q := queue.NewMemoryQueue(32)
	metrics := monitoring.NewTestMetrics()
	log := zap.NewNop()

	cfg := &config.Config{
		CORS: config.CORSConfig{AllowedOrigins: []string{"*"}},
	}

	router := NewRouter(RouterDependencies{
		Config:   cfg,
		Producer: dispatch.NewProducer(store, q, metrics, log),
		Ingestor: webhook.NewIngestor(store, metrics, log),
		Store:    store,
		Health:   health.NewHealthChecker(store, nil, log),
		Metrics:  metrics,
		Logger:   log,
	})

	return &apiFixture{router: router, store: store, queue: q}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var resp Response
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &resp)
	}
	return w, resp
}

func TestSendMessageAccepted(t *testing.T) {
	f := newAPIFixture(t)

	w, resp := f.do(t, http.MethodPost, "/api/v1/messages", gin.H{
		"tenant_id":    "tenant-a",
		"to":           []string{"alice@example.com"},
		"subject":      "hello",
		"body_content": "<p>hi</p>",
	})

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, CodeAccepted, resp.Code)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "queued", data["status"])
	assert.NotEmpty(t, data["id"])
}

func TestSendMessageValidation(t *testing.T) {
	f := newAPIFixture(t)

	t.Run("malformed address", func(t *testing.T) {
		w, resp := f.do(t, http.MethodPost, "/api/v1/messages", gin.H{
			"tenant_id":    "tenant-a",
			"to":           []string{"bad@@format"},
			"body_content": "hi",
		})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Equal(t, CodeUnprocessableEntity, resp.Code)
	})

	t.Run("missing required fields", func(t *testing.T) {
		w, _ := f.do(t, http.MethodPost, "/api/v1/messages", gin.H{"subject": "no tenant"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("invalid json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/messages", bytes.NewReader([]byte("{oops")))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		f.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestGetMessage(t *testing.T) {
	f := newAPIFixture(t)
	require.NoError(t, f.store.CreateOutbox(&domain.OutboxMessage{
		ID:       "out-1",
		TenantID: "tenant-a",
		Subject:  "hello",
		Status:   domain.OutboxStatusSent,
	}))

	t.Run("found", func(t *testing.T) {
		w, resp := f.do(t, http.MethodGet, "/api/v1/messages/out-1", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		data, ok := resp.Data.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "hello", data["subject"])
	})

	t.Run("not found", func(t *testing.T) {
		w, resp := f.do(t, http.MethodGet, "/api/v1/messages/no-such", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, CodeNotFound, resp.Code)
	})
}

func TestListMessages(t *testing.T) {
	f := newAPIFixture(t)
	require.NoError(t, f.store.CreateOutbox(&domain.OutboxMessage{ID: "out-1", TenantID: "tenant-a"}))
	require.NoError(t, f.store.CreateOutbox(&domain.OutboxMessage{ID: "out-2", TenantID: "tenant-b"}))

	t.Run("requires tenant_id", func(t *testing.T) {
		w, _ := f.do(t, http.MethodGet, "/api/v1/messages", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("scoped to tenant", func(t *testing.T) {
		w, resp := f.do(t, http.MethodGet, "/api/v1/messages?tenant_id=tenant-a", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		items, ok := resp.Data.([]any)
		require.True(t, ok)
		assert.Len(t, items, 1)
	})
}

func TestResendMessage(t *testing.T) {
	f := newAPIFixture(t)
	require.NoError(t, f.store.CreateOutbox(&domain.OutboxMessage{
		ID:           "failed-1",
		TenantID:     "tenant-a",
		To:           []string{"alice@example.com"},
		Status:       domain.OutboxStatusFailed,
		ErrorMessage: "smtp timeout",
	}))
	require.NoError(t, f.store.CreateOutbox(&domain.OutboxMessage{
		ID:       "sent-1",
		TenantID: "tenant-a",
		Status:   domain.OutboxStatusSent,
	}))

	t.Run("failed message resent", func(t *testing.T) {
		w, resp := f.do(t, http.MethodPost, "/api/v1/messages/failed-1/resend", nil)
		assert.Equal(t, http.StatusAccepted, w.Code)
		data, ok := resp.Data.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "queued", data["status"])
		assert.Equal(t, float64(1), data["retryCount"])
	})

	t.Run("sent message rejected", func(t *testing.T) {
		w, _ := f.do(t, http.MethodPost, "/api/v1/messages/sent-1/resend", nil)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})
}

func TestInboundEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	require.NoError(t, f.store.CreateInbound(&domain.InboundMessage{
		ID:        "in-1",
		TenantID:  "tenant-a",
		MessageID: "<m1@example.com>",
		Subject:   "incoming",
	}))

	w, resp := f.do(t, http.MethodGet, "/api/v1/inbound/in-1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "incoming", data["subject"])

	w, resp = f.do(t, http.MethodGet, "/api/v1/inbound?tenant_id=tenant-a", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	items, ok := resp.Data.([]any)
	require.True(t, ok)
	assert.Len(t, items, 1)

	w, _ = f.do(t, http.MethodGet, "/api/v1/inbound/no-such", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWebhookEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	require.NoError(t, f.store.CreateOutbox(&domain.OutboxMessage{
		ID:                "out-1",
		TenantID:          "tenant-a",
		Status:            domain.OutboxStatusSent,
		ProviderMessageID: "pm-1",
	}))

	t.Run("known message applied", func(t *testing.T) {
		w, resp := f.do(t, http.MethodPost, "/webhooks/ses", gin.H{
			"event_type": "bounce",
			"message_id": "pm-1",
			"reason":     "mailbox full",
		})
		assert.Equal(t, http.StatusOK, w.Code)
		data, ok := resp.Data.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "applied", data["outcome"])

		msg, err := f.store.GetOutbox("out-1")
		require.NoError(t, err)
		assert.Equal(t, domain.OutboxStatusBounced, msg.Status)
	})

	t.Run("unknown message id still 200", func(t *testing.T) {
		w, resp := f.do(t, http.MethodPost, "/webhooks/ses", gin.H{
			"event_type": "delivery",
			"message_id": "stale-id",
		})
		assert.Equal(t, http.StatusOK, w.Code)
		data, ok := resp.Data.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "not_found", data["outcome"])
	})
}

func TestHealthEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	w, _ := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "OK", body["store"])
	assert.Equal(t, "NOT_CONFIGURED", body["redis"])
}
