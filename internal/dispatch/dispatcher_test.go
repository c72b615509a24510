package dispatch

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailrelay/backend/internal/domain"
	"mailrelay/backend/internal/monitoring"
	"mailrelay/backend/internal/provider"
	"mailrelay/backend/internal/queue"
	"mailrelay/backend/internal/render"
	"mailrelay/backend/internal/storage/memory"
)

// recordingTransport 记录发送调用，成功时返回固定的消息标识。
type recordingTransport struct {
	calls int
	fail  error
	last  *Message
}

func (t *recordingTransport) Send(_ context.Context, msg *Message) (*Result, error) {
	t.calls++
	t.last = msg
	if t.fail != nil {
		return nil, t.fail
	}
	return &Result{ProviderMessageID: "<recorded@test>", Response: "accepted by test transport"}, nil
}

type dispatcherFixture struct {
	store      *memory.Store
	queue      *queue.MemoryQueue
	producer   *Producer
	dispatcher *Dispatcher
	transport  *recordingTransport
}

func newDispatcherFixture(t *testing.T) *dispatcherFixture {
	t.Helper()
	store := memory.NewStore()
	q := queue.NewMemoryQueue(32)
	metrics := monitoring.NewTestMetrics()
	log := zap.NewNop()

	transport := &recordingTransport{}
	factory := func(*domain.Provider) (Transport, error) { return transport, nil }

	d := NewDispatcher(
		store, q,
		provider.NewRegistry(store, log, true),
		render.NewRenderer(),
		nil, // 附件加载在独立测试中覆盖
		factory,
		metrics, log,
		Config{SendTimeout: 5 * time.Second},
	)

	return &dispatcherFixture{
		store:      store,
		queue:      q,
		producer:   NewProducer(store, q, metrics, log),
		dispatcher: d,
		transport:  transport,
	}
}

func (f *dispatcherFixture) seedProvider(t *testing.T, id, tenantID string) {
	t.Helper()
	require.NoError(t, f.store.SaveProvider(&domain.Provider{
		ID:        id,
		TenantID:  tenantID,
		Kind:      domain.ProviderKindNull,
		FromEmail: "relay@example.com",
		FromName:  "Relay",
		IsActive:  true,
	}))
}

// claimPayload 从队列认领下一个条目并返回其负载。
func (f *dispatcherFixture) claimPayload(t *testing.T) []byte {
	t.Helper()
	d, err := f.queue.Claim(context.Background(), time.Second)
	require.NoError(t, err)
	require.NotNil(t, d)
	return d.Payload
}

func TestProcessSendsMessage(t *testing.T) {
	ctx := context.Background()
	f := newDispatcherFixture(t)
	f.seedProvider(t, "p1", "tenant-a")

	msg, err := f.producer.Enqueue(ctx, EnqueueInput{
		TenantID:    "tenant-a",
		To:          []string{"alice@example.com"},
		Subject:     "hello",
		BodyContent: "<p>hi</p>",
		BodyFormat:  domain.BodyFormatHTML,
	})
	require.NoError(t, err)

	f.dispatcher.process(ctx, f.claimPayload(t))

	got, err := f.store.GetOutbox(msg.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OutboxStatusSent, got.Status)
	assert.Equal(t, "<recorded@test>", got.ProviderMessageID)
	assert.Empty(t, got.ErrorMessage)
	require.NotNil(t, got.ProcessingAt)
	require.NotNil(t, got.SentAt)
	require.NotNil(t, got.ProviderID)
	assert.Equal(t, "p1", *got.ProviderID)

	require.Equal(t, 1, f.transport.calls)
	assert.Equal(t, "relay@example.com", f.transport.last.From)
	assert.Equal(t, "<p>hi</p>", f.transport.last.HTML)
	assert.Empty(t, f.transport.last.Text)
}

func TestProcessSkipsTerminalMessage(t *testing.T) {
	ctx := context.Background()
	f := newDispatcherFixture(t)
	f.seedProvider(t, "p1", "tenant-a")

	msg, err := f.producer.Enqueue(ctx, EnqueueInput{
		TenantID:    "tenant-a",
		To:          []string{"alice@example.com"},
		BodyContent: "hi",
	})
	require.NoError(t, err)
	payload := f.claimPayload(t)

	f.dispatcher.process(ctx, payload)
	require.Equal(t, 1, f.transport.calls)

	first, err := f.store.GetOutbox(msg.ID)
	require.NoError(t, err)

	// 队列重投同一条目：台账已终态，必须跳过重传
	f.dispatcher.process(ctx, payload)
	assert.Equal(t, 1, f.transport.calls)

	second, err := f.store.GetOutbox(msg.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ProviderMessageID, second.ProviderMessageID)
	assert.Equal(t, first.SentAt, second.SentAt)
}

func TestProcessFailsWithoutProvider(t *testing.T) {
	ctx := context.Background()
	f := newDispatcherFixture(t)
	// 不注册任何服务商

	msg, err := f.producer.Enqueue(ctx, EnqueueInput{
		TenantID:    "tenant-a",
		To:          []string{"alice@example.com"},
		BodyContent: "hi",
	})
	require.NoError(t, err)

	f.dispatcher.process(ctx, f.claimPayload(t))

	got, err := f.store.GetOutbox(msg.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OutboxStatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "no active provider")
	assert.Zero(t, f.transport.calls)
}

func TestProcessTransportFailure(t *testing.T) {
	ctx := context.Background()
	f := newDispatcherFixture(t)
	f.seedProvider(t, "p1", "tenant-a")
	f.transport.fail = domain.TransportErrorf("connection refused")

	msg, err := f.producer.Enqueue(ctx, EnqueueInput{
		TenantID:    "tenant-a",
		To:          []string{"alice@example.com"},
		BodyContent: "hi",
	})
	require.NoError(t, err)

	f.dispatcher.process(ctx, f.claimPayload(t))

	got, err := f.store.GetOutbox(msg.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OutboxStatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "connection refused")
	// 自动失败不递增 retry_count
	assert.Zero(t, got.RetryCount)
}

func TestProcessRendersTemplate(t *testing.T) {
	ctx := context.Background()
	f := newDispatcherFixture(t)
	f.seedProvider(t, "p1", "tenant-a")
	require.NoError(t, f.store.SaveTemplate(&domain.Template{
		ID:       "tpl-1",
		TenantID: "tenant-a",
		Subject:  "Welcome, {{ name }}!",
		BodyHTML: "<p>Hello {{ name }}</p>",
		IsActive: true,
	}))

	msg, err := f.producer.Enqueue(ctx, EnqueueInput{
		TenantID:     "tenant-a",
		To:           []string{"alice@example.com"},
		TemplateID:   "tpl-1",
		TemplateData: map[string]any{"name": "Ada"},
	})
	require.NoError(t, err)

	f.dispatcher.process(ctx, f.claimPayload(t))

	got, err := f.store.GetOutbox(msg.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OutboxStatusSent, got.Status)
	// sent 状态下台账内容必须与线上传输的内容一致
	require.NotNil(t, got.BodyContent)
	assert.Equal(t, "<p>Hello Ada</p>", *got.BodyContent)
	assert.Equal(t, domain.BodyFormatHTML, got.BodyFormat)
	assert.Equal(t, "Welcome, Ada!", got.Subject)
	assert.Equal(t, "<p>Hello Ada</p>", f.transport.last.HTML)
}

func TestProcessMissingTemplateFails(t *testing.T) {
	ctx := context.Background()
	f := newDispatcherFixture(t)
	f.seedProvider(t, "p1", "tenant-a")

	msg, err := f.producer.Enqueue(ctx, EnqueueInput{
		TenantID:   "tenant-a",
		To:         []string{"alice@example.com"},
		TemplateID: "no-such-template",
	})
	require.NoError(t, err)

	f.dispatcher.process(ctx, f.claimPayload(t))

	got, err := f.store.GetOutbox(msg.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OutboxStatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "not found")
}

func TestProcessDropsMalformedPayload(t *testing.T) {
	f := newDispatcherFixture(t)
	// 不 panic、不落账即可
	f.dispatcher.process(context.Background(), []byte("{not json"))
	assert.Zero(t, f.transport.calls)
}

func TestErrorCategory(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"configuration", domain.ConfigurationErrorf("bad config"), "configuration"},
		{"transport", domain.TransportErrorf("refused"), "transport"},
		{"render", domain.RenderErrorf("bad template"), "render"},
		{"validation", domain.ValidationErrorf("bad address"), "validation"},
		{"other", json.Unmarshal([]byte("x"), &struct{}{}), "other"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errorCategory(tt.err))
		})
	}
}
