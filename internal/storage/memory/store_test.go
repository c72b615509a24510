package memory

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailrelay/backend/internal/domain"
)

func TestOutboxCRUD(t *testing.T) {
	store := NewStore()

	msg := &domain.OutboxMessage{
		ID:       "out-1",
		TenantID: "tenant-a",
		To:       []string{"alice@example.com"},
		Subject:  "hello",
		Status:   domain.OutboxStatusPending,
	}
	require.NoError(t, store.CreateOutbox(msg))

	// 重复创建同一 ID 必须报错
	assert.ErrorIs(t, store.CreateOutbox(&domain.OutboxMessage{ID: "out-1", TenantID: "tenant-a"}), domain.ErrDuplicateMessage)

	got, err := store.GetOutbox("out-1")
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Subject)
	assert.Equal(t, domain.OutboxStatusPending, got.Status)
	assert.False(t, got.CreatedAt.IsZero())

	got.Status = domain.OutboxStatusSent
	got.ProviderMessageID = "<pm-1@relay>"
	require.NoError(t, store.UpdateOutbox(got))

	again, err := store.GetOutbox("out-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OutboxStatusSent, again.Status)

	_, err = store.GetOutbox("no-such")
	assert.ErrorIs(t, err, domain.ErrMessageNotFound)

	err = store.UpdateOutbox(&domain.OutboxMessage{ID: "no-such"})
	assert.ErrorIs(t, err, domain.ErrMessageNotFound)
}

func TestGetOutboxByProviderMessageID(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.CreateOutbox(&domain.OutboxMessage{
		ID:                "out-1",
		TenantID:          "tenant-a",
		ProviderMessageID: "<pm-1@relay>",
	}))
	require.NoError(t, store.CreateOutbox(&domain.OutboxMessage{
		ID:       "out-2",
		TenantID: "tenant-a",
	}))

	got, err := store.GetOutboxByProviderMessageID("<pm-1@relay>")
	require.NoError(t, err)
	assert.Equal(t, "out-1", got.ID)

	_, err = store.GetOutboxByProviderMessageID("<unknown@relay>")
	assert.ErrorIs(t, err, domain.ErrMessageNotFound)

	// 空标识不能匹配到尚未回填 ProviderMessageID 的记录
	_, err = store.GetOutboxByProviderMessageID("")
	assert.ErrorIs(t, err, domain.ErrMessageNotFound)
}

func TestListOutboxByTenantPagination(t *testing.T) {
	store := NewStore()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.CreateOutbox(&domain.OutboxMessage{
			ID:        fmt.Sprintf("out-%d", i),
			TenantID:  "tenant-a",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, store.CreateOutbox(&domain.OutboxMessage{
		ID:       "other-tenant",
		TenantID: "tenant-b",
	}))

	// 最新的在前
	page, err := store.ListOutboxByTenant("tenant-a", 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "out-4", page[0].ID)
	assert.Equal(t, "out-3", page[1].ID)

	page, err = store.ListOutboxByTenant("tenant-a", 2, 4)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "out-0", page[0].ID)

	page, err = store.ListOutboxByTenant("tenant-a", 10, 99)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestInboundDedup(t *testing.T) {
	store := NewStore()

	msg := &domain.InboundMessage{
		ID:        "in-1",
		TenantID:  "tenant-a",
		MessageID: "<abc@example.com>",
		Subject:   "Re: hello",
	}
	require.NoError(t, store.CreateInbound(msg))

	ok, err := store.HasInboundMessageID("<abc@example.com>")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.HasInboundMessageID("<other@example.com>")
	require.NoError(t, err)
	assert.False(t, ok)

	// 相同 Message-ID 的第二次写入触发唯一约束
	err = store.CreateInbound(&domain.InboundMessage{
		ID:        "in-2",
		TenantID:  "tenant-a",
		MessageID: "<abc@example.com>",
	})
	assert.ErrorIs(t, err, domain.ErrDuplicateMessage)

	got, err := store.GetInbound("in-1")
	require.NoError(t, err)
	got.Status = domain.InboundStatusProcessed
	require.NoError(t, store.UpdateInbound(got))

	again, err := store.GetInbound("in-1")
	require.NoError(t, err)
	assert.Equal(t, domain.InboundStatusProcessed, again.Status)
}

func TestCopySemantics(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.CreateOutbox(&domain.OutboxMessage{
		ID:       "out-1",
		TenantID: "tenant-a",
		Subject:  "original",
	}))

	got, err := store.GetOutbox("out-1")
	require.NoError(t, err)
	got.Subject = "mutated locally"

	// 读出的是副本，未经 Update 的修改不能泄漏回存储
	fresh, err := store.GetOutbox("out-1")
	require.NoError(t, err)
	assert.Equal(t, "original", fresh.Subject)
}

func TestAttachmentsScopedByOwner(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.SaveAttachment(&domain.Attachment{
		ID:        "att-1",
		OwnerType: domain.AttachmentOwnerOutbound,
		MessageID: "msg-1",
		Filename:  "report.pdf",
	}))
	require.NoError(t, store.SaveAttachment(&domain.Attachment{
		ID:        "att-2",
		OwnerType: domain.AttachmentOwnerInbound,
		MessageID: "msg-1",
		Filename:  "photo.jpg",
	}))

	out, err := store.ListAttachments(domain.AttachmentOwnerOutbound, "msg-1")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "report.pdf", out[0].Filename)

	in, err := store.ListAttachments(domain.AttachmentOwnerInbound, "msg-1")
	require.NoError(t, err)
	require.Len(t, in, 1)
	assert.Equal(t, "photo.jpg", in[0].Filename)

	none, err := store.ListAttachments(domain.AttachmentOwnerOutbound, "msg-2")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestWebhookEventLifecycle(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.SaveWebhookEvent(&domain.WebhookEvent{
		ID:        "evt-1",
		EventType: domain.WebhookEventBounce,
		MessageID: "<pm-1@relay>",
	}))

	require.NoError(t, store.MarkWebhookEventProcessed("evt-1"))
	assert.ErrorIs(t, store.MarkWebhookEventProcessed("no-such"), domain.ErrMessageNotFound)
}

func TestTenantRepository(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.SaveTenant(&domain.Tenant{ID: "tenant-a", Name: "Acme", IsActive: true}))

	got, err := store.GetTenant("tenant-a")
	require.NoError(t, err)
	assert.Equal(t, "Acme", got.Name)

	_, err = store.GetTenant("nobody")
	assert.ErrorIs(t, err, domain.ErrTenantNotFound)
}
