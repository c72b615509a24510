package smtpd

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailrelay/backend/internal/dispatch"
	"mailrelay/backend/internal/domain"
	"mailrelay/backend/internal/monitoring"
	"mailrelay/backend/internal/queue"
	"mailrelay/backend/internal/storage/memory"
)

func newSessionFixture(t *testing.T, authToken string) (*session, *memory.Store, *queue.MemoryQueue) {
	t.Helper()
	store := memory.NewStore()
	q := queue.NewMemoryQueue(32)
	producer := dispatch.NewProducer(store, q, monitoring.NewTestMetrics(), zap.NewNop())
	b := NewBackend(store, producer, authToken, zap.NewNop())
	return &session{backend: b}, store, q
}

func TestAuthPlain(t *testing.T) {
	s, store, _ := newSessionFixture(t, "")
	require.NoError(t, store.SaveTenant(&domain.Tenant{ID: "tenant-a", Name: "Acme", IsActive: true}))
	require.NoError(t, store.SaveTenant(&domain.Tenant{ID: "tenant-off", Name: "Closed", IsActive: false}))

	t.Run("active tenant", func(t *testing.T) {
		require.NoError(t, s.AuthPlain("tenant-a", "anything"))
		assert.Equal(t, "tenant-a", s.tenantID)
	})

	t.Run("unknown tenant", func(t *testing.T) {
		s := &session{backend: s.backend}
		assert.Error(t, s.AuthPlain("nobody", ""))
	})

	t.Run("inactive tenant", func(t *testing.T) {
		s := &session{backend: s.backend}
		assert.Error(t, s.AuthPlain("tenant-off", ""))
	})
}

func TestAuthPlainWithToken(t *testing.T) {
	s, store, _ := newSessionFixture(t, "relay-secret")
	require.NoError(t, store.SaveTenant(&domain.Tenant{ID: "tenant-a", Name: "Acme", IsActive: true}))

	assert.Error(t, s.AuthPlain("tenant-a", "wrong"))
	assert.NoError(t, s.AuthPlain("tenant-a", "relay-secret"))
}

func TestMailRequiresAuth(t *testing.T) {
	s, _, _ := newSessionFixture(t, "")
	err := s.Mail("<sender@example.com>", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "authentication required")
}

func TestRcptValidation(t *testing.T) {
	s, store, _ := newSessionFixture(t, "")
	require.NoError(t, store.SaveTenant(&domain.Tenant{ID: "tenant-a", Name: "Acme", IsActive: true}))
	require.NoError(t, s.AuthPlain("tenant-a", ""))
	require.NoError(t, s.Mail("<sender@example.com>", nil))

	require.NoError(t, s.Rcpt("<Alice@Example.COM>", nil))
	assert.Equal(t, []string{"alice@example.com"}, s.recipients)

	assert.Error(t, s.Rcpt("<not-an-address>", nil))
}

func TestDataEnqueues(t *testing.T) {
	s, store, q := newSessionFixture(t, "")
	require.NoError(t, store.SaveTenant(&domain.Tenant{ID: "tenant-a", Name: "Acme", IsActive: true}))
	require.NoError(t, s.AuthPlain("tenant-a", ""))
	require.NoError(t, s.Mail("<sender@example.com>", nil))
	require.NoError(t, s.Rcpt("<alice@example.com>", nil))

	raw := strings.Join([]string{
		"From: sender@example.com",
		"To: alice@example.com",
		"Subject: relayed",
		"",
		"plain body",
	}, "\r\n")
	require.NoError(t, s.Data(strings.NewReader(raw)))

	rows, err := store.ListOutboxByTenant("tenant-a", 10, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "relayed", rows[0].Subject)
	assert.Equal(t, domain.OutboxStatusQueued, rows[0].Status)
	assert.Equal(t, []string{"alice@example.com"}, rows[0].To)
	assert.Equal(t, domain.BodyFormatText, rows[0].BodyFormat)

	depth, err := q.Depth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)
}

func TestReset(t *testing.T) {
	s, store, _ := newSessionFixture(t, "")
	require.NoError(t, store.SaveTenant(&domain.Tenant{ID: "tenant-a", Name: "Acme", IsActive: true}))
	require.NoError(t, s.AuthPlain("tenant-a", ""))
	require.NoError(t, s.Mail("<sender@example.com>", nil))
	require.NoError(t, s.Rcpt("<alice@example.com>", nil))

	s.Reset()
	assert.Empty(t, s.fromAddress)
	assert.Empty(t, s.recipients)
	// 认证在 RSET 后保持
	assert.Equal(t, "tenant-a", s.tenantID)
}

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"<Alice@Example.com>", "alice@example.com"},
		{"  bob@example.com ", "bob@example.com"},
		{"plain@example.com", "plain@example.com"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeAddress(tt.in))
	}
}
