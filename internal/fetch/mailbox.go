package fetch

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"mailrelay/backend/internal/domain"
)

// RawMessage 从邮箱取回的一封原始邮件。
type RawMessage struct {
	Raw        []byte
	ReceivedAt time.Time
}

// Mailbox 一次拉取周期内的邮箱连接。
// 连接的生命周期限定在单个周期：周期开始时建立，
// 结束时无论成败都必须 Close。
type Mailbox interface {
	// Recent 返回最近的至多 limit 封邮件（原始字节）
	Recent(ctx context.Context, limit int) ([]RawMessage, error)
	Close() error
}

// MailboxDialer 按服务商配置建立邮箱连接。
type MailboxDialer interface {
	Dial(ctx context.Context, provider *domain.Provider) (Mailbox, error)
}

// IMAPDialer 基于 IMAP 的邮箱连接器。
// POP3 服务商走同一条 IMAP 通道（统一协议），
// 仅在拉取窗口大小上有区别，由调用方控制。
type IMAPDialer struct {
	Timeout time.Duration
}

// Dial 建立 TLS 连接并登录。
func (d *IMAPDialer) Dial(ctx context.Context, provider *domain.Provider) (Mailbox, error) {
	host := provider.Config.MailboxHost()
	port := provider.Config.MailboxPort()
	addr := fmt.Sprintf("%s:%d", host, port)

	c, err := client.DialTLS(addr, nil)
	if err != nil {
		return nil, domain.TransportErrorf("imap dial %s: %v", addr, err)
	}
	if d.Timeout > 0 {
		c.Timeout = d.Timeout
	}

	if err := c.Login(provider.Config.MailboxUsername(), provider.Config.MailboxPassword()); err != nil {
		_ = c.Logout()
		return nil, domain.ConfigurationErrorf("imap login %s: %v", addr, err)
	}

	return &imapMailbox{client: c}, nil
}

type imapMailbox struct {
	client *client.Client
}

// Recent 只读选中 INBOX，取序号区间 [total-limit+1, total] 的完整原文。
func (m *imapMailbox) Recent(ctx context.Context, limit int) ([]RawMessage, error) {
	status, err := m.client.Select("INBOX", true)
	if err != nil {
		return nil, domain.TransportErrorf("imap select inbox: %v", err)
	}
	if status.Messages == 0 {
		return nil, nil
	}

	from := uint32(1)
	if status.Messages > uint32(limit) {
		from = status.Messages - uint32(limit) + 1
	}
	seqset := new(imap.SeqSet)
	seqset.AddRange(from, status.Messages)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchInternalDate}

	ch := make(chan *imap.Message, limit)
	done := make(chan error, 1)
	go func() {
		done <- m.client.Fetch(seqset, items, ch)
	}()

	var out []RawMessage
	for msg := range ch {
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		raw, err := io.ReadAll(body)
		if err != nil || len(raw) == 0 {
			continue
		}
		out = append(out, RawMessage{Raw: raw, ReceivedAt: msg.InternalDate})
	}
	if err := <-done; err != nil {
		return out, domain.TransportErrorf("imap fetch: %v", err)
	}
	return out, nil
}

func (m *imapMailbox) Close() error {
	return m.client.Logout()
}
