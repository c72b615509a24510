// Package dispatch 实现出站投递管道：队列认领、服务商解析、
// 内容合成、传输发送与结果落账。
package dispatch

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"mailrelay/backend/internal/domain"
)

// Message 传输层的发送单元：内容已经合成完毕，
// 传输实现只负责把它交给服务商。
type Message struct {
	ID          string
	From        string
	FromName    string
	To          []string
	Cc          []string
	Bcc         []string
	ReplyTo     string
	Subject     string
	HTML        string
	Text        string
	Headers     map[string]string
	Attachments []*domain.Attachment
}

// Result 传输发送结果。
type Result struct {
	ProviderMessageID string // 服务商侧消息标识（Webhook 回调的关联键）
	Response          string // 服务商响应摘要
}

// Transport 邮件传输接口。
// 实现必须在每次调用时基于解析出的服务商配置构造连接，
// 绝不修改共享/全局状态。
type Transport interface {
	Send(ctx context.Context, msg *Message) (*Result, error)
}

// TransportFactory 按服务商构造传输实例。
type TransportFactory func(provider *domain.Provider) (Transport, error)

// NewTransportFactory 返回默认的传输工厂：按服务商类型选择实现。
// 选择发生在构造时刻，而不是运行期靠异常兜底切换。
func NewTransportFactory(log *zap.Logger) TransportFactory {
	return func(provider *domain.Provider) (Transport, error) {
		switch provider.Kind {
		case domain.ProviderKindSMTP:
			return NewSMTPTransport(provider)
		case domain.ProviderKindSES:
			return NewSESTransport(provider, log)
		case domain.ProviderKindNull:
			return &NullTransport{}, nil
		default:
			return nil, domain.ConfigurationErrorf("unknown provider kind %q", provider.Kind)
		}
	}
}

// SMTPTransport 通过 SMTP 发送。
// 连接参数（主机/端口/凭证/加密）每次发送时从服务商配置解析，
// dialer 是调用级别的局部对象。
type SMTPTransport struct {
	provider *domain.Provider
}

// NewSMTPTransport 创建 SMTP 传输，校验必需配置。
func NewSMTPTransport(provider *domain.Provider) (*SMTPTransport, error) {
	if provider.Config.SMTPHost() == "" {
		return nil, domain.ConfigurationErrorf("provider %s: smtp host missing", provider.ID)
	}
	return &SMTPTransport{provider: provider}, nil
}

// Send 发送一封邮件。gomail 不支持 context，
// 在独立协程中执行并用 ctx 超时兜底（超时即视为传输失败）。
func (t *SMTPTransport) Send(ctx context.Context, msg *Message) (*Result, error) {
	cfg := t.provider.Config
	host := cfg.SMTPHost()

	m := gomail.NewMessage()
	m.SetHeader("From", m.FormatAddress(msg.From, msg.FromName))
	m.SetHeader("To", msg.To...)
	if len(msg.Cc) > 0 {
		m.SetHeader("Cc", msg.Cc...)
	}
	if len(msg.Bcc) > 0 {
		m.SetHeader("Bcc", msg.Bcc...)
	}
	if msg.ReplyTo != "" {
		m.SetHeader("Reply-To", msg.ReplyTo)
	}
	m.SetHeader("Subject", msg.Subject)

	// 生成本端 Message-ID，作为服务商消息标识记账
	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), host)
	m.SetHeader("Message-Id", messageID)

	for k, v := range msg.Headers {
		m.SetHeader(k, v)
	}

	switch {
	case msg.Text != "" && msg.HTML != "":
		m.SetBody("text/plain", msg.Text)
		m.AddAlternative("text/html", msg.HTML)
	case msg.HTML != "":
		m.SetBody("text/html", msg.HTML)
	default:
		m.SetBody("text/plain", msg.Text)
	}

	for _, att := range msg.Attachments {
		content := att.Content
		m.Attach(att.Filename,
			gomail.SetCopyFunc(func(w io.Writer) error {
				_, err := w.Write(content)
				return err
			}),
			gomail.SetHeader(map[string][]string{"Content-Type": {att.ContentType}}),
		)
	}

	dialer := gomail.NewDialer(host, cfg.SMTPPort(), cfg.SMTPUsername(), cfg.SMTPPassword())
	switch cfg.SMTPEncryption() {
	case "ssl", "tls":
		dialer.SSL = true
	case "none":
		dialer.SSL = false
		dialer.TLSConfig = nil
	default: // starttls：gomail 对支持的服务器机会性升级
		dialer.SSL = false
	}
	if dialer.TLSConfig == nil && cfg.SMTPEncryption() != "none" {
		dialer.TLSConfig = &tls.Config{ServerName: host}
	}

	errCh := make(chan error, 1)
	go func() { errCh <- dialer.DialAndSend(m) }()

	select {
	case err := <-errCh:
		if err != nil {
			return nil, domain.TransportErrorf("smtp send via %s: %v", host, err)
		}
	case <-ctx.Done():
		return nil, domain.TransportErrorf("smtp send via %s: %v", host, ctx.Err())
	}

	return &Result{
		ProviderMessageID: messageID,
		Response:          fmt.Sprintf("accepted by %s:%d", host, cfg.SMTPPort()),
	}, nil
}

// NullTransport 空传输实现：不真正发送，立即返回成功。
// 用于测试和演练模式，通过配置选择，而不是连接失败时的运行期兜底。
type NullTransport struct {
	// Delay 模拟发送耗时（可选）
	Delay time.Duration
}

// Send 记录并返回合成的消息标识。
func (t *NullTransport) Send(ctx context.Context, msg *Message) (*Result, error) {
	if t.Delay > 0 {
		select {
		case <-time.After(t.Delay):
		case <-ctx.Done():
			return nil, domain.TransportErrorf("null transport: %v", ctx.Err())
		}
	}
	return &Result{
		ProviderMessageID: fmt.Sprintf("<%s@null.invalid>", uuid.NewString()),
		Response:          "accepted by null transport",
	}, nil
}
