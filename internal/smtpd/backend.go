// Package smtpd 实现 SMTP 提交入口：
// 传统 SMTP 客户端通过 AUTH 认证后把邮件交给中继管道，
// 邮件经解析后走与 HTTP API 完全相同的出站路径。
package smtpd

import (
	"context"
	"io"
	"strings"

	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"mailrelay/backend/internal/dispatch"
	"mailrelay/backend/internal/domain"
	"mailrelay/backend/internal/mailparse"
)

// Backend 实现 go-smtp 的 Backend 接口。
//
// 这是一个提交（submission）服务器，不是开放中继：
// 1. 每个会话必须通过 AUTH PLAIN 绑定到一个已激活的租户
// 2. 未认证的会话在 MAIL 命令处被拒绝
// 3. 邮件经出站管道投递，受租户的服务商配置约束
type Backend struct {
	store     domain.Store
	producer  *dispatch.Producer
	authToken string
	log       *zap.Logger
}

// NewBackend 创建 SMTP 提交后端。
// authToken 为空时只校验租户存在且激活。
func NewBackend(store domain.Store, producer *dispatch.Producer, authToken string, log *zap.Logger) *Backend {
	return &Backend{
		store:     store,
		producer:  producer,
		authToken: authToken,
		log:       log,
	}
}

// NewSession 创建新的 SMTP 会话。
func (b *Backend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	return &session{backend: b}, nil
}

type session struct {
	backend     *Backend
	tenantID    string
	fromAddress string
	recipients  []string
}

// AuthPlain 处理 PLAIN 认证。
// 用户名是租户标识，密码是提交口令。
func (s *session) AuthPlain(username, password string) error {
	tenant, err := s.backend.store.GetTenant(username)
	if err != nil || !tenant.IsActive {
		return &gosmtp.SMTPError{
			Code:         535,
			EnhancedCode: gosmtp.EnhancedCode{5, 7, 8},
			Message:      "authentication failed",
		}
	}
	if s.backend.authToken != "" && password != s.backend.authToken {
		return &gosmtp.SMTPError{
			Code:         535,
			EnhancedCode: gosmtp.EnhancedCode{5, 7, 8},
			Message:      "authentication failed",
		}
	}

	s.tenantID = tenant.ID
	return nil
}

// Mail 处理 MAIL 命令。未认证的会话在这里被拒绝。
func (s *session) Mail(from string, opts *gosmtp.MailOptions) error {
	if s.tenantID == "" {
		return &gosmtp.SMTPError{
			Code:         530,
			EnhancedCode: gosmtp.EnhancedCode{5, 7, 0},
			Message:      "authentication required",
		}
	}
	s.fromAddress = normalizeAddress(from)
	return nil
}

// Rcpt 处理 RCPT 命令。收件人地址在这里先做一次格式校验，
// 剩余校验（服务商解析等）由出站管道完成。
func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	addr := normalizeAddress(to)
	if err := domain.ValidateAddress(addr); err != nil {
		return &gosmtp.SMTPError{
			Code:         501,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 3},
			Message:      "invalid recipient address",
		}
	}
	s.recipients = append(s.recipients, addr)
	return nil
}

// Data 接收邮件内容并提交到出站管道。
func (s *session) Data(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	email, err := mailparse.Parse(raw)
	if err != nil {
		s.backend.log.Warn("smtp submission parse failed",
			zap.String("tenant_id", s.tenantID),
			zap.Error(err),
		)
		return &gosmtp.SMTPError{
			Code:         554,
			EnhancedCode: gosmtp.EnhancedCode{5, 6, 0},
			Message:      "message content rejected",
		}
	}

	input := dispatch.EnqueueInput{
		TenantID: s.tenantID,
		To:       s.recipients,
		Subject:  email.Subject,
	}
	// 正文优先 HTML，纯文本兜底
	switch {
	case email.HTML != "":
		input.BodyContent = email.HTML
		input.BodyFormat = domain.BodyFormatHTML
	case email.Text != "":
		input.BodyContent = email.Text
		input.BodyFormat = domain.BodyFormatText
	default:
		input.BodyContent = string(raw)
		input.BodyFormat = domain.BodyFormatEML
	}

	msg, err := s.backend.producer.Enqueue(context.Background(), input)
	if err != nil {
		s.backend.log.Error("smtp submission enqueue failed",
			zap.String("tenant_id", s.tenantID),
			zap.Error(err),
		)
		return &gosmtp.SMTPError{
			Code:         451,
			EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
			Message:      "message could not be queued",
		}
	}

	s.backend.log.Info("smtp submission accepted",
		zap.String("tenant_id", s.tenantID),
		zap.String("message_id", msg.ID),
		zap.Int("recipients", len(s.recipients)),
	)
	return nil
}

// Reset 重置状态。
func (s *session) Reset() {
	s.fromAddress = ""
	s.recipients = nil
}

// Logout 会话结束。
func (s *session) Logout() error {
	return nil
}

// normalizeAddress 去掉尖括号并转为小写
func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = strings.TrimPrefix(addr, "<")
	addr = strings.TrimSuffix(addr, ">")
	return strings.ToLower(addr)
}
