// Package fetch 实现入站邮件拉取器：
// 轮询各服务商邮箱，解析、去重、分类后入账并发布到入站队列。
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mailrelay/backend/internal/domain"
	"mailrelay/backend/internal/mailparse"
	"mailrelay/backend/internal/monitoring"
	"mailrelay/backend/internal/queue"
	"mailrelay/backend/internal/storage/filesystem"
)

// 自动回复识别短语（大小写不敏感，主题或正文命中任一即判定）。
// 启发式规则，允许漏判。
var autoReplyPhrases = []string{
	"auto-reply",
	"automatic reply",
	"out of office",
	"vacation",
	"away message",
	"autoresponder",
	"do not reply",
}

// 转发主题前缀
var forwardPrefixes = []string{"fwd:", "fw:"}

// Stats 单个服务商一次拉取的结果。
type Stats struct {
	Skipped   bool `json:"skipped"`
	Fetched   int  `json:"fetched"`
	Processed int  `json:"processed"`
}

// Config 拉取器配置
type Config struct {
	Interval    time.Duration // 轮询间隔
	IMAPWindow  int           // IMAP 单次拉取窗口
	POP3Window  int           // POP3 单次拉取窗口
	DialTimeout time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Interval <= 0 {
		out.Interval = time.Minute
	}
	if out.IMAPWindow <= 0 {
		out.IMAPWindow = 50
	}
	if out.POP3Window <= 0 {
		out.POP3Window = 20
	}
	if out.DialTimeout <= 0 {
		out.DialTimeout = 30 * time.Second
	}
	return out
}

// Fetcher 入站拉取器。
type Fetcher struct {
	store   domain.Store
	queue   queue.Queue
	dialer  MailboxDialer
	blobs   *filesystem.BlobStore
	metrics *monitoring.Metrics
	log     *zap.Logger
	cfg     Config
}

// NewFetcher 创建拉取器。blobs 可为 nil（不落附件内容）。
func NewFetcher(
	store domain.Store,
	q queue.Queue,
	dialer MailboxDialer,
	blobs *filesystem.BlobStore,
	metrics *monitoring.Metrics,
	log *zap.Logger,
	cfg Config,
) *Fetcher {
	return &Fetcher{
		store:   store,
		queue:   q,
		dialer:  dialer,
		blobs:   blobs,
		metrics: metrics,
		log:     log,
		cfg:     (&cfg).withDefaults(),
	}
}

// Run 运行轮询循环，直到 ctx 取消。
// 单个服务商的失败只记日志，不影响同周期的其他服务商。
func (f *Fetcher) Run(ctx context.Context) error {
	f.log.Info("inbound fetcher started", zap.Duration("interval", f.cfg.Interval))

	ticker := time.NewTicker(f.cfg.Interval)
	defer ticker.Stop()

	for {
		f.runCycle(ctx)

		select {
		case <-ctx.Done():
			f.log.Info("inbound fetcher stopping")
			return nil
		case <-ticker.C:
		}
	}
}

func (f *Fetcher) runCycle(ctx context.Context) {
	start := time.Now()
	providers, err := f.store.ListActiveProviders()
	if err != nil {
		f.log.Error("failed to list providers for fetch cycle", zap.Error(err))
		return
	}

	for i := range providers {
		if ctx.Err() != nil {
			return
		}
		p := &providers[i]
		stats, err := f.FetchProvider(ctx, p)
		if err != nil {
			f.log.Warn("fetch failed",
				zap.String("provider_id", p.ID),
				zap.String("tenant_id", p.TenantID),
				zap.Error(err),
			)
			continue
		}
		if !stats.Skipped && stats.Fetched > 0 {
			f.log.Info("fetch completed",
				zap.String("provider_id", p.ID),
				zap.Int("fetched", stats.Fetched),
				zap.Int("processed", stats.Processed),
			)
		}
	}
	f.metrics.FetchCycleDuration.Observe(time.Since(start).Seconds())
}

// FetchProvider 拉取一个服务商的邮箱。
// 缺少邮箱凭证不是错误：返回 skipped=true 的空结果。
func (f *Fetcher) FetchProvider(ctx context.Context, provider *domain.Provider) (Stats, error) {
	if !provider.HasMailboxCredentials() {
		return Stats{Skipped: true}, nil
	}

	window := f.cfg.IMAPWindow
	if strings.EqualFold(provider.Config.MailboxProtocol(), "pop3") {
		window = f.cfg.POP3Window
	}

	mbox, err := f.dialer.Dial(ctx, provider)
	if err != nil {
		return Stats{}, err
	}
	defer func() {
		if err := mbox.Close(); err != nil {
			f.log.Warn("mailbox close failed", zap.String("provider_id", provider.ID), zap.Error(err))
		}
	}()

	raws, err := mbox.Recent(ctx, window)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{Fetched: len(raws)}
	f.metrics.InboundFetched.Add(float64(len(raws)))

	for _, raw := range raws {
		if ctx.Err() != nil {
			break
		}
		if f.processRaw(ctx, provider, raw) {
			stats.Processed++
		}
	}
	return stats, nil
}

// processRaw 处理一封原始邮件：解析→去重→分类→入账→发布。
// 返回值表示是否产生了新的台账行。
// 解析失败只记日志并跳过，绝不中断整批。
func (f *Fetcher) processRaw(ctx context.Context, provider *domain.Provider, raw RawMessage) bool {
	email, err := mailparse.Parse(raw.Raw)
	if err != nil {
		f.metrics.InboundParseErrors.Inc()
		f.log.Warn("inbound message parse failed, skipped",
			zap.String("provider_id", provider.ID),
			zap.Error(err),
		)
		return false
	}

	messageID := email.MessageID
	if messageID == "" {
		// 没有 Message-ID 的邮件用内容哈希做去重键，重复拉取仍然幂等
		messageID = fmt.Sprintf("<%x@content-hash>", sha256.Sum256(raw.Raw))
	}

	exists, err := f.store.HasInboundMessageID(messageID)
	if err != nil {
		f.log.Error("dedup lookup failed", zap.String("message_id", messageID), zap.Error(err))
		return false
	}
	if exists {
		f.metrics.InboundDeduped.Inc()
		return false
	}

	msg := f.classify(provider, email, raw)
	msg.MessageID = messageID
	// 原邮件没有 Message-ID 时 classify 拿不到线程根，用去重键补上
	if msg.ThreadID == "" {
		msg.ThreadID = messageID
	}

	if err := f.store.CreateInbound(msg); err != nil {
		// 并发拉取同一邮箱时唯一索引兜底，当作去重处理
		f.log.Warn("inbound persist failed", zap.String("message_id", messageID), zap.Error(err))
		return false
	}

	f.saveAttachments(msg, email)

	msg.Status = domain.InboundStatusProcessed
	f.publish(ctx, msg)
	f.metrics.InboundProcessed.Inc()
	return true
}

// classify 从解析结果构造入站台账行：
// 回复/线程归并、自动回复启发式、转发判定。
func (f *Fetcher) classify(provider *domain.Provider, email *mailparse.Email, raw RawMessage) *domain.InboundMessage {
	msg := &domain.InboundMessage{
		ID:         uuid.NewString(),
		TenantID:   provider.TenantID,
		ProviderID: provider.ID,
		InReplyTo:  email.InReplyTo,
		References: email.References,
		Subject:    email.Subject,
		Status:     domain.InboundStatusNew,
		ReceivedAt: raw.ReceivedAt,
	}
	if msg.ReceivedAt.IsZero() {
		if !email.Date.IsZero() {
			msg.ReceivedAt = email.Date
		} else {
			msg.ReceivedAt = time.Now().UTC()
		}
	}

	if len(email.From) > 0 {
		msg.FromEmail = email.From[0].Email
		msg.FromName = email.From[0].Name
	}
	for _, addr := range email.To {
		msg.ToEmails = append(msg.ToEmails, addr.Email)
	}
	for _, addr := range email.Cc {
		msg.CcEmails = append(msg.CcEmails, addr.Email)
	}

	// 正文优先取纯文本，没有再退到 HTML
	if email.Text != "" {
		msg.BodyContent = email.Text
		msg.BodyFormat = domain.BodyFormatText
	} else if email.HTML != "" {
		msg.BodyContent = email.HTML
		msg.BodyFormat = domain.BodyFormatHTML
	}

	// 回复：带 In-Reply-To 或 References 头；
	// 线程键取 In-Reply-To，都没有时本邮件自成线程根
	msg.IsReply = email.InReplyTo != "" || email.References != ""
	switch {
	case email.InReplyTo != "":
		msg.ThreadID = email.InReplyTo
	default:
		msg.ThreadID = email.MessageID
	}

	msg.IsAutoReply = detectAutoReply(email.Subject, email.Text)
	msg.IsForward = detectForward(email.Subject)
	return msg
}

// publish 发布入站信封；失败落账为 failed 并递增 retry_count。
func (f *Fetcher) publish(ctx context.Context, msg *domain.InboundMessage) {
	env := domain.NewInboundEnvelope(msg)
	payload, err := json.Marshal(env)
	if err == nil {
		err = f.queue.Publish(ctx, payload)
	}
	if err != nil {
		msg.Status = domain.InboundStatusFailed
		msg.ErrorMessage = err.Error()
		msg.RetryCount++
		f.log.Error("inbound publish failed",
			zap.String("message_id", msg.MessageID),
			zap.Error(err),
		)
	} else {
		msg.Status = domain.InboundStatusQueued
		msg.ErrorMessage = ""
	}

	if err := f.store.UpdateInbound(msg); err != nil {
		f.log.Error("inbound status update failed", zap.String("id", msg.ID), zap.Error(err))
	}
}

// saveAttachments 把入站附件内容写入文件存储并登记元数据。
func (f *Fetcher) saveAttachments(msg *domain.InboundMessage, email *mailparse.Email) {
	if f.blobs == nil {
		return
	}
	for _, part := range email.Attachments {
		path, hash, err := f.blobs.Save(part.Body)
		if err != nil {
			f.log.Warn("inbound attachment store failed",
				zap.String("message_id", msg.MessageID),
				zap.String("filename", part.Filename),
				zap.Error(err),
			)
			continue
		}
		att := &domain.Attachment{
			ID:          uuid.NewString(),
			OwnerType:   domain.AttachmentOwnerInbound,
			MessageID:   msg.ID,
			Filename:    part.Filename,
			ContentType: part.MediaType,
			StoragePath: path,
			Size:        int64(len(part.Body)),
			ContentHash: hash,
			ContentID:   part.ContentID,
		}
		if err := f.store.SaveAttachment(att); err != nil {
			f.log.Warn("inbound attachment metadata failed", zap.String("id", att.ID), zap.Error(err))
		}
	}
}

func detectAutoReply(subject, body string) bool {
	haystack := strings.ToLower(subject + "\n" + body)
	for _, phrase := range autoReplyPhrases {
		if strings.Contains(haystack, phrase) {
			return true
		}
	}
	return false
}

func detectForward(subject string) bool {
	s := strings.ToLower(strings.TrimSpace(subject))
	for _, prefix := range forwardPrefixes {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}
