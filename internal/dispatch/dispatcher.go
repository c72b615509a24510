package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"mailrelay/backend/internal/domain"
	"mailrelay/backend/internal/monitoring"
	"mailrelay/backend/internal/pool"
	"mailrelay/backend/internal/provider"
	"mailrelay/backend/internal/queue"
	"mailrelay/backend/internal/render"
)

// Config 调度器配置
type Config struct {
	BatchSize    int           // 每个轮询周期最多处理的消息数
	PollInterval time.Duration // 队列为空时的休眠间隔
	ClaimTimeout time.Duration // 单次认领的阻塞上限
	SendTimeout  time.Duration // 单次传输发送超时
	RatePerSec   float64       // 发送速率上限（0 表示不限速）
	Workers      int           // 并行发送的 worker 数（1 = 顺序处理）
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.BatchSize <= 0 {
		out.BatchSize = 10
	}
	if out.PollInterval <= 0 {
		out.PollInterval = 2 * time.Second
	}
	if out.ClaimTimeout <= 0 {
		out.ClaimTimeout = time.Second
	}
	if out.SendTimeout <= 0 {
		out.SendTimeout = 30 * time.Second
	}
	if out.Workers <= 0 {
		out.Workers = 1
	}
	return out
}

// Dispatcher 出站调度器。
// 从出站队列认领消息，推进 OutboxMessage 状态机：
// queued → processing → sent | failed。
type Dispatcher struct {
	store        domain.Store
	queue        queue.Queue
	registry     *provider.Registry
	renderer     *render.Renderer
	attachments  *AttachmentLoader
	transportFor TransportFactory
	limiter      *rate.Limiter
	metrics      *monitoring.Metrics
	log          *zap.Logger
	cfg          Config
}

// NewDispatcher 创建调度器。
func NewDispatcher(
	store domain.Store,
	q queue.Queue,
	registry *provider.Registry,
	renderer *render.Renderer,
	attachments *AttachmentLoader,
	transportFor TransportFactory,
	metrics *monitoring.Metrics,
	log *zap.Logger,
	cfg Config,
) *Dispatcher {
	cfg = (&cfg).withDefaults()

	var limiter *rate.Limiter
	if cfg.RatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1)
	}

	return &Dispatcher{
		store:        store,
		queue:        q,
		registry:     registry,
		renderer:     renderer,
		attachments:  attachments,
		transportFor: transportFor,
		limiter:      limiter,
		metrics:      metrics,
		log:          log,
		cfg:          cfg,
	}
}

// Run 运行调度循环，直到 ctx 取消。
// 优雅停机：收到停止信号后不再认领新消息，
// 处理完（并确认）手头的消息后退出，不留下未确认的认领。
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Info("dispatcher started",
		zap.Int("batch_size", d.cfg.BatchSize),
		zap.Int("workers", d.cfg.Workers),
		zap.Duration("poll_interval", d.cfg.PollInterval),
	)

	var workers *pool.WorkerPool
	if d.cfg.Workers > 1 {
		workers = pool.NewWorkerPool(d.cfg.Workers, d.cfg.Workers*2, d.log)
		workers.Start()
		defer workers.Stop() // 排空在途任务，不留未确认的认领
	}

	for {
		if ctx.Err() != nil {
			d.log.Info("dispatcher stopping")
			return nil
		}

		processed := d.runCycle(ctx, workers)
		if processed > 0 {
			continue
		}

		// 队列为空：让出并休眠，避免空转
		select {
		case <-ctx.Done():
			d.log.Info("dispatcher stopping")
			return nil
		case <-time.After(d.cfg.PollInterval):
		}
	}
}

// runCycle 执行一个轮询周期：最多认领并处理 BatchSize 条消息。
// 认领始终发生在本循环内（各并行任务处理的是互不相交的条目）。
func (d *Dispatcher) runCycle(ctx context.Context, workers *pool.WorkerPool) int {
	if depth, err := d.queue.Depth(ctx); err == nil {
		d.metrics.OutboundQueueDepth.Set(float64(depth))
		if depth == 0 {
			return 0
		}
	}

	processed := 0
	for i := 0; i < d.cfg.BatchSize; i++ {
		if ctx.Err() != nil {
			break
		}
		delivery, err := d.queue.Claim(ctx, d.cfg.ClaimTimeout)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				d.log.Error("queue claim failed", zap.Error(err))
			}
			break
		}
		if delivery == nil {
			break
		}

		if workers != nil {
			del := delivery
			workers.Submit(func() { d.handle(ctx, del) })
		} else {
			d.handle(ctx, delivery)
		}
		processed++
	}
	return processed
}

// handle 处理一个已认领的条目并恰好确认一次。
// 确认在任何处理结果下都执行：失败的消息已在台账里标记为 failed，
// 留在队列里重投只会重复失败。
func (d *Dispatcher) handle(ctx context.Context, delivery *queue.Delivery) {
	// 停机时正在处理的消息要做完，落账和确认不能被 ctx 连坐取消
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.SendTimeout+10*time.Second)
	defer cancel()

	d.process(finishCtx, delivery.Payload)

	if err := delivery.Ack(finishCtx); err != nil {
		d.log.Error("queue ack failed", zap.Error(err))
	}
}

// process 执行一条消息的完整投递流程。
func (d *Dispatcher) process(ctx context.Context, payload []byte) {
	var env domain.OutboundEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		d.log.Error("malformed outbound envelope dropped", zap.Error(err))
		return
	}

	log := d.log.With(zap.String("message_id", env.MessageID), zap.String("tenant_id", env.TenantID))

	msg, err := d.store.GetOutbox(env.MessageID)
	if err != nil {
		// 生产者契约：行先于发布存在。查不到说明数据被外部删除
		log.Warn("outbox row missing for envelope, dropped", zap.Error(err))
		return
	}

	// 幂等防线：重复投递的条目如果已达终态，跳过重传。
	// 队列只保证至少一次投递，去重靠台账。
	if msg.Status.IsTerminal() {
		log.Info("message already in terminal state, skipping", zap.String("status", string(msg.Status)))
		return
	}

	start := time.Now()
	now := start.UTC()
	msg.Status = domain.OutboxStatusProcessing
	msg.ProcessingAt = &now
	if err := d.store.UpdateOutbox(msg); err != nil {
		log.Error("failed to mark processing", zap.Error(err))
		return
	}

	resolved, err := d.registry.Resolve(msg.TenantID, env.ProviderID)
	if err != nil {
		if errors.Is(err, domain.ErrProviderNotFound) {
			err = domain.ConfigurationErrorf("no active provider for tenant %s", msg.TenantID)
		}
		d.fail(log, msg, start, err)
		return
	}
	msg.ProviderID = &resolved.ID

	tmsg, err := d.finalize(msg, resolved)
	if err != nil {
		d.fail(log, msg, start, err)
		return
	}

	tmsg.Attachments = d.loadAttachments(ctx, msg, &env)

	transport, err := d.transportFor(resolved)
	if err != nil {
		d.fail(log, msg, start, err)
		return
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			d.fail(log, msg, start, domain.TransportErrorf("rate limiter: %v", err))
			return
		}
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	result, err := transport.Send(sendCtx, tmsg)
	cancel()
	if err != nil {
		d.fail(log, msg, start, err)
		return
	}

	sentAt := time.Now().UTC()
	msg.Status = domain.OutboxStatusSent
	msg.SentAt = &sentAt
	// SMTP 接受不等于送达；这里乐观落 delivered_at，
	// 真正的送达确认由 Webhook 覆盖写回
	msg.DeliveredAt = &sentAt
	msg.ProcessingTimeMs = time.Since(start).Milliseconds()
	msg.ProviderMessageID = result.ProviderMessageID
	msg.ProviderResponse = result.Response
	msg.ErrorMessage = ""
	if err := d.store.UpdateOutbox(msg); err != nil {
		log.Error("failed to persist sent state", zap.Error(err))
		return
	}

	d.metrics.OutboundSent.WithLabelValues(string(resolved.Kind)).Inc()
	d.metrics.SendDuration.WithLabelValues(string(resolved.Kind)).Observe(time.Since(start).Seconds())
	log.Info("message sent",
		zap.String("provider_id", resolved.ID),
		zap.String("provider_kind", string(resolved.Kind)),
		zap.String("provider_message_id", result.ProviderMessageID),
		zap.Int64("processing_time_ms", msg.ProcessingTimeMs),
	)
}

// finalize 合成最终发送内容：模板渲染或直通正文。
// 正文格式在这里一次性确定，传输层不再做分支判断。
func (d *Dispatcher) finalize(msg *domain.OutboxMessage, p *domain.Provider) (*Message, error) {
	tmsg := &Message{
		ID:       msg.ID,
		From:     p.FromEmail,
		FromName: p.FromName,
		To:       msg.To,
		Cc:       msg.Cc,
		Bcc:      msg.Bcc,
		Subject:  msg.Subject,
		Headers:  p.Headers,
	}
	if tmsg.From == "" {
		return nil, domain.ConfigurationErrorf("provider %s has no from address", p.ID)
	}

	if msg.TemplateID != nil && *msg.TemplateID != "" {
		tpl, err := d.store.GetTemplate(*msg.TemplateID)
		if err != nil {
			if errors.Is(err, domain.ErrTemplateNotFound) {
				return nil, domain.RenderErrorf("template %s not found", *msg.TemplateID)
			}
			return nil, err
		}
		rendered, err := d.renderer.Render(tpl, msg.TemplateData)
		if err != nil {
			return nil, err
		}
		tmsg.HTML = rendered.HTML
		tmsg.Text = rendered.Text
		if tmsg.Subject == "" {
			tmsg.Subject = rendered.Subject
		}

		// 回填实际发送的内容：sent 状态下 body_content
		// 必须与线上传输的内容一致
		if rendered.HTML != "" {
			content := rendered.HTML
			msg.BodyContent = &content
			msg.BodyFormat = domain.BodyFormatHTML
		} else {
			content := rendered.Text
			msg.BodyContent = &content
			msg.BodyFormat = domain.BodyFormatText
		}
		msg.Subject = tmsg.Subject
		return tmsg, nil
	}

	if msg.BodyContent == nil || *msg.BodyContent == "" {
		return nil, domain.ValidationErrorf("message %s has neither body content nor template", msg.ID)
	}

	switch msg.BodyFormat {
	case domain.BodyFormatHTML:
		tmsg.HTML = *msg.BodyContent
	default:
		tmsg.Text = *msg.BodyContent
	}
	return tmsg, nil
}

// loadAttachments 加载信封中的附件并把元数据落账。
func (d *Dispatcher) loadAttachments(ctx context.Context, msg *domain.OutboxMessage, env *domain.OutboundEnvelope) []*domain.Attachment {
	if d.attachments == nil || len(env.Attachments) == 0 {
		return nil
	}
	loaded := d.attachments.Load(ctx, msg.ID, env.Attachments)
	if len(loaded) < len(env.Attachments) {
		d.metrics.AttachmentFetchFailed.Add(float64(len(env.Attachments) - len(loaded)))
	}
	for _, att := range loaded {
		d.metrics.AttachmentBytes.Observe(float64(att.Size))
		if err := d.store.SaveAttachment(att); err != nil {
			d.log.Warn("failed to persist attachment metadata",
				zap.String("message_id", msg.ID),
				zap.String("filename", att.Filename),
				zap.Error(err),
			)
		}
	}
	return loaded
}

// fail 将消息落为 failed 状态。
// retry_count 只在人工重发时递增，自动失败不加。
func (d *Dispatcher) fail(log *zap.Logger, msg *domain.OutboxMessage, start time.Time, cause error) {
	msg.Status = domain.OutboxStatusFailed
	msg.ErrorMessage = cause.Error()
	msg.ProcessingTimeMs = time.Since(start).Milliseconds()
	if err := d.store.UpdateOutbox(msg); err != nil {
		log.Error("failed to persist failed state", zap.Error(err))
	}

	d.metrics.OutboundFailed.WithLabelValues(errorCategory(cause)).Inc()
	log.Warn("message failed", zap.Error(cause))
}

// errorCategory 把错误映射到分类标签（指标维度）。
func errorCategory(err error) string {
	switch {
	case errors.Is(err, domain.ErrConfiguration):
		return "configuration"
	case errors.Is(err, domain.ErrTransport):
		return "transport"
	case errors.Is(err, domain.ErrRender):
		return "render"
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	default:
		return "other"
	}
}
