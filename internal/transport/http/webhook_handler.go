package httptransport

import (
	"io"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailrelay/backend/internal/webhook"
)

// WebhookHandler 服务商回调处理器。
type WebhookHandler struct {
	ingestor *webhook.Ingestor
	log      *zap.Logger
}

// NewWebhookHandler 创建回调处理器。
func NewWebhookHandler(ingestor *webhook.Ingestor, log *zap.Logger) *WebhookHandler {
	return &WebhookHandler{ingestor: ingestor, log: log}
}

// Receive 接收服务商投递事件回调
//
// POST /webhooks/:provider
//
// 回调端总是尽快返回 200：服务商只关心报文是否被收下，
// 未知消息标识、未知事件类型都不算失败（避免服务商无谓重试）。
func (h *WebhookHandler) Receive(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil || len(payload) == 0 {
		BadRequest(c, "empty webhook payload")
		return
	}

	outcome, err := h.ingestor.Ingest(payload)
	if err != nil {
		h.log.Warn("webhook ingest failed",
			zap.String("provider", c.Param("provider")),
			zap.Error(err),
		)
	}

	Success(c, gin.H{"outcome": string(outcome)})
}
