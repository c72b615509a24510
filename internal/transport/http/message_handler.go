package httptransport

import (
	"github.com/gin-gonic/gin"

	"mailrelay/backend/internal/dispatch"
	"mailrelay/backend/internal/domain"
)

// MessageHandler 出站消息 API 处理器。
type MessageHandler struct {
	producer *dispatch.Producer
	store    domain.Store
}

// NewMessageHandler 创建出站消息处理器。
func NewMessageHandler(producer *dispatch.Producer, store domain.Store) *MessageHandler {
	return &MessageHandler{producer: producer, store: store}
}

// sendRequest 发送请求体
type sendRequest struct {
	TenantID     string                  `json:"tenant_id" binding:"required"`
	ProviderID   string                  `json:"provider_id"`
	UserID       string                  `json:"user_id"`
	To           []string                `json:"to" binding:"required"`
	Cc           []string                `json:"cc"`
	Bcc          []string                `json:"bcc"`
	Subject      string                  `json:"subject"`
	BodyContent  string                  `json:"body_content"`
	BodyFormat   string                  `json:"body_format"`
	TemplateID   string                  `json:"template_id"`
	TemplateData map[string]any          `json:"template_data"`
	Attachments  []domain.AttachmentSpec `json:"attachments"`
	Metadata     map[string]any          `json:"metadata"`
}

// Send 受理一条发送请求
//
// POST /api/v1/messages
func (h *MessageHandler) Send(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	msg, err := h.producer.Enqueue(c.Request.Context(), dispatch.EnqueueInput{
		TenantID:     req.TenantID,
		ProviderID:   req.ProviderID,
		UserID:       req.UserID,
		To:           req.To,
		Cc:           req.Cc,
		Bcc:          req.Bcc,
		Subject:      req.Subject,
		BodyContent:  req.BodyContent,
		BodyFormat:   domain.BodyFormat(req.BodyFormat),
		TemplateID:   req.TemplateID,
		TemplateData: req.TemplateData,
		Attachments:  req.Attachments,
		Metadata:     req.Metadata,
	})
	if err != nil {
		RespondError(c, err)
		return
	}

	Accepted(c, msg)
}

// Get 查询一条出站消息
//
// GET /api/v1/messages/:id
func (h *MessageHandler) Get(c *gin.Context) {
	msg, err := h.store.GetOutbox(c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, msg)
}

// List 按租户分页查询出站消息
//
// GET /api/v1/messages?tenant_id=...&limit=...&offset=...
func (h *MessageHandler) List(c *gin.Context) {
	tenantID := c.Query("tenant_id")
	if tenantID == "" {
		BadRequest(c, "tenant_id is required")
		return
	}

	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)

	msgs, err := h.store.ListOutboxByTenant(tenantID, limit, offset)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, msgs)
}

// Resend 人工重发一条失败的消息
//
// POST /api/v1/messages/:id/resend
func (h *MessageHandler) Resend(c *gin.Context) {
	msg, err := h.producer.Resend(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	Accepted(c, msg)
}

// InboundHandler 入站消息查询处理器。
type InboundHandler struct {
	store domain.Store
}

// NewInboundHandler 创建入站查询处理器。
func NewInboundHandler(store domain.Store) *InboundHandler {
	return &InboundHandler{store: store}
}

// Get 查询一条入站消息
//
// GET /api/v1/inbound/:id
func (h *InboundHandler) Get(c *gin.Context) {
	msg, err := h.store.GetInbound(c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, msg)
}

// List 按租户分页查询入站消息
//
// GET /api/v1/inbound?tenant_id=...&limit=...&offset=...
func (h *InboundHandler) List(c *gin.Context) {
	tenantID := c.Query("tenant_id")
	if tenantID == "" {
		BadRequest(c, "tenant_id is required")
		return
	}

	msgs, err := h.store.ListInboundByTenant(tenantID, intQuery(c, "limit", 50), intQuery(c, "offset", 0))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, msgs)
}
