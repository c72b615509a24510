package httptransport

import (
	"net/http"
	"strconv"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"mailrelay/backend/internal/config"
	"mailrelay/backend/internal/dispatch"
	"mailrelay/backend/internal/domain"
	"mailrelay/backend/internal/health"
	"mailrelay/backend/internal/middleware"
	"mailrelay/backend/internal/monitoring"
	"mailrelay/backend/internal/webhook"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config   *config.Config
	Producer *dispatch.Producer
	Ingestor *webhook.Ingestor
	Store    domain.Store
	Health   *health.HealthChecker
	Metrics  *monitoring.Metrics
	Logger   *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	router := gin.New()

	router.Use(middleware.RecoveryHandler(deps.Logger))
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.HTTPMetrics(deps.Metrics))

	// 请求体上限与邮件大小上限一致
	router.Use(middleware.BodySizeLimit(25 * 1024 * 1024))

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	messageHandler := NewMessageHandler(deps.Producer, deps.Store)
	inboundHandler := NewInboundHandler(deps.Store)
	webhookHandler := NewWebhookHandler(deps.Ingestor, deps.Logger)

	// 健康检查
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, deps.Health.CheckHealth())
	})
	healthHandler := deps.Health.Handler()
	router.GET("/live", gin.WrapH(healthHandler))
	router.GET("/ready", gin.WrapH(healthHandler))

	// Prometheus 指标
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 服务商投递事件回调
	router.POST("/webhooks/:provider", webhookHandler.Receive)

	// V1 API
	v1 := router.Group("/api/v1")
	{
		messages := v1.Group("/messages")
		{
			messages.POST("", messageHandler.Send)
			messages.GET("", messageHandler.List)
			messages.GET("/:id", messageHandler.Get)
			messages.POST("/:id/resend", messageHandler.Resend)
		}

		inbound := v1.Group("/inbound")
		{
			inbound.GET("", inboundHandler.List)
			inbound.GET("/:id", inboundHandler.Get)
		}
	}

	return router
}

// intQuery 解析整型查询参数，非法或缺失时返回默认值
func intQuery(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}
