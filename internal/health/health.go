package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"mailrelay/backend/internal/domain"
)

// HealthChecker 健康检查器
type HealthChecker struct {
	health healthcheck.Handler
	store  domain.Store
	redis  *redis.Client
	logger *zap.Logger
}

// NewHealthChecker 创建健康检查器。redisClient 可为 nil（内存队列模式）。
func NewHealthChecker(store domain.Store, redisClient *redis.Client, logger *zap.Logger) *HealthChecker {
	hc := &HealthChecker{
		health: healthcheck.NewHandler(),
		store:  store,
		redis:  redisClient,
		logger: logger,
	}

	hc.addChecks()
	return hc
}

// addChecks 添加健康检查
func (hc *HealthChecker) addChecks() {
	// 存储连接检查
	hc.health.AddLivenessCheck("store", func() error {
		return hc.store.Ping()
	})

	// Redis 队列后端检查
	if hc.redis != nil {
		hc.health.AddReadinessCheck("redis", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return hc.redis.Ping(ctx).Err()
		})
	}
}

// Handler 返回健康检查处理器（/live 和 /ready 端点）
func (hc *HealthChecker) Handler() http.Handler {
	return hc.health
}

// CheckHealth 执行健康检查并返回各组件状态
func (hc *HealthChecker) CheckHealth() map[string]string {
	results := make(map[string]string)

	if err := hc.store.Ping(); err != nil {
		results["store"] = fmt.Sprintf("ERROR: %v", err)
	} else {
		results["store"] = "OK"
	}

	if hc.redis != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := hc.redis.Ping(ctx).Err(); err != nil {
			results["redis"] = fmt.Sprintf("ERROR: %v", err)
		} else {
			results["redis"] = "OK"
		}
		cancel()
	} else {
		results["redis"] = "NOT_CONFIGURED"
	}

	results["timestamp"] = time.Now().Format(time.RFC3339)
	return results
}
