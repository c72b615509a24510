// Package provider 实现服务商解析。
// 调度器在投递前通过 Registry 把 (tenant_id, provider_id?) 解析为
// 一个具体的投递服务商配置。
package provider

import (
	"errors"

	"go.uber.org/zap"

	"mailrelay/backend/internal/domain"
)

// Registry 服务商注册表
type Registry struct {
	store domain.Store
	log   *zap.Logger

	// 允许跨租户兜底。解析链的最后一步会返回系统内任意激活的
	// 服务商——这是可用性优先于隔离性的取舍，默认开启以保持
	// 与历史行为一致，可通过配置关闭。
	allowCrossTenantFallback bool
}

// NewRegistry 创建服务商注册表。
func NewRegistry(store domain.Store, log *zap.Logger, allowCrossTenantFallback bool) *Registry {
	return &Registry{
		store:                    store,
		log:                      log,
		allowCrossTenantFallback: allowCrossTenantFallback,
	}
}

// Resolve 解析服务商。解析优先级：
//  1. providerID 非空：必须是该租户下的激活服务商
//  2. 该租户的第一个激活服务商
//  3. （可配置）系统内任意激活服务商作为最后兜底
//
// 找不到时返回 domain.ErrProviderNotFound。
func (r *Registry) Resolve(tenantID, providerID string) (*domain.Provider, error) {
	if providerID != "" {
		p, err := r.store.GetProvider(providerID)
		if err != nil && !errors.Is(err, domain.ErrProviderNotFound) {
			return nil, err
		}
		if p != nil && p.IsActive && p.TenantID == tenantID {
			return p, nil
		}
		// 指定的服务商不可用时继续走租户级兜底，
		// 而不是直接失败
		r.log.Warn("requested provider unavailable, falling back",
			zap.String("tenant_id", tenantID),
			zap.String("provider_id", providerID),
		)
	}

	providers, err := r.store.ListActiveProvidersByTenant(tenantID)
	if err != nil {
		return nil, err
	}
	if len(providers) > 0 {
		return &providers[0], nil
	}

	if r.allowCrossTenantFallback {
		all, err := r.store.ListActiveProviders()
		if err != nil {
			return nil, err
		}
		if len(all) > 0 {
			// 跨租户兜底是可审计行为，必须留下明显的日志痕迹
			r.log.Warn("cross-tenant provider fallback taken",
				zap.String("tenant_id", tenantID),
				zap.String("fallback_provider_id", all[0].ID),
				zap.String("fallback_tenant_id", all[0].TenantID),
			)
			return &all[0], nil
		}
	}

	return nil, domain.ErrProviderNotFound
}
