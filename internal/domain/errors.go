package domain

import (
	"errors"
	"fmt"
)

// 错误分类。
// 调用方用 errors.Is 判断类别决定处理策略：
//   - 配置错误：缺少凭证/服务商，不可自动重试
//   - 传输错误：网络/SMTP/IMAP 故障，可通过人工重发或下个轮询周期重试
//   - 渲染错误：模板或数据有问题，修数据前重试无意义
//   - 解析错误：MIME 损坏，跳过该邮件并记录日志
//   - 校验错误：收件人地址非法，入队前同步拒绝
var (
	ErrConfiguration = errors.New("configuration error")
	ErrTransport     = errors.New("transport error")
	ErrRender        = errors.New("render error")
	ErrParse         = errors.New("parse error")
	ErrValidation    = errors.New("validation error")
)

// 资源查找错误
var (
	ErrTenantNotFound   = errors.New("tenant not found")
	ErrProviderNotFound = errors.New("provider not found")
	ErrTemplateNotFound = errors.New("template not found")
	ErrMessageNotFound  = errors.New("message not found")
	ErrDuplicateMessage = errors.New("duplicate message id")
)

// ConfigurationErrorf 构造带上下文的配置错误。
func ConfigurationErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// TransportErrorf 构造带上下文的传输错误。
func TransportErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrTransport, fmt.Sprintf(format, args...))
}

// RenderErrorf 构造带上下文的渲染错误。
func RenderErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrRender, fmt.Sprintf(format, args...))
}

// ParseErrorf 构造带上下文的解析错误。
func ParseErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrParse, fmt.Sprintf(format, args...))
}

// ValidationErrorf 构造带上下文的校验错误。
func ValidationErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
