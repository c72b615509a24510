// Package render 将模板与数据包渲染为邮件主题和正文。
// 使用 Liquid 模板语言；渲染是纯函数，相同输入永远产出相同结果，
// 这是重试安全和可测试性的前提。
package render

import (
	"fmt"

	"github.com/osteele/liquid"

	"mailrelay/backend/internal/domain"
)

// ErrNoContent 模板既没有 HTML 也没有文本正文。
var ErrNoContent = fmt.Errorf("%w: template has no content", domain.ErrRender)

// Rendered 渲染结果。HTML 与 Text 至少有一个非空。
type Rendered struct {
	Subject string
	HTML    string
	Text    string
}

// Renderer Liquid 模板渲染器
type Renderer struct {
	engine *liquid.Engine
}

// NewRenderer 创建渲染器并注册过滤器。
// 不注册任何有状态的过滤器，保证 Render 的纯函数性质。
func NewRenderer() *Renderer {
	engine := liquid.NewEngine()

	// {{ first_name | default: "there" }}
	engine.RegisterFilter("default", func(value any, fallback string) any {
		if value == nil {
			return fallback
		}
		if s := fmt.Sprintf("%v", value); s == "" || s == "<nil>" {
			return fallback
		}
		return value
	})

	return &Renderer{engine: engine}
}

// Render 渲染模板。
// 缺失的变量渲染为空字符串而不是报错（模板必须是防御性的）；
// 模板两种正文都为空时返回 ErrNoContent。
func (r *Renderer) Render(tpl *domain.Template, data map[string]any) (*Rendered, error) {
	if tpl == nil {
		return nil, domain.RenderErrorf("nil template")
	}
	if tpl.BodyHTML == "" && tpl.BodyText == "" {
		return nil, ErrNoContent
	}
	if data == nil {
		data = map[string]any{}
	}

	out := &Rendered{}
	var err error

	if out.Subject, err = r.renderOne(tpl.Subject, data); err != nil {
		return nil, domain.RenderErrorf("subject: %v", err)
	}
	if tpl.BodyHTML != "" {
		if out.HTML, err = r.renderOne(tpl.BodyHTML, data); err != nil {
			return nil, domain.RenderErrorf("html body: %v", err)
		}
	}
	if tpl.BodyText != "" {
		if out.Text, err = r.renderOne(tpl.BodyText, data); err != nil {
			return nil, domain.RenderErrorf("text body: %v", err)
		}
	}
	return out, nil
}

func (r *Renderer) renderOne(source string, data map[string]any) (string, error) {
	if source == "" {
		return "", nil
	}
	out, err := r.engine.ParseAndRenderString(source, data)
	if err != nil {
		return "", fmt.Errorf("liquid: %w", err)
	}
	return out, nil
}
