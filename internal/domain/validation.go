package domain

import (
	"net/mail"
	"strings"
)

// RFC 5322 地址长度限制
const (
	MaxEmailLength     = 254 // 整个邮箱地址最大长度
	MaxLocalPartLength = 64  // 本地部分最大长度（@ 前）
	MaxDomainLength    = 253 // 域名最大长度
	MaxRecipients      = 100 // 单封邮件收件人上限（to+cc+bcc）
)

// ValidateAddress 校验单个收件地址。
// 入队前同步执行，失败返回 ErrValidation 类别错误。
func ValidateAddress(address string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return ValidationErrorf("empty address")
	}
	if len(address) > MaxEmailLength {
		return ValidationErrorf("address too long: %q", address)
	}

	parsed, err := mail.ParseAddress(address)
	if err != nil {
		return ValidationErrorf("invalid address %q", address)
	}

	// mail.ParseAddress 接受 "Name <addr>" 形式，投递只要裸地址
	at := strings.LastIndex(parsed.Address, "@")
	if at <= 0 || at == len(parsed.Address)-1 {
		return ValidationErrorf("invalid address %q", address)
	}

	local, domain := parsed.Address[:at], parsed.Address[at+1:]
	if len(local) > MaxLocalPartLength {
		return ValidationErrorf("local part too long in %q", address)
	}
	if len(domain) > MaxDomainLength || !strings.Contains(domain, ".") {
		return ValidationErrorf("invalid domain in %q", address)
	}
	return nil
}

// ValidateRecipients 校验一封邮件的全部收件人。
// to 不能为空；任意一个地址非法即整体拒绝。
func ValidateRecipients(to, cc, bcc []string) error {
	if len(to) == 0 {
		return ValidationErrorf("at least one recipient required")
	}
	total := len(to) + len(cc) + len(bcc)
	if total > MaxRecipients {
		return ValidationErrorf("too many recipients: %d (max %d)", total, MaxRecipients)
	}
	for _, group := range [][]string{to, cc, bcc} {
		for _, addr := range group {
			if err := ValidateAddress(addr); err != nil {
				return err
			}
		}
	}
	return nil
}
