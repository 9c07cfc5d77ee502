package domain

import (
	"errors"
	"net/mail"
	"regexp"
	"strings"
)

// 地址校验相关的错误定义
var (
	ErrInvalidAddress = errors.New("invalid email address")
	ErrAddressTooLong = errors.New("email address too long")
)

// RFC 5321 地址长度限制
const (
	MaxAddressLength   = 254
	MaxLocalPartLength = 64
	MaxDomainLength    = 253
)

// 域名验证（支持子域名）
var domainRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)

// NormalizeAddress 去除空白与尖括号并转为小写
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = strings.Trim(addr, "<>")
	return strings.ToLower(addr)
}

// ValidateAddress 校验规范化后的信封地址
//
// 只检查语法：是否存在对应收件箱由准入控制判断。
func ValidateAddress(addr string) error {
	if len(addr) > MaxAddressLength {
		return ErrAddressTooLong
	}

	at := strings.LastIndex(addr, "@")
	if at <= 0 || at == len(addr)-1 {
		return ErrInvalidAddress
	}
	localPart, host := addr[:at], addr[at+1:]

	if len(localPart) > MaxLocalPartLength || len(host) > MaxDomainLength {
		return ErrAddressTooLong
	}
	if !domainRegex.MatchString(host) {
		return ErrInvalidAddress
	}
	if _, err := mail.ParseAddress(addr); err != nil {
		return ErrInvalidAddress
	}
	return nil
}
