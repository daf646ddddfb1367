package domain

import (
	"errors"
	"regexp"
	"strings"
)

// 验证相关的错误定义
var (
	ErrPrefixRequired      = errors.New("prefix is required")
	ErrPrefixTooLong       = errors.New("prefix too long (max 32 chars)")
	ErrInvalidPrefix       = errors.New("prefix may only contain letters, digits, '-' and '_'")
	ErrDescriptionRequired = errors.New("description is required")
	ErrDescriptionTooLong  = errors.New("description too long (max 500 chars)")
	ErrInvalidMaxUses      = errors.New("maximum uses must be at least 1")
	ErrPasswordTooShort    = errors.New("password too short (min 8 chars)")
	ErrPasswordTooLong     = errors.New("password too long (max 72 bytes)")
)

// 验证常量
const (
	MaxPrefixLength      = 32
	MaxDescriptionLength = 500

	// bcrypt 只处理前 72 字节
	MinPasswordLength = 8
	MaxPasswordLength = 72

	// DefaultLabelWeight 标签未填写重量时的默认值
	DefaultLabelWeight = "5kg"
)

var prefixRegex = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// NormalizePrefix 去除空白并校验密钥前缀
func NormalizePrefix(prefix string) (string, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "", ErrPrefixRequired
	}
	if len(prefix) > MaxPrefixLength {
		return "", ErrPrefixTooLong
	}
	if !prefixRegex.MatchString(prefix) {
		return "", ErrInvalidPrefix
	}
	return prefix, nil
}

// NormalizeDescription 去除空白并校验描述
func NormalizeDescription(description string) (string, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return "", ErrDescriptionRequired
	}
	if len(description) > MaxDescriptionLength {
		return "", ErrDescriptionTooLong
	}
	return description, nil
}

// ValidateMaxUses 最大使用次数至少为 1
func ValidateMaxUses(maxUses int) error {
	if maxUses < 1 {
		return ErrInvalidMaxUses
	}
	return nil
}

// ValidatePassword 校验管理员密码长度
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	if len(password) > MaxPasswordLength {
		return ErrPasswordTooLong
	}
	return nil
}

// NormalizeLabelData 复制标签数据并补齐默认字段
func NormalizeLabelData(data LabelData) LabelData {
	out := data.Clone()
	if w, ok := out["weight"].(string); !ok || strings.TrimSpace(w) == "" {
		out["weight"] = DefaultLabelWeight
	}
	return out
}
