package domain

import "time"

// AccessKey 限次访问密钥
//
// 不变式：0 <= CurrentUses <= MaxUses。
// 当 CurrentUses 达到 MaxUses 时 IsActive 自动置为 false。
type AccessKey struct {
	ID          string    `json:"id" gorm:"primaryKey;type:varchar(36)" db:"id"`
	Code        string    `json:"code" gorm:"type:varchar(128);uniqueIndex;not null" db:"code"`
	Description string    `json:"description" gorm:"type:varchar(500);not null" db:"description"`
	MaxUses     int       `json:"maxUses" gorm:"not null;default:1" db:"max_uses"`
	CurrentUses int       `json:"currentUses" gorm:"not null;default:0" db:"current_uses"`
	IsActive    bool      `json:"isActive" gorm:"not null;default:true" db:"is_active"`
	CreatedAt   time.Time `json:"createdAt" gorm:"not null" db:"created_at"`
}

// TableName gorm 表名
func (AccessKey) TableName() string { return "access_keys" }

// IsUsable 密钥处于激活状态且未用尽
func (k *AccessKey) IsUsable() bool {
	return k.IsActive && k.CurrentUses < k.MaxUses
}

// IsExhausted 使用次数已达上限
func (k *AccessKey) IsExhausted() bool {
	return k.CurrentUses >= k.MaxUses
}

// RemainingUses 剩余可用次数
func (k *AccessKey) RemainingUses() int {
	if k.IsExhausted() {
		return 0
	}
	return k.MaxUses - k.CurrentUses
}
