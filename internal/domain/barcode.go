package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// BarcodeRecord 预先导入的条码记录
//
// IsUsed 只能从 false 变为 true，UsedAt 在同一次分配中写入。
// 分配顺序按 CreatedAt 升序，ID 为 UUIDv7，同一时刻写入的记录按 ID 排序。
// GS1Value 不限长度，唯一约束建在 GS1Hash 上。
type BarcodeRecord struct {
	ID          string     `json:"id" gorm:"primaryKey;type:varchar(36)" db:"id"`
	GS1Value    string     `json:"gs1Value" gorm:"column:gs1_value;type:text;not null" db:"gs1_value"`
	GS1Hash     string     `json:"-" gorm:"column:gs1_hash;type:char(64);uniqueIndex;not null" db:"gs1_hash"`
	LinearValue string     `json:"linearValue" gorm:"type:text;not null" db:"linear_value"`
	IsUsed      bool       `json:"isUsed" gorm:"not null;default:false;index:idx_barcode_pool,priority:1" db:"is_used"`
	UsedAt      *time.Time `json:"usedAt,omitempty" db:"used_at"`
	CreatedAt   time.Time  `json:"createdAt" gorm:"not null;index:idx_barcode_pool,priority:2" db:"created_at"`
}

// TableName gorm 表名
func (BarcodeRecord) TableName() string { return "barcode_records" }

// HashGS1 返回 gs1 值的 SHA-256 十六进制摘要，用作去重键
func HashGS1(gs1 string) string {
	sum := sha256.Sum256([]byte(gs1))
	return hex.EncodeToString(sum[:])
}

// BarcodeCandidate 解析得到、尚未入库的条码
type BarcodeCandidate struct {
	GS1Value    string `json:"gs1Value"`
	LinearValue string `json:"linearValue"`
}

// PoolStats 条码池统计，Available 恒等于 Total - Used
type PoolStats struct {
	Total     int `json:"total"`
	Used      int `json:"used"`
	Available int `json:"available"`
}

// NewPoolStats 根据总数和已用数构造统计
func NewPoolStats(total, used int) PoolStats {
	return PoolStats{Total: total, Used: used, Available: total - used}
}

// IngestResult 批量入库结果
type IngestResult struct {
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
}

// BarcodeRef 写入使用记录的条码引用
type BarcodeRef struct {
	ID          string `json:"id"`
	GS1Value    string `json:"gs1_value"`
	LinearValue string `json:"linear_value"`
}

// Ref 返回条码引用
func (b *BarcodeRecord) Ref() BarcodeRef {
	return BarcodeRef{ID: b.ID, GS1Value: b.GS1Value, LinearValue: b.LinearValue}
}
