package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// LabelDataBarcodeKey 分配条码后写入标签数据的字段
const LabelDataBarcodeKey = "barcode_used"

// LabelData 标签表单数据，核心逻辑不解析其内容
type LabelData map[string]any

// Value 实现 driver.Valuer，以 JSON 文本存储
func (d LabelData) Value() (driver.Value, error) {
	if d == nil {
		return "{}", nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan 实现 sql.Scanner
func (d *LabelData) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*d = LabelData{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("label data: unsupported scan type")
	}
	if len(raw) == 0 {
		*d = LabelData{}
		return nil
	}
	out := LabelData{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	*d = out
	return nil
}

// Clone 浅拷贝，顶层字段可安全修改
func (d LabelData) Clone() LabelData {
	out := make(LabelData, len(d)+1)
	for k, v := range d {
		out[k] = v
	}
	return out
}

// HasBarcode 是否已关联条码
func (d LabelData) HasBarcode() bool {
	_, ok := d[LabelDataBarcodeKey]
	return ok
}

// UsageLogEntry 一次标签生成的审计记录，只追加不修改（分配条码时补充 barcode_used）
type UsageLogEntry struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)" db:"id"`
	KeyID     string    `json:"keyId" gorm:"type:varchar(36);index;not null" db:"key_id"`
	UsedAt    time.Time `json:"usedAt" gorm:"not null;index" db:"used_at"`
	IPAddress *string   `json:"ipAddress,omitempty" gorm:"type:varchar(64)" db:"ip_address"`
	LabelData LabelData `json:"labelData" gorm:"type:text" db:"label_data"`
}

// TableName gorm 表名
func (UsageLogEntry) TableName() string { return "usage_logs" }

// UsageLogView 带密钥代码的使用记录，用于管理端活动列表
type UsageLogView struct {
	UsageLogEntry
	KeyCode string `json:"keyCode" db:"key_code"`
}
