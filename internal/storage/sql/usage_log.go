package sql

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"labelgate/backend/internal/domain"
	"labelgate/backend/internal/storage"
)

// pendingScanDepth 查找待认领记录时向前扫描的条数
const pendingScanDepth = 20

// ========== Usage Log Repository ==========

// AppendUsageLog 追加使用记录
func (s *Store) AppendUsageLog(ctx context.Context, entry *domain.UsageLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.Must(uuid.NewV7()).String()
	}
	if entry.UsedAt.IsZero() {
		entry.UsedAt = s.now()
	}
	if entry.LabelData == nil {
		entry.LabelData = domain.LabelData{}
	}

	const query = `INSERT INTO usage_logs (id, key_id, used_at, ip_address, label_data)
		VALUES (:id, :key_id, :used_at, :ip_address, :label_data)`
	if _, err := s.db.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("insert usage log: %w", err)
	}
	return nil
}

// ListUsageLogs 按 used_at 倒序返回，附带密钥代码
func (s *Store) ListUsageLogs(ctx context.Context, limit int) ([]domain.UsageLogView, error) {
	query := `SELECT l.id, l.key_id, l.used_at, l.ip_address, l.label_data, k.code AS key_code
		FROM usage_logs l
		JOIN access_keys k ON k.id = l.key_id
		ORDER BY l.used_at DESC, l.id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	logs := []domain.UsageLogView{}
	if err := s.db.SelectContext(ctx, &logs, s.q(query), args...); err != nil {
		return nil, fmt.Errorf("list usage logs: %w", err)
	}
	return logs, nil
}

// usageLogRow 保留 label_data 原文，用于比较并替换
type usageLogRow struct {
	domain.UsageLogEntry
	Raw string `db:"raw_label_data"`
}

// pendingUsageLog 返回该密钥最近一条尚未关联条码的记录并加行锁
func (s *Store) pendingUsageLog(ctx context.Context, tx *sqlx.Tx, keyID string) (*usageLogRow, error) {
	lock := ""
	if s.dialect != DialectSQLite {
		lock = " FOR UPDATE"
	}
	var recent []usageLogRow
	err := tx.SelectContext(ctx, &recent, s.q(`SELECT id, key_id, used_at, ip_address, label_data, label_data AS raw_label_data
		FROM usage_logs WHERE key_id = ?
		ORDER BY used_at DESC, id DESC LIMIT ?`+lock), keyID, pendingScanDepth)
	if err != nil {
		return nil, fmt.Errorf("select usage logs: %w", err)
	}
	for i := range recent {
		if !recent[i].LabelData.HasBarcode() {
			return &recent[i], nil
		}
	}
	return nil, storage.ErrUsageLogNotFound
}

// attachBarcode 比较并替换 label_data，把条码写入待认领的记录
func (s *Store) attachBarcode(ctx context.Context, tx *sqlx.Tx, row *usageLogRow, ref domain.BarcodeRef) (*domain.UsageLogEntry, error) {
	entry := row.UsageLogEntry
	data := entry.LabelData.Clone()
	data[domain.LabelDataBarcodeKey] = ref

	res, err := tx.ExecContext(ctx,
		s.q(`UPDATE usage_logs SET label_data = ? WHERE id = ? AND label_data = ?`),
		data, entry.ID, row.Raw)
	if err != nil {
		return nil, fmt.Errorf("attach barcode: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, storage.ErrUsageLogNotFound
	}
	entry.LabelData = data
	return &entry, nil
}
