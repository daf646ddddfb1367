package sql

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"labelgate/backend/internal/domain"
	"labelgate/backend/internal/storage"
)

const barcodeColumns = `id, gs1_value, gs1_hash, linear_value, is_used, used_at, created_at`

// ========== Barcode Repository ==========

// InsertBarcodes 在一个事务中逐条插入，gs1_hash 冲突的行计为重复
func (s *Store) InsertBarcodes(ctx context.Context, candidates []domain.BarcodeCandidate) (domain.IngestResult, error) {
	var res domain.IngestResult
	if len(candidates) == 0 {
		return res, nil
	}

	insert := `INSERT INTO barcode_records (` + barcodeColumns + `) VALUES (?, ?, ?, ?, FALSE, NULL, ?) ON CONFLICT (gs1_hash) DO NOTHING`
	if s.dialect == DialectMySQL {
		insert = `INSERT IGNORE INTO barcode_records (` + barcodeColumns + `) VALUES (?, ?, ?, ?, FALSE, NULL, ?)`
	}
	insert = s.q(insert)

	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		stmt, err := tx.PreparexContext(ctx, insert)
		if err != nil {
			return fmt.Errorf("prepare barcode insert: %w", err)
		}
		defer stmt.Close()

		for _, c := range candidates {
			r, err := stmt.ExecContext(ctx, uuid.Must(uuid.NewV7()).String(),
				c.GS1Value, domain.HashGS1(c.GS1Value), c.LinearValue, s.now())
			if err != nil {
				return fmt.Errorf("insert barcode: %w", err)
			}
			if n, _ := r.RowsAffected(); n == 0 {
				res.Duplicates++
			} else {
				res.Inserted++
			}
		}
		return nil
	})
	if err != nil {
		return domain.IngestResult{}, err
	}
	return res, nil
}

// AllocateBarcode 原子地取出最早的未使用条码
func (s *Store) AllocateBarcode(ctx context.Context) (*domain.BarcodeRecord, error) {
	var rec *domain.BarcodeRecord
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		rec, err = s.takeBarcode(ctx, tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// AllocateBarcodeForUsage 锁定该密钥待认领的使用记录，取出条码并写入记录，三步在同一事务中完成
func (s *Store) AllocateBarcodeForUsage(ctx context.Context, keyID string) (*domain.BarcodeRecord, *domain.UsageLogEntry, error) {
	var (
		rec   *domain.BarcodeRecord
		entry *domain.UsageLogEntry
	)
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		pending, err := s.pendingUsageLog(ctx, tx, keyID)
		if err != nil {
			return err
		}
		if rec, err = s.takeBarcode(ctx, tx); err != nil {
			return err
		}
		entry, err = s.attachBarcode(ctx, tx, pending, rec.Ref())
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return rec, entry, nil
}

// takeBarcode 在事务内取出最早的未使用条码并标记为已使用
//
// PostgreSQL 与 SQLite 使用单条 UPDATE ... RETURNING；PostgreSQL 子查询加
// FOR UPDATE SKIP LOCKED，并发调用各自拿到不同的行。MySQL 没有 RETURNING，
// 先 SELECT ... FOR UPDATE SKIP LOCKED 再按 id 条件更新。
func (s *Store) takeBarcode(ctx context.Context, tx *sqlx.Tx) (*domain.BarcodeRecord, error) {
	var id string
	if s.dialect == DialectMySQL {
		err := tx.GetContext(ctx, &id, `SELECT id FROM barcode_records
			WHERE is_used = FALSE
			ORDER BY created_at, id
			LIMIT 1 FOR UPDATE SKIP LOCKED`)
		if err != nil {
			if isNoRows(err) {
				return nil, storage.ErrPoolExhausted
			}
			return nil, fmt.Errorf("select barcode: %w", err)
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE barcode_records SET is_used = TRUE, used_at = ? WHERE id = ? AND is_used = FALSE`,
			s.now(), id)
		if err != nil {
			return nil, fmt.Errorf("mark barcode used: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, storage.ErrPoolExhausted
		}
		return s.getBarcode(ctx, tx, id)
	}

	lock := ""
	if s.dialect == DialectPostgres {
		lock = " FOR UPDATE SKIP LOCKED"
	}
	query := s.q(`UPDATE barcode_records SET is_used = TRUE, used_at = ?
		WHERE id = (
			SELECT id FROM barcode_records
			WHERE is_used = FALSE
			ORDER BY created_at, id
			LIMIT 1` + lock + `
		) AND is_used = FALSE
		RETURNING id`)

	if err := tx.GetContext(ctx, &id, query, s.now()); err != nil {
		if isNoRows(err) {
			return nil, storage.ErrPoolExhausted
		}
		return nil, fmt.Errorf("allocate barcode: %w", err)
	}
	return s.getBarcode(ctx, tx, id)
}

func (s *Store) getBarcode(ctx context.Context, q sqlx.QueryerContext, id string) (*domain.BarcodeRecord, error) {
	var rec domain.BarcodeRecord
	if err := sqlx.GetContext(ctx, q, &rec, s.q(`SELECT `+barcodeColumns+` FROM barcode_records WHERE id = ?`), id); err != nil {
		if isNoRows(err) {
			return nil, storage.ErrBarcodeNotFound
		}
		return nil, fmt.Errorf("get barcode: %w", err)
	}
	return &rec, nil
}

// PeekNextBarcode 查看下一条待分配的条码
func (s *Store) PeekNextBarcode(ctx context.Context) (*domain.BarcodeRecord, error) {
	var rec domain.BarcodeRecord
	err := s.db.GetContext(ctx, &rec, `SELECT `+barcodeColumns+` FROM barcode_records
		WHERE is_used = FALSE ORDER BY created_at, id LIMIT 1`)
	if err != nil {
		if isNoRows(err) {
			return nil, storage.ErrPoolExhausted
		}
		return nil, fmt.Errorf("peek barcode: %w", err)
	}
	return &rec, nil
}

// BarcodeStats 统计条码池
func (s *Store) BarcodeStats(ctx context.Context) (domain.PoolStats, error) {
	var row struct {
		Total int `db:"total"`
		Used  int `db:"used"`
	}
	err := s.db.GetContext(ctx, &row, `SELECT COUNT(*) AS total,
		COALESCE(SUM(CASE WHEN is_used = TRUE THEN 1 ELSE 0 END), 0) AS used
		FROM barcode_records`)
	if err != nil {
		return domain.PoolStats{}, fmt.Errorf("barcode stats: %w", err)
	}
	return domain.NewPoolStats(row.Total, row.Used), nil
}

// ListBarcodes 按创建时间倒序返回全部条码
func (s *Store) ListBarcodes(ctx context.Context) ([]domain.BarcodeRecord, error) {
	records := []domain.BarcodeRecord{}
	if err := s.db.SelectContext(ctx, &records,
		`SELECT `+barcodeColumns+` FROM barcode_records ORDER BY created_at DESC, id DESC`); err != nil {
		return nil, fmt.Errorf("list barcodes: %w", err)
	}
	return records, nil
}

// DeleteAllBarcodes 清空条码池
func (s *Store) DeleteAllBarcodes(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM barcode_records`)
	if err != nil {
		return 0, fmt.Errorf("delete barcodes: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete barcodes: %w", err)
	}
	return int(n), nil
}
