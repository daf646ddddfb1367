package sql

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"labelgate/backend/internal/domain"
	"labelgate/backend/internal/storage"
)

const keyColumns = `id, code, description, max_uses, current_uses, is_active, created_at`

// ========== Access Key Repository ==========

// CreateAccessKey 插入新密钥
func (s *Store) CreateAccessKey(ctx context.Context, key *domain.AccessKey) error {
	if key.ID == "" {
		key.ID = uuid.Must(uuid.NewV7()).String()
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = s.now()
	}
	const query = `INSERT INTO access_keys (` + keyColumns + `)
		VALUES (:id, :code, :description, :max_uses, :current_uses, :is_active, :created_at)`

	if _, err := s.db.NamedExecContext(ctx, query, key); err != nil {
		if isUniqueViolation(err) {
			return storage.ErrDuplicateCode
		}
		return fmt.Errorf("insert access key: %w", err)
	}
	return nil
}

// GetAccessKey 根据 ID 获取密钥
func (s *Store) GetAccessKey(ctx context.Context, id string) (*domain.AccessKey, error) {
	return getKey(ctx, s.db, s.q(`SELECT `+keyColumns+` FROM access_keys WHERE id = ?`), id)
}

// GetAccessKeyByCode 根据代码获取密钥
func (s *Store) GetAccessKeyByCode(ctx context.Context, code string) (*domain.AccessKey, error) {
	return getKey(ctx, s.db, s.q(`SELECT `+keyColumns+` FROM access_keys WHERE code = ?`), code)
}

func getKey(ctx context.Context, q sqlx.QueryerContext, query string, arg string) (*domain.AccessKey, error) {
	var key domain.AccessKey
	if err := sqlx.GetContext(ctx, q, &key, query, arg); err != nil {
		if isNoRows(err) {
			return nil, storage.ErrKeyNotFound
		}
		return nil, fmt.Errorf("get access key: %w", err)
	}
	return &key, nil
}

// ListAccessKeys 按创建时间倒序返回全部密钥
func (s *Store) ListAccessKeys(ctx context.Context) ([]domain.AccessKey, error) {
	keys := []domain.AccessKey{}
	if err := s.db.SelectContext(ctx, &keys, `SELECT `+keyColumns+` FROM access_keys ORDER BY created_at DESC, id DESC`); err != nil {
		return nil, fmt.Errorf("list access keys: %w", err)
	}
	return keys, nil
}

// incrementKeySQL 先写 is_active：MySQL 按从左到右求值 SET，
// 后面的赋值会看到前面已更新的列；PostgreSQL 与 SQLite 始终使用旧值。
const incrementKeySQL = `UPDATE access_keys
	SET is_active = CASE WHEN current_uses + 1 >= max_uses THEN FALSE ELSE is_active END,
		current_uses = current_uses + 1
	WHERE id = ? AND is_active = TRUE AND current_uses < max_uses`

// IncrementKeyUsage 条件自增，未命中返回 storage.ErrKeyUnavailable
func (s *Store) IncrementKeyUsage(ctx context.Context, id string) (*domain.AccessKey, error) {
	var updated *domain.AccessKey
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(incrementKeySQL), id)
		if err != nil {
			return fmt.Errorf("increment key usage: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("increment key usage: %w", err)
		}
		if n == 0 {
			return storage.ErrKeyUnavailable
		}
		// 行锁持有到提交，读到的是本次更新后的值
		updated, err = getKey(ctx, tx, s.q(`SELECT `+keyColumns+` FROM access_keys WHERE id = ?`), id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// UpdateAccessKey 仅当新上限不低于当前使用次数时更新
func (s *Store) UpdateAccessKey(ctx context.Context, id, description string, maxUses int) (*domain.AccessKey, error) {
	res, err := s.db.ExecContext(ctx,
		s.q(`UPDATE access_keys SET description = ?, max_uses = ? WHERE id = ? AND current_uses <= ?`),
		description, maxUses, id, maxUses)
	if err != nil {
		return nil, fmt.Errorf("update access key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update access key: %w", err)
	}

	key, err := s.GetAccessKey(ctx, id)
	if err != nil {
		return nil, err
	}
	// MySQL 对未变化的行也返回 0；current_uses 只增不减，据此区分
	if n == 0 && key.CurrentUses > maxUses {
		return nil, storage.ErrMaxUsesBelowUsage
	}
	return key, nil
}

// SetAccessKeyActive 设置激活状态
func (s *Store) SetAccessKeyActive(ctx context.Context, id string, active bool) (*domain.AccessKey, error) {
	if _, err := s.db.ExecContext(ctx, s.q(`UPDATE access_keys SET is_active = ? WHERE id = ?`), active, id); err != nil {
		return nil, fmt.Errorf("set access key active: %w", err)
	}
	return s.GetAccessKey(ctx, id)
}

// DeleteAccessKey 在一个事务中删除使用记录和密钥
func (s *Store) DeleteAccessKey(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM usage_logs WHERE key_id = ?`), id); err != nil {
			return fmt.Errorf("delete usage logs: %w", err)
		}
		res, err := tx.ExecContext(ctx, s.q(`DELETE FROM access_keys WHERE id = ?`), id)
		if err != nil {
			return fmt.Errorf("delete access key: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return storage.ErrKeyNotFound
		}
		return nil
	})
}
