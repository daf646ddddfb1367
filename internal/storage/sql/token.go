package sql

import (
	"context"
	"fmt"
	"time"
)

// ========== JWT 黑名单 ==========

// AddToBlacklist 记录被吊销的令牌，顺带清理已过期的记录
func (s *Store) AddToBlacklist(ctx context.Context, jti string, ttl time.Duration) error {
	now := s.now()
	if _, err := s.db.ExecContext(ctx, s.q(`DELETE FROM revoked_tokens WHERE expires_at < ?`), now); err != nil {
		return fmt.Errorf("prune revoked tokens: %w", err)
	}

	insert := `INSERT INTO revoked_tokens (jti, expires_at) VALUES (?, ?) ON CONFLICT (jti) DO NOTHING`
	if s.dialect == DialectMySQL {
		insert = `INSERT IGNORE INTO revoked_tokens (jti, expires_at) VALUES (?, ?)`
	}
	if _, err := s.db.ExecContext(ctx, s.q(insert), jti, now.Add(ttl)); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// IsBlacklisted 检查令牌是否已吊销
func (s *Store) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		s.q(`SELECT COUNT(*) FROM revoked_tokens WHERE jti = ? AND expires_at >= ?`), jti, s.now())
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return n > 0, nil
}
