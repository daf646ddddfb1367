package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"labelgate/backend/internal/domain"
	"labelgate/backend/internal/storage"
)

// Options 连接池参数
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store 基于 GORM 的存储实现（PostgreSQL 与 MySQL 8.0+）
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

var _ storage.Store = (*Store)(nil)

// revokedToken 已吊销的管理员令牌
type revokedToken struct {
	JTI       string    `gorm:"column:jti;primaryKey;type:varchar(64)"`
	ExpiresAt time.Time `gorm:"not null;index"`
}

func (revokedToken) TableName() string { return "revoked_tokens" }

// NewStore 创建 PostgreSQL 存储实例
func NewStore(dsn string, opts Options) (*Store, error) {
	return NewStoreWithDialector(postgres.Open(dsn), opts)
}

// NewMySQLStore 创建 MySQL 存储实例，DSN 需要 parseTime=true
func NewMySQLStore(dsn string, opts Options) (*Store, error) {
	return NewStoreWithDialector(mysql.Open(dsn), opts)
}

// NewStoreWithDialector 使用指定的 GORM dialector 创建存储实例并迁移表结构
func NewStoreWithDialector(dialector gorm.Dialector, opts Options) (*Store, error) {
	db, err := gorm.Open(dialector, gormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)

	store := wrap(db)
	if err := store.Migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func wrap(db *gorm.DB) *Store {
	return &Store{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Migrate 自动迁移表结构
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(
		&domain.AccessKey{},
		&domain.BarcodeRecord{},
		&domain.UsageLogEntry{},
		&revokedToken{},
	)
}

// DB 返回 GORM 实例
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health 检查数据库连通性
func (s *Store) Health(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// ========== JWT 黑名单 ==========

// AddToBlacklist 记录被吊销的令牌
func (s *Store) AddToBlacklist(ctx context.Context, jti string, ttl time.Duration) error {
	db := s.db.WithContext(ctx)
	now := s.now()
	if err := db.Where("expires_at < ?", now).Delete(&revokedToken{}).Error; err != nil {
		return err
	}
	err := db.Create(&revokedToken{JTI: jti, ExpiresAt: now.Add(ttl)}).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil
	}
	return err
}

// IsBlacklisted 检查令牌是否已吊销
func (s *Store) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&revokedToken{}).
		Where("jti = ? AND expires_at >= ?", jti, s.now()).
		Count(&n).Error
	return n > 0, err
}
