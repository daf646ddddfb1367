// Package bootstrap 按配置组装存储层和业务服务，供 server、migrate 与 labelctl 共用。
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"labelgate/backend/internal/cache"
	"labelgate/backend/internal/config"
	"labelgate/backend/internal/service"
	"labelgate/backend/internal/storage"
	"labelgate/backend/internal/storage/hybrid"
	"labelgate/backend/internal/storage/memory"
	"labelgate/backend/internal/storage/postgres"
	redisstore "labelgate/backend/internal/storage/redis"
	sqlstore "labelgate/backend/internal/storage/sql"
)

// Stores 打开的存储资源
type Stores struct {
	Store storage.Store
	// Cache 未启用 Redis 时为 nil
	Cache *redisstore.Cache
	// PGClient 仅 PostgreSQL 部署时存在，用于就绪检查和连接池统计
	PGClient *postgres.Client

	openConns func() int
}

// OpenConnections 数据库当前打开的连接数，内存存储返回 0
func (s *Stores) OpenConnections() int {
	if s.openConns == nil {
		return 0
	}
	return s.openConns()
}

// Migrate 幂等地创建表结构；内存存储无需迁移
func (s *Stores) Migrate(ctx context.Context) error {
	switch db := unwrap(s.Store).(type) {
	case *sqlstore.Store:
		return db.Migrate(ctx)
	case *postgres.Store:
		return db.Migrate()
	default:
		return nil
	}
}

// Close 释放全部资源
func (s *Stores) Close() error {
	if s.PGClient != nil {
		s.PGClient.Close()
	}
	// hybrid.Store 会一并关闭 Redis
	return s.Store.Close()
}

// OpenStores 根据数据库配置选择存储实现，启用 Redis 时包装为混合存储
func OpenStores(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Stores, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db := cfg.Database

	stores := &Stores{}
	var err error

	switch strings.ToLower(db.Type) {
	case "", "memory":
		stores.Store = memory.NewStore()
		log.Info("using memory storage (development mode)")

	case sqlstore.DialectSQLite:
		var s *sqlstore.Store
		if s, err = sqlstore.NewStore(sqlstore.DialectSQLite, db.DSN, sqlOptions(db)); err != nil {
			return nil, err
		}
		stores.Store = s
		stores.openConns = func() int { return s.DB().Stats().OpenConnections }

	case sqlstore.DialectPostgres, sqlstore.DialectMySQL:
		if strings.EqualFold(db.Driver, "sqlx") {
			var s *sqlstore.Store
			if s, err = sqlstore.NewStore(db.Type, db.DSN, sqlOptions(db)); err != nil {
				return nil, err
			}
			stores.Store = s
			stores.openConns = func() int { return s.DB().Stats().OpenConnections }
		} else {
			var s *postgres.Store
			if db.Type == sqlstore.DialectMySQL {
				s, err = postgres.NewMySQLStore(db.DSN, gormOptions(db))
			} else {
				s, err = postgres.NewStore(db.DSN, gormOptions(db))
			}
			if err != nil {
				return nil, err
			}
			stores.Store = s
			stores.openConns = func() int {
				sqlDB, err := s.DB().DB()
				if err != nil {
					return 0
				}
				return sqlDB.Stats().OpenConnections
			}
		}

		if db.Type == sqlstore.DialectPostgres {
			pgClient, err := postgres.NewClient(ctx, &cfg.Database, log)
			if err != nil {
				log.Warn("PostgreSQL readiness pool unavailable", zap.Error(err))
			} else {
				stores.PGClient = pgClient
			}
		}

	default:
		return nil, fmt.Errorf("unsupported database type: %s", db.Type)
	}

	log.Info("database storage initialized",
		zap.String("database_type", db.Type),
		zap.String("driver", db.Driver))

	if cfg.Redis.Enabled {
		client, err := redisstore.NewClient(ctx, &cfg.Redis, log)
		if err != nil {
			return nil, errors.Join(err, stores.Close())
		}
		stores.Cache = redisstore.NewCache(client)
		stores.Store = hybrid.NewStore(stores.Store, stores.Cache, cfg.Redis.KeyTTL, log)
	}

	return stores, nil
}

func unwrap(s storage.Store) storage.Store {
	if h, ok := s.(*hybrid.Store); ok {
		return h.Store
	}
	return s
}

func sqlOptions(db config.DatabaseConfig) sqlstore.Options {
	return sqlstore.Options{
		MaxOpenConns:    db.MaxOpenConns,
		MaxIdleConns:    db.MaxIdleConns,
		ConnMaxLifetime: db.ConnMaxLifetime,
	}
}

func gormOptions(db config.DatabaseConfig) postgres.Options {
	return postgres.Options{
		MaxOpenConns:    db.MaxOpenConns,
		MaxIdleConns:    db.MaxIdleConns,
		ConnMaxLifetime: db.ConnMaxLifetime,
	}
}

// Services 业务服务集合
type Services struct {
	Keys        *service.KeyService
	Pool        *service.BarcodePoolService
	Activity    *service.ActivityRecorder
	Labels      *service.LabelService
	StatusCache *cache.LocalCache
}

// NewServices 创建业务服务
func NewServices(cfg *config.Config, store storage.Store, log *zap.Logger) *Services {
	if log == nil {
		log = zap.NewNop()
	}
	statusCache := cache.NewLocalCache(16, 0)
	keys := service.NewKeyService(store, cfg.Keys.SuffixLength, log.Named("keys"))
	pool := service.NewBarcodePoolService(store, statusCache, log.Named("barcodes"))
	activity := service.NewActivityRecorder(store, log.Named("activity"))

	return &Services{
		Keys:        keys,
		Pool:        pool,
		Activity:    activity,
		Labels:      service.NewLabelService(keys, pool, activity, log.Named("labels")),
		StatusCache: statusCache,
	}
}
