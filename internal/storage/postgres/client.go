package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"labelgate/backend/internal/config"
)

// Client 封装 PostgreSQL 原生连接池，用于就绪探针和连接池指标
type Client struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

// NewClient 创建 PostgreSQL 客户端
func NewClient(ctx context.Context, cfg *config.DatabaseConfig, log *zap.Logger) (*Client, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}
	if log == nil {
		log = zap.NewNop()
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database DSN: %w", err)
	}
	// 只承担探测与统计，保持很小的连接数
	poolConfig.MaxConns = 2
	poolConfig.MinConns = 0
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info("connected to PostgreSQL", zap.String("host", poolConfig.ConnConfig.Host))
	return &Client{pool: pool, log: log}, nil
}

// Close 关闭连接池
func (c *Client) Close() {
	c.pool.Close()
	c.log.Info("PostgreSQL readiness pool closed")
}

// Ping 测试数据库连接
func (c *Client) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

// PoolSnapshot 连接池与条码池的数据库侧快照
type PoolSnapshot struct {
	TotalConns       int32
	IdleConns        int32
	AvailableBarcode int64
}

// Snapshot 读取连接池统计，并直接从数据库统计可用条码数
func (c *Client) Snapshot(ctx context.Context) (PoolSnapshot, error) {
	stat := c.pool.Stat()
	snap := PoolSnapshot{
		TotalConns: stat.TotalConns(),
		IdleConns:  stat.IdleConns(),
	}
	err := c.pool.QueryRow(ctx, `SELECT COUNT(*) FROM barcode_records WHERE is_used = FALSE`).Scan(&snap.AvailableBarcode)
	if err != nil {
		return snap, fmt.Errorf("count available barcodes: %w", err)
	}
	return snap, nil
}
