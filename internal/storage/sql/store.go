package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"

	"labelgate/backend/internal/storage"
)

// 支持的数据库方言
const (
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
	DialectSQLite   = "sqlite"
)

// Options 连接池参数
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store 基于 sqlx 的存储实现（PostgreSQL、MySQL 8.0+、SQLite）
//
// 条码分配与密钥计数都使用单条条件更新或 SKIP LOCKED 事务完成，
// 不依赖进程内锁。
type Store struct {
	db      *sqlx.DB
	dialect string
	now     func() time.Time
}

var _ storage.Store = (*Store)(nil)

// NewStore 打开数据库、配置连接池并创建表结构
//
// 参数:
//   - dialect: "postgres"、"mysql" 或 "sqlite"
//   - dsn: 连接字符串，MySQL 需要 parseTime=true
func NewStore(dialect, dsn string, opts Options) (*Store, error) {
	var driverName string
	switch dialect {
	case DialectPostgres:
		driverName = "postgres"
	case DialectMySQL:
		driverName = "mysql"
	case DialectSQLite:
		driverName = "sqlite"
	default:
		return nil, fmt.Errorf("unsupported database dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}

	db, err := sqlx.Connect(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if dialect == DialectSQLite {
		// SQLite 不支持并发写；单连接同时保证 :memory: 数据库不丢失
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	} else {
		db.SetMaxOpenConns(opts.MaxOpenConns)
		db.SetMaxIdleConns(opts.MaxIdleConns)
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	s := &Store{
		db:      db,
		dialect: dialect,
		now:     func() time.Time { return time.Now().UTC() },
	}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

// Migrate 幂等地创建表和索引
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema(s.dialect) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

// DB 返回底层连接，供迁移工具使用
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Dialect 返回数据库方言
func (s *Store) Dialect() string {
	return s.dialect
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	return s.db.Close()
}

// Health 检查数据库连通性
func (s *Store) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// q 将 ? 占位符转换为当前驱动的格式
func (s *Store) q(query string) string {
	return s.db.Rebind(query)
}

// inTx 在事务中执行 fn，fn 返回错误时回滚
func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// isUniqueViolation 判断是否唯一约束冲突
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlitelib.SQLITE_CONSTRAINT_UNIQUE ||
			liteErr.Code() == sqlitelib.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func firstLine(stmt string) string {
	for i, r := range stmt {
		if r == '(' || r == '\n' {
			return stmt[:i]
		}
	}
	return stmt
}
