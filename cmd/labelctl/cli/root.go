// Package cli 实现 labelctl 运维命令：密钥维护、条码导入与管理员口令哈希。
package cli

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"labelgate/backend/internal/bootstrap"
	"labelgate/backend/internal/config"
)

var (
	dbType   string
	dbDSN    string
	dbDriver string
	verbose  bool
)

// Execute 构建命令树并执行
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "labelctl",
		Short: "Operate a labelgate deployment from the command line",
		Long: `labelctl manages access keys and the barcode pool directly against the
configured database. Connection settings come from LABELGATE_* environment
variables or config.yaml, and can be overridden with flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&dbType, "db-type", "", "database type: postgres, mysql or sqlite (default from config)")
	cmd.PersistentFlags().StringVar(&dbDSN, "dsn", "", "database connection string (default from config)")
	cmd.PersistentFlags().StringVar(&dbDriver, "driver", "", "database driver: gorm or sqlx (default from config)")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "print service logs")

	cmd.AddCommand(newKeysCmd())
	cmd.AddCommand(newBarcodesCmd())
	cmd.AddCommand(newAdminCmd())

	return cmd
}

// openServices 打开存储并创建服务，测试中可替换
var openServices = func(ctx context.Context) (*bootstrap.Services, func(), error) {
	cfg, err := config.LoadForTools()
	if err != nil {
		return nil, nil, err
	}
	if dbType != "" {
		cfg.Database.Type = dbType
	}
	if dbDSN != "" {
		cfg.Database.DSN = dbDSN
	}
	if dbDriver != "" {
		cfg.Database.Driver = dbDriver
	}
	// 命令行直接操作数据库，绕过缓存
	cfg.Redis.Enabled = false

	log := zap.NewNop()
	if verbose {
		log, _ = zap.NewDevelopment()
	}
	if cfg.Database.Type == "memory" {
		log.Warn("memory storage selected, changes will not persist")
	}

	stores, err := bootstrap.OpenStores(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}
	svc := bootstrap.NewServices(cfg, stores.Store, log)
	closeFn := func() {
		svc.StatusCache.Close()
		_ = stores.Close()
	}
	return svc, closeFn, nil
}
