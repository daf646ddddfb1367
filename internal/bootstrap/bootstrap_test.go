package bootstrap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labelgate/backend/internal/config"
	"labelgate/backend/internal/service"
	"labelgate/backend/internal/storage/memory"
	sqlstore "labelgate/backend/internal/storage/sql"
)

func testConfig(dbType, dsn string) *config.Config {
	return &config.Config{
		Database: config.DatabaseConfig{Type: dbType, Driver: "sqlx", DSN: dsn},
		Keys:     config.KeysConfig{SuffixLength: 8},
	}
}

func TestOpenStores(t *testing.T) {
	ctx := context.Background()

	t.Run("内存存储", func(t *testing.T) {
		stores, err := OpenStores(ctx, testConfig("memory", ""), nil)
		require.NoError(t, err)
		defer stores.Close()

		assert.IsType(t, &memory.Store{}, stores.Store)
		assert.Nil(t, stores.Cache)
		assert.Nil(t, stores.PGClient)
		assert.Zero(t, stores.OpenConnections())
		assert.NoError(t, stores.Migrate(ctx))
	})

	t.Run("SQLite存储", func(t *testing.T) {
		stores, err := OpenStores(ctx, testConfig("sqlite", ":memory:"), nil)
		require.NoError(t, err)
		defer stores.Close()

		assert.IsType(t, &sqlstore.Store{}, stores.Store)
		assert.NoError(t, stores.Migrate(ctx))
		assert.NoError(t, stores.Store.Health(ctx))
		assert.Equal(t, 1, stores.OpenConnections())
	})

	t.Run("不支持的类型", func(t *testing.T) {
		_, err := OpenStores(ctx, testConfig("oracle", "x"), nil)
		assert.ErrorContains(t, err, "unsupported database type")
	})
}

func TestNewServices(t *testing.T) {
	ctx := context.Background()
	svc := NewServices(testConfig("memory", ""), memory.NewStore(), nil)
	defer svc.StatusCache.Close()

	_, err := svc.Pool.Ingest(ctx, "(01)09501101530003(91)ABC123\n")
	require.NoError(t, err)

	seeded, err := svc.Keys.SeedDemoKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(service.DemoKeys), seeded)

	res, err := svc.Labels.GenerateLabel(ctx, service.GenerateLabelInput{Code: "DEMO-2024-001"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Key.CurrentUses)

	rec, err := svc.Labels.AssignBarcode(ctx, "DEMO-2024-001")
	require.NoError(t, err)
	assert.Equal(t, "ABC123", rec.LinearValue)
}
