package sql

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labelgate/backend/internal/domain"
	"labelgate/backend/internal/storage"
	"labelgate/backend/internal/storage/storagetest"
)

// newSQLiteStore 每个测试使用独立的内存数据库（单连接）
func newSQLiteStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(DialectSQLite, ":memory:", Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return newSQLiteStore(t)
	})
}

func TestNewStore_UnsupportedDialect(t *testing.T) {
	_, err := NewStore("oracle", "dsn", Options{})
	assert.ErrorContains(t, err, "unsupported database dialect")
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newSQLiteStore(t)
	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, s.Migrate(context.Background()))
	assert.Equal(t, DialectSQLite, s.Dialect())
}

func TestSQLiteStore_LabelDataRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	key := storagetest.NewKey("JSON-00000001", 1)
	require.NoError(t, s.CreateAccessKey(ctx, key))

	payload := domain.LabelData{
		"toAddress": map[string]any{"fullName": "Ada", "street": "1 Main St", "cityStatePostcode": "Sydney NSW 2000"},
		"weight":    "5kg",
	}
	require.NoError(t, s.AppendUsageLog(ctx, &domain.UsageLogEntry{KeyID: key.ID, LabelData: payload}))

	logs, err := s.ListUsageLogs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	to, ok := logs[0].LabelData["toAddress"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Ada", to["fullName"])
	assert.Nil(t, logs[0].IPAddress)
}

func TestIsUniqueViolation(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	_, err := s.DB().ExecContext(ctx, `INSERT INTO revoked_tokens (jti, expires_at) VALUES ('a', CURRENT_TIMESTAMP)`)
	require.NoError(t, err)
	_, err = s.DB().ExecContext(ctx, `INSERT INTO revoked_tokens (jti, expires_at) VALUES ('a', CURRENT_TIMESTAMP)`)
	require.Error(t, err)
	assert.True(t, isUniqueViolation(err))
	assert.False(t, isUniqueViolation(fmt.Errorf("boom")))
}
