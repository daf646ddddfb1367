package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"labelgate/backend/internal/bootstrap"
	"labelgate/backend/internal/config"
	"labelgate/backend/internal/storage/memory"
)

// useMemoryStore 让命令在同一个内存存储上运行
func useMemoryStore(t *testing.T) {
	t.Helper()
	store := memory.NewStore()
	cfg := &config.Config{Keys: config.KeysConfig{SuffixLength: 8}}

	orig := openServices
	openServices = func(ctx context.Context) (*bootstrap.Services, func(), error) {
		svc := bootstrap.NewServices(cfg, store, nil)
		return svc, func() { svc.StatusCache.Close() }, nil
	}
	t.Cleanup(func() { openServices = orig })
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestKeysCommands(t *testing.T) {
	useMemoryStore(t)

	t.Run("创建并列出密钥", func(t *testing.T) {
		out, err := run(t, "", "keys", "create", "--prefix", "SHOP", "--description", "Spring batch", "--max-uses", "3")
		require.NoError(t, err)
		assert.Contains(t, out, "Code:     SHOP-")

		out, err = run(t, "", "keys", "list")
		require.NoError(t, err)
		assert.Contains(t, out, "0/3")
		assert.Contains(t, out, "Spring batch")
	})

	t.Run("缺少必填参数", func(t *testing.T) {
		_, err := run(t, "", "keys", "create", "--prefix", "SHOP")
		assert.Error(t, err)
	})

	t.Run("停用密钥", func(t *testing.T) {
		out, err := run(t, "", "keys", "list", "--json")
		require.NoError(t, err)
		code := strings.SplitN(strings.SplitN(out, `"code": "`, 2)[1], `"`, 2)[0]

		out, err = run(t, "", "keys", "toggle", code, "--active=false")
		require.NoError(t, err)
		assert.Contains(t, out, "deactivated")
	})

	t.Run("未知密钥", func(t *testing.T) {
		_, err := run(t, "", "keys", "toggle", "NOPE-0000")
		assert.Error(t, err)
	})
}

func TestBarcodesCommands(t *testing.T) {
	useMemoryStore(t)

	t.Run("从标准输入导入", func(t *testing.T) {
		input := "(01)09501101530003(91)AAA111\nnot a barcode\n(91)BBB222\n(01)09501101530003(91)AAA111\n"
		out, err := run(t, input, "barcodes", "import")
		require.NoError(t, err)
		assert.Contains(t, out, "Inserted:   2")
		assert.Contains(t, out, "Duplicates: 1")
		assert.Contains(t, out, "Rejected:   1")
		assert.Contains(t, out, "line 2:")
	})

	t.Run("统计", func(t *testing.T) {
		out, err := run(t, "", "barcodes", "stats")
		require.NoError(t, err)
		assert.Contains(t, out, "Total:     2")
		assert.Contains(t, out, "Available: 2")
	})

	t.Run("清空需要确认", func(t *testing.T) {
		_, err := run(t, "", "barcodes", "reset")
		assert.ErrorContains(t, err, "--yes")

		out, err := run(t, "", "barcodes", "reset", "--yes")
		require.NoError(t, err)
		assert.Contains(t, out, "Deleted 2 barcodes")
	})

	t.Run("全部无效时报错", func(t *testing.T) {
		out, err := run(t, "nothing here\n", "barcodes", "import")
		assert.Error(t, err)
		assert.Contains(t, out, "Inserted:   0")
	})
}

func TestHashPassword(t *testing.T) {
	t.Run("参数传入", func(t *testing.T) {
		out, err := run(t, "", "admin", "hash-password", "correct-horse")
		require.NoError(t, err)
		assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(strings.TrimSpace(out)), []byte("correct-horse")))
	})

	t.Run("标准输入传入", func(t *testing.T) {
		out, err := run(t, "correct-horse\n", "admin", "hash-password")
		require.NoError(t, err)
		assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(strings.TrimSpace(out)), []byte("correct-horse")))
	})

	t.Run("密码过短", func(t *testing.T) {
		_, err := run(t, "", "admin", "hash-password", "abc")
		assert.Error(t, err)
	})
}
