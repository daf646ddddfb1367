// Package storagetest 提供所有 storage.Store 实现共用的行为测试。
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"labelgate/backend/internal/domain"
	"labelgate/backend/internal/storage"
)

// Factory 为每个子测试创建一个空存储
type Factory func(t *testing.T) storage.Store

// Run 对存储实现执行完整的行为测试
func Run(t *testing.T, newStore Factory) {
	t.Run("AccessKeys", func(t *testing.T) { testAccessKeys(t, newStore(t)) })
	t.Run("KeyUsageCap", func(t *testing.T) { testKeyUsageCap(t, newStore(t)) })
	t.Run("KeyUsageConcurrent", func(t *testing.T) { testKeyUsageConcurrent(t, newStore(t)) })
	t.Run("UpdateGuard", func(t *testing.T) { testUpdateGuard(t, newStore(t)) })
	t.Run("DeleteCascades", func(t *testing.T) { testDeleteCascades(t, newStore(t)) })
	t.Run("IngestDuplicates", func(t *testing.T) { testIngestDuplicates(t, newStore(t)) })
	t.Run("AllocateFIFO", func(t *testing.T) { testAllocateFIFO(t, newStore(t)) })
	t.Run("AllocateConcurrent", func(t *testing.T) { testAllocateConcurrent(t, newStore(t)) })
	t.Run("PoolExhausted", func(t *testing.T) { testPoolExhausted(t, newStore(t)) })
	t.Run("UsageLogs", func(t *testing.T) { testUsageLogs(t, newStore(t)) })
	t.Run("AllocateForUsage", func(t *testing.T) { testAllocateForUsage(t, newStore(t)) })
	t.Run("AllocateForUsageConcurrent", func(t *testing.T) { testAllocateForUsageConcurrent(t, newStore(t)) })
	t.Run("IngestLongValue", func(t *testing.T) { testIngestLongValue(t, newStore(t)) })
	t.Run("Blacklist", func(t *testing.T) { testBlacklist(t, newStore(t)) })
}

// NewKey 构造一个未入库的密钥
func NewKey(code string, maxUses int) *domain.AccessKey {
	return &domain.AccessKey{
		ID:          uuid.Must(uuid.NewV7()).String(),
		Code:        code,
		Description: "test key " + code,
		MaxUses:     maxUses,
		IsActive:    true,
		CreatedAt:   time.Now().UTC(),
	}
}

func testAccessKeys(t *testing.T, s storage.Store) {
	ctx := context.Background()

	key := NewKey("DEMO-AAAA1111", 3)
	require.NoError(t, s.CreateAccessKey(ctx, key))

	dup := NewKey("DEMO-AAAA1111", 5)
	assert.ErrorIs(t, s.CreateAccessKey(ctx, dup), storage.ErrDuplicateCode)

	got, err := s.GetAccessKeyByCode(ctx, "DEMO-AAAA1111")
	require.NoError(t, err)
	assert.Equal(t, key.ID, got.ID)
	assert.Equal(t, 3, got.MaxUses)
	assert.Equal(t, 0, got.CurrentUses)
	assert.True(t, got.IsActive)

	_, err = s.GetAccessKey(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrKeyNotFound)
	_, err = s.GetAccessKeyByCode(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrKeyNotFound)

	second := NewKey("DEMO-BBBB2222", 1)
	second.CreatedAt = key.CreatedAt.Add(time.Second)
	require.NoError(t, s.CreateAccessKey(ctx, second))

	keys, err := s.ListAccessKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, second.ID, keys[0].ID, "按创建时间倒序")

	off, err := s.SetAccessKeyActive(ctx, key.ID, false)
	require.NoError(t, err)
	assert.False(t, off.IsActive)

	_, err = s.SetAccessKeyActive(ctx, "missing", true)
	assert.ErrorIs(t, err, storage.ErrKeyNotFound)
}

func testKeyUsageCap(t *testing.T, s storage.Store) {
	ctx := context.Background()
	key := NewKey("CAP-00000001", 3)
	require.NoError(t, s.CreateAccessKey(ctx, key))

	for i := 1; i <= 3; i++ {
		updated, err := s.IncrementKeyUsage(ctx, key.ID)
		require.NoError(t, err)
		assert.Equal(t, i, updated.CurrentUses)
		assert.Equal(t, i < 3, updated.IsActive)
	}

	_, err := s.IncrementKeyUsage(ctx, key.ID)
	assert.ErrorIs(t, err, storage.ErrKeyUnavailable)

	got, err := s.GetAccessKey(ctx, key.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.CurrentUses)
	assert.False(t, got.IsActive)

	inactive := NewKey("CAP-00000002", 5)
	inactive.IsActive = false
	require.NoError(t, s.CreateAccessKey(ctx, inactive))
	_, err = s.IncrementKeyUsage(ctx, inactive.ID)
	assert.ErrorIs(t, err, storage.ErrKeyUnavailable)

	_, err = s.IncrementKeyUsage(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrKeyUnavailable)
}

func testKeyUsageConcurrent(t *testing.T, s storage.Store) {
	ctx := context.Background()
	key := NewKey("RACE-00000001", 5)
	require.NoError(t, s.CreateAccessKey(ctx, key))

	const callers = 20
	var (
		mu        sync.Mutex
		successes int
	)
	var g errgroup.Group
	for i := 0; i < callers; i++ {
		g.Go(func() error {
			_, err := s.IncrementKeyUsage(ctx, key.ID)
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return nil
			}
			if errors.Is(err, storage.ErrKeyUnavailable) {
				return nil
			}
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 5, successes)
	got, err := s.GetAccessKey(ctx, key.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.CurrentUses)
	assert.False(t, got.IsActive)
}

func testUpdateGuard(t *testing.T, s storage.Store) {
	ctx := context.Background()
	key := NewKey("UPD-00000001", 5)
	require.NoError(t, s.CreateAccessKey(ctx, key))
	for i := 0; i < 3; i++ {
		_, err := s.IncrementKeyUsage(ctx, key.ID)
		require.NoError(t, err)
	}

	_, err := s.UpdateAccessKey(ctx, key.ID, "shrunk", 2)
	assert.ErrorIs(t, err, storage.ErrMaxUsesBelowUsage)

	got, err := s.GetAccessKey(ctx, key.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.MaxUses)
	assert.Equal(t, key.Description, got.Description)

	updated, err := s.UpdateAccessKey(ctx, key.ID, "exactly used", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, updated.MaxUses)
	assert.Equal(t, "exactly used", updated.Description)

	same, err := s.UpdateAccessKey(ctx, key.ID, "exactly used", 3)
	require.NoError(t, err, "相同的值也应视为成功")
	assert.Equal(t, 3, same.MaxUses)

	_, err = s.UpdateAccessKey(ctx, "missing", "x", 10)
	assert.ErrorIs(t, err, storage.ErrKeyNotFound)
}

func testDeleteCascades(t *testing.T, s storage.Store) {
	ctx := context.Background()
	key := NewKey("DEL-00000001", 5)
	other := NewKey("DEL-00000002", 5)
	require.NoError(t, s.CreateAccessKey(ctx, key))
	require.NoError(t, s.CreateAccessKey(ctx, other))

	require.NoError(t, s.AppendUsageLog(ctx, &domain.UsageLogEntry{KeyID: key.ID, LabelData: domain.LabelData{"reference": "A"}}))
	require.NoError(t, s.AppendUsageLog(ctx, &domain.UsageLogEntry{KeyID: other.ID, LabelData: domain.LabelData{"reference": "B"}}))

	require.NoError(t, s.DeleteAccessKey(ctx, key.ID))
	assert.ErrorIs(t, s.DeleteAccessKey(ctx, key.ID), storage.ErrKeyNotFound)

	logs, err := s.ListUsageLogs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, other.ID, logs[0].KeyID)
}

func testIngestDuplicates(t *testing.T, s storage.Store) {
	ctx := context.Background()

	res, err := s.InsertBarcodes(ctx, []domain.BarcodeCandidate{
		{GS1Value: "(91)111", LinearValue: "111"},
		{GS1Value: "(91)111", LinearValue: "111"},
		{GS1Value: "(91)222", LinearValue: "222"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.IngestResult{Inserted: 2, Duplicates: 1}, res)

	res, err = s.InsertBarcodes(ctx, []domain.BarcodeCandidate{
		{GS1Value: "(91)222", LinearValue: "222"},
		{GS1Value: "(91)333", LinearValue: "333"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.IngestResult{Inserted: 1, Duplicates: 1}, res)

	stats, err := s.BarcodeStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.PoolStats{Total: 3, Used: 0, Available: 3}, stats)
}

func testIngestLongValue(t *testing.T, s storage.Store) {
	ctx := context.Background()

	long := strings.Repeat("7", 600)
	res, err := s.InsertBarcodes(ctx, []domain.BarcodeCandidate{
		{GS1Value: "(91)" + long, LinearValue: long},
		{GS1Value: "(91)short", LinearValue: "short"},
		{GS1Value: "(91)" + long, LinearValue: long},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.IngestResult{Inserted: 2, Duplicates: 1}, res)

	rec, err := s.AllocateBarcode(ctx)
	require.NoError(t, err)
	assert.Equal(t, "(91)"+long, rec.GS1Value)
	assert.Len(t, rec.LinearValue, 600)
}

func testAllocateFIFO(t *testing.T, s storage.Store) {
	ctx := context.Background()

	for _, v := range []string{"a", "b", "c"} {
		_, err := s.InsertBarcodes(ctx, []domain.BarcodeCandidate{{GS1Value: "(91)" + v, LinearValue: v}})
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	next, err := s.PeekNextBarcode(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", next.LinearValue)
	assert.False(t, next.IsUsed)

	for _, want := range []string{"a", "b", "c"} {
		rec, err := s.AllocateBarcode(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, rec.LinearValue)
		assert.True(t, rec.IsUsed)
		require.NotNil(t, rec.UsedAt)
	}

	list, err := s.ListBarcodes(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "c", list[0].LinearValue, "列表按创建时间倒序")
}

func testAllocateConcurrent(t *testing.T, s storage.Store) {
	ctx := context.Background()

	const poolSize, callers = 15, 40
	candidates := make([]domain.BarcodeCandidate, 0, poolSize)
	for i := 0; i < poolSize; i++ {
		v := fmt.Sprintf("%06d", i)
		candidates = append(candidates, domain.BarcodeCandidate{GS1Value: "(91)" + v, LinearValue: v})
	}
	_, err := s.InsertBarcodes(ctx, candidates)
	require.NoError(t, err)

	var (
		mu   sync.Mutex
		seen = map[string]int{}
	)
	var g errgroup.Group
	for i := 0; i < callers; i++ {
		g.Go(func() error {
			rec, err := s.AllocateBarcode(ctx)
			if errors.Is(err, storage.ErrPoolExhausted) {
				return nil
			}
			if err != nil {
				return err
			}
			mu.Lock()
			seen[rec.ID]++
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Len(t, seen, poolSize, "成功次数等于 min(N, M)")
	for id, n := range seen {
		assert.Equal(t, 1, n, "条码 %s 被重复分配", id)
	}

	stats, err := s.BarcodeStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.PoolStats{Total: poolSize, Used: poolSize, Available: 0}, stats)
}

func testPoolExhausted(t *testing.T, s storage.Store) {
	ctx := context.Background()

	_, err := s.AllocateBarcode(ctx)
	assert.ErrorIs(t, err, storage.ErrPoolExhausted)

	_, err = s.InsertBarcodes(ctx, []domain.BarcodeCandidate{{GS1Value: "(91)000111222", LinearValue: "000111222"}})
	require.NoError(t, err)
	_, err = s.AllocateBarcode(ctx)
	require.NoError(t, err)

	_, err = s.AllocateBarcode(ctx)
	assert.ErrorIs(t, err, storage.ErrPoolExhausted)
	_, err = s.PeekNextBarcode(ctx)
	assert.ErrorIs(t, err, storage.ErrPoolExhausted)

	stats, err := s.BarcodeStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Available)
	assert.Equal(t, 1, stats.Used)

	n, err := s.DeleteAllBarcodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stats, err = s.BarcodeStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.PoolStats{}, stats)
}

func testUsageLogs(t *testing.T, s storage.Store) {
	ctx := context.Background()
	key := NewKey("LOG-00000001", 10)
	require.NoError(t, s.CreateAccessKey(ctx, key))

	ip := "203.0.113.7"
	base := time.Now().UTC().Add(-time.Minute)
	for i := 0; i < 3; i++ {
		entry := &domain.UsageLogEntry{
			KeyID:     key.ID,
			UsedAt:    base.Add(time.Duration(i) * time.Second),
			IPAddress: &ip,
			LabelData: domain.LabelData{"reference": fmt.Sprintf("ORD-%d", i)},
		}
		require.NoError(t, s.AppendUsageLog(ctx, entry))
		assert.NotEmpty(t, entry.ID)
	}

	logs, err := s.ListUsageLogs(ctx, 2)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "ORD-2", logs[0].LabelData["reference"], "按 used_at 倒序")
	assert.Equal(t, key.Code, logs[0].KeyCode)
	require.NotNil(t, logs[0].IPAddress)
	assert.Equal(t, ip, *logs[0].IPAddress)

}

func testAllocateForUsage(t *testing.T, s storage.Store) {
	ctx := context.Background()
	key := NewKey("CLAIM-00000001", 10)
	require.NoError(t, s.CreateAccessKey(ctx, key))

	_, _, err := s.AllocateBarcodeForUsage(ctx, key.ID)
	assert.ErrorIs(t, err, storage.ErrUsageLogNotFound, "没有使用记录")

	base := time.Now().UTC().Add(-time.Minute)
	for i := 0; i < 2; i++ {
		require.NoError(t, s.AppendUsageLog(ctx, &domain.UsageLogEntry{
			KeyID:     key.ID,
			UsedAt:    base.Add(time.Duration(i) * time.Second),
			LabelData: domain.LabelData{"reference": fmt.Sprintf("ORD-%d", i)},
		}))
	}

	_, _, err = s.AllocateBarcodeForUsage(ctx, key.ID)
	assert.ErrorIs(t, err, storage.ErrPoolExhausted)
	logs, err := s.ListUsageLogs(ctx, 0)
	require.NoError(t, err)
	for _, l := range logs {
		assert.False(t, l.LabelData.HasBarcode(), "池为空时不认领记录")
	}

	_, err = s.InsertBarcodes(ctx, []domain.BarcodeCandidate{
		{GS1Value: "(91)C1", LinearValue: "C1"},
		{GS1Value: "(91)C2", LinearValue: "C2"},
		{GS1Value: "(91)C3", LinearValue: "C3"},
	})
	require.NoError(t, err)

	rec, entry, err := s.AllocateBarcodeForUsage(ctx, key.ID)
	require.NoError(t, err)
	assert.Equal(t, "C1", rec.LinearValue)
	assert.True(t, rec.IsUsed)
	assert.Equal(t, "ORD-1", entry.LabelData["reference"], "先认领最近的记录")
	assert.True(t, entry.LabelData.HasBarcode())

	_, entry, err = s.AllocateBarcodeForUsage(ctx, key.ID)
	require.NoError(t, err)
	assert.Equal(t, "ORD-0", entry.LabelData["reference"], "已关联的记录被跳过")

	_, _, err = s.AllocateBarcodeForUsage(ctx, key.ID)
	assert.ErrorIs(t, err, storage.ErrUsageLogNotFound)

	stats, err := s.BarcodeStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.NewPoolStats(3, 2), stats, "没有待认领记录时不消耗条码")

	logs, err = s.ListUsageLogs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.True(t, logs[0].LabelData.HasBarcode())
	assert.True(t, logs[1].LabelData.HasBarcode())

	_, _, err = s.AllocateBarcodeForUsage(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrUsageLogNotFound)
}

func testAllocateForUsageConcurrent(t *testing.T, s storage.Store) {
	ctx := context.Background()
	key := NewKey("CLAIM-00000002", 10)
	require.NoError(t, s.CreateAccessKey(ctx, key))

	const uses = 3
	for i := 0; i < uses; i++ {
		require.NoError(t, s.AppendUsageLog(ctx, &domain.UsageLogEntry{KeyID: key.ID, LabelData: domain.LabelData{}}))
	}
	candidates := make([]domain.BarcodeCandidate, 0, 10)
	for i := 0; i < 10; i++ {
		v := fmt.Sprintf("%04d", i)
		candidates = append(candidates, domain.BarcodeCandidate{GS1Value: "(91)" + v, LinearValue: v})
	}
	_, err := s.InsertBarcodes(ctx, candidates)
	require.NoError(t, err)

	var (
		mu      sync.Mutex
		claimed = map[string]int{}
	)
	var g errgroup.Group
	for i := 0; i < 10; i++ {
		g.Go(func() error {
			_, entry, err := s.AllocateBarcodeForUsage(ctx, key.ID)
			if errors.Is(err, storage.ErrUsageLogNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			mu.Lock()
			claimed[entry.ID]++
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Len(t, claimed, uses)
	for id, n := range claimed {
		assert.Equal(t, 1, n, id)
	}
	stats, err := s.BarcodeStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uses, stats.Used)
}

func testBlacklist(t *testing.T, s storage.Store) {
	ctx := context.Background()

	ok, err := s.IsBlacklisted(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.AddToBlacklist(ctx, "jti-1", time.Hour))
	ok, err = s.IsBlacklisted(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, ok)
}
