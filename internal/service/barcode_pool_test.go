package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"labelgate/backend/internal/barcode"
	"labelgate/backend/internal/cache"
	"labelgate/backend/internal/storage/memory"
)

func newPoolService(t *testing.T) *BarcodePoolService {
	t.Helper()
	c := cache.NewLocalCache(16, time.Minute)
	t.Cleanup(c.Close)
	return NewBarcodePoolService(memory.NewStore(), c, nil)
}

func TestBarcodePoolIngest(t *testing.T) {
	ctx := context.Background()

	t.Run("重复行计为重复", func(t *testing.T) {
		svc := newPoolService(t)

		report, err := svc.Ingest(ctx, "(91)111\n(91)111\n(91)222")
		require.NoError(t, err)
		assert.Equal(t, 3, report.Processed)
		assert.Equal(t, 2, report.Inserted)
		assert.Equal(t, 1, report.Duplicates)
		assert.Empty(t, report.Rejected)

		report, err = svc.Ingest(ctx, "(91)222\n(91)333")
		require.NoError(t, err)
		assert.Equal(t, 1, report.Inserted)
		assert.Equal(t, 1, report.Duplicates)

		stats, err := svc.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, stats.Total)
		assert.Equal(t, 3, stats.Available)
	})

	t.Run("部分行失败不影响其他行", func(t *testing.T) {
		svc := newPoolService(t)

		report, err := svc.Ingest(ctx, "(01)99312650999998(91)0211003022413006340990(8008)231017111405\nno marker here\n(91)555")
		require.NoError(t, err)
		assert.Equal(t, 2, report.Inserted)
		require.Len(t, report.Rejected, 1)
		assert.Equal(t, 2, report.Rejected[0].LineNumber)
		assert.ErrorIs(t, &report.Rejected[0], barcode.ErrMissingMarker)
	})

	t.Run("空输入", func(t *testing.T) {
		svc := newPoolService(t)
		_, err := svc.Ingest(ctx, " \n\n ")
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("没有可用行时返回报告和错误", func(t *testing.T) {
		svc := newPoolService(t)
		report, err := svc.Ingest(ctx, "abc\ndef")
		assert.ErrorIs(t, err, ErrValidation)
		require.NotNil(t, report)
		assert.Len(t, report.Rejected, 2)
		assert.Equal(t, 0, report.Inserted)
	})
}

func TestBarcodePoolAllocate(t *testing.T) {
	ctx := context.Background()

	t.Run("按导入顺序分配", func(t *testing.T) {
		svc := newPoolService(t)
		_, err := svc.Ingest(ctx, "(91)A1\n(91)A2\n(91)A3")
		require.NoError(t, err)

		for _, want := range []string{"A1", "A2", "A3"} {
			rec, err := svc.AllocateOne(ctx)
			require.NoError(t, err)
			assert.Equal(t, want, rec.LinearValue)
			assert.True(t, rec.IsUsed)
			assert.NotNil(t, rec.UsedAt)
		}

		_, err = svc.AllocateOne(ctx)
		assert.ErrorIs(t, err, ErrPoolExhausted)

		stats, err := svc.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, stats.Available)
		assert.Equal(t, 3, stats.Used)
	})

	t.Run("并发分配互不重复", func(t *testing.T) {
		svc := newPoolService(t)
		lines := make([]string, 0, 30)
		for i := 0; i < 30; i++ {
			lines = append(lines, "(91)"+strings.Repeat("9", i+1))
		}
		_, err := svc.Ingest(ctx, strings.Join(lines, "\n"))
		require.NoError(t, err)

		var mu sync.Mutex
		seen := make(map[string]int)
		var g errgroup.Group
		for i := 0; i < 50; i++ {
			g.Go(func() error {
				rec, err := svc.AllocateOne(ctx)
				if err != nil {
					assert.ErrorIs(t, err, ErrPoolExhausted)
					return nil
				}
				mu.Lock()
				seen[rec.ID]++
				mu.Unlock()
				return nil
			})
		}
		require.NoError(t, g.Wait())

		assert.Len(t, seen, 30)
		for id, n := range seen {
			assert.Equal(t, 1, n, id)
		}
	})

	t.Run("分配后触发回调", func(t *testing.T) {
		svc := newPoolService(t)
		var calls int
		svc.SetPoolWatcher(func(context.Context) { calls++ })

		_, err := svc.Ingest(ctx, "(91)W1")
		require.NoError(t, err)
		_, err = svc.AllocateOne(ctx)
		require.NoError(t, err)
		_, err = svc.AllocateOne(ctx)
		require.Error(t, err)

		assert.Equal(t, 3, calls)
	})
}

func TestBarcodePoolStatus(t *testing.T) {
	ctx := context.Background()
	svc := newPoolService(t)

	t.Run("空池", func(t *testing.T) {
		status, err := svc.Status(ctx)
		require.NoError(t, err)
		assert.False(t, status.HasAvailable)
		assert.Nil(t, status.NextAvailable)
	})

	t.Run("导入后缓存失效并显示下一条", func(t *testing.T) {
		long := "(01)99312650999998(91)0211003022413006340990(8008)231017111405"
		_, err := svc.Ingest(ctx, long+"\n(91)NEXT2")
		require.NoError(t, err)

		status, err := svc.Status(ctx)
		require.NoError(t, err)
		require.True(t, status.HasAvailable)
		assert.Equal(t, "0211003022413006340990", status.NextAvailable.LinearValue)
		assert.Equal(t, long[:50]+"...", status.NextAvailable.GS1Preview)
		assert.Equal(t, 2, status.Stats.Available)
	})

	t.Run("分配后状态更新", func(t *testing.T) {
		_, err := svc.AllocateOne(ctx)
		require.NoError(t, err)

		status, err := svc.Status(ctx)
		require.NoError(t, err)
		assert.Equal(t, "NEXT2", status.NextAvailable.LinearValue)
		assert.Equal(t, "(91)NEXT2", status.NextAvailable.GS1Preview)
		assert.Equal(t, 1, status.Stats.Used)
	})

	t.Run("清空", func(t *testing.T) {
		n, err := svc.DeleteAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		status, err := svc.Status(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, status.Stats.Total)
		assert.False(t, status.HasAvailable)
	})
}
