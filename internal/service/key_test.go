package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"labelgate/backend/internal/domain"
	"labelgate/backend/internal/storage/memory"
)

func newKeyService(t *testing.T) (*KeyService, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	return NewKeyService(store, 8, nil), store
}

func TestKeyServiceCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("生成前缀加随机后缀的代码", func(t *testing.T) {
		svc, _ := newKeyService(t)

		key, err := svc.Create(ctx, CreateKeyInput{Prefix: " DEMO ", Description: " first batch ", MaxUses: 3})
		require.NoError(t, err)

		assert.Regexp(t, `^DEMO-[A-Z0-9]{8}$`, key.Code)
		assert.Equal(t, "first batch", key.Description)
		assert.Equal(t, 3, key.MaxUses)
		assert.Equal(t, 0, key.CurrentUses)
		assert.True(t, key.IsActive)
		assert.NotEmpty(t, key.ID)
	})

	t.Run("校验输入", func(t *testing.T) {
		svc, _ := newKeyService(t)

		cases := []struct {
			name  string
			input CreateKeyInput
		}{
			{name: "空前缀", input: CreateKeyInput{Prefix: "  ", Description: "d", MaxUses: 1}},
			{name: "非法前缀", input: CreateKeyInput{Prefix: "DE MO", Description: "d", MaxUses: 1}},
			{name: "空描述", input: CreateKeyInput{Prefix: "DEMO", Description: "", MaxUses: 1}},
			{name: "上限为零", input: CreateKeyInput{Prefix: "DEMO", Description: "d", MaxUses: 0}},
			{name: "上限为负数", input: CreateKeyInput{Prefix: "DEMO", Description: "d", MaxUses: -2}},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				_, err := svc.Create(ctx, tc.input)
				assert.ErrorIs(t, err, ErrValidation)
			})
		}
	})

	t.Run("代码冲突时重试一次", func(t *testing.T) {
		svc, store := newKeyService(t)
		require.NoError(t, store.CreateAccessKey(ctx, &domain.AccessKey{Code: "DEMO-AAAAAAAA", Description: "x", MaxUses: 1, IsActive: true}))

		suffixes := []string{"AAAAAAAA", "BBBBBBBB"}
		var calls int
		svc.newSuffix = func(int) (string, error) {
			s := suffixes[calls]
			calls++
			return s, nil
		}

		key, err := svc.Create(ctx, CreateKeyInput{Prefix: "DEMO", Description: "d", MaxUses: 1})
		require.NoError(t, err)
		assert.Equal(t, "DEMO-BBBBBBBB", key.Code)
		assert.Equal(t, 2, calls)
	})

	t.Run("重试后仍冲突返回重复错误", func(t *testing.T) {
		svc, store := newKeyService(t)
		require.NoError(t, store.CreateAccessKey(ctx, &domain.AccessKey{Code: "DEMO-AAAAAAAA", Description: "x", MaxUses: 1, IsActive: true}))
		svc.newSuffix = func(int) (string, error) { return "AAAAAAAA", nil }

		_, err := svc.Create(ctx, CreateKeyInput{Prefix: "DEMO", Description: "d", MaxUses: 1})
		assert.ErrorIs(t, err, ErrDuplicateCode)
	})

	t.Run("后缀长度至少为8", func(t *testing.T) {
		svc := NewKeyService(memory.NewStore(), 4, nil)
		key, err := svc.Create(ctx, CreateKeyInput{Prefix: "X", Description: "d", MaxUses: 1})
		require.NoError(t, err)
		assert.Len(t, key.Code, len("X-")+8)
	})
}

func TestKeyServiceLookupAndValidate(t *testing.T) {
	ctx := context.Background()
	svc, _ := newKeyService(t)
	key, err := svc.Create(ctx, CreateKeyInput{Prefix: "DEMO", Description: "d", MaxUses: 1})
	require.NoError(t, err)

	t.Run("查询存在的密钥", func(t *testing.T) {
		got, err := svc.Lookup(ctx, "  "+key.Code+" ")
		require.NoError(t, err)
		assert.Equal(t, key.ID, got.ID)
	})

	t.Run("查询不存在的密钥", func(t *testing.T) {
		_, err := svc.Lookup(ctx, "NOPE-12345678")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("空代码", func(t *testing.T) {
		_, err := svc.Lookup(ctx, " ")
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("停用的密钥", func(t *testing.T) {
		_, err := svc.SetActive(ctx, key.ID, false)
		require.NoError(t, err)

		_, err = svc.Validate(ctx, key.Code)
		assert.ErrorIs(t, err, ErrKeyInactive)

		_, err = svc.SetActive(ctx, key.ID, true)
		require.NoError(t, err)
		_, err = svc.Validate(ctx, key.Code)
		assert.NoError(t, err)
	})

	t.Run("用尽的密钥优先报告用尽", func(t *testing.T) {
		_, err := svc.RecordUsage(ctx, key.ID)
		require.NoError(t, err)

		_, err = svc.Validate(ctx, key.Code)
		assert.ErrorIs(t, err, ErrKeyExhausted)
	})
}

func TestKeyServiceRecordUsage(t *testing.T) {
	ctx := context.Background()

	t.Run("上限为3时恰好接受3次", func(t *testing.T) {
		svc, _ := newKeyService(t)
		key, err := svc.Create(ctx, CreateKeyInput{Prefix: "CAP", Description: "d", MaxUses: 3})
		require.NoError(t, err)

		for i := 1; i <= 3; i++ {
			updated, err := svc.RecordUsage(ctx, key.ID)
			require.NoError(t, err)
			assert.Equal(t, i, updated.CurrentUses)
			assert.Equal(t, i < 3, updated.IsActive)
		}

		_, err = svc.RecordUsage(ctx, key.ID)
		assert.ErrorIs(t, err, ErrKeyExhausted)

		got, err := svc.Get(ctx, key.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, got.CurrentUses)
		assert.False(t, got.IsActive)
	})

	t.Run("停用的密钥拒绝使用", func(t *testing.T) {
		svc, _ := newKeyService(t)
		key, err := svc.Create(ctx, CreateKeyInput{Prefix: "OFF", Description: "d", MaxUses: 3})
		require.NoError(t, err)
		_, err = svc.SetActive(ctx, key.ID, false)
		require.NoError(t, err)

		_, err = svc.RecordUsage(ctx, key.ID)
		assert.ErrorIs(t, err, ErrKeyInactive)
	})

	t.Run("不存在的密钥", func(t *testing.T) {
		svc, _ := newKeyService(t)
		_, err := svc.RecordUsage(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("并发使用不超过上限", func(t *testing.T) {
		svc, _ := newKeyService(t)
		key, err := svc.Create(ctx, CreateKeyInput{Prefix: "RACE", Description: "d", MaxUses: 1})
		require.NoError(t, err)

		var ok, exhausted atomic.Int32
		var g errgroup.Group
		for i := 0; i < 10; i++ {
			g.Go(func() error {
				_, err := svc.RecordUsage(ctx, key.ID)
				switch {
				case err == nil:
					ok.Add(1)
				case assert.ErrorIs(t, err, ErrKeyExhausted):
					exhausted.Add(1)
				}
				return nil
			})
		}
		require.NoError(t, g.Wait())

		assert.Equal(t, int32(1), ok.Load())
		assert.Equal(t, int32(9), exhausted.Load())
	})
}

func TestKeyServiceUpdate(t *testing.T) {
	ctx := context.Background()
	svc, _ := newKeyService(t)
	key, err := svc.Create(ctx, CreateKeyInput{Prefix: "UPD", Description: "d", MaxUses: 5})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := svc.RecordUsage(ctx, key.ID)
		require.NoError(t, err)
	}

	t.Run("上限不能低于已用次数", func(t *testing.T) {
		_, err := svc.Update(ctx, UpdateKeyInput{ID: key.ID, Description: "changed", MaxUses: 2})
		assert.ErrorIs(t, err, ErrValidation)
		assert.ErrorContains(t, err, "current usage (3)")

		got, err := svc.Get(ctx, key.ID)
		require.NoError(t, err)
		assert.Equal(t, 5, got.MaxUses)
		assert.Equal(t, "d", got.Description)
	})

	t.Run("上限等于已用次数", func(t *testing.T) {
		got, err := svc.Update(ctx, UpdateKeyInput{ID: key.ID, Description: "changed", MaxUses: 3})
		require.NoError(t, err)
		assert.Equal(t, 3, got.MaxUses)
		assert.Equal(t, "changed", got.Description)
	})

	t.Run("不存在的密钥", func(t *testing.T) {
		_, err := svc.Update(ctx, UpdateKeyInput{ID: "missing", Description: "x", MaxUses: 3})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("校验描述", func(t *testing.T) {
		_, err := svc.Update(ctx, UpdateKeyInput{ID: key.ID, Description: " ", MaxUses: 3})
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestKeyServiceDelete(t *testing.T) {
	ctx := context.Background()
	svc, store := newKeyService(t)
	key, err := svc.Create(ctx, CreateKeyInput{Prefix: "DEL", Description: "d", MaxUses: 2})
	require.NoError(t, err)
	require.NoError(t, store.AppendUsageLog(ctx, &domain.UsageLogEntry{KeyID: key.ID, LabelData: domain.LabelData{}}))

	require.NoError(t, svc.Delete(ctx, key.ID))

	logs, err := store.ListUsageLogs(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, logs)

	assert.ErrorIs(t, svc.Delete(ctx, key.ID), ErrNotFound)
}

func TestKeyServiceSeedDemoKeys(t *testing.T) {
	ctx := context.Background()
	svc, _ := newKeyService(t)

	n, err := svc.SeedDemoKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = svc.SeedDemoKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	key, err := svc.Lookup(ctx, "DEMO-2024-001")
	require.NoError(t, err)
	assert.Equal(t, 10, key.MaxUses)
	assert.Equal(t, "Demo key for testing", key.Description)
}

type capturePublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *capturePublisher) Publish(_ context.Context, e Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *capturePublisher) types() []EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

func TestKeyServiceEvents(t *testing.T) {
	ctx := context.Background()
	svc, _ := newKeyService(t)
	pub := &capturePublisher{}
	svc.SetEventPublisher(pub)

	key, err := svc.Create(ctx, CreateKeyInput{Prefix: "EVT", Description: "d", MaxUses: 2})
	require.NoError(t, err)
	_, err = svc.RecordUsage(ctx, key.ID)
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, key.ID))

	assert.Equal(t, []EventType{EventKeyChanged, EventKeyUsed, EventKeyDeleted}, pub.types())
}

func TestRandomSuffix(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 200; i++ {
		s, err := randomSuffix(8)
		require.NoError(t, err)
		assert.Regexp(t, `^[A-Z0-9]{8}$`, s)
		seen[s] = struct{}{}
	}
	assert.Len(t, seen, 200)
}
