package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"labelgate/backend/internal/domain"
	"labelgate/backend/internal/storage"
	"labelgate/backend/internal/storage/memory"
)

// MockUsageLogRepository 模拟使用记录存储
type MockUsageLogRepository struct {
	mock.Mock
}

func (m *MockUsageLogRepository) AppendUsageLog(ctx context.Context, entry *domain.UsageLogEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockUsageLogRepository) ListUsageLogs(ctx context.Context, limit int) ([]domain.UsageLogView, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.UsageLogView), args.Error(1)
}

var _ storage.UsageLogRepository = (*MockUsageLogRepository)(nil)

func TestActivityRecorderAppend(t *testing.T) {
	ctx := context.Background()

	t.Run("补齐默认重量并记录IP", func(t *testing.T) {
		repo := new(MockUsageLogRepository)
		repo.On("AppendUsageLog", mock.Anything, mock.MatchedBy(func(e *domain.UsageLogEntry) bool {
			return e.KeyID == "k1" && e.LabelData["weight"] == "5kg" && e.IPAddress != nil && *e.IPAddress == "10.0.0.1"
		})).Return(nil)

		r := NewActivityRecorder(repo, nil)
		entry := r.Append(ctx, "k1", domain.LabelData{"name": "Alice"}, " 10.0.0.1 ")
		require.NotNil(t, entry)
		assert.Equal(t, "Alice", entry.LabelData["name"])
		repo.AssertExpectations(t)
	})

	t.Run("没有IP时不写入", func(t *testing.T) {
		repo := new(MockUsageLogRepository)
		repo.On("AppendUsageLog", mock.Anything, mock.MatchedBy(func(e *domain.UsageLogEntry) bool {
			return e.IPAddress == nil && e.LabelData["weight"] == "2kg"
		})).Return(nil)

		r := NewActivityRecorder(repo, nil)
		assert.NotNil(t, r.Append(ctx, "k1", domain.LabelData{"weight": "2kg"}, ""))
		repo.AssertExpectations(t)
	})

	t.Run("写入失败不返回错误", func(t *testing.T) {
		repo := new(MockUsageLogRepository)
		repo.On("AppendUsageLog", mock.Anything, mock.Anything).Return(errors.New("disk full"))

		r := NewActivityRecorder(repo, nil)
		assert.Nil(t, r.Append(ctx, "k1", nil, ""))
		repo.AssertExpectations(t)
	})
}

func TestActivityRecorderRecent(t *testing.T) {
	ctx := context.Background()

	t.Run("默认取100条", func(t *testing.T) {
		repo := new(MockUsageLogRepository)
		repo.On("ListUsageLogs", mock.Anything, DefaultRecentActivity).Return([]domain.UsageLogView{}, nil)

		_, err := NewActivityRecorder(repo, nil).Recent(ctx, 0)
		require.NoError(t, err)
		repo.AssertExpectations(t)
	})

	t.Run("全部", func(t *testing.T) {
		repo := new(MockUsageLogRepository)
		repo.On("ListUsageLogs", mock.Anything, 0).Return([]domain.UsageLogView{}, nil)

		_, err := NewActivityRecorder(repo, nil).All(ctx)
		require.NoError(t, err)
		repo.AssertExpectations(t)
	})
}

func TestLogFailureKeepsUsage(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	keys := NewKeyService(store, 8, nil)
	key, err := keys.Create(ctx, CreateKeyInput{Prefix: "LOG", Description: "d", MaxUses: 2})
	require.NoError(t, err)

	repo := new(MockUsageLogRepository)
	repo.On("AppendUsageLog", mock.Anything, mock.Anything).Return(errors.New("connection reset"))

	labels := NewLabelService(keys, NewBarcodePoolService(store, nil, nil), NewActivityRecorder(repo, nil), nil)
	result, err := labels.GenerateLabel(ctx, GenerateLabelInput{Code: key.Code, LabelData: domain.LabelData{"name": "Bob"}})
	require.NoError(t, err)
	assert.Nil(t, result.Entry)
	assert.Equal(t, "5kg", result.LabelData["weight"])

	got, err := keys.Get(ctx, key.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentUses)
	repo.AssertExpectations(t)
}
