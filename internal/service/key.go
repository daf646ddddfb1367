package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"labelgate/backend/internal/domain"
	"labelgate/backend/internal/monitoring"
	"labelgate/backend/internal/storage"
)

const (
	suffixAlphabet     = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	minSuffixLength    = 8
	createCodeAttempts = 2
)

// KeyService 访问密钥台账：查询、创建、计数、维护。
type KeyService struct {
	repo         storage.AccessKeyRepository
	suffixLength int
	events       EventPublisher
	metrics      *monitoring.Metrics
	log          *zap.Logger
	newSuffix    func(n int) (string, error)
}

// NewKeyService 创建访问密钥服务。suffixLength 小于 8 时按 8 处理。
func NewKeyService(repo storage.AccessKeyRepository, suffixLength int, log *zap.Logger) *KeyService {
	if suffixLength < minSuffixLength {
		suffixLength = minSuffixLength
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &KeyService{
		repo:         repo,
		suffixLength: suffixLength,
		events:       nopPublisher{},
		log:          log,
		newSuffix:    randomSuffix,
	}
}

// SetEventPublisher 设置实时事件发布器
func (s *KeyService) SetEventPublisher(p EventPublisher) {
	if p != nil {
		s.events = p
	}
}

// SetMetrics 设置监控指标
func (s *KeyService) SetMetrics(m *monitoring.Metrics) {
	s.metrics = m
}

// Lookup 按代码查询密钥，不修改状态。
func (s *KeyService) Lookup(ctx context.Context, code string) (*domain.AccessKey, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, fmt.Errorf("%w: access key code is required", ErrValidation)
	}

	key, err := s.repo.GetAccessKeyByCode(ctx, code)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: invalid access key", ErrNotFound)
		}
		return nil, err
	}
	return key, nil
}

// Get 按 ID 获取密钥
func (s *KeyService) Get(ctx context.Context, id string) (*domain.AccessKey, error) {
	key, err := s.repo.GetAccessKey(ctx, id)
	if err != nil {
		return nil, mapKeyErr(err)
	}
	return key, nil
}

// Validate 查询密钥并确认当前可用；用尽优先于停用报告。
func (s *KeyService) Validate(ctx context.Context, code string) (*domain.AccessKey, error) {
	key, err := s.Lookup(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := usabilityErr(key); err != nil {
		return key, err
	}
	return key, nil
}

// CreateKeyInput 创建密钥所需的输入
type CreateKeyInput struct {
	Prefix      string
	Description string
	MaxUses     int
}

// Create 生成 prefix-随机后缀 形式的新密钥；代码冲突时重试一次。
func (s *KeyService) Create(ctx context.Context, input CreateKeyInput) (*domain.AccessKey, error) {
	prefix, err := domain.NormalizePrefix(input.Prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, err.Error())
	}
	description, err := domain.NormalizeDescription(input.Description)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, err.Error())
	}
	if err := domain.ValidateMaxUses(input.MaxUses); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, err.Error())
	}

	for attempt := 1; attempt <= createCodeAttempts; attempt++ {
		suffix, err := s.newSuffix(s.suffixLength)
		if err != nil {
			return nil, fmt.Errorf("generate key suffix: %w", err)
		}

		key := &domain.AccessKey{
			ID:          uuid.Must(uuid.NewV7()).String(),
			Code:        prefix + "-" + suffix,
			Description: description,
			MaxUses:     input.MaxUses,
			IsActive:    true,
		}

		err = s.repo.CreateAccessKey(ctx, key)
		if err == nil {
			s.log.Info("access key created",
				zap.String("key_id", key.ID),
				zap.String("code", key.Code),
				zap.Int("max_uses", key.MaxUses))
			s.events.Publish(ctx, newEvent(EventKeyChanged, key))
			return key, nil
		}
		if !errors.Is(err, storage.ErrDuplicateCode) {
			return nil, err
		}
		s.log.Warn("access key code collision", zap.String("code", key.Code), zap.Int("attempt", attempt))
	}

	return nil, fmt.Errorf("%w: please try again", ErrDuplicateCode)
}

// RecordUsage 原子地消耗一次使用次数。
//
// 可用性在存储层的条件更新中重新判定，不依赖调用方之前的检查结果。
// 最后一次使用会在同一次更新中停用密钥。
func (s *KeyService) RecordUsage(ctx context.Context, keyID string) (*domain.AccessKey, error) {
	key, err := s.repo.IncrementKeyUsage(ctx, keyID)
	if err == nil {
		s.metrics.RecordKeyUsage(monitoring.ResultSuccess)
		s.events.Publish(ctx, newEvent(EventKeyUsed, key))
		return key, nil
	}
	if !errors.Is(err, storage.ErrKeyUnavailable) {
		s.metrics.RecordKeyUsage(monitoring.ResultError)
		return nil, err
	}

	// 条件更新未命中，重新读取以区分原因
	current, readErr := s.repo.GetAccessKey(ctx, keyID)
	switch {
	case errors.Is(readErr, storage.ErrKeyNotFound):
		s.metrics.RecordKeyUsage(monitoring.ResultNotFound)
		return nil, fmt.Errorf("%w: invalid access key", ErrNotFound)
	case readErr != nil:
		s.metrics.RecordKeyUsage(monitoring.ResultError)
		return nil, readErr
	case !current.IsExhausted() && !current.IsActive:
		s.metrics.RecordKeyUsage(monitoring.ResultInactive)
		return nil, ErrKeyInactive
	default:
		s.metrics.RecordKeyUsage(monitoring.ResultExhausted)
		return nil, ErrKeyExhausted
	}
}

// UpdateKeyInput 更新密钥描述与上限
type UpdateKeyInput struct {
	ID          string
	Description string
	MaxUses     int
}

// Update 修改描述和最大使用次数，新上限不能小于已发生的使用次数。
func (s *KeyService) Update(ctx context.Context, input UpdateKeyInput) (*domain.AccessKey, error) {
	description, err := domain.NormalizeDescription(input.Description)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, err.Error())
	}
	if err := domain.ValidateMaxUses(input.MaxUses); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, err.Error())
	}

	current, err := s.repo.GetAccessKey(ctx, input.ID)
	if err != nil {
		return nil, mapKeyErr(err)
	}
	if input.MaxUses < current.CurrentUses {
		return nil, belowUsageErr(current.CurrentUses)
	}

	key, err := s.repo.UpdateAccessKey(ctx, input.ID, description, input.MaxUses)
	if err != nil {
		if errors.Is(err, storage.ErrMaxUsesBelowUsage) {
			// 读取之后又发生了使用
			if latest, readErr := s.repo.GetAccessKey(ctx, input.ID); readErr == nil {
				return nil, belowUsageErr(latest.CurrentUses)
			}
			return nil, belowUsageErr(current.CurrentUses)
		}
		return nil, mapKeyErr(err)
	}

	s.log.Info("access key updated", zap.String("key_id", key.ID), zap.Int("max_uses", key.MaxUses))
	s.events.Publish(ctx, newEvent(EventKeyChanged, key))
	return key, nil
}

// SetActive 启用或停用密钥
func (s *KeyService) SetActive(ctx context.Context, id string, active bool) (*domain.AccessKey, error) {
	key, err := s.repo.SetAccessKeyActive(ctx, id, active)
	if err != nil {
		return nil, mapKeyErr(err)
	}
	s.log.Info("access key toggled", zap.String("key_id", key.ID), zap.Bool("active", active))
	s.events.Publish(ctx, newEvent(EventKeyChanged, key))
	return key, nil
}

// Delete 删除密钥，使用记录级联删除
func (s *KeyService) Delete(ctx context.Context, id string) error {
	if err := s.repo.DeleteAccessKey(ctx, id); err != nil {
		return mapKeyErr(err)
	}
	s.log.Info("access key deleted", zap.String("key_id", id))
	s.events.Publish(ctx, newEvent(EventKeyDeleted, map[string]string{"id": id}))
	return nil
}

// List 按创建时间倒序返回全部密钥
func (s *KeyService) List(ctx context.Context) ([]domain.AccessKey, error) {
	return s.repo.ListAccessKeys(ctx)
}

// DemoKey 演示环境预置的密钥
type DemoKey struct {
	Code        string
	Description string
	MaxUses     int
}

// DemoKeys 演示环境预置的密钥列表
var DemoKeys = []DemoKey{
	{Code: "DEMO-2024-001", Description: "Demo key for testing", MaxUses: 10},
	{Code: "TEST-KEY-001", Description: "Test key for development", MaxUses: 5},
	{Code: "PREMIUM-2024-002", Description: "Premium access key", MaxUses: 100},
}

// SeedDemoKeys 写入不存在的演示密钥，返回新建数量
func (s *KeyService) SeedDemoKeys(ctx context.Context) (int, error) {
	created := 0
	for _, demo := range DemoKeys {
		_, err := s.repo.GetAccessKeyByCode(ctx, demo.Code)
		if err == nil {
			continue
		}
		if !errors.Is(err, storage.ErrKeyNotFound) {
			return created, err
		}

		key := &domain.AccessKey{
			ID:          uuid.Must(uuid.NewV7()).String(),
			Code:        demo.Code,
			Description: demo.Description,
			MaxUses:     demo.MaxUses,
			IsActive:    true,
		}
		if err := s.repo.CreateAccessKey(ctx, key); err != nil {
			if errors.Is(err, storage.ErrDuplicateCode) {
				continue
			}
			return created, err
		}
		created++
	}

	if created > 0 {
		s.log.Info("demo access keys seeded", zap.Int("created", created))
	}
	return created, nil
}

func usabilityErr(key *domain.AccessKey) error {
	if key.IsExhausted() {
		return ErrKeyExhausted
	}
	if !key.IsActive {
		return ErrKeyInactive
	}
	return nil
}

func belowUsageErr(currentUses int) error {
	return fmt.Errorf("%w: maximum uses cannot be less than current usage (%d)", ErrValidation, currentUses)
}

func mapKeyErr(err error) error {
	if errors.Is(err, storage.ErrKeyNotFound) {
		return fmt.Errorf("%w: access key not found", ErrNotFound)
	}
	return err
}

// randomSuffix 从大写字母和数字中均匀抽取 n 个字符
func randomSuffix(n int) (string, error) {
	limit := big.NewInt(int64(len(suffixAlphabet)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b[i] = suffixAlphabet[idx.Int64()]
	}
	return string(b), nil
}
