package service

import (
	"context"

	"go.uber.org/zap"

	"labelgate/backend/internal/domain"
)

// LabelService 终端用户流程：校验密钥、生成标签、为预览分配条码。
//
// 生成标签与分配条码是两个独立步骤：先提交使用计数并写日志，
// 预览时再分配条码并补充到最近一条日志上。
type LabelService struct {
	keys     *KeyService
	pool     *BarcodePoolService
	activity *ActivityRecorder
	log      *zap.Logger
}

// NewLabelService 创建标签流程服务
func NewLabelService(keys *KeyService, pool *BarcodePoolService, activity *ActivityRecorder, log *zap.Logger) *LabelService {
	if log == nil {
		log = zap.NewNop()
	}
	return &LabelService{keys: keys, pool: pool, activity: activity, log: log}
}

// ValidateKey 校验密钥是否可用
func (s *LabelService) ValidateKey(ctx context.Context, code string) (*domain.AccessKey, error) {
	return s.keys.Validate(ctx, code)
}

// GenerateLabelInput 生成标签的输入
type GenerateLabelInput struct {
	Code      string
	LabelData domain.LabelData
	IPAddress string
}

// LabelResult 生成标签的结果
type LabelResult struct {
	Key       *domain.AccessKey     `json:"key"`
	Entry     *domain.UsageLogEntry `json:"entry,omitempty"`
	LabelData domain.LabelData      `json:"labelData"`
}

// GenerateLabel 消耗一次密钥使用并记录标签数据。日志写入失败不影响结果。
func (s *LabelService) GenerateLabel(ctx context.Context, input GenerateLabelInput) (*LabelResult, error) {
	key, err := s.keys.Lookup(ctx, input.Code)
	if err != nil {
		return nil, err
	}

	updated, err := s.keys.RecordUsage(ctx, key.ID)
	if err != nil {
		return nil, err
	}

	result := &LabelResult{Key: updated}
	if entry := s.activity.Append(ctx, updated.ID, input.LabelData, input.IPAddress); entry != nil {
		result.Entry = entry
		result.LabelData = entry.LabelData
	} else {
		result.LabelData = domain.NormalizeLabelData(input.LabelData)
	}

	s.log.Info("label generated",
		zap.String("key_id", updated.ID),
		zap.Int("current_uses", updated.CurrentUses),
		zap.Int("max_uses", updated.MaxUses))
	return result, nil
}

// AssignBarcode 为密钥最近生成的标签分配一个条码。
//
// 密钥必须存在，但不再检查剩余次数：使用次数已在生成标签时提交。
// 每条使用记录只能认领一个条码，没有待分配的标签时返回 ErrNoPendingLabel。
// 条码一旦标记为已用就不会回收，即使调用方没有收到结果。
func (s *LabelService) AssignBarcode(ctx context.Context, code string) (*domain.BarcodeRecord, error) {
	key, err := s.keys.Lookup(ctx, code)
	if err != nil {
		return nil, err
	}

	rec, entry, err := s.pool.AllocateForUsage(ctx, key.ID)
	if err != nil {
		return nil, err
	}
	s.log.Info("barcode attached to label",
		zap.String("key_id", key.ID),
		zap.String("usage_log_id", entry.ID),
		zap.String("barcode_id", rec.ID))
	return rec, nil
}
