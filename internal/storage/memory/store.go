package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"labelgate/backend/internal/domain"
	"labelgate/backend/internal/storage"
)

// Store 使用内存保存密钥、条码与使用记录，主要用于开发验证和测试。
//
// 所有写操作在同一把互斥锁内完成，条件更新天然是原子的。
type Store struct {
	mu sync.RWMutex

	keys   map[string]*domain.AccessKey
	byCode map[string]string // code -> keyID

	barcodes  map[string]*domain.BarcodeRecord
	byGS1     map[string]string // gs1Value -> barcodeID
	order     []string          // 按 created_at 升序的条码 ID
	freeIndex int               // order 中第一个可能未使用的位置

	logs []*domain.UsageLogEntry

	blacklist map[string]time.Time

	rateLimits        map[string]*rateLimitEntry
	rateLimitsCleanup time.Time

	now func() time.Time
}

type rateLimitEntry struct {
	Count     int64
	ExpiresAt time.Time
}

var _ storage.Store = (*Store)(nil)
var _ storage.RateLimitRepository = (*Store)(nil)

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		keys:              make(map[string]*domain.AccessKey),
		byCode:            make(map[string]string),
		barcodes:          make(map[string]*domain.BarcodeRecord),
		byGS1:             make(map[string]string),
		blacklist:         make(map[string]time.Time),
		rateLimits:        make(map[string]*rateLimitEntry),
		rateLimitsCleanup: time.Now().Add(5 * time.Minute),
		now:               func() time.Time { return time.Now().UTC() },
	}
}

// ========== Access Key Repository ==========

// CreateAccessKey 保存新密钥，代码重复时返回 storage.ErrDuplicateCode。
func (s *Store) CreateAccessKey(_ context.Context, key *domain.AccessKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byCode[key.Code]; exists {
		return storage.ErrDuplicateCode
	}
	if key.ID == "" {
		key.ID = uuid.Must(uuid.NewV7()).String()
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = s.now()
	}
	cp := *key
	s.keys[cp.ID] = &cp
	s.byCode[cp.Code] = cp.ID
	return nil
}

// GetAccessKey 根据 ID 获取密钥。
func (s *Store) GetAccessKey(_ context.Context, id string) (*domain.AccessKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.keys[id]
	if !ok {
		return nil, storage.ErrKeyNotFound
	}
	cp := *key
	return &cp, nil
}

// GetAccessKeyByCode 根据代码获取密钥。
func (s *Store) GetAccessKeyByCode(_ context.Context, code string) (*domain.AccessKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byCode[code]
	if !ok {
		return nil, storage.ErrKeyNotFound
	}
	cp := *s.keys[id]
	return &cp, nil
}

// ListAccessKeys 按创建时间倒序返回全部密钥。
func (s *Store) ListAccessKeys(_ context.Context) ([]domain.AccessKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.AccessKey, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, *k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// IncrementKeyUsage 使用次数加一，达到上限时停用。
func (s *Store) IncrementKeyUsage(_ context.Context, id string) (*domain.AccessKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.keys[id]
	if !ok || !key.IsUsable() {
		return nil, storage.ErrKeyUnavailable
	}
	key.CurrentUses++
	if key.CurrentUses >= key.MaxUses {
		key.IsActive = false
	}
	cp := *key
	return &cp, nil
}

// UpdateAccessKey 更新描述与上限，上限不得低于当前使用次数。
func (s *Store) UpdateAccessKey(_ context.Context, id, description string, maxUses int) (*domain.AccessKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.keys[id]
	if !ok {
		return nil, storage.ErrKeyNotFound
	}
	if maxUses < key.CurrentUses {
		return nil, storage.ErrMaxUsesBelowUsage
	}
	key.Description = description
	key.MaxUses = maxUses
	cp := *key
	return &cp, nil
}

// SetAccessKeyActive 直接设置激活状态。
func (s *Store) SetAccessKeyActive(_ context.Context, id string, active bool) (*domain.AccessKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.keys[id]
	if !ok {
		return nil, storage.ErrKeyNotFound
	}
	key.IsActive = active
	cp := *key
	return &cp, nil
}

// DeleteAccessKey 删除密钥并级联删除使用记录。
func (s *Store) DeleteAccessKey(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.keys[id]
	if !ok {
		return storage.ErrKeyNotFound
	}
	delete(s.keys, id)
	delete(s.byCode, key.Code)

	kept := s.logs[:0]
	for _, entry := range s.logs {
		if entry.KeyID != id {
			kept = append(kept, entry)
		}
	}
	s.logs = kept
	return nil
}

// ========== Barcode Repository ==========

// InsertBarcodes 逐条插入条码，gs1_value 已存在的计为重复。
func (s *Store) InsertBarcodes(_ context.Context, candidates []domain.BarcodeCandidate) (domain.IngestResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res domain.IngestResult
	for _, c := range candidates {
		if _, exists := s.byGS1[c.GS1Value]; exists {
			res.Duplicates++
			continue
		}
		rec := &domain.BarcodeRecord{
			ID:          uuid.Must(uuid.NewV7()).String(),
			GS1Value:    c.GS1Value,
			GS1Hash:     domain.HashGS1(c.GS1Value),
			LinearValue: c.LinearValue,
			CreatedAt:   s.now(),
		}
		s.barcodes[rec.ID] = rec
		s.byGS1[rec.GS1Value] = rec.ID
		s.order = append(s.order, rec.ID)
		res.Inserted++
	}
	return res, nil
}

// AllocateBarcode 取出最早的未使用条码并标记为已使用。
func (s *Store) AllocateBarcode(_ context.Context) (*domain.BarcodeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.nextFreeLocked()
	if rec == nil {
		return nil, storage.ErrPoolExhausted
	}
	now := s.now()
	rec.IsUsed = true
	rec.UsedAt = &now
	s.freeIndex++

	cp := *rec
	return &cp, nil
}

// AllocateBarcodeForUsage 认领该密钥最近一条尚未关联条码的使用记录，并为其分配条码。
func (s *Store) AllocateBarcodeForUsage(_ context.Context, keyID string) (*domain.BarcodeRecord, *domain.UsageLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entry *domain.UsageLogEntry
	for i := len(s.logs) - 1; i >= 0; i-- {
		if s.logs[i].KeyID == keyID && !s.logs[i].LabelData.HasBarcode() {
			entry = s.logs[i]
			break
		}
	}
	if entry == nil {
		return nil, nil, storage.ErrUsageLogNotFound
	}

	rec := s.nextFreeLocked()
	if rec == nil {
		return nil, nil, storage.ErrPoolExhausted
	}
	now := s.now()
	rec.IsUsed = true
	rec.UsedAt = &now
	s.freeIndex++

	data := entry.LabelData.Clone()
	data[domain.LabelDataBarcodeKey] = rec.Ref()
	entry.LabelData = data

	recCopy := *rec
	entryCopy := *entry
	entryCopy.LabelData = data.Clone()
	return &recCopy, &entryCopy, nil
}

// PeekNextBarcode 返回下一条待分配的条码。
func (s *Store) PeekNextBarcode(_ context.Context) (*domain.BarcodeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.nextFreeLocked()
	if rec == nil {
		return nil, storage.ErrPoolExhausted
	}
	cp := *rec
	return &cp, nil
}

// nextFreeLocked 推进 freeIndex 跳过已使用的条码，调用方需持有写锁
func (s *Store) nextFreeLocked() *domain.BarcodeRecord {
	for s.freeIndex < len(s.order) {
		rec := s.barcodes[s.order[s.freeIndex]]
		if !rec.IsUsed {
			return rec
		}
		s.freeIndex++
	}
	return nil
}

// BarcodeStats 统计条码池。
func (s *Store) BarcodeStats(_ context.Context) (domain.PoolStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	used := 0
	for _, rec := range s.barcodes {
		if rec.IsUsed {
			used++
		}
	}
	return domain.NewPoolStats(len(s.barcodes), used), nil
}

// ListBarcodes 按创建时间倒序返回全部条码。
func (s *Store) ListBarcodes(_ context.Context) ([]domain.BarcodeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.BarcodeRecord, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		out = append(out, *s.barcodes[s.order[i]])
	}
	return out, nil
}

// DeleteAllBarcodes 清空条码池并返回删除数量。
func (s *Store) DeleteAllBarcodes(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.barcodes)
	s.barcodes = make(map[string]*domain.BarcodeRecord)
	s.byGS1 = make(map[string]string)
	s.order = nil
	s.freeIndex = 0
	return n, nil
}

// ========== Usage Log Repository ==========

// AppendUsageLog 追加使用记录。
func (s *Store) AppendUsageLog(_ context.Context, entry *domain.UsageLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.keys[entry.KeyID]; !ok {
		return storage.ErrKeyNotFound
	}
	if entry.ID == "" {
		entry.ID = uuid.Must(uuid.NewV7()).String()
	}
	if entry.UsedAt.IsZero() {
		entry.UsedAt = s.now()
	}
	cp := *entry
	cp.LabelData = entry.LabelData.Clone()
	s.logs = append(s.logs, &cp)
	return nil
}

// ListUsageLogs 按 used_at 倒序返回使用记录，附带密钥代码。
func (s *Store) ListUsageLogs(_ context.Context, limit int) ([]domain.UsageLogView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.UsageLogView, 0, len(s.logs))
	for _, entry := range s.logs {
		view := domain.UsageLogView{UsageLogEntry: *entry}
		view.LabelData = entry.LabelData.Clone()
		if key, ok := s.keys[entry.KeyID]; ok {
			view.KeyCode = key.Code
		}
		out = append(out, view)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].UsedAt.Equal(out[j].UsedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].UsedAt.After(out[j].UsedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ========== JWT 黑名单 ==========

// AddToBlacklist 将令牌 ID 加入黑名单直到过期。
func (s *Store) AddToBlacklist(_ context.Context, jti string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for k, exp := range s.blacklist {
		if now.After(exp) {
			delete(s.blacklist, k)
		}
	}
	s.blacklist[jti] = now.Add(ttl)
	return nil
}

// IsBlacklisted 检查令牌 ID 是否已吊销。
func (s *Store) IsBlacklisted(_ context.Context, jti string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exp, ok := s.blacklist[jti]
	return ok && time.Now().Before(exp), nil
}

// ========== 限流 ==========

// IncrementRateLimit 增加固定窗口计数。
func (s *Store) IncrementRateLimit(_ context.Context, key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()

	// 每5分钟清理一次过期条目
	if now.After(s.rateLimitsCleanup) {
		for k, v := range s.rateLimits {
			if now.After(v.ExpiresAt) {
				delete(s.rateLimits, k)
			}
		}
		s.rateLimitsCleanup = now.Add(5 * time.Minute)
	}

	entry, exists := s.rateLimits[key]
	if !exists || now.After(entry.ExpiresAt) {
		s.rateLimits[key] = &rateLimitEntry{Count: 1, ExpiresAt: now.Add(window)}
		return 1, nil
	}
	entry.Count++
	return entry.Count, nil
}

// ========== 工具方法 ==========

// Close 内存存储无需关闭
func (s *Store) Close() error {
	return nil
}

// Health 内存存储总是健康的
func (s *Store) Health(context.Context) error {
	return nil
}
