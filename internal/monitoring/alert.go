package monitoring

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"labelgate/backend/internal/domain"
)

// AlertLevel 告警级别
type AlertLevel string

const (
	AlertLevelInfo     AlertLevel = "info"
	AlertLevelWarning  AlertLevel = "warning"
	AlertLevelCritical AlertLevel = "critical"
)

// Alert 告警
type Alert struct {
	ID         string         `json:"id"`
	Title      string         `json:"title"`
	Message    string         `json:"message"`
	Level      AlertLevel     `json:"level"`
	Component  string         `json:"component"`
	Timestamp  time.Time      `json:"timestamp"`
	Resolved   bool           `json:"resolved"`
	ResolvedAt *time.Time     `json:"resolved_at,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// AlertRule 告警规则
//
// 同一规则的告警以规则 ID 去重：条件持续成立时只发送一次，
// 条件不再成立时自动解决。
type AlertRule struct {
	ID        string
	Name      string
	Condition func(ctx context.Context) (bool, map[string]any)
	Level     AlertLevel
	Component string
	Message   string
}

// AlertReceiver 告警接收器接口
type AlertReceiver interface {
	SendAlert(ctx context.Context, alert *Alert) error
}

// TaskSubmitter 异步执行告警投递
type TaskSubmitter interface {
	TrySubmit(task func()) bool
}

// AlertManager 告警管理器
type AlertManager struct {
	alerts    map[string]*Alert
	rules     []AlertRule
	receivers []AlertReceiver
	submitter TaskSubmitter
	logger    *zap.Logger
	mu        sync.RWMutex
	checkMu   sync.Mutex
}

// NewAlertManager 创建告警管理器，submitter 为 nil 时同步投递
func NewAlertManager(logger *zap.Logger, submitter TaskSubmitter) *AlertManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AlertManager{
		alerts:    make(map[string]*Alert),
		submitter: submitter,
		logger:    logger,
	}
}

// AddReceiver 添加告警接收器
func (am *AlertManager) AddReceiver(receiver AlertReceiver) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.receivers = append(am.receivers, receiver)
}

// AddRule 添加告警规则
func (am *AlertManager) AddRule(rule AlertRule) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.rules = append(am.rules, rule)
}

// TriggerAlert 触发告警，未解决的同 ID 告警不会重复发送
func (am *AlertManager) TriggerAlert(alert *Alert) {
	am.mu.Lock()
	if existing, exists := am.alerts[alert.ID]; exists && !existing.Resolved {
		am.mu.Unlock()
		am.logger.Debug("Alert already active", zap.String("alert_id", alert.ID))
		return
	}
	am.alerts[alert.ID] = alert
	receivers := make([]AlertReceiver, len(am.receivers))
	copy(receivers, am.receivers)
	am.mu.Unlock()

	am.logger.Info("Alert triggered",
		zap.String("alert_id", alert.ID),
		zap.String("level", string(alert.Level)),
		zap.String("component", alert.Component),
	)

	snapshot := *alert
	deliver := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		for _, receiver := range receivers {
			if err := receiver.SendAlert(ctx, &snapshot); err != nil {
				am.logger.Error("Failed to send alert",
					zap.String("alert_id", snapshot.ID),
					zap.Error(err),
				)
			}
		}
	}

	if am.submitter == nil {
		deliver()
		return
	}
	if !am.submitter.TrySubmit(deliver) {
		am.logger.Warn("Alert delivery queue full, dropping", zap.String("alert_id", alert.ID))
	}
}

// ResolveAlert 解决告警
func (am *AlertManager) ResolveAlert(alertID string) {
	am.mu.Lock()
	defer am.mu.Unlock()

	if alert, exists := am.alerts[alertID]; exists && !alert.Resolved {
		now := time.Now()
		alert.Resolved = true
		alert.ResolvedAt = &now

		am.logger.Info("Alert resolved", zap.String("alert_id", alertID))
	}
}

// GetActiveAlerts 获取活跃告警
func (am *AlertManager) GetActiveAlerts() []Alert {
	am.mu.RLock()
	defer am.mu.RUnlock()

	alerts := make([]Alert, 0)
	for _, alert := range am.alerts {
		if !alert.Resolved {
			alerts = append(alerts, *alert)
		}
	}
	return alerts
}

// CheckRules 检查告警规则
func (am *AlertManager) CheckRules(ctx context.Context) {
	am.checkMu.Lock()
	defer am.checkMu.Unlock()

	am.mu.RLock()
	rules := make([]AlertRule, len(am.rules))
	copy(rules, am.rules)
	am.mu.RUnlock()

	for _, rule := range rules {
		firing, metadata := rule.Condition(ctx)
		if !firing {
			am.ResolveAlert(rule.ID)
			continue
		}

		am.TriggerAlert(&Alert{
			ID:        rule.ID,
			Title:     rule.Name,
			Message:   rule.Message,
			Level:     rule.Level,
			Component: rule.Component,
			Timestamp: time.Now(),
			Metadata:  metadata,
		})
	}
}

// StartMonitoring 按固定间隔检查规则，直到 ctx 取消
func (am *AlertManager) StartMonitoring(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			am.CheckRules(ctx)
		}
	}
}

// ========== 内置告警规则 ==========

// PoolStatsFunc 读取当前条码池统计
type PoolStatsFunc func(ctx context.Context) (domain.PoolStats, error)

// BarcodePoolLowRule 可用条码低于阈值（但未耗尽）
func BarcodePoolLowRule(stats PoolStatsFunc, threshold int) AlertRule {
	return AlertRule{
		ID:   "barcode_pool_low",
		Name: "Barcode Pool Low",
		Condition: func(ctx context.Context) (bool, map[string]any) {
			s, err := stats(ctx)
			if err != nil {
				return false, nil
			}
			return s.Available > 0 && s.Available <= threshold, poolMetadata(s)
		},
		Level:     AlertLevelWarning,
		Component: "barcode_pool",
		Message:   fmt.Sprintf("Available barcodes at or below %d, upload more barcodes", threshold),
	}
}

// BarcodePoolEmptyRule 条码池已耗尽
func BarcodePoolEmptyRule(stats PoolStatsFunc) AlertRule {
	return AlertRule{
		ID:   "barcode_pool_empty",
		Name: "Barcode Pool Empty",
		Condition: func(ctx context.Context) (bool, map[string]any) {
			s, err := stats(ctx)
			if err != nil {
				return false, nil
			}
			return s.Available == 0, poolMetadata(s)
		},
		Level:     AlertLevelCritical,
		Component: "barcode_pool",
		Message:   "No barcodes available, label previews will fail until barcodes are uploaded",
	}
}

func poolMetadata(s domain.PoolStats) map[string]any {
	return map[string]any{"total": s.Total, "used": s.Used, "available": s.Available}
}

// ========== 告警接收器实现 ==========

// LogAlertReceiver 日志告警接收器
type LogAlertReceiver struct {
	logger *zap.Logger
}

// NewLogAlertReceiver 创建日志告警接收器
func NewLogAlertReceiver(logger *zap.Logger) *LogAlertReceiver {
	return &LogAlertReceiver{logger: logger}
}

// SendAlert 发送告警到日志
func (lar *LogAlertReceiver) SendAlert(_ context.Context, alert *Alert) error {
	fields := []zap.Field{
		zap.String("alert_id", alert.ID),
		zap.String("title", alert.Title),
		zap.String("message", alert.Message),
		zap.String("component", alert.Component),
		zap.Any("metadata", alert.Metadata),
		zap.Time("timestamp", alert.Timestamp),
	}

	switch alert.Level {
	case AlertLevelCritical:
		lar.logger.Error("CRITICAL ALERT", fields...)
	case AlertLevelWarning:
		lar.logger.Warn("WARNING ALERT", fields...)
	default:
		lar.logger.Info("INFO ALERT", fields...)
	}
	return nil
}

// SMTPConfig SMTP 告警接收器配置
type SMTPConfig struct {
	Addr     string
	Username string
	Password string
	From     string
	To       []string
}

// SMTPAlertReceiver 通过 SMTP 发送告警邮件
type SMTPAlertReceiver struct {
	cfg      SMTPConfig
	sendMail func(addr string, a sasl.Client, from string, to []string, r *bytes.Reader) error
}

// NewSMTPAlertReceiver 创建 SMTP 告警接收器
func NewSMTPAlertReceiver(cfg SMTPConfig) *SMTPAlertReceiver {
	return &SMTPAlertReceiver{
		cfg: cfg,
		sendMail: func(addr string, a sasl.Client, from string, to []string, r *bytes.Reader) error {
			return smtp.SendMail(addr, a, from, to, r)
		},
	}
}

// SendAlert 发送告警邮件
func (r *SMTPAlertReceiver) SendAlert(ctx context.Context, alert *Alert) error {
	if len(r.cfg.To) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth sasl.Client
	if r.cfg.Username != "" {
		auth = sasl.NewPlainClient("", r.cfg.Username, r.cfg.Password)
	}

	if err := r.sendMail(r.cfg.Addr, auth, r.cfg.From, r.cfg.To, bytes.NewReader(r.compose(alert))); err != nil {
		return fmt.Errorf("send alert mail: %w", err)
	}
	return nil
}

func (r *SMTPAlertReceiver) compose(alert *Alert) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", r.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(r.cfg.To, ", "))
	fmt.Fprintf(&b, "Subject: [labelgate][%s] %s\r\n", strings.ToUpper(string(alert.Level)), alert.Title)
	fmt.Fprintf(&b, "Date: %s\r\n", alert.Timestamp.UTC().Format(time.RFC1123Z))
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&b, "%s\r\n\r\n", alert.Message)
	fmt.Fprintf(&b, "component: %s\r\n", alert.Component)
	for k, v := range alert.Metadata {
		fmt.Fprintf(&b, "%s: %v\r\n", k, v)
	}
	return []byte(b.String())
}
