package service

import (
	"context"
	"time"
)

// EventType 实时事件类型
type EventType string

const (
	EventKeyUsed          EventType = "key_used"
	EventBarcodeAllocated EventType = "barcode_allocated"
	EventBarcodesImported EventType = "barcodes_imported"
	EventBarcodesCleared  EventType = "barcodes_cleared"
	EventKeyChanged       EventType = "key_changed"
	EventKeyDeleted       EventType = "key_deleted"
	EventPoolStatsUpdated EventType = "pool_stats"
)

// Event 推送给管理端的实时事件
type Event struct {
	Type      EventType `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventPublisher 事件发布接口，实现必须是非阻塞的
type EventPublisher interface {
	Publish(ctx context.Context, event Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) {}

func newEvent(t EventType, data any) Event {
	return Event{Type: t, Data: data, Timestamp: time.Now().UTC()}
}
