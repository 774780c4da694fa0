package domain

import (
	"context"
	"time"
)

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

// Типы событий резервирования.
const (
	AggregateTypeDispatchWindow = "dispatch_window"
	EventTypeSlotReserved       = "slot.reserved"
)

// SlotReservedEvent — полезная нагрузка события успешного резервирования.
type SlotReservedEvent struct {
	WindowID   string    `json:"window_id"`
	ZoneID     string    `json:"zone_id"`
	Remaining  int       `json:"remaining"`
	ReservedAt time.Time `json:"reserved_at"`
}

// Pinger проверяет доступность хранилища для health checks.
type Pinger interface {
	Ping(ctx context.Context) error
}
