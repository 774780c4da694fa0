package reservation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/dispatch/internal/domain"
	"github.com/vladislavdragonenkov/dispatch/internal/metrics"
)

const outcomeReserved = "reserved"

// Options задаёт необязательные зависимости сервиса.
type Options struct {
	// Outbox получает событие slot.reserved после успешного сохранения. nil — события не пишутся.
	Outbox  domain.OutboxRepository
	Metrics *metrics.ReservationMetrics
	Logger  *log.Entry
	// Timeout ограничивает один вызов ReserveSlot, включая ожидание блокировки. 0 — без ограничения.
	Timeout time.Duration
	// Now подменяет часы в тестах.
	Now func() time.Time
}

// Option настраивает Service.
type Option func(*Options)

// WithOutbox включает запись событий резервирования в outbox.
func WithOutbox(repo domain.OutboxRepository) Option {
	return func(opts *Options) { opts.Outbox = repo }
}

// WithMetrics задаёт метрики.
func WithMetrics(m *metrics.ReservationMetrics) Option {
	return func(opts *Options) { opts.Metrics = m }
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) { opts.Logger = logger }
}

// WithTimeout ограничивает длительность ReserveSlot.
func WithTimeout(timeout time.Duration) Option {
	return func(opts *Options) { opts.Timeout = timeout }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(opts *Options) { opts.Now = now }
}

// Service — движок резервирования: атомарная проверка и декремент ёмкости зоны.
// Состояния между вызовами не хранит; каждое обращение перечитывает окно под блокировкой.
type Service struct {
	store   domain.CapacityStore
	catalog domain.WindowCatalog
	outbox  domain.OutboxRepository
	metrics *metrics.ReservationMetrics
	logger  *log.Entry
	timeout time.Duration
	now     func() time.Time
}

// NewService создаёт сервис поверх хранилища окон.
func NewService(store domain.WindowStore, options ...Option) *Service {
	opts := Options{}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "reservation")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if opts.Timeout < 0 {
		opts.Timeout = 0
	}

	return &Service{
		store:   store,
		catalog: store,
		outbox:  opts.Outbox,
		metrics: opts.Metrics,
		logger:  logger,
		timeout: opts.Timeout,
		now:     now,
	}
}

// ReserveSlot уменьшает на единицу ёмкость зоны zoneID в окне windowID.
//
// Возвращаемые ошибки классифицируются через errors.Is: domain.ErrWindowNotFound,
// domain.ErrZoneNotOffered, domain.ErrZoneExhausted, domain.ErrStore. При отмене ctx
// во время ожидания блокировки возвращается обёрнутая ошибка context; изменений нет.
func (s *Service) ReserveSlot(ctx context.Context, windowID, zoneID string) (err error) {
	start := time.Now()
	if s.metrics != nil {
		s.metrics.InFlightStarted()
	}
	defer func() {
		if s.metrics != nil {
			s.metrics.InFlightFinished()
			s.metrics.RecordDuration(time.Since(start))
			s.metrics.RecordOutcome(outcomeOf(err))
		}
	}()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	entry := s.logger.WithFields(log.Fields{
		"window_id": windowID,
		"zone_id":   zoneID,
	})

	lease, err := s.store.LoadExclusive(ctx, windowID)
	if s.metrics != nil {
		s.metrics.RecordLockWait(time.Since(start))
	}
	if err != nil {
		return s.loadFailed(entry, windowID, err)
	}
	// После успешного Save освобождение уже произошло, повторный Release ничего не делает.
	defer func() {
		if releaseErr := lease.Release(); releaseErr != nil {
			entry.WithError(releaseErr).Warn("failed to release window lease")
		}
	}()

	window := lease.Window()

	available, offered := window.ZoneCapacity(zoneID)
	if !offered {
		entry.Debug("zone is not offered in window")
		return fmt.Errorf("reserve slot in %s/%s: %w", windowID, zoneID, domain.ErrZoneNotOffered)
	}
	if available <= 0 {
		entry.Debug("zone capacity exhausted")
		return fmt.Errorf("reserve slot in %s/%s: %w", windowID, zoneID, domain.ErrZoneExhausted)
	}

	remaining := available - 1
	window.CapacityByZone = window.WithZoneCapacity(zoneID, remaining)

	if err := lease.Save(ctx, window); err != nil {
		entry.WithError(err).Error("failed to persist window capacity")
		if errors.Is(err, domain.ErrStore) {
			return err
		}
		return domain.NewStoreError("save window "+windowID, err)
	}

	entry.WithField("remaining", remaining).Info("slot reserved")
	s.enqueueReserved(entry, windowID, zoneID, remaining)

	return nil
}

// ListWindows возвращает все окна без блокировок.
func (s *Service) ListWindows(ctx context.Context) ([]domain.DispatchWindow, error) {
	windows, err := s.catalog.List(ctx)
	if err != nil {
		s.logger.WithError(err).Error("failed to list windows")
		if errors.Is(err, domain.ErrStore) {
			return nil, err
		}
		return nil, domain.NewStoreError("list windows", err)
	}
	return windows, nil
}

func (s *Service) loadFailed(entry *log.Entry, windowID string, err error) error {
	switch {
	case errors.Is(err, domain.ErrWindowNotFound):
		entry.Debug("window not found")
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		entry.WithError(err).Warn("gave up waiting for window lock")
		return err
	case errors.Is(err, domain.ErrStore):
		entry.WithError(err).Error("failed to load window")
		return err
	default:
		entry.WithError(err).Error("failed to load window")
		return domain.NewStoreError("load window "+windowID, err)
	}
}

// enqueueReserved пишет событие в outbox. Резерв к этому моменту уже сохранён,
// поэтому ошибка только логируется.
func (s *Service) enqueueReserved(entry *log.Entry, windowID, zoneID string, remaining int) {
	if s.outbox == nil {
		return
	}

	payload, err := json.Marshal(domain.SlotReservedEvent{
		WindowID:   windowID,
		ZoneID:     zoneID,
		Remaining:  remaining,
		ReservedAt: s.now().UTC(),
	})
	if err == nil {
		_, err = s.outbox.Enqueue(domain.OutboxMessage{
			AggregateType: domain.AggregateTypeDispatchWindow,
			AggregateID:   windowID,
			EventType:     domain.EventTypeSlotReserved,
			Payload:       payload,
		})
	}
	if err != nil {
		entry.WithError(err).Warn("failed to enqueue slot reserved event")
		if s.metrics != nil {
			s.metrics.RecordOutboxFailure()
		}
	}
}

func outcomeOf(err error) string {
	if err == nil {
		return outcomeReserved
	}
	return string(domain.KindOf(err))
}
