package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/dispatch/internal/domain"
)

// windowStoreInMemory — in-memory реализация WindowStore с блокировкой на уровне окна.
type windowStoreInMemory struct {
	mu      sync.RWMutex
	windows map[string]domain.DispatchWindow
	locks   *keyLocks
}

// NewWindowStore возвращает in-memory хранилище окон для локальной разработки и тестов.
func NewWindowStore() *windowStoreInMemory {
	return &windowStoreInMemory{
		windows: make(map[string]domain.DispatchWindow),
		locks:   newKeyLocks(),
	}
}

// Create сохраняет новое окно, если ID ещё не занят.
func (s *windowStoreInMemory) Create(_ context.Context, window domain.DispatchWindow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.windows[window.ID]; exists {
		return fmt.Errorf("%w: %s", domain.ErrWindowAlreadyExists, window.ID)
	}
	// Храним копию, чтобы вызывающий код не мог изменить карту ёмкостей в обход блокировки.
	s.windows[window.ID] = window.Clone()
	return nil
}

// List возвращает копии всех окон.
func (s *windowStoreInMemory) List(_ context.Context) ([]domain.DispatchWindow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.DispatchWindow, 0, len(s.windows))
	for _, window := range s.windows {
		result = append(result, window.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].Date.Equal(result[j].Date) {
			return result[i].Date.Before(result[j].Date)
		}
		if result[i].Start != result[j].Start {
			return result[i].Start < result[j].Start
		}
		return result[i].ID < result[j].ID
	})

	return result, nil
}

// LoadExclusive захватывает окно id. Несуществующее окно не блокирует вызов.
func (s *windowStoreInMemory) LoadExclusive(ctx context.Context, id string) (domain.WindowLease, error) {
	if !s.exists(id) {
		return nil, fmt.Errorf("%w: %s", domain.ErrWindowNotFound, id)
	}

	unlock, err := s.locks.acquire(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("acquire window %s: %w", id, err)
	}

	// Перечитываем под блокировкой: до её получения запись могли изменить.
	s.mu.RLock()
	window, ok := s.windows[id]
	s.mu.RUnlock()
	if !ok {
		unlock()
		return nil, fmt.Errorf("%w: %s", domain.ErrWindowNotFound, id)
	}

	return &windowLease{store: s, window: window.Clone(), unlock: unlock}, nil
}

func (s *windowStoreInMemory) exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.windows[id]
	return ok
}

// Ping всегда успешен для in-memory хранилища.
func (s *windowStoreInMemory) Ping(context.Context) error { return nil }

// windowLease удерживает блокировку окна до Save или Release.
type windowLease struct {
	store  *windowStoreInMemory
	window domain.DispatchWindow
	unlock func()

	once     sync.Once
	released bool
}

func (l *windowLease) Window() domain.DispatchWindow {
	return l.window.Clone()
}

// Save заменяет запись целиком и освобождает блокировку.
func (l *windowLease) Save(_ context.Context, window domain.DispatchWindow) error {
	if l.released {
		return domain.ErrLeaseReleased
	}
	if window.ID != l.window.ID {
		return fmt.Errorf("save window %s under lease for %s: %w", window.ID, l.window.ID, domain.ErrLeaseReleased)
	}

	l.store.mu.Lock()
	l.store.windows[window.ID] = window.Clone()
	l.store.mu.Unlock()

	return l.Release()
}

func (l *windowLease) Release() error {
	l.once.Do(func() {
		l.released = true
		l.unlock()
	})
	return nil
}

var (
	_ domain.WindowStore = (*windowStoreInMemory)(nil)
	_ domain.Pinger      = (*windowStoreInMemory)(nil)
	_ domain.WindowLease = (*windowLease)(nil)
)
