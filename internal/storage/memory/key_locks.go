package memory

import (
	"context"
	"sync"
)

// keyLocks — таблица блокировок по ключу. Запись живёт, пока на неё есть
// держатель или ожидающие, затем удаляется.
type keyLocks struct {
	mu    sync.Mutex
	slots map[string]*keySlot
}

type keySlot struct {
	sem  chan struct{}
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{slots: make(map[string]*keySlot)}
}

// acquire ждёт эксклюзивного доступа к key или отмены ctx.
// Возвращает функцию освобождения, которую нужно вызвать ровно один раз.
func (l *keyLocks) acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[key]
	if !ok {
		slot = &keySlot{sem: make(chan struct{}, 1)}
		l.slots[key] = slot
	}
	slot.refs++
	l.mu.Unlock()

	select {
	case slot.sem <- struct{}{}:
		return func() {
			<-slot.sem
			l.unref(key, slot)
		}, nil
	case <-ctx.Done():
		l.unref(key, slot)
		return nil, ctx.Err()
	}
}

func (l *keyLocks) unref(key string, slot *keySlot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, key)
	}
}

// size возвращает количество активных записей (используется в тестах).
func (l *keyLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
