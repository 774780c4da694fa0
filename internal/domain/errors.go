package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrWindowNotFound возвращается, если окна с таким идентификатором нет.
	ErrWindowNotFound = errors.New("dispatch window not found")
	// ErrZoneNotOffered — окно существует, но зона в нём не обслуживается.
	ErrZoneNotOffered = errors.New("zone is not offered in this dispatch window")
	// ErrZoneExhausted — зона обслуживается, но свободных слотов не осталось.
	ErrZoneExhausted = errors.New("zone capacity exhausted")
	// ErrStore — сбой хранилища, не связанный с бизнес-правилами.
	ErrStore = errors.New("capacity store failure")

	// ErrWindowAlreadyExists возвращается при повторном создании окна.
	ErrWindowAlreadyExists = errors.New("dispatch window already exists")
	// ErrLeaseReleased — попытка сохранить окно после освобождения эксклюзивного доступа.
	ErrLeaseReleased = errors.New("window lease already released")
	// ErrLeaseLost — эксклюзивный доступ истёк до сохранения (например, TTL блокировки в Redis).
	ErrLeaseLost = errors.New("window lease lost before save")

	// Ошибки валидации окна при создании.
	ErrWindowIDRequired    = errors.New("window id is required")
	ErrWindowBoundsInvalid = errors.New("window start must be before end")
	ErrCapacityNegative    = errors.New("capacity must be non-negative")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// StoreError оборачивает сбой конкретного хранилища.
// errors.Is(err, ErrStore) истинно для любого StoreError.
type StoreError struct {
	Op  string
	Err error
}

// NewStoreError создаёт StoreError для операции op.
func NewStoreError(op string, err error) *StoreError {
	return &StoreError{Op: op, Err: err}
}

func (e *StoreError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", ErrStore.Error(), e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", ErrStore.Error(), e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Is позволяет сравнивать StoreError с ErrStore через errors.Is.
func (e *StoreError) Is(target error) bool {
	return target == ErrStore
}

// ErrorKind — класс ошибки резервирования для адаптеров.
type ErrorKind string

const (
	ErrorKindNone           ErrorKind = ""
	ErrorKindWindowNotFound ErrorKind = "window_not_found"
	ErrorKindZoneNotOffered ErrorKind = "zone_not_offered"
	ErrorKindZoneExhausted  ErrorKind = "zone_exhausted"
	ErrorKindStore          ErrorKind = "store_error"
	ErrorKindCanceled       ErrorKind = "canceled"
	ErrorKindUnknown        ErrorKind = "unknown"
)

// KindOf классифицирует ошибку резервирования.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ErrorKindNone
	case errors.Is(err, ErrWindowNotFound):
		return ErrorKindWindowNotFound
	case errors.Is(err, ErrZoneNotOffered):
		return ErrorKindZoneNotOffered
	case errors.Is(err, ErrZoneExhausted):
		return ErrorKindZoneExhausted
	case errors.Is(err, ErrStore):
		return ErrorKindStore
	case isContextError(err):
		return ErrorKindCanceled
	default:
		return ErrorKindUnknown
	}
}

// IsBusinessError сообщает, что ошибка вызвана бизнес-правилом, а не сбоем системы.
func IsBusinessError(err error) bool {
	switch KindOf(err) {
	case ErrorKindWindowNotFound, ErrorKindZoneNotOffered, ErrorKindZoneExhausted:
		return true
	default:
		return false
	}
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
