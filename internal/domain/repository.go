package domain

import "context"

// CapacityStore — единственная точка изменения ёмкости окон.
type CapacityStore interface {
	// LoadExclusive захватывает эксклюзивный доступ к окну id и возвращает его текущее состояние.
	// Блокируется, пока доступ удерживает другой вызов с тем же id; окна с разными id
	// друг друга не блокируют. Для несуществующего id сразу возвращает ErrWindowNotFound.
	LoadExclusive(ctx context.Context, id string) (WindowLease, error)
}

// WindowLease — удерживаемый эксклюзивный доступ к одному окну.
type WindowLease interface {
	// Window возвращает снимок окна, прочитанный под блокировкой.
	Window() DispatchWindow
	// Save сохраняет полное состояние окна и освобождает доступ.
	Save(ctx context.Context, window DispatchWindow) error
	// Release освобождает доступ без записи. Повторный вызов и вызов после Save безопасны.
	Release() error
}

// WindowCatalog обслуживает чтение списка окон и их первичное создание.
type WindowCatalog interface {
	// List возвращает все окна, упорядоченные по дате, началу и ID.
	List(ctx context.Context) ([]DispatchWindow, error)
	// Create сохраняет новое окно или возвращает ErrWindowAlreadyExists.
	Create(ctx context.Context, window DispatchWindow) error
}

// WindowStore объединяет оба контракта хранилища окон.
type WindowStore interface {
	CapacityStore
	WindowCatalog
}
