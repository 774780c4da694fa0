package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/dispatch/internal/domain"
)

const uniqueViolation = "23505"

const selectWindowColumns = `
	id, window_date, to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI'), capacity_total`

type windowStore struct {
	db *sql.DB
}

// NewWindowStore создаёт PostgreSQL-реализацию WindowStore.
// Эксклюзивный доступ — транзакция с SELECT ... FOR UPDATE по строке окна.
func NewWindowStore(store *Store) *windowStore {
	return &windowStore{db: store.DB()}
}

func (s *windowStore) LoadExclusive(ctx context.Context, id string) (domain.WindowLease, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, failure(ctx, "begin window tx "+id, err)
	}

	window, err := scanWindow(tx.QueryRowContext(ctx, `SELECT`+selectWindowColumns+`
		FROM dispatch_windows
		WHERE id = $1
		FOR UPDATE`, id))
	if err != nil {
		_ = tx.Rollback()
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrWindowNotFound, id)
		}
		return nil, failure(ctx, "lock window "+id, err)
	}

	capacities, err := loadCapacities(ctx, tx, id)
	if err != nil {
		_ = tx.Rollback()
		return nil, failure(ctx, "load capacities "+id, err)
	}
	window.CapacityByZone = capacities

	return &windowLease{tx: tx, window: window}, nil
}

func (s *windowStore) List(ctx context.Context) ([]domain.DispatchWindow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT`+selectWindowColumns+`
		FROM dispatch_windows
		ORDER BY window_date, start_time, id`)
	if err != nil {
		return nil, failure(ctx, "list windows", err)
	}
	defer rows.Close()

	var (
		windows []domain.DispatchWindow
		index   = map[string]int{}
	)
	for rows.Next() {
		window, err := scanWindow(rows)
		if err != nil {
			return nil, failure(ctx, "scan window", err)
		}
		window.CapacityByZone = map[string]int{}
		index[window.ID] = len(windows)
		windows = append(windows, window)
	}
	if err := rows.Err(); err != nil {
		return nil, failure(ctx, "iterate windows", err)
	}

	capRows, err := s.db.QueryContext(ctx, `SELECT window_id, zone_id, capacity FROM window_capacities`)
	if err != nil {
		return nil, failure(ctx, "list capacities", err)
	}
	defer capRows.Close()

	for capRows.Next() {
		var (
			windowID, zoneID string
			capacity         int
		)
		if err := capRows.Scan(&windowID, &zoneID, &capacity); err != nil {
			return nil, failure(ctx, "scan capacity", err)
		}
		// Окно могло появиться между двумя запросами.
		if idx, ok := index[windowID]; ok {
			windows[idx].CapacityByZone[zoneID] = capacity
		}
	}
	if err := capRows.Err(); err != nil {
		return nil, failure(ctx, "iterate capacities", err)
	}

	return windows, nil
}

func (s *windowStore) Create(ctx context.Context, window domain.DispatchWindow) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return failure(ctx, "begin create tx", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO dispatch_windows (id, window_date, start_time, end_time, capacity_total)
		VALUES ($1, $2, $3::time, $4::time, $5)`,
		window.ID, window.Date.Format(domain.DateLayout), window.Start.String(), window.End.String(), window.CapacityTotal,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s", domain.ErrWindowAlreadyExists, window.ID)
		}
		return failure(ctx, "insert window "+window.ID, err)
	}

	if err = insertCapacities(ctx, tx, window); err != nil {
		return failure(ctx, "insert capacities "+window.ID, err)
	}

	if err = tx.Commit(); err != nil {
		return failure(ctx, "commit window "+window.ID, err)
	}
	return nil
}

func (s *windowStore) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	return s.db.PingContext(pingCtx)
}

// windowLease держит транзакцию с блокировкой строки окна.
type windowLease struct {
	tx     *sql.Tx
	window domain.DispatchWindow

	mu       sync.Mutex
	released bool
}

func (l *windowLease) Window() domain.DispatchWindow {
	return l.window.Clone()
}

// Save обновляет строку окна, заменяет ёмкости целиком и коммитит транзакцию.
func (l *windowLease) Save(ctx context.Context, window domain.DispatchWindow) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.released {
		return domain.ErrLeaseReleased
	}
	if window.ID != l.window.ID {
		return fmt.Errorf("save window %s under lease for %s: %w", window.ID, l.window.ID, domain.ErrLeaseReleased)
	}
	l.released = true

	if err := l.write(ctx, window); err != nil {
		_ = l.tx.Rollback()
		return failure(ctx, "save window "+window.ID, err)
	}
	if err := l.tx.Commit(); err != nil {
		return failure(ctx, "commit window "+window.ID, err)
	}
	return nil
}

func (l *windowLease) write(ctx context.Context, window domain.DispatchWindow) error {
	if _, err := l.tx.ExecContext(ctx, `
		UPDATE dispatch_windows
		SET window_date = $2,
		    start_time = $3::time,
		    end_time = $4::time,
		    capacity_total = $5,
		    updated_at = $6
		WHERE id = $1`,
		window.ID, window.Date.Format(domain.DateLayout), window.Start.String(), window.End.String(),
		window.CapacityTotal, time.Now().UTC(),
	); err != nil {
		return err
	}

	if _, err := l.tx.ExecContext(ctx, `DELETE FROM window_capacities WHERE window_id = $1`, window.ID); err != nil {
		return err
	}
	return insertCapacities(ctx, l.tx, window)
}

// Release откатывает транзакцию и снимает блокировку. Повторный вызов ничего не делает.
func (l *windowLease) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.released {
		return nil
	}
	l.released = true

	if err := l.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return domain.NewStoreError("release window "+l.window.ID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWindow(row rowScanner) (domain.DispatchWindow, error) {
	var (
		window     domain.DispatchWindow
		start, end string
	)
	if err := row.Scan(&window.ID, &window.Date, &start, &end, &window.CapacityTotal); err != nil {
		return domain.DispatchWindow{}, err
	}

	var err error
	if window.Start, err = domain.ParseTimeOfDay(start); err != nil {
		return domain.DispatchWindow{}, fmt.Errorf("window %s start: %w", window.ID, err)
	}
	if window.End, err = domain.ParseTimeOfDay(end); err != nil {
		return domain.DispatchWindow{}, fmt.Errorf("window %s end: %w", window.ID, err)
	}
	window.Date = time.Date(window.Date.Year(), window.Date.Month(), window.Date.Day(), 0, 0, 0, 0, time.UTC)
	return window, nil
}

func loadCapacities(ctx context.Context, tx *sql.Tx, windowID string) (map[string]int, error) {
	rows, err := tx.QueryContext(ctx, `SELECT zone_id, capacity FROM window_capacities WHERE window_id = $1`, windowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	capacities := map[string]int{}
	for rows.Next() {
		var (
			zoneID   string
			capacity int
		)
		if err := rows.Scan(&zoneID, &capacity); err != nil {
			return nil, err
		}
		capacities[zoneID] = capacity
	}
	return capacities, rows.Err()
}

func insertCapacities(ctx context.Context, tx *sql.Tx, window domain.DispatchWindow) error {
	for zoneID, capacity := range window.CapacityByZone {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO window_capacities (window_id, zone_id, capacity)
			VALUES ($1, $2, $3)`, window.ID, zoneID, capacity); err != nil {
			return err
		}
	}
	return nil
}

// failure отличает отмену вызывающего от сбоя базы: первая возвращается как ошибка context.
func failure(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", op, ctxErr)
	}
	return domain.NewStoreError(op, err)
}

var (
	_ domain.WindowStore = (*windowStore)(nil)
	_ domain.Pinger      = (*windowStore)(nil)
	_ domain.WindowLease = (*windowLease)(nil)
	_ domain.Pinger      = (*Store)(nil)
)
