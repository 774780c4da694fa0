package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/dispatch/internal/domain"
)

const (
	defaultPrefix       = "dispatch"
	defaultLockTTL      = 5 * time.Second
	defaultPollInterval = 10 * time.Millisecond
	maxPollInterval     = 100 * time.Millisecond
)

// KEYS[1] — ключ аренды, KEYS[2] — запись окна; ARGV[1] — токен, ARGV[2] — новая запись.
// 1 — сохранено и аренда снята, 0 — аренда истекла или принадлежит другому.
var saveScript = redis.NewScript(`
if redis.call('get', KEYS[1]) ~= ARGV[1] then
    return 0
end
redis.call('set', KEYS[2], ARGV[2])
redis.call('del', KEYS[1])
return 1
`)

// KEYS[1] — ключ аренды; ARGV[1] — токен.
var releaseScript = redis.NewScript(`
if redis.call('get', KEYS[1]) == ARGV[1] then
    return redis.call('del', KEYS[1])
end
return 0
`)

// Options настраивает хранилище.
type Options struct {
	// Prefix пространства ключей, по умолчанию "dispatch".
	Prefix string
	// LockTTL — срок аренды окна. Аренда, не сохранённая за это время, теряется.
	LockTTL time.Duration
	// PollInterval — начальный интервал повторных попыток захвата.
	PollInterval time.Duration
}

// WindowStore хранит окна в Redis: JSON-запись на окно, множество-индекс идентификаторов
// и ключ аренды с токеном и TTL для эксклюзивного доступа.
type WindowStore struct {
	rdb          redis.UniversalClient
	prefix       string
	lockTTL      time.Duration
	pollInterval time.Duration
}

// NewWindowStore создаёт хранилище поверх готового клиента.
func NewWindowStore(rdb redis.UniversalClient, opts Options) *WindowStore {
	prefix := strings.Trim(opts.Prefix, ":")
	if prefix == "" {
		prefix = defaultPrefix
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = defaultLockTTL
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	return &WindowStore{
		rdb:          rdb,
		prefix:       prefix,
		lockTTL:      opts.LockTTL,
		pollInterval: opts.PollInterval,
	}
}

func (s *WindowStore) windowKey(id string) string { return s.prefix + ":window:{" + id + "}" }
func (s *WindowStore) leaseKey(id string) string  { return s.prefix + ":lease:{" + id + "}" }
func (s *WindowStore) indexKey() string           { return s.prefix + ":windows" }

func (s *WindowStore) LoadExclusive(ctx context.Context, id string) (domain.WindowLease, error) {
	exists, err := s.rdb.Exists(ctx, s.windowKey(id)).Result()
	if err != nil {
		return nil, failure(ctx, "check window "+id, err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrWindowNotFound, id)
	}

	token := uuid.NewString()
	if err := s.acquire(ctx, id, token); err != nil {
		return nil, err
	}

	raw, err := s.rdb.Get(ctx, s.windowKey(id)).Bytes()
	if err != nil {
		s.releaseQuietly(id, token)
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", domain.ErrWindowNotFound, id)
		}
		return nil, failure(ctx, "load window "+id, err)
	}

	window, err := decodeWindow(raw)
	if err != nil {
		s.releaseQuietly(id, token)
		return nil, domain.NewStoreError("decode window "+id, err)
	}

	return &windowLease{store: s, token: token, window: window}, nil
}

// acquire повторяет SET NX PX с нарастающим интервалом, пока не получит аренду или не отменится ctx.
func (s *WindowStore) acquire(ctx context.Context, id, token string) error {
	wait := s.pollInterval
	for {
		ok, err := s.rdb.SetNX(ctx, s.leaseKey(id), token, s.lockTTL).Result()
		if err != nil {
			return failure(ctx, "acquire window "+id, err)
		}
		if ok {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("acquire window %s: %w", id, ctx.Err())
		case <-timer.C:
		}
		if wait *= 2; wait > maxPollInterval {
			wait = maxPollInterval
		}
	}
}

func (s *WindowStore) releaseQuietly(id, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = releaseScript.Run(ctx, s.rdb, []string{s.leaseKey(id)}, token).Err()
}

func (s *WindowStore) List(ctx context.Context) ([]domain.DispatchWindow, error) {
	ids, err := s.rdb.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, failure(ctx, "list window ids", err)
	}
	if len(ids) == 0 {
		return []domain.DispatchWindow{}, nil
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, s.windowKey(id))
	}

	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, failure(ctx, "load windows", err)
	}

	windows := make([]domain.DispatchWindow, 0, len(values))
	for idx, value := range values {
		str, ok := value.(string)
		if !ok {
			// Индекс пережил запись окна.
			continue
		}
		window, err := decodeWindow([]byte(str))
		if err != nil {
			return nil, domain.NewStoreError("decode window "+ids[idx], err)
		}
		windows = append(windows, window)
	}

	sort.Slice(windows, func(i, j int) bool {
		if !windows[i].Date.Equal(windows[j].Date) {
			return windows[i].Date.Before(windows[j].Date)
		}
		if windows[i].Start != windows[j].Start {
			return windows[i].Start < windows[j].Start
		}
		return windows[i].ID < windows[j].ID
	})
	return windows, nil
}

func (s *WindowStore) Create(ctx context.Context, window domain.DispatchWindow) error {
	raw, err := encodeWindow(window)
	if err != nil {
		return fmt.Errorf("encode window %s: %w", window.ID, err)
	}

	created, err := s.rdb.SetNX(ctx, s.windowKey(window.ID), raw, 0).Result()
	if err != nil {
		return failure(ctx, "create window "+window.ID, err)
	}
	if !created {
		return fmt.Errorf("%w: %s", domain.ErrWindowAlreadyExists, window.ID)
	}
	if err := s.rdb.SAdd(ctx, s.indexKey(), window.ID).Err(); err != nil {
		return failure(ctx, "index window "+window.ID, err)
	}
	return nil
}

func (s *WindowStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

type windowLease struct {
	store  *WindowStore
	token  string
	window domain.DispatchWindow

	mu       sync.Mutex
	released bool
}

func (l *windowLease) Window() domain.DispatchWindow {
	return l.window.Clone()
}

// Save атомарно проверяет токен аренды, записывает окно и снимает аренду.
func (l *windowLease) Save(ctx context.Context, window domain.DispatchWindow) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.released {
		return domain.ErrLeaseReleased
	}
	if window.ID != l.window.ID {
		return fmt.Errorf("save window %s under lease for %s: %w", window.ID, l.window.ID, domain.ErrLeaseReleased)
	}

	raw, err := encodeWindow(window)
	if err != nil {
		return domain.NewStoreError("encode window "+window.ID, err)
	}

	s := l.store
	saved, err := saveScript.Run(ctx, s.rdb, []string{s.leaseKey(window.ID), s.windowKey(window.ID)}, l.token, raw).Int64()
	if err != nil {
		return failure(ctx, "save window "+window.ID, err)
	}
	l.released = true
	if saved == 0 {
		return domain.NewStoreError("save window "+window.ID, domain.ErrLeaseLost)
	}
	return nil
}

func (l *windowLease) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.released {
		return nil
	}
	l.released = true

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := releaseScript.Run(ctx, l.store.rdb, []string{l.store.leaseKey(l.window.ID)}, l.token).Err(); err != nil {
		return domain.NewStoreError("release window "+l.window.ID, err)
	}
	return nil
}

func failure(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", op, ctxErr)
	}
	return domain.NewStoreError(op, err)
}

var (
	_ domain.WindowStore = (*WindowStore)(nil)
	_ domain.Pinger      = (*WindowStore)(nil)
	_ domain.WindowLease = (*windowLease)(nil)
)
