package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/dispatch/internal/domain"
)

func newWindow(id string, capacities map[string]int) domain.DispatchWindow {
	return domain.DispatchWindow{
		ID:             id,
		Date:           time.Date(2026, 1, 28, 0, 0, 0, 0, time.UTC),
		Start:          domain.NewTimeOfDay(9, 0),
		End:            domain.NewTimeOfDay(11, 0),
		CapacityTotal:  7,
		CapacityByZone: capacities,
	}
}

func TestWindowStore_CreateAndList(t *testing.T) {
	store := NewWindowStore()
	ctx := context.Background()

	later := newWindow("w-2", map[string]int{"zone-1": 1})
	later.Start = domain.NewTimeOfDay(12, 0)
	later.End = domain.NewTimeOfDay(14, 0)

	require.NoError(t, store.Create(ctx, later))
	require.NoError(t, store.Create(ctx, newWindow("w-1", map[string]int{"zone-1": 3})))

	err := store.Create(ctx, newWindow("w-1", nil))
	require.ErrorIs(t, err, domain.ErrWindowAlreadyExists)

	windows, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, windows, 2)
	require.Equal(t, "w-1", windows[0].ID)
	require.Equal(t, "w-2", windows[1].ID)
}

func TestWindowStore_CreateStoresCopy(t *testing.T) {
	store := NewWindowStore()
	ctx := context.Background()

	capacities := map[string]int{"zone-1": 3}
	require.NoError(t, store.Create(ctx, newWindow("w-1", capacities)))
	capacities["zone-1"] = 100

	windows, err := store.List(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, windows[0].CapacityByZone["zone-1"])
}

func TestWindowStore_LoadExclusiveNotFound(t *testing.T) {
	store := NewWindowStore()

	_, err := store.LoadExclusive(context.Background(), "no-existe")
	require.ErrorIs(t, err, domain.ErrWindowNotFound)
	require.Zero(t, store.locks.size())
}

func TestWindowStore_SaveReplacesRecordAndReleases(t *testing.T) {
	store := NewWindowStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newWindow("w-1", map[string]int{"zone-1": 5})))

	lease, err := store.LoadExclusive(ctx, "w-1")
	require.NoError(t, err)

	window := lease.Window()
	window.CapacityByZone = window.WithZoneCapacity("zone-1", 4)
	require.NoError(t, lease.Save(ctx, window))
	require.Zero(t, store.locks.size())

	require.ErrorIs(t, lease.Save(ctx, window), domain.ErrLeaseReleased)
	require.NoError(t, lease.Release())

	again, err := store.LoadExclusive(ctx, "w-1")
	require.NoError(t, err)
	defer again.Release()
	require.Equal(t, 4, again.Window().CapacityByZone["zone-1"])
}

func TestWindowStore_LeaseWindowIsSnapshot(t *testing.T) {
	store := NewWindowStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newWindow("w-1", map[string]int{"zone-1": 5})))

	lease, err := store.LoadExclusive(ctx, "w-1")
	require.NoError(t, err)

	snapshot := lease.Window()
	snapshot.CapacityByZone["zone-1"] = 0
	require.NoError(t, lease.Release())

	windows, err := store.List(ctx)
	require.NoError(t, err)
	require.Equal(t, 5, windows[0].CapacityByZone["zone-1"])
}

func TestWindowStore_LoadExclusiveBlocksSameWindow(t *testing.T) {
	store := NewWindowStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newWindow("w-1", map[string]int{"zone-1": 5})))

	first, err := store.LoadExclusive(ctx, "w-1")
	require.NoError(t, err)

	acquired := make(chan domain.WindowLease, 1)
	go func() {
		second, err := store.LoadExclusive(ctx, "w-1")
		if err != nil {
			close(acquired)
			return
		}
		acquired <- second
	}()

	select {
	case <-acquired:
		t.Fatal("second caller acquired the window while it was held")
	case <-time.After(50 * time.Millisecond):
	}

	window := first.Window()
	window.CapacityByZone = window.WithZoneCapacity("zone-1", 4)
	require.NoError(t, first.Save(ctx, window))

	select {
	case second, ok := <-acquired:
		require.True(t, ok, "second caller failed to acquire")
		require.Equal(t, 4, second.Window().CapacityByZone["zone-1"], "second caller must see the saved state")
		require.NoError(t, second.Release())
	case <-time.After(time.Second):
		t.Fatal("second caller was not unblocked after save")
	}
}

func TestWindowStore_DifferentWindowsDoNotBlock(t *testing.T) {
	store := NewWindowStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newWindow("w-a", map[string]int{"zone-1": 1})))
	require.NoError(t, store.Create(ctx, newWindow("w-b", map[string]int{"zone-1": 1})))

	held, err := store.LoadExclusive(ctx, "w-a")
	require.NoError(t, err)
	defer held.Release()

	waitCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()

	other, err := store.LoadExclusive(waitCtx, "w-b")
	require.NoError(t, err)
	require.NoError(t, other.Release())
}

func TestWindowStore_LoadExclusiveHonoursContext(t *testing.T) {
	store := NewWindowStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newWindow("w-1", map[string]int{"zone-1": 5})))

	held, err := store.LoadExclusive(ctx, "w-1")
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()

	_, err = store.LoadExclusive(waitCtx, "w-1")
	require.Error(t, err)
	require.True(t, errors.Is(err, context.DeadlineExceeded))

	require.NoError(t, held.Release())
	require.Zero(t, store.locks.size())
}

func TestWindowStore_ConcurrentDecrementsAreSerialized(t *testing.T) {
	store := NewWindowStore()
	ctx := context.Background()
	const workers = 64
	require.NoError(t, store.Create(ctx, newWindow("w-1", map[string]int{"zone-1": workers})))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := store.LoadExclusive(ctx, "w-1")
			if err != nil {
				t.Errorf("load exclusive: %v", err)
				return
			}
			window := lease.Window()
			window.CapacityByZone = window.WithZoneCapacity("zone-1", window.CapacityByZone["zone-1"]-1)
			if err := lease.Save(ctx, window); err != nil {
				t.Errorf("save: %v", err)
			}
		}()
	}
	wg.Wait()

	windows, err := store.List(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, windows[0].CapacityByZone["zone-1"])
	require.Zero(t, store.locks.size())
}
