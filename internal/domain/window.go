package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateLayout — формат календарной даты окна (YYYY-MM-DD).
const DateLayout = "2006-01-02"

// TimeOfDay — время суток в минутах от полуночи.
type TimeOfDay int

// NewTimeOfDay собирает время суток из часов и минут.
func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*60 + minute)
}

// ParseTimeOfDay разбирает строки вида "HH:MM" и "HH:MM:SS" (секунды отбрасываются).
func ParseTimeOfDay(value string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid time of day %q", value)
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid hour in %q", value)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid minute in %q", value)
	}

	return NewTimeOfDay(hour, minute), nil
}

// Hour возвращает часовую компоненту.
func (t TimeOfDay) Hour() int { return int(t) / 60 }

// Minute возвращает минутную компоненту.
func (t TimeOfDay) Minute() int { return int(t) % 60 }

// String форматирует время как HH:MM.
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// DispatchWindow — временное окно доставки с остатками ёмкости по зонам.
type DispatchWindow struct {
	// ID неизменяем после создания, формат для ядра непрозрачен (например, w-20260128-1).
	ID   string
	Date time.Time
	// Start и End — границы окна внутри дня, Start < End.
	Start TimeOfDay
	End   TimeOfDay
	// CapacityTotal носит справочный характер и не синхронизируется с CapacityByZone.
	CapacityTotal int
	// CapacityByZone — остаток по каждой зоне. Отсутствующий ключ означает,
	// что зона в этом окне не обслуживается.
	CapacityByZone map[string]int
}

// Clone возвращает копию окна с собственной картой ёмкостей.
func (w DispatchWindow) Clone() DispatchWindow {
	out := w
	out.CapacityByZone = copyCapacities(w.CapacityByZone, len(w.CapacityByZone))
	return out
}

// WithZoneCapacity строит новую карту ёмкостей, отличающуюся от текущей одной записью.
// Исходная карта не изменяется.
func (w DispatchWindow) WithZoneCapacity(zoneID string, capacity int) map[string]int {
	next := copyCapacities(w.CapacityByZone, len(w.CapacityByZone)+1)
	next[zoneID] = capacity
	return next
}

// ZoneCapacity возвращает остаток зоны и признак того, что зона обслуживается окном.
func (w DispatchWindow) ZoneCapacity(zoneID string) (int, bool) {
	capacity, ok := w.CapacityByZone[zoneID]
	return capacity, ok
}

// Validate проверяет инварианты окна при создании.
func (w *DispatchWindow) Validate() []error {
	var errs []error

	if strings.TrimSpace(w.ID) == "" {
		errs = append(errs, ErrWindowIDRequired)
	}
	if w.Start >= w.End {
		errs = append(errs, ErrWindowBoundsInvalid)
	}
	if w.CapacityTotal < 0 {
		errs = append(errs, ErrCapacityNegative)
	}
	for _, capacity := range w.CapacityByZone {
		if capacity < 0 {
			errs = append(errs, ErrCapacityNegative)
			break
		}
	}

	return errs
}

func copyCapacities(src map[string]int, size int) map[string]int {
	dst := make(map[string]int, size)
	for zone, capacity := range src {
		dst[zone] = capacity
	}
	return dst
}
