// Package seed заполняет хранилище окнами доставки: сгенерированными по расписанию
// или загруженными из YAML-файла.
package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/vladislavdragonenkov/dispatch/internal/domain"
)

// DefaultDays — горизонт генерации по умолчанию.
const DefaultDays = 7

// Block — слот внутри дня, который получает каждый сгенерированный день.
type Block struct {
	Suffix string
	Start  domain.TimeOfDay
	End    domain.TimeOfDay
}

// DefaultBlocks — утро, полдень и вечер.
var DefaultBlocks = []Block{
	{Suffix: "1", Start: domain.NewTimeOfDay(9, 0), End: domain.NewTimeOfDay(11, 0)},
	{Suffix: "2", Start: domain.NewTimeOfDay(12, 0), End: domain.NewTimeOfDay(14, 0)},
	{Suffix: "3", Start: domain.NewTimeOfDay(16, 0), End: domain.NewTimeOfDay(18, 0)},
}

// DefaultCapacities — ёмкость каждого сгенерированного окна. zone-3 почти исчерпана с самого начала.
var DefaultCapacities = map[string]int{
	"zone-1": 3,
	"zone-2": 3,
	"zone-3": 1,
}

// Generate строит окна на days дней начиная с даты from (время суток отбрасывается).
// ID окна: w-YYYYMMDD-N.
func Generate(from time.Time, days int) []domain.DispatchWindow {
	if days <= 0 {
		return nil
	}

	start := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	windows := make([]domain.DispatchWindow, 0, days*len(DefaultBlocks))
	for day := 0; day < days; day++ {
		date := start.AddDate(0, 0, day)
		for _, block := range DefaultBlocks {
			windows = append(windows, domain.DispatchWindow{
				ID:             fmt.Sprintf("w-%s-%s", date.Format("20060102"), block.Suffix),
				Date:           date,
				Start:          block.Start,
				End:            block.End,
				CapacityTotal:  sumCapacities(DefaultCapacities),
				CapacityByZone: copyCapacities(DefaultCapacities),
			})
		}
	}
	return windows
}

// fileWindow — описание окна в YAML.
type fileWindow struct {
	ID             string         `yaml:"id"`
	Date           string         `yaml:"date"`
	Start          string         `yaml:"start"`
	End            string         `yaml:"end"`
	CapacityTotal  *int           `yaml:"capacity_total"`
	CapacityByZone map[string]int `yaml:"capacity_by_zone"`
}

type file struct {
	Windows []fileWindow `yaml:"windows"`
}

// LoadFile читает окна из YAML-файла.
func LoadFile(path string) ([]domain.DispatchWindow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()

	windows, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("seed file %s: %w", path, err)
	}
	return windows, nil
}

// Parse разбирает YAML-документ вида:
//
//	windows:
//	  - id: w-20260128-1
//	    date: 2026-01-28
//	    start: "09:00"
//	    end: "11:00"
//	    capacity_by_zone: {zone-1: 3, zone-2: 3}
//
// capacity_total по умолчанию равен сумме зон.
func Parse(r io.Reader) ([]domain.DispatchWindow, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)

	var doc file
	if err := decoder.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode yaml: %w", err)
	}

	windows := make([]domain.DispatchWindow, 0, len(doc.Windows))
	seen := make(map[string]struct{}, len(doc.Windows))
	for i, raw := range doc.Windows {
		window, err := raw.toDomain()
		if err != nil {
			return nil, fmt.Errorf("windows[%d]: %w", i, err)
		}
		if _, dup := seen[window.ID]; dup {
			return nil, fmt.Errorf("windows[%d]: %w: %s", i, domain.ErrWindowAlreadyExists, window.ID)
		}
		seen[window.ID] = struct{}{}
		windows = append(windows, window)
	}
	return windows, nil
}

func (w fileWindow) toDomain() (domain.DispatchWindow, error) {
	date, err := time.Parse(domain.DateLayout, strings.TrimSpace(w.Date))
	if err != nil {
		return domain.DispatchWindow{}, fmt.Errorf("invalid date %q", w.Date)
	}
	start, err := domain.ParseTimeOfDay(w.Start)
	if err != nil {
		return domain.DispatchWindow{}, err
	}
	end, err := domain.ParseTimeOfDay(w.End)
	if err != nil {
		return domain.DispatchWindow{}, err
	}

	window := domain.DispatchWindow{
		ID:             strings.TrimSpace(w.ID),
		Date:           date,
		Start:          start,
		End:            end,
		CapacityTotal:  sumCapacities(w.CapacityByZone),
		CapacityByZone: copyCapacities(w.CapacityByZone),
	}
	if w.CapacityTotal != nil {
		window.CapacityTotal = *w.CapacityTotal
	}
	if errs := window.Validate(); len(errs) > 0 {
		return domain.DispatchWindow{}, errors.Join(errs...)
	}
	return window, nil
}

// Result — итог Apply.
type Result struct {
	Created int
	Skipped int
}

// Apply создаёт окна в каталоге. Уже существующие окна пропускаются и не перезаписываются,
// поэтому повторный запуск не восстанавливает израсходованную ёмкость.
func Apply(ctx context.Context, catalog domain.WindowCatalog, windows []domain.DispatchWindow, logger *log.Entry) (Result, error) {
	if logger == nil {
		logger = log.WithField("component", "seed")
	}

	var result Result
	for _, window := range windows {
		if errs := window.Validate(); len(errs) > 0 {
			return result, fmt.Errorf("window %s: %w", window.ID, errors.Join(errs...))
		}

		err := catalog.Create(ctx, window)
		switch {
		case err == nil:
			result.Created++
		case errors.Is(err, domain.ErrWindowAlreadyExists):
			result.Skipped++
			logger.WithField("window_id", window.ID).Debug("window already exists, skipping")
		default:
			return result, fmt.Errorf("create window %s: %w", window.ID, err)
		}
	}

	logger.WithFields(log.Fields{
		"created": result.Created,
		"skipped": result.Skipped,
	}).Info("dispatch windows seeded")
	return result, nil
}

func sumCapacities(capacities map[string]int) int {
	total := 0
	for _, capacity := range capacities {
		total += capacity
	}
	return total
}

func copyCapacities(src map[string]int) map[string]int {
	dst := make(map[string]int, len(src))
	for zone, capacity := range src {
		dst[zone] = capacity
	}
	return dst
}
