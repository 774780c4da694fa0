package redisstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/dispatch/internal/domain"
)

// windowRecord — JSON-представление окна в Redis.
type windowRecord struct {
	ID             string         `json:"id"`
	Date           string         `json:"date"`
	Start          string         `json:"start"`
	End            string         `json:"end"`
	CapacityTotal  int            `json:"capacity_total"`
	CapacityByZone map[string]int `json:"capacity_by_zone"`
}

func encodeWindow(window domain.DispatchWindow) ([]byte, error) {
	return json.Marshal(windowRecord{
		ID:             window.ID,
		Date:           window.Date.Format(domain.DateLayout),
		Start:          window.Start.String(),
		End:            window.End.String(),
		CapacityTotal:  window.CapacityTotal,
		CapacityByZone: window.CapacityByZone,
	})
}

func decodeWindow(raw []byte) (domain.DispatchWindow, error) {
	var rec windowRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domain.DispatchWindow{}, err
	}

	date, err := time.Parse(domain.DateLayout, rec.Date)
	if err != nil {
		return domain.DispatchWindow{}, fmt.Errorf("window %s date: %w", rec.ID, err)
	}
	start, err := domain.ParseTimeOfDay(rec.Start)
	if err != nil {
		return domain.DispatchWindow{}, fmt.Errorf("window %s start: %w", rec.ID, err)
	}
	end, err := domain.ParseTimeOfDay(rec.End)
	if err != nil {
		return domain.DispatchWindow{}, fmt.Errorf("window %s end: %w", rec.ID, err)
	}

	capacities := rec.CapacityByZone
	if capacities == nil {
		capacities = map[string]int{}
	}
	return domain.DispatchWindow{
		ID:             rec.ID,
		Date:           date,
		Start:          start,
		End:            end,
		CapacityTotal:  rec.CapacityTotal,
		CapacityByZone: capacities,
	}, nil
}
