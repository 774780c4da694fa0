package dispatchv1

import (
	"fmt"
	"math"
	"sort"

	"google.golang.org/protobuf/types/known/structpb"
)

// Поля сообщений DispatchService.
const (
	FieldWindowID       = "window_id"
	FieldZoneID         = "zone_id"
	FieldStatus         = "status"
	FieldID             = "id"
	FieldDate           = "date"
	FieldStartTime      = "start_time"
	FieldEndTime        = "end_time"
	FieldCapacityTotal  = "capacity_total"
	FieldCapacityByZone = "capacity_by_zone"
)

// ReserveSlotRequest — типизированное представление запроса ReserveSlot.
type ReserveSlotRequest struct {
	WindowID string
	ZoneID   string
}

// ToStruct кодирует запрос в google.protobuf.Struct.
func (r ReserveSlotRequest) ToStruct() *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldWindowID: structpb.NewStringValue(r.WindowID),
		FieldZoneID:   structpb.NewStringValue(r.ZoneID),
	}}
}

// ReserveSlotRequestFromStruct читает запрос. Отсутствующие поля остаются пустыми.
func ReserveSlotRequestFromStruct(s *structpb.Struct) (ReserveSlotRequest, error) {
	var req ReserveSlotRequest
	if s == nil {
		return req, nil
	}
	var err error
	if req.WindowID, err = stringField(s, FieldWindowID); err != nil {
		return ReserveSlotRequest{}, err
	}
	if req.ZoneID, err = stringField(s, FieldZoneID); err != nil {
		return ReserveSlotRequest{}, err
	}
	return req, nil
}

// StatusReserved — значение поля status в ответе ReserveSlot.
const StatusReserved = "reserved"

// ReserveSlotResponse — ответ ReserveSlot.
type ReserveSlotResponse struct {
	WindowID string
	ZoneID   string
	Status   string
}

// ToStruct кодирует ответ в google.protobuf.Struct.
func (r ReserveSlotResponse) ToStruct() *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldWindowID: structpb.NewStringValue(r.WindowID),
		FieldZoneID:   structpb.NewStringValue(r.ZoneID),
		FieldStatus:   structpb.NewStringValue(r.Status),
	}}
}

// ReserveSlotResponseFromStruct читает ответ ReserveSlot.
func ReserveSlotResponseFromStruct(s *structpb.Struct) (ReserveSlotResponse, error) {
	var (
		resp ReserveSlotResponse
		err  error
	)
	if resp.WindowID, err = stringField(s, FieldWindowID); err != nil {
		return ReserveSlotResponse{}, err
	}
	if resp.ZoneID, err = stringField(s, FieldZoneID); err != nil {
		return ReserveSlotResponse{}, err
	}
	if resp.Status, err = stringField(s, FieldStatus); err != nil {
		return ReserveSlotResponse{}, err
	}
	return resp, nil
}

// Window — окно отгрузки в ответе ListWindows.
type Window struct {
	ID             string
	Date           string
	StartTime      string
	EndTime        string
	CapacityTotal  int
	CapacityByZone map[string]int
}

// ToValue кодирует окно в google.protobuf.Value со Struct внутри.
func (w Window) ToValue() *structpb.Value {
	zones := make(map[string]*structpb.Value, len(w.CapacityByZone))
	for zone, remaining := range w.CapacityByZone {
		zones[zone] = structpb.NewNumberValue(float64(remaining))
	}
	return structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
		FieldID:             structpb.NewStringValue(w.ID),
		FieldDate:           structpb.NewStringValue(w.Date),
		FieldStartTime:      structpb.NewStringValue(w.StartTime),
		FieldEndTime:        structpb.NewStringValue(w.EndTime),
		FieldCapacityTotal:  structpb.NewNumberValue(float64(w.CapacityTotal)),
		FieldCapacityByZone: structpb.NewStructValue(&structpb.Struct{Fields: zones}),
	}})
}

// WindowFromValue декодирует окно из ответа ListWindows.
func WindowFromValue(v *structpb.Value) (Window, error) {
	s := v.GetStructValue()
	if s == nil {
		return Window{}, fmt.Errorf("window: expected struct value")
	}

	var (
		w   Window
		err error
	)
	if w.ID, err = stringField(s, FieldID); err != nil {
		return Window{}, err
	}
	if w.Date, err = stringField(s, FieldDate); err != nil {
		return Window{}, err
	}
	if w.StartTime, err = stringField(s, FieldStartTime); err != nil {
		return Window{}, err
	}
	if w.EndTime, err = stringField(s, FieldEndTime); err != nil {
		return Window{}, err
	}
	if w.CapacityTotal, err = intValue(FieldCapacityTotal, s.GetFields()[FieldCapacityTotal]); err != nil {
		return Window{}, err
	}

	w.CapacityByZone = map[string]int{}
	for zone, value := range s.GetFields()[FieldCapacityByZone].GetStructValue().GetFields() {
		remaining, err := intValue(FieldCapacityByZone+"."+zone, value)
		if err != nil {
			return Window{}, err
		}
		w.CapacityByZone[zone] = remaining
	}
	return w, nil
}

// WindowsToList собирает ответ ListWindows.
func WindowsToList(windows []Window) *structpb.ListValue {
	values := make([]*structpb.Value, 0, len(windows))
	for _, w := range windows {
		values = append(values, w.ToValue())
	}
	return &structpb.ListValue{Values: values}
}

// WindowsFromList разбирает ответ ListWindows.
func WindowsFromList(list *structpb.ListValue) ([]Window, error) {
	windows := make([]Window, 0, len(list.GetValues()))
	for idx, value := range list.GetValues() {
		w, err := WindowFromValue(value)
		if err != nil {
			return nil, fmt.Errorf("windows[%d]: %w", idx, err)
		}
		windows = append(windows, w)
	}
	return windows, nil
}

// Zones возвращает зоны окна в алфавитном порядке.
func (w Window) Zones() []string {
	zones := make([]string, 0, len(w.CapacityByZone))
	for zone := range w.CapacityByZone {
		zones = append(zones, zone)
	}
	sort.Strings(zones)
	return zones
}

func stringField(s *structpb.Struct, name string) (string, error) {
	value, ok := s.GetFields()[name]
	if !ok || value == nil {
		return "", nil
	}
	if _, isNull := value.GetKind().(*structpb.Value_NullValue); isNull {
		return "", nil
	}
	str, ok := value.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", fmt.Errorf("%s: expected string", name)
	}
	return str.StringValue, nil
}

func intValue(name string, value *structpb.Value) (int, error) {
	if value == nil {
		return 0, nil
	}
	num, ok := value.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, fmt.Errorf("%s: expected number", name)
	}
	if num.NumberValue != math.Trunc(num.NumberValue) {
		return 0, fmt.Errorf("%s: expected integer, got %v", name, num.NumberValue)
	}
	return int(num.NumberValue), nil
}
