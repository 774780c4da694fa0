package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/dispatch/internal/domain"
)

const (
	// BasePath — префикс REST API.
	BasePath = "/api/v1/dispatch"

	pathWindows = BasePath + "/windows"
	pathReserve = BasePath + "/reserve/{windowId}"
)

// Reserver — операции движка резервирования, нужные REST-адаптеру.
type Reserver interface {
	ReserveSlot(ctx context.Context, windowID, zoneID string) error
	ListWindows(ctx context.Context) ([]domain.DispatchWindow, error)
}

// WindowResponse — окно в JSON-ответе GET /windows.
type WindowResponse struct {
	ID             string         `json:"id"`
	Date           string         `json:"date"`
	Start          string         `json:"start"`
	End            string         `json:"end"`
	CapacityTotal  int            `json:"capacityTotal"`
	CapacityByZone map[string]int `json:"capacityByZone"`
}

// Options задаёт необязательные параметры обработчика.
type Options struct {
	// CORSOrigin разрешённый Origin; пустая строка отключает CORS-заголовки.
	CORSOrigin string
	// Limiter ограничивает частоту запросов по клиенту; nil — без ограничений.
	Limiter *LimiterStore
	Logger  *log.Entry
	Now     func() time.Time
}

// Handler — REST-адаптер над движком резервирования.
type Handler struct {
	reserver Reserver
	opts     Options
	logger   *log.Entry
	now      func() time.Time
}

// NewHandler создаёт REST-обработчик.
func NewHandler(reserver Reserver, opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "http-api")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Handler{reserver: reserver, opts: opts, logger: logger, now: now}
}

// Routes возвращает http.Handler со всеми маршрутами и middleware.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+pathWindows, h.listWindows)
	mux.HandleFunc("POST "+pathReserve, h.reserve)

	var handler http.Handler = mux
	if h.opts.Limiter != nil {
		handler = rateLimit(h.opts.Limiter, h.writeError)(handler)
	}
	return h.cors(handler)
}

func (h *Handler) listWindows(w http.ResponseWriter, r *http.Request) {
	windows, err := h.reserver.ListWindows(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	result := make([]WindowResponse, 0, len(windows))
	for _, window := range windows {
		result = append(result, toWindowResponse(window))
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Date != result[j].Date {
			return result[i].Date < result[j].Date
		}
		return result[i].Start < result[j].Start
	})

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) reserve(w http.ResponseWriter, r *http.Request) {
	windowID := strings.TrimSpace(r.PathValue("windowId"))
	zoneID := strings.TrimSpace(r.URL.Query().Get("zoneId"))
	if windowID == "" {
		h.writeError(w, r, http.StatusBadRequest, "window id is required")
		return
	}
	if zoneID == "" {
		h.writeError(w, r, http.StatusBadRequest, "query parameter zoneId is required")
		return
	}

	if err := h.reserver.ReserveSlot(r.Context(), windowID, zoneID); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Reservation confirmed in " + zoneID))
}

func (h *Handler) cors(next http.Handler) http.Handler {
	origin := h.opts.CORSOrigin
	if origin == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin == "*" || r.Header.Get("Origin") == origin {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func toWindowResponse(window domain.DispatchWindow) WindowResponse {
	zones := make(map[string]int, len(window.CapacityByZone))
	for zone, remaining := range window.CapacityByZone {
		zones[zone] = remaining
	}
	return WindowResponse{
		ID:             window.ID,
		Date:           window.Date.Format(domain.DateLayout),
		Start:          window.Start.String(),
		End:            window.End.String(),
		CapacityTotal:  window.CapacityTotal,
		CapacityByZone: zones,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
