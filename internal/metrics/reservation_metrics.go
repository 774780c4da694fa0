package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ReservationMetrics содержит метрики движка резервирования.
type ReservationMetrics struct {
	// Итоги ReserveSlot по классам ошибок
	outcomes *prometheus.CounterVec

	// Полное время вызова и время ожидания эксклюзивного доступа
	duration    prometheus.Histogram
	lockWait    prometheus.Histogram
	outboxFails prometheus.Counter

	inFlight prometheus.Gauge
}

// NewReservationMetrics создаёт метрики в DefaultRegisterer.
func NewReservationMetrics() *ReservationMetrics {
	return NewReservationMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewReservationMetricsWithRegisterer создаёт метрики в указанном registerer.
// Повторная регистрация возвращает уже зарегистрированные коллекторы.
func NewReservationMetricsWithRegisterer(registerer prometheus.Registerer) *ReservationMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	latencyBuckets := []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0}

	return &ReservationMetrics{
		outcomes: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "dispatch_reservations_total",
			Help: "Total number of reserve slot calls grouped by outcome",
		}, []string{"outcome"}),
		duration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "dispatch_reservation_duration_seconds",
			Help:    "Duration of reserve slot calls in seconds",
			Buckets: latencyBuckets,
		}),
		lockWait: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "dispatch_window_lock_wait_seconds",
			Help:    "Time spent waiting for exclusive access to a dispatch window",
			Buckets: latencyBuckets,
		}),
		outboxFails: registerCounter(registerer, prometheus.CounterOpts{
			Name: "dispatch_reservation_event_enqueue_failures_total",
			Help: "Total number of slot reserved events that could not be written to the outbox",
		}),
		inFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "dispatch_reservations_in_flight",
			Help: "Number of reserve slot calls currently executing",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

// RecordOutcome увеличивает счётчик итогов с меткой outcome ("reserved", "zone_exhausted", ...).
func (m *ReservationMetrics) RecordOutcome(outcome string) {
	m.outcomes.WithLabelValues(outcome).Inc()
}

// RecordDuration записывает полное время вызова.
func (m *ReservationMetrics) RecordDuration(duration time.Duration) {
	m.duration.Observe(duration.Seconds())
}

// RecordLockWait записывает время ожидания блокировки окна.
func (m *ReservationMetrics) RecordLockWait(duration time.Duration) {
	m.lockWait.Observe(duration.Seconds())
}

// RecordOutboxFailure увеличивает счётчик незаписанных событий.
func (m *ReservationMetrics) RecordOutboxFailure() {
	m.outboxFails.Inc()
}

// InFlightStarted увеличивает количество выполняющихся вызовов.
func (m *ReservationMetrics) InFlightStarted() {
	m.inFlight.Inc()
}

// InFlightFinished уменьшает количество выполняющихся вызовов.
func (m *ReservationMetrics) InFlightFinished() {
	m.inFlight.Dec()
}
