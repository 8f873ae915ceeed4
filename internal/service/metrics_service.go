package service

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	appErrors "github.com/aulaweb/appeals-api/pkg/errors"
)

// MetricsService encapsulates Prometheus instrumentation for the appeal
// workflows.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	bookingsTotal         prometheus.Counter
	bookingConflicts      prometheus.Counter
	outcomesRecorded      prometheus.Counter
	notificationsStored   prometheus.Counter
	notificationsPushed   *prometheus.CounterVec
	notificationsReaped   prometheus.Counter
	writeRetriesExhausted prometheus.Counter
}

// NewMetricsService registers the collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	bookingsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bookings_total",
		Help: "Total successful appeal bookings",
	})

	bookingConflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "booking_conflicts_total",
		Help: "Booking attempts rejected by the uniqueness constraint",
	})

	outcomesRecorded := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "outcomes_recorded_total",
		Help: "Total examination outcomes recorded",
	})

	notificationsStored := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifications_stored_total",
		Help: "Durable notifications persisted",
	})

	notificationsPushed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_pushed_total",
		Help: "Real-time publish attempts by result",
	}, []string{"result"})

	notificationsReaped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifications_reaped_total",
		Help: "Expired notifications deleted by the reaper",
	})

	writeRetriesExhausted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "write_retries_exhausted_total",
		Help: "Writes that failed after exhausting retries",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, bookingsTotal, bookingConflicts,
		outcomesRecorded, notificationsStored, notificationsPushed, notificationsReaped,
		writeRetriesExhausted, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:              registry,
		handler:               handler,
		requestDuration:       requestDuration,
		requestTotal:          requestTotal,
		bookingsTotal:         bookingsTotal,
		bookingConflicts:      bookingConflicts,
		outcomesRecorded:      outcomesRecorded,
		notificationsStored:   notificationsStored,
		notificationsPushed:   notificationsPushed,
		notificationsReaped:   notificationsReaped,
		writeRetriesExhausted: writeRetriesExhausted,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordBooking counts a booking attempt.
func (m *MetricsService) RecordBooking(conflict bool) {
	if m == nil {
		return
	}
	if conflict {
		m.bookingConflicts.Inc()
		return
	}
	m.bookingsTotal.Inc()
}

// RecordOutcome counts a recorded outcome.
func (m *MetricsService) RecordOutcome() {
	if m == nil {
		return
	}
	m.outcomesRecorded.Inc()
}

// RecordNotificationStored counts a persisted notification.
func (m *MetricsService) RecordNotificationStored() {
	if m == nil {
		return
	}
	m.notificationsStored.Inc()
}

// RecordNotificationPushed counts a real-time publish attempt.
func (m *MetricsService) RecordNotificationPushed(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.notificationsPushed.WithLabelValues(result).Inc()
}

// AddNotificationsReaped counts rows removed by a reaper pass.
func (m *MetricsService) AddNotificationsReaped(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.notificationsReaped.Add(float64(n))
}

// RecordRetryExhausted counts writes surfaced as data-access failures.
func (m *MetricsService) RecordRetryExhausted() {
	if m == nil {
		return
	}
	m.writeRetriesExhausted.Inc()
}

// isDataAccess reports whether err carries the data-access code produced when
// a write burns through its retry budget.
func isDataAccess(err error) bool {
	var e *appErrors.Error
	return errors.As(err, &e) && e.Code == appErrors.ErrDataAccess.Code
}
