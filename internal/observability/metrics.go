package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Metrics provides basic in-memory counters for requests and dispatch
// outcomes.
type Metrics struct {
	mu           sync.Mutex
	requestCount map[string]int64
	errorCount   map[string]int64

	assignments int64
	timeouts    int64
	conflicts   int64
	escalations int64
	transfers   int64
	closes      int64
}

// NewMetrics initializes metrics storage.
func NewMetrics() *Metrics {
	return &Metrics{
		requestCount: make(map[string]int64),
		errorCount:   make(map[string]int64),
	}
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	key := pathKey(path, method, status)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount[key]++
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	key := path + "|" + method + "|" + code
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorCount[key]++
}

// RecordAssignment counts a successful entry assignment.
func (m *Metrics) RecordAssignment() { m.add(&m.assignments) }

// RecordTimeout counts an entry that found no eligible agent.
func (m *Metrics) RecordTimeout() { m.add(&m.timeouts) }

// RecordConflict counts a lost optimistic-concurrency race.
func (m *Metrics) RecordConflict() { m.add(&m.conflicts) }

// RecordEscalations counts SLA escalations applied by a sweep.
func (m *Metrics) RecordEscalations(n int) {
	if m == nil || n == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.escalations += int64(n)
}

// RecordTransfer counts a completed chat transfer.
func (m *Metrics) RecordTransfer() { m.add(&m.transfers) }

// RecordClose counts a closed chat.
func (m *Metrics) RecordClose() { m.add(&m.closes) }

// DispatchSnapshot reports the dispatch counters.
func (m *Metrics) DispatchSnapshot() map[string]int64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]int64{
		"assignments": m.assignments,
		"timeouts":    m.timeouts,
		"conflicts":   m.conflicts,
		"escalations": m.escalations,
		"transfers":   m.transfers,
		"closes":      m.closes,
	}
}

func (m *Metrics) add(counter *int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	*counter++
}

func pathKey(path, method string, status int) string {
	return path + "|" + method + "|" + strconv.Itoa(status)
}

// RequestLogger logs each request and feeds the request counters.
func RequestLogger(logger *zap.Logger, metrics *Metrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		duration := time.Since(start)

		status := c.Response().StatusCode()
		metrics.RecordRequest(c.Path(), c.Method(), status, duration)
		logger.Debug("request",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Duration("duration", duration))
		return err
	}
}
