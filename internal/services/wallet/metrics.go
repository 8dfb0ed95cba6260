package wallet

import (
	"time"

	"github.com/sirupsen/logrus"
)

// NoopMetricsCollector is a no-op implementation of MetricsCollector
type NoopMetricsCollector struct{}

func (n *NoopMetricsCollector) RecordOperationDuration(string, time.Duration) {}
func (n *NoopMetricsCollector) RecordOperationResult(string, string)          {}
func (n *NoopMetricsCollector) RecordCacheHit(string)                         {}
func (n *NoopMetricsCollector) RecordCacheMiss(string)                        {}

// LogMetricsCollector reports wallet metrics as debug log lines. Slow
// operations are logged at warn level.
type LogMetricsCollector struct {
	logger        *logrus.Entry
	slowThreshold time.Duration
}

func NewLogMetricsCollector(logger *logrus.Entry, slowThreshold time.Duration) *LogMetricsCollector {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &LogMetricsCollector{
		logger:        logger.WithField("component", "wallet.metrics"),
		slowThreshold: slowThreshold,
	}
}

func (m *LogMetricsCollector) RecordOperationDuration(operation string, d time.Duration) {
	log := m.logger.WithFields(logrus.Fields{"operation": operation, "duration_ms": d.Milliseconds()})
	if m.slowThreshold > 0 && d >= m.slowThreshold {
		log.Warn("slow wallet operation")
		return
	}
	log.Debug("wallet operation")
}

func (m *LogMetricsCollector) RecordOperationResult(operation, result string) {
	m.logger.WithFields(logrus.Fields{"operation": operation, "result": result}).Debug("wallet operation result")
}

func (m *LogMetricsCollector) RecordCacheHit(key string) {
	m.logger.WithField("owner", key).Debug("balance cache hit")
}

func (m *LogMetricsCollector) RecordCacheMiss(key string) {
	m.logger.WithField("owner", key).Debug("balance cache miss")
}
