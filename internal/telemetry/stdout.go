package telemetry

import (
	"sync"
	"time"

	"github.com/rjboer/GoFM/internal/logging"
)

// Reporter captures telemetry events.
type Reporter interface {
	Report(sample Sample)
}

// StdoutReporter logs pipeline samples, at most one line per interval.
type StdoutReporter struct {
	logger   logging.Logger
	interval time.Duration

	mu   sync.Mutex
	last time.Time
}

// NewStdoutReporter builds a stdout reporter with the provided logger. A
// zero interval logs every sample.
func NewStdoutReporter(logger logging.Logger, interval time.Duration) *StdoutReporter {
	if logger == nil {
		logger = logging.Default()
	}
	return &StdoutReporter{logger: logger, interval: interval}
}

func (r *StdoutReporter) Report(sample Sample) {
	r.mu.Lock()
	if r.interval > 0 && !r.last.IsZero() && sample.Timestamp.Sub(r.last) < r.interval {
		r.mu.Unlock()
		return
	}
	r.last = sample.Timestamp
	r.mu.Unlock()

	fields := []logging.Field{
		logging.Subsystem("telemetry"),
		logging.F("state", sample.State),
		logging.F("level", sample.Level),
		logging.F("buffer", sample.BufferDepth),
	}
	if sample.FrequencyHz != 0 {
		fields = append(fields, logging.F("freq_mhz", sample.FrequencyHz/1e6))
	}
	if sample.Dropped != 0 {
		fields = append(fields, logging.F("dropped", sample.Dropped))
	}
	if sample.Underruns != 0 {
		fields = append(fields, logging.F("underruns", sample.Underruns))
	}
	if sample.Session != "" {
		fields = append(fields, logging.F("session", sample.Session))
	}
	r.logger.Info("telemetry sample", fields...)
}
