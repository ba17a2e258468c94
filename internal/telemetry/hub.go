package telemetry

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/rjboer/GoFM/internal/logging"
)

// Config represents the runtime configuration exposed by the telemetry hub.
type Config struct {
	HistoryLimit int `json:"historyLimit"`
}

const (
	minHistoryLimit = 1
	maxHistoryLimit = 10_000
)

func defaultConfig() Config {
	return Config{HistoryLimit: 500}
}

func validateConfig(cfg Config, base Config) (Config, error) {
	if base.HistoryLimit == 0 {
		base = defaultConfig()
	}
	if cfg.HistoryLimit == 0 {
		cfg.HistoryLimit = base.HistoryLimit
	}
	if cfg.HistoryLimit < minHistoryLimit || cfg.HistoryLimit > maxHistoryLimit {
		return Config{}, fmt.Errorf("history limit must be between %d and %d", minHistoryLimit, maxHistoryLimit)
	}
	return cfg, nil
}

// Sample is one per-block snapshot of the receive pipeline.
type Sample struct {
	Timestamp      time.Time `json:"timestamp"`
	Session        string    `json:"session"`
	State          string    `json:"state"`
	FrequencyHz    float64   `json:"frequencyHz"`
	Level          float64   `json:"level"`
	BufferDepth    int       `json:"bufferDepth"`
	BufferCapacity int       `json:"bufferCapacity"`
	Dropped        uint64    `json:"dropped"`
	Underruns      uint64    `json:"underruns"`
	Blocks         uint64    `json:"blocks"`
}

// SpectrumSnapshot is the most recent baseband power spectrum.
type SpectrumSnapshot struct {
	Timestamp  time.Time `json:"timestamp"`
	Source     string    `json:"source"`
	CenterHz   float64   `json:"centerHz"`
	SampleRate float64   `json:"sampleRate"`
	Bins       []float64 `json:"bins"`
}

// ProcessMetrics reports runtime figures for the diagnostics endpoints.
type ProcessMetrics struct {
	NumGoroutine int           `json:"numGoroutine"`
	HeapAlloc    uint64        `json:"heapAlloc"`
	Uptime       time.Duration `json:"uptime"`
}

// Diagnostics bundles process metrics, the latest sample and the spectrum.
type Diagnostics struct {
	Process  ProcessMetrics   `json:"process"`
	Latest   *Sample          `json:"latest,omitempty"`
	Spectrum SpectrumSnapshot `json:"spectrum"`
}

// HealthStatus is "ok" while fresh samples arrive and "degraded" otherwise.
type HealthStatus struct {
	Status  string         `json:"status"`
	Reason  string         `json:"reason,omitempty"`
	Process ProcessMetrics `json:"process"`
}

// staleAfter is how old the newest sample may be before health degrades.
const staleAfter = 3 * time.Second

// Hub collects history and fans out telemetry updates to subscribers.
type Hub struct {
	mu           sync.RWMutex
	history      []Sample
	historyLimit int
	subscribers  map[chan Sample]struct{}
	config       Config
	spectrum     SpectrumSnapshot
	started      time.Time
	logger       logging.Logger
}

// NewHub builds a telemetry hub with the provided history limit.
func NewHub(historyLimit int, logger logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Default()
	}
	cfg := defaultConfig()
	if historyLimit > 0 {
		cfg.HistoryLimit = historyLimit
	}
	cfg, err := validateConfig(cfg, defaultConfig())
	if err != nil {
		cfg = defaultConfig()
	}
	return &Hub{
		historyLimit: cfg.HistoryLimit,
		subscribers:  make(map[chan Sample]struct{}),
		config:       cfg,
		started:      time.Now(),
		logger:       logger.With(logging.Subsystem("telemetry")),
	}
}

// Report implements Reporter and records a new telemetry sample. Slow
// subscribers miss samples rather than block the pipeline.
func (h *Hub) Report(sample Sample) {
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now()
	}

	h.mu.Lock()
	h.history = append(h.history, sample)
	if len(h.history) > h.historyLimit {
		h.history = h.history[len(h.history)-h.historyLimit:]
	}
	for ch := range h.subscribers {
		select {
		case ch <- sample:
		default:
		}
	}
	h.mu.Unlock()
}

// History returns a copy of stored telemetry samples.
func (h *Hub) History() []Sample {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Sample, len(h.history))
	copy(out, h.history)
	return out
}

// Latest returns the newest sample, if any.
func (h *Hub) Latest() (Sample, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.history) == 0 {
		return Sample{}, false
	}
	return h.history[len(h.history)-1], true
}

// ConfigSnapshot returns the latest validated configuration.
func (h *Hub) ConfigSnapshot() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

// Subscribe registers a listener for live updates.
func (h *Hub) Subscribe() (chan Sample, func()) {
	ch := make(chan Sample, 16)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subscribers, ch)
			close(ch)
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

// UpdateSpectrumSnapshot stores a copy of bins as the current spectrum.
func (h *Hub) UpdateSpectrumSnapshot(bins []float64, source string, centerHz, sampleRate float64) {
	snap := SpectrumSnapshot{
		Timestamp:  time.Now(),
		Source:     source,
		CenterHz:   centerHz,
		SampleRate: sampleRate,
		Bins:       append([]float64(nil), bins...),
	}
	h.mu.Lock()
	h.spectrum = snap
	h.mu.Unlock()
}

// Spectrum returns the current spectrum snapshot.
func (h *Hub) Spectrum() SpectrumSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	snap := h.spectrum
	snap.Bins = append([]float64(nil), snap.Bins...)
	return snap
}

func (h *Hub) processMetrics() ProcessMetrics {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ProcessMetrics{
		NumGoroutine: runtime.NumGoroutine(),
		HeapAlloc:    ms.HeapAlloc,
		Uptime:       time.Since(h.started),
	}
}

// Health classifies the pipeline from the age of the newest sample.
func (h *Hub) Health() HealthStatus {
	status := HealthStatus{Status: "ok", Process: h.processMetrics()}
	latest, ok := h.Latest()
	switch {
	case !ok:
		status.Status, status.Reason = "degraded", "no samples received"
	case time.Since(latest.Timestamp) > staleAfter:
		status.Status, status.Reason = "degraded", "samples are stale"
	case latest.State != "streaming":
		status.Status, status.Reason = "degraded", "receiver is "+latest.State
	}
	return status
}

// MultiReporter fans out telemetry to multiple destinations.
type MultiReporter []Reporter

// Report forwards telemetry to each configured reporter.
func (m MultiReporter) Report(sample Sample) {
	for _, r := range m {
		if r != nil {
			r.Report(sample)
		}
	}
}

func (h *Hub) applyConfig(cfg Config) {
	h.config = cfg
	h.historyLimit = cfg.HistoryLimit
	if len(h.history) > h.historyLimit {
		h.history = h.history[len(h.history)-h.historyLimit:]
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func (h *Hub) handleHistory(w http.ResponseWriter, r *http.Request) {
	if allowGet(w, r) {
		writeJSON(w, http.StatusOK, h.History())
	}
}

func (h *Hub) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if allowGet(w, r) {
		writeJSON(w, http.StatusOK, h.ConfigSnapshot())
	}
}

func (h *Hub) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var incoming Config
	if err := json.NewDecoder(r.Body).Decode(&incoming); err != nil {
		http.Error(w, fmt.Sprintf("invalid config payload: %v", err), http.StatusBadRequest)
		return
	}

	h.mu.RLock()
	current := h.config
	h.mu.RUnlock()

	cfg, err := validateConfig(incoming, current)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	h.applyConfig(cfg)
	h.mu.Unlock()
	h.logger.Info("telemetry config updated", logging.F("history_limit", cfg.HistoryLimit))

	writeJSON(w, http.StatusOK, cfg)
}

func (h *Hub) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	d := Diagnostics{Process: h.processMetrics(), Spectrum: h.Spectrum()}
	if latest, ok := h.Latest(); ok {
		d.Latest = &latest
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *Hub) handleSpectrumSnapshot(w http.ResponseWriter, r *http.Request) {
	if allowGet(w, r) {
		writeJSON(w, http.StatusOK, h.Spectrum())
	}
}

func (h *Hub) handleHealth(w http.ResponseWriter, r *http.Request) {
	if allowGet(w, r) {
		writeJSON(w, http.StatusOK, h.Health())
	}
}

func (h *Hub) handleLive(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := h.Subscribe()
	defer cancel()

	// send existing history for immediate display
	for _, sample := range h.History() {
		writeEvent(w, sample)
	}
	flusher.Flush()

	for {
		select {
		case sample, ok := <-ch:
			if !ok {
				return
			}
			writeEvent(w, sample)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, sample Sample) {
	payload, _ := json.Marshal(sample)
	w.Write([]byte("data: "))
	w.Write(payload)
	w.Write([]byte("\n\n"))
}
