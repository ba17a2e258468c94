package telemetry

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Status is the receiver state served on /api/status.
type Status struct {
	State          string  `json:"state"`
	Session        string  `json:"session,omitempty"`
	Host           string  `json:"host"`
	Port           int     `json:"port"`
	FrequencyHz    float64 `json:"frequencyHz"`
	SampleRate     float64 `json:"sampleRate"`
	AudioRate      int     `json:"audioRate"`
	GainDB         float64 `json:"gainDB"`
	AGC            bool    `json:"agc"`
	PPM            int     `json:"ppm"`
	Level          float64 `json:"level"`
	BufferDepth    int     `json:"bufferDepth"`
	BufferCapacity int     `json:"bufferCapacity"`
	Dropped        uint64  `json:"dropped"`
	Underruns      uint64  `json:"underruns"`
}

// Controller is the receiver control surface driven over HTTP.
type Controller interface {
	Status() Status
	SetFrequency(mhz float64) bool
	SetGain(db float64) bool
	SetHardwareAGC(enabled bool) bool
	SetFreqCorrection(ppm int) bool
}

// ControlRequest changes one or more receiver settings. Absent fields are
// left alone.
type ControlRequest struct {
	FrequencyMHz *float64 `json:"frequencyMHz,omitempty"`
	GainDB       *float64 `json:"gainDB,omitempty"`
	AGC          *bool    `json:"agc,omitempty"`
	PPM          *int     `json:"ppm,omitempty"`
}

// ControlResult reports which settings were accepted and the state after.
type ControlResult struct {
	Applied map[string]bool `json:"applied"`
	Status  Status          `json:"status"`
}

// Tuning limits of an RTL2832U front end.
const (
	MinFrequencyMHz = 24.0
	MaxFrequencyMHz = 1766.0
	MaxGainDB       = 50.0
	MaxPPM          = 1000
)

// Validate checks every present field against the tuning limits.
func (c ControlRequest) Validate() error {
	if c.FrequencyMHz == nil && c.GainDB == nil && c.AGC == nil && c.PPM == nil {
		return fmt.Errorf("empty control request")
	}
	if f := c.FrequencyMHz; f != nil && (*f < MinFrequencyMHz || *f > MaxFrequencyMHz) {
		return fmt.Errorf("frequency must be between %.0f and %.0f MHz", MinFrequencyMHz, MaxFrequencyMHz)
	}
	if g := c.GainDB; g != nil && (*g < 0 || *g > MaxGainDB) {
		return fmt.Errorf("gain must be between 0 and %.0f dB", MaxGainDB)
	}
	if p := c.PPM; p != nil && (*p < -MaxPPM || *p > MaxPPM) {
		return fmt.Errorf("ppm must be between %d and %d", -MaxPPM, MaxPPM)
	}
	return nil
}

// Apply routes the request to ctrl. AGC is applied first so a request that
// turns AGC off can also set a manual gain.
func (c ControlRequest) Apply(ctrl Controller) ControlResult {
	applied := make(map[string]bool)
	if c.AGC != nil {
		applied["agc"] = ctrl.SetHardwareAGC(*c.AGC)
	}
	if c.GainDB != nil {
		applied["gainDB"] = ctrl.SetGain(*c.GainDB)
	}
	if c.FrequencyMHz != nil {
		applied["frequencyMHz"] = ctrl.SetFrequency(*c.FrequencyMHz)
	}
	if c.PPM != nil {
		applied["ppm"] = ctrl.SetFreqCorrection(*c.PPM)
	}
	return ControlResult{Applied: applied, Status: ctrl.Status()}
}

func handleStatus(ctrl Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if allowGet(w, r) {
			writeJSON(w, http.StatusOK, ctrl.Status())
		}
	}
}

func handleControl(ctrl Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req ControlRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("invalid control payload: %v", err), http.StatusBadRequest)
			return
		}
		if err := req.Validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, req.Apply(ctrl))
	}
}
