// Package app wires the rtl_tcp client, the FM demodulation chain and the
// playback buffer into a live receiver with a small control surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"hz.tools/rf"
	"hz.tools/sdr"

	"github.com/rjboer/GoFM/internal/dsp"
	"github.com/rjboer/GoFM/internal/logging"
	"github.com/rjboer/GoFM/internal/playback"
	"github.com/rjboer/GoFM/internal/telemetry"
	"github.com/rjboer/GoFM/rtltcp"
)

// State is the receiver connection state.
type State int

const (
	Disconnected State = iota
	Connected
	Streaming
)

func (s State) String() string {
	switch s {
	case Connected:
		return "connected"
	case Streaming:
		return "streaming"
	default:
		return "disconnected"
	}
}

// SpectrumObserver receives baseband spectrum snapshots. *telemetry.Hub
// satisfies it.
type SpectrumObserver interface {
	UpdateSpectrumSnapshot(bins []float64, source string, centerHz, sampleRate float64)
}

// SinkFactory builds the output sink that drains buf at rate Hz.
type SinkFactory func(buf *playback.Buffer, rate int) playback.Sink

// Option customises a Player.
type Option func(*Player)

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option { return func(p *Player) { p.logger = l } }

// WithSink selects the output sink. The default is a playback.NullSink.
func WithSink(f SinkFactory) Option { return func(p *Player) { p.newSink = f } }

// WithReporter sends one telemetry sample per processed block to r.
func WithReporter(r telemetry.Reporter) Option { return func(p *Player) { p.reporter = r } }

// WithSpectrum publishes periodic spectrum snapshots to o.
func WithSpectrum(o SpectrumObserver) Option { return func(p *Player) { p.spectrum = o } }

// WithDialer routes the rtl_tcp connection through d, e.g. an SSH tunnel.
func WithDialer(d rtltcp.ContextDialer) Option { return func(p *Player) { p.dialer = d } }

// captureRun is the state of one capture goroutine.
type captureRun struct {
	session   string
	blockSize int
	chunkSize int
	sdrRate   float64
	resampler *dsp.Resampler
	analyser  *dsp.Spectrum
	every     int
	quit      chan struct{}
	done      chan struct{}
}

// Player is the live FM receiver. Control methods may be called from any
// goroutine; they are serialized by an internal mutex. Audio is produced by
// one capture goroutine per Start and consumed by the sink.
type Player struct {
	mu  sync.Mutex
	cfg Config
	run *captureRun

	client   *rtltcp.Client
	buffer   *playback.Buffer
	sink     playback.Sink
	disc     *dsp.Discriminator
	cond     *dsp.Conditioner
	reporter telemetry.Reporter
	spectrum SpectrumObserver
	logger   logging.Logger
	newSink  SinkFactory
	dialer   rtltcp.ContextDialer

	running atomic.Bool
	tunedHz atomic.Uint64
	session atomic.Value
	blocks  atomic.Uint64
}

// NewPlayer builds a disconnected player. Zero fields of cfg take their
// defaults.
func NewPlayer(cfg Config, opts ...Option) (*Player, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid receiver config: %w", err)
	}

	p := &Player{
		cfg:  cfg,
		disc: dsp.NewDiscriminator(),
		cond: dsp.NewConditioner(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logging.Default()
	}
	p.logger = p.logger.With(logging.Subsystem("player"))

	p.buffer = playback.NewBuffer(cfg.BufferCapacity, cfg.ChunkSize)
	if p.newSink == nil {
		p.newSink = func(buf *playback.Buffer, rate int) playback.Sink {
			return playback.NewNullSink(buf, rate)
		}
	}
	p.sink = p.newSink(p.buffer, cfg.AudioRate)

	p.client = rtltcp.New(cfg.Host, cfg.Port, p.logger)
	p.client.ReadTimeout = cfg.ReadTimeout
	if p.dialer != nil {
		p.client.Dialer = p.dialer
	}

	p.tunedHz.Store(math.Float64bits(float64(cfg.Frequency)))
	p.session.Store("")
	return p, nil
}

// Connect opens the rtl_tcp connection. It refuses while streaming, and
// waits up to JoinTimeout for a capture goroutine that is still winding
// down so its teardown cannot close the new connection.
func (p *Player) Connect(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running.Load() {
		p.logger.Warn("already streaming; stop before reconnecting")
		return false
	}
	if prev := p.run; prev != nil {
		select {
		case <-prev.done:
		case <-time.After(p.cfg.JoinTimeout):
			p.logger.Error("previous capture loop still running", logging.F("session", prev.session))
			return false
		}
	}
	return p.client.Connect(ctx) == nil
}

// Start initialises the tuner, starts the sink and spawns the capture
// goroutine. It fails without changing state when not connected, when a
// previous capture goroutine does not exit in time, or when hardware
// initialisation or the sink fails.
func (p *Player) Start() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running.Load() {
		p.logger.Warn("already streaming")
		return false
	}
	if !p.client.Connected() {
		p.logger.Error("cannot start: not connected", logging.F("addr", p.client.Addr()))
		return false
	}
	if prev := p.run; prev != nil {
		select {
		case <-prev.done:
		case <-time.After(p.cfg.JoinTimeout):
			p.logger.Error("previous capture loop still running", logging.F("session", prev.session))
			return false
		}
	}

	resampler, err := dsp.NewResampler(int(p.cfg.SampleRate), p.cfg.AudioRate)
	if err != nil {
		p.logger.Error("cannot build resampler", logging.F("err", err))
		return false
	}
	if !p.initHardware() {
		p.logger.Error("SDR initialization failed")
		return false
	}
	if err := p.sink.Start(); err != nil && !errors.Is(err, playback.ErrSinkRunning) {
		p.logger.Error("failed to start audio sink", logging.F("err", err))
		return false
	}

	run := &captureRun{
		session:   uuid.NewString(),
		blockSize: p.cfg.BlockSize,
		chunkSize: p.cfg.ChunkSize,
		sdrRate:   float64(p.cfg.SampleRate),
		resampler: resampler,
		every:     p.cfg.SpectrumEvery,
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	if p.spectrum != nil && p.cfg.SpectrumSize > 0 {
		run.analyser = dsp.NewSpectrum(p.cfg.SpectrumSize)
	}

	p.disc.Reset()
	p.buffer.Reset()
	p.blocks.Store(0)
	p.session.Store(run.session)
	p.run = run
	p.running.Store(true)
	go p.capture(run)

	up, down := resampler.Ratio()
	p.logger.Info("live FM streaming started",
		logging.F("session", run.session),
		logging.F("freq_mhz", float64(p.cfg.Frequency)/1e6),
		logging.F("resample", fmt.Sprintf("%d/%d", up, down)))
	return true
}

// initHardware sends the tuner setup sequence. Every command is sent even
// after a failure; the result is the AND of all of them.
func (p *Player) initHardware() bool {
	ok := p.client.SetSampleRate(p.cfg.SampleRate)
	if p.cfg.AGC {
		ok = p.client.EnableAGC() && ok
	} else {
		ok = p.client.DisableAGC() && ok
		ok = p.client.SetGain(p.cfg.GainDB) && ok
	}
	ok = p.client.SetFreqCorrection(p.cfg.PPM) && ok
	ok = p.client.SetFrequency(p.cfg.Frequency) && ok
	return ok
}

// Stop ends streaming: it clears the running flag, waits up to JoinTimeout
// for the capture goroutine and stops the sink. If the goroutine is still
// blocked after JoinTimeout the connection is dropped to release it. Stop is
// a no-op when not streaming.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *Player) stopLocked() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	run := p.run
	close(run.quit)
	select {
	case <-run.done:
	case <-time.After(p.cfg.JoinTimeout):
		// A read stuck without a deadline only returns once the socket
		// closes.
		p.logger.Warn("capture loop did not exit in time; dropping connection",
			logging.F("session", run.session))
		p.client.Disconnect()
		select {
		case <-run.done:
		case <-time.After(p.cfg.JoinTimeout):
			p.logger.Error("capture loop still running after disconnect", logging.F("session", run.session))
		}
	}
	if err := p.sink.Stop(); err != nil {
		p.logger.Warn("audio sink stop failed", logging.F("err", err))
	}
	p.logger.Info("live FM streaming stopped", logging.F("session", run.session))
}

// Disconnect stops streaming if needed, closes the socket and zeroes the
// level reading.
func (p *Player) Disconnect() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	p.client.Disconnect()
	p.cond.ResetLevel()
}

// Close stops and disconnects.
func (p *Player) Close() { p.Disconnect() }

// Done is closed when the current capture goroutine exits, whether by Stop
// or by giving up on the stream. With no capture goroutine it is closed.
func (p *Player) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.run == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return p.run.done
}

func (p *Player) capture(run *captureRun) {
	defer close(run.done)

	var retry backoff.BackOff = backoff.NewConstantBackOff(p.cfg.ReadRetryDelay)
	if p.cfg.MaxReadRetries > 0 {
		retry = backoff.WithMaxRetries(retry, uint64(p.cfg.MaxReadRetries))
	}
	retry.Reset()

	chunk := make([]float32, run.chunkSize)
	for p.running.Load() {
		select {
		case <-run.quit:
			return
		default:
		}

		samples := p.client.ReadSamples(run.blockSize)
		if samples == nil {
			wait := retry.NextBackOff()
			if wait == backoff.Stop {
				p.giveUp(run)
				return
			}
			select {
			case <-time.After(wait):
			case <-run.quit:
				return
			}
			continue
		}
		retry.Reset()
		p.process(run, samples, chunk)
	}
}

// giveUp tears down after the retry policy is exhausted, unless Stop has
// already claimed the teardown.
func (p *Player) giveUp(run *captureRun) {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	p.logger.Error("no samples from server, giving up",
		logging.F("session", run.session),
		logging.F("retries", p.cfg.MaxReadRetries))
	if err := p.sink.Stop(); err != nil {
		p.logger.Warn("audio sink stop failed", logging.F("err", err))
	}
	p.client.Disconnect()
	p.cond.ResetLevel()
}

func (p *Player) process(run *captureRun, samples sdr.SamplesC64, chunk []float32) {
	demod := p.disc.Demodulate(samples)
	if len(demod) == 0 {
		return
	}
	audio := p.cond.Process(run.resampler.Process(demod))

	for i := 0; i < len(audio); i += run.chunkSize {
		n := min(run.chunkSize, len(audio)-i)
		for j, v := range audio[i : i+n] {
			chunk[j] = float32(v)
		}
		p.buffer.Push(chunk[:n])
	}

	blocks := p.blocks.Add(1)
	if run.analyser != nil && (blocks-1)%uint64(run.every) == 0 {
		if bins := run.analyser.DBFS(samples); bins != nil {
			p.spectrum.UpdateSpectrumSnapshot(bins, run.session, p.tuned(), run.sdrRate)
		}
	}
	if p.reporter != nil {
		st := p.buffer.Stats()
		p.reporter.Report(telemetry.Sample{
			Timestamp:      time.Now(),
			Session:        run.session,
			State:          p.State().String(),
			FrequencyHz:    p.tuned(),
			Level:          p.cond.Level(),
			BufferDepth:    st.Depth,
			BufferCapacity: st.Capacity,
			Dropped:        st.Dropped,
			Underruns:      st.Underruns,
			Blocks:         blocks,
		})
	}
}

func (p *Player) tuned() float64 { return math.Float64frombits(p.tunedHz.Load()) }

// SetFrequency tunes to mhz. The change is sent to the tuner only while
// streaming; otherwise it applies at the next Start.
func (p *Player) SetFrequency(mhz float64) bool {
	if mhz <= 0 || math.IsNaN(mhz) || math.IsInf(mhz, 0) {
		p.logger.Warn("invalid frequency", logging.F("mhz", mhz))
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	freq := rf.Hz(math.Round(mhz * 1e6))
	p.cfg.Frequency = freq
	p.tunedHz.Store(math.Float64bits(float64(freq)))
	if p.streaming() {
		return p.client.SetFrequency(freq)
	}
	return true
}

// SetGain sets the manual gain, clamped to 0..50 dB. It is rejected with a
// warning while hardware AGC is enabled.
func (p *Player) SetGain(db float64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cfg.AGC {
		p.logger.Warn("cannot set manual gain while AGC is enabled", logging.F("gain_db", db))
		return false
	}
	p.cfg.GainDB = clampGain(db)
	if p.streaming() {
		return p.client.SetGain(p.cfg.GainDB)
	}
	return true
}

// SetHardwareAGC switches between tuner AGC and manual gain. Turning AGC off
// while streaming re-applies the stored manual gain.
func (p *Player) SetHardwareAGC(enabled bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg.AGC = enabled
	if !p.streaming() {
		return true
	}
	if enabled {
		return p.client.EnableAGC()
	}
	return p.client.DisableAGC() && p.client.SetGain(p.cfg.GainDB)
}

// SetFreqCorrection sets the oscillator correction in ppm.
func (p *Player) SetFreqCorrection(ppm int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg.PPM = ppm
	if p.streaming() {
		return p.client.SetFreqCorrection(ppm)
	}
	return true
}

// SetHost changes the server used by the next Connect.
func (p *Player) SetHost(host string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg.Host = host
	p.client.SetAddr(host, p.cfg.Port)
	p.logger.Info("host set", logging.F("host", host))
}

// SetPort changes the port used by the next Connect.
func (p *Player) SetPort(port int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg.Port = port
	p.client.SetAddr(p.cfg.Host, port)
	p.logger.Info("port set", logging.F("port", port))
}

func (p *Player) streaming() bool { return p.running.Load() && p.client.Connected() }

// State derives the connection state. Streaming implies connected.
func (p *Player) State() State {
	switch {
	case p.streaming():
		return Streaming
	case p.client.Connected():
		return Connected
	default:
		return Disconnected
	}
}

// Connected reports whether the socket is open.
func (p *Player) Connected() bool { return p.client.Connected() }

// Streaming reports whether a capture goroutine is active.
func (p *Player) Streaming() bool { return p.streaming() }

// Level returns the 0..1 signal level of the latest audio block.
func (p *Player) Level() float64 { return p.cond.Level() }

// BufferStats reports playback buffer counters.
func (p *Player) BufferStats() playback.Stats { return p.buffer.Stats() }

// Session returns the ID of the current or last streaming session.
func (p *Player) Session() string { return p.session.Load().(string) }

// Info returns the dongle header of the connected server, if it sent one.
func (p *Player) Info() (rtltcp.DongleInfo, bool) { return p.client.Info() }

// Config returns a copy of the current configuration.
func (p *Player) Config() Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// Status implements telemetry.Controller.
func (p *Player) Status() telemetry.Status {
	cfg := p.Config()
	st := p.buffer.Stats()
	return telemetry.Status{
		State:          p.State().String(),
		Session:        p.Session(),
		Host:           cfg.Host,
		Port:           cfg.Port,
		FrequencyHz:    float64(cfg.Frequency),
		SampleRate:     float64(cfg.SampleRate),
		AudioRate:      cfg.AudioRate,
		GainDB:         cfg.GainDB,
		AGC:            cfg.AGC,
		PPM:            cfg.PPM,
		Level:          p.Level(),
		BufferDepth:    st.Depth,
		BufferCapacity: st.Capacity,
		Dropped:        st.Dropped,
		Underruns:      st.Underruns,
	}
}
