package audiocallback

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/crosswire-audio/crosswire/pkg/frame"
)

const (
	// One impulse per second's worth of blocks at 48kHz/128; the exact
	// cadence only affects how fast the latency estimate converges.
	impulseIntervalBlocks = 375

	impulseAmplitude = 0.5
	pulseThreshold   = 0.1
)

// AudioTester measures the full loop latency of the link by injecting an
// impulse on the last transmit channel and timing how long the peer takes
// to echo it back on the playback side.
//
// WriteImpulse and LookForReturnPulse run on the real-time threads;
// everything they touch besides the latency accumulator is callback-local.
// LatencySnapshot may be called from any other goroutine.
type AudioTester struct {
	logger *slog.Logger

	enabled     bool
	sendChannel int
	now         func() time.Duration

	blockCnt    int
	impulseSent time.Duration
	impulseLive bool

	mu          sync.Mutex
	roundTrips  int
	latencyAcc  time.Duration
	latencyLast time.Duration
}

// LatencyStats is a snapshot of the tester's round-trip measurements.
type LatencyStats struct {
	RoundTrips int
	Last       time.Duration
	Mean       time.Duration
}

// NewAudioTester creates a disabled tester. now may be nil for the wall
// clock.
func NewAudioTester(now func() time.Duration, logger *slog.Logger) *AudioTester {
	if now == nil {
		start := time.Now()
		now = func() time.Duration { return time.Since(start) }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AudioTester{
		logger: logger,
		now:    now,
		// Start at the cadence boundary so the very first block already
		// carries an impulse.
		blockCnt: impulseIntervalBlocks,
	}
}

// SetEnabled switches impulse injection on or off. Call before the stream
// starts.
func (t *AudioTester) SetEnabled(enabled bool) {
	t.enabled = enabled
}

func (t *AudioTester) Enabled() bool {
	return t.enabled
}

// setSendChannel is assigned by the orchestrator at setup: the impulse
// rides the last network channel.
func (t *AudioTester) setSendChannel(ch int) {
	t.sendChannel = ch
}

// WriteImpulse overwrites the send channel of the outbound block,
// injecting an impulse at the head of the block on its cadence and
// silence otherwise.
func (t *AudioTester) WriteImpulse(bufs []frame.PCMFrame, nframes int) {
	if t.sendChannel >= len(bufs) {
		return
	}
	buf := bufs[t.sendChannel]
	for s := 0; s < nframes; s++ {
		buf[s] = 0.0
	}

	t.blockCnt++
	if t.blockCnt < impulseIntervalBlocks && t.impulseLive {
		return
	}
	if t.blockCnt >= impulseIntervalBlocks {
		t.blockCnt = 0
		buf[0] = impulseAmplitude
		t.impulseSent = t.now()
		t.impulseLive = true
	}
}

// LookForReturnPulse scans the playback block on the send channel for the
// echoed impulse and records the elapsed round-trip time.
func (t *AudioTester) LookForReturnPulse(bufs []frame.PCMFrame, nframes int) {
	if !t.impulseLive || t.sendChannel >= len(bufs) {
		return
	}
	buf := bufs[t.sendChannel]
	for s := 0; s < nframes; s++ {
		if math.Abs(float64(buf[s])) < pulseThreshold {
			continue
		}
		latency := t.now() - t.impulseSent
		t.impulseLive = false

		t.mu.Lock()
		t.roundTrips++
		t.latencyAcc += latency
		t.latencyLast = latency
		t.mu.Unlock()

		t.logger.Debug(
			"return pulse detected",
			"latency", latency,
			"sampleOffset", s,
		)
		return
	}
}

// LatencySnapshot returns the measurements accumulated so far.
func (t *AudioTester) LatencySnapshot() LatencyStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := LatencyStats{
		RoundTrips: t.roundTrips,
		Last:       t.latencyLast,
	}
	if t.roundTrips > 0 {
		stats.Mean = t.latencyAcc / time.Duration(t.roundTrips)
	}
	return stats
}
