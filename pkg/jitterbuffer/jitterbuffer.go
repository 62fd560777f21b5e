package jitterbuffer

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/crosswire-audio/crosswire/pkg/codec"
	"github.com/crosswire-audio/crosswire/pkg/frame"
)

// SeqModulus is the wraparound point of the 16-bit packet sequence counter.
const SeqModulus = 1 << 16

// The pool strategy's linear predictor is validated for blocks up to this
// many frames. Above it the factory logs a warning and falls back to the
// queue strategy, as larger blocks carry enough latency that concealment
// no longer helps.
const maxConcealmentBlock = 256

type StrategyEnum string

const (
	StrategyQueue StrategyEnum = "queue"
	StrategyPool  StrategyEnum = "pool"
)

type UnderrunPolicyEnum string

const (
	UnderrunPolicyZeros      UnderrunPolicyEnum = "zeros"
	UnderrunPolicyReplayLast UnderrunPolicyEnum = "wave-table-replay"
)

var (
	errInvalidGeometry       = errors.New("packet geometry must have positive frames, channels and sample width")
	errInvalidSampleRate     = errors.New("sample rate must be positive")
	errInvalidQueueLength    = errors.New("queue length must be at least one packet")
	errUnknownStrategy       = errors.New("unknown jitter buffer strategy")
	errUnknownUnderrunPolicy = errors.New("unknown underrun policy")
)

// Buffer is the jitter buffer contract shared by both strategies.
//
// Push is called from the network receive goroutine with one encoded frame
// packet and its 16-bit sequence number. Pull is called from the audio
// output callback and must always fill out with exactly one packet's worth
// of bytes: a real packet, a concealed packet, or silence. Neither call
// blocks beyond a short critical section, and neither allocates.
type Buffer interface {
	Push(packet []byte, seq uint16) bool
	Pull(out []byte)
	SnapshotStats() Stats
}

// Config collects everything a jitter buffer needs at construction.
type Config struct {
	Geometry   frame.PacketGeometry
	SampleRate int

	// QueueLength is the nominal target latency, in packets.
	QueueLength int

	Strategy       StrategyEnum
	UnderrunPolicy UnderrunPolicyEnum

	Quantize24 codec.Quantize24Mode

	// Now returns monotonic elapsed time. Leave nil for the wall clock;
	// tests substitute a simulated audio clock.
	Now func() time.Duration

	// Logger allows for a child logger to be used specifically for this
	// buffer. If no logger is given, slog.Default() is used.
	Logger *slog.Logger
}

func (cfg *Config) validate() error {
	if cfg.Geometry.FramesPerBlock <= 0 || cfg.Geometry.NumChannels <= 0 || cfg.Geometry.BytesPerSample <= 0 {
		return errInvalidGeometry
	}
	if !codec.BitResolution(cfg.Geometry.BytesPerSample).Valid() {
		return fmt.Errorf("%w: %d bytes per sample", errInvalidGeometry, cfg.Geometry.BytesPerSample)
	}
	if cfg.SampleRate <= 0 {
		return errInvalidSampleRate
	}
	if cfg.QueueLength < 1 {
		return errInvalidQueueLength
	}
	switch cfg.UnderrunPolicy {
	case UnderrunPolicyZeros, UnderrunPolicyReplayLast, "":
	default:
		return fmt.Errorf("%w: %q", errUnknownUnderrunPolicy, cfg.UnderrunPolicy)
	}
	if cfg.Now == nil {
		start := time.Now()
		cfg.Now = func() time.Duration { return time.Since(start) }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return nil
}

// NewBuffer creates a jitter buffer for the configured strategy.
//
// The pool strategy is only validated for blocks of up to 256 frames;
// beyond that the queue strategy is substituted and a warning is logged.
func NewBuffer(cfg Config) (Buffer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	strategy := cfg.Strategy
	if strategy == StrategyPool && cfg.Geometry.FramesPerBlock > maxConcealmentBlock {
		cfg.Logger.Warn(
			"pool strategy unvalidated for large blocks, falling back to queue strategy",
			"framesPerBlock", cfg.Geometry.FramesPerBlock,
			"maxConcealmentBlock", maxConcealmentBlock,
		)
		strategy = StrategyQueue
	}

	switch strategy {
	case StrategyQueue:
		return newQueueBuffer(cfg), nil
	case StrategyPool:
		return newPoolBuffer(cfg), nil
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownStrategy, cfg.Strategy)
	}
}

// packetDuration returns the wall time one packet spans.
func packetDuration(geometry frame.PacketGeometry, sampleRate int) time.Duration {
	return time.Duration(geometry.FramesPerBlock) * time.Second / time.Duration(sampleRate)
}

// seqAdvance returns how far seq moved ahead of last through the modular
// sequence space, interpreted as a signed 16-bit distance. One is the
// in-order step; more than one means a gap; zero or negative means a
// duplicate or a late, reordered arrival.
func seqAdvance(last uint16, seq uint16) int {
	return int(int16(seq - last))
}
