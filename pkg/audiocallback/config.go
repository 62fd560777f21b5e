package audiocallback

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/crosswire-audio/crosswire/pkg/codec"
	"github.com/google/uuid"
)

// InputMixModeEnum selects how capture channels map onto the transmit path.
type InputMixModeEnum string

const (
	InputMixModeMono      InputMixModeEnum = "mono"
	InputMixModeStereo    InputMixModeEnum = "stereo"
	InputMixModeMixToMono InputMixModeEnum = "mix-to-mono"
)

// The block sizes the callback contract is specified for.
const (
	MinFramesPerBlock = 16
	MaxFramesPerBlock = 1024
)

var supportedSampleRates = []int{22050, 32000, 44100, 48000, 88200, 96000, 192000}

var (
	errUnsupportedSampleRate = errors.New("sample rate is not one of the supported rates")
	errInvalidBlockSize      = errors.New("frames per block out of range")
	errInvalidMaxBlockSize   = errors.New("maximum frames per block smaller than frames per block")
	errInvalidBitResolution  = errors.New("bit resolution must be 8, 16, 24 or 32 bits")
	errInvalidChannelCount   = errors.New("channel counts must be at least one")
	errUnknownInputMixMode   = errors.New("unknown input mix mode")
	errMixToMonoNeedsStereo  = errors.New("mix-to-mono requires a two-channel input")
)

// Config collects everything the orchestrator needs at setup. There is no
// process-wide state: every knob arrives here explicitly.
type Config struct {
	// EndpointID tags this endpoint's log lines; a random identity is
	// generated when left zero.
	EndpointID uuid.UUID

	SampleRate int

	// FramesPerBlock is the block size N the device delivers per callback.
	FramesPerBlock int

	// MaxFramesPerBlock sizes the preallocated scratch buffers. Devices
	// that renegotiate block sizes mid-stream may deliver up to this many
	// frames; zero means FramesPerBlock. A callback delivering more than
	// this is a configuration error.
	MaxFramesPerBlock int

	// BitResolution is the encoded sample width in bytes.
	BitResolution codec.BitResolution
	Quantize24    codec.Quantize24Mode

	NumInputChannels  int
	NumOutputChannels int
	InputMixMode      InputMixModeEnum

	Logger *slog.Logger
}

func (cfg *Config) validate() error {
	supported := false
	for _, rate := range supportedSampleRates {
		if cfg.SampleRate == rate {
			supported = true
			break
		}
	}
	if !supported {
		return fmt.Errorf("%w: %d", errUnsupportedSampleRate, cfg.SampleRate)
	}

	if cfg.FramesPerBlock < MinFramesPerBlock || cfg.FramesPerBlock > MaxFramesPerBlock {
		return fmt.Errorf("%w: %d not in [%d, %d]",
			errInvalidBlockSize, cfg.FramesPerBlock, MinFramesPerBlock, MaxFramesPerBlock)
	}
	if cfg.MaxFramesPerBlock == 0 {
		cfg.MaxFramesPerBlock = cfg.FramesPerBlock
	}
	if cfg.MaxFramesPerBlock < cfg.FramesPerBlock || cfg.MaxFramesPerBlock > MaxFramesPerBlock {
		return fmt.Errorf("%w: max %d, block %d", errInvalidMaxBlockSize, cfg.MaxFramesPerBlock, cfg.FramesPerBlock)
	}

	if !cfg.BitResolution.Valid() {
		return fmt.Errorf("%w: %d bytes", errInvalidBitResolution, cfg.BitResolution)
	}

	if cfg.NumInputChannels < 1 || cfg.NumOutputChannels < 1 {
		return fmt.Errorf("%w: in %d, out %d", errInvalidChannelCount, cfg.NumInputChannels, cfg.NumOutputChannels)
	}

	switch cfg.InputMixMode {
	case InputMixModeMono, InputMixModeStereo:
	case "":
		cfg.InputMixMode = InputMixModeStereo
	case InputMixModeMixToMono:
		if cfg.NumInputChannels != 2 {
			return fmt.Errorf("%w: have %d input channels", errMixToMonoNeedsStereo, cfg.NumInputChannels)
		}
	default:
		return fmt.Errorf("%w: %q", errUnknownInputMixMode, cfg.InputMixMode)
	}

	if cfg.EndpointID == uuid.Nil {
		cfg.EndpointID = uuid.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return nil
}

// networkInputChannels is the channel count actually encoded for transmit:
// one for mix-to-mono (the device adapter premixes), the capture width
// otherwise.
func (cfg *Config) networkInputChannels() int {
	if cfg.InputMixMode == InputMixModeMixToMono {
		return 1
	}
	return cfg.NumInputChannels
}
