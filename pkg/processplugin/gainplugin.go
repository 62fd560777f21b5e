package processplugin

import (
	"math"
	"sync/atomic"

	"github.com/crosswire-audio/crosswire/pkg/frame"
)

// GainPlugin scales every channel by a single magnitude.
//
// 0.0 means muted, 1.0 is natural scaling, technically uncapped but audio
// clips on encode if values are pushed past full scale. The magnitude may
// be changed from outside the real-time thread at any time.
type GainPlugin struct {
	numChannels int
	// Magnitude is stored as float32 bits so the control thread can move
	// the fader while Compute runs.
	magnitudeBits atomic.Uint32
}

// NewGainPlugin creates a gain stage for the given channel count with the
// magnitude at natural scaling.
func NewGainPlugin(numChannels int) *GainPlugin {
	p := &GainPlugin{numChannels: numChannels}
	p.SetMagnitude(1.0)
	return p
}

func (p *GainPlugin) NumInputs() int  { return p.numChannels }
func (p *GainPlugin) NumOutputs() int { return p.numChannels }

func (p *GainPlugin) SetChannels(in int, out int) {}

func (p *GainPlugin) Init(sampleRate int, framesPerBlock int) {}

func (p *GainPlugin) Compute(nframes int, in []frame.PCMFrame, out []frame.PCMFrame) {
	magnitude := p.Magnitude()
	for ch := range out {
		if ch >= len(in) {
			break
		}
		src := in[ch]
		dst := out[ch]
		for s := 0; s < nframes; s++ {
			dst[s] = src[s] * magnitude
		}
	}
}

func (p *GainPlugin) Destroy() {}

// SetMagnitude moves the fader. Negative values are clamped to muted.
func (p *GainPlugin) SetMagnitude(magnitude float32) {
	if magnitude < 0.0 {
		magnitude = 0.0
	}
	p.magnitudeBits.Store(math.Float32bits(magnitude))
}

// Magnitude returns the current fader position.
func (p *GainPlugin) Magnitude() float32 {
	return math.Float32frombits(p.magnitudeBits.Load())
}
