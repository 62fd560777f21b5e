package processplugin

import (
	"github.com/crosswire-audio/crosswire/pkg/frame"
)

// StereoToMonoPlugin averages a two-channel input down to a single channel,
// writing the mix into the first output channel.
//
// Each side is scaled by half so a correlated signal keeps its level
// instead of doubling.
type StereoToMonoPlugin struct{}

func NewStereoToMonoPlugin() *StereoToMonoPlugin {
	return &StereoToMonoPlugin{}
}

func (p *StereoToMonoPlugin) NumInputs() int  { return 2 }
func (p *StereoToMonoPlugin) NumOutputs() int { return 1 }

func (p *StereoToMonoPlugin) SetChannels(in int, out int) {}

func (p *StereoToMonoPlugin) Init(sampleRate int, framesPerBlock int) {}

func (p *StereoToMonoPlugin) Compute(nframes int, in []frame.PCMFrame, out []frame.PCMFrame) {
	if len(in) < 2 || len(out) < 1 {
		return
	}
	left := in[0]
	right := in[1]
	mixed := out[0]
	for s := 0; s < nframes; s++ {
		mixed[s] = 0.5*left[s] + 0.5*right[s]
	}
}

func (p *StereoToMonoPlugin) Destroy() {}
