package processplugin

import (
	"github.com/crosswire-audio/crosswire/pkg/frame"
)

// ProcessPlugin is one in-place DSP unit runnable in the real-time path.
//
// A plugin is appended to a chain at setup, initialized exactly once before
// the first callback, and from then on only ever called from the real-time
// thread. Compute must not block, allocate, or take locks; it reads and
// writes the per-channel buffers it is handed, which may alias (the chains
// run in place).
type ProcessPlugin interface {
	// NumInputs and NumOutputs declare the channel counts this plugin was
	// built for. Chains reject incompatible plugins at append time.
	NumInputs() int
	NumOutputs() int

	// SetChannels informs the plugin of the actual path width before Init.
	SetChannels(in int, out int)

	// Init prepares the plugin for a fixed sample rate and block size.
	// Called exactly once, before the first Compute.
	Init(sampleRate int, framesPerBlock int)

	// Compute processes nframes samples. in and out hold one buffer per
	// channel and may be the same slices.
	Compute(nframes int, in []frame.PCMFrame, out []frame.PCMFrame)

	// Destroy releases plugin resources. Called at teardown only, in
	// reverse append order.
	Destroy()
}
