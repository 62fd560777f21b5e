package processplugin

import (
	"testing"

	"github.com/crosswire-audio/crosswire/pkg/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingPlugin notes every lifecycle call so tests can check ordering.
type recordingPlugin struct {
	id      int
	ins     int
	outs    int
	journal *[]string

	initCalls int
	setIn     int
	setOut    int
}

func (p *recordingPlugin) NumInputs() int  { return p.ins }
func (p *recordingPlugin) NumOutputs() int { return p.outs }

func (p *recordingPlugin) SetChannels(in int, out int) {
	p.setIn = in
	p.setOut = out
}

func (p *recordingPlugin) Init(sampleRate int, framesPerBlock int) {
	p.initCalls++
	*p.journal = append(*p.journal, logEntry("init", p.id))
}

func (p *recordingPlugin) Compute(nframes int, in []frame.PCMFrame, out []frame.PCMFrame) {
	*p.journal = append(*p.journal, logEntry("compute", p.id))
	// Stamp the first sample so in-place execution order is observable.
	for ch := range out {
		out[ch][0] += float32(p.id)
	}
}

func (p *recordingPlugin) Destroy() {
	*p.journal = append(*p.journal, logEntry("destroy", p.id))
}

func logEntry(event string, id int) string {
	return event + string(rune('0'+id))
}

func TestChainRunsPluginsInAppendOrder(t *testing.T) {
	journal := make([]string, 0)
	chain := NewChain(ChainToNetwork, 2)

	first := &recordingPlugin{id: 1, ins: 2, outs: 2, journal: &journal}
	second := &recordingPlugin{id: 2, ins: 2, outs: 2, journal: &journal}
	require.NoError(t, chain.Append(first))
	require.NoError(t, chain.Append(second))

	chain.InitAll(48000, 64, 2, 2)

	bufs := []frame.PCMFrame{make(frame.PCMFrame, 64), make(frame.PCMFrame, 64)}
	chain.Run(64, bufs, bufs)

	assert.Equal(t, []string{"init1", "init2", "compute1", "compute2"}, journal)
	assert.EqualValues(t, 3.0, bufs[0][0], "both plugins must have touched the same in-place buffer")

	chain.DestroyAll()
	assert.Equal(t, []string{"init1", "init2", "compute1", "compute2", "destroy2", "destroy1"}, journal,
		"destruction must run in reverse order")
}

func TestChainInitializesExactlyOnce(t *testing.T) {
	journal := make([]string, 0)
	chain := NewChain(ChainToNetwork, 2)
	plugin := &recordingPlugin{id: 1, ins: 2, outs: 2, journal: &journal}
	require.NoError(t, chain.Append(plugin))

	chain.InitAll(48000, 64, 2, 2)
	chain.InitAll(48000, 64, 2, 2)

	assert.Equal(t, 1, plugin.initCalls)
	assert.Equal(t, 2, plugin.setIn)
	assert.Equal(t, 2, plugin.setOut)
}

func TestChainRejectsIncompatibleChannelCounts(t *testing.T) {
	journal := make([]string, 0)

	toNetwork := NewChain(ChainToNetwork, 2)
	err := toNetwork.Append(&recordingPlugin{id: 1, ins: 1, outs: 1, journal: &journal})
	assert.Error(t, err, "a mono plugin cannot feed a stereo transmit path")
	assert.Zero(t, toNetwork.Len())

	fromNetwork := NewChain(ChainFromNetwork, 1)
	err = fromNetwork.Append(&recordingPlugin{id: 1, ins: 2, outs: 2, journal: &journal})
	assert.Error(t, err, "a stereo plugin cannot drive a mono playback path")

	toMonitor := NewChain(ChainToMonitor, 2)
	err = toMonitor.Append(&recordingPlugin{id: 1, ins: 4, outs: 2, journal: &journal})
	assert.Error(t, err, "a four channel plugin cannot read a stereo monitor path")

	err = toMonitor.Append(&recordingPlugin{id: 1, ins: 2, outs: 2, journal: &journal})
	assert.NoError(t, err)
}

func TestChainRejectsAppendAfterInit(t *testing.T) {
	journal := make([]string, 0)
	chain := NewChain(ChainToNetwork, 2)
	chain.InitAll(48000, 64, 2, 2)

	err := chain.Append(&recordingPlugin{id: 1, ins: 2, outs: 2, journal: &journal})
	assert.Error(t, err)
}

func TestChainRejectsNilPlugin(t *testing.T) {
	chain := NewChain(ChainToNetwork, 2)
	assert.Error(t, chain.Append(nil))
}

func TestGainPluginScalesAllChannels(t *testing.T) {
	plugin := NewGainPlugin(2)
	plugin.SetMagnitude(0.5)

	bufs := []frame.PCMFrame{{0.8, -0.4}, {0.2, 1.0}}
	plugin.Compute(2, bufs, bufs)

	assert.InDelta(t, 0.4, bufs[0][0], 1e-6)
	assert.InDelta(t, -0.2, bufs[0][1], 1e-6)
	assert.InDelta(t, 0.1, bufs[1][0], 1e-6)
	assert.InDelta(t, 0.5, bufs[1][1], 1e-6)
}

func TestGainPluginClampsNegativeMagnitude(t *testing.T) {
	plugin := NewGainPlugin(1)
	plugin.SetMagnitude(-3.0)
	assert.EqualValues(t, 0.0, plugin.Magnitude())
}

func TestStereoToMonoPluginAverages(t *testing.T) {
	plugin := NewStereoToMonoPlugin()

	in := []frame.PCMFrame{{1.0, 0.0, -1.0}, {0.0, 0.0, -1.0}}
	out := []frame.PCMFrame{make(frame.PCMFrame, 3)}
	plugin.Compute(3, in, out)

	assert.InDelta(t, 0.5, out[0][0], 1e-6)
	assert.InDelta(t, 0.0, out[0][1], 1e-6)
	assert.InDelta(t, -1.0, out[0][2], 1e-6)
}
