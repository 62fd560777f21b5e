package audiocallback

import (
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/crosswire-audio/crosswire/pkg/codec"
	"github.com/crosswire-audio/crosswire/pkg/frame"
	"github.com/crosswire-audio/crosswire/pkg/jitterbuffer"
	"github.com/crosswire-audio/crosswire/pkg/processplugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureSink records every transmitted packet.
type captureSink struct {
	packets [][]byte
}

func (s *captureSink) Send(packet []byte) {
	s.packets = append(s.packets, append([]byte(nil), packet...))
}

// discardSink drops every packet; for tests that only watch side effects.
type discardSink struct{}

func (discardSink) Send(packet []byte) {}

// zeroSource always delivers silence.
type zeroSource struct{}

func (zeroSource) Receive(out []byte) {
	for i := range out {
		out[i] = 0
	}
}

func newTestConfig(framesPerBlock int, channels int) Config {
	return Config{
		SampleRate:        48000,
		FramesPerBlock:    framesPerBlock,
		BitResolution:     codec.BitResolution16,
		NumInputChannels:  channels,
		NumOutputChannels: channels,
		InputMixMode:      InputMixModeStereo,
	}
}

func rampBuffers(framesPerBlock int, channels int) []frame.PCMFrame {
	bufs := make([]frame.PCMFrame, channels)
	for ch := range bufs {
		bufs[ch] = make(frame.PCMFrame, framesPerBlock)
		for s := range bufs[ch] {
			bufs[ch][s] = float32(s%32)/64.0 - float32(ch)*0.25
		}
	}
	return bufs
}

func TestConfigValidation(t *testing.T) {
	cfg := newTestConfig(64, 2)
	cfg.SampleRate = 44000
	_, err := NewOrchestrator(cfg)
	assert.Error(t, err, "off-list sample rates are rejected")

	cfg = newTestConfig(8, 2)
	_, err = NewOrchestrator(cfg)
	assert.Error(t, err, "blocks under 16 frames are rejected")

	cfg = newTestConfig(64, 2)
	cfg.BitResolution = 5
	_, err = NewOrchestrator(cfg)
	assert.Error(t, err, "invalid sample widths are rejected")

	cfg = newTestConfig(64, 0)
	_, err = NewOrchestrator(cfg)
	assert.Error(t, err, "zero channels are rejected")

	cfg = newTestConfig(64, 1)
	cfg.InputMixMode = InputMixModeMixToMono
	_, err = NewOrchestrator(cfg)
	assert.Error(t, err, "mix-to-mono needs a two channel input")

	cfg = newTestConfig(64, 2)
	cfg.MaxFramesPerBlock = 32
	_, err = NewOrchestrator(cfg)
	assert.Error(t, err, "max block smaller than block is rejected")
}

// With no plugins and no tester, the input callback encodes the device
// buffers straight to the wire and the monitor double-buffer is untouched.
func TestInputCallbackFastPath(t *testing.T) {
	const framesPerBlock = 64
	const channels = 2

	orchestrator, err := NewOrchestrator(newTestConfig(framesPerBlock, channels))
	require.NoError(t, err)

	sink := &captureSink{}
	require.NoError(t, orchestrator.Setup(sink, zeroSource{}))
	defer orchestrator.Teardown()

	in := rampBuffers(framesPerBlock, channels)
	orchestrator.ProcessInputCallback(in, framesPerBlock)

	require.Len(t, sink.packets, 1)

	geometry := frame.PacketGeometry{
		FramesPerBlock: framesPerBlock,
		NumChannels:    channels,
		BytesPerSample: 2,
	}
	want := make([]byte, geometry.PacketBytes())
	codec.NewBlockCodec(geometry, codec.Quantize24Truncate).EncodeBlock(in, want)
	assert.Equal(t, want, sink.packets[0], "fast path output must be the straight interleaved encode")

	// No monitor publish occurred.
	assert.EqualValues(t, 0, orchestrator.monitorIndex.Load())
	for _, buf := range orchestrator.monitorBufs[1] {
		for _, sample := range buf {
			assert.Zero(t, sample, "monitor banks must be untouched on the fast path")
		}
	}
}

// With a to-network plugin appended, the slow path runs the chain on a
// scratch copy and leaves the device buffers alone.
func TestInputCallbackRunsChainOnScratch(t *testing.T) {
	const framesPerBlock = 64
	const channels = 2

	orchestrator, err := NewOrchestrator(newTestConfig(framesPerBlock, channels))
	require.NoError(t, err)

	gain := processplugin.NewGainPlugin(channels)
	gain.SetMagnitude(0.5)
	require.NoError(t, orchestrator.AppendProcessPluginToNetwork(gain))

	sink := &captureSink{}
	require.NoError(t, orchestrator.Setup(sink, zeroSource{}))
	defer orchestrator.Teardown()

	in := rampBuffers(framesPerBlock, channels)
	original := rampBuffers(framesPerBlock, channels)
	orchestrator.ProcessInputCallback(in, framesPerBlock)

	assert.Equal(t, original, in, "device buffers must not be modified")

	require.Len(t, sink.packets, 1)
	geometry := frame.PacketGeometry{
		FramesPerBlock: framesPerBlock,
		NumChannels:    channels,
		BytesPerSample: 2,
	}
	decoded := geometry.NewChannelBuffers()
	codec.NewBlockCodec(geometry, codec.Quantize24Truncate).DecodeBlock(sink.packets[0], decoded)
	for ch := 0; ch < channels; ch++ {
		for s := 0; s < framesPerBlock; s++ {
			assert.InDelta(t, original[ch][s]*0.5, decoded[ch][s], 1.0/32768.0+1e-6,
				"channel %d sample %d must carry the processed signal", ch, s)
		}
	}
}

// Mix-to-mono transmits a single premixed channel.
func TestInputCallbackMixToMonoEncodesOneChannel(t *testing.T) {
	const framesPerBlock = 64

	cfg := newTestConfig(framesPerBlock, 2)
	cfg.InputMixMode = InputMixModeMixToMono
	orchestrator, err := NewOrchestrator(cfg)
	require.NoError(t, err)

	sink := &captureSink{}
	require.NoError(t, orchestrator.Setup(sink, zeroSource{}))
	defer orchestrator.Teardown()

	in := rampBuffers(framesPerBlock, 2)
	orchestrator.ProcessInputCallback(in, framesPerBlock)

	require.Len(t, sink.packets, 1)
	assert.Len(t, sink.packets[0], framesPerBlock*1*2, "mono payload: one channel of 16 bit samples")

	geometry := frame.PacketGeometry{FramesPerBlock: framesPerBlock, NumChannels: 1, BytesPerSample: 2}
	decoded := geometry.NewChannelBuffers()
	codec.NewBlockCodec(geometry, codec.Quantize24Truncate).DecodeBlock(sink.packets[0], decoded)
	for s := 0; s < framesPerBlock; s++ {
		assert.InDelta(t, in[0][s], decoded[0][s], 1.0/32768.0+1e-6,
			"the premixed first channel is the mono source")
	}
}

// One block travels the full loop: input callback, jitter buffer, output
// callback.
func TestBlockRoundTripThroughJitterBuffer(t *testing.T) {
	const framesPerBlock = 64
	const channels = 2

	orchestrator, err := NewOrchestrator(newTestConfig(framesPerBlock, channels))
	require.NoError(t, err)

	geometry := frame.PacketGeometry{
		FramesPerBlock: framesPerBlock,
		NumChannels:    channels,
		BytesPerSample: 2,
	}
	buffer, err := jitterbuffer.NewBuffer(jitterbuffer.Config{
		Geometry:    geometry,
		SampleRate:  48000,
		QueueLength: 2,
		Strategy:    jitterbuffer.StrategyPool,
	})
	require.NoError(t, err)

	require.NoError(t, orchestrator.Setup(pushSink{buffer: buffer}, JitterSource{Buffer: buffer}))
	defer orchestrator.Teardown()

	in := rampBuffers(framesPerBlock, channels)
	orchestrator.ProcessInputCallback(in, framesPerBlock)

	out := geometry.NewChannelBuffers()
	orchestrator.ProcessOutputCallback(out, framesPerBlock)

	for ch := 0; ch < channels; ch++ {
		for s := 0; s < framesPerBlock; s++ {
			assert.InDelta(t, in[ch][s], out[ch][s], 1.0/32768.0+1e-6,
				"channel %d sample %d must survive the loop", ch, s)
		}
	}
}

// pushSink delivers every packet into a local buffer under sequence
// number zero.
type pushSink struct {
	buffer jitterbuffer.Buffer
	seq    uint16
	sent   bool
}

func (s pushSink) Send(packet []byte) {
	// Value receiver keeps this test sink trivially copyable; a single
	// block is all the tests push through it.
	s.buffer.Push(packet, s.seq)
}

// The monitor double-buffer hands complete banks from the input callback
// to the output callback: under a million paced concurrent iterations the
// reader never sees a torn bank.
func TestMonitorDoubleBufferVisibility(t *testing.T) {
	const framesPerBlock = 16
	const channels = 2
	const iterations = 1000000

	orchestrator, err := NewOrchestrator(newTestConfig(framesPerBlock, channels))
	require.NoError(t, err)

	violations := &atomic.Int64{}
	require.NoError(t, orchestrator.AppendProcessPluginToMonitor(&bankVerifierPlugin{violations: violations}))

	require.NoError(t, orchestrator.Setup(discardSink{}, zeroSource{}))
	defer orchestrator.Teardown()

	// The device clock paces the two callbacks; emulate that with a
	// one-deep token channel so writer and reader stay within one block
	// of each other while still running on separate threads.
	tokens := make(chan struct{}, 1)
	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		in := make([]frame.PCMFrame, channels)
		for ch := range in {
			in[ch] = make(frame.PCMFrame, framesPerBlock)
		}
		for i := 0; i < iterations; i++ {
			fill := float32(i%997) / 997.0
			for ch := range in {
				for s := range in[ch] {
					in[ch][s] = fill
				}
			}
			orchestrator.ProcessInputCallback(in, framesPerBlock)
			tokens <- struct{}{}
		}
	}()

	out := make([]frame.PCMFrame, channels)
	for ch := range out {
		out[ch] = make(frame.PCMFrame, framesPerBlock)
	}
	for i := 0; i < iterations; i++ {
		<-tokens
		orchestrator.ProcessOutputCallback(out, framesPerBlock)
	}
	<-writerDone

	assert.Zero(t, violations.Load(), "the reader must never observe a partially written monitor bank")
}

// bankVerifierPlugin checks every monitor bank it is handed for
// uniformity: the input callback fills banks with one constant, so any
// mixture of values is a torn read.
type bankVerifierPlugin struct {
	violations *atomic.Int64
}

func (p *bankVerifierPlugin) NumInputs() int                          { return 2 }
func (p *bankVerifierPlugin) NumOutputs() int                         { return 2 }
func (p *bankVerifierPlugin) SetChannels(in int, out int)             {}
func (p *bankVerifierPlugin) Init(sampleRate int, framesPerBlock int) {}
func (p *bankVerifierPlugin) Destroy()                                {}

func (p *bankVerifierPlugin) Compute(nframes int, in []frame.PCMFrame, out []frame.PCMFrame) {
	want := in[0][0]
	for ch := range in {
		for s := 0; s < nframes; s++ {
			if in[ch][s] != want {
				p.violations.Add(1)
				return
			}
		}
	}
}

// Setup then teardown on an orchestrator that never started leaves no
// goroutines behind and may be repeated.
func TestSetupTeardownIsCleanAndIdempotent(t *testing.T) {
	before := runtime.NumGoroutine()

	orchestrator, err := NewOrchestrator(newTestConfig(64, 2))
	require.NoError(t, err)
	require.NoError(t, orchestrator.Setup(&captureSink{}, zeroSource{}))
	orchestrator.Teardown()
	orchestrator.Teardown()

	assert.Nil(t, orchestrator.scratch)
	assert.Nil(t, orchestrator.inputPacket)

	// Callbacks after teardown are no-ops rather than panics.
	orchestrator.ProcessInputCallback(rampBuffers(64, 2), 64)
	orchestrator.ProcessOutputCallback(rampBuffers(64, 2), 64)

	time.Sleep(10 * time.Millisecond)
	after := runtime.NumGoroutine()
	assert.LessOrEqual(t, after, before, "no goroutines may outlive teardown")
}

func TestSetupRejectsSecondCallAndNilCollaborators(t *testing.T) {
	orchestrator, err := NewOrchestrator(newTestConfig(64, 2))
	require.NoError(t, err)

	assert.Error(t, orchestrator.Setup(nil, zeroSource{}))
	assert.Error(t, orchestrator.Setup(&captureSink{}, nil))

	require.NoError(t, orchestrator.Setup(&captureSink{}, zeroSource{}))
	assert.Error(t, orchestrator.Setup(&captureSink{}, zeroSource{}), "double setup is a usage error")
	orchestrator.Teardown()
}

// The audio tester's impulse survives the loop and is timed on return.
func TestAudioTesterMeasuresRoundTrip(t *testing.T) {
	const framesPerBlock = 64
	const channels = 2

	var now time.Duration
	clock := func() time.Duration { return now }

	orchestrator, err := NewOrchestrator(newTestConfig(framesPerBlock, channels))
	require.NoError(t, err)

	tester := NewAudioTester(clock, nil)
	tester.SetEnabled(true)
	orchestrator.SetAudioTester(tester)

	geometry := frame.PacketGeometry{
		FramesPerBlock: framesPerBlock,
		NumChannels:    channels,
		BytesPerSample: 2,
	}
	buffer, err := jitterbuffer.NewBuffer(jitterbuffer.Config{
		Geometry:    geometry,
		SampleRate:  48000,
		QueueLength: 4,
		Strategy:    jitterbuffer.StrategyPool,
		Now:         clock,
	})
	require.NoError(t, err)

	require.NoError(t, orchestrator.Setup(pushSink{buffer: buffer}, JitterSource{Buffer: buffer}))
	defer orchestrator.Teardown()

	in := rampBuffers(framesPerBlock, channels)
	orchestrator.ProcessInputCallback(in, framesPerBlock)

	now += 3 * time.Millisecond

	out := geometry.NewChannelBuffers()
	orchestrator.ProcessOutputCallback(out, framesPerBlock)

	stats := tester.LatencySnapshot()
	require.Equal(t, 1, stats.RoundTrips, "the echoed impulse must be detected")
	assert.Equal(t, 3*time.Millisecond, stats.Last)
}
