package audiocallback

import (
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/crosswire-audio/crosswire/pkg/codec"
	"github.com/crosswire-audio/crosswire/pkg/frame"
	"github.com/crosswire-audio/crosswire/pkg/processplugin"
)

var (
	errAlreadySetup = errors.New("orchestrator has already been set up")
	errNotSetup     = errors.New("orchestrator has not been set up")
	errNilSink      = errors.New("transmit sink must not be nil")
	errNilSource    = errors.New("receive source must not be nil")
)

// Orchestrator is the real-time glue between an audio device and the
// network-side buffers.
//
// The device drives it through two callbacks, possibly on the same thread
// (duplex devices) or two different ones. Both callbacks are real-time:
// after Setup they never block and never allocate, and the orchestrator
// itself takes no lock. The inter-thread communication on the hot path is
// the monitor double-buffer index, written by the input callback and read
// by the output callback, plus whatever the transmit sink and receive
// source use internally (a jitter buffer behind the receive source holds
// its lock for one short critical section per pull).
//
// The life cycle is New → Append* → Setup → callbacks → Teardown. Plugins
// cannot be appended once Setup has initialized the chains.
type Orchestrator struct {
	cfg    Config
	logger *slog.Logger

	transmitSink  TransmitSink
	receiveSource ReceiveSource

	toNetwork   *processplugin.Chain
	fromNetwork *processplugin.Chain
	toMonitor   *processplugin.Chain

	tester *AudioTester

	inputCodec  codec.BlockCodec
	outputCodec codec.BlockCodec

	// scratch holds a copy of the capture buffers so plugins can process
	// in place without touching device memory. Sized for the configured
	// maximum block at setup.
	scratch []frame.PCMFrame

	// Two banks of monitor buffers, handed off between the callbacks via
	// monitorIndex. The input callback writes the bank the index does not
	// point at, then publishes; Go's atomics give the store release and
	// the load acquire semantics, so the reader always observes a fully
	// written bank.
	monitorBufs  [2][]frame.PCMFrame
	monitorIndex atomic.Int32

	inputPacket  []byte
	outputPacket []byte

	setup    bool
	tornDown bool
}

// NewOrchestrator validates the configuration and prepares empty plugin
// chains. No buffers exist until Setup.
func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger.With(
		"endpointID", cfg.EndpointID,
	)

	return &Orchestrator{
		cfg:         cfg,
		logger:      logger,
		toNetwork:   processplugin.NewChain(processplugin.ChainToNetwork, cfg.networkInputChannels()),
		fromNetwork: processplugin.NewChain(processplugin.ChainFromNetwork, cfg.NumOutputChannels),
		toMonitor:   processplugin.NewChain(processplugin.ChainToMonitor, cfg.NumOutputChannels),
	}, nil
}

// --------------------------------------------------------------------------------
// Setup phase

// AppendProcessPluginToNetwork adds a plugin to the capture-to-transmit
// chain. Must be called before Setup.
func (o *Orchestrator) AppendProcessPluginToNetwork(plugin processplugin.ProcessPlugin) error {
	return o.toNetwork.Append(plugin)
}

// AppendProcessPluginFromNetwork adds a plugin to the receive-to-playback
// chain. Must be called before Setup.
func (o *Orchestrator) AppendProcessPluginFromNetwork(plugin processplugin.ProcessPlugin) error {
	return o.fromNetwork.Append(plugin)
}

// AppendProcessPluginToMonitor adds a plugin to the self-monitor mix
// chain. Must be called before Setup.
func (o *Orchestrator) AppendProcessPluginToMonitor(plugin processplugin.ProcessPlugin) error {
	return o.toMonitor.Append(plugin)
}

// SetAudioTester attaches a round-trip latency tester. Must be called
// before Setup; pass nil to detach.
func (o *Orchestrator) SetAudioTester(tester *AudioTester) {
	o.tester = tester
}

// Setup allocates every buffer the callbacks will touch and initializes
// the plugin chains exactly once. After Setup the orchestrator is ready
// for the device to start the stream.
func (o *Orchestrator) Setup(transmitSink TransmitSink, receiveSource ReceiveSource) error {
	if o.setup {
		return errAlreadySetup
	}
	if transmitSink == nil {
		return errNilSink
	}
	if receiveSource == nil {
		return errNilSource
	}

	o.transmitSink = transmitSink
	o.receiveSource = receiveSource

	chansNet := o.cfg.networkInputChannels()
	chansOut := o.cfg.NumOutputChannels

	inputGeometry := frame.PacketGeometry{
		FramesPerBlock: o.cfg.FramesPerBlock,
		NumChannels:    chansNet,
		BytesPerSample: int(o.cfg.BitResolution),
	}
	outputGeometry := frame.PacketGeometry{
		FramesPerBlock: o.cfg.FramesPerBlock,
		NumChannels:    chansOut,
		BytesPerSample: int(o.cfg.BitResolution),
	}
	o.inputCodec = codec.NewBlockCodec(inputGeometry, o.cfg.Quantize24)
	o.outputCodec = codec.NewBlockCodec(outputGeometry, o.cfg.Quantize24)
	o.inputPacket = make([]byte, inputGeometry.PacketBytes())
	o.outputPacket = make([]byte, outputGeometry.PacketBytes())

	o.scratch = make([]frame.PCMFrame, o.cfg.NumInputChannels)
	for i := range o.scratch {
		o.scratch[i] = make(frame.PCMFrame, o.cfg.MaxFramesPerBlock)
	}
	for n := 0; n < 2; n++ {
		o.monitorBufs[n] = make([]frame.PCMFrame, chansOut)
		for i := range o.monitorBufs[n] {
			o.monitorBufs[n][i] = make(frame.PCMFrame, o.cfg.MaxFramesPerBlock)
		}
	}

	o.toNetwork.InitAll(o.cfg.SampleRate, o.cfg.FramesPerBlock, chansNet, chansNet)
	o.fromNetwork.InitAll(o.cfg.SampleRate, o.cfg.FramesPerBlock, chansNet, chansOut)
	o.toMonitor.InitAll(o.cfg.SampleRate, o.cfg.FramesPerBlock, chansOut, chansOut)
	if o.tester != nil {
		o.tester.setSendChannel(chansNet - 1)
	}

	o.setup = true
	o.tornDown = false
	o.logger.Info(
		"audio callback orchestrator ready",
		"sampleRate", o.cfg.SampleRate,
		"framesPerBlock", o.cfg.FramesPerBlock,
		"bitResolution", int(o.cfg.BitResolution)*8,
		"channelsIn", o.cfg.NumInputChannels,
		"channelsOut", chansOut,
		"inputMixMode", o.cfg.InputMixMode,
		"toNetworkPlugins", o.toNetwork.Len(),
		"fromNetworkPlugins", o.fromNetwork.Len(),
		"toMonitorPlugins", o.toMonitor.Len(),
	)
	return nil
}

// Teardown destroys the plugin chains and releases the callback buffers.
// Safe to call more than once; the device must have stopped the stream
// first, as the callbacks are not cancellable on their own.
func (o *Orchestrator) Teardown() {
	if o.tornDown {
		return
	}
	o.toNetwork.DestroyAll()
	o.fromNetwork.DestroyAll()
	o.toMonitor.DestroyAll()
	o.scratch = nil
	o.monitorBufs[0] = nil
	o.monitorBufs[1] = nil
	o.inputPacket = nil
	o.outputPacket = nil
	o.setup = false
	o.tornDown = true
	o.logger.Info("audio callback orchestrator torn down")
}

// --------------------------------------------------------------------------------
// Real-time phase

// ProcessInputCallback handles one tick of captured audio. in holds one
// buffer per capture channel; for mix-to-mono the device adapter has
// already mixed into in[0].
func (o *Orchestrator) ProcessInputCallback(in []frame.PCMFrame, nframes int) {
	if !o.setup {
		return
	}

	chansNet := o.cfg.networkInputChannels()
	testing := o.tester != nil && o.tester.Enabled()

	// Fast path: nothing touches the signal, so encode the device buffers
	// straight into the outbound packet. No copy, no monitor publish.
	if !testing && o.toNetwork.Len() == 0 && o.toMonitor.Len() == 0 {
		o.inputCodec.EncodeBlock(in[:chansNet], o.inputPacket)
		o.transmitSink.Send(o.inputPacket)
		return
	}

	if nframes > o.cfg.MaxFramesPerBlock {
		// Scratch was sized at setup; a larger tick is a configuration
		// error. The excess frames are dropped rather than corrupting
		// adjacent memory.
		o.logger.Error(
			"callback tick larger than configured maximum block",
			"nframes", nframes,
			"maxFramesPerBlock", o.cfg.MaxFramesPerBlock,
		)
		nframes = o.cfg.MaxFramesPerBlock
	}

	for i := 0; i < o.cfg.NumInputChannels && i < len(in); i++ {
		copy(o.scratch[i][:nframes], in[i][:nframes])
	}
	chainBufs := o.scratch[:chansNet]

	o.toNetwork.Run(nframes, chainBufs, chainBufs)

	// Publish to whichever monitor bank the output callback is not
	// reading, then flip the index.
	writeBank := int32(0)
	if o.monitorIndex.Load() == 0 {
		writeBank = 1
	}
	bank := o.monitorBufs[writeBank]
	for i := range bank {
		copy(bank[i][:nframes], chainBufs[i%chansNet][:nframes])
	}
	o.monitorIndex.Store(writeBank)

	if testing {
		o.tester.WriteImpulse(chainBufs, nframes)
	}

	o.inputCodec.EncodeBlock(chainBufs, o.inputPacket)
	o.transmitSink.Send(o.inputPacket)
}

// ProcessOutputCallback handles one tick of playback audio. out holds one
// buffer per playback channel and is filled by this call.
func (o *Orchestrator) ProcessOutputCallback(out []frame.PCMFrame, nframes int) {
	if !o.setup {
		return
	}

	o.receiveSource.Receive(o.outputPacket)
	o.outputCodec.DecodeBlock(o.outputPacket, out)

	if o.tester != nil && o.tester.Enabled() {
		o.tester.LookForReturnPulse(out, nframes)
	}

	o.fromNetwork.Run(nframes, out, out)

	readBank := o.monitorIndex.Load()
	o.toMonitor.Run(nframes, o.monitorBufs[readBank], out)
}
