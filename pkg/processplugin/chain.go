package processplugin

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/crosswire-audio/crosswire/pkg/frame"
)

// ChainKindEnum identifies which leg of the signal path a chain runs on,
// which determines how plugin channel counts are validated at append time.
type ChainKindEnum string

const (
	// ChainToNetwork processes captured audio before it is encoded for
	// transmit. Plugins must accept at least the path width.
	ChainToNetwork ChainKindEnum = "to-network"

	// ChainFromNetwork processes received audio before playback. Plugins
	// must not produce more channels than the playback path carries.
	ChainFromNetwork ChainKindEnum = "from-network"

	// ChainToMonitor mixes the local capture back into playback. Plugins
	// must fit the monitor width on both sides.
	ChainToMonitor ChainKindEnum = "to-monitor"
)

var (
	errNilPlugin            = errors.New("cannot append a nil plugin")
	errIncompatibleChannels = errors.New("plugin channel count incompatible with path width")
	errChainStarted         = errors.New("cannot append to a chain after initialization")
)

// A Chain is an append-only ordered list of ProcessPlugins for one leg of
// the signal path.
//
// Append and InitAll belong to the setup phase; Run belongs to the
// real-time phase and takes no locks, which is safe because the plugin
// list is immutable once InitAll has been called. Appending after
// initialization is a usage error and is rejected.
type Chain struct {
	kind      ChainKindEnum
	pathWidth int
	plugins   []ProcessPlugin
	inited    bool
}

// NewChain creates an empty chain for one leg of the signal path.
// pathWidth is the number of channels that leg carries.
func NewChain(kind ChainKindEnum, pathWidth int) *Chain {
	return &Chain{
		kind:      kind,
		pathWidth: pathWidth,
		plugins:   make([]ProcessPlugin, 0),
	}
}

// Append validates the plugin's declared channel counts against the path
// width and stores it. Returns an error (and does not store) when the
// plugin cannot run on this leg.
func (c *Chain) Append(plugin ProcessPlugin) error {
	if plugin == nil {
		return errNilPlugin
	}
	if c.inited {
		return errChainStarted
	}

	switch c.kind {
	case ChainToNetwork:
		if plugin.NumInputs() < c.pathWidth {
			return fmt.Errorf("%w: %s plugin has %d inputs, path carries %d channels",
				errIncompatibleChannels, c.kind, plugin.NumInputs(), c.pathWidth)
		}
	case ChainFromNetwork:
		if plugin.NumOutputs() > c.pathWidth {
			return fmt.Errorf("%w: %s plugin has %d outputs, path carries %d channels",
				errIncompatibleChannels, c.kind, plugin.NumOutputs(), c.pathWidth)
		}
	case ChainToMonitor:
		if plugin.NumInputs() > c.pathWidth || plugin.NumOutputs() > c.pathWidth {
			return fmt.Errorf("%w: %s plugin has %d inputs and %d outputs, path carries %d channels",
				errIncompatibleChannels, c.kind, plugin.NumInputs(), plugin.NumOutputs(), c.pathWidth)
		}
	}

	c.plugins = append(c.plugins, plugin)
	return nil
}

// Len returns the number of appended plugins.
func (c *Chain) Len() int {
	return len(c.plugins)
}

// InitAll initializes every plugin exactly once. After this call the chain
// is frozen: further appends are rejected.
func (c *Chain) InitAll(sampleRate int, framesPerBlock int, chansIn int, chansOut int) {
	if c.inited {
		return
	}
	for _, plugin := range c.plugins {
		plugin.SetChannels(chansIn, chansOut)
		plugin.Init(sampleRate, framesPerBlock)
	}
	c.inited = true
	if len(c.plugins) > 0 {
		slog.Debug(
			"plugin chain initialized",
			"kind", c.kind,
			"plugins", len(c.plugins),
			"sampleRate", sampleRate,
			"framesPerBlock", framesPerBlock,
		)
	}
}

// Run executes the chain in append order. in and out may be the same
// buffers; plugins process in place. Real-time safe.
func (c *Chain) Run(nframes int, in []frame.PCMFrame, out []frame.PCMFrame) {
	for _, plugin := range c.plugins {
		plugin.Compute(nframes, in, out)
	}
}

// DestroyAll releases every plugin in reverse append order. Teardown only.
func (c *Chain) DestroyAll() {
	for i := len(c.plugins) - 1; i >= 0; i-- {
		c.plugins[i].Destroy()
	}
	c.plugins = c.plugins[:0]
}
