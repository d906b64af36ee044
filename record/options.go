package record

import "time"

// Defaults mirror the teacher's pcap.Options tuning, which in turn
// derives from observed reassembly-buffer memory behavior; see
// mel2oo-go-pcap/pcap/option.go.
const (
	DefaultFlowSoftCapBytes  = 4 * 1024 * 1024 // per-flow reassembly soft cap
	DefaultFlowIdleTimeout   = 90 * time.Second
	DefaultFlowSweepInterval = 10 * time.Second
)

// Options configures a Recorder.
type Options struct {
	Port uint16

	FlowSoftCapBytes  int
	FlowIdleTimeout   time.Duration
	FlowSweepInterval time.Duration

	// Salt seeds the anonymizer's key material. Callers should pass a
	// run-scoped secret; it is never persisted in the profile.
	Salt uint64
}

// NewOptions returns an Options populated with the recorder's
// defaults.
func NewOptions() Options {
	return Options{
		Port:              11211,
		FlowSoftCapBytes:  DefaultFlowSoftCapBytes,
		FlowIdleTimeout:   DefaultFlowIdleTimeout,
		FlowSweepInterval: DefaultFlowSweepInterval,
	}
}

// Option mutates an Options in place.
type Option func(*Options)

func WithPort(port uint16) Option {
	return func(o *Options) { o.Port = port }
}

func WithFlowSoftCap(bytes int) Option {
	return func(o *Options) { o.FlowSoftCapBytes = bytes }
}

func WithFlowIdleTimeout(d time.Duration) Option {
	return func(o *Options) { o.FlowIdleTimeout = d }
}

func WithFlowSweepInterval(d time.Duration) Option {
	return func(o *Options) { o.FlowSweepInterval = d }
}

func WithSalt(salt uint64) Option {
	return func(o *Options) { o.Salt = salt }
}
