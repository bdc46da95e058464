package sevenzip

import (
	"github.com/rs/zerolog"
)

const (
	defaultMaxHeaderSize = 64 << 20
	defaultMaxUnpackSize = 4 << 30
)

type options struct {
	registry      *Registry
	maxHeaderSize uint64
	maxUnpackSize uint64
	concurrency   int
	log           zerolog.Logger
}

// Option configures NewReader.
type Option func(*options)

// WithRegistry sets the coder methods available for decoding. The default
// is DefaultRegistry().
func WithRegistry(reg *Registry) Option {
	return func(o *options) {
		o.registry = reg
	}
}

// WithMaxHeaderSize bounds the size of the raw and the decoded header.
func WithMaxHeaderSize(n uint64) Option {
	return func(o *options) {
		o.maxHeaderSize = n
	}
}

// WithMaxUnpackSize bounds the total decoded size of the archive contents.
// The whole decoded content is held in memory.
func WithMaxUnpackSize(n uint64) Option {
	return func(o *options) {
		o.maxUnpackSize = n
	}
}

// WithConcurrency sets the number of folders decoded in parallel. Values
// below 1 mean 1.
func WithConcurrency(n int) Option {
	return func(o *options) {
		if n < 1 {
			n = 1
		}
		o.concurrency = n
	}
}

// WithLogger sets the logger receiving debug output about the parse.
func WithLogger(log zerolog.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

func newOptions(opts []Option) options {
	o := options{
		maxHeaderSize: defaultMaxHeaderSize,
		maxUnpackSize: defaultMaxUnpackSize,
		concurrency:   1,
		log:           zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.registry == nil {
		o.registry = DefaultRegistry()
	}
	return o
}
