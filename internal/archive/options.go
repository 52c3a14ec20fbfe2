package archive

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/Amaury/collection-archive/internal/metrics"
	"github.com/Amaury/collection-archive/internal/storage"
)

// MissingSourcePolicy decides what Close does with items whose source
// cannot be packed.
type MissingSourcePolicy uint8

const (
	// MissingSourceAbort fails the build on the first unavailable source.
	MissingSourceAbort MissingSourcePolicy = iota
	// MissingSourceSkip drops unavailable items from the manifest before it
	// is written.
	MissingSourceSkip
)

func (p MissingSourcePolicy) String() string {
	switch p {
	case MissingSourceAbort:
		return "abort"
	case MissingSourceSkip:
		return "skip"
	default:
		return fmt.Sprintf("unknown(%d)", p)
	}
}

// ParseMissingSourcePolicy parses "abort" or "skip". The empty string is
// abort.
func ParseMissingSourcePolicy(s string) (MissingSourcePolicy, error) {
	switch s {
	case "", "abort":
		return MissingSourceAbort, nil
	case "skip":
		return MissingSourceSkip, nil
	default:
		return 0, fmt.Errorf("unknown missing source policy %q", s)
	}
}

// Option configures a Session.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	metrics    *metrics.Collector
	bufferSize int
	missing    MissingSourcePolicy
	now        func() time.Time
}

func newOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the logger used by the session.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics counts sessions, items and transferred bytes on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *options) {
		o.metrics = c
	}
}

// WithBufferSize sets the storage adapter's transfer buffer size.
func WithBufferSize(n int) Option {
	return func(o *options) {
		o.bufferSize = n
	}
}

// WithMissingSource sets the policy for items whose source is missing when
// the build is finalized. The default is MissingSourceAbort.
func WithMissingSource(p MissingSourcePolicy) Option {
	return func(o *options) {
		o.missing = p
	}
}

// log returns the logger, falling back to a discard logger if nil.
func (o *options) log() *slog.Logger {
	if o.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return o.logger
}

func (o *options) adapterOptions() []storage.AdapterOption {
	opts := []storage.AdapterOption{storage.WithMetrics(o.metrics)}
	if o.bufferSize > 0 {
		opts = append(opts, storage.WithBufferSize(o.bufferSize))
	}
	return opts
}
