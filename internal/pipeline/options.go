package pipeline

import "time"

// Defaults for Options fields left zero.
const (
	DefaultConcurrency    = 4
	DefaultMaxRetries     = 3
	DefaultMaxPartBytes   = int64(2_000_000_000)
	DefaultSegmentTimeout = 30 * time.Second
	DefaultWindowSlack    = 8
)

// VariantPolicy selects among the renditions of a master playlist.
type VariantPolicy string

const (
	// VariantDefaultOrHighest honors an explicitly flagged default
	// rendition when the manifest carries one, else picks the highest
	// bandwidth. Master stream entries rarely flag a default, so in
	// practice this usually means highest bandwidth.
	VariantDefaultOrHighest VariantPolicy = "default-or-highest"
	// VariantHighest always picks the highest bandwidth rendition.
	VariantHighest VariantPolicy = "highest"
	// VariantLowest always picks the lowest bandwidth rendition.
	VariantLowest VariantPolicy = "lowest"
)

// Options configures one pipeline run. The zero value is usable; zero
// fields take the defaults above.
type Options struct {
	// Concurrency is the fetch worker pool size.
	Concurrency int
	// MaxRetries is the per-segment retry budget for transient failures.
	MaxRetries int
	// MaxPartBytes is the output size ceiling before splitting.
	MaxPartBytes int64
	// SegmentTimeout bounds each individual segment request attempt.
	SegmentTimeout time.Duration
	// JobTimeout bounds the whole run; zero means no job timeout.
	JobTimeout time.Duration
	// WindowSlack is how many fetched-but-unconsumed segments may be
	// buffered beyond the worker pool before new fetches stall.
	WindowSlack int
	// VariantPolicy picks the rendition of a master playlist.
	VariantPolicy VariantPolicy
	// WorkDir is where job temp directories are created; empty means the
	// system temp directory.
	WorkDir string
}

// withDefaults returns a copy with zero fields replaced by defaults.
func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	} else if o.MaxRetries == 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.MaxPartBytes <= 0 {
		o.MaxPartBytes = DefaultMaxPartBytes
	}
	if o.SegmentTimeout <= 0 {
		o.SegmentTimeout = DefaultSegmentTimeout
	}
	if o.WindowSlack <= 0 {
		o.WindowSlack = DefaultWindowSlack
	}
	if o.VariantPolicy == "" {
		o.VariantPolicy = VariantDefaultOrHighest
	}
	return o
}
