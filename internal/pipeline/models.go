// Package pipeline implements the playlist-to-file pipeline: resolving an
// HLS playlist to an ordered segment list, fetching segments concurrently
// with in-order delivery, assembling them into one continuous MPEG-TS file,
// splitting oversized output at container-safe boundaries, and handing the
// result to a Deliverer.
package pipeline

// ByteRange narrows a segment locator to a sub-range of the resource
// (EXT-X-BYTERANGE).
type ByteRange struct {
	Offset int64
	Length int64
}

// SegmentRef is one entry of a resolved playlist. The slice order (and the
// SequenceIndex values, which are the ordinal positions 0..n-1) is the
// ordering contract every later stage depends on.
type SegmentRef struct {
	SequenceIndex   uint64
	Locator         string // absolute URL
	ByteRange       *ByteRange
	DurationSeconds float64
	// Discontinuity marks a declared timeline reset before this segment.
	Discontinuity bool
}

// Playlist is the flattened, ordered result of resolving a manifest URL,
// variant selection already applied.
type Playlist struct {
	// MediaURL is the media playlist the segments came from (the variant
	// playlist for master manifests, the input URL otherwise).
	MediaURL string
	Segments []SegmentRef
	// TotalDuration is the summed segment duration in seconds.
	TotalDuration float64
}

// FetchResult carries one fetched segment payload, or the error that ended
// the fetch. Results are created by the fetcher and never mutated after.
type FetchResult struct {
	SequenceIndex uint64
	Payload       []byte
	Err           error
}

// Artifact is a final container output file. The splitter may multiply one
// artifact into several; PartIndex/PartCount tag each for downstream
// labeling. Artifacts are ephemeral: they live in the job's temp directory
// until delivery moves or discards them.
type Artifact struct {
	Path      string
	SizeBytes int64
	PartIndex int
	PartCount int
}
