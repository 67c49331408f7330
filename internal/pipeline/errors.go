package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// PlaylistErrorKind classifies playlist resolution failures.
type PlaylistErrorKind int

const (
	// PlaylistUnreachable covers network failures, timeouts and error
	// statuses while fetching a manifest.
	PlaylistUnreachable PlaylistErrorKind = iota
	// PlaylistMalformed covers unparsable manifests, unresolvable segment
	// references and sequence gaps.
	PlaylistMalformed
	// PlaylistTooDeep is returned when variant playlists nest beyond
	// master -> media.
	PlaylistTooDeep
)

func (k PlaylistErrorKind) String() string {
	switch k {
	case PlaylistUnreachable:
		return "unreachable"
	case PlaylistMalformed:
		return "malformed"
	case PlaylistTooDeep:
		return "too deep"
	default:
		return "unknown"
	}
}

// PlaylistError is the resolver's failure type.
type PlaylistError struct {
	Kind PlaylistErrorKind
	URL  string
	Err  error
}

func (e *PlaylistError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("playlist %s: %s: %v", e.URL, e.Kind, e.Err)
	}
	return fmt.Sprintf("playlist %s: %s", e.URL, e.Kind)
}

func (e *PlaylistError) Unwrap() error { return e.Err }

// FetchErrorKind classifies segment fetch failures.
type FetchErrorKind int

const (
	// SegmentUnavailable means a segment permanently failed after all
	// retries; Index names which one.
	SegmentUnavailable FetchErrorKind = iota
	// FetchTimeout means the fetch stage was cut short by a deadline.
	FetchTimeout
)

func (k FetchErrorKind) String() string {
	switch k {
	case SegmentUnavailable:
		return "segment unavailable"
	case FetchTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// FetchError is the fetcher's failure type.
type FetchError struct {
	Kind  FetchErrorKind
	Index uint64
	Err   error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch segment %d: %s: %v", e.Index, e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch segment %d: %s", e.Index, e.Kind)
}

func (e *FetchError) Unwrap() error { return e.Err }

// AssemblyErrorKind classifies assembly failures.
type AssemblyErrorKind int

const (
	// CorruptSegment means a payload could not be parsed as container data.
	CorruptSegment AssemblyErrorKind = iota
	// AssemblyIOFailure means a local write failed (disk full, permission).
	AssemblyIOFailure
)

func (k AssemblyErrorKind) String() string {
	switch k {
	case CorruptSegment:
		return "corrupt segment"
	case AssemblyIOFailure:
		return "io failure"
	default:
		return "unknown"
	}
}

// AssemblyError is the assembler's failure type. Index is meaningful for
// CorruptSegment.
type AssemblyError struct {
	Kind  AssemblyErrorKind
	Index uint64
	Err   error
}

func (e *AssemblyError) Error() string {
	if e.Kind == CorruptSegment {
		return fmt.Sprintf("assemble segment %d: %s: %v", e.Index, e.Kind, e.Err)
	}
	return fmt.Sprintf("assemble: %s: %v", e.Kind, e.Err)
}

func (e *AssemblyError) Unwrap() error { return e.Err }

// SplitErrorKind classifies splitter failures.
type SplitErrorKind int

// NoSafeBoundary means the container exposes no split points at all.
const NoSafeBoundary SplitErrorKind = iota

func (k SplitErrorKind) String() string {
	if k == NoSafeBoundary {
		return "no safe boundary"
	}
	return "unknown"
}

// SplitError is the splitter's failure type.
type SplitError struct {
	Kind SplitErrorKind
	Err  error
}

func (e *SplitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("split: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("split: %s", e.Kind)
}

func (e *SplitError) Unwrap() error { return e.Err }

// DeliveryErrorKind classifies delivery failures.
type DeliveryErrorKind int

const (
	// DeliveryRejected means the receiving side refused the artifact.
	DeliveryRejected DeliveryErrorKind = iota
	// DeliveryUnreachable means the delivery target could not be reached
	// or written.
	DeliveryUnreachable
)

func (k DeliveryErrorKind) String() string {
	switch k {
	case DeliveryRejected:
		return "rejected"
	case DeliveryUnreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// DeliveryError is the Deliverer contract's failure type.
type DeliveryError struct {
	Kind DeliveryErrorKind
	Err  error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("deliver: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("deliver: %s", e.Kind)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// ErrorKind returns a short machine-readable label for any pipeline error,
// for the terminal job event. Unknown errors report "internal".
func ErrorKind(err error) string {
	var (
		pe *PlaylistError
		fe *FetchError
		ae *AssemblyError
		se *SplitError
		de *DeliveryError
	)
	switch {
	case errors.As(err, &pe):
		return "playlist " + pe.Kind.String()
	case errors.As(err, &fe):
		return "fetch " + fe.Kind.String()
	case errors.As(err, &ae):
		return "assembly " + ae.Kind.String()
	case errors.As(err, &se):
		return "split " + se.Kind.String()
	case errors.As(err, &de):
		return "delivery " + de.Kind.String()
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "internal"
	}
}
