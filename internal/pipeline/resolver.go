package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/grafov/m3u8"
)

// maxPlaylistDepth bounds variant recursion: master -> media and no deeper.
const maxPlaylistDepth = 2

// Resolver turns a manifest URL into a flat, ordered Playlist.
type Resolver struct {
	client *http.Client
	policy VariantPolicy
}

// NewResolver returns a Resolver; a nil client falls back to
// http.DefaultClient and an empty policy to VariantDefaultOrHighest.
func NewResolver(client *http.Client, policy VariantPolicy) *Resolver {
	if client == nil {
		client = http.DefaultClient
	}
	if policy == "" {
		policy = VariantDefaultOrHighest
	}
	return &Resolver{client: client, policy: policy}
}

// Resolve fetches and parses the manifest at rawURL, recursively resolving
// a master playlist to the selected variant, and returns the ordered
// segment list. Failures are *PlaylistError.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) (*Playlist, error) {
	return r.resolve(ctx, rawURL, 0)
}

func (r *Resolver) resolve(ctx context.Context, rawURL string, depth int) (*Playlist, error) {
	if depth >= maxPlaylistDepth {
		return nil, &PlaylistError{Kind: PlaylistTooDeep, URL: rawURL}
	}

	body, base, err := r.fetchManifest(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	// Non-strict decoding: unknown or optional directives are ignored,
	// only structural problems are fatal.
	parsed, listType, err := m3u8.DecodeFrom(bytes.NewReader(body), false)
	if err != nil {
		return nil, &PlaylistError{Kind: PlaylistMalformed, URL: rawURL, Err: err}
	}

	switch listType {
	case m3u8.MASTER:
		master := parsed.(*m3u8.MasterPlaylist)
		variant := selectVariant(master.Variants, r.policy)
		if variant == nil {
			return nil, &PlaylistError{Kind: PlaylistMalformed, URL: rawURL, Err: errors.New("master playlist lists no variants")}
		}
		variantURL, err := resolveReference(base, variant.URI)
		if err != nil {
			return nil, &PlaylistError{Kind: PlaylistMalformed, URL: rawURL, Err: err}
		}
		return r.resolve(ctx, variantURL, depth+1)

	case m3u8.MEDIA:
		media := parsed.(*m3u8.MediaPlaylist)
		segments, total, err := buildSegmentRefs(base, media.Segments)
		if err != nil {
			return nil, &PlaylistError{Kind: PlaylistMalformed, URL: rawURL, Err: err}
		}
		return &Playlist{MediaURL: base.String(), Segments: segments, TotalDuration: total}, nil

	default:
		return nil, &PlaylistError{Kind: PlaylistMalformed, URL: rawURL, Err: fmt.Errorf("unsupported playlist type %d", listType)}
	}
}

// fetchManifest retrieves the manifest text and the base URL segment
// references resolve against (the final URL after redirects).
func (r *Resolver) fetchManifest(ctx context.Context, rawURL string) ([]byte, *url.URL, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, &PlaylistError{Kind: PlaylistMalformed, URL: rawURL, Err: err}
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, nil, &PlaylistError{Kind: PlaylistUnreachable, URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, &PlaylistError{Kind: PlaylistUnreachable, URL: rawURL, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, &PlaylistError{Kind: PlaylistUnreachable, URL: rawURL, Err: err}
	}
	return body, resp.Request.URL, nil
}

// buildSegmentRefs converts parsed media segments into SegmentRefs,
// resolving each URI against base and enforcing the gapless media-sequence
// invariant. grafov's Segments slice is capacity-sized and nil-terminated.
func buildSegmentRefs(base *url.URL, segs []*m3u8.MediaSegment) ([]SegmentRef, float64, error) {
	var (
		refs    []SegmentRef
		total   float64
		prevSeq uint64
	)
	for _, seg := range segs {
		if seg == nil {
			break
		}
		if len(refs) > 0 && seg.SeqId != prevSeq+1 {
			return nil, 0, fmt.Errorf("media sequence gap: %d follows %d", seg.SeqId, prevSeq)
		}
		prevSeq = seg.SeqId

		abs, err := resolveReference(base, seg.URI)
		if err != nil {
			return nil, 0, fmt.Errorf("segment %d: %w", len(refs), err)
		}
		ref := SegmentRef{
			SequenceIndex:   uint64(len(refs)),
			Locator:         abs,
			DurationSeconds: seg.Duration,
			Discontinuity:   seg.Discontinuity,
		}
		if seg.Limit > 0 {
			ref.ByteRange = &ByteRange{Offset: seg.Offset, Length: seg.Limit}
		}
		refs = append(refs, ref)
		total += seg.Duration
	}
	if len(refs) == 0 {
		return nil, 0, errors.New("playlist contains no segments")
	}
	return refs, total, nil
}

// resolveReference resolves ref against base and requires the result to be
// an absolute http(s) URL.
func resolveReference(base *url.URL, ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("unresolvable reference %q: %w", ref, err)
	}
	abs := base.ResolveReference(u)
	if !abs.IsAbs() || (abs.Scheme != "http" && abs.Scheme != "https") {
		return "", fmt.Errorf("reference %q does not resolve to an absolute http(s) locator", ref)
	}
	return abs.String(), nil
}

// selectVariant applies the rendition policy to a master playlist's
// variants. Stream entries carry no explicit default flag in HLS, so
// VariantDefaultOrHighest falls through to an alternative-rendition default
// when one exists, else to the highest bandwidth.
func selectVariant(variants []*m3u8.Variant, policy VariantPolicy) *m3u8.Variant {
	var best *m3u8.Variant
	for _, v := range variants {
		if v == nil || v.URI == "" {
			continue
		}
		if policy == VariantDefaultOrHighest && hasDefaultAlternative(v) {
			return v
		}
		if best == nil {
			best = v
			continue
		}
		if policy == VariantLowest {
			if v.Bandwidth < best.Bandwidth {
				best = v
			}
		} else if v.Bandwidth > best.Bandwidth {
			best = v
		}
	}
	return best
}

func hasDefaultAlternative(v *m3u8.Variant) bool {
	for _, alt := range v.Alternatives {
		if alt != nil && alt.Default {
			return true
		}
	}
	return false
}
