package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Deliverer receives final artifacts. Implementations name the delivered
// file from the display name and the artifact's part numbering, and return
// the delivered location. After a successful Deliver the artifact's source
// file belongs to the deliverer.
type Deliverer interface {
	Deliver(ctx context.Context, art Artifact, displayName string) (string, error)
}

// DirDeliverer publishes artifacts by moving them into a local directory.
type DirDeliverer struct {
	Dir string
}

// Deliver implements Deliverer. Failures are *DeliveryError.
func (d *DirDeliverer) Deliver(ctx context.Context, art Artifact, displayName string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &DeliveryError{Kind: DeliveryUnreachable, Err: err}
	}
	if displayName == "" {
		return "", &DeliveryError{Kind: DeliveryRejected, Err: errors.New("empty display name")}
	}
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return "", &DeliveryError{Kind: DeliveryUnreachable, Err: err}
	}

	target := filepath.Join(d.Dir, artifactFileName(displayName, art))
	if err := moveFile(art.Path, target); err != nil {
		return "", &DeliveryError{Kind: DeliveryUnreachable, Err: err}
	}
	return target, nil
}

// artifactFileName derives the delivered file name from the display name
// and part numbering. Names without an extension get ".ts", matching the
// container actually produced.
func artifactFileName(displayName string, art Artifact) string {
	ext := filepath.Ext(displayName)
	base := strings.TrimSuffix(displayName, ext)
	if ext == "" {
		ext = ".ts"
	}
	if art.PartCount > 1 {
		return fmt.Sprintf("%s.part%02d%s", base, art.PartIndex, ext)
	}
	return base + ext
}

// moveFile renames src to dst, falling back to copy-and-remove across
// filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return os.Remove(src)
}
