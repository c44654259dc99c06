// Package qemuimg wraps the qemu-img CLI for the disk-image operations
// transient needs: creating copy-on-write overlays, empty scratch disks,
// and flattening an overlay into a standalone image for commit/promotion.
package qemuimg

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
)

// CreateOverlay creates a qcow2 overlay at overlayPath backed by
// backendPath.
func CreateOverlay(ctx context.Context, backendPath, overlayPath string) error {
	return run(ctx, "create", "-f", "qcow2", "-F", "qcow2", "-b", backendPath, overlayPath)
}

// CreateScratch creates an empty qcow2 image of sizeBytes at path, used
// for Imagefile "FROM scratch" builds.
func CreateScratch(ctx context.Context, path string, sizeBytes int64) error {
	return run(ctx, "create", "-f", "qcow2", path, strconv.FormatInt(sizeBytes, 10))
}

// Flatten converts src (an overlay, possibly chained) into a standalone
// qcow2 at dst, used when committing a VM's primary disk as a new backend
// image.
func Flatten(ctx context.Context, src, dst string) error {
	return run(ctx, "convert", "-O", "qcow2", src, dst)
}

func run(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "qemu-img", args...) //nolint:gosec // fixed binary, operator-provided args
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("qemu-img %v: %w: %s", args, err, out)
	}
	return nil
}
