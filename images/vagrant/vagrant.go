// Package vagrant implements the "vagrant" image retrieval protocol:
// resolve a "name:version" reference against the Vagrant Cloud box
// metadata API, download the libvirt provider's box tarball, and extract
// its box.img member directly (no recompression).
package vagrant

import (
	"archive/tar"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/transientvm/transient/progress"
	"github.com/transientvm/transient/types"
)

const metadataURLTemplate = "https://app.vagrantup.com/api/v1/box/%s"

const providerLibvirt = "libvirt"

// Protocol implements images.Protocol for vagrant box sources.
type Protocol struct {
	Client *http.Client
}

func (Protocol) Matches(p types.Protocol) bool { return p == types.ProtocolVagrant }

type boxMetadata struct {
	Versions []struct {
		Version   string `json:"version"`
		Providers []struct {
			Name     string `json:"name"`
			URL      string `json:"url"`
			Checksum string `json:"checksum"`
		} `json:"providers"`
	} `json:"versions"`
}

// DownloadEvent reports bytes received while downloading the box tarball.
type DownloadEvent struct {
	Bytes int64
}

func (p Protocol) Retrieve(ctx context.Context, spec types.ImageSpec, sink *os.File, tracker progress.Tracker) error {
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	boxName, version, _ := strings.Cut(spec.Source, ":")
	if boxName == "" {
		return fmt.Errorf("vagrant: empty box name in source %q", spec.Source)
	}

	providerURL, err := p.resolveProviderURL(ctx, client, boxName, version)
	if err != nil {
		return err
	}

	scratch, err := os.CreateTemp("", "transient-vagrant-box-*.tar") //nolint:gosec // scratch path, not attacker-controlled
	if err != nil {
		return fmt.Errorf("vagrant: create scratch file: %w", err)
	}
	defer os.Remove(scratch.Name()) //nolint:errcheck
	defer scratch.Close()           //nolint:errcheck

	if err := download(ctx, client, providerURL, scratch, tracker); err != nil {
		return err
	}
	if _, err := scratch.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("vagrant: rewind scratch file: %w", err)
	}

	return extractBoxImg(scratch, sink)
}

func (p Protocol) resolveProviderURL(ctx context.Context, client *http.Client, boxName, version string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(metadataURLTemplate, boxName), nil)
	if err != nil {
		return "", fmt.Errorf("vagrant: build metadata request for %s: %w", boxName, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("vagrant: fetch metadata for %s: %w", boxName, err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("vagrant: fetch metadata for %s: unexpected status %s", boxName, resp.Status)
	}

	var meta boxMetadata
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return "", fmt.Errorf("vagrant: parse metadata for %s: %w", boxName, err)
	}

	for _, v := range meta.Versions {
		if version != "" && v.Version != version {
			continue
		}
		for _, prov := range v.Providers {
			if prov.Name == providerLibvirt {
				return prov.URL, nil
			}
		}
	}
	return "", fmt.Errorf("vagrant: no %s provider found for %s:%s", providerLibvirt, boxName, version)
}

func download(ctx context.Context, client *http.Client, url string, dst *os.File, tracker progress.Tracker) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("vagrant: build download request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("vagrant: download %s: %w", url, err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("vagrant: download %s: unexpected status %s", url, resp.Status)
	}

	counting := &countingWriter{dst: dst, tracker: tracker}
	if _, err := io.Copy(counting, resp.Body); err != nil {
		return fmt.Errorf("vagrant: download %s: %w", url, err)
	}
	return nil
}

type countingWriter struct {
	dst     io.Writer
	tracker progress.Tracker
}

func (w *countingWriter) Write(p []byte) (int, error) {
	n, err := w.dst.Write(p)
	if n > 0 {
		w.tracker.OnEvent(DownloadEvent{Bytes: int64(n)})
	}
	return n, err
}

// extractBoxImg locates the tarball member whose name ends "box.img" and
// stream-copies it verbatim to dst (no recompression: the raw image is
// already in the backend's expected format).
func extractBoxImg(src io.Reader, dst io.Writer) error {
	tr := tar.NewReader(src)
	for {
		hdr, err := tr.Next()
		if err == io.EOF { //nolint:errorlint
			return fmt.Errorf("vagrant: no box.img member found in tarball")
		}
		if err != nil {
			return fmt.Errorf("vagrant: read tarball: %w", err)
		}
		if !strings.HasSuffix(hdr.Name, "box.img") {
			continue
		}
		if _, err := io.Copy(dst, tr); err != nil { //nolint:gosec // member size bounded by tarball itself
			return fmt.Errorf("vagrant: extract %s: %w", hdr.Name, err)
		}
		return nil
	}
}
