package loader

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/go-updates/pkg/download"
	"github.com/go-updates/pkg/manifest"
	"github.com/go-updates/pkg/store"
	"github.com/go-updates/pkg/utils"
)

// DefaultEmbeddedManifest is the manifest file name inside a bundle
const DefaultEmbeddedManifest = "app.manifest"

// EmbeddedStrategy loads the update shipped inside the application bundle
type EmbeddedStrategy struct {
	bundle       fs.FS
	manifestName string
	logger       *utils.Logger
}

// NewEmbeddedStrategy creates a strategy reading from bundle
func NewEmbeddedStrategy(bundle fs.FS, manifestName string, logger *utils.Logger) *EmbeddedStrategy {
	if manifestName == "" {
		manifestName = DefaultEmbeddedManifest
	}
	return &EmbeddedStrategy{bundle: bundle, manifestName: manifestName, logger: logger}
}

// FetchManifest reads the bundled manifest. It never reports not-modified.
func (s *EmbeddedStrategy) FetchManifest(ctx context.Context, req ManifestRequest) (*download.ManifestResponse, error) {
	data, err := fs.ReadFile(s.bundle, s.manifestName)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded manifest %s: %w", s.manifestName, err)
	}
	s.logger.Debug("Read embedded manifest %s (%d bytes)", s.manifestName, len(data))
	return &download.ManifestResponse{
		URL:        "embedded:" + s.manifestName,
		StatusCode: http.StatusOK,
		Body:       data,
	}, nil
}

// FetchAsset copies a bundled file into dst
func (s *EmbeddedStrategy) FetchAsset(ctx context.Context, asset manifest.Asset, dst string) error {
	name, err := bundlePath(asset.URL)
	if err != nil {
		return err
	}
	src, err := s.bundle.Open(name)
	if err != nil {
		return fmt.Errorf("failed to open embedded asset %s: %w", name, err)
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", dst, err)
	}
	defer out.Close()

	n, err := io.Copy(out, src)
	if err != nil {
		return fmt.Errorf("failed to copy embedded asset %s: %w", name, err)
	}
	s.logger.Debug("Copied %d bytes of embedded asset %s", n, name)
	return nil
}

// CommitStatus is EMBEDDED for bundled updates
func (s *EmbeddedStrategy) CommitStatus() store.UpdateStatus {
	return store.StatusEmbedded
}

// bundlePath turns an asset URL into a path inside the bundle
func bundlePath(ref string) (string, error) {
	p := ref
	for _, prefix := range []string{"file://", "asset://"} {
		p = strings.TrimPrefix(p, prefix)
	}
	p = path.Clean(strings.TrimPrefix(p, "/"))
	if !fs.ValidPath(p) || p == "." {
		return "", fmt.Errorf("invalid embedded asset path %q", ref)
	}
	return p, nil
}
