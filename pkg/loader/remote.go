package loader

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/go-updates/pkg/download"
	"github.com/go-updates/pkg/manifest"
	"github.com/go-updates/pkg/store"
	"github.com/go-updates/pkg/utils"
)

const manifestAccept = "application/json, application/x-plist;q=0.9, */*;q=0.8"

// RemoteOptions configures a RemoteStrategy
type RemoteOptions struct {
	ManifestURL    string
	RuntimeVersion string
	Platform       string
	Headers        map[string]string // sent with every manifest request
}

// RemoteStrategy loads manifests and assets over HTTP
type RemoteStrategy struct {
	downloader download.Downloader
	opts       RemoteOptions
	logger     *utils.Logger

	mu   sync.RWMutex
	base *url.URL // relative asset URLs resolve against this
}

// NewRemoteStrategy creates a strategy fetching from opts.ManifestURL
func NewRemoteStrategy(downloader download.Downloader, opts RemoteOptions, logger *utils.Logger) (*RemoteStrategy, error) {
	base, err := url.Parse(opts.ManifestURL)
	if err != nil {
		return nil, fmt.Errorf("invalid manifest URL %q: %w", opts.ManifestURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("manifest URL must be http or https, got %q", opts.ManifestURL)
	}
	opts.Platform = utils.NormalizePlatform(opts.Platform)
	return &RemoteStrategy{
		downloader: downloader,
		opts:       opts,
		logger:     logger,
		base:       base,
	}, nil
}

// FetchManifest requests the manifest with platform headers and the stored validation tokens
func (s *RemoteStrategy) FetchManifest(ctx context.Context, req ManifestRequest) (*download.ManifestResponse, error) {
	headers := make(map[string]string, len(s.opts.Headers)+len(req.Headers)+4)
	for k, v := range s.opts.Headers {
		headers[k] = v
	}
	headers["Accept"] = manifestAccept
	headers["Updates-Platform"] = s.opts.Platform
	if s.opts.RuntimeVersion != "" {
		headers["Updates-Runtime-Version"] = s.opts.RuntimeVersion
	}
	if req.ScopeKey != "" {
		headers["Updates-Scope-Key"] = req.ScopeKey
	}
	for k, v := range req.Headers {
		headers[k] = v
	}
	if len(req.Headers) > 0 {
		s.logger.Debug("Sending %d validation tokens with manifest request", len(req.Headers))
	}

	resp, err := s.downloader.DownloadManifest(ctx, s.opts.ManifestURL, headers)
	if err != nil {
		return nil, err
	}
	if resp.URL != "" {
		if final, err := url.Parse(resp.URL); err == nil {
			s.mu.Lock()
			s.base = final
			s.mu.Unlock()
		}
	}
	return resp, nil
}

// FetchAsset downloads the asset into dst
func (s *RemoteStrategy) FetchAsset(ctx context.Context, asset manifest.Asset, dst string) error {
	assetURL, err := s.resolve(asset.URL)
	if err != nil {
		return err
	}
	_, err = s.downloader.DownloadAsset(ctx, assetURL, dst)
	return err
}

// CommitStatus is READY for updates loaded from the network
func (s *RemoteStrategy) CommitStatus() store.UpdateStatus {
	return store.StatusReady
}

func (s *RemoteStrategy) resolve(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", &download.NetworkError{URL: ref, Err: fmt.Errorf("invalid asset URL: %w", err)}
	}
	if u.IsAbs() {
		return u.String(), nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.base.ResolveReference(u).String(), nil
}
