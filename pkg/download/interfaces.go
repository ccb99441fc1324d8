package download

import (
	"context"
	"net/http"
)

// ManifestResponse is the result of a manifest request
type ManifestResponse struct {
	URL         string // final URL after redirects
	StatusCode  int
	Header      http.Header
	Body        []byte
	NotModified bool
}

// Downloader defines what a downloader should be able to do
type Downloader interface {
	DownloadManifest(ctx context.Context, url string, headers map[string]string) (*ManifestResponse, error)
	DownloadAsset(ctx context.Context, url, dst string) (int64, error)
}
