package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/go-updates/pkg/utils"
)

const userAgent = "go-updates/1.0"

// maxManifestSize bounds how much of a manifest response is read into memory
const maxManifestSize = 16 << 20

// Options configures a Client
type Options struct {
	Timeout         time.Duration // per request; 0 means no timeout
	FollowRedirects bool
	AuthUser        string
	AuthPassword    string
	Headers         map[string]string
	Retries         int
	RetryWait       time.Duration
}

// Client handles HTTP downloads
type Client struct {
	httpClient       *http.Client
	logger           *utils.Logger
	authUser         string
	authPassword     string
	customHeaders    map[string]string
	defaultRetries   int
	defaultRetryWait time.Duration
	followRedirects  bool
}

// NewClient creates a new download client
func NewClient(logger *utils.Logger, opts Options) *Client {
	client := &Client{
		httpClient:       &http.Client{Timeout: opts.Timeout},
		logger:           logger,
		authUser:         opts.AuthUser,
		authPassword:     opts.AuthPassword,
		customHeaders:    make(map[string]string),
		defaultRetries:   3,
		defaultRetryWait: 5 * time.Second,
	}
	client.SetFollowRedirects(opts.FollowRedirects)
	client.SetRetryDefaults(opts.Retries, opts.RetryWait)

	// Copy custom headers
	for k, v := range opts.Headers {
		client.customHeaders[k] = v
	}
	return client
}

// SetFollowRedirects toggles HTTP redirect following
func (c *Client) SetFollowRedirects(follow bool) {
	c.followRedirects = follow
	if follow {
		c.httpClient.CheckRedirect = nil
	} else {
		c.httpClient.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse // do not follow
		}
	}
}

// SetRetryDefaults sets the retry count and delay used for every request
func (c *Client) SetRetryDefaults(retries int, retryWait time.Duration) {
	if retries >= 0 {
		c.defaultRetries = retries
	}
	if retryWait > 0 {
		c.defaultRetryWait = retryWait
	}
}

// DownloadManifest fetches a manifest, sending headers (including any
// conditional tokens). A 304 response is reported as NotModified.
func (c *Client) DownloadManifest(ctx context.Context, url string, headers map[string]string) (*ManifestResponse, error) {
	c.logger.Info("Fetching manifest from %s", url)

	var result *ManifestResponse
	operation := func() error {
		resp, err := c.manifestOnce(ctx, url, headers)
		if err != nil {
			return err
		}
		result = resp
		return nil
	}

	attempts, err := utils.Retry(ctx, operation, c.defaultRetries, c.defaultRetryWait, fmt.Sprintf("manifest %s", url), c.logger)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("Manifest request completed in %d attempts", attempts)
	return result, nil
}

// DownloadAsset downloads url into dst, returning the number of bytes written.
// dst is truncated on every attempt.
func (c *Client) DownloadAsset(ctx context.Context, url, dst string) (int64, error) {
	c.logger.Debug("Downloading %s to %s", url, dst)

	var written int64
	operation := func() error {
		n, err := c.downloadOnce(ctx, url, dst)
		if err != nil {
			return err
		}
		written = n
		return nil
	}

	attempts, err := utils.Retry(ctx, operation, c.defaultRetries, c.defaultRetryWait, fmt.Sprintf("download %s", url), c.logger)
	if err != nil {
		return 0, err
	}
	c.logger.Debug("Download completed in %d attempts", attempts)
	return written, nil
}

func (c *Client) newRequest(ctx context.Context, url string, headers map[string]string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, utils.Permanent(&NetworkError{URL: url, Err: err})
	}

	// Add HTTP Basic Authentication if configured
	if c.authUser != "" && c.authPassword != "" {
		req.SetBasicAuth(c.authUser, c.authPassword)
		c.logger.Debug("Added HTTP Basic Auth for user: %s", c.authUser)
	}

	for key, value := range c.customHeaders {
		req.Header.Set(key, value)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	req.Header.Set("User-Agent", userAgent)

	// Log request headers in verbose mode (mask secret values)
	safe := make(http.Header)
	for k, vals := range req.Header {
		if k == "Authorization" || k == "Proxy-Authorization" {
			safe[k] = []string{"***redacted***"}
		} else {
			safe[k] = vals
		}
	}
	c.logger.Verbose("HTTP request headers: %v", safe)
	return req, nil
}

// do sends req and classifies failures; non-retryable statuses are Permanent
func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return nil, utils.Permanent(&NetworkError{URL: req.URL.String(), Err: err})
		}
		return nil, &NetworkError{URL: req.URL.String(), Err: err}
	}
	c.logger.Debug("HTTP response status: %d", resp.StatusCode)
	c.logger.Verbose("HTTP response headers: %v", resp.Header)
	return resp, nil
}

func statusError(url string, resp *http.Response) error {
	netErr := &NetworkError{
		URL:        url,
		StatusCode: resp.StatusCode,
		Err:        fmt.Errorf("unexpected status %s", resp.Status),
	}
	if !netErr.Retryable() {
		return utils.Permanent(netErr)
	}
	return netErr
}

func (c *Client) manifestOnce(ctx context.Context, url string, headers map[string]string) (*ManifestResponse, error) {
	req, err := c.newRequest(ctx, url, headers)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	result := &ManifestResponse{
		URL:        resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
	}
	switch resp.StatusCode {
	case http.StatusNotModified:
		result.NotModified = true
		return result, nil
	case http.StatusOK:
	default:
		return nil, statusError(url, resp)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestSize+1))
	if err != nil {
		return nil, &NetworkError{URL: url, Err: fmt.Errorf("failed to read manifest body: %w", err)}
	}
	if len(body) > maxManifestSize {
		return nil, utils.Permanent(&NetworkError{URL: url, Err: fmt.Errorf("manifest exceeds %d bytes", maxManifestSize)})
	}
	result.Body = body
	return result, nil
}

// downloadOnce performs a single download attempt
func (c *Client) downloadOnce(ctx context.Context, url, dst string) (int64, error) {
	if err := utils.EnsureDirForFile(dst); err != nil {
		return 0, utils.Permanent(err)
	}

	req, err := c.newRequest(ctx, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, statusError(url, resp)
	}

	file, err := os.Create(dst)
	if err != nil {
		return 0, utils.Permanent(fmt.Errorf("failed to create file %s: %w", dst, err))
	}
	defer file.Close()

	bytesWritten, err := io.Copy(file, resp.Body)
	if err != nil {
		return 0, &NetworkError{URL: url, Err: fmt.Errorf("failed to write file: %w", err)}
	}

	c.logger.Debug("Downloaded %d bytes to %s", bytesWritten, dst)
	return bytesWritten, nil
}
