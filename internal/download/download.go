// Package download implements the streaming HTTPS GET with redirect
// handling, progress reporting and retry/back-off used to fetch distro
// packages.
package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirfifer/vscode-wsl-manager/internal/constants"
	"github.com/sirfifer/vscode-wsl-manager/internal/wslerr"
)

// Progress is reported at most 10 Hz while a download is in flight.
type Progress struct {
	Downloaded int64
	Total      int64
	Percent    float64
}

// Options configures a single Download call.
type Options struct {
	OnProgress func(Progress)
	MaxRetries int
	Timeout    time.Duration
	// Cancel, when non-nil, is polled cooperatively between body chunks; a
	// closed channel aborts the in-flight request and discards the temp file.
	Cancel <-chan struct{}
}

// httpDoer is a package-level factory so retry/back-off tuning is shared
// across calls; each Download builds a fresh client from it.
var httpDoer = func(maxRetries int) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = maxRetries
	c.RetryWaitMin = 1 * time.Second
	c.RetryWaitMax = 8 * time.Second
	c.Logger = nil
	c.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if err != nil {
			return true, nil
		}
		if resp.StatusCode == 0 {
			return true, nil
		}
		if resp.StatusCode >= 500 {
			return true, nil
		}
		// 4xx is SOURCE_UNAVAILABLE: terminal, no retry.
		return false, nil
	}
	return c
}

// Download streams url into a temp file under filepath.Dir(dest), following
// redirects (the underlying client follows net/http's default policy, up to
// constants.MaxRedirects), then atomically renames it to dest on success.
// The destination is never observed to exist in a partially-written state.
func Download(ctx context.Context, url, dest string, opts Options) (string, error) {
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = constants.MaxDownloadRetries
	}
	// A zero Timeout sets no overall deadline beyond ctx.
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	client := httpDoer(maxRetries)
	client.HTTPClient.CheckRedirect = limitRedirects(constants.MaxRedirects)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", wslerr.Wrap(wslerr.KindInternal, err, "could not build request")
	}
	req.Header.Set("User-Agent", constants.UserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return "", wslerr.Wrap(wslerr.KindTransientNetwork, err, fmt.Sprintf("GET %s failed", url))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", wslerr.FromHTTPStatus(url, resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return "", wslerr.Wrap(wslerr.KindInternal, err, "could not create destination directory")
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+"-*.part")
	if err != nil {
		return "", wslerr.Wrap(wslerr.KindInternal, err, "could not create temp file")
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	total := resp.ContentLength
	var downloaded int64
	lastReport := time.Time{}
	buf := make([]byte, 64*1024)

	for {
		if opts.Cancel != nil {
			select {
			case <-opts.Cancel:
				cleanup()
				return "", wslerr.New(wslerr.KindCancelled, "download cancelled")
			default:
			}
		}

		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := tmp.Write(buf[:n]); werr != nil {
				cleanup()
				return "", wslerr.Wrap(wslerr.KindInternal, werr, "could not write temp file")
			}
			downloaded += int64(n)
			if opts.OnProgress != nil && total > 0 && time.Since(lastReport) >= 100*time.Millisecond {
				opts.OnProgress(Progress{Downloaded: downloaded, Total: total, Percent: 100 * float64(downloaded) / float64(total)})
				lastReport = time.Now()
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			cleanup()
			return "", wslerr.Wrap(wslerr.KindTransientNetwork, rerr, "download interrupted")
		}
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", wslerr.Wrap(wslerr.KindInternal, err, "could not close temp file")
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return "", wslerr.Wrap(wslerr.KindInternal, err, "could not finalize download")
	}

	if opts.OnProgress != nil && total > 0 {
		opts.OnProgress(Progress{Downloaded: downloaded, Total: total, Percent: 100})
	}

	return dest, nil
}

// HeadSize issues a HEAD request with a 5s timeout and returns Content-Length
// when present. A failure here never prevents a subsequent Download: callers
// must treat a non-nil error as "size unknown", not as a fatal condition.
func HeadSize(ctx context.Context, url string) (int64, error) {
	cctx, cancel := context.WithTimeout(ctx, constants.HeadProbeTimeoutSeconds*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", constants.UserAgent)

	client := &http.Client{CheckRedirect: limitRedirects(constants.MaxRedirects)}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("HEAD %s: unexpected status %d", url, resp.StatusCode)
	}
	if resp.ContentLength < 0 {
		return 0, fmt.Errorf("HEAD %s: no Content-Length", url)
	}
	return resp.ContentLength, nil
}

func limitRedirects(max int) func(req *http.Request, via []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= max {
			return fmt.Errorf("stopped after %d redirects", max)
		}
		return nil
	}
}
