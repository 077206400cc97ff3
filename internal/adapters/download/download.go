// Package download fetches source archives over HTTP or from local files.
package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"

	"github.com/felixgeelhaar/cellar/internal/ports"
)

// Downloader implements ports.Downloader.
type Downloader struct {
	client   *http.Client
	progress io.Writer
	agent    string
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithClient replaces the HTTP client.
func WithClient(c *http.Client) Option {
	return func(d *Downloader) { d.client = c }
}

// WithProgress renders a progress bar on w while downloading. The bar stays
// hidden when CI=true or when w is not a terminal.
func WithProgress(w io.Writer) Option {
	return func(d *Downloader) { d.progress = w }
}

// WithUserAgent sets the User-Agent header of HTTP requests.
func WithUserAgent(agent string) Option {
	return func(d *Downloader) { d.agent = agent }
}

// New creates a Downloader.
func New(opts ...Option) *Downloader {
	d := &Downloader{
		client: &http.Client{},
		agent:  "cellar",
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Download streams rawURL into w. http and https URLs are requested with
// GET; file URLs and plain paths are read from disk.
func (d *Downloader) Download(ctx context.Context, rawURL string, w io.Writer) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return eris.Wrapf(err, "invalid url %q", rawURL)
	}

	switch u.Scheme {
	case "http", "https":
		return d.fetchHTTP(ctx, rawURL, w)
	case "file":
		return d.copyFile(ctx, u.Path, w)
	case "":
		return d.copyFile(ctx, rawURL, w)
	default:
		return eris.Errorf("unsupported url scheme %q", u.Scheme)
	}
}

func (d *Downloader) fetchHTTP(ctx context.Context, rawURL string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return eris.Wrapf(err, "failed to build request for %s", rawURL)
	}
	req.Header.Set("User-Agent", d.agent)

	resp, err := d.client.Do(req)
	if err != nil {
		return eris.Wrapf(err, "failed to download %s", rawURL)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return eris.Errorf("failed to download %s: server returned %s", rawURL, resp.Status)
	}

	bar := d.progressBar(resp.ContentLength, path.Base(req.URL.Path))
	defer func() { _ = bar.Close() }()

	if _, err := io.Copy(io.MultiWriter(w, bar), resp.Body); err != nil {
		return eris.Wrapf(err, "failed to download %s", rawURL)
	}
	return nil
}

func (d *Downloader) copyFile(ctx context.Context, name string, w io.Writer) error {
	f, err := os.Open(name)
	if err != nil {
		return eris.Wrapf(err, "failed to open %s", name)
	}
	defer func() { _ = f.Close() }()

	if _, err := io.Copy(w, ctxReader{ctx: ctx, r: f}); err != nil {
		return eris.Wrapf(err, "failed to read %s", name)
	}
	return nil
}

func (d *Downloader) progressBar(length int64, desc string) *progressbar.ProgressBar {
	visible := d.progress != nil && os.Getenv("CI") != "true" && isTerminal(d.progress)
	if !visible {
		return progressbar.NewOptions64(length, progressbar.OptionSetVisibility(false))
	}

	return progressbar.NewOptions64(length,
		progressbar.OptionSetWriter(d.progress),
		progressbar.OptionSetDescription(fmt.Sprintf("Downloading %s", desc)),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

// ctxReader stops a copy once its context is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// Ensure Downloader implements ports.Downloader.
var _ ports.Downloader = (*Downloader)(nil)
