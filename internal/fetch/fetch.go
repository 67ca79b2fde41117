// Package fetch streams directly linked files to disk over HTTP.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"
)

// Kind classifies a fetch failure.
type Kind string

const (
	KindHTTPStatus Kind = "http-status"
	KindTimeout    Kind = "timeout"
	KindConnection Kind = "connection"
	KindIO         Kind = "io"
)

// Error is returned by Fetch. StatusCode is set only for KindHTTPStatus.
type Error struct {
	Kind       Kind
	URL        string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.Kind == KindHTTPStatus {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Options configures the client.
type Options struct {
	// Timeout bounds connecting and waiting for response headers. The body
	// is bounded only by the caller's context, so a steady large transfer is
	// not cut off.
	// Default: 30s
	Timeout time.Duration

	// UserAgent is sent on every request.
	UserAgent string

	// BufferSize is the copy chunk size.
	// Default: 32 KiB
	BufferSize int
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		Timeout:    30 * time.Second,
		BufferSize: 32 * 1024,
	}
}

// Client fetches single files. It never retries.
type Client struct {
	client *http.Client
	opts   Options
}

// NewClient creates a new client with the given options.
func NewClient(opts Options) *Client {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultOptions().BufferSize
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.Timeout > 0 {
		transport.DialContext = (&net.Dialer{Timeout: opts.Timeout, KeepAlive: 30 * time.Second}).DialContext
		transport.TLSHandshakeTimeout = opts.Timeout
		transport.ResponseHeaderTimeout = opts.Timeout
	}
	return &Client{
		client: &http.Client{Transport: transport},
		opts:   opts,
	}
}

// Do sends a GET with the configured user agent. The caller closes the body
// of a successful response; non-2xx responses are returned as *Error.
func (c *Client) Do(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &Error{Kind: KindConnection, URL: url, Err: err}
	}
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classify(url, contextErr(ctx, err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, &Error{Kind: KindHTTPStatus, URL: url, StatusCode: resp.StatusCode}
	}
	return resp, nil
}

// Fetch downloads url into dest. The body is written to dest+".part" and
// renamed into place only once fully received, so a failed transfer never
// leaves a file under dest.
func (c *Client) Fetch(ctx context.Context, url, dest string) (string, error) {
	slog.Info("Downloading", "url", url, "dest", dest)

	resp, err := c.Do(ctx, url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	tmp := dest + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return "", &Error{Kind: KindIO, URL: url, Err: err}
	}

	n, err := io.CopyBuffer(f, resp.Body, make([]byte, c.opts.BufferSize))
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		var fe *Error
		if errors.As(err, &fe) {
			return "", fe
		}
		return "", classify(url, contextErr(ctx, err))
	}

	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return "", &Error{Kind: KindIO, URL: url, Err: err}
	}

	slog.Info("✓ Downloaded", "file", dest, "bytes", n)
	return dest, nil
}

// contextErr prefers ctx's deadline over the transport's wording for it.
func contextErr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return err
}

// classify maps transport errors onto a Kind.
func classify(url string, err error) *Error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &Error{Kind: KindTimeout, URL: url, Err: err}
	}
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return &Error{Kind: KindIO, URL: url, Err: err}
	}
	return &Error{Kind: KindConnection, URL: url, Err: err}
}
