package feed

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/feedrelay/feedrelay/internal/config"
)

// Initial and maximum line buffer sizes for the body scanner. Some feeds
// carry long URL indicators with query strings.
const (
	scanBufSize = 64 * 1024
	maxLineSize = 1024 * 1024
)

// Fetcher performs one streaming GET of the configured feed per poll
// cycle. The HTTP client is built once and reused across cycles; TLS
// certificate verification is always on.
type Fetcher struct {
	feed   config.Feed
	client *http.Client
	log    *slog.Logger
}

// NewFetcher builds a Fetcher for the given feed.
func NewFetcher(feed config.Feed, log *slog.Logger) *Fetcher {
	return &Fetcher{
		feed: feed,
		client: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
			},
			Timeout: feed.PollingTimeout(),
		},
		log: log,
	}
}

// Fetch issues the GET request and returns the response body as a lazy
// line sequence. A non-2xx status is a fetch failure. Cancelling ctx
// aborts the request, including a body read already in progress.
//
// The caller must Close the returned Body.
func (f *Fetcher) Fetch(ctx context.Context) (*Body, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.feed.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch %q: build request: %w", f.feed.Name, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %q: http get: %w", f.feed.Name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch %q: unexpected status %d", f.feed.Name, resp.StatusCode)
	}

	f.log.Debug("fetch started", "feed", f.feed.Name, "status", resp.StatusCode)
	return newBody(resp.Body), nil
}

// Body is a finite, non-restartable sequence of feed lines streamed from
// one HTTP response. Lines are consumed with the Scan/Text pair; Err
// reports a read failure after Scan returns false.
type Body struct {
	rc      io.ReadCloser
	scanner *bufio.Scanner
}

func newBody(rc io.ReadCloser) *Body {
	sc := bufio.NewScanner(rc)
	sc.Buffer(make([]byte, scanBufSize), maxLineSize)
	return &Body{rc: rc, scanner: sc}
}

// Scan advances to the next line. It returns false at end of input or on
// a read error.
func (b *Body) Scan() bool { return b.scanner.Scan() }

// Text returns the current line without its trailing newline.
func (b *Body) Text() string { return b.scanner.Text() }

// Err returns the first error encountered while reading, nil at a clean
// end of input.
func (b *Body) Err() error { return b.scanner.Err() }

// Close releases the underlying connection.
func (b *Body) Close() error { return b.rc.Close() }
