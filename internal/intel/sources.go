package intel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/mbd888/txguard/internal/retry"
)

// maxFeedSize bounds how much of a remote feed is read (32MB).
const maxFeedSize = 32 << 20

// FileSource reads a JSON feed from disk.
type FileSource struct {
	Path string
}

// Load implements Source.
func (s *FileSource) Load(_ context.Context) (*Feed, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("intel: open feed: %w", err)
	}
	defer func() { _ = f.Close() }()
	return decodeFeed(f)
}

// HTTPSource fetches a JSON feed from a URL, retrying transient failures.
type HTTPSource struct {
	URL      string
	Client   *http.Client
	Attempts int
	Backoff  time.Duration
}

// NewHTTPSource creates an HTTP feed source with sensible retry defaults.
func NewHTTPSource(url string) *HTTPSource {
	return &HTTPSource{
		URL:      url,
		Client:   &http.Client{Timeout: 30 * time.Second},
		Attempts: 3,
		Backoff:  500 * time.Millisecond,
	}
}

// Load implements Source.
func (s *HTTPSource) Load(ctx context.Context) (*Feed, error) {
	var feed *Feed
	err := retry.Do(ctx, s.Attempts, s.Backoff, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
		if err != nil {
			return retry.Permanent(fmt.Errorf("intel: build feed request: %w", err))
		}
		req.Header.Set("Accept", "application/json")

		resp, err := s.Client.Do(req)
		if err != nil {
			return fmt.Errorf("intel: fetch feed: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		switch {
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("intel: feed returned HTTP %d", resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return retry.Permanent(fmt.Errorf("intel: feed returned HTTP %d", resp.StatusCode))
		}

		f, err := decodeFeed(io.LimitReader(resp.Body, maxFeedSize))
		if err != nil {
			return retry.Permanent(err)
		}
		feed = f
		return nil
	})
	if err != nil {
		return nil, err
	}
	return feed, nil
}

// MultiSource concatenates feeds from several sources in order. Any source
// failing fails the whole load so a partial feed never replaces a full one.
type MultiSource []Source

// Load implements Source.
func (m MultiSource) Load(ctx context.Context) (*Feed, error) {
	out := &Feed{}
	for _, s := range m {
		f, err := s.Load(ctx)
		if err != nil {
			return nil, err
		}
		out.Records = append(out.Records, f.Records...)
		out.Clusters = append(out.Clusters, f.Clusters...)
	}
	return out, nil
}

// Build loads a feed from src and indexes it.
func Build(ctx context.Context, src Source) (*Registry, error) {
	if src == nil {
		return Empty(), nil
	}
	feed, err := src.Load(ctx)
	if err != nil {
		return nil, err
	}
	return NewRegistry(feed.Records, feed.Clusters)
}

func decodeFeed(r io.Reader) (*Feed, error) {
	var feed Feed
	if err := json.NewDecoder(r).Decode(&feed); err != nil {
		return nil, fmt.Errorf("intel: decode feed: %w", err)
	}
	return &feed, nil
}
