package metadata

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// maxDocumentBytes bounds the size of a fetched metadata document.
const maxDocumentBytes = 1 << 20 // 1 MiB

// DocumentFetcher retrieves the text of a metadata document.
type DocumentFetcher interface {
	Fetch(ctx context.Context, address string) (string, error)
}

// FetcherFunc adapts a function to a DocumentFetcher.
type FetcherFunc func(ctx context.Context, address string) (string, error)

func (f FetcherFunc) Fetch(ctx context.Context, address string) (string, error) {
	return f(ctx, address)
}

// HTTPFetcher retrieves documents with an HTTP GET. Any non-2xx response is
// reported as a StatusError.
type HTTPFetcher struct {
	client       *http.Client
	requireHTTPS bool
}

// NewHTTPFetcher creates a fetcher using client; nil uses http.DefaultClient.
// When requireHTTPS is set, addresses with any other scheme are refused
// before a request is made.
func NewHTTPFetcher(client *http.Client, requireHTTPS bool) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{
		client:       client,
		requireHTTPS: requireHTTPS,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, address string) (string, error) {
	if f == nil {
		return "", ErrArgumentMissing
	}

	u, err := url.Parse(address)
	if err != nil {
		return "", fmt.Errorf("%w: invalid address %q: %w", ErrFetchFailure, address, err)
	}
	if f.requireHTTPS && u.Scheme != "https" {
		return "", fmt.Errorf("%w: address %q must use https", ErrFetchFailure, address)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, address, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("%w: creating request for %s: %w", ErrFetchFailure, address, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("%w: requesting %s: %w", ErrFetchFailure, address, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// drain so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDocumentBytes))
		return "", StatusError{Address: address, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes+1))
	if err != nil {
		return "", fmt.Errorf("%w: reading %s: %w", ErrFetchFailure, address, err)
	}
	if len(body) > maxDocumentBytes {
		return "", fmt.Errorf("%w: %s exceeds %d bytes", ErrFetchFailure, address, maxDocumentBytes)
	}

	return string(body), nil
}
