// Package fetcher retrieves OpenAPI documents over HTTPS, enforces the
// structural minimum the catalogs need, and caches decoded documents by
// URL.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ubermorgenland/mcp-bridge/pkg/openapi"
)

var (
	// ErrInsecureURL rejects a document URL before any network I/O.
	ErrInsecureURL = errors.New("document url must use https")
	// ErrDocumentFetch covers transport failures and non-2xx answers.
	ErrDocumentFetch = errors.New("document fetch failed")
	// ErrInvalidDocument covers payloads missing the structural minimum.
	ErrInvalidDocument = errors.New("not a usable OpenAPI document")
)

const (
	// DefaultTimeout bounds one document fetch when the caller brings
	// no client of its own.
	DefaultTimeout = 20 * time.Second
	// DefaultMaxDocumentBytes caps how much of a document body is read.
	DefaultMaxDocumentBytes = 20 << 20
)

// Fetcher retrieves and decodes documents, consulting the cache before
// the network.
type Fetcher struct {
	client   *http.Client
	cache    *Cache
	maxBytes int64
}

// New builds a Fetcher. A nil client gets a timeout-bounded default; a
// nil cache disables caching.
func New(client *http.Client, cache *Cache) *Fetcher {
	return NewWithLimit(client, cache, DefaultMaxDocumentBytes)
}

// NewWithLimit is New with an explicit document size cap.
func NewWithLimit(client *http.Client, cache *Cache, maxBytes int64) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxDocumentBytes
	}
	return &Fetcher{client: client, cache: cache, maxBytes: maxBytes}
}

// Fetch returns the decoded document at rawURL. The scheme is checked
// before any I/O: only https sources are accepted.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*openapi.Document, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != "https" {
		return nil, fmt.Errorf("%w: %s", ErrInsecureURL, rawURL)
	}

	if f.cache != nil {
		if doc, ok := f.cache.Get(rawURL); ok {
			return doc, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDocumentFetch, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDocumentFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s", ErrDocumentFetch, resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDocumentFetch, err)
	}

	doc, err := openapi.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if err := validateDocument(doc); err != nil {
		return nil, err
	}

	if f.cache != nil {
		f.cache.Put(rawURL, doc)
	}
	return doc, nil
}

// validateDocument enforces the structural minimum the catalogs need.
func validateDocument(doc *openapi.Document) error {
	switch {
	case doc.OpenAPI == "":
		return fmt.Errorf("%w: missing openapi version", ErrInvalidDocument)
	case doc.Info.Title == "":
		return fmt.Errorf("%w: missing info.title", ErrInvalidDocument)
	case doc.Info.Description == "":
		return fmt.Errorf("%w: missing info.description", ErrInvalidDocument)
	case len(doc.Servers) == 0:
		return fmt.Errorf("%w: no servers declared", ErrInvalidDocument)
	case doc.Paths == nil:
		return fmt.Errorf("%w: missing paths", ErrInvalidDocument)
	}
	return nil
}
