// Package loader resolves a file URL to markdown text ready for graph
// ingestion. Plain text and markdown pass through, CSV is rendered as a
// markdown table; everything else is an unsupported format.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/phanngoc/notebooklm/pkg/common"
)

// ErrUnsupportedFormat marks file types the loader cannot convert to
// text. Callers report it as a failed processing result, not a crash.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// maxFetchBytes caps a single download.
const maxFetchBytes = 64 << 20

// BlobGetter resolves blob:// and s3:// URLs against the namespace
// blob store.
type BlobGetter interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// maxCacheEntries bounds the per-URL fetch cache; an arbitrary entry is
// evicted when the cache is full.
const maxCacheEntries = 128

type fetched struct {
	content     []byte
	contentType string
}

// Loader fetches and converts files. Fetches are cached per URL and
// deduplicated with singleflight so concurrent jobs for the same file
// hit the network once.
type Loader struct {
	http  *http.Client
	blobs BlobGetter

	cache   map[string]fetched
	cacheMu sync.RWMutex
	group   singleflight.Group
}

// New creates a loader. blobs may be nil when blob:// URLs are not in
// play.
func New(client *http.Client, blobs BlobGetter) *Loader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Loader{
		http:  client,
		blobs: blobs,
		cache: make(map[string]fetched),
	}
}

// Load fetches fileURL and returns its content as markdown.
func (l *Loader) Load(ctx context.Context, fileURL string) (string, error) {
	return l.LoadNamed(ctx, fileURL, "", "")
}

// LoadNamed is Load with caller-supplied file name and content type,
// used when a request carries file metadata the URL alone does not.
// Empty hints fall back to what the fetch reported.
func (l *Loader) LoadNamed(ctx context.Context, fileURL, name, contentType string) (string, error) {
	raw, fetchedType, err := l.fetch(ctx, fileURL)
	if err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = fetchedType
	}
	if name == "" {
		name = fileURL
	}
	return Convert(raw, contentType, name)
}

func (l *Loader) fetch(ctx context.Context, fileURL string) ([]byte, string, error) {
	l.cacheMu.RLock()
	cached, ok := l.cache[fileURL]
	l.cacheMu.RUnlock()
	if ok {
		return cached.content, cached.contentType, nil
	}

	result, err, _ := l.group.Do(fileURL, func() (any, error) {
		content, contentType, err := l.fetchLocked(ctx, fileURL)
		if err != nil {
			return nil, err
		}
		f := fetched{content: content, contentType: contentType}
		l.cacheMu.Lock()
		if len(l.cache) >= maxCacheEntries {
			for k := range l.cache {
				delete(l.cache, k)
				break
			}
		}
		l.cache[fileURL] = f
		l.cacheMu.Unlock()
		return f, nil
	})
	if err != nil {
		return nil, "", err
	}
	f := result.(fetched)
	return f.content, f.contentType, nil
}

func (l *Loader) fetchLocked(ctx context.Context, fileURL string) ([]byte, string, error) {
	u, err := url.Parse(fileURL)
	if err != nil {
		return nil, "", common.NewConfigurationError("invalid file url %q: %v", fileURL, err)
	}

	switch u.Scheme {
	case "http", "https":
		return l.fetchHTTP(ctx, fileURL)
	case "blob", "s3":
		if l.blobs == nil {
			return nil, "", common.NewConfigurationError("no blob store configured for %q", fileURL)
		}
		key := strings.TrimPrefix(strings.TrimPrefix(fileURL, u.Scheme+"://"), "/")
		content, err := l.blobs.Get(ctx, key)
		if err != nil {
			return nil, "", fmt.Errorf("fetching blob %q: %w", key, err)
		}
		return content, typeFromName(key), nil
	case "file", "":
		p := u.Path
		if p == "" {
			p = fileURL
		}
		content, err := os.ReadFile(p)
		if err != nil {
			return nil, "", fmt.Errorf("reading %q: %w", p, err)
		}
		return content, typeFromName(p), nil
	default:
		return nil, "", common.NewConfigurationError("unsupported url scheme %q", u.Scheme)
	}
}

func (l *Loader) fetchHTTP(ctx context.Context, fileURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := l.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetching %q: %w", fileURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetching %q: unexpected status %d", fileURL, resp.StatusCode)
	}

	content, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, "", fmt.Errorf("reading %q: %w", fileURL, err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = typeFromName(fileURL)
	}
	return content, contentType, nil
}

func typeFromName(name string) string {
	ext := path.Ext(strings.TrimSuffix(name, "/"))
	if ext == "" {
		return ""
	}
	return mime.TypeByExtension(ext)
}
