// Package media resolves outbound attachments from local files, uploads and
// remote URLs.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/xiaot623/gogo/gateway/internal/domain"
)

// DefaultFileName is used when neither the caller nor the source names the file.
const DefaultFileName = "Media"

// ErrTooLarge is returned when an attachment exceeds the configured limit.
var ErrTooLarge = errors.New("media exceeds size limit")

// Fetcher downloads remote attachments.
type Fetcher struct {
	httpClient *http.Client
	maxBytes   int64
}

// NewFetcher creates a Fetcher. maxBytes <= 0 disables the size limit.
func NewFetcher(timeout time.Duration, maxBytes int64) *Fetcher {
	return &Fetcher{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		maxBytes: maxBytes,
	}
}

// Fetch downloads rawURL. The mime type comes from the response Content-Type,
// falling back to content sniffing.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, fileName string) (domain.Media, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return domain.Media{}, fmt.Errorf("invalid media url %q", rawURL)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return domain.Media{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := f.httpClient.Do(httpReq)
	if err != nil {
		return domain.Media{}, fmt.Errorf("failed to fetch media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.Media{}, fmt.Errorf("media url returned status %d", resp.StatusCode)
	}

	data, err := readLimited(resp.Body, f.maxBytes)
	if err != nil {
		return domain.Media{}, err
	}

	mimeType := resp.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(mimeType); err == nil {
		mimeType = mt
	} else {
		mimeType = http.DetectContentType(data)
	}

	if fileName == "" {
		fileName = path.Base(u.Path)
		if fileName == "/" || fileName == "." {
			fileName = DefaultFileName
		}
	}
	return domain.Media{Data: data, MimeType: mimeType, FileName: fileName}, nil
}

// Remote returns a source that fetches rawURL on Resolve.
func (f *Fetcher) Remote(rawURL, fileName string) Source {
	return SourceFunc(func(ctx context.Context) (domain.Media, error) {
		return f.Fetch(ctx, rawURL, strings.TrimSpace(fileName))
	})
}

func readLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read media: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, ErrTooLarge
	}
	return data, nil
}
