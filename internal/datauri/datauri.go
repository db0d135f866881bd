// Package datauri converts image bytes to and from self-describing
// base64 data URIs, the only form in which binary content is stored.
package datauri

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"
)

// ErrMalformed is returned when a string is not a base64 data URI.
var ErrMalformed = errors.New("malformed data URI")

// DefaultMaxBytes caps a fetched image.
const DefaultMaxBytes = 10 << 20

// Encode builds "data:<mime>;base64,<payload>".
func Encode(mimeType string, data []byte) string {
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// Decode splits a base64 data URI into its media type and bytes.
func Decode(uri string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return "", nil, ErrMalformed
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, ErrMalformed
	}
	mediaType, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return "", nil, fmt.Errorf("%w: not base64", ErrMalformed)
	}
	if mediaType == "" {
		mediaType = "text/plain"
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return mediaType, data, nil
}

// IsImage reports whether uri is a well-formed base64 data URI of an image.
func IsImage(uri string) bool {
	mediaType, _, err := Decode(uri)
	return err == nil && strings.HasPrefix(mediaType, "image/")
}

// Fetcher downloads images and normalizes them to data URIs.
type Fetcher struct {
	Client   *http.Client
	MaxBytes int64
}

// NewFetcher returns a Fetcher with the given per-request timeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	return &Fetcher{
		Client:   &http.Client{Timeout: timeout},
		MaxBytes: DefaultMaxBytes,
	}
}

// Fetch downloads url and returns its content as a data URI. A url that is
// already a data URI is validated and returned unchanged.
func (f *Fetcher) Fetch(ctx context.Context, url string) (string, error) {
	if strings.HasPrefix(url, "data:") {
		if !IsImage(url) {
			return "", fmt.Errorf("inline image: %w", ErrMalformed)
		}
		return url, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("fetch %s: HTTP %d", url, resp.StatusCode)
	}

	limit := f.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", url, err)
	}
	if int64(len(data)) > limit {
		return "", fmt.Errorf("fetch %s: image larger than %d bytes", url, limit)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("fetch %s: empty body", url)
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if !strings.HasPrefix(mediaType, "image/") {
		mediaType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(mediaType, "image/") {
		return "", fmt.Errorf("fetch %s: not an image (%s)", url, mediaType)
	}
	return Encode(mediaType, data), nil
}
