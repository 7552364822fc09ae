package translate

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ImageFetchTimeout and ImageFetchMaxBytes implement spec §4.F rule 3: URL
// images are fetched on the gateway with a 10-second timeout, size-capped
// at 20 MB.
const (
	ImageFetchTimeout  = 10 * time.Second
	ImageFetchMaxBytes = 20 * 1024 * 1024
)

// ImageFetcher fetches a URL image and returns it transcoded to base64 with
// its media type, or an error suitable for a user-facing 400.
type ImageFetcher struct {
	Client *http.Client
}

func NewImageFetcher(client *http.Client) *ImageFetcher {
	if client == nil {
		client = &http.Client{}
	}
	return &ImageFetcher{Client: client}
}

func (f *ImageFetcher) Fetch(ctx context.Context, url string) (mediaType, base64Data string, err error) {
	ctx, cancel := context.WithTimeout(ctx, ImageFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", "", fmt.Errorf("build image fetch request: %w", err)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("fetch image %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("fetch image %s: unexpected status %d", url, resp.StatusCode)
	}

	limited := io.LimitReader(resp.Body, ImageFetchMaxBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return "", "", fmt.Errorf("read image body %s: %w", url, err)
	}
	if len(data) > ImageFetchMaxBytes {
		return "", "", fmt.Errorf("image %s exceeds %d byte cap", url, ImageFetchMaxBytes)
	}

	mt := resp.Header.Get("Content-Type")
	if mt == "" {
		mt = "application/octet-stream"
	}
	return mt, base64.StdEncoding.EncodeToString(data), nil
}
