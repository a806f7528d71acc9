package character

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	_ "golang.org/x/image/webp"
)

// DefaultServiceURL is the public character service; the numeric id is
// appended
const DefaultServiceURL = "https://character-service.dndbeyond.com/character/v5/character/"

// maxResponseSize bounds character documents and portraits
const maxResponseSize = 16 << 20

// Client fetches character documents and portraits
type Client struct {
	http    *http.Client
	baseURL string
}

// NewClient creates a client. A nil httpClient gets a 15s timeout; an empty
// baseURL uses DefaultServiceURL.
func NewClient(httpClient *http.Client, baseURL string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if baseURL == "" {
		baseURL = DefaultServiceURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Client{http: httpClient, baseURL: baseURL}
}

// ParseID validates a character id as entered by the user
func ParseID(s string) (int, error) {
	id, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid character id %q", s)
	}
	return id, nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json, image/*")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: %s", url, resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
}

// Fetch downloads the raw character document
func (c *Client) Fetch(ctx context.Context, id int) ([]byte, error) {
	body, err := c.get(ctx, c.baseURL+strconv.Itoa(id))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch character %d: %w", id, err)
	}
	return body, nil
}

// FetchPortrait downloads and decodes an avatar image
func (c *Client) FetchPortrait(ctx context.Context, url string) (image.Image, error) {
	body, err := c.get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch portrait: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to decode portrait: %w", err)
	}
	return img, nil
}
