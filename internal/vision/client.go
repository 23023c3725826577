package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client calls an inference sidecar over HTTP. Request bodies are the raw
// encoded image; responses are JSON.
type Client struct {
	baseURL string
	client  *http.Client
}

type facesResponse struct {
	Faces []Rect `json:"faces"`
}

type eyesResponse struct {
	Eyes []Rect `json:"eyes"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

type ocrResponse struct {
	Text string `json:"text"`
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:9000"
	}
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *Client) DetectFaces(ctx context.Context, img []byte) ([]Rect, error) {
	var result facesResponse
	if err := c.post(ctx, "/v1/faces", nil, img, &result); err != nil {
		return nil, err
	}
	return result.Faces, nil
}

func (c *Client) DetectEyes(ctx context.Context, img []byte, region Rect) ([]Rect, error) {
	q := url.Values{}
	q.Set("x", strconv.Itoa(region.X))
	q.Set("y", strconv.Itoa(region.Y))
	q.Set("w", strconv.Itoa(region.W))
	q.Set("h", strconv.Itoa(region.H))

	var result eyesResponse
	if err := c.post(ctx, "/v1/eyes", q, img, &result); err != nil {
		return nil, err
	}
	return result.Eyes, nil
}

func (c *Client) Embed(ctx context.Context, img []byte) (Vector, error) {
	var result embedResponse
	if err := c.post(ctx, "/v1/embed", nil, img, &result); err != nil {
		return nil, err
	}
	if len(result.Embedding) == 0 {
		return nil, fmt.Errorf("%w: no embedding returned", ErrUnavailable)
	}
	return result.Embedding, nil
}

func (c *Client) ReadText(ctx context.Context, img []byte) (string, error) {
	var result ocrResponse
	if err := c.post(ctx, "/v1/ocr", nil, img, &result); err != nil {
		return "", err
	}
	return result.Text, nil
}

func (c *Client) post(ctx context.Context, path string, query url.Values, img []byte, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(img))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s request failed: %v", ErrUnavailable, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s error %d: %s", ErrUnavailable, path, resp.StatusCode, string(b))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s decode: %v", ErrUnavailable, path, err)
	}
	return nil
}
