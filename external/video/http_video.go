package video

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/foxseedlab/lecturerelay/internal/video"
	"github.com/google/uuid"
)

const maxVideoBodyBytes = 1 << 20

type HTTPSource struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
}

func NewHTTPSource(baseURL string, timeout time.Duration) *HTTPSource {
	return &HTTPSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		client:  &http.Client{},
	}
}

// resolvePayload covers both shapes the video service answers with: a direct
// video_url, or a base url plus a separate signed query fragment.
type resolvePayload struct {
	VideoURL   string `json:"video_url"`
	URL        string `json:"url"`
	SignedURL  string `json:"signedUrl"`
	IsManifest *bool  `json:"is_manifest"`
}

type resolveResponse struct {
	resolvePayload
	Data *resolvePayload `json:"data"`
}

func (p resolvePayload) reference() (video.Reference, bool) {
	var raw string
	switch {
	case p.VideoURL != "":
		raw = strings.TrimSpace(p.VideoURL)
	case p.URL != "":
		raw = video.JoinSignedURL(p.URL, p.SignedURL)
	default:
		return video.Reference{}, false
	}
	isManifest := video.IsManifestURL(raw)
	if p.IsManifest != nil {
		isManifest = *p.IsManifest
	}
	return video.Reference{URL: raw, IsManifest: isManifest}, true
}

func (s *HTTPSource) Resolve(ctx context.Context, batchID, sessionID, token string) (video.Reference, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := url.Values{"batchId": {batchID}, "scheduleId": {sessionID}}
	endpoint := s.baseURL + "/api/videos/resolve?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return video.Reference{}, fmt.Errorf("failed to build resolve request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	body, err := doJSON(s.client, req)
	if err != nil {
		return video.Reference{}, err
	}
	var parsed resolveResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return video.Reference{}, fmt.Errorf("malformed resolve response: %w", err)
	}
	if parsed.Data != nil {
		if ref, ok := parsed.Data.reference(); ok {
			return ref, nil
		}
	}
	if ref, ok := parsed.resolvePayload.reference(); ok {
		return ref, nil
	}
	return video.Reference{}, video.ErrNotResolved
}

type HTTPConverter struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
}

func NewHTTPConverter(baseURL string, timeout time.Duration) *HTTPConverter {
	return &HTTPConverter{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		client:  &http.Client{},
	}
}

type convertRequest struct {
	URL string `json:"url"`
}

type convertResponse struct {
	URL         string `json:"url"`
	PlaylistURL string `json:"playlist_url"`
	M3U8URL     string `json:"m3u8_url"`
	Data        *struct {
		URL         string `json:"url"`
		PlaylistURL string `json:"playlist_url"`
		M3U8URL     string `json:"m3u8_url"`
	} `json:"data"`
}

func (r convertResponse) playlist() string {
	candidates := []string{r.PlaylistURL, r.M3U8URL, r.URL}
	if r.Data != nil {
		candidates = append([]string{r.Data.PlaylistURL, r.Data.M3U8URL, r.Data.URL}, candidates...)
	}
	for _, c := range candidates {
		if c = strings.TrimSpace(c); c != "" {
			return c
		}
	}
	return ""
}

func (c *HTTPConverter) ConvertManifest(ctx context.Context, manifestURL, token string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(convertRequest{URL: manifestURL})
	if err != nil {
		return "", fmt.Errorf("failed to marshal convert request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/convert", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build convert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	body, err := doJSON(c.client, req)
	if err != nil {
		return "", err
	}
	var parsed convertResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("malformed convert response: %w", err)
	}
	playlist := parsed.playlist()
	if playlist == "" {
		return "", video.ErrConversionFailed
	}
	return playlist, nil
}

func doJSON(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", req.URL.Path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxVideoBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", req.URL.Path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Warn("video service returned unexpected status", "path", req.URL.Path, "status", resp.StatusCode, "rate_limited", resp.StatusCode == http.StatusTooManyRequests)
		return nil, fmt.Errorf("%s returned status %d", req.URL.Path, resp.StatusCode)
	}
	return body, nil
}
