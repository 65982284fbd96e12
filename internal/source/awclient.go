package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/roach88/awexport/internal/event"
)

// DefaultServerURL is where aw-server listens by default.
const DefaultServerURL = "http://localhost:5600"

// AWClient reads buckets and events from the ActivityWatch REST API.
type AWClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewAWClient creates a client for the server at baseURL.
func NewAWClient(baseURL string) *AWClient {
	if baseURL == "" {
		baseURL = DefaultServerURL
	}
	return &AWClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// wireBucket is the server's bucket representation.
type wireBucket struct {
	ID          string `json:"id"`
	Client      string `json:"client"`
	Type        string `json:"type"`
	Hostname    string `json:"hostname"`
	LastUpdated string `json:"last_updated"`
}

// Buckets implements EventSource.
func (c *AWClient) Buckets(ctx context.Context) ([]event.Bucket, error) {
	var raw map[string]wireBucket
	if err := c.get(ctx, "/api/0/buckets/", nil, &raw); err != nil {
		return nil, err
	}

	out := make([]event.Bucket, 0, len(raw))
	for id, wb := range raw {
		b := event.Bucket{ID: id, Client: wb.Client, Type: wb.Type, Hostname: wb.Hostname}
		if wb.ID != "" {
			b.ID = wb.ID
		}
		if wb.LastUpdated != "" {
			if ts, err := event.ParseTime(wb.LastUpdated); err == nil {
				b.LastUpdated = ts
			}
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Events implements EventSource. The server returns newest first; the
// result is re-sorted by timestamp.
func (c *AWClient) Events(ctx context.Context, bucketID string, start, end time.Time) ([]event.Sample, error) {
	q := url.Values{}
	q.Set("limit", "-1")
	if !start.IsZero() {
		q.Set("start", start.UTC().Format(time.RFC3339Nano))
	}
	if !end.IsZero() {
		q.Set("end", end.UTC().Format(time.RFC3339Nano))
	}

	var samples []event.Sample
	path := "/api/0/buckets/" + url.PathEscape(bucketID) + "/events"
	if err := c.get(ctx, path, q, &samples); err != nil {
		return nil, err
	}
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].Timestamp.Before(samples[j].Timestamp)
	})
	return samples, nil
}

func (c *AWClient) get(ctx context.Context, path string, q url.Values, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("aw-server %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
