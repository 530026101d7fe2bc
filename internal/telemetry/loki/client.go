// Package loki pushes telemetry events to Grafana Loki.
package loki

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"esim-gateway/internal/telemetry"
)

const jobLabel = "esim-gateway"

// PushRequest is the Loki push API request body (v1).
type PushRequest struct {
	Streams []Stream `json:"streams"`
}

// Stream is a single stream with labels and log entries.
type Stream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"` // [timestamp_ns, line]
}

var labelSanitize = regexp.MustCompile(`[^a-zA-Z0-9_\-:.]`)

// Client pushes lines to a Loki instance.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a Client for baseURL (e.g. http://localhost:3100). A nil
// httpClient uses a 10s timeout client.
func NewClient(baseURL string, httpClient *http.Client) (*Client, error) {
	baseURL = strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("loki: base URL is empty")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: baseURL, http: httpClient}, nil
}

// PushEventJSON pushes a Kafka message value. When the value decodes as a
// telemetry.Event its type, source and timestamp become labels and the entry
// time; otherwise the raw line is pushed at the current time.
func (c *Client) PushEventJSON(ctx context.Context, raw []byte) error {
	labels := map[string]string{}
	ts := time.Now().UTC()
	var ev telemetry.Event
	if err := json.Unmarshal(raw, &ev); err == nil {
		if ev.EventType != "" {
			labels["event_type"] = ev.EventType
		}
		if ev.Source != "" {
			labels["source"] = ev.Source
		}
		if !ev.CreatedAt.IsZero() {
			ts = ev.CreatedAt
		}
	}
	return c.Push(ctx, ts, string(raw), labels)
}

// Push sends one line. Label values are sanitized; empty ones are dropped.
func (c *Client) Push(ctx context.Context, ts time.Time, line string, labels map[string]string) error {
	stream := map[string]string{"job": jobLabel}
	for k, v := range labels {
		if s := labelSanitize.ReplaceAllString(strings.TrimSpace(v), "_"); s != "" {
			stream[k] = s
		}
	}
	body, err := json.Marshal(PushRequest{Streams: []Stream{{
		Stream: stream,
		Values: [][]string{{strconv.FormatInt(ts.UnixNano(), 10), line}},
	}}})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/loki/api/v1/push", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("loki: push returned %s", resp.Status)
	}
	return nil
}
