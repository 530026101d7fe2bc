package loki

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"esim-gateway/internal/telemetry"
)

func capture(t *testing.T, status int) (*httptest.Server, *PushRequest) {
	t.Helper()
	var got PushRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/loki/api/v1/push" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content-type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestNewClient_EmptyURL(t *testing.T) {
	if _, err := NewClient("  ", nil); err == nil {
		t.Fatal("expected error for empty base URL")
	}
}

func TestPushEventJSON_Labels(t *testing.T) {
	srv, got := capture(t, http.StatusNoContent)
	c, err := NewClient(srv.URL+"/", srv.Client())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	created := time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC)
	raw, _ := json.Marshal(&telemetry.Event{EventType: "webhook.sim swap", Source: "webhook", CreatedAt: created})

	if err := c.PushEventJSON(context.Background(), raw); err != nil {
		t.Fatalf("PushEventJSON: %v", err)
	}
	if len(got.Streams) != 1 {
		t.Fatalf("streams = %d", len(got.Streams))
	}
	s := got.Streams[0]
	if s.Stream["job"] != jobLabel || s.Stream["source"] != "webhook" {
		t.Errorf("labels = %v", s.Stream)
	}
	if s.Stream["event_type"] != "webhook.sim_swap" {
		t.Errorf("event_type = %q, want sanitized", s.Stream["event_type"])
	}
	if s.Values[0][0] != strconv.FormatInt(created.UnixNano(), 10) {
		t.Errorf("timestamp = %s", s.Values[0][0])
	}
	if s.Values[0][1] != string(raw) {
		t.Errorf("line = %s", s.Values[0][1])
	}
}

func TestPushEventJSON_NotJSON(t *testing.T) {
	srv, got := capture(t, http.StatusNoContent)
	c, _ := NewClient(srv.URL, srv.Client())
	if err := c.PushEventJSON(context.Background(), []byte("plain text")); err != nil {
		t.Fatalf("PushEventJSON: %v", err)
	}
	s := got.Streams[0]
	if len(s.Stream) != 1 {
		t.Errorf("labels = %v, want only job", s.Stream)
	}
	if s.Values[0][1] != "plain text" {
		t.Errorf("line = %q", s.Values[0][1])
	}
}

func TestPush_Non2xx(t *testing.T) {
	srv, _ := capture(t, http.StatusBadRequest)
	c, _ := NewClient(srv.URL, srv.Client())
	if err := c.Push(context.Background(), time.Now(), "x", nil); err == nil {
		t.Fatal("expected error on 400")
	}
}
