package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

type recordingSender struct {
	mu     sync.Mutex
	name   string
	err    error
	alerts []Alert
}

func (s *recordingSender) Send(ctx context.Context, alert Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, alert)
	return s.err
}

func (s *recordingSender) Name() string { return s.name }

func notifyTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyFiltersEvents(t *testing.T) {
	s := &recordingSender{name: "fake"}
	n := NewNotifier([]Sender{s}, []string{"feed_failed"}, notifyTestLogger())

	if err := n.Notify(context.Background(), Alert{Event: EventFeedRecovered}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(s.alerts) != 0 {
		t.Fatalf("filtered event reached the sender: %v", s.alerts)
	}

	if err := n.Notify(context.Background(), Alert{Event: EventFeedFailed}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(s.alerts) != 1 {
		t.Fatalf("got %d deliveries, want 1", len(s.alerts))
	}
	if s.alerts[0].At.IsZero() {
		t.Error("delivered alert has no timestamp")
	}
}

func TestNotifyEmptyFilterForwardsEverything(t *testing.T) {
	s := &recordingSender{name: "fake"}
	n := NewNotifier([]Sender{s}, nil, notifyTestLogger())

	if err := n.Notify(context.Background(), Alert{Event: Event("anything")}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(s.alerts) != 1 {
		t.Fatalf("got %d deliveries, want 1", len(s.alerts))
	}
}

func TestNotifyOneSenderFailingDoesNotStopTheRest(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("offline")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, notifyTestLogger())

	err := n.Notify(context.Background(), Alert{Event: EventFeedFailed})
	if err == nil {
		t.Fatal("want error reporting the failed sender")
	}
	if !strings.Contains(err.Error(), "bad: offline") {
		t.Errorf("error %q does not name the failed sender", err)
	}
	if len(good.alerts) != 1 {
		t.Fatalf("healthy sender got %d deliveries, want 1", len(good.alerts))
	}
}

func TestAlertBody(t *testing.T) {
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	a := Alert{
		Detail:    "channel gave up",
		FeedState: "failed",
		At:        at,
	}

	body := a.Body()
	for _, want := range []string{"channel gave up", "channel state: failed", "2026-08-01T12:00:00Z"} {
		if !strings.Contains(body, want) {
			t.Errorf("body %q missing %q", body, want)
		}
	}

	if body := (Alert{Detail: "d", At: at}).Body(); strings.Contains(body, "channel state") {
		t.Errorf("body %q mentions feed state without one set", body)
	}
}

func TestDiscordSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)
	err := s.Send(context.Background(), Alert{
		Summary:   "Live updates down",
		Detail:    "budget spent",
		FeedState: "failed",
		At:        time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !strings.HasPrefix(got["content"], "**Live updates down**\n") {
		t.Errorf("content = %q, want bold summary first", got["content"])
	}
	if !strings.Contains(got["content"], "channel state: failed") {
		t.Errorf("content = %q missing feed state", got["content"])
	}
}

func TestDiscordSenderErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad webhook", http.StatusForbidden)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), Alert{Summary: "x", At: time.Now()})
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("err = %v, want status 403 reported", err)
	}
}

func TestTelegramSender(t *testing.T) {
	var gotPath string
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	s := NewTelegramSender("token123", "chat42")
	s.apiBase = srv.URL

	err := s.Send(context.Background(), Alert{
		Summary: "Live updates restored",
		Detail:  "reconnected",
		At:      time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotPath != "/bottoken123/sendMessage" {
		t.Errorf("path = %q", gotPath)
	}
	if got["chat_id"] != "chat42" {
		t.Errorf("chat_id = %q", got["chat_id"])
	}
	if !strings.HasPrefix(got["text"], "*Live updates restored*\n") {
		t.Errorf("text = %q, want bold summary first", got["text"])
	}
}
