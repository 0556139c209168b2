package notify

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ferangarita01/rentman-sub000/internal/domain"
)

type memStore struct {
	items []domain.Notification
}

func (m *memStore) InsertNotification(_ context.Context, n domain.Notification) error {
	m.items = append(m.items, n)
	return nil
}

func TestWebhookNotifierDelivers(t *testing.T) {
	var got webhookNotification
	var secret string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret = r.Header.Get("X-Rentman-Secret")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := WebhookNotifier{URL: srv.URL, Secret: "s3cret"}
	res := n.Notify(context.Background(), "human-1", "Payment released", "You received $100.00", map[string]any{"task_id": "t1"})
	if !res.Delivered {
		t.Fatalf("expected delivery, got %+v", res)
	}
	if got.UserID != "human-1" || got.Title != "Payment released" || got.Data["task_id"] != "t1" {
		t.Fatalf("unexpected payload: %+v", got)
	}
	if secret != "s3cret" {
		t.Fatalf("secret header missing")
	}
}

func TestRecorderLogsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gateway down", http.StatusBadGateway)
	}))
	defer srv.Close()

	store := &memStore{}
	r := Recorder{Next: WebhookNotifier{URL: srv.URL}, Store: store, Logger: log.New(io.Discard, "", 0)}
	res := r.Notify(context.Background(), "human-1", "t", "b", nil)
	if res.Delivered {
		t.Fatalf("expected failure")
	}
	if len(store.items) != 1 || store.items[0].Delivered || store.items[0].Error == "" {
		t.Fatalf("failure not recorded: %+v", store.items)
	}

	ok := Recorder{Next: LogNotifier{Logger: log.New(io.Discard, "", 0)}, Store: store}
	if res := ok.Notify(context.Background(), "human-2", "t", "b", nil); !res.Delivered {
		t.Fatalf("log notifier should report delivered")
	}
	if len(store.items) != 2 || !store.items[1].Delivered {
		t.Fatalf("delivery not recorded: %+v", store.items)
	}
}
