// Package notify delivers user-facing notifications through a push gateway.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ferangarita01/rentman-sub000/internal/domain"
)

const defaultTimeout = 5 * time.Second

// Result reports whether a notification reached the gateway.
type Result struct {
	Delivered bool
	Error     string
}

type Notifier interface {
	Notify(ctx context.Context, userID, title, body string, data map[string]any) Result
}

// WebhookNotifier posts notifications as JSON to a push gateway URL.
type WebhookNotifier struct {
	URL    string
	Secret string
	Client *http.Client
}

type webhookNotification struct {
	ID     string         `json:"id"`
	UserID string         `json:"user_id"`
	Title  string         `json:"title"`
	Body   string         `json:"body"`
	Data   map[string]any `json:"data,omitempty"`
	SentAt string         `json:"sent_at"`
}

func (n WebhookNotifier) Notify(ctx context.Context, userID, title, body string, data map[string]any) Result {
	if strings.TrimSpace(n.URL) == "" {
		return Result{Error: "notification url not configured"}
	}
	payload := webhookNotification{
		ID:     uuid.NewString(),
		UserID: userID,
		Title:  title,
		Body:   body,
		Data:   data,
		SentAt: time.Now().UTC().Format(time.RFC3339),
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return Result{Error: err.Error()}
	}
	client := n.Client
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(buf))
	if err != nil {
		return Result{Error: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Rentman-Delivery", payload.ID)
	if strings.TrimSpace(n.Secret) != "" {
		req.Header.Set("X-Rentman-Secret", n.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return Result{Error: err.Error()}
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return Result{Error: fmt.Sprintf("status %d: %s", res.StatusCode, strings.TrimSpace(string(respBody)))}
	}
	return Result{Delivered: true}
}

// LogNotifier only logs. It is used when no push gateway is configured.
type LogNotifier struct {
	Logger *log.Logger
}

func (n LogNotifier) Notify(_ context.Context, userID, title, body string, _ map[string]any) Result {
	logger := n.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf("notify: user=%s title=%q body=%q", userID, title, body)
	return Result{Delivered: true}
}

// Store persists the delivery log. repo.Repo satisfies it.
type Store interface {
	InsertNotification(ctx context.Context, n domain.Notification) error
}

// Recorder delivers through Next and records every attempt. Delivery
// failures never propagate to the caller.
type Recorder struct {
	Next   Notifier
	Store  Store
	Logger *log.Logger
	Now    func() time.Time
}

func (r Recorder) Notify(ctx context.Context, userID, title, body string, data map[string]any) Result {
	logger := r.Logger
	if logger == nil {
		logger = log.Default()
	}
	if strings.TrimSpace(userID) == "" {
		return Result{Error: "user id required"}
	}
	var res Result
	if r.Next != nil {
		res = r.Next.Notify(ctx, userID, title, body, data)
	} else {
		res = Result{Error: "no notifier configured"}
	}
	if !res.Delivered {
		logger.Printf("notify: deliver to %s failed: %s", userID, res.Error)
	}
	if r.Store != nil {
		now := time.Now
		if r.Now != nil {
			now = r.Now
		}
		rec := domain.Notification{
			ID:        uuid.NewString(),
			UserID:    userID,
			Title:     title,
			Body:      body,
			Data:      data,
			Delivered: res.Delivered,
			Error:     res.Error,
			CreatedAt: now().UTC().Format(time.RFC3339),
		}
		if err := r.Store.InsertNotification(context.WithoutCancel(ctx), rec); err != nil {
			logger.Printf("notify: record notification failed: %v", err)
		}
	}
	return res
}
