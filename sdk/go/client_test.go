package rentmansdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ferangarita01/rentman-sub000/internal/signature"
)

func TestSignedTaskVerifies(t *testing.T) {
	pub, priv, err := signature.GenerateKey()
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	task := NewTask{Title: "Buy milk", BudgetAmount: 12}
	if err := task.Sign("agent-7", priv, time.UnixMilli(1714557600123)); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if task.Metadata["timestamp"] != "1714557600123" || task.AgentID != "agent-7" {
		t.Fatalf("unexpected signed task: %+v", task)
	}
	msg := signature.CanonicalMessage(task.Title, "agent-7", "1714557600123", task.Metadata["nonce"].(string))
	if err := signature.Verify(pub, []byte(msg), task.Signature); err != nil {
		t.Fatalf("signature does not verify: %v", err)
	}
}

func TestClientRequestsAndErrors(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Method+" "+r.URL.Path)
		if r.Header.Get("X-Api-Key") != "rk_test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/escrow/lock":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["taskId"] != "t-1" || body["humanId"] != "h-1" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.Write([]byte(`{"success":true,"escrowId":"esc-1","clientSecret":"cs","amounts":{"workerReceives":100,"platformFee":10,"clientPays":110}}`))
		case "/api/escrow/release":
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"1 proof(s) still pending review","code":"proofs_incomplete"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := New(srv.URL + "/")
	c.APIKey = "rk_test"
	ctx := context.Background()

	lock, err := c.LockFunds(ctx, "t-1", "h-1")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if lock.EscrowID != "esc-1" || lock.Amounts.ClientPays != 110 {
		t.Fatalf("unexpected lock result: %+v", lock)
	}

	_, err = c.ReleaseFunds(ctx, "t-1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest || apiErr.Code != "proofs_incomplete" {
		t.Fatalf("expected proofs_incomplete APIError, got %v", err)
	}
	if len(seen) != 2 || seen[0] != "POST /api/escrow/lock" || seen[1] != "POST /api/escrow/release" {
		t.Fatalf("unexpected requests: %v", seen)
	}
}
