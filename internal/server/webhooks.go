package server

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ferangarita01/rentman-sub000/internal/engine"
	"github.com/ferangarita01/rentman-sub000/internal/webhooks"
)

const (
	stripeWebhookPath = apiPrefix + "/webhooks/stripe"
	tasksWebhookPath  = "/webhooks/tasks"
)

// Webhook routes read the raw body themselves since signatures cover the
// exact bytes received.
func registerWebhooks(r chi.Router, cfg Config) {
	e := cfg.Engine
	received := func() time.Time {
		if e.Now != nil {
			return e.Now()
		}
		return time.Now()
	}

	r.Post(stripeWebhookPath, func(w http.ResponseWriter, req *http.Request) {
		body := bodyBytes(req.Context())
		res, err := cfg.Webhooks.Verify(webhooks.ChannelStripe, req.Header, body, received())
		if err != nil {
			cfg.logger().Printf("webhook: stripe verifier: %v", err)
			e.Metrics.Webhook(webhooks.ChannelStripe, "misconfigured")
			respondStatusError(w, newAPIError(http.StatusInternalServerError, "internal_error", "webhook verification unavailable", nil))
			return
		}
		if !res.Valid {
			e.Metrics.Webhook(webhooks.ChannelStripe, "invalid_signature")
			respondStatusError(w, newAPIError(http.StatusBadRequest, "invalid_signature", "webhook signature verification failed", nil))
			return
		}
		outcome, err := e.HandleStripeEvent(req.Context(), body)
		if err != nil {
			var ve engine.ValidationError
			if errors.As(err, &ve) {
				e.Metrics.Webhook(webhooks.ChannelStripe, "malformed")
				respondStatusError(w, handleError(err))
				return
			}
			e.RecordWebhookFailure(req.Context(), webhooks.ChannelStripe, res.ProviderEventID, err)
			e.Metrics.Webhook(webhooks.ChannelStripe, "error")
			respondStatusError(w, newAPIError(http.StatusInternalServerError, "internal_error", "failed to process webhook", nil))
			return
		}
		e.Metrics.Webhook(webhooks.ChannelStripe, outcome)
		writeJSON(w, http.StatusOK, WebhookAck{Received: true})
	})

	r.Post(tasksWebhookPath, func(w http.ResponseWriter, req *http.Request) {
		res, err := cfg.Webhooks.Verify(webhooks.ChannelTasks, req.Header, nil, received())
		if err != nil {
			cfg.logger().Printf("webhook: tasks verifier: %v", err)
			e.Metrics.Webhook(webhooks.ChannelTasks, "misconfigured")
			respondStatusError(w, newAPIError(http.StatusInternalServerError, "internal_error", "webhook verification unavailable", nil))
			return
		}
		if !res.Valid {
			e.Metrics.Webhook(webhooks.ChannelTasks, "unauthorized")
			respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "invalid webhook secret", nil))
			return
		}
		outcome := e.HandleTaskChange(req.Context(), bodyBytes(req.Context()))
		e.Metrics.Webhook(webhooks.ChannelTasks, outcome)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, outcome)
	})
}
