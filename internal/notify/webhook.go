package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/aristath/watchpost/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	maxWebhookAttempts = 3
	webhookTimeout     = 10 * time.Second
)

// webhookBackoffs are the waits before attempts 2 and 3; attempt 1 fires
// immediately. Ported from original_source/src/notifications.rs's
// RETRY_BACKOFFS_MS.
var webhookBackoffs = []time.Duration{2 * time.Second, 4 * time.Second}

type webhookConfig struct {
	URL           string `json:"url"`
	PayloadFormat string `json:"payload_format"`
}

// deliverWebhook sends payload to one webhook channel's URL, retrying up
// to maxWebhookAttempts times with the fixed backoff schedule, and logs
// every attempt to webhook_deliveries.
func deliverWebhook(ctx context.Context, db *store.DB, client *http.Client, log zerolog.Logger, monitorID string, channel *store.NotificationChannel, payload Payload) {
	var cfg webhookConfig
	if err := json.Unmarshal([]byte(channel.Config), &cfg); err != nil || cfg.URL == "" {
		log.Warn().Str("channel_id", channel.ID).Msg("webhook channel has no usable url, skipping")
		return
	}

	body := jsonBody(payload)
	if cfg.PayloadFormat == "chat" {
		body = chatBody(payload)
	}

	deliveryGroup := uuid.NewString()

	for attempt := 1; attempt <= maxWebhookAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(webhookBackoffs[attempt-2]):
			case <-ctx.Done():
				return
			}
		}

		start := time.Now()
		statusCode, err := postWebhook(ctx, client, cfg.URL, body)
		elapsed := int(time.Since(start).Milliseconds())

		delivery := &store.WebhookDelivery{
			ID:             uuid.NewString(),
			DeliveryGroup:  deliveryGroup,
			MonitorID:      monitorID,
			Event:          payload.Event,
			URL:            cfg.URL,
			Attempt:        attempt,
			ResponseTimeMs: elapsed,
		}

		if err == nil && statusCode >= 200 && statusCode < 300 {
			delivery.Status = "success"
			delivery.StatusCode = &statusCode
			if _, logErr := db.InsertWebhookDelivery(ctx, delivery); logErr != nil {
				log.Error().Err(logErr).Msg("failed to log webhook delivery")
			}
			return
		}

		delivery.Status = "failed"
		if err != nil {
			delivery.ErrorMessage = err.Error()
		} else {
			delivery.StatusCode = &statusCode
			delivery.ErrorMessage = fmt.Sprintf("HTTP %d", statusCode)
		}
		if _, logErr := db.InsertWebhookDelivery(ctx, delivery); logErr != nil {
			log.Error().Err(logErr).Msg("failed to log webhook delivery")
		}

		if attempt == maxWebhookAttempts {
			log.Warn().Str("url", cfg.URL).Int("attempts", attempt).Str("error", delivery.ErrorMessage).
				Msg("webhook delivery exhausted all attempts")
		}
	}
}

func postWebhook(ctx context.Context, client *http.Client, url string, body []byte) (int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, webhookTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

func jsonBody(p Payload) []byte {
	b, _ := json.Marshal(p)
	return b
}

func chatBody(p Payload) []byte {
	b, _ := json.Marshal(struct {
		Content string `json:"content"`
		Sender  string `json:"sender"`
	}{Content: chatMessage(p), Sender: "Watchpost"})
	return b
}
