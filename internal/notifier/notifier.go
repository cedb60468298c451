// Package notifier delivers accepted redemptions to the downstream
// notification endpoint. Delivery is fire-and-forget: failures are surfaced
// to the caller for logging and otherwise dropped. A circuit breaker keeps a
// dead endpoint from being hammered on every redemption.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/JasonSowers/twitch-pubsub/internal/metrics"
)

const (
	requestTimeout      = 10 * time.Second
	breakerMaxFailures  = 5
	breakerOpenDuration = 30 * time.Second
)

type payload struct {
	ChannelID string `json:"channel_id"`
	Username  string `json:"username"`
}

// HTTPNotifier implements domain.Notifier by POSTing redemption payloads to
// a single configured URL.
type HTTPNotifier struct {
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

func New(url string) *HTTPNotifier {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "notifier",
		Timeout: breakerOpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerMaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Notifier circuit breaker state change", "from", from.String(), "to", to.String())
		},
	})

	return &HTTPNotifier{
		url:     url,
		client:  &http.Client{Timeout: requestTimeout},
		breaker: breaker,
	}
}

// Notify POSTs {channel_id, username} to the notification endpoint.
func (n *HTTPNotifier) Notify(ctx context.Context, channelID, username string) error {
	_, err := n.breaker.Execute(func() (any, error) {
		return nil, n.post(ctx, channelID, username)
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.NotifierRequestsTotal.WithLabelValues("open_circuit").Inc()
		return fmt.Errorf("notifier unavailable: %w", err)
	case err != nil:
		metrics.NotifierRequestsTotal.WithLabelValues("error").Inc()
		return err
	}
	metrics.NotifierRequestsTotal.WithLabelValues("ok").Inc()
	return nil
}

func (n *HTTPNotifier) post(ctx context.Context, channelID, username string) error {
	body, err := json.Marshal(payload{ChannelID: channelID, Username: username})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notification rejected with status %d", resp.StatusCode)
	}
	return nil
}
