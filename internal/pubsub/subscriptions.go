package pubsub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/JasonSowers/twitch-pubsub/internal/domain"
	"github.com/JasonSowers/twitch-pubsub/internal/metrics"
)

// The edge enforces 50 LISTENs per 10 seconds per connection. Staying just
// under that keeps a large re-subscribe pass from tripping the limit.
const (
	listenRatePerSecond = 4
	listenBurst         = 40
)

// sender is the subset of Manager the subscriber needs.
type sender interface {
	Send(ctx context.Context, req Request) error
}

// Subscriber translates channel IDs into LISTEN/UNLISTEN control frames on
// the active connection. It is stateless per call: the desired-subscription
// set lives with the caller, which re-issues Listen for every known channel
// after each reconnect.
type Subscriber struct {
	conn    sender
	tokens  domain.TokenSource
	limiter *rate.Limiter
}

func NewSubscriber(conn sender, tokens domain.TokenSource) *Subscriber {
	return &Subscriber{
		conn:    conn,
		tokens:  tokens,
		limiter: rate.NewLimiter(rate.Limit(listenRatePerSecond), listenBurst),
	}
}

// Listen subscribes to the channel's redemption topic. Token resolution
// failure is surfaced to the caller; a connection that is not open makes the
// call a logged no-op, since the caller re-subscribes after reconnect anyway.
func (s *Subscriber) Listen(ctx context.Context, channelID string) error {
	return s.send(ctx, channelID, TypeListen)
}

// Unlisten unsubscribes from the channel's redemption topic. A still-valid
// token is required to authorize the unsubscribe.
func (s *Subscriber) Unlisten(ctx context.Context, channelID string) error {
	return s.send(ctx, channelID, TypeUnlisten)
}

func (s *Subscriber) send(ctx context.Context, channelID, frameType string) error {
	token, err := s.tokens.Token(ctx, channelID)
	if err != nil {
		metrics.ControlFramesTotal.WithLabelValues(frameType, "token_error").Inc()
		return fmt.Errorf("resolve token for channel %s: %w", channelID, err)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	topic := RedemptionTopic(channelID)
	var req Request
	if frameType == TypeListen {
		req = ListenRequest(topic, token)
	} else {
		req = UnlistenRequest(topic, token)
	}

	err = s.conn.Send(ctx, req)
	if errors.Is(err, ErrNotConnected) {
		metrics.ControlFramesTotal.WithLabelValues(frameType, "dropped").Inc()
		slog.Warn("Control frame dropped, connection not open", "type", frameType, "topic", topic)
		return nil
	}
	if err != nil {
		metrics.ControlFramesTotal.WithLabelValues(frameType, "error").Inc()
		return fmt.Errorf("send %s for topic %s: %w", frameType, topic, err)
	}

	metrics.ControlFramesTotal.WithLabelValues(frameType, "sent").Inc()
	slog.Info("Control frame sent", "type", frameType, "topic", topic, "nonce", req.Nonce)
	return nil
}
