package pubsub

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/JasonSowers/twitch-pubsub/internal/domain"
	"github.com/JasonSowers/twitch-pubsub/internal/metrics"
)

const (
	// seenCacheLimit bounds in-process duplicate tracking. Eviction is FIFO;
	// the durable ledger covers anything older.
	seenCacheLimit = 4096

	// messageQueueDepth bounds the redemption pipeline queue. Overflow drops
	// the event; upstream delivery is at-least-once.
	messageQueueDepth = 256
)

// Liveness is the slice of the connection manager the dispatcher drives:
// clearing the pong deadline and honoring server-issued reconnects.
type Liveness interface {
	PongReceived()
	RequestReconnect()
}

// Dispatcher classifies inbound frames and drives validated redemptions to
// notification and durable recording. Control frames (PONG, RECONNECT,
// RESPONSE) are handled inline on the read path; MESSAGE frames are handed
// to a single worker goroutine so a stalled storage or notifier call never
// blocks connection liveness. Within one connection epoch, messages are
// processed in receipt order.
type Dispatcher struct {
	liveness Liveness
	bindings domain.BindingStore
	ledger   domain.RedemptionLedger
	notifier domain.Notifier
	clock    clockwork.Clock

	seen  *seenCache
	queue chan string
	done  chan struct{}
}

func NewDispatcher(liveness Liveness, bindings domain.BindingStore, ledger domain.RedemptionLedger, notifier domain.Notifier, clock clockwork.Clock) *Dispatcher {
	return &Dispatcher{
		liveness: liveness,
		bindings: bindings,
		ledger:   ledger,
		notifier: notifier,
		clock:    clock,
		seen:     newSeenCache(seenCacheLimit),
		queue:    make(chan string, messageQueueDepth),
		done:     make(chan struct{}),
	}
}

// Start launches the redemption pipeline worker.
func (d *Dispatcher) Start(ctx context.Context) {
	go d.work(ctx)
}

// Stop terminates the pipeline worker. Queued events are discarded.
func (d *Dispatcher) Stop() {
	close(d.done)
}

// HandleFrame routes one raw inbound frame. It never returns an error and
// never panics the caller: every failure is logged and the frame dropped.
func (d *Dispatcher) HandleFrame(ctx context.Context, raw []byte) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		slog.Warn("Dropping unparseable frame", "error", err)
		return
	}

	switch frame.Type {
	case TypeMessage:
		metrics.FramesTotal.WithLabelValues(TypeMessage).Inc()
		var md MessageData
		if err := json.Unmarshal(frame.Data, &md); err != nil {
			slog.Warn("Dropping MESSAGE frame with malformed data", "error", err)
			metrics.RedemptionsTotal.WithLabelValues("malformed").Inc()
			return
		}
		select {
		case d.queue <- md.Message:
		default:
			slog.Error("Redemption queue full, dropping event", "topic", md.Topic)
			metrics.RedemptionsTotal.WithLabelValues("dropped").Inc()
		}
	case TypePong:
		metrics.FramesTotal.WithLabelValues(TypePong).Inc()
		d.liveness.PongReceived()
	case TypeReconnect:
		metrics.FramesTotal.WithLabelValues(TypeReconnect).Inc()
		d.liveness.RequestReconnect()
	case TypeResponse:
		metrics.FramesTotal.WithLabelValues(TypeResponse).Inc()
		if frame.Error != "" {
			slog.Error("Subscribe request rejected", "nonce", frame.Nonce, "error", frame.Error)
		}
	default:
		metrics.FramesTotal.WithLabelValues("unknown").Inc()
		slog.Warn("Ignoring frame of unknown type", "type", frame.Type)
	}
}

func (d *Dispatcher) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.done:
			return
		case payload := <-d.queue:
			d.process(ctx, payload)
		}
	}
}

// process runs the redemption pipeline for one MESSAGE payload:
// parse, dedup, validate against the stored binding, notify, record.
func (d *Dispatcher) process(ctx context.Context, payload string) {
	var env redemptionEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		slog.Warn("Dropping malformed redemption payload", "error", err)
		metrics.RedemptionsTotal.WithLabelValues("malformed").Inc()
		return
	}

	red := env.Data.Redemption
	if red.ID == "" || red.ChannelID == "" {
		slog.Warn("Dropping redemption without id or channel", "redemption_id", red.ID, "channel_id", red.ChannelID)
		metrics.RedemptionsTotal.WithLabelValues("malformed").Inc()
		return
	}

	log := slog.With("redemption_id", red.ID, "channel_id", red.ChannelID)

	// Insert before validating: a second frame carrying the same id can then
	// never start a second pipeline run, at the cost of losing a legitimate
	// upstream retry if a later step fails.
	if d.seen.Contains(red.ID) {
		log.Info("Dropping duplicate redemption")
		metrics.RedemptionsTotal.WithLabelValues("duplicate").Inc()
		return
	}
	d.seen.Add(red.ID)

	boundRewardID, err := d.bindings.GetRewardBinding(ctx, red.ChannelID)
	if err != nil {
		log.Warn("Dropping redemption, reward binding not found", "error", err)
		metrics.RedemptionsTotal.WithLabelValues("not_found").Inc()
		return
	}
	if boundRewardID != red.Reward.ID {
		log.Warn("Dropping redemption, reward id mismatch", "reward_id", red.Reward.ID, "bound_reward_id", boundRewardID)
		metrics.RedemptionsTotal.WithLabelValues("mismatch").Inc()
		return
	}

	// Notification is best effort; its failure never blocks the ledger write.
	if err := d.notifier.Notify(ctx, red.ChannelID, red.User.Login); err != nil {
		log.Error("Notification failed", "username", red.User.Login, "error", err)
	} else {
		log.Info("Notification sent", "username", red.User.Login)
	}

	entry := domain.Redemption{
		ID:         red.ID,
		ChannelID:  red.ChannelID,
		RewardID:   red.Reward.ID,
		Username:   red.User.Login,
		ReceivedAt: d.clock.Now(),
	}
	if err := d.ledger.Record(ctx, entry); err != nil {
		// Logged, not retried; the event is not requeued.
		log.Error("Ledger write failed", "error", err)
	}

	metrics.RedemptionsTotal.WithLabelValues("accepted").Inc()
}
