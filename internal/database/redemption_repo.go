package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JasonSowers/twitch-pubsub/internal/domain"
	"github.com/JasonSowers/twitch-pubsub/internal/metrics"
)

// RedemptionRepo is the durable ledger of processed redemptions.
type RedemptionRepo struct {
	pool *pgxpool.Pool
}

func NewRedemptionRepo(pool *pgxpool.Pool) *RedemptionRepo {
	return &RedemptionRepo{pool: pool}
}

// Record writes a ledger entry. Re-recording the same redemption id is a
// no-op, which makes the write idempotent under at-least-once delivery.
func (r *RedemptionRepo) Record(ctx context.Context, red domain.Redemption) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO redemptions (redemption_id, channel_id, reward_id, username, received_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (redemption_id) DO NOTHING
	`, red.ID, red.ChannelID, red.RewardID, red.Username, red.ReceivedAt)
	if err != nil {
		metrics.LedgerWritesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("record redemption %s: %w", red.ID, err)
	}
	metrics.LedgerWritesTotal.WithLabelValues("ok").Inc()
	return nil
}

// DeleteByChannel purges a channel's ledger entries. Used during offboarding.
func (r *RedemptionRepo) DeleteByChannel(ctx context.Context, channelID string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM redemptions WHERE channel_id = $1`, channelID)
	if err != nil {
		return 0, fmt.Errorf("delete redemptions for channel %s: %w", channelID, err)
	}
	return tag.RowsAffected(), nil
}
