package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JasonSowers/twitch-pubsub/internal/crypto"
	"github.com/JasonSowers/twitch-pubsub/internal/domain"
)

// BroadcasterRepo persists broadcaster records in PostgreSQL. Refresh tokens
// are encrypted at rest. It also serves as the dispatcher's binding store:
// the reward bound to a channel is the reward_id column of the broadcaster
// row.
type BroadcasterRepo struct {
	pool *pgxpool.Pool
	enc  crypto.Encryptor
}

func NewBroadcasterRepo(pool *pgxpool.Pool, enc crypto.Encryptor) *BroadcasterRepo {
	return &BroadcasterRepo{pool: pool, enc: enc}
}

func (r *BroadcasterRepo) Upsert(ctx context.Context, b domain.Broadcaster) error {
	sealed, err := r.enc.Encrypt(b.RefreshToken)
	if err != nil {
		return fmt.Errorf("encrypt refresh token for %s: %w", b.ChannelID, err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO broadcasters (channel_id, refresh_token, reward_id, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (channel_id) DO UPDATE SET
			refresh_token = EXCLUDED.refresh_token,
			reward_id = EXCLUDED.reward_id,
			updated_at = NOW()
	`, b.ChannelID, sealed, b.RewardID)
	if err != nil {
		return fmt.Errorf("upsert broadcaster %s: %w", b.ChannelID, err)
	}
	return nil
}

func (r *BroadcasterRepo) Get(ctx context.Context, channelID string) (*domain.Broadcaster, error) {
	var b domain.Broadcaster
	err := r.pool.QueryRow(ctx, `
		SELECT channel_id, refresh_token, reward_id, created_at
		FROM broadcasters
		WHERE channel_id = $1
	`, channelID).Scan(&b.ChannelID, &b.RefreshToken, &b.RewardID, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrBroadcasterNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get broadcaster %s: %w", channelID, err)
	}

	b.RefreshToken, err = r.enc.Decrypt(b.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("decrypt refresh token for %s: %w", channelID, err)
	}
	return &b, nil
}

func (r *BroadcasterRepo) UpdateRefreshToken(ctx context.Context, channelID, refreshToken string) error {
	sealed, err := r.enc.Encrypt(refreshToken)
	if err != nil {
		return fmt.Errorf("encrypt refresh token for %s: %w", channelID, err)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE broadcasters
		SET refresh_token = $1, updated_at = NOW()
		WHERE channel_id = $2
	`, sealed, channelID)
	if err != nil {
		return fmt.Errorf("update refresh token for %s: %w", channelID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrBroadcasterNotFound
	}
	return nil
}

func (r *BroadcasterRepo) Delete(ctx context.Context, channelID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM broadcasters WHERE channel_id = $1`, channelID)
	if err != nil {
		return fmt.Errorf("delete broadcaster %s: %w", channelID, err)
	}
	return nil
}

func (r *BroadcasterRepo) List(ctx context.Context) ([]domain.Broadcaster, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT channel_id, refresh_token, reward_id, created_at
		FROM broadcasters
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list broadcasters: %w", err)
	}
	defer rows.Close()

	var broadcasters []domain.Broadcaster
	for rows.Next() {
		var b domain.Broadcaster
		if err := rows.Scan(&b.ChannelID, &b.RefreshToken, &b.RewardID, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan broadcaster: %w", err)
		}
		if b.RefreshToken, err = r.enc.Decrypt(b.RefreshToken); err != nil {
			return nil, fmt.Errorf("decrypt refresh token for %s: %w", b.ChannelID, err)
		}
		broadcasters = append(broadcasters, b)
	}
	return broadcasters, rows.Err()
}

// GetRewardBinding implements domain.BindingStore.
func (r *BroadcasterRepo) GetRewardBinding(ctx context.Context, channelID string) (string, error) {
	b, err := r.Get(ctx, channelID)
	if err != nil {
		return "", err
	}
	return b.RewardID, nil
}
