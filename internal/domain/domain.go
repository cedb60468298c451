package domain

import (
	"context"
	"time"
)

// Broadcaster is a channel that registered a custom reward with the bridge.
// The refresh token authorizes PubSub topic subscriptions on the channel's
// behalf; the reward ID is the binding incoming redemptions are validated
// against.
type Broadcaster struct {
	ChannelID    string
	RefreshToken string
	RewardID     string
	CreatedAt    time.Time
}

// Redemption is a single channel-points redemption in flight through the
// dispatcher. Accepted redemptions are written to the ledger.
type Redemption struct {
	ID         string
	ChannelID  string
	RewardID   string
	Username   string
	ReceivedAt time.Time
}

// BroadcasterRepository persists broadcaster records.
type BroadcasterRepository interface {
	Upsert(ctx context.Context, b Broadcaster) error
	Get(ctx context.Context, channelID string) (*Broadcaster, error)
	UpdateRefreshToken(ctx context.Context, channelID, refreshToken string) error
	Delete(ctx context.Context, channelID string) error
	List(ctx context.Context) ([]Broadcaster, error)
}

// RedemptionLedger is the durable record of processed redemptions.
type RedemptionLedger interface {
	Record(ctx context.Context, r Redemption) error
	DeleteByChannel(ctx context.Context, channelID string) (int64, error)
}

// BindingStore resolves the reward currently bound to a channel. Implemented
// by the broadcaster repository; the dispatcher only needs the reward ID.
type BindingStore interface {
	GetRewardBinding(ctx context.Context, channelID string) (rewardID string, err error)
}

// TokenSource resolves a valid user access token for a channel, refreshing
// via the stored refresh token when necessary.
type TokenSource interface {
	Token(ctx context.Context, channelID string) (string, error)
}

// Notifier delivers an accepted redemption to the downstream endpoint.
type Notifier interface {
	Notify(ctx context.Context, channelID, username string) error
}
