package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/nicklaw5/helix/v2"

	"github.com/JasonSowers/twitch-pubsub/internal/domain"
	"github.com/JasonSowers/twitch-pubsub/internal/logging"
)

// rewardsManager manages custom rewards on a channel.
type rewardsManager interface {
	GetCustomRewards(ctx context.Context, channelID string) ([]helix.ChannelCustomReward, error)
	CreateCustomReward(ctx context.Context, channelID, title, prompt string, cost int) (*helix.ChannelCustomReward, error)
	DeleteCustomReward(ctx context.Context, channelID, rewardID string) error
}

// tokenManager resolves channel tokens and invalidates cached ones.
type tokenManager interface {
	domain.TokenSource
	Invalidate(ctx context.Context, channelID string)
}

// subscriber controls the PubSub topic subscriptions.
type subscriber interface {
	Listen(ctx context.Context, channelID string) error
	Unlisten(ctx context.Context, channelID string) error
}

// Service implements the broadcaster lifecycle: onboarding a channel creates
// the custom reward and starts listening for redemptions, offboarding undoes
// both and purges the channel's ledger. Each workflow is a linear sequence
// that stops on the first failure.
type Service struct {
	broadcasters domain.BroadcasterRepository
	ledger       domain.RedemptionLedger
	rewards      rewardsManager
	tokens       tokenManager
	subs         subscriber
}

func NewService(broadcasters domain.BroadcasterRepository, ledger domain.RedemptionLedger, rewards rewardsManager, tokens tokenManager, subs subscriber) *Service {
	return &Service{
		broadcasters: broadcasters,
		ledger:       ledger,
		rewards:      rewards,
		tokens:       tokens,
		subs:         subs,
	}
}

// OnboardParams carries the onboarding request for a channel.
type OnboardParams struct {
	ChannelID    string
	RefreshToken string
	Title        string
	Prompt       string
	Cost         int
}

// Onboard registers a channel: it validates the OAuth grant, creates the
// custom reward, persists the broadcaster with the reward binding, and
// subscribes to the channel's redemption topic.
func (s *Service) Onboard(ctx context.Context, p OnboardParams) (*domain.Broadcaster, error) {
	existing, err := s.broadcasters.Get(ctx, p.ChannelID)
	if err != nil && !errors.Is(err, domain.ErrBroadcasterNotFound) {
		return nil, fmt.Errorf("check existing broadcaster: %w", err)
	}
	if existing != nil && existing.RewardID != "" {
		return nil, domain.ErrAlreadyOnboarded
	}

	// Persist the grant first: token resolution loads the refresh token from
	// this row and writes the rotated one back.
	if err := s.broadcasters.Upsert(ctx, domain.Broadcaster{
		ChannelID:    p.ChannelID,
		RefreshToken: p.RefreshToken,
	}); err != nil {
		return nil, fmt.Errorf("persist broadcaster: %w", err)
	}

	if _, err := s.tokens.Token(ctx, p.ChannelID); err != nil {
		// Bad grant; do not leave a stranded half-onboarded row behind.
		if delErr := s.broadcasters.Delete(ctx, p.ChannelID); delErr != nil {
			logging.WithChannel(p.ChannelID).Error("Cleanup after failed onboarding failed", "error", delErr)
		}
		return nil, fmt.Errorf("validate token grant: %w", err)
	}

	rewards, err := s.rewards.GetCustomRewards(ctx, p.ChannelID)
	if err != nil {
		return nil, fmt.Errorf("list custom rewards: %w", err)
	}
	for _, r := range rewards {
		if r.Title == p.Title {
			return nil, fmt.Errorf("%w: %q", domain.ErrRewardTitleTaken, p.Title)
		}
	}

	reward, err := s.rewards.CreateCustomReward(ctx, p.ChannelID, p.Title, p.Prompt, p.Cost)
	if err != nil {
		return nil, fmt.Errorf("create custom reward: %w", err)
	}

	// Re-read the row to keep the rotated refresh token, then bind the reward.
	b, err := s.broadcasters.Get(ctx, p.ChannelID)
	if err != nil {
		return nil, fmt.Errorf("reload broadcaster: %w", err)
	}
	b.RewardID = reward.ID
	if err := s.broadcasters.Upsert(ctx, *b); err != nil {
		return nil, fmt.Errorf("bind reward: %w", err)
	}

	if err := s.subs.Listen(ctx, p.ChannelID); err != nil {
		return nil, fmt.Errorf("subscribe to channel topic: %w", err)
	}

	logging.WithChannel(p.ChannelID).Info("Channel onboarded", "reward_id", reward.ID, "title", p.Title)
	return b, nil
}

// Offboard removes a channel: the custom reward is deleted, the topic
// unsubscribed, and the channel's ledger entries and broadcaster record
// purged. Reward deletion failure is logged but does not abort the rest.
func (s *Service) Offboard(ctx context.Context, channelID string) error {
	b, err := s.broadcasters.Get(ctx, channelID)
	if err != nil {
		return err
	}

	log := logging.WithChannel(channelID)

	if b.RewardID != "" {
		if err := s.rewards.DeleteCustomReward(ctx, channelID, b.RewardID); err != nil {
			log.Warn("Failed to delete custom reward, continuing offboarding", "reward_id", b.RewardID, "error", err)
		}
	}

	// Unlisten while the broadcaster row (and with it the refresh token)
	// still exists; the unsubscribe needs a valid token.
	if err := s.subs.Unlisten(ctx, channelID); err != nil {
		log.Warn("Failed to unlisten channel topic, continuing offboarding", "error", err)
	}

	purged, err := s.ledger.DeleteByChannel(ctx, channelID)
	if err != nil {
		return fmt.Errorf("purge redemption ledger: %w", err)
	}

	if err := s.broadcasters.Delete(ctx, channelID); err != nil {
		return fmt.Errorf("delete broadcaster: %w", err)
	}
	s.tokens.Invalidate(ctx, channelID)

	log.Info("Channel offboarded", "ledger_entries_purged", purged)
	return nil
}

// ListRewards returns the channel's manageable custom rewards.
func (s *Service) ListRewards(ctx context.Context, channelID string) ([]helix.ChannelCustomReward, error) {
	if _, err := s.broadcasters.Get(ctx, channelID); err != nil {
		return nil, err
	}
	return s.rewards.GetCustomRewards(ctx, channelID)
}

// ResubscribeAll re-issues a LISTEN for every known broadcaster. Invoked at
// startup and after every reconnect; failures are logged per channel so one
// bad grant cannot block the rest.
func (s *Service) ResubscribeAll(ctx context.Context) {
	broadcasters, err := s.broadcasters.List(ctx)
	if err != nil {
		logging.Logger.Error("Failed to list broadcasters for resubscribe", "error", err)
		return
	}

	for _, b := range broadcasters {
		if err := s.subs.Listen(ctx, b.ChannelID); err != nil {
			logging.WithChannel(b.ChannelID).Error("Resubscribe failed", "error", err)
		}
	}
	logging.Logger.Info("Resubscribe pass completed", "channels", len(broadcasters))
}
