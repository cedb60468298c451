package twitch

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/nicklaw5/helix/v2"

	"github.com/JasonSowers/twitch-pubsub/internal/domain"
)

// rewardsAPI is the subset of the Helix client the rewards manager uses.
type rewardsAPI interface {
	SetUserAccessToken(token string)
	GetCustomRewards(params *helix.GetCustomRewardsParams) (*helix.ChannelCustomRewardResponse, error)
	CreateCustomReward(params *helix.ChannelCustomRewardsParams) (*helix.ChannelCustomRewardResponse, error)
	DeleteCustomRewards(params *helix.DeleteCustomRewardsParams) (*helix.DeleteCustomRewardsResponse, error)
}

// RewardsClient manages channel-points custom rewards through the Helix API,
// resolving a per-channel user token before each call. The underlying client
// holds the token as mutable state, so calls are serialized.
type RewardsClient struct {
	mu     sync.Mutex
	client rewardsAPI
	tokens domain.TokenSource
}

func NewRewardsClient(clientID, clientSecret string, tokens domain.TokenSource) (*RewardsClient, error) {
	client, err := helix.NewClient(&helix.Options{
		ClientID:     clientID,
		ClientSecret: clientSecret,
	})
	if err != nil {
		return nil, fmt.Errorf("create helix client: %w", err)
	}
	return &RewardsClient{client: client, tokens: tokens}, nil
}

// GetCustomRewards lists the rewards this client manages on the channel.
func (rc *RewardsClient) GetCustomRewards(ctx context.Context, channelID string) ([]helix.ChannelCustomReward, error) {
	token, err := rc.tokens.Token(ctx, channelID)
	if err != nil {
		return nil, err
	}

	rc.mu.Lock()
	rc.client.SetUserAccessToken(token)
	resp, err := rc.client.GetCustomRewards(&helix.GetCustomRewardsParams{
		BroadcasterID:         channelID,
		OnlyManageableRewards: true,
	})
	rc.mu.Unlock()

	if err != nil {
		return nil, fmt.Errorf("get custom rewards: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get custom rewards: unexpected status %d: %s", resp.StatusCode, resp.ErrorMessage)
	}
	return resp.Data.ChannelCustomRewards, nil
}

// CreateCustomReward registers a new custom reward on the channel and
// returns it.
func (rc *RewardsClient) CreateCustomReward(ctx context.Context, channelID, title, prompt string, cost int) (*helix.ChannelCustomReward, error) {
	token, err := rc.tokens.Token(ctx, channelID)
	if err != nil {
		return nil, err
	}

	rc.mu.Lock()
	rc.client.SetUserAccessToken(token)
	resp, err := rc.client.CreateCustomReward(&helix.ChannelCustomRewardsParams{
		BroadcasterID: channelID,
		Title:         title,
		Prompt:        prompt,
		Cost:          cost,
		IsEnabled:     true,
	})
	rc.mu.Unlock()

	if err != nil {
		return nil, fmt.Errorf("create custom reward: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("create custom reward: unexpected status %d: %s", resp.StatusCode, resp.ErrorMessage)
	}
	if len(resp.Data.ChannelCustomRewards) == 0 {
		return nil, fmt.Errorf("create custom reward: empty response")
	}
	return &resp.Data.ChannelCustomRewards[0], nil
}

// DeleteCustomReward removes a custom reward from the channel. A reward that
// is already gone is treated as deleted.
func (rc *RewardsClient) DeleteCustomReward(ctx context.Context, channelID, rewardID string) error {
	token, err := rc.tokens.Token(ctx, channelID)
	if err != nil {
		return err
	}

	rc.mu.Lock()
	rc.client.SetUserAccessToken(token)
	resp, err := rc.client.DeleteCustomRewards(&helix.DeleteCustomRewardsParams{
		BroadcasterID: channelID,
		ID:            rewardID,
	})
	rc.mu.Unlock()

	if err != nil {
		return fmt.Errorf("delete custom reward: %w", err)
	}
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("delete custom reward: unexpected status %d: %s", resp.StatusCode, resp.ErrorMessage)
	}
	return nil
}
