package domain

import "errors"

var (
	// ErrBroadcasterNotFound is returned when no broadcaster record exists
	// for a channel.
	ErrBroadcasterNotFound = errors.New("broadcaster not found")

	// ErrRewardTitleTaken is returned during onboarding when the channel
	// already has a custom reward with the requested title.
	ErrRewardTitleTaken = errors.New("reward title already in use")

	// ErrAlreadyOnboarded is returned when a channel with a bound reward is
	// onboarded again.
	ErrAlreadyOnboarded = errors.New("channel already onboarded")
)
