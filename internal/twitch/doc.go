// Package twitch integrates with the Twitch OAuth and Helix APIs: per-channel
// access-token resolution with refresh-token rotation, and custom-reward
// management for broadcaster onboarding.
package twitch
