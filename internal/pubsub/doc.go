// Package pubsub implements the client side of the Twitch PubSub protocol
// for channel-points redemptions: one managed long-lived websocket with
// PING/PONG keep-alives and jittered exponential reconnect backoff, LISTEN /
// UNLISTEN subscription control, and a dispatcher that validates redemption
// events and drives them to notification and durable recording.
package pubsub
