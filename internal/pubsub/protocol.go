package pubsub

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
)

// PubSub protocol frame types.
const (
	TypePing      = "PING"
	TypePong      = "PONG"
	TypeListen    = "LISTEN"
	TypeUnlisten  = "UNLISTEN"
	TypeMessage   = "MESSAGE"
	TypeResponse  = "RESPONSE"
	TypeReconnect = "RECONNECT"
)

// TopicPrefix identifies the channel-points redemption topic class.
const TopicPrefix = "channel-points-channel-v1"

// nonceLength is the length of the correlation nonce on LISTEN/UNLISTEN frames.
const nonceLength = 15

// Request is a frame sent from the client to the PubSub server.
type Request struct {
	Type  string       `json:"type"`
	Nonce string       `json:"nonce,omitempty"`
	Data  *RequestData `json:"data,omitempty"`
}

// RequestData carries the topics and auth token for LISTEN/UNLISTEN requests.
type RequestData struct {
	Topics    []string `json:"topics"`
	AuthToken string   `json:"auth_token"`
}

// Frame is a frame received from the PubSub server.
type Frame struct {
	Type  string          `json:"type"`
	Nonce string          `json:"nonce,omitempty"`
	Error string          `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// MessageData is the payload of a MESSAGE frame. Message is itself a JSON
// document, delivered as a string.
type MessageData struct {
	Topic   string `json:"topic"`
	Message string `json:"message"`
}

// redemptionEnvelope is the inner JSON document of a channel-points MESSAGE.
type redemptionEnvelope struct {
	Data struct {
		Redemption struct {
			ID        string `json:"id"`
			ChannelID string `json:"channel_id"`
			User      struct {
				Login string `json:"login"`
			} `json:"user"`
			Reward struct {
				ID string `json:"id"`
			} `json:"reward"`
		} `json:"redemption"`
	} `json:"data"`
}

// RedemptionTopic returns the channel-points topic name for a channel.
func RedemptionTopic(channelID string) string {
	return fmt.Sprintf("%s.%s", TopicPrefix, channelID)
}

// ListenRequest builds a LISTEN frame for a single topic.
func ListenRequest(topic, authToken string) Request {
	return Request{
		Type:  TypeListen,
		Nonce: nonce(nonceLength),
		Data:  &RequestData{Topics: []string{topic}, AuthToken: authToken},
	}
}

// UnlistenRequest builds an UNLISTEN frame for a single topic.
func UnlistenRequest(topic, authToken string) Request {
	return Request{
		Type:  TypeUnlisten,
		Nonce: nonce(nonceLength),
		Data:  &RequestData{Topics: []string{topic}, AuthToken: authToken},
	}
}

const nonceAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// nonce returns a random alphanumeric string of the given length.
func nonce(length int) string {
	buf := make([]byte, length)
	max := big.NewInt(int64(len(nonceAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails if the platform's entropy source is
			// broken; the nonce is a correlation aid, not a secret.
			buf[i] = nonceAlphabet[i%len(nonceAlphabet)]
			continue
		}
		buf[i] = nonceAlphabet[n.Int64()]
	}
	return string(buf)
}
