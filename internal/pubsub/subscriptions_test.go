package pubsub

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSender struct {
	sendFn func(ctx context.Context, req Request) error
	sent   []Request
}

func (m *mockSender) Send(ctx context.Context, req Request) error {
	m.sent = append(m.sent, req)
	if m.sendFn != nil {
		return m.sendFn(ctx, req)
	}
	return nil
}

type mockTokenSource struct {
	tokenFn func(ctx context.Context, channelID string) (string, error)
}

func (m *mockTokenSource) Token(ctx context.Context, channelID string) (string, error) {
	if m.tokenFn != nil {
		return m.tokenFn(ctx, channelID)
	}
	return "oauth-token", nil
}

func TestSubscriberListen(t *testing.T) {
	conn := &mockSender{}
	s := NewSubscriber(conn, &mockTokenSource{})

	require.NoError(t, s.Listen(context.Background(), "chan-1"))

	require.Len(t, conn.sent, 1)
	req := conn.sent[0]
	assert.Equal(t, TypeListen, req.Type)
	assert.Len(t, req.Nonce, 15)
	require.NotNil(t, req.Data)
	assert.Equal(t, []string{"channel-points-channel-v1.chan-1"}, req.Data.Topics)
	assert.Equal(t, "oauth-token", req.Data.AuthToken)
}

func TestSubscriberUnlisten(t *testing.T) {
	conn := &mockSender{}
	s := NewSubscriber(conn, &mockTokenSource{})

	require.NoError(t, s.Unlisten(context.Background(), "chan-1"))

	require.Len(t, conn.sent, 1)
	assert.Equal(t, TypeUnlisten, conn.sent[0].Type)
}

func TestSubscriberTokenFailureSurfaces(t *testing.T) {
	conn := &mockSender{}
	tokens := &mockTokenSource{
		tokenFn: func(_ context.Context, _ string) (string, error) {
			return "", fmt.Errorf("grant revoked")
		},
	}
	s := NewSubscriber(conn, tokens)

	err := s.Listen(context.Background(), "chan-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chan-1")
	assert.Empty(t, conn.sent, "no frame may be sent without a token")
}

func TestSubscriberNotConnectedIsNoOp(t *testing.T) {
	conn := &mockSender{
		sendFn: func(_ context.Context, _ Request) error {
			return ErrNotConnected
		},
	}
	s := NewSubscriber(conn, &mockTokenSource{})

	// The re-subscribe pass after reconnect covers the dropped frame.
	assert.NoError(t, s.Listen(context.Background(), "chan-1"))
	assert.NoError(t, s.Unlisten(context.Background(), "chan-1"))
}

func TestSubscriberSendFailureSurfaces(t *testing.T) {
	conn := &mockSender{
		sendFn: func(_ context.Context, _ Request) error {
			return fmt.Errorf("broken pipe")
		},
	}
	s := NewSubscriber(conn, &mockTokenSource{})

	err := s.Listen(context.Background(), "chan-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken pipe")
}

func TestSubscriberNoncesAreUnique(t *testing.T) {
	conn := &mockSender{}
	s := NewSubscriber(conn, &mockTokenSource{})

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Listen(context.Background(), fmt.Sprintf("chan-%d", i)))
	}

	seen := make(map[string]struct{})
	for _, req := range conn.sent {
		seen[req.Nonce] = struct{}{}
	}
	assert.Len(t, seen, 5)
}
