package channel

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelName(t *testing.T) {
	assert.Equal(t, "task:20260101-abc:messages", ChannelName("20260101-abc"))
}

func TestRedisPublisherRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	pub, err := NewRedisPublisher(ctx, Config{Addr: mr.Addr()}, nil)
	require.NoError(t, err)
	defer pub.Close()

	sub := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer sub.Close()

	ps := sub.Subscribe(ctx, ChannelName("t1"))
	defer ps.Close()
	_, err = ps.Receive(ctx)
	require.NoError(t, err)

	sent := AgentMessage("t1", "coder", "executing cell 1")
	require.NoError(t, pub.Publish(ctx, sent))

	recvCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	raw, err := ps.ReceiveMessage(recvCtx)
	require.NoError(t, err)

	var got Message
	require.NoError(t, json.Unmarshal([]byte(raw.Payload), &got))
	assert.Equal(t, TypeAgent, got.Type)
	assert.Equal(t, "t1", got.TaskID)
	assert.Equal(t, "coder", got.Agent)
	assert.Equal(t, "executing cell 1", got.Content)
	assert.False(t, got.Timestamp.IsZero())
}

func TestNewRedisPublisherConnectError(t *testing.T) {
	_, err := NewRedisPublisher(context.Background(), Config{Addr: "127.0.0.1:1"}, nil)
	require.Error(t, err)
}

func TestScholarMessage(t *testing.T) {
	msg := ScholarMessage("t1", "heat diffusion models", []string{"Paper A", "Paper B"})
	assert.Equal(t, TypeScholar, msg.Type)
	assert.Equal(t, "heat diffusion models", msg.Input["query"])
	assert.Equal(t, []string{"Paper A", "Paper B"}, msg.Output)
}

func TestNopPublisher(t *testing.T) {
	var p NopPublisher
	assert.NoError(t, p.Publish(context.Background(), SystemMessage("t1", "state: done")))
	assert.NoError(t, p.Close())
}
