package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemory_PublishConsume(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(4)
	body, err := json.Marshal(ScanEvent{MemberID: "alice", Outcome: "checkin"})
	require.NoError(t, err)
	require.NoError(t, q.Publish(ctx, Message{Type: "scan", Body: body}))

	messages, err := q.Consume(ctx)
	require.NoError(t, err)

	select {
	case msg := <-messages:
		assert.Equal(t, "scan", msg.Type)
		var evt ScanEvent
		require.NoError(t, json.Unmarshal(msg.Body, &evt))
		assert.Equal(t, "alice", evt.MemberID)
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}
}

func TestInMemory_PublishRespectsCancel(t *testing.T) {
	q := NewInMemory(1)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, q.Publish(ctx, Message{Type: "scan"}))

	// Queue full; a cancelled context must unblock the publisher.
	cancel()
	err := q.Publish(ctx, Message{Type: "scan"})
	assert.ErrorIs(t, err, context.Canceled)
}
