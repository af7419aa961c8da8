package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/layer-3/pearauth/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFlowEvent(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 1}, watermill.NopLogger{})
	defer pubSub.Close()

	messages, err := pubSub.Subscribe(context.Background(), TopicFlow)
	require.NoError(t, err)

	publisher := NewWatermillPublisher(pubSub)
	err = publisher.PublishFlowEvent(context.Background(), core.FlowEvent{
		Type:    core.EventAgentApproved,
		Address: "0x00000000000000000000000000000000000000a1",
		State:   core.AgentApproved,
		Level:   core.LevelSuccess,
	})
	require.NoError(t, err)

	select {
	case msg := <-messages:
		var event core.FlowEvent
		require.NoError(t, json.Unmarshal(msg.Payload, &event))
		assert.NotEmpty(t, event.ID)
		assert.Equal(t, msg.UUID, event.ID)
		assert.Equal(t, core.EventAgentApproved, event.Type)
		assert.Equal(t, core.AgentApproved, event.State)
		assert.Equal(t, "agent.approved", msg.Metadata.Get("type"))
		msg.Ack()
	case <-time.After(time.Second):
		t.Fatal("flow event was not delivered")
	}
}
