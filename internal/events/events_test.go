package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessageOmitsDataForDeletes(t *testing.T) {
	msg, err := NewMessage(Deleted, int64(42), nil)
	require.NoError(t, err)

	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"deleted","id":42}`, string(raw))
}

func TestFrameRoundTripsStringAndNumericIDs(t *testing.T) {
	var frame Frame
	require.NoError(t, json.Unmarshal([]byte(`{"action":"event","topic":"order-updated","message":{"type":"deleted","id":"7"}}`), &frame))
	require.NotNil(t, frame.Message)
	assert.Equal(t, "7", frame.Message.ID)

	var numeric Frame
	require.NoError(t, json.Unmarshal([]byte(`{"action":"event","topic":"order-updated","message":{"type":"deleted","id":7}}`), &numeric))
	require.NotNil(t, numeric.Message)
	assert.Equal(t, float64(7), numeric.Message.ID)
}

func TestFanoutPublishesToAllAndReportsFirstError(t *testing.T) {
	ok := &Recorder{}
	failing := &Recorder{Err: errors.New("redis down")}

	err := Fanout{failing, ok}.Publish(context.Background(), TopicOrders, Message{Type: Added})
	require.Error(t, err)
	assert.Len(t, ok.ByTopic(TopicOrders), 1)
	assert.Empty(t, failing.Messages())
}

func TestKnownTopic(t *testing.T) {
	assert.True(t, KnownTopic(TopicInventory))
	assert.False(t, KnownTopic("patients"))
}
