package mqtt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lowaak/train-control/internal/config"
)

func TestTopics(t *testing.T) {
	topics := Topics{Prefix: "layout/trains/"}
	assert.Equal(t, "layout/trains/status", topics.Status())
	assert.Equal(t, "layout/trains/command", topics.Command())
	assert.Equal(t, "layout/trains/90:84:2B:00:00:01/state", topics.TrainState("90:84:2B:00:00:01"))
	assert.Equal(t, "layout/trains/+/state", topics.AllTrainStates())
}

func TestBuildClientOptions(t *testing.T) {
	opts := buildClientOptions(config.MQTTConfig{
		Broker:      "tcp://localhost:1883",
		ClientID:    "train-control",
		TopicPrefix: "trains",
		QoS:         1,
	})

	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "tcp://localhost:1883", opts.Servers[0].String())
	assert.Equal(t, "train-control", opts.ClientID)
	assert.True(t, opts.AutoReconnect)
	assert.True(t, opts.CleanSession)

	assert.True(t, opts.WillEnabled)
	assert.Equal(t, "trains/status", opts.WillTopic)
	assert.True(t, opts.WillRetained)
	assert.Equal(t, byte(1), opts.WillQos)
	assert.Contains(t, string(opts.WillPayload), `"reason":"unexpected_disconnect"`)
}

func TestStatusPayload(t *testing.T) {
	assert.Contains(t, statusPayload("id", "online", ""), `"status":"online"`)
	assert.NotContains(t, statusPayload("id", "online", ""), "reason")
	assert.Contains(t, statusPayload("id", "offline", "graceful_shutdown"), `"reason":"graceful_shutdown"`)
}
