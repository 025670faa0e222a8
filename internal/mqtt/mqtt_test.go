package mqtt

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daemonp/zoneguard/internal/config"
	"github.com/daemonp/zoneguard/internal/outbox"
)

func TestTopicsForKind(t *testing.T) {
	topics := NewTopics("zg")
	want := map[outbox.Kind]string{
		outbox.KindEvent:   "zg/event",
		outbox.KindStatus:  "zg/status",
		outbox.KindAck:     "zg/ack",
		outbox.KindNotice:  "zg/notify",
		outbox.KindMetrics: "zg/metrics",
	}
	for kind, topic := range want {
		got, err := topics.ForKind(kind)
		require.NoError(t, err)
		assert.Equal(t, topic, got)
	}
	_, err := topics.ForKind("bogus")
	assert.Error(t, err)
	assert.Equal(t, "zg/cmd", topics.Command())
}

func TestParseURL(t *testing.T) {
	host, port := ParseURL("mqtt://broker.local:8883")
	assert.Equal(t, "broker.local", host)
	assert.Equal(t, 8883, port)

	host, port = ParseURL("broker")
	assert.Equal(t, "broker", host)
	assert.Equal(t, 1883, port)
}

func TestPublishBeforeConnectFails(t *testing.T) {
	cfg := config.DefaultConfig().MQTT
	m := NewMQTT(&cfg, nil)
	assert.False(t, m.Connected())
	err := m.Publish(context.Background(), outbox.NoticeRecord(1, "hi"))
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.NoError(t, m.Close())
}
