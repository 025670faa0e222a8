package homeassistant

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daemonp/zoneguard/internal/config"
	"github.com/daemonp/zoneguard/internal/mqtt"
)

type recorder struct {
	topics   *mqtt.Topics
	payloads map[string]map[string]interface{}
	fail     bool
}

func newRecorder() *recorder {
	return &recorder{topics: mqtt.NewTopics("zoneguard"), payloads: map[string]map[string]interface{}{}}
}

func (r *recorder) GetPrefix() string    { return "zoneguard" }
func (r *recorder) Topics() *mqtt.Topics { return r.topics }

func (r *recorder) PublishJSON(topic string, payload interface{}, retain bool) error {
	if r.fail {
		return errors.New("offline")
	}
	r.payloads[topic] = payload.(map[string]interface{})
	return nil
}

func TestDiscoveryPublishesEveryEntity(t *testing.T) {
	cfg := config.DefaultConfig().HomeAssistant
	rec := newRecorder()
	New(&cfg, rec, nil).Start()

	assert.Len(t, rec.payloads, len(entities)+1)

	door, ok := rec.payloads["homeassistant/binary_sensor/zoneguard/door/config"]
	require.True(t, ok)
	assert.Equal(t, "door", door["device_class"])
	assert.Equal(t, "zoneguard/status", door["state_topic"])
	assert.Equal(t, "zoneguard_door", door["unique_id"])

	lock := rec.payloads["homeassistant/binary_sensor/zoneguard/door_lock/config"]
	require.NotNil(t, lock)
	assert.Equal(t, "lock", lock["device_class"])

	backlog := rec.payloads["homeassistant/sensor/zoneguard/store_depth/config"]
	require.NotNil(t, backlog)
	assert.Equal(t, "zoneguard/metrics", backlog["state_topic"])
	assert.Equal(t, "records", backlog["unit_of_measurement"])
	_, hasClass := backlog["device_class"]
	assert.False(t, hasClass)
}

func TestDiscoveryToleratesPublishErrors(t *testing.T) {
	cfg := config.DefaultConfig().HomeAssistant
	rec := newRecorder()
	rec.fail = true
	assert.NotPanics(t, func() { New(&cfg, rec, nil).Start() })
	assert.Empty(t, rec.payloads)
}
