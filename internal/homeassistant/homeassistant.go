// Package homeassistant publishes MQTT discovery configs so the controller's
// state, contacts, locks and backpressure metrics show up as entities.
package homeassistant

import (
	"fmt"

	"github.com/daemonp/zoneguard/internal/config"
	"github.com/daemonp/zoneguard/internal/log"
	"github.com/daemonp/zoneguard/internal/mqtt"
	"github.com/daemonp/zoneguard/internal/util"
)

type HomeAssistant struct {
	config *config.HomeAssistantConfig
	mqtt   mqtt.Publisher
	log    *log.Logger
}

// entity is one discovered item. Source selects which state topic feeds it.
type entity struct {
	component string
	key       string
	name      string
	template  string
	source    string
	unit      string
}

const (
	sourceStatus  = "status"
	sourceMetrics = "metrics"
)

var entities = []entity{
	{component: "sensor", key: "mode", name: "Mode", template: "{{ value_json.mode }}"},
	{component: "sensor", key: "level", name: "Alarm level", template: "{{ value_json.level }}"},
	{component: "sensor", key: "score", name: "Suspicion score", template: "{{ value_json.score }}"},
	{component: "binary_sensor", key: "door", name: "Door", template: "{{ 'ON' if value_json.door_open else 'OFF' }}"},
	{component: "binary_sensor", key: "window", name: "Window", template: "{{ 'ON' if value_json.window_open else 'OFF' }}"},
	{component: "binary_sensor", key: "door_lock", name: "Door lock", template: "{{ 'OFF' if value_json.door_locked else 'ON' }}"},
	{component: "binary_sensor", key: "window_lock", name: "Window lock", template: "{{ 'OFF' if value_json.window_locked else 'ON' }}"},
	{component: "binary_sensor", key: "entry_pending", name: "Entry pending", template: "{{ 'ON' if value_json.entry_pending else 'OFF' }}"},
	{component: "binary_sensor", key: "occupancy", name: "Someone home", template: "{{ 'ON' if value_json.is_someone_home else 'OFF' }}"},
	{component: "sensor", key: "tick_overruns", name: "Tick overruns", template: "{{ value_json.tick_overruns }}", source: sourceMetrics},
	{component: "sensor", key: "store_depth", name: "Outbox backlog", template: "{{ value_json.q_store }}", source: sourceMetrics, unit: "records"},
	{component: "sensor", key: "store_drops", name: "Outbox drops", template: "{{ value_json.store_drops }}", source: sourceMetrics, unit: "records"},
}

func New(cfg *config.HomeAssistantConfig, publisher mqtt.Publisher, logger *log.Logger) *HomeAssistant {
	if logger == nil {
		logger = log.Nop()
	}
	return &HomeAssistant{
		config: cfg,
		mqtt:   publisher,
		log:    logger,
	}
}

// Start publishes every discovery config. It is safe to call on each reconnect.
func (ha *HomeAssistant) Start() {
	ha.log.Info("Publishing Home Assistant discovery")
	ha.publishControllerConfig()
	for _, e := range entities {
		ha.publishEntityConfig(e)
	}
}

func (ha *HomeAssistant) device() map[string]interface{} {
	return map[string]interface{}{
		"name":         ha.config.Name,
		"identifiers":  []string{ha.mqtt.GetPrefix()},
		"manufacturer": "Zoneguard",
		"model":        "Security controller",
	}
}

func (ha *HomeAssistant) publishControllerConfig() {
	topics := ha.mqtt.Topics()
	config := map[string]interface{}{
		"name":           fmt.Sprintf("%s connectivity", ha.config.Name),
		"unique_id":      fmt.Sprintf("%s_connectivity", ha.mqtt.GetPrefix()),
		"state_topic":    topics.Status(),
		"value_template": "{{ 'OFF' if value_json.reason == 'offline' else 'ON' }}",
		"device":         ha.device(),
	}
	ha.publishConfig("binary_sensor", "connectivity", "connectivity", config)
}

func (ha *HomeAssistant) publishEntityConfig(e entity) {
	topics := ha.mqtt.Topics()
	state := topics.Status()
	if e.source == sourceMetrics {
		state = topics.Metrics()
	}
	config := map[string]interface{}{
		"name":           fmt.Sprintf("%s %s", ha.config.Name, e.name),
		"unique_id":      fmt.Sprintf("%s_%s", ha.mqtt.GetPrefix(), util.Slugify(e.key)),
		"state_topic":    state,
		"value_template": e.template,
		"device":         ha.device(),
	}
	if e.unit != "" {
		config["unit_of_measurement"] = e.unit
	}
	ha.publishConfig(e.component, e.key, deviceClass(e), config)
}

func (ha *HomeAssistant) publishConfig(component, objectID, deviceClass string, config map[string]interface{}) {
	topic := fmt.Sprintf("%s/%s/%s/%s/config", ha.config.Prefix, component, util.Slugify(ha.mqtt.GetPrefix()), objectID)

	if deviceClass != "" {
		config["device_class"] = deviceClass
	}

	if err := ha.mqtt.PublishJSON(topic, config, true); err != nil {
		ha.log.Error("Failed to publish Home Assistant config %s: %v", topic, err)
	}
}
