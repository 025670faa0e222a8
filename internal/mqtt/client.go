package mqtt

// Publisher is the slice of the MQTT client used by discovery publishing.
type Publisher interface {
	GetPrefix() string
	Topics() *Topics
	PublishJSON(topic string, payload interface{}, retain bool) error
}
