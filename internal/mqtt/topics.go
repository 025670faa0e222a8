package mqtt

import (
	"fmt"

	"github.com/daemonp/zoneguard/internal/outbox"
)

type Topics struct {
	prefix string
}

func NewTopics(prefix string) *Topics {
	return &Topics{prefix: prefix}
}

func (t *Topics) Prefix() string {
	return t.prefix
}

func (t *Topics) Command() string {
	return fmt.Sprintf("%s/cmd", t.prefix)
}

func (t *Topics) Event() string {
	return fmt.Sprintf("%s/event", t.prefix)
}

func (t *Topics) Status() string {
	return fmt.Sprintf("%s/status", t.prefix)
}

func (t *Topics) Ack() string {
	return fmt.Sprintf("%s/ack", t.prefix)
}

func (t *Topics) Notify() string {
	return fmt.Sprintf("%s/notify", t.prefix)
}

func (t *Topics) Metrics() string {
	return fmt.Sprintf("%s/metrics", t.prefix)
}

// ForKind maps an outbox record kind to its topic.
func (t *Topics) ForKind(kind outbox.Kind) (string, error) {
	switch kind {
	case outbox.KindEvent:
		return t.Event(), nil
	case outbox.KindStatus:
		return t.Status(), nil
	case outbox.KindAck:
		return t.Ack(), nil
	case outbox.KindNotice:
		return t.Notify(), nil
	case outbox.KindMetrics:
		return t.Metrics(), nil
	default:
		return "", fmt.Errorf("no topic for record kind %q", kind)
	}
}
