package kafka

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/daemonp/zoneguard/internal/config"
	"github.com/daemonp/zoneguard/internal/outbox"
)

func TestTopicNames(t *testing.T) {
	assert.Equal(t, "zg.cmd", CommandTopic("zg"))
	for _, kind := range outbox.Kinds {
		assert.Equal(t, "zg."+string(kind), Topic("zg", string(kind)))
	}
}

func TestConnectWithoutBrokers(t *testing.T) {
	tr := New(config.KafkaConfig{Prefix: "zg"}, nil)
	err := tr.Connect(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoBrokers)
	assert.False(t, tr.Connected())

	err = tr.Publish(context.Background(), outbox.NoticeRecord(1, "x"))
	assert.Error(t, err)
	assert.NoError(t, tr.Close())
}
