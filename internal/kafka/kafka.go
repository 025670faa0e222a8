// Package kafka is an alternative outbox transport that maps each record kind
// to a topic and consumes remote commands from a command topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/daemonp/zoneguard/internal/config"
	"github.com/daemonp/zoneguard/internal/log"
	"github.com/daemonp/zoneguard/internal/outbox"
)

var ErrNoBrokers = errors.New("no kafka brokers configured")

// Topic returns "<prefix>.<suffix>".
func Topic(prefix, suffix string) string {
	return prefix + "." + suffix
}

// CommandTopic is where remote command payloads arrive.
func CommandTopic(prefix string) string {
	return Topic(prefix, "cmd")
}

type Transport struct {
	cfg config.KafkaConfig
	log *log.Logger

	writer    *kafka.Writer
	connected atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg config.KafkaConfig, logger *log.Logger) *Transport {
	if logger == nil {
		logger = log.Nop()
	}
	return &Transport{cfg: cfg, log: logger}
}

// Connect checks that a broker answers and starts the command reader once.
func (t *Transport) Connect(ctx context.Context, onCommand outbox.CommandHandler) error {
	if len(t.cfg.Brokers) == 0 {
		return ErrNoBrokers
	}

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	conn, err := kafka.DialContext(dialCtx, "tcp", t.cfg.Brokers[0])
	if err != nil {
		return fmt.Errorf("failed to reach kafka broker %s: %w", t.cfg.Brokers[0], err)
	}
	conn.Close()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.writer == nil {
		t.writer = &kafka.Writer{
			Addr:         kafka.TCP(t.cfg.Brokers...),
			RequiredAcks: kafka.RequireOne,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		}
	}
	if t.done == nil && onCommand != nil {
		readCtx, stop := context.WithCancel(context.Background())
		t.cancel = stop
		t.done = make(chan struct{})
		go t.readCommands(readCtx, onCommand)
	}
	t.connected.Store(true)
	t.log.Info("Connected to kafka brokers %v", t.cfg.Brokers)
	return nil
}

func (t *Transport) readCommands(ctx context.Context, onCommand outbox.CommandHandler) {
	defer close(t.done)
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  t.cfg.Brokers,
		Topic:    CommandTopic(t.cfg.Prefix),
		GroupID:  t.cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 1e6,
		MaxWait:  500 * time.Millisecond,
	})
	defer reader.Close()

	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.log.Warn("kafka read error: %v", err)
			continue
		}
		onCommand(string(m.Value))
	}
}

func (t *Transport) Connected() bool {
	return t.connected.Load()
}

// Publish writes one record keyed by its id. A write failure marks the
// transport disconnected so the outbox falls back to its store.
func (t *Transport) Publish(ctx context.Context, r outbox.Record) error {
	if !t.Connected() {
		return errors.New("kafka not connected")
	}
	value, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal %s record: %w", r.Kind, err)
	}
	err = t.writer.WriteMessages(ctx, kafka.Message{
		Topic: Topic(t.cfg.Prefix, string(r.Kind)),
		Key:   []byte(r.ID),
		Value: value,
	})
	if err != nil {
		t.connected.Store(false)
		return fmt.Errorf("kafka write failed: %w", err)
	}
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	cancel, done, writer := t.cancel, t.done, t.writer
	t.mu.Unlock()

	t.connected.Store(false)
	if cancel != nil {
		cancel()
		<-done
	}
	if writer != nil {
		return writer.Close()
	}
	return nil
}
