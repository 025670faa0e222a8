// Package outbox delivers records over an unreliable transport without ever
// blocking the decision loop. Records wait in a bounded publish queue, are sent
// directly when the link is up, and otherwise land in a FIFO store that is
// flushed in bursts once the link returns.
package outbox

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/daemonp/zoneguard/internal/config"
	"github.com/daemonp/zoneguard/internal/log"
	"github.com/daemonp/zoneguard/internal/types"
)

// NoticeStoreDegraded is published once when the persisted store fails.
const NoticeStoreDegraded = "WARN: outbox persistence unavailable; buffering in memory only"

// Transport carries records to the outside world. CommandHandler receives
// inbound remote command payloads and must not block.
type Transport interface {
	Connect(ctx context.Context, onCommand CommandHandler) error
	Connected() bool
	Publish(ctx context.Context, r Record) error
	Close() error
}

type CommandHandler func(payload string)

// SensorStats reports the depth and drop count of an upstream sensor queue.
type SensorStats func() (depth int, drops uint64)

type Outbox struct {
	cfg       config.OutboxConfig
	transport Transport
	logger    *log.Logger
	clock     types.Clock

	pub *Queue[Record]
	cmd *Queue[string]

	store       Store
	storeDrops  atomic.Uint64
	storeDepth  atomic.Int64
	overruns    atomic.Uint64
	degraded    atomic.Bool
	sensorStats SensorStats

	// Owned by the Run goroutine.
	nextConnect time.Time
	nextMetrics time.Time
}

// New builds an outbox around store. A nil store means in-memory buffering only.
func New(cfg config.OutboxConfig, transport Transport, store Store, clock types.Clock, logger *log.Logger) *Outbox {
	if logger == nil {
		logger = log.Nop()
	}
	if clock == nil {
		clock = types.NewMonotonicClock()
	}
	if store == nil {
		store = NewMemoryStore(cfg.StoreCapacity)
	}
	o := &Outbox{
		cfg:       cfg,
		transport: transport,
		logger:    logger,
		clock:     clock,
		pub:       NewQueue[Record](cfg.PublishQueueSize),
		cmd:       NewQueue[string](cfg.CommandQueueSize),
		store:     store,
	}
	o.storeDepth.Store(int64(store.Len()))
	return o
}

// SetSensorStats includes an upstream sensor queue in the metrics record.
func (o *Outbox) SetSensorStats(fn SensorStats) {
	o.sensorStats = fn
}

// Publish hands r to the delivery task. It never blocks; a full queue returns ErrQueueFull.
func (o *Outbox) Publish(r Record) error {
	return o.pub.TryPush(r)
}

// SubmitCommand queues an inbound remote payload for the decision loop.
func (o *Outbox) SubmitCommand(payload string) error {
	return o.cmd.TryPush(payload)
}

// NextCommand pops one pending remote payload without waiting.
func (o *Outbox) NextCommand() (string, bool) {
	return o.cmd.TryPop()
}

// NoteOverrun counts a decision loop tick that ran past its period.
func (o *Outbox) NoteOverrun() {
	o.overruns.Add(1)
}

// Degraded reports whether persistence failed and delivery is memory-only.
func (o *Outbox) Degraded() bool {
	return o.degraded.Load()
}

// MarkDegraded records that no persisted store could be opened at start.
// The notice is published once.
func (o *Outbox) MarkDegraded() {
	if o.degraded.CompareAndSwap(false, true) {
		o.logger.Warn("Outbox persistence unavailable, using memory store")
		if err := o.Publish(NoticeRecord(o.clock.NowMs(), NoticeStoreDegraded)); err != nil {
			o.logger.Warn("Failed to queue degraded notice: %v", err)
		}
	}
}

// Run drives delivery until ctx is done. Transport failures are retried on a fixed backoff.
func (o *Outbox) Run(ctx context.Context) error {
	period := time.Duration(o.cfg.LoopPeriodMs) * time.Millisecond
	if period <= 0 {
		period = 10 * time.Millisecond
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if now.Sub(last) > 2*period {
				o.overruns.Add(1)
			}
			last = now
			o.Step(ctx, now)
		}
	}
}

// Step runs one delivery iteration: reconnect, flush the store, drain the queue, emit metrics.
// It must only be called from the goroutine that owns the outbox; other
// goroutines talk to it through the queues and atomic counters, so no lock is
// held while the transport blocks.
func (o *Outbox) Step(ctx context.Context, now time.Time) {
	o.ensureConnected(ctx, now)

	if o.transport != nil && o.transport.Connected() {
		o.flushStore(ctx)
	}

	for burst := 0; burst < o.cfg.DrainBurst; burst++ {
		rec, ok := o.pub.TryPop()
		if !ok {
			break
		}
		o.route(ctx, rec)
	}

	o.storeDepth.Store(int64(o.store.Len()))
	period := time.Duration(o.cfg.MetricsPeriodMs) * time.Millisecond
	if o.nextMetrics.IsZero() {
		o.nextMetrics = now.Add(period)
	} else if !now.Before(o.nextMetrics) {
		o.nextMetrics = now.Add(period)
		o.route(ctx, MetricsRecord(o.clock.NowMs(), o.Metrics()))
	}

	o.storeDepth.Store(int64(o.store.Len()))
}

func (o *Outbox) ensureConnected(ctx context.Context, now time.Time) {
	if o.transport == nil || o.transport.Connected() || now.Before(o.nextConnect) {
		return
	}
	o.nextConnect = now.Add(time.Duration(o.cfg.ReconnectBackoffMs) * time.Millisecond)
	if err := o.transport.Connect(ctx, o.onCommand); err != nil {
		o.logger.Warn("Transport connect failed, retrying in %dms: %v", o.cfg.ReconnectBackoffMs, err)
		return
	}
	o.logger.Info("Transport connected")
}

func (o *Outbox) onCommand(payload string) {
	if err := o.SubmitCommand(payload); err != nil {
		o.logger.Warn("Dropped remote command: %v", err)
	}
}

func (o *Outbox) flushStore(ctx context.Context) {
	for burst := 0; burst < o.cfg.FlushBurst; burst++ {
		rec, ok := o.store.Peek()
		if !ok {
			return
		}
		if err := o.transport.Publish(ctx, rec); err != nil {
			o.logger.Debug("Flush stalled on %s %s: %v", rec.Kind, rec.ID, err)
			return
		}
		if err := o.store.Pop(); err != nil {
			o.degrade(err)
		}
	}
}

// route sends rec directly when the link is idle and nothing older is waiting,
// otherwise appends it to the store.
func (o *Outbox) route(ctx context.Context, rec Record) {
	if o.transport != nil && o.transport.Connected() && o.store.Len() == 0 {
		if err := o.transport.Publish(ctx, rec); err == nil {
			return
		}
	}
	o.hold(rec)
}

func (o *Outbox) hold(rec Record) {
	err := o.store.Push(rec)
	if err == nil {
		return
	}
	if errors.Is(err, ErrStoreFull) {
		o.storeDrops.Add(1)
		return
	}
	o.degrade(err)
	if err := o.store.Push(rec); err != nil {
		o.storeDrops.Add(1)
	}
}

// degrade swaps a failing persisted store for memory, keeping what it held.
func (o *Outbox) degrade(cause error) {
	if _, ok := o.store.(*MemoryStore); ok {
		return
	}
	o.logger.Error("Outbox store failed, falling back to memory: %v", cause)
	mem := NewMemoryStore(o.store.Cap())
	if sq, ok := o.store.(*SQLStore); ok {
		sq.Drain(mem)
	}
	o.store = mem
	if o.degraded.CompareAndSwap(false, true) {
		if err := mem.Push(NoticeRecord(o.clock.NowMs(), NoticeStoreDegraded)); err != nil {
			o.storeDrops.Add(1)
		}
	}
}

// Metrics snapshots the counters. Safe from any goroutine.
func (o *Outbox) Metrics() Metrics {
	m := Metrics{
		PubDrops:     o.pub.Drops(),
		CmdDrops:     o.cmd.Drops(),
		StoreDrops:   o.storeDrops.Load(),
		QPub:         o.pub.Len(),
		QCmd:         o.cmd.Len(),
		QStore:       int(o.storeDepth.Load()),
		TickOverruns: o.overruns.Load(),
		UptimeMs:     o.clock.NowMs(),
	}
	if o.sensorStats != nil {
		m.QSensor, m.SensorDrops = o.sensorStats()
	}
	return m
}

// Close shuts the transport down.
func (o *Outbox) Close() error {
	if o.transport == nil {
		return nil
	}
	return o.transport.Close()
}
