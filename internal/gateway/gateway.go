// Package gateway talks to the field board that owns the physical sensors,
// keypad, locks and buzzer. It implements sensors.Collector and provides the
// actuator set used by the decision loop.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/daemonp/zoneguard/internal/actuator"
	"github.com/daemonp/zoneguard/internal/config"
	"github.com/daemonp/zoneguard/internal/log"
	"github.com/daemonp/zoneguard/internal/outbox"
	"github.com/daemonp/zoneguard/internal/sensors"
	"github.com/daemonp/zoneguard/internal/types"
	"github.com/daemonp/zoneguard/internal/util"
)

const (
	keypadQueueSize   = 8
	sensorQueueSize   = 32
	commandQueueSize  = 16
	reconnectDelay    = 3 * time.Second
	keepaliveInterval = 30 * time.Second
	readPoll          = time.Second
)

var ErrNotConnected = errors.New("gateway not connected")

type Gateway struct {
	cfg   config.GatewayConfig
	log   *log.Logger
	clock types.Clock

	conn      net.Conn
	connMu    sync.Mutex
	connected atomic.Bool
	sequence  atomic.Uint32

	keypad   *outbox.Queue[types.Event]
	sensor   *outbox.Queue[types.Event]
	commands *outbox.Queue[[]byte]

	doorOpen   atomic.Bool
	windowOpen atomic.Bool

	// bank is written by the read loop and read by the decision loop.
	bankMu     *util.TimedMutex
	bank       *sensors.Bank
	lastHealth sensors.HealthSnapshot

	door   *remoteLock
	window *remoteLock
	buzzer *remoteBuzzer
}

func New(cfg config.GatewayConfig, clock types.Clock, logger *log.Logger) *Gateway {
	if logger == nil {
		logger = log.Nop()
	}
	g := &Gateway{
		cfg:      cfg,
		log:      logger,
		clock:    clock,
		keypad:   outbox.NewQueue[types.Event](keypadQueueSize),
		sensor:   outbox.NewQueue[types.Event](sensorQueueSize),
		commands: outbox.NewQueue[[]byte](commandQueueSize),
		bank:     sensors.NewBank(),
	}
	g.bankMu = util.NewTimedMutex("gateway sensors", 2*time.Millisecond, 5*time.Second, func(name string) {
		logger.Warn("Lock %s contended; using cached snapshot", name)
	})
	for i, wired := range cfg.UltrasonicWired {
		if i < sensors.UltrasonicCount {
			g.bank.UltrasonicWired[i] = wired
		}
	}
	g.door = &remoteLock{g: g, channel: ChannelDoor}
	g.window = &remoteLock{g: g, channel: ChannelWindow}
	g.buzzer = &remoteBuzzer{g: g}
	return g
}

// Actuators returns the lock and buzzer set. The window lock is included only
// when installed.
func (g *Gateway) Actuators(windowLockInstalled bool) actuator.Set {
	set := actuator.Set{Door: g.door, Buzzer: g.buzzer}
	if windowLockInstalled {
		set.Window = g.window
	}
	return set
}

// SensorStats reports sensor queue depth and drops for outbox metrics.
func (g *Gateway) SensorStats() (int, uint64) {
	return g.sensor.Len() + g.keypad.Len(), g.sensor.Drops() + g.keypad.Drops()
}

func (g *Gateway) Connected() bool {
	return g.connected.Load()
}

func (g *Gateway) Connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	addr := fmt.Sprintf("%s:%d", g.cfg.Host, g.cfg.Port)
	g.log.Debug("Attempting to connect to %s", addr)
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to gateway %s: %w", addr, err)
	}

	g.connMu.Lock()
	g.conn = conn
	g.connMu.Unlock()
	g.connected.Store(true)
	g.log.Info("Connected to gateway %s", addr)
	return nil
}

// Run keeps the gateway connected until ctx ends, reconnecting after failures.
func (g *Gateway) Run(ctx context.Context) error {
	for {
		if err := g.Connect(ctx); err != nil {
			g.log.Error("%v", err)
		} else {
			g.serve(ctx)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(reconnectDelay):
		}
	}
}

func (g *Gateway) serve(ctx context.Context) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		g.writeLoop(connCtx)
	}()

	g.connMu.Lock()
	conn := g.conn
	g.connMu.Unlock()
	if conn != nil {
		g.readLoop(connCtx, conn)
	}
	cancel()
	g.Disconnect()
	wg.Wait()
}

func (g *Gateway) readLoop(ctx context.Context, conn net.Conn) {
	var dec Decoder
	buffer := make([]byte, 256)
	for ctx.Err() == nil {
		conn.SetReadDeadline(time.Now().Add(readPoll))
		n, err := conn.Read(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() == nil {
				g.log.Error("Gateway read error: %v", err)
			}
			return
		}
		frames, errs := dec.Feed(buffer[:n])
		for _, err := range errs {
			g.log.Warn("Dropped gateway frame: %v", err)
		}
		for _, f := range frames {
			g.processFrame(f)
		}
	}
}

func (g *Gateway) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	nextKeepalive := time.Now().Add(keepaliveInterval)
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if now.After(nextKeepalive) {
				nextKeepalive = now.Add(keepaliveInterval)
				g.enqueue(cmdKeepalive)
			}
			for {
				packet, ok := g.commands.TryPop()
				if !ok {
					break
				}
				if err := g.write(packet); err != nil {
					g.log.Error("Failed to send command: %v", err)
					g.Disconnect()
					return
				}
			}
		}
	}
}

// write sends one packet on the current connection. connMu only guards the
// conn field; the write itself runs unlocked.
func (g *Gateway) write(packet []byte) error {
	g.connMu.Lock()
	conn := g.conn
	g.connMu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	conn.SetWriteDeadline(time.Now().Add(time.Second))
	_, err := conn.Write(packet)
	return err
}

// enqueue frames a command for the write loop without blocking the caller.
func (g *Gateway) enqueue(kind byte, args ...byte) {
	seq := uint8(g.sequence.Add(1) - 1)
	body := append([]byte{kind}, args...)
	if err := g.commands.TryPush(encodeFrame(frameCommand, seq, body)); err != nil {
		g.log.Warn("Gateway command 0x%02x dropped: %v", kind, err)
	}
}

func (g *Gateway) processFrame(f Frame) {
	switch f.Type {
	case frameMessage:
		g.processMessage(f.Body)
	case frameReply:
		g.log.Trace("Gateway reply seq=%d body=%x", f.Sequence, f.Body)
	default:
		g.log.Warn("Unknown gateway frame type %q", f.Type)
	}
}

func (g *Gateway) processMessage(body []byte) {
	if len(body) < 2 {
		g.log.Warn("Gateway message too short: %x", body)
		return
	}
	now := g.clock.NowMs()

	switch body[0] {
	case msgKeypad, msgSensorEvent:
		if len(body) < 3 {
			g.log.Warn("Gateway event message too short: %x", body)
			return
		}
		e := types.Event{Type: types.EventType(body[1]), Timestamp: now, Source: body[2]}
		if _, known := types.ParseEventType(e.Type.String()); !known {
			g.log.Warn("Unknown event type %d from gateway", body[1])
			return
		}
		q := g.sensor
		if body[0] == msgKeypad {
			q = g.keypad
		}
		if err := q.TryPush(e); err != nil {
			g.log.Warn("Event %s dropped: %v", e.Type, err)
		}

	case msgContacts:
		g.doorOpen.Store(body[1]&0x01 != 0)
		g.windowOpen.Store(body[1]&0x02 != 0)

	case msgBinary:
		if len(body) < 3 {
			return
		}
		g.sampleBinary(now, body[1], body[2] != 0)

	case msgRange:
		if len(body) < 4 {
			return
		}
		g.sampleRange(now, body[1], rangeCm(body[2:4]))

	default:
		g.log.Warn("Unknown gateway message kind 0x%02x", body[0])
	}
}

func (g *Gateway) sampleBinary(now uint32, channel byte, active bool) {
	if !g.bankMu.TryLockFor() {
		return
	}
	var e types.Event
	var fired bool
	switch {
	case channel >= 1 && int(channel) <= sensors.PIRCount:
		e, fired = g.bank.PIR[channel-1].Sample(now, active)
	case channel == binaryVibration:
		e, fired = g.bank.Vibration.Sample(now, active)
	default:
		g.log.Warn("Unknown binary channel %d", channel)
	}
	g.bankMu.Unlock()

	if fired {
		if err := g.sensor.TryPush(e); err != nil {
			g.log.Warn("Event %s dropped: %v", e.Type, err)
		}
	}
}

func (g *Gateway) sampleRange(now uint32, channel byte, cm int) {
	if channel < 1 || int(channel) > sensors.UltrasonicCount {
		g.log.Warn("Unknown range channel %d", channel)
		return
	}
	if !g.bankMu.TryLockFor() {
		return
	}
	e, fired := g.bank.Chokepoint[channel-1].Sample(now, cm)
	g.bankMu.Unlock()

	if fired {
		if err := g.sensor.TryPush(e); err != nil {
			g.log.Warn("Event %s dropped: %v", e.Type, err)
		}
	}
}

func (g *Gateway) PollKeypad(now uint32) (types.Event, bool) {
	return g.keypad.TryPop()
}

func (g *Gateway) PollSensor(now uint32) (types.Event, bool) {
	return g.sensor.TryPop()
}

func (g *Gateway) IsDoorOpen() bool {
	return g.doorOpen.Load()
}

func (g *Gateway) IsWindowOpen() bool {
	return g.windowOpen.Load()
}

// ReadHealth evaluates the sensor bank. Under contention the previous snapshot
// is returned so a busy read loop cannot clear a latched fault.
func (g *Gateway) ReadHealth(now uint32, th sensors.Thresholds) sensors.HealthSnapshot {
	if !g.bankMu.TryLockFor() {
		return g.lastHealth
	}
	defer g.bankMu.Unlock()
	g.lastHealth = g.bank.ReadHealth(now, th)
	return g.lastHealth
}

func (g *Gateway) Disconnect() {
	g.connMu.Lock()
	defer g.connMu.Unlock()

	if !g.connected.Load() {
		return
	}
	g.log.Debug("Disconnecting from gateway")
	if g.conn != nil {
		g.conn.Close()
		g.conn = nil
	}
	g.connected.Store(false)
}

type remoteLock struct {
	g       *Gateway
	channel byte
	locked  atomic.Bool
}

func (l *remoteLock) Lock() {
	l.locked.Store(true)
	l.g.enqueue(cmdLock, l.channel, 1)
}

func (l *remoteLock) Unlock() {
	l.locked.Store(false)
	l.g.enqueue(cmdLock, l.channel, 0)
}

func (l *remoteLock) IsLocked() bool {
	return l.locked.Load()
}

type remoteBuzzer struct {
	g *Gateway
}

func (b *remoteBuzzer) Warn()  { b.g.enqueue(cmdBuzzer, buzzerWarn) }
func (b *remoteBuzzer) Alert() { b.g.enqueue(cmdBuzzer, buzzerAlert) }
func (b *remoteBuzzer) Stop()  { b.g.enqueue(cmdBuzzer, buzzerStop) }
