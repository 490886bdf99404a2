//go:build !no_mqtt

// Package mqtt mirrors run progress to an MQTT broker and accepts run
// control commands from it.
package mqtt

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"winmaint/internal/events"
	"winmaint/internal/host"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
	// NodeID names this machine in topics and discovery; defaults to
	// "winmaint".
	NodeID string
	// Discovery publishes Home Assistant discovery documents.
	Discovery bool
}

// Controller receives commands from the broker. *runner.Supervisor
// implements it.
type Controller interface {
	Pause() error
	Resume() error
	Abort() error
	AnswerHang(d host.HangDecision) error
}

// Bridge publishes bus events and the accumulated run state.
type Bridge struct {
	client pahomqtt.Client
	bus    *events.Bus
	ctrl   Controller
	cfg    Config
	logger *slog.Logger
	unsub  func()

	mu    sync.Mutex
	state runState
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(bus *events.Bus, ctrl Controller, cfg Config, logger *slog.Logger) (*Bridge, error) {
	if cfg.NodeID == "" {
		cfg.NodeID = "winmaint"
	}
	b := &Bridge{
		bus:    bus,
		ctrl:   ctrl,
		cfg:    cfg,
		logger: logger.With("component", "mqtt"),
		state:  runState{State: stateIdle},
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID("winmaint-" + cfg.NodeID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(b.topic("bridge/state"), "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.publish(b.topic("bridge/state"), []byte("online"), true)
			if b.cfg.Discovery {
				b.publishDiscovery()
			}
			b.publishState()
			b.subscribeCommands()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	// Assigned before Connect: the connect handler publishes through it.
	b.client = pahomqtt.NewClient(opts)
	token := b.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return b, nil
}

// Start subscribes to the event bus.
func (b *Bridge) Start() {
	b.unsub = b.bus.OnAll(b.handleEvent)
	b.logger.Info("MQTT bridge started", "prefix", b.cfg.TopicPrefix)
}

// Stop publishes offline state, unsubscribes, and disconnects.
func (b *Bridge) Stop() {
	if b.unsub != nil {
		b.unsub()
	}
	b.publish(b.topic("bridge/state"), []byte("offline"), true)
	b.client.Disconnect(1000)
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) topic(suffix string) string {
	return b.cfg.TopicPrefix + "/" + b.cfg.NodeID + "/" + suffix
}

func (b *Bridge) handleEvent(e events.Event) {
	b.publish(b.topic("run/events"), mustJSON(e), false)

	b.mu.Lock()
	changed := b.state.apply(e)
	b.mu.Unlock()
	if changed {
		b.publishState()
	}
}

func (b *Bridge) publishState() {
	b.mu.Lock()
	payload := mustJSON(b.state)
	b.mu.Unlock()
	b.publish(b.topic("run/state"), payload, true)
}

func (b *Bridge) subscribeCommands() {
	b.client.Subscribe(b.topic("run/set"), 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		b.handleCommand(msg.Payload())
	})
	b.client.Subscribe(b.topic("run/hang/set"), 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		b.handleHangAnswer(msg.Payload())
	})
}

// handleCommand accepts a bare word or {"action": "..."}.
func (b *Bridge) handleCommand(payload []byte) {
	action := parseWord(payload, "action")
	var err error
	switch action {
	case "pause":
		err = b.ctrl.Pause()
	case "resume":
		err = b.ctrl.Resume()
	case "abort":
		err = b.ctrl.Abort()
	default:
		b.logger.Warn("unknown run command", "action", action)
		return
	}
	if err != nil {
		b.logger.Warn("run command failed", "action", action, "err", err)
	}
}

func (b *Bridge) handleHangAnswer(payload []byte) {
	d, err := host.ParseHangDecision(parseWord(payload, "decision"))
	if err != nil {
		b.logger.Warn("invalid hang answer", "err", err)
		return
	}
	if err := b.ctrl.AnswerHang(d); err != nil {
		b.logger.Warn("hang answer rejected", "err", err)
	}
}

func parseWord(payload []byte, key string) string {
	s := strings.TrimSpace(string(payload))
	if strings.HasPrefix(s, "{") {
		var m map[string]any
		if err := json.Unmarshal(payload, &m); err == nil {
			s, _ = m[key].(string)
		}
	}
	return strings.ToLower(s)
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	token := b.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
