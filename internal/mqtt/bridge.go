package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/muurk/solminer/internal/config"
	"github.com/muurk/solminer/internal/control"
	"github.com/muurk/solminer/internal/logging"
	"github.com/muurk/solminer/internal/miner"
	"github.com/muurk/solminer/internal/solar"
)

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultPublishTimeout = 2 * time.Second
)

// publisher is the part of the paho client the bridge publishes through.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
}

// Bridge publishes control cycles and device status to MQTT and maps
// command topics onto the control surface.
type Bridge struct {
	client  pahomqtt.Client
	pub     publisher
	topics  Topics
	surface control.Surface

	PublishTimeout time.Duration

	mu  sync.Mutex
	ctx context.Context
}

// NewBridge creates a bridge for cfg. Call Start to connect.
func NewBridge(cfg config.MQTTConfig, surface control.Surface) *Bridge {
	b := newBridge(NewTopics(cfg.BaseTopic), surface, nil)
	opts := OptsFromConfig(cfg)
	opts.OnConnect = b.onConnect
	opts.OnConnectionLost = func(_ pahomqtt.Client, err error) {
		logging.Warn("MQTT connection lost", zap.Error(err))
	}
	b.client = pahomqtt.NewClient(opts)
	b.pub = b.client
	return b
}

func newBridge(topics Topics, surface control.Surface, pub publisher) *Bridge {
	return &Bridge{
		pub:            pub,
		topics:         topics,
		surface:        surface,
		PublishTimeout: DefaultPublishTimeout,
		ctx:            context.Background(),
	}
}

// Topics returns the topic layout in use.
func (b *Bridge) Topics() Topics { return b.topics }

// Start connects to the broker. Commands received later run under ctx.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	b.ctx = ctx
	b.mu.Unlock()

	token := b.client.Connect()
	if !token.WaitTimeout(DefaultConnectTimeout) {
		return errors.New("MQTT connect timed out")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("MQTT connect failed: %w", err)
	}
	return nil
}

// Stop marks the bridge offline and disconnects.
func (b *Bridge) Stop() {
	if b.client == nil || !b.client.IsConnected() {
		return
	}
	b.publish(b.topics.BridgeState(), PayloadOffline, true)
	b.client.Disconnect(uint(b.PublishTimeout.Milliseconds()))
}

// onConnect runs on every (re)connect: subscriptions do not survive a clean
// session.
func (b *Bridge) onConnect(client pahomqtt.Client) {
	logging.Info("MQTT connected")
	b.publish(b.topics.BridgeState(), PayloadOnline, true)

	token := client.SubscribeMultiple(b.topics.CommandFilters(), b.handleMessage)
	go func() {
		if !token.WaitTimeout(b.PublishTimeout) {
			logging.Error("MQTT subscribe timed out")
			return
		}
		if err := token.Error(); err != nil {
			logging.Error("MQTT subscribe failed", zap.Error(err))
		}
	}()
	b.publishStates()
}

func (b *Bridge) commandContext() context.Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ctx
}

func (b *Bridge) handleMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	cmd, err := b.topics.Parse(msg.Topic(), msg.Payload())
	if err != nil {
		logging.Debug("Ignoring MQTT message", zap.String("topic", msg.Topic()), zap.Error(err))
		return
	}
	if err := b.Execute(b.commandContext(), cmd); err != nil {
		logging.Warn("MQTT command failed",
			zap.String("topic", msg.Topic()),
			zap.String("payload", cmd.Payload),
			zap.Error(err),
		)
	}
}

// Execute runs a parsed command against the control surface and publishes
// the resulting status.
func (b *Bridge) Execute(ctx context.Context, cmd *ParsedCommand) error {
	logging.Debug("MQTT command", zap.String("device", cmd.DeviceID), zap.String("command", cmd.Command))

	if cmd.Command == CmdEmergencyStop {
		// the coordinator publishes the cycle to every listener
		b.surface.TriggerEmergencyStop(ctx)
		return nil
	}

	id := cmd.DeviceID
	var (
		status *miner.DeviceStatus
		err    error
	)
	switch cmd.Command {
	case CmdProfile:
		p, perr := miner.ParseProfile(cmd.Payload)
		if perr != nil {
			return perr
		}
		status, err = b.surface.SetPowerProfile(ctx, id, p)

	case CmdFrequency:
		mhz, perr := strconv.Atoi(cmd.Payload)
		if perr != nil {
			return fmt.Errorf("invalid frequency %q", cmd.Payload)
		}
		status, err = b.surface.SetFrequency(ctx, id, mhz)

	case CmdSolar:
		in, perr := solar.ParseInput(cmd.Payload)
		if perr != nil {
			return perr
		}
		status, err = b.surface.SetSolarInput(ctx, id, in)

	case CmdPreset:
		status, err = b.surface.ApplyOperationalPreset(ctx, id, cmd.Payload)

	case CmdReboot:
		status, err = b.surface.Reboot(ctx, id)

	case CmdPause:
		status, err = b.surface.Pause(ctx, id)

	case CmdResume:
		status, err = b.surface.Resume(ctx, id)

	case CmdBoard:
		on, perr := ParseSwitch(cmd.Payload)
		if perr != nil {
			return perr
		}
		status, err = b.surface.SetBoardEnabled(ctx, id, cmd.Board, on)

	case CmdAutoPower, CmdTempProtection:
		on, perr := ParseSwitch(cmd.Payload)
		if perr != nil {
			return perr
		}
		if cmd.Command == CmdAutoPower {
			err = b.surface.SetAutoPowerManagement(id, on)
		} else {
			err = b.surface.SetTempProtection(id, on)
		}

	default:
		return fmt.Errorf("unknown command %q", cmd.Command)
	}

	if status != nil {
		b.publishJSON(b.topics.DeviceStatus(id), status, true)
	}
	b.publishState(id)
	return err
}

// PublishCycle publishes a cycle result. Register it with
// Coordinator.OnCycle.
func (b *Bridge) PublishCycle(cycle control.CycleResult) {
	b.publishJSON(b.topics.Cycle(), cycle, false)
	for _, d := range cycle.Devices {
		if d.Status != nil {
			b.publishJSON(b.topics.DeviceStatus(d.DeviceID), d.Status, true)
		}
		b.publishJSON(b.topics.DeviceResult(d.DeviceID), d, true)
		b.publishState(d.DeviceID)
	}
}

func (b *Bridge) publishStates() {
	for _, id := range b.surface.Devices() {
		b.publishState(id)
	}
}

// publishState publishes the operator control state of one device.
func (b *Bridge) publishState(id string) {
	view, err := b.surface.DeviceState(id)
	if err != nil {
		return
	}
	view.LastResult = nil
	b.publishJSON(b.topics.DeviceState(id), view, true)
}

func (b *Bridge) publishJSON(topic string, v any, retain bool) {
	payload, err := json.Marshal(v)
	if err != nil {
		logging.Error("Failed to encode MQTT payload", zap.String("topic", topic), zap.Error(err))
		return
	}
	b.publish(topic, payload, retain)
}

func (b *Bridge) publish(topic string, payload any, retain bool) {
	if b.pub == nil {
		return
	}
	token := b.pub.Publish(topic, 0, retain, payload)
	go func() {
		if !token.WaitTimeout(b.PublishTimeout) {
			logging.Warn("MQTT publish timed out", zap.String("topic", topic))
			return
		}
		if err := token.Error(); err != nil {
			logging.Warn("MQTT publish failed", zap.String("topic", topic), zap.Error(err))
		}
	}()
}
