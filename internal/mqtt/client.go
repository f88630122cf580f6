package mqtt

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/muurk/solminer/internal/config"
)

const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
	PayloadOn      = "on"
	PayloadOff     = "off"
)

// Device commands accepted on <base>/<device>/<command>/set.
const (
	CmdProfile        = "profile"
	CmdFrequency      = "frequency"
	CmdSolar          = "solar"
	CmdPreset         = "preset"
	CmdReboot         = "reboot"
	CmdPause          = "pause"
	CmdResume         = "resume"
	CmdAutoPower      = "auto_power"
	CmdTempProtection = "temp_protection"

	// CmdBoard arrives on <base>/<device>/board/<id>/set
	CmdBoard = "board"

	// CmdEmergencyStop arrives on <base>/emergency_stop/set
	CmdEmergencyStop = "emergency_stop"
)

// OptsFromConfig builds paho client options with a retained offline will
// on the bridge state topic.
func OptsFromConfig(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port))

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("solminer_%d", rand.IntN(1000))
	}
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.WillEnabled = true
	opts.WillPayload = []byte(PayloadOffline)
	opts.WillRetained = true
	opts.WillTopic = NewTopics(cfg.BaseTopic).BridgeState()
	opts.WillQos = 0

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	// device commands block on I/O, don't stall the router
	opts.SetOrderMatters(false)
	return opts
}

// Topics builds and parses topic names under one base topic.
type Topics struct {
	base              string
	deviceCommandExpr *regexp.Regexp
	boardCommandExpr  *regexp.Regexp
	emergencyTopic    string
}

func NewTopics(baseTopic string) Topics {
	base := regexp.QuoteMeta(baseTopic)
	return Topics{
		base:              baseTopic,
		deviceCommandExpr: regexp.MustCompile(fmt.Sprintf(`^%s/([a-zA-Z0-9_.-]+)/([a-z_]+)/set$`, base)),
		boardCommandExpr:  regexp.MustCompile(fmt.Sprintf(`^%s/([a-zA-Z0-9_.-]+)/board/([0-9]+)/set$`, base)),
		emergencyTopic:    baseTopic + "/" + CmdEmergencyStop + "/set",
	}
}

func (t Topics) Base() string { return t.base }

func (t Topics) BridgeState() string { return t.base + "/bridge/state" }

// Cycle carries every cycle result.
func (t Topics) Cycle() string { return t.base + "/cycle" }

func (t Topics) DeviceStatus(id string) string { return fmt.Sprintf("%s/%s/status", t.base, id) }

func (t Topics) DeviceResult(id string) string { return fmt.Sprintf("%s/%s/result", t.base, id) }

func (t Topics) DeviceState(id string) string { return fmt.Sprintf("%s/%s/state", t.base, id) }

func (t Topics) DeviceCommand(id, cmd string) string {
	return fmt.Sprintf("%s/%s/%s/set", t.base, id, cmd)
}

func (t Topics) BoardCommand(id string, board int) string {
	return fmt.Sprintf("%s/%s/board/%d/set", t.base, id, board)
}

func (t Topics) EmergencyStop() string { return t.emergencyTopic }

// CommandFilters are the subscriptions needed to receive every command.
func (t Topics) CommandFilters() map[string]byte {
	return map[string]byte{
		t.base + "/+/+/set":       1,
		t.base + "/+/board/+/set": 1,
		t.emergencyTopic:          1,
	}
}

// ParsedCommand is a command received over MQTT.
type ParsedCommand struct {
	DeviceID string
	Command  string
	Board    int
	Payload  string
}

var deviceCommands = map[string]bool{
	CmdProfile:        true,
	CmdFrequency:      true,
	CmdSolar:          true,
	CmdPreset:         true,
	CmdReboot:         true,
	CmdPause:          true,
	CmdResume:         true,
	CmdAutoPower:      true,
	CmdTempProtection: true,
}

var errNotCommand = errors.New("not a command topic")

// Parse maps a topic and payload to a command.
func (t Topics) Parse(topic string, payload []byte) (*ParsedCommand, error) {
	body := strings.TrimSpace(string(payload))

	if topic == t.emergencyTopic {
		return &ParsedCommand{Command: CmdEmergencyStop, Payload: body}, nil
	}

	if m := t.boardCommandExpr.FindStringSubmatch(topic); m != nil {
		board, err := strconv.Atoi(m[2])
		if err != nil {
			return nil, fmt.Errorf("invalid board id %q: %w", m[2], err)
		}
		return &ParsedCommand{DeviceID: m[1], Command: CmdBoard, Board: board, Payload: body}, nil
	}

	if m := t.deviceCommandExpr.FindStringSubmatch(topic); m != nil {
		if !deviceCommands[m[2]] {
			return nil, fmt.Errorf("unknown command %q", m[2])
		}
		return &ParsedCommand{DeviceID: m[1], Command: m[2], Payload: body}, nil
	}

	return nil, errNotCommand
}

// ParseSwitch accepts on/off style payloads.
func ParseSwitch(payload string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(payload)) {
	case PayloadOn, "true", "1", "enable", "enabled":
		return true, nil
	case PayloadOff, "false", "0", "disable", "disabled":
		return false, nil
	}
	return false, fmt.Errorf("invalid switch payload %q", payload)
}
