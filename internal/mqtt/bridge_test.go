package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muurk/solminer/internal/control"
	"github.com/muurk/solminer/internal/miner"
)

func newTestBridge() (*Bridge, *fakeSurface, *recordingPublisher) {
	surface := &fakeSurface{}
	pub := &recordingPublisher{}
	return newBridge(NewTopics("solminer"), surface, pub), surface, pub
}

func TestTopics_Parse(t *testing.T) {
	topics := NewTopics("solminer")

	tests := []struct {
		topic   string
		payload string
		want    *ParsedCommand
		wantErr bool
	}{
		{"solminer/garage/profile/set", "max_power", &ParsedCommand{DeviceID: "garage", Command: CmdProfile, Payload: "max_power"}, false},
		{"solminer/192.168.1.41/frequency/set", " 600 ", &ParsedCommand{DeviceID: "192.168.1.41", Command: CmdFrequency, Payload: "600"}, false},
		{"solminer/garage/board/2/set", "off", &ParsedCommand{DeviceID: "garage", Command: CmdBoard, Board: 2, Payload: "off"}, false},
		{"solminer/emergency_stop/set", "", &ParsedCommand{Command: CmdEmergencyStop}, false},
		{"solminer/garage/auto_power/set", "on", &ParsedCommand{DeviceID: "garage", Command: CmdAutoPower, Payload: "on"}, false},
		{"solminer/garage/overclock/set", "1", nil, true},
		{"solminer/garage/status", "{}", nil, true},
		{"solminer/bridge/state", "online", nil, true},
		{"other/garage/profile/set", "0", nil, true},
		{"solminer/garage/board/x/set", "on", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			got, err := topics.Parse(tt.topic, []byte(tt.payload))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTopics_Names(t *testing.T) {
	topics := NewTopics("solminer")
	assert.Equal(t, "solminer/bridge/state", topics.BridgeState())
	assert.Equal(t, "solminer/garage/status", topics.DeviceStatus("garage"))
	assert.Equal(t, "solminer/garage/pause/set", topics.DeviceCommand("garage", CmdPause))
	assert.Equal(t, "solminer/garage/board/1/set", topics.BoardCommand("garage", 1))
	assert.Len(t, topics.CommandFilters(), 3)

	// Every topic we build for commands parses back to the same command
	cmd, err := topics.Parse(topics.BoardCommand("garage", 1), []byte("on"))
	require.NoError(t, err)
	assert.Equal(t, 1, cmd.Board)
}

func TestParseSwitch(t *testing.T) {
	for _, in := range []string{"on", "ON", "true", "1"} {
		v, err := ParseSwitch(in)
		require.NoError(t, err, in)
		assert.True(t, v, in)
	}
	for _, in := range []string{"off", "false", "0"} {
		v, err := ParseSwitch(in)
		require.NoError(t, err, in)
		assert.False(t, v, in)
	}
	_, err := ParseSwitch("maybe")
	assert.Error(t, err)
}

func TestBridge_HandleMessage(t *testing.T) {
	tests := []struct {
		topic   string
		payload string
		want    string
	}{
		{"solminer/garage/profile/set", "max_power", "profile garage +2"},
		{"solminer/garage/frequency/set", "650", "frequency garage 650"},
		{"solminer/garage/solar/set", "1800", "solar garage manual 1800 W"},
		{"solminer/garage/preset/set", "night_30", "preset garage night_30"},
		{"solminer/garage/reboot/set", "", "reboot garage"},
		{"solminer/garage/pause/set", "", "pause garage"},
		{"solminer/garage/resume/set", "", "resume garage"},
		{"solminer/garage/board/1/set", "off", "board garage 1 false"},
		{"solminer/garage/temp_protection/set", "off", "temp_protection garage false"},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			bridge, surface, pub := newTestBridge()
			bridge.handleMessage(nil, fakeMessage{topic: tt.topic, payload: []byte(tt.payload)})

			assert.Equal(t, []string{tt.want}, surface.received())
			_, ok := pub.last(bridge.Topics().DeviceState("garage"))
			assert.True(t, ok, "control state published after a command")
		})
	}
}

func TestBridge_PublishesStatusAfterCommand(t *testing.T) {
	bridge, _, pub := newTestBridge()

	require.NoError(t, bridge.Execute(context.Background(), &ParsedCommand{DeviceID: "garage", Command: CmdPause}))

	msg, ok := pub.last("solminer/garage/status")
	require.True(t, ok)
	assert.True(t, msg.retained)
	var status miner.DeviceStatus
	require.NoError(t, json.Unmarshal([]byte(msg.payload), &status))
	assert.Equal(t, 2100.0, status.PowerW)
}

func TestBridge_CommandErrorStillPublishesStatus(t *testing.T) {
	bridge, surface, pub := newTestBridge()
	surface.err = errors.New("device unreachable")

	err := bridge.Execute(context.Background(), &ParsedCommand{DeviceID: "garage", Command: CmdReboot})
	require.Error(t, err)
	_, ok := pub.last("solminer/garage/status")
	assert.True(t, ok)
}

func TestBridge_InvalidPayloadsNeverReachTheDevice(t *testing.T) {
	bridge, surface, _ := newTestBridge()

	for _, msg := range []fakeMessage{
		{topic: "solminer/garage/profile/set", payload: []byte("+9")},
		{topic: "solminer/garage/frequency/set", payload: []byte("fast")},
		{topic: "solminer/garage/board/0/set", payload: []byte("toggle")},
		{topic: "solminer/garage/solar/set", payload: []byte("sunny")},
		{topic: "solminer/garage/status", payload: []byte("{}")},
	} {
		bridge.handleMessage(nil, msg)
	}
	assert.Empty(t, surface.received())
}

func TestBridge_EmergencyStop(t *testing.T) {
	bridge, surface, pub := newTestBridge()

	bridge.handleMessage(nil, fakeMessage{topic: "solminer/emergency_stop/set", payload: []byte("PRESS")})

	assert.Equal(t, []string{"emergency_stop"}, surface.received())
	assert.Empty(t, pub.topics(), "the cycle reaches MQTT through the coordinator listener")
}

func TestBridge_PublishCycle(t *testing.T) {
	bridge, _, pub := newTestBridge()

	bridge.PublishCycle(control.CycleResult{Devices: []control.DeviceResult{
		{DeviceID: "garage", Queried: true, Status: &miner.DeviceStatus{DeviceID: "garage"}},
		{DeviceID: "shed", Skipped: "status unavailable"},
	}})

	assert.Equal(t, []string{
		"solminer/cycle",
		"solminer/garage/status",
		"solminer/garage/result",
		"solminer/garage/state",
		"solminer/shed/result",
	}, pub.topics(), "no status without a reading, no state for unknown devices")

	msg, _ := pub.last("solminer/garage/result")
	assert.True(t, msg.retained)
}
