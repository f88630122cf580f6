package control

import (
	"context"
	"fmt"
	"sort"

	"github.com/muurk/solminer/internal/miner"
)

// CommandKind enumerates the commands a plan can contain.
type CommandKind int

const (
	CmdDisableBoard CommandKind = iota
	CmdSetProfile
	CmdEnableBoard
	CmdSetFrequency
)

// Command is one step towards a desired state.
type Command struct {
	Kind    CommandKind
	Board   int
	Profile miner.PowerProfile
	MHz     int
}

func (c Command) String() string {
	switch c.Kind {
	case CmdDisableBoard:
		return fmt.Sprintf("disableboard %d", c.Board)
	case CmdEnableBoard:
		return fmt.Sprintf("enableboard %d", c.Board)
	case CmdSetProfile:
		return "profileset " + c.Profile.Encode()
	case CmdSetFrequency:
		return fmt.Sprintf("frequencyset %d", c.MHz)
	default:
		return "unknown"
	}
}

// Plan diffs desired against status and returns only the commands whose
// effect is not already in place. Boards are disabled before the profile
// changes and enabled after it, so draw never spikes mid-plan.
func Plan(desired DesiredState, status *miner.DeviceStatus) []Command {
	var disable, enable []int
	for id, on := range desired.BoardsEnabled {
		b, known := status.Board(id)
		if known && b.Enabled == on {
			continue
		}
		if on {
			enable = append(enable, id)
		} else {
			disable = append(disable, id)
		}
	}
	sort.Ints(disable)
	sort.Ints(enable)

	var cmds []Command
	for _, id := range disable {
		cmds = append(cmds, Command{Kind: CmdDisableBoard, Board: id})
	}
	if !status.ProfileKnown || status.Profile != desired.Profile {
		cmds = append(cmds, Command{Kind: CmdSetProfile, Profile: desired.Profile})
	}
	for _, id := range enable {
		cmds = append(cmds, Command{Kind: CmdEnableBoard, Board: id})
	}
	if desired.FrequencyMHz > 0 && int(status.FrequencyMHz) != desired.FrequencyMHz {
		cmds = append(cmds, Command{Kind: CmdSetFrequency, MHz: desired.FrequencyMHz})
	}
	return cmds
}

// execute runs one command. issued is false when the device was already in
// the requested state.
func execute(ctx context.Context, dev Device, cmd Command) (issued bool, err error) {
	switch cmd.Kind {
	case CmdDisableBoard:
		return dev.SetBoardEnabled(ctx, cmd.Board, false)
	case CmdEnableBoard:
		return dev.SetBoardEnabled(ctx, cmd.Board, true)
	case CmdSetProfile:
		return true, dev.SetPowerProfile(ctx, cmd.Profile)
	case CmdSetFrequency:
		return true, dev.SetFrequency(ctx, cmd.MHz)
	default:
		return false, fmt.Errorf("unknown command kind %d", cmd.Kind)
	}
}
