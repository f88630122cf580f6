package control

import (
	"context"

	"github.com/muurk/solminer/internal/miner"
)

// Device is the per-miner command vocabulary the coordinator drives.
// *miner.DeviceClient implements it; tests substitute scripted fakes.
type Device interface {
	ID() string
	Protocol() miner.Protocol
	GetStatus(ctx context.Context) (*miner.DeviceStatus, error)
	LastStatus() *miner.DeviceStatus

	SetPowerProfile(ctx context.Context, p miner.PowerProfile) error
	SetBoardEnabled(ctx context.Context, boardID int, enabled bool) (issued bool, err error)
	ForceBoardEnabled(ctx context.Context, boardID int, enabled bool) error
	SetFrequency(ctx context.Context, mhz int) error
	Curtail(ctx context.Context, watts int) error
	Throttle(ctx context.Context, fraction float64) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Reboot(ctx context.Context) error

	Close(ctx context.Context) error
}

var _ Device = (*miner.DeviceClient)(nil)
