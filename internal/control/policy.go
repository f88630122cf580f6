package control

import (
	"fmt"
	"sort"

	"github.com/muurk/solminer/internal/miner"
)

// DesiredState is what one device should converge to. It is recomputed on
// every evaluation and never persisted.
type DesiredState struct {
	Profile miner.PowerProfile `json:"profile"`
	// BoardsEnabled is nil when boards are left as they are.
	BoardsEnabled map[int]bool `json:"boards_enabled,omitempty"`
	// FrequencyMHz of 0 leaves the frequency unchanged.
	FrequencyMHz int     `json:"frequency_mhz,omitempty"`
	EstimatedW   float64 `json:"estimated_w"`
	Reason       string  `json:"reason"`
}

// EnabledCount returns how many boards the state enables.
func (d DesiredState) EnabledCount() int {
	n := 0
	for _, on := range d.BoardsEnabled {
		if on {
			n++
		}
	}
	return n
}

// PolicyInput is everything a policy may look at.
type PolicyInput struct {
	AvailableW   float64
	ToleranceW   float64
	RatedPowerW  float64
	Boards       []miner.Board
	BoardCount   int
	MinBoards    int
	FrequencyMHz int
	Strategy     Strategy
}

// Policy maps available power to a desired state.
type Policy interface {
	Desired(in PolicyInput) DesiredState
}

// ProfileLadder is the set of profiles the default policy chooses from,
// highest first.
var ProfileLadder = []miner.PowerProfile{miner.MaxPower, miner.Balanced, miner.UltraEco}

// profileDrawStep is the fraction of rated power gained per profile offset.
const profileDrawStep = 0.05

// EstimateDraw estimates the power draw of a miner rated at ratedW running
// profile p with enabled of total boards hashing.
func EstimateDraw(ratedW float64, p miner.PowerProfile, enabled, total int) float64 {
	if total <= 0 {
		return ratedW * (1 + profileDrawStep*float64(p.Offset()))
	}
	return ratedW * (1 + profileDrawStep*float64(p.Offset())) * float64(enabled) / float64(total)
}

// DefaultPolicy picks the highest profile and board count whose estimated
// draw stays within available power plus tolerance. Boards are switched
// off hottest first, the higher id first on equal temperature.
type DefaultPolicy struct{}

var _ Policy = DefaultPolicy{}

func (DefaultPolicy) Desired(in PolicyInput) DesiredState {
	budget := in.AvailableW + in.ToleranceW
	ids := shedOrder(in.Boards, in.BoardCount)
	total := len(ids)
	lowest := ProfileLadder[len(ProfileLadder)-1]

	minBoards := in.MinBoards
	if minBoards < 0 {
		minBoards = 0
	}
	if minBoards > total {
		minBoards = total
	}

	type candidate struct {
		profile miner.PowerProfile
		enabled int
	}
	var order []candidate
	if in.Strategy == StrategyBoardsFirst {
		for _, p := range ProfileLadder {
			for k := total; k >= minBoards; k-- {
				order = append(order, candidate{p, k})
			}
		}
	} else {
		for k := total; k >= minBoards; k-- {
			for _, p := range ProfileLadder {
				order = append(order, candidate{p, k})
			}
		}
	}

	pick := candidate{lowest, minBoards}
	reason := fmt.Sprintf("%.0f W available, nothing fits: minimum configuration", in.AvailableW)
	for _, c := range order {
		if EstimateDraw(in.RatedPowerW, c.profile, c.enabled, total) <= budget {
			pick = c
			reason = fmt.Sprintf("%.0f W available", in.AvailableW)
			break
		}
	}
	if total > 0 && pick.enabled == 0 {
		pick.profile = lowest
	}

	d := DesiredState{
		Profile:      pick.profile,
		FrequencyMHz: in.FrequencyMHz,
		EstimatedW:   EstimateDraw(in.RatedPowerW, pick.profile, pick.enabled, total),
		Reason:       reason,
	}
	if total > 0 {
		d.BoardsEnabled = make(map[int]bool, total)
		for i, id := range ids {
			// ids is in shed order, so the first total-enabled go off
			d.BoardsEnabled[id] = i >= total-pick.enabled
		}
	}
	return d
}

// shedOrder returns board ids in the order they are switched off.
func shedOrder(boards []miner.Board, count int) []int {
	if len(boards) == 0 {
		ids := make([]int, count)
		for i := range ids {
			ids[i] = count - 1 - i
		}
		return ids
	}

	sorted := append([]miner.Board(nil), boards...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Temperature != sorted[j].Temperature {
			return sorted[i].Temperature > sorted[j].Temperature
		}
		return sorted[i].ID > sorted[j].ID
	})
	ids := make([]int, len(sorted))
	for i, b := range sorted {
		ids[i] = b.ID
	}
	return ids
}
