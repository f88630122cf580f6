package control

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/muurk/solminer/internal/miner"
)

func names(cmds []Command) []string {
	out := make([]string, len(cmds))
	for i, c := range cmds {
		out[i] = c.String()
	}
	return out
}

func TestPlan_NothingToDo(t *testing.T) {
	st := threeBoards(true, false, true)
	st.FrequencyMHz = 600
	desired := DesiredState{
		Profile:       miner.Balanced,
		BoardsEnabled: map[int]bool{0: true, 1: false, 2: true},
		FrequencyMHz:  600,
	}
	assert.Empty(t, Plan(desired, st))
}

func TestPlan_Ordering(t *testing.T) {
	st := threeBoards(true, false, true)
	desired := DesiredState{
		Profile:       miner.MaxPower,
		BoardsEnabled: map[int]bool{0: false, 1: true, 2: false},
		FrequencyMHz:  650,
	}
	assert.Equal(t, []string{
		"disableboard 0",
		"disableboard 2",
		"profileset +2",
		"enableboard 1",
		"frequencyset 650",
	}, names(Plan(desired, st)))
}

func TestPlan_UnknownProfileIsSet(t *testing.T) {
	st := threeBoards()
	st.ProfileKnown = false
	assert.Equal(t, []string{"profileset 0"}, names(Plan(DesiredState{Profile: miner.Balanced}, st)))
}

func TestPlan_UnreportedBoardIsCommanded(t *testing.T) {
	st := threeBoards()
	desired := DesiredState{Profile: miner.Balanced, BoardsEnabled: map[int]bool{3: false}}
	assert.Equal(t, []string{"disableboard 3"}, names(Plan(desired, st)))
}
