package miner

import (
	"strings"
	"time"

	"github.com/muurk/solminer/internal/protocol"
)

// Hashrate samples in TH/s.
type Hashrate struct {
	FiveSec    float64 `json:"5s"`
	OneMin     float64 `json:"1m"`
	FifteenMin float64 `json:"15m"`
}

// Board is one hashboard as reported by devs.
type Board struct {
	ID           int     `json:"id"`
	Enabled      bool    `json:"enabled"`
	Temperature  float64 `json:"temperature_c"`
	FrequencyMHz float64 `json:"frequency_mhz"`
	Voltage      float64 `json:"voltage"`
	Status       string  `json:"status"`
}

// DeviceStatus is a point-in-time view of one miner.
type DeviceStatus struct {
	DeviceID     string            `json:"device_id"`
	Protocol     string            `json:"protocol"`
	Model        string            `json:"model,omitempty"`
	Hashrate     Hashrate          `json:"hashrate_ths"`
	PowerW       float64           `json:"power_w"`
	Boards       []Board           `json:"boards"`
	Uptime       time.Duration     `json:"uptime"`
	Pool         string            `json:"pool,omitempty"`
	Pools        []protocol.Pool   `json:"pools,omitempty"`
	Profile      PowerProfile      `json:"profile"`
	ProfileKnown bool              `json:"profile_known"`
	FrequencyMHz float64           `json:"frequency_mhz,omitempty"`
	TempAvg      float64           `json:"temp_avg_c,omitempty"`
	TempMax      float64           `json:"temp_max_c,omitempty"`
	Fans         []float64         `json:"fans_rpm,omitempty"`
	Healthy      bool              `json:"healthy"`
	FetchedAt    time.Time         `json:"fetched_at"`
	Stale        bool              `json:"stale"`
	Errors       map[string]string `json:"errors,omitempty"`
}

// Board returns the board with the given id.
func (s *DeviceStatus) Board(id int) (Board, bool) {
	for _, b := range s.Boards {
		if b.ID == id {
			return b, true
		}
	}
	return Board{}, false
}

// EnabledBoards counts boards that are hashing.
func (s *DeviceStatus) EnabledBoards() int {
	n := 0
	for _, b := range s.Boards {
		if b.Enabled {
			n++
		}
	}
	return n
}

// MaxBoardTemp returns the hottest board temperature, falling back to the
// miner-level maximum when devs carried no temperatures.
func (s *DeviceStatus) MaxBoardTemp() float64 {
	hottest := 0.0
	for _, b := range s.Boards {
		if b.Temperature > hottest {
			hottest = b.Temperature
		}
	}
	if hottest == 0 {
		return s.TempMax
	}
	return hottest
}

// EfficiencyWPerTH returns power over the 5s hashrate, or 0 when not hashing.
func (s *DeviceStatus) EfficiencyWPerTH() float64 {
	if s.Hashrate.FiveSec <= 0 {
		return 0
	}
	return s.PowerW / s.Hashrate.FiveSec
}

// Clone returns a deep copy.
func (s *DeviceStatus) Clone() *DeviceStatus {
	if s == nil {
		return nil
	}
	c := *s
	c.Boards = append([]Board(nil), s.Boards...)
	c.Pools = append([]protocol.Pool(nil), s.Pools...)
	c.Fans = append([]float64(nil), s.Fans...)
	if s.Errors != nil {
		c.Errors = make(map[string]string, len(s.Errors))
		for k, v := range s.Errors {
			c.Errors[k] = v
		}
	}
	return &c
}

const mhsPerTHS = 1e6

func (s *DeviceStatus) applySummary(sum *protocol.Summary) {
	s.Hashrate = Hashrate{
		FiveSec:    sum.MHS5s / mhsPerTHS,
		OneMin:     sum.MHS1m / mhsPerTHS,
		FifteenMin: sum.MHS15m / mhsPerTHS,
	}
	if sum.Elapsed > 0 {
		s.Uptime = time.Duration(sum.Elapsed) * time.Second
	}
}

func (s *DeviceStatus) applyStats(st *protocol.Stats) {
	s.Model = st.Type
	s.PowerW = st.PowerW
	s.TempAvg = st.TempAvg
	s.TempMax = st.TempMax
	s.Fans = st.Fans
	if s.Uptime == 0 && st.Elapsed > 0 {
		s.Uptime = time.Duration(st.Elapsed) * time.Second
	}
}

func (s *DeviceStatus) applyDevs(devs []protocol.Dev) {
	s.Boards = make([]Board, 0, len(devs))
	for _, d := range devs {
		s.Boards = append(s.Boards, Board{
			ID:           d.ID,
			Enabled:      d.Enabled,
			Temperature:  d.Temperature,
			FrequencyMHz: d.FrequencyMHz,
			Voltage:      d.Voltage,
			Status:       d.Status,
		})
	}
}

func (s *DeviceStatus) applyPools(pools []protocol.Pool) {
	s.Pools = pools
	for _, p := range pools {
		if p.StratumActive {
			s.Pool = p.URL
			return
		}
	}
	for _, p := range pools {
		if strings.EqualFold(p.Status, "alive") {
			s.Pool = p.URL
			return
		}
	}
}

// finish derives health once every section has been applied.
func (s *DeviceStatus) finish(summaryStatus string) {
	alive := summaryStatus == "" || strings.EqualFold(summaryStatus, "alive")
	if len(s.Boards) == 0 {
		s.Healthy = alive && s.Hashrate.FiveSec > 0
		return
	}
	s.Healthy = alive && s.EnabledBoards() > 0
}
