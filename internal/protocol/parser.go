package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Fields is a loosely typed section entry. Firmwares disagree on whether
// numbers are sent as numbers or strings, so accessors accept both.
type Fields map[string]any

// Float returns the numeric value of the first key present.
func (f Fields) Float(keys ...string) (float64, bool) {
	for _, key := range keys {
		v, ok := f[key]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case json.Number:
			if x, err := n.Float64(); err == nil {
				return x, true
			}
		case float64:
			return n, true
		case string:
			if x, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
				return x, true
			}
		case bool:
			if n {
				return 1, true
			}
			return 0, true
		}
	}
	return 0, false
}

// Int returns the integer value of the first key present.
func (f Fields) Int(keys ...string) (int64, bool) {
	x, ok := f.Float(keys...)
	return int64(x), ok
}

// String returns the string value of the first key present.
func (f Fields) String(keys ...string) string {
	for _, key := range keys {
		v, ok := f[key]
		if !ok {
			continue
		}
		switch s := v.(type) {
		case string:
			return s
		case json.Number:
			return s.String()
		case bool:
			return strconv.FormatBool(s)
		}
	}
	return ""
}

// NumberedFloats collects keys of the form prefix+N (fan1, fan2, ...) ordered
// by N. Zero values are kept, missing numbers are skipped.
func (f Fields) NumberedFloats(prefix string) []float64 {
	type pair struct {
		n int
		v float64
	}
	var pairs []pair
	for key := range f {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(key, prefix))
		if err != nil {
			continue
		}
		if v, ok := f.Float(key); ok {
			pairs = append(pairs, pair{n, v})
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].n < pairs[j].n })

	out := make([]float64, len(pairs))
	for i, p := range pairs {
		out[i] = p.v
	}
	return out
}

// Entries decodes a section that holds a list of objects.
func (r *Response) Entries(name string) ([]Fields, error) {
	raw, ok := r.sections[name]
	if !ok {
		return nil, fmt.Errorf("%w: missing %s section", ErrMalformed, name)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var entries []Fields
	if err := dec.Decode(&entries); err != nil {
		return nil, fmt.Errorf("%w: %s section: %v", ErrMalformed, name, err)
	}
	return entries, nil
}

// Summary is the first SUMMARY entry. Hashrates are in MH/s as reported.
type Summary struct {
	MHS5s          float64
	MHS1m          float64
	MHS15m         float64
	MHSAv          float64
	Elapsed        int64
	Accepted       int64
	Rejected       int64
	HardwareErrors int64
	Status         string
}

// ParseSummary extracts the SUMMARY section.
func ParseSummary(resp *Response) (*Summary, error) {
	entries, err := resp.Entries("SUMMARY")
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: empty SUMMARY section", ErrMalformed)
	}
	e := entries[0]

	s := &Summary{Status: e.String("Status", "status")}
	s.MHS5s, _ = e.Float("MHS 5s", "MHS5s")
	s.MHS1m, _ = e.Float("MHS 1m", "MHS1m")
	s.MHS15m, _ = e.Float("MHS 15m", "MHS15m")
	s.MHSAv, _ = e.Float("MHS av", "MHSav")
	s.Elapsed, _ = e.Int("Elapsed")
	s.Accepted, _ = e.Int("Accepted")
	s.Rejected, _ = e.Int("Rejected")
	s.HardwareErrors, _ = e.Int("Hardware Errors")
	return s, nil
}

// Stats holds the miner-level values of the STATS section.
type Stats struct {
	Type    string
	Elapsed int64
	PowerW  float64
	TempAvg float64
	TempMax float64
	Voltage float64
	Fans    []float64
}

// ParseStats extracts the STATS section. Antminer firmwares put the firmware
// description in STATS[0] and the hardware values in STATS[1].
func ParseStats(resp *Response) (*Stats, error) {
	entries, err := resp.Entries("STATS")
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: empty STATS section", ErrMalformed)
	}

	head := entries[0]
	detail := head
	if len(entries) > 1 {
		detail = entries[1]
	}

	s := &Stats{Type: head.String("Type", "Miner")}
	if e, ok := head.Int("Elapsed"); ok {
		s.Elapsed = e
	} else {
		s.Elapsed, _ = detail.Int("Elapsed")
	}
	s.PowerW, _ = detail.Float("Power", "power", "chain_power")
	s.TempAvg, _ = detail.Float("temp_avg", "Temp Avg")
	s.TempMax, _ = detail.Float("temp_max", "Temp Max")
	s.Voltage, _ = detail.Float("voltage", "Voltage")
	s.Fans = detail.NumberedFloats("fan")
	return s, nil
}

// Dev is one DEVS entry, which maps to a hashboard.
type Dev struct {
	ID           int
	Name         string
	Status       string
	Enabled      bool
	Temperature  float64
	FrequencyMHz float64
	Voltage      float64
	MHS5s        float64
}

// ParseDevs extracts the DEVS section. A board is enabled when its status
// reports "alive" and it is not explicitly flagged Enabled=N.
func ParseDevs(resp *Response) ([]Dev, error) {
	entries, err := resp.Entries("DEVS")
	if err != nil {
		return nil, err
	}

	devs := make([]Dev, 0, len(entries))
	for i, e := range entries {
		d := Dev{
			ID:     i,
			Name:   e.String("Name"),
			Status: e.String("Status"),
		}
		if id, ok := e.Int("ID", "ASC", "Board"); ok {
			d.ID = int(id)
		}
		d.Enabled = strings.Contains(strings.ToLower(d.Status), "alive")
		if strings.EqualFold(e.String("Enabled"), "N") {
			d.Enabled = false
		}
		d.Temperature, _ = e.Float("Temperature", "temp")
		d.FrequencyMHz, _ = e.Float("Frequency", "frequency", "freq_avg")
		d.Voltage, _ = e.Float("Voltage", "voltage")
		d.MHS5s, _ = e.Float("MHS 5s")
		devs = append(devs, d)
	}
	return devs, nil
}

// Pool is one POOLS entry.
type Pool struct {
	ID            int
	URL           string
	User          string
	Status        string
	Priority      int
	StratumActive bool
}

// ParsePools extracts the POOLS section.
func ParsePools(resp *Response) ([]Pool, error) {
	entries, err := resp.Entries("POOLS")
	if err != nil {
		return nil, err
	}

	pools := make([]Pool, 0, len(entries))
	for i, e := range entries {
		p := Pool{
			ID:     i,
			URL:    e.String("URL"),
			User:   e.String("User"),
			Status: e.String("Status"),
		}
		if id, ok := e.Int("POOL"); ok {
			p.ID = int(id)
		}
		if prio, ok := e.Int("Priority"); ok {
			p.Priority = int(prio)
		}
		if active, ok := e.Float("Stratum Active"); ok {
			p.StratumActive = active != 0
		}
		pools = append(pools, p)
	}
	return pools, nil
}

// Version is the first VERSION entry.
type Version struct {
	Miner  string
	API    string
	Type   string
	Fields Fields
}

// ParseVersion extracts the VERSION section.
func ParseVersion(resp *Response) (*Version, error) {
	entries, err := resp.Entries("VERSION")
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: empty VERSION section", ErrMalformed)
	}
	e := entries[0]
	return &Version{
		Miner:  e.String("LUXminer", "BMMiner", "CGMiner", "Miner"),
		API:    e.String("API"),
		Type:   e.String("Type"),
		Fields: e,
	}, nil
}

// ParseProfile extracts the active power profile string ("+2", "0", "-2").
// Both {"profile":"0"} and {"PROFILE":[{"Profile":"0"}]} are accepted.
func ParseProfile(resp *Response) (string, error) {
	if resp.Has("profile") {
		var f Fields
		if err := resp.decodeFields(&f); err != nil {
			return "", err
		}
		if s := f.String("profile"); s != "" {
			return s, nil
		}
		return "", fmt.Errorf("%w: profile is not a scalar", ErrMalformed)
	}

	entries, err := resp.Entries("PROFILE")
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", fmt.Errorf("%w: empty PROFILE section", ErrMalformed)
	}
	if s := entries[0].String("Profile", "profile"); s != "" {
		return s, nil
	}
	return "", fmt.Errorf("%w: PROFILE entry has no profile", ErrMalformed)
}

// ParseFrequency extracts the chip frequency in MHz. Both {"frequency":600}
// and {"FREQUENCY":[{"Frequency":600}]} are accepted.
func ParseFrequency(resp *Response) (float64, error) {
	if resp.Has("frequency") {
		var f Fields
		if err := resp.decodeFields(&f); err != nil {
			return 0, err
		}
		if v, ok := f.Float("frequency"); ok {
			return v, nil
		}
		return 0, fmt.Errorf("%w: frequency is not a number", ErrMalformed)
	}

	entries, err := resp.Entries("FREQUENCY")
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, fmt.Errorf("%w: empty FREQUENCY section", ErrMalformed)
	}
	if v, ok := entries[0].Float("Frequency", "frequency"); ok {
		return v, nil
	}
	return 0, fmt.Errorf("%w: FREQUENCY entry has no frequency", ErrMalformed)
}

func (r *Response) decodeFields(f *Fields) error {
	dec := json.NewDecoder(bytes.NewReader(r.Raw))
	dec.UseNumber()
	if err := dec.Decode(f); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}
