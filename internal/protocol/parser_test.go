package protocol

import (
	"errors"
	"testing"
)

const summaryReply = `{"STATUS":[{"STATUS":"S","When":1718000000,"Code":11,"Msg":"Summary","Description":"LUXminer 2024.6.1"}],` +
	`"SUMMARY":[{"Elapsed":3600,"MHS 5s":110500000.5,"MHS 1m":"108000000","MHS 15m":107000000,"Accepted":42,"Status":"Alive"}],"id":1}`

const statsReply = `{"STATUS":[{"STATUS":"S","Msg":"CGMiner stats"}],"STATS":[` +
	`{"Elapsed":7200,"Type":"Antminer S21"},` +
	`{"Power":3510,"temp_avg":61.5,"temp_max":68,"fan1":4200,"fan2":4300,"fan10":0,"fan_num":2,"voltage":13.2}]}`

const devsReply = `{"STATUS":[{"STATUS":"S"}],"DEVS":[` +
	`{"ASC":0,"Name":"BTM","ID":0,"Enabled":"Y","Status":"Alive","Temperature":64.0,"Frequency":575},` +
	`{"ASC":1,"Name":"BTM","ID":1,"Enabled":"Y","Status":"Alive","Temperature":66.5},` +
	`{"ASC":2,"Name":"BTM","ID":2,"Enabled":"N","Status":"Dead","Temperature":30.0}]}`

func TestDecodeResponse(t *testing.T) {
	tests := []struct {
		name          string
		data          string
		wantErr       bool
		wantCode      string
		wantRejection string
		wantSession   string
	}{
		{
			name:     "summary reply",
			data:     summaryReply,
			wantCode: StatusSuccess,
		},
		{
			name:     "trailing nul and whitespace",
			data:     summaryReply + "\n\x00\x00",
			wantCode: StatusSuccess,
		},
		{
			name:          "error status",
			data:          `{"STATUS":[{"STATUS":"E","Code":14,"Msg":"Invalid command"}]}`,
			wantCode:      StatusError,
			wantRejection: "Invalid command",
		},
		{
			name:          "error key",
			data:          `{"error":"board already enabled"}`,
			wantRejection: "board already enabled",
		},
		{
			name:        "logon with session",
			data:        `{"session_id":"d41d8cd9"}`,
			wantSession: "d41d8cd9",
		},
		{
			name:        "numeric session",
			data:        `{"session_id":1234}`,
			wantSession: "1234",
		},
		{
			name:     "bare status code",
			data:     `{"STATUS":"S"}`,
			wantCode: StatusSuccess,
		},
		{name: "empty", data: "", wantErr: true},
		{name: "not json", data: "<html>404</html>", wantErr: true},
		{name: "array", data: `[1,2,3]`, wantErr: true},
		{name: "empty object", data: `{}`, wantErr: true},
		{name: "null", data: `null`, wantErr: true},
		{name: "status wrong type", data: `{"STATUS":42}`, wantErr: true},
		{name: "truncated", data: `{"STATUS":[{"STATUS":"S"`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := DecodeResponse([]byte(tt.data))
			if tt.wantErr {
				if !errors.Is(err, ErrMalformed) {
					t.Fatalf("DecodeResponse() error = %v, want ErrMalformed", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeResponse() error = %v", err)
			}
			if got := resp.Code(); got != tt.wantCode {
				t.Errorf("Code() = %q, want %q", got, tt.wantCode)
			}
			if got := resp.Rejection(); got != tt.wantRejection {
				t.Errorf("Rejection() = %q, want %q", got, tt.wantRejection)
			}
			if resp.SessionID != tt.wantSession {
				t.Errorf("SessionID = %q, want %q", resp.SessionID, tt.wantSession)
			}
			if resp.Succeeded() != (tt.wantRejection == "") {
				t.Errorf("Succeeded() = %v with rejection %q", resp.Succeeded(), tt.wantRejection)
			}
		})
	}
}

func mustDecode(t *testing.T, data string) *Response {
	t.Helper()
	resp, err := DecodeResponse([]byte(data))
	if err != nil {
		t.Fatalf("DecodeResponse() error = %v", err)
	}
	return resp
}

func TestParseSummary(t *testing.T) {
	s, err := ParseSummary(mustDecode(t, summaryReply))
	if err != nil {
		t.Fatalf("ParseSummary() error = %v", err)
	}
	if s.MHS5s != 110500000.5 {
		t.Errorf("MHS5s = %v, want 110500000.5", s.MHS5s)
	}
	if s.MHS1m != 108000000 {
		t.Errorf("MHS1m = %v, want 108000000 (string encoded)", s.MHS1m)
	}
	if s.MHS15m != 107000000 {
		t.Errorf("MHS15m = %v, want 107000000", s.MHS15m)
	}
	if s.Elapsed != 3600 {
		t.Errorf("Elapsed = %v, want 3600", s.Elapsed)
	}
	if s.Status != "Alive" {
		t.Errorf("Status = %q, want Alive", s.Status)
	}

	if _, err := ParseSummary(mustDecode(t, `{"STATUS":[{"STATUS":"S"}]}`)); !errors.Is(err, ErrMalformed) {
		t.Errorf("ParseSummary(missing) error = %v, want ErrMalformed", err)
	}
	if _, err := ParseSummary(mustDecode(t, `{"SUMMARY":{"Elapsed":1}}`)); !errors.Is(err, ErrMalformed) {
		t.Errorf("ParseSummary(object) error = %v, want ErrMalformed", err)
	}
}

func TestParseStats(t *testing.T) {
	s, err := ParseStats(mustDecode(t, statsReply))
	if err != nil {
		t.Fatalf("ParseStats() error = %v", err)
	}
	if s.Type != "Antminer S21" {
		t.Errorf("Type = %q", s.Type)
	}
	if s.Elapsed != 7200 {
		t.Errorf("Elapsed = %v, want 7200", s.Elapsed)
	}
	if s.PowerW != 3510 {
		t.Errorf("PowerW = %v, want 3510", s.PowerW)
	}
	if s.TempMax != 68 || s.TempAvg != 61.5 {
		t.Errorf("temps = %v/%v, want 61.5/68", s.TempAvg, s.TempMax)
	}
	want := []float64{4200, 4300, 0}
	if len(s.Fans) != len(want) {
		t.Fatalf("Fans = %v, want %v", s.Fans, want)
	}
	for i := range want {
		if s.Fans[i] != want[i] {
			t.Errorf("Fans[%d] = %v, want %v", i, s.Fans[i], want[i])
		}
	}
}

func TestParseDevs(t *testing.T) {
	devs, err := ParseDevs(mustDecode(t, devsReply))
	if err != nil {
		t.Fatalf("ParseDevs() error = %v", err)
	}
	if len(devs) != 3 {
		t.Fatalf("len(devs) = %d, want 3", len(devs))
	}

	tests := []struct {
		idx     int
		id      int
		enabled bool
		temp    float64
	}{
		{0, 0, true, 64},
		{1, 1, true, 66.5},
		{2, 2, false, 30},
	}
	for _, tt := range tests {
		d := devs[tt.idx]
		if d.ID != tt.id || d.Enabled != tt.enabled || d.Temperature != tt.temp {
			t.Errorf("devs[%d] = %+v, want id=%d enabled=%v temp=%v", tt.idx, d, tt.id, tt.enabled, tt.temp)
		}
	}
	if devs[0].FrequencyMHz != 575 {
		t.Errorf("devs[0].FrequencyMHz = %v, want 575", devs[0].FrequencyMHz)
	}
}

func TestParsePools(t *testing.T) {
	resp := mustDecode(t, `{"POOLS":[{"POOL":0,"URL":"stratum+tcp://pool.example:3333","User":"worker.1","Status":"Alive","Priority":0,"Stratum Active":true},`+
		`{"POOL":1,"URL":"stratum+tcp://backup.example:3333","Status":"Alive","Stratum Active":false}]}`)

	pools, err := ParsePools(resp)
	if err != nil {
		t.Fatalf("ParsePools() error = %v", err)
	}
	if len(pools) != 2 {
		t.Fatalf("len(pools) = %d, want 2", len(pools))
	}
	if !pools[0].StratumActive || pools[1].StratumActive {
		t.Errorf("StratumActive = %v/%v, want true/false", pools[0].StratumActive, pools[1].StratumActive)
	}
	if pools[0].User != "worker.1" {
		t.Errorf("User = %q", pools[0].User)
	}
}

func TestParseProfileAndFrequency(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"lower case key", `{"profile":"-2"}`, "-2"},
		{"numeric profile", `{"profile":0}`, "0"},
		{"section form", `{"STATUS":[{"STATUS":"S"}],"PROFILE":[{"Profile":"+2"}]}`, "+2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseProfile(mustDecode(t, tt.data))
			if err != nil {
				t.Fatalf("ParseProfile() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseProfile() = %q, want %q", got, tt.want)
			}
		})
	}

	freq, err := ParseFrequency(mustDecode(t, `{"frequency":600}`))
	if err != nil || freq != 600 {
		t.Errorf("ParseFrequency() = %v, %v, want 600", freq, err)
	}
	freq, err = ParseFrequency(mustDecode(t, `{"FREQUENCY":[{"Frequency":"525"}]}`))
	if err != nil || freq != 525 {
		t.Errorf("ParseFrequency(section) = %v, %v, want 525", freq, err)
	}
	if _, err := ParseFrequency(mustDecode(t, `{"frequency":{"x":1}}`)); !errors.Is(err, ErrMalformed) {
		t.Errorf("ParseFrequency(object) error = %v, want ErrMalformed", err)
	}
}

func TestParseVersion(t *testing.T) {
	v, err := ParseVersion(mustDecode(t, `{"VERSION":[{"LUXminer":"2024.6.1","API":"3.7","Type":"Antminer S21"}]}`))
	if err != nil {
		t.Fatalf("ParseVersion() error = %v", err)
	}
	if v.Miner != "2024.6.1" || v.API != "3.7" || v.Type != "Antminer S21" {
		t.Errorf("ParseVersion() = %+v", v)
	}
}
