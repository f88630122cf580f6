package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// STATUS codes reported by the device
const (
	StatusSuccess = "S"
	StatusInfo    = "I"
	StatusWarning = "W"
	StatusError   = "E"
	StatusFatal   = "F"
)

// ErrMalformed marks a reply that is not valid JSON or does not match the
// expected schema.
var ErrMalformed = errors.New("malformed response")

// Request is a single API command.
type Request struct {
	Command   string `json:"command"`
	Parameter string `json:"parameter,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// Status is one entry of the STATUS section.
type Status struct {
	Status      string `json:"STATUS"`
	When        int64  `json:"When"`
	Code        int    `json:"Code"`
	Msg         string `json:"Msg"`
	Description string `json:"Description"`
}

// Response is a decoded reply. Command-specific sections are kept raw and
// decoded on demand with Section or the Parse helpers.
type Response struct {
	Status    []Status
	SessionID string
	Error     string
	Raw       []byte

	sections map[string]json.RawMessage
}

// DecodeResponse parses a reply frame. Trailing NUL bytes and whitespace are
// ignored.
func DecodeResponse(data []byte) (*Response, error) {
	data = bytes.TrimSpace(bytes.TrimRight(data, "\x00"))
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformed)
	}

	var sections map[string]json.RawMessage
	if err := json.Unmarshal(data, &sections); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(sections) == 0 {
		return nil, fmt.Errorf("%w: empty object", ErrMalformed)
	}

	resp := &Response{
		Raw:      data,
		sections: sections,
	}

	if raw, ok := sections["STATUS"]; ok {
		if err := json.Unmarshal(raw, &resp.Status); err != nil {
			// Some firmwares report a bare code instead of a list
			var code string
			if json.Unmarshal(raw, &code) != nil {
				return nil, fmt.Errorf("%w: STATUS section: %v", ErrMalformed, err)
			}
			resp.Status = []Status{{Status: code}}
		}
	}

	if raw, ok := sections["session_id"]; ok {
		id, err := scalarString(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: session_id: %v", ErrMalformed, err)
		}
		resp.SessionID = id
	}

	if raw, ok := sections["error"]; ok {
		msg, err := scalarString(raw)
		if err != nil {
			// Structured error objects are kept verbatim
			msg = string(raw)
		}
		if msg == "" {
			msg = "unspecified error"
		}
		resp.Error = msg
	}

	return resp, nil
}

// Has reports whether the reply carries the named section.
func (r *Response) Has(name string) bool {
	_, ok := r.sections[name]
	return ok
}

// SectionNames returns the top-level keys of the reply in sorted order.
func (r *Response) SectionNames() []string {
	names := make([]string, 0, len(r.sections))
	for name := range r.sections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Section decodes the named section into v.
func (r *Response) Section(name string, v any) error {
	raw, ok := r.sections[name]
	if !ok {
		return fmt.Errorf("%w: missing %s section", ErrMalformed, name)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %s section: %v", ErrMalformed, name, err)
	}
	return nil
}

// Code returns the first STATUS code, or "" when the reply has none.
func (r *Response) Code() string {
	if len(r.Status) == 0 {
		return ""
	}
	return strings.ToUpper(r.Status[0].Status)
}

// Message returns the first STATUS message.
func (r *Response) Message() string {
	if len(r.Status) == 0 {
		return ""
	}
	return r.Status[0].Msg
}

// Succeeded reports whether the device accepted the command.
func (r *Response) Succeeded() bool {
	return r.Rejection() == ""
}

// Rejection returns the device's reason for refusing a command, or "" when
// the command was accepted.
func (r *Response) Rejection() string {
	if r.Error != "" {
		return r.Error
	}
	switch r.Code() {
	case StatusError, StatusFatal:
		if msg := r.Message(); msg != "" {
			return msg
		}
		return "device returned status " + r.Code()
	}
	return ""
}

func scalarString(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("not a string: %s", string(raw))
}
