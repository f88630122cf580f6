package miner

import (
	"fmt"
	"strings"

	"github.com/muurk/solminer/internal/protocol"
)

// Protocol identifies how a device is reached.
type Protocol int

const (
	ProtocolUnknown Protocol = iota
	ProtocolSocket
	ProtocolHTTP
)

func (p Protocol) String() string {
	switch p {
	case ProtocolSocket:
		return "socket"
	case ProtocolHTTP:
		return "http"
	default:
		return "unknown"
	}
}

// Separator joins username and password in the logon parameter.
type Separator string

const (
	SeparatorComma Separator = ","
	SeparatorColon Separator = ":"
	SeparatorPipe  Separator = "|"
)

// AllSeparators lists the accepted conventions in the order they are tried.
var AllSeparators = []Separator{SeparatorComma, SeparatorColon, SeparatorPipe}

// ParseSeparator accepts either the symbol or its name.
func ParseSeparator(s string) (Separator, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case ",", "comma":
		return SeparatorComma, nil
	case ":", "colon":
		return SeparatorColon, nil
	case "|", "pipe":
		return SeparatorPipe, nil
	}
	return "", fmt.Errorf("unknown credential separator %q", s)
}

// Credential is one logon candidate tagged with its separator convention.
type Credential struct {
	Username  string
	Password  string
	Separator Separator
}

// Format returns the logon parameter, e.g. "root,root".
func (c Credential) Format() string {
	return c.Username + string(c.separator()) + c.Password
}

// String masks the password so credentials can be logged.
func (c Credential) String() string {
	masked := ""
	if c.Password != "" {
		masked = "****"
	}
	return fmt.Sprintf("%q%s%q", c.Username, c.separator(), masked)
}

func (c Credential) separator() Separator {
	if c.Separator == "" {
		return SeparatorComma
	}
	return c.Separator
}

var commonLogins = [][2]string{
	{"root", "root"},
	{"admin", "admin"},
	{"", "root"},
	{"root", ""},
	{"admin", ""},
	{"", "admin"},
	{"", ""},
}

// DefaultCredentials returns the candidates tried when a device has no
// configured credentials: the common logins, each in every separator.
func DefaultCredentials() []Credential {
	creds := make([]Credential, 0, len(commonLogins)*len(AllSeparators))
	for _, login := range commonLogins {
		creds = append(creds, Expand(login[0], login[1], AllSeparators...)...)
	}
	return creds
}

// Expand builds one candidate per separator for a username/password pair.
func Expand(username, password string, separators ...Separator) []Credential {
	if len(separators) == 0 {
		separators = AllSeparators
	}
	creds := make([]Credential, len(separators))
	for i, sep := range separators {
		creds[i] = Credential{Username: username, Password: password, Separator: sep}
	}
	return creds
}

// DefaultAPIPaths are the HTTP API paths in priority order.
var DefaultAPIPaths = []string{
	"/cgi-bin/luci/api",
	"/cgi-bin/api.cgi",
	"/api",
	"/cgi-bin/minerapi.cgi",
}

// DeviceEndpoint is the immutable address book entry for one miner.
type DeviceEndpoint struct {
	ID          string
	Host        string
	SocketPort  int
	BaseURLs    []string
	APIPaths    []string
	Credentials []Credential
}

// NewEndpoint returns an endpoint with the defaults filled in.
func NewEndpoint(id, host string) DeviceEndpoint {
	ep := DeviceEndpoint{ID: id, Host: host}
	return ep.withDefaults()
}

func (e DeviceEndpoint) withDefaults() DeviceEndpoint {
	if e.ID == "" {
		e.ID = e.Host
	}
	if e.SocketPort == 0 {
		e.SocketPort = protocol.DefaultPort
	}
	if len(e.BaseURLs) == 0 {
		e.BaseURLs = []string{"http://" + e.Host}
	}
	if len(e.APIPaths) == 0 {
		e.APIPaths = append([]string(nil), DefaultAPIPaths...)
	}
	if len(e.Credentials) == 0 {
		e.Credentials = DefaultCredentials()
	}
	return e
}

// Candidates returns every base URL and path combination in the order
// they are tried.
func (e DeviceEndpoint) Candidates() []string {
	out := make([]string, 0, len(e.BaseURLs)*len(e.APIPaths))
	for _, base := range e.BaseURLs {
		base = strings.TrimRight(base, "/")
		for _, path := range e.APIPaths {
			if !strings.HasPrefix(path, "/") {
				path = "/" + path
			}
			out = append(out, base+path)
		}
	}
	return out
}
