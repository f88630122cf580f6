package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const (
	// DefaultPort is the CGMiner API TCP port
	DefaultPort = 4028

	// Terminator ends a reply frame on the socket API
	Terminator byte = 0x00

	// MaxResponseSize bounds a single reply
	MaxResponseSize = 4 << 20
)

// ErrResponseTooLarge is returned when a reply exceeds MaxResponseSize
var ErrResponseTooLarge = errors.New("response exceeds maximum size")

// EncodeRequest returns the wire bytes for a request.
func EncodeRequest(req Request) ([]byte, error) {
	if req.Command == "" {
		return nil, fmt.Errorf("request has no command")
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	return data, nil
}

// ReadResponse reads one reply frame from r. The frame ends at the first NUL
// byte or at EOF. The terminator is not included in the returned bytes.
func ReadResponse(r io.Reader) ([]byte, error) {
	br := bufio.NewReader(io.LimitReader(r, MaxResponseSize+1))
	var buf bytes.Buffer

	for {
		chunk, err := br.ReadSlice(Terminator)
		buf.Write(chunk)
		if buf.Len() > MaxResponseSize {
			return nil, ErrResponseTooLarge
		}

		switch {
		case err == nil:
			// ReadSlice stopped on the terminator
			return buf.Bytes()[:buf.Len()-1], nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			return buf.Bytes(), nil
		default:
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
	}
}
