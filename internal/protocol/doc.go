// Package protocol implements the CGMiner-style JSON command protocol spoken by
// Antminer firmwares (stock CGMiner/BMMiner, LuxOS).
//
// The same request and response shapes are used on the raw TCP API (port 4028)
// and, wrapped in an HTTP POST body, on the LuxOS web API.
//
// # Request Format
//
// A request is a single JSON object:
//
//	{"command": "enableboard", "parameter": "1"}
//
// The HTTP API additionally carries the session token:
//
//	{"command": "profileset", "parameter": "-2", "session_id": "a1b2c3"}
//
// # Response Format
//
// A response is a JSON object with a STATUS section and command specific data
// sections:
//
//	{"STATUS":[{"STATUS":"S","When":1718000000,"Code":11,"Msg":"Summary","Description":"cgminer 4.11.1"}],
//	 "SUMMARY":[{"Elapsed":3600,"MHS 5s":110000000.0,"MHS 1m":108000000.0}],"id":1}
//
// STATUS codes: S (success), I (info), W (warning), E (error), F (fatal).
// LuxOS-over-HTTP replies may use lower case keys ({"profile":"0"}) and report
// failures as {"error": "..."}.
//
// # Framing
//
// On the socket the device writes the JSON reply and then either a NUL byte or
// closes the connection. ReadResponse reads until whichever comes first and
// caps the reply at MaxResponseSize.
//
// # Usage Example
//
//	payload, _ := protocol.EncodeRequest(protocol.Request{Command: "summary"})
//	conn.Write(payload)
//	data, err := protocol.ReadResponse(conn)
//	resp, err := protocol.DecodeResponse(data)
//	summary, err := protocol.ParseSummary(resp)
//
// Decoding never panics on bad input; anything that is not a JSON object with
// the expected section types yields an error wrapping ErrMalformed.
package protocol
