// Package message defines the frames exchanged between client and server.
//
// A Request carries one call; the Response with the same ID settles it. IDs are
// chosen by the client and are unique only among its currently pending calls.
//
//	request:  {"id": 7, "call": "GetMapCenter", "payload": null}
//	response: {"id": 7, "ok": true, "result": {"lng": -122.33, "lat": 47.61}}
//	response: {"id": 7, "ok": false, "error": {"kind": "handler-error", "message": "..."}}
package message

import "encoding/json"

// Request asks the server to run Call with Payload as input.
type Request struct {
	ID      uint32          `json:"id"`
	Call    string          `json:"call"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response settles the request with the same ID.
//
//   - OK=true:  Result holds the encoded output (JSON null included).
//   - OK=false: Error describes the failure; Result is empty.
type Response struct {
	ID     uint32          `json:"id"`
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Failure        `json:"error,omitempty"`
}

// Failure is the wire form of a failed call.
type Failure struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Success builds an OK response.
func Success(id uint32, result json.RawMessage) *Response {
	return &Response{ID: id, OK: true, Result: result}
}

// Fail builds a failure response.
func Fail(id uint32, kind, msg string) *Response {
	return &Response{ID: id, Error: &Failure{Kind: kind, Message: msg}}
}
