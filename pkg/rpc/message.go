// Package rpc provides JSON-RPC message types and codec utilities for
// the corridor's RPC transport.
package rpc

import (
	"encoding/json"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// RPC method names the corridor serves.
const (
	// MethodInvoke runs one action through the pipeline.
	MethodInvoke = "corridor.invoke"
	// MethodReceipts reads the receipt chain for a job.
	MethodReceipts = "corridor.receipts"
	// MethodHealth reports the heartbeat status.
	MethodHealth = "corridor.health"
)

// Message wraps a decoded JSON-RPC message with transport metadata.
// It stores both the raw bytes and the decoded message.
type Message struct {
	// Raw contains the original bytes of the message.
	Raw []byte

	// Decoded contains the parsed JSON-RPC message.
	// The concrete type is either *jsonrpc.Request or *jsonrpc.Response.
	Decoded jsonrpc.Message

	// Timestamp records when the message was received.
	Timestamp time.Time

	// ParsedParams contains the parsed params from a request.
	// Set by ParseParams for reuse; nil if not a request or parsing
	// failed.
	ParsedParams map[string]interface{}
}

// IsRequest returns true if the message is a JSON-RPC request.
func (m *Message) IsRequest() bool {
	if m.Decoded == nil {
		return false
	}
	_, ok := m.Decoded.(*jsonrpc.Request)
	return ok
}

// Method returns the method name if this is a request, empty otherwise.
func (m *Message) Method() string {
	req := m.Request()
	if req == nil {
		return ""
	}
	return req.Method
}

// Request returns the underlying Request, or nil.
func (m *Message) Request() *jsonrpc.Request {
	if m.Decoded == nil {
		return nil
	}
	req, _ := m.Decoded.(*jsonrpc.Request)
	return req
}

// ParseParams parses the request params and caches the result.
// Safe to call multiple times.
func (m *Message) ParseParams() map[string]interface{} {
	if m.ParsedParams != nil {
		return m.ParsedParams
	}

	req := m.Request()
	if req == nil || req.Params == nil {
		return nil
	}

	var params map[string]interface{}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil
	}

	m.ParsedParams = params
	return params
}

// ExtractAPIKey extracts the client credential from params. RPC has no
// transport headers, so the key rides in the params:
// params._meta.apiKey first, then params.apiKey.
func (m *Message) ExtractAPIKey() string {
	params := m.ParseParams()
	if params == nil {
		return ""
	}

	if meta, ok := params["_meta"].(map[string]interface{}); ok {
		if apiKey, ok := meta["apiKey"].(string); ok && apiKey != "" {
			return apiKey
		}
	}

	if apiKey, ok := params["apiKey"].(string); ok {
		return apiKey
	}

	return ""
}

// RawID extracts the request ID from the raw message bytes. The SDK's
// ID type does not round-trip through interface{}, so the ID is taken
// straight from the raw JSON.
func (m *Message) RawID() json.RawMessage {
	if m.Raw == nil {
		return nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(m.Raw, &raw); err != nil {
		return nil
	}

	return raw["id"]
}
