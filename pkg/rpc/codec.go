package rpc

import (
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// MaxFrameBytes bounds a single line-delimited frame. It matches the
// ingress firewall's outermost body cap so a frame that fits on the
// wire cannot be rejected later purely for size.
const MaxFrameBytes = 8 << 20

// ErrFrameTooLarge is returned for frames over MaxFrameBytes.
var ErrFrameTooLarge = errors.New("rpc frame exceeds size limit")

// EncodeMessage serializes a JSON-RPC message to its wire format.
// This delegates to the SDK's jsonrpc package.
func EncodeMessage(msg jsonrpc.Message) ([]byte, error) {
	return jsonrpc.EncodeMessage(msg)
}

// DecodeMessage deserializes JSON-RPC wire format data into a Message.
// It returns either a *jsonrpc.Request or *jsonrpc.Response based on
// the message content.
func DecodeMessage(data []byte) (jsonrpc.Message, error) {
	return jsonrpc.DecodeMessage(data)
}

// WrapMessage decodes raw JSON-RPC bytes and wraps them in a Message
// with the current timestamp. Frames over MaxFrameBytes are rejected
// before decoding.
func WrapMessage(raw []byte) (*Message, error) {
	if len(raw) > MaxFrameBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(raw))
	}

	decoded, err := jsonrpc.DecodeMessage(raw)
	if err != nil {
		return nil, err
	}

	return &Message{
		Raw:       raw,
		Decoded:   decoded,
		Timestamp: time.Now(),
	}, nil
}
