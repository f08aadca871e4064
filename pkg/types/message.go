package types

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Codenames carried in the error object of broker-synthesized responses.
const (
	CodenameForbidden      = "xrpc.forbidden"
	CodenameUnknownMethod  = "xrpc.unknown_method"
	CodenameUnavailable    = "xrpc.unavailable"
	CodenameModuleDown     = "xrpc.module_down"
	CodenameTimeout        = "xrpc.timeout"
	CodenameDuplicateID    = "xrpc.duplicate_id"
	CodenameInvalidRequest = "xrpc.invalid_request"
	CodenameInternal       = "xrpc.internal"
)

// Message is the envelope of one wire line. Only the keys the broker routes
// on are decoded; params and result stay raw and a forwarded line is never
// re-encoded.
type Message struct {
	keys   map[string]json.RawMessage
	Method string
	ID     json.RawMessage
}

// ParseMessage decodes a single wire line. The line must hold exactly one
// JSON object.
func ParseMessage(line []byte) (*Message, error) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return nil, NewError(ErrCodeInvalid, "empty line")
	}
	if trimmed[0] != '{' {
		return nil, NewError(ErrCodeInvalid, "message is not a JSON object")
	}

	keys := make(map[string]json.RawMessage)
	if err := json.Unmarshal(trimmed, &keys); err != nil {
		return nil, WrapError(ErrCodeInvalid, "malformed JSON message", err)
	}

	msg := &Message{keys: keys, ID: keys["id"]}
	if raw, ok := keys["method"]; ok {
		if err := json.Unmarshal(raw, &msg.Method); err != nil {
			return nil, WrapError(ErrCodeInvalid, "method must be a string", err)
		}
	}
	return msg, nil
}

// IsRequest reports whether the message carries a method key.
func (m *Message) IsRequest() bool {
	_, ok := m.keys["method"]
	return ok
}

// HasError reports whether the message carries an error key, whatever its value.
func (m *Message) HasError() bool {
	_, ok := m.keys["error"]
	return ok
}

// HasID reports whether the message carries a non-null id.
func (m *Message) HasID() bool {
	return len(m.ID) > 0 && !bytes.Equal(bytes.TrimSpace(m.ID), []byte("null"))
}

// CallKey returns the normalized id used to correlate a response with its
// request. Whitespace inside the id value is insignificant.
func (m *Message) CallKey() string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, m.ID); err != nil {
		return string(m.ID)
	}
	return buf.String()
}

// SplitMethod splits "<module>.<name>" on the first dot. ok is false when the
// method has no dot.
func SplitMethod(method string) (module, name string, ok bool) {
	module, name, ok = strings.Cut(method, ".")
	return module, name, ok
}

// ErrorObject is the error payload of a response.
type ErrorObject struct {
	Codename string `json:"codename"`
	Message  string `json:"message"`
}

// Response is a response the broker synthesizes on its own behalf.
type Response struct {
	ID     json.RawMessage `json:"id"`
	Result any             `json:"result,omitempty"`
	Error  *ErrorObject    `json:"error,omitempty"`
}

// NewErrorResponse builds an error response for the given call id.
func NewErrorResponse(id json.RawMessage, codename, message string) *Response {
	return &Response{
		ID:    id,
		Error: &ErrorObject{Codename: codename, Message: message},
	}
}

// NewResultResponse builds a successful response for the given call id.
func NewResultResponse(id json.RawMessage, result any) *Response {
	return &Response{ID: id, Result: result}
}

// Encode renders the response as one newline-terminated wire line together
// with its parsed envelope, ready to be fed back into the resolve path.
func (r *Response) Encode() ([]byte, *Message, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r); err != nil {
		return nil, nil, WrapError(ErrCodeInternal, "failed to encode response", err)
	}
	line := buf.Bytes()

	msg, err := ParseMessage(line)
	if err != nil {
		return nil, nil, err
	}
	return line, msg, nil
}
