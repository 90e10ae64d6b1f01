package protocol

import "encoding/json"

// WireFormat names the argument encoding used on every surface.
const WireFormat = "convex_encoded_json"

// FunctionReference identifies a backend function. Equality is by path.
type FunctionReference struct {
	Path string `json:"path"`
}

// CallKind distinguishes one-shot call types.
type CallKind string

const (
	KindQuery    CallKind = "query"
	KindMutation CallKind = "mutation"
	KindAction   CallKind = "action"
)

// SubscribeFrame opens a live subscription.
type SubscribeFrame struct {
	Type           string          `json:"type"` // "subscribe"
	SubscriptionID string          `json:"subscriptionId"`
	Path           string          `json:"path"`
	Args           json.RawMessage `json:"args"`
}

// UnsubscribeFrame closes a live subscription.
type UnsubscribeFrame struct {
	Type           string `json:"type"` // "unsubscribe"
	SubscriptionID string `json:"subscriptionId"`
}

// RequestFrame carries a one-shot call over the socket.
type RequestFrame struct {
	Type      string          `json:"type"` // "request"
	RequestID string          `json:"requestId"`
	Kind      CallKind        `json:"kind"`
	Path      string          `json:"path"`
	Args      json.RawMessage `json:"args"`
}

// ServerFrame is the inbound frame envelope. Type discriminates which of the
// remaining fields are populated; unknown fields are ignored.
type ServerFrame struct {
	Type           string          `json:"type"` // "update", "error", "response"
	SubscriptionID string          `json:"subscriptionId,omitempty"`
	RequestID      string          `json:"requestId,omitempty"`
	Status         string          `json:"status,omitempty"` // "success" or "error"
	Value          json.RawMessage `json:"value,omitempty"`
	Error          json.RawMessage `json:"error,omitempty"`
	ErrorMessage   string          `json:"errorMessage,omitempty"`
	ErrorData      json.RawMessage `json:"errorData,omitempty"`
}

// HTTPRequest is the body of a one-shot HTTP POST call.
type HTTPRequest struct {
	Path   string            `json:"path"`
	Format string            `json:"format"`
	Args   []json.RawMessage `json:"args"`
}

// HTTPResponse is the body of a one-shot HTTP response. Status 560 responses
// carry this same envelope with Status "error".
type HTTPResponse struct {
	Status       string          `json:"status"` // "success" or "error"
	Value        json.RawMessage `json:"value,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	ErrorData    json.RawMessage `json:"errorData,omitempty"`
}
