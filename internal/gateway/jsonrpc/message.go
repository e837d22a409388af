// Package jsonrpc implements the MCP wire envelope and an incremental framer
// for JSON-RPC 2.0 messages arriving as opaque byte chunks (child-process
// stdout, an HTTP body, or an SSE event payload).
package jsonrpc

import "encoding/json"

// Supported MCP protocol versions, negotiated high-to-low.
const (
	ProtocolVersion20250618 = "2025-06-18"
	ProtocolVersion20250326 = "2025-03-26"
	ProtocolVersion20241126 = "2024-11-26"
)

// SupportedProtocolVersions is ordered newest-first; NegotiateVersion walks
// it to find the first version the peer also advertises.
var SupportedProtocolVersions = []string{
	ProtocolVersion20250618,
	ProtocolVersion20250326,
	ProtocolVersion20241126,
}

// NegotiateVersion returns the highest mutually supported protocol version,
// or "" if peerVersions shares none with SupportedProtocolVersions.
func NegotiateVersion(peerVersions []string) string {
	peers := make(map[string]bool, len(peerVersions))
	for _, v := range peerVersions {
		peers[v] = true
	}
	for _, v := range SupportedProtocolVersions {
		if peers[v] {
			return v
		}
	}
	return ""
}

// Message is the JSON-RPC 2.0 envelope shared by requests, responses, and
// notifications. A request has ID+Method; a notification has Method and a
// nil ID; a response has ID and either Result or Error.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

// ErrorObject is the JSON-RPC 2.0 error shape.
type ErrorObject struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *ErrorObject) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// IsRequest reports whether m carries a method and a non-nil id.
func (m *Message) IsRequest() bool {
	return m.Method != "" && m.ID != nil
}

// IsNotification reports whether m carries a method and no id.
func (m *Message) IsNotification() bool {
	return m.Method != "" && m.ID == nil
}

// IsResponse reports whether m carries a result or an error and no method.
func (m *Message) IsResponse() bool {
	return m.Method == "" && (m.Result != nil || m.Error != nil)
}

// NewRequest builds a request Message, marshaling params.
func NewRequest(id any, method string, params any) (*Message, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Message{JSONRPC: "2.0", ID: id, Method: method, Params: raw}, nil
}

// NewNotification builds a notification Message (no id), marshaling params.
func NewNotification(method string, params any) (*Message, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Message{JSONRPC: "2.0", Method: method, Params: raw}, nil
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	return json.Marshal(params)
}

// Initialize request/result shapes.

type InitializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      ClientInfo     `json:"clientInfo"`
}

type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	ServerInfo      ClientInfo     `json:"serverInfo"`
	Capabilities    map[string]any `json:"capabilities"`
}

type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"inputSchema,omitempty"`
}

type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

type CallToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

type ContentItem struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	Data string `json:"data,omitempty"`
	MIME string `json:"mimeType,omitempty"`
}

type CallToolResult struct {
	Content []ContentItem `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}
