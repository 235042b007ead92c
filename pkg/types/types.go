package types

import "encoding/json"

// Action names carried in the "action" field of every frame.
const (
	ActionConnect    = "connect"
	ActionDisconnect = "disconnect"
	ActionSave       = "save"

	ActionInitialize  = "initialize"
	ActionPutTrace    = "putTrace"
	ActionRemoveTrace = "removeTrace"
	ActionSaveHTML    = "saveHTML"
	ActionReload      = "reload"
)

// Value is an opaque JSON document: a trace payload or channel info blob.
// A nil Value encodes as JSON null.
type Value = json.RawMessage

// Inbound is a control message sent by a viewer.
type Inbound struct {
	Action    string `json:"action"`
	ClientID  string `json:"clientId"`
	VizID     string `json:"vizId"`
	Content   string `json:"content,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// Initialize carries the full channel state to a newly joined viewer.
type Initialize struct {
	Action string           `json:"action"`
	Traces map[string]Value `json:"traces"`
	Info   Value            `json:"info"`
}

// PutTrace announces an inserted or replaced trace.
type PutTrace struct {
	Action  string `json:"action"`
	TraceID string `json:"tId"`
	Trace   Value  `json:"t"`
}

// RemoveTrace announces a deleted trace.
type RemoveTrace struct {
	Action  string `json:"action"`
	TraceID string `json:"tId"`
}

// SaveHTML asks viewers to reply with a save message holding their rendered output.
type SaveHTML struct {
	Action    string `json:"action"`
	RequestID string `json:"requestId,omitempty"`
}

// Reload tells viewers that a file in the channel's asset directory changed.
type Reload struct {
	Action string `json:"action"`
	Path   string `json:"path"`
}

// Outbound is the union of all server-to-viewer frames, used by clients that
// decode a frame before knowing its action.
type Outbound struct {
	Action    string           `json:"action"`
	Traces    map[string]Value `json:"traces,omitempty"`
	Info      Value            `json:"info,omitempty"`
	TraceID   string           `json:"tId,omitempty"`
	Trace     Value            `json:"t,omitempty"`
	RequestID string           `json:"requestId,omitempty"`
	Path      string           `json:"path,omitempty"`
}
