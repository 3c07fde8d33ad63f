package types

import "encoding/json"

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Unique id of this process instance, fixed at start.
	// example: 4b7c1f6e-0a51-4f4e-9c55-2d2f0b0e8a11
	InstanceID string `json:"instance_id" example:"4b7c1f6e-0a51-4f4e-9c55-2d2f0b0e8a11"`
	// Process type.
	// example: STANDALONE_SERVER
	ProcessType string `json:"process_type" example:"STANDALONE_SERVER"`
	// Running mode.
	// example: NORMAL
	RunningMode string `json:"running_mode" example:"NORMAL"`
	// Current process state.
	// example: running
	State string `json:"state" example:"running"`
	// Process state as published to management clients (running is "ok").
	// example: ok
	ProjectedState string `json:"projected_state" example:"ok"`
	// Number of (pattern, handler, filter) subscriptions.
	// example: 3
	Subscriptions int `json:"subscriptions" example:"3"`
	// Registered address patterns.
	Patterns []string `json:"patterns"`
	// Live metric registrations.
	// example: 2
	MetricRegistrations int `json:"metric_registrations" example:"2"`
	// Configured state listeners.
	// example: 1
	Listeners int `json:"listeners" example:"1"`
	// Number of resources in the model, root included.
	// example: 4
	Resources int `json:"resources" example:"4"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
	// Last lifecycle error observed by the manager (if any).
	LastError string `json:"last_error,omitempty"`
}

// StateResponse is returned by GET /state.
type StateResponse struct {
	// example: running
	State string `json:"state" example:"running"`
	// example: ok
	ProjectedState string `json:"projected_state" example:"ok"`
}

// AttributeChange is one published change of the process state attribute.
type AttributeChange struct {
	// example: 0
	Sequence int64 `json:"sequence" example:"0"`
	// RFC3339 timestamp.
	Timestamp string `json:"timestamp"`
	// example: attribute has changed from starting to ok
	Message string `json:"message" example:"attribute has changed from starting to ok"`
	// example: ProcessState
	Attribute string `json:"attribute" example:"ProcessState"`
	// example: string
	Type string `json:"type" example:"string"`
	// example: starting
	OldValue string `json:"old_value" example:"starting"`
	// example: ok
	NewValue string `json:"new_value" example:"ok"`
}

// StateChangesResponse wraps the projection history.
type StateChangesResponse struct {
	Name    string            `json:"name"`
	Changes []AttributeChange `json:"changes"`
}

// Notification is the wire form of a notification. It is accepted by
// POST /notifications and streamed by GET /notifications/stream.
type Notification struct {
	// Notification type.
	// example: resource-added
	Type string `json:"type" example:"resource-added"`
	// Concrete source address in canonical form.
	// example: /subsystem=logging
	Source string `json:"source" example:"/subsystem=logging"`
	// example: resource added
	Message string `json:"message,omitempty" example:"resource added"`
	// RFC3339Nano timestamp; set by the server.
	Timestamp string `json:"timestamp,omitempty"`
	// Free-form payload.
	Data json.RawMessage `json:"data,omitempty" swaggertype:"object"`
}

// LifecycleResponse reports the state after a lifecycle operation.
type LifecycleResponse struct {
	// example: reload
	Operation string `json:"operation" example:"reload"`
	// example: running
	State string `json:"state" example:"running"`
}

// ResourceResponse is returned by GET /resource.
type ResourceResponse struct {
	// example: /subsystem=logging
	Address    string         `json:"address" example:"/subsystem=logging"`
	Attributes map[string]any `json:"attributes"`
	Children   []string       `json:"children"`
}

// AttributeResponse is returned by GET /resource?attribute=.
type AttributeResponse struct {
	// example: /
	Address string `json:"address" example:"/"`
	// example: uptime-ms
	Name  string `json:"name" example:"uptime-ms"`
	Value any    `json:"value"`
}

// AddResourceRequest is the body of POST /resource.
type AddResourceRequest struct {
	// example: /subsystem=logging
	Address    string         `json:"address" example:"/subsystem=logging"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// WriteAttributeRequest is the body of PUT /resource/attribute.
type WriteAttributeRequest struct {
	// example: /subsystem=logging
	Address string `json:"address" example:"/subsystem=logging"`
	// example: level
	Name  string `json:"name" example:"level"`
	Value any    `json:"value"`
}
