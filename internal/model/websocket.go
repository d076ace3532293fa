package model

// WebSocket message types
const (
	WSMessageTypeProgress = "progress"
	WSMessageTypeComplete = "complete"
	WSMessageTypeError    = "error"
	WSMessageTypePing     = "ping"
	WSMessageTypePong     = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSProgressMessage represents a task progress update
type WSProgressMessage struct {
	Type     string    `json:"type"`
	TaskID   int64     `json:"taskId"`
	Progress float64   `json:"progress"`
	Status   JobStatus `json:"status"`
	Message  string    `json:"message,omitempty"`
}

// WSCompleteMessage represents task completion
type WSCompleteMessage struct {
	Type   string    `json:"type"`
	TaskID int64     `json:"taskId"`
	Status JobStatus `json:"status"`
}

// WSErrorMessage represents a task error
type WSErrorMessage struct {
	Type   string  `json:"type"`
	TaskID int64   `json:"taskId"`
	Error  WSError `json:"error"`
}

// WSError represents error details
type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
