package model

import "time"

type MessageType string

const (
	MessageTypeJobSubmitted MessageType = "job_submitted"
	MessageTypeJobFailed    MessageType = "job_failed"
	MessageTypePing         MessageType = "ping"
)

// --- WebSocket Messages ---

// JobEvent is pushed to /api/events subscribers after every print attempt.
type JobEvent struct {
	Type     MessageType `json:"type"`
	JobID    string      `json:"job_id,omitempty"`
	Printer  string      `json:"printer,omitempty"`
	FileName string      `json:"file_name,omitempty"`
	Copies   int         `json:"copies,omitempty"`
	Code     string      `json:"code,omitempty"` // failure category, never raw spooler text
	Time     time.Time   `json:"time"`
}
