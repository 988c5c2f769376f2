// Package ipc provides inter-process communication between the
// pedometerd daemon and its control clients.
//
// The protocol is newline-delimited JSON over a unix socket: one
// request object per line, one response object per line. Simple enough
// for shell tooling (socat + jq) while keeping a typed Go client.
package ipc

import (
	"pedometerd/internal/records"
)

// Op names the daemon operations reachable over the socket.
type Op string

const (
	OpPing     Op = "ping"
	OpStatus   Op = "status"
	OpStart    Op = "start"
	OpStop     Op = "stop"
	OpTotal    Op = "total"
	OpDetailed Op = "detailed"
	OpSessions Op = "sessions"
)

// Request is one client command.
type Request struct {
	ID uint32 `json:"id"`
	Op Op     `json:"op"`

	// From and To bound range queries, UTC milliseconds, inclusive.
	From int64 `json:"from,omitempty"`
	To   int64 `json:"to,omitempty"`
}

// Response answers one request.
type Response struct {
	ID uint32 `json:"id"`
	OK bool   `json:"ok"`

	Error *ErrorInfo `json:"error,omitempty"`

	Status   *Status                  `json:"status,omitempty"`
	Session  string                   `json:"session,omitempty"`
	Total    *int64                   `json:"total,omitempty"`
	Records  []records.Record         `json:"records,omitempty"`
	Sessions []records.SessionSummary `json:"sessions,omitempty"`
}

// ErrorInfo carries a typed failure across the socket.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Status describes the daemon's current state.
type Status struct {
	SensorAvailable bool   `json:"sensor_available"`
	Tracking        bool   `json:"tracking"`
	SessionID       string `json:"session_id,omitempty"`
	TotalSteps      int64  `json:"total_steps"`
}
