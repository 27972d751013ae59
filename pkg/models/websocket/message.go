// Package websocket defines the wire protocol spoken between the letterflow
// server and collaborative editor clients.
package websocket

import (
	"github.com/maheshalyana/letterflow/pkg/models"
)

// MessageType discriminates protocol frames
type MessageType string

// Protocol frame types
const (
	// MessageTypeSync carries a state vector; each side sends one at the
	// start of a connection and answers with a sync-reply holding the
	// operations the other side is missing.
	MessageTypeSync      MessageType = "sync"
	MessageTypeSyncReply MessageType = "sync-reply"

	// MessageTypeUpdate carries an encoded buffer update, client to server
	// for local edits and server to client for fan-out.
	MessageTypeUpdate MessageType = "update"

	// MessageTypePermission is sent once after sync completes and tells the
	// client its resolved role.
	MessageTypePermission MessageType = "permission"

	// MessageTypeCollaboratorUpdate carries the full presence list and is
	// sent on every presence change.
	MessageTypeCollaboratorUpdate MessageType = "collaborator-update"

	MessageTypeError MessageType = "error"
)

// Error codes carried in error frames
const (
	ErrCodeUnauthorized = 4001
	ErrCodeForbidden    = 4003
	ErrCodeProtocol     = 4400
	ErrCodeRateLimited  = 4429
	ErrCodeServerError  = 4500
)

// Error is the payload of an error frame
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Message is the envelope for every protocol frame. Update payloads are
// opaque bytes (base64 in the JSON encoding); their structure belongs to the
// collaboration package.
type Message struct {
	Type MessageType `json:"type"`

	// StateVector is set on sync frames
	StateVector map[string]uint64 `json:"stateVector,omitempty"`

	// Update is set on sync-reply and update frames
	Update []byte `json:"update,omitempty"`

	// Role is set on permission frames
	Role models.Role `json:"role,omitempty"`

	// Collaborators is set on collaborator-update frames
	Collaborators []models.Participant `json:"collaborators,omitempty"`

	Error *Error `json:"error,omitempty"`
}

// NewErrorMessage builds an error frame
func NewErrorMessage(code int, message string) *Message {
	return &Message{
		Type:  MessageTypeError,
		Error: &Error{Code: code, Message: message},
	}
}

// ConnectionState tracks a connection through its lifecycle
type ConnectionState int32

// Connection lifecycle states
const (
	ConnectionStateConnecting ConnectionState = iota
	ConnectionStateAuthorizing
	ConnectionStateSyncing
	ConnectionStateActive
	ConnectionStateClosing
	ConnectionStateClosed
)

// String returns the state name for logging
func (s ConnectionState) String() string {
	switch s {
	case ConnectionStateConnecting:
		return "connecting"
	case ConnectionStateAuthorizing:
		return "authorizing"
	case ConnectionStateSyncing:
		return "syncing"
	case ConnectionStateActive:
		return "active"
	case ConnectionStateClosing:
		return "closing"
	case ConnectionStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
