// Package models contains the shared domain types of the letterflow server.
package models

import "time"

// Role is a participant's access level on a document
type Role string

// Document roles, from most to least privileged
const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// Valid reports whether the role is one of the known values
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleEditor, RoleViewer:
		return true
	}
	return false
}

// CanEdit reports whether the role permits mutating document content
func (r Role) CanEdit() bool {
	return r == RoleOwner || r == RoleEditor
}

// Document is a row in the documents table
type Document struct {
	ID           string    `db:"id" json:"id"`
	OwnerUID     string    `db:"owner_uid" json:"owner_uid"`
	Title        string    `db:"title" json:"title"`
	Content      string    `db:"content" json:"content"`
	LastModified time.Time `db:"last_modified" json:"last_modified"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// DocumentShare grants a user a role on a document they do not own
type DocumentShare struct {
	DocumentID string    `db:"document_id" json:"document_id"`
	UID        string    `db:"uid" json:"uid"`
	Role       Role      `db:"role" json:"role"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Snapshot is the durable flattened form of a document's collaborative buffer
type Snapshot struct {
	DocumentID   string    `db:"id" json:"document_id"`
	Content      string    `db:"content" json:"content"`
	LastModified time.Time `db:"last_modified" json:"last_modified"`
}

// Participant is the display identity a client presents when connecting
type Participant struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Color     string `json:"color"`
	AvatarURL string `json:"picture"`
}
