package collab

import (
	"encoding/json"
	"time"
)

const (
	maxChatHistory   = 100
	maxActionHistory = 50

	maxChatMessageLength = 2000
	maxDisplayNameLength = 64

	defaultSessionName     = "Untitled Session"
	defaultParticipantName = "Guest"
)

// Role describes what a participant may do inside a session.
type Role string

const (
	RoleViewer     Role = "viewer"
	RoleController Role = "controller"
	RoleAdmin      Role = "admin"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	switch r {
	case RoleViewer, RoleController, RoleAdmin:
		return true
	}
	return false
}

// CanAct reports whether the role may issue browser actions.
func (r Role) CanAct() bool {
	return r == RoleController || r == RoleAdmin
}

// Cursor is the last-known pointer position of a participant. Ephemeral:
// overwritten on every update and never recorded in history.
type Cursor struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Participant is one connected user's membership record within a session.
type Participant struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Color        string    `json:"color"`
	Role         Role      `json:"role"`
	Cursor       *Cursor   `json:"cursor,omitempty"`
	JoinedAt     time.Time `json:"joinedAt"`
	LastActivity time.Time `json:"lastActivity"`
	IsActive     bool      `json:"isActive"`
}

// Settings holds the mutable per-session configuration.
type Settings struct {
	MaxParticipants        int  `json:"maxParticipants"`
	AllowViewerCursors     bool `json:"allowViewerCursors"`
	RequireApproval        bool `json:"requireApproval"` // carried but not yet consulted by any handler
	AutoPromoteOnHostLeave bool `json:"autoPromoteOnHostLeave"`
	CursorUpdateRate       int  `json:"cursorUpdateRate"` // ms, advisory only
}

// SettingsPatch is a partial settings update; nil fields are left untouched.
type SettingsPatch struct {
	Name                   *string `json:"name,omitempty"`
	MaxParticipants        *int    `json:"maxParticipants,omitempty" validate:"omitempty,min=1"`
	AllowViewerCursors     *bool   `json:"allowViewerCursors,omitempty"`
	RequireApproval        *bool   `json:"requireApproval,omitempty"`
	AutoPromoteOnHostLeave *bool   `json:"autoPromoteOnHostLeave,omitempty"`
	CursorUpdateRate       *int    `json:"cursorUpdateRate,omitempty" validate:"omitempty,min=1"`
}

// ChatMessage is an immutable chat history entry.
type ChatMessage struct {
	ID            string    `json:"id"`
	ParticipantID string    `json:"participantId"`
	Name          string    `json:"name"`
	Color         string    `json:"color,omitempty"`
	Content       string    `json:"content"`
	Timestamp     time.Time `json:"timestamp"`
}

// ActionRecord is an immutable record of a browser action issued in a session.
type ActionRecord struct {
	ID            string          `json:"id"`
	ParticipantID string          `json:"participantId"`
	Name          string          `json:"name"`
	Action        string          `json:"action"`
	Data          json.RawMessage `json:"data,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Session is one collaboration room. The store owns all Session state;
// everything handed out is a copy.
type Session struct {
	ID            string                  `json:"id"`
	Name          string                  `json:"name"`
	CreatedAt     time.Time               `json:"createdAt"`
	HostID        string                  `json:"hostId"`
	Participants  map[string]*Participant `json:"-"`
	Settings      Settings                `json:"settings"`
	InviteCode    string                  `json:"inviteCode"`
	ChatHistory   []ChatMessage           `json:"-"`
	ActionHistory []ActionRecord          `json:"-"`
}

// SessionSnapshot is a copy of a session safe to serialize and hand out.
type SessionSnapshot struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	CreatedAt    time.Time     `json:"createdAt"`
	HostID       string        `json:"hostId"`
	InviteCode   string        `json:"inviteCode"`
	Settings     Settings      `json:"settings"`
	Participants []Participant `json:"participants"`
}

// SessionSummary is the compact listing shape returned by listSessions.
type SessionSummary struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	CreatedAt        time.Time `json:"createdAt"`
	ParticipantCount int       `json:"participantCount"`
	MaxParticipants  int       `json:"maxParticipants"`
}
