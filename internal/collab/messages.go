package collab

import "encoding/json"

// ProtocolVersion is announced in the welcome event sent on connect.
const ProtocolVersion = "1.0"

// Inbound command vocabulary. Anything else is forwarded verbatim to the
// automation relay as an extension point.
const (
	MsgCreateSession      = "createSession"
	MsgJoinSession        = "joinSession"
	MsgLeaveSession       = "leaveSession"
	MsgCursorMove         = "cursorMove"
	MsgSetParticipantRole = "setParticipantRole"
	MsgKickParticipant    = "kickParticipant"
	MsgSessionChat        = "sessionChat"
	MsgBrowserAction      = "browserAction"
	MsgUpdateSettings     = "updateSettings"
	MsgGetSessionInfo     = "getSessionInfo"
	MsgListSessions       = "listSessions"
)

// Outbound event vocabulary.
const (
	EvtWelcome           = "welcome"
	EvtError             = "error"
	EvtSessionCreated    = "sessionCreated"
	EvtSessionJoined     = "sessionJoined"
	EvtParticipantJoined = "participantJoined"
	EvtParticipantLeft   = "participantLeft"
	EvtHostChanged       = "hostChanged"
	EvtRemoteCursor      = "remoteCursor"
	EvtRoleChanged       = "roleChanged"
	EvtKicked            = "kicked"
	EvtParticipantKicked = "participantKicked"
	EvtChatMessage       = "chatMessage"
	EvtActionPerformed   = "actionPerformed"
	EvtSettingsUpdated   = "settingsUpdated"
	EvtSessionInfo       = "sessionInfo"
	EvtSessionList       = "sessionList"
)

// envelope carries only the discriminator; command payloads decode into
// their own closed structs in a second pass.
type envelope struct {
	Type string `json:"type"`
}

type createSessionPayload struct {
	Name     string         `json:"name" validate:"max=128"`
	HostName string         `json:"hostName" validate:"max=128"`
	Settings *SettingsPatch `json:"settings,omitempty"`
}

type joinSessionPayload struct {
	SessionID  string `json:"sessionId" validate:"max=64"`
	InviteCode string `json:"inviteCode" validate:"max=16"`
	Name       string `json:"name" validate:"max=128"`
}

type cursorMovePayload struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type setRolePayload struct {
	ParticipantID string `json:"participantId" validate:"required"`
	Role          Role   `json:"role" validate:"required"`
}

type kickPayload struct {
	ParticipantID string `json:"participantId" validate:"required"`
}

type chatPayload struct {
	Content string `json:"content"`
}

type actionPayload struct {
	Action string          `json:"action" validate:"required"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type settingsPayload struct {
	Settings SettingsPatch `json:"settings"`
}

type infoPayload struct {
	SessionID string `json:"sessionId"`
}

// Event is the outbound wire envelope: a type discriminator plus an
// event-specific payload.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// NewEvent builds an outbound event.
func NewEvent(eventType string, data any) Event {
	return Event{Type: eventType, Data: data}
}

// ErrorEvent builds the error reply sent to an originating connection.
func ErrorEvent(code, message string) Event {
	return Event{
		Type: EvtError,
		Data: map[string]string{
			"code":    code,
			"message": message,
		},
	}
}

// WelcomeEvent is sent immediately after a connection is accepted.
func WelcomeEvent() Event {
	return Event{
		Type: EvtWelcome,
		Data: map[string]string{"protocolVersion": ProtocolVersion},
	}
}
