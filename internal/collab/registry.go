package collab

import (
	"sync"
	"time"
)

// Conn is the write capability the coordinator holds for one live
// connection. The transport layer owns the socket; the coordinator only
// ever serializes events into it.
type Conn interface {
	Send(event Event) error
}

// Binding ties a connection to at most one (session, participant) pair.
type Binding struct {
	ParticipantID string
	SessionID     string
	LastPing      time.Time
}

// Bound reports whether the connection belongs to a session.
func (b Binding) Bound() bool {
	return b.SessionID != ""
}

// Registry maps live connections to session membership. It holds ids into
// the store, never copies of store state, so "who is connected" and "who
// is a member" cannot diverge.
type Registry struct {
	mu        sync.RWMutex
	bindings  map[Conn]*Binding
	bySession map[string]map[Conn]string // session id -> conn -> participant id
	timeNow   func() time.Time
}

// NewRegistry constructs an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{
		bindings:  make(map[Conn]*Binding),
		bySession: make(map[string]map[Conn]string),
		timeNow:   time.Now,
	}
}

// Register creates an empty binding for a newly accepted connection.
func (r *Registry) Register(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.bindings[conn]; exists {
		return
	}
	r.bindings[conn] = &Binding{LastPing: r.timeNow()}
}

// Bind attaches the connection to a session membership. Called exactly
// once per successful create or join.
func (r *Registry) Bind(conn Conn, sessionID, participantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	binding, ok := r.bindings[conn]
	if !ok {
		binding = &Binding{LastPing: r.timeNow()}
		r.bindings[conn] = binding
	}

	binding.SessionID = sessionID
	binding.ParticipantID = participantID

	if r.bySession[sessionID] == nil {
		r.bySession[sessionID] = make(map[Conn]string)
	}
	r.bySession[sessionID][conn] = participantID
}

// Resolve returns the connection's current binding.
func (r *Registry) Resolve(conn Conn) (Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	binding, ok := r.bindings[conn]
	if !ok {
		return Binding{}, false
	}
	return *binding, true
}

// Unbind clears the connection's session membership but keeps the
// connection registered. The caller must perform the store-level leave
// first so the store never counts a participant the registry has dropped.
func (r *Registry) Unbind(conn Conn) (Binding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	binding, ok := r.bindings[conn]
	if !ok || !binding.Bound() {
		return Binding{}, false
	}

	previous := *binding
	r.removeFromSessionLocked(conn, binding.SessionID)
	binding.SessionID = ""
	binding.ParticipantID = ""

	return previous, true
}

// Unregister destroys the binding entirely; called when the connection
// closes. Returns the binding it held, if any.
func (r *Registry) Unregister(conn Conn) (Binding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	binding, ok := r.bindings[conn]
	if !ok {
		return Binding{}, false
	}

	if binding.Bound() {
		r.removeFromSessionLocked(conn, binding.SessionID)
	}
	delete(r.bindings, conn)

	return *binding, true
}

// UnbindParticipant force-unbinds every connection the participant holds in
// the session (the kick path) and returns those connections.
func (r *Registry) UnbindParticipant(sessionID, participantID string) []Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	var conns []Conn
	for conn, pid := range r.bySession[sessionID] {
		if pid != participantID {
			continue
		}
		conns = append(conns, conn)
		if binding, ok := r.bindings[conn]; ok {
			binding.SessionID = ""
			binding.ParticipantID = ""
		}
		delete(r.bySession[sessionID], conn)
	}
	if len(r.bySession[sessionID]) == 0 {
		delete(r.bySession, sessionID)
	}
	return conns
}

// ConnectionsForSession returns all connections bound to the session,
// optionally excluding one participant's connections.
func (r *Registry) ConnectionsForSession(sessionID, excludeParticipantID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.bySession[sessionID]
	conns := make([]Conn, 0, len(members))
	for conn, pid := range members {
		if excludeParticipantID != "" && pid == excludeParticipantID {
			continue
		}
		conns = append(conns, conn)
	}
	return conns
}

// Touch records connection liveness from the transport's ping/pong cycle.
func (r *Registry) Touch(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if binding, ok := r.bindings[conn]; ok {
		binding.LastPing = r.timeNow()
	}
}

func (r *Registry) removeFromSessionLocked(conn Conn, sessionID string) {
	delete(r.bySession[sessionID], conn)
	if len(r.bySession[sessionID]) == 0 {
		delete(r.bySession, sessionID)
	}
}
