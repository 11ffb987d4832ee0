package collab

import (
	"encoding/json"
	"strings"
	"sync"

	"go.uber.org/zap"

	apperrors "github.com/coviewhq/coview/pkg/errors"
	"github.com/coviewhq/coview/pkg/logger"
	"github.com/coviewhq/coview/pkg/metrics"
	"github.com/coviewhq/coview/pkg/validator"
)

// Forwarder is the boundary to the external browser-automation backend.
// Forwarding is fire-and-forget: failures never roll back session state.
type Forwarder interface {
	Forward(action string, data json.RawMessage)
}

// Router dispatches inbound messages by their type discriminator. Each
// handler validates, checks permissions, mutates the store, and emits
// events; expected failures become a single error reply to the sender.
//
// Handlers run one at a time under mu, held from validation through the
// fan-out. Enqueueing the event into every recipient inside the same
// critical section as the mutation guarantees all connections observe
// events in the order their causing commands were processed.
type Router struct {
	mu             sync.Mutex
	store          *Store
	registry       *Registry
	cursorLimiter  *SlidingWindowLimiter
	commandLimiter *SlidingWindowLimiter
	forwarder      Forwarder
	log            *zap.Logger
}

// NewRouter wires the coordinator's message router.
func NewRouter(store *Store, registry *Registry, cursorLimiter, commandLimiter *SlidingWindowLimiter, forwarder Forwarder) *Router {
	return &Router{
		store:          store,
		registry:       registry,
		cursorLimiter:  cursorLimiter,
		commandLimiter: commandLimiter,
		forwarder:      forwarder,
		log:            logger.WithComponent("router"),
	}
}

// HandleConnect registers a freshly accepted connection and greets it.
func (r *Router) HandleConnect(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.registry.Register(conn)
	r.unicast(conn, WelcomeEvent())
}

// HandleDisconnect runs the leave path for a closing connection, exactly
// as an explicit leaveSession would, then destroys the binding.
func (r *Router) HandleDisconnect(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if binding, ok := r.registry.Resolve(conn); ok && binding.Bound() {
		r.leaveBound(conn, binding)
	}
	r.registry.Unregister(conn)
}

// HandlePong records transport-level liveness for the connection.
func (r *Router) HandlePong(conn Conn) {
	r.registry.Touch(conn)
}

// HandleMessage is the single entry point for inbound frames. Unexpected
// internal faults are caught here, logged, and surfaced to the sender as a
// generic error; they never terminate the connection.
func (r *Router) HandleMessage(conn Conn, payload []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("panic during message handling", zap.Any("error", rec))
			r.unicast(conn, ErrorEvent(apperrors.ErrInternalServer.Code, apperrors.ErrInternalServer.Message))
		}
	}()

	r.mu.Lock()
	defer r.mu.Unlock()

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		r.unicast(conn, ErrorEvent(apperrors.ErrBadRequest.Code, "malformed message"))
		return
	}
	msgType := strings.TrimSpace(env.Type)
	if msgType == "" {
		r.unicast(conn, ErrorEvent(apperrors.ErrBadRequest.Code, "missing message type"))
		return
	}

	metrics.MessagesRouted.WithLabelValues(msgType).Inc()

	var err error
	switch msgType {
	case MsgCreateSession:
		err = r.handleCreateSession(conn, payload)
	case MsgJoinSession:
		err = r.handleJoinSession(conn, payload)
	case MsgLeaveSession:
		err = r.handleLeaveSession(conn)
	case MsgCursorMove:
		err = r.handleCursorMove(conn, payload)
	case MsgSetParticipantRole:
		err = r.handleSetRole(conn, payload)
	case MsgKickParticipant:
		err = r.handleKick(conn, payload)
	case MsgSessionChat:
		err = r.handleChat(conn, payload)
	case MsgBrowserAction:
		err = r.handleBrowserAction(conn, payload)
	case MsgUpdateSettings:
		err = r.handleUpdateSettings(conn, payload)
	case MsgGetSessionInfo:
		err = r.handleSessionInfo(conn, payload)
	case MsgListSessions:
		err = r.handleListSessions(conn)
	default:
		// Extension point: commands this core does not understand go to
		// the automation relay untouched.
		r.forward(msgType, payload)
	}

	if err != nil {
		appErr := apperrors.FromError(err)
		if appErr.Code == apperrors.ErrInternalServer.Code {
			r.log.Error("handler failure",
				zap.String("type", msgType),
				zap.Error(err),
			)
		}
		r.unicast(conn, ErrorEvent(appErr.Code, appErr.Message))
	}
}

func (r *Router) handleCreateSession(conn Conn, payload []byte) error {
	if binding, ok := r.registry.Resolve(conn); ok && binding.Bound() {
		return apperrors.ErrAlreadyBound
	}

	var req createSessionPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return apperrors.NewBadRequest("invalid createSession payload")
	}
	if err := validator.ValidateStruct(&req); err != nil {
		return apperrors.NewBadRequest(err.Error())
	}
	if req.Settings != nil {
		if err := validator.ValidateStruct(req.Settings); err != nil {
			return apperrors.NewBadRequest(err.Error())
		}
	}

	session, host, err := r.store.CreateSession(req.Name, req.HostName, req.Settings)
	if err != nil {
		return err
	}
	r.registry.Bind(conn, session.ID, host.ID)

	r.unicast(conn, NewEvent(EvtSessionCreated, map[string]any{
		"session":     session,
		"participant": host,
	}))
	return nil
}

func (r *Router) handleJoinSession(conn Conn, payload []byte) error {
	if binding, ok := r.registry.Resolve(conn); ok && binding.Bound() {
		return apperrors.ErrAlreadyBound
	}

	var req joinSessionPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return apperrors.NewBadRequest("invalid joinSession payload")
	}
	if err := validator.ValidateStruct(&req); err != nil {
		return apperrors.NewBadRequest(err.Error())
	}

	ref := strings.TrimSpace(req.SessionID)
	if ref == "" {
		ref = strings.TrimSpace(req.InviteCode)
	}
	if ref == "" {
		return apperrors.ErrNotFound
	}

	session, participant, history, err := r.store.JoinSession(ref, req.Name)
	if err != nil {
		return err
	}
	r.registry.Bind(conn, session.ID, participant.ID)

	r.unicast(conn, NewEvent(EvtSessionJoined, map[string]any{
		"session":     session,
		"participant": participant,
		"chatHistory": history,
	}))
	r.broadcast(session.ID, NewEvent(EvtParticipantJoined, map[string]any{
		"participant": participant,
	}), participant.ID)
	return nil
}

func (r *Router) handleLeaveSession(conn Conn) error {
	binding, ok := r.registry.Resolve(conn)
	if !ok || !binding.Bound() {
		return apperrors.ErrNotBound
	}
	r.leaveBound(conn, binding)
	return nil
}

// leaveBound performs store-level leave before clearing the binding so the
// registry never reports "left" while the store still counts the member.
func (r *Router) leaveBound(conn Conn, binding Binding) {
	result, err := r.store.Leave(binding.SessionID, binding.ParticipantID)
	r.registry.Unbind(conn)
	if err != nil {
		r.log.Warn("leave failed",
			zap.String("session_id", binding.SessionID),
			zap.String("participant_id", binding.ParticipantID),
			zap.Error(err),
		)
		return
	}
	if result.SessionDeleted {
		return
	}

	r.broadcast(binding.SessionID, NewEvent(EvtParticipantLeft, map[string]any{
		"participantId": result.Removed.ID,
		"name":          result.Removed.Name,
	}), "")
	if result.NewHost != nil {
		r.broadcast(binding.SessionID, NewEvent(EvtHostChanged, map[string]any{
			"hostId":      result.NewHost.ID,
			"participant": *result.NewHost,
		}), "")
	}
}

func (r *Router) handleCursorMove(conn Conn, payload []byte) error {
	binding, ok := r.registry.Resolve(conn)
	if !ok || !binding.Bound() {
		return apperrors.ErrNotBound
	}

	// Policy check precedes admission control so a disallowed viewer does
	// not spend cursor budget on rejected updates.
	if err := r.store.CanMoveCursor(binding.SessionID, binding.ParticipantID); err != nil {
		return err
	}

	// Cursor updates are high-frequency and transient; rejected ones are
	// dropped without an error reply.
	if !r.cursorLimiter.Allow(binding.ParticipantID) {
		metrics.RateLimited.WithLabelValues("cursor").Inc()
		return nil
	}

	var req cursorMovePayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return apperrors.NewBadRequest("invalid cursorMove payload")
	}

	participant, err := r.store.UpdateCursor(binding.SessionID, binding.ParticipantID, Cursor{X: req.X, Y: req.Y})
	if err != nil {
		return err
	}

	r.broadcast(binding.SessionID, NewEvent(EvtRemoteCursor, map[string]any{
		"participantId": participant.ID,
		"name":          participant.Name,
		"color":         participant.Color,
		"x":             req.X,
		"y":             req.Y,
	}), participant.ID)
	return nil
}

func (r *Router) handleSetRole(conn Conn, payload []byte) error {
	binding, ok := r.registry.Resolve(conn)
	if !ok || !binding.Bound() {
		return apperrors.ErrNotBound
	}

	var req setRolePayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return apperrors.NewBadRequest("invalid setParticipantRole payload")
	}
	if err := validator.ValidateStruct(&req); err != nil {
		return apperrors.NewBadRequest(err.Error())
	}

	target, err := r.store.SetRole(binding.SessionID, binding.ParticipantID, req.ParticipantID, req.Role)
	if err != nil {
		return err
	}

	r.broadcast(binding.SessionID, NewEvent(EvtRoleChanged, map[string]any{
		"participantId": target.ID,
		"role":          target.Role,
	}), "")
	return nil
}

func (r *Router) handleKick(conn Conn, payload []byte) error {
	binding, ok := r.registry.Resolve(conn)
	if !ok || !binding.Bound() {
		return apperrors.ErrNotBound
	}

	var req kickPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return apperrors.NewBadRequest("invalid kickParticipant payload")
	}
	if err := validator.ValidateStruct(&req); err != nil {
		return apperrors.NewBadRequest(err.Error())
	}

	target, err := r.store.Kick(binding.SessionID, binding.ParticipantID, req.ParticipantID)
	if err != nil {
		return err
	}

	// Tell the target first, then force-unbind it so it misses the
	// participantKicked broadcast that follows.
	for _, targetConn := range r.registry.UnbindParticipant(binding.SessionID, target.ID) {
		r.unicast(targetConn, NewEvent(EvtKicked, map[string]any{
			"sessionId": binding.SessionID,
		}))
	}
	r.broadcast(binding.SessionID, NewEvent(EvtParticipantKicked, map[string]any{
		"participantId": target.ID,
		"name":          target.Name,
	}), "")
	return nil
}

func (r *Router) handleChat(conn Conn, payload []byte) error {
	binding, ok := r.registry.Resolve(conn)
	if !ok || !binding.Bound() {
		return apperrors.ErrNotBound
	}

	if !r.commandLimiter.Allow(binding.ParticipantID + "|chat") {
		metrics.RateLimited.WithLabelValues("chat").Inc()
		return apperrors.ErrRateLimited
	}

	var req chatPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return apperrors.NewBadRequest("invalid sessionChat payload")
	}

	message, err := r.store.RecordChat(binding.SessionID, binding.ParticipantID, req.Content)
	if err != nil {
		return err
	}

	r.broadcast(binding.SessionID, NewEvent(EvtChatMessage, message), "")
	return nil
}

func (r *Router) handleBrowserAction(conn Conn, payload []byte) error {
	var req actionPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return apperrors.NewBadRequest("invalid browserAction payload")
	}
	if err := validator.ValidateStruct(&req); err != nil {
		return apperrors.NewBadRequest(err.Error())
	}

	binding, ok := r.registry.Resolve(conn)
	if !ok || !binding.Bound() {
		// Unbound actions bypass session semantics and go straight to the
		// automation backend.
		r.forward(req.Action, req.Data)
		return nil
	}

	// Role check precedes admission control so denied requests never
	// consume command budget.
	if err := r.store.CanAct(binding.SessionID, binding.ParticipantID); err != nil {
		return err
	}

	if !r.commandLimiter.Allow(binding.ParticipantID + "|action") {
		metrics.RateLimited.WithLabelValues("action").Inc()
		return apperrors.ErrRateLimited
	}

	record, err := r.store.RecordAction(binding.SessionID, binding.ParticipantID, req.Action, req.Data)
	if err != nil {
		return err
	}

	// Deliberate asymmetry with cursor moves: the acting participant is
	// included so every client renders the action from the same broadcast.
	r.broadcast(binding.SessionID, NewEvent(EvtActionPerformed, record), "")
	r.forward(record.Action, record.Data)
	return nil
}

func (r *Router) handleUpdateSettings(conn Conn, payload []byte) error {
	binding, ok := r.registry.Resolve(conn)
	if !ok || !binding.Bound() {
		return apperrors.ErrNotBound
	}

	var req settingsPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return apperrors.NewBadRequest("invalid updateSettings payload")
	}
	if err := validator.ValidateStruct(&req.Settings); err != nil {
		return apperrors.NewBadRequest(err.Error())
	}

	session, err := r.store.UpdateSettings(binding.SessionID, binding.ParticipantID, req.Settings)
	if err != nil {
		return err
	}

	r.broadcast(binding.SessionID, NewEvent(EvtSettingsUpdated, map[string]any{
		"name":     session.Name,
		"settings": session.Settings,
	}), "")
	return nil
}

func (r *Router) handleSessionInfo(conn Conn, payload []byte) error {
	var req infoPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return apperrors.NewBadRequest("invalid getSessionInfo payload")
	}

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		if binding, ok := r.registry.Resolve(conn); ok && binding.Bound() {
			sessionID = binding.SessionID
		}
	}

	snapshot, ok := r.store.Snapshot(sessionID)
	if !ok {
		return apperrors.ErrNotFound
	}

	r.unicast(conn, NewEvent(EvtSessionInfo, snapshot))
	return nil
}

func (r *Router) handleListSessions(conn Conn) error {
	r.unicast(conn, NewEvent(EvtSessionList, map[string]any{
		"sessions": r.store.List(),
	}))
	return nil
}

func (r *Router) unicast(conn Conn, event Event) {
	if conn == nil {
		return
	}
	if err := conn.Send(event); err != nil {
		r.log.Debug("unicast failed", zap.String("event", event.Type), zap.Error(err))
	}
}

// broadcast fans the event out to every connection bound to the session,
// optionally excluding one participant. A failed write to one connection
// never blocks delivery to the others.
func (r *Router) broadcast(sessionID string, event Event, excludeParticipantID string) {
	conns := r.registry.ConnectionsForSession(sessionID, excludeParticipantID)
	for _, conn := range conns {
		if err := conn.Send(event); err != nil {
			r.log.Debug("broadcast write failed", zap.String("event", event.Type), zap.Error(err))
		}
	}
	metrics.BroadcastEvents.WithLabelValues(event.Type).Add(float64(len(conns)))
}

// forward hands an action to the automation backend without awaiting its
// result.
func (r *Router) forward(action string, data json.RawMessage) {
	if r.forwarder == nil {
		return
	}
	metrics.RelayForwards.Inc()
	go r.forwarder.Forward(action, data)
}
