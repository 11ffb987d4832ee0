package collab

import (
	"encoding/json"
	"html"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/coviewhq/coview/pkg/errors"
	"github.com/coviewhq/coview/pkg/logger"
	"github.com/coviewhq/coview/pkg/metrics"
)

const (
	sessionIDBytes     = 16
	participantIDBytes = 12

	inviteCodeAttempts = 10
)

// StoreOption customises the Store.
type StoreOption func(*Store)

// WithStoreClock overrides the clock, primarily for tests.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.timeNow = now
		}
	}
}

// WithDefaultMaxParticipants adjusts the default participant cap applied
// when a session is created without an explicit override.
func WithDefaultMaxParticipants(n int) StoreOption {
	return func(s *Store) {
		if n >= 1 {
			s.defaultMax = n
		}
	}
}

// Store is the in-memory registry of sessions, participants and invite
// codes. It exclusively owns all session state and is the single source of
// truth for authorization decisions; everything it hands out is a copy.
type Store struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	inviteIndex map[string]string // uppercase invite code -> session id
	defaultMax  int
	timeNow     func() time.Time
	log         *zap.Logger
}

// NewStore constructs an empty session store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		sessions:    make(map[string]*Session),
		inviteIndex: make(map[string]string),
		defaultMax:  10,
		timeNow:     time.Now,
		log:         logger.WithComponent("store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LeaveResult describes what a Leave call changed.
type LeaveResult struct {
	Removed        Participant
	SessionDeleted bool
	NewHost        *Participant
}

// CreateSession allocates a session with its first participant as host and
// admin. Unknown settings fields in the override are ignored by decoding;
// known fields overwrite defaults.
func (s *Store) CreateSession(name, hostName string, override *SettingsPatch) (SessionSnapshot, Participant, error) {
	sessionID, err := GenerateID(sessionIDBytes)
	if err != nil {
		return SessionSnapshot{}, Participant{}, apperrors.Wrap(err, "failed to allocate session id")
	}
	participantID, err := GenerateID(participantIDBytes)
	if err != nil {
		return SessionSnapshot{}, Participant{}, apperrors.Wrap(err, "failed to allocate participant id")
	}

	name = sanitizeName(name, defaultSessionName)
	hostName = sanitizeName(hostName, defaultParticipantName)
	now := s.timeNow()

	settings := Settings{
		MaxParticipants:        s.defaultMax,
		AllowViewerCursors:     true,
		RequireApproval:        false,
		AutoPromoteOnHostLeave: true,
		CursorUpdateRate:       50,
	}
	mergeSettings(&settings, nil, override)

	host := &Participant{
		ID:           participantID,
		Name:         hostName,
		Color:        AssignColor(nil),
		Role:         RoleAdmin,
		JoinedAt:     now,
		LastActivity: now,
		IsActive:     true,
	}

	session := &Session{
		ID:           sessionID,
		Name:         name,
		CreatedAt:    now,
		HostID:       host.ID,
		Participants: map[string]*Participant{host.ID: host},
		Settings:     settings,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	code, err := s.allocateInviteCodeLocked()
	if err != nil {
		return SessionSnapshot{}, Participant{}, err
	}
	session.InviteCode = code

	s.sessions[session.ID] = session
	s.inviteIndex[code] = session.ID

	metrics.ActiveSessions.Inc()
	metrics.ActiveParticipants.Inc()
	s.log.Info("session created",
		zap.String("session_id", session.ID),
		zap.String("host_id", host.ID),
	)

	return snapshotLocked(session), *cloneParticipant(host), nil
}

// JoinSession admits a new participant into the session referenced by a
// session id or an invite code (case-insensitive). New participants always
// enter as viewers. The session's chat history is returned for the joiner.
func (s *Store) JoinSession(ref, name string) (SessionSnapshot, Participant, []ChatMessage, error) {
	participantID, err := GenerateID(participantIDBytes)
	if err != nil {
		return SessionSnapshot{}, Participant{}, nil, apperrors.Wrap(err, "failed to allocate participant id")
	}

	name = sanitizeName(name, defaultParticipantName)
	now := s.timeNow()

	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.resolveLocked(ref)
	if !ok {
		return SessionSnapshot{}, Participant{}, nil, apperrors.ErrNotFound
	}
	if len(session.Participants) >= session.Settings.MaxParticipants {
		return SessionSnapshot{}, Participant{}, nil, apperrors.ErrSessionFull
	}

	used := make(map[string]struct{}, len(session.Participants))
	for _, p := range session.Participants {
		used[p.Color] = struct{}{}
	}

	participant := &Participant{
		ID:           participantID,
		Name:         name,
		Color:        AssignColor(used),
		Role:         RoleViewer,
		JoinedAt:     now,
		LastActivity: now,
		IsActive:     true,
	}
	session.Participants[participant.ID] = participant

	metrics.ActiveParticipants.Inc()

	history := make([]ChatMessage, len(session.ChatHistory))
	copy(history, session.ChatHistory)

	return snapshotLocked(session), *cloneParticipant(participant), history, nil
}

// Leave removes the participant. Emptying the session deletes it and its
// invite code in the same step. A departing host triggers promotion of the
// earliest-joined remaining participant when autoPromoteOnHostLeave is set;
// otherwise the session is left hostless.
func (s *Store) Leave(sessionID, participantID string) (LeaveResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return LeaveResult{}, apperrors.ErrNotFound
	}
	participant, ok := session.Participants[participantID]
	if !ok {
		return LeaveResult{}, apperrors.ErrNotFound
	}

	delete(session.Participants, participantID)
	metrics.ActiveParticipants.Dec()

	result := LeaveResult{Removed: *cloneParticipant(participant)}

	if len(session.Participants) == 0 {
		s.deleteSessionLocked(session)
		result.SessionDeleted = true
		return result, nil
	}

	if session.HostID == participantID {
		if session.Settings.AutoPromoteOnHostLeave {
			successor := earliestJoinedLocked(session)
			successor.Role = RoleAdmin
			session.HostID = successor.ID
			result.NewHost = cloneParticipant(successor)
			s.log.Info("host promoted",
				zap.String("session_id", session.ID),
				zap.String("host_id", successor.ID),
			)
		} else {
			session.HostID = ""
		}
	}

	return result, nil
}

// SetRole changes the target's role. Only admins may change roles, and the
// current host can never be demoted below admin while still host.
func (s *Store) SetRole(sessionID, actorID, targetID string, newRole Role) (Participant, error) {
	if !newRole.Valid() {
		return Participant{}, apperrors.NewBadRequest("unknown role")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return Participant{}, apperrors.ErrNotFound
	}
	actor, ok := session.Participants[actorID]
	if !ok {
		return Participant{}, apperrors.ErrNotFound
	}
	if actor.Role != RoleAdmin {
		return Participant{}, apperrors.ErrPermissionDenied
	}
	target, ok := session.Participants[targetID]
	if !ok {
		return Participant{}, apperrors.ErrNotFound
	}
	if session.HostID == targetID && newRole != RoleAdmin {
		return Participant{}, apperrors.ErrInvariantViolation.WithMessage("the host cannot be demoted while hosting")
	}

	target.Role = newRole
	return *cloneParticipant(target), nil
}

// Kick removes the target from the session. Only admins may kick, and the
// host is never kickable; it can only leave.
func (s *Store) Kick(sessionID, actorID, targetID string) (Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return Participant{}, apperrors.ErrNotFound
	}
	actor, ok := session.Participants[actorID]
	if !ok {
		return Participant{}, apperrors.ErrNotFound
	}
	if actor.Role != RoleAdmin {
		return Participant{}, apperrors.ErrPermissionDenied
	}
	target, ok := session.Participants[targetID]
	if !ok {
		return Participant{}, apperrors.ErrNotFound
	}
	if session.HostID == targetID {
		return Participant{}, apperrors.ErrInvariantViolation.WithMessage("the host cannot be kicked")
	}

	delete(session.Participants, targetID)
	metrics.ActiveParticipants.Dec()

	return *cloneParticipant(target), nil
}

// RecordChat sanitises and appends a chat message, truncating history to
// the last entries once the cap is exceeded.
func (s *Store) RecordChat(sessionID, participantID, content string) (ChatMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return ChatMessage{}, apperrors.NewBadRequest("message content is required")
	}
	if utf8.RuneCountInString(content) > maxChatMessageLength {
		return ChatMessage{}, apperrors.NewBadRequest("message content exceeds maximum length")
	}
	sanitized := html.EscapeString(content)

	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return ChatMessage{}, apperrors.ErrNotFound
	}
	participant, ok := session.Participants[participantID]
	if !ok {
		return ChatMessage{}, apperrors.ErrNotFound
	}

	now := s.timeNow()
	participant.LastActivity = now
	participant.IsActive = true

	message := ChatMessage{
		ID:            uuid.NewString(),
		ParticipantID: participant.ID,
		Name:          participant.Name,
		Color:         participant.Color,
		Content:       sanitized,
		Timestamp:     now,
	}

	session.ChatHistory = append(session.ChatHistory, message)
	if len(session.ChatHistory) > maxChatHistory {
		session.ChatHistory = session.ChatHistory[len(session.ChatHistory)-maxChatHistory:]
	}

	return message, nil
}

// RecordAction appends a browser action record. Viewers cannot act; the
// check lives here so it is atomic with the mutation.
func (s *Store) RecordAction(sessionID, participantID, action string, data json.RawMessage) (ActionRecord, error) {
	action = strings.TrimSpace(action)
	if action == "" {
		return ActionRecord{}, apperrors.NewBadRequest("action type is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return ActionRecord{}, apperrors.ErrNotFound
	}
	participant, ok := session.Participants[participantID]
	if !ok {
		return ActionRecord{}, apperrors.ErrNotFound
	}
	if !participant.Role.CanAct() {
		return ActionRecord{}, apperrors.ErrPermissionDenied
	}

	now := s.timeNow()
	participant.LastActivity = now
	participant.IsActive = true

	record := ActionRecord{
		ID:            uuid.NewString(),
		ParticipantID: participant.ID,
		Name:          participant.Name,
		Action:        action,
		Data:          data,
		Timestamp:     now,
	}

	session.ActionHistory = append(session.ActionHistory, record)
	if len(session.ActionHistory) > maxActionHistory {
		session.ActionHistory = session.ActionHistory[len(session.ActionHistory)-maxActionHistory:]
	}

	return record, nil
}

// CanAct reports whether the participant may issue browser actions, as a
// read-only precondition check. RecordAction re-checks atomically with
// the mutation; this exists so callers can reject before spending rate
// budget.
func (s *Store) CanAct(sessionID, participantID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return apperrors.ErrNotFound
	}
	participant, ok := session.Participants[participantID]
	if !ok {
		return apperrors.ErrNotFound
	}
	if !participant.Role.CanAct() {
		return apperrors.ErrPermissionDenied
	}
	return nil
}

// CanMoveCursor reports whether the participant's cursor updates are
// admissible under the session's viewer-cursor policy. UpdateCursor
// re-checks atomically with the mutation.
func (s *Store) CanMoveCursor(sessionID, participantID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return apperrors.ErrNotFound
	}
	participant, ok := session.Participants[participantID]
	if !ok {
		return apperrors.ErrNotFound
	}
	if participant.Role == RoleViewer && !session.Settings.AllowViewerCursors {
		return apperrors.ErrPermissionDenied
	}
	return nil
}

// UpdateCursor overwrites the participant's last-known pointer position.
// Viewer cursors require the allowViewerCursors setting.
func (s *Store) UpdateCursor(sessionID, participantID string, cursor Cursor) (Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return Participant{}, apperrors.ErrNotFound
	}
	participant, ok := session.Participants[participantID]
	if !ok {
		return Participant{}, apperrors.ErrNotFound
	}
	if participant.Role == RoleViewer && !session.Settings.AllowViewerCursors {
		return Participant{}, apperrors.ErrPermissionDenied
	}

	participant.Cursor = &Cursor{X: cursor.X, Y: cursor.Y}
	participant.LastActivity = s.timeNow()
	participant.IsActive = true

	return *cloneParticipant(participant), nil
}

// UpdateSettings shallow-merges the provided fields over the session's
// settings. Admin only. A name field renames the session.
func (s *Store) UpdateSettings(sessionID, actorID string, patch SettingsPatch) (SessionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return SessionSnapshot{}, apperrors.ErrNotFound
	}
	actor, ok := session.Participants[actorID]
	if !ok {
		return SessionSnapshot{}, apperrors.ErrNotFound
	}
	if actor.Role != RoleAdmin {
		return SessionSnapshot{}, apperrors.ErrPermissionDenied
	}

	mergeSettings(&session.Settings, session, &patch)
	return snapshotLocked(session), nil
}

// Snapshot returns a copy of the session, if it exists.
func (s *Store) Snapshot(sessionID string) (SessionSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return SessionSnapshot{}, false
	}
	return snapshotLocked(session), true
}

// Resolve maps a session id or invite code to a live session id.
func (s *Store) Resolve(ref string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.resolveLocked(ref)
	if !ok {
		return "", false
	}
	return session.ID, true
}

// GetParticipant returns a copy of the participant, if present.
func (s *Store) GetParticipant(sessionID, participantID string) (Participant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return Participant{}, false
	}
	participant, ok := session.Participants[participantID]
	if !ok {
		return Participant{}, false
	}
	return *cloneParticipant(participant), true
}

// List returns compact summaries of all live sessions.
func (s *Store) List() []SessionSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summaries := make([]SessionSummary, 0, len(s.sessions))
	for _, session := range s.sessions {
		summaries = append(summaries, SessionSummary{
			ID:               session.ID,
			Name:             session.Name,
			CreatedAt:        session.CreatedAt,
			ParticipantCount: len(session.Participants),
			MaxParticipants:  session.Settings.MaxParticipants,
		})
	}
	return summaries
}

// MarkInactive flips isActive off for participants idle longer than the
// threshold. It never removes anyone; the flag is advisory for UIs.
func (s *Store) MarkInactive(threshold time.Duration) int {
	if threshold <= 0 {
		return 0
	}
	cutoff := s.timeNow().Add(-threshold)

	s.mu.Lock()
	defer s.mu.Unlock()

	marked := 0
	for _, session := range s.sessions {
		for _, participant := range session.Participants {
			if participant.IsActive && participant.LastActivity.Before(cutoff) {
				participant.IsActive = false
				marked++
			}
		}
	}
	return marked
}

// SessionCount returns the number of live sessions.
func (s *Store) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Store) resolveLocked(ref string) (*Session, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, false
	}
	if session, ok := s.sessions[ref]; ok {
		return session, true
	}
	if id, ok := s.inviteIndex[strings.ToUpper(ref)]; ok {
		return s.sessions[id], true
	}
	return nil, false
}

func (s *Store) allocateInviteCodeLocked() (string, error) {
	for attempt := 0; attempt < inviteCodeAttempts; attempt++ {
		code, err := GenerateInviteCode()
		if err != nil {
			return "", apperrors.Wrap(err, "failed to allocate invite code")
		}
		if _, taken := s.inviteIndex[code]; !taken {
			return code, nil
		}
	}
	return "", apperrors.ErrInternalServer.WithMessage("invite code space exhausted")
}

func (s *Store) deleteSessionLocked(session *Session) {
	delete(s.sessions, session.ID)
	delete(s.inviteIndex, session.InviteCode)
	metrics.ActiveSessions.Dec()
	s.log.Info("session deleted", zap.String("session_id", session.ID))
}

func mergeSettings(settings *Settings, session *Session, patch *SettingsPatch) {
	if patch == nil {
		return
	}
	if patch.Name != nil && session != nil {
		if name := sanitizeName(*patch.Name, ""); name != "" {
			session.Name = name
		}
	}
	if patch.MaxParticipants != nil && *patch.MaxParticipants >= 1 {
		settings.MaxParticipants = *patch.MaxParticipants
	}
	if patch.AllowViewerCursors != nil {
		settings.AllowViewerCursors = *patch.AllowViewerCursors
	}
	if patch.RequireApproval != nil {
		settings.RequireApproval = *patch.RequireApproval
	}
	if patch.AutoPromoteOnHostLeave != nil {
		settings.AutoPromoteOnHostLeave = *patch.AutoPromoteOnHostLeave
	}
	if patch.CursorUpdateRate != nil && *patch.CursorUpdateRate >= 1 {
		settings.CursorUpdateRate = *patch.CursorUpdateRate
	}
}

func earliestJoinedLocked(session *Session) *Participant {
	var earliest *Participant
	for _, p := range session.Participants {
		switch {
		case earliest == nil:
			earliest = p
		case p.JoinedAt.Before(earliest.JoinedAt):
			earliest = p
		case p.JoinedAt.Equal(earliest.JoinedAt) && p.ID < earliest.ID:
			earliest = p
		}
	}
	return earliest
}

func snapshotLocked(session *Session) SessionSnapshot {
	participants := make([]Participant, 0, len(session.Participants))
	for _, p := range session.Participants {
		participants = append(participants, *cloneParticipant(p))
	}
	sort.SliceStable(participants, func(i, j int) bool {
		return participants[i].JoinedAt.Before(participants[j].JoinedAt)
	})

	return SessionSnapshot{
		ID:           session.ID,
		Name:         session.Name,
		CreatedAt:    session.CreatedAt,
		HostID:       session.HostID,
		InviteCode:   session.InviteCode,
		Settings:     session.Settings,
		Participants: participants,
	}
}

func cloneParticipant(p *Participant) *Participant {
	clone := *p
	if p.Cursor != nil {
		cursor := *p.Cursor
		clone.Cursor = &cursor
	}
	return &clone
}

func sanitizeName(name, fallback string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return fallback
	}
	if utf8.RuneCountInString(name) > maxDisplayNameLength {
		runes := []rune(name)
		name = string(runes[:maxDisplayNameLength])
	}
	return html.EscapeString(name)
}
