package services

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"songline/models"
	"songline/rules"
)

const (
	storeTimeout     = 5 * time.Second
	alarmRetryDelay  = time.Second
	MaxVetoTokens    = 5
	eventGameStarted = "game_started"
	eventGameWon     = "game_won"
	eventGameOver    = "game_finished"
)

type SessionConfig struct {
	Defaults        models.Settings
	ReconnectWindow time.Duration
}

// RoomSummary is what the directory needs to answer code lookups.
type RoomSummary struct {
	RoomID         string
	Status         models.RoomStatus
	TeamAPlayers   int
	TeamBPlayers   int
	LastActivityAt time.Time
}

// RoomRecorder receives best-effort write-backs from room sessions.
type RoomRecorder interface {
	UpdateSummary(ctx context.Context, summary RoomSummary) error
	RecordEvent(ctx context.Context, roomID, eventType string, payload any) error
}

type SessionDeps struct {
	Hub       *Hub
	Store     StateStore
	Catalog   SongCatalog
	Recorder  RoomRecorder
	Scheduler Scheduler
	Clock     func() time.Time
	Rand      *rand.Rand
	Config    SessionConfig
}

type alarmKey struct {
	tiebreaker bool
	round      int
	attempt    int
	phase      models.Phase
	endsAt     int64
}

type vote struct {
	PlayerID   string      `json:"playerId"`
	Name       string      `json:"name"`
	Suggestion interface{} `json:"suggestion"`
}

// RoomSession owns the authoritative state of one room. It is not safe for
// concurrent use: a roomActor feeds it one message at a time.
type RoomSession struct {
	roomID    string
	hub       *Hub
	store     StateStore
	catalog   SongCatalog
	recorder  RoomRecorder
	scheduler Scheduler
	now       func() time.Time
	rng       *rand.Rand
	config    SessionConfig
	log       zerolog.Logger

	state  *models.GameState
	loaded bool

	alarm    Alarm
	alarmKey alarmKey
	alarmGen uint64

	// post runs fn on the actor goroutine; alarms fire through it.
	post func(fn func())

	votesFor alarmKey
	votes    map[string]vote
	pending  []func()
}

func NewRoomSession(roomID string, deps SessionDeps) *RoomSession {
	s := &RoomSession{
		roomID:    roomID,
		hub:       deps.Hub,
		store:     deps.Store,
		catalog:   deps.Catalog,
		recorder:  deps.Recorder,
		scheduler: deps.Scheduler,
		now:       deps.Clock,
		rng:       deps.Rand,
		config:    deps.Config,
		log:       log.With().Str("room", roomID).Logger(),
		votes:     make(map[string]vote),
	}
	if s.scheduler == nil {
		s.scheduler = TimerScheduler
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.post = func(fn func()) { fn() }
	return s
}

func (s *RoomSession) RoomID() string {
	return s.roomID
}

// State exposes the current snapshot; nil until initialized.
func (s *RoomSession) State() *models.GameState {
	return s.state
}

// ensureLoaded lazily reads the last snapshot. A missing snapshot leaves the
// room uninitialized; a read failure is retried on the next message.
func (s *RoomSession) ensureLoaded() error {
	if s.loaded {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	state, err := s.store.Load(ctx, s.roomID)
	switch {
	case errors.Is(err, ErrStateNotFound):
		s.state = nil
	case err != nil:
		s.log.Error().Err(err).Msg("failed to load room state")
		return ErrInternal
	default:
		s.state = state
		s.log.Info().Str("status", string(state.Status)).Msg("room state reloaded")
	}
	s.loaded = true
	s.syncAlarm()
	return nil
}

// Shutdown cancels the pending alarm before the actor is evicted.
func (s *RoomSession) Shutdown() {
	s.cancelAlarm()
}

// Initialize creates the room in the lobby. A finished room may be
// initialized again, keeping its roster.
func (s *RoomSession) Initialize(code string, mode models.GameMode) error {
	if err := s.ensureLoaded(); err != nil {
		return err
	}
	if !mode.Valid() {
		return ErrMalformedPayload.Withf("invalid mode %q", mode)
	}
	if s.state != nil && s.state.Status != models.StatusFinished {
		return ErrAlreadyInitialized
	}

	previous := s.state
	fresh, err := s.newState(code, mode, previous)
	if err != nil {
		return err
	}
	s.state = fresh
	s.pending = s.pending[:0]
	s.broadcastState()
	if err := s.commit(previous); err != nil {
		return err
	}
	s.log.Info().Str("code", code).Str("mode", string(mode)).Int("songs", len(fresh.SongPool)).Msg("room initialized")
	return nil
}

func (s *RoomSession) newState(code string, mode models.GameMode, previous *models.GameState) (*models.GameState, error) {
	settings := s.config.Defaults
	if previous != nil {
		settings = previous.Settings
	}
	state := models.NewGameState(s.roomID, code, mode, settings, s.now())

	if mode == models.ModeClassic {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		songs, err := s.catalog.Songs(ctx)
		if err != nil {
			s.log.Error().Err(err).Msg("failed to load song catalog")
			return nil, ErrInternal
		}
		state.SongPool = rules.ShuffleSongs(songs, s.rng)
	}

	if previous != nil {
		for _, id := range models.TeamIDs {
			for _, p := range previous.Team(id).Players {
				copied := *p
				state.Team(id).Players = append(state.Team(id).Players, &copied)
			}
		}
		if mode == models.ModeCustom {
			state.SongPool = append(state.SongPool, previous.PlayedSongs...)
			state.SongPool = append(state.SongPool, previous.SongPool...)
			state.SongPool = rules.ShuffleSongs(state.SongPool, s.rng)
		}
	}
	return state, nil
}

// mutate runs fn against the live state. On error the state is restored
// from a snapshot and nothing is sent. On success the state is persisted
// before any queued message goes out.
func (s *RoomSession) mutate(fn func(st *models.GameState) error) error {
	if err := s.ensureLoaded(); err != nil {
		return err
	}
	if s.state == nil {
		return ErrNotInitialized
	}
	backup, err := s.state.Clone()
	if err != nil {
		s.log.Error().Err(err).Msg("failed to snapshot room state")
		return ErrInternal
	}

	s.pending = s.pending[:0]
	if err := fn(s.state); err != nil {
		s.state = backup
		s.pending = s.pending[:0]
		if errors.Is(err, errNoChange) {
			return nil
		}
		return err
	}
	return s.commit(backup)
}

func (s *RoomSession) commit(backup *models.GameState) error {
	s.state.LastActivityAt = s.now()

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := s.store.Save(ctx, s.state); err != nil {
		s.log.Error().Err(err).Msg("failed to persist room state")
		s.state = backup
		s.pending = s.pending[:0]
		return ErrInternal
	}

	s.flush()
	s.syncAlarm()
	s.publishSummary(ctx)
	return nil
}

func (s *RoomSession) flush() {
	queued := s.pending
	s.pending = nil
	for _, fn := range queued {
		fn()
	}
}

func (s *RoomSession) queue(fn func()) {
	s.pending = append(s.pending, fn)
}

func (s *RoomSession) publishSummary(ctx context.Context) {
	if s.recorder == nil || s.state == nil {
		return
	}
	summary := RoomSummary{
		RoomID:         s.roomID,
		Status:         s.state.Status,
		TeamAPlayers:   len(s.state.Team(models.TeamA).Players),
		TeamBPlayers:   len(s.state.Team(models.TeamB).Players),
		LastActivityAt: s.state.LastActivityAt,
	}
	if err := s.recorder.UpdateSummary(ctx, summary); err != nil {
		s.log.Warn().Err(err).Msg("failed to update room summary")
	}
}

func (s *RoomSession) recordEvent(eventType string, payload any) {
	if s.recorder == nil {
		return
	}
	s.queue(func() {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := s.recorder.RecordEvent(ctx, s.roomID, eventType, payload); err != nil {
			s.log.Warn().Err(err).Str("event", eventType).Msg("failed to record room event")
		}
	})
}

// deliver writes one message to one connection. A failed send is treated as
// a disconnect, never as an error of the action that produced it.
func (s *RoomSession) deliver(conn Connection, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.log.Error().Err(err).Str("type", msg.Type).Msg("failed to marshal message")
		return
	}
	if err := conn.Send(data); err != nil {
		s.log.Warn().Err(err).Str("conn", conn.ID()).Str("type", msg.Type).Msg("send failed")
		s.hub.Drop(conn, err.Error())
	}
}

func (s *RoomSession) broadcast(msgType string, payload interface{}) {
	s.broadcastWhere(msgType, payload, func(ConnInfo) bool { return true })
}

func (s *RoomSession) broadcastExcept(except Connection, msgType string, payload interface{}) {
	s.broadcastWhere(msgType, payload, func(info ConnInfo) bool {
		return info.Conn.ID() != except.ID()
	})
}

func (s *RoomSession) broadcastWhere(msgType string, payload interface{}, include func(ConnInfo) bool) {
	msg := Message{Type: msgType, Payload: payload}
	s.queue(func() {
		for _, info := range s.hub.Connections(s.roomID) {
			if include(info) {
				s.deliver(info.Conn, msg)
			}
		}
	})
}

func (s *RoomSession) sendTo(conn Connection, msgType string, payload interface{}) {
	msg := Message{Type: msgType, Payload: payload}
	s.queue(func() { s.deliver(conn, msg) })
}

// broadcastState sends every connection the view its role and session allow.
func (s *RoomSession) broadcastState() {
	s.queue(func() {
		for _, info := range s.hub.Connections(s.roomID) {
			s.deliver(info.Conn, s.stateMessage(info.Conn.Role(), info.SessionID))
		}
	})
}

func (s *RoomSession) sendState(conn Connection, sessionID string) {
	s.queue(func() { s.deliver(conn, s.stateMessage(conn.Role(), sessionID)) })
}

func (s *RoomSession) stateMessage(role Role, sessionID string) Message {
	return Message{Type: MsgStateSync, Payload: buildStateView(s.state, role, sessionID, s.now())}
}

func (s *RoomSession) replyError(conn Connection, err error) {
	gameErr := asGameError(err)
	if gameErr == ErrInternal {
		s.log.Error().Err(err).Str("conn", conn.ID()).Msg("action failed")
	} else {
		s.log.Debug().Str("code", gameErr.Code).Str("conn", conn.ID()).Msg(gameErr.Message)
	}
	s.deliver(conn, errorMessage(gameErr))
}

// Connect greets a new connection with the current state.
func (s *RoomSession) Connect(conn Connection) {
	if err := s.ensureLoaded(); err != nil {
		s.replyError(conn, err)
		return
	}
	if s.state == nil {
		return
	}
	s.deliver(conn, s.stateMessage(conn.Role(), s.hub.SessionFor(conn)))
}

// Handle dispatches one inbound message strictly by type.
func (s *RoomSession) Handle(conn Connection, msg InboundMessage) {
	if err := s.handle(conn, msg); err != nil {
		s.replyError(conn, err)
	}
}

func (s *RoomSession) handle(conn Connection, msg InboundMessage) error {
	if err := s.ensureLoaded(); err != nil {
		return err
	}

	switch msg.Type {
	case MsgJoin:
		var p JoinPayload
		if err := decodePayload(msg.Payload, &p); err != nil {
			return err
		}
		return s.Join(conn, p.SessionID, p.Name, p.Team)
	case MsgReconnect:
		var p ReconnectPayload
		if err := decodePayload(msg.Payload, &p); err != nil {
			return err
		}
		return s.Reconnect(conn, p.SessionID)
	case MsgLeave:
		return s.Leave(conn)
	case MsgReassignTeam:
		var p ReassignTeamPayload
		if err := decodePayload(msg.Payload, &p); err != nil {
			return err
		}
		return s.ReassignTeam(conn, p.PlayerID, p.Team)
	case MsgUpdateSettings:
		var p UpdateSettingsPayload
		if err := decodePayload(msg.Payload, &p); err != nil {
			return err
		}
		return s.UpdateSettings(conn, p)
	case MsgStartGame:
		return s.StartGame(conn)
	case MsgClaimTeamLeader:
		return s.ClaimTeamLeader(conn)
	case MsgSongScanned:
		return s.SongScanned(conn)
	case MsgSubmitQuiz:
		var p AnswerPayload
		if err := decodePayload(msg.Payload, &p); err != nil {
			return err
		}
		return s.SubmitQuiz(conn, p)
	case MsgSubmitPlacement:
		var p PositionPayload
		if err := decodePayload(msg.Payload, &p); err != nil {
			return err
		}
		return s.SubmitPlacement(conn, *p.Position)
	case MsgUseVeto:
		var p VetoPayload
		if err := decodePayload(msg.Payload, &p); err != nil {
			return err
		}
		return s.UseVeto(conn, p.Field)
	case MsgPassVeto:
		return s.PassVeto(conn)
	case MsgSubmitVetoPlacement:
		var p PositionPayload
		if err := decodePayload(msg.Payload, &p); err != nil {
			return err
		}
		return s.SubmitVetoPlacement(conn, *p.Position)
	case MsgNextRound:
		return s.NextRound(conn)
	case MsgSubmitQuizSuggestion:
		var p AnswerPayload
		if err := decodePayload(msg.Payload, &p); err != nil {
			return err
		}
		return s.suggest(conn, models.PhaseQuiz, MsgTeammateQuizVote, p)
	case MsgSubmitPlacementSuggestion:
		var p PositionPayload
		if err := decodePayload(msg.Payload, &p); err != nil {
			return err
		}
		return s.suggest(conn, models.PhasePlacement, MsgTeammatePlacementVote, gin.H{"position": *p.Position})
	case MsgSubmitVetoSuggestion:
		var p VetoSuggestionPayload
		if err := decodePayload(msg.Payload, &p); err != nil {
			return err
		}
		if p.Use && p.Field == "" {
			return ErrMalformedPayload.Withf("field is required when suggesting a veto")
		}
		return s.suggest(conn, models.PhaseVetoWindow, MsgTeammateVetoVote, p)
	case MsgSubmitTiebreaker:
		var p AnswerPayload
		if err := decodePayload(msg.Payload, &p); err != nil {
			return err
		}
		return s.SubmitTiebreaker(conn, p)
	case MsgAddCustomSongs:
		var p AddCustomSongsPayload
		if err := decodePayload(msg.Payload, &p); err != nil {
			return err
		}
		return s.AddCustomSongs(conn, p.Songs)
	case MsgPlayAgain:
		return s.PlayAgain(conn)
	case MsgRequestState:
		if s.state == nil {
			return ErrNotInitialized
		}
		s.deliver(conn, s.stateMessage(conn.Role(), s.hub.SessionFor(conn)))
		return nil
	default:
		return ErrUnknownType.Withf("unknown message type %q", msg.Type)
	}
}

// playerFor resolves the player behind a connection.
func (s *RoomSession) playerFor(st *models.GameState, conn Connection) (*models.Player, error) {
	if conn.Role() != RolePlayer {
		return nil, ErrUnauthorized.Withf("players only")
	}
	sessionID := s.hub.SessionFor(conn)
	if sessionID == "" {
		return nil, ErrNotJoined
	}
	player := st.PlayerBySession(sessionID)
	if player == nil {
		return nil, ErrNotJoined
	}
	return player, nil
}

func requireHost(conn Connection) error {
	if conn.Role() != RoleHost {
		return ErrUnauthorized.Withf("host only")
	}
	return nil
}

func (s *RoomSession) currentAlarm() (alarmKey, bool) {
	st := s.state
	if st == nil || st.Status != models.StatusPlaying {
		return alarmKey{}, false
	}
	if tb := st.Tiebreaker; tb != nil {
		return alarmKey{tiebreaker: true, attempt: tb.Attempt, endsAt: tb.EndsAt.UnixNano()}, true
	}
	if r := st.CurrentRound; r != nil && rules.IsTimed(r.Phase()) {
		return alarmKey{round: r.Number, phase: r.Phase(), endsAt: r.EndsAt.UnixNano()}, true
	}
	return alarmKey{}, false
}

// syncAlarm keeps exactly one wake-up pending, for the deadline the current
// state calls for. An unchanged deadline keeps the existing alarm.
func (s *RoomSession) syncAlarm() {
	key, ok := s.currentAlarm()
	if ok && s.alarm != nil && key == s.alarmKey {
		return
	}
	s.cancelAlarm()
	if !ok {
		return
	}
	delay := time.Unix(0, key.endsAt).Sub(s.now())
	if delay < 0 {
		delay = 0
	}
	s.arm(key, delay)
}

func (s *RoomSession) arm(key alarmKey, delay time.Duration) {
	s.alarmGen++
	gen := s.alarmGen
	s.alarmKey = key
	s.alarm = s.scheduler.AfterFunc(delay, func() {
		s.post(func() { s.onAlarm(gen) })
	})
}

func (s *RoomSession) cancelAlarm() {
	if s.alarm != nil {
		s.alarm.Stop()
		s.alarm = nil
	}
	s.alarmGen++
}

func (s *RoomSession) onAlarm(gen uint64) {
	if gen != s.alarmGen || s.alarm == nil {
		return
	}
	key := s.alarmKey
	s.alarm = nil

	if current, ok := s.currentAlarm(); !ok || current != key {
		return
	}

	err := s.mutate(func(st *models.GameState) error {
		return s.handleTimeout(st, key)
	})
	if err != nil {
		s.log.Error().Err(err).Str("phase", string(key.phase)).Msg("timeout handling failed, retrying")
		s.arm(key, alarmRetryDelay)
	}
}

func (s *RoomSession) resetVotes(key alarmKey) {
	s.votesFor = key
	s.votes = make(map[string]vote)
}
