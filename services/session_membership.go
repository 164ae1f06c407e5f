package services

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"songline/models"
	"songline/rules"
)

// Join adds a player, or resumes the existing player when the session is
// already known. An expired session is dropped and joins as a new player.
func (s *RoomSession) Join(conn Connection, sessionID, name string, team models.TeamID) error {
	if conn.Role() != RolePlayer {
		return ErrUnauthorized.Withf("hosts cannot join as players")
	}
	if err := s.ensureLoaded(); err != nil {
		return err
	}
	if s.state == nil {
		return ErrNotInitialized
	}

	if existing := s.state.PlayerBySession(sessionID); existing != nil {
		err := s.Reconnect(conn, sessionID)
		if !errors.Is(err, ErrReconnectExpired) {
			return err
		}
		return s.mutateBound(conn, sessionID, func(st *models.GameState) error {
			stale := st.PlayerBySession(sessionID)
			st.Team(stale.Team).RemovePlayer(stale.ID)
			s.broadcast(MsgPlayerLeft, gin.H{"playerId": stale.ID, "team": stale.Team, "name": stale.Name, "removed": true})
			s.addPlayer(st, conn, sessionID, name, team)
			return nil
		})
	}

	return s.mutateBound(conn, sessionID, func(st *models.GameState) error {
		s.addPlayer(st, conn, sessionID, name, team)
		return nil
	})
}

// mutateBound runs fn with the connection bound to sessionID. A connection
// that already closed leaves the state untouched, and a connection owned by
// another session is refused. The binding is undone if fn does not commit.
func (s *RoomSession) mutateBound(conn Connection, sessionID string, fn func(st *models.GameState) error) error {
	previous := s.hub.SessionFor(conn)
	if previous != "" && previous != sessionID {
		return ErrUnauthorized.Withf("connection already belongs to another player")
	}
	err := s.mutate(func(st *models.GameState) error {
		if !s.hub.BindSession(conn, sessionID) {
			s.log.Debug().Str("conn", conn.ID()).Str("session", sessionID).Msg("connection closed before join")
			return errNoChange
		}
		return fn(st)
	})
	if err != nil {
		s.hub.BindSession(conn, previous)
	}
	return err
}

func (s *RoomSession) addPlayer(st *models.GameState, conn Connection, sessionID, name string, requested models.TeamID) {
	teamID := chooseTeam(st, requested)
	player := &models.Player{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Name:      strings.TrimSpace(name),
		Team:      teamID,
		Connected: true,
		LastSeen:  s.now(),
	}
	team := st.Team(teamID)
	team.Players = append(team.Players, player)

	if st.Status == models.StatusPlaying && team.Leader() == nil {
		player.IsTeamLeader = true
	}

	s.broadcastExcept(conn, MsgPlayerJoined, gin.H{"player": newPlayerView(player)})
	s.sendTo(conn, MsgWelcome, s.welcome(player))
	s.sendState(conn, sessionID)

	s.log.Info().Str("session", sessionID).Str("player", player.ID).Str("team", string(teamID)).
		Int("teamSize", len(team.Players)).Msg("player joined")
}

// chooseTeam honours a request for a team with room, otherwise balances.
// When both teams are full the player is still accepted.
func chooseTeam(st *models.GameState, requested models.TeamID) models.TeamID {
	capacity := st.Settings.MaxTeamSize
	hasRoom := func(id models.TeamID) bool { return len(st.Team(id).Players) < capacity }

	if requested.Valid() {
		if hasRoom(requested) {
			return requested
		}
		if hasRoom(requested.Opponent()) {
			return requested.Opponent()
		}
		return requested
	}

	smaller := models.TeamA
	if len(st.Team(models.TeamB).Players) < len(st.Team(models.TeamA).Players) {
		smaller = models.TeamB
	}
	if !hasRoom(smaller) && hasRoom(smaller.Opponent()) {
		return smaller.Opponent()
	}
	return smaller
}

func (s *RoomSession) welcome(player *models.Player) gin.H {
	return gin.H{
		"playerId":               player.ID,
		"sessionId":              player.SessionID,
		"team":                   player.Team,
		"isTeamLeader":           player.IsTeamLeader,
		"reconnectWindowSeconds": int(s.config.ReconnectWindow.Seconds()),
	}
}

// Reconnect resumes a session within the reconnection window. A session whose
// player is still marked connected is simply rebound.
func (s *RoomSession) Reconnect(conn Connection, sessionID string) error {
	if err := s.ensureLoaded(); err != nil {
		return err
	}
	if s.state == nil {
		return ErrNotInitialized
	}
	player := s.state.PlayerBySession(sessionID)
	if player == nil {
		return ErrPlayerNotFound
	}
	if !player.Connected && s.now().Sub(player.LastSeen) > s.config.ReconnectWindow {
		return ErrReconnectExpired
	}

	return s.mutateBound(conn, sessionID, func(st *models.GameState) error {
		player := st.PlayerBySession(sessionID)
		player.Connected = true
		player.LastSeen = s.now()

		team := st.Team(player.Team)
		if st.Status == models.StatusPlaying && team.Leader() == nil {
			player.IsTeamLeader = true
			s.broadcast(MsgLeaderChanged, gin.H{"team": team.ID, "leaderId": player.ID, "reason": "reconnected"})
		}

		s.broadcastExcept(conn, MsgPlayerJoined, gin.H{"player": newPlayerView(player), "reconnected": true})
		s.sendTo(conn, MsgWelcome, s.welcome(player))
		s.sendState(conn, sessionID)

		s.log.Info().Str("session", sessionID).Str("player", player.ID).Msg("player reconnected")
		return nil
	})
}

// Disconnect marks the session's player offline once its last connection is
// gone. The record is kept for the reconnection window.
func (s *RoomSession) Disconnect(conn Connection, sessionID string) {
	if sessionID == "" {
		s.log.Debug().Str("conn", conn.ID()).Str("role", string(conn.Role())).Msg("connection closed")
		return
	}
	if s.hub.SessionConnected(s.roomID, sessionID, conn) {
		return
	}

	err := s.mutate(func(st *models.GameState) error {
		player := st.PlayerBySession(sessionID)
		if player == nil || !player.Connected {
			return errNoChange
		}
		player.Connected = false
		player.LastSeen = s.now()
		if player.IsTeamLeader {
			s.demoteLeader(st, player, "disconnected")
		}
		s.broadcast(MsgPlayerLeft, gin.H{"playerId": player.ID, "team": player.Team, "name": player.Name, "removed": false})
		s.broadcastState()

		s.log.Info().Str("session", sessionID).Str("player", player.ID).Msg("player disconnected")
		return nil
	})
	if err != nil {
		s.log.Error().Err(err).Str("session", sessionID).Msg("failed to record disconnect")
	}
}

var errNoChange = errors.New("no change")

// demoteLeader clears leadership and, during a game, hands it to the first
// other connected teammate.
func (s *RoomSession) demoteLeader(st *models.GameState, leader *models.Player, reason string) {
	leader.IsTeamLeader = false
	team := st.Team(leader.Team)

	var successor *models.Player
	if st.Status == models.StatusPlaying {
		for _, p := range team.Players {
			if p.ID != leader.ID && p.Connected {
				successor = p
				break
			}
		}
	}

	payload := gin.H{"team": team.ID, "previousLeaderId": leader.ID, "leaderId": nil, "reason": reason}
	if successor != nil {
		successor.IsTeamLeader = true
		payload["leaderId"] = successor.ID
	}
	s.broadcast(MsgLeaderChanged, payload)
}

// Leave removes the player for good.
func (s *RoomSession) Leave(conn Connection) error {
	return s.mutate(func(st *models.GameState) error {
		player, err := s.playerFor(st, conn)
		if err != nil {
			return err
		}
		if player.IsTeamLeader {
			s.demoteLeader(st, player, "left")
		}
		st.Team(player.Team).RemovePlayer(player.ID)

		s.queue(func() { s.hub.BindSession(conn, "") })
		s.broadcast(MsgPlayerLeft, gin.H{"playerId": player.ID, "team": player.Team, "name": player.Name, "removed": true})
		s.broadcastState()
		return nil
	})
}

// ReassignTeam moves a player in the lobby. The host may move anyone; a
// player may move only themself. A full destination leaves the player where
// they were.
func (s *RoomSession) ReassignTeam(conn Connection, playerID string, teamID models.TeamID) error {
	return s.mutate(func(st *models.GameState) error {
		if st.Status != models.StatusLobby {
			return ErrWrongPhase.Withf("teams can only change in the lobby")
		}
		if conn.Role() != RoleHost {
			self, err := s.playerFor(st, conn)
			if err != nil {
				return err
			}
			if self.ID != playerID {
				return ErrUnauthorized.Withf("only the host can move other players")
			}
		}

		player := st.PlayerByID(playerID)
		if player == nil {
			return ErrPlayerNotFound
		}
		if player.Team == teamID {
			return errNoChange
		}
		destination := st.Team(teamID)
		if len(destination.Players) >= st.Settings.MaxTeamSize {
			return ErrTeamFull.Withf("team %s is full", teamID)
		}

		from := player.Team
		st.Team(from).RemovePlayer(player.ID)
		player.Team = teamID
		player.IsTeamLeader = false
		destination.Players = append(destination.Players, player)

		s.broadcast(MsgTeamChanged, gin.H{"playerId": player.ID, "from": from, "to": teamID})
		s.broadcastState()
		return nil
	})
}

// ClaimTeamLeader succeeds only while the caller's team has no leader.
func (s *RoomSession) ClaimTeamLeader(conn Connection) error {
	return s.mutate(func(st *models.GameState) error {
		player, err := s.playerFor(st, conn)
		if err != nil {
			return err
		}
		team := st.Team(player.Team)
		if leader := team.Leader(); leader != nil {
			if leader.ID == player.ID {
				return errNoChange
			}
			return ErrLeaderExists.Withf("team %s already has a leader", team.ID)
		}
		player.IsTeamLeader = true

		s.broadcast(MsgLeaderClaimed, gin.H{"team": team.ID, "playerId": player.ID, "name": player.Name})
		s.broadcastState()
		return nil
	})
}

func (s *RoomSession) UpdateSettings(conn Connection, update UpdateSettingsPayload) error {
	if err := requireHost(conn); err != nil {
		return err
	}
	return s.mutate(func(st *models.GameState) error {
		if st.Status != models.StatusLobby {
			return ErrWrongPhase.Withf("settings can only change in the lobby")
		}
		settings := update.apply(st.Settings)
		if err := validate.Struct(settings); err != nil {
			return ErrMalformedPayload.Withf("invalid settings: %v", err)
		}
		st.Settings = settings
		s.broadcast(MsgSettingsUpdated, gin.H{"settings": settings})
		return nil
	})
}

// AddCustomSongs fills a custom-mode pool from the lobby. Songs already in
// the pool are ignored.
func (s *RoomSession) AddCustomSongs(conn Connection, songs []models.Song) error {
	if err := requireHost(conn); err != nil {
		return err
	}
	return s.mutate(func(st *models.GameState) error {
		if st.Mode != models.ModeCustom {
			return ErrWrongPhase.Withf("songs can only be added in custom mode")
		}
		if st.Status != models.StatusLobby {
			return ErrWrongPhase.Withf("songs can only be added in the lobby")
		}
		known := make(map[string]bool, len(st.SongPool))
		for _, song := range st.SongPool {
			known[song.ID] = true
		}
		added := 0
		for _, song := range songs {
			if known[song.ID] {
				continue
			}
			known[song.ID] = true
			st.SongPool = append(st.SongPool, song)
			added++
		}
		st.SongPool = rules.ShuffleSongs(st.SongPool, s.rng)

		s.broadcast(MsgCustomSongsAdded, gin.H{"added": added, "total": len(st.SongPool)})
		return nil
	})
}

// StartGame makes sure every team can act, then opens round one.
func (s *RoomSession) StartGame(conn Connection) error {
	if err := requireHost(conn); err != nil {
		return err
	}
	return s.mutate(func(st *models.GameState) error {
		if st.Status != models.StatusLobby {
			return rules.TransitionStatus(st, models.StatusPlaying)
		}
		for _, id := range models.TeamIDs {
			if len(st.Team(id).Players) == 0 {
				return ErrTeamsIncomplete
			}
		}
		if len(st.SongPool) == 0 {
			return ErrSongPoolEmpty
		}

		for _, id := range models.TeamIDs {
			team := st.Team(id)
			if team.Leader() != nil {
				continue
			}
			leader := s.pickLeader(team)
			leader.IsTeamLeader = true
			s.broadcast(MsgLeaderChanged, gin.H{"team": id, "leaderId": leader.ID, "reason": "game_started"})
		}

		if err := rules.TransitionStatus(st, models.StatusPlaying); err != nil {
			return err
		}
		s.recordEvent(eventGameStarted, gin.H{"teamA": len(st.Team(models.TeamA).Players), "teamB": len(st.Team(models.TeamB).Players)})
		s.log.Info().Int("songs", len(st.SongPool)).Msg("game started")
		return s.startRound(st)
	})
}

// pickLeader prefers connected players.
func (s *RoomSession) pickLeader(team *models.Team) *models.Player {
	candidates := make([]*models.Player, 0, len(team.Players))
	for _, p := range team.Players {
		if p.Connected {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		candidates = team.Players
	}
	if s.rng == nil {
		return candidates[0]
	}
	return candidates[s.rng.IntN(len(candidates))]
}

// PlayAgain resets a finished room to the lobby with the same roster.
func (s *RoomSession) PlayAgain(conn Connection) error {
	if err := requireHost(conn); err != nil {
		return err
	}
	if err := s.ensureLoaded(); err != nil {
		return err
	}
	if s.state == nil {
		return ErrNotInitialized
	}
	if s.state.Status != models.StatusFinished {
		return ErrWrongPhase.Withf("the game is not finished")
	}
	return s.Initialize(s.state.Code, s.state.Mode)
}
