package services

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"songline/models"
)

func TestJoinBalancesTeams(t *testing.T) {
	r := newTestRoom(t, models.ModeClassic)

	r.join("alice", "")
	r.join("bob", "")
	r.join("carol", "")

	st := r.state()
	assert.Len(t, st.Team(models.TeamA).Players, 2)
	assert.Len(t, st.Team(models.TeamB).Players, 1)
	assert.Equal(t, models.TeamB, st.PlayerBySession("sess-bob").Team)
}

func TestJoinOverflowsToOtherTeamWhenFull(t *testing.T) {
	r := newTestRoom(t, models.ModeClassic)
	r.session.state.Settings.MaxTeamSize = 1

	r.join("alice", models.TeamA)
	r.join("bob", models.TeamA)
	r.join("carol", models.TeamA)

	st := r.state()
	assert.Equal(t, models.TeamA, st.PlayerBySession("sess-alice").Team)
	assert.Equal(t, models.TeamB, st.PlayerBySession("sess-bob").Team)
	// Both teams full: the player is still seated on the requested team.
	assert.Equal(t, models.TeamA, st.PlayerBySession("sess-carol").Team)
	assert.Len(t, st.Players(), 3)
}

func TestJoinNotifiesEveryone(t *testing.T) {
	r := newTestRoom(t, models.ModeClassic)
	alice := r.join("alice", models.TeamA)
	r.host.reset()

	bob := r.join("bob", "")

	var welcome struct {
		PlayerID               string        `json:"playerId"`
		SessionID              string        `json:"sessionId"`
		Team                   models.TeamID `json:"team"`
		ReconnectWindowSeconds int           `json:"reconnectWindowSeconds"`
	}
	bob.last(t, MsgWelcome, &welcome)
	assert.Equal(t, "sess-bob", welcome.SessionID)
	assert.Equal(t, models.TeamB, welcome.Team)
	assert.Equal(t, 300, welcome.ReconnectWindowSeconds)
	assert.NotEmpty(t, bob.messages(MsgStateSync))
	assert.Empty(t, bob.messages(MsgPlayerJoined))

	assert.Len(t, alice.messages(MsgPlayerJoined), 1)
	assert.Len(t, r.host.messages(MsgPlayerJoined), 1)
	assert.Equal(t, "sess-bob", r.hub.SessionFor(bob))
}

func TestJoinRejectsHost(t *testing.T) {
	r := newTestRoom(t, models.ModeClassic)
	err := r.session.Join(r.host, "sess-host", "host", "")
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Empty(t, r.state().Players())
}

func TestJoinBeforeInitialize(t *testing.T) {
	r := newTestRoom(t, models.ModeClassic)
	fresh := NewRoomSession("room-2", SessionDeps{Hub: r.hub, Store: NewMemoryStateStore(), Clock: r.clock.Now})

	conn := newFakeConn("conn-x", "room-2", RolePlayer)
	err := fresh.Join(conn, "sess-x", "x", "")
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestReconnectWindow(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		wantErr error
	}{
		{name: "well within window", elapsed: time.Minute},
		{name: "one millisecond early", elapsed: 5*time.Minute - time.Millisecond},
		{name: "exactly at the window", elapsed: 5 * time.Minute},
		{name: "one millisecond late", elapsed: 5*time.Minute + time.Millisecond, wantErr: ErrReconnectExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRoom(t, models.ModeClassic)
			alice := r.join("alice", models.TeamA)
			playerID := r.state().PlayerBySession("sess-alice").ID

			r.drop(alice)
			require.False(t, r.state().PlayerBySession("sess-alice").Connected)

			r.clock.Advance(tt.elapsed)
			again := r.connect(RolePlayer)
			err := r.session.Reconnect(again, "sess-alice")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.False(t, r.state().PlayerBySession("sess-alice").Connected)
				return
			}
			require.NoError(t, err)
			player := r.state().PlayerBySession("sess-alice")
			assert.True(t, player.Connected)
			assert.Equal(t, playerID, player.ID)
			assert.Equal(t, "sess-alice", r.hub.SessionFor(again))
			assert.NotEmpty(t, again.messages(MsgWelcome))
		})
	}
}

func TestJoinOnClosedConnectionIsIgnored(t *testing.T) {
	r := newTestRoom(t, models.ModeClassic)
	r.startGame()
	leaderA := r.state().Team(models.TeamA).Leader().ID

	conn := r.connect(RolePlayer)
	r.drop(conn)
	require.NoError(t, r.session.Join(conn, "sess-zed", "zed", models.TeamA))

	assert.Nil(t, r.state().PlayerBySession("sess-zed"))
	assert.Empty(t, conn.messages(MsgWelcome))
	assert.Equal(t, leaderA, r.state().Team(models.TeamA).Leader().ID)
}

func TestReconnectOnClosedConnectionKeepsPlayerOffline(t *testing.T) {
	r := newTestRoom(t, models.ModeClassic)
	alice := r.join("alice", models.TeamA)
	r.drop(alice)

	again := r.connect(RolePlayer)
	r.drop(again)
	require.NoError(t, r.session.Reconnect(again, "sess-alice"))
	assert.False(t, r.state().PlayerBySession("sess-alice").Connected)
}

func TestJoinBindsBeforeCommit(t *testing.T) {
	r := newTestRoom(t, models.ModeClassic)
	store := &flakyStore{MemoryStateStore: r.store, failSaves: true}
	r.session.store = store

	conn := r.connect(RolePlayer)
	err := r.session.Join(conn, "sess-alice", "alice", models.TeamA)
	assert.ErrorIs(t, err, ErrInternal)
	assert.Empty(t, r.hub.SessionFor(conn))
	assert.Nil(t, r.state().PlayerBySession("sess-alice"))
}

func TestConnectionCannotJoinTwice(t *testing.T) {
	r := newTestRoom(t, models.ModeClassic)
	conn := r.join("xavier", models.TeamA)

	err := r.session.Join(conn, "sess-yara", "yara", models.TeamB)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Nil(t, r.state().PlayerBySession("sess-yara"))
	assert.Equal(t, "sess-xavier", r.hub.SessionFor(conn))

	r.drop(conn)
	assert.False(t, r.state().PlayerBySession("sess-xavier").Connected)
}

func TestReconnectUnknownSession(t *testing.T) {
	r := newTestRoom(t, models.ModeClassic)
	err := r.session.Reconnect(r.connect(RolePlayer), "sess-nobody")
	assert.ErrorIs(t, err, ErrPlayerNotFound)
}

func TestJoinWithExpiredSessionStartsOver(t *testing.T) {
	r := newTestRoom(t, models.ModeClassic)
	alice := r.join("alice", models.TeamA)
	oldID := r.state().PlayerBySession("sess-alice").ID
	r.drop(alice)
	r.clock.Advance(6 * time.Minute)
	r.host.reset()

	again := r.connect(RolePlayer)
	require.NoError(t, r.session.Join(again, "sess-alice", "alice", models.TeamB))

	st := r.state()
	require.Len(t, st.Players(), 1)
	player := st.PlayerBySession("sess-alice")
	assert.NotEqual(t, oldID, player.ID)
	assert.Equal(t, models.TeamB, player.Team)

	var left struct {
		PlayerID string `json:"playerId"`
		Removed  bool   `json:"removed"`
	}
	r.host.last(t, MsgPlayerLeft, &left)
	assert.Equal(t, oldID, left.PlayerID)
	assert.True(t, left.Removed)
}

func TestJoinWithLiveSessionResumesPlayer(t *testing.T) {
	r := newTestRoom(t, models.ModeClassic)
	r.join("alice", models.TeamA)
	playerID := r.state().PlayerBySession("sess-alice").ID

	second := r.connect(RolePlayer)
	require.NoError(t, r.session.Join(second, "sess-alice", "alice", models.TeamB))

	assert.Len(t, r.state().Players(), 1)
	assert.Equal(t, playerID, r.state().PlayerBySession("sess-alice").ID)
	assert.Equal(t, models.TeamA, r.state().PlayerBySession("sess-alice").Team)
}

func TestDisconnectKeepsPlayerWhileAnotherTabIsOpen(t *testing.T) {
	r := newTestRoom(t, models.ModeClassic)
	first := r.join("alice", models.TeamA)
	second := r.connect(RolePlayer)
	require.NoError(t, r.session.Reconnect(second, "sess-alice"))

	r.drop(first)
	assert.True(t, r.state().PlayerBySession("sess-alice").Connected)

	r.drop(second)
	assert.False(t, r.state().PlayerBySession("sess-alice").Connected)
}

func TestDisconnectOfHostIsIgnored(t *testing.T) {
	r := newTestRoom(t, models.ModeClassic)
	r.join("alice", models.TeamA)
	before, err := r.store.Load(t.Context(), testRoomID)
	require.NoError(t, err)

	r.drop(r.host)

	after, err := r.store.Load(t.Context(), testRoomID)
	require.NoError(t, err)
	assert.Equal(t, before.LastActivityAt, after.LastActivityAt)
}

func TestClaimTeamLeader(t *testing.T) {
	r := newTestRoom(t, models.ModeClassic)
	alice := r.join("alice", models.TeamA)
	carol := r.join("carol", models.TeamA)
	bob := r.join("bob", models.TeamB)

	require.NoError(t, r.session.ClaimTeamLeader(alice))
	assert.ErrorIs(t, r.session.ClaimTeamLeader(carol), ErrLeaderExists)
	assert.NoError(t, r.session.ClaimTeamLeader(alice))
	assert.NoError(t, r.session.ClaimTeamLeader(bob))

	st := r.state()
	assert.Equal(t, "sess-alice", st.Team(models.TeamA).Leader().SessionID)
	assert.Equal(t, "sess-bob", st.Team(models.TeamB).Leader().SessionID)
	assert.Len(t, r.host.messages(MsgLeaderClaimed), 2)
}

func TestClaimTeamLeaderRequiresJoin(t *testing.T) {
	r := newTestRoom(t, models.ModeClassic)
	stranger := r.connect(RolePlayer)
	assert.ErrorIs(t, r.session.ClaimTeamLeader(stranger), ErrNotJoined)
	assert.ErrorIs(t, r.session.ClaimTeamLeader(r.host), ErrUnauthorized)
}

func TestLeaderDisconnectInLobbyLeavesTeamWithoutLeader(t *testing.T) {
	r := newTestRoom(t, models.ModeClassic)
	alice := r.join("alice", models.TeamA)
	r.join("carol", models.TeamA)
	require.NoError(t, r.session.ClaimTeamLeader(alice))

	r.drop(alice)

	assert.Nil(t, r.state().Team(models.TeamA).Leader())
}

func TestLeaderDisconnectDuringGamePromotesTeammate(t *testing.T) {
	r := newTestRoom(t, models.ModeClassic)
	r.startGame()
	leader := r.leader(models.TeamA)
	leaderSession := r.hub.SessionFor(leader)
	r.host.reset()

	r.drop(leader)

	st := r.state()
	successor := st.Team(models.TeamA).Leader()
	require.NotNil(t, successor)
	assert.NotEqual(t, leaderSession, successor.SessionID)
	assert.True(t, successor.Connected)
	assert.False(t, st.PlayerBySession(leaderSession).IsTeamLeader)

	var changed struct {
		Team     models.TeamID `json:"team"`
		LeaderID string        `json:"leaderId"`
		Reason   string        `json:"reason"`
	}
	r.host.last(t, MsgLeaderChanged, &changed)
	assert.Equal(t, models.TeamA, changed.Team)
	assert.Equal(t, successor.ID, changed.LeaderID)
	assert.Equal(t, "disconnected", changed.Reason)
}

func TestReconnectDuringGameRestoresLeaderWhenTeamHasNone(t *testing.T) {
	r := newTestRoom(t, models.ModeClassic)
	alice := r.join("alice", models.TeamA)
	r.join("bob", models.TeamB)
	require.NoError(t, r.session.StartGame(r.host))

	r.drop(alice)
	require.Nil(t, r.state().Team(models.TeamA).Leader())

	again := r.connect(RolePlayer)
	require.NoError(t, r.session.Reconnect(again, "sess-alice"))
	assert.True(t, r.state().PlayerBySession("sess-alice").IsTeamLeader)
}

func TestLeave(t *testing.T) {
	r := newTestRoom(t, models.ModeClassic)
	alice := r.join("alice", models.TeamA)

	require.NoError(t, r.session.Leave(alice))

	assert.Empty(t, r.state().Players())
	assert.Empty(t, r.hub.SessionFor(alice))
	assert.ErrorIs(t, r.session.Leave(alice), ErrNotJoined)
}

func TestReassignTeam(t *testing.T) {
	r := newTestRoom(t, models.ModeClassic)
	alice := r.join("alice", models.TeamA)
	bob := r.join("bob", models.TeamB)
	aliceID := r.state().PlayerBySession("sess-alice").ID
	bobID := r.state().PlayerBySession("sess-bob").ID

	t.Run("host moves anyone", func(t *testing.T) {
		require.NoError(t, r.session.ReassignTeam(r.host, aliceID, models.TeamB))
		assert.Equal(t, models.TeamB, r.state().PlayerByID(aliceID).Team)
		assert.Empty(t, r.state().Team(models.TeamA).Players)
	})

	t.Run("player moves only themself", func(t *testing.T) {
		assert.ErrorIs(t, r.session.ReassignTeam(bob, aliceID, models.TeamA), ErrUnauthorized)
		require.NoError(t, r.session.ReassignTeam(alice, aliceID, models.TeamA))
		assert.Equal(t, models.TeamA, r.state().PlayerByID(aliceID).Team)
	})

	t.Run("full team", func(t *testing.T) {
		r.session.state.Settings.MaxTeamSize = 1
		assert.ErrorIs(t, r.session.ReassignTeam(r.host, bobID, models.TeamA), ErrTeamFull)
		assert.Equal(t, models.TeamB, r.state().PlayerByID(bobID).Team)
		r.session.state.Settings.MaxTeamSize = 6
	})

	t.Run("unknown player", func(t *testing.T) {
		assert.ErrorIs(t, r.session.ReassignTeam(r.host, "nobody", models.TeamA), ErrPlayerNotFound)
	})

	t.Run("only in lobby", func(t *testing.T) {
		require.NoError(t, r.session.StartGame(r.host))
		assert.ErrorIs(t, r.session.ReassignTeam(r.host, bobID, models.TeamA), ErrWrongPhase)
	})
}

func TestUpdateSettings(t *testing.T) {
	r := newTestRoom(t, models.ModeClassic)
	alice := r.join("alice", models.TeamA)

	target := 5
	require.NoError(t, r.session.UpdateSettings(r.host, UpdateSettingsPayload{TargetScore: &target}))
	assert.Equal(t, 5, r.state().Settings.TargetScore)
	assert.Equal(t, 30, r.state().Settings.QuizSeconds)
	assert.Len(t, alice.messages(MsgSettingsUpdated), 1)

	assert.ErrorIs(t, r.session.UpdateSettings(alice, UpdateSettingsPayload{TargetScore: &target}), ErrUnauthorized)
}

func TestUpdateSettingsRejectsInvalidValues(t *testing.T) {
	r := newTestRoom(t, models.ModeClassic)
	r.host.reset()

	r.session.Handle(r.host, InboundMessage{Type: MsgUpdateSettings, Payload: json.RawMessage(`{"quizSeconds":1}`)})

	assert.Equal(t, "malformed_payload", r.host.lastError(t))
	assert.Equal(t, 30, r.state().Settings.QuizSeconds)
}

func TestStartGameChecks(t *testing.T) {
	r := newTestRoom(t, models.ModeClassic)
	alice := r.join("alice", models.TeamA)

	assert.ErrorIs(t, r.session.StartGame(alice), ErrUnauthorized)
	assert.ErrorIs(t, r.session.StartGame(r.host), ErrTeamsIncomplete)
	assert.Equal(t, models.StatusLobby, r.state().Status)

	r.join("bob", models.TeamB)
	require.NoError(t, r.session.StartGame(r.host))

	gameErr := asGameError(r.session.StartGame(r.host))
	assert.Equal(t, ErrInvalidTransition.Code, gameErr.Code)
	assert.Equal(t, "invalid status transition playing -> playing", gameErr.Message)
}

func TestStartGameAssignsLeadersAndOpensRoundOne(t *testing.T) {
	r := newTestRoom(t, models.ModeClassic)
	r.startGame()

	st := r.state()
	assert.Equal(t, models.StatusPlaying, st.Status)
	for _, id := range models.TeamIDs {
		assert.NotNil(t, st.Team(id).Leader(), "team %s", id)
	}
	round := r.round()
	assert.Equal(t, 1, round.Number)
	assert.Equal(t, models.TeamA, round.ActiveTeam)
	assert.Equal(t, models.PhaseListening, round.Phase())
	assert.Len(t, st.SongPool, len(testSongs)-1)
	assert.Empty(t, r.sched.pending())

	saved, err := r.store.Load(t.Context(), testRoomID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPlaying, saved.Status)
	assert.NotEmpty(t, r.host.messages(MsgPhaseChanged))
}

func TestCustomModeSongs(t *testing.T) {
	r := newTestRoom(t, models.ModeCustom)
	alice := r.join("alice", models.TeamA)
	r.join("bob", models.TeamB)
	assert.Empty(t, r.state().SongPool)

	assert.ErrorIs(t, r.session.StartGame(r.host), ErrSongPoolEmpty)
	assert.ErrorIs(t, r.session.AddCustomSongs(alice, testSongs[:2]), ErrUnauthorized)

	require.NoError(t, r.session.AddCustomSongs(r.host, testSongs[:2]))
	require.NoError(t, r.session.AddCustomSongs(r.host, testSongs[1:3]))
	assert.Len(t, r.state().SongPool, 3)

	var added struct {
		Added int `json:"added"`
		Total int `json:"total"`
	}
	r.host.last(t, MsgCustomSongsAdded, &added)
	assert.Equal(t, 1, added.Added)
	assert.Equal(t, 3, added.Total)

	require.NoError(t, r.session.StartGame(r.host))
	assert.ErrorIs(t, r.session.AddCustomSongs(r.host, testSongs[3:4]), ErrWrongPhase)
}

func TestClassicModeRejectsCustomSongs(t *testing.T) {
	r := newTestRoom(t, models.ModeClassic)
	assert.ErrorIs(t, r.session.AddCustomSongs(r.host, testSongs[:1]), ErrWrongPhase)
}

func TestInitializeTwice(t *testing.T) {
	r := newTestRoom(t, models.ModeClassic)
	assert.ErrorIs(t, r.session.Initialize("WXYZ", models.ModeClassic), ErrAlreadyInitialized)
	assert.Equal(t, "ABCD", r.state().Code)
}
