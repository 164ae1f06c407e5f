package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"songline/models"
)

type sentMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type fakeConn struct {
	id     string
	roomID string
	role   Role

	mutex    sync.Mutex
	sent     []sentMessage
	closed   bool
	failSend bool
}

func newFakeConn(id, roomID string, role Role) *fakeConn {
	return &fakeConn{id: id, roomID: roomID, role: role}
}

func (c *fakeConn) ID() string     { return c.id }
func (c *fakeConn) RoomID() string { return c.roomID }
func (c *fakeConn) Role() Role     { return c.role }

func (c *fakeConn) Send(data []byte) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.failSend || c.closed {
		return errors.New("send failed")
	}
	var msg sentMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeConn) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.closed
}

func (c *fakeConn) messages(msgType string) []json.RawMessage {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	var out []json.RawMessage
	for _, m := range c.sent {
		if m.Type == msgType {
			out = append(out, m.Payload)
		}
	}
	return out
}

func (c *fakeConn) types() []string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	out := make([]string, 0, len(c.sent))
	for _, m := range c.sent {
		out = append(out, m.Type)
	}
	return out
}

func (c *fakeConn) reset() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.sent = nil
}

// last decodes the most recent message of msgType into dst.
func (c *fakeConn) last(t *testing.T, msgType string, dst interface{}) {
	t.Helper()
	msgs := c.messages(msgType)
	require.NotEmpty(t, msgs, "no %s message sent to %s", msgType, c.id)
	require.NoError(t, json.Unmarshal(msgs[len(msgs)-1], dst))
}

// lastState returns the most recent state_sync as a generic map.
func (c *fakeConn) lastState(t *testing.T) map[string]interface{} {
	t.Helper()
	var view map[string]interface{}
	c.last(t, MsgStateSync, &view)
	return view
}

func (c *fakeConn) lastError(t *testing.T) string {
	t.Helper()
	var payload struct {
		Code string `json:"code"`
	}
	c.last(t, MsgError, &payload)
	return payload.Code
}

type fakeClock struct {
	mutex sync.Mutex
	now   time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, time.March, 1, 20, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mutex.Lock()
	c.now = c.now.Add(d)
	c.mutex.Unlock()
}

type manualAlarm struct {
	due     time.Time
	fn      func()
	stopped bool
	fired   bool
}

func (a *manualAlarm) Stop() bool {
	active := !a.stopped && !a.fired
	a.stopped = true
	return active
}

// manualScheduler fires alarms only when asked, against a fakeClock.
type manualScheduler struct {
	clock  *fakeClock
	alarms []*manualAlarm
}

func (s *manualScheduler) AfterFunc(d time.Duration, fn func()) Alarm {
	a := &manualAlarm{due: s.clock.Now().Add(d), fn: fn}
	s.alarms = append(s.alarms, a)
	return a
}

func (s *manualScheduler) pending() []*manualAlarm {
	var out []*manualAlarm
	for _, a := range s.alarms {
		if !a.stopped && !a.fired {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].due.Before(out[j].due) })
	return out
}

// fireDue runs every pending alarm that is due at the current clock time.
func (s *manualScheduler) fireDue() int {
	fired := 0
	for {
		due := s.pending()
		if len(due) == 0 || due[0].due.After(s.clock.Now()) {
			return fired
		}
		due[0].fired = true
		due[0].fn()
		fired++
	}
}

var testSongs = []models.Song{
	{ID: "s1", Title: "Bohemian Rhapsody", Artist: "Queen", Year: 1975, PreviewURL: "https://cdn.example/s1.mp3"},
	{ID: "s2", Title: "Billie Jean", Artist: "Michael Jackson", Year: 1982, PreviewURL: "https://cdn.example/s2.mp3"},
	{ID: "s3", Title: "Smells Like Teen Spirit", Artist: "Nirvana", Year: 1991, PreviewURL: "https://cdn.example/s3.mp3"},
	{ID: "s4", Title: "Hey Ya!", Artist: "OutKast", Year: 2003, PreviewURL: "https://cdn.example/s4.mp3"},
	{ID: "s5", Title: "Rolling in the Deep", Artist: "Adele", Year: 2010, PreviewURL: "https://cdn.example/s5.mp3"},
	{ID: "s6", Title: "Blinding Lights", Artist: "The Weeknd", Year: 2019, PreviewURL: "https://cdn.example/s6.mp3"},
}

func testSettings() models.Settings {
	return models.Settings{
		TargetScore:          10,
		QuizSeconds:          30,
		PlacementSeconds:     30,
		VetoWindowSeconds:    15,
		VetoPlacementSeconds: 20,
		TiebreakerSeconds:    30,
		MaxTeamSize:          6,
	}
}

const testRoomID = "room-1"

type testRoom struct {
	t       *testing.T
	hub     *Hub
	store   *MemoryStateStore
	clock   *fakeClock
	sched   *manualScheduler
	session *RoomSession
	host    *fakeConn
	players map[string]*fakeConn
	nextID  int
}

func newTestRoom(t *testing.T, mode models.GameMode) *testRoom {
	t.Helper()
	r := &testRoom{
		t:       t,
		hub:     NewHub(10 * time.Second),
		store:   NewMemoryStateStore(),
		clock:   newFakeClock(),
		players: make(map[string]*fakeConn),
	}
	r.sched = &manualScheduler{clock: r.clock}
	r.session = r.newSession()
	require.NoError(t, r.session.Initialize("ABCD", mode))
	r.host = r.connect(RoleHost)
	return r
}

func (r *testRoom) newSession() *RoomSession {
	return NewRoomSession(testRoomID, SessionDeps{
		Hub:       r.hub,
		Store:     r.store,
		Catalog:   NewMemoryCatalog(testSongs),
		Scheduler: r.sched,
		Clock:     r.clock.Now,
		Rand:      rand.New(rand.NewPCG(1, 2)),
		Config: SessionConfig{
			Defaults:        testSettings(),
			ReconnectWindow: 5 * time.Minute,
		},
	})
}

func (r *testRoom) connect(role Role) *fakeConn {
	r.nextID++
	conn := newFakeConn(fmt.Sprintf("conn-%d", r.nextID), testRoomID, role)
	r.hub.Register(conn)
	return conn
}

func (r *testRoom) state() *models.GameState {
	return r.session.State()
}

// join connects a new player and joins it under the session "sess-<name>".
func (r *testRoom) join(name string, team models.TeamID) *fakeConn {
	r.t.Helper()
	conn := r.connect(RolePlayer)
	require.NoError(r.t, r.session.Join(conn, "sess-"+name, name, team))
	r.players[name] = conn
	return conn
}

// drop simulates a closed socket for a player connection.
func (r *testRoom) drop(conn *fakeConn) {
	sessionID := r.hub.SessionFor(conn)
	r.hub.remove(conn)
	r.session.Disconnect(conn, sessionID)
}

func (r *testRoom) leader(team models.TeamID) *fakeConn {
	r.t.Helper()
	leader := r.state().Team(team).Leader()
	require.NotNil(r.t, leader, "team %s has no leader", team)
	for _, info := range r.hub.Connections(testRoomID) {
		if info.SessionID == leader.SessionID {
			return info.Conn.(*fakeConn)
		}
	}
	r.t.Fatalf("no connection for leader of team %s", team)
	return nil
}

// startGame seats two players per team and starts round one.
func (r *testRoom) startGame() {
	r.t.Helper()
	r.join("alice", models.TeamA)
	r.join("bob", models.TeamB)
	r.join("carol", models.TeamA)
	r.join("dave", models.TeamB)
	require.NoError(r.t, r.session.StartGame(r.host))
}

func (r *testRoom) round() *models.Round {
	r.t.Helper()
	require.NotNil(r.t, r.state().CurrentRound)
	return r.state().CurrentRound
}

func (r *testRoom) phase() models.Phase {
	return r.round().Phase()
}

// expire advances the clock to the current deadline and fires the alarm.
func (r *testRoom) expire() {
	r.t.Helper()
	var deadline time.Time
	if tb := r.state().Tiebreaker; tb != nil {
		deadline = tb.EndsAt
	} else {
		deadline = r.round().EndsAt
	}
	r.clock.Advance(deadline.Sub(r.clock.Now()))
	require.Equal(r.t, 1, r.sched.fireDue())
}

func (r *testRoom) answerCorrectly(conn *fakeConn) {
	r.t.Helper()
	song := r.round().Song
	require.NoError(r.t, r.session.SubmitQuiz(conn, AnswerPayload{Artist: song.Artist, Title: song.Title, Year: song.Year}))
}

func (r *testRoom) answerWrongly(conn *fakeConn) {
	r.t.Helper()
	song := r.round().Song
	require.NoError(r.t, r.session.SubmitQuiz(conn, AnswerPayload{Artist: "Nobody", Title: song.Title, Year: song.Year}))
}
