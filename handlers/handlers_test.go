package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"songline/config"
	"songline/middleware"
	"songline/models"
	"songline/services"
)

type noopRooms struct{}

func (noopRooms) Initialize(context.Context, string, string, models.GameMode) error { return nil }

const testAdminKey = "admin-secret"

var adminHeader = http.Header{middleware.AdminKeyHeader: {testAdminKey}}

type testServer struct {
	router    *gin.Engine
	directory *services.DirectoryService
	tokens    *services.TokenManager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tokens := services.NewTokenManager("secret", time.Hour)
	directory := services.NewDirectoryService(services.NewMemoryRoomRepository(), noopRooms{}, tokens, "https://songline.example")
	catalog := services.NewMemoryCatalog([]models.Song{
		{ID: "s1", Title: "Bohemian Rhapsody", Artist: "Queen", Year: 1975},
	})
	hub := services.NewHub(10 * time.Second)

	router := gin.New()
	songs := NewSongHandler(catalog)
	rooms := NewRoomHandler(directory)
	ws := NewWSHandler(hub, directory, tokens, config.DefaultTransport(), []string{"*"})

	router.POST("/rooms", rooms.CreateRoom)
	router.GET("/rooms/:code", rooms.GetRoomByCode)
	router.GET("/rooms/:code/qr", rooms.GetRoomQR)
	router.GET("/songs", songs.ListSongs)
	router.POST("/songs", middleware.RequireAdminKey(testAdminKey), songs.AddSongs)
	router.GET("/ws/rooms/:roomId", ws.Connect)
	router.GET("/health", Health)

	return &testServer{router: router, directory: directory, tokens: tokens}
}

func (s *testServer) do(method, path, body string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) createRoom(t *testing.T, body string) services.CreateRoomResponse {
	t.Helper()
	w := s.do(http.MethodPost, "/rooms", body, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp services.CreateRoomResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestCreateRoom(t *testing.T) {
	s := newTestServer(t)

	room := s.createRoom(t, "")
	assert.Equal(t, models.ModeClassic, room.Mode)
	assert.NotEmpty(t, room.HostToken)
	assert.Equal(t, "https://songline.example/join/"+room.Code, room.JoinURL)

	custom := s.createRoom(t, `{"mode":"custom"}`)
	assert.Equal(t, models.ModeCustom, custom.Mode)

	w := s.do(http.MethodPost, "/rooms", `{"mode":"speedrun"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/rooms", `{"mode":`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetRoomByCode(t *testing.T) {
	s := newTestServer(t)
	room := s.createRoom(t, "")

	w := s.do(http.MethodGet, "/rooms/"+strings.ToLower(room.Code), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var lookup services.LookupResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &lookup))
	assert.Equal(t, room.RoomID, lookup.RoomID)
	assert.Equal(t, "lobby", lookup.Status)

	w = s.do(http.MethodGet, "/rooms/ZZZZ", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetRoomQR(t *testing.T) {
	s := newTestServer(t)
	room := s.createRoom(t, "")

	w := s.do(http.MethodGet, "/rooms/"+room.Code+"/qr", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")))

	w = s.do(http.MethodGet, "/rooms/ZZZZ/qr", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSongs(t *testing.T) {
	s := newTestServer(t)

	body := `{"songs":[
		{"id":"s1","title":"Bohemian Rhapsody","artist":"Queen","year":1975},
		{"id":"s2","title":"Billie Jean","artist":"Michael Jackson","year":1982}
	]}`
	w := s.do(http.MethodPost, "/songs", body, adminHeader)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.JSONEq(t, `{"added":1,"skipped":1}`, w.Body.String())

	w = s.do(http.MethodGet, "/songs", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Count int           `json:"count"`
		Songs []models.Song `json:"songs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 2, list.Count)

	w = s.do(http.MethodPost, "/songs", `{"songs":[{"id":"s3","artist":"Nobody","year":2000}]}`, adminHeader)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/songs", `{"songs":[]}`, adminHeader)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAddSongsRequiresAdminKey(t *testing.T) {
	s := newTestServer(t)
	body := `{"songs":[{"id":"s9","title":"Hey Ya!","artist":"OutKast","year":2003}]}`

	w := s.do(http.MethodPost, "/songs", body, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodPost, "/songs", body, http.Header{middleware.AdminKeyHeader: {"wrong"}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodPost, "/songs", body, http.Header{"Authorization": {"Bearer " + testAdminKey}})
	assert.Equal(t, http.StatusCreated, w.Code)

	closed := gin.New()
	closed.POST("/songs", middleware.RequireAdminKey(""), func(c *gin.Context) { c.Status(http.StatusCreated) })
	req := httptest.NewRequest(http.MethodPost, "/songs", strings.NewReader(body))
	req.Header.Set(middleware.AdminKeyHeader, "anything")
	rec := httptest.NewRecorder()
	closed.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWebSocketGate(t *testing.T) {
	s := newTestServer(t)
	room := s.createRoom(t, "")
	other := s.createRoom(t, "")

	tests := []struct {
		name   string
		path   string
		header http.Header
		status int
	}{
		{name: "unknown room", path: "/ws/rooms/not-a-room", status: http.StatusNotFound},
		{name: "host without token", path: "/ws/rooms/" + room.RoomID + "?role=host", status: http.StatusUnauthorized},
		{name: "host with another room's token", path: "/ws/rooms/" + room.RoomID + "?role=host&token=" + other.HostToken, status: http.StatusUnauthorized},
		{name: "unknown role", path: "/ws/rooms/" + room.RoomID + "?role=admin", status: http.StatusBadRequest},
		// The gate passes and the upgrade fails on a plain HTTP request.
		{name: "host with bearer token", path: "/ws/rooms/" + room.RoomID + "?role=host", header: http.Header{"Authorization": {"Bearer " + room.HostToken}}, status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(http.MethodGet, tt.path, "", tt.header)
			assert.Equal(t, tt.status, w.Code)
		})
	}

	expired, err := services.NewTokenManager("secret", time.Hour).Issue(room.RoomID, time.Now().Add(-2*time.Hour))
	require.NoError(t, err)
	w := s.do(http.MethodGet, "/ws/rooms/"+room.RoomID+"?role=host&token="+expired, "", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w := s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://songline.example"})
	req := httptest.NewRequest(http.MethodGet, "/ws/rooms/x", nil)
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://SONGLINE.example")
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, check(req))
}
