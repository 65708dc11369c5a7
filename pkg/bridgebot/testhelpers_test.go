// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bridgebot

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
	"go.mau.fi/util/dbutil"
	_ "go.mau.fi/util/dbutil/litestream"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"
)

// endpointCall records which API endpoints were hit during a test.
type endpointCall struct {
	Server string // "matrix" or "slack"
	Method string
	Path   string
	Body   string
}

// callRecorder collects endpoint calls, optionally shared between the fake
// Matrix and Slack servers so cross-platform call ordering can be asserted.
type callRecorder struct {
	mu    sync.Mutex
	calls []endpointCall
}

func (r *callRecorder) record(server, method, path, body string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, endpointCall{Server: server, Method: method, Path: path, Body: body})
}

func (r *callRecorder) Calls() []endpointCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]endpointCall, len(r.calls))
	copy(cp, r.calls)
	return cp
}

func (r *callRecorder) CalledPath(path string) bool {
	for _, c := range r.Calls() {
		if strings.Contains(c.Path, path) {
			return true
		}
	}
	return false
}

func (r *callRecorder) CountPath(path string) int {
	n := 0
	for _, c := range r.Calls() {
		if strings.Contains(c.Path, path) {
			n++
		}
	}
	return n
}

// fakeHS is a test helper that wraps an httptest.Server simulating the
// Matrix client-server API. It records calls and keeps room state in memory.
type fakeHS struct {
	Server   *httptest.Server
	Recorder *callRecorder

	mu sync.Mutex
	// RoomIDQueue holds the room IDs handed out by createRoom, in order.
	RoomIDQueue []string
	// JoinedRooms is the bot's joined room list.
	JoinedRooms []string
	// Aliases maps full room aliases to room IDs for directory lookups.
	Aliases map[string]string
	// State maps room ID -> state event type -> raw content.
	State map[string]map[string]json.RawMessage
	// FailEndpoints causes paths containing a key to return 500.
	FailEndpoints map[string]bool
}

func newFakeHS(rec *callRecorder) *fakeHS {
	if rec == nil {
		rec = &callRecorder{}
	}
	f := &fakeHS{
		Recorder:      rec,
		Aliases:       make(map[string]string),
		State:         make(map[string]map[string]json.RawMessage),
		FailEndpoints: make(map[string]bool),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handler))
	return f
}

func (f *fakeHS) Close() {
	f.Server.Close()
}

// SetRoomState seeds a state event for a room.
func (f *fakeHS) SetRoomState(roomID, eventType string, content any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, _ := json.Marshal(content)
	if f.State[roomID] == nil {
		f.State[roomID] = make(map[string]json.RawMessage)
	}
	f.State[roomID][eventType] = raw
}

// RoomState returns the stored raw content for a room's state event type.
func (f *fakeHS) RoomState(roomID, eventType string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return string(f.State[roomID][eventType])
}

const clientPrefix = "/_matrix/client/v3"

func respondJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func respondMatrixError(w http.ResponseWriter, code int, errcode, message string) {
	respondJSON(w, code, map[string]string{"errcode": errcode, "error": message})
}

func (f *fakeHS) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.Recorder.record("matrix", r.Method, r.URL.Path, string(body))

	for prefix, fail := range f.FailEndpoints {
		if fail && strings.Contains(r.URL.Path, prefix) {
			respondMatrixError(w, http.StatusInternalServerError, "M_UNKNOWN", "fake error")
			return
		}
	}

	path := strings.TrimPrefix(r.URL.Path, clientPrefix)

	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.Method == "POST" && path == "/createRoom":
		roomID := "!new:example.org"
		if len(f.RoomIDQueue) > 0 {
			roomID = f.RoomIDQueue[0]
			f.RoomIDQueue = f.RoomIDQueue[1:]
		}
		f.JoinedRooms = append(f.JoinedRooms, roomID)
		respondJSON(w, http.StatusOK, map[string]string{"room_id": roomID})

	case r.Method == "GET" && path == "/joined_rooms":
		rooms := f.JoinedRooms
		if rooms == nil {
			rooms = []string{}
		}
		respondJSON(w, http.StatusOK, map[string][]string{"joined_rooms": rooms})

	case r.Method == "GET" && strings.HasPrefix(path, "/directory/room/"):
		alias := strings.TrimPrefix(path, "/directory/room/")
		if roomID, ok := f.Aliases[alias]; ok {
			respondJSON(w, http.StatusOK, map[string]string{"room_id": roomID})
			return
		}
		respondMatrixError(w, http.StatusNotFound, "M_NOT_FOUND", "Room alias not found.")

	case r.Method == "PUT" && strings.HasPrefix(path, "/directory/room/"):
		alias := strings.TrimPrefix(path, "/directory/room/")
		var req struct {
			RoomID string `json:"room_id"`
		}
		_ = json.Unmarshal(body, &req)
		f.Aliases[alias] = req.RoomID
		respondJSON(w, http.StatusOK, map[string]string{})

	case strings.HasPrefix(path, "/rooms/") && strings.Contains(path, "/state/"):
		parts := strings.SplitN(strings.TrimPrefix(path, "/rooms/"), "/state/", 2)
		roomID, eventType := parts[0], parts[1]
		// Strip a trailing state key if present.
		if idx := strings.IndexByte(eventType, '/'); idx >= 0 {
			eventType = eventType[:idx]
		}
		if r.Method == "PUT" {
			if f.State[roomID] == nil {
				f.State[roomID] = make(map[string]json.RawMessage)
			}
			f.State[roomID][eventType] = json.RawMessage(body)
			respondJSON(w, http.StatusOK, map[string]string{"event_id": "$fake"})
			return
		}
		if content, ok := f.State[roomID][eventType]; ok {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(content)
			return
		}
		respondMatrixError(w, http.StatusNotFound, "M_NOT_FOUND", "Event not found.")

	case r.Method == "POST" && strings.HasSuffix(path, "/invite"):
		respondJSON(w, http.StatusOK, map[string]string{})

	case r.Method == "PUT" && strings.Contains(path, "/send/"):
		respondJSON(w, http.StatusOK, map[string]string{"event_id": "$fake"})

	default:
		respondMatrixError(w, http.StatusNotFound, "M_UNRECOGNIZED", "Unknown endpoint: "+path)
	}
}

// fakeSlack simulates the Slack Web API. Channel IDs are derived from the
// channel name so tests can attribute calls to workflows.
type fakeSlack struct {
	Server   *httptest.Server
	Recorder *callRecorder

	mu sync.Mutex
	// Channels maps channel ID to name.
	Channels map[string]string
	// FailEndpoints causes paths containing a key to return a Slack error.
	FailEndpoints map[string]bool
}

func newFakeSlack(rec *callRecorder) *fakeSlack {
	if rec == nil {
		rec = &callRecorder{}
	}
	f := &fakeSlack{
		Recorder:      rec,
		Channels:      make(map[string]string),
		FailEndpoints: make(map[string]bool),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handler))
	return f
}

func (f *fakeSlack) Close() {
	f.Server.Close()
}

func channelIDFor(name string) string {
	return "C-" + name
}

type slackChannelJSON struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (f *fakeSlack) handler(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	f.Recorder.record("slack", r.Method, r.URL.Path, r.Form.Encode())

	for prefix, fail := range f.FailEndpoints {
		if fail && strings.Contains(r.URL.Path, prefix) {
			respondJSON(w, http.StatusOK, map[string]any{"ok": false, "error": "fake_error"})
			return
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.URL.Path {
	case "/conversations.create":
		name := r.FormValue("name")
		chID := channelIDFor(name)
		f.Channels[chID] = name
		respondJSON(w, http.StatusOK, map[string]any{
			"ok":      true,
			"channel": slackChannelJSON{ID: chID, Name: name},
		})

	case "/conversations.setPurpose", "/conversations.setTopic", "/conversations.invite":
		chID := r.FormValue("channel")
		respondJSON(w, http.StatusOK, map[string]any{
			"ok":      true,
			"channel": slackChannelJSON{ID: chID, Name: f.Channels[chID]},
		})

	case "/conversations.info":
		chID := r.FormValue("channel")
		name, ok := f.Channels[chID]
		if !ok {
			respondJSON(w, http.StatusOK, map[string]any{"ok": false, "error": "channel_not_found"})
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"ok":      true,
			"channel": slackChannelJSON{ID: chID, Name: name},
		})

	case "/conversations.list":
		channels := make([]slackChannelJSON, 0, len(f.Channels))
		for chID, name := range f.Channels {
			channels = append(channels, slackChannelJSON{ID: chID, Name: name})
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"ok":       true,
			"channels": channels,
			"response_metadata": map[string]string{
				"next_cursor": "",
			},
		})

	case "/chat.postMessage":
		respondJSON(w, http.StatusOK, map[string]any{
			"ok":      true,
			"channel": r.FormValue("channel"),
			"ts":      "12345.678",
		})

	default:
		respondJSON(w, http.StatusOK, map[string]any{"ok": false, "error": "unknown_method"})
	}
}

// newTestMatrixRooms returns a MatrixRooms adapter pointed at a fake homeserver.
func newTestMatrixRooms(t *testing.T, f *fakeHS) *MatrixRooms {
	t.Helper()
	client, err := mautrix.NewClient(f.Server.URL, id.UserID("@bridgebot:example.org"), "test-token")
	if err != nil {
		t.Fatalf("failed to create matrix client: %v", err)
	}
	return NewMatrixRooms(client, zerolog.Nop())
}

// newTestSlackChannels returns a SlackChannels adapter pointed at a fake
// Slack API server.
func newTestSlackChannels(t *testing.T, f *fakeSlack, registry *RoomLinkRegistry) *SlackChannels {
	t.Helper()
	client := slack.New("test-token", slack.OptionAPIURL(f.Server.URL+"/"))
	return NewSlackChannels(client, registry, "", zerolog.Nop())
}

// newTestRegistry opens a fresh sqlite-backed registry in a temp directory.
func newTestRegistry(t *testing.T) *RoomLinkRegistry {
	t.Helper()
	db, err := dbutil.NewFromConfig("test", dbutil.Config{
		PoolConfig: dbutil.PoolConfig{
			Type:         "sqlite3-fk-wal",
			URI:          "file:" + t.TempDir() + "/test.db?_txlock=immediate",
			MaxOpenConns: 2,
			MaxIdleConns: 1,
		},
	}, dbutil.NoopLogger)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	registry, err := NewRoomLinkRegistry(context.Background(), db)
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}
	return registry
}

// newTestProvisioner wires a Provisioner from fakes. The returned recorder is
// shared between both fake servers.
func newTestProvisioner(t *testing.T, rooms *RoomConfig) (*Provisioner, *fakeHS, *fakeSlack, *RoomLinkRegistry, *callRecorder) {
	t.Helper()
	rec := &callRecorder{}
	hs := newFakeHS(rec)
	t.Cleanup(hs.Close)
	sl := newFakeSlack(rec)
	t.Cleanup(sl.Close)
	registry := newTestRegistry(t)
	matrix := newTestMatrixRooms(t, hs)
	slackCh := newTestSlackChannels(t, sl, registry)
	prov := NewProvisioner(rooms, matrix, slackCh, registry, zerolog.Nop())
	return prov, hs, sl, registry, rec
}
