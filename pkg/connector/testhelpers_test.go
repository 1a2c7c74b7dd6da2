// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"

	"github.com/aiku/discordlink/pkg/connector/chatfmt"
	"github.com/aiku/discordlink/pkg/connector/embedfmt"
	"github.com/aiku/discordlink/pkg/connector/localchat"
)

// dispatchedEvent is one event seen by a recordingDispatcher.
type dispatchedEvent struct {
	Kind    EventKind
	Payload any
}

// recordingDispatcher captures dispatched events for test assertions.
type recordingDispatcher struct {
	mu     sync.Mutex
	events []dispatchedEvent
}

func (d *recordingDispatcher) Dispatch(_ context.Context, kind EventKind, payload any) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, dispatchedEvent{Kind: kind, Payload: payload})
	return 1
}

func (d *recordingDispatcher) Events() []dispatchedEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := make([]dispatchedEvent, len(d.events))
	copy(cp, d.events)
	return cp
}

// remoteCall records one call made on a mockRemote.
type remoteCall struct {
	Method    string
	Target    string
	MessageID string
	Text      string
	Embed     *embedfmt.RichMessage
}

var errMockRemote = errors.New("mock remote failure")

// mockRemote is an in-memory Remote. Sent messages get sequential IDs.
type mockRemote struct {
	mu    sync.Mutex
	calls []remoteCall
	seq   int

	UserID    string
	Dir       chatfmt.Directory
	DirErr    error
	FailSend  bool
	FailEdit  bool
	Connected bool
	Dispatch  Dispatcher
}

var _ Remote = (*mockRemote)(nil)

func newMockRemote() *mockRemote {
	return &mockRemote{UserID: "900000000000000001", Dir: &chatfmt.StaticDirectory{}}
}

func (m *mockRemote) record(c remoteCall) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, c)
	m.seq++
	return fmt.Sprintf("msg-%d", m.seq)
}

func (m *mockRemote) Calls() []remoteCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]remoteCall, len(m.calls))
	copy(cp, m.calls)
	return cp
}

// CallsOf returns the calls of one method.
func (m *mockRemote) CallsOf(method string) []remoteCall {
	var out []remoteCall
	for _, c := range m.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (m *mockRemote) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

func (m *mockRemote) setFailures(send, edit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FailSend = send
	m.FailEdit = edit
}

func (m *mockRemote) failures() (send, edit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.FailSend, m.FailEdit
}

func (m *mockRemote) SendText(_ context.Context, target RemoteTarget, text string) (string, error) {
	send, _ := m.failures()
	id := m.record(remoteCall{Method: "SendText", Target: target.Key(), Text: text})
	if send {
		return "", errMockRemote
	}
	return id, nil
}

func (m *mockRemote) SendEmbed(_ context.Context, target RemoteTarget, msg *embedfmt.RichMessage) (string, error) {
	send, _ := m.failures()
	id := m.record(remoteCall{Method: "SendEmbed", Target: target.Key(), Embed: msg.Clone()})
	if send {
		return "", errMockRemote
	}
	return id, nil
}

func (m *mockRemote) EditEmbed(_ context.Context, target RemoteTarget, messageID string, msg *embedfmt.RichMessage) error {
	_, edit := m.failures()
	m.record(remoteCall{Method: "EditEmbed", Target: target.Key(), MessageID: messageID, Embed: msg.Clone()})
	if edit {
		return errMockRemote
	}
	return nil
}

func (m *mockRemote) Directory(_ context.Context, _ RemoteTarget) (chatfmt.Directory, error) {
	if m.DirErr != nil {
		return nil, m.DirErr
	}
	return m.Dir, nil
}

func (m *mockRemote) Identify(_ context.Context) (string, error) {
	return m.UserID, nil
}

func (m *mockRemote) Connect(_ context.Context, d Dispatcher) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Connected = true
	m.Dispatch = d
	return nil
}

func (m *mockRemote) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Connected = false
	return nil
}

// localSent is one message sent to the local chat.
type localSent struct {
	Channel string
	Text    string
}

// mockLocal records messages sent to the local chat.
type mockLocal struct {
	mu   sync.Mutex
	sent []localSent
	Err  error
}

func (m *mockLocal) SendLocal(_ context.Context, channel, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.sent = append(m.sent, localSent{Channel: channel, Text: text})
	return nil
}

func (m *mockLocal) Sent() []localSent {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]localSent, len(m.sent))
	copy(cp, m.sent)
	return cp
}

var _ LocalSender = (*mockLocal)(nil)
var _ LocalSender = (*localchat.Feed)(nil)

// newTestSender returns a sender with default limits and no logging.
func newTestSender(remote RemoteSender, local LocalSender) *asyncSender {
	return newAsyncSender(remote, local, embedfmt.DefaultLimits(), zerolog.Nop())
}

// endpointCall records which API endpoints were hit during a test.
type endpointCall struct {
	Method string
	Path   string
	Body   string
}

// fakeMM is a test helper that wraps an httptest.Server simulating the
// Mattermost API. It records calls and provides canned responses.
type fakeMM struct {
	Server *httptest.Server

	mu    sync.Mutex
	calls []endpointCall

	// Users maps user ID to model.User for GetUser/GetMe responses.
	Users map[string]*model.User
	// TokenToUser maps bearer tokens to user IDs for GetMe auth.
	TokenToUser map[string]string
	// Channels maps channel ID to model.Channel.
	Channels map[string]*model.Channel
	// ChannelMembers maps channel ID to member list.
	ChannelMembers map[string]model.ChannelMembers
	// Teams maps user ID to team list.
	Teams map[string][]*model.Team
	// TeamsByName maps team name to team.
	TeamsByName map[string]*model.Team
	// ChannelsForTeamUser maps "teamID:userID" to channel list.
	ChannelsForTeamUser map[string][]*model.Channel
	// FailEndpoints causes specific path prefixes to return 500.
	FailEndpoints map[string]bool
}

func newFakeMM() *fakeMM {
	f := &fakeMM{
		Users:               make(map[string]*model.User),
		TokenToUser:         make(map[string]string),
		Channels:            make(map[string]*model.Channel),
		ChannelMembers:      make(map[string]model.ChannelMembers),
		Teams:               make(map[string][]*model.Team),
		TeamsByName:         make(map[string]*model.Team),
		ChannelsForTeamUser: make(map[string][]*model.Channel),
		FailEndpoints:       make(map[string]bool),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handler))
	return f
}

func (f *fakeMM) Close() {
	f.Server.Close()
}

func (f *fakeMM) record(method, path, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, endpointCall{Method: method, Path: path, Body: body})
}

func (f *fakeMM) Calls() []endpointCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]endpointCall, len(f.calls))
	copy(cp, f.calls)
	return cp
}

// CallsTo returns the calls whose path contains path.
func (f *fakeMM) CallsTo(method, path string) []endpointCall {
	var out []endpointCall
	for _, c := range f.Calls() {
		if c.Method == method && strings.Contains(c.Path, path) {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeMM) resolveToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	for tok, uid := range f.TokenToUser {
		if auth == "BEARER "+tok || auth == "Bearer "+tok {
			return uid
		}
	}
	return ""
}

func (f *fakeMM) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.record(r.Method, r.URL.Path, string(body))

	for prefix := range f.FailEndpoints {
		if strings.Contains(r.URL.Path, prefix) {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "fake error"})
			return
		}
	}

	path := r.URL.Path
	parts := strings.Split(path, "/")

	switch {
	// GET /api/v4/users/me
	case r.Method == "GET" && path == "/api/v4/users/me":
		uid := f.resolveToken(r)
		if uid == "" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "unauthorized"})
			return
		}
		if u, ok := f.Users[uid]; ok {
			_ = json.NewEncoder(w).Encode(u)
			return
		}
		w.WriteHeader(http.StatusNotFound)

	// GET /api/v4/users/{user_id}/teams/{team_id}/channels
	case r.Method == "GET" && strings.HasPrefix(path, "/api/v4/users/") && strings.Contains(path, "/teams/") && strings.HasSuffix(path, "/channels"):
		if len(parts) >= 8 {
			key := parts[6] + ":" + parts[4]
			if chs, ok := f.ChannelsForTeamUser[key]; ok {
				_ = json.NewEncoder(w).Encode(chs)
				return
			}
		}
		_ = json.NewEncoder(w).Encode([]*model.Channel{})

	// GET /api/v4/users/{user_id}/teams
	case r.Method == "GET" && strings.HasPrefix(path, "/api/v4/users/") && strings.HasSuffix(path, "/teams"):
		if len(parts) >= 6 {
			if teams, ok := f.Teams[parts[4]]; ok {
				_ = json.NewEncoder(w).Encode(teams)
				return
			}
		}
		_ = json.NewEncoder(w).Encode([]*model.Team{})

	// GET /api/v4/users/{user_id}
	case r.Method == "GET" && strings.HasPrefix(path, "/api/v4/users/") && !strings.Contains(path[len("/api/v4/users/"):], "/"):
		if u, ok := f.Users[path[len("/api/v4/users/"):]]; ok {
			_ = json.NewEncoder(w).Encode(u)
			return
		}
		w.WriteHeader(http.StatusNotFound)

	// GET /api/v4/teams/name/{name}
	case r.Method == "GET" && strings.HasPrefix(path, "/api/v4/teams/name/"):
		if t, ok := f.TeamsByName[path[len("/api/v4/teams/name/"):]]; ok {
			_ = json.NewEncoder(w).Encode(t)
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "team not found"})

	// GET /api/v4/teams/{team_id}/channels/name/{name}
	case r.Method == "GET" && strings.HasPrefix(path, "/api/v4/teams/") && strings.Contains(path, "/channels/name/"):
		if len(parts) >= 8 {
			teamID, name := parts[4], parts[7]
			for _, ch := range f.Channels {
				if ch.TeamId == teamID && ch.Name == name {
					_ = json.NewEncoder(w).Encode(ch)
					return
				}
			}
		}
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "channel not found"})

	// GET /api/v4/channels/{channel_id}/members
	case r.Method == "GET" && strings.HasPrefix(path, "/api/v4/channels/") && strings.HasSuffix(path, "/members"):
		if len(parts) >= 6 {
			if members, ok := f.ChannelMembers[parts[4]]; ok {
				_ = json.NewEncoder(w).Encode(members)
				return
			}
		}
		_ = json.NewEncoder(w).Encode(model.ChannelMembers{})

	// GET /api/v4/channels/{channel_id}
	case r.Method == "GET" && strings.HasPrefix(path, "/api/v4/channels/") && !strings.Contains(path[len("/api/v4/channels/"):], "/"):
		if ch, ok := f.Channels[path[len("/api/v4/channels/"):]]; ok {
			_ = json.NewEncoder(w).Encode(ch)
			return
		}
		w.WriteHeader(http.StatusNotFound)

	// POST /api/v4/posts
	case r.Method == "POST" && path == "/api/v4/posts":
		var post model.Post
		_ = json.Unmarshal(body, &post)
		post.Id = "created-post-id"
		_ = json.NewEncoder(w).Encode(&post)

	// PUT /api/v4/posts/{post_id}/patch
	case r.Method == "PUT" && strings.HasSuffix(path, "/patch"):
		_ = json.NewEncoder(w).Encode(&model.Post{Id: parts[4]})

	default:
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "not found: " + path})
	}
}

// newWebSocketEvent creates a model.WebSocketEvent for testing handlers.
func newWebSocketEvent(eventType model.WebsocketEventType, channelID string, data map[string]any) *model.WebSocketEvent {
	evt := model.NewWebSocketEvent(eventType, "", channelID, "", nil, "")
	return evt.SetData(data)
}

// postJSON serializes a post the way the WebSocket event carries it.
func postJSON(post *model.Post) string {
	b, _ := json.Marshal(post)
	return string(b)
}

// newTestMattermostRemote creates a remote connected to a fake server. It
// is considered identified as "my-user-id" in "my-team-id".
func newTestMattermostRemote(serverURL string) (*MattermostRemote, *recordingDispatcher) {
	m := NewMattermostRemote(MattermostConfig{ServerURL: serverURL, Token: "test-token", BotPrefix: "relay-"}, zerolog.Nop())
	m.userID = "my-user-id"
	m.teamID = "my-team-id"
	d := &recordingDispatcher{}
	m.dispatcher = d
	return m, d
}
