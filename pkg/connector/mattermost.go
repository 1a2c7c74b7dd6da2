// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"
	"go.mau.fi/util/exsync"

	"github.com/aiku/discordlink/pkg/connector/chatfmt"
	"github.com/aiku/discordlink/pkg/connector/embedfmt"
)

// wsReconnectDelay is the pause between WebSocket reconnect attempts.
const wsReconnectDelay = 5 * time.Second

// MattermostRemote links the relay to a Mattermost server through one
// authenticated account.
type MattermostRemote struct {
	cfg MattermostConfig

	client    *model.Client4
	userID    string
	teamID    string
	serverURL string

	dispatcher Dispatcher
	channels   *exsync.Map[string, *model.Channel]
	users      *exsync.Map[string, *model.User]
	targets    *exsync.Map[string, string]

	// wsMu guards wsClient, which the reconnect loop replaces.
	wsMu     sync.Mutex
	wsClient *model.WebSocketClient
	stopOnce sync.Once
	stopChan chan struct{}
	log      zerolog.Logger
}

var _ Remote = (*MattermostRemote)(nil)

// NewMattermostRemote creates a remote for the configured server. Nothing is
// contacted until Identify.
func NewMattermostRemote(cfg MattermostConfig, log zerolog.Logger) *MattermostRemote {
	client := model.NewAPIv4Client(cfg.ServerURL)
	client.SetToken(cfg.Token)
	return &MattermostRemote{
		cfg:       cfg,
		client:    client,
		teamID:    cfg.TeamID,
		serverURL: cfg.ServerURL,
		channels:  exsync.NewMap[string, *model.Channel](),
		users:     exsync.NewMap[string, *model.User](),
		targets:   exsync.NewMap[string, string](),
		stopChan:  make(chan struct{}),
		log:       log.With().Str("component", "mm_remote").Logger(),
	}
}

// Identify verifies the token and returns the account's user ID.
func (m *MattermostRemote) Identify(ctx context.Context) (string, error) {
	m.log.Info().Str("server_url", m.serverURL).Msg("Connecting to Mattermost")

	me, _, err := m.client.GetMe(ctx, "")
	if err != nil {
		return "", fmt.Errorf("failed to verify Mattermost session: %w", err)
	}
	m.userID = me.Id
	m.users.Set(me.Id, me)
	m.log.Info().Str("user_id", me.Id).Str("username", me.Username).Msg("Authenticated")

	if m.teamID == "" {
		teams, _, err := m.client.GetTeamsForUser(ctx, m.userID, "")
		if err != nil {
			return "", fmt.Errorf("failed to get teams: %w", err)
		}
		if len(teams) > 0 {
			m.teamID = teams[0].Id
		}
	}
	return m.userID, nil
}

// Connect opens the WebSocket and starts delivering post events to d.
func (m *MattermostRemote) Connect(_ context.Context, d Dispatcher) error {
	if m.userID == "" {
		return fmt.Errorf("%w: identify before connecting", ErrNoRemote)
	}
	m.dispatcher = d
	return m.connectWebSocket()
}

func (m *MattermostRemote) connectWebSocket() error {
	wsURL := httpToWS(m.serverURL)
	wsClient, err := model.NewWebSocketClient4(wsURL, m.client.AuthToken)
	if err != nil {
		return fmt.Errorf("failed to create websocket client: %w", err)
	}
	m.wsMu.Lock()
	if m.stopped() {
		m.wsMu.Unlock()
		wsClient.Close()
		return nil
	}
	m.wsClient = wsClient
	m.wsMu.Unlock()
	wsClient.Listen()

	go m.listenWebSocket(wsClient)

	m.log.Info().Str("ws_url", wsURL).Msg("WebSocket connected")
	return nil
}

// httpToWS converts an HTTP(S) URL to a WS(S) URL.
func httpToWS(url string) string {
	if strings.HasPrefix(url, "https://") {
		return "wss://" + strings.TrimPrefix(url, "https://")
	}
	if strings.HasPrefix(url, "http://") {
		return "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url
}

func (m *MattermostRemote) listenWebSocket(wsClient *model.WebSocketClient) {
	for {
		select {
		case <-m.stopChan:
			return
		case evt, ok := <-wsClient.EventChannel:
			if !ok {
				if m.stopped() {
					return
				}
				m.log.Warn().Msg("WebSocket event channel closed, reconnecting")
				m.reconnectWebSocket()
				return
			}
			if evt == nil {
				continue
			}
			m.handleEvent(context.Background(), evt)
		}
	}
}

func (m *MattermostRemote) reconnectWebSocket() {
	for !m.stopped() {
		err := m.connectWebSocket()
		if err == nil {
			return
		}
		m.log.Error().Err(err).Msg("Failed to reconnect WebSocket")
		select {
		case <-m.stopChan:
			return
		case <-time.After(wsReconnectDelay):
		}
	}
}

// Disconnect closes the WebSocket connection and stops the event loop.
func (m *MattermostRemote) Disconnect() error {
	m.stopOnce.Do(func() {
		close(m.stopChan)
	})
	m.wsMu.Lock()
	wsClient := m.wsClient
	m.wsClient = nil
	m.wsMu.Unlock()
	if wsClient != nil {
		wsClient.Close()
	}
	return nil
}

func (m *MattermostRemote) stopped() bool {
	select {
	case <-m.stopChan:
		return true
	default:
		return false
	}
}

// resolveChannel returns the channel ID of a target. Names are looked up in
// the target's team, or the account's team when none is set.
func (m *MattermostRemote) resolveChannel(ctx context.Context, target RemoteTarget) (string, error) {
	ref := strings.TrimPrefix(strings.TrimSpace(target.RemoteChannel), "~")
	if IsMattermostID(ref) {
		return ref, nil
	}
	key := target.Key()
	if id, ok := m.targets.Get(key); ok {
		return id, nil
	}

	teamID := m.teamID
	if team := strings.TrimSpace(target.RemoteGuild); team != "" {
		if IsMattermostID(team) {
			teamID = team
		} else {
			t, _, err := m.client.GetTeamByName(ctx, team, "")
			if err != nil {
				return "", fmt.Errorf("failed to get team %q: %w", team, err)
			}
			teamID = t.Id
		}
	}
	if teamID == "" {
		return "", fmt.Errorf("%w: %s has no team", ErrUnknownChannel, key)
	}
	ch, _, err := m.client.GetChannelByName(ctx, strings.ToLower(ref), teamID, "")
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrUnknownChannel, key, err)
	}
	m.channels.Set(ch.Id, ch)
	m.targets.Set(key, ch.Id)
	return ch.Id, nil
}

// SendText creates a plain post.
func (m *MattermostRemote) SendText(ctx context.Context, target RemoteTarget, text string) (string, error) {
	channelID, err := m.resolveChannel(ctx, target)
	if err != nil {
		return "", err
	}
	created, _, err := m.client.CreatePost(ctx, &model.Post{ChannelId: channelID, Message: text})
	if err != nil {
		return "", fmt.Errorf("failed to create post: %w", err)
	}
	return created.Id, nil
}

// SendEmbed creates a post carrying msg as a message attachment.
func (m *MattermostRemote) SendEmbed(ctx context.Context, target RemoteTarget, msg *embedfmt.RichMessage) (string, error) {
	channelID, err := m.resolveChannel(ctx, target)
	if err != nil {
		return "", err
	}
	post := &model.Post{ChannelId: channelID}
	post.AddProp("attachments", []*model.SlackAttachment{richToAttachment(msg)})
	created, _, err := m.client.CreatePost(ctx, post)
	if err != nil {
		return "", fmt.Errorf("failed to create post: %w", err)
	}
	return created.Id, nil
}

// EditEmbed replaces the attachment of a post made by SendEmbed.
func (m *MattermostRemote) EditEmbed(ctx context.Context, _ RemoteTarget, messageID string, msg *embedfmt.RichMessage) error {
	props := model.StringInterface{"attachments": []*model.SlackAttachment{richToAttachment(msg)}}
	if _, _, err := m.client.PatchPost(ctx, messageID, &model.PostPatch{Props: &props}); err != nil {
		return fmt.Errorf("failed to edit post: %w", err)
	}
	return nil
}

// richToAttachment renders a rich message as a Mattermost message attachment.
func richToAttachment(msg *embedfmt.RichMessage) *model.SlackAttachment {
	att := &model.SlackAttachment{
		Fallback: msg.PlainText(),
		Title:    msg.Title,
		Text:     msg.Description,
		ThumbURL: msg.Thumbnail,
		Footer:   msg.Footer,
	}
	for _, f := range msg.Fields {
		att.Fields = append(att.Fields, &model.SlackAttachmentField{
			Title: f.Title,
			Value: f.Text,
			Short: model.SlackCompatibleBool(f.Inline),
		})
	}
	return att
}

// attachmentToRich converts a message attachment back to a rich message.
func attachmentToRich(att *model.SlackAttachment) *embedfmt.RichMessage {
	msg := &embedfmt.RichMessage{
		Title:       att.Title,
		Description: att.Text,
		Footer:      att.Footer,
		Thumbnail:   att.ThumbURL,
	}
	for _, f := range att.Fields {
		if f == nil {
			continue
		}
		msg.AddField(f.Title, fmt.Sprint(f.Value), bool(f.Short))
	}
	return msg
}

// Directory lists the members and team channels that may be mentioned in
// the target channel.
func (m *MattermostRemote) Directory(ctx context.Context, target RemoteTarget) (chatfmt.Directory, error) {
	channelID, err := m.resolveChannel(ctx, target)
	if err != nil {
		return nil, err
	}
	members, _, err := m.client.GetChannelMembers(ctx, channelID, 0, 200, "")
	if err != nil {
		return nil, fmt.Errorf("failed to get channel members: %w", err)
	}
	dir := &chatfmt.StaticDirectory{
		MemberEntries: m.memberEntries(ctx, members),
	}
	if m.teamID != "" {
		channels, _, err := m.client.GetChannelsForTeamForUser(ctx, m.teamID, m.userID, false, "")
		if err != nil {
			m.log.Warn().Err(err).Msg("Failed to fetch team channels for mentions")
		} else {
			dir.ChannelEntries = channelEntries(channels)
		}
	}
	return dir, nil
}
