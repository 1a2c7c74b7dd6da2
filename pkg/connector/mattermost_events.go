// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mattermost/mattermost/server/public/model"

	"github.com/aiku/discordlink/pkg/connector/chatfmt"
)

// handleEvent turns a Mattermost WebSocket event into a relay event.
func (m *MattermostRemote) handleEvent(ctx context.Context, evt *model.WebSocketEvent) {
	var kind EventKind
	switch evt.EventType() {
	case model.WebsocketEventPosted:
		kind = EventRemoteMessageCreated
	case model.WebsocketEventPostEdited:
		kind = EventRemoteMessageEdited
	case model.WebsocketEventPostDeleted:
		kind = EventRemoteMessageDeleted
	default:
		m.log.Trace().Str("event_type", string(evt.EventType())).Msg("Unhandled event type")
		return
	}

	post, err := m.parsePostEvent(evt, kind)
	if err != nil {
		m.log.Warn().Err(err).Stringer("kind", kind).Msg("Failed to parse post event")
		return
	}
	if post == nil || m.dispatcher == nil {
		return
	}

	msg := m.postToRemoteMessage(ctx, post)
	m.log.Debug().
		Str("post_id", post.Id).
		Str("channel_id", post.ChannelId).
		Str("user_id", post.UserId).
		Stringer("kind", kind).
		Msg("Received post event")

	if kind == EventRemoteMessageEdited {
		m.dispatcher.Dispatch(ctx, kind, &RemoteMessageEdit{After: msg})
		return
	}
	m.dispatcher.Dispatch(ctx, kind, msg)
}

// parsePostEvent extracts and validates a post from a WebSocket event,
// applying the echo prevention layers that need Mattermost data. Returns
// (nil, nil) to skip silently, (nil, err) to log an error, or (post, nil)
// to proceed.
func (m *MattermostRemote) parsePostEvent(evt *model.WebSocketEvent, kind EventKind) (*model.Post, error) {
	postJSON, ok := evt.GetData()["post"].(string)
	if !ok {
		if kind == EventRemoteMessageCreated {
			return nil, fmt.Errorf("posted event missing post data")
		}
		return nil, nil
	}

	var post model.Post
	if err := json.Unmarshal([]byte(postJSON), &post); err != nil {
		return nil, fmt.Errorf("failed to unmarshal post: %w", err)
	}

	// Echo prevention: skip own posts.
	if post.UserId == m.userID {
		return nil, nil
	}

	// Echo prevention: skip non-default post types (system messages).
	if post.Type != "" && post.Type != model.PostTypeDefault {
		return nil, nil
	}

	// Echo prevention: skip posts from usernames matching the bot prefix.
	senderName, _ := evt.GetData()["sender_name"].(string)
	senderName = strings.TrimPrefix(senderName, "@")
	if senderName != "" && isBridgeUsername(senderName, m.cfg.BotPrefix) {
		m.log.Debug().
			Str("post_id", post.Id).
			Str("username", senderName).
			Msg("Skipping bot username post (echo prevention)")
		return nil, nil
	}

	if post.ChannelId == "" {
		post.ChannelId = evt.GetBroadcast().ChannelId
	}
	return &post, nil
}

// postToRemoteMessage converts a post, looking up the channel and author
// names. Lookup failures leave the IDs in place of the names.
func (m *MattermostRemote) postToRemoteMessage(ctx context.Context, post *model.Post) *RemoteMessage {
	msg := &RemoteMessage{
		ID:         post.Id,
		ChannelID:  post.ChannelId,
		AuthorID:   post.UserId,
		AuthorName: post.UserId,
		Timestamp:  time.UnixMilli(post.CreateAt),
	}
	if post.EditAt > 0 {
		msg.Timestamp = time.UnixMilli(post.EditAt)
	}
	if ch := m.channel(ctx, post.ChannelId); ch != nil {
		msg.ChannelName = ch.Name
		msg.GuildID = ch.TeamId
	}
	if user := m.user(ctx, post.UserId); user != nil {
		msg.AuthorName = user.Username
		if user.Nickname != "" {
			msg.AuthorName = user.Nickname
		}
	}
	for _, fileID := range post.FileIds {
		msg.Attachments = append(msg.Attachments, m.serverURL+"/api/v4/files/"+fileID)
	}
	msg.Content = chatfmt.ReadableContent(post.Message, chatfmt.Names{}, msg.Attachments)
	for _, att := range post.Attachments() {
		if att != nil {
			msg.Embeds = append(msg.Embeds, attachmentToRich(att))
		}
	}
	return msg
}

func (m *MattermostRemote) channel(ctx context.Context, channelID string) *model.Channel {
	if ch, ok := m.channels.Get(channelID); ok {
		return ch
	}
	ch, _, err := m.client.GetChannel(ctx, channelID, "")
	if err != nil {
		m.log.Debug().Err(err).Str("channel_id", channelID).Msg("Failed to get channel")
		return nil
	}
	m.channels.Set(channelID, ch)
	return ch
}

func (m *MattermostRemote) user(ctx context.Context, userID string) *model.User {
	if u, ok := m.users.Get(userID); ok {
		return u
	}
	u, _, err := m.client.GetUser(ctx, userID, "")
	if err != nil {
		m.log.Debug().Err(err).Str("user_id", userID).Msg("Failed to get user")
		return nil
	}
	m.users.Set(userID, u)
	return u
}

// isBridgeUsername returns true if the username belongs to a bot that must
// never be relayed.
func isBridgeUsername(username, botPrefix string) bool {
	return botPrefix != "" && strings.HasPrefix(username, botPrefix)
}
