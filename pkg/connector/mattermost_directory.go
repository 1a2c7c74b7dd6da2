// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"

	"github.com/mattermost/mattermost/server/public/model"

	"github.com/aiku/discordlink/pkg/connector/chatfmt"
)

// memberEntries converts channel members to mention entries. Members are
// listed by username and, when set, by nickname, so either can be typed.
func (m *MattermostRemote) memberEntries(ctx context.Context, members model.ChannelMembers) []chatfmt.Entry {
	entries := make([]chatfmt.Entry, 0, len(members))
	for _, member := range members {
		if member.UserId == m.userID {
			continue
		}
		user := m.user(ctx, member.UserId)
		if user == nil || user.DeleteAt > 0 {
			continue
		}
		ref := "@" + user.Username
		entries = append(entries, chatfmt.Entry{Name: user.Username, Reference: ref})
		if user.Nickname != "" {
			entries = append(entries, chatfmt.Entry{Name: user.Nickname, Reference: ref})
		}
	}
	return entries
}

// channelEntries converts team channels to mention entries. Direct and group
// channels have no name that can be mentioned.
func channelEntries(channels []*model.Channel) []chatfmt.Entry {
	entries := make([]chatfmt.Entry, 0, len(channels))
	for _, ch := range channels {
		switch ch.Type {
		case model.ChannelTypeDirect, model.ChannelTypeGroup:
			continue
		}
		entries = append(entries, chatfmt.Entry{Name: ch.Name, Reference: "~" + ch.Name})
		if ch.DisplayName != "" && ch.DisplayName != ch.Name {
			entries = append(entries, chatfmt.Entry{Name: ch.DisplayName, Reference: "~" + ch.Name})
		}
	}
	return entries
}
