// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aiku/discordlink/pkg/connector/chatfmt"
	"github.com/aiku/discordlink/pkg/connector/localchat"
)

// LocalChatFeed relays local chat messages to the linked remote channels.
type LocalChatFeed struct {
	cfg    *Config
	remote RemoteSender
	sender *asyncSender
}

var _ Module = (*LocalChatFeed)(nil)

func NewLocalChatFeed(cfg *Config, remote RemoteSender, sender *asyncSender) *LocalChatFeed {
	return &LocalChatFeed{cfg: cfg, remote: remote, sender: sender}
}

func (m *LocalChatFeed) Name() string        { return "local_chat_feed" }
func (m *LocalChatFeed) Triggers() EventKind { return EventLocalMessageSent }

func (m *LocalChatFeed) IsReady() bool {
	for _, link := range m.cfg.ChatLinks {
		if link.IsValid() && link.Direction.ToRemote() {
			return true
		}
	}
	return false
}

func (m *LocalChatFeed) React(ctx context.Context, _ EventKind, payload any) error {
	msg, ok := payload.(*localchat.Message)
	if !ok || msg == nil {
		return fmt.Errorf("unexpected payload %T", payload)
	}
	text := m.stripEchoOverride(msg.Text)
	if strings.TrimSpace(text) == "" {
		return nil
	}
	for _, link := range m.cfg.LinksFromLocal(msg.Channel) {
		formatted := formatLocal(ctx, m.cfg, m.remote, link.RemoteTarget, link.Permissions(), link.AllowGlobalMentions, msg.Sender, text)
		m.sender.SendText(ctx, link.RemoteTarget, formatted)
	}
	return nil
}

// formatForTarget renders a local message for target with the permissions
// of its link, or with every mention kind allowed when it has none.
func formatForTarget(ctx context.Context, cfg *Config, remote RemoteSender, target RemoteTarget, sender, text string) string {
	link, _ := cfg.LinkFor(target)
	return formatLocal(ctx, cfg, remote, target, cfg.PermissionsFor(target), link.AllowGlobalMentions, sender, text)
}

// formatLocal renders a local message for target. When the mention
// directory cannot be loaded the text is sent unresolved.
func formatLocal(ctx context.Context, cfg *Config, remote RemoteSender, target RemoteTarget, perms chatfmt.Permissions, allowGlobal bool, sender, text string) string {
	name := cfg.FormatDisplayname(DisplaynameParams{Name: strings.TrimPrefix(sender, "@")})
	var dir chatfmt.Directory
	if remote != nil {
		d, err := remote.Directory(ctx, target)
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).
				Str("target", target.Key()).
				Msg("Failed to load mention directory, sending without mentions")
		} else {
			dir = d
		}
	}
	return chatfmt.FormatLocalForRemote(name, text, dir, perms, allowGlobal)
}

func (m *LocalChatFeed) stripEchoOverride(text string) string {
	token := m.cfg.EchoOverrideToken
	if token == "" || !strings.HasPrefix(text, token) {
		return text
	}
	return strings.TrimSpace(strings.TrimPrefix(text, token))
}

// RemoteChatFeed relays remote messages to the linked local channels.
type RemoteChatFeed struct {
	cfg    *Config
	sender *asyncSender
}

var _ Module = (*RemoteChatFeed)(nil)

func NewRemoteChatFeed(cfg *Config, sender *asyncSender) *RemoteChatFeed {
	return &RemoteChatFeed{cfg: cfg, sender: sender}
}

func (m *RemoteChatFeed) Name() string { return "remote_chat_feed" }

func (m *RemoteChatFeed) Triggers() EventKind {
	return EventRemoteMessageCreated | EventRemoteMessageEdited
}

func (m *RemoteChatFeed) IsReady() bool {
	for _, link := range m.cfg.ChatLinks {
		if link.IsValid() && link.Direction.ToLocal() {
			return true
		}
	}
	return false
}

func (m *RemoteChatFeed) React(ctx context.Context, kind EventKind, payload any) error {
	msg := remoteMessageOf(payload)
	if msg == nil {
		return fmt.Errorf("unexpected payload %T", payload)
	}
	content := remoteContentForLocal(msg)
	if content == "" {
		return nil
	}
	if kind == EventRemoteMessageEdited {
		content += " (edited)"
	}
	for _, link := range m.cfg.LinksToLocal(msg.ChannelID, msg.ChannelName) {
		m.sender.SendLocal(ctx, link.LocalChannel, chatfmt.FormatRemoteForLocal(msg.ChannelName, msg.AuthorName, content))
	}
	return nil
}

// remoteContentForLocal returns the text of a remote message, falling back
// to its embeds when it has no text.
func remoteContentForLocal(msg *RemoteMessage) string {
	content := strings.TrimSpace(msg.Content)
	if content != "" || len(msg.Embeds) == 0 {
		return content
	}
	parts := make([]string, 0, len(msg.Embeds))
	for _, e := range msg.Embeds {
		if text := chatfmt.EmbedToLocal(e); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n")
}

// targetsReady reports whether any target is valid.
func targetsReady(targets []RemoteTarget) bool {
	for _, t := range targets {
		if t.IsValid() {
			return true
		}
	}
	return false
}

// noticeFeed posts notices for a set of game events to fixed targets.
type noticeFeed struct {
	name     string
	triggers EventKind
	targets  []RemoteTarget
	sender   *asyncSender
	render   func(kind EventKind, payload any) (notice, error)
}

var _ Module = (*noticeFeed)(nil)

func (f *noticeFeed) Name() string        { return f.name }
func (f *noticeFeed) Triggers() EventKind { return f.triggers }
func (f *noticeFeed) IsReady() bool       { return targetsReady(f.targets) }

func (f *noticeFeed) React(ctx context.Context, kind EventKind, payload any) error {
	n, err := f.render(kind, payload)
	if err != nil {
		return err
	}
	for _, target := range f.targets {
		if !target.IsValid() {
			continue
		}
		if n.embed != nil {
			f.sender.SendEmbed(ctx, target, n.embed)
		} else if n.text != "" {
			f.sender.SendText(ctx, target, n.text)
		}
	}
	return nil
}
