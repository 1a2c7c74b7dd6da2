// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	"go.mau.fi/util/exsync"

	"github.com/aiku/discordlink/pkg/connector/chatfmt"
	"github.com/aiku/discordlink/pkg/connector/embedfmt"
)

const (
	// embedColor is the accent color of rich messages sent to Discord.
	embedColor = 0x7289DA
	// directoryTTL is how long a guild's mention directory is reused.
	directoryTTL = 5 * time.Minute
	// maxGuildMembers is the largest member page Discord returns.
	maxGuildMembers = 1000
)

// discordAPI is the part of *discordgo.Session the remote uses.
type discordAPI interface {
	Open() error
	Close() error
	AddHandler(handler interface{}) func()
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
	UserGuilds(limit int, beforeID, afterID string, withCounts bool, options ...discordgo.RequestOption) ([]*discordgo.UserGuild, error)
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error)
	GuildRoles(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Role, error)
	GuildMembers(guildID, after string, limit int, options ...discordgo.RequestOption) ([]*discordgo.Member, error)
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditEmbed(channelID, messageID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

var _ discordAPI = (*discordgo.Session)(nil)

// guildDirectory is the cached mention data of one guild.
type guildDirectory struct {
	fetched time.Time
	dir     *chatfmt.StaticDirectory
	names   chatfmt.Names
}

// DiscordRemote links the relay to Discord through a bot account.
type DiscordRemote struct {
	api    discordAPI
	userID string
	now    func() time.Time

	dispatcher Dispatcher
	removers   []func()

	channels    *exsync.Map[string, *discordgo.Channel]
	targets     *exsync.Map[string, string]
	directories *exsync.Map[string, *guildDirectory]

	log zerolog.Logger
}

var _ Remote = (*DiscordRemote)(nil)

// NewDiscordRemote creates a remote for the bot token. Nothing is contacted
// until Identify.
func NewDiscordRemote(cfg DiscordConfig, log zerolog.Logger) (*DiscordRemote, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent
	return newDiscordRemote(session, log), nil
}

func newDiscordRemote(api discordAPI, log zerolog.Logger) *DiscordRemote {
	return &DiscordRemote{
		api:         api,
		now:         time.Now,
		channels:    exsync.NewMap[string, *discordgo.Channel](),
		targets:     exsync.NewMap[string, string](),
		directories: exsync.NewMap[string, *guildDirectory](),
		log:         log.With().Str("component", "discord_remote").Logger(),
	}
}

// Identify returns the bot's user ID.
func (d *DiscordRemote) Identify(_ context.Context) (string, error) {
	me, err := d.api.User("@me")
	if err != nil {
		return "", fmt.Errorf("failed to get bot user: %w", err)
	}
	d.userID = me.ID
	d.log.Info().Str("user_id", me.ID).Str("username", me.Username).Msg("Authenticated")
	return me.ID, nil
}

// Connect registers the message handlers and opens the gateway.
func (d *DiscordRemote) Connect(_ context.Context, dispatcher Dispatcher) error {
	if d.userID == "" {
		return fmt.Errorf("%w: identify before connecting", ErrNoRemote)
	}
	d.dispatcher = dispatcher
	d.removers = append(d.removers,
		d.api.AddHandler(d.onMessageCreate),
		d.api.AddHandler(d.onMessageUpdate),
		d.api.AddHandler(d.onMessageDelete),
	)
	if err := d.api.Open(); err != nil {
		return fmt.Errorf("failed to open discord gateway: %w", err)
	}
	d.log.Info().Msg("Gateway connected")
	return nil
}

// Disconnect removes the handlers and closes the gateway.
func (d *DiscordRemote) Disconnect() error {
	for _, remove := range d.removers {
		remove()
	}
	d.removers = nil
	if err := d.api.Close(); err != nil {
		return fmt.Errorf("failed to close discord gateway: %w", err)
	}
	return nil
}

func (d *DiscordRemote) onMessageCreate(_ *discordgo.Session, evt *discordgo.MessageCreate) {
	if evt == nil || evt.Message == nil || evt.Author == nil {
		return
	}
	d.dispatch(EventRemoteMessageCreated, d.toRemoteMessage(evt.Message))
}

func (d *DiscordRemote) onMessageUpdate(_ *discordgo.Session, evt *discordgo.MessageUpdate) {
	// Embed unfurls arrive as updates without an author.
	if evt == nil || evt.Message == nil || evt.Author == nil {
		return
	}
	edit := &RemoteMessageEdit{After: d.toRemoteMessage(evt.Message)}
	if evt.BeforeUpdate != nil && evt.BeforeUpdate.Author != nil {
		edit.Before = d.toRemoteMessage(evt.BeforeUpdate)
	}
	d.dispatch(EventRemoteMessageEdited, edit)
}

func (d *DiscordRemote) onMessageDelete(_ *discordgo.Session, evt *discordgo.MessageDelete) {
	if evt == nil || evt.Message == nil {
		return
	}
	msg := evt.Message
	if evt.BeforeDelete != nil {
		msg = evt.BeforeDelete
	}
	if msg.Author == nil {
		d.dispatch(EventRemoteMessageDeleted, &RemoteMessage{ID: msg.ID, ChannelID: msg.ChannelID, GuildID: msg.GuildID})
		return
	}
	d.dispatch(EventRemoteMessageDeleted, d.toRemoteMessage(msg))
}

func (d *DiscordRemote) dispatch(kind EventKind, payload any) {
	if d.dispatcher == nil {
		return
	}
	d.dispatcher.Dispatch(context.Background(), kind, payload)
}

// toRemoteMessage converts a Discord message. Mention references in the
// content become readable names and attachment URLs are appended.
func (d *DiscordRemote) toRemoteMessage(msg *discordgo.Message) *RemoteMessage {
	out := &RemoteMessage{
		ID:        msg.ID,
		ChannelID: msg.ChannelID,
		GuildID:   msg.GuildID,
		Timestamp: msg.Timestamp,
	}
	if msg.EditedTimestamp != nil {
		out.Timestamp = *msg.EditedTimestamp
	}
	if msg.Author != nil {
		out.AuthorID = msg.Author.ID
		out.AuthorName = msg.Author.DisplayName()
	}
	if msg.Member != nil && msg.Member.Nick != "" {
		out.AuthorName = msg.Member.Nick
	}
	if ch := d.channel(msg.ChannelID); ch != nil {
		out.ChannelName = ch.Name
		if out.GuildID == "" {
			out.GuildID = ch.GuildID
		}
	}
	for _, att := range msg.Attachments {
		if att != nil {
			out.Attachments = append(out.Attachments, att.URL)
		}
	}
	var names chatfmt.Names
	if out.GuildID != "" {
		if gd, err := d.guildDirectory(out.GuildID); err == nil {
			names = gd.names
		} else {
			d.log.Debug().Err(err).Str("guild_id", out.GuildID).Msg("Failed to load guild names")
		}
	}
	out.Content = chatfmt.ReadableContent(msg.Content, names, out.Attachments)
	for _, e := range msg.Embeds {
		if e != nil {
			out.Embeds = append(out.Embeds, embedToRich(e))
		}
	}
	return out
}

func (d *DiscordRemote) channel(channelID string) *discordgo.Channel {
	if ch, ok := d.channels.Get(channelID); ok {
		return ch
	}
	ch, err := d.api.Channel(channelID)
	if err != nil {
		d.log.Debug().Err(err).Str("channel_id", channelID).Msg("Failed to get channel")
		return nil
	}
	d.channels.Set(channelID, ch)
	return ch
}

// resolveGuild returns the guild ID of a reference. An empty reference
// means the only guild the bot is in.
func (d *DiscordRemote) resolveGuild(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if IsSnowflake(ref) {
		return ref, nil
	}
	guilds, err := d.api.UserGuilds(200, "", "", false)
	if err != nil {
		return "", fmt.Errorf("failed to list guilds: %w", err)
	}
	if ref == "" {
		if len(guilds) == 1 {
			return guilds[0].ID, nil
		}
		return "", fmt.Errorf("%w: no guild given and the bot is in %d guilds", ErrUnknownChannel, len(guilds))
	}
	for _, g := range guilds {
		if strings.EqualFold(g.Name, ref) {
			return g.ID, nil
		}
	}
	return "", fmt.Errorf("%w: guild %q", ErrUnknownChannel, ref)
}

// resolveChannel returns the channel ID of a target.
func (d *DiscordRemote) resolveChannel(target RemoteTarget) (string, error) {
	ref := strings.TrimPrefix(strings.TrimSpace(target.RemoteChannel), "#")
	if IsSnowflake(ref) {
		return ref, nil
	}
	key := target.Key()
	if id, ok := d.targets.Get(key); ok {
		return id, nil
	}
	guildID, err := d.resolveGuild(target.RemoteGuild)
	if err != nil {
		return "", err
	}
	channels, err := d.api.GuildChannels(guildID)
	if err != nil {
		return "", fmt.Errorf("failed to list channels of guild %s: %w", guildID, err)
	}
	for _, ch := range channels {
		if ch.Type == discordgo.ChannelTypeGuildText && strings.EqualFold(ch.Name, ref) {
			d.channels.Set(ch.ID, ch)
			d.targets.Set(key, ch.ID)
			return ch.ID, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownChannel, key)
}

// SendText posts a plain message.
func (d *DiscordRemote) SendText(_ context.Context, target RemoteTarget, text string) (string, error) {
	channelID, err := d.resolveChannel(target)
	if err != nil {
		return "", err
	}
	msg, err := d.api.ChannelMessageSend(channelID, text)
	if err != nil {
		return "", fmt.Errorf("failed to send message: %w", err)
	}
	return msg.ID, nil
}

// SendEmbed posts one embed.
func (d *DiscordRemote) SendEmbed(_ context.Context, target RemoteTarget, msg *embedfmt.RichMessage) (string, error) {
	channelID, err := d.resolveChannel(target)
	if err != nil {
		return "", err
	}
	sent, err := d.api.ChannelMessageSendEmbed(channelID, richToEmbed(msg))
	if err != nil {
		return "", fmt.Errorf("failed to send embed: %w", err)
	}
	return sent.ID, nil
}

// EditEmbed replaces the embed of a message sent with SendEmbed.
func (d *DiscordRemote) EditEmbed(_ context.Context, target RemoteTarget, messageID string, msg *embedfmt.RichMessage) error {
	channelID, err := d.resolveChannel(target)
	if err != nil {
		return err
	}
	if _, err := d.api.ChannelMessageEditEmbed(channelID, messageID, richToEmbed(msg)); err != nil {
		return fmt.Errorf("failed to edit embed: %w", err)
	}
	return nil
}

// Directory returns the mentionable roles, members and text channels of the
// target's guild.
func (d *DiscordRemote) Directory(_ context.Context, target RemoteTarget) (chatfmt.Directory, error) {
	channelID, err := d.resolveChannel(target)
	if err != nil {
		return nil, err
	}
	ch := d.channel(channelID)
	if ch == nil || ch.GuildID == "" {
		return nil, fmt.Errorf("%w: %s is not a guild channel", ErrUnknownChannel, channelID)
	}
	gd, err := d.guildDirectory(ch.GuildID)
	if err != nil {
		return nil, err
	}
	return gd.dir, nil
}

func (d *DiscordRemote) guildDirectory(guildID string) (*guildDirectory, error) {
	if gd, ok := d.directories.Get(guildID); ok && d.now().Sub(gd.fetched) < directoryTTL {
		return gd, nil
	}
	roles, err := d.api.GuildRoles(guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to get roles: %w", err)
	}
	members, err := d.api.GuildMembers(guildID, "", maxGuildMembers)
	if err != nil {
		return nil, fmt.Errorf("failed to get members: %w", err)
	}
	channels, err := d.api.GuildChannels(guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to get channels: %w", err)
	}
	gd := buildGuildDirectory(roles, members, channels)
	gd.fetched = d.now()
	d.directories.Set(guildID, gd)
	return gd, nil
}

// buildGuildDirectory collects mention entries and readable names. The
// @everyone role is never listed; it is a global mention.
func buildGuildDirectory(roles []*discordgo.Role, members []*discordgo.Member, channels []*discordgo.Channel) *guildDirectory {
	gd := &guildDirectory{
		dir: &chatfmt.StaticDirectory{},
		names: chatfmt.Names{
			Members:  make(map[string]string, len(members)),
			Roles:    make(map[string]string, len(roles)),
			Channels: make(map[string]string, len(channels)),
		},
	}
	for _, r := range roles {
		if r == nil || r.Name == "@everyone" {
			continue
		}
		gd.names.Roles[r.ID] = r.Name
		if r.Mentionable {
			gd.dir.RoleEntries = append(gd.dir.RoleEntries, chatfmt.Entry{Name: r.Name, Reference: r.Mention()})
		}
	}
	for _, m := range members {
		if m == nil || m.User == nil {
			continue
		}
		name := m.DisplayName()
		gd.names.Members[m.User.ID] = name
		gd.dir.MemberEntries = append(gd.dir.MemberEntries, chatfmt.Entry{Name: name, Reference: m.Mention()})
		if m.User.Username != name {
			gd.dir.MemberEntries = append(gd.dir.MemberEntries, chatfmt.Entry{Name: m.User.Username, Reference: m.Mention()})
		}
	}
	for _, ch := range channels {
		if ch == nil || ch.Type != discordgo.ChannelTypeGuildText {
			continue
		}
		gd.names.Channels[ch.ID] = ch.Name
		gd.dir.ChannelEntries = append(gd.dir.ChannelEntries, chatfmt.Entry{Name: ch.Name, Reference: ch.Mention()})
	}
	return gd
}

// richToEmbed renders a rich message as a Discord embed.
func richToEmbed(msg *embedfmt.RichMessage) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{
		Type:        discordgo.EmbedTypeRich,
		Title:       msg.Title,
		Description: msg.Description,
		Color:       embedColor,
	}
	if msg.Footer != "" {
		e.Footer = &discordgo.MessageEmbedFooter{Text: msg.Footer}
	}
	if msg.Thumbnail != "" {
		e.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: msg.Thumbnail}
	}
	for _, f := range msg.Fields {
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{Name: f.Title, Value: f.Text, Inline: f.Inline})
	}
	return e
}

// embedToRich converts a Discord embed to a rich message.
func embedToRich(e *discordgo.MessageEmbed) *embedfmt.RichMessage {
	msg := &embedfmt.RichMessage{
		Title:       e.Title,
		Description: e.Description,
	}
	if e.Footer != nil {
		msg.Footer = e.Footer.Text
	}
	if e.Thumbnail != nil {
		msg.Thumbnail = e.Thumbnail.URL
	}
	for _, f := range e.Fields {
		if f != nil {
			msg.AddField(f.Name, f.Value, f.Inline)
		}
	}
	return msg
}
