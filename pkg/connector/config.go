// Copyright 2024-2026 Aiku AI

package connector

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/caarlos0/env/v11"
	up "go.mau.fi/util/configupgrade"
	"go.mau.fi/zeroconfig"
	"gopkg.in/yaml.v3"

	"github.com/aiku/discordlink/pkg/connector/chatfmt"
	"github.com/aiku/discordlink/pkg/connector/embedfmt"
	"github.com/aiku/discordlink/pkg/connector/localchat"
)

//go:embed example-config.yaml
var ExampleConfig string

var (
	ErrUnknownRemote = errors.New("unknown remote type")
	ErrUnknownLocal  = errors.New("unknown local chat type")
)

// RemoteType selects the remote network implementation.
type RemoteType string

const (
	RemoteDiscord    RemoteType = "discord"
	RemoteMattermost RemoteType = "mattermost"
)

// LocalType selects the local chat source.
type LocalType string

const (
	LocalMemory LocalType = "memory"
	LocalMatrix LocalType = "matrix"
)

// Config holds the relay configuration.
type Config struct {
	Remote RemoteConfig `yaml:"remote"`
	Local  LocalConfig  `yaml:"local"`

	CommandPrefix     string `yaml:"command_prefix"`
	EchoOverrideToken string `yaml:"echo_override_token"`
	PollIntervalMS    int    `yaml:"poll_interval_ms"`

	Limits              LimitsConfig   `yaml:"limits"`
	DisplaynameTemplate string         `yaml:"displayname_template"`
	ChatLinks           []ChannelLink  `yaml:"chat_links"`
	Feeds               FeedsConfig    `yaml:"feeds"`
	Displays            DisplaysConfig `yaml:"displays"`

	// AdminAPIAddr is the listen address of the admin HTTP API. Empty
	// disables it.
	AdminAPIAddr string `yaml:"admin_api_addr"`
	// MetricsAddr is the listen address of the Prometheus endpoint. Empty
	// disables it.
	MetricsAddr string `yaml:"metrics_addr"`

	Logging zeroconfig.Config `yaml:"logging"`

	displaynameTemplate *template.Template `yaml:"-"`
}

type RemoteConfig struct {
	Type       RemoteType       `yaml:"type"`
	Discord    DiscordConfig    `yaml:"discord"`
	Mattermost MattermostConfig `yaml:"mattermost"`
}

type DiscordConfig struct {
	Token string `yaml:"token"`
}

type MattermostConfig struct {
	ServerURL string `yaml:"server_url"`
	Token     string `yaml:"token"`
	TeamID    string `yaml:"team_id"`
	// BotPrefix is a username prefix for echo prevention. Any Mattermost
	// username starting with this prefix is treated as a relay-managed bot
	// and its posts are not relayed. Leave empty to disable prefix-based
	// filtering.
	BotPrefix string `yaml:"bot_prefix"`
}

type LocalConfig struct {
	Type        LocalType         `yaml:"type"`
	BotName     string            `yaml:"bot_name"`
	HistorySize int               `yaml:"history_size"`
	Matrix      MatrixLocalConfig `yaml:"matrix"`
}

type MatrixLocalConfig struct {
	HomeserverURL string `yaml:"homeserver_url"`
	UserID        string `yaml:"user_id"`
	AccessToken   string `yaml:"access_token"`
	RoomID        string `yaml:"room_id"`
	Channel       string `yaml:"channel"`
	FetchLimit    int    `yaml:"fetch_limit"`
}

// LimitsConfig mirrors embedfmt.Limits in the YAML config.
type LimitsConfig struct {
	FieldChars           int    `yaml:"field_chars"`
	TotalChars           int    `yaml:"total_chars"`
	FieldCount           int    `yaml:"field_count"`
	MinSizeForAutoFooter int    `yaml:"min_size_for_auto_footer"`
	StandardFooter       string `yaml:"standard_footer"`
}

// Embed returns the limits in the form the partitioner takes.
func (l LimitsConfig) Embed() embedfmt.Limits {
	return embedfmt.Limits{
		FieldChars:           l.FieldChars,
		TotalChars:           l.TotalChars,
		FieldCount:           l.FieldCount,
		MinSizeForAutoFooter: l.MinSizeForAutoFooter,
		StandardFooter:       l.StandardFooter,
	}
}

// Direction controls which way a channel link relays.
type Direction string

const (
	DirectionDuplex        Direction = "duplex"
	DirectionLocalToRemote Direction = "local_to_remote"
	DirectionRemoteToLocal Direction = "remote_to_local"
)

// Valid reports whether d is a known direction. Empty means duplex.
func (d Direction) Valid() bool {
	switch d {
	case "", DirectionDuplex, DirectionLocalToRemote, DirectionRemoteToLocal:
		return true
	}
	return false
}

func (d Direction) ToRemote() bool {
	return d == "" || d == DirectionDuplex || d == DirectionLocalToRemote
}

func (d Direction) ToLocal() bool {
	return d == "" || d == DirectionDuplex || d == DirectionRemoteToLocal
}

// RemoteTarget is a remote channel, referenced by ID or by name.
type RemoteTarget struct {
	RemoteGuild   string `yaml:"remote_guild"`
	RemoteChannel string `yaml:"remote_channel"`
}

// IsValid reports whether the target names a channel.
func (t RemoteTarget) IsValid() bool {
	return strings.TrimSpace(t.RemoteChannel) != ""
}

// Matches reports whether the target refers to the given channel.
func (t RemoteTarget) Matches(channelID, channelName string) bool {
	if !t.IsValid() {
		return false
	}
	if t.RemoteChannel == channelID {
		return true
	}
	return channelName != "" && strings.EqualFold(strings.TrimPrefix(t.RemoteChannel, "#"), channelName)
}

// ChannelLink links one local channel to one remote channel.
type ChannelLink struct {
	RemoteTarget `yaml:",inline"`

	LocalChannel string    `yaml:"local_channel"`
	Direction    Direction `yaml:"direction"`

	AllowUserMentions    bool `yaml:"allow_user_mentions"`
	AllowRoleMentions    bool `yaml:"allow_role_mentions"`
	AllowChannelMentions bool `yaml:"allow_channel_mentions"`
	AllowGlobalMentions  bool `yaml:"allow_global_mentions"`
}

// IsValid reports whether both endpoints are set and the direction is known.
func (l ChannelLink) IsValid() bool {
	return strings.TrimSpace(l.LocalChannel) != "" && l.RemoteTarget.IsValid() && l.Direction.Valid()
}

// Permissions returns the mention permissions of the link.
func (l ChannelLink) Permissions() chatfmt.Permissions {
	return chatfmt.Permissions{
		AllowUserMentions:    l.AllowUserMentions,
		AllowRoleMentions:    l.AllowRoleMentions,
		AllowChannelMentions: l.AllowChannelMentions,
	}
}

// FeedsConfig lists the remote targets of each game event feed.
type FeedsConfig struct {
	PlayerStatus []RemoteTarget `yaml:"player_status"`
	Trades       []RemoteTarget `yaml:"trades"`
	Elections    []RemoteTarget `yaml:"elections"`
	WorkParties  []RemoteTarget `yaml:"work_parties"`
	Crafting     []RemoteTarget `yaml:"crafting"`
	ServerStatus []RemoteTarget `yaml:"server_status"`
}

// DisplaysConfig lists the remote targets of edit-tracked displays.
type DisplaysConfig struct {
	Players []RemoteTarget `yaml:"players"`
}

// DisplaynameParams holds the parameters for rendering the displayname template.
type DisplaynameParams struct {
	Name string
}

// Secrets are the values that can be overridden from the environment.
type Secrets struct {
	DiscordToken    string `env:"DISCORDLINK_DISCORD_TOKEN"`
	MattermostToken string `env:"DISCORDLINK_MATTERMOST_TOKEN"`
	MatrixToken     string `env:"DISCORDLINK_MATRIX_TOKEN"`
	AdminAPIAddr    string `env:"DISCORDLINK_ADMIN_API_ADDR"`
}

// DefaultConfig returns the configuration used for keys missing from YAML.
func DefaultConfig() Config {
	limits := embedfmt.DefaultLimits()
	return Config{
		Remote: RemoteConfig{Type: RemoteDiscord},
		Local: LocalConfig{
			Type:        LocalMemory,
			BotName:     "DiscordLink",
			HistorySize: localchat.DefaultHistorySize,
			Matrix:      MatrixLocalConfig{FetchLimit: localchat.DefaultMatrixFetchLimit},
		},
		CommandPrefix:     "?",
		EchoOverrideToken: "[ECHO]",
		PollIntervalMS:    int(DefaultPollInterval.Milliseconds()),
		Limits: LimitsConfig{
			FieldChars:           limits.FieldChars,
			TotalChars:           limits.TotalChars,
			FieldCount:           limits.FieldCount,
			MinSizeForAutoFooter: limits.MinSizeForAutoFooter,
			StandardFooter:       limits.StandardFooter,
		},
		DisplaynameTemplate: "**{{.Name}}**",
		AdminAPIAddr:        ":29320",
	}
}

// UnmarshalYAML decodes on top of DefaultConfig, so omitted keys keep their
// defaults while explicit values, zero included, are taken as written.
func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	raw := rawConfig(DefaultConfig())
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*c = Config(raw)
	return nil
}

// ApplyEnv overrides secrets with values from the environment.
func (c *Config) ApplyEnv() error {
	var s Secrets
	if err := env.Parse(&s); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}
	if s.DiscordToken != "" {
		c.Remote.Discord.Token = s.DiscordToken
	}
	if s.MattermostToken != "" {
		c.Remote.Mattermost.Token = s.MattermostToken
	}
	if s.MatrixToken != "" {
		c.Local.Matrix.AccessToken = s.MatrixToken
	}
	if s.AdminAPIAddr != "" {
		c.AdminAPIAddr = s.AdminAPIAddr
	}
	return nil
}

// PostProcess validates the config and compiles derived values. Invalid
// limits and unknown remote or local types are fatal; invalid channel links
// are not, modules simply skip them.
func (c *Config) PostProcess() error {
	if err := c.Limits.Embed().Validate(); err != nil {
		return err
	}
	switch c.Remote.Type {
	case RemoteDiscord, RemoteMattermost:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownRemote, c.Remote.Type)
	}
	switch c.Local.Type {
	case LocalMemory, LocalMatrix:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownLocal, c.Local.Type)
	}
	var err error
	c.displaynameTemplate, err = template.New("displayname").Parse(c.DisplaynameTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse displayname template: %w", err)
	}
	return nil
}

// LinksFromLocal returns the valid links relaying the local channel to the
// remote network.
func (c *Config) LinksFromLocal(channel string) []ChannelLink {
	var out []ChannelLink
	for _, link := range c.ChatLinks {
		if link.IsValid() && link.Direction.ToRemote() && strings.EqualFold(link.LocalChannel, channel) {
			out = append(out, link)
		}
	}
	return out
}

// LinksToLocal returns the valid links relaying the remote channel to the
// local chat.
func (c *Config) LinksToLocal(channelID, channelName string) []ChannelLink {
	var out []ChannelLink
	for _, link := range c.ChatLinks {
		if link.IsValid() && link.Direction.ToLocal() && link.Matches(channelID, channelName) {
			out = append(out, link)
		}
	}
	return out
}

// LinkFor returns the first valid link whose remote end is target. Guilds
// are only compared when both sides name one.
func (c *Config) LinkFor(target RemoteTarget) (ChannelLink, bool) {
	for _, link := range c.ChatLinks {
		if !link.IsValid() {
			continue
		}
		if target.RemoteGuild != "" && link.RemoteGuild != "" && !strings.EqualFold(target.RemoteGuild, link.RemoteGuild) {
			continue
		}
		if link.Matches(target.RemoteChannel, strings.TrimPrefix(target.RemoteChannel, "#")) {
			return link, true
		}
	}
	return ChannelLink{}, false
}

// PermissionsFor returns the mention permissions for messages sent to
// target. A target without a link, such as a private conversation, permits
// every mention kind.
func (c *Config) PermissionsFor(target RemoteTarget) chatfmt.Permissions {
	if link, ok := c.LinkFor(target); ok {
		return link.Permissions()
	}
	return chatfmt.AllPermitted()
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str, "remote", "type")
	helper.Copy(up.Str, "remote", "discord", "token")
	helper.Copy(up.Str, "remote", "mattermost", "server_url")
	helper.Copy(up.Str, "remote", "mattermost", "token")
	helper.Copy(up.Str, "remote", "mattermost", "team_id")
	helper.Copy(up.Str, "remote", "mattermost", "bot_prefix")

	helper.Copy(up.Str, "local", "type")
	helper.Copy(up.Str, "local", "bot_name")
	helper.Copy(up.Int, "local", "history_size")
	helper.Copy(up.Str, "local", "matrix", "homeserver_url")
	helper.Copy(up.Str, "local", "matrix", "user_id")
	helper.Copy(up.Str, "local", "matrix", "access_token")
	helper.Copy(up.Str, "local", "matrix", "room_id")
	helper.Copy(up.Str, "local", "matrix", "channel")
	helper.Copy(up.Int, "local", "matrix", "fetch_limit")

	helper.Copy(up.Str, "command_prefix")
	helper.Copy(up.Str, "echo_override_token")
	helper.Copy(up.Int, "poll_interval_ms")

	helper.Copy(up.Int, "limits", "field_chars")
	helper.Copy(up.Int, "limits", "total_chars")
	helper.Copy(up.Int, "limits", "field_count")
	helper.Copy(up.Int, "limits", "min_size_for_auto_footer")
	helper.Copy(up.Str, "limits", "standard_footer")

	helper.Copy(up.Str, "displayname_template")
	helper.Copy(up.List, "chat_links")
	helper.Copy(up.List, "feeds", "player_status")
	helper.Copy(up.List, "feeds", "trades")
	helper.Copy(up.List, "feeds", "elections")
	helper.Copy(up.List, "feeds", "work_parties")
	helper.Copy(up.List, "feeds", "crafting")
	helper.Copy(up.List, "feeds", "server_status")
	helper.Copy(up.List, "displays", "players")

	helper.Copy(up.Str, "admin_api_addr")
	helper.Copy(up.Str, "metrics_addr")
	helper.Copy(up.Map, "logging")
}

// Upgrader returns the config upgrader that merges a user config into the
// embedded example.
func Upgrader() *up.StructUpgrader {
	return &up.StructUpgrader{
		SimpleUpgrader: up.SimpleUpgrader(upgradeConfig),
		Blocks: [][]string{
			{"local"},
			{"command_prefix"},
			{"limits"},
			{"displayname_template"},
			{"chat_links"},
			{"feeds"},
			{"displays"},
			{"admin_api_addr"},
			{"logging"},
		},
		Base: ExampleConfig,
	}
}

// LoadConfig upgrades the config file at path against the example config,
// optionally saving the result, and returns the processed config.
func LoadConfig(path string, save bool) (*Config, error) {
	data, _, err := up.Do(path, save, Upgrader())
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes a YAML config, applies environment overrides and
// post-processes it.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.PostProcess(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FormatDisplayname generates a display name from the template and params.
func (c *Config) FormatDisplayname(params DisplaynameParams) string {
	if c.displaynameTemplate == nil {
		return params.Name
	}
	var buf strings.Builder
	if err := c.displaynameTemplate.Execute(&buf, params); err != nil {
		return params.Name
	}
	return buf.String()
}
