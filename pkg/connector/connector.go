// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aiku/discordlink/pkg/connector/embedfmt"
	"github.com/aiku/discordlink/pkg/connector/localchat"
)

// ErrNotStarted is returned when the relay is used before Start.
var ErrNotStarted = errors.New("relay not started")

// LocalChat is the local side of the relay: a history to poll and a way to
// post into it.
type LocalChat interface {
	LocalSource
	LocalSender
}

// RelayConnector wires a remote network, a local chat and the event modules
// together and owns their lifecycle.
type RelayConnector struct {
	Config *Config

	remote Remote
	local  LocalChat
	feed   *localchat.Feed
	sender *asyncSender
	log    zerolog.Logger

	mu      sync.RWMutex
	router  *Router
	poller  *Poller
	display *PlayerDisplay
	started time.Time
}

// New creates a relay from the configuration. The config must have been
// post-processed.
func New(cfg *Config, log zerolog.Logger) (*RelayConnector, error) {
	var remote Remote
	switch cfg.Remote.Type {
	case RemoteDiscord:
		d, err := NewDiscordRemote(cfg.Remote.Discord, log)
		if err != nil {
			return nil, err
		}
		remote = d
	case RemoteMattermost:
		remote = NewMattermostRemote(cfg.Remote.Mattermost, log)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownRemote, cfg.Remote.Type)
	}

	var local LocalChat
	switch cfg.Local.Type {
	case LocalMemory:
		local = localchat.NewFeed(cfg.Local.BotName, cfg.Local.HistorySize)
	case LocalMatrix:
		m := cfg.Local.Matrix
		room, err := localchat.NewMatrixRoom(localchat.MatrixConfig{
			HomeserverURL: m.HomeserverURL,
			UserID:        m.UserID,
			AccessToken:   m.AccessToken,
			RoomID:        m.RoomID,
			Channel:       m.Channel,
			BotName:       cfg.Local.BotName,
			FetchLimit:    m.FetchLimit,
		}, log)
		if err != nil {
			return nil, err
		}
		local = room
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownLocal, cfg.Local.Type)
	}
	return NewWithSides(cfg, remote, local, log), nil
}

// NewWithSides creates a relay around an existing remote and local chat.
func NewWithSides(cfg *Config, remote Remote, local LocalChat, log zerolog.Logger) *RelayConnector {
	feed, _ := local.(*localchat.Feed)
	return &RelayConnector{
		Config: cfg,
		remote: remote,
		local:  local,
		feed:   feed,
		sender: newAsyncSender(remote, local, cfg.Limits.Embed(), log),
		log:    log.With().Str("component", "relay").Logger(),
	}
}

// buildModules creates every module. Modules without a valid target stay
// registered but report not ready.
func (c *RelayConnector) buildModules(display *PlayerDisplay) []Module {
	feeds := c.Config.Feeds
	return []Module{
		NewLocalChatFeed(c.Config, c.remote, c.sender),
		NewRemoteChatFeed(c.Config, c.sender),
		NewPlayerStatusFeed(feeds.PlayerStatus, c.sender),
		NewTradeFeed(feeds.Trades, c.sender),
		NewElectionFeed(feeds.Elections, c.sender),
		NewWorkPartyFeed(feeds.WorkParties, c.sender),
		NewCraftingFeed(feeds.Crafting, c.sender),
		NewServerStatusFeed(feeds.ServerStatus, c.sender),
		display,
	}
}

// Start identifies with the remote network, registers the modules, connects
// and starts tracking the local chat from now on.
func (c *RelayConnector) Start(ctx context.Context) error {
	userID, err := c.remote.Identify(ctx)
	if err != nil {
		return fmt.Errorf("failed to identify with remote: %w", err)
	}
	router := NewRouter(Identity{
		LocalName:         c.Config.Local.BotName,
		RemoteUserID:      userID,
		EchoOverrideToken: c.Config.EchoOverrideToken,
		CommandPrefix:     c.Config.CommandPrefix,
	}, c.log)
	display := NewPlayerDisplay(c.Config.Displays.Players, c.remote, c.sender)
	router.Register(c.buildModules(display)...)

	interval := time.Duration(c.Config.PollIntervalMS) * time.Millisecond
	poller := NewPoller(c.local, interval, func(ctx context.Context, msg *localchat.Message) {
		router.Dispatch(ctx, EventLocalMessageSent, msg)
	}, c.log)

	c.mu.Lock()
	c.router = router
	c.poller = poller
	c.display = display
	c.started = time.Now()
	c.mu.Unlock()

	c.HandleEvent(ctx, EventServerStarted, &LifecycleEvent{})
	if err := c.remote.Connect(ctx, router); err != nil {
		return fmt.Errorf("failed to connect to remote: %w", err)
	}
	c.HandleEvent(ctx, EventClientStarted, &LifecycleEvent{})
	poller.Initialize()

	ready := 0
	for _, m := range router.Modules() {
		if m.IsReady() {
			ready++
		}
	}
	c.log.Info().
		Str("remote_user_id", userID).
		Int("modules_ready", ready).
		Msg("Relay started")
	return nil
}

// Run polls the local chat and serves the admin API and metrics until ctx
// is done.
func (c *RelayConnector) Run(ctx context.Context) error {
	c.mu.RLock()
	poller := c.poller
	c.mu.RUnlock()
	if poller == nil {
		return ErrNotStarted
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		poller.Run(ctx)
		return nil
	})
	if addr := c.Config.AdminAPIAddr; addr != "" {
		g.Go(func() error {
			return c.serve(ctx, "admin API", addr, NewAdminAPI(c))
		})
	}
	if addr := c.Config.MetricsAddr; addr != "" {
		g.Go(func() error {
			return c.serve(ctx, "metrics", addr, promhttp.Handler())
		})
	}
	return g.Wait()
}

func (c *RelayConnector) serve(ctx context.Context, name, addr string, handler http.Handler) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	c.log.Info().Str("addr", addr).Msgf("Starting %s", name)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server failed: %w", name, err)
	}
	return nil
}

// Stop posts the stop notices, stops accepting new sends, waits for the
// pending ones and disconnects from the remote network.
func (c *RelayConnector) Stop(ctx context.Context) error {
	c.HandleEvent(ctx, EventClientStopped, &LifecycleEvent{})
	c.HandleEvent(ctx, EventServerStopped, &LifecycleEvent{})
	// Events that still arrive from the remote are dropped from here on.
	c.sender.Close()
	if err := c.remote.Disconnect(); err != nil {
		return fmt.Errorf("failed to disconnect from remote: %w", err)
	}
	c.log.Info().Msg("Relay stopped")
	return nil
}

func (c *RelayConnector) isStarted() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.router != nil
}

// HandleEvent dispatches a game or lifecycle event to the modules and
// returns how many handled it. Events before Start are dropped.
func (c *RelayConnector) HandleEvent(ctx context.Context, kind EventKind, payload any) int {
	c.mu.RLock()
	router := c.router
	c.mu.RUnlock()
	if router == nil {
		c.log.Warn().Stringer("kind", kind).Msg("Dropping event received before start")
		return 0
	}
	return router.Dispatch(ctx, kind, payload)
}

// FormatMessage renders a local chat message the way it is relayed to
// target, with mentions resolved against the remote directory. The
// permissions come from the link of target, if any.
func (c *RelayConnector) FormatMessage(ctx context.Context, target RemoteTarget, sender, text string) string {
	return formatForTarget(ctx, c.Config, c.remote, target, sender, text)
}

// PartitionMessage splits a rich message into chunks that satisfy the
// configured limits.
func (c *RelayConnector) PartitionMessage(msg *embedfmt.RichMessage) []*embedfmt.RichMessage {
	return embedfmt.Partition(msg, c.sender.limits)
}

// PostLocal adds a message to the in-memory local chat. It fails when the
// local chat is not in-memory.
func (c *RelayConnector) PostLocal(channel, sender, text string) (localchat.Message, error) {
	if c.feed == nil {
		return localchat.Message{}, fmt.Errorf("local chat type %q does not accept injected messages", c.Config.Local.Type)
	}
	return c.feed.Post(channel, sender, text), nil
}

// ModuleStatus is the readiness of one module.
type ModuleStatus struct {
	Name     string `json:"name"`
	Triggers string `json:"triggers"`
	Ready    bool   `json:"ready"`
}

// Status is a snapshot of the relay state.
type Status struct {
	Started       bool           `json:"started"`
	StartedAt     time.Time      `json:"started_at,omitzero"`
	Remote        RemoteType     `json:"remote"`
	Local         LocalType      `json:"local"`
	LowWaterMark  time.Time      `json:"low_water_mark,omitzero"`
	Modules       []ModuleStatus `json:"modules"`
	OnlinePlayers []string       `json:"online_players"`
}

// Status returns the current relay state.
func (c *RelayConnector) Status() Status {
	c.mu.RLock()
	router, poller, display, started := c.router, c.poller, c.display, c.started
	c.mu.RUnlock()

	st := Status{
		Started:       router != nil,
		StartedAt:     started,
		Remote:        c.Config.Remote.Type,
		Local:         c.Config.Local.Type,
		Modules:       []ModuleStatus{},
		OnlinePlayers: []string{},
	}
	if poller != nil {
		st.LowWaterMark = poller.LowWaterMark()
	}
	if display != nil {
		st.OnlinePlayers = display.Online()
	}
	if router != nil {
		for _, m := range router.Modules() {
			st.Modules = append(st.Modules, ModuleStatus{
				Name:     m.Name(),
				Triggers: m.Triggers().String(),
				Ready:    m.IsReady(),
			})
		}
	}
	return st
}
