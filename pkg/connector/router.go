// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aiku/discordlink/pkg/connector/localchat"
)

// Module reacts to relay events. Implementations must be safe for
// concurrent use: local and remote events are dispatched from different
// goroutines.
type Module interface {
	// Name identifies the module in logs and metrics.
	Name() string
	// Triggers returns the mask of event kinds the module reacts to.
	Triggers() EventKind
	// IsReady reports whether the module has everything it needs to run.
	IsReady() bool
	// React handles one event. The payload type depends on the kind.
	React(ctx context.Context, kind EventKind, payload any) error
}

// Dispatcher is the entry point for events produced outside the router.
type Dispatcher interface {
	Dispatch(ctx context.Context, kind EventKind, payload any) int
}

// Identity is the relay's own identity on both sides, used for echo
// prevention.
type Identity struct {
	// LocalName is the sender name the relay uses in the local chat.
	LocalName string
	// RemoteUserID is the relay's user ID on the remote network.
	RemoteUserID string
	// EchoOverrideToken lets a local message from LocalName through when
	// the text starts with it.
	EchoOverrideToken string
	// CommandPrefix marks remote messages that are commands for the relay
	// and must not be relayed.
	CommandPrefix string
}

// Router fans events out to the registered modules after dropping events
// the relay produced itself.
type Router struct {
	identity Identity
	log      zerolog.Logger

	mu      sync.RWMutex
	modules []Module
}

var _ Dispatcher = (*Router)(nil)

// NewRouter creates a router for the given identity.
func NewRouter(identity Identity, log zerolog.Logger, modules ...Module) *Router {
	return &Router{
		identity: identity,
		log:      log.With().Str("component", "router").Logger(),
		modules:  modules,
	}
}

// Identity returns the identity the router was created with.
func (r *Router) Identity() Identity {
	return r.identity
}

// Register appends modules. Dispatch order follows registration order.
// Thread-safe.
func (r *Router) Register(modules ...Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules = append(r.modules, modules...)
}

// Modules returns a snapshot of the registered modules. Thread-safe.
func (r *Router) Modules() []Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.modules)
}

// Dispatch delivers an event to every ready module that declares its kind
// and returns how many modules handled it without error. Module errors and
// panics are logged and never reach the caller.
func (r *Router) Dispatch(ctx context.Context, kind EventKind, payload any) int {
	log := r.log.With().
		Str("dispatch_id", uuid.NewString()).
		Stringer("kind", kind).
		Logger()

	if !kind.Valid() {
		log.Warn().Msg("Dropping event of unknown kind")
		return 0
	}
	if reason := r.echoReason(kind, payload); reason != "" {
		origin := "remote"
		if kind == EventLocalMessageSent {
			origin = "local"
		}
		getMetrics().echoSuppressed.WithLabelValues(origin).Inc()
		log.Debug().Str("reason", reason).Msg("Skipping event (echo prevention)")
		return 0
	}
	getMetrics().eventsDispatched.WithLabelValues(kind.String()).Inc()

	ctx = log.WithContext(ctx)
	reacted := 0
	for _, m := range r.Modules() {
		if !m.Triggers().Has(kind) || !m.IsReady() {
			continue
		}
		if err := react(ctx, m, kind, payload); err != nil {
			getMetrics().moduleFailures.WithLabelValues(m.Name()).Inc()
			log.Error().Err(err).Str("module", m.Name()).Msg("Module failed to handle event")
			continue
		}
		reacted++
	}
	log.Trace().Int("reacted", reacted).Msg("Event dispatched")
	return reacted
}

func react(ctx context.Context, m Module, kind EventKind, payload any) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in module %s: %v", m.Name(), rec)
		}
	}()
	return m.React(ctx, kind, payload)
}

// echoReason returns why an event must be dropped, or "" to deliver it.
func (r *Router) echoReason(kind EventKind, payload any) string {
	switch {
	case kind == EventLocalMessageSent:
		msg, ok := payload.(*localchat.Message)
		if !ok || msg == nil || r.identity.LocalName == "" {
			return ""
		}
		if msg.Sender == r.identity.LocalName && !r.hasEchoOverride(msg.Text) {
			return "own local message"
		}
	case kind.Has(EventRemoteMessage):
		msg := remoteMessageOf(payload)
		if msg == nil {
			return ""
		}
		if r.identity.RemoteUserID != "" && msg.AuthorID == r.identity.RemoteUserID {
			return "own remote message"
		}
		if r.identity.CommandPrefix != "" && strings.HasPrefix(msg.Content, r.identity.CommandPrefix) {
			return "remote command"
		}
	}
	return ""
}

func (r *Router) hasEchoOverride(text string) bool {
	return r.identity.EchoOverrideToken != "" && strings.HasPrefix(text, r.identity.EchoOverrideToken)
}

// remoteMessageOf returns the current version of a remote message payload.
func remoteMessageOf(payload any) *RemoteMessage {
	switch p := payload.(type) {
	case *RemoteMessage:
		return p
	case *RemoteMessageEdit:
		if p == nil {
			return nil
		}
		return p.After
	}
	return nil
}
