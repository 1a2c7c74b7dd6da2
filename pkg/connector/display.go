// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"go.mau.fi/util/exsync"

	"github.com/aiku/discordlink/pkg/connector/embedfmt"
)

// PlayerDisplay keeps one message per target listing the online players.
// The message is edited in place; when the edit fails it is posted again.
type PlayerDisplay struct {
	targets []RemoteTarget
	remote  RemoteSender
	sender  *asyncSender

	mu      sync.Mutex
	online  map[string]struct{}
	version uint64

	// sendMu serializes updates so a target never gets two live messages.
	sendMu   sync.Mutex
	sent     uint64
	messages *exsync.Map[string, string]
}

var _ Module = (*PlayerDisplay)(nil)

func NewPlayerDisplay(targets []RemoteTarget, remote RemoteSender, sender *asyncSender) *PlayerDisplay {
	return &PlayerDisplay{
		targets:  targets,
		remote:   remote,
		sender:   sender,
		online:   make(map[string]struct{}),
		messages: exsync.NewMap[string, string](),
	}
}

func (d *PlayerDisplay) Name() string { return "player_display" }

func (d *PlayerDisplay) Triggers() EventKind {
	return EventPlayerStatus | EventServerStarted | EventServerStopped
}

func (d *PlayerDisplay) IsReady() bool { return targetsReady(d.targets) }

func (d *PlayerDisplay) React(ctx context.Context, kind EventKind, payload any) error {
	d.mu.Lock()
	switch kind {
	case EventServerStarted, EventServerStopped:
		clear(d.online)
	default:
		p, ok := payload.(*PlayerEvent)
		if !ok || p == nil {
			d.mu.Unlock()
			return payloadError(kind, payload)
		}
		if kind == EventLogout {
			delete(d.online, p.Name)
		} else {
			d.online[p.Name] = struct{}{}
		}
	}
	d.version++
	d.mu.Unlock()

	d.sender.Go(ctx, "player_display", d.flush)
	return nil
}

// Online returns the sorted names of the online players.
func (d *PlayerDisplay) Online() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, 0, len(d.online))
	for name := range d.online {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (d *PlayerDisplay) render() (*embedfmt.RichMessage, uint64) {
	d.mu.Lock()
	version := d.version
	d.mu.Unlock()
	names := d.Online()

	msg := &embedfmt.RichMessage{Title: "Online Players"}
	if len(names) == 0 {
		msg.Description = "No players online"
	} else {
		msg.AddField(fmt.Sprintf("Players (%d)", len(names)), strings.Join(names, "\n"), false)
	}
	return msg, version
}

// flush brings every target up to the latest state. Updates that queued up
// behind a running flush collapse into one.
func (d *PlayerDisplay) flush(ctx context.Context) error {
	d.sendMu.Lock()
	defer d.sendMu.Unlock()

	msg, version := d.render()
	if version <= d.sent {
		return nil
	}
	chunks := embedfmt.Partition(msg, d.sender.limits)
	if len(chunks) == 0 {
		return nil
	}
	if len(chunks) > 1 {
		zerolog.Ctx(ctx).Warn().Int("chunks", len(chunks)).Msg("Player display does not fit one message, truncating")
	}

	var errs []string
	for _, target := range d.targets {
		if !target.IsValid() {
			continue
		}
		if err := d.update(ctx, target, chunks[0]); err != nil {
			errs = append(errs, err.Error())
		}
	}
	d.sent = version
	if len(errs) > 0 {
		return fmt.Errorf("failed to update player display: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (d *PlayerDisplay) update(ctx context.Context, target RemoteTarget, msg *embedfmt.RichMessage) error {
	key := target.Key()
	if id, ok := d.messages.Get(key); ok {
		err := d.remote.EditEmbed(ctx, target, id, msg)
		if err == nil {
			return nil
		}
		zerolog.Ctx(ctx).Debug().Err(err).Str("target", key).Msg("Display edit failed, posting a new message")
		d.messages.Delete(key)
	}
	id, err := d.remote.SendEmbed(ctx, target, msg)
	if err != nil {
		getMetrics().chunksSent.WithLabelValues("error").Inc()
		return fmt.Errorf("%s: %w", key, err)
	}
	getMetrics().chunksSent.WithLabelValues("ok").Inc()
	d.messages.Set(key, id)
	return nil
}

// MessageID returns the cached display message ID for a target.
func (d *PlayerDisplay) MessageID(target RemoteTarget) (string, bool) {
	return d.messages.Get(target.Key())
}
