// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/discordlink/pkg/connector/localchat"
)

// DefaultPollInterval is how often the local chat is polled.
const DefaultPollInterval = 500 * time.Millisecond

// LocalSource provides the local chat history.
type LocalSource interface {
	// FetchSince returns messages observed strictly after since, oldest first.
	FetchSince(ctx context.Context, since time.Time) ([]localchat.Message, error)
}

// LocalSender sends text into the local chat.
type LocalSender interface {
	SendLocal(ctx context.Context, channel, text string) error
}

// MessageHandler is called once per newly observed local message.
type MessageHandler func(ctx context.Context, msg *localchat.Message)

// Poller reads new local messages at a fixed interval. It keeps a low-water
// mark and hands every message observed after it to the handler exactly
// once under a sane clock.
type Poller struct {
	source   LocalSource
	interval time.Duration
	handler  MessageHandler
	now      func() time.Time
	log      zerolog.Logger

	mu       sync.RWMutex
	lowWater time.Time
}

// NewPoller creates a poller. A non-positive interval uses
// DefaultPollInterval.
func NewPoller(source LocalSource, interval time.Duration, handler MessageHandler, log zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		source:   source,
		interval: interval,
		handler:  handler,
		now:      time.Now,
		log:      log.With().Str("component", "poller").Logger(),
	}
}

// Initialize sets the low-water mark to now so history from before startup
// is never replayed.
func (p *Poller) Initialize() {
	p.setLowWater(p.now())
}

// LowWaterMark returns the current low-water mark. Thread-safe.
func (p *Poller) LowWaterMark() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lowWater
}

func (p *Poller) setLowWater(t time.Time) {
	p.mu.Lock()
	p.lowWater = t
	p.mu.Unlock()
}

// PollOnce runs a single poll cycle. The low-water mark moves to the clock
// reading taken after the fetch, before any handler runs. On error the mark
// is left untouched so the next cycle retries the same range.
func (p *Poller) PollOnce(ctx context.Context) error {
	messages, err := p.source.FetchSince(ctx, p.LowWaterMark())
	if err != nil {
		return fmt.Errorf("failed to fetch local messages: %w", err)
	}
	p.setLowWater(p.now())

	for i := range messages {
		p.handler(ctx, &messages[i])
	}
	if len(messages) > 0 {
		getMetrics().polledMessages.Add(float64(len(messages)))
		p.log.Debug().Int("count", len(messages)).Msg("Delivered local messages")
	}
	return nil
}

// Run polls until ctx is done. A cycle that has started always completes.
func (p *Poller) Run(ctx context.Context) {
	p.log.Info().
		Dur("interval", p.interval).
		Msg("Starting poll loop")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("Poll loop stopped")
			return
		case <-ticker.C:
			if err := p.PollOnce(ctx); err != nil {
				p.log.Warn().Err(err).Msg("Poll cycle failed")
			}
		}
	}
}
