// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/aiku/discordlink/pkg/connector/embedfmt"
)

// defaultSendTimeout bounds a single background send.
const defaultSendTimeout = 30 * time.Second

// MaxTextChars is the longest plain text message the remote accepts. Longer
// texts are sent in several parts split on line boundaries.
const MaxTextChars = 2000

// asyncSender runs sends in the background so a slow remote never blocks
// dispatch. Failures are logged and counted, never retried.
type asyncSender struct {
	remote  RemoteSender
	local   LocalSender
	limits  embedfmt.Limits
	timeout time.Duration
	log     zerolog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func newAsyncSender(remote RemoteSender, local LocalSender, limits embedfmt.Limits, log zerolog.Logger) *asyncSender {
	return &asyncSender{
		remote:  remote,
		local:   local,
		limits:  limits,
		timeout: defaultSendTimeout,
		log:     log.With().Str("component", "sender").Logger(),
	}
}

// Go runs fn in the background. The context keeps the values of ctx but not
// its cancellation, so in-flight sends survive the dispatch that started them.
// Sends started after Close are dropped.
func (s *asyncSender) Go(ctx context.Context, what string, fn func(ctx context.Context) error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.log.Debug().Str("what", what).Msg("Dropping send after close")
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error().Interface("panic", rec).Str("what", what).Msg("Panic in background send")
			}
		}()
		if err := fn(ctx); err != nil {
			s.log.Warn().Err(err).Str("what", what).Msg("Background send failed")
		}
	}()
}

// Wait blocks until every started send has finished.
func (s *asyncSender) Wait() {
	s.wg.Wait()
}

// Close stops accepting sends and waits for the started ones to finish.
func (s *asyncSender) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()
}

// SendText posts text to the target in the background. Text longer than
// MaxTextChars is sent as several messages, in order.
func (s *asyncSender) SendText(ctx context.Context, target RemoteTarget, text string) {
	if s.remote == nil {
		return
	}
	parts := []string{text}
	if utf8.RuneCountInString(text) > MaxTextChars {
		parts = embedfmt.PackLines(text, MaxTextChars)
	}
	s.Go(ctx, "text", func(ctx context.Context) error {
		for i, part := range parts {
			if _, err := s.remote.SendText(ctx, target, part); err != nil {
				return fmt.Errorf("failed to send text part %d of %d to %s: %w", i+1, len(parts), target.Key(), err)
			}
		}
		return nil
	})
}

// SendEmbed partitions msg and posts every chunk to the target in order, in
// the background. A failed chunk does not stop the rest.
func (s *asyncSender) SendEmbed(ctx context.Context, target RemoteTarget, msg *embedfmt.RichMessage) {
	chunks := embedfmt.Partition(msg, s.limits)
	if len(chunks) == 0 || s.remote == nil {
		return
	}
	s.Go(ctx, "embed", func(ctx context.Context) error {
		return s.sendChunks(ctx, target, chunks)
	})
}

func (s *asyncSender) sendChunks(ctx context.Context, target RemoteTarget, chunks []*embedfmt.RichMessage) error {
	var failed int
	var lastErr error
	for _, chunk := range chunks {
		if _, err := s.remote.SendEmbed(ctx, target, chunk); err != nil {
			getMetrics().chunksSent.WithLabelValues("error").Inc()
			failed++
			lastErr = err
			continue
		}
		getMetrics().chunksSent.WithLabelValues("ok").Inc()
	}
	if failed > 0 {
		return fmt.Errorf("failed to send %d of %d chunks to %s: %w", failed, len(chunks), target.Key(), lastErr)
	}
	zerolog.Ctx(ctx).Debug().
		Str("target", target.Key()).
		Int("chunks", len(chunks)).
		Msg("Sent rich message")
	return nil
}

// SendLocal posts text to a local channel in the background.
func (s *asyncSender) SendLocal(ctx context.Context, channel, text string) {
	if s.local == nil {
		return
	}
	s.Go(ctx, "local", func(ctx context.Context) error {
		if err := s.local.SendLocal(ctx, channel, text); err != nil {
			return fmt.Errorf("failed to send to local channel %s: %w", channel, err)
		}
		return nil
	})
}
