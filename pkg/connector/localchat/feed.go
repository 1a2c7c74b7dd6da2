// Copyright 2024-2026 Aiku AI

// Package localchat provides sources of local chat messages for the relay:
// an in-memory feed that the game server pushes into, and a Matrix room.
package localchat

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Message is a chat line observed on the local side.
type Message struct {
	ID         string
	Channel    string
	Sender     string
	Text       string
	ObservedAt time.Time
}

// DefaultHistorySize is the number of messages a Feed keeps when no size is
// configured.
const DefaultHistorySize = 1000

// Feed is a bounded in-memory chat history. Messages are stamped with the
// feed's clock when posted, so ObservedAt is non-decreasing in history order.
// Thread-safe.
type Feed struct {
	botName string
	size    int
	now     func() time.Time

	mu      sync.RWMutex
	history []Message
}

// NewFeed creates a feed. Messages sent through SendLocal are attributed to
// botName.
func NewFeed(botName string, size int) *Feed {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &Feed{
		botName: botName,
		size:    size,
		now:     time.Now,
	}
}

// Post appends a message to the history and returns it.
func (f *Feed) Post(channel, sender, text string) Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg := Message{
		ID:         uuid.NewString(),
		Channel:    channel,
		Sender:     sender,
		Text:       text,
		ObservedAt: f.now(),
	}
	f.history = append(f.history, msg)
	if over := len(f.history) - f.size; over > 0 {
		f.history = append(f.history[:0:0], f.history[over:]...)
	}
	return msg
}

// FetchSince returns the messages observed strictly after since, oldest
// first.
func (f *Feed) FetchSince(_ context.Context, since time.Time) ([]Message, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []Message
	for _, msg := range f.history {
		if msg.ObservedAt.After(since) {
			out = append(out, msg)
		}
	}
	return out, nil
}

// SendLocal posts text to channel as the relay bot.
func (f *Feed) SendLocal(_ context.Context, channel, text string) error {
	f.Post(channel, f.botName, text)
	return nil
}

// Len returns the number of messages currently held.
func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.history)
}
