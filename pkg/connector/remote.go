// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"errors"

	"github.com/aiku/discordlink/pkg/connector/chatfmt"
	"github.com/aiku/discordlink/pkg/connector/embedfmt"
)

var (
	ErrNoRemote       = errors.New("remote is not connected")
	ErrUnknownChannel = errors.New("remote channel not found")
)

// RemoteSender is the outbound half of a remote network connection.
// Implementations resolve a target by ID first and by name second.
type RemoteSender interface {
	// SendText posts a plain message and returns its ID.
	SendText(ctx context.Context, target RemoteTarget, text string) (string, error)
	// SendEmbed posts one rich message that already fits the limits and
	// returns its ID.
	SendEmbed(ctx context.Context, target RemoteTarget, msg *embedfmt.RichMessage) (string, error)
	// EditEmbed replaces a message previously sent with SendEmbed.
	EditEmbed(ctx context.Context, target RemoteTarget, messageID string, msg *embedfmt.RichMessage) error
	// Directory returns the names that may be mentioned in the target.
	Directory(ctx context.Context, target RemoteTarget) (chatfmt.Directory, error)
}

// Remote is a connection to the remote network.
type Remote interface {
	RemoteSender
	// Identify authenticates and returns the relay's own user ID. It is
	// called before Connect so echo prevention is in place before the first
	// event arrives.
	Identify(ctx context.Context) (string, error)
	// Connect starts delivering remote message events to d.
	Connect(ctx context.Context, d Dispatcher) error
	// Disconnect stops event delivery.
	Disconnect() error
}
