// Copyright 2024-2026 Aiku AI

package localchat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// DefaultMatrixFetchLimit is how many recent room events are requested per
// poll when no limit is configured.
const DefaultMatrixFetchLimit = 50

// MatrixRoom uses a single Matrix room as the local chat. Every message in
// the room belongs to one local channel.
//
// After the first fetch the room is read forward from a pagination token, so
// an event is returned exactly once no matter what its server timestamp says.
type MatrixRoom struct {
	client     *mautrix.Client
	roomID     id.RoomID
	channel    string
	botName    string
	fetchLimit int
	now        func() time.Time
	log        zerolog.Logger

	mu sync.Mutex
	// token is where the next forward page starts. Empty before the first
	// fetch.
	token string
}

// MatrixConfig describes the room to read from and write to.
type MatrixConfig struct {
	HomeserverURL string
	UserID        string
	AccessToken   string
	RoomID        string
	Channel       string
	BotName       string
	FetchLimit    int
}

// NewMatrixRoom creates a MatrixRoom. No request is made until the first
// fetch or send.
func NewMatrixRoom(cfg MatrixConfig, log zerolog.Logger) (*MatrixRoom, error) {
	client, err := mautrix.NewClient(cfg.HomeserverURL, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create matrix client: %w", err)
	}
	limit := cfg.FetchLimit
	if limit <= 0 {
		limit = DefaultMatrixFetchLimit
	}
	return &MatrixRoom{
		client:     client,
		roomID:     id.RoomID(cfg.RoomID),
		channel:    cfg.Channel,
		botName:    cfg.BotName,
		fetchLimit: limit,
		now:        time.Now,
		log:        log.With().Str("component", "matrix_room").Str("room_id", cfg.RoomID).Logger(),
	}, nil
}

// FetchSince returns text messages sent to the room after the previous
// fetch, oldest first. The first fetch reads the most recent fetchLimit
// events and keeps those with a server timestamp after since. Later fetches
// page forward from where the last one stopped and ignore since. Messages
// are stamped with the local time they were fetched at.
func (r *MatrixRoom) FetchSince(ctx context.Context, since time.Time) ([]Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Message
	var err error
	if r.token == "" {
		out, err = r.fetchRecent(ctx, since)
	} else {
		out, err = r.fetchForward(ctx)
	}
	if err != nil {
		return nil, err
	}
	if len(out) > 0 {
		r.log.Debug().Int("count", len(out)).Msg("Fetched room messages")
	}
	return out, nil
}

func (r *MatrixRoom) fetchRecent(ctx context.Context, since time.Time) ([]Message, error) {
	resp, err := r.client.Messages(ctx, r.roomID, "", "", mautrix.DirectionBackward, nil, r.fetchLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch room messages: %w", err)
	}
	observed := r.now()
	var out []Message
	// The chunk is newest first when paginating backwards.
	for i := len(resp.Chunk) - 1; i >= 0; i-- {
		evt := resp.Chunk[i]
		if evt == nil || !time.UnixMilli(evt.Timestamp).After(since) {
			continue
		}
		if msg, ok := r.toMessage(evt, observed); ok {
			out = append(out, msg)
		}
	}
	// start points at the newest event of a backwards page, which is where
	// the forward reads continue.
	r.token = resp.Start
	return out, nil
}

func (r *MatrixRoom) fetchForward(ctx context.Context) ([]Message, error) {
	from := r.token
	var out []Message
	for {
		resp, err := r.client.Messages(ctx, r.roomID, from, "", mautrix.DirectionForward, nil, r.fetchLimit)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch room messages: %w", err)
		}
		observed := r.now()
		for _, evt := range resp.Chunk {
			if msg, ok := r.toMessage(evt, observed); ok {
				out = append(out, msg)
			}
		}
		// No end token means the page reached the newest event.
		if resp.End == "" {
			break
		}
		from = resp.End
		if len(resp.Chunk) < r.fetchLimit {
			break
		}
	}
	r.token = from
	return out, nil
}

func (r *MatrixRoom) toMessage(evt *event.Event, observed time.Time) (Message, bool) {
	if evt == nil || evt.Type.Type != event.EventMessage.Type {
		return Message{}, false
	}
	body, _ := evt.Content.Raw["body"].(string)
	if body == "" {
		return Message{}, false
	}
	return Message{
		ID:         string(evt.ID),
		Channel:    r.channel,
		Sender:     r.senderName(evt.Sender),
		Text:       body,
		ObservedAt: observed,
	}, true
}

// senderName maps a Matrix user to the name used for echo checks. The
// relay's own account is reported under the bot name.
func (r *MatrixRoom) senderName(sender id.UserID) string {
	if sender == r.client.UserID && r.botName != "" {
		return r.botName
	}
	localpart, _, err := sender.Parse()
	if err != nil || localpart == "" {
		return string(sender)
	}
	return localpart
}

// SendLocal sends text to the room. The channel must be the room's channel.
func (r *MatrixRoom) SendLocal(ctx context.Context, channel, text string) error {
	if channel != r.channel {
		return fmt.Errorf("channel %q is not served by room %s", channel, r.roomID)
	}
	if _, err := r.client.SendText(ctx, r.roomID, text); err != nil {
		return fmt.Errorf("failed to send to matrix room: %w", err)
	}
	return nil
}
