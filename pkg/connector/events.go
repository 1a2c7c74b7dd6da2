// Copyright 2024-2026 Aiku AI

package connector

import (
	"math/bits"
	"strings"
	"time"

	"github.com/aiku/discordlink/pkg/connector/embedfmt"
	"github.com/aiku/discordlink/pkg/connector/localchat"
)

// EventKind identifies one kind of relay event. Kinds are bit flags so a
// module can declare the set it reacts to as a single mask.
type EventKind uint32

const (
	EventLocalMessageSent EventKind = 1 << iota
	EventRemoteMessageCreated
	EventRemoteMessageEdited
	EventRemoteMessageDeleted
	EventJoin
	EventLogin
	EventLogout
	EventTrade
	EventElectionStarted
	EventElectionFinished
	EventWorkOrderCreated
	EventWorkPartyPosted
	EventWorkPartyJoined
	EventWorkPartyLeft
	EventWorkPartyWorked
	EventWorkPartyCompleted
	EventVote
	EventCurrencyCreated
	EventClientStarted
	EventClientStopped
	EventServerStarted
	EventServerStopped

	eventKindEnd
)

// Kind groups used by modules and the echo check.
const (
	EventNone EventKind = 0

	EventRemoteMessage = EventRemoteMessageCreated | EventRemoteMessageEdited | EventRemoteMessageDeleted
	EventPlayerStatus  = EventJoin | EventLogin | EventLogout
	EventElection      = EventElectionStarted | EventElectionFinished | EventVote | EventCurrencyCreated
	EventWorkParty     = EventWorkPartyPosted | EventWorkPartyJoined | EventWorkPartyLeft | EventWorkPartyWorked | EventWorkPartyCompleted
	EventLifecycle     = EventClientStarted | EventClientStopped | EventServerStarted | EventServerStopped
)

var eventKindNames = map[EventKind]string{
	EventLocalMessageSent:     "local_message_sent",
	EventRemoteMessageCreated: "remote_message_created",
	EventRemoteMessageEdited:  "remote_message_edited",
	EventRemoteMessageDeleted: "remote_message_deleted",
	EventJoin:                 "join",
	EventLogin:                "login",
	EventLogout:               "logout",
	EventTrade:                "trade",
	EventElectionStarted:      "election_started",
	EventElectionFinished:     "election_finished",
	EventWorkOrderCreated:     "work_order_created",
	EventWorkPartyPosted:      "work_party_posted",
	EventWorkPartyJoined:      "work_party_joined",
	EventWorkPartyLeft:        "work_party_left",
	EventWorkPartyWorked:      "work_party_worked",
	EventWorkPartyCompleted:   "work_party_completed",
	EventVote:                 "vote",
	EventCurrencyCreated:      "currency_created",
	EventClientStarted:        "client_started",
	EventClientStopped:        "client_stopped",
	EventServerStarted:        "server_started",
	EventServerStopped:        "server_stopped",
}

// String returns the snake_case name of a single kind, or the names of all
// set flags joined with "|".
func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	if k == EventNone {
		return "none"
	}
	var names []string
	for rest := k; rest != 0; {
		flag := EventKind(1) << bits.TrailingZeros32(uint32(rest))
		rest &^= flag
		if name, ok := eventKindNames[flag]; ok {
			names = append(names, name)
		} else {
			names = append(names, "unknown")
		}
	}
	return strings.Join(names, "|")
}

// Has reports whether any flag of other is set in k.
func (k EventKind) Has(other EventKind) bool {
	return k&other != 0
}

// Valid reports whether k is exactly one known kind.
func (k EventKind) Valid() bool {
	return k != 0 && k < eventKindEnd && k&(k-1) == 0
}

// ParseEventKind looks up a kind by its String name.
func ParseEventKind(name string) (EventKind, bool) {
	for kind, n := range eventKindNames {
		if n == name {
			return kind, true
		}
	}
	return EventNone, false
}

// RemoteMessage is a message on the remote network.
type RemoteMessage struct {
	ID          string
	ChannelID   string
	ChannelName string
	GuildID     string
	AuthorID    string
	AuthorName  string
	Content     string
	Attachments []string
	Embeds      []*embedfmt.RichMessage
	Timestamp   time.Time
}

// RemoteMessageEdit carries both versions of an edited message. Before is
// nil when the previous version is unknown.
type RemoteMessageEdit struct {
	Before *RemoteMessage
	After  *RemoteMessage
}

// PlayerEvent is the payload of join, login and logout events.
type PlayerEvent struct {
	Name string `json:"name"`
}

// TradeEvent describes a completed store transaction.
type TradeEvent struct {
	Buyer    string  `json:"buyer"`
	Seller   string  `json:"seller"`
	Store    string  `json:"store"`
	Item     string  `json:"item"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
	Currency string  `json:"currency"`
}

// ElectionEvent is the payload of election start and finish events.
type ElectionEvent struct {
	Title    string   `json:"title"`
	Proposer string   `json:"proposer"`
	Choices  []string `json:"choices,omitempty"`
	Winner   string   `json:"winner,omitempty"`
	EndsAt   string   `json:"ends_at,omitempty"`
}

// VoteEvent is the payload of vote events.
type VoteEvent struct {
	Voter    string `json:"voter"`
	Election string `json:"election"`
}

// CurrencyEvent is the payload of currency creation events.
type CurrencyEvent struct {
	Name    string `json:"name"`
	Creator string `json:"creator"`
}

// WorkPartyEvent is the payload of all work party events.
type WorkPartyEvent struct {
	Title   string `json:"title"`
	Creator string `json:"creator"`
	Worker  string `json:"worker,omitempty"`
	Labor   int    `json:"labor,omitempty"`
}

// WorkOrderEvent is the payload of work order events.
type WorkOrderEvent struct {
	Crafter  string `json:"crafter"`
	Item     string `json:"item"`
	Quantity int    `json:"quantity"`
	Table    string `json:"table"`
}

// LifecycleEvent is the payload of client and server start/stop events.
type LifecycleEvent struct {
	Detail string `json:"detail,omitempty"`
}

// newPayload returns an empty payload of the type expected for kind, used
// to decode payloads arriving over the admin API.
func newPayload(kind EventKind) any {
	switch {
	case kind == EventLocalMessageSent:
		return &localchat.Message{}
	case kind == EventRemoteMessageEdited:
		return &RemoteMessageEdit{}
	case kind.Has(EventRemoteMessage):
		return &RemoteMessage{}
	case kind.Has(EventPlayerStatus):
		return &PlayerEvent{}
	case kind == EventTrade:
		return &TradeEvent{}
	case kind == EventElectionStarted, kind == EventElectionFinished:
		return &ElectionEvent{}
	case kind == EventVote:
		return &VoteEvent{}
	case kind == EventCurrencyCreated:
		return &CurrencyEvent{}
	case kind.Has(EventWorkParty):
		return &WorkPartyEvent{}
	case kind == EventWorkOrderCreated:
		return &WorkOrderEvent{}
	default:
		return &LifecycleEvent{}
	}
}
