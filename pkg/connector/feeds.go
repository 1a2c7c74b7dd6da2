// Copyright 2024-2026 Aiku AI

package connector

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aiku/discordlink/pkg/connector/embedfmt"
)

// notice is what a feed posts for one event: a rich message or plain text.
type notice struct {
	text  string
	embed *embedfmt.RichMessage
}

func textNotice(format string, args ...any) (notice, error) {
	return notice{text: fmt.Sprintf(format, args...)}, nil
}

func payloadError(kind EventKind, payload any) error {
	return fmt.Errorf("unexpected payload %T for %s", payload, kind)
}

// NewPlayerStatusFeed posts join, login and logout notices.
func NewPlayerStatusFeed(targets []RemoteTarget, sender *asyncSender) Module {
	return &noticeFeed{
		name:     "player_status_feed",
		triggers: EventPlayerStatus,
		targets:  targets,
		sender:   sender,
		render:   renderPlayerStatus,
	}
}

func renderPlayerStatus(kind EventKind, payload any) (notice, error) {
	p, ok := payload.(*PlayerEvent)
	if !ok || p == nil {
		return notice{}, payloadError(kind, payload)
	}
	switch kind {
	case EventJoin:
		return textNotice(":tada:  %s Joined The Server!  :tada:", p.Name)
	case EventLogin:
		return textNotice(":arrow_up:  %s Logged In  :arrow_up:", p.Name)
	default:
		return textNotice(":arrow_down:  %s Logged Out  :arrow_down:", p.Name)
	}
}

// NewTradeFeed posts one rich message per trade.
func NewTradeFeed(targets []RemoteTarget, sender *asyncSender) Module {
	return &noticeFeed{
		name:     "trade_feed",
		triggers: EventTrade,
		targets:  targets,
		sender:   sender,
		render:   renderTrade,
	}
}

func renderTrade(kind EventKind, payload any) (notice, error) {
	t, ok := payload.(*TradeEvent)
	if !ok || t == nil {
		return notice{}, payloadError(kind, payload)
	}
	msg := &embedfmt.RichMessage{Title: "Trade"}
	if t.Store != "" {
		msg.Title = "Trade at " + t.Store
	}
	msg.AddField("Buyer", t.Buyer, true).
		AddField("Seller", t.Seller, true).
		AddField("Item", strconv.Itoa(t.Quantity)+" x "+t.Item, true).
		AddField("Price", strconv.FormatFloat(t.Price, 'f', 2, 64)+" "+t.Currency, true)
	return notice{embed: msg}, nil
}

// NewElectionFeed posts election, vote and currency notices.
func NewElectionFeed(targets []RemoteTarget, sender *asyncSender) Module {
	return &noticeFeed{
		name:     "election_feed",
		triggers: EventElection,
		targets:  targets,
		sender:   sender,
		render:   renderElection,
	}
}

func renderElection(kind EventKind, payload any) (notice, error) {
	switch p := payload.(type) {
	case *ElectionEvent:
		if p == nil {
			break
		}
		if kind == EventElectionFinished {
			msg := &embedfmt.RichMessage{Title: "Election Finished: " + p.Title}
			winner := p.Winner
			if winner == "" {
				winner = "No winner"
			}
			msg.AddField("Winner", winner, false)
			return notice{embed: msg}, nil
		}
		msg := &embedfmt.RichMessage{Title: "Election Started: " + p.Title}
		if p.Proposer != "" {
			msg.Description = "Proposed by " + p.Proposer
		}
		if len(p.Choices) > 0 {
			msg.AddField("Choices", strings.Join(p.Choices, "\n"), false)
		}
		if p.EndsAt != "" {
			msg.AddField("Ends", p.EndsAt, true)
		}
		return notice{embed: msg}, nil
	case *VoteEvent:
		if p != nil {
			return textNotice(":ballot_box:  %s voted in %s", p.Voter, p.Election)
		}
	case *CurrencyEvent:
		if p != nil {
			return textNotice(":moneybag:  %s created the currency %s", p.Creator, p.Name)
		}
	}
	return notice{}, payloadError(kind, payload)
}

// NewWorkPartyFeed posts work party lifecycle notices.
func NewWorkPartyFeed(targets []RemoteTarget, sender *asyncSender) Module {
	return &noticeFeed{
		name:     "work_party_feed",
		triggers: EventWorkParty,
		targets:  targets,
		sender:   sender,
		render:   renderWorkParty,
	}
}

func renderWorkParty(kind EventKind, payload any) (notice, error) {
	p, ok := payload.(*WorkPartyEvent)
	if !ok || p == nil {
		return notice{}, payloadError(kind, payload)
	}
	switch kind {
	case EventWorkPartyPosted:
		msg := &embedfmt.RichMessage{Title: "Work Party Posted: " + p.Title}
		msg.AddField("Creator", p.Creator, true)
		return notice{embed: msg}, nil
	case EventWorkPartyJoined:
		return textNotice(":handshake:  %s joined the work party %s", p.Worker, p.Title)
	case EventWorkPartyLeft:
		return textNotice(":wave:  %s left the work party %s", p.Worker, p.Title)
	case EventWorkPartyWorked:
		return textNotice(":hammer_pick:  %s contributed %d labor to %s", p.Worker, p.Labor, p.Title)
	default:
		return textNotice(":white_check_mark:  Work party %s is complete", p.Title)
	}
}

// NewCraftingFeed posts work order notices.
func NewCraftingFeed(targets []RemoteTarget, sender *asyncSender) Module {
	return &noticeFeed{
		name:     "crafting_feed",
		triggers: EventWorkOrderCreated,
		targets:  targets,
		sender:   sender,
		render:   renderWorkOrder,
	}
}

func renderWorkOrder(kind EventKind, payload any) (notice, error) {
	p, ok := payload.(*WorkOrderEvent)
	if !ok || p == nil {
		return notice{}, payloadError(kind, payload)
	}
	if p.Table == "" {
		return textNotice(":hammer:  %s started crafting %d %s", p.Crafter, p.Quantity, p.Item)
	}
	return textNotice(":hammer:  %s started crafting %d %s at %s", p.Crafter, p.Quantity, p.Item, p.Table)
}

// NewServerStatusFeed posts server and relay start and stop notices.
func NewServerStatusFeed(targets []RemoteTarget, sender *asyncSender) Module {
	return &noticeFeed{
		name:     "server_status_feed",
		triggers: EventLifecycle,
		targets:  targets,
		sender:   sender,
		render:   renderLifecycle,
	}
}

func renderLifecycle(kind EventKind, payload any) (notice, error) {
	var text string
	switch kind {
	case EventServerStarted:
		text = ":white_check_mark:  Server Started"
	case EventServerStopped:
		text = ":x:  Server Stopped"
	case EventClientStarted:
		text = ":link:  DiscordLink Connected"
	default:
		text = ":broken_heart:  DiscordLink Disconnected"
	}
	if p, ok := payload.(*LifecycleEvent); ok && p != nil && p.Detail != "" {
		text += " (" + p.Detail + ")"
	}
	return notice{text: text}, nil
}
