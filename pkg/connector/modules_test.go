// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/aiku/discordlink/pkg/connector/chatfmt"
	"github.com/aiku/discordlink/pkg/connector/embedfmt"
	"github.com/aiku/discordlink/pkg/connector/localchat"
)

func testConfig(t *testing.T, links ...ChannelLink) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ChatLinks = links
	if err := cfg.PostProcess(); err != nil {
		t.Fatalf("PostProcess: %v", err)
	}
	return &cfg
}

func generalLink() ChannelLink {
	return ChannelLink{
		RemoteTarget:      RemoteTarget{RemoteGuild: "Eco Server", RemoteChannel: "general"},
		LocalChannel:      "General",
		AllowRoleMentions: true,
		AllowUserMentions: true,
	}
}

func TestAsyncSenderSendEmbedPartitions(t *testing.T) {
	t.Parallel()
	remote := newMockRemote()
	s := newTestSender(remote, nil)

	msg := &embedfmt.RichMessage{Title: "Big"}
	for range 30 {
		msg.AddField("f", "v", true)
	}
	s.SendEmbed(context.Background(), RemoteTarget{RemoteChannel: "general"}, msg)
	s.Wait()

	calls := remote.CallsOf("SendEmbed")
	if len(calls) != 2 {
		t.Fatalf("got %d chunks, want 2", len(calls))
	}
	if n := len(calls[0].Embed.Fields); n != embedfmt.DefaultFieldCount {
		t.Errorf("got %d fields in first chunk, want %d", n, embedfmt.DefaultFieldCount)
	}
	if n := len(calls[1].Embed.Fields); n != 6 {
		t.Errorf("got %d fields in second chunk, want 6", n)
	}
}

func TestAsyncSenderFailedChunkDoesNotStopRest(t *testing.T) {
	t.Parallel()
	remote := newMockRemote()
	remote.setFailures(true, false)
	s := newTestSender(remote, nil)

	err := s.sendChunks(context.Background(), RemoteTarget{RemoteChannel: "general"}, []*embedfmt.RichMessage{
		{Title: "one"}, {Title: "two"},
	})
	if !errors.Is(err, errMockRemote) {
		t.Fatalf("got %v, want errMockRemote", err)
	}
	if n := len(remote.CallsOf("SendEmbed")); n != 2 {
		t.Errorf("got %d attempts, want 2", n)
	}
}

func TestAsyncSenderRecoversPanics(t *testing.T) {
	t.Parallel()
	s := newTestSender(nil, nil)
	done := make(chan struct{})
	s.Go(context.Background(), "test", func(context.Context) error {
		defer close(done)
		panic("boom")
	})
	s.Wait()
	<-done
}

func TestAsyncSenderOutlivesCanceledContext(t *testing.T) {
	t.Parallel()
	remote := newMockRemote()
	s := newTestSender(remote, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ctxErr error
	s.Go(ctx, "test", func(ctx context.Context) error {
		ctxErr = ctx.Err()
		return nil
	})
	s.Wait()
	if ctxErr != nil {
		t.Errorf("got %v, want a live context", ctxErr)
	}
}

func TestAsyncSenderSplitsLongText(t *testing.T) {
	t.Parallel()
	remote := newMockRemote()
	s := newTestSender(remote, nil)

	var lines []string
	for i := range 300 {
		lines = append(lines, fmt.Sprintf("line %03d %s", i, strings.Repeat("x", 20)))
	}
	text := strings.Join(lines, "\n")
	s.SendText(context.Background(), RemoteTarget{RemoteChannel: "general"}, text)
	s.Wait()

	calls := remote.CallsOf("SendText")
	if len(calls) < 2 {
		t.Fatalf("got %d sends, want several", len(calls))
	}
	parts := make([]string, 0, len(calls))
	for i, c := range calls {
		if n := utf8.RuneCountInString(c.Text); n > MaxTextChars {
			t.Errorf("part %d has %d characters, limit %d", i, n, MaxTextChars)
		}
		parts = append(parts, c.Text)
	}
	if joined := strings.Join(parts, "\n"); joined != text {
		t.Error("parts do not reassemble the original text in order")
	}
}

func TestAsyncSenderDropsSendsAfterClose(t *testing.T) {
	t.Parallel()
	remote := newMockRemote()
	s := newTestSender(remote, nil)
	s.SendText(context.Background(), RemoteTarget{RemoteChannel: "general"}, "before")
	s.Close()

	ran := false
	s.Go(context.Background(), "test", func(context.Context) error {
		ran = true
		return nil
	})
	s.SendText(context.Background(), RemoteTarget{RemoteChannel: "general"}, "after")
	s.Wait()

	if ran {
		t.Error("send started after Close should not run")
	}
	calls := remote.CallsOf("SendText")
	if len(calls) != 1 || calls[0].Text != "before" {
		t.Errorf("got sends %+v, want only the one before Close", calls)
	}
}

func TestAsyncSenderNilTargetsAreNoops(t *testing.T) {
	t.Parallel()
	s := newTestSender(nil, nil)
	s.SendText(context.Background(), RemoteTarget{RemoteChannel: "x"}, "x")
	s.SendEmbed(context.Background(), RemoteTarget{RemoteChannel: "x"}, &embedfmt.RichMessage{Title: "x"})
	s.SendLocal(context.Background(), "General", "x")
	s.Wait()
}

func TestLocalChatFeedRelaysWithMentions(t *testing.T) {
	t.Parallel()
	remote := newMockRemote()
	remote.Dir = &chatfmt.StaticDirectory{
		RoleEntries: []chatfmt.Entry{{Name: "Admins", Reference: "<@&1>"}},
	}
	cfg := testConfig(t, generalLink())
	s := newTestSender(remote, nil)
	feed := NewLocalChatFeed(cfg, remote, s)

	if !feed.IsReady() {
		t.Fatal("feed should be ready with a duplex link")
	}
	msg := &localchat.Message{Channel: "general", Sender: "@alice", Text: "hi @Admins <b>now</b> @everyone"}
	if err := feed.React(context.Background(), EventLocalMessageSent, msg); err != nil {
		t.Fatalf("React: %v", err)
	}
	s.Wait()

	calls := remote.CallsOf("SendText")
	if len(calls) != 1 {
		t.Fatalf("got %d sends, want 1", len(calls))
	}
	want := "**alice**: hi <@&1> **now** everyone"
	if calls[0].Text != want {
		t.Errorf("got %q, want %q", calls[0].Text, want)
	}
	if calls[0].Target != generalLink().Key() {
		t.Errorf("got target %q, want %q", calls[0].Target, generalLink().Key())
	}
}

func TestLocalChatFeedSplitsLongMessages(t *testing.T) {
	t.Parallel()
	remote := newMockRemote()
	cfg := testConfig(t, generalLink())
	s := newTestSender(remote, nil)
	feed := NewLocalChatFeed(cfg, remote, s)

	text := strings.TrimSuffix(strings.Repeat(strings.Repeat("y", 99)+"\n", 50), "\n")
	msg := &localchat.Message{Channel: "General", Sender: "alice", Text: text}
	if err := feed.React(context.Background(), EventLocalMessageSent, msg); err != nil {
		t.Fatalf("React: %v", err)
	}
	s.Wait()

	calls := remote.CallsOf("SendText")
	if len(calls) != 3 {
		t.Fatalf("got %d sends, want 3", len(calls))
	}
	if !strings.HasPrefix(calls[0].Text, "**alice**: ") {
		t.Errorf("first part %q should carry the sender", calls[0].Text[:20])
	}
	for i, c := range calls {
		if n := utf8.RuneCountInString(c.Text); n > MaxTextChars {
			t.Errorf("part %d has %d characters, limit %d", i, n, MaxTextChars)
		}
	}
}

func TestLocalChatFeedStripsEchoOverride(t *testing.T) {
	t.Parallel()
	remote := newMockRemote()
	cfg := testConfig(t, generalLink())
	s := newTestSender(remote, nil)
	feed := NewLocalChatFeed(cfg, remote, s)

	msg := &localchat.Message{Channel: "General", Sender: "DiscordLink", Text: "[ECHO] relayed"}
	if err := feed.React(context.Background(), EventLocalMessageSent, msg); err != nil {
		t.Fatalf("React: %v", err)
	}
	s.Wait()
	calls := remote.CallsOf("SendText")
	if len(calls) != 1 || calls[0].Text != "**DiscordLink**: relayed" {
		t.Errorf("got %+v", calls)
	}
}

func TestLocalChatFeedDirectoryErrorStillSends(t *testing.T) {
	t.Parallel()
	remote := newMockRemote()
	remote.DirErr = ErrUnknownChannel
	cfg := testConfig(t, generalLink())
	s := newTestSender(remote, nil)
	feed := NewLocalChatFeed(cfg, remote, s)

	ctx := zerolog.Nop().WithContext(context.Background())
	if err := feed.React(ctx, EventLocalMessageSent, &localchat.Message{Channel: "General", Sender: "bob", Text: "@Admins"}); err != nil {
		t.Fatalf("React: %v", err)
	}
	s.Wait()
	calls := remote.CallsOf("SendText")
	if len(calls) != 1 || calls[0].Text != "**bob**: @Admins" {
		t.Errorf("got %+v", calls)
	}
}

func TestLocalChatFeedHonorsDirection(t *testing.T) {
	t.Parallel()
	inbound := generalLink()
	inbound.Direction = DirectionRemoteToLocal
	outbound := generalLink()
	outbound.RemoteChannel = "announcements"
	outbound.Direction = DirectionLocalToRemote

	remote := newMockRemote()
	cfg := testConfig(t, inbound, outbound)
	s := newTestSender(remote, nil)
	feed := NewLocalChatFeed(cfg, remote, s)

	if err := feed.React(context.Background(), EventLocalMessageSent, &localchat.Message{Channel: "General", Sender: "bob", Text: "x"}); err != nil {
		t.Fatalf("React: %v", err)
	}
	s.Wait()
	calls := remote.CallsOf("SendText")
	if len(calls) != 1 || !strings.HasSuffix(calls[0].Target, "/announcements") {
		t.Errorf("got %+v", calls)
	}
}

func TestLocalChatFeedSkipsBlankAndBadPayloads(t *testing.T) {
	t.Parallel()
	remote := newMockRemote()
	cfg := testConfig(t, generalLink())
	s := newTestSender(remote, nil)
	feed := NewLocalChatFeed(cfg, remote, s)

	if err := feed.React(context.Background(), EventLocalMessageSent, &localchat.Message{Channel: "General", Text: "[ECHO]  "}); err != nil {
		t.Fatalf("React: %v", err)
	}
	if err := feed.React(context.Background(), EventLocalMessageSent, "not a message"); err == nil {
		t.Error("expected error for bad payload")
	}
	s.Wait()
	if n := len(remote.Calls()); n != 0 {
		t.Errorf("got %d calls, want 0", n)
	}
}

func TestLocalChatFeedNotReadyWithoutLinks(t *testing.T) {
	t.Parallel()
	inbound := generalLink()
	inbound.Direction = DirectionRemoteToLocal
	feed := NewLocalChatFeed(testConfig(t, inbound), newMockRemote(), newTestSender(nil, nil))
	if feed.IsReady() {
		t.Error("feed should not be ready without an outbound link")
	}
}

func TestRemoteChatFeedRelays(t *testing.T) {
	t.Parallel()
	local := &mockLocal{}
	cfg := testConfig(t, generalLink())
	s := newTestSender(nil, local)
	feed := NewRemoteChatFeed(cfg, s)

	if !feed.IsReady() {
		t.Fatal("feed should be ready with a duplex link")
	}
	msg := &RemoteMessage{ChannelID: "c1", ChannelName: "General", AuthorName: "bob", Content: "**hi**", Timestamp: time.Now()}
	if err := feed.React(context.Background(), EventRemoteMessageCreated, msg); err != nil {
		t.Fatalf("React: %v", err)
	}
	edited := &RemoteMessageEdit{After: &RemoteMessage{ChannelID: "c1", ChannelName: "general", AuthorName: "bob", Content: "fixed"}}
	if err := feed.React(context.Background(), EventRemoteMessageEdited, edited); err != nil {
		t.Fatalf("React: %v", err)
	}
	s.Wait()

	sent := local.Sent()
	if len(sent) != 2 {
		t.Fatalf("got %d local messages, want 2", len(sent))
	}
	got := map[string]bool{sent[0].Text: true, sent[1].Text: true}
	for _, want := range []string{
		chatfmt.FormatRemoteForLocal("General", "bob", "**hi**"),
		chatfmt.FormatRemoteForLocal("general", "bob", "fixed (edited)"),
	} {
		if !got[want] {
			t.Errorf("missing %q in %+v", want, sent)
		}
	}
	for _, m := range sent {
		if m.Channel != "General" {
			t.Errorf("got channel %q, want %q", m.Channel, "General")
		}
	}
}

func TestRemoteChatFeedFallsBackToEmbeds(t *testing.T) {
	t.Parallel()
	local := &mockLocal{}
	s := newTestSender(nil, local)
	feed := NewRemoteChatFeed(testConfig(t, generalLink()), s)

	msg := &RemoteMessage{ChannelName: "general", AuthorName: "bot", Embeds: []*embedfmt.RichMessage{{Title: "Card"}}}
	if err := feed.React(context.Background(), EventRemoteMessageCreated, msg); err != nil {
		t.Fatalf("React: %v", err)
	}
	empty := &RemoteMessage{ChannelName: "general", AuthorName: "bot"}
	if err := feed.React(context.Background(), EventRemoteMessageCreated, empty); err != nil {
		t.Fatalf("React: %v", err)
	}
	s.Wait()

	sent := local.Sent()
	if len(sent) != 1 {
		t.Fatalf("got %d local messages, want 1", len(sent))
	}
	if !strings.Contains(sent[0].Text, "<b>Card</b>") {
		t.Errorf("got %q, want the embed title", sent[0].Text)
	}
}

func TestRemoteChatFeedUnlinkedChannel(t *testing.T) {
	t.Parallel()
	local := &mockLocal{}
	s := newTestSender(nil, local)
	feed := NewRemoteChatFeed(testConfig(t, generalLink()), s)

	msg := &RemoteMessage{ChannelID: "c9", ChannelName: "random", AuthorName: "bob", Content: "x"}
	if err := feed.React(context.Background(), EventRemoteMessageCreated, msg); err != nil {
		t.Fatalf("React: %v", err)
	}
	s.Wait()
	if n := len(local.Sent()); n != 0 {
		t.Errorf("got %d local messages, want 0", n)
	}
}

func TestChatFeedsThroughRouter(t *testing.T) {
	t.Parallel()
	remote := newMockRemote()
	local := &mockLocal{}
	cfg := testConfig(t, generalLink())
	s := newTestSender(remote, local)
	r := NewRouter(testIdentity(), zerolog.Nop(),
		NewLocalChatFeed(cfg, remote, s),
		NewRemoteChatFeed(cfg, s),
	)
	ctx := context.Background()

	// The relay's own local message is an echo.
	if n := r.Dispatch(ctx, EventLocalMessageSent, &localchat.Message{Channel: "General", Sender: "DiscordLink", Text: "#general bob: hi"}); n != 0 {
		t.Errorf("own message reached %d modules", n)
	}
	// Commands never reach the local chat.
	if n := r.Dispatch(ctx, EventRemoteMessageCreated, &RemoteMessage{ChannelName: "general", AuthorID: "2", Content: "?players"}); n != 0 {
		t.Errorf("command reached %d modules", n)
	}
	if n := r.Dispatch(ctx, EventRemoteMessageCreated, &RemoteMessage{ChannelName: "general", AuthorID: "2", AuthorName: "bob", Content: "hi"}); n != 1 {
		t.Errorf("remote message reached %d modules, want 1", n)
	}
	if n := r.Dispatch(ctx, EventLocalMessageSent, &localchat.Message{Channel: "General", Sender: "alice", Text: "hello"}); n != 1 {
		t.Errorf("local message reached %d modules, want 1", n)
	}
	s.Wait()

	if n := len(local.Sent()); n != 1 {
		t.Errorf("got %d local messages, want 1", n)
	}
	if n := len(remote.CallsOf("SendText")); n != 1 {
		t.Errorf("got %d remote messages, want 1", n)
	}
}
