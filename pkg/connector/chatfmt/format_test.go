// Copyright 2024-2026 Aiku AI

package chatfmt

import (
	"testing"

	"github.com/aiku/discordlink/pkg/connector/embedfmt"
)

func TestLocalToMarkdown(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "  plain  ", want: "plain"},
		{name: "bold and italic", in: "<b>Hi</b> <i>there</i>", want: "**Hi** *there*"},
		{name: "underline and strike", in: "<u>u</u><s>s</s>", want: "__u__~~s~~"},
		{name: "color stripped", in: "<color=red>Red</color> text", want: "Red text"},
		{name: "line break", in: "line<br>two<br/>three", want: "line\ntwo\nthree"},
		{name: "nested", in: "<b><color=#fff>Title</color></b>", want: "**Title**"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := LocalToMarkdown(tt.in); got != tt.want {
				t.Errorf("LocalToMarkdown(%q): got %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestMarkdownToLocal(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty", in: "", want: ""},
		{name: "bold and italic", in: "**bold** and *it*", want: "<b>bold</b> and <i>it</i>"},
		{name: "underscore italic", in: "an _emphasis_ here", want: "an <i>emphasis</i> here"},
		{name: "snake case untouched", in: "snake_case_name", want: "snake_case_name"},
		{name: "underline", in: "__u__", want: "<u>u</u>"},
		{name: "strike", in: "~~gone~~", want: "<s>gone</s>"},
		{name: "spoiler", in: "||secret||", want: "secret"},
		{name: "inline code verbatim", in: "`**raw**`", want: "**raw**"},
		{name: "code block", in: "```go\nfmt.Println()\n```", want: "fmt.Println()"},
		{name: "link", in: "[site](https://example.com)", want: "site (https://example.com)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := MarkdownToLocal(tt.in); got != tt.want {
				t.Errorf("MarkdownToLocal(%q): got %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestStripTags(t *testing.T) {
	t.Parallel()
	if got := StripTags("<color=red>a</color><b>b</b>"); got != "ab" {
		t.Errorf("got %q, want %q", got, "ab")
	}
}

func TestFormatLocalForRemote(t *testing.T) {
	t.Parallel()
	dir := testDirectory()
	text := "hi @alice @everyone <b>x</b>"

	got := FormatLocalForRemote("**Bob**", text, dir, AllPermitted(), false)
	want := "**Bob**: hi <ref:Alice> everyone **x**"
	if got != want {
		t.Errorf("without global mentions: got %q, want %q", got, want)
	}

	got = FormatLocalForRemote("**Bob**", text, dir, AllPermitted(), true)
	want = "**Bob**: hi <ref:Alice> @everyone **x**"
	if got != want {
		t.Errorf("with global mentions: got %q, want %q", got, want)
	}

	got = FormatLocalForRemote("@here", "yo", dir, AllPermitted(), false)
	if got != "here: yo" {
		t.Errorf("sender name: got %q, want %q", got, "here: yo")
	}
}

func TestFormatRemoteForLocal(t *testing.T) {
	t.Parallel()
	got := FormatRemoteForLocal("general", "Alice", "**hi**")
	want := "#general <b>Alice</b>: <b>hi</b>"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestReadableContent(t *testing.T) {
	t.Parallel()
	names := Names{
		Members:  map[string]string{"1": "Alice", "2": "Bob"},
		Roles:    map[string]string{"3": "Mods"},
		Channels: map[string]string{"4": "general"},
	}

	got := ReadableContent("hey <@1> <@!2> <@&3> <#4> <@9>", names, nil)
	want := "hey @Alice @Bob @Mods #general <@9>"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	got = ReadableContent("look", Names{}, []string{"https://cdn.example.com/a.png", "https://cdn.example.com/b.png"})
	want = "look\nAttachments:\nhttps://cdn.example.com/a.png\nhttps://cdn.example.com/b.png"
	if got != want {
		t.Errorf("attachments: got %q, want %q", got, want)
	}
}

func TestEmbedToLocal(t *testing.T) {
	t.Parallel()
	if got := EmbedToLocal(nil); got != "" {
		t.Errorf("nil: got %q", got)
	}
	msg := &embedfmt.RichMessage{Title: "Trade", Description: "**Bob** bought", Footer: "ft"}
	msg.AddField("Item", "Wood", false)

	want := "<b>Trade</b>\n<b>Bob</b> bought\n<b><color=#7289DA>Item</color></b>\nWood\nft"
	if got := EmbedToLocal(msg); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
