// Copyright 2024-2026 Aiku AI

// Package chatfmt converts chat text between the local game chat markup and
// remote markdown, and resolves mention tokens in both directions.
package chatfmt

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/aiku/discordlink/pkg/connector/embedfmt"
)

var (
	boldTagRe      = regexp.MustCompile(`(?s)<b>(.*?)</b>`)
	italicTagRe    = regexp.MustCompile(`(?s)<i>(.*?)</i>`)
	underlineTagRe = regexp.MustCompile(`(?s)<u>(.*?)</u>`)
	strikeTagRe    = regexp.MustCompile(`(?s)<s>(.*?)</s>`)
	brTagRe        = regexp.MustCompile(`<br\s*/?>`)
	tagRe          = regexp.MustCompile(`<[^>]*>`)

	codeBlockRe = regexp.MustCompile("(?s)```(\\w+\\n)?(.*?)```")
	codeRe      = regexp.MustCompile("`([^`]+)`")
	boldRe      = regexp.MustCompile(`\*\*(.+?)\*\*`)
	underlineRe = regexp.MustCompile(`__(.+?)__`)
	italicRe    = regexp.MustCompile(`\*(.+?)\*|\b_(.+?)_\b`)
	strikeRe    = regexp.MustCompile(`~~(.+?)~~`)
	spoilerRe   = regexp.MustCompile(`\|\|(.+?)\|\|`)
	linkRe      = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)

	referenceRe = regexp.MustCompile(`<(@!?|@&|#)(\d+)>`)
)

// StripTags removes every markup tag from text.
func StripTags(text string) string {
	return tagRe.ReplaceAllString(text, "")
}

// LocalToMarkdown converts local chat markup to remote markdown. Tags with
// no markdown counterpart (colors, links, icons) are dropped.
func LocalToMarkdown(text string) string {
	if !strings.Contains(text, "<") {
		return strings.TrimSpace(text)
	}
	text = boldTagRe.ReplaceAllString(text, "**$1**")
	text = italicTagRe.ReplaceAllString(text, "*$1*")
	text = underlineTagRe.ReplaceAllString(text, "__${1}__")
	text = strikeTagRe.ReplaceAllString(text, "~~$1~~")
	text = brTagRe.ReplaceAllString(text, "\n")
	text = StripTags(text)
	return strings.TrimSpace(text)
}

// MarkdownToLocal converts remote markdown to local chat markup. Code spans
// are emitted verbatim and are not scanned for other formatting.
func MarkdownToLocal(text string) string {
	if text == "" {
		return ""
	}

	var code []string
	stash := func(s string) string {
		code = append(code, s)
		return "\x00CODE" + strconv.Itoa(len(code)-1) + "\x00"
	}
	text = codeBlockRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := codeBlockRe.FindStringSubmatch(match)
		return stash(strings.Trim(parts[2], "\n"))
	})
	text = codeRe.ReplaceAllStringFunc(text, func(match string) string {
		return stash(codeRe.FindStringSubmatch(match)[1])
	})

	text = boldRe.ReplaceAllString(text, "<b>$1</b>")
	text = underlineRe.ReplaceAllString(text, "<u>$1</u>")
	text = italicRe.ReplaceAllString(text, "<i>$1$2</i>")
	text = strikeRe.ReplaceAllString(text, "<s>$1</s>")
	text = spoilerRe.ReplaceAllString(text, "$1")
	text = linkRe.ReplaceAllString(text, "$1 ($2)")

	for i, c := range code {
		text = strings.Replace(text, "\x00CODE"+strconv.Itoa(i)+"\x00", c, 1)
	}
	return text
}

// FormatLocalForRemote renders a local chat message for a remote channel.
// name is the already formatted sender name.
func FormatLocalForRemote(name, text string, dir Directory, perms Permissions, allowGlobal bool) string {
	body := LocalToMarkdown(text)
	if !allowGlobal {
		name = StripGlobalMentions(name)
		body = StripGlobalMentions(body)
	}
	body = Resolve(body, dir, perms)
	return name + ": " + body
}

// FormatRemoteForLocal renders a remote message for the local chat.
func FormatRemoteForLocal(channelName, author, content string) string {
	return "#" + channelName + " <b>" + author + "</b>: " + MarkdownToLocal(content)
}

// Names maps remote IDs to readable names for ReadableContent.
type Names struct {
	Members  map[string]string
	Roles    map[string]string
	Channels map[string]string
}

// ReadableContent replaces remote mention references with readable names
// and appends attachment URLs. Unknown references are left as they are.
func ReadableContent(content string, names Names, attachments []string) string {
	out := referenceRe.ReplaceAllStringFunc(content, func(match string) string {
		parts := referenceRe.FindStringSubmatch(match)
		var lookup map[string]string
		prefix := "@"
		switch parts[1] {
		case "@", "@!":
			lookup = names.Members
		case "@&":
			lookup = names.Roles
		case "#":
			lookup = names.Channels
			prefix = "#"
		}
		if name, ok := lookup[parts[2]]; ok {
			return prefix + name
		}
		return match
	})
	if len(attachments) > 0 {
		out += "\nAttachments:\n" + strings.Join(attachments, "\n")
	}
	return out
}

// fieldTitleColor is the color used for field titles in local embeds.
const fieldTitleColor = "#7289DA"

// EmbedToLocal flattens a rich message into local chat markup.
func EmbedToLocal(msg *embedfmt.RichMessage) string {
	if msg == nil {
		return ""
	}
	var lines []string
	if msg.Title != "" {
		lines = append(lines, "<b>"+msg.Title+"</b>")
	}
	if msg.Description != "" {
		lines = append(lines, MarkdownToLocal(msg.Description))
	}
	for _, f := range msg.Fields {
		if f.Title != "" {
			lines = append(lines, "<b><color="+fieldTitleColor+">"+f.Title+"</color></b>")
		}
		if f.Text != "" {
			lines = append(lines, MarkdownToLocal(f.Text))
		}
	}
	if msg.Footer != "" {
		lines = append(lines, msg.Footer)
	}
	return strings.Join(lines, "\n")
}
