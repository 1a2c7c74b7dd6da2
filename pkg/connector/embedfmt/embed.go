// Copyright 2024-2026 Aiku AI

// Package embedfmt holds the platform-neutral rich message model and splits
// oversized messages into chunks that fit the remote network's embed limits.
package embedfmt

import (
	"strings"
	"unicode/utf8"
)

// Field is a titled text segment within a RichMessage.
type Field struct {
	Title              string
	Text               string
	AllowAutoLineBreak bool
	Inline             bool
}

// Size returns the number of characters the field contributes to a message.
func (f Field) Size() int {
	return length(f.Title) + length(f.Text)
}

// RichMessage is a formattable message that can be rendered as a remote
// embed or flattened to plain text for the local chat.
type RichMessage struct {
	Title       string
	Description string
	Footer      string
	Thumbnail   string
	Fields      []Field
}

// Size returns the sum of the title, footer and all field lengths.
// Description and thumbnail are not counted.
func (m *RichMessage) Size() int {
	if m == nil {
		return 0
	}
	size := length(m.Title) + length(m.Footer)
	for _, f := range m.Fields {
		size += f.Size()
	}
	return size
}

// AddField appends a field and returns the message for chaining.
func (m *RichMessage) AddField(title, text string, inline bool) *RichMessage {
	m.Fields = append(m.Fields, Field{
		Title:              title,
		Text:               text,
		AllowAutoLineBreak: true,
		Inline:             inline,
	})
	return m
}

// Clone returns a deep copy of the message.
func (m *RichMessage) Clone() *RichMessage {
	if m == nil {
		return nil
	}
	cp := *m
	cp.Fields = make([]Field, len(m.Fields))
	copy(cp.Fields, m.Fields)
	return &cp
}

// PlainText flattens the message into lines suitable for a chat that has no
// embed support.
func (m *RichMessage) PlainText() string {
	if m == nil {
		return ""
	}
	var lines []string
	if m.Title != "" {
		lines = append(lines, m.Title)
	}
	if m.Description != "" {
		lines = append(lines, m.Description)
	}
	for _, f := range m.Fields {
		if f.Title != "" {
			lines = append(lines, f.Title)
		}
		if f.Text != "" {
			lines = append(lines, f.Text)
		}
	}
	if m.Footer != "" {
		lines = append(lines, m.Footer)
	}
	return strings.Join(lines, "\n")
}

func length(s string) int {
	return utf8.RuneCountInString(s)
}
