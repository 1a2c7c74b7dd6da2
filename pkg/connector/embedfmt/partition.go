// Copyright 2024-2026 Aiku AI

package embedfmt

import (
	"errors"
	"fmt"
	"strings"
)

// Discord embed limits. The field count is aligned to a multiple of three so
// inline fields always render in full rows.
const (
	DefaultFieldChars           = 1024
	DefaultTotalChars           = 6000
	DefaultFieldCount           = 24
	DefaultMinSizeForAutoFooter = 100
	DefaultStandardFooter       = "Message sent by DiscordLink"
)

// minCounterDigits is the counter width first reserved for " (n)" title
// suffixes. Wider counters are reserved when a split needs them.
const minCounterDigits = 3

// ErrInvalidLimits is returned by Limits.Validate.
var ErrInvalidLimits = errors.New("invalid embed limits")

// Limits are the structural constraints a chunk must satisfy.
type Limits struct {
	FieldChars           int
	TotalChars           int
	FieldCount           int
	MinSizeForAutoFooter int
	StandardFooter       string
}

// DefaultLimits returns the limits documented by Discord.
func DefaultLimits() Limits {
	return Limits{
		FieldChars:           DefaultFieldChars,
		TotalChars:           DefaultTotalChars,
		FieldCount:           DefaultFieldCount,
		MinSizeForAutoFooter: DefaultMinSizeForAutoFooter,
		StandardFooter:       DefaultStandardFooter,
	}
}

// Validate reports malformed limits. It is meant to be called once at startup.
func (l Limits) Validate() error {
	switch {
	case l.FieldChars <= 0:
		return fmt.Errorf("%w: field_chars must be positive, got %d", ErrInvalidLimits, l.FieldChars)
	case l.TotalChars <= 0:
		return fmt.Errorf("%w: total_chars must be positive, got %d", ErrInvalidLimits, l.TotalChars)
	case l.FieldCount <= 0:
		return fmt.Errorf("%w: field_count must be positive, got %d", ErrInvalidLimits, l.FieldCount)
	case l.MinSizeForAutoFooter < 0:
		return fmt.Errorf("%w: min_size_for_auto_footer must not be negative, got %d", ErrInvalidLimits, l.MinSizeForAutoFooter)
	case l.TotalChars < l.FieldChars:
		return fmt.Errorf("%w: total_chars (%d) is smaller than field_chars (%d)", ErrInvalidLimits, l.TotalChars, l.FieldChars)
	}
	return nil
}

// Partition splits msg into an ordered sequence of chunks that each satisfy
// limits. The input is never modified. A message that already fits is
// returned as a single chunk, with the standard footer attached if it is
// small enough.
//
// Parts are sized against the field limit or the room left beside the
// numbered title and footer, whichever is smaller. A chunk can still exceed
// a limit when a single line of field text is longer than that. Such lines
// are emitted as-is, never truncated.
func Partition(msg *RichMessage, limits Limits) []*RichMessage {
	if msg == nil {
		return nil
	}
	full := msg.Clone()
	if strings.TrimSpace(full.Footer) == "" && limits.StandardFooter != "" && full.Size() <= limits.MinSizeForAutoFooter {
		full.Footer = limits.StandardFooter
	}

	if fits(full, limits) {
		return []*RichMessage{full}
	}

	// Retry with a wider counter reserve until the chunk count fits in it.
	for digits := minCounterDigits; ; digits++ {
		budget := limits.TotalChars - (length(full.Title) + counterWidth(digits) + length(full.Footer))
		fields := splitOversizedFields(full.Fields, min(limits.FieldChars, budget))
		chunks := foldFields(full, fields, limits, budget)
		if countDigits(len(chunks)) <= digits {
			return chunks
		}
	}
}

func fits(msg *RichMessage, limits Limits) bool {
	if msg.Size() > limits.TotalChars || len(msg.Fields) > limits.FieldCount {
		return false
	}
	for _, f := range msg.Fields {
		if f.Size() > limits.FieldChars {
			return false
		}
	}
	return true
}

// splitOversizedFields replaces every field above fieldLimit with numbered
// parts produced by PackLines. fieldLimit is the smaller of the field limit
// and the room a chunk has for fields.
func splitOversizedFields(fields []Field, fieldLimit int) []Field {
	out := make([]Field, 0, len(fields))
	for _, f := range fields {
		if f.Size() <= fieldLimit {
			out = append(out, f)
			continue
		}
		out = append(out, splitField(f, fieldLimit)...)
	}
	return out
}

func splitField(f Field, fieldLimit int) []Field {
	for digits := minCounterDigits; ; digits++ {
		parts := PackLines(f.Text, fieldLimit-(length(f.Title)+counterWidth(digits)))
		if len(parts) == 0 {
			return []Field{f}
		}
		if countDigits(len(parts)) > digits {
			continue
		}
		out := make([]Field, 0, len(parts))
		for i, part := range parts {
			out = append(out, Field{
				Title:              numbered(f.Title, i+1),
				Text:               part,
				AllowAutoLineBreak: f.AllowAutoLineBreak,
				Inline:             f.Inline,
			})
		}
		return out
	}
}

// foldFields packs fields into chunks greedily. budget is what is left of the
// total limit once the numbered title and the footer are accounted for, so
// the last chunk still fits after the footer is attached.
func foldFields(full *RichMessage, fields []Field, limits Limits, budget int) []*RichMessage {
	var chunks []*RichMessage
	current := emptyChunk(full)
	chars := 0
	for _, f := range fields {
		size := f.Size()
		if len(current.Fields) > 0 && (chars+size > budget || len(current.Fields)+1 > limits.FieldCount) {
			current.Title = numbered(full.Title, len(chunks)+1)
			chunks = append(chunks, current)
			current = emptyChunk(full)
			chars = 0
		}
		current.Fields = append(current.Fields, f)
		chars += size
	}
	if len(current.Fields) > 0 || len(chunks) == 0 {
		current.Title = numbered(full.Title, len(chunks)+1)
		chunks = append(chunks, current)
	}

	chunks[len(chunks)-1].Footer = full.Footer
	return chunks
}

func emptyChunk(full *RichMessage) *RichMessage {
	return &RichMessage{
		Description: full.Description,
		Thumbnail:   full.Thumbnail,
	}
}

// counterWidth is the length of a " (n)" suffix with a counter of digits.
func counterWidth(digits int) int {
	return digits + 3
}

func countDigits(n int) int {
	digits := 1
	for n >= 10 {
		n /= 10
		digits++
	}
	return digits
}

func numbered(title string, n int) string {
	if title == "" {
		return fmt.Sprintf("(%d)", n)
	}
	return fmt.Sprintf("%s (%d)", title, n)
}

// PackLines splits text into chunks of at most chunkSize characters without
// breaking lines. Line endings are normalized and the text is trimmed first.
// A single line longer than chunkSize becomes its own oversized chunk.
// Empty input yields no chunks.
func PackLines(text string, chunkSize int) []string {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\r", ""))
	if text == "" {
		return nil
	}

	lines := strings.Split(text, "\n")
	var chunks []string
	acc := lines[0]
	for _, line := range lines[1:] {
		candidate := acc + "\n" + line
		if length(candidate) > chunkSize {
			chunks = append(chunks, acc)
			acc = line
			continue
		}
		acc = candidate
	}
	return append(chunks, acc)
}
