// Copyright 2024-2026 Aiku AI

package chatfmt

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Permissions controls which mention kinds may be resolved for a destination.
type Permissions struct {
	AllowUserMentions    bool
	AllowRoleMentions    bool
	AllowChannelMentions bool
}

// AllPermitted is used for contexts that have no channel link, such as
// private conversations.
func AllPermitted() Permissions {
	return Permissions{
		AllowUserMentions:    true,
		AllowRoleMentions:    true,
		AllowChannelMentions: true,
	}
}

// Entry is a known name and the platform reference that mentions it.
type Entry struct {
	Name      string
	Reference string
}

// Directory lists the names known to the remote network for one scope.
// Roles should only contain roles that can be mentioned.
type Directory interface {
	Roles() []Entry
	Members() []Entry
	Channels() []Entry
}

// StaticDirectory is a Directory backed by fixed slices.
type StaticDirectory struct {
	RoleEntries    []Entry
	MemberEntries  []Entry
	ChannelEntries []Entry
}

var _ Directory = (*StaticDirectory)(nil)

func (d *StaticDirectory) Roles() []Entry    { return d.RoleEntries }
func (d *StaticDirectory) Members() []Entry  { return d.MemberEntries }
func (d *StaticDirectory) Channels() []Entry { return d.ChannelEntries }

const (
	userMarker    = '@'
	channelMarker = '#'
)

// Resolve replaces mention tokens in text with platform references.
//
// A token is '@' or '#' followed by a run of non-whitespace characters.
// '@' tokens are matched against roles first and then members, '#' tokens
// against channels, each only when perms allows it. A known name matches
// when it is a case-insensitive substring of the token; the characters
// around the match are kept and only the matched span (and the marker) is
// replaced. Tokens that match nothing are left untouched.
func Resolve(text string, dir Directory, perms Permissions) string {
	if dir == nil || !strings.ContainsAny(text, "@#") {
		return text
	}

	var b strings.Builder
	b.Grow(len(text))
	for i := 0; i < len(text); {
		r, w := utf8.DecodeRuneInString(text[i:])
		if r != userMarker && r != channelMarker {
			b.WriteString(text[i : i+w])
			i += w
			continue
		}
		end := tokenEnd(text, i+w)
		if end == i+w {
			b.WriteRune(r)
			i += w
			continue
		}
		b.WriteString(resolveToken(r, text[i+w:end], dir, perms))
		i = end
	}
	return b.String()
}

func tokenEnd(text string, start int) int {
	for j, r := range text[start:] {
		if unicode.IsSpace(r) {
			return start + j
		}
	}
	return len(text)
}

func resolveToken(marker rune, candidate string, dir Directory, perms Permissions) string {
	var groups [][]Entry
	switch marker {
	case userMarker:
		if perms.AllowRoleMentions {
			groups = append(groups, dir.Roles())
		}
		if perms.AllowUserMentions {
			groups = append(groups, dir.Members())
		}
	case channelMarker:
		if perms.AllowChannelMentions {
			groups = append(groups, dir.Channels())
		}
	}

	for _, entries := range groups {
		for _, e := range entries {
			if e.Name == "" || e.Reference == "" {
				continue
			}
			start, end, ok := indexFold(candidate, e.Name)
			if !ok {
				continue
			}
			return candidate[:start] + e.Reference + candidate[end:]
		}
	}
	return string(marker) + candidate
}

// indexFold finds the first case-insensitive occurrence of substr in s and
// returns its byte span in s.
func indexFold(s, substr string) (start, end int, ok bool) {
	n := utf8.RuneCountInString(substr)
	for i := range s {
		j, k := i, 0
		for k < n && j < len(s) {
			_, w := utf8.DecodeRuneInString(s[j:])
			j += w
			k++
		}
		if k < n {
			return 0, 0, false
		}
		if strings.EqualFold(s[i:j], substr) {
			return i, j, true
		}
	}
	return 0, 0, false
}

var globalMentionReplacer = strings.NewReplacer(
	"@everyone", "everyone",
	"@here", "here",
)

// StripGlobalMentions defuses the broadcast mentions so relayed text cannot
// notify a whole server. Repeated markers such as "@@here" are removed until
// no broadcast mention is left.
func StripGlobalMentions(text string) string {
	for strings.Contains(text, "@everyone") || strings.Contains(text, "@here") {
		text = globalMentionReplacer.Replace(text)
	}
	return text
}
