// Copyright 2024-2026 Aiku AI

package chatfmt

import "testing"

func testDirectory() *StaticDirectory {
	return &StaticDirectory{
		RoleEntries: []Entry{
			{Name: "Moderators", Reference: "<@&100>"},
			{Name: "Admin", Reference: "<@&101>"},
		},
		MemberEntries: []Entry{
			{Name: "", Reference: "<@0>"},
			{Name: "Alice", Reference: "<ref:Alice>"},
			{Name: "Bob", Reference: "<@2>"},
			{Name: "Admin", Reference: "<@3>"},
			{Name: "Émile", Reference: "<@4>"},
		},
		ChannelEntries: []Entry{
			{Name: "general", Reference: "<#10>"},
		},
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()
	noUsers := AllPermitted()
	noUsers.AllowUserMentions = false
	noRoles := AllPermitted()
	noRoles.AllowRoleMentions = false
	noChannels := AllPermitted()
	noChannels.AllowChannelMentions = false

	tests := []struct {
		name  string
		text  string
		perms Permissions
		want  string
	}{
		{name: "member with trailing punctuation", text: "hello @Alice!", perms: AllPermitted(), want: "hello <ref:Alice>!"},
		{name: "user mentions disabled", text: "hello @Alice!", perms: noUsers, want: "hello @Alice!"},
		{name: "case insensitive", text: "hi @ALICE", perms: AllPermitted(), want: "hi <ref:Alice>"},
		{name: "characters before the name kept", text: "(@(alice))", perms: AllPermitted(), want: "((<ref:Alice>))"},
		{name: "roles win over members", text: "@admin please", perms: AllPermitted(), want: "<@&101> please"},
		{name: "role mentions disabled falls back to member", text: "@admin please", perms: noRoles, want: "<@3> please"},
		{name: "channel", text: "see #general.", perms: AllPermitted(), want: "see <#10>."},
		{name: "channel mentions disabled", text: "see #general.", perms: noChannels, want: "see #general."},
		{name: "channel marker does not match members", text: "#alice", perms: AllPermitted(), want: "#alice"},
		{name: "unknown name left alone", text: "@nobody here", perms: AllPermitted(), want: "@nobody here"},
		{name: "bare marker", text: "meet @ noon #", perms: AllPermitted(), want: "meet @ noon #"},
		{name: "several tokens", text: "@Alice and @bob\tand #general", perms: AllPermitted(), want: "<ref:Alice> and <@2>\tand <#10>"},
		{name: "non ascii name", text: "@émile:", perms: AllPermitted(), want: "<@4>:"},
		{name: "no markers", text: "plain text", perms: AllPermitted(), want: "plain text"},
		{name: "empty", text: "", perms: AllPermitted(), want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Resolve(tt.text, testDirectory(), tt.perms)
			if got != tt.want {
				t.Errorf("Resolve(%q): got %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestResolveNilDirectory(t *testing.T) {
	t.Parallel()
	if got := Resolve("@Alice", nil, AllPermitted()); got != "@Alice" {
		t.Errorf("got %q, want %q", got, "@Alice")
	}
}

func TestStripGlobalMentions(t *testing.T) {
	t.Parallel()
	tests := []struct {
		text string
		want string
	}{
		{text: "@everyone look", want: "everyone look"},
		{text: "ping @here now", want: "ping here now"},
		{text: "@@here", want: "here"},
		{text: "@Alice stays", want: "@Alice stays"},
		{text: "", want: ""},
	}
	for _, tt := range tests {
		if got := StripGlobalMentions(tt.text); got != tt.want {
			t.Errorf("StripGlobalMentions(%q): got %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestIndexFold(t *testing.T) {
	t.Parallel()
	tests := []struct {
		s, sub     string
		start, end int
		ok         bool
	}{
		{s: "xxAlicexx", sub: "alice", start: 2, end: 7, ok: true},
		{s: "ÉMILE!", sub: "émile", start: 0, end: 6, ok: true},
		{s: "short", sub: "longer than s", ok: false},
		{s: "abc", sub: "d", ok: false},
	}
	for _, tt := range tests {
		start, end, ok := indexFold(tt.s, tt.sub)
		if ok != tt.ok || start != tt.start || end != tt.end {
			t.Errorf("indexFold(%q, %q): got (%d, %d, %v), want (%d, %d, %v)",
				tt.s, tt.sub, start, end, ok, tt.start, tt.end, tt.ok)
		}
	}
}
