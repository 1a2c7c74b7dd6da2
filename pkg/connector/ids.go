// Copyright 2024-2026 Aiku AI

package connector

import (
	"strconv"
	"strings"

	"github.com/mattermost/mattermost/server/public/model"
)

// minSnowflake is the smallest value accepted as a Discord snowflake. Smaller
// numbers are treated as names, since no real ID is that short.
const minSnowflake = 0xFFFFFFFFFFFFF

// ParseSnowflake parses a Discord snowflake ID.
func ParseSnowflake(s string) (uint64, bool) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil || v <= minSnowflake {
		return 0, false
	}
	return v, true
}

// IsSnowflake reports whether s is a Discord snowflake ID.
func IsSnowflake(s string) bool {
	_, ok := ParseSnowflake(s)
	return ok
}

// IsMattermostID reports whether s is a Mattermost object ID.
func IsMattermostID(s string) bool {
	return model.IsValidId(s)
}

// MakeTargetKey creates the cache key of a remote channel reference.
func MakeTargetKey(guild, channel string) string {
	return strings.ToLower(guild) + "/" + strings.ToLower(strings.TrimPrefix(channel, "#"))
}

// ParseTargetKey splits a key made by MakeTargetKey.
func ParseTargetKey(key string) (guild, channel string) {
	guild, channel, _ = strings.Cut(key, "/")
	return guild, channel
}

// Key returns the cache key of the target.
func (t RemoteTarget) Key() string {
	return MakeTargetKey(t.RemoteGuild, t.RemoteChannel)
}
