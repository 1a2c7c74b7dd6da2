// Copyright 2024-2026 Aiku AI

// Package connector relays chat and game events between an Eco game server
// and a remote chat network (Discord or Mattermost).
//
// # Core Types
//
// [RelayConnector] owns the lifecycle. It identifies with the remote network,
// registers the modules with a [Router], polls the local chat with a
// [Poller] and serves the admin API and metrics.
//
// [Remote] is the remote network. [DiscordRemote] talks to Discord through
// discordgo and [MattermostRemote] talks to Mattermost through the Client4
// REST API and its WebSocket event stream.
//
// [Module] is a unit of relay behavior selected by [EventKind] flags. The
// chat modules ([LocalChatFeed], [RemoteChatFeed]) carry messages in both
// directions; the notice feeds post game events; [PlayerDisplay] keeps a
// single message with the online players up to date by editing it.
//
// # Echo Prevention
//
// A relayed message must never come back. The remote adapters drop their
// own posts, system posts and posts from usernames with the bot prefix. The
// router drops local messages sent under the bot's local name unless they
// start with the echo override token, remote messages authored by the bot
// user, and local messages starting with the command prefix.
//
// # Sub-packages
//
//   - embedfmt holds the rich message model and splits messages that exceed
//     the remote network's embed limits.
//   - chatfmt resolves @mentions and converts between local chat markup and
//     remote markdown.
//   - localchat holds the local chat sources: an in-memory feed and a Matrix
//     room.
package connector
