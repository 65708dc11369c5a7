// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bridgebot

import (
	"regexp"
	"strings"
)

// CommandOrigin identifies which platform a command arrived from. Behavior
// that differs per platform switches on this tag.
type CommandOrigin int

const (
	OriginMatrix CommandOrigin = iota
	OriginSlack
)

func (o CommandOrigin) String() string {
	switch o {
	case OriginMatrix:
		return "matrix"
	case OriginSlack:
		return "slack"
	default:
		return "unknown"
	}
}

// CommandKind enumerates the commands the bot understands.
type CommandKind int

const (
	KindHelp CommandKind = iota
	KindCreateRoom
	KindArchiveRoom
	KindInviteAll
	KindAutoinvite
)

// Command is a parsed inbound command. Sender and Room are platform-native
// identifiers for the origin platform: a Matrix user ID and room ID, or a
// Slack user ID and channel name.
type Command struct {
	Kind   CommandKind
	Origin CommandOrigin
	Sender string
	Room   string

	// Name and Topic are set for KindCreateRoom.
	Name  string
	Topic string
	// Target is set for KindArchiveRoom: a room alias or ID.
	Target string
	// Disable is set for KindAutoinvite.
	Disable bool
}

var (
	createRoomRegex  = regexp.MustCompile(`^!createroom\s+(.+?)\s+"(.+?)"\s*$`)
	archiveRoomRegex = regexp.MustCompile(`^!archiveroom\s+(\S+)\s*$`)
)

// ParseCommand parses a message body into a Command. The second return
// value is false if the message is not a command.
func ParseCommand(body string, origin CommandOrigin, sender, room string) (*Command, bool) {
	body = strings.TrimSpace(body)
	cmd := &Command{Origin: origin, Sender: sender, Room: room}
	switch {
	case body == "!help":
		cmd.Kind = KindHelp
	case body == "!inviteall":
		cmd.Kind = KindInviteAll
	case body == "!autoinvite":
		cmd.Kind = KindAutoinvite
	case body == "!autoinvite disable":
		cmd.Kind = KindAutoinvite
		cmd.Disable = true
	default:
		if m := createRoomRegex.FindStringSubmatch(body); m != nil {
			cmd.Kind = KindCreateRoom
			cmd.Name = m[1]
			cmd.Topic = m[2]
			break
		}
		if m := archiveRoomRegex.FindStringSubmatch(body); m != nil {
			cmd.Kind = KindArchiveRoom
			cmd.Target = m[1]
			break
		}
		return nil, false
	}
	return cmd, true
}

// HelpText is the markdown help message. For Matrix it is rendered to HTML
// before sending.
const HelpText = `Valid commands are:

* ` + "`!createroom (name) \"(topic)\"`" + `

    Create a new linked Matrix room and Slack channel.

* ` + "`!archiveroom (room)`" + `

    Archive a Matrix room: lock chat and mark the name.

Matrix user commands:

* ` + "`!inviteall`" + `

    Get invites to all bridged Matrix rooms.

* ` + "`!autoinvite [disable]`" + `

    Enable or disable invites to all new Matrix rooms.
`
