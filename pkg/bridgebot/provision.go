// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bridgebot

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// RoomSpec is the user-supplied intent for a new room pair. It is immutable
// once the workflow starts.
type RoomSpec struct {
	Name     string
	Topic    string
	IsPublic bool
}

// Provisioner drives the room-creation workflow: create the Matrix room,
// create the Slack channel, link them, configure both sides, invite members
// and announce the result.
//
// Room creation (step: create matrix room) and channel creation are
// mandatory; their failure aborts the workflow. Everything after the link is
// best-effort: an error is logged and the remaining steps still run, so the
// room pair ends up usable even when minor configuration fails. There is no
// rollback: if the Slack channel cannot be created the already-created Matrix
// room stays behind unlinked, reported via PartialProvisionError.
type Provisioner struct {
	rooms    *RoomConfig
	matrix   *MatrixRooms
	slack    *SlackChannels
	registry *RoomLinkRegistry
	guard    *CreationGuard
	log      zerolog.Logger
}

func NewProvisioner(rooms *RoomConfig, matrix *MatrixRooms, slack *SlackChannels, registry *RoomLinkRegistry, log zerolog.Logger) *Provisioner {
	return &Provisioner{
		rooms:    rooms,
		matrix:   matrix,
		slack:    slack,
		registry: registry,
		guard:    NewCreationGuard(),
		log:      log.With().Str("component", "provisioner").Logger(),
	}
}

// Provision runs the full workflow for one room pair and returns the new
// Matrix room ID. Concurrent calls serialize through the creation guard; the
// second caller blocks until the first workflow completes entirely.
func (p *Provisioner) Provision(ctx context.Context, spec RoomSpec, cmd *Command) (id.RoomID, error) {
	if err := p.guard.Acquire(ctx); err != nil {
		return "", err
	}
	defer p.guard.Release()

	p.ack(ctx, cmd)

	roomID, err := p.matrix.CreateRoom(ctx)
	if err != nil {
		// Nothing has been created or persisted yet, aborting is safe.
		return "", fmt.Errorf("failed to create matrix room: %w", err)
	}
	log := p.log.With().
		Str("room_id", roomID.String()).
		Str("room_name", spec.Name).
		Logger()

	p.preBridgeConfigure(ctx, log, roomID, spec)

	channelID, err := p.slack.CreateChannel(ctx, spec.Name)
	if err != nil {
		log.Error().Err(err).Msg("Slack channel creation failed, leaving matrix room unlinked")
		return "", &PartialProvisionError{MatrixRoomID: roomID, Err: err}
	}
	log = log.With().Str("channel_id", channelID).Logger()

	// The link must exist before any invites go out so that lookups from
	// either side (including resolving the command's origin room from a
	// Slack channel name) succeed from here on.
	if err = p.registry.Link(ctx, roomID, channelID); err != nil {
		return "", fmt.Errorf("failed to link rooms: %w", err)
	}

	handle := p.postBridgeConfigure(ctx, log, roomID, spec)

	if err = p.slack.SetDescription(ctx, channelID, spec.Topic); err != nil {
		log.Warn().Err(err).Msg("Failed to set slack channel description")
	}

	commandRoom := p.inviteRequester(ctx, log, cmd, roomID, channelID)

	p.announce(ctx, log, commandRoom, handle)
	if p.rooms.AnnouncementRoom != "" && p.rooms.AnnouncementRoom != commandRoom.String() {
		p.announce(ctx, log, id.RoomID(p.rooms.AnnouncementRoom), handle)
	}

	log.Info().Msg("Room pair provisioned")
	return roomID, nil
}

// ack tells the origin room that work has started. Room creation can take a
// while and mirrored commands make users impatient.
func (p *Provisioner) ack(ctx context.Context, cmd *Command) {
	const working = "Creating room please wait..."
	var err error
	switch cmd.Origin {
	case OriginMatrix:
		err = p.matrix.SendNotice(ctx, id.RoomID(cmd.Room), working)
	case OriginSlack:
		err = p.slack.PostMessage(ctx, cmd.Room, working)
	}
	if err != nil {
		p.log.Warn().Err(err).Str("origin", cmd.Origin.String()).Msg("Failed to send ack")
	}
}

// preBridgeConfigure applies visibility settings that should be in place
// before the room is linked. Both sub-steps are best-effort and
// order-independent.
func (p *Provisioner) preBridgeConfigure(ctx context.Context, log zerolog.Logger, roomID id.RoomID, spec RoomSpec) {
	if !spec.IsPublic {
		return
	}
	if err := p.matrix.SetJoinRule(ctx, roomID, event.JoinRulePublic); err != nil {
		log.Warn().Err(err).Msg("Failed to set join rule")
	}
	if err := p.matrix.SetHistoryVisibility(ctx, roomID, event.HistoryVisibilityWorldReadable); err != nil {
		log.Warn().Err(err).Msg("Failed to set history visibility")
	}
}

// postBridgeConfigure applies aliases, name, avatar, topic, invites, admin
// grants and the @room power level to the new Matrix room. Every sub-step is
// independent and best-effort. It returns the handle to use when announcing
// the room: the first published alias, or the room ID if no alias stuck.
func (p *Provisioner) postBridgeConfigure(ctx context.Context, log zerolog.Logger, roomID id.RoomID, spec RoomSpec) string {
	handle := roomID.String()
	for i, alias := range p.rooms.FormatAliases(spec.Name) {
		if err := p.matrix.AddAlias(ctx, roomID, id.RoomAlias(alias)); err != nil {
			log.Warn().Err(err).Str("alias", alias).Msg("Failed to add alias")
			continue
		}
		if i == 0 || handle == roomID.String() {
			handle = alias
		}
	}

	if p.rooms.RoomNameTemplate != "" {
		if err := p.matrix.SetName(ctx, roomID, p.rooms.FormatRoomName(spec.Name)); err != nil {
			log.Warn().Err(err).Msg("Failed to set room name")
		}
	}

	if p.rooms.RoomAvatarURL != "" {
		if err := p.matrix.SetAvatar(ctx, roomID, p.rooms.RoomAvatarURL); err != nil {
			log.Warn().Err(err).Msg("Failed to set room avatar")
		}
	}

	if err := p.matrix.SetTopic(ctx, roomID, spec.Topic); err != nil {
		log.Warn().Err(err).Msg("Failed to set room topic")
	}

	for _, user := range p.inviteList(ctx, log) {
		if err := p.matrix.Invite(ctx, roomID, user); err != nil {
			log.Warn().Err(err).Str("user_id", user.String()).Msg("Failed to invite user")
		}
	}

	for _, user := range p.rooms.UsersAsAdmin {
		if err := p.matrix.SetUserRole(ctx, roomID, id.UserID(user), 100); err != nil {
			log.Warn().Err(err).Str("user_id", user).Msg("Failed to grant admin")
		}
	}

	if p.rooms.AllowAtRoom {
		if err := p.zeroAtRoomLevel(ctx, roomID); err != nil {
			log.Warn().Err(err).Msg("Failed to zero @room power level")
		}
	}

	return handle
}

// inviteList combines the configured invite and admin lists with the users
// who opted into autoinvite.
func (p *Provisioner) inviteList(ctx context.Context, log zerolog.Logger) []id.UserID {
	users := make([]id.UserID, 0, len(p.rooms.UsersToInvite)+len(p.rooms.UsersAsAdmin))
	for _, user := range p.rooms.UsersToInvite {
		users = append(users, id.UserID(user))
	}
	for _, user := range p.rooms.UsersAsAdmin {
		users = append(users, id.UserID(user))
	}
	autoinvite, err := p.registry.AutoinviteUsers(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load autoinvite users")
		return users
	}
	return append(users, autoinvite...)
}

// zeroAtRoomLevel sets the @room notification power level to 0 via a
// read-modify-write against the live power level state. The write can lose a
// concurrent external change; accepted as low-probability.
func (p *Provisioner) zeroAtRoomLevel(ctx context.Context, roomID id.RoomID) error {
	levels, err := p.matrix.GetPowerLevels(ctx, roomID)
	if err != nil {
		return err
	}
	zero := 0
	if levels.Notifications == nil {
		levels.Notifications = &event.NotificationPowerLevels{}
	}
	levels.Notifications.RoomPtr = &zero
	return p.matrix.SetPowerLevels(ctx, roomID, levels)
}

// inviteRequester invites the command sender to the side of the bridge they
// are not on yet, and resolves which Matrix room the completion announcement
// should go to. For Slack-origin commands that means looking up which Matrix
// room bridges the channel the command was issued in; an empty room ID means
// the origin could not be resolved and the announcement is skipped.
func (p *Provisioner) inviteRequester(ctx context.Context, log zerolog.Logger, cmd *Command, roomID id.RoomID, channelID string) id.RoomID {
	switch cmd.Origin {
	case OriginMatrix:
		if err := p.matrix.Invite(ctx, roomID, id.UserID(cmd.Sender)); err != nil {
			log.Warn().Err(err).Str("user_id", cmd.Sender).Msg("Failed to invite requester")
		}
		return id.RoomID(cmd.Room)
	case OriginSlack:
		if err := p.slack.InviteUser(ctx, channelID, cmd.Sender); err != nil {
			log.Warn().Err(err).Str("user_id", cmd.Sender).Msg("Failed to invite requester to slack channel")
		}
		commandRoom, err := p.slack.MatrixRoomForChannelName(ctx, cmd.Room)
		if err != nil {
			log.Warn().Err(err).Str("channel_name", cmd.Room).Msg("Failed to resolve origin matrix room")
			return ""
		}
		return commandRoom
	default:
		return ""
	}
}

// announce posts a link pill for the new room into the given room.
func (p *Provisioner) announce(ctx context.Context, log zerolog.Logger, target id.RoomID, handle string) {
	if target == "" {
		return
	}
	pill := fmt.Sprintf(`<a href="https://matrix.to/#/%s">%s</a>`, handle, handle)
	body := fmt.Sprintf("Created a new room: %s", handle)
	if err := p.matrix.SendHTML(ctx, target, body, fmt.Sprintf("Created a new room: %s", pill)); err != nil {
		log.Warn().Err(err).Str("target", target.String()).Msg("Failed to announce new room")
	}
}
