// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bridgebot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"go.mau.fi/util/dbutil"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/format"
	"maunium.net/go/mautrix/id"
)

// Bot ties the two inbound transports to the command layer and the
// workflows. Each inbound message is handled in its own goroutine; room
// creation still serializes through the provisioner's guard.
type Bot struct {
	cfg *Config
	log zerolog.Logger

	client   *mautrix.Client
	slackAPI *slack.Client

	matrix      *MatrixRooms
	slack       *SlackChannels
	registry    *RoomLinkRegistry
	provisioner *Provisioner
	archiver    *Archiver
}

// NewBot builds a fully wired bot from config and an opened database handle.
func NewBot(ctx context.Context, cfg *Config, db *dbutil.Database, log zerolog.Logger) (*Bot, error) {
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create matrix client: %w", err)
	}
	client.Log = log.With().Str("component", "matrix_client").Logger()

	registry, err := NewRoomLinkRegistry(ctx, db)
	if err != nil {
		return nil, err
	}

	slackAPI := slack.New(cfg.Slack.BotToken, slack.OptionAppLevelToken(cfg.Slack.AppToken))
	matrixRooms := NewMatrixRooms(client, log)
	slackChannels := NewSlackChannels(slackAPI, registry, cfg.Slack.TeamID, log)

	return &Bot{
		cfg:         cfg,
		log:         log.With().Str("component", "bot").Logger(),
		client:      client,
		slackAPI:    slackAPI,
		matrix:      matrixRooms,
		slack:       slackChannels,
		registry:    registry,
		provisioner: NewProvisioner(&cfg.Rooms, matrixRooms, slackChannels, registry, log),
		archiver:    NewArchiver(matrixRooms, log),
	}, nil
}

// Run starts both event loops and blocks until the context is cancelled or
// one of the loops fails.
func (b *Bot) Run(ctx context.Context) error {
	errCh := make(chan error, 2)
	go func() {
		errCh <- b.runMatrix(ctx)
	}()
	go func() {
		errCh <- b.runSlack(ctx)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (b *Bot) runMatrix(ctx context.Context) error {
	syncer := b.client.Syncer.(*mautrix.DefaultSyncer)
	syncer.OnSync(b.client.DontProcessOldEvents)
	syncer.OnEventType(event.EventMessage, func(ctx context.Context, evt *event.Event) {
		go b.handleMatrixMessage(ctx, evt)
	})
	b.log.Info().Str("user_id", b.client.UserID.String()).Msg("Starting Matrix sync")
	return b.client.SyncWithContext(ctx)
}

func (b *Bot) runSlack(ctx context.Context) error {
	socket := socketmode.New(b.slackAPI)
	go b.consumeSlackEvents(ctx, socket)
	b.log.Info().Msg("Starting Slack socket mode")
	return socket.RunContext(ctx)
}

func (b *Bot) consumeSlackEvents(ctx context.Context, socket *socketmode.Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-socket.Events:
			if !ok {
				return
			}
			if evt.Type != socketmode.EventTypeEventsAPI {
				continue
			}
			apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
			if !ok {
				continue
			}
			if evt.Request != nil {
				socket.Ack(*evt.Request)
			}
			if apiEvent.Type != slackevents.CallbackEvent {
				continue
			}
			if msg, ok := apiEvent.InnerEvent.Data.(*slackevents.MessageEvent); ok {
				go b.handleSlackMessage(ctx, msg)
			}
		}
	}
}

// handleMatrixMessage filters echoes and dispatches command messages coming
// from Matrix.
func (b *Bot) handleMatrixMessage(ctx context.Context, evt *event.Event) {
	if evt.Sender == b.client.UserID {
		return
	}
	if b.cfg.IgnoreUserPrefix != "" && strings.HasPrefix(evt.Sender.String(), b.cfg.IgnoreUserPrefix) {
		return
	}
	body := evt.Content.AsMessage().Body
	cmd, ok := ParseCommand(body, OriginMatrix, evt.Sender.String(), evt.RoomID.String())
	if !ok {
		return
	}
	b.dispatch(ctx, cmd)
}

// handleSlackMessage filters bot echoes and dispatches command messages
// coming from Slack. The origin room is carried as the channel name so the
// provisioner can resolve the bridged Matrix room through the registry.
func (b *Bot) handleSlackMessage(ctx context.Context, msg *slackevents.MessageEvent) {
	if msg.BotID != "" || msg.SubType != "" {
		return
	}
	channelName, err := b.slack.ChannelName(ctx, msg.Channel)
	if err != nil {
		b.log.Warn().Err(err).Str("channel_id", msg.Channel).Msg("Failed to resolve channel name")
		return
	}
	cmd, ok := ParseCommand(msg.Text, OriginSlack, msg.User, channelName)
	if !ok {
		return
	}
	b.dispatch(ctx, cmd)
}

func (b *Bot) dispatch(ctx context.Context, cmd *Command) {
	log := b.log.With().
		Str("origin", cmd.Origin.String()).
		Str("sender", cmd.Sender).
		Logger()

	switch cmd.Kind {
	case KindHelp:
		b.sendHelp(ctx, cmd)
	case KindCreateRoom:
		b.handleCreateRoom(ctx, log, cmd)
	case KindArchiveRoom:
		b.handleArchiveRoom(ctx, log, cmd)
	case KindInviteAll:
		b.handleInviteAll(ctx, log, cmd)
	case KindAutoinvite:
		b.handleAutoinvite(ctx, log, cmd)
	}
}

func (b *Bot) handleCreateRoom(ctx context.Context, log zerolog.Logger, cmd *Command) {
	spec := RoomSpec{
		Name:     cmd.Name,
		Topic:    cmd.Topic,
		IsPublic: b.cfg.Rooms.MakePublic,
	}
	_, err := b.provisioner.Provision(ctx, spec, cmd)
	var partial *PartialProvisionError
	switch {
	case errors.As(err, &partial):
		log.Error().Err(err).Msg("Partial provisioning failure")
		b.respond(ctx, cmd, fmt.Sprintf("Failed to create the Slack channel; the Matrix room %s exists but is not linked.", partial.MatrixRoomID))
	case err != nil:
		log.Error().Err(err).Msg("Provisioning failed")
		b.respond(ctx, cmd, "Failed to create the room, sorry.")
	}
}

func (b *Bot) handleArchiveRoom(ctx context.Context, log zerolog.Logger, cmd *Command) {
	roomID, err := b.matrix.ResolveRoomID(ctx, cmd.Target)
	if errors.Is(err, ErrNotFound) {
		b.respond(ctx, cmd, fmt.Sprintf("Room %s does not exist.", cmd.Target))
		return
	} else if err != nil {
		log.Error().Err(err).Str("target", cmd.Target).Msg("Failed to resolve room")
		b.respond(ctx, cmd, "Failed to resolve the room, sorry.")
		return
	}
	archived, err := b.archiver.Archive(ctx, roomID)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID.String()).Msg("Archival failed")
		b.respond(ctx, cmd, "Failed to archive the room, sorry.")
		return
	}
	if !archived {
		b.respond(ctx, cmd, "That room is already archived.")
		return
	}
	b.respond(ctx, cmd, fmt.Sprintf("Archived %s.", cmd.Target))
}

// handleInviteAll invites the sender to every bridged Matrix room. Matrix
// senders only; a Slack user ID cannot be invited to Matrix rooms.
func (b *Bot) handleInviteAll(ctx context.Context, log zerolog.Logger, cmd *Command) {
	if cmd.Origin != OriginMatrix {
		return
	}
	links, err := b.registry.Links(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list room links")
		return
	}
	for _, link := range links {
		if err = b.matrix.Invite(ctx, link.MatrixRoomID, id.UserID(cmd.Sender)); err != nil {
			log.Warn().Err(err).Str("room_id", link.MatrixRoomID.String()).Msg("Failed to invite user")
		}
	}
}

func (b *Bot) handleAutoinvite(ctx context.Context, log zerolog.Logger, cmd *Command) {
	if cmd.Origin != OriginMatrix {
		return
	}
	changed, err := b.registry.SetAutoinvite(ctx, id.UserID(cmd.Sender), !cmd.Disable)
	if err != nil {
		log.Error().Err(err).Msg("Failed to update autoinvite")
		return
	}
	switch {
	case cmd.Disable && !changed:
		b.respond(ctx, cmd, "You do not have autoinvite enabled.")
	case cmd.Disable:
		b.respond(ctx, cmd, "Autoinvite disabled.")
	case !changed:
		b.respond(ctx, cmd, "You already have autoinvite enabled.")
	default:
		b.respond(ctx, cmd, "You will be invited to all future rooms. Use !inviteall to get invites to existing rooms.")
	}
}

// sendHelp sends the help text, rendered to HTML for Matrix.
func (b *Bot) sendHelp(ctx context.Context, cmd *Command) {
	switch cmd.Origin {
	case OriginMatrix:
		content := format.RenderMarkdown(HelpText, true, false)
		if err := b.matrix.SendHTML(ctx, id.RoomID(cmd.Room), content.Body, content.FormattedBody); err != nil {
			b.log.Warn().Err(err).Msg("Failed to send help")
		}
	case OriginSlack:
		if err := b.slack.PostMessage(ctx, cmd.Room, HelpText); err != nil {
			b.log.Warn().Err(err).Msg("Failed to send help")
		}
	}
}

// respond sends a plain text reply to the command's origin room.
func (b *Bot) respond(ctx context.Context, cmd *Command, text string) {
	var err error
	switch cmd.Origin {
	case OriginMatrix:
		err = b.matrix.SendNotice(ctx, id.RoomID(cmd.Room), text)
	case OriginSlack:
		err = b.slack.PostMessage(ctx, cmd.Room, text)
	}
	if err != nil {
		b.log.Warn().Err(err).Str("origin", cmd.Origin.String()).Msg("Failed to respond")
	}
}
