// Copyright 2024-2026 Aiku AI

package bridgebot

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
	"maunium.net/go/mautrix/id"
)

// SlackChannels wraps the Slack API operations the workflows need. Like
// MatrixRooms it is a stateless request wrapper.
type SlackChannels struct {
	client   *slack.Client
	registry *RoomLinkRegistry
	teamID   string
	log      zerolog.Logger
}

func NewSlackChannels(client *slack.Client, registry *RoomLinkRegistry, teamID string, log zerolog.Logger) *SlackChannels {
	return &SlackChannels{
		client:   client,
		registry: registry,
		teamID:   teamID,
		log:      log.With().Str("component", "slack_channels").Logger(),
	}
}

// CreateChannel creates a public Slack channel with the given name and
// returns its channel ID.
func (s *SlackChannels) CreateChannel(ctx context.Context, name string) (string, error) {
	channel, err := s.client.CreateConversationContext(ctx, slack.CreateConversationParams{
		ChannelName: name,
		TeamID:      s.teamID,
	})
	if err != nil {
		return "", wrapSlackError(err)
	}
	s.log.Info().Str("channel_id", channel.ID).Str("channel_name", name).Msg("Created Slack channel")
	return channel.ID, nil
}

// SetDescription sets the channel purpose, which Slack shows as the channel
// description.
func (s *SlackChannels) SetDescription(ctx context.Context, channelID, text string) error {
	_, err := s.client.SetPurposeOfConversationContext(ctx, channelID, text)
	return wrapSlackError(err)
}

func (s *SlackChannels) SetTopic(ctx context.Context, channelID, text string) error {
	_, err := s.client.SetTopicOfConversationContext(ctx, channelID, text)
	return wrapSlackError(err)
}

func (s *SlackChannels) InviteUser(ctx context.Context, channelID, userID string) error {
	_, err := s.client.InviteUsersToConversationContext(ctx, channelID, userID)
	return wrapSlackError(err)
}

// ChannelName looks up the display name of a channel by its ID.
func (s *SlackChannels) ChannelName(ctx context.Context, channelID string) (string, error) {
	channel, err := s.client.GetConversationInfoContext(ctx, &slack.GetConversationInfoInput{
		ChannelID: channelID,
	})
	if err != nil {
		return "", wrapSlackError(err)
	}
	return channel.Name, nil
}

// LookupChannelID resolves a channel name to its ID by paging through the
// conversations list. An unknown name returns ErrNotFound.
func (s *SlackChannels) LookupChannelID(ctx context.Context, name string) (string, error) {
	params := &slack.GetConversationsParameters{
		ExcludeArchived: true,
		Limit:           200,
		TeamID:          s.teamID,
	}
	for {
		channels, nextCursor, err := s.client.GetConversationsContext(ctx, params)
		if err != nil {
			return "", wrapSlackError(err)
		}
		for _, channel := range channels {
			if channel.Name == name {
				return channel.ID, nil
			}
		}
		if nextCursor == "" {
			return "", fmt.Errorf("%w: slack channel %q", ErrNotFound, name)
		}
		params.Cursor = nextCursor
	}
}

// MatrixRoomForChannelName resolves the Matrix room bridged to the named
// Slack channel: name to channel ID via the Slack API, then channel ID to
// room ID via the link registry.
func (s *SlackChannels) MatrixRoomForChannelName(ctx context.Context, name string) (id.RoomID, error) {
	channelID, err := s.LookupChannelID(ctx, name)
	if err != nil {
		return "", err
	}
	return s.registry.MatrixRoomFor(ctx, channelID)
}

// PostMessage sends a plain text message to the channel.
func (s *SlackChannels) PostMessage(ctx context.Context, channelID, text string) error {
	_, _, err := s.client.PostMessageContext(ctx, channelID, slack.MsgOptionText(text, false))
	return wrapSlackError(err)
}
