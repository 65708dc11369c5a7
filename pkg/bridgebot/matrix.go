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
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// StateBridgeRoomInfo is the custom state event the bot attaches to rooms it
// manages. It currently only carries the archival marker.
var StateBridgeRoomInfo = event.Type{Type: "com.aiku.bridge.room_info", Class: event.StateEventType}

// RoomInfoContent is the content of a StateBridgeRoomInfo event. IsArchived
// is a string rather than a bool to stay compatible with older markers.
type RoomInfoContent struct {
	IsArchived string `json:"is_archived,omitempty"`
}

// MatrixRooms wraps the homeserver operations the workflows need. It is a
// stateless request wrapper; all room state lives on the homeserver.
type MatrixRooms struct {
	client *mautrix.Client
	log    zerolog.Logger
}

func NewMatrixRooms(client *mautrix.Client, log zerolog.Logger) *MatrixRooms {
	return &MatrixRooms{
		client: client,
		log:    log.With().Str("component", "matrix_rooms").Logger(),
	}
}

// UserID returns the bot's own Matrix user ID.
func (m *MatrixRooms) UserID() id.UserID {
	return m.client.UserID
}

// ResolveRoomID resolves a room alias to a canonical room ID. Inputs that
// already carry the room ID sigil are returned unchanged without a network
// call. A missing alias returns ErrNotFound; any other failure is a
// RemoteAPIError.
func (m *MatrixRooms) ResolveRoomID(ctx context.Context, aliasOrID string) (id.RoomID, error) {
	if strings.HasPrefix(aliasOrID, "!") {
		return id.RoomID(aliasOrID), nil
	}
	resp, err := m.client.ResolveAlias(ctx, id.RoomAlias(aliasOrID))
	if err != nil {
		if errors.Is(err, mautrix.MNotFound) {
			return "", fmt.Errorf("%w: alias %s", ErrNotFound, aliasOrID)
		}
		return "", wrapMatrixError(err)
	}
	return resp.RoomID, nil
}

// IsMember reports whether the bot user is joined to the given room.
func (m *MatrixRooms) IsMember(ctx context.Context, roomID id.RoomID) (bool, error) {
	resp, err := m.client.JoinedRooms(ctx)
	if err != nil {
		return false, wrapMatrixError(err)
	}
	for _, joined := range resp.JoinedRooms {
		if joined == roomID {
			return true, nil
		}
	}
	return false, nil
}

// CreateRoom creates a new, empty, private room and returns its ID. Naming,
// visibility and permissions are applied by the provisioning workflow in
// separate steps.
func (m *MatrixRooms) CreateRoom(ctx context.Context) (id.RoomID, error) {
	resp, err := m.client.CreateRoom(ctx, &mautrix.ReqCreateRoom{
		Visibility: "private",
		Preset:     "private_chat",
	})
	if err != nil {
		return "", wrapMatrixError(err)
	}
	m.log.Info().Str("room_id", resp.RoomID.String()).Msg("Created Matrix room")
	return resp.RoomID, nil
}

func (m *MatrixRooms) SetJoinRule(ctx context.Context, roomID id.RoomID, rule event.JoinRule) error {
	_, err := m.client.SendStateEvent(ctx, roomID, event.StateJoinRules, "", &event.JoinRulesEventContent{
		JoinRule: rule,
	})
	return wrapMatrixError(err)
}

func (m *MatrixRooms) SetHistoryVisibility(ctx context.Context, roomID id.RoomID, visibility event.HistoryVisibility) error {
	_, err := m.client.SendStateEvent(ctx, roomID, event.StateHistoryVisibility, "", &event.HistoryVisibilityEventContent{
		HistoryVisibility: visibility,
	})
	return wrapMatrixError(err)
}

func (m *MatrixRooms) SetName(ctx context.Context, roomID id.RoomID, name string) error {
	_, err := m.client.SendStateEvent(ctx, roomID, event.StateRoomName, "", &event.RoomNameEventContent{
		Name: name,
	})
	return wrapMatrixError(err)
}

// GetName returns the room's current name, or ErrNotFound if it has none.
func (m *MatrixRooms) GetName(ctx context.Context, roomID id.RoomID) (string, error) {
	var content event.RoomNameEventContent
	err := m.client.StateEvent(ctx, roomID, event.StateRoomName, "", &content)
	if err != nil {
		if errors.Is(err, mautrix.MNotFound) {
			return "", ErrNotFound
		}
		return "", wrapMatrixError(err)
	}
	return content.Name, nil
}

func (m *MatrixRooms) SetTopic(ctx context.Context, roomID id.RoomID, topic string) error {
	_, err := m.client.SendStateEvent(ctx, roomID, event.StateTopic, "", &event.TopicEventContent{
		Topic: topic,
	})
	return wrapMatrixError(err)
}

func (m *MatrixRooms) SetAvatar(ctx context.Context, roomID id.RoomID, avatarURL string) error {
	_, err := m.client.SendStateEvent(ctx, roomID, event.StateRoomAvatar, "", &event.RoomAvatarEventContent{
		URL: id.ContentURIString(avatarURL),
	})
	return wrapMatrixError(err)
}

// AddAlias publishes a new alias for the room in the homeserver directory.
func (m *MatrixRooms) AddAlias(ctx context.Context, roomID id.RoomID, alias id.RoomAlias) error {
	_, err := m.client.CreateAlias(ctx, alias, roomID)
	return wrapMatrixError(err)
}

func (m *MatrixRooms) Invite(ctx context.Context, roomID id.RoomID, userID id.UserID) error {
	_, err := m.client.InviteUser(ctx, roomID, &mautrix.ReqInviteUser{UserID: userID})
	return wrapMatrixError(err)
}

// GetPowerLevels fetches the room's current power level state. The result is
// always read fresh; other agents may modify power levels between calls.
func (m *MatrixRooms) GetPowerLevels(ctx context.Context, roomID id.RoomID) (*event.PowerLevelsEventContent, error) {
	var content event.PowerLevelsEventContent
	err := m.client.StateEvent(ctx, roomID, event.StatePowerLevels, "", &content)
	if err != nil {
		return nil, wrapMatrixError(err)
	}
	return &content, nil
}

func (m *MatrixRooms) SetPowerLevels(ctx context.Context, roomID id.RoomID, levels *event.PowerLevelsEventContent) error {
	_, err := m.client.SendStateEvent(ctx, roomID, event.StatePowerLevels, "", levels)
	return wrapMatrixError(err)
}

// SetUserRole grants the given user the given power level via a
// read-modify-write of the room's power level state. The read and write are
// separate requests; a concurrent external change can be lost.
func (m *MatrixRooms) SetUserRole(ctx context.Context, roomID id.RoomID, userID id.UserID, level int) error {
	levels, err := m.GetPowerLevels(ctx, roomID)
	if err != nil {
		return err
	}
	levels.SetUserLevel(userID, level)
	return m.SetPowerLevels(ctx, roomID, levels)
}

// GetStateEvent fetches a custom state event's content into out. A missing
// event returns ErrNotFound.
func (m *MatrixRooms) GetStateEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, out any) error {
	err := m.client.StateEvent(ctx, roomID, eventType, "", out)
	if err != nil {
		if errors.Is(err, mautrix.MNotFound) {
			return ErrNotFound
		}
		return wrapMatrixError(err)
	}
	return nil
}

func (m *MatrixRooms) SetStateEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, content any) error {
	_, err := m.client.SendStateEvent(ctx, roomID, eventType, "", content)
	return wrapMatrixError(err)
}

// SendNotice posts a plain-text notice to the room.
func (m *MatrixRooms) SendNotice(ctx context.Context, roomID id.RoomID, text string) error {
	_, err := m.client.SendMessageEvent(ctx, roomID, event.EventMessage, &event.MessageEventContent{
		MsgType: event.MsgNotice,
		Body:    text,
	})
	return wrapMatrixError(err)
}

// SendHTML posts a notice with an HTML formatted body to the room.
func (m *MatrixRooms) SendHTML(ctx context.Context, roomID id.RoomID, body, htmlBody string) error {
	_, err := m.client.SendMessageEvent(ctx, roomID, event.EventMessage, &event.MessageEventContent{
		MsgType:       event.MsgNotice,
		Body:          body,
		Format:        event.FormatHTML,
		FormattedBody: htmlBody,
	})
	return wrapMatrixError(err)
}
