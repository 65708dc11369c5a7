// Copyright 2024-2026 Aiku AI

package bridgebot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.mau.fi/util/dbutil"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/matrix-slack-bridge/pkg/bridgebot/upgrades"
)

// RoomLink is the persisted association between a Matrix room and the Slack
// channel it bridges to.
type RoomLink struct {
	MatrixRoomID   id.RoomID
	SlackChannelID string
}

// RoomLinkRegistry owns the canonical Matrix room <-> Slack channel mapping.
// Each side maps to at most one counterpart, enforced by the schema; lookup
// is O(1) from either side. It also stores the autoinvite user list.
type RoomLinkRegistry struct {
	db *dbutil.Database
}

// NewRoomLinkRegistry wraps the given database and runs schema upgrades.
func NewRoomLinkRegistry(ctx context.Context, db *dbutil.Database) (*RoomLinkRegistry, error) {
	db.UpgradeTable = upgrades.Table
	if err := db.Upgrade(ctx); err != nil {
		return nil, fmt.Errorf("failed to upgrade database: %w", err)
	}
	return &RoomLinkRegistry{db: db}, nil
}

const (
	insertLinkQuery = `
		INSERT INTO room_link (matrix_room_id, slack_channel_id) VALUES ($1, $2)
	`
	getSlackChannelQuery = `
		SELECT slack_channel_id FROM room_link WHERE matrix_room_id=$1
	`
	getMatrixRoomQuery = `
		SELECT matrix_room_id FROM room_link WHERE slack_channel_id=$1
	`
	getAllLinksQuery = `
		SELECT matrix_room_id, slack_channel_id FROM room_link
	`
)

// Link persists a new bidirectional link. Linking either side twice is an
// error; existing links are never overwritten.
func (r *RoomLinkRegistry) Link(ctx context.Context, roomID id.RoomID, channelID string) error {
	if _, err := r.SlackChannelFor(ctx, roomID); err == nil {
		return fmt.Errorf("%w: matrix room %s", ErrAlreadyLinked, roomID)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	if _, err := r.MatrixRoomFor(ctx, channelID); err == nil {
		return fmt.Errorf("%w: slack channel %s", ErrAlreadyLinked, channelID)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	_, err := r.db.Exec(ctx, insertLinkQuery, roomID.String(), channelID)
	if err != nil {
		return fmt.Errorf("failed to insert room link: %w", err)
	}
	return nil
}

// SlackChannelFor returns the Slack channel linked to the given Matrix room,
// or ErrNotFound if the room is not linked.
func (r *RoomLinkRegistry) SlackChannelFor(ctx context.Context, roomID id.RoomID) (string, error) {
	var channelID string
	err := r.db.QueryRow(ctx, getSlackChannelQuery, roomID.String()).Scan(&channelID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: no link for matrix room %s", ErrNotFound, roomID)
	} else if err != nil {
		return "", fmt.Errorf("failed to query room link: %w", err)
	}
	return channelID, nil
}

// MatrixRoomFor returns the Matrix room linked to the given Slack channel,
// or ErrNotFound if the channel is not linked.
func (r *RoomLinkRegistry) MatrixRoomFor(ctx context.Context, channelID string) (id.RoomID, error) {
	var roomID string
	err := r.db.QueryRow(ctx, getMatrixRoomQuery, channelID).Scan(&roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: no link for slack channel %s", ErrNotFound, channelID)
	} else if err != nil {
		return "", fmt.Errorf("failed to query room link: %w", err)
	}
	return id.RoomID(roomID), nil
}

// Links returns all persisted room links.
func (r *RoomLinkRegistry) Links(ctx context.Context) ([]RoomLink, error) {
	rows, err := r.db.Query(ctx, getAllLinksQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query room links: %w", err)
	}
	defer rows.Close()
	var links []RoomLink
	for rows.Next() {
		var link RoomLink
		var roomID string
		if err = rows.Scan(&roomID, &link.SlackChannelID); err != nil {
			return nil, fmt.Errorf("failed to scan room link: %w", err)
		}
		link.MatrixRoomID = id.RoomID(roomID)
		links = append(links, link)
	}
	return links, rows.Err()
}

const (
	insertAutoinviteQuery = `
		INSERT INTO autoinvite_user (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING
	`
	deleteAutoinviteQuery = `
		DELETE FROM autoinvite_user WHERE user_id=$1
	`
	getAutoinviteQuery = `
		SELECT user_id FROM autoinvite_user
	`
)

// SetAutoinvite enables or disables autoinvite for a user. The returned bool
// reports whether the stored state actually changed.
func (r *RoomLinkRegistry) SetAutoinvite(ctx context.Context, userID id.UserID, enabled bool) (bool, error) {
	query := deleteAutoinviteQuery
	if enabled {
		query = insertAutoinviteQuery
	}
	result, err := r.db.Exec(ctx, query, userID.String())
	if err != nil {
		return false, fmt.Errorf("failed to update autoinvite: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// AutoinviteUsers returns all users who opted into invites for new rooms.
func (r *RoomLinkRegistry) AutoinviteUsers(ctx context.Context) ([]id.UserID, error) {
	rows, err := r.db.Query(ctx, getAutoinviteQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query autoinvite users: %w", err)
	}
	defer rows.Close()
	var users []id.UserID
	for rows.Next() {
		var userID string
		if err = rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("failed to scan autoinvite user: %w", err)
		}
		users = append(users, id.UserID(userID))
	}
	return users, rows.Err()
}
