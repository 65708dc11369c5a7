// Copyright 2024-2026 Aiku AI

package bridgebot

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/id"
)

// ArchivedPrefix is prepended to a room's name when it is archived.
const ArchivedPrefix = "[Archived] "

// archiveLockLevel is the events_default power level that stops regular
// members from chatting.
const archiveLockLevel = 50

// Archiver marks Matrix rooms as archived: it locks chat by raising the
// default event power level, prefixes the room name, and writes an archival
// marker state event so repeated archival is a no-op.
//
// Two concurrent archivals of the same room can race past the marker check
// and double-prefix the name. Archival is rare and operator-triggered, so
// that race is documented rather than locked against.
type Archiver struct {
	matrix *MatrixRooms
	log    zerolog.Logger
}

func NewArchiver(matrix *MatrixRooms, log zerolog.Logger) *Archiver {
	return &Archiver{
		matrix: matrix,
		log:    log.With().Str("component", "archiver").Logger(),
	}
}

// Archive archives the given room. It returns false without touching the
// room if the archival marker is already set.
func (a *Archiver) Archive(ctx context.Context, roomID id.RoomID) (bool, error) {
	var info RoomInfoContent
	err := a.matrix.GetStateEvent(ctx, roomID, StateBridgeRoomInfo, &info)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return false, fmt.Errorf("failed to read archive marker: %w", err)
	}
	if info.IsArchived == "true" {
		a.log.Debug().Str("room_id", roomID.String()).Msg("Room already archived")
		return false, nil
	}

	levels, err := a.matrix.GetPowerLevels(ctx, roomID)
	if err != nil {
		return false, fmt.Errorf("failed to get power levels: %w", err)
	}
	levels.EventsDefault = archiveLockLevel
	if err = a.matrix.SetPowerLevels(ctx, roomID, levels); err != nil {
		return false, fmt.Errorf("failed to lock room: %w", err)
	}

	name, err := a.matrix.GetName(ctx, roomID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return false, fmt.Errorf("failed to get room name: %w", err)
	}
	if err = a.matrix.SetName(ctx, roomID, ArchivedPrefix+name); err != nil {
		return false, fmt.Errorf("failed to rename room: %w", err)
	}

	if err = a.matrix.SetStateEvent(ctx, roomID, StateBridgeRoomInfo, &RoomInfoContent{IsArchived: "true"}); err != nil {
		return false, fmt.Errorf("failed to set archive marker: %w", err)
	}

	a.log.Info().Str("room_id", roomID.String()).Msg("Room archived")
	return true, nil
}
