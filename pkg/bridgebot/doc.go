// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package bridgebot provisions linked Matrix room / Slack channel pairs.
//
// The bot listens for commands on both platforms, creates both sides of a
// new conversation space, configures permissions and visibility, invites
// members, and can later archive the Matrix side. It does not relay
// messages between the pair; that is the job of a separate bridge.
//
// # Core Types
//
// [Provisioner] is the room-creation orchestrator. It drives the adapters
// through a fixed step sequence, persists the link, and announces the
// result. All creations serialize through a single [CreationGuard]: the
// duplicate-trigger problem it guards against is the same command arriving
// via both platforms of an already-bridged room.
//
// [MatrixRooms] and [SlackChannels] are stateless request wrappers around
// the two platform APIs.
//
// [RoomLinkRegistry] owns the persistent Matrix room <-> Slack channel
// mapping. Links are written before any invites go out and are never
// silently overwritten.
//
// [Archiver] marks rooms archived, idempotently via a custom state event.
//
// # Failure Semantics
//
// Matrix room creation and Slack channel creation are mandatory steps; all
// configuration after the link is best-effort, logged and continued, so the
// room pair stays usable even when a sub-step fails. There is no rollback:
// a Matrix room whose Slack counterpart failed to appear is left behind
// unlinked and reported as a partial failure.
package bridgebot
