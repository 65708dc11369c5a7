// Copyright 2024-2026 Aiku AI

package bridgebot

import (
	"errors"
	"fmt"

	"github.com/slack-go/slack"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"
)

// ErrNotFound is returned when a room, channel or alias does not resolve.
// This is a normal outcome for lookups, not a remote failure.
var ErrNotFound = errors.New("not found")

// ErrAlreadyLinked is returned when trying to link a Matrix room or Slack
// channel that already has a link. Links are never silently overwritten.
var ErrAlreadyLinked = errors.New("room is already linked")

// RemoteAPIError wraps a failed call against one of the two remote platforms.
type RemoteAPIError struct {
	Platform string // "matrix" or "slack"
	Code     int    // HTTP status code, 0 if unknown
	Message  string
	Err      error
}

func (e *RemoteAPIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s API error %d: %s", e.Platform, e.Code, e.Message)
	}
	return fmt.Sprintf("%s API error: %s", e.Platform, e.Message)
}

func (e *RemoteAPIError) Unwrap() error {
	return e.Err
}

// wrapMatrixError converts a mautrix client error into a RemoteAPIError,
// preserving the HTTP status code when one is available.
func wrapMatrixError(err error) error {
	if err == nil {
		return nil
	}
	var httpErr mautrix.HTTPError
	if errors.As(err, &httpErr) {
		code := 0
		if httpErr.Response != nil {
			code = httpErr.Response.StatusCode
		}
		msg := httpErr.Message
		if httpErr.RespError != nil {
			msg = httpErr.RespError.Err
		}
		return &RemoteAPIError{Platform: "matrix", Code: code, Message: msg, Err: err}
	}
	return &RemoteAPIError{Platform: "matrix", Message: err.Error(), Err: err}
}

// wrapSlackError converts a slack-go client error into a RemoteAPIError.
func wrapSlackError(err error) error {
	if err == nil {
		return nil
	}
	var scErr slack.StatusCodeError
	if errors.As(err, &scErr) {
		return &RemoteAPIError{Platform: "slack", Code: scErr.Code, Message: scErr.Status, Err: err}
	}
	return &RemoteAPIError{Platform: "slack", Message: err.Error(), Err: err}
}

// PartialProvisionError reports a provisioning run that created the Matrix
// room but failed before the Slack channel existed. The Matrix room is left
// in place unlinked; no rollback is attempted.
type PartialProvisionError struct {
	MatrixRoomID id.RoomID
	Err          error
}

func (e *PartialProvisionError) Error() string {
	return fmt.Sprintf("slack channel creation failed, matrix room %s exists unlinked: %v", e.MatrixRoomID, e.Err)
}

func (e *PartialProvisionError) Unwrap() error {
	return e.Err
}
