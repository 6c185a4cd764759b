// Package push maintains the long-lived notification channel to the
// backend: a single persistent websocket, authenticated at handshake time
// by a bearer credential in the connection URL. Inbound events are
// unordered across reconnects and delivered at least once; the channel
// survives abnormal closes with bounded, delayed reconnect attempts.
package push

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventTypeFileUpdate is the only event type the backend currently emits.
const EventTypeFileUpdate = "FILE_UPDATE"

// Event is a processing-completion notification. Tags map species name to
// sighting count.
type Event struct {
	Type         string         `json:"type"`
	FileID       string         `json:"file_id"`
	FileType     string         `json:"file_type"`
	ThumbnailURL string         `json:"thumbnail_url,omitempty"`
	Tags         map[string]int `json:"tags,omitempty"`
	UploadedAt   string         `json:"upload_timestamp"`
}

// ParseError reports a malformed inbound payload. Logged and dropped by the
// channel — it never terminates the connection.
type ParseError struct {
	Payload []byte
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("push: malformed payload: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// parseEvent decodes an inbound payload into an Event.
func parseEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, &ParseError{Payload: data, Err: err}
	}

	if ev.Type == "" || ev.FileID == "" {
		return Event{}, &ParseError{Payload: data, Err: errors.New("missing type or file_id")}
	}

	return ev, nil
}

// ChannelError reports a handshake or authorization failure at the push
// layer. Surfaced as connection-status events, never thrown synchronously
// to unrelated callers.
type ChannelError struct {
	Code int // HTTP status for handshake failures, close code otherwise
	Err  error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("push: channel error (code %d): %v", e.Code, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// ErrAuthRejected indicates the server rejected the credential at handshake
// time. Terminal: the reconnect policy does not apply because retrying with
// the same credential cannot succeed.
var ErrAuthRejected = errors.New("push: credential rejected at handshake")
