package websocket

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
)

type socketMessageType int

const (
	Update socketMessageType = iota
	Command
	Response
	ErrorResponse
	Welcome
)

// SocketMessage is one frame on the activity socket. Id lets a client
// correlate a reply with the command it sent; Origin/Target carry the
// client identity server-side and are never serialized.
type SocketMessage struct {
	Title  string                 `json:"title"`
	Body   map[string]interface{} `json:"arguments"`
	Id     int                    `json:"id"`
	Type   socketMessageType      `json:"type"`
	Origin *uuid.UUID             `json:"-"`
	Target *uuid.UUID             `json:"-"`
}

// DecodeArgumentsInto weakly decodes the message body into the provided
// struct pointer. Weak decoding is deliberate: JSON numbers arrive as
// float64 and clients are sloppy about int vs string.
func (message *SocketMessage) DecodeArgumentsInto(out interface{}) error {
	if err := mapstructure.WeakDecode(message.Body, out); err != nil {
		return fmt.Errorf("failed to decode command arguments: %w", err)
	}

	return nil
}

// FormReply returns a new message addressed back at this message's
// origin, carrying the same correlation id.
func (message *SocketMessage) FormReply(replyTitle string, replyBody map[string]interface{}, replyType socketMessageType) *SocketMessage {
	if replyBody != nil {
		replyBody["command"] = message.Body
	}

	return &SocketMessage{
		Title:  replyTitle,
		Body:   replyBody,
		Type:   replyType,
		Id:     message.Id,
		Target: message.Origin,
	}
}
