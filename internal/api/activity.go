package api

import (
	"github.com/Johnmclane5/TgSearchBot/internal/event"
	"github.com/Johnmclane5/TgSearchBot/internal/http/websocket"
)

const (
	TitleIngestUpdate   = "INGEST_UPDATE"
	TitleIngestComplete = "INGEST_COMPLETE"
	TitleIngestFailed   = "INGEST_FAILED"
)

type (
	IngestActivity struct {
		ChannelID int64  `json:"channel_id"`
		MessageID int64  `json:"message_id"`
		FileName  string `json:"file_name"`
	}

	// broadcaster relays ingest activity from the event bus onto every
	// connected activity socket client.
	broadcaster struct {
		socketHub *websocket.SocketHub
	}
)

func newBroadcaster(socketHub *websocket.SocketHub) *broadcaster {
	return &broadcaster{socketHub: socketHub}
}

func (hub *broadcaster) BroadcastIngestUpdate(payload event.IngestPayload) {
	hub.broadcast(TitleIngestUpdate, activityFromPayload(payload))
}

func (hub *broadcaster) BroadcastIngestComplete(payload event.IngestPayload) {
	hub.broadcast(TitleIngestComplete, activityFromPayload(payload))
}

func (hub *broadcaster) BroadcastIngestFailed(payload event.IngestPayload) {
	hub.broadcast(TitleIngestFailed, activityFromPayload(payload))
}

func (hub *broadcaster) broadcast(title string, update any) {
	hub.socketHub.Send(&websocket.SocketMessage{
		Title: title,
		Body:  map[string]interface{}{"arguments": update},
		Type:  websocket.Update,
	})
}

func activityFromPayload(payload event.IngestPayload) IngestActivity {
	return IngestActivity{
		ChannelID: payload.ChannelID,
		MessageID: payload.MessageID,
		FileName:  payload.FileName,
	}
}
