package internal

import (
	"context"

	"github.com/Johnmclane5/TgSearchBot/internal/event"
	"github.com/Johnmclane5/TgSearchBot/pkg/logger"
)

type (
	broadcaster interface {
		BroadcastIngestUpdate(event.IngestPayload)
		BroadcastIngestComplete(event.IngestPayload)
		BroadcastIngestFailed(event.IngestPayload)
	}

	// activityService bridges the event bus and the activity socket:
	// ingestion lifecycle events are relayed to every connected client.
	activityService struct {
		broadcaster
		eventBus event.EventHandler
	}
)

func newActivityService(broadcaster broadcaster, eventBus event.EventHandler) *activityService {
	return &activityService{broadcaster: broadcaster, eventBus: eventBus}
}

func (service *activityService) Run(ctx context.Context) error {
	// Buffered so a slow socket write never blocks the dispatcher.
	messageChan := make(event.HandlerChannel, 100)
	service.eventBus.RegisterHandlerChannel(messageChan,
		event.INGEST_UPDATE, event.INGEST_COMPLETE, event.INGEST_FAILED)

	log.Emit(logger.NEW, "Activity service started\n")
	for {
		select {
		case ev := <-messageChan:
			service.handleEvent(ev)
		case <-ctx.Done():
			log.Emit(logger.STOP, "Activity service closed\n")
			return nil
		}
	}
}

func (service *activityService) handleEvent(ev event.HandlerEvent) {
	payload, ok := ev.Payload.(event.IngestPayload)
	if !ok {
		log.Emit(logger.WARNING, "Activity service received event %v with unexpected payload type\n", ev.Event)
		return
	}

	switch ev.Event {
	case event.INGEST_UPDATE:
		service.BroadcastIngestUpdate(payload)
	case event.INGEST_COMPLETE:
		service.BroadcastIngestComplete(payload)
	case event.INGEST_FAILED:
		service.BroadcastIngestFailed(payload)
	}
}
