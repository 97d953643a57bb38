package internal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Johnmclane5/TgSearchBot/internal/api"
	"github.com/Johnmclane5/TgSearchBot/internal/database"
	"github.com/Johnmclane5/TgSearchBot/internal/event"
	"github.com/Johnmclane5/TgSearchBot/internal/ingest"
	"github.com/Johnmclane5/TgSearchBot/internal/search"
	"github.com/Johnmclane5/TgSearchBot/internal/session"
	"github.com/Johnmclane5/TgSearchBot/internal/stream"
	"github.com/Johnmclane5/TgSearchBot/internal/telegram"
	"github.com/Johnmclane5/TgSearchBot/internal/thumbnail"
	"github.com/Johnmclane5/TgSearchBot/pkg/logger"
	"github.com/google/uuid"
)

var log = logger.Get("Core")

type (
	RunnableService interface {
		Run(context.Context) error
	}

	IngestService interface {
		RunnableService
		Enqueue(message ingest.Message, opts ...ingest.TaskOption) uuid.UUID
		Drain(ctx context.Context) error
		PendingTasks() int
	}

	// queueProxy breaks the construction cycle between the bot frontend
	// and the ingestion service: the bot needs somewhere to enqueue, the
	// ingestion service needs the bot's file resolver. Enqueue is never
	// called before Run wires the inner service.
	queueProxy struct {
		inner telegram.Queue
	}
)

func (proxy *queueProxy) Enqueue(message ingest.Message, opts ...ingest.TaskOption) uuid.UUID {
	return proxy.inner.Enqueue(message, opts...)
}

// tgSearchBotImpl is the top-level object for the server; it owns the
// event bus, stores and all long-running services.
type tgSearchBotImpl struct {
	eventBus event.EventCoordinator
	config   TgSearchBotConfig

	db          database.Manager
	store       *storeOrchestrator
	searchCache *search.Cache

	ingestService   IngestService
	botService      RunnableService
	restGateway     RunnableService
	activityService RunnableService
}

const drainTimeout = time.Second * 30

func New(config TgSearchBotConfig) (*tgSearchBotImpl, error) {
	log.Emit(logger.DEBUG, "Bootstrapping services using config: %#v\n", config)

	db := database.New()
	store := NewStoreOrchestrator(db)
	searchCache := search.NewCache(config.SearchCacheMaxEntries, time.Duration(config.SearchCacheTTLSeconds)*time.Second)
	sessions := session.NewStore(config.Telegram.MaxFilesPerSession)
	eventBus := event.New()

	queue := &queueProxy{}
	bot, err := telegram.Connect(config.Telegram, config.ExternalDomain, store, queue, sessions, searchCache)
	if err != nil {
		return nil, fmt.Errorf("failed to connect bot frontend: %w", err)
	}

	source := telegram.NewChunkSource(bot.FileResolver(), store, nil)
	thumbnailer := thumbnail.New(config.Thumbnail, source)
	ingestService := ingest.New(eventBus, store, thumbnailer)
	queue.inner = ingestService

	streamService, err := stream.New(config.Stream, source)
	if err != nil {
		return nil, fmt.Errorf("failed to construct stream service: %w", err)
	}

	restGateway := api.NewRestGateway(&config.Rest, config.ExternalDomain, streamService, store)

	service := &tgSearchBotImpl{
		eventBus:        eventBus,
		config:          config,
		db:              db,
		store:           store,
		searchCache:     searchCache,
		ingestService:   ingestService,
		botService:      bot,
		restGateway:     restGateway,
		activityService: newActivityService(restGateway, eventBus),
	}

	// Search results for a scope are only trusted again once the queue
	// has settled; a burst of posts invalidates once, after the drain.
	eventBus.RegisterAsyncHandlerFunction(event.INGEST_COMPLETE, service.invalidateScopeAfterDrain)

	return service, nil
}

// Run brings up the database connection and all services. It will not
// return until every service stops; cancelling the provided context is
// the way to stop them.
func (service *tgSearchBotImpl) Run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	crashHandler := func(label string, err error) {
		log.Emit(logger.FATAL, "Service crash (%s)! %s\n", label, err.Error())
		cancel()
	}

	log.Emit(logger.NEW, "Connecting to database...\n")
	if err := service.db.Connect(service.config.Database); err != nil {
		return err
	}

	wg := &sync.WaitGroup{}
	service.spawnAsyncService(ctx, wg, service.ingestService, "ingest-service", crashHandler)
	service.spawnAsyncService(ctx, wg, service.botService, "telegram-bot", crashHandler)
	service.spawnAsyncService(ctx, wg, service.restGateway, "rest-gateway", crashHandler)
	service.spawnAsyncService(ctx, wg, service.activityService, "activity-service", crashHandler)
	log.Emit(logger.SUCCESS, "All services spawned!\n")

	wg.Wait()
	return nil
}

func (service *tgSearchBotImpl) invalidateScopeAfterDrain(ev event.Event, payload event.Payload) {
	ingestPayload, ok := payload.(event.IngestPayload)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := service.ingestService.Drain(ctx); err != nil {
		log.Emit(logger.WARNING, "Queue did not drain before cache invalidation for channel %d: %s\n", ingestPayload.ChannelID, err.Error())
	}

	service.searchCache.InvalidateScope(ingestPayload.ChannelID)
}

// spawnAsyncService runs the provided service in its own goroutine; a
// panic or error return trips the crash handler, stopping all services.
func (service *tgSearchBotImpl) spawnAsyncService(ctx context.Context, wg *sync.WaitGroup, runnable RunnableService, serviceLabel string, crashHandler func(string, error)) {
	log.Emit(logger.NEW, "Spawning %s\n", serviceLabel)
	wg.Add(1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				crashHandler(serviceLabel, fmt.Errorf("panic %v", r))
			}
		}()

		defer wg.Done()
		if err := runnable.Run(ctx); err != nil {
			crashHandler(serviceLabel, err)
		}
	}()
}
