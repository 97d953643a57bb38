package ingest

import (
	"context"
	"os"
	"sync"

	"github.com/Johnmclane5/TgSearchBot/internal/catalog"
	"github.com/Johnmclane5/TgSearchBot/internal/event"
	"github.com/Johnmclane5/TgSearchBot/pkg/logger"
	"github.com/Johnmclane5/TgSearchBot/pkg/worker"
	"github.com/google/uuid"
)

var log = logger.Get("IngestServ")

type (
	DataStore interface {
		GetFileByName(channelID int64, name string) (*catalog.File, error)
		SaveFile(*catalog.File) error
	}

	Thumbnailer interface {
		ExtractCover(ctx context.Context, fileRef string) (string, error)
	}

	// ingestService owns the FIFO queue of inbound media tasks. The queue is
	// served by exactly ONE worker: tasks are processed strictly in
	// submission order, and each reaches a terminal state before the next is
	// claimed. Producers never block on Enqueue.
	ingestService struct {
		*sync.Mutex
		eventBus    event.EventDispatcher
		dataStore   DataStore
		thumbnailer Thumbnailer

		tasks      []*IngestTask
		drainCond  *sync.Cond
		workerPool *worker.WorkerPool
	}
)

// New creates a new ingest service wired to the given event bus, catalog
// store and thumbnail extractor. The service is inert until Run is called.
func New(eventBus event.EventDispatcher, store DataStore, thumbnailer Thumbnailer) *ingestService {
	mutex := &sync.Mutex{}
	service := &ingestService{
		Mutex:       mutex,
		eventBus:    eventBus,
		dataStore:   store,
		thumbnailer: thumbnailer,
		tasks:       make([]*IngestTask, 0),
		drainCond:   sync.NewCond(mutex),
		workerPool:  worker.NewWorkerPool(),
	}

	// A single worker is what makes the queue strictly FIFO; do not be
	// tempted to raise this for throughput.
	service.workerPool.PushWorker(worker.NewWorker("ingest-consumer", service.PerformTaskIngest))

	return service
}

// Run starts the consumer and blocks until the provided context is
// cancelled, at which point the worker pool is drained and closed.
func (service *ingestService) Run(ctx context.Context) error {
	service.workerPool.Start()

	<-ctx.Done()

	service.workerPool.Close()
	return nil
}

// Enqueue appends a task to the queue and wakes the consumer. It never
// blocks: the queue is unbounded because producers are rate-limited
// upstream by human message frequency.
func (service *ingestService) Enqueue(message Message, opts ...TaskOption) uuid.UUID {
	task := &IngestTask{
		ID:      uuid.New(),
		Message: message,
		State:   IDLE,
	}
	for _, opt := range opts {
		opt(task)
	}

	service.Lock()
	defer service.Unlock()

	service.tasks = append(service.tasks, task)
	service.workerPool.WakeupWorkers()

	return task.ID
}

// TaskOption mutates a task at enqueue time.
type TaskOption func(*IngestTask)

// WithDuplicateCheck enables the name-based duplicate policy for the task.
func WithDuplicateCheck() TaskOption {
	return func(task *IngestTask) { task.CheckDuplicate = true }
}

// WithScopeOverride redirects the task's catalog writes to another channel.
func WithScopeOverride(channelID int64) TaskOption {
	return func(task *IngestTask) { task.OverrideChannelID = &channelID }
}

// WithCompletionHandler attaches a handler invoked once the task is
// terminal, before its temporary artifacts are cleaned up.
func WithCompletionHandler(handler CompletionHandler) TaskOption {
	return func(task *IngestTask) { task.OnComplete = handler }
}

// PerformTaskIngest is the worker function for the ingest service, called
// by the services WorkerPool. It claims the oldest IDLE task and runs it to
// a terminal state; failures are logged against the task and never
// propagate, so the consumer loop continues unconditionally.
func (service *ingestService) PerformTaskIngest(w worker.Worker) (bool, error) {
	task := service.claimNextTask()
	if task == nil {
		return false, nil
	}

	service.eventBus.Dispatch(event.INGEST_UPDATE, event.IngestPayload{
		ChannelID: task.Scope(),
		MessageID: task.Message.MessageID,
	})

	outcome, err := task.ingest(context.Background(), service.eventBus, service.dataStore, service.thumbnailer)
	if err != nil {
		task.State = FAILED
		task.Err = err
		log.Emit(logger.ERROR, "Ingestion of task %s FAILED: %s\n", task, err.Error())
		service.eventBus.Dispatch(event.INGEST_FAILED, event.IngestPayload{
			ChannelID: task.Scope(),
			MessageID: task.Message.MessageID,
		})
	} else {
		task.State = COMPLETE
		task.Outcome = outcome
	}

	if task.OnComplete != nil {
		task.OnComplete(task)
	}

	service.cleanupArtifacts(task)
	service.finalizeTask(task)

	return true, nil
}

// Drain blocks until every task enqueued before the call has reached a
// terminal state, or the context is cancelled. It is the synchronization
// point callers use before depending on catalog state.
func (service *ingestService) Drain(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		service.Lock()
		defer service.Unlock()
		service.drainCond.Broadcast()
	})
	defer stop()

	service.Lock()
	defer service.Unlock()

	for len(service.tasks) > 0 {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		service.drainCond.Wait()
	}

	return ctx.Err()
}

// PendingTasks reports how many tasks have not yet reached a terminal state.
func (service *ingestService) PendingTasks() int {
	service.Lock()
	defer service.Unlock()

	return len(service.tasks)
}

// claimNextTask finds the oldest IDLE task and marks it INGESTING so no
// other claim can race it once the lock is released.
func (service *ingestService) claimNextTask() *IngestTask {
	service.Lock()
	defer service.Unlock()

	for _, task := range service.tasks {
		if task.State == IDLE {
			task.State = INGESTING
			return task
		}
	}

	return nil
}

// finalizeTask removes the terminal task from the queue and notifies any
// drain waiters.
func (service *ingestService) finalizeTask(task *IngestTask) {
	service.Lock()
	defer service.Unlock()

	for idx, candidate := range service.tasks {
		if candidate.ID == task.ID {
			service.tasks = append(service.tasks[:idx], service.tasks[idx+1:]...)
			break
		}
	}

	service.drainCond.Broadcast()
}

func (service *ingestService) cleanupArtifacts(task *IngestTask) {
	if task.ThumbnailPath == "" {
		return
	}

	if err := os.Remove(task.ThumbnailPath); err != nil && !os.IsNotExist(err) {
		log.Emit(logger.WARNING, "Failed to remove thumbnail artifact %s: %s\n", task.ThumbnailPath, err.Error())
	}
	task.ThumbnailPath = ""
}
