package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Johnmclane5/TgSearchBot/internal/catalog"
	"github.com/Johnmclane5/TgSearchBot/internal/event"
	"github.com/Johnmclane5/TgSearchBot/internal/search"
	"github.com/Johnmclane5/TgSearchBot/pkg/logger"
	"github.com/google/uuid"
)

type (
	// MediaRef describes one attachment variant carried by a source message.
	// FileRef is the upstream handle used later to fetch the object's bytes.
	MediaRef struct {
		FileName string
		FileSize int64
		MimeType string
		FileRef  string
	}

	// Message is the ingestion-relevant view of an inbound message. At most
	// one of the attachment slots is expected to be populated; when several
	// are, the extraction order below decides which one wins.
	Message struct {
		ChannelID int64
		MessageID int64
		Document  *MediaRef
		Video     *MediaRef
		Audio     *MediaRef
		Image     *MediaRef
	}

	IngestTaskState int

	// Outcome is the terminal classification of a processed task. Duplicates
	// are an outcome, not an error - the consumer loop carries on regardless.
	Outcome int

	// CompletionHandler is invoked by the consumer once the task is terminal,
	// before its temporary artifacts are removed. Used by producers to edit
	// their acknowledgement message.
	CompletionHandler func(task *IngestTask)

	IngestTask struct {
		ID      uuid.UUID
		Message Message

		// OverrideChannelID redirects the catalog scope this task writes to,
		// leaving the message's own channel untouched.
		OverrideChannelID *int64

		CheckDuplicate bool
		OnComplete     CompletionHandler

		State   IngestTaskState
		Outcome Outcome
		Err     error

		// ThumbnailPath is set when an audio duplicate produced a cover-art
		// extraction; the file is removed once the completion handler has run.
		ThumbnailPath string
	}
)

const (
	IDLE IngestTaskState = iota
	INGESTING
	COMPLETE
	FAILED
)

const (
	OutcomeNone Outcome = iota
	OutcomeInserted
	OutcomeDuplicateLogged
	OutcomeDuplicateWithThumbnail
	OutcomeSkipped
)

var ErrNoAttachment = errors.New("message carries no ingestable attachment")

// mediaExtensions are the filename tokens which terminate a display name.
// Everything from the first occurrence onwards is discarded.
var mediaExtensions = []string{".mkv", ".mp4", ".webm"}

// Scope returns the catalog channel this task writes to, honouring any
// override set by the producer.
func (task *IngestTask) Scope() int64 {
	if task.OverrideChannelID != nil {
		return *task.OverrideChannelID
	}

	return task.Message.ChannelID
}

// extractAttachment picks the attachment to catalogue from the task's
// message. Documents win over videos, which win over audio, which win over
// images; nameless videos, audio and images receive a stand-in name.
func (task *IngestTask) extractAttachment() (catalog.MediaKind, *MediaRef, error) {
	message := task.Message
	switch {
	case message.Document != nil:
		return catalog.KindDocument, message.Document, nil
	case message.Video != nil:
		ref := *message.Video
		if ref.FileName == "" {
			ref.FileName = "video.mp4"
		}
		return catalog.KindVideo, &ref, nil
	case message.Audio != nil:
		ref := *message.Audio
		if ref.FileName == "" {
			ref.FileName = "audio.mp3"
		}
		return catalog.KindAudio, &ref, nil
	case message.Image != nil:
		ref := *message.Image
		if ref.FileName == "" {
			ref.FileName = "image.jpg"
		}
		return catalog.KindImage, &ref, nil
	}

	return "", nil, ErrNoAttachment
}

// ingest runs the task to its outcome: extract the attachment, normalize
// its display name, apply the duplicate policy, and upsert the catalog
// record. Duplicates never overwrite the existing record; an audio
// duplicate additionally extracts the embedded cover for announcement.
func (task *IngestTask) ingest(ctx context.Context, eventBus event.EventDispatcher, data DataStore, thumbs Thumbnailer) (Outcome, error) {
	log.Emit(logger.NEW, "Beginning ingestion of task %s\n", task)

	kind, ref, err := task.extractAttachment()
	if err != nil {
		log.Emit(logger.DEBUG, "Skipping task %s: %s\n", task, err.Error())
		return OutcomeSkipped, nil
	}

	name := NormalizeDisplayName(ref.FileName)
	if name == "" {
		log.Emit(logger.DEBUG, "Skipping task %s: display name empty after normalization (%q)\n", task, ref.FileName)
		return OutcomeSkipped, nil
	}

	scope := task.Scope()
	if task.CheckDuplicate {
		if _, err := data.GetFileByName(scope, name); err == nil {
			log.Emit(logger.WARNING, "Duplicate detected in channel %d: %q already catalogued\n", scope, name)
			if kind == catalog.KindAudio {
				thumbPath, err := thumbs.ExtractCover(ctx, ref.FileRef)
				if err != nil {
					log.Emit(logger.WARNING, "Cover extraction for duplicate %q failed: %s\n", name, err.Error())
					return OutcomeDuplicateLogged, nil
				}

				task.ThumbnailPath = thumbPath
				return OutcomeDuplicateWithThumbnail, nil
			}

			return OutcomeDuplicateLogged, nil
		} else if !errors.Is(err, catalog.ErrFileNotFound) {
			return OutcomeNone, fmt.Errorf("duplicate check for %q failed: %w", name, err)
		}
	}

	file := &catalog.File{
		ChannelID: scope,
		MessageID: task.Message.MessageID,
		FileName:  name,
		FileSize:  ref.FileSize,
		MediaKind: kind,
		MimeType:  ref.MimeType,
		FileRef:   ref.FileRef,
	}
	if err := data.SaveFile(file); err != nil {
		return OutcomeNone, fmt.Errorf("failed to save catalog record for %q: %w", name, err)
	}

	log.Emit(logger.SUCCESS, "Catalogued %q (%s, %d bytes) in channel %d\n", name, kind, ref.FileSize, scope)
	eventBus.Dispatch(event.INGEST_COMPLETE, event.IngestPayload{
		ChannelID: scope,
		MessageID: task.Message.MessageID,
		FileName:  name,
	})

	return OutcomeInserted, nil
}

// NormalizeDisplayName derives the catalogued display name from a raw
// filename: everything from the first recognized media-extension token
// onwards is discarded, and the remainder is run through the shared query
// sanitizer so searches and names agree on one alphabet.
func NormalizeDisplayName(fileName string) string {
	lowered := strings.ToLower(fileName)
	cut := len(fileName)
	for _, ext := range mediaExtensions {
		if idx := strings.Index(lowered, ext); idx >= 0 && idx < cut {
			cut = idx
		}
	}

	return search.Sanitize(fileName[:cut])
}

func (task *IngestTask) String() string {
	return fmt.Sprintf("IngestTask{ID=%s state=%s}", task.ID, task.State)
}

func (s IngestTaskState) String() string {
	switch s {
	case IDLE:
		return fmt.Sprintf("IDLE[%d]", s)
	case INGESTING:
		return fmt.Sprintf("INGESTING[%d]", s)
	case COMPLETE:
		return fmt.Sprintf("COMPLETE[%d]", s)
	case FAILED:
		return fmt.Sprintf("FAILED[%d]", s)
	default:
		return fmt.Sprintf("UNKNOWN[%d]", s)
	}
}

func (o Outcome) String() string {
	switch o {
	case OutcomeInserted:
		return "INSERTED"
	case OutcomeDuplicateLogged:
		return "DUPLICATE"
	case OutcomeDuplicateWithThumbnail:
		return "DUPLICATE_WITH_THUMBNAIL"
	case OutcomeSkipped:
		return "SKIPPED"
	default:
		return "NONE"
	}
}
