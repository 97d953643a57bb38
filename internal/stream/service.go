package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Johnmclane5/TgSearchBot/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/semaphore"
)

var log = logger.Get("Stream")

var (
	activeStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tgsb_active_streams",
		Help: "Number of in-flight upstream chunk streams.",
	})

	streamedBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tgsb_streamed_bytes_total",
		Help: "Total bytes forwarded to downstream clients.",
	})

	streamsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tgsb_streams_total",
		Help: "Completed stream requests by outcome.",
	}, []string{"outcome"})
)

type (
	Config struct {
		// MaxConcurrentStreams bounds simultaneous upstream streams. An
		// excess request waits for a slot rather than being rejected.
		MaxConcurrentStreams int64 `yaml:"max_concurrent_streams" env:"STREAM_MAX_CONCURRENCY" env-default:"3"`

		// AdmissionTimeoutSeconds bounds how long a request may wait for
		// a slot. Zero means wait indefinitely (until the client leaves).
		AdmissionTimeoutSeconds int `yaml:"admission_timeout_seconds" env:"STREAM_ADMISSION_TIMEOUT" env-default:"0"`
	}

	// streamService drives chunk-granularity reads from the upstream
	// source and re-slices them to the byte window a client asked for.
	// The admission semaphore is the only mutable state it holds.
	streamService struct {
		source    Source
		admission *semaphore.Weighted
		config    Config
	}

	// trimState tracks the one bit of state the chunk re-slicing needs:
	// whether the next chunk from upstream is the first of the stream
	// (and must therefore be trimmed to the intra-chunk offset).
	trimState int
)

const (
	awaitingFirstChunk trimState = iota
	streaming
)

func New(config Config, source Source) (*streamService, error) {
	if config.MaxConcurrentStreams < 1 {
		return nil, fmt.Errorf("stream service max concurrency must be at least 1, got %d", config.MaxConcurrentStreams)
	}

	return &streamService{
		source:    source,
		admission: semaphore.NewWeighted(config.MaxConcurrentStreams),
		config:    config,
	}, nil
}

// ResolveObject resolves the object identity ahead of streaming so the
// caller can fail fast (404) before committing to a response.
func (service *streamService) ResolveObject(ctx context.Context, channelID int64, messageID int64) (*ObjectInfo, error) {
	return service.source.Resolve(ctx, channelID, messageID)
}

// Stream copies the requested byte window of the object into w. The
// upstream read starts at the chunk containing byteRange.Start; the first
// chunk is trimmed to the intra-chunk offset and every later chunk is
// forwarded as it arrives, truncated at the windows end so the body never
// exceeds the advertised Content-Length.
//
// The call blocks while waiting for an admission slot. A downstream
// disconnect (context cancellation) is a normal early-termination path:
// the slot is released, no further chunks are pulled, and no error is
// returned. Upstream failures mid-stream abort the copy and are returned.
func (service *streamService) Stream(ctx context.Context, channelID int64, messageID int64, byteRange ByteRange, w io.Writer) error {
	if err := service.acquireSlot(ctx); err != nil {
		streamsTotal.WithLabelValues("admission_timeout").Inc()
		return err
	}
	defer service.admission.Release(1)

	activeStreams.Inc()
	defer activeStreams.Dec()

	chunks, err := service.source.OpenChunkStream(ctx, channelID, messageID, byteRange.ChunkIndex())
	if err != nil {
		streamsTotal.WithLabelValues("open_failed").Inc()
		return fmt.Errorf("failed to open upstream chunk stream for %d/%d: %w", channelID, messageID, err)
	}
	defer chunks.Close()

	state := awaitingFirstChunk
	remaining := byteRange.Length()

	for remaining > 0 {
		chunk, err := chunks.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			if ctx.Err() != nil {
				// Downstream consumer has gone away; stop pulling chunks.
				log.Emit(logger.VERBOSE, "Stream of %d/%d cancelled by client with %d bytes remaining\n", channelID, messageID, remaining)
				streamsTotal.WithLabelValues("client_gone").Inc()
				return nil
			}

			streamsTotal.WithLabelValues("upstream_error").Inc()
			return fmt.Errorf("upstream chunk read for %d/%d failed: %w", channelID, messageID, err)
		}

		if state == awaitingFirstChunk {
			state = streaming
			if offset := byteRange.ChunkOffset(); offset < int64(len(chunk)) {
				chunk = chunk[offset:]
			} else {
				chunk = nil
			}
		}

		if int64(len(chunk)) > remaining {
			chunk = chunk[:remaining]
		}

		if len(chunk) == 0 {
			continue
		}

		written, err := w.Write(chunk)
		streamedBytesTotal.Add(float64(written))
		remaining -= int64(written)
		if err != nil {
			if ctx.Err() != nil {
				streamsTotal.WithLabelValues("client_gone").Inc()
				return nil
			}

			streamsTotal.WithLabelValues("write_error").Inc()
			return fmt.Errorf("failed to forward chunk for %d/%d: %w", channelID, messageID, err)
		}
	}

	streamsTotal.WithLabelValues("complete").Inc()
	return nil
}

// acquireSlot blocks until an admission slot frees up, the caller leaves,
// or the configured admission timeout elapses.
func (service *streamService) acquireSlot(ctx context.Context) error {
	if service.config.AdmissionTimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(service.config.AdmissionTimeoutSeconds)*time.Second)
		defer cancel()
	}

	if err := service.admission.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("stream admission failed: %w", err)
	}

	return nil
}
