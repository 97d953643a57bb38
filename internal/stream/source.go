package stream

import (
	"context"
	"errors"

	"github.com/Johnmclane5/TgSearchBot/internal/catalog"
)

var (
	// ErrObjectNotFound indicates the upstream source cannot resolve the
	// (channel, message) pair to a media object.
	ErrObjectNotFound = errors.New("object could not be resolved in the upstream source")

	// ErrUnsupportedMedia indicates the message resolved, but carries no
	// media of a kind we can stream.
	ErrUnsupportedMedia = errors.New("object media type is unsupported")

	// ErrUpstreamTransient wraps upstream failures which the transport
	// layer may retry; this service does not retry them itself.
	ErrUpstreamTransient = errors.New("transient upstream failure")
)

type (
	// ObjectInfo is the resolved identity of a streamable object.
	ObjectInfo struct {
		Name     string
		Size     int64
		Kind     catalog.MediaKind
		MimeType string
	}

	// ChunkStream is a lazy sequence of fixed-size byte chunks. Next
	// returns io.EOF once the sequence is exhausted; the final chunk may
	// be shorter than ChunkSize.
	ChunkStream interface {
		Next(ctx context.Context) ([]byte, error)
		Close() error
	}

	// Source is the upstream object store this service proxies. Resolve
	// must fail with ErrObjectNotFound/ErrUnsupportedMedia before any
	// bytes are transferred so the HTTP layer can answer cleanly.
	Source interface {
		Resolve(ctx context.Context, channelID int64, messageID int64) (*ObjectInfo, error)
		OpenChunkStream(ctx context.Context, channelID int64, messageID int64, startChunk int64) (ChunkStream, error)
	}
)
