package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/Johnmclane5/TgSearchBot/internal/catalog"
	"github.com/Johnmclane5/TgSearchBot/internal/stream"
	"github.com/Johnmclane5/TgSearchBot/pkg/logger"
)

var sourceLog = logger.Get("TgSource")

type (
	// fileResolver is the part of the bot API the source needs: turning a
	// stored file handle into a fetchable URL.
	fileResolver interface {
		GetFileDirectURL(fileID string) (string, error)
	}

	catalogReader interface {
		GetFile(channelID int64, messageID int64) (*catalog.File, error)
	}

	// chunkSource adapts the upstream bot file endpoint to the streaming
	// service: objects are resolved through the catalog and read as fixed
	// size chunks via HTTP range requests against the file URL.
	chunkSource struct {
		resolver fileResolver
		catalog  catalogReader
		client   *http.Client
	}
)

func NewChunkSource(resolver fileResolver, catalog catalogReader, client *http.Client) *chunkSource {
	if client == nil {
		client = http.DefaultClient
	}

	return &chunkSource{resolver: resolver, catalog: catalog, client: client}
}

func (source *chunkSource) Resolve(_ context.Context, channelID int64, messageID int64) (*stream.ObjectInfo, error) {
	file, err := source.catalog.GetFile(channelID, messageID)
	if err != nil {
		if errors.Is(err, catalog.ErrFileNotFound) {
			return nil, stream.ErrObjectNotFound
		}

		return nil, err
	}

	return &stream.ObjectInfo{
		Name:     file.FileName,
		Size:     file.FileSize,
		Kind:     file.MediaKind,
		MimeType: file.MimeType,
	}, nil
}

func (source *chunkSource) OpenChunkStream(ctx context.Context, channelID int64, messageID int64, startChunk int64) (stream.ChunkStream, error) {
	file, err := source.catalog.GetFile(channelID, messageID)
	if err != nil {
		if errors.Is(err, catalog.ErrFileNotFound) {
			return nil, stream.ErrObjectNotFound
		}

		return nil, err
	}

	body, err := source.openRange(ctx, file.FileRef, startChunk*stream.ChunkSize)
	if err != nil {
		return nil, err
	}

	return &chunkStream{body: body, buf: make([]byte, stream.ChunkSize)}, nil
}

// FetchToFile downloads the whole object behind fileRef into a temporary
// file and returns its path. The caller owns the file.
func (source *chunkSource) FetchToFile(ctx context.Context, fileRef string) (string, error) {
	body, err := source.openRange(ctx, fileRef, 0)
	if err != nil {
		return "", err
	}
	defer body.Close()

	temp, err := os.CreateTemp("", "tgsb-object-*")
	if err != nil {
		return "", err
	}

	if _, err := io.Copy(temp, body); err != nil {
		temp.Close()
		os.Remove(temp.Name())
		return "", fmt.Errorf("%w: object download interrupted: %s", stream.ErrUpstreamTransient, err.Error())
	}

	if err := temp.Close(); err != nil {
		os.Remove(temp.Name())
		return "", err
	}

	return temp.Name(), nil
}

// openRange resolves the file handle to its direct URL and issues a ranged
// GET starting at the byte offset given.
func (source *chunkSource) openRange(ctx context.Context, fileRef string, offset int64) (io.ReadCloser, error) {
	url, err := source.resolver.GetFileDirectURL(fileRef)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to resolve file URL: %s", stream.ErrUpstreamTransient, err.Error())
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if offset > 0 {
		request.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	response, err := source.client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("%w: upstream request failed: %s", stream.ErrUpstreamTransient, err.Error())
	}

	switch {
	case response.StatusCode == http.StatusOK || response.StatusCode == http.StatusPartialContent:
		return response.Body, nil
	case response.StatusCode == http.StatusNotFound:
		response.Body.Close()
		return nil, stream.ErrObjectNotFound
	default:
		response.Body.Close()
		sourceLog.Emit(logger.WARNING, "Upstream returned unexpected status %d for ranged read at offset %d\n", response.StatusCode, offset)
		return nil, fmt.Errorf("%w: upstream status %d", stream.ErrUpstreamTransient, response.StatusCode)
	}
}

// chunkStream slices a continuous HTTP response body into fixed size
// chunks. The final chunk may be short; after it, Next reports io.EOF.
type chunkStream struct {
	body io.ReadCloser
	buf  []byte
	done bool
}

func (cs *chunkStream) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cs.done {
		return nil, io.EOF
	}

	read, err := io.ReadFull(cs.body, cs.buf)
	switch {
	case err == nil:
		chunk := make([]byte, read)
		copy(chunk, cs.buf[:read])
		return chunk, nil
	case errors.Is(err, io.ErrUnexpectedEOF):
		cs.done = true
		chunk := make([]byte, read)
		copy(chunk, cs.buf[:read])
		return chunk, nil
	case errors.Is(err, io.EOF):
		cs.done = true
		return nil, io.EOF
	default:
		return nil, fmt.Errorf("%w: chunk read failed: %s", stream.ErrUpstreamTransient, err.Error())
	}
}

func (cs *chunkStream) Close() error {
	return cs.body.Close()
}
