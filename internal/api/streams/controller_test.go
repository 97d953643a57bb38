package streams_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/Johnmclane5/TgSearchBot/internal/api/streams"
	"github.com/Johnmclane5/TgSearchBot/internal/link"
	"github.com/Johnmclane5/TgSearchBot/internal/stream"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObject struct {
	info    *stream.ObjectInfo
	content []byte
}

type fakeStreamService struct {
	mu         sync.Mutex
	objects    map[string]*fakeObject
	resolveErr error
	streamed   []stream.ByteRange
}

func newFakeStreamService() *fakeStreamService {
	return &fakeStreamService{objects: make(map[string]*fakeObject)}
}

func (service *fakeStreamService) add(channelID int64, messageID int64, name string, content []byte) {
	service.objects[fmt.Sprintf("%d/%d", channelID, messageID)] = &fakeObject{
		info:    &stream.ObjectInfo{Name: name, Size: int64(len(content)), MimeType: "video/x-matroska"},
		content: content,
	}
}

func (service *fakeStreamService) ResolveObject(_ context.Context, channelID int64, messageID int64) (*stream.ObjectInfo, error) {
	if service.resolveErr != nil {
		return nil, service.resolveErr
	}

	object, ok := service.objects[fmt.Sprintf("%d/%d", channelID, messageID)]
	if !ok {
		return nil, stream.ErrObjectNotFound
	}
	return object.info, nil
}

func (service *fakeStreamService) Stream(_ context.Context, channelID int64, messageID int64, byteRange stream.ByteRange, w io.Writer) error {
	service.mu.Lock()
	service.streamed = append(service.streamed, byteRange)
	service.mu.Unlock()

	object, ok := service.objects[fmt.Sprintf("%d/%d", channelID, messageID)]
	if !ok {
		return stream.ErrObjectNotFound
	}

	if object.content == nil {
		return nil
	}

	_, err := w.Write(object.content[byteRange.Start : byteRange.End+1])
	return err
}

func newRouter(service streams.Service) *echo.Echo {
	ec := echo.New()
	streams.New(service, "https://media.example.com").SetRoutes(ec.Group(""))
	return ec
}

func perform(router *echo.Echo, method string, target string, rangeHeader string) *httptest.ResponseRecorder {
	request := httptest.NewRequest(method, target, nil)
	if rangeHeader != "" {
		request.Header.Set("Range", rangeHeader)
	}

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	return recorder
}

func Test_Stream_FullObjectWithoutRange(t *testing.T) {
	t.Parallel()
	service := newFakeStreamService()
	content := bytes.Repeat([]byte{'x'}, 4096)
	service.add(-100123, 55, "alpha.mkv", content)
	router := newRouter(service)

	response := perform(router, http.MethodGet, "/stream/"+link.Encode(-100123, 55), "")

	assert.Equal(t, http.StatusOK, response.Code)
	assert.Equal(t, "video/x-matroska", response.Header().Get(echo.HeaderContentType))
	assert.Equal(t, "bytes", response.Header().Get("Accept-Ranges"))
	assert.Equal(t, "4096", response.Header().Get(echo.HeaderContentLength))
	assert.Equal(t, "bytes 0-4095/4096", response.Header().Get("Content-Range"))
	assert.Equal(t, content, response.Body.Bytes())
}

func Test_Stream_OpenEndedRangeFromZeroIsFullResponse(t *testing.T) {
	t.Parallel()
	service := newFakeStreamService()
	service.add(-100123, 55, "alpha.mkv", make([]byte, 10*1024*1024))
	router := newRouter(service)

	response := perform(router, http.MethodGet, "/stream/"+link.Encode(-100123, 55), "bytes=0-")

	assert.Equal(t, http.StatusOK, response.Code)
	assert.Equal(t, "10485760", response.Header().Get(echo.HeaderContentLength))
	assert.Equal(t, "bytes 0-10485759/10485760", response.Header().Get("Content-Range"))
}

func Test_Stream_MidObjectRangeIsPartialResponse(t *testing.T) {
	t.Parallel()
	service := newFakeStreamService()
	service.add(-100123, 55, "alpha.mkv", make([]byte, 10*1024*1024))
	router := newRouter(service)

	response := perform(router, http.MethodGet, "/stream/"+link.Encode(-100123, 55), "bytes=5242880-")

	assert.Equal(t, http.StatusPartialContent, response.Code)
	assert.Equal(t, "5242880", response.Header().Get(echo.HeaderContentLength))
	assert.Equal(t, "bytes 5242880-10485759/10485760", response.Header().Get("Content-Range"))

	require.Len(t, service.streamed, 1)
	assert.Equal(t, int64(5242880), service.streamed[0].Start)
}

func Test_Stream_HeadRequestOmitsBody(t *testing.T) {
	t.Parallel()
	service := newFakeStreamService()
	service.add(-100123, 55, "alpha.mkv", bytes.Repeat([]byte{'x'}, 4096))
	router := newRouter(service)

	response := perform(router, http.MethodHead, "/stream/"+link.Encode(-100123, 55), "")

	assert.Equal(t, http.StatusOK, response.Code)
	assert.Equal(t, "4096", response.Header().Get(echo.HeaderContentLength))
	assert.Empty(t, response.Body.Bytes())
	assert.Empty(t, service.streamed)
}

func Test_Stream_BadTokenAndBadRange(t *testing.T) {
	t.Parallel()
	service := newFakeStreamService()
	service.add(-100123, 55, "alpha.mkv", make([]byte, 4096))
	router := newRouter(service)

	response := perform(router, http.MethodGet, "/stream/!!!not-base64!!!", "")
	assert.Equal(t, http.StatusBadRequest, response.Code)

	response = perform(router, http.MethodGet, "/stream/"+link.Encode(-100123, 55), "bytes=9999999-")
	assert.Equal(t, http.StatusBadRequest, response.Code)
}

func Test_Stream_UnknownObject(t *testing.T) {
	t.Parallel()
	router := newRouter(newFakeStreamService())

	response := perform(router, http.MethodGet, "/stream/"+link.Encode(-100123, 55), "")
	assert.Equal(t, http.StatusNotFound, response.Code)
}

func Test_Stream_UpstreamFailureIsBadGateway(t *testing.T) {
	t.Parallel()
	service := newFakeStreamService()
	service.resolveErr = fmt.Errorf("wrapped: %w", stream.ErrUpstreamTransient)
	router := newRouter(service)

	response := perform(router, http.MethodGet, "/stream/"+link.Encode(-100123, 55), "")
	assert.Equal(t, http.StatusBadGateway, response.Code)
}

func Test_Download_FullObjectIgnoringRange(t *testing.T) {
	t.Parallel()
	service := newFakeStreamService()
	content := bytes.Repeat([]byte{'d'}, 8192)
	service.add(-100123, 55, "alpha movie 2020", content)
	router := newRouter(service)

	response := perform(router, http.MethodGet, "/download/"+link.Encode(-100123, 55), "bytes=4096-")

	assert.Equal(t, http.StatusOK, response.Code)
	assert.Equal(t, "application/octet-stream", response.Header().Get(echo.HeaderContentType))
	assert.Equal(t, `attachment; filename="alpha movie 2020"`, response.Header().Get(echo.HeaderContentDisposition))
	assert.Equal(t, "8192", response.Header().Get(echo.HeaderContentLength))
	assert.Equal(t, content, response.Body.Bytes())

	require.Len(t, service.streamed, 1)
	assert.Equal(t, int64(0), service.streamed[0].Start)
	assert.Equal(t, int64(8191), service.streamed[0].End)
}

func Test_Play_RedirectsToIntentURL(t *testing.T) {
	t.Parallel()
	router := newRouter(newFakeStreamService())
	token := link.Encode(-100123, 55)

	response := perform(router, http.MethodGet, "/play/mx/"+token, "")
	require.Equal(t, http.StatusFound, response.Code)
	location := response.Header().Get(echo.HeaderLocation)
	assert.Contains(t, location, "intent:https://media.example.com/stream/"+token)
	assert.Contains(t, location, "package=com.mxtech.videoplayer.ad")

	response = perform(router, http.MethodGet, "/play/mxpro/"+token, "")
	require.Equal(t, http.StatusFound, response.Code)
	assert.Contains(t, response.Header().Get(echo.HeaderLocation), "package=com.mxtech.videoplayer.pro")
}

func Test_Play_UnknownPlayerAndBadToken(t *testing.T) {
	t.Parallel()
	router := newRouter(newFakeStreamService())

	response := perform(router, http.MethodGet, "/play/vlc/"+link.Encode(-100123, 55), "")
	assert.Equal(t, http.StatusNotFound, response.Code)

	response = perform(router, http.MethodGet, "/play/mx/!!!not-base64!!!", "")
	assert.Equal(t, http.StatusBadRequest, response.Code)
}
