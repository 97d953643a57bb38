package streams

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/Johnmclane5/TgSearchBot/internal/link"
	"github.com/Johnmclane5/TgSearchBot/internal/stream"
	"github.com/Johnmclane5/TgSearchBot/pkg/logger"
	"github.com/labstack/echo/v4"
)

var controllerLogger = logger.Get("StreamsController")

// intentURLFormats maps a player slug to the Android intent URL wrapping
// the stream URL. MX Player ignores plain https links in some launchers,
// so the intent form is served instead.
var intentURLFormats = map[string]string{
	"mx":    "intent:%s#Intent;action=android.intent.action.VIEW;type=video/*;package=com.mxtech.videoplayer.ad;end",
	"mxpro": "intent:%s#Intent;action=android.intent.action.VIEW;type=video/*;package=com.mxtech.videoplayer.pro;end",
}

type (
	// Service is the slice of the stream service this controller drives.
	Service interface {
		ResolveObject(ctx context.Context, channelID int64, messageID int64) (*stream.ObjectInfo, error)
		Stream(ctx context.Context, channelID int64, messageID int64, byteRange stream.ByteRange, w io.Writer) error
	}

	Controller struct {
		service        Service
		externalDomain string
	}
)

func New(service Service, externalDomain string) *Controller {
	return &Controller{service: service, externalDomain: externalDomain}
}

// SetRoutes accepts the Echo group for the streaming endpoints and sets
// the routes on them.
func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("/stream/:token", controller.stream)
	eg.HEAD("/stream/:token", controller.stream)
	eg.GET("/download/:token", controller.download)
	eg.GET("/play/:player/:token", controller.play)
}

// stream serves the requested byte window of the object. The status is
// 206 when the effective window starts beyond byte zero, 200 otherwise;
// Content-Range is always present so players can probe the object size
// with a HEAD or an open-ended range.
func (controller *Controller) stream(ec echo.Context) error {
	channelID, messageID, err := decodeToken(ec.Param("token"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid file link")
	}

	ctx := ec.Request().Context()
	info, err := controller.service.ResolveObject(ctx, channelID, messageID)
	if err != nil {
		return mapResolveError(err)
	}

	byteRange, err := stream.ParseRangeHeader(ec.Request().Header.Get("Range"), info.Size)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	status := http.StatusOK
	if byteRange.IsPartial() {
		status = http.StatusPartialContent
	}

	contentType := info.MimeType
	if contentType == "" {
		contentType = "video/mp4"
	}

	response := ec.Response()
	response.Header().Set(echo.HeaderContentType, contentType)
	response.Header().Set("Accept-Ranges", "bytes")
	response.Header().Set(echo.HeaderContentLength, strconv.FormatInt(byteRange.Length(), 10))
	response.Header().Set("Content-Range", byteRange.ContentRange())
	response.WriteHeader(status)

	if ec.Request().Method == http.MethodHead {
		return nil
	}

	return controller.copyStream(ctx, channelID, messageID, byteRange, response)
}

// download serves the whole object as an attachment. A client Range
// header is deliberately ignored: download managers that probe with
// ranges still get a single complete body.
func (controller *Controller) download(ec echo.Context) error {
	channelID, messageID, err := decodeToken(ec.Param("token"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid file link")
	}

	ctx := ec.Request().Context()
	info, err := controller.service.ResolveObject(ctx, channelID, messageID)
	if err != nil {
		return mapResolveError(err)
	}

	byteRange := stream.ByteRange{Start: 0, End: info.Size - 1, TotalSize: info.Size}

	response := ec.Response()
	response.Header().Set(echo.HeaderContentType, "application/octet-stream")
	response.Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", info.Name))
	response.Header().Set(echo.HeaderContentLength, strconv.FormatInt(info.Size, 10))
	response.WriteHeader(http.StatusOK)

	return controller.copyStream(ctx, channelID, messageID, byteRange, response)
}

// play redirects to an intent URL which opens the stream in the named
// external player.
func (controller *Controller) play(ec echo.Context) error {
	format, ok := intentURLFormats[ec.Param("player")]
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "Player not supported")
	}

	token := ec.Param("token")
	if _, _, err := decodeToken(token); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid file link")
	}

	streamURL := fmt.Sprintf("%s/stream/%s", controller.externalDomain, token)
	return ec.Redirect(http.StatusFound, fmt.Sprintf(format, streamURL))
}

// copyStream drives the stream service; by the time it runs the response
// headers are already written, so failures can only be logged.
func (controller *Controller) copyStream(ctx context.Context, channelID int64, messageID int64, byteRange stream.ByteRange, w io.Writer) error {
	if err := controller.service.Stream(ctx, channelID, messageID, byteRange, w); err != nil {
		controllerLogger.Emit(logger.ERROR, "Stream of %d/%d failed: %s\n", channelID, messageID, err.Error())
	}

	return nil
}

func decodeToken(token string) (int64, int64, error) {
	return link.Decode(token)
}

func mapResolveError(err error) error {
	switch {
	case errors.Is(err, stream.ErrObjectNotFound), errors.Is(err, stream.ErrUnsupportedMedia):
		return echo.NewHTTPError(http.StatusNotFound, "File not found")
	default:
		return echo.NewHTTPError(http.StatusBadGateway, "Upstream source unavailable")
	}
}
