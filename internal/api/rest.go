package api

import (
	"context"
	"sync"

	"github.com/Johnmclane5/TgSearchBot/internal/api/streams"
	"github.com/Johnmclane5/TgSearchBot/internal/http/websocket"
	"github.com/Johnmclane5/TgSearchBot/pkg/logger"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var log = logger.Get("API")

type (
	RestConfig struct {
		HostAddr string `yaml:"hostAddr" env:"API_HOST_ADDR" env-default:"0.0.0.0:8080"`
	}

	controller interface {
		SetRoutes(*echo.Group)
	}

	statsStore interface {
		GetCatalogStats() (map[int64]int, int64, error)
	}

	// The RestGateway is a thin wrapper around the Echo HTTP router. Its
	// sole responsibility is to create the routes the system exposes and
	// to manage ongoing activity socket connections.
	RestGateway struct {
		*broadcaster
		config            *RestConfig
		ec                *echo.Echo
		socket            *websocket.SocketHub
		streamsController controller
	}
)

// NewRestGateway constructs the Echo router and populates it with the
// streaming routes, the activity socket and the metrics endpoint.
func NewRestGateway(config *RestConfig, externalDomain string, streamService streams.Service, store statsStore) *RestGateway {
	ec := echo.New()
	ec.OnAddRouteHandler = func(host string, route echo.Route, handler echo.HandlerFunc, middleware []echo.MiddlewareFunc) {
		log.Emit(logger.DEBUG, "Registered new route %s %s\n", route.Method, route.Path)
	}
	ec.HidePort = true
	ec.HideBanner = true

	socket := websocket.New()
	socket.WithConnectionCallback(func() map[string]interface{} {
		return connectionPayload(store)
	})
	socket.BindCommand("CATALOG_STATS", func(hub *websocket.SocketHub, message *websocket.SocketMessage) error {
		hub.Send(message.FormReply("CATALOG_STATS", connectionPayload(store), websocket.Response))
		return nil
	})

	gateway := &RestGateway{
		broadcaster:       newBroadcaster(socket),
		config:            config,
		ec:                ec,
		socket:            socket,
		streamsController: streams.New(streamService, externalDomain),
	}

	// Links are opened by media players and browsers on other origins.
	ec.Use(middleware.Logger())
	ec.Use(middleware.Recover())
	ec.Use(middleware.CORS())

	ec.GET("/", func(ec echo.Context) error {
		return ec.JSON(200, map[string]string{"message": "👋 Hello! Welcome"})
	})
	ec.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	ec.GET("/activity/ws", func(ec echo.Context) error {
		gateway.socket.UpgradeToSocket(ec.Response(), ec.Request())
		return nil
	})

	gateway.streamsController.SetRoutes(ec.Group(""))

	return gateway
}

func (gateway *RestGateway) Run(parentCtx context.Context) error {
	ctx, ctxCancel := context.WithCancelCause(parentCtx)
	wg := &sync.WaitGroup{}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := gateway.ec.Start(gateway.config.HostAddr); err != nil {
			ctxCancel(err)
		}
	}()

	go func(ec *echo.Echo) {
		<-ctx.Done()
		ec.Close()
	}(gateway.ec)

	wg.Add(1)
	go func() {
		defer wg.Done()
		gateway.socket.Start(ctx)
	}()

	wg.Wait()

	// Parent context cancellation is a normal shutdown, not an error.
	if cause := context.Cause(ctx); cause != ctx.Err() {
		return cause
	}

	return nil
}

func connectionPayload(store statsStore) map[string]interface{} {
	counts, totalBytes, err := store.GetCatalogStats()
	if err != nil {
		log.Emit(logger.WARNING, "Failed to gather catalog stats for socket payload: %s\n", err.Error())
		return map[string]interface{}{}
	}

	totalFiles := 0
	for _, count := range counts {
		totalFiles += count
	}

	return map[string]interface{}{
		"total_files": totalFiles,
		"total_bytes": totalBytes,
	}
}
