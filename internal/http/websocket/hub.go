package websocket

import (
	"context"
	"net/http"

	"github.com/Johnmclane5/TgSearchBot/pkg/logger"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var log = logger.Get("WebSocket")

type SocketHandler func(*SocketHub, *SocketMessage) error

// SocketHub owns every live activity-socket connection: it upgrades
// incoming HTTP requests, fans broadcast messages out to all clients,
// and routes client commands to their bound handlers. All client state
// is confined to the Start loop goroutine.
type SocketHub struct {
	handlers           map[string]SocketHandler
	upgrader           *websocket.Upgrader
	clients            []*socketClient
	registerCh         chan *socketClient
	deregisterCh       chan *socketClient
	sendCh             chan *SocketMessage
	receiveCh          chan *SocketMessage
	connectionCallback func() map[string]interface{}
	running            bool
}

func New() *SocketHub {
	return &SocketHub{
		handlers: make(map[string]SocketHandler),
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		running: false,
	}
}

// WithConnectionCallback sets a callback whose result is included in the
// welcome message of each new client, so the client starts with the
// server's current state rather than waiting for the next update.
func (hub *SocketHub) WithConnectionCallback(callback func() map[string]interface{}) {
	hub.connectionCallback = callback
}

// BindCommand routes client messages with the given title to handler.
func (hub *SocketHub) BindCommand(command string, handler SocketHandler) *SocketHub {
	hub.handlers[command] = handler
	return hub
}

// Start runs the hub loop until the context is cancelled. Clients cannot
// connect before this is called.
func (hub *SocketHub) Start(ctx context.Context) {
	if hub.running {
		log.Emit(logger.WARNING, "Attempting to start socket hub when already running, ignoring\n")
		return
	} else if ctx.Err() != nil {
		log.Emit(logger.STOP, "Refusing to start socket hub as provided context is already cancelled\n")
		return
	}

	hub.sendCh = make(chan *SocketMessage)
	hub.receiveCh = make(chan *SocketMessage)
	hub.registerCh = make(chan *socketClient)
	hub.deregisterCh = make(chan *socketClient)
	hub.clients = make([]*socketClient, 0)
	hub.running = true
	log.Emit(logger.INFO, "Activity socket hub open\n")

	defer hub.close()
loop:
	for {
		select {
		case message := <-hub.sendCh:
			if message.Target != nil {
				if _, client := hub.findClient(message.Target); client != nil {
					if err := client.SendMessage(message); err != nil {
						log.Emit(logger.ERROR, "Failed to send message to client {%v}: %s\n", message.Target, err.Error())
					}
				} else {
					log.Emit(logger.WARNING, "Dropping message addressed to unknown client {%v}\n", message.Target)
				}

				break
			}

			hub.broadcastMessage(message)
		case message := <-hub.receiveCh:
			go hub.handleMessage(message)
		case client := <-hub.registerCh:
			if idx, _ := hub.findClient(client.id); idx > -1 {
				log.Emit(logger.ERROR, "Refusing to register client with duplicate uuid {%v}\n", client.id)
				client.Close()

				break
			}

			hub.clients = append(hub.clients, client)
			log.Emit(logger.NEW, "Registered new activity client {%v}\n", client.id)
		case client := <-hub.deregisterCh:
			if idx, _ := hub.findClient(client.id); idx != -1 {
				hub.clients = append(hub.clients[:idx], hub.clients[idx+1:]...)
				log.Emit(logger.REMOVE, "Deregistered client {%v}\n", client.id)

				break
			}

			log.Emit(logger.WARNING, "Attempted to deregister unknown client {%v}\n", client.id)
		case <-ctx.Done():
			log.Emit(logger.REMOVE, "Shutting down socket hub, closing all clients\n")
			break loop
		}
	}
}

// Send emits the message on the hub's send channel; a message with a
// Target reaches only that client, otherwise it is broadcast. Ignored
// when the hub is not running.
func (hub *SocketHub) Send(message *SocketMessage) {
	if !hub.running {
		log.Emit(logger.WARNING, "Dropping message, socket hub is offline\n")
		return
	}

	hub.sendCh <- message
}

// UpgradeToSocket upgrades the HTTP request to a websocket and registers
// the new client; it blocks for the lifetime of the connection.
func (hub *SocketHub) UpgradeToSocket(w http.ResponseWriter, r *http.Request) {
	if !hub.running {
		log.Emit(logger.ERROR, "Cannot upgrade request to websocket: hub has not been started\n")
		return
	}

	// Generate the id ahead of the upgrade; failing afterwards would
	// leave a half-open socket behind.
	id, err := uuid.NewRandom()
	if err != nil {
		log.Emit(logger.ERROR, "Failed to generate uuid for new connection, aborting\n")
		return
	}

	sock, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Emit(logger.ERROR, "Failed to upgrade request to websocket: %s\n", err.Error())
		return
	}

	client := &socketClient{
		id:     &id,
		socket: sock,
	}

	hub.registerCh <- client

	body := map[string]interface{}{}
	if hub.connectionCallback != nil {
		body = hub.connectionCallback()
	}
	body["client"] = id

	hub.Send(&SocketMessage{
		Title:  "CONNECTION_ESTABLISHED",
		Body:   body,
		Target: &id,
		Type:   Welcome,
	})

	defer func() {
		hub.deregisterCh <- client
		client.Close()
	}()

	if err := client.Read(hub.receiveCh); err != nil {
		log.Emit(logger.VERBOSE, "Client {%v} closed: %s\n", client.id, err.Error())
	}
}

func (hub *SocketHub) close() {
	if !hub.running {
		return
	}

	for _, client := range hub.clients {
		client.Close()
	}

	hub.clients = nil
	hub.running = false
	log.Emit(logger.STOP, "Socket hub is now closed\n")
}

// handleMessage routes a received command to its bound handler; handler
// errors are reported back to the originating client.
func (hub *SocketHub) handleMessage(command *SocketMessage) {
	if command.Type != Command {
		log.Emit(logger.WARNING, "Received message of type {%v} from client {%v}; only commands are accepted\n", command.Type, command.Origin)
		return
	}

	replyWithError := func(err string) {
		hub.Send(&SocketMessage{
			Title:  "COMMAND_FAILURE",
			Id:     command.Id,
			Target: command.Origin,
			Body:   map[string]interface{}{"command": command, "error": err},
			Type:   ErrorResponse,
		})
	}

	if handler, ok := hub.handlers[command.Title]; ok {
		if err := handler(hub, command); err != nil {
			log.Emit(logger.ERROR, "Handler for command '%v' returned error: %s\n", command.Title, err.Error())
			replyWithError(err.Error())
		}

		return
	}

	replyWithError("Unknown command")
	log.Emit(logger.WARNING, "No handler bound for command '%v'\n", command.Title)
}

func (hub *SocketHub) findClient(id *uuid.UUID) (int, *socketClient) {
	for idx, client := range hub.clients {
		if client.id == id {
			return idx, client
		}
	}

	return -1, nil
}

func (hub *SocketHub) broadcastMessage(message *SocketMessage) {
	for _, client := range hub.clients {
		if err := client.SendMessage(message); err != nil {
			log.Emit(logger.WARNING, "Failed to broadcast to client {%v}: %s\n", client.id, err.Error())
		}
	}
}
