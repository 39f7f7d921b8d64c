// Package gateway is the websocket half of cmd/signalgateway's Transport:
// a room-keyed hub that accepts browser clients, decodes the wire-level
// GroupCallControlMessage envelope (package wire) from each inbound frame,
// and dispatches it to the ControlHandler registered for its Kind in a
// Router; whatever a handler sends back out through the Hub is re-encoded
// for delivery to room members.
//
// Adapted from the teacher's websocket/websocket.go: Hub/WsHub's
// register/unregister/broadcast channel loop and
// CommandRegistry/WebsocketClient's per-connection read/write pumps are
// kept verbatim in shape, but CommandFunc's free-form map[string]interface{}
// dispatch is replaced by a typed handler keyed on
// transport.ControlMessageKind, and logging moves from the teacher's bare
// log.Printf to github.com/pion/logging to match the rest of the SDK.
package gateway

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pion/logging"

	"github.com/pqsrtc/sdk-go/transport"
	"github.com/pqsrtc/sdk-go/wire"
)

// ControlHandler processes one decoded control message from participantID.
type ControlHandler func(participantID string, hub *Hub, msg transport.GroupCallControlMessage)

// Router dispatches inbound control messages by Kind.
type Router struct {
	mu       sync.RWMutex
	handlers map[transport.ControlMessageKind]ControlHandler
}

// NewRouter constructs an empty Router.
func NewRouter() *Router {
	return &Router{handlers: make(map[transport.ControlMessageKind]ControlHandler)}
}

// Handle registers the handler invoked for control messages of kind.
func (r *Router) Handle(kind transport.ControlMessageKind, handler ControlHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = handler
}

func (r *Router) dispatch(participantID string, hub *Hub, msg transport.GroupCallControlMessage) bool {
	r.mu.RLock()
	handler, ok := r.handlers[msg.Kind]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	handler(participantID, hub, msg)
	return true
}

// Conn is the minimal framed-message transport a Client reads/writes
// through. *websocket.Conn satisfies it directly; cmd/signalgateway's gRPC
// side wraps a grpc.ServerStream in the same shape so non-browser
// participants share this package's Hub/Router instead of a parallel one.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client is one participant's connection, scoped to the room it joined.
type Client struct {
	Conn          Conn
	Send          chan []byte
	Router        *Router
	RoomID        string
	ParticipantID string
}

// Hub is the process-wide table of rooms and their connected clients.
// Register/Unregister/Broadcast are the single-writer mailbox this hub is
// serialized through — every mutation of Rooms happens on Run's goroutine.
type Hub struct {
	log logging.LeveledLogger

	Rooms      map[string]map[*Client]bool
	Register   chan *Client
	Unregister chan *Client
	Broadcast  chan roomMessage

	mu sync.Mutex
}

type roomMessage struct {
	roomID            string
	excludeParticipant string
	payload           []byte
}

// NewHub constructs an empty gateway hub.
func NewHub(logger logging.LeveledLogger) *Hub {
	if logger == nil {
		logger = logging.NewDefaultLoggerFactory().NewLogger("gateway")
	}
	return &Hub{
		log:        logger,
		Rooms:      make(map[string]map[*Client]bool),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Broadcast:  make(chan roomMessage, 64),
	}
}

// Run serves the hub's register/unregister/broadcast loop. Call once per
// process in its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.Register:
			h.mu.Lock()
			if _, ok := h.Rooms[c.RoomID]; !ok {
				h.Rooms[c.RoomID] = make(map[*Client]bool)
			}
			h.Rooms[c.RoomID][c] = true
			h.mu.Unlock()

		case c := <-h.Unregister:
			h.mu.Lock()
			if clients, ok := h.Rooms[c.RoomID]; ok {
				if _, exists := clients[c]; exists {
					delete(clients, c)
					close(c.Send)
					if len(clients) == 0 {
						delete(h.Rooms, c.RoomID)
					}
				}
			}
			h.mu.Unlock()

		case rm := <-h.Broadcast:
			h.mu.Lock()
			clients := h.Rooms[rm.roomID]
			for c := range clients {
				if c.ParticipantID == rm.excludeParticipant {
					continue
				}
				select {
				case c.Send <- rm.payload:
				default:
					close(c.Send)
					delete(clients, c)
				}
			}
			h.mu.Unlock()
		}
	}
}

// BroadcastControlMessage encodes msg and fans it out to every client in
// roomID except excludeParticipant (typically the sender).
func (h *Hub) BroadcastControlMessage(roomID, excludeParticipant string, msg transport.GroupCallControlMessage) error {
	payload, err := wire.EncodeControlMessage(msg)
	if err != nil {
		return err
	}
	h.Broadcast <- roomMessage{roomID: roomID, excludeParticipant: excludeParticipant, payload: payload}
	return nil
}

// SendTo encodes msg and delivers it to one specific client in roomID.
func (h *Hub) SendTo(roomID, participantID string, msg transport.GroupCallControlMessage) error {
	payload, err := wire.EncodeControlMessage(msg)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.Rooms[roomID] {
		if c.ParticipantID == participantID {
			select {
			case c.Send <- payload:
			default:
			}
			return nil
		}
	}
	return nil
}

// ReadPump decodes each inbound frame as a GroupCallControlMessage and
// routes it, until the connection closes.
func (c *Client) ReadPump(hub *Hub) {
	defer func() {
		hub.Unregister <- c
		c.Conn.Close()
	}()

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			hub.log.Debugf("gateway: read error on room %s: %v", c.RoomID, err)
			break
		}
		msg, err := wire.DecodeControlMessage(data)
		if err != nil {
			hub.log.Warnf("gateway: decode error on room %s: %v", c.RoomID, err)
			continue
		}
		if !c.Router.dispatch(c.ParticipantID, hub, msg) {
			hub.log.Debugf("gateway: no handler registered for control kind %s", msg.Kind)
		}
	}
}

// WritePump drains Send and writes each payload as a binary frame.
func (c *Client) WritePump(hub *Hub) {
	defer c.Conn.Close()
	for payload := range c.Send {
		if err := c.Conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
			hub.log.Debugf("gateway: write error on room %s: %v", c.RoomID, err)
			return
		}
	}
}

// Upgrader is the shared gorilla/websocket upgrader cmd/signalgateway's
// HTTP handler uses. CheckOrigin is permissive by default; production
// deployments should replace it via a wrapped http.HandlerFunc.
var Upgrader = websocket.Upgrader{
	CheckOrigin:     func(*http.Request) bool { return true },
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Serve upgrades r to a websocket connection, registers a Client for
// roomID/participantID with hub, and runs its read/write pumps until the
// connection closes. Intended to be wrapped in an http.HandlerFunc that
// extracts roomID/participantID from the request.
func Serve(w http.ResponseWriter, r *http.Request, hub *Hub, router *Router, roomID, participantID string) error {
	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	return Attach(conn, hub, router, roomID, participantID)
}

// Attach registers a Client wrapping conn and runs its read/write pumps
// until the connection closes. Serve calls this for websocket connections;
// cmd/signalgateway's gRPC service calls it directly with a conn that wraps
// a grpc.ServerStream, so both transports share this package's room
// bookkeeping instead of a parallel implementation.
func Attach(conn Conn, hub *Hub, router *Router, roomID, participantID string) error {
	c := &Client{Conn: conn, Send: make(chan []byte, 256), Router: router, RoomID: roomID, ParticipantID: participantID}
	hub.Register <- c
	go c.WritePump(hub)
	c.ReadPump(hub)
	return nil
}
