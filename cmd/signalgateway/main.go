// cmd/signalgateway is a reference signaling relay: it terminates browser
// clients over gorilla/websocket and non-browser clients over a hand-built
// gRPC streaming service, and relays GroupCallControlMessage envelopes
// within a room: roster updates go to every member, a sender-key rotation
// only to its named recipient, and offer/answer/candidate messages are
// logged and dropped. It decrypts nothing: sender keys arrive already
// sealed client-side by a GroupCallFacade, while roster data (participant
// ids, demux ids, signaling public keys) travels in the clear.
//
// Grounded on the teacher's cmd/servo/main.go: a flat main() that wires a
// net.Listen + grpc.NewServer() + srv.Serve(lis) alongside this binary's own
// net/http server, the same two-transports-one-process shape the teacher
// uses for its gRPC servo control plane plus the robot's video/websocket
// surface.
package main

import (
	"flag"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/pion/logging"

	"github.com/pqsrtc/sdk-go/gateway"
	"github.com/pqsrtc/sdk-go/model"
	"github.com/pqsrtc/sdk-go/transport"
)

// roster is the gateway's own bookkeeping of who has joined each room — the
// one piece of room state the gateway is allowed to see, since participant
// ids and demux ids aren't secret. Everything else in a GroupCallControlMessage
// (sender keys, SDP, candidates) is relayed opaquely.
type roster struct {
	mu    sync.Mutex
	rooms map[string]map[string]model.GroupParticipant
}

func newRoster() *roster {
	return &roster{rooms: make(map[string]map[string]model.GroupParticipant)}
}

func (r *roster) join(roomID string, p model.GroupParticipant) []model.GroupParticipant {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	if !ok {
		room = make(map[string]model.GroupParticipant)
		r.rooms[roomID] = room
	}
	room[p.ID] = p
	return snapshot(room)
}

func (r *roster) leave(roomID, participantID string) []model.GroupParticipant {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	delete(room, participantID)
	if len(room) == 0 {
		delete(r.rooms, roomID)
		return nil
	}
	return snapshot(room)
}

func snapshot(room map[string]model.GroupParticipant) []model.GroupParticipant {
	out := make([]model.GroupParticipant, 0, len(room))
	for _, p := range room {
		out = append(out, p)
	}
	return out
}

// registerRelayHandlers wires every transport.ControlMessageKind the gateway
// understands into router. Offer/Answer/Candidate are the SFU media plane's
// own signaling and require an actual media SFU on the other end; this
// reference gateway has none, so those three kinds are accepted and logged
// but not forwarded (see DESIGN.md).
func registerRelayHandlers(router *gateway.Router, rost *roster, logger logging.LeveledLogger) {
	router.Handle(transport.ControlJoin, func(participantID string, hub *gateway.Hub, msg transport.GroupCallControlMessage) {
		members := rost.join(msg.RoomID, msg.Participant)
		if err := hub.BroadcastControlMessage(msg.RoomID, "", transport.GroupCallControlMessage{
			Kind:   transport.ControlRosterUpdate,
			RoomID: msg.RoomID,
			Roster: members,
		}); err != nil {
			logger.Warnf("signalgateway: broadcast roster after join in %s: %v", msg.RoomID, err)
		}
		// Existing members see the raw join too, so each can kick off its
		// own pairwise sender-key handshake toward the new participant.
		if err := hub.BroadcastControlMessage(msg.RoomID, participantID, msg); err != nil {
			logger.Warnf("signalgateway: relay join in %s: %v", msg.RoomID, err)
		}
	})

	router.Handle(transport.ControlLeave, func(participantID string, hub *gateway.Hub, msg transport.GroupCallControlMessage) {
		members := rost.leave(msg.RoomID, participantID)
		if err := hub.BroadcastControlMessage(msg.RoomID, "", transport.GroupCallControlMessage{
			Kind:   transport.ControlRosterUpdate,
			RoomID: msg.RoomID,
			Roster: members,
		}); err != nil {
			logger.Warnf("signalgateway: broadcast roster after leave in %s: %v", msg.RoomID, err)
		}
	})

	router.Handle(transport.ControlSenderKeyRotation, func(participantID string, hub *gateway.Hub, msg transport.GroupCallControlMessage) {
		if msg.SenderKeyMsg == nil {
			logger.Warnf("signalgateway: sender key rotation from %s missing its payload", participantID)
			return
		}
		if err := hub.SendTo(msg.RoomID, msg.SenderKeyMsg.RecipientParticipantID, msg); err != nil {
			logger.Warnf("signalgateway: relay sender key rotation in %s: %v", msg.RoomID, err)
		}
	})

	router.Handle(transport.ControlParticipantDemuxID, func(participantID string, hub *gateway.Hub, msg transport.GroupCallControlMessage) {
		if err := hub.BroadcastControlMessage(msg.RoomID, participantID, msg); err != nil {
			logger.Warnf("signalgateway: relay demux id in %s: %v", msg.RoomID, err)
		}
	})

	for _, kind := range []transport.ControlMessageKind{transport.ControlOffer, transport.ControlAnswer, transport.ControlCandidate} {
		kind := kind
		router.Handle(kind, func(participantID string, _ *gateway.Hub, msg transport.GroupCallControlMessage) {
			logger.Debugf("signalgateway: received %s from %s in %s; no media SFU wired, dropping", kind, participantID, msg.RoomID)
		})
	}
}

// grpcConn adapts a raw grpc.ServerStream to gateway.Conn by framing every
// message as a wrapperspb.BytesValue — a real google.golang.org/protobuf
// well-known type, so the gRPC service needs no protoc-generated message of
// its own, matching the rest of the SDK's wire package.
type grpcConn struct {
	stream grpc.ServerStream
}

func (c *grpcConn) ReadMessage() (int, []byte, error) {
	var msg wrapperspb.BytesValue
	if err := c.stream.RecvMsg(&msg); err != nil {
		return 0, nil, err
	}
	return 2, msg.Value, nil // websocket.BinaryMessage; gateway.Client never inspects the type for a grpcConn
}

func (c *grpcConn) WriteMessage(_ int, data []byte) error {
	return c.stream.SendMsg(&wrapperspb.BytesValue{Value: data})
}

func (c *grpcConn) Close() error { return nil }

var _ gateway.Conn = (*grpcConn)(nil)

// signalMetadataKeys are the gRPC metadata keys a client must set when
// opening the bidi stream, since a hand-built StreamDesc has no request
// message to carry them in.
const (
	metadataRoomID        = "room-id"
	metadataParticipantID = "participant-id"
)

type grpcGateway struct {
	hub    *gateway.Hub
	router *gateway.Router
	log    logging.LeveledLogger
}

func (g *grpcGateway) signalStream(_ interface{}, stream grpc.ServerStream) error {
	md, ok := metadataFromStream(stream)
	if !ok {
		return grpcMissingMetadataError()
	}
	if err := gateway.Attach(&grpcConn{stream: stream}, g.hub, g.router, md[metadataRoomID], md[metadataParticipantID]); err != nil {
		g.log.Warnf("signalgateway: grpc session for %s/%s ended: %v", md[metadataRoomID], md[metadataParticipantID], err)
		return err
	}
	return nil
}

// registerGRPCGateway hand-registers a streaming RPC without protoc: the
// ServiceDesc/StreamDesc pair below is the same raw API protoc-gen-go-grpc
// codegen produces, written directly since there is no .proto pipeline here.
func registerGRPCGateway(s *grpc.Server, g *grpcGateway) {
	s.RegisterService(&grpc.ServiceDesc{
		ServiceName: "pqsrtc.signalgateway.Gateway",
		HandlerType: (*any)(nil),
		Streams: []grpc.StreamDesc{
			{
				StreamName:    "Signal",
				Handler:       g.signalStream,
				ServerStreams: true,
				ClientStreams: true,
			},
		},
		Metadata: "signalgateway.proto",
	}, g)
}

func main() {
	httpAddr := flag.String("http", ":8443", "address for the websocket signaling endpoint")
	grpcAddr := flag.String("grpc", ":50052", "address for the gRPC signaling endpoint")
	flag.Parse()

	logger := logging.NewDefaultLoggerFactory().NewLogger("signalgateway")

	hub := gateway.NewHub(logger)
	go hub.Run()

	router := gateway.NewRouter()
	rost := newRoster()
	registerRelayHandlers(router, rost, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/signal", func(w http.ResponseWriter, r *http.Request) {
		roomID := r.URL.Query().Get("room")
		participantID := r.URL.Query().Get("participant")
		if roomID == "" || participantID == "" {
			http.Error(w, "room and participant query parameters are required", http.StatusBadRequest)
			return
		}
		if err := gateway.Serve(w, r, hub, router, roomID, participantID); err != nil {
			logger.Warnf("signalgateway: websocket session for %s/%s ended: %v", roomID, participantID, err)
		}
	})

	lis, err := net.Listen("tcp", *grpcAddr)
	if err != nil {
		log.Fatalf("signalgateway: net.Listen: %v", err)
	}
	grpcSrv := grpc.NewServer()
	registerGRPCGateway(grpcSrv, &grpcGateway{hub: hub, router: router, log: logger})
	go func() {
		logger.Infof("signalgateway: gRPC signaling listening on %s", *grpcAddr)
		if err := grpcSrv.Serve(lis); err != nil {
			log.Fatalf("signalgateway: grpc serve: %v", err)
		}
	}()

	logger.Infof("signalgateway: websocket signaling listening on %s", *httpAddr)
	if err := http.ListenAndServe(*httpAddr, mux); err != nil {
		log.Fatalf("signalgateway: http serve: %v", err)
	}
}

// metadataFromStream pulls room-id/participant-id out of the stream's
// incoming gRPC metadata. Split out so the handler above stays a one-liner.
func metadataFromStream(stream grpc.ServerStream) (map[string]string, bool) {
	md, ok := metadata.FromIncomingContext(stream.Context())
	if !ok {
		return nil, false
	}
	roomID := firstOrEmpty(md, metadataRoomID)
	participantID := firstOrEmpty(md, metadataParticipantID)
	if roomID == "" || participantID == "" {
		return nil, false
	}
	return map[string]string{metadataRoomID: roomID, metadataParticipantID: participantID}, true
}

func firstOrEmpty(md metadata.MD, key string) string {
	vs := md.Get(strings.ToLower(key))
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

func grpcMissingMetadataError() error {
	return status.Error(codes.InvalidArgument, "signalgateway: room-id and participant-id metadata are required")
}
