// cmd/callclient is a reference client: it exercises a 1:1 call.CallSession
// end to end over an in-process loopback transport, then joins a group call
// by dialing cmd/signalgateway's websocket endpoint and driving a
// group.GroupCallFacade against it.
//
// Grounded on the teacher's cmd/client/main.go: a flat main() that parses a
// --server flag and a room name and hands both to a Setup function, mirrored
// here as runGroupCallDemo's websocket.DefaultDialer.Dial call.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/logging"

	"github.com/pqsrtc/sdk-go/call"
	"github.com/pqsrtc/sdk-go/group"
	"github.com/pqsrtc/sdk-go/model"
	"github.com/pqsrtc/sdk-go/pcadapter"
	"github.com/pqsrtc/sdk-go/rtcconfig"
	"github.com/pqsrtc/sdk-go/taskqueue"
	"github.com/pqsrtc/sdk-go/transport"
	"github.com/pqsrtc/sdk-go/wire"
)

func newAdapter(cfg pcadapter.Config) (pcadapter.Adapter, error) {
	return pcadapter.NewPionAdapter(cfg)
}

// loopbackTransport is the in-process transport.Transport of the 1:1 demo.
// It holds no peer: every method only logs or does nothing, and returns
// nil, so nothing one CallSession sends reaches the other.
type loopbackTransport struct {
	log  logging.LeveledLogger
	name string
}

func (t *loopbackTransport) SendStartCall(*model.Call) error { return nil }

func (t *loopbackTransport) SendCallAnswered(*model.Call) error {
	t.log.Infof("callclient(%s): call answered", t.name)
	return nil
}

func (t *loopbackTransport) SendCallAnsweredAuxDevice(*model.Call) error { return nil }

func (t *loopbackTransport) SendOffer(c *model.Call) error {
	t.log.Infof("callclient(%s): sending offer for %s", t.name, c.SharedCommunicationID)
	return nil
}

func (t *loopbackTransport) SendAnswer(c *model.Call, _ []byte) error {
	t.log.Infof("callclient(%s): sending answer for %s", t.name, c.SharedCommunicationID)
	return nil
}

func (t *loopbackTransport) SendCandidate(model.IceCandidate, *model.Call) error { return nil }

func (t *loopbackTransport) SendOneToOneMessage(packet taskqueue.RatchetMessagePacket, _ model.Participant) error {
	t.log.Debugf("callclient(%s): one-to-one packet (%s, %d bytes) not delivered, loopback has no peer", t.name, packet.Flag, len(packet.RatchetMessage))
	return nil
}

func (t *loopbackTransport) SendSfuMessage(taskqueue.RatchetMessagePacket, *model.Call) error { return nil }

func (t *loopbackTransport) SendCiphertext(model.Participant, string, []byte, *model.Call) error {
	return nil
}

func (t *loopbackTransport) DidEnd(c *model.Call, endState string) error {
	t.log.Infof("callclient(%s): call %s ended: %s", t.name, c.SharedCommunicationID, endState)
	return nil
}

func (t *loopbackTransport) NegotiateGroupIdentity(*model.Call, string) error { return nil }

var _ transport.Transport = (*loopbackTransport)(nil)

// runOneToOneDemo builds two CallSessions sharing a connectionId, calls
// InitiateCall on alice's and AnswerCall on bob's, and logs the result.
// The sessions exchange no messages, so no ratchet handshake runs and
// neither call reaches the connected state.
func runOneToOneDemo(logger logging.LeveledLogger) {
	connectionID := "demo-1to1"

	aliceTransport := &loopbackTransport{log: logger, name: "alice"}
	bobTransport := &loopbackTransport{log: logger, name: "bob"}

	alice := call.New(rtcconfig.RTCSessionConfig{}, aliceTransport, newAdapter, logger)
	bob := call.New(rtcconfig.RTCSessionConfig{}, bobTransport, newAdapter, logger)

	aliceCall := &model.Call{
		SharedCommunicationID: connectionID,
		Sender:                model.Participant{SecretName: "alice", Nickname: "Alice", DeviceID: "dev-alice"},
		Recipients:            []model.Participant{{SecretName: "bob", Nickname: "Bob", DeviceID: "dev-bob"}},
	}
	if err := alice.InitiateCall(aliceCall); err != nil {
		log.Fatalf("callclient: alice initiate call: %v", err)
	}

	// bob's copy of the same call carries the identity props alice's side
	// attached — the PQXDH ciphertext each side seeds its recipient ratchet
	// with would normally travel over the signaling channel alongside these.
	bobCall := &model.Call{
		SharedCommunicationID:  connectionID,
		Sender:                 model.Participant{SecretName: "bob", Nickname: "Bob", DeviceID: "dev-bob"},
		Recipients:             []model.Participant{{SecretName: "alice", Nickname: "Alice", DeviceID: "dev-alice"}},
		FrameIdentityProps:     aliceCall.FrameIdentityProps,
		SignalingIdentityProps: aliceCall.SignalingIdentityProps,
	}
	if err := bob.AnswerCall(bobCall); err != nil {
		log.Fatalf("callclient: bob answer call: %v", err)
	}

	logger.Infof("callclient: 1:1 demo call %s initiated and answered", connectionID)
}

// groupTransport implements transport.Transport for a GroupCallFacade by
// encoding every group-relevant call as a wire-encoded
// transport.GroupCallControlMessage and writing it to a websocket
// connection dialed against cmd/signalgateway. The 1:1-only methods and
// SendCandidate return nil without sending anything; SendOffer and
// SendAnswer only log.
type groupTransport struct {
	log                logging.LeveledLogger
	conn               *websocket.Conn
	writeMu            sync.Mutex
	roomID             string
	localParticipantID string
}

func (t *groupTransport) send(msg transport.GroupCallControlMessage) error {
	msg.RoomID = t.roomID
	payload, err := wire.EncodeControlMessage(msg)
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteMessage(websocket.BinaryMessage, payload)
}

func (t *groupTransport) SendStartCall(*model.Call) error            { return nil }
func (t *groupTransport) SendCallAnswered(*model.Call) error         { return nil }
func (t *groupTransport) SendCallAnsweredAuxDevice(*model.Call) error { return nil }

func (t *groupTransport) SendOffer(*model.Call) error {
	t.log.Debugf("groupTransport: SFU offer not sent; no media SFU backend wired")
	return nil
}

func (t *groupTransport) SendAnswer(*model.Call, []byte) error {
	t.log.Debugf("groupTransport: SFU answer not sent; no media SFU backend wired")
	return nil
}

func (t *groupTransport) SendCandidate(model.IceCandidate, *model.Call) error {
	return nil
}

func (t *groupTransport) SendOneToOneMessage(taskqueue.RatchetMessagePacket, model.Participant) error {
	return nil
}

// SendSfuMessage carries the sender-key rotation flow: packet.RatchetMessage
// is wire-encoded EncryptedSenderKeyMessage bytes, and packet.SFUIdentity is
// the intended recipient participant id.
func (t *groupTransport) SendSfuMessage(packet taskqueue.RatchetMessagePacket, _ *model.Call) error {
	skMsg, err := wire.DecodeSenderKeyMessage(packet.RatchetMessage)
	if err != nil {
		return err
	}
	return t.send(transport.GroupCallControlMessage{Kind: transport.ControlSenderKeyRotation, SenderKeyMsg: &skMsg})
}

func (t *groupTransport) SendCiphertext(model.Participant, string, []byte, *model.Call) error {
	return nil
}

func (t *groupTransport) DidEnd(*model.Call, string) error {
	return t.send(transport.GroupCallControlMessage{
		Kind:        transport.ControlLeave,
		Participant: model.GroupParticipant{ID: t.localParticipantID},
	})
}

func (t *groupTransport) NegotiateGroupIdentity(call *model.Call, _ string) error {
	return t.send(transport.GroupCallControlMessage{
		Kind: transport.ControlJoin,
		Participant: model.GroupParticipant{
			ID:                     t.localParticipantID,
			SignalingIdentityProps: call.SignalingIdentityProps,
		},
	})
}

var _ transport.Transport = (*groupTransport)(nil)

// readInboundControlMessages decodes every frame the gateway relays and
// hands it to facade.HandleControlMessage, the facade's single ingress for
// signaling, roster and sender-key events.
func readInboundControlMessages(conn *websocket.Conn, facade *group.GroupCallFacade, logger logging.LeveledLogger) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			logger.Infof("callclient: gateway connection closed: %v", err)
			return
		}
		msg, err := wire.DecodeControlMessage(data)
		if err != nil {
			logger.Warnf("callclient: decode control message: %v", err)
			continue
		}
		if err := facade.HandleControlMessage(msg); err != nil {
			logger.Warnf("callclient: handle control message %s: %v", msg.Kind, err)
		}
	}
}

// runGroupCallDemo dials the gateway's websocket signaling endpoint, joins
// roomID as localParticipantID, and keeps the connection open until the
// process exits.
func runGroupCallDemo(gatewayURL, roomID, localParticipantID string, logger logging.LeveledLogger) {
	u, err := url.Parse(gatewayURL)
	if err != nil {
		log.Fatalf("callclient: parse gateway url: %v", err)
	}
	q := u.Query()
	q.Set("room", roomID)
	q.Set("participant", localParticipantID)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("callclient: dial gateway: %v", err)
	}

	tport := &groupTransport{log: logger, conn: conn, roomID: roomID, localParticipantID: localParticipantID}
	facade := group.New(rtcconfig.RTCSessionConfig{}, roomID, localParticipantID, tport, newAdapter, logger)

	go readInboundControlMessages(conn, facade, logger)

	if err := facade.Join(); err != nil {
		log.Fatalf("callclient: join group call: %v", err)
	}
	logger.Infof("callclient: joined room %s as %s", roomID, localParticipantID)
}

func main() {
	gatewayURL := flag.String("gateway", "ws://localhost:8443/signal", "signalgateway websocket URL")
	room := flag.String("room", "demo-room", "group call room id")
	participant := flag.String("participant", fmt.Sprintf("participant-%d", time.Now().UnixNano()%100000), "local participant id")
	skipGroup := flag.Bool("skip-group", false, "skip dialing the gateway; run only the 1:1 loopback demo")
	flag.Parse()

	logger := logging.NewDefaultLoggerFactory().NewLogger("callclient")

	runOneToOneDemo(logger)

	if *skipGroup {
		return
	}
	runGroupCallDemo(*gatewayURL, *room, *participant, logger)

	select {}
}
