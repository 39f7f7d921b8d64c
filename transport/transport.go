// Package transport defines the Transport contract the SDK invokes and the
// inbound-ingress contract the host calls into (§6). Neither side is
// implemented here beyond plain interfaces and the wire-level value
// types everything else in the SDK exchanges; cmd/callclient's
// groupTransport is one concrete Transport, over a websocket connection to
// cmd/signalgateway.
package transport

import (
	"github.com/pqsrtc/sdk-go/model"
	"github.com/pqsrtc/sdk-go/taskqueue"
)

// Transport is implemented by the host application. The SDK calls these
// methods to move signaling data out to the network; the SDK never opens
// a socket itself.
type Transport interface {
	SendStartCall(call *model.Call) error
	SendCallAnswered(call *model.Call) error
	SendCallAnsweredAuxDevice(call *model.Call) error

	SendOffer(call *model.Call) error
	SendAnswer(call *model.Call, metadata []byte) error

	SendCandidate(candidate model.IceCandidate, call *model.Call) error
	SendOneToOneMessage(packet taskqueue.RatchetMessagePacket, recipient model.Participant) error

	SendSfuMessage(packet taskqueue.RatchetMessagePacket, call *model.Call) error

	SendCiphertext(recipient model.Participant, connectionID string, ciphertext []byte, call *model.Call) error

	DidEnd(call *model.Call, endState string) error

	NegotiateGroupIdentity(call *model.Call, sfuRecipientID string) error
}

// InboundIngress is implemented by the SDK; the host calls these when it
// receives signaling data from the network.
type InboundIngress interface {
	HandleOffer(call *model.Call, sdp model.SessionDescription, metadata []byte) error
	HandleAnswer(call *model.Call, sdp model.SessionDescription) error
	HandleCandidate(call *model.Call, candidate model.IceCandidate) error

	CreateCryptoSession(call *model.Call) error
	FinishCryptoSessionCreation(ciphertext []byte, call *model.Call) error

	HandleControlMessage(msg GroupCallControlMessage) error

	SetCanAnswer(canAnswer bool)
	SetCallAnswerState(state CallAnswerState, callID string)
}

// CallAnswerState gates whether an inbound call offer may be answered.
type CallAnswerState string

const (
	CallAnswerStatePending  CallAnswerState = "pending"
	CallAnswerStateAnswered CallAnswerState = "answered"
	CallAnswerStateRejected CallAnswerState = "rejected"
)

// ControlMessageKind is the canonical sum type for GroupCallControlMessage,
// resolving the spec's Open Question about the two overlapping
// ControlMessage enums (see SPEC_FULL.md §9): one Go struct, one Kind enum,
// with only the fields relevant to Kind populated.
type ControlMessageKind string

const (
	ControlJoin               ControlMessageKind = "join"
	ControlLeave              ControlMessageKind = "leave"
	ControlRosterUpdate       ControlMessageKind = "rosterUpdate"
	ControlSenderKeyRotation  ControlMessageKind = "senderKeyRotation"
	ControlOffer              ControlMessageKind = "offer"
	ControlAnswer              ControlMessageKind = "answer"
	ControlCandidate          ControlMessageKind = "candidate"
	ControlParticipantDemuxID ControlMessageKind = "participantDemuxId"
)

// GroupCallControlMessage is the canonical control-plane envelope for
// group calls.
type GroupCallControlMessage struct {
	Kind          ControlMessageKind
	RoomID        string
	Participant   model.GroupParticipant
	Roster        []model.GroupParticipant
	SenderKeyMsg  *EncryptedSenderKeyMessage
	SDP           *model.SessionDescription
	Candidate     *model.IceCandidate
}

// EncryptedSenderKeyMessage carries an encrypted media-frame sender key
// rotation targeted at one recipient, plus an optional PQXDH handshake
// blob present only on that recipient's first message.
type EncryptedSenderKeyMessage struct {
	SenderParticipantID    string
	RecipientParticipantID string
	KeyIndex               int
	EncryptedKey           []byte
	HandshakeCiphertext    []byte // present only on first send to this recipient
}
