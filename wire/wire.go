// Package wire serializes the SDK's bit-exact wire artifacts
// (SessionDescription, IceCandidate, RatchetMessagePacket,
// EncryptedSenderKeyMessage, GroupCallControlMessage) to and from bytes
// using google.golang.org/protobuf's structpb, the same approach the
// signaling gateway binary uses for its gRPC payloads. structpb.Struct
// gives the SDK a stable, self-describing wire format without hand-authoring
// generated .pb.go code for a half-dozen small message shapes — protoc
// codegen is reserved for cmd/signalgateway's actual gRPC service
// definition, where a real .proto/protoc-gen-go pipeline is the idiomatic
// fit.
package wire

import (
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pqsrtc/sdk-go/model"
	"github.com/pqsrtc/sdk-go/ratchet"
	"github.com/pqsrtc/sdk-go/rtcerr"
	"github.com/pqsrtc/sdk-go/taskqueue"
	"github.com/pqsrtc/sdk-go/transport"
)

// EncodeSessionDescription serializes sd as a protobuf-encoded struct.
func EncodeSessionDescription(sd model.SessionDescription) ([]byte, error) {
	return encodeStruct(map[string]any{
		"type": string(sd.Type),
		"sdp":  sd.SDP,
	})
}

// DecodeSessionDescription parses bytes produced by EncodeSessionDescription.
func DecodeSessionDescription(data []byte) (model.SessionDescription, error) {
	m, err := decodeStruct(data)
	if err != nil {
		return model.SessionDescription{}, err
	}
	return model.SessionDescription{
		Type: model.SDPType(stringField(m, "type")),
		SDP:  stringField(m, "sdp"),
	}, nil
}

// EncodeIceCandidate serializes c as a protobuf-encoded struct.
func EncodeIceCandidate(c model.IceCandidate) ([]byte, error) {
	fields := map[string]any{
		"id":            float64(c.ID),
		"sdp":           c.SDP,
		"sdpMLineIndex": float64(c.SDPMLineIndex),
	}
	if c.SDPMid != nil {
		fields["sdpMid"] = *c.SDPMid
	}
	return encodeStruct(fields)
}

// DecodeIceCandidate parses bytes produced by EncodeIceCandidate.
func DecodeIceCandidate(data []byte) (model.IceCandidate, error) {
	m, err := decodeStruct(data)
	if err != nil {
		return model.IceCandidate{}, err
	}
	c := model.IceCandidate{
		ID:            uint64(numberField(m, "id")),
		SDP:           stringField(m, "sdp"),
		SDPMLineIndex: int32(numberField(m, "sdpMLineIndex")),
	}
	if v, ok := m["sdpMid"]; ok {
		s := v.(string)
		c.SDPMid = &s
	}
	return c, nil
}

// EncodeRatchetMessagePacket serializes p.
func EncodeRatchetMessagePacket(p taskqueue.RatchetMessagePacket) ([]byte, error) {
	return encodeStruct(map[string]any{
		"sfuIdentity":    p.SFUIdentity,
		"ratchetMessage": string(p.RatchetMessage),
		"flag":           string(p.Flag),
		"headerPublicKey": string(p.Header.PublicKey),
		"headerPN":        float64(p.Header.PN),
		"headerN":         float64(p.Header.N),
	})
}

// DecodeRatchetMessagePacket parses bytes produced by
// EncodeRatchetMessagePacket.
func DecodeRatchetMessagePacket(data []byte) (taskqueue.RatchetMessagePacket, error) {
	m, err := decodeStruct(data)
	if err != nil {
		return taskqueue.RatchetMessagePacket{}, err
	}
	ratchetMessage := []byte(stringField(m, "ratchetMessage"))
	return taskqueue.RatchetMessagePacket{
		SFUIdentity:    stringField(m, "sfuIdentity"),
		RatchetMessage: ratchetMessage,
		Flag:           taskqueue.Flag(stringField(m, "flag")),
		Header: ratchet.Message{
			PublicKey:  []byte(stringField(m, "headerPublicKey")),
			PN:         int(numberField(m, "headerPN")),
			N:          int(numberField(m, "headerN")),
			Ciphertext: ratchetMessage,
		},
	}, nil
}

// EncodeFrameKeyPayload serializes the media-frame key a 1:1 call's
// initiator hands its peer over the signaling ratchet (§2's "derive frame
// key -> install key" data flow, carried the same way group's sender-key
// distribution carries its payload).
func EncodeFrameKeyPayload(keyIndex int, key [32]byte) ([]byte, error) {
	return encodeStruct(map[string]any{
		"keyIndex": float64(keyIndex),
		"key":      string(key[:]),
	})
}

// DecodeFrameKeyPayload parses bytes produced by EncodeFrameKeyPayload.
func DecodeFrameKeyPayload(data []byte) (keyIndex int, key [32]byte, err error) {
	m, err := decodeStruct(data)
	if err != nil {
		return 0, key, err
	}
	keyIndex = int(numberField(m, "keyIndex"))
	raw := stringField(m, "key")
	if len(raw) != 32 {
		return 0, key, rtcerr.New(rtcerr.KindMissingCryptoPayload, "frame key payload missing 32-byte key")
	}
	copy(key[:], raw)
	return keyIndex, key, nil
}

// EncodeSenderKeyMessage serializes msg.
func EncodeSenderKeyMessage(msg transport.EncryptedSenderKeyMessage) ([]byte, error) {
	fields := map[string]any{
		"senderParticipantId":    msg.SenderParticipantID,
		"recipientParticipantId": msg.RecipientParticipantID,
		"keyIndex":               float64(msg.KeyIndex),
		"encryptedKey":           string(msg.EncryptedKey),
	}
	if msg.HandshakeCiphertext != nil {
		fields["handshakeCiphertext"] = string(msg.HandshakeCiphertext)
	}
	return encodeStruct(fields)
}

// DecodeSenderKeyMessage parses bytes produced by EncodeSenderKeyMessage.
func DecodeSenderKeyMessage(data []byte) (transport.EncryptedSenderKeyMessage, error) {
	m, err := decodeStruct(data)
	if err != nil {
		return transport.EncryptedSenderKeyMessage{}, err
	}
	msg := transport.EncryptedSenderKeyMessage{
		SenderParticipantID:    stringField(m, "senderParticipantId"),
		RecipientParticipantID: stringField(m, "recipientParticipantId"),
		KeyIndex:               int(numberField(m, "keyIndex")),
		EncryptedKey:           []byte(stringField(m, "encryptedKey")),
	}
	if v, ok := m["handshakeCiphertext"]; ok {
		msg.HandshakeCiphertext = []byte(v.(string))
	}
	return msg, nil
}

// EncodeControlMessage serializes msg, the group-call control-plane
// envelope exchanged over cmd/signalgateway's websocket and gRPC surfaces.
func EncodeControlMessage(msg transport.GroupCallControlMessage) ([]byte, error) {
	fields := map[string]any{
		"kind":   string(msg.Kind),
		"roomId": msg.RoomID,
	}
	if msg.Participant.ID != "" {
		fields["participant"] = groupParticipantToMap(msg.Participant)
	}
	if msg.Roster != nil {
		roster := make([]any, len(msg.Roster))
		for i, p := range msg.Roster {
			roster[i] = groupParticipantToMap(p)
		}
		fields["roster"] = roster
	}
	if msg.SenderKeyMsg != nil {
		fields["senderKeyMsg"] = senderKeyMessageToMap(*msg.SenderKeyMsg)
	}
	if msg.SDP != nil {
		fields["sdp"] = map[string]any{"type": string(msg.SDP.Type), "sdp": msg.SDP.SDP}
	}
	if msg.Candidate != nil {
		fields["candidate"] = iceCandidateToMap(*msg.Candidate)
	}
	return encodeStruct(fields)
}

// DecodeControlMessage parses bytes produced by EncodeControlMessage.
func DecodeControlMessage(data []byte) (transport.GroupCallControlMessage, error) {
	m, err := decodeStruct(data)
	if err != nil {
		return transport.GroupCallControlMessage{}, err
	}

	msg := transport.GroupCallControlMessage{
		Kind:   transport.ControlMessageKind(stringField(m, "kind")),
		RoomID: stringField(m, "roomId"),
	}
	if v, ok := m["participant"].(map[string]any); ok {
		msg.Participant = groupParticipantFromMap(v)
	}
	if v, ok := m["roster"].([]any); ok {
		msg.Roster = make([]model.GroupParticipant, 0, len(v))
		for _, entry := range v {
			if pm, ok := entry.(map[string]any); ok {
				msg.Roster = append(msg.Roster, groupParticipantFromMap(pm))
			}
		}
	}
	if v, ok := m["senderKeyMsg"].(map[string]any); ok {
		sk := senderKeyMessageFromMap(v)
		msg.SenderKeyMsg = &sk
	}
	if v, ok := m["sdp"].(map[string]any); ok {
		msg.SDP = &model.SessionDescription{
			Type: model.SDPType(stringField(v, "type")),
			SDP:  stringField(v, "sdp"),
		}
	}
	if v, ok := m["candidate"].(map[string]any); ok {
		c := iceCandidateFromMap(v)
		msg.Candidate = &c
	}
	return msg, nil
}

func groupParticipantToMap(p model.GroupParticipant) map[string]any {
	out := map[string]any{"id": p.ID}
	if p.DemuxID != nil {
		out["demuxId"] = float64(*p.DemuxID)
	}
	if p.SignalingIdentityProps != nil {
		out["signalingLongTermPublic"] = string(p.SignalingIdentityProps.LongTermPublic)
	}
	return out
}

func groupParticipantFromMap(m map[string]any) model.GroupParticipant {
	p := model.GroupParticipant{ID: stringField(m, "id")}
	if v, ok := m["demuxId"].(float64); ok {
		id := uint32(v)
		p.DemuxID = &id
	}
	if v, ok := m["signalingLongTermPublic"].(string); ok && v != "" {
		p.SignalingIdentityProps = &model.IdentityProps{LongTermPublic: []byte(v)}
	}
	return p
}

func senderKeyMessageToMap(msg transport.EncryptedSenderKeyMessage) map[string]any {
	out := map[string]any{
		"senderParticipantId":    msg.SenderParticipantID,
		"recipientParticipantId": msg.RecipientParticipantID,
		"keyIndex":               float64(msg.KeyIndex),
		"encryptedKey":           string(msg.EncryptedKey),
	}
	if msg.HandshakeCiphertext != nil {
		out["handshakeCiphertext"] = string(msg.HandshakeCiphertext)
	}
	return out
}

func senderKeyMessageFromMap(m map[string]any) transport.EncryptedSenderKeyMessage {
	msg := transport.EncryptedSenderKeyMessage{
		SenderParticipantID:    stringField(m, "senderParticipantId"),
		RecipientParticipantID: stringField(m, "recipientParticipantId"),
		KeyIndex:               int(numberField(m, "keyIndex")),
		EncryptedKey:           []byte(stringField(m, "encryptedKey")),
	}
	if v, ok := m["handshakeCiphertext"].(string); ok {
		msg.HandshakeCiphertext = []byte(v)
	}
	return msg
}

func iceCandidateToMap(c model.IceCandidate) map[string]any {
	out := map[string]any{
		"id":            float64(c.ID),
		"sdp":           c.SDP,
		"sdpMLineIndex": float64(c.SDPMLineIndex),
	}
	if c.SDPMid != nil {
		out["sdpMid"] = *c.SDPMid
	}
	return out
}

func iceCandidateFromMap(m map[string]any) model.IceCandidate {
	c := model.IceCandidate{
		ID:            uint64(numberField(m, "id")),
		SDP:           stringField(m, "sdp"),
		SDPMLineIndex: int32(numberField(m, "sdpMLineIndex")),
	}
	if v, ok := m["sdpMid"].(string); ok {
		c.SDPMid = &v
	}
	return c
}

func encodeStruct(fields map[string]any) ([]byte, error) {
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, rtcerr.Wrap(rtcerr.KindInvalidMetadata, "build wire struct", err)
	}
	b, err := proto.Marshal(s)
	if err != nil {
		return nil, rtcerr.Wrap(rtcerr.KindInvalidMetadata, "marshal wire struct", err)
	}
	return b, nil
}

func decodeStruct(data []byte) (map[string]any, error) {
	s := &structpb.Struct{}
	if err := proto.Unmarshal(data, s); err != nil {
		return nil, rtcerr.Wrap(rtcerr.KindInvalidMetadata, "unmarshal wire struct", err)
	}
	return s.AsMap(), nil
}

func stringField(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

func numberField(m map[string]any, key string) float64 {
	v, _ := m[key].(float64)
	return v
}
