package wire

import (
	"testing"

	"github.com/pqsrtc/sdk-go/model"
	"github.com/pqsrtc/sdk-go/ratchet"
	"github.com/pqsrtc/sdk-go/taskqueue"
	"github.com/pqsrtc/sdk-go/transport"
)

func TestSessionDescriptionRoundTrips(t *testing.T) {
	sd := model.SessionDescription{Type: model.SDPTypeOffer, SDP: "v=0\r\no=- 1 1 IN IP4 0.0.0.0\r\n"}

	encoded, err := EncodeSessionDescription(sd)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeSessionDescription(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded != sd {
		t.Fatalf("round trip mismatch: got %+v want %+v", decoded, sd)
	}
}

func TestIceCandidateRoundTripsWithMid(t *testing.T) {
	mid := "0"
	c := model.IceCandidate{ID: 7, SDP: "candidate:1 1 UDP 2130706431 1.2.3.4 5000 typ host", SDPMLineIndex: 2, SDPMid: &mid}

	encoded, err := EncodeIceCandidate(c)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeIceCandidate(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.ID != c.ID || decoded.SDP != c.SDP || decoded.SDPMLineIndex != c.SDPMLineIndex {
		t.Fatalf("round trip mismatch: got %+v want %+v", decoded, c)
	}
	if decoded.SDPMid == nil || *decoded.SDPMid != mid {
		t.Fatalf("expected sdpMid to round trip, got %v", decoded.SDPMid)
	}
}

func TestIceCandidateRoundTripsWithoutMid(t *testing.T) {
	c := model.IceCandidate{ID: 1, SDP: "candidate:1 1 UDP 2130706431 1.2.3.4 5000 typ host"}

	encoded, err := EncodeIceCandidate(c)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeIceCandidate(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.SDPMid != nil {
		t.Fatalf("expected no sdpMid, got %v", *decoded.SDPMid)
	}
}

func TestRatchetMessagePacketRoundTrips(t *testing.T) {
	p := taskqueue.RatchetMessagePacket{
		SFUIdentity:    "room1",
		RatchetMessage: []byte("ciphertext-bytes"),
		Flag:           taskqueue.FlagOffer,
		Header: ratchet.Message{
			PublicKey:  []byte("pubkey-bytes"),
			PN:         3,
			N:          9,
			Ciphertext: []byte("ciphertext-bytes"),
		},
	}

	encoded, err := EncodeRatchetMessagePacket(p)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeRatchetMessagePacket(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.SFUIdentity != p.SFUIdentity || decoded.Flag != p.Flag {
		t.Fatalf("round trip mismatch: got %+v want %+v", decoded, p)
	}
	if string(decoded.RatchetMessage) != string(p.RatchetMessage) {
		t.Fatalf("ratchet message mismatch: got %q want %q", decoded.RatchetMessage, p.RatchetMessage)
	}
	if string(decoded.Header.PublicKey) != string(p.Header.PublicKey) || decoded.Header.PN != p.Header.PN || decoded.Header.N != p.Header.N {
		t.Fatalf("header mismatch: got %+v want %+v", decoded.Header, p.Header)
	}
}

func TestSenderKeyMessageRoundTripsWithHandshake(t *testing.T) {
	msg := transport.EncryptedSenderKeyMessage{
		SenderParticipantID:    "alice",
		RecipientParticipantID: "bob",
		KeyIndex:               2,
		EncryptedKey:           []byte("encrypted-key-bytes"),
		HandshakeCiphertext:    []byte("handshake-bytes"),
	}

	encoded, err := EncodeSenderKeyMessage(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeSenderKeyMessage(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.SenderParticipantID != msg.SenderParticipantID || decoded.RecipientParticipantID != msg.RecipientParticipantID {
		t.Fatalf("participant id mismatch: got %+v want %+v", decoded, msg)
	}
	if decoded.KeyIndex != msg.KeyIndex || string(decoded.EncryptedKey) != string(msg.EncryptedKey) {
		t.Fatalf("key mismatch: got %+v want %+v", decoded, msg)
	}
	if string(decoded.HandshakeCiphertext) != string(msg.HandshakeCiphertext) {
		t.Fatalf("handshake ciphertext mismatch: got %q want %q", decoded.HandshakeCiphertext, msg.HandshakeCiphertext)
	}
}

func TestSenderKeyMessageRoundTripsWithoutHandshake(t *testing.T) {
	msg := transport.EncryptedSenderKeyMessage{
		SenderParticipantID:    "alice",
		RecipientParticipantID: "bob",
		KeyIndex:               0,
		EncryptedKey:           []byte("key"),
	}

	encoded, err := EncodeSenderKeyMessage(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeSenderKeyMessage(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.HandshakeCiphertext != nil {
		t.Fatalf("expected no handshake ciphertext, got %q", decoded.HandshakeCiphertext)
	}
}

func TestControlMessageRoundTripsJoinWithRoster(t *testing.T) {
	demuxID := uint32(42)
	msg := transport.GroupCallControlMessage{
		Kind:   transport.ControlJoin,
		RoomID: "room1",
		Participant: model.GroupParticipant{
			ID:                     "alice",
			SignalingIdentityProps: &model.IdentityProps{LongTermPublic: make([]byte, 32)},
		},
		Roster: []model.GroupParticipant{
			{ID: "alice"},
			{ID: "bob", DemuxID: &demuxID},
		},
	}

	encoded, err := EncodeControlMessage(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeControlMessage(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Kind != transport.ControlJoin || decoded.RoomID != "room1" {
		t.Fatalf("unexpected envelope: %+v", decoded)
	}
	if decoded.Participant.ID != "alice" || len(decoded.Participant.SignalingIdentityProps.LongTermPublic) != 32 {
		t.Fatalf("unexpected participant: %+v", decoded.Participant)
	}
	if len(decoded.Roster) != 2 || decoded.Roster[1].DemuxID == nil || *decoded.Roster[1].DemuxID != demuxID {
		t.Fatalf("unexpected roster: %+v", decoded.Roster)
	}
}

func TestControlMessageRoundTripsSenderKeyRotation(t *testing.T) {
	msg := transport.GroupCallControlMessage{
		Kind:   transport.ControlSenderKeyRotation,
		RoomID: "room1",
		SenderKeyMsg: &transport.EncryptedSenderKeyMessage{
			SenderParticipantID:    "alice",
			RecipientParticipantID: "bob",
			KeyIndex:               1,
			EncryptedKey:           []byte("sealed-key"),
		},
	}

	encoded, err := EncodeControlMessage(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeControlMessage(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.SenderKeyMsg == nil || decoded.SenderKeyMsg.RecipientParticipantID != "bob" {
		t.Fatalf("expected sender key message to round trip, got %+v", decoded.SenderKeyMsg)
	}
}

func TestControlMessageRoundTripsOfferWithSDPAndCandidate(t *testing.T) {
	mid := "0"
	msg := transport.GroupCallControlMessage{
		Kind:      transport.ControlOffer,
		RoomID:    "room1",
		SDP:       &model.SessionDescription{Type: model.SDPTypeOffer, SDP: "v=0\r\no=-\r\n"},
		Candidate: &model.IceCandidate{ID: 3, SDP: "candidate:1", SDPMLineIndex: 1, SDPMid: &mid},
	}

	encoded, err := EncodeControlMessage(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeControlMessage(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.SDP == nil || decoded.SDP.SDP != msg.SDP.SDP {
		t.Fatalf("expected sdp to round trip, got %+v", decoded.SDP)
	}
	if decoded.Candidate == nil || decoded.Candidate.ID != 3 || decoded.Candidate.SDPMid == nil || *decoded.Candidate.SDPMid != mid {
		t.Fatalf("expected candidate to round trip, got %+v", decoded.Candidate)
	}
}

func TestDecodeSessionDescriptionRejectsGarbageBytes(t *testing.T) {
	if _, err := DecodeSessionDescription([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}); err == nil {
		t.Fatal("expected an error decoding bytes that aren't a valid protobuf struct")
	}
}
