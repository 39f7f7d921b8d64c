package group

import (
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pqsrtc/sdk-go/ratchet"
	"github.com/pqsrtc/sdk-go/rtcerr"
)

// encodeRatchetMessage packs a sealed ratchet.Message (DH header plus
// ciphertext) into the EncryptedKey bytes of an
// transport.EncryptedSenderKeyMessage, so the pairwise ratchet's own
// header travels alongside the AEAD ciphertext it belongs to.
func encodeRatchetMessage(m ratchet.Message) ([]byte, error) {
	s, err := structpb.NewStruct(map[string]any{
		"publicKey":  string(m.PublicKey),
		"pn":         float64(m.PN),
		"n":          float64(m.N),
		"ciphertext": string(m.Ciphertext),
	})
	if err != nil {
		return nil, rtcerr.Wrap(rtcerr.KindInvalidMetadata, "build ratchet message", err)
	}
	return proto.Marshal(s)
}

// decodeRatchetMessage parses bytes produced by encodeRatchetMessage.
func decodeRatchetMessage(data []byte) (ratchet.Message, error) {
	s := &structpb.Struct{}
	if err := proto.Unmarshal(data, s); err != nil {
		return ratchet.Message{}, rtcerr.Wrap(rtcerr.KindInvalidMetadata, "unmarshal ratchet message", err)
	}
	m := s.AsMap()
	pn, _ := m["pn"].(float64)
	n, _ := m["n"].(float64)
	pub, _ := m["publicKey"].(string)
	ct, _ := m["ciphertext"].(string)
	return ratchet.Message{
		PublicKey:  []byte(pub),
		PN:         int(pn),
		N:          int(n),
		Ciphertext: []byte(ct),
	}, nil
}

// encodeSenderKeyPayload builds the plaintext sealed under a pairwise
// signaling ratchet during sender-key distribution (§4.12 step 2):
// {roomId, senderParticipantId, keyIndex, key}. Uses the same
// structpb-backed approach as package wire rather than a second
// hand-rolled framing for what is, at this size, the same kind of small
// self-describing struct.
func encodeSenderKeyPayload(roomID, senderParticipantID string, keyIndex int, key [32]byte) ([]byte, error) {
	s, err := structpb.NewStruct(map[string]any{
		"roomId":              roomID,
		"senderParticipantId": senderParticipantID,
		"keyIndex":            float64(keyIndex),
		"key":                 string(key[:]),
	})
	if err != nil {
		return nil, rtcerr.Wrap(rtcerr.KindInvalidMetadata, "build sender key payload", err)
	}
	return proto.Marshal(s)
}

// decodeSenderKeyPayload parses bytes produced by encodeSenderKeyPayload.
func decodeSenderKeyPayload(data []byte) (keyIndex int, key [32]byte, err error) {
	s := &structpb.Struct{}
	if err = proto.Unmarshal(data, s); err != nil {
		return 0, key, rtcerr.Wrap(rtcerr.KindInvalidMetadata, "unmarshal sender key payload", err)
	}
	m := s.AsMap()

	idx, _ := m["keyIndex"].(float64)
	keyIndex = int(idx)

	raw, _ := m["key"].(string)
	if len(raw) != 32 {
		return 0, key, rtcerr.New(rtcerr.KindMissingCryptoPayload, "sender key payload missing 32-byte key")
	}
	copy(key[:], raw)
	return keyIndex, key, nil
}
