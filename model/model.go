// Package model holds the wire-level and in-memory data types shared across
// the SDK: participants, calls, session descriptions, ICE candidates, and
// the identity material exchanged during the ratchet handshake.
package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pqsrtc/sdk-go/rtcerr"
)

// Participant identifies one device belonging to one user in a call.
type Participant struct {
	SecretName string
	Nickname   string
	DeviceID   string
}

// Validate trims and checks that all three fields are non-empty.
func (p *Participant) Validate() error {
	p.SecretName = strings.TrimSpace(p.SecretName)
	p.Nickname = strings.TrimSpace(p.Nickname)
	p.DeviceID = strings.TrimSpace(p.DeviceID)
	if p.SecretName == "" || p.Nickname == "" || p.DeviceID == "" {
		return rtcerr.New(rtcerr.KindInvalidParticipant, "secretName, nickname and deviceId must be non-empty")
	}
	return nil
}

// SDPType enumerates the session description variants the SDK exchanges.
type SDPType string

const (
	SDPTypeOffer     SDPType = "offer"
	SDPTypeAnswer    SDPType = "answer"
	SDPTypePrAnswer  SDPType = "prAnswer"
	SDPTypeRollback  SDPType = "rollback"
)

// SessionDescription is the bit-exact wire representation of an SDP offer,
// answer, provisional answer or rollback.
type SessionDescription struct {
	Type SDPType
	SDP  string
}

// Validate ensures Type is known and SDP is non-empty once trimmed.
func (s *SessionDescription) Validate() error {
	switch s.Type {
	case SDPTypeOffer, SDPTypeAnswer, SDPTypePrAnswer, SDPTypeRollback:
	default:
		return rtcerr.New(rtcerr.KindInvalidSDPFormat, "unknown session description type")
	}
	if strings.TrimSpace(s.SDP) == "" {
		return rtcerr.New(rtcerr.KindInvalidSDPFormat, "sdp must be non-empty")
	}
	return nil
}

// IceCandidate is the bit-exact wire representation of a trickled ICE
// candidate.
type IceCandidate struct {
	ID            uint64
	SDP           string
	SDPMLineIndex int32
	SDPMid        *string
}

// FrameIdentityProps and SignalingIdentityProps carry the advertised ratchet
// identity material for, respectively, the media-frame axis and the
// signaling axis. Both axes share the same shape but are never mixed.
type IdentityProps struct {
	LongTermPublic []byte
	OneTimePublic  []byte // optional
	KEMPublic      []byte
}

// Call is the top-level record describing one 1:1 or group call.
type Call struct {
	ID                     uuid.UUID
	SharedCommunicationID  string
	SharedMessageID        string
	Sender                 Participant
	Recipients             []Participant
	CreatedAt              time.Time
	UpdatedAt              *time.Time
	EndedAt                *time.Time
	SupportsVideo          bool
	IsActive               bool
	Unanswered             bool
	Rejected               bool
	Failed                 bool
	FrameIdentityProps     *IdentityProps
	SignalingIdentityProps *IdentityProps
	Metadata               []byte
}

// Validate checks the invariants from §3: a normalized, non-empty
// SharedCommunicationID, and recipients present unless this is a group call.
func (c *Call) Validate(allowEmptyRecipients bool) error {
	c.SharedCommunicationID = NormalizeConnectionID(c.SharedCommunicationID)
	if c.SharedCommunicationID == "" {
		return rtcerr.New(rtcerr.KindInvalidMetadata, "sharedCommunicationId must be non-empty")
	}
	if !allowEmptyRecipients && len(c.Recipients) == 0 {
		return rtcerr.New(rtcerr.KindInvalidMetadata, "recipients must be non-empty for non-group calls")
	}
	return nil
}

// MarkUnanswered, MarkRejected and MarkFailed set the corresponding
// monotonic flag. Per §3 these flags never clear once set.
func (c *Call) MarkUnanswered() { c.Unanswered = true }
func (c *Call) MarkRejected()   { c.Rejected = true }
func (c *Call) MarkFailed()     { c.Failed = true }

// channelSigil prefixes a connectionId when the transport re-applies it on
// the wire; the SDK always strips it before using the id as a map key.
const channelSigil = "#"

// NormalizeConnectionID trims whitespace and strips a leading channel sigil,
// per §4.8's ConnectionRegistry normalization rule.
func NormalizeConnectionID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(id, channelSigil)
	return id
}

// GroupParticipant is a roster entry in a GroupCallFacade. SignalingIdentityProps
// carries the long-term public key this participant advertised when it joined,
// the peer-public input the sender-key distribution ratchet needs (§4.12).
type GroupParticipant struct {
	ID                     string
	DemuxID                *uint32
	SignalingIdentityProps *IdentityProps
}
