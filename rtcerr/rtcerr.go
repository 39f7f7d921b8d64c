// Package rtcerr defines the error taxonomy shared by every pqsrtc
// component. Every SDK-facing API returns one of these instead of a bare
// error so callers can branch on Kind with errors.As.
package rtcerr

import "fmt"

// Kind classifies an Error per the SDK's error taxonomy.
type Kind string

const (
	// Configuration errors.
	KindInvalidConfiguration Kind = "invalid_configuration"
	KindInvalidMetadata      Kind = "invalid_metadata"
	KindInvalidParticipant   Kind = "invalid_participant"

	// Connection errors.
	KindConnectionNotFound   Kind = "connection_not_found"
	KindMissingRTCConnection Kind = "missing_rtc_connection"
	KindMissingGroupCall     Kind = "missing_group_call"
	KindSocketCreationFailed Kind = "socket_creation_failed"
	KindReconnectionFailed   Kind = "reconnection_failed"
	KindTimeout              Kind = "timeout"

	// Media/SDP errors.
	KindInvalidSDPFormat   Kind = "invalid_sdp_format"
	KindUnsupportedMedia   Kind = "unsupported_media_type"
	KindSDPGenerationError Kind = "sdp_generation_failed"
	KindSDPParsingError    Kind = "sdp_parsing_failed"
	KindMediaError         Kind = "media_error"

	// Encryption errors.
	KindMissingCipherText       Kind = "missing_cipher_text"
	KindMissingProps            Kind = "missing_props"
	KindMissingCryptoPayload    Kind = "missing_crypto_payload"
	KindMissingSessionIdentity  Kind = "missing_session_identity"

	// Call lifecycle errors.
	KindRejected     Kind = "rejected"
	KindUnanswered   Kind = "unanswered"
	KindCallExpired  Kind = "call_expired"
)

// Error is the concrete error type returned across the SDK boundary.
type Error struct {
	Kind   Kind
	Reason string
	Err    error // wrapped cause, if any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pqsrtc: %s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	if e.Reason != "" {
		return fmt.Sprintf("pqsrtc: %s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("pqsrtc: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, rtcerr.New(kind, "")) to match on Kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New builds an Error with no wrapped cause.
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Wrap builds an Error that carries an underlying cause.
func Wrap(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// Of is a sentinel used with errors.Is to test only the Kind.
func Of(kind Kind) *Error { return &Error{Kind: kind} }
